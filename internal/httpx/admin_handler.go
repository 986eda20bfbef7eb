package httpx

import (
	"errors"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shahruladnn-prog/LRC-Course/internal/ingress"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
	"github.com/shahruladnn-prog/LRC-Course/internal/reconcile"
	"net/http"
	"strings"
)

// AdminHandler serves operator actions. Responses of the manual sync are
// plain text meant for people.
type AdminHandler struct {
	Pipeline Processor
	Store    orders.Store
	Token    string
}

type posSyncResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Receipt string `json:"receipt,omitempty"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireBearer(h.Token))
		r.Get("/orders/sync", h.manualSync)
		r.Post("/orders/sync", h.manualSync)
		r.Post("/orders/{id}/pos-sync", h.retryPOSSync)
	})
}

func (h *AdminHandler) manualSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := strings.TrimSpace(q.Get("orderId"))
	if orderID == "" {
		orderID = strings.TrimSpace(q.Get("order_id"))
	}
	if orderID == "" {
		writeText(w, http.StatusBadRequest, "Error: missing orderId.")
		return
	}

	// the id is trusted; never fall back to other strategies for an unknown one
	if _, err := h.Store.GetOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeText(w, http.StatusNotFound, fmt.Sprintf("Error: ID %s not found.", orderID))
			return
		}
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	traceID := middleware.GetReqID(r.Context())
	res, err := h.Pipeline.Process(r.Context(), reconcile.Hint{OrderID: orderID, Amount: ingress.ParseAmount(q.Get("amount"))}, traceID)
	if err != nil {
		logx.Event("admin", "manual_sync_failed", "order_id", orderID, "trace_id", traceID, "err", err)
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, orders.ErrInvalidOrder), errors.Is(err, orders.ErrInvalidTransition):
			code = http.StatusConflict
		case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrOrderVanished):
			code = http.StatusNotFound
		}
		writeText(w, code, "Error: "+err.Error())
		return
	}

	if res.Settlement.Outcome == reconcile.OutcomeAlreadyPaid {
		writeText(w, http.StatusOK, "Already paid.")
		return
	}
	msg := fmt.Sprintf("Successfully updated %s: paid, %d session(s) updated.", orderID, len(res.Settlement.Sessions))
	switch {
	case res.SyncErr != nil:
		msg += " POS sync failed: " + res.SyncErr.Error()
	case res.Sync != nil && res.Sync.ReceiptNumber != "":
		msg += " POS receipt " + res.Sync.ReceiptNumber + "."
	}
	writeText(w, http.StatusOK, msg)
}

func (h *AdminHandler) retryPOSSync(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	res, err := h.Pipeline.SyncOrder(r.Context(), orderID, middleware.GetReqID(r.Context()))

	var se *pos.SyncError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, posSyncResp{Success: true, Receipt: res.ReceiptNumber})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, posSyncResp{Error: "order not found"})
	case errors.Is(err, orders.ErrNotPaid):
		writeJSON(w, http.StatusPreconditionFailed, posSyncResp{Error: err.Error()})
	case errors.Is(err, orders.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, posSyncResp{Error: err.Error()})
	case errors.As(err, &se):
		writeJSON(w, http.StatusOK, posSyncResp{Error: se.Error()})
	default:
		logx.Event("admin", "pos_retry_failed", "order_id", orderID, "err", err)
		writeJSON(w, http.StatusInternalServerError, posSyncResp{Error: err.Error()})
	}
}
