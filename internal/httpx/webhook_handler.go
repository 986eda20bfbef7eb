package httpx

import (
	"context"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shahruladnn-prog/LRC-Course/internal/ingress"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
	"github.com/shahruladnn-prog/LRC-Course/internal/reconcile"
	"net/http"
)

// Processor runs the reconciliation pipeline. Implemented by reconcile.Pipeline.
type Processor interface {
	Process(ctx context.Context, h reconcile.Hint, traceID string) (*reconcile.Result, error)
	SyncOrder(ctx context.Context, orderID, traceID string) (*pos.Result, error)
}

// WebhookHandler receives Bizappay payment callbacks. It always answers
// 200 OK: a failure here would only make the gateway replay the same payload.
type WebhookHandler struct {
	Pipeline Processor
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Get("/webhooks/bizappay", h.notify)
	r.Post("/webhooks/bizappay", h.notify)
}

func (h *WebhookHandler) notify(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetReqID(r.Context())

	n, err := ingress.Parse(r)
	if err != nil {
		logx.Event("webhook", "parse_failed", "trace_id", traceID, "err", err)
		writeText(w, http.StatusOK, "OK")
		return
	}
	if !n.Paid {
		logx.Event("webhook", "ignored", "trace_id", traceID, "reference", n.Reference, "status", n.Status, "source", n.Source)
		writeText(w, http.StatusOK, "OK")
		return
	}

	res, err := h.Pipeline.Process(r.Context(), n.Hint(), traceID)
	switch {
	case errors.Is(err, orders.ErrReferenceSettled):
		logx.Event("webhook", "duplicate", "trace_id", traceID, "reference", n.Reference, "err", err)
	case err != nil:
		logx.Event("webhook", "unresolved", "trace_id", traceID, "reference", n.Reference, "order_hint", n.OrderID,
			"amount", amountString(n), "source", n.Source, "err", err)
	case res.Deduped:
		logx.Event("webhook", "duplicate", "trace_id", traceID, "reference", n.Reference)
	default:
		kv := []any{"trace_id", traceID, "order_id", res.Order.ID, "matched_by", res.MatchedBy, "outcome", string(res.Settlement.Outcome)}
		if res.SyncErr != nil {
			kv = append(kv, "sync_err", res.SyncErr)
		}
		logx.Event("webhook", "processed", kv...)
	}
	writeText(w, http.StatusOK, "OK")
}

func amountString(n *ingress.Notification) string {
	if !n.Amount.Valid {
		return "-"
	}
	return n.Amount.Decimal.StringFixed(2)
}
