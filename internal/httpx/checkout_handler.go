package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/shahruladnn-prog/LRC-Course/internal/gateway"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shopspring/decimal"
	"net/http"
	"time"
)

// BillCreator is implemented by gateway.Client.
type BillCreator interface {
	CreateBill(ctx context.Context, req gateway.BillRequest) (*gateway.Bill, error)
}

type CheckoutHandler struct {
	Store   orders.Store
	Gateway BillCreator
}

type createBillReq struct {
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	CustomerPhone string          `json:"customerPhone"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/bills", h.createBill)
}

func (h *CheckoutHandler) createBill(w http.ResponseWriter, r *http.Request) {
	var req createBillReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.OrderID == "" || !req.Amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, req.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if o.PaymentStatus != orders.PaymentPending {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is " + string(o.PaymentStatus)})
		return
	}
	if !orders.SameAmount(o.TotalAmount, req.Amount) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount does not match order total"})
		return
	}

	bill, err := h.Gateway.CreateBill(ctx, gateway.BillRequest{
		OrderID:       o.ID,
		Amount:        o.TotalAmount,
		CustomerName:  firstNonEmpty(req.CustomerName, o.Customer.Name),
		CustomerEmail: firstNonEmpty(req.CustomerEmail, o.Customer.Email),
		CustomerPhone: firstNonEmpty(req.CustomerPhone, o.Customer.Phone),
	})
	if err != nil {
		logx.Event("checkout", "bill_failed", "order_id", o.ID, "err", err)
		code := http.StatusBadGateway
		if errors.Is(err, gateway.ErrNoPaymentURL) {
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, map[string]string{"error": "could not start payment"})
		return
	}

	if bill.Code != "" {
		// without the reference, notifications fall back to amount matching
		if err := h.Store.SetExternalReference(ctx, o.ID, bill.Code); err != nil {
			logx.Event("checkout", "store_reference_failed", "order_id", o.ID, "bill_code", bill.Code, "err", err)
		}
	} else {
		logx.Event("checkout", "bill_without_code", "order_id", o.ID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": bill.URL})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
