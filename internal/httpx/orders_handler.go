package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/redisx"
	"net/http"
	"time"
)

// StatusCache is implemented by redisx.StatusCache.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (*redisx.OrderStatus, error)
	Set(ctx context.Context, st redisx.OrderStatus) error
}

type OrdersHandler struct {
	Store orders.Store
	Cache StatusCache // optional
}

type ItemInput struct {
	CourseID  string `json:"courseId"`
	SessionID string `json:"sessionId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderReq struct {
	Customer orders.Customer `json:"customer"`
	Items    []ItemInput     `json:"items"`
}

type CreateOrderResp struct {
	OrderID     string `json:"orderId"`
	TotalAmount string `json:"totalAmount"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}/status", h.getStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing items"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// prices come from the catalog, never from the client
	items := make([]orders.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		li, status, err := h.lineItem(ctx, it)
		if err != nil {
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		items = append(items, li)
	}

	o, err := orders.NewOrder(req.Customer, items)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.Store.CreateOrder(ctx, o); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.cache(ctx, o)

	logx.Event("orders", "created", "order_id", o.ID, "items", len(o.LineItems), "total", o.TotalAmount.StringFixed(2))
	writeJSON(w, http.StatusCreated, CreateOrderResp{OrderID: o.ID, TotalAmount: o.TotalAmount.StringFixed(2)})
}

func (h *OrdersHandler) lineItem(ctx context.Context, it ItemInput) (orders.LineItem, int, error) {
	course, err := h.Store.GetCourse(ctx, it.CourseID)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.LineItem{}, http.StatusBadRequest, errors.New("course not found: " + it.CourseID)
	}
	if err != nil {
		return orders.LineItem{}, http.StatusInternalServerError, err
	}
	sess, err := h.Store.GetSession(ctx, it.SessionID)
	if errors.Is(err, orders.ErrNotFound) || (err == nil && sess.CourseID != course.ID) {
		return orders.LineItem{}, http.StatusBadRequest, errors.New("session not found for course: " + it.SessionID)
	}
	if err != nil {
		return orders.LineItem{}, http.StatusInternalServerError, err
	}
	return orders.LineItem{
		CourseID:    course.ID,
		CourseName:  course.Name,
		SessionID:   sess.ID,
		SessionDate: sess.Date,
		Category:    course.Category,
		UnitPrice:   course.Price,
		Quantity:    it.Quantity,
	}, 0, nil
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if st, err := h.Cache.Get(ctx, orderID); err == nil && st != nil {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}

	// 2) store
	o, err := h.Store.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.cache(ctx, o)
	writeJSON(w, http.StatusOK, redisx.StatusOf(o))
}

func (h *OrdersHandler) cache(ctx context.Context, o *orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Set(ctx, redisx.StatusOf(o)); err != nil {
		logx.Event("orders", "cache_set_failed", "order_id", o.ID, "err", err)
	}
}
