package orders

import (
	"encoding/json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderPaid          = "OrderPaid"
	EventOrderPOSSynced     = "OrderPOSSynced"
	EventOrderPOSSyncFailed = "OrderPOSSyncFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the Event* constants
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "bookings-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a v1 envelope correlated by order id.
func NewEnvelope(eventType, producer, orderID, traceID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       raw,
	}, nil
}

// ---- Payloads ----

type SessionQty struct {
	SessionID string `json:"session_id"`
	Qty       int    `json:"qty"`
}

type OrderPaidPayload struct {
	OrderID           string          `json:"order_id"`
	ExternalReference string          `json:"external_reference,omitempty"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Items             []SessionQty    `json:"items"`
	MatchedBy         string          `json:"matched_by,omitempty"` // resolver strategy
}

type OrderPOSSyncedPayload struct {
	OrderID       string `json:"order_id"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
	LineItems     int    `json:"line_items"`
	Skipped       int    `json:"skipped,omitempty"`
}

type OrderPOSSyncFailedPayload struct {
	OrderID string `json:"order_id"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
}

// NewOrderPaidPayload builds the payload from a settled order.
func NewOrderPaidPayload(o *Order, matchedBy string) OrderPaidPayload {
	ids, qty := SessionQuantities(o.LineItems)
	items := make([]SessionQty, 0, len(ids))
	for _, id := range ids {
		items = append(items, SessionQty{SessionID: id, Qty: qty[id]})
	}
	return OrderPaidPayload{
		OrderID:           o.ID,
		ExternalReference: o.ExternalReference,
		TotalAmount:       o.TotalAmount,
		Items:             items,
		MatchedBy:         matchedBy,
	}
}
