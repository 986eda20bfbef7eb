package orders

import (
	"fmt"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

// Course is a catalog item. An empty SKU means it cannot be sold through the POS.
type Course struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Price              decimal.Decimal `json:"price"`
	SKU                string          `json:"sku,omitempty"`
	Category           string          `json:"category"`
	TermsAndConditions string          `json:"termsAndConditions,omitempty"`
	ImportantHighlight string          `json:"importantHighlight,omitempty"`
	IsHidden           bool            `json:"isHidden"`
}

// Session is a dated run of a course with finite capacity.
type Session struct {
	ID                string `json:"id"`
	CourseID          string `json:"courseId"`
	Date              string `json:"date"` // ISO date, e.g. 2024-07-28
	CapacityTotal     int    `json:"capacityTotal"`
	CapacityRemaining int    `json:"capacityRemaining"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// LineItem is immutable once the order is created.
type LineItem struct {
	CourseID    string          `json:"courseId"`
	CourseName  string          `json:"courseName"`
	SessionID   string          `json:"sessionId"`
	SessionDate string          `json:"sessionDate"`
	Category    string          `json:"category,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
}

// Subtotal returns unitPrice x quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is a customer's booking, the unit of payment and fulfillment.
type Order struct {
	ID                string          `json:"id"`
	ExternalReference string          `json:"externalReference,omitempty"` // gateway billcode
	Customer          Customer        `json:"customer"`
	LineItems         []LineItem      `json:"lineItems"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus"`
	SyncStatus        SyncStatus      `json:"syncStatus"`
	SyncError         string          `json:"syncError,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// SyncFailure is an append-only record of one failed POS sync attempt.
type SyncFailure struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ComputeTotal sums the line item subtotals.
func ComputeTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// SessionQuantities aggregates quantity per session id, keeping first-seen order.
func SessionQuantities(items []LineItem) (ids []string, qty map[string]int) {
	qty = make(map[string]int, len(items))
	for _, it := range items {
		if _, ok := qty[it.SessionID]; !ok {
			ids = append(ids, it.SessionID)
		}
		qty[it.SessionID] += it.Quantity
	}
	return ids, qty
}

// Validate reports line item data that can never settle: no items, a
// missing session id, a non-positive quantity or a negative price.
func Validate(items []LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: no line items", ErrInvalidOrder)
	}
	for i, it := range items {
		switch {
		case strings.TrimSpace(it.SessionID) == "":
			return fmt.Errorf("%w: line item %d has no session", ErrInvalidOrder, i)
		case it.Quantity <= 0:
			return fmt.Errorf("%w: line item %d quantity %d", ErrInvalidOrder, i, it.Quantity)
		case it.UnitPrice.IsNegative():
			return fmt.Errorf("%w: line item %d negative price", ErrInvalidOrder, i)
		}
	}
	return nil
}

// NewOrder builds a pending order with its total computed from the line items.
func NewOrder(c Customer, items []LineItem) (*Order, error) {
	if err := Validate(items); err != nil {
		return nil, err
	}
	return &Order{
		Customer:      c,
		LineItems:     append([]LineItem(nil), items...),
		TotalAmount:   ComputeTotal(items),
		PaymentStatus: PaymentPending,
		SyncStatus:    SyncPending,
	}, nil
}
