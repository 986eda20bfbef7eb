// Package reconcile turns a payment notification into a settled order:
// resolve the order, settle it exactly once, then propagate the sale.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shopspring/decimal"
)

// Hint is the correlation data carried by a notification or an operator call.
type Hint struct {
	OrderID   string
	Reference string
	Amount    decimal.NullDecimal
}

// Strategy names used in logs and on the OrderPaid event.
const (
	StrategyDirectID  = "direct_id"
	StrategyReference = "reference"
	StrategyAmount    = "amount_fallback"
)

// Strategy is one step of the resolution chain. Returning (nil, nil) passes
// to the next strategy; an error stops the chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, h Hint, c *Candidates) (*orders.Order, error)
}

// Candidates gives strategies access to the store, loading the pending
// order list at most once per resolution.
type Candidates struct {
	store   orders.Store
	pending []orders.Order
	loaded  bool
}

func (c *Candidates) Order(ctx context.Context, id string) (*orders.Order, error) {
	return c.store.GetOrder(ctx, id)
}

// Pending returns every order whose payment status is pending.
func (c *Candidates) Pending(ctx context.Context) ([]orders.Order, error) {
	if c.loaded {
		return c.pending, nil
	}
	list, err := c.store.ListOrdersByPaymentStatus(ctx, orders.PaymentPending)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	c.pending, c.loaded = list, true
	return list, nil
}

// DirectID trusts an explicit order id and returns the order whatever its
// status; settlement decides what to do with it.
type DirectID struct{}

func (DirectID) Name() string { return StrategyDirectID }

func (DirectID) Resolve(ctx context.Context, h Hint, c *Candidates) (*orders.Order, error) {
	if h.OrderID == "" {
		return nil, nil
	}
	o, err := c.Order(ctx, h.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

// ReferenceMatch selects the pending order whose external reference equals
// the hint's, ignoring case and surrounding whitespace. A reference already
// held by a paid or failed order stops the chain, so a repeated notification
// can never move on to the amount fallback.
type ReferenceMatch struct{}

func (ReferenceMatch) Name() string { return StrategyReference }

func (ReferenceMatch) Resolve(ctx context.Context, h Hint, c *Candidates) (*orders.Order, error) {
	if orders.NormalizeReference(h.Reference) == "" {
		return nil, nil
	}
	list, err := c.store.FindOrdersByReference(ctx, h.Reference)
	if err != nil {
		return nil, fmt.Errorf("find orders by reference: %w", err)
	}
	for i := range list {
		if list[i].PaymentStatus == orders.PaymentPending {
			o := list[i]
			return &o, nil
		}
	}
	if len(list) > 0 {
		return nil, fmt.Errorf("%w: %w: reference=%s order=%s status=%s",
			orders.ErrNotFound, orders.ErrReferenceSettled, orders.NormalizeReference(h.Reference), list[0].ID, list[0].PaymentStatus)
	}
	return nil, nil
}

// AmountFallback selects the single pending order whose total equals the
// hint amount within orders.AmountTolerance. When the hint carries a
// reference, only orders that never had a reference stored are eligible, so
// an order with a different known reference is never taken by amount.
type AmountFallback struct{}

func (AmountFallback) Name() string { return StrategyAmount }

func (AmountFallback) Resolve(ctx context.Context, h Hint, c *Candidates) (*orders.Order, error) {
	if !h.Amount.Valid {
		return nil, nil
	}
	pending, err := c.Pending(ctx)
	if err != nil {
		return nil, err
	}
	hasRef := orders.NormalizeReference(h.Reference) != ""

	var matches []orders.Order
	for _, o := range pending {
		if hasRef && orders.NormalizeReference(o.ExternalReference) != "" {
			continue
		}
		if orders.SameAmount(o.TotalAmount, h.Amount.Decimal) {
			matches = append(matches, o)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, fmt.Errorf("%w: %w: amount=%s candidates=%v", orders.ErrNotFound, orders.ErrAmbiguousAmount, h.Amount.Decimal.StringFixed(2), ids)
	}
}

// DefaultStrategies is the resolution order: direct id, reference, amount.
func DefaultStrategies() []Strategy {
	return []Strategy{DirectID{}, ReferenceMatch{}, AmountFallback{}}
}

// Resolution is a resolved order and the strategy that found it.
type Resolution struct {
	Order    *orders.Order
	Strategy string
}

type Resolver struct {
	Store      orders.Store
	Strategies []Strategy
}

func NewResolver(store orders.Store) *Resolver {
	return &Resolver{Store: store, Strategies: DefaultStrategies()}
}

// Resolve runs the strategies in order and returns the first match. It
// performs no writes. No match yields an error wrapping orders.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, h Hint) (*Resolution, error) {
	c := &Candidates{store: r.Store}
	for _, s := range r.Strategies {
		o, err := s.Resolve(ctx, h, c)
		if err != nil {
			logx.Event("RESOLVE", "strategy_error", "strategy", s.Name(), "order_id", h.OrderID, "reference", h.Reference, "amount", amountString(h.Amount), "err", err)
			return nil, err
		}
		if o == nil {
			logx.Event("RESOLVE", "no_match", "strategy", s.Name(), "order_id", h.OrderID, "reference", h.Reference, "amount", amountString(h.Amount))
			continue
		}
		logx.Event("RESOLVE", "matched", "strategy", s.Name(), "order_id", o.ID, "reference", h.Reference, "amount", amountString(h.Amount))
		return &Resolution{Order: o, Strategy: s.Name()}, nil
	}
	return nil, fmt.Errorf("%w: no pending order for order_id=%q reference=%q amount=%s",
		orders.ErrNotFound, h.OrderID, h.Reference, amountString(h.Amount))
}

func amountString(a decimal.NullDecimal) string {
	if !a.Valid {
		return "-"
	}
	return a.Decimal.StringFixed(2)
}
