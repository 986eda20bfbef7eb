package reconcile

import (
	"context"
	"errors"
	"fmt"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"sort"
)

type SettleOutcome string

const (
	OutcomeSettled     SettleOutcome = "settled"
	OutcomeAlreadyPaid SettleOutcome = "already_paid"
)

// SessionChange is the capacity write for one session. Oversold is the part
// of Quantity that did not fit in the remaining capacity.
type SessionChange struct {
	SessionID string
	Quantity  int
	Before    int
	After     int
	Oversold  int
}

type Settlement struct {
	OrderID  string
	Outcome  SettleOutcome
	Sessions []SessionChange
	Skipped  []string // sessions that no longer exist
}

// Settler moves an order from pending to paid and consumes session capacity
// in a single store transaction.
type Settler struct {
	Store orders.Store
}

// Settle is safe to call any number of times, concurrently or not. The order
// status read inside the transaction is the only idempotency gate: a paid
// order yields OutcomeAlreadyPaid and no writes.
func (s *Settler) Settle(ctx context.Context, orderID string) (*Settlement, error) {
	return s.SettleWithReference(ctx, orderID, "")
}

// SettleWithReference settles like Settle and, in the same transaction,
// stores ref on an order that has no reference yet. Orders matched by amount
// thereby keep the gateway reference that paid them.
func (s *Settler) SettleWithReference(ctx context.Context, orderID, ref string) (*Settlement, error) {
	var (
		res     *Settlement
		invalid error
	)
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		// fn may run again on conflict retry
		res = &Settlement{OrderID: orderID}
		invalid = nil

		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("%w: %s", orders.ErrOrderVanished, orderID)
		}
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}

		switch o.PaymentStatus {
		case orders.PaymentPaid:
			res.Outcome = OutcomeAlreadyPaid
			return nil
		case orders.PaymentFailed:
			return fmt.Errorf("%w: order %s is %s", orders.ErrInvalidTransition, orderID, o.PaymentStatus)
		}

		if err := orders.Validate(o.LineItems); err != nil {
			invalid = err
			return tx.MarkFailed(ctx, orderID)
		}

		ids, qty := orders.SessionQuantities(o.LineItems)
		// fixed lock order across concurrent settlements
		sort.Strings(ids)
		for _, id := range ids {
			ss, err := tx.GetSessionForUpdate(ctx, id)
			if errors.Is(err, orders.ErrNotFound) {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			if err != nil {
				return fmt.Errorf("load session %s: %w", id, err)
			}
			q := qty[id]
			after := max(0, ss.CapacityRemaining-q)
			if err := tx.SetSessionRemaining(ctx, id, after); err != nil {
				return fmt.Errorf("update session %s: %w", id, err)
			}
			res.Sessions = append(res.Sessions, SessionChange{
				SessionID: id,
				Quantity:  q,
				Before:    ss.CapacityRemaining,
				After:     after,
				Oversold:  max(0, q-ss.CapacityRemaining),
			})
		}

		if err := tx.MarkPaid(ctx, orderID, ref); err != nil {
			return fmt.Errorf("mark order %s paid: %w", orderID, err)
		}
		res.Outcome = OutcomeSettled
		return nil
	})
	if err != nil {
		logx.Event("SETTLE", "error", "order_id", orderID, "err", err)
		return nil, err
	}
	if invalid != nil {
		logx.Event("SETTLE", "marked_failed", "order_id", orderID, "err", invalid)
		return nil, invalid
	}

	for _, sc := range res.Sessions {
		if sc.Oversold > 0 {
			logx.Event("SETTLE", "oversold", "order_id", orderID, "session_id", sc.SessionID, "qty", sc.Quantity, "remaining_before", sc.Before, "oversold", sc.Oversold)
		}
	}
	for _, id := range res.Skipped {
		logx.Event("SETTLE", "session_missing", "order_id", orderID, "session_id", id)
	}
	logx.Event("SETTLE", string(res.Outcome), "order_id", orderID, "sessions", len(res.Sessions))
	return res, nil
}
