// Package possync is the asynchronous POS sync worker. It consumes
// order.paid events and runs the same sync the API runs inline.
package possync

import (
	"context"
	"errors"
	kafkago "github.com/segmentio/kafka-go"
	kafkax "github.com/shahruladnn-prog/LRC-Course/internal/kafka"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
)

// OrderSyncer is implemented by reconcile.Pipeline.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, orderID, traceID string) (*pos.Result, error)
}

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Service struct {
	Orders      OrderSyncer
	Dedup       Deduper
	ServiceName string
}

// HandleOrderPaid is installed as the consumer handler. It returns an error
// only for transient failures that should keep the offset uncommitted; POS
// failures are already recorded on the order and are acknowledged.
func (s *Service) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		logx.Event("possync", "skip_undecodable", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != orders.EventOrderPaid {
		return nil
	}

	// 2) dedup via Redis (event_id)
	if s.Dedup != nil {
		if seen, err := s.Dedup.Seen(ctx, env.EventID); err == nil && seen {
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		logx.Event("possync", "skip_bad_payload", "event_id", env.EventID, "err", err)
		return nil
	}

	// 4) sync; the adapter itself skips orders already synced
	res, err := s.Orders.SyncOrder(ctx, p.OrderID, env.TraceID)
	var se *pos.SyncError
	switch {
	case err == nil:
		logx.Event("possync", string(res.Outcome), "order_id", p.OrderID, "event_id", env.EventID, "receipt", res.ReceiptNumber)
	case errors.As(err, &se):
		logx.Event("possync", "sync_failed", "order_id", p.OrderID, "stage", se.Stage, "err", se.Err)
	case errors.Is(err, orders.ErrNotPaid), errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrSyncInProgress):
		logx.Event("possync", "skip", "order_id", p.OrderID, "err", err)
	default:
		return err
	}

	s.mark(ctx, env.EventID)
	return nil
}

func (s *Service) mark(ctx context.Context, eventID string) {
	if s.Dedup == nil {
		return
	}
	if err := s.Dedup.Mark(ctx, eventID); err != nil {
		logx.Event("possync", "dedup_mark_failed", "event_id", eventID, "err", err)
	}
}
