package reconcile

import (
	"context"
	"errors"
	"fmt"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
)

// EventPublisher publishes domain events. Implemented by kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, env orders.Envelope) error
}

// StatusCache drops cached order status after a change. Implemented by redisx.StatusCache.
type StatusCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

// Deduper remembers references that already reached a terminal outcome.
// Implemented by redisx.Dedup.
type Deduper interface {
	Seen(ctx context.Context, reference string) (bool, error)
	Mark(ctx context.Context, reference string) error
}

// POSSyncer is the POS Sync Adapter. Implemented by pos.Syncer.
type POSSyncer interface {
	Sync(ctx context.Context, o *orders.Order) (*pos.Result, error)
}

// Result describes one pipeline run.
type Result struct {
	Order      *orders.Order
	MatchedBy  string
	Settlement *Settlement
	Sync       *pos.Result
	SyncErr    error // recorded on the order, never returned by Process
	Deduped    bool  // acknowledged from the dedup marker without touching the store
}

// Pipeline wires resolver, settlement and POS sync. Everything except Store
// is optional: a nil POS disables sync, nil Events disables publishing.
type Pipeline struct {
	Store    orders.Store
	Resolver *Resolver
	Settler  *Settler

	POS        POSSyncer
	SyncInline bool

	Events   EventPublisher
	Cache    StatusCache
	Dedup    Deduper
	Producer string
}

func NewPipeline(store orders.Store) *Pipeline {
	return &Pipeline{
		Store:      store,
		Resolver:   NewResolver(store),
		Settler:    &Settler{Store: store},
		SyncInline: true,
		Producer:   "bookings-api",
	}
}

// Process resolves the hint, settles the order and, in inline mode, syncs it
// to the POS. Resolver and settlement failures are returned; POS failures
// only show up in Result.SyncErr.
func (p *Pipeline) Process(ctx context.Context, h Hint, traceID string) (*Result, error) {
	ref := orders.NormalizeReference(h.Reference)
	if p.Dedup != nil && h.OrderID == "" && ref != "" {
		seen, err := p.Dedup.Seen(ctx, ref)
		if err != nil {
			logx.Event("PIPELINE", "dedup_unavailable", "reference", ref, "err", err)
		} else if seen {
			logx.Event("PIPELINE", "dedup_hit", "reference", ref, "trace_id", traceID)
			return &Result{Deduped: true}, nil
		}
	}

	res, err := p.Resolver.Resolve(ctx, h)
	if errors.Is(err, orders.ErrReferenceSettled) {
		p.mark(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	st, err := p.Settler.SettleWithReference(ctx, res.Order.ID, ref)
	if err != nil {
		return nil, err
	}
	p.mark(ctx, ref)

	out := &Result{MatchedBy: res.Strategy, Settlement: st, Order: res.Order}
	if st.Outcome != OutcomeSettled {
		return out, nil
	}

	p.invalidate(ctx, res.Order.ID)
	o, err := p.Store.GetOrder(ctx, res.Order.ID)
	if err != nil {
		// committed already; carry on with the resolved snapshot
		logx.Event("PIPELINE", "reload_failed", "order_id", res.Order.ID, "err", err)
		o = res.Order
		o.PaymentStatus = orders.PaymentPaid
		o.SyncStatus = orders.SyncPending
	}
	out.Order = o
	p.publish(ctx, orders.TopicOrderPaid, orders.EventOrderPaid, o.ID, traceID, orders.NewOrderPaidPayload(o, res.Strategy))

	if p.SyncInline && p.POS != nil {
		out.Sync, out.SyncErr = p.syncOrder(ctx, o, traceID)
	}
	return out, nil
}

// SyncOrder runs the POS Sync Adapter for a paid order. Used by the admin
// retry endpoint and the async worker.
func (p *Pipeline) SyncOrder(ctx context.Context, orderID, traceID string) (*pos.Result, error) {
	if p.POS == nil {
		return nil, errors.New("pos sync not configured")
	}
	o, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != orders.PaymentPaid {
		return nil, fmt.Errorf("%w: order %s is %s", orders.ErrNotPaid, orderID, o.PaymentStatus)
	}
	return p.syncOrder(ctx, o, traceID)
}

func (p *Pipeline) syncOrder(ctx context.Context, o *orders.Order, traceID string) (*pos.Result, error) {
	r, err := p.POS.Sync(ctx, o)
	if r != nil && r.Outcome == pos.OutcomeAlreadySynced {
		return r, nil
	}
	if errors.Is(err, orders.ErrSyncInProgress) {
		// the claim holder publishes the outcome
		return nil, err
	}
	p.invalidate(ctx, o.ID)

	if err != nil {
		stage := "unknown"
		var se *pos.SyncError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		p.publish(ctx, orders.TopicPOSSyncFailed, orders.EventOrderPOSSyncFailed, o.ID, traceID,
			orders.OrderPOSSyncFailedPayload{OrderID: o.ID, Stage: stage, Reason: err.Error()})
		return r, err
	}
	p.publish(ctx, orders.TopicPOSSynced, orders.EventOrderPOSSynced, o.ID, traceID,
		orders.OrderPOSSyncedPayload{OrderID: o.ID, ReceiptNumber: r.ReceiptNumber, LineItems: r.LineItems, Skipped: len(r.Skipped)})
	return r, nil
}

func (p *Pipeline) mark(ctx context.Context, ref string) {
	if p.Dedup == nil || ref == "" {
		return
	}
	if err := p.Dedup.Mark(ctx, ref); err != nil {
		logx.Event("PIPELINE", "dedup_mark_failed", "reference", ref, "err", err)
	}
}

func (p *Pipeline) invalidate(ctx context.Context, orderID string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Invalidate(ctx, orderID); err != nil {
		logx.Event("PIPELINE", "cache_invalidate_failed", "order_id", orderID, "err", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, topic, eventType, orderID, traceID string, payload any) {
	if p.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, p.Producer, orderID, traceID, payload)
	if err != nil {
		logx.Event("PIPELINE", "envelope_failed", "event", eventType, "order_id", orderID, "err", err)
		return
	}
	if err := p.Events.PublishEvent(ctx, topic, env); err != nil {
		logx.Event("PIPELINE", "publish_failed", "topic", topic, "order_id", orderID, "err", err)
	}
}
