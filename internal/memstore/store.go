// Package memstore is an in-process orders.Store. Transactions are serialized
// by a single mutex and staged writes are applied only when fn returns nil,
// so a failed transaction leaves no trace. Used for local runs
// (STORE_DRIVER=memory) and tests.
package memstore

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"sort"
	"sync"
	"time"
)

type Store struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	orders   map[string]orders.Order
	sessions map[string]orders.Session
	courses  map[string]orders.Course
	failures []orders.SyncFailure

	writes int // committed mutations, for tests
}

func New() *Store {
	return &Store{
		orders:   map[string]orders.Order{},
		sessions: map[string]orders.Session{},
		courses:  map[string]orders.Course{},
	}
}

// PutCourse and PutSession seed catalog data (admin CRUD lives elsewhere).
func (s *Store) PutCourse(c orders.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = c
}

func (s *Store) PutSession(ss orders.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ss.ID] = ss
}

// DeleteSession removes a session, e.g. an admin deleting it after booking.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Writes returns the number of committed mutations so far.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) SyncFailures(orderID string) []orders.SyncFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.SyncFailure
	for _, f := range s.failures {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out
}

func (s *Store) CreateOrder(ctx context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.orders[o.ID] = cloneOrder(*o)
	s.writes++
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *Store) ListOrdersByPaymentStatus(ctx context.Context, status orders.PaymentStatus) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.PaymentStatus == status {
			out = append(out, cloneOrder(o))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) FindOrdersByReference(ctx context.Context, ref string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if orders.SameReference(o.ExternalReference, ref) {
			out = append(out, cloneOrder(o))
		}
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(list []orders.Order) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func (s *Store) SetExternalReference(ctx context.Context, orderID, ref string) error {
	return s.update(orderID, func(o *orders.Order) { o.ExternalReference = ref })
}

func (s *Store) UpdateSyncStatus(ctx context.Context, orderID string, status orders.SyncStatus, syncErr string) error {
	return s.update(orderID, func(o *orders.Order) {
		o.SyncStatus = status
		o.SyncError = syncErr
	})
}

func (s *Store) ClaimSync(ctx context.Context, orderID string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	now := time.Now().UTC()
	if err := orders.CheckSyncClaim(&o, now, lease); err != nil {
		return err
	}
	o.SyncStatus = orders.SyncSyncing
	o.UpdatedAt = now
	s.orders[orderID] = o
	s.writes++
	return nil
}

func (s *Store) update(orderID string, fn func(o *orders.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	fn(&o)
	o.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = o
	s.writes++
	return nil
}

func (s *Store) RecordSyncFailure(ctx context.Context, f orders.SyncFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.failures = append(s.failures, f)
	s.writes++
	return nil
}

func (s *Store) GetCourse(ctx context.Context, id string) (*orders.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*orders.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &ss, nil
}

// RunInTx runs fn with exclusive access to the store. There is never contention
// to retry, so ErrSettlementConflict is not produced here.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{
		s:        s,
		orders:   map[string]orders.Order{},
		sessions: map[string]orders.Session{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s        *Store
	orders   map[string]orders.Order
	sessions map[string]orders.Session
	dirty    int
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	if o, ok := t.orders[id]; ok {
		c := cloneOrder(o)
		return &c, nil
	}
	return t.s.GetOrder(ctx, id)
}

func (t *memTx) GetSessionForUpdate(ctx context.Context, id string) (*orders.Session, error) {
	if ss, ok := t.sessions[id]; ok {
		return &ss, nil
	}
	return t.s.GetSession(ctx, id)
}

func (t *memTx) SetSessionRemaining(ctx context.Context, sessionID string, remaining int) error {
	ss, err := t.GetSessionForUpdate(ctx, sessionID)
	if err != nil {
		return err
	}
	if remaining < 0 || remaining > ss.CapacityTotal {
		return fmt.Errorf("session %s: remaining %d outside [0,%d]", sessionID, remaining, ss.CapacityTotal)
	}
	ss.CapacityRemaining = remaining
	t.sessions[sessionID] = *ss
	t.dirty++
	return nil
}

func (t *memTx) MarkPaid(ctx context.Context, orderID, ref string) error {
	return t.setStatus(ctx, orderID, orders.PaymentPaid, ref)
}

func (t *memTx) MarkFailed(ctx context.Context, orderID string) error {
	return t.setStatus(ctx, orderID, orders.PaymentFailed, "")
}

func (t *memTx) setStatus(ctx context.Context, orderID string, to orders.PaymentStatus, ref string) error {
	o, err := t.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if !orders.CanTransition(o.PaymentStatus, to) {
		return fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.PaymentStatus, to)
	}
	o.PaymentStatus = to
	if to == orders.PaymentPaid {
		o.SyncStatus = orders.SyncPending
		o.SyncError = ""
		if orders.NormalizeReference(o.ExternalReference) == "" {
			o.ExternalReference = orders.NormalizeReference(ref)
		}
	}
	t.orders[orderID] = *o
	t.dirty++
	return nil
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := time.Now().UTC()
	for id, o := range t.orders {
		o.UpdatedAt = now
		t.s.orders[id] = o
	}
	for id, ss := range t.sessions {
		t.s.sessions[id] = ss
	}
	t.s.writes += t.dirty
}

func cloneOrder(o orders.Order) orders.Order {
	o.LineItems = append([]orders.LineItem(nil), o.LineItems...)
	return o
}
