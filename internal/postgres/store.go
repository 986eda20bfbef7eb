package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"github.com/shopspring/decimal"
	"time"
)

const orderColumns = `id, COALESCE(external_reference, ''), customer_name, customer_email, customer_phone,
	line_items, total_amount::text, payment_status, sync_status, COALESCE(sync_error, ''), created_at, updated_at`

// referenceKey matches the index on orders and mirrors orders.NormalizeReference.
const referenceKey = `lower(btrim(external_reference, E' \t\r\n.,;"\''))`

const sessionColumns = `id, course_id, date, capacity_total, capacity_remaining`

var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Store is the Postgres orders.Store. Settlement rows are locked with
// SELECT ... FOR UPDATE; serialization failures and deadlocks are retried.
type Store struct {
	db          DB
	maxAttempts int
	backoff     time.Duration
}

func NewStore(db DB) *Store {
	return &Store{db: db, maxAttempts: 5, backoff: 50 * time.Millisecond}
}

func (s *Store) CreateOrder(ctx context.Context, o *orders.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders(id, external_reference, customer_name, customer_email, customer_phone,
		                   line_items, total_amount, payment_status, sync_status, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)`,
		o.ID, o.ExternalReference, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		items, o.TotalAmount.StringFixed(2), string(o.PaymentStatus), string(o.SyncStatus), o.CreatedAt, o.UpdatedAt)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (s *Store) ListOrdersByPaymentStatus(ctx context.Context, status orders.PaymentStatus) ([]orders.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_status = $1 ORDER BY created_at`, string(status))
}

// FindOrdersByReference narrows by the normalized reference in SQL and
// confirms each row with orders.SameReference.
func (s *Store) FindOrdersByReference(ctx context.Context, ref string) ([]orders.Order, error) {
	ref = orders.NormalizeReference(ref)
	if ref == "" {
		return nil, nil
	}
	list, err := s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+referenceKey+` = lower($1) ORDER BY created_at`, ref)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, o := range list {
		if orders.SameReference(o.ExternalReference, ref) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) queryOrders(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) SetExternalReference(ctx context.Context, orderID, ref string) error {
	ct, err := s.db.Exec(ctx, `UPDATE orders SET external_reference = $2, updated_at = now() WHERE id = $1`, orderID, ref)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSyncStatus(ctx context.Context, orderID string, status orders.SyncStatus, syncErr string) error {
	ct, err := s.db.Exec(ctx, `UPDATE orders SET sync_status = $2, sync_error = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		orderID, string(status), syncErr)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

// ClaimSync takes the claim with one conditional UPDATE. When no row changes
// the order is re-read to report why.
func (s *Store) ClaimSync(ctx context.Context, orderID string, lease time.Duration) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE orders SET sync_status = 'syncing', updated_at = now()
		WHERE id = $1 AND payment_status = 'paid'
		  AND (sync_status IN ('pending', 'failed')
		       OR (sync_status = 'syncing' AND updated_at <= now() - make_interval(secs => $2)))`,
		orderID, lease.Seconds())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := orders.CheckSyncClaim(o, time.Now(), lease); err != nil {
		return err
	}
	return fmt.Errorf("%w: order %s", orders.ErrSyncInProgress, orderID)
}

func (s *Store) RecordSyncFailure(ctx context.Context, f orders.SyncFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_failures(id, order_id, stage, message, details, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		f.ID, f.OrderID, f.Stage, f.Message, f.Details, f.CreatedAt)
	return err
}

func (s *Store) GetCourse(ctx context.Context, id string) (*orders.Course, error) {
	var (
		c     orders.Course
		price string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, name, price::text, COALESCE(sku, ''), category,
		       COALESCE(terms_and_conditions, ''), COALESCE(important_highlight, ''), is_hidden
		FROM courses WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &price, &c.SKU, &c.Category, &c.TermsAndConditions, &c.ImportantHighlight, &c.IsHidden)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("course %s price: %w", id, err)
	}
	return &c, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*orders.Session, error) {
	return scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// RunInTx runs fn in a read-committed transaction. Row locks taken through
// Tx serialize concurrent settlements of the same order. Serialization
// failures and deadlocks re-run fn; when attempts run out the error wraps
// orders.ErrSettlementConflict.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("%w: %v", orders.ErrSettlementConflict, err)
		}
		logx.Event("postgres", "tx_retry", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) GetSessionForUpdate(ctx context.Context, id string) (*orders.Session, error) {
	return scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SetSessionRemaining(ctx context.Context, sessionID string, remaining int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE sessions SET capacity_remaining = $2
		WHERE id = $1 AND $2 BETWEEN 0 AND capacity_total`, sessionID, remaining)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("session %s: remaining %d rejected", sessionID, remaining)
	}
	return nil
}

func (t *pgTx) MarkPaid(ctx context.Context, orderID, ref string) error {
	return t.setStatus(ctx, orderID, orders.PaymentPaid, `
		UPDATE orders SET payment_status = 'paid', sync_status = 'pending', sync_error = NULL,
		       external_reference = COALESCE(NULLIF(external_reference, ''), NULLIF($2, '')), updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`, orderID, orders.NormalizeReference(ref))
}

func (t *pgTx) MarkFailed(ctx context.Context, orderID string) error {
	return t.setStatus(ctx, orderID, orders.PaymentFailed, `
		UPDATE orders SET payment_status = 'failed', updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`, orderID)
}

func (t *pgTx) setStatus(ctx context.Context, orderID string, to orders.PaymentStatus, sql string, args ...any) error {
	ct, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s -> %s", orders.ErrInvalidTransition, orderID, to)
	}
	return nil
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o             orders.Order
		items         []byte
		total         string
		payment, sync string
	)
	err := row.Scan(&o.ID, &o.ExternalReference, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&items, &total, &payment, &sync, &o.SyncError, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.LineItems); err != nil {
		return nil, fmt.Errorf("order %s line items: %w", o.ID, err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.PaymentStatus = orders.PaymentStatus(payment)
	o.SyncStatus = orders.SyncStatus(sync)
	return &o, nil
}

func scanSession(row pgx.Row) (*orders.Session, error) {
	var ss orders.Session
	err := row.Scan(&ss.ID, &ss.CourseID, &ss.Date, &ss.CapacityTotal, &ss.CapacityRemaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ss, nil
}
