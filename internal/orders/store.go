package orders

import (
	"context"
	"time"
)

// Store persists orders, sessions and courses. Implementations must give
// RunInTx serializable read-modify-write semantics for the rows touched
// through Tx, retrying write contention internally.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrdersByPaymentStatus(ctx context.Context, status PaymentStatus) ([]Order, error)
	SetExternalReference(ctx context.Context, orderID, ref string) error

	// FindOrdersByReference returns every order, in any payment status,
	// whose stored reference equals ref under SameReference.
	FindOrdersByReference(ctx context.Context, ref string) ([]Order, error)

	// UpdateSyncStatus writes the POS columns only; payment status is never touched.
	UpdateSyncStatus(ctx context.Context, orderID string, status SyncStatus, syncErr string) error
	RecordSyncFailure(ctx context.Context, f SyncFailure) error

	// ClaimSync moves a paid order to SyncSyncing so exactly one caller
	// creates its POS receipt. Orders pending or failed can be claimed, as can
	// a syncing claim older than lease. Otherwise it returns ErrAlreadySynced,
	// ErrSyncInProgress, ErrNotPaid or ErrNotFound.
	ClaimSync(ctx context.Context, orderID string, lease time.Duration) error

	GetCourse(ctx context.Context, id string) (*Course, error)
	GetSession(ctx context.Context, id string) (*Session, error)

	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view used by settlement. Reads lock the row until commit.
type Tx interface {
	GetOrderForUpdate(ctx context.Context, id string) (*Order, error)
	GetSessionForUpdate(ctx context.Context, id string) (*Session, error)
	SetSessionRemaining(ctx context.Context, sessionID string, remaining int) error

	// MarkPaid sets paymentStatus=paid and resets syncStatus to pending. A
	// non-empty ref is stored as the external reference when the order has none.
	MarkPaid(ctx context.Context, orderID, ref string) error
	MarkFailed(ctx context.Context, orderID string) error
}
