package orders

import (
	"fmt"
	"time"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// SyncStatus tracks POS propagation only and never drives PaymentStatus.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing" // claimed by one worker; see Store.ClaimSync
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// paid is terminal: it is the idempotency boundary for capacity consumption.
var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {PaymentPaid: true, PaymentFailed: true},
	PaymentPaid:    {},
	PaymentFailed:  {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

func (s PaymentStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSyncing, SyncSynced, SyncFailed:
		return true
	}
	return false
}

// CheckSyncClaim returns nil when o may be claimed for POS sync at now, or
// the reason it may not.
func CheckSyncClaim(o *Order, now time.Time, lease time.Duration) error {
	switch {
	case o.PaymentStatus != PaymentPaid:
		return fmt.Errorf("%w: order %s is %s", ErrNotPaid, o.ID, o.PaymentStatus)
	case o.SyncStatus == SyncSynced:
		return ErrAlreadySynced
	case o.SyncStatus == SyncSyncing && now.Sub(o.UpdatedAt) < lease:
		return fmt.Errorf("%w: order %s claimed at %s", ErrSyncInProgress, o.ID, o.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}
