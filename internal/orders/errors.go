package orders

import "errors"

var (
	// ErrNotFound is returned when a requested order, session or course does not exist,
	// and by the resolver when no pending order matches a notification.
	ErrNotFound = errors.New("not found")

	// ErrOrderVanished is returned when an order resolved earlier is gone inside the settlement transaction.
	ErrOrderVanished = errors.New("order vanished before settlement")

	// ErrSettlementConflict is returned once transaction retries for write contention are exhausted.
	ErrSettlementConflict = errors.New("settlement conflict: retries exhausted")

	ErrInvalidTransition = errors.New("invalid payment status transition")

	// ErrInvalidOrder marks order data that can never settle (no line items, bad quantity).
	ErrInvalidOrder = errors.New("order cannot be settled")

	// ErrNotPaid is the precondition failure for POS retries on unpaid orders.
	ErrNotPaid = errors.New("order is not paid")

	// ErrNoLineItems is returned by POS sync when no line item maps to a POS variant.
	ErrNoLineItems = errors.New("no line items could be mapped to POS variants")

	// ErrAmbiguousAmount is returned when more than one pending order matches by amount.
	ErrAmbiguousAmount = errors.New("amount matches more than one pending order")

	// ErrReferenceSettled is returned by the resolver when the notification's
	// reference belongs to an order that is no longer pending. It always comes
	// wrapped together with ErrNotFound.
	ErrReferenceSettled = errors.New("reference belongs to a settled order")

	// ErrSyncInProgress is returned when another worker holds the POS sync claim.
	ErrSyncInProgress = errors.New("pos sync already in progress")

	ErrAlreadySynced = errors.New("order already synced to pos")
)
