package pos

import (
	"context"
	"errors"
	"fmt"
	"github.com/shahruladnn-prog/LRC-Course/internal/logx"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"time"
)

// Sync stages recorded on failures.
const (
	StageCustomer = "customer"
	StageCourse   = "course"
	StageVariant  = "variant"
	StageMapping  = "mapping"
	StageReceipt  = "receipt"
	StageRecord   = "record"
)

// API is the slice of the POS the syncer needs.
type API interface {
	FindVariantsBySKU(ctx context.Context, sku string) ([]Variant, error)
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, in Customer) (*Customer, error)
	CreateReceipt(ctx context.Context, in ReceiptRequest) (*Receipt, error)
}

// SyncError is any POS-side failure. It is recorded on the order and never
// propagated as a settlement failure.
type SyncError struct {
	OrderID string
	Stage   string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("pos sync %s failed at %s: %v", e.OrderID, e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

type Outcome string

const (
	OutcomeSynced        Outcome = "synced"
	OutcomeAlreadySynced Outcome = "already_synced"
)

// SkippedItem is a line item left off the receipt.
type SkippedItem struct {
	CourseID string
	SKU      string
	Reason   string
}

type Result struct {
	Outcome       Outcome
	ReceiptNumber string
	LineItems     int
	Skipped       []SkippedItem
}

// DefaultClaimLease bounds how long a crashed sync blocks the next attempt.
const DefaultClaimLease = 5 * time.Minute

// Syncer turns a paid order into one POS receipt.
type Syncer struct {
	POS           API
	Store         orders.Store
	StoreID       string
	PaymentTypeID string
	ClaimLease    time.Duration
	Now           func() time.Time
}

// Sync pushes o to the POS. It is safe to call repeatedly and concurrently:
// the order is claimed in the store first, so only one caller creates a
// receipt. An order already synced returns OutcomeAlreadySynced; a claim held
// elsewhere returns orders.ErrSyncInProgress. Every POS failure flips
// syncStatus to failed and is returned as *SyncError; the order's payment
// status is never touched.
func (s *Syncer) Sync(ctx context.Context, o *orders.Order) (*Result, error) {
	if o.SyncStatus == orders.SyncSynced {
		return &Result{Outcome: OutcomeAlreadySynced}, nil
	}
	if err := s.Store.ClaimSync(ctx, o.ID, s.lease()); err != nil {
		if errors.Is(err, orders.ErrAlreadySynced) {
			o.SyncStatus = orders.SyncSynced
			return &Result{Outcome: OutcomeAlreadySynced}, nil
		}
		logx.Event("pos", "claim_refused", "order", o.ID, "err", err)
		return nil, err
	}
	o.SyncStatus = orders.SyncSyncing

	customerID := s.resolveCustomer(ctx, o)

	res := &Result{}
	var lines []ReceiptLineItem
	for _, it := range o.LineItems {
		line, skip, err := s.mapLineItem(ctx, o, it)
		if err != nil {
			return nil, s.fail(ctx, o, err)
		}
		if skip != nil {
			res.Skipped = append(res.Skipped, *skip)
			logx.Event("pos", "skip_line_item", "order", o.ID, "course", it.CourseID, "sku", skip.SKU, "reason", skip.Reason)
			continue
		}
		lines = append(lines, *line)
	}

	if len(lines) == 0 {
		return nil, s.fail(ctx, o, &SyncError{OrderID: o.ID, Stage: StageMapping, Err: orders.ErrNoLineItems})
	}

	req := ReceiptRequest{
		StoreID:     s.StoreID,
		CustomerID:  customerID,
		Order:       o.ExternalReference,
		Source:      "API",
		ReceiptDate: s.now().UTC().Format(time.RFC3339),
		Note:        receiptNote(o),
		LineItems:   lines,
		Payments: []ReceiptPayment{{
			PaymentTypeID: s.PaymentTypeID,
			MoneyAmount:   o.TotalAmount.InexactFloat64(),
		}},
	}
	receipt, err := s.POS.CreateReceipt(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, o, &SyncError{OrderID: o.ID, Stage: StageReceipt, Err: err})
	}

	// The receipt exists from here on; a failed status write must not be
	// reported as a POS failure or a retry would duplicate the receipt.
	if err := s.Store.UpdateSyncStatus(ctx, o.ID, orders.SyncSynced, ""); err != nil {
		logx.Event("pos", "record_synced_failed", "order", o.ID, "receipt", receipt.ReceiptNumber, "err", err)
		return nil, fmt.Errorf("record synced status for %s (receipt %s): %w", o.ID, receipt.ReceiptNumber, err)
	}
	o.SyncStatus = orders.SyncSynced
	o.SyncError = ""

	res.Outcome = OutcomeSynced
	res.ReceiptNumber = receipt.ReceiptNumber
	res.LineItems = len(lines)
	logx.Event("pos", "synced", "order", o.ID, "receipt", receipt.ReceiptNumber, "lines", len(lines), "skipped", len(res.Skipped))
	return res, nil
}

// resolveCustomer finds or creates the POS customer. Failures are logged and
// the receipt is created without a customer link.
func (s *Syncer) resolveCustomer(ctx context.Context, o *orders.Order) string {
	email := o.Customer.Email
	if email == "" {
		return ""
	}
	cu, err := s.POS.FindCustomerByEmail(ctx, email)
	if err == nil && cu == nil {
		cu, err = s.POS.CreateCustomer(ctx, Customer{
			Name:        o.Customer.Name,
			Email:       email,
			PhoneNumber: o.Customer.Phone,
		})
	}
	if err != nil {
		logx.Event("pos", "customer_unresolved", "order", o.ID, "err", err)
		return ""
	}
	if cu == nil {
		return ""
	}
	return cu.ID
}

func (s *Syncer) mapLineItem(ctx context.Context, o *orders.Order, it orders.LineItem) (*ReceiptLineItem, *SkippedItem, error) {
	course, err := s.Store.GetCourse(ctx, it.CourseID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, &SkippedItem{CourseID: it.CourseID, Reason: "course not found"}, nil
	}
	if err != nil {
		return nil, nil, &SyncError{OrderID: o.ID, Stage: StageCourse, Err: err}
	}
	if course.SKU == "" {
		return nil, &SkippedItem{CourseID: it.CourseID, Reason: "course has no sku"}, nil
	}

	variants, err := s.POS.FindVariantsBySKU(ctx, course.SKU)
	if err != nil {
		return nil, nil, &SyncError{OrderID: o.ID, Stage: StageVariant, Err: err}
	}
	var match *Variant
	for i := range variants {
		if variants[i].SellableIn(s.StoreID) {
			match = &variants[i]
			break
		}
	}
	if match == nil {
		return nil, &SkippedItem{CourseID: it.CourseID, SKU: course.SKU, Reason: "no sellable variant"}, nil
	}

	return &ReceiptLineItem{
		VariantID: match.Ref(),
		Quantity:  float64(it.Quantity),
		Price:     it.UnitPrice.InexactFloat64(),
		LineNote:  it.SessionDate,
	}, nil, nil
}

// fail records err on the order (syncStatus=failed, syncError, failure log)
// and returns it as a *SyncError.
func (s *Syncer) fail(ctx context.Context, o *orders.Order, err error) error {
	var se *SyncError
	if !errors.As(err, &se) {
		se = &SyncError{OrderID: o.ID, Stage: StageRecord, Err: err}
	}

	detail := se.Err.Error()
	if uerr := s.Store.UpdateSyncStatus(ctx, o.ID, orders.SyncFailed, detail); uerr != nil {
		logx.Event("pos", "record_failed_status", "order", o.ID, "err", uerr)
	} else {
		o.SyncStatus = orders.SyncFailed
		o.SyncError = detail
	}

	f := orders.SyncFailure{OrderID: o.ID, Stage: se.Stage, Message: detail}
	var apiErr *APIError
	if errors.As(se.Err, &apiErr) {
		f.Details = apiErr.Body
	}
	if rerr := s.Store.RecordSyncFailure(ctx, f); rerr != nil {
		logx.Event("pos", "record_failure_log", "order", o.ID, "err", rerr)
	}

	logx.Event("pos", "sync_failed", "order", o.ID, "stage", se.Stage, "err", se.Err)
	return se
}

func (s *Syncer) lease() time.Duration {
	if s.ClaimLease > 0 {
		return s.ClaimLease
	}
	return DefaultClaimLease
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func receiptNote(o *orders.Order) string {
	if o.ExternalReference == "" {
		return "Booking " + o.ID
	}
	return fmt.Sprintf("Booking %s / Bizappay %s", o.ID, o.ExternalReference)
}
