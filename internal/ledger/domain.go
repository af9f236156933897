package ledger

import (
	"errors"
	"time"
)

// AdjustmentType enumerates the direction of a stock adjustment.
type AdjustmentType string

const (
	// AdjustmentIncrease adds quantity to the SKU balance.
	AdjustmentIncrease AdjustmentType = "increase"
	// AdjustmentDecrease removes quantity from the SKU balance.
	AdjustmentDecrease AdjustmentType = "decrease"
)

// Valid reports whether t is a recognised adjustment type.
func (t AdjustmentType) Valid() bool {
	return t == AdjustmentIncrease || t == AdjustmentDecrease
}

// Reason enumerates accepted adjustment reasons.
type Reason string

const (
	ReasonDamaged        Reason = "damaged"
	ReasonExpired        Reason = "expired"
	ReasonLost           Reason = "lost"
	ReasonFound          Reason = "found"
	ReasonInventoryCount Reason = "inventory_count"
	ReasonOther          Reason = "other"
)

// Valid reports whether r is a recognised reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonDamaged, ReasonExpired, ReasonLost, ReasonFound, ReasonInventoryCount, ReasonOther:
		return true
	}
	return false
}

// Adjustment is one immutable ledger entry. PreviousStock is the SKU
// balance captured inside the write transaction, immediately before the
// adjustment was applied; it is never recomputed afterwards.
type Adjustment struct {
	ID            int64
	SKUID         int64
	Type          AdjustmentType
	Quantity      int64
	Reason        Reason
	Notes         string
	ActorID       int64
	PreviousStock int64
	CreatedAt     time.Time
}

// NewStock returns the balance this adjustment left behind.
func (a Adjustment) NewStock() int64 {
	if a.Type == AdjustmentDecrease {
		return a.PreviousStock - a.Quantity
	}
	return a.PreviousStock + a.Quantity
}

// SKUSummary is the display-ready SKU reference attached to read results.
type SKUSummary struct {
	ID   int64
	Code string
	Name string
}

// ActorSummary is the display-ready actor reference attached to read results.
type ActorSummary struct {
	ID    int64
	Name  string
	Email string
}

// Entry is an adjustment with its references resolved for presentation.
type Entry struct {
	Adjustment
	SKU   SKUSummary
	Actor ActorSummary
}

// AdjustmentInput describes one requested adjustment.
type AdjustmentInput struct {
	SKUID    int64
	Type     AdjustmentType
	Quantity int64
	Reason   Reason
	Notes    string
	ActorID  int64
}

// BulkItem names a SKU and quantity within a bulk request.
type BulkItem struct {
	SKUID    int64
	Quantity int64
}

// BulkInput applies the same type/reason/notes to every item.
type BulkInput struct {
	Items   []BulkItem
	Type    AdjustmentType
	Reason  Reason
	Notes   string
	ActorID int64
}

// BulkOutcome is the per-item result of a bulk request, positionally
// aligned with the submitted items. Exactly one of Adjustment or Err is set.
type BulkOutcome struct {
	Index      int
	Adjustment *Adjustment
	Err        error
}

// Filter narrows a ledger listing. Zero values mean "not filtered".
// From/To bound CreatedAt inclusively; Search matches SKU name or code
// case-insensitively.
type Filter struct {
	SKUID  int64
	Type   AdjustmentType
	From   time.Time
	To     time.Time
	Search string
}

// Sort names a field plus direction for listings.
type Sort struct {
	Field string
	Desc  bool
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// TypeStats summarises adjustments of one type within a range.
type TypeStats struct {
	Type          AdjustmentType `json:"type"`
	Count         int64          `json:"count"`
	TotalQuantity int64          `json:"totalQuantity"`
}

// DateRange optionally bounds a stats query, inclusive on both ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ErrSKUNotFound signals the referenced SKU does not exist.
var ErrSKUNotFound = errors.New("ledger: sku not found")

// ErrAdjustmentNotFound signals the requested ledger entry does not exist.
var ErrAdjustmentNotFound = errors.New("ledger: adjustment not found")

// ErrInvalidQuantity signals a non-positive or non-integral quantity.
var ErrInvalidQuantity = errors.New("ledger: quantity must be a positive integer")

// ErrInvalidType signals an unrecognised adjustment type.
var ErrInvalidType = errors.New("ledger: unknown adjustment type")

// ErrInvalidReason signals an unrecognised reason.
var ErrInvalidReason = errors.New("ledger: unknown adjustment reason")

// ErrInsufficientStock signals the adjustment would drive the balance negative.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// ErrInvalidSort signals an unknown sort field.
var ErrInvalidSort = errors.New("ledger: unknown sort field")

// ErrConflict signals the write lost a concurrency race after retries;
// the caller may resubmit.
var ErrConflict = errors.New("ledger: concurrent update conflict")

// ErrNotAttempted marks bulk items skipped after cancellation.
var ErrNotAttempted = errors.New("ledger: not attempted")
