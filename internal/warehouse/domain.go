package warehouse

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UnitType enumerates the packaging units a product is stocked in.
type UnitType string

const (
	// UnitPacks is the default wholesale packaging unit.
	UnitPacks UnitType = "PACKS"
	// UnitUnits is the single retail unit.
	UnitUnits UnitType = "UNITS"
)

// Valid reports whether the unit type is one of the known values.
func (u UnitType) Valid() bool {
	return u == UnitPacks || u == UnitUnits
}

// BatchStatus enumerates the lifecycle states of a stock batch.
type BatchStatus string

const (
	// BatchActive means the batch still has sellable stock.
	BatchActive BatchStatus = "ACTIVE"
	// BatchDepleted means the batch sold out; kept for history and audits.
	BatchDepleted BatchStatus = "DEPLETED"
	// BatchExpired means expiry passed with stock remaining; the leftover
	// quantity no longer counts as stock anywhere.
	BatchExpired BatchStatus = "EXPIRED"
)

// CountsAsStock reports whether batches in this status contribute to
// snapshot and continuity totals. Snapshot sync, continuity validation,
// repair, and integrity checks must all go through this one predicate.
func (s BatchStatus) CountsAsStock() bool {
	return s == BatchActive || s == BatchDepleted
}

// EligibleStatuses lists the statuses satisfying CountsAsStock, in the
// order repositories bind them into queries.
var EligibleStatuses = []BatchStatus{BatchActive, BatchDepleted}

// Batch is a discrete received quantity of a product with its own
// sold/remaining counters and expiry. Counters always satisfy
// Quantity == QuantitySold + QuantityRemaining with both parts >= 0.
type Batch struct {
	ID                int64
	ProductID         int64
	Quantity          int64
	QuantitySold      int64
	QuantityRemaining int64
	UnitType          UnitType
	Status            BatchStatus
	UnitCost          decimal.Decimal
	Reference         string
	PurchaseDate      time.Time
	ExpiryDate        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExpiredAt reports whether the batch expiry has passed at the given time.
func (b Batch) ExpiredAt(now time.Time) bool {
	return !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(now)
}

// Sellable reports whether the allocator may draw from the batch at the
// given time. Checked again on the in-transaction re-read, never trusted
// from an earlier candidate query.
func (b Batch) Sellable(now time.Time) bool {
	return b.Status == BatchActive && b.QuantityRemaining > 0 && !b.ExpiredAt(now)
}

// Sale is the authoritative ledger entry for stock that left the
// warehouse, independent of how it was allocated to batches. Immutable
// once allocations exist, except through the reversal path.
type Sale struct {
	ID        int64
	ProductID int64
	Quantity  int64
	UnitType  UnitType
	Reference string
	CreatedAt time.Time
}

// Allocation links a sale to one batch it drew from.
type Allocation struct {
	ID           int64
	BatchID      int64
	SaleID       int64
	QuantitySold int64
	CreatedAt    time.Time
}

// StockSnapshot is the denormalized per-product/unit cache of remaining
// stock used by fast reads. Derived only; after a sync it equals the sum
// of QuantityRemaining over batches whose status counts as stock.
type StockSnapshot struct {
	ProductID   int64
	UnitType    UnitType
	Quantity    int64
	LastUpdated time.Time
}

// CreateSaleInput describes a sale request from collaborators.
type CreateSaleInput struct {
	ProductID      int64
	Quantity       int64
	UnitType       UnitType
	Reference      string
	ActorID        int64
	IdempotencyKey string
}

// RecordPurchaseInput describes a received purchase batch.
type RecordPurchaseInput struct {
	ProductID      int64
	Quantity       int64
	UnitType       UnitType
	UnitCost       decimal.Decimal
	Reference      string
	PurchaseDate   time.Time
	ExpiryDate     time.Time
	ActorID        int64
	IdempotencyKey string
}

// SaleResult reports a committed sale together with its allocations.
type SaleResult struct {
	Sale        Sale
	Allocations []Allocation
}

// AvailabilityLine summarises one unit type of a product for read paths.
type AvailabilityLine struct {
	UnitType    UnitType        `json:"unit_type"`
	Quantity    int64           `json:"quantity"`
	BatchCount  int             `json:"batch_count"`
	NextExpiry  *time.Time      `json:"next_expiry,omitempty"`
	StockValue  decimal.Decimal `json:"stock_value"`
	LastUpdated time.Time       `json:"last_updated"`
}

// AvailabilityView is the cached read model served to collaborators.
type AvailabilityView struct {
	ProductID   int64              `json:"product_id"`
	Lines       []AvailabilityLine `json:"lines"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ErrNotFound indicates a missing batch, sale, or snapshot row.
var ErrNotFound = errors.New("warehouse: not found")

// ErrValidation indicates rejected input before any write happened.
var ErrValidation = errors.New("warehouse: validation failed")

// ErrInsufficientStock indicates FEFO allocation could not cover the
// requested quantity. Use errors.As for the quantities involved.
var ErrInsufficientStock = errors.New("warehouse: insufficient stock")

// ErrBatchConsumed indicates a purchase delete was refused because the
// batch already has recorded sales.
var ErrBatchConsumed = errors.New("warehouse: batch has recorded sales")

// ErrRepairFailed indicates a destructive repair rolled back because the
// sales ledger could not be replayed into the available batch capacity.
var ErrRepairFailed = errors.New("warehouse: repair failed")

// InsufficientStockError carries the shortfall detail for a failed
// allocation. It matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ProductID int64
	UnitType  UnitType
	Requested int64
	Available int64
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("warehouse: insufficient stock for product %d (%s): requested %d, available %d",
		e.ProductID, e.UnitType, e.Requested, e.Available)
}

// Unwrap links the typed error to the ErrInsufficientStock sentinel.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
