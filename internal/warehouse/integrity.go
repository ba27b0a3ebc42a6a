package warehouse

import (
	"context"
	"log/slog"
	"time"
)

// CounterViolation flags a batch whose counters break the identity
// Quantity == QuantitySold + QuantityRemaining, or carry negatives.
type CounterViolation struct {
	BatchID           int64       `json:"batch_id"`
	ProductID         int64       `json:"product_id"`
	Quantity          int64       `json:"quantity"`
	QuantitySold      int64       `json:"quantity_sold"`
	QuantityRemaining int64       `json:"quantity_remaining"`
	Status            BatchStatus `json:"status"`
}

// AllocationMismatch flags a batch whose allocation rows do not sum to
// its sold counter.
type AllocationMismatch struct {
	BatchID       int64 `json:"batch_id"`
	ProductID     int64 `json:"product_id"`
	BatchSold     int64 `json:"batch_sold"`
	AllocationSum int64 `json:"allocation_sum"`
}

// OrphanSaleRow flags a sale that has no allocation at all.
type OrphanSaleRow struct {
	SaleID    int64     `json:"sale_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	UnitType  UnitType  `json:"unit_type"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotMismatch flags a snapshot row that differs from the eligible
// batch remaining sum for its product and unit type.
type SnapshotMismatch struct {
	ProductID        int64    `json:"product_id"`
	UnitType         UnitType `json:"unit_type"`
	SnapshotQuantity int64    `json:"snapshot_quantity"`
	BatchRemaining   int64    `json:"batch_remaining"`
}

// IntegrityReport groups every violation found by the sweep, by check.
type IntegrityReport struct {
	CheckedAt            time.Time            `json:"checked_at"`
	CounterViolations    []CounterViolation   `json:"counter_violations"`
	AllocationMismatches []AllocationMismatch `json:"allocation_mismatches"`
	OrphanSales          []OrphanSaleRow      `json:"orphan_sales"`
	SnapshotMismatches   []SnapshotMismatch   `json:"snapshot_mismatches"`
}

// Total counts all violations across checks.
func (r IntegrityReport) Total() int {
	return len(r.CounterViolations) + len(r.AllocationMismatches) + len(r.OrphanSales) + len(r.SnapshotMismatches)
}

// Clean reports whether the sweep found nothing.
func (r IntegrityReport) Clean() bool {
	return r.Total() == 0
}

// IntegrityValidator runs the read-only diagnostic sweep across all
// consistency rules. It never mutates state; callers decide whether a
// dirty report warrants a full audit.
type IntegrityValidator struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewIntegrityValidator builds IntegrityValidator.
func NewIntegrityValidator(repo RepositoryPort, logger *slog.Logger) *IntegrityValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityValidator{repo: repo, logger: logger}
}

// Run executes the four checks: batch counter identity, allocation sums
// per batch, orphan sales, and snapshot-vs-batch totals.
func (v *IntegrityValidator) Run(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: time.Now().UTC()}
	var err error
	if report.CounterViolations, err = v.repo.BatchCounterViolations(ctx); err != nil {
		return IntegrityReport{}, err
	}
	if report.AllocationMismatches, err = v.repo.AllocationMismatches(ctx); err != nil {
		return IntegrityReport{}, err
	}
	if report.OrphanSales, err = v.repo.OrphanSales(ctx); err != nil {
		return IntegrityReport{}, err
	}
	if report.SnapshotMismatches, err = v.repo.SnapshotMismatches(ctx, EligibleStatuses); err != nil {
		return IntegrityReport{}, err
	}
	if !report.Clean() {
		v.logger.Warn("integrity sweep found violations",
			"counter", len(report.CounterViolations),
			"allocation", len(report.AllocationMismatches),
			"orphan_sales", len(report.OrphanSales),
			"snapshot", len(report.SnapshotMismatches))
	}
	return report, nil
}
