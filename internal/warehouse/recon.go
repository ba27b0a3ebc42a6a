package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jemeelsanni/premium-g-backend-sub001/internal/shared"
)

// ProductSource lists the products reconciliation scans iterate over.
type ProductSource interface {
	ListActiveIDs(ctx context.Context) ([]int64, error)
}

// AuditPort records reconciliation corrections and repairs.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// ReconcilerConfig groups the scan and repair knobs.
type ReconcilerConfig struct {
	// SyncParallelism bounds the concurrent products in SyncAll.
	SyncParallelism int
	// RepairTimeout caps the transaction budget of one repair. The
	// effective budget starts lower and grows with the batch count.
	RepairTimeout time.Duration
}

const (
	repairBaseTimeout = 10 * time.Second
	repairPerBatch    = 100 * time.Millisecond

	defaultSyncParallelism = 4
	defaultRepairTimeout   = 60 * time.Second
)

// SyncLine reports one corrected snapshot row.
type SyncLine struct {
	UnitType UnitType `json:"unit_type"`
	Before   int64    `json:"before"`
	After    int64    `json:"after"`
	Delta    int64    `json:"delta"`
}

// SyncResult reports the outcome of one product snapshot sync.
type SyncResult struct {
	ProductID int64      `json:"product_id"`
	Corrected bool       `json:"corrected"`
	Lines     []SyncLine `json:"lines,omitempty"`
}

// ScanSummary aggregates a SyncAll pass.
type ScanSummary struct {
	Scanned   int `json:"scanned"`
	Corrected int `json:"corrected"`
	Failed    int `json:"failed"`
}

// BatchSalesLine compares batch sold counters with the sales ledger for
// one unit type.
type BatchSalesLine struct {
	UnitType    UnitType `json:"unit_type"`
	BatchSold   int64    `json:"batch_sold"`
	LedgerSold  int64    `json:"ledger_sold"`
	Discrepancy int64    `json:"discrepancy"`
}

// BatchSalesReport is the batch-vs-sales consistency result for one
// product.
type BatchSalesReport struct {
	ProductID  int64            `json:"product_id"`
	Consistent bool             `json:"consistent"`
	Lines      []BatchSalesLine `json:"lines"`
}

// RepairLine reports the rebuilt counters for one unit type.
type RepairLine struct {
	UnitType   UnitType `json:"unit_type"`
	SoldBefore int64    `json:"sold_before"`
	SoldAfter  int64    `json:"sold_after"`
	Batches    int      `json:"batches"`
}

// RepairResult reports a committed destructive repair.
type RepairResult struct {
	ProductID          int64        `json:"product_id"`
	RebuiltAllocations int          `json:"rebuilt_allocations"`
	Lines              []RepairLine `json:"lines"`
}

// ContinuityLine carries the day-over-day identity for one unit type.
type ContinuityLine struct {
	UnitType    UnitType `json:"unit_type"`
	Closing     int64    `json:"closing"`
	Opening     int64    `json:"opening"`
	Discrepancy int64    `json:"discrepancy"`
}

// ContinuityReport is the daily continuity validation result.
type ContinuityReport struct {
	ProductID  int64            `json:"product_id"`
	Date       time.Time        `json:"date"`
	Consistent bool             `json:"consistent"`
	Lines      []ContinuityLine `json:"lines"`
}

// AuditRunSummary aggregates a full audit: repairs first, then the
// snapshot scan.
type AuditRunSummary struct {
	Products     int         `json:"products"`
	Repaired     int         `json:"repaired"`
	RepairFailed int         `json:"repair_failed"`
	Sync         ScanSummary `json:"sync"`
}

// Reconciler recomputes and repairs derived stock state from ground
// truth. Two truths serve two questions and are never conflated: batches
// are authoritative for what remains right now, the sales ledger for what
// was sold in total.
type Reconciler struct {
	repo      RepositoryPort
	products  ProductSource
	audit     AuditPort
	cache     AvailabilityCachePort
	logger    *slog.Logger
	parallel  int
	repairCap time.Duration
}

// NewReconciler builds Reconciler. Audit and cache may be nil.
func NewReconciler(repo RepositoryPort, products ProductSource, audit AuditPort, cache AvailabilityCachePort, logger *slog.Logger, cfg ReconcilerConfig) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	parallel := cfg.SyncParallelism
	if parallel <= 0 {
		parallel = defaultSyncParallelism
	}
	repairCap := cfg.RepairTimeout
	if repairCap <= 0 {
		repairCap = defaultRepairTimeout
	}
	return &Reconciler{
		repo:      repo,
		products:  products,
		audit:     audit,
		cache:     cache,
		logger:    logger,
		parallel:  parallel,
		repairCap: repairCap,
	}
}

// SyncProduct recomputes the snapshot rows of one product from committed
// batch state: for every unit type, the sum of QuantityRemaining over
// batches whose status counts as stock. Differing rows are overwritten
// and audited. Idempotent; a second consecutive run changes nothing. Safe
// to run concurrently with sale traffic since only snapshot rows are
// touched.
func (r *Reconciler) SyncProduct(ctx context.Context, productID int64, triggeredBy string) (SyncResult, error) {
	if productID == 0 {
		return SyncResult{}, fmt.Errorf("%w: product required", ErrValidation)
	}
	result := SyncResult{ProductID: productID}
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result.Lines = nil
		units, err := tx.ListUnitTypes(ctx, productID)
		if err != nil {
			return err
		}
		for _, unit := range units {
			truth, err := tx.SumEligibleRemaining(ctx, productID, unit, EligibleStatuses)
			if err != nil {
				return err
			}
			snap, err := tx.GetSnapshotForUpdate(ctx, productID, unit)
			missing := errors.Is(err, ErrNotFound)
			if err != nil && !missing {
				return err
			}
			if !missing && snap.Quantity == truth {
				continue
			}
			before := snap.Quantity
			if err := tx.UpsertSnapshot(ctx, StockSnapshot{ProductID: productID, UnitType: unit, Quantity: truth}); err != nil {
				return err
			}
			if before != truth {
				result.Lines = append(result.Lines, SyncLine{UnitType: unit, Before: before, After: truth, Delta: truth - before})
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	result.Corrected = len(result.Lines) > 0
	if result.Corrected {
		r.logger.Info("snapshot drift corrected",
			"product_id", productID,
			"triggered_by", triggeredBy,
			"corrections", len(result.Lines))
		for _, line := range result.Lines {
			r.recordSyncCorrection(ctx, productID, line, triggeredBy)
		}
		r.bumpCache(ctx)
	}
	return result, nil
}

// SyncAll runs SyncProduct over every active product with bounded
// parallelism. A product's failure is logged and counted, never aborts
// the scan.
func (r *Reconciler) SyncAll(ctx context.Context, triggeredBy string) (ScanSummary, error) {
	ids, err := r.products.ListActiveIDs(ctx)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("warehouse: list active products: %w", err)
	}
	var scanned, corrected, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for _, id := range ids {
		g.Go(func() error {
			res, err := r.SyncProduct(gctx, id, triggeredBy)
			scanned.Add(1)
			if err != nil {
				failed.Add(1)
				r.logger.Error("snapshot sync failed", "product_id", id, "triggered_by", triggeredBy, "error", err)
				return nil
			}
			if res.Corrected {
				corrected.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	summary := ScanSummary{
		Scanned:   int(scanned.Load()),
		Corrected: int(corrected.Load()),
		Failed:    int(failed.Load()),
	}
	r.logger.Info("snapshot scan finished",
		"triggered_by", triggeredBy,
		"scanned", summary.Scanned,
		"corrected", summary.Corrected,
		"failed", summary.Failed)
	return summary, nil
}

// ValidateBatchSales compares total batch sold counters against the sales
// ledger per unit type. This is the only check that can see orphaned
// deductions; the snapshot sync trusts batch counters and cannot.
func (r *Reconciler) ValidateBatchSales(ctx context.Context, productID int64) (BatchSalesReport, error) {
	if productID == 0 {
		return BatchSalesReport{}, fmt.Errorf("%w: product required", ErrValidation)
	}
	units, err := r.repo.ListUnitTypes(ctx, productID)
	if err != nil {
		return BatchSalesReport{}, err
	}
	report := BatchSalesReport{ProductID: productID, Consistent: true, Lines: []BatchSalesLine{}}
	for _, unit := range units {
		batchSold, err := r.repo.SumBatchSold(ctx, productID, unit)
		if err != nil {
			return BatchSalesReport{}, err
		}
		ledger, err := r.repo.SumSales(ctx, productID, unit)
		if err != nil {
			return BatchSalesReport{}, err
		}
		line := BatchSalesLine{
			UnitType:    unit,
			BatchSold:   batchSold,
			LedgerSold:  ledger,
			Discrepancy: batchSold - ledger,
		}
		if line.Discrepancy != 0 {
			report.Consistent = false
		}
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}

// RepairBatchSales destructively rebuilds a product's batch counters and
// allocation rows from the sales ledger, which is the ground truth for
// total sold quantity. Every sale is replayed in creation order against
// the batches in FEFO order, inside one transaction holding the exclusive
// lock on all the product's batch rows; concurrent sales block behind it.
// The transaction budget grows with the batch count up to the configured
// cap. A failure rolls back the whole repair and leaves the product for
// the next scheduled scan. After commit the product is synced so the
// snapshot picks up the rebuilt counters; that order is load-bearing,
// since the sync trusts batch state.
func (r *Reconciler) RepairBatchSales(ctx context.Context, productID int64, triggeredBy string) (RepairResult, error) {
	if productID == 0 {
		return RepairResult{}, fmt.Errorf("%w: product required", ErrValidation)
	}
	batchCount, err := r.repo.CountBatches(ctx, productID)
	if err != nil {
		return RepairResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.repairBudget(batchCount))
	defer cancel()

	result := RepairResult{ProductID: productID}
	err = r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result.Lines = nil
		result.RebuiltAllocations = 0
		batches, err := tx.ListProductBatchesForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		byUnit := map[UnitType][]Batch{}
		for _, b := range batches {
			byUnit[b.UnitType] = append(byUnit[b.UnitType], b)
		}
		// The unit universe comes from the repository, not from the
		// batches alone, so a sales ledger with no batch capacity at
		// all still fails the replay instead of escaping it.
		units, err := tx.ListUnitTypes(ctx, productID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, unit := range units {
			line, rebuilt, err := r.replayUnit(ctx, tx, productID, unit, byUnit[unit], now)
			if err != nil {
				return err
			}
			if line.Batches == 0 && line.SoldBefore == 0 && line.SoldAfter == 0 {
				continue
			}
			result.Lines = append(result.Lines, line)
			result.RebuiltAllocations += rebuilt
		}
		return nil
	})
	if err != nil {
		r.logger.Error("batch repair failed", "product_id", productID, "triggered_by", triggeredBy, "error", err)
		return RepairResult{}, fmt.Errorf("warehouse: repair product %d: %w", productID, err)
	}
	for _, line := range result.Lines {
		if line.SoldBefore != line.SoldAfter {
			r.recordRepair(ctx, productID, line, triggeredBy)
		}
	}
	r.logger.Info("batch counters rebuilt",
		"product_id", productID,
		"triggered_by", triggeredBy,
		"allocations", result.RebuiltAllocations)
	if _, err := r.SyncProduct(ctx, productID, triggeredBy); err != nil {
		r.logger.Warn("post-repair snapshot sync failed", "product_id", productID, "error", err)
	}
	return result, nil
}

// replayUnit rebuilds one unit type: allocations wiped, sales replayed
// chronologically into FEFO-ordered batch capacity, counters and statuses
// rewritten from scratch.
func (r *Reconciler) replayUnit(ctx context.Context, tx TxRepository, productID int64, unit UnitType, batches []Batch, now time.Time) (RepairLine, int, error) {
	line := RepairLine{UnitType: unit, Batches: len(batches)}
	for _, b := range batches {
		line.SoldBefore += b.QuantitySold
	}
	if err := tx.DeleteAllocationsByProduct(ctx, productID, unit); err != nil {
		return RepairLine{}, 0, err
	}
	sales, err := tx.ListSalesChronological(ctx, productID, unit)
	if err != nil {
		return RepairLine{}, 0, err
	}
	ordered := fefoOrder(batches)
	sold := make([]int64, len(ordered))
	rebuilt := 0
	for _, sale := range sales {
		outstanding := sale.Quantity
		for i := range ordered {
			if outstanding == 0 {
				break
			}
			capacity := ordered[i].Quantity - sold[i]
			if capacity <= 0 {
				continue
			}
			take := min(capacity, outstanding)
			if _, err := tx.InsertAllocation(ctx, Allocation{BatchID: ordered[i].ID, SaleID: sale.ID, QuantitySold: take}); err != nil {
				return RepairLine{}, 0, err
			}
			sold[i] += take
			outstanding -= take
			rebuilt++
		}
		if outstanding > 0 {
			return RepairLine{}, 0, fmt.Errorf("%w: sales ledger exceeds batch capacity by %d for product %d (%s)", ErrRepairFailed, outstanding, productID, unit)
		}
		line.SoldAfter += sale.Quantity
	}
	for i, b := range ordered {
		remaining := b.Quantity - sold[i]
		status := BatchActive
		switch {
		case remaining == 0:
			status = BatchDepleted
		case b.ExpiredAt(now):
			status = BatchExpired
		}
		if err := tx.UpdateBatchCounters(ctx, b.ID, sold[i], remaining, status); err != nil {
			return RepairLine{}, 0, err
		}
	}
	return line, rebuilt, nil
}

// ValidateDailyContinuity verifies the accounting identity between one
// day's opening stock and the previous day's closing stock. Closing of
// day N-1 counts purchases and sales up to the end of that day; opening
// of day N counts them strictly before its start. Both reduce to the same
// boundary instant and both go through stockAsOf, so the eligibility
// predicate cannot diverge between the two sides; a non-zero discrepancy
// means exactly the class of bug this check exists to catch.
func (r *Reconciler) ValidateDailyContinuity(ctx context.Context, productID int64, day time.Time) (ContinuityReport, error) {
	if productID == 0 {
		return ContinuityReport{}, fmt.Errorf("%w: product required", ErrValidation)
	}
	boundary := day.UTC().Truncate(24 * time.Hour)
	report := ContinuityReport{ProductID: productID, Date: boundary, Consistent: true, Lines: []ContinuityLine{}}
	units, err := r.repo.ListUnitTypes(ctx, productID)
	if err != nil {
		return ContinuityReport{}, err
	}
	for _, unit := range units {
		closing, err := r.stockAsOf(ctx, productID, unit, boundary)
		if err != nil {
			return ContinuityReport{}, err
		}
		opening, err := r.stockAsOf(ctx, productID, unit, boundary)
		if err != nil {
			return ContinuityReport{}, err
		}
		line := ContinuityLine{
			UnitType:    unit,
			Closing:     closing,
			Opening:     opening,
			Discrepancy: opening - closing,
		}
		if line.Discrepancy != 0 {
			report.Consistent = false
			r.logger.Warn("daily continuity broken",
				"product_id", productID,
				"unit_type", unit,
				"date", boundary,
				"discrepancy", line.Discrepancy)
		}
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}

// stockAsOf computes on-hand stock at an instant: eligible batch quantity
// purchased before it minus sales created before it. The single
// eligibility predicate for every continuity evaluation.
func (r *Reconciler) stockAsOf(ctx context.Context, productID int64, unit UnitType, cutoff time.Time) (int64, error) {
	purchased, err := r.repo.SumEligibleQuantityBefore(ctx, productID, unit, cutoff, EligibleStatuses)
	if err != nil {
		return 0, err
	}
	sold, err := r.repo.SumSalesBefore(ctx, productID, unit, cutoff)
	if err != nil {
		return 0, err
	}
	return purchased - sold, nil
}

// FullAudit runs the ordered composition over every active product:
// batch-vs-sales validation with repair where discrepant, then the full
// snapshot scan. Repairs go first because the snapshot sync trusts batch
// counters.
func (r *Reconciler) FullAudit(ctx context.Context, triggeredBy string) (AuditRunSummary, error) {
	ids, err := r.products.ListActiveIDs(ctx)
	if err != nil {
		return AuditRunSummary{}, fmt.Errorf("warehouse: list active products: %w", err)
	}
	summary := AuditRunSummary{Products: len(ids)}
	for _, id := range ids {
		report, err := r.ValidateBatchSales(ctx, id)
		if err != nil {
			summary.RepairFailed++
			r.logger.Error("batch-sales validation failed", "product_id", id, "triggered_by", triggeredBy, "error", err)
			continue
		}
		if report.Consistent {
			continue
		}
		if _, err := r.RepairBatchSales(ctx, id, triggeredBy); err != nil {
			summary.RepairFailed++
			continue
		}
		summary.Repaired++
	}
	sync, err := r.SyncAll(ctx, triggeredBy)
	if err != nil {
		return summary, err
	}
	summary.Sync = sync
	r.logger.Info("full audit finished",
		"triggered_by", triggeredBy,
		"products", summary.Products,
		"repaired", summary.Repaired,
		"repair_failed", summary.RepairFailed,
		"corrected", sync.Corrected)
	return summary, nil
}

// ExpireOverdue flips ACTIVE batches whose expiry has passed with stock
// remaining to EXPIRED, product by product, and syncs each touched
// product so the leftover quantity stops counting as stock.
func (r *Reconciler) ExpireOverdue(ctx context.Context, triggeredBy string) (int, error) {
	now := time.Now().UTC()
	ids, err := r.repo.ListExpiryOverdueProducts(ctx, now)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := r.expireProduct(ctx, id, now)
		if err != nil {
			r.logger.Error("expiry sweep failed", "product_id", id, "triggered_by", triggeredBy, "error", err)
			continue
		}
		total += n
		if n == 0 {
			continue
		}
		if _, err := r.SyncProduct(ctx, id, triggeredBy); err != nil {
			r.logger.Warn("post-expiry snapshot sync failed", "product_id", id, "error", err)
		}
	}
	if total > 0 {
		r.logger.Info("batches expired", "count", total, "triggered_by", triggeredBy)
	}
	return total, nil
}

func (r *Reconciler) expireProduct(ctx context.Context, productID int64, now time.Time) (int, error) {
	n := 0
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n = 0
		batches, err := tx.ListProductBatchesForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		for _, b := range batches {
			if b.Status != BatchActive || !b.ExpiredAt(now) || b.QuantityRemaining <= 0 {
				continue
			}
			if err := tx.UpdateBatchCounters(ctx, b.ID, b.QuantitySold, b.QuantityRemaining, BatchExpired); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Reconciler) repairBudget(batchCount int64) time.Duration {
	budget := repairBaseTimeout + time.Duration(batchCount)*repairPerBatch
	if budget > r.repairCap {
		return r.repairCap
	}
	return budget
}

func (r *Reconciler) recordSyncCorrection(ctx context.Context, productID int64, line SyncLine, triggeredBy string) {
	if r.audit == nil {
		return
	}
	entry := shared.AuditEntry{
		Entity:   "stock_snapshot",
		EntityID: productID,
		Action:   "reconcile.sync",
		OldValues: map[string]any{
			"unit_type": string(line.UnitType),
			"quantity":  line.Before,
		},
		NewValues: map[string]any{
			"unit_type": string(line.UnitType),
			"quantity":  line.After,
			"delta":     line.Delta,
		},
		TriggeredBy: triggeredBy,
	}
	if err := r.audit.Record(ctx, entry); err != nil {
		r.logger.Warn("audit record failed", "entity", "stock_snapshot", "product_id", productID, "error", err)
	}
}

func (r *Reconciler) recordRepair(ctx context.Context, productID int64, line RepairLine, triggeredBy string) {
	if r.audit == nil {
		return
	}
	entry := shared.AuditEntry{
		Entity:   "stock_batch",
		EntityID: productID,
		Action:   "reconcile.repair",
		OldValues: map[string]any{
			"unit_type":     string(line.UnitType),
			"quantity_sold": line.SoldBefore,
		},
		NewValues: map[string]any{
			"unit_type":     string(line.UnitType),
			"quantity_sold": line.SoldAfter,
			"batches":       line.Batches,
		},
		TriggeredBy: triggeredBy,
	}
	if err := r.audit.Record(ctx, entry); err != nil {
		r.logger.Warn("audit record failed", "entity", "stock_batch", "product_id", productID, "error", err)
	}
}

func (r *Reconciler) bumpCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Bump(ctx); err != nil {
		r.logger.Warn("availability cache bump failed", "error", err)
	}
}
