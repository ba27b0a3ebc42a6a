package warehouse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/jemeelsanni/premium-g-backend-sub001/internal/shared"
)

// memoryRepo implements RepositoryPort and TxRepository over maps. WithTx
// serialises callbacks under one lock and restores a pre-transaction copy
// on error, mirroring the rollback behaviour of the real repository.
type memoryRepo struct {
	mu          sync.Mutex
	batches     map[int64]Batch
	sales       map[int64]Sale
	allocations map[int64]Allocation
	snapshots   map[string]StockSnapshot
	nextBatch   int64
	nextSale    int64
	nextAlloc   int64

	// failUnits injects a per-product failure into transactional unit
	// listing, used to prove scan isolation.
	failUnits map[int64]error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:     map[int64]Batch{},
		sales:       map[int64]Sale{},
		allocations: map[int64]Allocation{},
		snapshots:   map[string]StockSnapshot{},
		failUnits:   map[int64]error{},
	}
}

func snapKey(productID int64, unit UnitType) string {
	return fmt.Sprintf("%d:%s", productID, unit)
}

type memoryState struct {
	batches     map[int64]Batch
	sales       map[int64]Sale
	allocations map[int64]Allocation
	snapshots   map[string]StockSnapshot
	nextBatch   int64
	nextSale    int64
	nextAlloc   int64
}

func (r *memoryRepo) snapshotState() memoryState {
	return memoryState{
		batches:     maps.Clone(r.batches),
		sales:       maps.Clone(r.sales),
		allocations: maps.Clone(r.allocations),
		snapshots:   maps.Clone(r.snapshots),
		nextBatch:   r.nextBatch,
		nextSale:    r.nextSale,
		nextAlloc:   r.nextAlloc,
	}
}

func (r *memoryRepo) restoreState(s memoryState) {
	r.batches = s.batches
	r.sales = s.sales
	r.allocations = s.allocations
	r.snapshots = s.snapshots
	r.nextBatch = s.nextBatch
	r.nextSale = s.nextSale
	r.nextAlloc = s.nextAlloc
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	backup := r.snapshotState()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restoreState(backup)
		return err
	}
	return nil
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getBatchLocked(id)
}

func (r *memoryRepo) getBatchLocked(id int64) (Batch, error) {
	if b, ok := r.batches[id]; ok {
		return b, nil
	}
	return Batch{}, ErrNotFound
}

func (r *memoryRepo) ListBatches(ctx context.Context, productID int64) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fefoOrder(r.productBatchesLocked(productID)), nil
}

func (r *memoryRepo) productBatchesLocked(productID int64) []Batch {
	out := []Batch{}
	for _, b := range r.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) GetSale(ctx context.Context, id int64) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSaleLocked(id)
}

func (r *memoryRepo) getSaleLocked(id int64) (Sale, error) {
	if s, ok := r.sales[id]; ok {
		return s, nil
	}
	return Sale{}, ErrNotFound
}

func (r *memoryRepo) ListSnapshots(ctx context.Context, productID int64) ([]StockSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []StockSnapshot{}
	for _, s := range r.snapshots {
		if s.ProductID == productID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitType < out[j].UnitType })
	return out, nil
}

func (r *memoryRepo) ListUnitTypes(ctx context.Context, productID int64) ([]UnitType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listUnitTypesLocked(productID), nil
}

func (r *memoryRepo) listUnitTypesLocked(productID int64) []UnitType {
	seen := map[UnitType]bool{}
	for _, b := range r.batches {
		if b.ProductID == productID {
			seen[b.UnitType] = true
		}
	}
	for _, s := range r.snapshots {
		if s.ProductID == productID {
			seen[s.UnitType] = true
		}
	}
	units := make([]UnitType, 0, len(seen))
	for u := range seen {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units
}

func (r *memoryRepo) CountBatches(ctx context.Context, productID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.productBatchesLocked(productID))), nil
}

func (r *memoryRepo) SumBatchSold(ctx context.Context, productID int64, unit UnitType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, b := range r.batches {
		if b.ProductID == productID && b.UnitType == unit {
			total += b.QuantitySold
		}
	}
	return total, nil
}

func (r *memoryRepo) SumSales(ctx context.Context, productID int64, unit UnitType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumSalesLocked(productID, unit), nil
}

func (r *memoryRepo) sumSalesLocked(productID int64, unit UnitType) int64 {
	var total int64
	for _, s := range r.sales {
		if s.ProductID == productID && s.UnitType == unit {
			total += s.Quantity
		}
	}
	return total
}

func (r *memoryRepo) SumEligibleRemaining(ctx context.Context, productID int64, unit UnitType, statuses []BatchStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumEligibleRemainingLocked(productID, unit, statuses), nil
}

func (r *memoryRepo) sumEligibleRemainingLocked(productID int64, unit UnitType, statuses []BatchStatus) int64 {
	var total int64
	for _, b := range r.batches {
		if b.ProductID == productID && b.UnitType == unit && statusIn(b.Status, statuses) {
			total += b.QuantityRemaining
		}
	}
	return total
}

func (r *memoryRepo) SumEligibleQuantityBefore(ctx context.Context, productID int64, unit UnitType, cutoff time.Time, statuses []BatchStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, b := range r.batches {
		if b.ProductID == productID && b.UnitType == unit && b.PurchaseDate.Before(cutoff) && statusIn(b.Status, statuses) {
			total += b.Quantity
		}
	}
	return total, nil
}

func (r *memoryRepo) SumSalesBefore(ctx context.Context, productID int64, unit UnitType, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, s := range r.sales {
		if s.ProductID == productID && s.UnitType == unit && s.CreatedAt.Before(cutoff) {
			total += s.Quantity
		}
	}
	return total, nil
}

func (r *memoryRepo) ListExpiryOverdueProducts(ctx context.Context, now time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int64]bool{}
	for _, b := range r.batches {
		if b.Status == BatchActive && b.ExpiredAt(now) && b.QuantityRemaining > 0 {
			seen[b.ProductID] = true
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) BatchCounterViolations(ctx context.Context) ([]CounterViolation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []CounterViolation{}
	for _, b := range r.batches {
		if b.Quantity != b.QuantitySold+b.QuantityRemaining || b.Quantity < 0 || b.QuantitySold < 0 || b.QuantityRemaining < 0 {
			out = append(out, CounterViolation{
				BatchID:           b.ID,
				ProductID:         b.ProductID,
				Quantity:          b.Quantity,
				QuantitySold:      b.QuantitySold,
				QuantityRemaining: b.QuantityRemaining,
				Status:            b.Status,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

func (r *memoryRepo) AllocationMismatches(ctx context.Context) ([]AllocationMismatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := map[int64]int64{}
	for _, a := range r.allocations {
		sums[a.BatchID] += a.QuantitySold
	}
	out := []AllocationMismatch{}
	for _, b := range r.batches {
		if b.QuantitySold != sums[b.ID] {
			out = append(out, AllocationMismatch{
				BatchID:       b.ID,
				ProductID:     b.ProductID,
				BatchSold:     b.QuantitySold,
				AllocationSum: sums[b.ID],
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

func (r *memoryRepo) OrphanSales(ctx context.Context) ([]OrphanSaleRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allocated := map[int64]bool{}
	for _, a := range r.allocations {
		allocated[a.SaleID] = true
	}
	out := []OrphanSaleRow{}
	for _, s := range r.sales {
		if !allocated[s.ID] {
			out = append(out, OrphanSaleRow{
				SaleID:    s.ID,
				ProductID: s.ProductID,
				Quantity:  s.Quantity,
				UnitType:  s.UnitType,
				CreatedAt: s.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaleID < out[j].SaleID })
	return out, nil
}

func (r *memoryRepo) SnapshotMismatches(ctx context.Context, statuses []BatchStatus) ([]SnapshotMismatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := map[string]int64{}
	products := map[string][2]any{}
	for _, b := range r.batches {
		if statusIn(b.Status, statuses) {
			k := snapKey(b.ProductID, b.UnitType)
			remaining[k] += b.QuantityRemaining
			products[k] = [2]any{b.ProductID, b.UnitType}
		}
	}
	for k, s := range r.snapshots {
		products[k] = [2]any{s.ProductID, s.UnitType}
	}
	out := []SnapshotMismatch{}
	for k, pu := range products {
		snapQty := r.snapshots[k].Quantity
		if snapQty != remaining[k] {
			out = append(out, SnapshotMismatch{
				ProductID:        pu[0].(int64),
				UnitType:         pu[1].(UnitType),
				SnapshotQuantity: snapQty,
				BatchRemaining:   remaining[k],
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].UnitType < out[j].UnitType
	})
	return out, nil
}

func (tx *memoryTx) ListSellableBatchesForUpdate(ctx context.Context, productID int64, unit UnitType) ([]Batch, error) {
	out := []Batch{}
	for _, b := range tx.repo.productBatchesLocked(productID) {
		if b.UnitType == unit && b.Status == BatchActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (tx *memoryTx) ListProductBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	return tx.repo.productBatchesLocked(productID), nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	return tx.repo.getBatchLocked(id)
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	tx.repo.nextBatch++
	batch.ID = tx.repo.nextBatch
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	batch.UpdatedAt = batch.CreatedAt
	tx.repo.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memoryTx) UpdateBatchCounters(ctx context.Context, id int64, sold, remaining int64, status BatchStatus) error {
	b, ok := tx.repo.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.QuantitySold = sold
	b.QuantityRemaining = remaining
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	tx.repo.batches[id] = b
	return nil
}

func (tx *memoryTx) DeleteBatch(ctx context.Context, id int64) error {
	if _, ok := tx.repo.batches[id]; !ok {
		return ErrNotFound
	}
	delete(tx.repo.batches, id)
	return nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	tx.repo.nextSale++
	sale.ID = tx.repo.nextSale
	tx.repo.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *memoryTx) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	return tx.repo.getSaleLocked(id)
}

func (tx *memoryTx) DeleteSale(ctx context.Context, id int64) error {
	if _, ok := tx.repo.sales[id]; !ok {
		return ErrNotFound
	}
	delete(tx.repo.sales, id)
	return nil
}

func (tx *memoryTx) ListSalesChronological(ctx context.Context, productID int64, unit UnitType) ([]Sale, error) {
	out := []Sale{}
	for _, s := range tx.repo.sales {
		if s.ProductID == productID && s.UnitType == unit {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *memoryTx) InsertAllocation(ctx context.Context, alloc Allocation) (int64, error) {
	tx.repo.nextAlloc++
	alloc.ID = tx.repo.nextAlloc
	if alloc.CreatedAt.IsZero() {
		alloc.CreatedAt = time.Now().UTC()
	}
	tx.repo.allocations[alloc.ID] = alloc
	return alloc.ID, nil
}

func (tx *memoryTx) ListAllocationsBySale(ctx context.Context, saleID int64) ([]Allocation, error) {
	out := []Allocation{}
	for _, a := range tx.repo.allocations {
		if a.SaleID == saleID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) DeleteAllocationsBySale(ctx context.Context, saleID int64) error {
	for id, a := range tx.repo.allocations {
		if a.SaleID == saleID {
			delete(tx.repo.allocations, id)
		}
	}
	return nil
}

func (tx *memoryTx) DeleteAllocationsByProduct(ctx context.Context, productID int64, unit UnitType) error {
	for id, a := range tx.repo.allocations {
		batch, okBatch := tx.repo.batches[a.BatchID]
		sale, okSale := tx.repo.sales[a.SaleID]
		if okBatch && batch.ProductID == productID && batch.UnitType == unit {
			delete(tx.repo.allocations, id)
			continue
		}
		if okSale && sale.ProductID == productID && sale.UnitType == unit {
			delete(tx.repo.allocations, id)
		}
	}
	return nil
}

func (tx *memoryTx) GetSnapshotForUpdate(ctx context.Context, productID int64, unit UnitType) (StockSnapshot, error) {
	if s, ok := tx.repo.snapshots[snapKey(productID, unit)]; ok {
		return s, nil
	}
	return StockSnapshot{ProductID: productID, UnitType: unit}, ErrNotFound
}

func (tx *memoryTx) UpsertSnapshot(ctx context.Context, snap StockSnapshot) error {
	snap.LastUpdated = time.Now().UTC()
	tx.repo.snapshots[snapKey(snap.ProductID, snap.UnitType)] = snap
	return nil
}

func (tx *memoryTx) ListUnitTypes(ctx context.Context, productID int64) ([]UnitType, error) {
	if err := tx.repo.failUnits[productID]; err != nil {
		return nil, err
	}
	return tx.repo.listUnitTypesLocked(productID), nil
}

func (tx *memoryTx) SumEligibleRemaining(ctx context.Context, productID int64, unit UnitType, statuses []BatchStatus) (int64, error) {
	return tx.repo.sumEligibleRemainingLocked(productID, unit, statuses), nil
}

func (tx *memoryTx) SumSales(ctx context.Context, productID int64, unit UnitType) (int64, error) {
	return tx.repo.sumSalesLocked(productID, unit), nil
}

func statusIn(status BatchStatus, statuses []BatchStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// setSnapshot writes a snapshot row directly, bypassing every invariant.
// Tests use it to simulate cache drift.
func (r *memoryRepo) setSnapshot(productID int64, unit UnitType, qty int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snapKey(productID, unit)] = StockSnapshot{
		ProductID:   productID,
		UnitType:    unit,
		Quantity:    qty,
		LastUpdated: time.Now().UTC(),
	}
}

// mutateBatch rewrites one batch directly, bypassing every invariant.
func (r *memoryRepo) mutateBatch(id int64, fn func(*Batch)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batches[id]
	fn(&b)
	r.batches[id] = b
}

// addBatchRaw inserts a batch row directly, bypassing the purchase path.
func (r *memoryRepo) addBatchRaw(b Batch) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextBatch++
	b.ID = r.nextBatch
	r.batches[b.ID] = b
	return b.ID
}

// addSaleRaw inserts a sale row directly, bypassing allocation entirely.
func (r *memoryRepo) addSaleRaw(s Sale) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSale++
	s.ID = r.nextSale
	r.sales[s.ID] = s
	return s.ID
}

// addAllocationRaw inserts an allocation row directly.
func (r *memoryRepo) addAllocationRaw(a Allocation) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextAlloc++
	a.ID = r.nextAlloc
	r.allocations[a.ID] = a
	return a.ID
}

// removeSaleRaw deletes a sale and its allocations without restoring the
// batch counters, simulating the orphaned-deduction bug.
func (r *memoryRepo) removeSaleRaw(saleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sales, saleID)
	for id, a := range r.allocations {
		if a.SaleID == saleID {
			delete(r.allocations, id)
		}
	}
}

// batch returns one batch row without error plumbing.
func (r *memoryRepo) batch(id int64) Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[id]
}

// snapshotQty returns the snapshot quantity, zero when the row is absent.
func (r *memoryRepo) snapshotQty(productID int64, unit UnitType) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[snapKey(productID, unit)].Quantity
}

// allocationsForSale returns the allocation rows of one sale in id order.
func (r *memoryRepo) allocationsForSale(saleID int64) []Allocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Allocation{}
	for _, a := range r.allocations {
		if a.SaleID == saleID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memoryAudit collects audit entries for assertions.
type memoryAudit struct {
	mu      sync.Mutex
	entries []shared.AuditEntry
}

func (a *memoryAudit) Record(ctx context.Context, entry shared.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memoryAudit) byAction(action string) []shared.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []shared.AuditEntry{}
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// staticProducts is a fixed active-product universe.
type staticProducts []int64

func (s staticProducts) ListActiveIDs(ctx context.Context) ([]int64, error) {
	return s, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
