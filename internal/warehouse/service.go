package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jemeelsanni/premium-g-backend-sub001/internal/shared"
)

// AvailabilityCachePort abstracts the read cache in front of the
// snapshot-backed availability view. Implementations must degrade to the
// loader when the cache backend is unavailable.
type AvailabilityCachePort interface {
	Fetch(ctx context.Context, productID int64, load func(context.Context) (AvailabilityView, error)) (AvailabilityView, error)
	Bump(ctx context.Context) error
}

/// Service coordinates the mutating stock operations: sales drawn from
// batches FEFO, purchases creating batches, and their reversal paths.
// Every mutation commits atomically and then pushes the product through
// a snapshot sync.
type Service struct {
	repo        RepositoryPort
	recon       *Reconciler
	idempotency *shared.IdempotencyStore
	cache       AvailabilityCachePort
	logger      *slog.Logger
}

// NewService builds Service. The reconciler, idempotency store, and cache
// may be nil; the corresponding steps are skipped.
func NewService(repo RepositoryPort, recon *Reconciler, idem *shared.IdempotencyStore, cache AvailabilityCachePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, recon: recon, idempotency: idem, cache: cache, logger: logger}
}

// CreateSale records a sale and allocates it across batches
// first-expired-first-out. Sale row, batch counter updates, allocation
// rows, and the snapshot decrement commit in one transaction; on any
// failure nothing is visible. Fails with InsufficientStockError when the
// sellable batches cannot cover the quantity.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (SaleResult, error) {
	if input.ProductID == 0 {
		return SaleResult{}, fmt.Errorf("%w: product required", ErrValidation)
	}
	if input.Quantity <= 0 {
		return SaleResult{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !input.UnitType.Valid() {
		return SaleResult{}, fmt.Errorf("%w: unknown unit type %q", ErrValidation, input.UnitType)
	}
	if input.Reference != "" {
		if _, err := uuid.Parse(input.Reference); err != nil {
			return SaleResult{}, fmt.Errorf("%w: invalid reference: %v", ErrValidation, err)
		}
	}

	key, insertedKey, err := s.claimKey(ctx, "sale", input.IdempotencyKey)
	if err != nil {
		return SaleResult{}, err
	}

	now := time.Now().UTC()
	var result SaleResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		candidates, err := tx.ListSellableBatchesForUpdate(ctx, input.ProductID, input.UnitType)
		if err != nil {
			return err
		}
		lines, shortfall := planFEFO(candidates, input.Quantity, now)
		if shortfall > 0 {
			return &InsufficientStockError{
				ProductID: input.ProductID,
				UnitType:  input.UnitType,
				Requested: input.Quantity,
				Available: input.Quantity - shortfall,
			}
		}
		sale := Sale{
			ProductID: input.ProductID,
			Quantity:  input.Quantity,
			UnitType:  input.UnitType,
			Reference: input.Reference,
			CreatedAt: now,
		}
		saleID, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = saleID
		allocs := make([]Allocation, 0, len(lines))
		for _, line := range lines {
			sold, remaining, status := drawnCounters(line.Batch, line.Quantity)
			if err := tx.UpdateBatchCounters(ctx, line.Batch.ID, sold, remaining, status); err != nil {
				return err
			}
			alloc := Allocation{BatchID: line.Batch.ID, SaleID: saleID, QuantitySold: line.Quantity}
			allocID, err := tx.InsertAllocation(ctx, alloc)
			if err != nil {
				return err
			}
			alloc.ID = allocID
			allocs = append(allocs, alloc)
		}
		if err := adjustSnapshot(ctx, tx, input.ProductID, input.UnitType, -input.Quantity); err != nil {
			return err
		}
		result = SaleResult{Sale: sale, Allocations: allocs}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return SaleResult{}, err
	}
	s.logger.Info("sale recorded",
		"sale_id", result.Sale.ID,
		"product_id", input.ProductID,
		"unit_type", input.UnitType,
		"quantity", input.Quantity,
		"batches", len(result.Allocations),
		"actor_id", input.ActorID)
	s.afterMutation(ctx, input.ProductID, "sale:create")
	return result, nil
}

// DeleteSale reverses a sale: batch counters are restored, allocation
// rows and the sale row removed, and the snapshot incremented, all in one
// transaction.
func (s *Service) DeleteSale(ctx context.Context, saleID, actorID int64) error {
	if saleID == 0 {
		return fmt.Errorf("%w: sale id required", ErrValidation)
	}
	now := time.Now().UTC()
	var productID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		productID = sale.ProductID
		allocs, err := tx.ListAllocationsBySale(ctx, saleID)
		if err != nil {
			return err
		}
		// Lock batches in id order, same as the allocation path.
		sort.Slice(allocs, func(i, j int) bool { return allocs[i].BatchID < allocs[j].BatchID })
		for _, alloc := range allocs {
			batch, err := tx.GetBatchForUpdate(ctx, alloc.BatchID)
			if err != nil {
				return err
			}
			sold, remaining, status := restoredCounters(batch, alloc.QuantitySold, now)
			if sold < 0 || remaining > batch.Quantity {
				return fmt.Errorf("warehouse: allocation %d no longer fits batch %d counters", alloc.ID, batch.ID)
			}
			if err := tx.UpdateBatchCounters(ctx, batch.ID, sold, remaining, status); err != nil {
				return err
			}
		}
		if err := tx.DeleteAllocationsBySale(ctx, saleID); err != nil {
			return err
		}
		if err := tx.DeleteSale(ctx, saleID); err != nil {
			return err
		}
		return adjustSnapshot(ctx, tx, sale.ProductID, sale.UnitType, sale.Quantity)
	})
	if err != nil {
		return err
	}
	s.logger.Info("sale reversed", "sale_id", saleID, "product_id", productID, "actor_id", actorID)
	s.afterMutation(ctx, productID, "sale:delete")
	return nil
}

// RecordPurchase creates an ACTIVE batch for a received purchase and
// increments the snapshot in the same transaction.
func (s *Service) RecordPurchase(ctx context.Context, input RecordPurchaseInput) (Batch, error) {
	if input.ProductID == 0 {
		return Batch{}, fmt.Errorf("%w: product required", ErrValidation)
	}
	if input.Quantity <= 0 {
		return Batch{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !input.UnitType.Valid() {
		return Batch{}, fmt.Errorf("%w: unknown unit type %q", ErrValidation, input.UnitType)
	}
	if input.UnitCost.IsNegative() {
		return Batch{}, fmt.Errorf("%w: unit cost must be >= 0", ErrValidation)
	}
	if input.Reference != "" {
		if _, err := uuid.Parse(input.Reference); err != nil {
			return Batch{}, fmt.Errorf("%w: invalid reference: %v", ErrValidation, err)
		}
	}
	now := time.Now().UTC()
	purchaseDate := input.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = now
	}
	if input.ExpiryDate.IsZero() {
		return Batch{}, fmt.Errorf("%w: expiry date required", ErrValidation)
	}
	if !input.ExpiryDate.After(purchaseDate) {
		return Batch{}, fmt.Errorf("%w: expiry date must be after purchase date", ErrValidation)
	}

	key, insertedKey, err := s.claimKey(ctx, "purchase", input.IdempotencyKey)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{
		ProductID:         input.ProductID,
		Quantity:          input.Quantity,
		QuantitySold:      0,
		QuantityRemaining: input.Quantity,
		UnitType:          input.UnitType,
		Status:            BatchActive,
		UnitCost:          input.UnitCost,
		Reference:         input.Reference,
		PurchaseDate:      purchaseDate,
		ExpiryDate:        input.ExpiryDate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		return adjustSnapshot(ctx, tx, input.ProductID, input.UnitType, input.Quantity)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Batch{}, err
	}
	s.logger.Info("purchase recorded",
		"batch_id", batch.ID,
		"product_id", input.ProductID,
		"unit_type", input.UnitType,
		"quantity", input.Quantity,
		"expiry_date", input.ExpiryDate,
		"actor_id", input.ActorID)
	s.afterMutation(ctx, input.ProductID, "purchase:create")
	return batch, nil
}

// DeletePurchase removes a batch that has not been sold from. Batches
// with recorded sales are never deleted; reverse the sales first.
func (s *Service) DeletePurchase(ctx context.Context, batchID, actorID int64) error {
	if batchID == 0 {
		return fmt.Errorf("%w: batch id required", ErrValidation)
	}
	var productID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.QuantitySold > 0 {
			return fmt.Errorf("%w: batch %d sold %d", ErrBatchConsumed, batchID, batch.QuantitySold)
		}
		productID = batch.ProductID
		if err := tx.DeleteBatch(ctx, batchID); err != nil {
			return err
		}
		delta := int64(0)
		if batch.Status.CountsAsStock() {
			delta = -batch.QuantityRemaining
		}
		if delta == 0 {
			return nil
		}
		return adjustSnapshot(ctx, tx, batch.ProductID, batch.UnitType, delta)
	})
	if err != nil {
		return err
	}
	s.logger.Info("purchase deleted", "batch_id", batchID, "product_id", productID, "actor_id", actorID)
	s.afterMutation(ctx, productID, "purchase:delete")
	return nil
}

// Availability serves the cached per-unit read model for one product.
func (s *Service) Availability(ctx context.Context, productID int64) (AvailabilityView, error) {
	if productID == 0 {
		return AvailabilityView{}, fmt.Errorf("%w: product required", ErrValidation)
	}
	if s.cache == nil {
		return s.loadAvailability(ctx, productID)
	}
	return s.cache.Fetch(ctx, productID, func(ctx context.Context) (AvailabilityView, error) {
		return s.loadAvailability(ctx, productID)
	})
}

// GetBatch returns one batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches returns all batches of a product in FEFO order.
func (s *Service) ListBatches(ctx context.Context, productID int64) ([]Batch, error) {
	return s.repo.ListBatches(ctx, productID)
}

// GetSale returns one sale.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *Service) loadAvailability(ctx context.Context, productID int64) (AvailabilityView, error) {
	snaps, err := s.repo.ListSnapshots(ctx, productID)
	if err != nil {
		return AvailabilityView{}, err
	}
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return AvailabilityView{}, err
	}
	now := time.Now().UTC()
	lines := map[UnitType]*AvailabilityLine{}
	order := []UnitType{}
	for _, snap := range snaps {
		lines[snap.UnitType] = &AvailabilityLine{
			UnitType:    snap.UnitType,
			Quantity:    snap.Quantity,
			LastUpdated: snap.LastUpdated,
		}
		order = append(order, snap.UnitType)
	}
	for _, batch := range batches {
		line, ok := lines[batch.UnitType]
		if !ok {
			line = &AvailabilityLine{UnitType: batch.UnitType}
			lines[batch.UnitType] = line
			order = append(order, batch.UnitType)
		}
		if !batch.Status.CountsAsStock() {
			continue
		}
		line.StockValue = line.StockValue.Add(batch.UnitCost.Mul(decimal.NewFromInt(batch.QuantityRemaining)))
		if batch.Sellable(now) {
			line.BatchCount++
			if line.NextExpiry == nil || batch.ExpiryDate.Before(*line.NextExpiry) {
				expiry := batch.ExpiryDate
				line.NextExpiry = &expiry
			}
		}
	}
	view := AvailabilityView{ProductID: productID, GeneratedAt: now}
	for _, unit := range order {
		view.Lines = append(view.Lines, *lines[unit])
	}
	return view, nil
}

func (s *Service) claimKey(ctx context.Context, op, key string) (string, bool, error) {
	if s.idempotency == nil || key == "" {
		return "", false, nil
	}
	full := fmt.Sprintf("%s:%s", op, key)
	if err := s.idempotency.CheckAndInsert(ctx, full, "warehouse"); err != nil {
		return "", false, err
	}
	return full, true, nil
}

// afterMutation runs the synchronous post-commit steps shared by every
// mutating operation: snapshot sync for the product, then a cache bump.
// The mutation already committed, so failures here are logged and left to
// the scheduled scans.
func (s *Service) afterMutation(ctx context.Context, productID int64, trigger string) {
	if s.recon != nil {
		if _, err := s.recon.SyncProduct(ctx, productID, trigger); err != nil {
			s.logger.Warn("post-commit snapshot sync failed", "product_id", productID, "trigger", trigger, "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("availability cache bump failed", "error", err)
		}
	}
}

// adjustSnapshot applies a delta to the snapshot row inside the mutation
// transaction. Deliberately a delta, not a recompute: pre-existing drift
// stays visible for the post-commit sync to detect, correct, and audit.
func adjustSnapshot(ctx context.Context, tx TxRepository, productID int64, unit UnitType, delta int64) error {
	snap, err := tx.GetSnapshotForUpdate(ctx, productID, unit)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		snap = StockSnapshot{ProductID: productID, UnitType: unit}
	}
	snap.Quantity += delta
	snap.LastUpdated = time.Now().UTC()
	return tx.UpsertSnapshot(ctx, snap)
}
