package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jemeelsanni/premium-g-backend-sub001/internal/platform/db"
)

// RepositoryPort abstracts the read surface and transaction entry point
// shared by the service, the reconciler, and the integrity validator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, productID int64) ([]Batch, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSnapshots(ctx context.Context, productID int64) ([]StockSnapshot, error)
	ListUnitTypes(ctx context.Context, productID int64) ([]UnitType, error)
	CountBatches(ctx context.Context, productID int64) (int64, error)
	SumBatchSold(ctx context.Context, productID int64, unit UnitType) (int64, error)
	SumSales(ctx context.Context, productID int64, unit UnitType) (int64, error)
	SumEligibleRemaining(ctx context.Context, productID int64, unit UnitType, statuses []BatchStatus) (int64, error)
	SumEligibleQuantityBefore(ctx context.Context, productID int64, unit UnitType, cutoff time.Time, statuses []BatchStatus) (int64, error)
	SumSalesBefore(ctx context.Context, productID int64, unit UnitType, cutoff time.Time) (int64, error)
	ListExpiryOverdueProducts(ctx context.Context, now time.Time) ([]int64, error)

	BatchCounterViolations(ctx context.Context) ([]CounterViolation, error)
	AllocationMismatches(ctx context.Context) ([]AllocationMismatch, error)
	OrphanSales(ctx context.Context) ([]OrphanSaleRow, error)
	SnapshotMismatches(ctx context.Context, statuses []BatchStatus) ([]SnapshotMismatch, error)
}

// TxRepository exposes the mutating operations available inside a
// transaction. Every counter read that precedes a write happens here,
// under FOR UPDATE, never on a pre-transaction snapshot.
type TxRepository interface {
	ListSellableBatchesForUpdate(ctx context.Context, productID int64, unit UnitType) ([]Batch, error)
	ListProductBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	UpdateBatchCounters(ctx context.Context, id int64, sold, remaining int64, status BatchStatus) error
	DeleteBatch(ctx context.Context, id int64) error

	InsertSale(ctx context.Context, sale Sale) (int64, error)
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	DeleteSale(ctx context.Context, id int64) error
	ListSalesChronological(ctx context.Context, productID int64, unit UnitType) ([]Sale, error)

	InsertAllocation(ctx context.Context, alloc Allocation) (int64, error)
	ListAllocationsBySale(ctx context.Context, saleID int64) ([]Allocation, error)
	DeleteAllocationsBySale(ctx context.Context, saleID int64) error
	DeleteAllocationsByProduct(ctx context.Context, productID int64, unit UnitType) error

	GetSnapshotForUpdate(ctx context.Context, productID int64, unit UnitType) (StockSnapshot, error)
	UpsertSnapshot(ctx context.Context, snap StockSnapshot) error
	ListUnitTypes(ctx context.Context, productID int64) ([]UnitType, error)
	SumEligibleRemaining(ctx context.Context, productID int64, unit UnitType, statuses []BatchStatus) (int64, error)
	SumSales(ctx context.Context, productID int64, unit UnitType) (int64, error)
}

// Repository persists warehouse stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx so read queries
// are written once and served inside and outside transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("warehouse repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return getBatch(ctx, r.pool, id, "")
}

func (r *Repository) ListBatches(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, quantity, quantity_sold, quantity_remaining, unit_type, status, unit_cost, reference, purchase_date, expiry_date, created_at, updated_at
FROM stock_batches
WHERE product_id=$1
ORDER BY expiry_date ASC, purchase_date ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}

func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	return getSale(ctx, r.pool, id, "")
}

func (r *Repository) ListSnapshots(ctx context.Context, productID int64) ([]StockSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, unit_type, quantity, last_updated
FROM stock_snapshots
WHERE product_id=$1
ORDER BY unit_type ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	snaps := []StockSnapshot{}
	for rows.Next() {
		var snap StockSnapshot
		if err := rows.Scan(&snap.ProductID, &snap.UnitType, &snap.Quantity, &snap.LastUpdated); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (r *Repository) ListUnitTypes(ctx context.Context, productID int64) ([]UnitType, error) {
	return listUnitTypes(ctx, r.pool, productID)
}

func (r *Repository) CountBatches(ctx context.Context, productID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_batches WHERE product_id=$1`, productID).Scan(&n)
	return n, err
}

func (r *Repository) SumBatchSold(ctx context.Context, productID int64, unit UnitType) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_sold), 0) FROM stock_batches WHERE product_id=$1 AND unit_type=$2`,
		productID, string(unit)).Scan(&total)
	return total, err
}

func (r *Repository) SumSales(ctx context.Context, productID int64, unit UnitType) (int64, error) {
	return sumSales(ctx, r.pool, productID, unit)
}

func (r *Repository) SumEligibleRemaining(ctx context.Context, productID int64, unit UnitType, statuses []BatchStatus) (int64, error) {
	return sumEligibleRemaining(ctx, r.pool, productID, unit, statuses)
}

func (r *Repository) SumEligibleQuantityBefore(ctx context.Context, productID int64, unit UnitType, cutoff time.Time, statuses []BatchStatus) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_batches
WHERE product_id=$1 AND unit_type=$2 AND purchase_date < $3 AND status = ANY($4)`,
		productID, string(unit), cutoff, statusList(statuses)).Scan(&total)
	return total, err
}

func (r *Repository) SumSalesBefore(ctx context.Context, productID int64, unit UnitType, cutoff time.Time) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_sales
WHERE product_id=$1 AND unit_type=$2 AND created_at < $3`,
		productID, string(unit), cutoff).Scan(&total)
	return total, err
}

func (r *Repository) ListExpiryOverdueProducts(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_id FROM stock_batches
WHERE status=$1 AND expiry_date < $2 AND quantity_remaining > 0
ORDER BY product_id ASC`, string(BatchActive), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) BatchCounterViolations(ctx context.Context) ([]CounterViolation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, quantity, quantity_sold, quantity_remaining, status
FROM stock_batches
WHERE quantity <> quantity_sold + quantity_remaining
   OR quantity < 0 OR quantity_sold < 0 OR quantity_remaining < 0
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CounterViolation{}
	for rows.Next() {
		var v CounterViolation
		if err := rows.Scan(&v.BatchID, &v.ProductID, &v.Quantity, &v.QuantitySold, &v.QuantityRemaining, &v.Status); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repository) AllocationMismatches(ctx context.Context) ([]AllocationMismatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.product_id, b.quantity_sold, COALESCE(a.total, 0)
FROM stock_batches b
LEFT JOIN (
    SELECT batch_id, SUM(quantity_sold) AS total FROM stock_allocations GROUP BY batch_id
) a ON a.batch_id = b.id
WHERE b.quantity_sold <> COALESCE(a.total, 0)
ORDER BY b.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AllocationMismatch{}
	for rows.Next() {
		var m AllocationMismatch
		if err := rows.Scan(&m.BatchID, &m.ProductID, &m.BatchSold, &m.AllocationSum); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) OrphanSales(ctx context.Context) ([]OrphanSaleRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.product_id, s.quantity, s.unit_type, s.created_at
FROM stock_sales s
LEFT JOIN stock_allocations a ON a.sale_id = s.id
WHERE a.id IS NULL
ORDER BY s.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []OrphanSaleRow{}
	for rows.Next() {
		var o OrphanSaleRow
		if err := rows.Scan(&o.SaleID, &o.ProductID, &o.Quantity, &o.UnitType, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) SnapshotMismatches(ctx context.Context, statuses []BatchStatus) ([]SnapshotMismatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT COALESCE(s.product_id, b.product_id), COALESCE(s.unit_type, b.unit_type), COALESCE(s.quantity, 0), COALESCE(b.remaining, 0)
FROM stock_snapshots s
FULL OUTER JOIN (
    SELECT product_id, unit_type, SUM(quantity_remaining) AS remaining
    FROM stock_batches
    WHERE status = ANY($1)
    GROUP BY product_id, unit_type
) b ON b.product_id = s.product_id AND b.unit_type = s.unit_type
WHERE COALESCE(s.quantity, 0) <> COALESCE(b.remaining, 0)
ORDER BY 1, 2`, statusList(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SnapshotMismatch{}
	for rows.Next() {
		var m SnapshotMismatch
		if err := rows.Scan(&m.ProductID, &m.UnitType, &m.SnapshotQuantity, &m.BatchRemaining); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepository) ListSellableBatchesForUpdate(ctx context.Context, productID int64, unit UnitType) ([]Batch, error) {
	// Locked in id order so concurrent transactions acquire row locks in
	// the same sequence; FEFO ordering happens on the planner side.
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, quantity, quantity_sold, quantity_remaining, unit_type, status, unit_cost, reference, purchase_date, expiry_date, created_at, updated_at
FROM stock_batches
WHERE product_id=$1 AND unit_type=$2 AND status=$3
ORDER BY id ASC
FOR UPDATE`, productID, string(unit), string(BatchActive))
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}

func (r *txRepository) ListProductBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, quantity, quantity_sold, quantity_remaining, unit_type, status, unit_cost, reference, purchase_date, expiry_date, created_at, updated_at
FROM stock_batches
WHERE product_id=$1
ORDER BY id ASC
FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	return getBatch(ctx, r.tx, id, " FOR UPDATE")
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (product_id, quantity, quantity_sold, quantity_remaining, unit_type, status, unit_cost, reference, purchase_date, expiry_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING id`,
		batch.ProductID, batch.Quantity, batch.QuantitySold, batch.QuantityRemaining,
		string(batch.UnitType), string(batch.Status), batch.UnitCost, batch.Reference,
		batch.PurchaseDate, batch.ExpiryDate).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBatchCounters(ctx context.Context, id int64, sold, remaining int64, status BatchStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches
SET quantity_sold=$2, quantity_remaining=$3, status=$4, updated_at=NOW()
WHERE id=$1`, id, sold, remaining, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeleteBatch(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_batches WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_sales (product_id, quantity, unit_type, reference, created_at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		sale.ProductID, sale.Quantity, string(sale.UnitType), sale.Reference, sale.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	return getSale(ctx, r.tx, id, " FOR UPDATE")
}

func (r *txRepository) DeleteSale(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_sales WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) ListSalesChronological(ctx context.Context, productID int64, unit UnitType) ([]Sale, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, quantity, unit_type, reference, created_at
FROM stock_sales
WHERE product_id=$1 AND unit_type=$2
ORDER BY created_at ASC, id ASC`, productID, string(unit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sales := []Sale{}
	for rows.Next() {
		var sale Sale
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.Quantity, &sale.UnitType, &sale.Reference, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (r *txRepository) InsertAllocation(ctx context.Context, alloc Allocation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_allocations (batch_id, sale_id, quantity_sold, created_at)
VALUES ($1,$2,$3,NOW()) RETURNING id`,
		alloc.BatchID, alloc.SaleID, alloc.QuantitySold).Scan(&id)
	return id, err
}

func (r *txRepository) ListAllocationsBySale(ctx context.Context, saleID int64) ([]Allocation, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, batch_id, sale_id, quantity_sold, created_at
FROM stock_allocations
WHERE sale_id=$1
ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	allocs := []Allocation{}
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.BatchID, &a.SaleID, &a.QuantitySold, &a.CreatedAt); err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func (r *txRepository) DeleteAllocationsBySale(ctx context.Context, saleID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_allocations WHERE sale_id=$1`, saleID)
	return err
}

func (r *txRepository) DeleteAllocationsByProduct(ctx context.Context, productID int64, unit UnitType) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_allocations a
USING stock_batches b
WHERE a.batch_id = b.id AND b.product_id=$1 AND b.unit_type=$2`, productID, string(unit)); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_allocations a
USING stock_sales s
WHERE a.sale_id = s.id AND s.product_id=$1 AND s.unit_type=$2`, productID, string(unit))
	return err
}

func (r *txRepository) GetSnapshotForUpdate(ctx context.Context, productID int64, unit UnitType) (StockSnapshot, error) {
	var snap StockSnapshot
	err := r.tx.QueryRow(ctx, `SELECT product_id, unit_type, quantity, last_updated
FROM stock_snapshots
WHERE product_id=$1 AND unit_type=$2
FOR UPDATE`, productID, string(unit)).Scan(&snap.ProductID, &snap.UnitType, &snap.Quantity, &snap.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockSnapshot{ProductID: productID, UnitType: unit}, ErrNotFound
		}
		return StockSnapshot{}, err
	}
	return snap, nil
}

func (r *txRepository) UpsertSnapshot(ctx context.Context, snap StockSnapshot) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_snapshots (product_id, unit_type, quantity, last_updated)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_id, unit_type) DO UPDATE SET quantity=EXCLUDED.quantity, last_updated=NOW()`,
		snap.ProductID, string(snap.UnitType), snap.Quantity)
	return err
}

func (r *txRepository) ListUnitTypes(ctx context.Context, productID int64) ([]UnitType, error) {
	return listUnitTypes(ctx, r.tx, productID)
}

func (r *txRepository) SumEligibleRemaining(ctx context.Context, productID int64, unit UnitType, statuses []BatchStatus) (int64, error) {
	return sumEligibleRemaining(ctx, r.tx, productID, unit, statuses)
}

func (r *txRepository) SumSales(ctx context.Context, productID int64, unit UnitType) (int64, error) {
	return sumSales(ctx, r.tx, productID, unit)
}

func getBatch(ctx context.Context, q querier, id int64, lock string) (Batch, error) {
	row := q.QueryRow(ctx, `SELECT id, product_id, quantity, quantity_sold, quantity_remaining, unit_type, status, unit_cost, reference, purchase_date, expiry_date, created_at, updated_at
FROM stock_batches
WHERE id=$1`+lock, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

func getSale(ctx context.Context, q querier, id int64, lock string) (Sale, error) {
	var sale Sale
	err := q.QueryRow(ctx, `SELECT id, product_id, quantity, unit_type, reference, created_at
FROM stock_sales
WHERE id=$1`+lock, id).Scan(&sale.ID, &sale.ProductID, &sale.Quantity, &sale.UnitType, &sale.Reference, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, err
	}
	return sale, nil
}

func listUnitTypes(ctx context.Context, q querier, productID int64) ([]UnitType, error) {
	rows, err := q.Query(ctx, `SELECT unit_type FROM stock_batches WHERE product_id=$1
UNION
SELECT unit_type FROM stock_snapshots WHERE product_id=$1
ORDER BY 1`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	units := []UnitType{}
	for rows.Next() {
		var unit UnitType
		if err := rows.Scan(&unit); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

func sumEligibleRemaining(ctx context.Context, q querier, productID int64, unit UnitType, statuses []BatchStatus) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_remaining), 0) FROM stock_batches
WHERE product_id=$1 AND unit_type=$2 AND status = ANY($3)`,
		productID, string(unit), statusList(statuses)).Scan(&total)
	return total, err
}

func sumSales(ctx context.Context, q querier, productID int64, unit UnitType) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_sales
WHERE product_id=$1 AND unit_type=$2`, productID, string(unit)).Scan(&total)
	return total, err
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.Quantity, &b.QuantitySold, &b.QuantityRemaining,
		&b.UnitType, &b.Status, &b.UnitCost, &b.Reference, &b.PurchaseDate, &b.ExpiryDate,
		&b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.Quantity, &b.QuantitySold, &b.QuantityRemaining,
			&b.UnitType, &b.Status, &b.UnitCost, &b.Reference, &b.PurchaseDate, &b.ExpiryDate,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func statusList(statuses []BatchStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
