package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InventoryService manages warehouses, batches, and stock lines, and hosts
// the allocation engine that deducts stock under FEFO ordering with
// row-level locking.
type InventoryService interface {
	// Warehouse directory.
	GetWarehouses(ctx context.Context) ([]Warehouse, error)
	CreateWarehouse(ctx context.Context, name string, wt WarehouseType, address string, lat, lng *decimal.Decimal, driverID *int) (*Warehouse, error)
	// DeactivateWarehouse soft-disables a warehouse; stock keeps referencing it.
	DeactivateWarehouse(ctx context.Context, warehouseID int) error
	// GetDriverWarehouse resolves a driver's assigned TRUCK warehouse.
	GetDriverWarehouse(ctx context.Context, driverID int) (*Warehouse, error)

	// Batch ledger.
	ReceiveGoods(ctx context.Context, warehouseID, productID int, quantity, purchasePrice decimal.Decimal, expirationDate *time.Time) (*ReceiveGoodsResult, error)
	GetStock(ctx context.Context, warehouseID int) ([]StockLine, error)

	// Allocation engine. DeductStockTx works within a caller-provided
	// transaction and never commits; DeductStock wraps a single deduction in
	// its own transaction.
	DeductStock(ctx context.Context, warehouseID, productID int, quantity decimal.Decimal, allowOverdraft bool) ([]BatchAllocation, error)
	DeductStockTx(ctx context.Context, tx pgx.Tx, warehouseID, productID int, quantity decimal.Decimal, allowOverdraft bool) ([]BatchAllocation, error)

	// TransferStock moves batches between warehouses, preserving batch identity.
	TransferStock(ctx context.Context, sourceID, targetID int, items []TransferItem) error
}

type inventoryService struct {
	pool     *pgxpool.Pool
	settings SettingsService
}

func NewInventoryService(pool *pgxpool.Pool, settings SettingsService) InventoryService {
	return &inventoryService{pool: pool, settings: settings}
}

// ── Warehouse directory ───────────────────────────────────────────────────────

const warehouseColumns = `id, name, type, COALESCE(address, ''), latitude, longitude, driver_id, is_active, created_at, updated_at`

func scanWarehouse(row pgx.Row, w *Warehouse) error {
	return row.Scan(&w.ID, &w.Name, &w.Type, &w.Address, &w.Latitude, &w.Longitude,
		&w.DriverID, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
}

func (s *inventoryService) GetWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+warehouseColumns+`
		FROM warehouses
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.Type, &w.Address, &w.Latitude, &w.Longitude,
			&w.DriverID, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *inventoryService) CreateWarehouse(ctx context.Context, name string, wt WarehouseType, address string, lat, lng *decimal.Decimal, driverID *int) (*Warehouse, error) {
	if wt != WarehouseMain && wt != WarehouseTruck {
		return nil, fmt.Errorf("unknown warehouse type %q", wt)
	}
	var w Warehouse
	err := scanWarehouse(s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (name, type, address, latitude, longitude, driver_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+warehouseColumns+`
	`, name, wt, address, lat, lng, driverID), &w)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse: %w", err)
	}
	return &w, nil
}

func (s *inventoryService) DeactivateWarehouse(ctx context.Context, warehouseID int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE warehouses SET is_active = false, updated_at = NOW() WHERE id = $1",
		warehouseID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate warehouse %d: %w", warehouseID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrWarehouseNotFound, warehouseID)
	}
	return nil
}

func (s *inventoryService) GetDriverWarehouse(ctx context.Context, driverID int) (*Warehouse, error) {
	var w Warehouse
	err := scanWarehouse(s.pool.QueryRow(ctx, `
		SELECT `+warehouseColumns+`
		FROM warehouses
		WHERE driver_id = $1 AND type = 'TRUCK' AND is_active = true
		LIMIT 1
	`, driverID), &w)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("driver %d: %w", driverID, ErrNoWarehouseAssigned)
		}
		return nil, fmt.Errorf("failed to resolve driver warehouse: %w", err)
	}
	return &w, nil
}

// ── Batch ledger ──────────────────────────────────────────────────────────────

// ReceiveGoods creates an immutable batch for the receipt lot and adds its
// quantity to the (warehouse, product, batch) stock line.
func (s *inventoryService) ReceiveGoods(ctx context.Context, warehouseID, productID int, quantity, purchasePrice decimal.Decimal, expirationDate *time.Time) (*ReceiveGoodsResult, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidQuantity, quantity)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)", warehouseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check warehouse %d: %w", warehouseID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: id %d", ErrWarehouseNotFound, warehouseID)
	}
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)", productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check product %d: %w", productID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, productID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batchCode := fmt.Sprintf("BATCH-%d", time.Now().UnixMilli())
	var batch Batch
	err = tx.QueryRow(ctx, `
		INSERT INTO batches (batch_code, product_id, purchase_price, arrival_date, expiration_date)
		VALUES ($1, $2, $3, CURRENT_DATE, $4)
		RETURNING id, batch_code, product_id, purchase_price, arrival_date, expiration_date, created_at
	`, batchCode, productID, purchasePrice, expirationDate).Scan(
		&batch.ID, &batch.BatchCode, &batch.ProductID, &batch.PurchasePrice,
		&batch.ArrivalDate, &batch.ExpirationDate, &batch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert batch: %w", err)
	}

	var stock StockLine
	err = tx.QueryRow(ctx, `
		INSERT INTO stocks (warehouse_id, product_id, batch_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (warehouse_id, product_id, batch_id)
		DO UPDATE SET quantity = stocks.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING id, warehouse_id, product_id, batch_id, quantity
	`, warehouseID, productID, batch.ID, quantity).Scan(
		&stock.ID, &stock.WarehouseID, &stock.ProductID, &stock.BatchID, &stock.Quantity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stock line: %w", err)
	}
	stock.BatchCode = batch.BatchCode
	stock.PurchasePrice = batch.PurchasePrice
	stock.ArrivalDate = batch.ArrivalDate
	stock.ExpirationDate = batch.ExpirationDate

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit goods receipt: %w", err)
	}
	return &ReceiveGoodsResult{Batch: batch, Stock: stock}, nil
}

func (s *inventoryService) GetStock(ctx context.Context, warehouseID int) ([]StockLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.warehouse_id, s.product_id, p.code, p.name,
		       b.id, b.batch_code, s.quantity, b.purchase_price, b.arrival_date, b.expiration_date
		FROM stocks s
		JOIN products p ON p.id = s.product_id
		JOIN batches b  ON b.id = s.batch_id
		WHERE s.warehouse_id = $1
		ORDER BY p.code, b.expiration_date ASC NULLS LAST, b.arrival_date
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock for warehouse %d: %w", warehouseID, err)
	}
	defer rows.Close()

	var lines []StockLine
	for rows.Next() {
		var l StockLine
		if err := rows.Scan(
			&l.ID, &l.WarehouseID, &l.ProductID, &l.ProductCode, &l.ProductName,
			&l.BatchID, &l.BatchCode, &l.Quantity, &l.PurchasePrice, &l.ArrivalDate, &l.ExpirationDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ── Allocation engine ─────────────────────────────────────────────────────────

func (s *inventoryService) DeductStock(ctx context.Context, warehouseID, productID int, quantity decimal.Decimal, allowOverdraft bool) ([]BatchAllocation, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidQuantity, quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	allocations, err := s.DeductStockTx(ctx, tx, warehouseID, productID, quantity, allowOverdraft)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit deduction: %w", err)
	}
	return allocations, nil
}

// DeductStockTx deducts quantity of a product from a warehouse inside the
// caller's transaction, choosing batches FEFO (soonest expiration first,
// arrival date as tie-break). Batches expiring within the tenant's
// expiration buffer are not offered; batches without an expiration date
// always are. The selected rows are locked FOR UPDATE, serializing
// concurrent deductions against the same (warehouse, product) pair.
//
// In strict mode an insufficient total aborts with InsufficientStockError
// before any row is touched. In overdraft mode all eligible lines are
// consumed to zero and the remaining deficit is taken from the last consumed
// line, driving it negative; with no eligible lines at all the deduction
// fails with ErrOverdraftFailed.
func (s *inventoryService) DeductStockTx(ctx context.Context, tx pgx.Tx, warehouseID, productID int, quantity decimal.Decimal, allowOverdraft bool) ([]BatchAllocation, error) {
	mode := "strict"
	if allowOverdraft {
		mode = "overdraft"
	}

	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidQuantity, quantity)
	}

	bufferDays := s.settings.ExpirationBufferDays(ctx)
	minExpiration := time.Now().AddDate(0, 0, bufferDays)

	rows, err := tx.Query(ctx, `
		SELECT s.id, b.id, s.quantity
		FROM stocks s
		JOIN batches b ON b.id = s.batch_id
		WHERE s.warehouse_id = $1
		  AND s.product_id = $2
		  AND s.quantity > 0
		  AND (b.expiration_date IS NULL OR b.expiration_date > $3)
		ORDER BY b.expiration_date ASC NULLS LAST, b.arrival_date ASC, b.id ASC
		FOR UPDATE OF s
	`, warehouseID, productID, minExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock lines: %w", err)
	}

	type stockRow struct {
		stockID  int
		batchID  int
		quantity decimal.Decimal
	}
	var eligible []stockRow
	var available decimal.Decimal
	for rows.Next() {
		var r stockRow
		if err := rows.Scan(&r.stockID, &r.batchID, &r.quantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stock line: %w", err)
		}
		eligible = append(eligible, r)
		available = available.Add(r.quantity)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock lines: %w", err)
	}

	if available.LessThan(quantity) {
		if !allowOverdraft {
			deductionsTotal.WithLabelValues(mode, "insufficient").Inc()
			return nil, &InsufficientStockError{
				ProductID: productID,
				Requested: quantity,
				Available: available,
			}
		}
		if len(eligible) == 0 {
			deductionsTotal.WithLabelValues(mode, "overdraft_failed").Inc()
			return nil, fmt.Errorf("product %d in warehouse %d: %w", productID, warehouseID, ErrOverdraftFailed)
		}
	}

	// Pass 1: consume each line fully before moving to the next.
	remaining := quantity
	newQuantities := make([]decimal.Decimal, len(eligible))
	var allocations []BatchAllocation
	consumed := 0
	for i, line := range eligible {
		if !remaining.IsPositive() {
			newQuantities[i] = line.quantity
			continue
		}
		take := line.quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		newQuantities[i] = line.quantity.Sub(take)
		allocations = append(allocations, BatchAllocation{BatchID: line.batchID, Quantity: take})
		remaining = remaining.Sub(take)
		consumed = i
	}

	// Pass 2: overdraft remainder comes out of the last consumed line.
	if allowOverdraft && remaining.IsPositive() {
		newQuantities[consumed] = newQuantities[consumed].Sub(remaining)
		allocations[len(allocations)-1].Quantity = allocations[len(allocations)-1].Quantity.Add(remaining)
		remaining = decimal.Zero
	}

	for i, line := range eligible {
		if line.quantity.Equal(newQuantities[i]) {
			continue
		}
		if _, err := tx.Exec(ctx,
			"UPDATE stocks SET quantity = $1, updated_at = NOW() WHERE id = $2",
			newQuantities[i], line.stockID,
		); err != nil {
			return nil, fmt.Errorf("failed to update stock line %d: %w", line.stockID, err)
		}
	}

	deductionsTotal.WithLabelValues(mode, "ok").Inc()
	return allocations, nil
}

// ── Transfer engine ───────────────────────────────────────────────────────────

// TransferStock moves items from one warehouse to another in a single
// transaction: a strict deduction at the source, then an additive upsert of
// the exact same batches at the destination. A transfer never re-batches or
// re-prices goods.
func (s *inventoryService) TransferStock(ctx context.Context, sourceID, targetID int, items []TransferItem) error {
	for _, id := range []int{sourceID, targetID} {
		var exists bool
		if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check warehouse %d: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("%w: id %d", ErrWarehouseNotFound, id)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		allocations, err := s.DeductStockTx(ctx, tx, sourceID, item.ProductID, item.Quantity, false)
		if err != nil {
			return err
		}
		for _, alloc := range allocations {
			if _, err := tx.Exec(ctx, `
				INSERT INTO stocks (warehouse_id, product_id, batch_id, quantity)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (warehouse_id, product_id, batch_id)
				DO UPDATE SET quantity = stocks.quantity + EXCLUDED.quantity, updated_at = NOW()
			`, targetID, item.ProductID, alloc.BatchID, alloc.Quantity); err != nil {
				return fmt.Errorf("failed to add batch %d to warehouse %d: %w", alloc.BatchID, targetID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}
