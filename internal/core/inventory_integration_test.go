package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"distribution-backend/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean and seed test DB
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE order_item_allocations, order_items, orders, stocks, batches, customers, products, warehouses, settings CASCADE;

		INSERT INTO warehouses (id, name, type, driver_id) VALUES
		(1, 'Central', 'MAIN', NULL),
		(2, 'Van 7', 'TRUCK', 7),
		(3, 'North Depot', 'MAIN', NULL);

		INSERT INTO products (id, code, name, unit, unit_price) VALUES
		(1, 'MILK-1L', 'Milk 1L', 'pcs', 10.00),
		(2, 'YOG-500', 'Yogurt 500g', 'pcs', 5.50),
		(3, 'CHE-200', 'Cheese 200g', 'pcs', 8.00);

		INSERT INTO customers (id, code, name, current_debt) VALUES
		(1, 'C-001', 'Corner Shop', 0),
		(2, 'C-002', 'Late Payer', 500.00);

		SELECT setval('warehouses_id_seq', 100);
		SELECT setval('products_id_seq', 100);
		SELECT setval('customers_id_seq', 100);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

func newInventoryService(pool *pgxpool.Pool) core.InventoryService {
	return core.NewInventoryService(pool, core.NewSettingsService(pool))
}

// seedBatch inserts a batch and its stock line directly, bypassing
// ReceiveGoods, so tests control arrival and expiration dates exactly.
func seedBatch(t *testing.T, pool *pgxpool.Pool, warehouseID, productID int, quantity string, arrivalDaysAgo int, expiresInDays *int) int {
	t.Helper()
	ctx := context.Background()

	arrival := time.Now().AddDate(0, 0, -arrivalDaysAgo)
	var expiration *time.Time
	if expiresInDays != nil {
		e := time.Now().AddDate(0, 0, *expiresInDays)
		expiration = &e
	}

	var batchID int
	err := pool.QueryRow(ctx, `
		INSERT INTO batches (batch_code, product_id, purchase_price, arrival_date, expiration_date)
		VALUES ($1, $2, 1.00, $3, $4)
		RETURNING id
	`, fmt.Sprintf("TB-%d", time.Now().UnixNano()), productID, arrival, expiration).Scan(&batchID)
	if err != nil {
		t.Fatalf("Failed to seed batch: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO stocks (warehouse_id, product_id, batch_id, quantity)
		VALUES ($1, $2, $3, $4)
	`, warehouseID, productID, batchID, quantity)
	if err != nil {
		t.Fatalf("Failed to seed stock: %v", err)
	}
	return batchID
}

func stockQuantity(t *testing.T, pool *pgxpool.Pool, warehouseID, productID, batchID int) decimal.Decimal {
	t.Helper()
	var q decimal.Decimal
	err := pool.QueryRow(context.Background(),
		"SELECT quantity FROM stocks WHERE warehouse_id = $1 AND product_id = $2 AND batch_id = $3",
		warehouseID, productID, batchID,
	).Scan(&q)
	if err != nil {
		t.Fatalf("Failed to read stock quantity: %v", err)
	}
	return q
}

func intPtr(v int) *int { return &v }

func TestDeductStock_FEFOOrder(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	// Older arrival but later expiry: must be consumed second.
	late := seedBatch(t, pool, 1, 1, "30", 10, intPtr(60))
	soon := seedBatch(t, pool, 1, 1, "10", 1, intPtr(20))

	allocations, err := svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(15), false)
	if err != nil {
		t.Fatalf("DeductStock failed: %v", err)
	}

	if len(allocations) != 2 {
		t.Fatalf("Expected 2 allocations, got %d", len(allocations))
	}
	if allocations[0].BatchID != soon || !allocations[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("First allocation should drain the soonest-expiring batch: got batch %d qty %s", allocations[0].BatchID, allocations[0].Quantity)
	}
	if allocations[1].BatchID != late || !allocations[1].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Second allocation should take 5 from the later batch: got batch %d qty %s", allocations[1].BatchID, allocations[1].Quantity)
	}

	if got := stockQuantity(t, pool, 1, 1, soon); !got.IsZero() {
		t.Errorf("Soonest batch should be drained to zero, got %s", got)
	}
	if got := stockQuantity(t, pool, 1, 1, late); !got.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Later batch should hold 25, got %s", got)
	}
}

func TestDeductStock_NullExpirationLast(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	nonPerishable := seedBatch(t, pool, 1, 1, "10", 5, nil)
	dated := seedBatch(t, pool, 1, 1, "10", 1, intPtr(30))

	allocations, err := svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(12), false)
	if err != nil {
		t.Fatalf("DeductStock failed: %v", err)
	}
	if allocations[0].BatchID != dated {
		t.Errorf("Dated batch must be consumed before the non-perishable one")
	}
	if allocations[1].BatchID != nonPerishable || !allocations[1].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Non-perishable batch should cover the remaining 2, got batch %d qty %s", allocations[1].BatchID, allocations[1].Quantity)
	}
}

func TestDeductStock_ArrivalTieBreak(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	// Same expiration date: the earlier arrival goes first.
	older := seedBatch(t, pool, 1, 1, "5", 20, intPtr(40))
	newer := seedBatch(t, pool, 1, 1, "5", 2, intPtr(40))

	allocations, err := svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(6), false)
	if err != nil {
		t.Fatalf("DeductStock failed: %v", err)
	}
	if allocations[0].BatchID != older {
		t.Errorf("Earlier arrival should be consumed first on equal expiry")
	}
	if allocations[1].BatchID != newer || !allocations[1].Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Newer batch should cover the remaining 1")
	}
}

func TestDeductStock_ExpirationBufferExcludesNearExpiry(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	// Inside the default 3-day buffer: invisible to allocation.
	nearExpiry := seedBatch(t, pool, 1, 1, "10", 1, intPtr(2))
	fresh := seedBatch(t, pool, 1, 1, "10", 1, intPtr(30))

	allocations, err := svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(5), false)
	if err != nil {
		t.Fatalf("DeductStock failed: %v", err)
	}
	if len(allocations) != 1 || allocations[0].BatchID != fresh {
		t.Fatalf("Allocation must skip the near-expiry batch entirely: %+v", allocations)
	}
	if got := stockQuantity(t, pool, 1, 1, nearExpiry); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Near-expiry batch must be untouched, got %s", got)
	}

	// Only 10 eligible units exist even though 20 are physically present.
	_, err = svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(10), false)
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Available should count eligible stock only (5 left), got %s", insufficient.Available)
	}
}

func TestDeductStock_BufferConfigurable(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	settings := core.NewSettingsService(pool)
	svc := core.NewInventoryService(pool, settings)
	ctx := context.Background()

	if err := settings.Set(ctx, "expiration_buffer_days", "0"); err != nil {
		t.Fatalf("Failed to set buffer: %v", err)
	}

	tomorrow := seedBatch(t, pool, 1, 1, "10", 1, intPtr(1))
	allocations, err := svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(4), false)
	if err != nil {
		t.Fatalf("With a zero buffer a batch expiring tomorrow is eligible: %v", err)
	}
	if allocations[0].BatchID != tomorrow {
		t.Errorf("Expected allocation from batch %d, got %d", tomorrow, allocations[0].BatchID)
	}
}

func TestDeductStock_InsufficientLeavesStockUntouched(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	batch := seedBatch(t, pool, 1, 1, "10", 1, intPtr(30))

	before, err := svc.GetStock(ctx, 1)
	if err != nil {
		t.Fatalf("GetStock failed: %v", err)
	}

	_, err = svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(12), false)
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if !insufficient.Requested.Equal(decimal.NewFromInt(12)) || !insufficient.Available.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Error should report requested 12 / available 10, got %s / %s", insufficient.Requested, insufficient.Available)
	}
	if got := stockQuantity(t, pool, 1, 1, batch); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Failed deduction must not touch stock, got %s", got)
	}

	after, err := svc.GetStock(ctx, 1)
	if err != nil {
		t.Fatalf("GetStock after rollback failed: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("Stock line count changed across a rolled-back deduction: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if !before[i].Quantity.Equal(after[i].Quantity) {
			t.Errorf("Line %d quantity changed across rollback: %s vs %s", i, before[i].Quantity, after[i].Quantity)
		}
	}
}

func TestDeductStock_InvalidQuantity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	for _, qty := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-3)} {
		if _, err := svc.DeductStock(ctx, 1, 1, qty, false); !errors.Is(err, core.ErrInvalidQuantity) {
			t.Errorf("Quantity %s: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestDeductStock_OverdraftDrivesLastLineNegative(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	first := seedBatch(t, pool, 2, 1, "10", 5, intPtr(20))
	second := seedBatch(t, pool, 2, 1, "5", 1, intPtr(40))

	allocations, err := svc.DeductStock(ctx, 2, 1, decimal.NewFromInt(20), true)
	if err != nil {
		t.Fatalf("Overdraft deduction failed: %v", err)
	}

	var total decimal.Decimal
	for _, a := range allocations {
		total = total.Add(a.Quantity)
	}
	if !total.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Allocations must cover the full request, got %s", total)
	}

	if got := stockQuantity(t, pool, 2, 1, first); !got.IsZero() {
		t.Errorf("First batch should be drained to exactly zero, got %s", got)
	}
	if got := stockQuantity(t, pool, 2, 1, second); !got.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("Only the last consumed batch goes negative: want -5, got %s", got)
	}
}

func TestDeductStock_OverdraftNoEligibleLines(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	if _, err := svc.DeductStock(ctx, 2, 1, decimal.NewFromInt(5), true); !errors.Is(err, core.ErrOverdraftFailed) {
		t.Fatalf("Expected ErrOverdraftFailed with no stock rows, got %v", err)
	}
}

func TestDeductStock_ConcurrentNoDoubleSpend(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	batch := seedBatch(t, pool, 1, 1, "10", 1, intPtr(30))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.DeductStock(ctx, 1, 1, decimal.NewFromInt(7), false)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			var insufficient *core.InsufficientStockError
			if !errors.As(err, &insufficient) {
				t.Errorf("Loser should fail with InsufficientStockError, got %v", err)
			}
		}
	}
	if succeeded != 1 {
		t.Fatalf("Exactly one of two concurrent deductions must win, got %d", succeeded)
	}
	if got := stockQuantity(t, pool, 1, 1, batch); !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Final stock should be 3, got %s", got)
	}
}

func TestReceiveGoods(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	exp := time.Now().AddDate(0, 0, 90)
	result, err := svc.ReceiveGoods(ctx, 1, 2, decimal.NewFromInt(50), decimal.NewFromFloat(3.20), &exp)
	if err != nil {
		t.Fatalf("ReceiveGoods failed: %v", err)
	}
	if result.Batch.ID == 0 || result.Batch.BatchCode == "" {
		t.Errorf("Receipt must create a coded batch: %+v", result.Batch)
	}
	if !result.Stock.Quantity.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Stock line should hold 50, got %s", result.Stock.Quantity)
	}

	// A second receipt is a distinct lot, never merged into the first.
	again, err := svc.ReceiveGoods(ctx, 1, 2, decimal.NewFromInt(20), decimal.NewFromFloat(3.20), &exp)
	if err != nil {
		t.Fatalf("Second ReceiveGoods failed: %v", err)
	}
	if again.Batch.ID == result.Batch.ID {
		t.Errorf("Each receipt must create its own batch")
	}

	if _, err := svc.ReceiveGoods(ctx, 1, 2, decimal.Zero, decimal.Zero, nil); !errors.Is(err, core.ErrInvalidQuantity) {
		t.Errorf("Zero quantity: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := svc.ReceiveGoods(ctx, 999, 2, decimal.NewFromInt(1), decimal.Zero, nil); !errors.Is(err, core.ErrWarehouseNotFound) {
		t.Errorf("Unknown warehouse: expected ErrWarehouseNotFound, got %v", err)
	}
	if _, err := svc.ReceiveGoods(ctx, 1, 999, decimal.NewFromInt(1), decimal.Zero, nil); !errors.Is(err, core.ErrProductNotFound) {
		t.Errorf("Unknown product: expected ErrProductNotFound, got %v", err)
	}
}

func TestTransferStock_PreservesBatchIdentity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	batch := seedBatch(t, pool, 1, 1, "10", 1, intPtr(30))

	err := svc.TransferStock(ctx, 1, 3, []core.TransferItem{{ProductID: 1, Quantity: decimal.NewFromInt(4)}})
	if err != nil {
		t.Fatalf("TransferStock failed: %v", err)
	}

	if got := stockQuantity(t, pool, 1, 1, batch); !got.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Source should hold 6, got %s", got)
	}
	// Same batch row appears at the target: the lot's expiry travels with it.
	if got := stockQuantity(t, pool, 3, 1, batch); !got.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Target should hold 4 of the same batch, got %s", got)
	}

	// Transferring again merges into the existing target line.
	if err := svc.TransferStock(ctx, 1, 3, []core.TransferItem{{ProductID: 1, Quantity: decimal.NewFromInt(2)}}); err != nil {
		t.Fatalf("Second transfer failed: %v", err)
	}
	if got := stockQuantity(t, pool, 3, 1, batch); !got.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Target line should accumulate to 6, got %s", got)
	}
}

func TestTransferStock_InsufficientRollsBackAllItems(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	milk := seedBatch(t, pool, 1, 1, "10", 1, intPtr(30))
	seedBatch(t, pool, 1, 2, "2", 1, intPtr(30))

	err := svc.TransferStock(ctx, 1, 3, []core.TransferItem{
		{ProductID: 1, Quantity: decimal.NewFromInt(5)},
		{ProductID: 2, Quantity: decimal.NewFromInt(5)},
	})
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}

	// The milk deduction from the same call must have rolled back.
	if got := stockQuantity(t, pool, 1, 1, milk); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Partial transfer must roll back: want 10, got %s", got)
	}

	var targetRows int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM stocks WHERE warehouse_id = 3").Scan(&targetRows); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if targetRows != 0 {
		t.Errorf("Nothing should land at the target, found %d rows", targetRows)
	}
}

func TestGetStock_Ordering(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	seedBatch(t, pool, 1, 1, "5", 1, intPtr(60))
	soonest := seedBatch(t, pool, 1, 1, "5", 1, intPtr(10))
	seedBatch(t, pool, 1, 2, "5", 1, nil)

	lines, err := svc.GetStock(ctx, 1)
	if err != nil {
		t.Fatalf("GetStock failed: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("Expected 3 stock lines, got %d", len(lines))
	}
	// Sorted by product code, then soonest expiry first.
	if lines[0].ProductCode != "MILK-1L" || lines[0].BatchID != soonest {
		t.Errorf("First line should be milk's soonest-expiring batch, got %+v", lines[0])
	}
	if lines[2].ProductCode != "YOG-500" {
		t.Errorf("Yogurt should sort after milk, got %s", lines[2].ProductCode)
	}
}

func TestWarehouseLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	svc := newInventoryService(pool)
	ctx := context.Background()

	lat := decimal.NewFromFloat(41.31)
	lng := decimal.NewFromFloat(69.24)
	created, err := svc.CreateWarehouse(ctx, "Van 12", core.WarehouseTruck, "", &lat, &lng, intPtr(12))
	if err != nil {
		t.Fatalf("CreateWarehouse failed: %v", err)
	}
	if created.Type != core.WarehouseTruck || created.DriverID == nil || *created.DriverID != 12 {
		t.Errorf("Created warehouse lost its driver assignment: %+v", created)
	}

	truck, err := svc.GetDriverWarehouse(ctx, 12)
	if err != nil {
		t.Fatalf("GetDriverWarehouse failed: %v", err)
	}
	if truck.ID != created.ID {
		t.Errorf("Driver 12 should resolve to warehouse %d, got %d", created.ID, truck.ID)
	}

	if _, err := svc.GetDriverWarehouse(ctx, 99); !errors.Is(err, core.ErrNoWarehouseAssigned) {
		t.Errorf("Unassigned driver: expected ErrNoWarehouseAssigned, got %v", err)
	}

	if err := svc.DeactivateWarehouse(ctx, created.ID); err != nil {
		t.Fatalf("DeactivateWarehouse failed: %v", err)
	}
	// Deactivated trucks no longer resolve for their driver.
	if _, err := svc.GetDriverWarehouse(ctx, 12); !errors.Is(err, core.ErrNoWarehouseAssigned) {
		t.Errorf("Deactivated truck should not resolve, got %v", err)
	}

	if err := svc.DeactivateWarehouse(ctx, 999); !errors.Is(err, core.ErrWarehouseNotFound) {
		t.Errorf("Unknown warehouse: expected ErrWarehouseNotFound, got %v", err)
	}
}
