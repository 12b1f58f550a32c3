package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// WarehouseType distinguishes fixed storage sites from delivery trucks.
type WarehouseType string

const (
	WarehouseMain  WarehouseType = "MAIN"
	WarehouseTruck WarehouseType = "TRUCK"
)

// Warehouse is a physical storage location. TRUCK warehouses may carry an
// assigned driver. Warehouses are soft-disabled, never deleted, while stock
// references them.
type Warehouse struct {
	ID        int              `json:"id"`
	Name      string           `json:"name"`
	Type      WarehouseType    `json:"type"`
	Address   string           `json:"address,omitempty"`
	Latitude  *decimal.Decimal `json:"latitude,omitempty"`
	Longitude *decimal.Decimal `json:"longitude,omitempty"`
	DriverID  *int             `json:"driver_id,omitempty"`
	IsActive  bool             `json:"is_active"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Product is the minimal catalog surface the stock core needs: codes and
// names for error messages, a default price for order lines.
type Product struct {
	ID        int             `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Batch is one receipt lot of a product. Immutable once created; historical
// allocations reference it forever.
type Batch struct {
	ID             int             `json:"id"`
	BatchCode      string          `json:"batch_code"`
	ProductID      int             `json:"product_id"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	ArrivalDate    time.Time       `json:"arrival_date"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"` // nil = non-perishable
	CreatedAt      time.Time       `json:"created_at"`
}

// StockLine is the quantity of one batch of one product in one warehouse,
// joined with product and batch detail for display. Unique per
// (warehouse, product, batch). Quantity goes negative only through an
// explicit overdraft deduction.
type StockLine struct {
	ID             int             `json:"id"`
	WarehouseID    int             `json:"warehouse_id"`
	ProductID      int             `json:"product_id"`
	ProductCode    string          `json:"product_code"`
	ProductName    string          `json:"product_name"`
	BatchID        int             `json:"batch_id"`
	BatchCode      string          `json:"batch_code"`
	Quantity       decimal.Decimal `json:"quantity"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	ArrivalDate    time.Time       `json:"arrival_date"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
}

// BatchAllocation records how much of a deduction one batch satisfied.
// The order coordinator persists these as the sale's audit trail.
type BatchAllocation struct {
	BatchID  int             `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ReceiveGoodsResult reports the batch created by a goods receipt and the
// stock line it landed on.
type ReceiveGoodsResult struct {
	Batch Batch     `json:"batch"`
	Stock StockLine `json:"stock"`
}

// TransferItem is one (product, quantity) pair in a warehouse transfer.
type TransferItem struct {
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Customer is a sales customer with a denormalized outstanding-debt balance:
// the sum of (total - paid) over non-cancelled, non-returned orders. CurrentDebt is
// mutated only inside the same transaction as the order it reflects.
type Customer struct {
	ID          int             `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone,omitempty"`
	Address     string          `json:"address,omitempty"`
	CurrentDebt decimal.Decimal `json:"current_debt"`
	CreatedAt   time.Time       `json:"created_at"`
}
