package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for lookups and input validation. Validation errors are
// raised before any transaction is opened.
var (
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrWarehouseNotFound   = errors.New("warehouse not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNoWarehouseAssigned = errors.New("driver has no truck warehouse assigned")
	ErrOverdraftFailed     = errors.New("overdraft failed: no batches available to drive negative")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrEmptyOrder          = errors.New("order must have at least one item")
)

// InsufficientStockError is returned by a strict-mode deduction when the
// eligible stock does not cover the request. The surrounding transaction is
// rolled back in full; nothing was mutated.
type InsufficientStockError struct {
	ProductID   int
	ProductName string // filled by the order coordinator when known
	Requested   decimal.Decimal
	Available   decimal.Decimal
	Hint        string // substitute-lookup suggestion, set by the order coordinator
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = fmt.Sprintf("product %d", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s",
		name, e.Requested.String(), e.Available.String())
}

// DebtBlockedError blocks a credit order for a customer with outstanding
// debt. Raised before any stock mutation; the transaction mutates nothing.
type DebtBlockedError struct {
	CustomerID  int
	CurrentDebt decimal.Decimal
}

func (e *DebtBlockedError) Error() string {
	return fmt.Sprintf("customer %d has outstanding debt %s: credit orders are blocked",
		e.CustomerID, e.CurrentDebt.String())
}
