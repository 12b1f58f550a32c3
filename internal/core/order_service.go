package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// OrderService composes the debt gate, order persistence, and allocation
// engine calls into single atomic transactions, and keeps the customer's
// denormalized debt balance consistent with the orders it reflects.
type OrderService interface {
	// CreateOrder creates a Confirmed order with strict-mode allocations.
	// Credit orders are blocked while the customer carries outstanding debt;
	// the check holds a row lock on the customer for the duration of the
	// transaction, so concurrent credit orders serialize.
	CreateOrder(ctx context.Context, customerID, warehouseID int, method PaymentMethod, items []OrderItemInput) (*Order, error)
	// CreateVanSale creates a Delivered, fully paid order against the
	// driver's truck warehouse, deducting stock in overdraft mode: the goods
	// are physically gone even if the ledger disagrees.
	CreateVanSale(ctx context.Context, driverID, customerID int, items []OrderItemInput) (*Order, error)
	// UpdateOrderStatus advances the order state machine. Transitions into
	// Cancelled or Returned reverse the order's debt delta in the same
	// transaction.
	UpdateOrderStatus(ctx context.Context, orderID int, target OrderStatus) (*Order, error)

	GetOrder(ctx context.Context, orderID int) (*Order, error)
	GetOrders(ctx context.Context, status *OrderStatus) ([]Order, error)
	GetOrdersByCustomer(ctx context.Context, customerID int) ([]Order, error)
	// GetDebt recomputes the customer's outstanding debt from orders:
	// the sum of (total - paid) over non-cancelled, non-returned orders.
	GetDebt(ctx context.Context, customerID int) (decimal.Decimal, error)

	// Customer master data.
	CreateCustomer(ctx context.Context, code, name, phone, address string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID int) (*Customer, error)
}

type orderService struct {
	pool      *pgxpool.Pool
	inventory InventoryService
}

func NewOrderService(pool *pgxpool.Pool, inventory InventoryService) OrderService {
	return &orderService{pool: pool, inventory: inventory}
}

// resolvedItem is an order line with product data and price filled in.
type resolvedItem struct {
	productID   int
	productName string
	quantity    decimal.Decimal
	price       decimal.Decimal
	total       decimal.Decimal
}

// resolveItems validates the requested lines against the product catalog and
// computes line totals. Zero price falls back to the product default.
func resolveItems(ctx context.Context, q pgxQuerier, items []OrderItemInput) ([]resolvedItem, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, ErrEmptyOrder
	}

	var resolved []resolvedItem
	var total decimal.Decimal
	for i, input := range items {
		if !input.Quantity.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("item %d: %w: got %s", i+1, ErrInvalidQuantity, input.Quantity)
		}

		var name string
		var defaultPrice decimal.Decimal
		err := q.QueryRow(ctx,
			"SELECT name, unit_price FROM products WHERE id = $1 AND is_active = true",
			input.ProductID,
		).Scan(&name, &defaultPrice)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, decimal.Zero, fmt.Errorf("item %d: %w: id %d", i+1, ErrProductNotFound, input.ProductID)
			}
			return nil, decimal.Zero, fmt.Errorf("item %d: failed to resolve product: %w", i+1, err)
		}

		price := input.Price
		if price.IsZero() {
			price = defaultPrice
		}
		lineTotal := input.Quantity.Mul(price)
		total = total.Add(lineTotal)
		resolved = append(resolved, resolvedItem{
			productID:   input.ProductID,
			productName: name,
			quantity:    input.Quantity,
			price:       price,
			total:       lineTotal,
		})
	}
	return resolved, total, nil
}

// lockCustomerDebt locks the customer row and returns the current debt.
// Holding the lock serializes concurrent check-and-increment sequences for
// the same customer.
func lockCustomerDebt(ctx context.Context, tx pgx.Tx, customerID int) (decimal.Decimal, error) {
	var debt decimal.Decimal
	err := tx.QueryRow(ctx,
		"SELECT current_debt FROM customers WHERE id = $1 FOR UPDATE",
		customerID,
	).Scan(&debt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: id %d", ErrCustomerNotFound, customerID)
		}
		return decimal.Zero, fmt.Errorf("failed to lock customer %d: %w", customerID, err)
	}
	return debt, nil
}

// insertOrderItems persists the items and their batch allocations for a
// freshly created order.
func insertOrderItems(ctx context.Context, tx pgx.Tx, orderID int, items []resolvedItem, allocations [][]BatchAllocation) error {
	for i, item := range items {
		var itemID int
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, price, total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, orderID, item.productID, item.quantity, item.price, item.total).Scan(&itemID)
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", i+1, err)
		}
		for _, alloc := range allocations[i] {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_item_allocations (order_item_id, batch_id, quantity)
				VALUES ($1, $2, $3)
			`, itemID, alloc.BatchID, alloc.Quantity); err != nil {
				return fmt.Errorf("failed to insert allocation for item %d: %w", i+1, err)
			}
		}
	}
	return nil
}

func (s *orderService) CreateOrder(ctx context.Context, customerID, warehouseID int, method PaymentMethod, items []OrderItemInput) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Debt gate, under a customer row lock and ahead of any stock mutation.
	debt, err := lockCustomerDebt(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	if method == PaymentCredit && debt.IsPositive() {
		ordersCreatedTotal.WithLabelValues("standard", "debt_blocked").Inc()
		return nil, &DebtBlockedError{CustomerID: customerID, CurrentDebt: debt}
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)", warehouseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check warehouse %d: %w", warehouseID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: id %d", ErrWarehouseNotFound, warehouseID)
	}

	resolved, total, err := resolveItems(ctx, tx, items)
	if err != nil {
		return nil, err
	}

	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_code, customer_id, warehouse_id, status, payment_method, payment_status, total_amount, paid_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING id
	`, uuid.NewString(), customerID, warehouseID, OrderConfirmed, method, PaymentPending, total).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order header: %w", err)
	}

	// Strict-mode allocation per item. Any failure aborts the whole
	// transaction; the header and every earlier allocation roll back.
	allocations := make([][]BatchAllocation, len(resolved))
	for i, item := range resolved {
		allocs, err := s.inventory.DeductStockTx(ctx, tx, warehouseID, item.productID, item.quantity, false)
		if err != nil {
			var insufficient *InsufficientStockError
			if errors.As(err, &insufficient) {
				insufficient.ProductName = item.productName
				insufficient.Hint = fmt.Sprintf("try GET /catalog/products/%d/substitutes", item.productID)
				ordersCreatedTotal.WithLabelValues("standard", "insufficient_stock").Inc()
			}
			return nil, err
		}
		allocations[i] = allocs
	}

	if err := insertOrderItems(ctx, tx, orderID, resolved, allocations); err != nil {
		return nil, err
	}

	// Nothing is paid yet, so the customer owes the full order total.
	if _, err := tx.Exec(ctx,
		"UPDATE customers SET current_debt = current_debt + $1 WHERE id = $2",
		total, customerID,
	); err != nil {
		return nil, fmt.Errorf("failed to update customer debt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	ordersCreatedTotal.WithLabelValues("standard", "ok").Inc()
	return s.GetOrder(ctx, orderID)
}

func (s *orderService) CreateVanSale(ctx context.Context, driverID, customerID int, items []OrderItemInput) (*Order, error) {
	warehouse, err := s.inventory.GetDriverWarehouse(ctx, driverID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockCustomerDebt(ctx, tx, customerID); err != nil {
		return nil, err
	}

	resolved, total, err := resolveItems(ctx, tx, items)
	if err != nil {
		return nil, err
	}

	// Immediate delivery, immediate payment.
	paid := total
	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_code, customer_id, warehouse_id, status, payment_method, payment_status, total_amount, paid_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, uuid.NewString(), customerID, warehouse.ID, OrderDelivered, PaymentCash, PaymentPaid, total, paid).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert van sale header: %w", err)
	}

	allocations := make([][]BatchAllocation, len(resolved))
	for i, item := range resolved {
		allocs, err := s.inventory.DeductStockTx(ctx, tx, warehouse.ID, item.productID, item.quantity, true)
		if err != nil {
			ordersCreatedTotal.WithLabelValues("van_sale", "failed").Inc()
			return nil, err
		}
		allocations[i] = allocs
	}

	if err := insertOrderItems(ctx, tx, orderID, resolved, allocations); err != nil {
		return nil, err
	}

	// Fully paid van sales leave the debt untouched; a partial payment would
	// add the difference.
	if delta := total.Sub(paid); !delta.IsZero() {
		if _, err := tx.Exec(ctx,
			"UPDATE customers SET current_debt = current_debt + $1 WHERE id = $2",
			delta, customerID,
		); err != nil {
			return nil, fmt.Errorf("failed to update customer debt: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit van sale: %w", err)
	}
	ordersCreatedTotal.WithLabelValues("van_sale", "ok").Inc()
	return s.GetOrder(ctx, orderID)
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID int, target OrderStatus) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current OrderStatus
	var customerID int
	var totalAmount, paidAmount decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT status, customer_id, total_amount, paid_amount FROM orders WHERE id = $1 FOR UPDATE",
		orderID,
	).Scan(&current, &customerID, &totalAmount, &paidAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	if !current.CanTransition(target) {
		return nil, fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, current, target)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		target, orderID,
	); err != nil {
		return nil, fmt.Errorf("failed to update order %d status: %w", orderID, err)
	}

	// Cancelled and returned orders no longer count toward the customer's
	// debt; reverse this order's contribution in the same transaction.
	if target == OrderCancelled || target == OrderReturned {
		if delta := totalAmount.Sub(paidAmount); !delta.IsZero() {
			if _, err := lockCustomerDebt(ctx, tx, customerID); err != nil {
				return nil, err
			}
			if _, err := tx.Exec(ctx,
				"UPDATE customers SET current_debt = current_debt - $1 WHERE id = $2",
				delta, customerID,
			); err != nil {
				return nil, fmt.Errorf("failed to reverse customer debt: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return s.GetOrder(ctx, orderID)
}

// ── Queries ──────────────────────────────────────────────────────────────────

const orderColumns = `o.id, o.order_code, o.customer_id, c.name, o.warehouse_id,
	o.status, o.payment_method, o.payment_status, o.total_amount, o.paid_amount,
	o.created_at, o.updated_at`

func scanOrder(row pgx.Row, o *Order) error {
	return row.Scan(&o.ID, &o.OrderCode, &o.CustomerID, &o.CustomerName, &o.WarehouseID,
		&o.Status, &o.PaymentMethod, &o.PaymentStatus, &o.TotalAmount, &o.PaidAmount,
		&o.CreatedAt, &o.UpdatedAt)
}

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	var o Order
	err := scanOrder(s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1
	`, orderID), &o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	items, err := s.fetchOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (s *orderService) GetOrders(ctx context.Context, status *OrderStatus) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
	`
	var args []any
	if status != nil {
		query += " WHERE o.status = $1"
		args = append(args, *status)
	}
	query += " ORDER BY o.id DESC"
	return s.queryOrders(ctx, query, args...)
}

func (s *orderService) GetOrdersByCustomer(ctx context.Context, customerID int) ([]Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.customer_id = $1
		ORDER BY o.id DESC
	`, customerID)
}

func (s *orderService) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.OrderCode, &o.CustomerID, &o.CustomerName, &o.WarehouseID,
			&o.Status, &o.PaymentMethod, &o.PaymentStatus, &o.TotalAmount, &o.PaidAmount,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *orderService) fetchOrderItems(ctx context.Context, orderID int) ([]OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.code, p.name, oi.quantity, oi.price, oi.total
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	index := make(map[int]int)
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductCode, &it.ProductName,
			&it.Quantity, &it.Price, &it.Total); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		index[it.ID] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	allocRows, err := s.pool.Query(ctx, `
		SELECT a.id, a.order_item_id, a.batch_id, a.quantity
		FROM order_item_allocations a
		JOIN order_items oi ON oi.id = a.order_item_id
		WHERE oi.order_id = $1
		ORDER BY a.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer allocRows.Close()

	for allocRows.Next() {
		var a OrderItemAllocation
		if err := allocRows.Scan(&a.ID, &a.OrderItemID, &a.BatchID, &a.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if i, ok := index[a.OrderItemID]; ok {
			items[i].Allocations = append(items[i].Allocations, a)
		}
	}
	return items, allocRows.Err()
}

func (s *orderService) GetDebt(ctx context.Context, customerID int) (decimal.Decimal, error) {
	var debt decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount - paid_amount), 0)
		FROM orders
		WHERE customer_id = $1 AND status NOT IN ($2, $3)
	`, customerID, OrderCancelled, OrderReturned).Scan(&debt)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute debt for customer %d: %w", customerID, err)
	}
	return debt, nil
}

// ── Customer master data ─────────────────────────────────────────────────────

func (s *orderService) CreateCustomer(ctx context.Context, code, name, phone, address string) (*Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (code, name, phone, address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, code, name, COALESCE(phone, ''), COALESCE(address, ''), current_debt, created_at
	`, code, name, phone, address).Scan(
		&c.ID, &c.Code, &c.Name, &c.Phone, &c.Address, &c.CurrentDebt, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &c, nil
}

func (s *orderService) GetCustomer(ctx context.Context, customerID int) (*Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, COALESCE(phone, ''), COALESCE(address, ''), current_debt, created_at
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Address, &c.CurrentDebt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrCustomerNotFound, customerID)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}
	return &c, nil
}
