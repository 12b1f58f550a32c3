package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the order lifecycle state.
//
//	Pending → Confirmed → Packing → Ready → Assigned → InTransit → Delivered
//
// Cancelled and Returned are reachable from any non-terminal state.
// Delivered, Cancelled and Returned are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderPacking   OrderStatus = "PACKING"
	OrderReady     OrderStatus = "READY"
	OrderAssigned  OrderStatus = "ASSIGNED"
	OrderInTransit OrderStatus = "IN_TRANSIT"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderReturned  OrderStatus = "RETURNED"
)

var nextStatus = map[OrderStatus]OrderStatus{
	OrderPending:   OrderConfirmed,
	OrderConfirmed: OrderPacking,
	OrderPacking:   OrderReady,
	OrderReady:     OrderAssigned,
	OrderAssigned:  OrderInTransit,
	OrderInTransit: OrderDelivered,
}

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderReturned
}

// CanTransition reports whether an order may move from s to target: one step
// forward along the delivery chain, or to Cancelled/Returned from any
// non-terminal state.
func (s OrderStatus) CanTransition(target OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if target == OrderCancelled || target == OrderReturned {
		return true
	}
	return nextStatus[s] == target
}

// PaymentStatus tracks how much of an order has been paid.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
)

// PaymentMethod is how the customer settles the order. Credit orders are
// gated on the customer's outstanding debt.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCredit   PaymentMethod = "credit"
)

// Order is a sales order header with its items and allocations.
type Order struct {
	ID            int             `json:"id"`
	OrderCode     string          `json:"order_code"`
	CustomerID    int             `json:"customer_id"`
	CustomerName  string          `json:"customer_name"` // joined from customers
	WarehouseID   int             `json:"warehouse_id"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Items         []OrderItem     `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderItem is one product line on an order, fulfilled by one or more
// batch allocations. Allocation quantities always sum to Quantity, overdraft
// deductions included; the negative remainder stays on the batch line.
type OrderItem struct {
	ID          int                   `json:"id"`
	OrderID     int                   `json:"order_id"`
	ProductID   int                   `json:"product_id"`
	ProductCode string                `json:"product_code"` // joined from products
	ProductName string                `json:"product_name"` // joined from products
	Quantity    decimal.Decimal       `json:"quantity"`
	Price       decimal.Decimal       `json:"price"`
	Total       decimal.Decimal       `json:"total"`
	Allocations []OrderItemAllocation `json:"allocations"`
}

// OrderItemAllocation links an order item to the specific batch that
// satisfied it. Immutable once written.
type OrderItemAllocation struct {
	ID          int             `json:"id"`
	OrderItemID int             `json:"order_item_id"`
	BatchID     int             `json:"batch_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// OrderItemInput is one requested line when creating an order.
// Zero Price means "use the product's default unit price".
type OrderItemInput struct {
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
