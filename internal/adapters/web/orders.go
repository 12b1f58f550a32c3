package web

import (
	"net/http"

	"distribution-backend/internal/core"
)

type createOrderRequest struct {
	CustomerID    int                   `json:"customer_id"`
	WarehouseID   int                   `json:"warehouse_id"`
	PaymentMethod core.PaymentMethod    `json:"payment_method"`
	Items         []core.OrderItemInput `json:"items"`
}

func validPaymentMethod(m core.PaymentMethod) bool {
	switch m {
	case core.PaymentCash, core.PaymentCard, core.PaymentTransfer, core.PaymentCredit:
		return true
	}
	return false
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if !validPaymentMethod(req.PaymentMethod) {
		writeError(w, r, "payment_method must be cash, card, transfer, or credit", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	order, err := svc.orders.CreateOrder(r.Context(), req.CustomerID, req.WarehouseID, req.PaymentMethod, req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type createVanSaleRequest struct {
	DriverID   int                   `json:"driver_id"`
	CustomerID int                   `json:"customer_id"`
	Items      []core.OrderItemInput `json:"items"`
}

func (h *Handler) createVanSale(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	var req createVanSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	order, err := svc.orders.CreateVanSale(r.Context(), req.DriverID, req.CustomerID, req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid order id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	order, err := svc.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) getOrders(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	var status *core.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := core.OrderStatus(s)
		status = &st
	}
	orders, err := svc.orders.GetOrders(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status core.OrderStatus `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid order id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	order, err := svc.orders.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type createCustomerRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	var req createCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if req.Code == "" || req.Name == "" {
		writeError(w, r, "code and name are required", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	customer, err := svc.orders.CreateCustomer(r.Context(), req.Code, req.Name, req.Phone, req.Address)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	customer, err := svc.orders.GetCustomer(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) getCustomerOrders(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	orders, err := svc.orders.GetOrdersByCustomer(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) getCustomerDebt(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid customer id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	debt, err := svc.orders.GetDebt(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer_id": id, "debt": debt})
}
