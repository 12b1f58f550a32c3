package web

import (
	"net/http"
	"strconv"
	"time"

	"distribution-backend/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func pathID(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	return id, err == nil && id > 0
}

func (h *Handler) getWarehouses(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	warehouses, err := svc.inventory.GetWarehouses(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, warehouses)
}

type createWarehouseRequest struct {
	Name      string             `json:"name"`
	Type      core.WarehouseType `json:"type"`
	Address   string             `json:"address"`
	Latitude  *decimal.Decimal   `json:"latitude"`
	Longitude *decimal.Decimal   `json:"longitude"`
	DriverID  *int               `json:"driver_id"`
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	var req createWarehouseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if req.Name == "" {
		writeError(w, r, "name is required", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if req.Type != core.WarehouseMain && req.Type != core.WarehouseTruck {
		writeError(w, r, "type must be MAIN or TRUCK", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	warehouse, err := svc.inventory.CreateWarehouse(r.Context(), req.Name, req.Type, req.Address, req.Latitude, req.Longitude, req.DriverID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, warehouse)
}

func (h *Handler) deactivateWarehouse(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid warehouse id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := svc.inventory.DeactivateWarehouse(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid warehouse id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	stock, err := svc.inventory.GetStock(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

type receiveGoodsRequest struct {
	ProductID      int             `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	ExpirationDate *string         `json:"expiration_date"`
}

func (h *Handler) receiveGoods(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid warehouse id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	var req receiveGoodsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	var expiration *time.Time
	if req.ExpirationDate != nil {
		t, err := time.Parse("2006-01-02", *req.ExpirationDate)
		if err != nil {
			writeError(w, r, "expiration_date must be YYYY-MM-DD", "VALIDATION_ERROR", http.StatusBadRequest, nil)
			return
		}
		expiration = &t
	}
	result, err := svc.inventory.ReceiveGoods(r.Context(), id, req.ProductID, req.Quantity, req.PurchasePrice, expiration)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type deductStockRequest struct {
	ProductID      int             `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	AllowOverdraft bool            `json:"allow_overdraft"`
}

func (h *Handler) deductStock(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, "invalid warehouse id", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	var req deductStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	allocations, err := svc.inventory.DeductStock(r.Context(), id, req.ProductID, req.Quantity, req.AllowOverdraft)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

type transferRequest struct {
	SourceWarehouseID int                 `json:"source_warehouse_id"`
	TargetWarehouseID int                 `json:"target_warehouse_id"`
	Items             []core.TransferItem `json:"items"`
}

func (h *Handler) transferStock(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, "items must not be empty", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if req.SourceWarehouseID == req.TargetWarehouseID {
		writeError(w, r, "source and target warehouses must differ", "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := svc.inventory.TransferStock(r.Context(), req.SourceWarehouseID, req.TargetWarehouseID, req.Items); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSetting(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	value, found, err := svc.settings.Get(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, "setting not found", "NOT_FOUND", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

type putSettingRequest struct {
	Value string `json:"value"`
}

func (h *Handler) putSetting(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.tenantServices(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	var req putSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
		return
	}
	if err := svc.settings.Set(r.Context(), key, req.Value); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
