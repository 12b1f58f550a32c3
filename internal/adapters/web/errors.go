package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"distribution-backend/internal/core"
	"distribution-backend/internal/tenant"
)

// errorResponse is the uniform error envelope returned by all endpoints.
type errorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, msg, code string, status int, details map[string]any) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
		Details:   details,
	})
}

// writeDomainError maps a domain error to its HTTP representation.
// Unrecognized errors become opaque 500s so internals never leak.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *core.InsufficientStockError
	if errors.As(err, &insufficient) {
		details := map[string]any{
			"product_id": insufficient.ProductID,
			"requested":  insufficient.Requested.String(),
			"available":  insufficient.Available.String(),
		}
		if insufficient.ProductName != "" {
			details["product_name"] = insufficient.ProductName
		}
		if insufficient.Hint != "" {
			details["hint"] = insufficient.Hint
		}
		writeError(w, r, insufficient.Error(), "INSUFFICIENT_STOCK", http.StatusConflict, details)
		return
	}

	var debtBlocked *core.DebtBlockedError
	if errors.As(err, &debtBlocked) {
		writeError(w, r, debtBlocked.Error(), "DEBT_BLOCKED", http.StatusForbidden, map[string]any{
			"customer_id":  debtBlocked.CustomerID,
			"current_debt": debtBlocked.CurrentDebt.String(),
		})
		return
	}

	switch {
	case errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrEmptyOrder),
		errors.Is(err, core.ErrInvalidTransition):
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, nil)
	case errors.Is(err, core.ErrWarehouseNotFound),
		errors.Is(err, core.ErrProductNotFound),
		errors.Is(err, core.ErrCustomerNotFound),
		errors.Is(err, core.ErrOrderNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound, nil)
	case errors.Is(err, core.ErrNoWarehouseAssigned):
		writeError(w, r, err.Error(), "NO_WAREHOUSE_ASSIGNED", http.StatusConflict, nil)
	case errors.Is(err, core.ErrOverdraftFailed):
		writeError(w, r, err.Error(), "OVERDRAFT_FAILED", http.StatusConflict, nil)
	case errors.Is(err, tenant.ErrInvalidTenantID):
		writeError(w, r, err.Error(), "INVALID_TENANT_ID", http.StatusBadRequest, nil)
	case errors.Is(err, tenant.ErrConnectionUnavailable):
		writeError(w, r, err.Error(), "TENANT_UNAVAILABLE", http.StatusServiceUnavailable, nil)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError, nil)
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
