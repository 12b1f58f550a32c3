package web

import (
	"log/slog"
	"net/http"

	"distribution-backend/internal/core"
	"distribution-backend/internal/tenant"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler wires the HTTP surface. Services are constructed per request from
// the tenant pool resolved by the Tenant middleware, so every handler runs
// against the caller's schema.
type Handler struct {
	provider *tenant.Provider
	log      *slog.Logger

	allowedOrigins string
	metricsEnabled bool
}

type Option func(*Handler)

// WithCORS enables CORS for the given comma-separated origin list.
func WithCORS(origins string) Option {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// WithMetrics exposes /metrics when enabled.
func WithMetrics(enabled bool) Option {
	return func(h *Handler) { h.metricsEnabled = enabled }
}

func NewHandler(provider *tenant.Provider, log *slog.Logger, opts ...Option) *Handler {
	h := &Handler{provider: provider, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// services bundles the per-request service set for one tenant.
type services struct {
	settings  core.SettingsService
	inventory core.InventoryService
	orders    core.OrderService
}

// tenantServices builds the service stack from the pool in the request
// context. Returns false (after writing the error) if no pool is present,
// which only happens if a route bypassed the Tenant middleware.
func (h *Handler) tenantServices(w http.ResponseWriter, r *http.Request) (*services, bool) {
	pool, ok := poolFromContext(r.Context())
	if !ok {
		writeError(w, r, "tenant not resolved", "INTERNAL_ERROR", http.StatusInternalServerError, nil)
		return nil, false
	}
	settings := core.NewSettingsService(pool)
	inventory := core.NewInventoryService(pool, settings)
	return &services{
		settings:  settings,
		inventory: inventory,
		orders:    core.NewOrderService(pool, inventory),
	}, true
}

// Routes assembles the router with the full middleware chain.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(h.log))
	r.Use(Recoverer(h.log))
	r.Use(RequestBodyLimit(1 << 20))
	if h.allowedOrigins != "" {
		r.Use(CORS(h.allowedOrigins))
	}

	r.Get("/health", h.health)
	if h.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(Tenant(h.provider))

		r.Route("/warehouses", func(r chi.Router) {
			r.Get("/", h.getWarehouses)
			r.Post("/", h.createWarehouse)
			r.Delete("/{id}", h.deactivateWarehouse)
			r.Get("/{id}/stock", h.getStock)
			r.Post("/{id}/receive", h.receiveGoods)
			r.Post("/{id}/deduct", h.deductStock)
		})
		r.Post("/transfers", h.transferStock)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.getOrders)
			r.Post("/", h.createOrder)
			r.Post("/van-sale", h.createVanSale)
			r.Get("/{id}", h.getOrder)
			r.Patch("/{id}/status", h.updateOrderStatus)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.createCustomer)
			r.Get("/{id}", h.getCustomer)
			r.Get("/{id}/orders", h.getCustomerOrders)
			r.Get("/{id}/debt", h.getCustomerDebt)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/{key}", h.getSetting)
			r.Put("/{key}", h.putSetting)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
