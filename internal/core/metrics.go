package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deductionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_deductions_total",
		Help: "Stock deductions by mode (strict/overdraft) and outcome.",
	}, []string{"mode", "outcome"})

	ordersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders created, by kind (standard/van_sale) and outcome.",
	}, []string{"kind", "outcome"})
)
