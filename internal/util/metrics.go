package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations",
	}, []string{"op"})

	CartItemsAdjustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_items_adjusted_total",
		Help: "Total number of cart line items removed or clamped during read-time stock reconciliation",
	}, []string{"reason"})

	CartMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_merges_total",
		Help: "Total number of guest cart merges",
	})

	CartVersionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_version_conflicts_total",
		Help: "Total number of optimistic concurrency conflicts on cart saves",
	})

	CheckoutsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_created_total",
		Help: "Total number of checkout sessions created",
	})

	CheckoutsFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_finalized_total",
		Help: "Total number of checkout sessions finalized into orders",
	})

	FinalizeRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finalize_rejected_total",
		Help: "Total number of rejected finalize attempts",
	}, []string{"reason"})

	OversoldItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oversold_items_total",
		Help: "Total number of line items finalized past available stock on the gateway callback path",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of admin order status transitions",
	}, []string{"status"})

	GatewayCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_callbacks_total",
		Help: "Total number of payment gateway callbacks",
	}, []string{"gateway", "result"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of outbound payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})

	StockDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_decrement_latency_seconds",
		Help:    "Latency of finalize stock decrement passes",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
