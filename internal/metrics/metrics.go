// Package metrics holds Prometheus instruments that are used across the
// control plane.  All collectors are registered with the global registry,
// so importing this package in main.go is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TenantCreateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_create_total",
			Help: "Cumulative number of tenants successfully created.",
		})

	TenantDeleteTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_delete_total",
			Help: "Cumulative number of tenants deleted with all dependents.",
		})

	TenantTransitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_transition_total",
			Help: "Lifecycle transitions applied, labelled by target status.",
		},
		[]string{"to"},
	)

	ConflictTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_conflict_total",
			Help: "Uniqueness conflicts rejected, labelled by field.",
		},
		[]string{"field"},
	)

	TxRetryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_tx_retry_total",
			Help: "Transient storage conflicts retried before surfacing.",
		})

	ActivePools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataplane_active_pools",
			Help: "Number of per-tenant connection pools currently open.",
		})

	PoolLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataplane_pool_load_total",
			Help: "Cumulative number of per-tenant pools successfully opened.",
		})

	PoolLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataplane_pool_load_errors_total",
			Help: "Cumulative number of per-tenant pool open errors.",
		})

	PoolEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataplane_pool_evict_total",
			Help: "Cumulative number of per-tenant pools evicted from the cache.",
		})
)

func init() {
	prometheus.MustRegister(
		TenantCreateTotal,
		TenantDeleteTotal,
		TenantTransitionTotal,
		ConflictTotal,
		TxRetryTotal,
		ActivePools,
		PoolLoadTotal,
		PoolLoadErrorsTotal,
		PoolEvictTotal,
	)
}
