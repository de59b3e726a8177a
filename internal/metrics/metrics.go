// Package metrics defines Prometheus metrics for the runtime.
// Collectors are registered upfront so every package records into the same
// set and the admin server exposes them through promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of checked-out connections per pool.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapper_pool_connections_active",
		Help: "Number of checked-out connections per pool",
	}, []string{"pool"})

	// ConnectionsIdle tracks the number of idle connections per pool.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapper_pool_connections_idle",
		Help: "Number of idle connections in the pool",
	}, []string{"pool"})

	// ConnectionsMax tracks the configured max-active connections per pool.
	ConnectionsMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapper_pool_connections_max",
		Help: "Configured maximum active connections per pool",
	}, []string{"pool"})

	// CheckoutsTotal counts checkout/checkin outcomes.
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_pool_checkouts_total",
		Help: "Total connection checkout and checkin operations by outcome",
	}, []string{"pool", "status"})

	// WaitDuration tracks the time callers spend blocked on an exhausted pool.
	WaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapper_pool_wait_seconds",
		Help:    "Time spent waiting for a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	// BadConnections counts connections that failed validation.
	BadConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_pool_bad_connections_total",
		Help: "Total connections discarded because they failed validation",
	}, []string{"pool"})

	// OverdueClaims counts active connections reclaimed after max checkout time.
	OverdueClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_pool_overdue_claims_total",
		Help: "Total overdue connections forcibly reclaimed",
	}, []string{"pool"})

	// BatchFlushes counts batch flushes by outcome.
	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_batch_flushes_total",
		Help: "Total batch flushes by outcome",
	}, []string{"status"})

	// BatchSize tracks how many parameter sets each flushed batch carried.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapper_batch_size",
		Help:    "Number of entries per executed batch",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
	})

	// StatementDuration tracks statement execution time by command.
	StatementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapper_statement_duration_seconds",
		Help:    "Statement execution duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"command"})

	// CacheRequests counts cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_cache_requests_total",
		Help: "Total cache lookups by result",
	}, []string{"cache", "result"})

	// CacheEvictions counts entries evicted by an eviction policy.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_cache_evictions_total",
		Help: "Total cache entries evicted",
	}, []string{"cache", "policy"})

	// RedisOperations counts Redis operations of the shared cache backend.
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_redis_operations_total",
		Help: "Total Redis operations by command and outcome",
	}, []string{"operation", "status"})
)
