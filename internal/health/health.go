// Package health serves the admin endpoints: component health checks for
// every pooled environment and the Redis cache backend, pool statistics and
// Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/pool"
)

// Status is the health of one component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is the result of checking one component.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// HealthReport aggregates every component check.
type HealthReport struct {
	Status     Status            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// PoolStats is the JSON view of one pool's statistics.
type PoolStats struct {
	Pool                   string `json:"pool"`
	Active                 int    `json:"active"`
	Idle                   int    `json:"idle"`
	MaxActive              int    `json:"max_active"`
	MaxIdle                int    `json:"max_idle"`
	Requests               int64  `json:"requests"`
	AverageRequestTime     string `json:"average_request_time"`
	AverageCheckoutTime    string `json:"average_checkout_time"`
	ClaimedOverdue         int64  `json:"claimed_overdue"`
	AverageOverdueCheckout string `json:"average_overdue_checkout_time"`
	HadToWait              int64  `json:"had_to_wait"`
	AverageWaitTime        string `json:"average_wait_time"`
	BadConnections         int64  `json:"bad_connections"`
}

// Checker runs health checks against the pools of a manager and, when set,
// the Redis client of the shared cache.
type Checker struct {
	cfg   *config.Config
	pools *pool.Manager
	redis redis.UniversalClient

	timeout time.Duration
}

// NewChecker creates a health checker. rdb may be nil.
func NewChecker(cfg *config.Config, pools *pool.Manager, rdb redis.UniversalClient) *Checker {
	return &Checker{cfg: cfg, pools: pools, redis: rdb, timeout: 10 * time.Second}
}

// Check runs every component check concurrently.
func (c *Checker) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components []ComponentHealth
	)
	add := func(ch ComponentHealth) {
		mu.Lock()
		components = append(components, ch)
		mu.Unlock()
	}

	if c.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			add(c.checkRedis(ctx))
		}()
	}

	for _, p := range c.pools.Pools() {
		wg.Add(1)
		go func(p *pool.PooledDataSource) {
			defer wg.Done()
			add(c.checkPool(ctx, p))
		}(p)
	}

	wg.Wait()

	report.Components = components
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			break
		}
	}
	return report
}

func (c *Checker) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return ComponentHealth{
			Name:    "redis",
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("PING failed: %v", err),
			Latency: time.Since(start).String(),
		}
	}
	return ComponentHealth{
		Name:    "redis",
		Status:  StatusHealthy,
		Message: "PONG",
		Latency: time.Since(start).String(),
	}
}

// checkPool checks out a connection, pings it and gives it back.
func (c *Checker) checkPool(ctx context.Context, p *pool.PooledDataSource) ComponentHealth {
	start := time.Now()
	name := "pool-" + p.Name()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := func() error {
		conn, err := p.Conn(ctx)
		if err != nil {
			return fmt.Errorf("checkout failed: %w", err)
		}
		defer conn.Close()
		if err := conn.PingContext(ctx); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		return nil
	}()
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Name:    name,
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: latency.String(),
		}
	}

	s := p.Stats()
	return ComponentHealth{
		Name:    name,
		Status:  StatusHealthy,
		Message: fmt.Sprintf("active %d/%d, idle %d/%d", s.Active, s.MaxActive, s.Idle, s.MaxIdle),
		Latency: latency.String(),
	}
}

// Stats returns the statistics of every pool.
func (c *Checker) Stats() []PoolStats {
	all := c.pools.Stats()
	out := make([]PoolStats, 0, len(all))
	for _, s := range all {
		out = append(out, PoolStats{
			Pool:                   s.Pool,
			Active:                 s.Active,
			Idle:                   s.Idle,
			MaxActive:              s.MaxActive,
			MaxIdle:                s.MaxIdle,
			Requests:               s.RequestCount,
			AverageRequestTime:     s.AverageRequestTime().String(),
			AverageCheckoutTime:    s.AverageCheckoutTime().String(),
			ClaimedOverdue:         s.ClaimedOverdueConnectionCount,
			AverageOverdueCheckout: s.AverageOverdueCheckoutTime().String(),
			HadToWait:              s.HadToWaitCount,
			AverageWaitTime:        s.AverageWaitTime().String(),
			BadConnections:         s.BadConnectionCount,
		})
	}
	return out
}

// Router returns the admin routes.
func (c *Checker) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", c.handleHealth)
	r.Get("/health/ready", c.handleHealth)
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Stats())
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (c *Checker) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())
	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[health] encoding response: %v", err)
	}
}

// ServeHTTP starts the admin server in the background.
func (c *Checker) ServeHTTP(ctx context.Context) *http.Server {
	addr := fmt.Sprintf(":%d", c.cfg.Admin.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      c.Router(),
		ReadTimeout:  c.cfg.Admin.ReadTimeout,
		WriteTimeout: c.cfg.Admin.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Printf("[health] HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[health] HTTP server error: %v", err)
		}
	}()

	return server
}
