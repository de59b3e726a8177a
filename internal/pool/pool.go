// Package pool provides a pooled data source on top of the unpooled
// connection factory. Checkout prefers idle connections, opens new ones up to
// max-active, reclaims the longest-held connection once it is overdue, and
// otherwise waits for a checkin. Every state change happens under one mutex.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/datasource"
	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

var (
	// ErrNoConnection means Acquire gave up: too many bad connections in a
	// row, a failed open, or the wait was interrupted.
	ErrNoConnection = errors.New("pool: could not get a good connection to the database")

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrInvariant is returned if the acquire loop ends without a connection
	// and without any error path firing.
	ErrInvariant = errors.New("pool: unknown severe error condition, the pool returned a nil connection")
)

const pingTimeout = 5 * time.Second

// PooledDataSource pools physical connections opened by an unpooled data source.
type PooledDataSource struct {
	name string
	ds   *datasource.Unpooled

	mu    sync.Mutex
	state State

	// wake is closed and replaced on every checkin to broadcast to waiters.
	wake chan struct{}

	maxActive                   int
	maxIdle                     int
	maxCheckoutTime             time.Duration
	timeToWait                  time.Duration
	localBadConnectionTolerance int
	pingQuery                   string
	pingEnabled                 bool
	pingNotUsedFor              time.Duration
	healthCheckInterval         time.Duration

	expectedTypeCode uint64
	debug            bool
	closed           bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ datasource.Source = (*PooledDataSource)(nil)

// New creates a pool over ds. Zero values in cfg fall back to the defaults
// applied by the config package.
func New(name string, ds *datasource.Unpooled, cfg config.PoolConfig) *PooledDataSource {
	p := &PooledDataSource{
		name:                        name,
		ds:                          ds,
		wake:                        make(chan struct{}),
		maxActive:                   orInt(cfg.MaxActive, 10),
		maxIdle:                     orInt(cfg.MaxIdle, 5),
		maxCheckoutTime:             orDuration(cfg.MaxCheckoutTime, 20*time.Second),
		timeToWait:                  orDuration(cfg.TimeToWait, 20*time.Second),
		localBadConnectionTolerance: orInt(cfg.LocalBadConnectionTolerance, 3),
		pingQuery:                   cfg.PingQuery,
		pingEnabled:                 cfg.PingEnabled,
		pingNotUsedFor:              cfg.PingNotUsedFor,
		healthCheckInterval:         cfg.HealthCheckInterval,
		stopCh:                      make(chan struct{}),
	}
	if p.pingQuery == "" {
		p.pingQuery = "NO PING QUERY SET"
	}
	s := ds.Settings()
	p.expectedTypeCode = typeCode(s.URL, s.Username, s.Password)

	metrics.ConnectionsMax.WithLabelValues(name).Set(float64(p.maxActive))
	p.updateMetrics()

	if p.healthCheckInterval > 0 {
		p.wg.Add(1)
		go p.maintenanceLoop()
	}

	log.Printf("[pool] %s: initialized, max_active=%d, max_idle=%d, max_checkout=%s",
		name, p.maxActive, p.maxIdle, p.maxCheckoutTime)
	return p
}

// NewFromEnvironment builds the unpooled factory and the pool for env.
func NewFromEnvironment(env *config.Environment) (*PooledDataSource, error) {
	ds, err := UnpooledFromEnvironment(env)
	if err != nil {
		return nil, err
	}
	return New(env.ID, ds, env.Pool), nil
}

// UnpooledFromEnvironment builds the physical connection factory for env.
func UnpooledFromEnvironment(env *config.Environment) (*datasource.Unpooled, error) {
	level, err := datasource.ParseIsolation(env.Isolation)
	if err != nil {
		return nil, fmt.Errorf("environment %s: %w", env.ID, err)
	}
	return datasource.NewUnpooledFromSettings(datasource.Settings{
		Driver:         env.Driver,
		URL:            env.URL,
		Username:       env.Username,
		Password:       env.Password,
		Properties:     env.Properties,
		AutoCommit:     env.IsAutoCommit(),
		Isolation:      level,
		NetworkTimeout: env.NetworkTimeout,
	}), nil
}

// Name returns the pool name used in logs and metrics.
func (p *PooledDataSource) Name() string {
	return p.name
}

// SetDebug toggles per-checkout log lines.
func (p *PooledDataSource) SetDebug(debug bool) {
	p.mu.Lock()
	p.debug = debug
	p.mu.Unlock()
}

// Conn acquires a connection with the default credentials.
func (p *PooledDataSource) Conn(ctx context.Context) (datasource.Conn, error) {
	s := p.ds.Settings()
	conn, err := p.Acquire(ctx, s.Username, s.Password)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Acquire checks out a connection. It blocks while the pool is saturated and
// no active connection is overdue; ctx cancellation aborts the wait.
func (p *PooledDataSource) Acquire(ctx context.Context, username, password string) (*PooledConn, error) {
	start := time.Now()
	countedWait := false
	localBadConnectionCount := 0

	p.mu.Lock()
	defer p.mu.Unlock()

	var conn *PooledConn
	for conn == nil {
		if p.closed {
			return nil, ErrPoolClosed
		}

		switch {
		case len(p.state.idle) > 0:
			conn = p.state.idle[0]
			p.state.idle = p.state.idle[1:]
			p.debugf("checked out connection %d from pool", conn.ID())

		case len(p.state.active) < p.maxActive:
			raw, err := p.ds.Open(ctx, username, password)
			if err != nil {
				metrics.CheckoutsTotal.WithLabelValues(p.name, "open_failed").Inc()
				return nil, fmt.Errorf("%w: opening connection: %w", ErrNoConnection, err)
			}
			conn = newPooledConn(p, newSlot(raw))
			p.debugf("created connection %d", conn.ID())

		default:
			oldest := p.state.active[0]
			longest := oldest.checkoutDuration()
			if longest > p.maxCheckoutTime {
				p.state.claimedOverdueConnectionCount++
				p.state.accumulatedCheckoutTimeOfOverdueConnections += longest
				p.state.accumulatedCheckoutTime += longest
				p.state.active = p.state.active[1:]

				raw := oldest.slot.raw
				if !raw.AutoCommit() {
					if err := raw.Rollback(); err != nil {
						p.debugf("bad connection %d, could not roll back: %v", oldest.ID(), err)
					}
				}
				conn = p.recycle(oldest)
				metrics.OverdueClaims.WithLabelValues(p.name).Inc()
				log.Printf("[pool] %s: claimed overdue connection %d (held %s)", p.name, conn.ID(), longest)
				break
			}

			if !countedWait {
				p.state.hadToWaitCount++
				countedWait = true
			}
			p.debugf("waiting as long as %s for connection", p.timeToWait)
			if err := p.waitLocked(ctx); err != nil {
				metrics.CheckoutsTotal.WithLabelValues(p.name, "interrupted").Inc()
				return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
			}
			continue
		}

		if conn.validLocked() {
			raw := conn.slot.raw
			if !raw.AutoCommit() {
				if err := raw.Rollback(); err != nil {
					p.debugf("connection %d rollback before checkout failed: %v", conn.ID(), err)
				}
			}
			now := time.Now()
			conn.mu.Lock()
			conn.typeCode = typeCode(p.ds.Settings().URL, username, password)
			conn.checkoutAt = now
			conn.lastUsedAt = now
			conn.mu.Unlock()

			p.state.active = append(p.state.active, conn)
			p.state.requestCount++
			p.state.accumulatedRequestTime += time.Since(start)
			break
		}

		p.debugf("a bad connection (%d) was returned from the pool, getting another connection", conn.ID())
		p.state.badConnectionCount++
		localBadConnectionCount++
		metrics.BadConnections.WithLabelValues(p.name).Inc()
		conn.invalidate()
		p.closeRaw(conn)
		conn = nil

		if localBadConnectionCount > p.maxIdle+p.localBadConnectionTolerance {
			log.Printf("[pool] %s: could not get a good connection to the database after %d attempts",
				p.name, localBadConnectionCount)
			metrics.CheckoutsTotal.WithLabelValues(p.name, "bad_connections").Inc()
			return nil, ErrNoConnection
		}
	}

	if conn == nil {
		return nil, ErrInvariant
	}

	p.updateMetrics()
	metrics.CheckoutsTotal.WithLabelValues(p.name, "acquired").Inc()
	if countedWait {
		metrics.WaitDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	}
	return conn, nil
}

// waitLocked releases the mutex until a checkin broadcast, the wait timeout,
// or ctx cancellation, and reacquires it before returning.
func (p *PooledDataSource) waitLocked(ctx context.Context) error {
	wake := p.wake
	wait := p.timeToWait
	p.mu.Unlock()

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	began := time.Now()
	var err error
	select {
	case <-wake:
	case <-timeout:
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.mu.Lock()
	p.state.accumulatedWaitTime += time.Since(began)
	return err
}

// broadcastLocked wakes every goroutine blocked in waitLocked.
func (p *PooledDataSource) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Release returns conn to the pool. Valid connections go back to idle when
// there is room and they were opened for the current configuration;
// otherwise the physical connection is closed. An invalid handle only bumps
// the bad-connection counter. Waiters are woken in every case.
func (p *PooledDataSource) Release(conn *PooledConn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.removeActive(conn)

	if !conn.validLocked() {
		p.debugf("a bad connection (%d) attempted to return to the pool, discarding connection", conn.ID())
		p.state.badConnectionCount++
		metrics.BadConnections.WithLabelValues(p.name).Inc()
		p.broadcastLocked()
		p.updateMetrics()
		return
	}

	p.state.accumulatedCheckoutTime += conn.checkoutDuration()

	conn.mu.Lock()
	code := conn.typeCode
	conn.mu.Unlock()

	raw := conn.slot.raw
	if !p.closed && len(p.state.idle) < p.maxIdle && code == p.expectedTypeCode {
		if !raw.AutoCommit() {
			if err := raw.Rollback(); err != nil {
				p.debugf("connection %d rollback on return failed: %v", conn.ID(), err)
			}
		}
		fresh := p.recycle(conn)
		p.state.idle = append([]*PooledConn{fresh}, p.state.idle...)
		p.debugf("returned connection %d to pool", fresh.ID())
		p.broadcastLocked()
	} else {
		conn.invalidate()
		p.closeRaw(conn)
		p.debugf("closed connection %d", conn.ID())
		p.broadcastLocked()
	}

	p.updateMetrics()
	metrics.CheckoutsTotal.WithLabelValues(p.name, "released").Inc()
}

// recycle issues a new handle for the slot behind old, preserving its
// timestamps, and invalidates old.
func (p *PooledDataSource) recycle(old *PooledConn) *PooledConn {
	old.mu.Lock()
	created, lastUsed := old.createdAt, old.lastUsedAt
	old.mu.Unlock()

	fresh := newPooledConn(p, old.slot)
	fresh.createdAt = created
	fresh.lastUsedAt = lastUsed
	old.invalidate()
	return fresh
}

// pingLocked validates the physical connection behind c. The probe only
// runs when pinging is enabled and the connection has sat unused longer than
// the configured threshold; a failed probe closes the physical connection.
func (p *PooledDataSource) pingLocked(c *PooledConn) bool {
	raw := c.slot.raw
	if raw.IsClosed() {
		p.debugf("connection %d is BAD: closed", c.ID())
		return false
	}

	if !p.pingEnabled || p.pingNotUsedFor < 0 || c.sinceLastUse() <= p.pingNotUsedFor {
		return true
	}

	p.debugf("testing connection %d ...", c.ID())
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	err := probe(ctx, raw, p.pingQuery)
	if err == nil && !raw.AutoCommit() {
		err = raw.Rollback()
	}
	if err != nil {
		log.Printf("[pool] %s: execution of ping query '%s' failed: %v", p.name, p.pingQuery, err)
		if cerr := raw.Close(); cerr != nil {
			p.debugf("closing connection %d after failed ping: %v", c.ID(), cerr)
		}
		return false
	}
	p.debugf("connection %d is GOOD", c.ID())
	return true
}

func probe(ctx context.Context, raw datasource.Conn, query string) error {
	rows, err := raw.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return rows.Err()
}

// ForceCloseAll closes every active and idle connection and recomputes the
// expected connection fingerprint. Individual failures are swallowed.
func (p *PooledDataSource) ForceCloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceCloseAllLocked()
	log.Printf("[pool] %s: forcefully closed/removed all connections", p.name)
}

func (p *PooledDataSource) forceCloseAllLocked() {
	s := p.ds.Settings()
	p.expectedTypeCode = typeCode(s.URL, s.Username, s.Password)

	for i := len(p.state.active) - 1; i >= 0; i-- {
		c := p.state.active[i]
		c.invalidate()
		p.closeRaw(c)
	}
	p.state.active = nil

	for i := len(p.state.idle) - 1; i >= 0; i-- {
		c := p.state.idle[i]
		c.invalidate()
		p.closeRaw(c)
	}
	p.state.idle = nil

	p.broadcastLocked()
	p.updateMetrics()
}

// closeRaw rolls back and closes the physical connection behind c,
// logging instead of returning failures.
func (p *PooledDataSource) closeRaw(c *PooledConn) {
	raw := c.slot.raw
	if raw.IsClosed() {
		return
	}
	if !raw.AutoCommit() {
		if err := raw.Rollback(); err != nil {
			p.debugf("rollback of connection %d failed: %v", c.ID(), err)
		}
	}
	if err := raw.Close(); err != nil {
		log.Printf("[pool] %s: closing connection %d: %v", p.name, c.ID(), err)
	}
}

// Close shuts the pool down; later Acquire calls fail with ErrPoolClosed.
func (p *PooledDataSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.forceCloseAllLocked()
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[pool] %s: pool closed", p.name)
	return nil
}

// Stats returns a snapshot of the pool state.
func (p *PooledDataSource) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.snapshot(p.name, p.maxActive, p.maxIdle)
}

// updateMetrics refreshes Prometheus gauges for this pool.
func (p *PooledDataSource) updateMetrics() {
	metrics.ConnectionsActive.WithLabelValues(p.name).Set(float64(len(p.state.active)))
	metrics.ConnectionsIdle.WithLabelValues(p.name).Set(float64(len(p.state.idle)))
}

func (p *PooledDataSource) debugf(format string, args ...any) {
	if p.debug {
		log.Printf("[pool] "+p.name+": "+format, args...)
	}
}

// typeCode fingerprints the identity a connection was opened for.
func typeCode(url, username, password string) uint64 {
	return xxhash.Sum64String(url + "\x00" + username + "\x00" + password)
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
