package pool

import (
	"context"
	"log"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/datasource"
	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

// HealthCheck validates every idle connection and discards the ones that
// fail. With pinging enabled the configured ping query is run regardless of
// how recently the connection was used; otherwise the driver is pinged. It
// is called periodically by the maintenance loop when a health-check
// interval is configured. It returns the number of removed connections.
func (p *PooledDataSource) HealthCheck(ctx context.Context) int {
	p.mu.Lock()
	conns := make([]*PooledConn, len(p.state.idle))
	copy(conns, p.state.idle)
	p.mu.Unlock()

	unhealthy := make(map[*PooledConn]bool)
	for _, conn := range conns {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.sweepProbe(pingCtx, conn.slot.raw)
		cancel()

		if err != nil {
			log.Printf("[pool] %s: health check failed for conn %d: %v", p.name, conn.ID(), err)
			unhealthy[conn] = true
		}
	}

	if len(unhealthy) == 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	idle := make([]*PooledConn, 0, len(p.state.idle))
	for _, c := range p.state.idle {
		if !unhealthy[c] {
			idle = append(idle, c)
			continue
		}
		c.invalidate()
		p.closeRaw(c)
		p.state.badConnectionCount++
		metrics.BadConnections.WithLabelValues(p.name).Inc()
		removed++
	}
	p.state.idle = idle
	p.updateMetrics()

	if removed > 0 {
		log.Printf("[pool] %s: health check removed %d unhealthy connections", p.name, removed)
	}
	return removed
}

func (p *PooledDataSource) sweepProbe(ctx context.Context, raw datasource.Conn) error {
	if !p.pingEnabled {
		return raw.PingContext(ctx)
	}
	if err := probe(ctx, raw, p.pingQuery); err != nil {
		return err
	}
	if !raw.AutoCommit() {
		return raw.Rollback()
	}
	return nil
}

// maintenanceLoop runs HealthCheck until the pool is closed.
func (p *PooledDataSource) maintenanceLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.HealthCheck(context.Background())
		}
	}
}
