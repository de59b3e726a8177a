package pool

import (
	"database/sql"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

// Every setter below except SetLocalBadConnectionTolerance changes what a
// pooled connection looks like, so it drops all tracked connections.

func (p *PooledDataSource) SetDriver(driver string) {
	p.ds.SetDriver(driver)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetURL(url string) {
	p.ds.SetURL(url)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetUsername(username string) {
	p.ds.SetUsername(username)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetPassword(password string) {
	p.ds.SetPassword(password)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetDriverProperties(props map[string]string) {
	p.ds.SetProperties(props)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetAutoCommit(autoCommit bool) {
	p.ds.SetAutoCommit(autoCommit)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetIsolationLevel(level sql.IsolationLevel) {
	p.ds.SetIsolation(level)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetNetworkTimeout(d time.Duration) {
	p.ds.SetNetworkTimeout(d)
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetMaxActive(n int) {
	p.mu.Lock()
	p.maxActive = n
	p.mu.Unlock()
	p.ForceCloseAll()
	metrics.ConnectionsMax.WithLabelValues(p.name).Set(float64(n))
}

func (p *PooledDataSource) SetMaxIdle(n int) {
	p.mu.Lock()
	p.maxIdle = n
	p.mu.Unlock()
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetMaxCheckoutTime(d time.Duration) {
	p.mu.Lock()
	p.maxCheckoutTime = d
	p.mu.Unlock()
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetTimeToWait(d time.Duration) {
	p.mu.Lock()
	p.timeToWait = d
	p.mu.Unlock()
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetPingQuery(query string) {
	p.mu.Lock()
	p.pingQuery = query
	p.mu.Unlock()
	p.ForceCloseAll()
}

func (p *PooledDataSource) SetPingEnabled(enabled bool) {
	p.mu.Lock()
	p.pingEnabled = enabled
	p.mu.Unlock()
	p.ForceCloseAll()
}

// SetPingNotUsedFor sets how long a connection must sit unused before it is
// probed. A negative value disables probing.
func (p *PooledDataSource) SetPingNotUsedFor(d time.Duration) {
	p.mu.Lock()
	p.pingNotUsedFor = d
	p.mu.Unlock()
	p.ForceCloseAll()
}

// SetLocalBadConnectionTolerance changes how many extra bad connections one
// Acquire call tolerates beyond max-idle. Tracked connections are kept.
func (p *PooledDataSource) SetLocalBadConnectionTolerance(n int) {
	p.mu.Lock()
	p.localBadConnectionTolerance = n
	p.mu.Unlock()
}
