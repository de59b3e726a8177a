package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/datasource"
)

// ErrUnknownEnvironment is returned for an environment id that was never configured.
var ErrUnknownEnvironment = errors.New("pool: unknown environment")

// Manager owns one data source per configured environment. Pooled
// environments get a PooledDataSource; the rest an unpooled factory.
type Manager struct {
	mu       sync.RWMutex
	pools    map[string]*PooledDataSource
	unpooled map[string]*datasource.Unpooled
}

// NewManager builds a data source for every environment in cfg.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		pools:    make(map[string]*PooledDataSource, len(cfg.Environments)),
		unpooled: make(map[string]*datasource.Unpooled),
	}

	for i := range cfg.Environments {
		env := &cfg.Environments[i]
		if !env.IsPooled() {
			ds, err := UnpooledFromEnvironment(env)
			if err != nil {
				m.Close()
				return nil, fmt.Errorf("initializing data source for environment %s: %w", env.ID, err)
			}
			m.unpooled[env.ID] = ds
			continue
		}

		p, err := NewFromEnvironment(env)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("initializing pool for environment %s: %w", env.ID, err)
		}
		p.SetDebug(cfg.Debug)
		m.pools[env.ID] = p
	}

	log.Printf("[pool] Manager initialized: %d pooled, %d unpooled environments", len(m.pools), len(m.unpooled))
	return m, nil
}

// Source returns the data source of an environment.
func (m *Manager) Source(envID string) (datasource.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.pools[envID]; ok {
		return p, nil
	}
	if u, ok := m.unpooled[envID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEnvironment, envID)
}

// Pool returns the pooled data source of an environment.
func (m *Manager) Pool(envID string) (*PooledDataSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[envID]
	return p, ok
}

// Conn checks out a connection from the environment's data source.
func (m *Manager) Conn(ctx context.Context, envID string) (datasource.Conn, error) {
	src, err := m.Source(envID)
	if err != nil {
		return nil, err
	}
	return src.Conn(ctx)
}

// Pools returns the pooled data sources ordered by name.
func (m *Manager) Pools() []*PooledDataSource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*PooledDataSource, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Stats returns pool statistics for every pooled environment.
func (m *Manager) Stats() []Stats {
	pools := m.Pools()
	stats := make([]Stats, 0, len(pools))
	for _, p := range pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// Close shuts down every pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, p := range m.pools {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing pool %s: %w", id, err))
		}
	}
	m.pools = nil
	m.unpooled = nil

	log.Println("[pool] Manager closed")
	return errors.Join(errs...)
}
