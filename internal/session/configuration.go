// Package session is the caller-facing layer: a Factory opens Sessions over
// one environment's data source, each Session owns one executor and one
// transaction, and a Registry dispatches named methods onto sessions.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
	"github.com/joao-brasil/mapper-runtime/internal/datasource"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
)

var (
	// ErrStatementNotFound is returned for an unknown statement id.
	ErrStatementNotFound = errors.New("session: mapped statement not found")

	// ErrDuplicateStatement is returned when a statement id is registered twice.
	ErrDuplicateStatement = errors.New("session: mapped statement already registered")
)

// ExecutorType selects the executor a session runs on.
type ExecutorType int

const (
	Simple ExecutorType = iota
	Batch
)

func (t ExecutorType) String() string {
	switch t {
	case Batch:
		return "batch"
	default:
		return "simple"
	}
}

// ParseExecutorType maps "simple" and "batch" (any case) to an ExecutorType.
// An empty string is Simple.
func ParseExecutorType(s string) (ExecutorType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple":
		return Simple, nil
	case "batch":
		return Batch, nil
	default:
		return Simple, fmt.Errorf("session: unknown executor type %q", s)
	}
}

// Configuration is everything sessions of one environment share.
type Configuration struct {
	EnvID           string
	Source          datasource.Source
	DefaultExecutor ExecutorType

	// CacheEnabled wraps every executor with the second-level cache.
	CacheEnabled bool

	// Timeout bounds each statement when positive.
	Timeout time.Duration

	// Caches builds the second-level cache for a namespace; nil leaves
	// statements without one.
	Caches *cache.Factory

	mu         sync.RWMutex
	statements map[string]*mapping.MappedStatement
	namespaces map[string]cache.Cache
}

// NewConfiguration creates an empty configuration over source.
func NewConfiguration(envID string, source datasource.Source) *Configuration {
	return &Configuration{
		EnvID:      envID,
		Source:     source,
		statements: make(map[string]*mapping.MappedStatement),
		namespaces: make(map[string]cache.Cache),
	}
}

// AddStatement registers ms under its id. When a cache factory is set and
// the statement has no cache of its own, it gets the cache of its namespace
// (the id up to the last dot).
func (c *Configuration) AddStatement(ms *mapping.MappedStatement) error {
	if err := ms.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.statements[ms.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStatement, ms.ID)
	}
	if ms.Cache == nil && c.Caches != nil {
		ns := namespace(ms.ID)
		cc, ok := c.namespaces[ns]
		if !ok {
			cc = c.Caches.New(ns)
			c.namespaces[ns] = cc
		}
		ms.Cache = cc
	}
	c.statements[ms.ID] = ms
	return nil
}

// Statement looks up a registered statement.
func (c *Configuration) Statement(id string) (*mapping.MappedStatement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.statements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStatementNotFound, id)
	}
	return ms, nil
}

// StatementIDs returns every registered id in sorted order.
func (c *Configuration) StatementIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.statements))
	for id := range c.statements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cache returns the shared cache of a namespace, if one was built.
func (c *Configuration) Cache(ns string) (cache.Cache, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cc, ok := c.namespaces[ns]
	return cc, ok
}

func namespace(id string) string {
	if i := strings.LastIndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}
