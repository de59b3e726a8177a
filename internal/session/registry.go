package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joao-brasil/mapper-runtime/internal/mapping"
)

var (
	// ErrMethodNotFound is returned for a method id that was never registered.
	ErrMethodNotFound = errors.New("session: method not registered")

	// ErrNotBatchSession is returned when a batch method runs on a session
	// that does not accumulate statements.
	ErrNotBatchSession = errors.New("session: batch method requires a batch session")
)

// InvokerKind tags how a resolved method runs.
type InvokerKind int

const (
	// KindSimple dispatches on the statement's command type.
	KindSimple InvokerKind = iota
	// KindBatch queues the statement on a batch session.
	KindBatch
	// KindDefault calls a Go function with the session.
	KindDefault
)

func (k InvokerKind) String() string {
	switch k {
	case KindBatch:
		return "batch"
	case KindDefault:
		return "default"
	default:
		return "simple"
	}
}

// DefaultFunc is the body of a method implemented in Go on top of a session.
type DefaultFunc func(ctx context.Context, s *Session, param any) (any, error)

// Method declares one callable operation. Exactly one of Statement or
// Default is set.
type Method struct {
	ID        string
	Statement string
	Batch     bool
	Default   DefaultFunc
}

// Invoker is a resolved Method.
type Invoker struct {
	Kind      InvokerKind
	Statement *mapping.MappedStatement
	Func      DefaultFunc
}

// Invoke runs the method on s. Select statements return []any; writes
// return the update count; flush statements return the batch results.
func (inv Invoker) Invoke(ctx context.Context, s *Session, param any) (any, error) {
	switch inv.Kind {
	case KindDefault:
		return inv.Func(ctx, s, param)
	case KindBatch:
		if s.ExecutorType() != Batch {
			return nil, fmt.Errorf("%s: %w", inv.Statement.ID, ErrNotBatchSession)
		}
		return s.Update(ctx, inv.Statement.ID, param)
	}

	id := inv.Statement.ID
	switch inv.Statement.Command {
	case mapping.Select:
		return s.SelectList(ctx, id, param, mapping.DefaultRowBounds)
	case mapping.Insert:
		return s.Insert(ctx, id, param)
	case mapping.Update:
		return s.Update(ctx, id, param)
	case mapping.Delete:
		return s.Delete(ctx, id, param)
	case mapping.Flush:
		return s.FlushStatements(ctx)
	default:
		return nil, fmt.Errorf("session: unknown execution method for %s", id)
	}
}

// Registry maps method ids to invokers. Invokers are resolved against the
// configuration on first use and cached until Reset.
type Registry struct {
	cfg *Configuration

	mu       sync.Mutex
	methods  map[string]Method
	invokers map[string]Invoker
}

// NewRegistry creates an empty registry over cfg.
func NewRegistry(cfg *Configuration) *Registry {
	return &Registry{
		cfg:      cfg,
		methods:  make(map[string]Method),
		invokers: make(map[string]Invoker),
	}
}

// Register declares a method. Re-registering an id replaces it and drops
// its cached invoker.
func (r *Registry) Register(m Method) error {
	if m.ID == "" {
		return errors.New("session: method id is required")
	}
	if (m.Statement == "") == (m.Default == nil) {
		return fmt.Errorf("session: method %s needs exactly one of statement or default func", m.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[m.ID] = m
	delete(r.invokers, m.ID)
	return nil
}

// Resolve returns the invoker for a method id, building and caching it on
// first use.
func (r *Registry) Resolve(id string) (Invoker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inv, ok := r.invokers[id]; ok {
		return inv, nil
	}
	m, ok := r.methods[id]
	if !ok {
		return Invoker{}, fmt.Errorf("%w: %s", ErrMethodNotFound, id)
	}

	var inv Invoker
	if m.Default != nil {
		inv = Invoker{Kind: KindDefault, Func: m.Default}
	} else {
		ms, err := r.cfg.Statement(m.Statement)
		if err != nil {
			return Invoker{}, fmt.Errorf("resolving method %s: %w", id, err)
		}
		inv = Invoker{Kind: KindSimple, Statement: ms}
		if m.Batch {
			inv.Kind = KindBatch
		}
	}
	r.invokers[id] = inv
	return inv, nil
}

// Invoke resolves id and runs it on s.
func (r *Registry) Invoke(ctx context.Context, s *Session, id string, param any) (any, error) {
	inv, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	return inv.Invoke(ctx, s, param)
}

// Cached reports whether an invoker for id is cached.
func (r *Registry) Cached(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.invokers[id]
	return ok
}

// Reset drops every cached invoker. Declared methods are kept.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.invokers)
}
