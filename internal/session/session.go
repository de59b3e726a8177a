package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/datasource"
	"github.com/joao-brasil/mapper-runtime/internal/executor"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/transaction"
)

// ErrTooManyResults is returned by SelectOne when more than one row maps.
var ErrTooManyResults = errors.New("session: expected one result or none")

// FromConfig builds the configuration of one environment: default executor
// type and cache switch come from cfg, statements are added by the caller.
func FromConfig(cfg *config.Config, envID string, source datasource.Source, caches *cache.Factory) (*Configuration, error) {
	env, ok := cfg.EnvironmentByID(envID)
	if !ok {
		return nil, fmt.Errorf("session: unknown environment %q", envID)
	}
	execType, err := ParseExecutorType(cfg.Executor.DefaultType)
	if err != nil {
		return nil, err
	}
	c := NewConfiguration(env.ID, source)
	c.DefaultExecutor = execType
	c.CacheEnabled = cfg.Cache.Enabled
	if cfg.Cache.Enabled {
		c.Caches = caches
	}
	return c, nil
}

// Factory opens sessions over one configuration.
type Factory struct {
	cfg *Configuration
}

// NewFactory creates a session factory.
func NewFactory(cfg *Configuration) *Factory {
	return &Factory{cfg: cfg}
}

// Configuration returns the shared configuration.
func (f *Factory) Configuration() *Configuration {
	return f.cfg
}

// OpenSession starts a unit of work on an executor of the given type. No
// connection is taken until the first statement runs.
func (f *Factory) OpenSession(execType ExecutorType) *Session {
	tx := transaction.New(f.cfg.Source, f.cfg.Timeout)

	var exec executor.Executor
	switch execType {
	case Batch:
		exec = executor.NewBatch(tx, f.cfg.EnvID)
	default:
		exec = executor.NewSimple(tx, f.cfg.EnvID)
	}
	if f.cfg.CacheEnabled {
		exec = executor.NewCaching(exec)
	}

	return &Session{
		id:       uuid.NewString(),
		cfg:      f.cfg,
		exec:     exec,
		execType: execType,
	}
}

// OpenDefaultSession opens a session on the configured default executor.
func (f *Factory) OpenDefaultSession() *Session {
	return f.OpenSession(f.cfg.DefaultExecutor)
}

// Session is one unit of work. It is not safe for concurrent use.
type Session struct {
	id       string
	cfg      *Configuration
	exec     executor.Executor
	execType ExecutorType

	// dirty is set by writes and cleared by commit or rollback.
	dirty bool
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// ExecutorType returns the type of executor the session runs on.
func (s *Session) ExecutorType() ExecutorType { return s.execType }

// Dirty reports whether uncommitted writes were issued.
func (s *Session) Dirty() bool { return s.dirty }

// SelectList maps every selected row within bounds.
func (s *Session) SelectList(ctx context.Context, statement string, param any, bounds mapping.RowBounds) ([]any, error) {
	ms, err := s.cfg.Statement(statement)
	if err != nil {
		return nil, err
	}
	list, err := s.exec.Query(ctx, ms, param, bounds, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", statement, err)
	}
	return list, nil
}

// SelectOne returns the single mapped row, or nil when nothing matched.
func (s *Session) SelectOne(ctx context.Context, statement string, param any) (any, error) {
	list, err := s.SelectList(ctx, statement, param, mapping.DefaultRowBounds)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return nil, fmt.Errorf("%s: %w, but found %d", statement, ErrTooManyResults, len(list))
	}
}

// Select streams every mapped row to handler.
func (s *Session) Select(ctx context.Context, statement string, param any, bounds mapping.RowBounds, handler mapping.ResultHandler) error {
	ms, err := s.cfg.Statement(statement)
	if err != nil {
		return err
	}
	if _, err := s.exec.Query(ctx, ms, param, bounds, handler); err != nil {
		return fmt.Errorf("querying %s: %w", statement, err)
	}
	return nil
}

func (s *Session) Insert(ctx context.Context, statement string, param any) (int64, error) {
	return s.Update(ctx, statement, param)
}

func (s *Session) Delete(ctx context.Context, statement string, param any) (int64, error) {
	return s.Update(ctx, statement, param)
}

// Update runs a write statement. On a batch session the statement is queued
// and executor.BatchUpdateReturnValue is returned.
func (s *Session) Update(ctx context.Context, statement string, param any) (int64, error) {
	ms, err := s.cfg.Statement(statement)
	if err != nil {
		return 0, err
	}
	s.dirty = true
	n, err := s.exec.Update(ctx, ms, param)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", statement, err)
	}
	return n, nil
}

// FlushStatements sends queued batch statements.
func (s *Session) FlushStatements(ctx context.Context) ([]executor.BatchResult, error) {
	results, err := s.exec.FlushStatements(ctx)
	if err != nil {
		return nil, fmt.Errorf("flushing statements: %w", err)
	}
	return results, nil
}

// Commit flushes and, when writes were issued or force is set, commits.
func (s *Session) Commit(ctx context.Context, force bool) error {
	if err := s.exec.Commit(ctx, s.dirty || force); err != nil {
		return fmt.Errorf("committing session %s: %w", s.id, err)
	}
	s.dirty = false
	return nil
}

// Rollback discards queued statements and, when writes were issued or force
// is set, rolls back.
func (s *Session) Rollback(ctx context.Context, force bool) error {
	if err := s.exec.Rollback(ctx, s.dirty || force); err != nil {
		return fmt.Errorf("rolling back session %s: %w", s.id, err)
	}
	s.dirty = false
	return nil
}

// ClearCache empties the session-local cache.
func (s *Session) ClearCache() {
	s.exec.ClearLocalCache()
}

// Close ends the session, rolling back uncommitted writes, and releases its
// connection.
func (s *Session) Close(ctx context.Context) error {
	if s.exec.IsClosed() {
		return nil
	}
	if s.dirty {
		log.Printf("[session] %s closed with uncommitted changes, rolling back", s.id)
	}
	err := s.exec.Close(ctx, s.dirty)
	s.dirty = false
	return err
}
