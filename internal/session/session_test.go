package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/datasource"
	"github.com/joao-brasil/mapper-runtime/internal/executor"
	"github.com/joao-brasil/mapper-runtime/internal/fakedb"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/pool"
)

const (
	selectAll  = "SELECT v FROM items"
	insertItem = "INSERT INTO items (v) VALUES (?)"
)

func newTestConfiguration(t *testing.T, autoCommit bool) (*Configuration, *fakedb.DB, *pool.PooledDataSource) {
	t.Helper()
	fdb := fakedb.New()
	ds := datasource.NewUnpooledFromSettings(datasource.Settings{
		Driver:     fakedb.DriverName,
		URL:        fdb.URL(),
		AutoCommit: autoCommit,
	})
	p := pool.New(t.Name(), ds, config.PoolConfig{})
	t.Cleanup(func() { p.Close() })

	cfg := NewConfiguration("test", p)
	addStatements(t, cfg)
	return cfg, fdb, p
}

func addStatements(t *testing.T, cfg *Configuration) {
	t.Helper()
	require.NoError(t, cfg.AddStatement(&mapping.MappedStatement{
		ID:       "items.all",
		Command:  mapping.Select,
		Source:   mapping.StaticSource{SQL: selectAll},
		UseCache: true,
	}))
	require.NoError(t, cfg.AddStatement(&mapping.MappedStatement{
		ID:      "items.insert",
		Command: mapping.Insert,
		Source:  mapping.StaticSource{SQL: insertItem},
	}))
	require.NoError(t, cfg.AddStatement(&mapping.MappedStatement{
		ID:      "items.delete",
		Command: mapping.Delete,
		Source:  mapping.StaticSource{SQL: "DELETE FROM items WHERE v = ?"},
	}))
	require.NoError(t, cfg.AddStatement(&mapping.MappedStatement{
		ID:      "items.flush",
		Command: mapping.Flush,
		Source:  mapping.StaticSource{},
	}))
}

func TestSessionCommitsDirtyWork(t *testing.T) {
	cfg, fdb, p := newTestConfiguration(t, false)
	ctx := context.Background()
	s := NewFactory(cfg).OpenSession(Simple)
	assert.NotEmpty(t, s.ID())

	row, err := s.SelectOne(ctx, "items.all", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": int64(1)}, row)
	assert.False(t, s.Dirty())

	n, err := s.Insert(ctx, "items.insert", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, s.Dirty())

	require.NoError(t, s.Commit(ctx, false))
	assert.False(t, s.Dirty())
	assert.Equal(t, 1, fdb.Stats().Commits)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, p.Stats().Idle, "connection returned to the pool")
}

func TestSessionCloseRollsBackDirtyWork(t *testing.T) {
	cfg, fdb, _ := newTestConfiguration(t, false)
	ctx := context.Background()
	s := NewFactory(cfg).OpenSession(Simple)

	_, err := s.Delete(ctx, "items.delete", 3)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	stats := fdb.Stats()
	assert.Equal(t, 0, stats.Commits)
	assert.Equal(t, 1, stats.Rollbacks)
}

func TestSessionUnknownStatement(t *testing.T) {
	cfg, _, _ := newTestConfiguration(t, true)
	ctx := context.Background()
	s := NewFactory(cfg).OpenSession(Simple)
	defer s.Close(ctx)

	_, err := s.SelectList(ctx, "items.missing", nil, mapping.DefaultRowBounds)
	assert.ErrorIs(t, err, ErrStatementNotFound)
	_, err = s.Update(ctx, "items.missing", nil)
	assert.ErrorIs(t, err, ErrStatementNotFound)
	assert.False(t, s.Dirty())
}

func TestBatchSessionQueuesUntilFlush(t *testing.T) {
	cfg, fdb, _ := newTestConfiguration(t, true)
	ctx := context.Background()
	s := NewFactory(cfg).OpenSession(Batch)
	defer s.Close(ctx)
	assert.Equal(t, Batch, s.ExecutorType())

	for i := range 3 {
		n, err := s.Insert(ctx, "items.insert", i)
		require.NoError(t, err)
		assert.Equal(t, int64(executor.BatchUpdateReturnValue), n)
	}
	assert.Empty(t, fdb.Stats().Execs)

	results, err := s.FlushStatements(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "items.insert", results[0].StatementID)
	assert.Equal(t, []any{0, 1, 2}, results[0].Parameters)
	assert.Equal(t, []int64{1, 1, 1}, results[0].UpdateCounts)
	assert.Len(t, fdb.Stats().Execs, 3)
}

func TestSelectStreamsToHandler(t *testing.T) {
	cfg, _, _ := newTestConfiguration(t, true)
	ctx := context.Background()
	s := NewFactory(cfg).OpenSession(Simple)
	defer s.Close(ctx)

	var got []any
	err := s.Select(ctx, "items.all", nil, mapping.DefaultRowBounds, func(rc *mapping.ResultContext) {
		got = append(got, rc.Object())
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSharedCacheAcrossSessions(t *testing.T) {
	fdb := fakedb.New()
	ds := datasource.NewUnpooled(fakedb.DriverName, fdb.URL(), "", "")
	p := pool.New(t.Name(), ds, config.PoolConfig{})
	defer p.Close()

	root := &config.Config{Cache: config.CacheConfig{Enabled: true, Eviction: "lru"}}
	caches, err := cache.NewFactory(root, nil)
	require.NoError(t, err)

	cfg := NewConfiguration("test", p)
	cfg.CacheEnabled = true
	cfg.Caches = caches
	addStatements(t, cfg)

	shared, ok := cfg.Cache("items")
	require.True(t, ok)

	ctx := context.Background()
	f := NewFactory(cfg)

	first := f.OpenSession(Simple)
	_, err = first.SelectList(ctx, "items.all", nil, mapping.DefaultRowBounds)
	require.NoError(t, err)
	assert.Equal(t, 0, shared.Size())
	require.NoError(t, first.Commit(ctx, false))
	require.NoError(t, first.Close(ctx))
	assert.Equal(t, 1, shared.Size())

	second := f.OpenSession(Simple)
	defer second.Close(ctx)
	list, err := second.SelectList(ctx, "items.all", nil, mapping.DefaultRowBounds)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, fdb.Stats().Queries, 1, "second session served from the shared cache")
}

func TestConfigurationRejectsDuplicates(t *testing.T) {
	cfg := NewConfiguration("test", nil)
	ms := &mapping.MappedStatement{ID: "a.b", Source: mapping.StaticSource{SQL: "SELECT 1"}}
	require.NoError(t, cfg.AddStatement(ms))
	assert.ErrorIs(t, cfg.AddStatement(ms), ErrDuplicateStatement)
	assert.Error(t, cfg.AddStatement(&mapping.MappedStatement{ID: "a.c"}))
	assert.Equal(t, []string{"a.b"}, cfg.StatementIDs())
}

func TestFromConfig(t *testing.T) {
	root, err := config.Parse([]byte(`
environments:
  - id: primary
    driver: fakedb
    url: fakedb://none
executor:
  default_type: batch
cache:
  enabled: true
`))
	require.NoError(t, err)

	cfg, err := FromConfig(root, "primary", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.EnvID)
	assert.Equal(t, Batch, cfg.DefaultExecutor)
	assert.True(t, cfg.CacheEnabled)

	_, err = FromConfig(root, "missing", nil, nil)
	assert.Error(t, err)
}

func TestParseExecutorType(t *testing.T) {
	for in, want := range map[string]ExecutorType{"": Simple, "simple": Simple, "BATCH": Batch} {
		got, err := ParseExecutorType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseExecutorType("reuse")
	assert.Error(t, err)
	assert.Equal(t, "batch", Batch.String())
}
