package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
debug: true
environments:
  - id: dev
    driver: sqlserver
    url: sqlserver://localhost:1433?database=app
    username: sa
    password: secret
    auto_commit: false
    isolation: read_committed
    pool:
      max_active: 4
      ping_enabled: true
      ping_query: SELECT 1
  - id: reporting
    driver: pgx
    url: postgres://localhost:5432/reports
cache:
  backend: redis
  eviction: fifo
  size: 64
executor:
  default_type: batch
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Environments, 2)
	dev := cfg.Environments[0]
	assert.Equal(t, 4, dev.Pool.MaxActive)
	assert.Equal(t, 5, dev.Pool.MaxIdle)
	assert.Equal(t, 20*time.Second, dev.Pool.MaxCheckoutTime)
	assert.Equal(t, 20*time.Second, dev.Pool.TimeToWait)
	assert.Equal(t, 3, dev.Pool.LocalBadConnectionTolerance)
	assert.Equal(t, "SELECT 1", dev.Pool.PingQuery)
	assert.False(t, dev.IsAutoCommit())
	assert.True(t, dev.IsPooled())

	rep, ok := cfg.EnvironmentByID("reporting")
	require.True(t, ok)
	assert.True(t, rep.IsAutoCommit())
	assert.Equal(t, "NO PING QUERY SET", rep.Pool.PingQuery)

	assert.Equal(t, "fifo", cfg.Cache.Eviction)
	assert.Equal(t, 64, cfg.Cache.Size)
	assert.True(t, cfg.Cache.Serialize, "redis backend forces serialization")
	assert.True(t, cfg.Cache.IsSynchronized())
	assert.Equal(t, "batch", cfg.Executor.DefaultType)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 9090, cfg.Admin.Port)
	assert.True(t, cfg.Debug)

	_, ok = cfg.EnvironmentByID("missing")
	assert.False(t, ok)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no environments",
			yaml:    "cache: {}",
			wantErr: "at least one environment",
		},
		{
			name:    "missing id",
			yaml:    "environments: [{driver: pgx, url: x}]",
			wantErr: "environments[0].id is required",
		},
		{
			name:    "duplicate id",
			yaml:    "environments: [{id: a, driver: pgx, url: x}, {id: a, driver: pgx, url: y}]",
			wantErr: "duplicated",
		},
		{
			name:    "missing driver",
			yaml:    "environments: [{id: a, url: x}]",
			wantErr: "driver is required",
		},
		{
			name:    "bad isolation",
			yaml:    "environments: [{id: a, driver: pgx, url: x, isolation: chaos}]",
			wantErr: "isolation",
		},
		{
			name:    "bad eviction",
			yaml:    "environments: [{id: a, driver: pgx, url: x}]\ncache: {eviction: random}",
			wantErr: "cache.eviction",
		},
		{
			name:    "bad executor",
			yaml:    "environments: [{id: a, driver: pgx, url: x}]\nexecutor: {default_type: reuse}",
			wantErr: "executor.default_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Environments, 2)

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}
