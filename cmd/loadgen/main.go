// Package main is the load generator: it opens sessions against one
// configured environment from many goroutines, queues batched inserts,
// runs cached selects and reports pool statistics.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/health"
	"github.com/joao-brasil/mapper-runtime/internal/pool"
	"github.com/joao-brasil/mapper-runtime/internal/session"
)

type flags struct {
	configPath string
	env        string
	workers    int
	iterations int
	batch      int
	insertSQL  string
	selectSQL  string
	serve      bool
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive a batched and cached workload through the mapper runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, f)
		},
		SilenceUsage: true,
	}

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "configs/loadgen.yaml", "Path to the configuration file")
	fs.StringVar(&f.env, "env", "", "Environment id to run against (default: first configured)")
	fs.IntVar(&f.workers, "workers", 8, "Concurrent workers")
	fs.IntVar(&f.iterations, "iterations", 100, "Units of work per worker")
	fs.IntVar(&f.batch, "batch", 10, "Inserts queued per unit of work (0 runs them one by one)")
	fs.StringVar(&f.insertSQL, "insert-sql", "INSERT INTO loadgen_events (worker, seq) VALUES (?, ?)", "Insert statement taking worker and sequence")
	fs.StringVar(&f.selectSQL, "select-sql", "SELECT COUNT(*) FROM loadgen_events WHERE worker = ?", "Select statement taking worker")
	fs.BoolVar(&f.serve, "serve", false, "Keep serving the admin endpoints after the run until interrupted")
	return cmd
}

func run(ctx context.Context, f *flags) error {
	log.Println("[main] Starting load generator")

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	envID := f.env
	if envID == "" {
		envID = cfg.Environments[0].ID
	}
	log.Printf("[main] Configuration loaded: %d environments, target=%s", len(cfg.Environments), envID)

	mgr, err := pool.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("initializing pools: %w", err)
	}
	defer func() {
		log.Println("[main] Closing pool manager...")
		if err := mgr.Close(); err != nil {
			log.Printf("[main] Pool manager close error: %v", err)
		}
	}()

	var rdb redis.UniversalClient
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
		if rdb, err = cache.NewRedisClient(ctx, cfg.Redis); err != nil {
			return fmt.Errorf("initializing redis: %w", err)
		}
		defer rdb.Close()
	}

	checker := health.NewChecker(cfg, mgr, rdb)
	adminServer := checker.ServeHTTP(ctx)
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := adminServer.Shutdown(shutCtx); err != nil {
			log.Printf("[main] Admin server shutdown error: %v", err)
		}
	}()

	factory, err := buildFactory(cfg, mgr, rdb, envID, f)
	if err != nil {
		return err
	}

	summary := runWorkload(ctx, factory, workload{
		workers:    f.workers,
		iterations: f.iterations,
		batch:      f.batch,
	})
	log.Printf("[main] %s", summary)

	if p, ok := mgr.Pool(envID); ok {
		log.Printf("[main] Pool report:\n%s", p.Stats())
	}

	if f.serve {
		log.Println("[main] Serving admin endpoints. Waiting for shutdown signal...")
		<-ctx.Done()
	}
	log.Println("[main] Shutdown complete.")
	return nil
}

func buildFactory(cfg *config.Config, mgr *pool.Manager, rdb redis.UniversalClient, envID string, f *flags) (*session.Factory, error) {
	src, err := mgr.Source(envID)
	if err != nil {
		return nil, err
	}
	caches, err := cache.NewFactory(cfg, rdb)
	if err != nil {
		return nil, err
	}
	scfg, err := session.FromConfig(cfg, envID, src, caches)
	if err != nil {
		return nil, err
	}
	if err := registerStatements(scfg, f.insertSQL, f.selectSQL); err != nil {
		return nil, err
	}
	return session.NewFactory(scfg), nil
}
