package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/session"
)

const (
	insertEvent   = "events.insert"
	countByWorker = "events.countByWorker"
)

// event is the parameter object of one insert.
type event struct {
	Worker int
	Seq    int
}

func registerStatements(cfg *session.Configuration, insertSQL, selectSQL string) error {
	if err := cfg.AddStatement(&mapping.MappedStatement{
		ID:      insertEvent,
		Command: mapping.Insert,
		Source: mapping.StaticSource{SQL: insertSQL, Args: func(p any) []any {
			e := p.(event)
			return []any{e.Worker, e.Seq}
		}},
	}); err != nil {
		return err
	}
	return cfg.AddStatement(&mapping.MappedStatement{
		ID:       countByWorker,
		Command:  mapping.Select,
		Source:   mapping.StaticSource{SQL: selectSQL},
		UseCache: true,
		Mapper:   mapping.Scalar[int64](),
	})
}

type workload struct {
	workers    int
	iterations int
	batch      int
}

// summary counts what a run did.
type summary struct {
	units    atomic.Int64
	inserts  atomic.Int64
	selects  atomic.Int64
	failures atomic.Int64
	elapsed  time.Duration
}

func (s *summary) String() string {
	return fmt.Sprintf("completed %d units of work (%d inserts, %d selects, %d failures) in %s",
		s.units.Load(), s.inserts.Load(), s.selects.Load(), s.failures.Load(), s.elapsed.Round(time.Millisecond))
}

// runWorkload runs w.iterations units of work on each of w.workers
// goroutines. A unit queues w.batch inserts (or runs one insert on a simple
// session when batch is zero), commits, then reads the worker's count
// through the cache.
func runWorkload(ctx context.Context, f *session.Factory, w workload) *summary {
	s := &summary{}
	start := time.Now()

	var wg sync.WaitGroup
	for worker := range w.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := 0; seq < w.iterations && ctx.Err() == nil; seq++ {
				if err := unitOfWork(ctx, f, w.batch, worker, seq, s); err != nil {
					s.failures.Add(1)
					log.Printf("[loadgen] worker %d unit %d failed: %v", worker, seq, err)
					continue
				}
				s.units.Add(1)
			}
		}()
	}
	wg.Wait()

	s.elapsed = time.Since(start)
	return s
}

func unitOfWork(ctx context.Context, f *session.Factory, batch, worker, seq int, s *summary) error {
	execType := session.Simple
	if batch > 0 {
		execType = session.Batch
	}
	sess := f.OpenSession(execType)
	defer sess.Close(ctx)

	n := max(batch, 1)
	for i := range n {
		if _, err := sess.Insert(ctx, insertEvent, event{Worker: worker, Seq: seq*n + i}); err != nil {
			return err
		}
	}
	if batch > 0 {
		if _, err := sess.FlushStatements(ctx); err != nil {
			return err
		}
	}
	s.inserts.Add(int64(n))

	if err := sess.Commit(ctx, false); err != nil {
		return err
	}

	if _, err := sess.SelectOne(ctx, countByWorker, worker); err != nil {
		return err
	}
	s.selects.Add(1)
	return nil
}
