// Package worker runs periodic background jobs.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of periodic work; it reports how many items it processed.
type Job func(ctx context.Context) int64

// Runner invokes a Job on a fixed interval until stopped.
type Runner struct {
	name     string
	job      Job
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewRunner constructs a Runner. Each run gets at most timeout (defaults to interval).
func NewRunner(name string, job Job, interval time.Duration, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		name:     name,
		job:      job,
		interval: interval,
		timeout:  interval,
		log:      log.With(zap.String("job", name)),
		stop:     make(chan struct{}),
	}
}

// Start runs the job once immediately and then on every tick.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the loop to exit and waits for an in-flight run to finish.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("job panic", zap.Any("panic", rec))
		}
	}()
	jctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	n := r.job(jctx)
	r.log.Debug("job done", zap.Int64("processed", n), zap.Duration("took", time.Since(start)))
}
