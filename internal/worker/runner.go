// internal/worker/runner.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payout-ledger/internal/metrics"

	"go.uber.org/zap"
)

// Job is one periodic background task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Runner drives a fixed set of jobs on tickers until stopped.
type Runner struct {
	jobs       []Job
	jobTimeout time.Duration
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(jobs []Job, jobTimeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{jobs: jobs, jobTimeout: jobTimeout, logger: logger}
}

// Start launches one loop per job. Each job runs once immediately, then on every tick.
func (r *Runner) Start(ctx context.Context) error {
	for _, job := range r.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("worker: job %q has non-positive interval %s", job.Name, job.Interval)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
	r.logger.Info("background workers started", zap.Int("jobs", len(r.jobs)))
	return nil
}

// Stop cancels every loop and waits for in-flight runs, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("background workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	r.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	log := r.logger.With(zap.String("job", job.Name))
	start := time.Now()

	runCtx := ctx
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			metrics.WorkerRuns.WithLabelValues(job.Name, "panic").Inc()
			log.Error("job panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	n, err := job.Run(runCtx)
	if err != nil {
		metrics.WorkerRuns.WithLabelValues(job.Name, "error").Inc()
		log.Error("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	metrics.WorkerRuns.WithLabelValues(job.Name, "ok").Inc()
	if n > 0 {
		log.Info("job processed items", zap.Int("items", n), zap.Duration("elapsed", time.Since(start)))
	}
}
