// Package runner drives fetch tasks over a list of targets, either one at a
// time or through a bounded worker pool.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/glance/models"
	"golang.org/x/time/rate"
)

// Executor runs a single target. task.Task satisfies it.
type Executor interface {
	Run(ctx context.Context, target models.Target, logger *slog.Logger) models.Outcome
}

// Options configure a Runner.
type Options struct {
	// Concurrency is the number of tasks in flight. Values below 2 mean
	// strictly sequential execution.
	Concurrency int
	// RatePerSecond paces task starts; zero disables pacing.
	RatePerSecond float64
	// TaskTimeout bounds each task; zero means no per-task deadline.
	TaskTimeout time.Duration
}

// Runner executes tasks and collects a Report. It is safe for concurrent
// use; the concurrency bound holds across simultaneous runs.
type Runner struct {
	exec    Executor
	opts    Options
	sem     chan struct{}
	limiter *rate.Limiter
	logger  *slog.Logger
	active  atomic.Int32
}

// New creates a Runner.
func New(exec Executor, opts Options, logger *slog.Logger) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	r := &Runner{
		exec:   exec,
		opts:   opts,
		sem:    make(chan struct{}, opts.Concurrency),
		logger: logger,
	}
	if opts.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return r
}

// Concurrency returns the configured pool size.
func (r *Runner) Concurrency() int { return r.opts.Concurrency }

// Active returns the number of tasks currently running.
func (r *Runner) Active() int { return int(r.active.Load()) }

// Run executes one task per target and returns the outcomes in target order.
// onDone, if non-nil, is called after each task with its index; calls may
// be concurrent.
func (r *Runner) Run(ctx context.Context, targets []models.Target, onDone func(int, models.Outcome)) models.Report {
	return r.RunWith(ctx, r.exec, targets, onDone)
}

// RunWith is Run with a different executor, sharing this Runner's pool,
// limiter and counters.
func (r *Runner) RunWith(ctx context.Context, exec Executor, targets []models.Target, onDone func(int, models.Outcome)) models.Report {
	start := time.Now()
	outcomes := make([]models.Outcome, len(targets))
	finish := func(idx int, o models.Outcome) {
		outcomes[idx] = o
		if onDone != nil {
			onDone(idx, o)
		}
	}

	r.logger.Info("run started",
		"targets", len(targets),
		"concurrency", r.opts.Concurrency,
	)

	if r.opts.Concurrency == 1 {
		for i, t := range targets {
			finish(i, r.runOne(ctx, exec, t))
		}
	} else {
		var wg sync.WaitGroup
		for i, t := range targets {
			wg.Add(1)
			go func(idx int, target models.Target) {
				defer wg.Done()
				finish(idx, r.runOne(ctx, exec, target))
			}(i, t)
		}
		wg.Wait()
	}

	report := models.Report{Outcomes: outcomes, Duration: time.Since(start)}
	for _, o := range outcomes {
		if o.Success() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	r.logger.Info("run finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report
}

// runOne takes a pool slot, waits for the limiter, applies the task timeout
// and converts a panic escaping the executor into a failed outcome.
func (r *Runner) runOne(ctx context.Context, exec Executor, target models.Target) (out models.Outcome) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return cancelled(target, ctx.Err())
	}
	defer func() { <-r.sem }()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return cancelled(target, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return cancelled(target, err)
	}

	if r.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.TaskTimeout)
		defer cancel()
	}

	r.active.Add(1)
	defer r.active.Add(-1)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("executor panicked", "target", target.Name, "panic", p, "stack", string(debug.Stack()))
			out = models.Outcome{
				Target: target,
				Err:    models.NewFetchError(models.ErrCodeInternal, fmt.Sprintf("panic: %v", p), nil),
			}
		}
	}()

	return exec.Run(ctx, target, r.logger)
}

func cancelled(target models.Target, err error) models.Outcome {
	return models.Outcome{
		Target: target,
		Err:    models.NewFetchError(models.ErrCodeTimeout, "run cancelled before task started", err),
		States: []models.TaskState{models.StateIdle, models.StateFailed, models.StateDone},
	}
}
