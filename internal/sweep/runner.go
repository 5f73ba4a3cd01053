// Package sweep runs periodic maintenance tasks such as the consultation,
// reminder and notification sweeps.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one sweep pass.
type Task func(ctx context.Context) error

// Options configures a Runner.
type Options struct {
	Name     string
	Interval time.Duration
	Task     Task
	// Lease, when set, must be acquired before each pass so that only one
	// instance sweeps at a time.
	Lease Lease
	// LeaseTTL defaults to Interval.
	LeaseTTL time.Duration
	Logger   *slog.Logger
}

// Runner executes a task on a fixed interval, starting immediately. A tick
// that arrives while a pass is still running is skipped.
type Runner struct {
	name     string
	interval time.Duration
	task     Task
	lease    Lease
	leaseTTL time.Duration
	logger   *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Name == "" {
		return nil, errors.New("sweep: name is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("sweep %s: interval must be positive", opts.Name)
	}
	if opts.Task == nil {
		return nil, fmt.Errorf("sweep %s: task is required", opts.Name)
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = opts.Interval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		name:     opts.Name,
		interval: opts.Interval,
		task:     opts.Task,
		lease:    opts.Lease,
		leaseTTL: opts.LeaseTTL,
		logger:   opts.Logger.With("component", "sweep", "sweep", opts.Name),
	}, nil
}

// Name returns the runner name.
func (r *Runner) Name() string { return r.name }

// Run blocks until ctx is cancelled, then waits for the pass in progress.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-ticker.C:
			r.trigger(ctx)
		}
	}
}

func (r *Runner) trigger(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.DebugContext(ctx, "previous pass still running, tick skipped")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		r.pass(ctx)
	}()
}

// RunOnce executes a single pass unless one is already running. It reports
// whether the pass ran.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	if !r.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer r.running.Store(false)
	return r.pass(ctx)
}

func (r *Runner) pass(ctx context.Context) (ran bool, err error) {
	if r.lease != nil {
		release, acquired, leaseErr := r.lease.Acquire(ctx, r.name, r.leaseTTL)
		if leaseErr != nil {
			r.logger.ErrorContext(ctx, "failed to acquire sweep lease", "error", leaseErr)
			return false, leaseErr
		}
		if !acquired {
			r.logger.DebugContext(ctx, "sweep lease held elsewhere")
			return false, nil
		}
		defer func() {
			if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
				r.logger.WarnContext(ctx, "failed to release sweep lease", "error", releaseErr)
			}
		}()
	}

	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sweep %s panicked: %v", r.name, p)
			r.logger.ErrorContext(ctx, "sweep panicked", "panic", p)
		}
	}()

	err = r.task(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(ctx, "sweep failed", "error", err, "duration", time.Since(started))
	} else {
		r.logger.DebugContext(ctx, "sweep finished", "duration", time.Since(started))
	}
	return true, err
}
