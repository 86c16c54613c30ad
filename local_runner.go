package tickflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultTickInterval is the LocalRunner interval when none is given.
const DefaultTickInterval = time.Second

// LocalRunner bundles an in-memory Engine with a ticker that calls RunOnce
// periodically, replacing the external cron of a deployment. It is intended
// for local development, tests and simple single-process deployments.
//
// Typical usage:
//
//	runner := tickflow.NewLocalRunner(tickflow.Options{Actions: handlers}, time.Second)
//	flow.MustRegister(ctx, runner.Engine)
//
//	_ = runner.Start(ctx)
//	defer runner.Stop()
//
//	_, _ = runner.Engine.Dispatch(ctx, tickflow.TriggerRequest{...})
type LocalRunner struct {
	// Engine is the in-memory engine ticked by this runner.
	Engine Engine

	// Interval between ticks.
	Interval time.Duration

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine.
func NewLocalRunner(opts Options, interval time.Duration) *LocalRunner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{
		Engine:   NewInMemoryEngine(opts),
		Interval: interval,
		logger:   logger,
	}
}

// Start launches the tick loop. It returns an error if the runner is
// already running.
func (r *LocalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("tickflow: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		t := time.NewTicker(r.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := r.Engine.RunOnce(ctx); err != nil && ctx.Err() == nil {
					// A failed sweep is retried on the next tick.
					r.logger.ErrorContext(ctx, "local runner tick failed", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the tick loop and waits for an in-progress tick to finish.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
