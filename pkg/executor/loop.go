package executor

import (
	"context"
	"time"

	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// Default loop timing.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultErrorBackoff = 5 * time.Second
)

// Worker is a polled unit-of-work consumer embedded in a Loop.
type Worker interface {
	// Name identifies the worker in logs and metrics.
	Name() string

	// Poll performs a single non-blocking check for available work
	// and reports whether any was found.
	Poll(ctx context.Context) (bool, error)

	// Run executes one unit of available work. It runs to completion
	// from the loop's perspective; the loop never interrupts it.
	Run(ctx context.Context) error
}

// ErrorHook receives every failure the loop absorbs.
type ErrorHook func(ctx context.Context, err error)

// Loop drives a Worker: wait for work, run one unit, contain errors,
// back off, repeat. The loop survives indefinitely absorbing
// unit-of-work failures; only cancellation stops it.
type Loop struct {
	worker       Worker
	log          *telemetry.Logger
	pollInterval time.Duration
	errorBackoff time.Duration
	errorHook    ErrorHook
}

// Option configures a Loop.
type Option func(*Loop)

// WithPollInterval sets the delay between poll attempts while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.pollInterval = d }
}

// WithErrorBackoff sets the delay applied after an absorbed failure
// before the next wait. This prevents a persistently failing unit from
// causing a hot error loop.
func WithErrorBackoff(d time.Duration) Option {
	return func(l *Loop) { l.errorBackoff = d }
}

// WithErrorHook replaces the default error hook. The backoff delay
// still applies after the hook returns.
func WithErrorHook(hook ErrorHook) Option {
	return func(l *Loop) { l.errorHook = hook }
}

// NewLoop creates a control loop around the worker.
func NewLoop(worker Worker, log *telemetry.Logger, opts ...Option) *Loop {
	l := &Loop{
		worker:       worker,
		log:          log.NewComponentLogger(worker.Name()),
		pollInterval: DefaultPollInterval,
		errorBackoff: DefaultErrorBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.errorHook == nil {
		l.errorHook = l.defaultErrorHook
	}
	return l
}

// Run executes the loop until the context is cancelled. Cancellation is
// cooperative: it is honored between iterations and inside waits, never
// by interrupting a running unit.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("worker started")

	for {
		if err := ctx.Err(); err != nil {
			l.log.Info("worker stopped")
			return err
		}

		if err := l.iteration(ctx); err != nil {
			if ctx.Err() != nil {
				l.log.Info("worker stopped")
				return ctx.Err()
			}

			l.errorHook(ctx, err)
			telemetry.ExecutorErrors.WithLabelValues(l.worker.Name()).Inc()

			if err := sleep(ctx, l.errorBackoff); err != nil {
				l.log.Info("worker stopped")
				return err
			}
		}
	}
}

// iteration waits for work, then runs one unit.
func (l *Loop) iteration(ctx context.Context) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	return l.worker.Run(ctx)
}

// wait repeatedly polls with the inter-attempt delay until work is
// found. This is the loop's only suspension point.
func (l *Loop) wait(ctx context.Context) error {
	for {
		found, err := l.worker.Poll(ctx)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		if err := sleep(ctx, l.pollInterval); err != nil {
			return err
		}
	}
}

func (l *Loop) defaultErrorHook(_ context.Context, err error) {
	l.log.WithError(err).Error("worker iteration failed")
}

// sleep waits out d or returns early with the context's error.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
