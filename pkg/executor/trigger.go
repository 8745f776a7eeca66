package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// claimBatchSize bounds how many pending candidates a poll fetches.
const claimBatchSize = 8

// TriggerSource is the control-plane surface a trigger worker consumes.
// The store satisfies it directly.
type TriggerSource interface {
	ListTriggers(ctx context.Context, filter store.TriggerFilter) ([]*model.Trigger, error)
	ClaimTrigger(ctx context.Context, id string) (*model.Trigger, error)
	HeartbeatTrigger(ctx context.Context, id string) error
	CompleteTrigger(ctx context.Context, id string, result map[string]any) error
	FailTrigger(ctx context.Context, id string, result map[string]any) error
}

// Handler executes a claimed trigger and returns its result document.
type Handler func(ctx context.Context, trigger *model.Trigger) (map[string]any, error)

// TriggerExecutor is the Worker that claims and executes triggers.
type TriggerExecutor struct {
	source            TriggerSource
	handler           Handler
	log               *telemetry.Logger
	triggerName       string
	heartbeatInterval time.Duration

	// candidates found by the last poll, consumed by the next run.
	candidates []string
}

// TriggerExecutorConfig configures a TriggerExecutor.
type TriggerExecutorConfig struct {
	// TriggerName restricts the executor to triggers with this name.
	// Empty means any pending trigger.
	TriggerName string

	// HeartbeatInterval is how often the heartbeat is refreshed while a
	// trigger runs. Must be shorter than the staleness window.
	HeartbeatInterval time.Duration
}

// NewTriggerExecutor creates a trigger executor over the given source.
func NewTriggerExecutor(source TriggerSource, handler Handler, log *telemetry.Logger, cfg TriggerExecutorConfig) *TriggerExecutor {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = model.DefaultHeartbeatInterval
	}
	return &TriggerExecutor{
		source:            source,
		handler:           handler,
		log:               log.NewComponentLogger("trigger-executor"),
		triggerName:       cfg.TriggerName,
		heartbeatInterval: interval,
	}
}

// Name implements Worker.
func (e *TriggerExecutor) Name() string { return "trigger-executor" }

// Poll implements Worker. It lists pending triggers and remembers them
// as claim candidates for the next Run.
func (e *TriggerExecutor) Poll(ctx context.Context) (bool, error) {
	triggers, err := e.source.ListTriggers(ctx, store.TriggerFilter{
		Name:   e.triggerName,
		Status: model.TriggerStatusPending,
		Limit:  claimBatchSize,
	})
	if err != nil {
		return false, fmt.Errorf("failed to poll pending triggers: %w", err)
	}

	e.candidates = e.candidates[:0]
	for _, t := range triggers {
		e.candidates = append(e.candidates, t.ID)
	}
	telemetry.PendingTriggers.Set(float64(len(e.candidates)))
	return len(e.candidates) > 0, nil
}

// Run implements Worker. It attempts to claim each candidate in turn;
// losing a claim to another worker is routine and resumes polling. At
// most one trigger is executed per call.
func (e *TriggerExecutor) Run(ctx context.Context) error {
	candidates := e.candidates
	e.candidates = nil

	for _, id := range candidates {
		trigger, err := e.source.ClaimTrigger(ctx, id)
		if err != nil {
			if model.IsClaimConflict(err) || model.IsNotFound(err) {
				telemetry.ClaimConflicts.Inc()
				e.log.WithField("trigger", id).Debug("trigger claimed elsewhere")
				continue
			}
			return fmt.Errorf("failed to claim trigger %s: %w", id, err)
		}

		telemetry.TriggersClaimed.Inc()
		return e.execute(ctx, trigger)
	}
	return nil
}

// execute runs the handler for a claimed trigger, maintaining the
// heartbeat for the duration, and records the terminal outcome.
func (e *TriggerExecutor) execute(ctx context.Context, trigger *model.Trigger) error {
	log := e.log.WithField("trigger", trigger.ID).WithField("name", trigger.Name)
	log.Info("trigger execution started")

	stop := e.keepAlive(ctx, trigger.ID)
	started := time.Now()
	result, runErr := e.handler(ctx, trigger)
	stop()

	telemetry.TriggerDuration.Observe(time.Since(started).Seconds())

	if runErr != nil {
		execErr := model.NewExecutionError(
			fmt.Sprintf("trigger %s failed: %v", trigger.Name, runErr), runErr)
		if err := e.source.FailTrigger(ctx, trigger.ID, model.ErrorResult(runErr)); err != nil {
			log.WithError(err).Error("failed to record trigger failure")
			return execErr
		}
		telemetry.TriggersCompleted.WithLabelValues(string(model.TriggerStatusError)).Inc()
		return execErr
	}

	if err := e.source.CompleteTrigger(ctx, trigger.ID, result); err != nil {
		return fmt.Errorf("failed to record trigger result: %w", err)
	}
	telemetry.TriggersCompleted.WithLabelValues(string(model.TriggerStatusDone)).Inc()
	log.Info("trigger execution finished")
	return nil
}

// keepAlive refreshes the trigger's heartbeat in the background until
// the returned stop function is called. Stop waits for the goroutine to
// exit so no refresh can land after the terminal write.
func (e *TriggerExecutor) keepAlive(ctx context.Context, id string) func() {
	hctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := e.source.HeartbeatTrigger(hctx, id); err != nil {
					if hctx.Err() != nil {
						return
					}
					e.log.WithField("trigger", id).WithError(err).Warn("heartbeat refresh failed")
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
