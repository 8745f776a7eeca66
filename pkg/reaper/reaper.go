package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// DefaultInterval is how often the reaper scans for stale triggers.
const DefaultInterval = 10 * time.Second

// TriggerJanitor is the store surface the stale trigger reaper needs.
type TriggerJanitor interface {
	ListStaleTriggers(ctx context.Context, window time.Duration) ([]*model.Trigger, error)
	RecoverStaleTrigger(ctx context.Context, id string, window time.Duration, maxRetries int) (bool, error)
}

// StaleTriggerReaper returns triggers abandoned by a dead worker to the
// pending pool so another worker can claim them. A trigger that has
// been recovered too many times is failed instead of requeued.
type StaleTriggerReaper struct {
	store      TriggerJanitor
	log        *telemetry.Logger
	window     time.Duration
	maxRetries int

	stale []string
}

// NewStaleTriggerReaper creates a reaper with the default staleness
// window and retry budget when zero values are given.
func NewStaleTriggerReaper(store TriggerJanitor, log *telemetry.Logger, window time.Duration, maxRetries int) *StaleTriggerReaper {
	if window <= 0 {
		window = model.DefaultStalenessWindow
	}
	if maxRetries <= 0 {
		maxRetries = model.MaxTriggerRetries
	}
	return &StaleTriggerReaper{
		store:      store,
		log:        log.NewComponentLogger("stale-reaper"),
		window:     window,
		maxRetries: maxRetries,
	}
}

// Name implements executor.Worker.
func (r *StaleTriggerReaper) Name() string { return "stale-reaper" }

// Poll implements executor.Worker.
func (r *StaleTriggerReaper) Poll(ctx context.Context) (bool, error) {
	triggers, err := r.store.ListStaleTriggers(ctx, r.window)
	if err != nil {
		return false, fmt.Errorf("failed to scan for stale triggers: %w", err)
	}

	r.stale = r.stale[:0]
	for _, t := range triggers {
		r.stale = append(r.stale, t.ID)
	}
	return len(r.stale) > 0, nil
}

// Run implements executor.Worker. Recovery is re-checked per trigger
// inside the store, so a heartbeat landing between poll and run makes
// the recovery a no-op rather than clobbering live work.
func (r *StaleTriggerReaper) Run(ctx context.Context) error {
	stale := r.stale
	r.stale = nil

	for _, id := range stale {
		recovered, err := r.store.RecoverStaleTrigger(ctx, id, r.window, r.maxRetries)
		if err != nil {
			if model.IsStale(err) || model.IsNotFound(err) {
				// No longer stale or already gone.
				continue
			}
			return fmt.Errorf("failed to recover trigger %s: %w", id, err)
		}
		if recovered {
			telemetry.TriggersRecovered.Inc()
			r.log.WithField("trigger", id).Warn("stale trigger returned to pending")
		} else {
			r.log.WithField("trigger", id).Warn("stale trigger failed after retry budget")
		}
	}
	return nil
}
