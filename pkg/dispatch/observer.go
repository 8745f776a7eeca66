package dispatch

import (
	"context"
	"fmt"

	"github.com/tempest-orch/tempest/pkg/membership"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// ObserverStore extends the dispatcher's store with group enumeration.
type ObserverStore interface {
	Store
	ListGroups(ctx context.Context) ([]*model.Group, error)
}

// Observer is the executor worker that watches every group for
// membership transitions and dispatches matching recipes. Recording a
// transition is a compare-and-swap on the membership snapshot, so
// overlapping observers dispatch it exactly once.
type Observer struct {
	store      ObserverStore
	dispatcher *Dispatcher
	engine     *membership.Engine
	log        *telemetry.Logger

	pending []string
}

// NewObserver creates an observer over the given store.
func NewObserver(store ObserverStore, dispatcher *Dispatcher, log *telemetry.Logger) *Observer {
	return &Observer{
		store:      store,
		dispatcher: dispatcher,
		engine:     membership.NewEngine(store),
		log:        log.NewComponentLogger("observer"),
	}
}

// Name implements executor.Worker.
func (o *Observer) Name() string { return "observer" }

// Poll implements executor.Worker. It finds groups whose current
// membership differs from the last dispatched snapshot.
func (o *Observer) Poll(ctx context.Context) (bool, error) {
	groups, err := o.store.ListGroups(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list groups: %w", err)
	}

	o.pending = o.pending[:0]
	for _, g := range groups {
		members, err := o.engine.Members(ctx, g.Name)
		if err != nil {
			o.log.WithField("group", g.Name).WithError(err).Warn("skipping group")
			continue
		}
		previous, err := o.store.MembershipSnapshot(ctx, g.Name)
		if err != nil {
			return false, err
		}
		if !equalSets(members, previous) {
			o.pending = append(o.pending, g.Name)
		}
	}
	return len(o.pending) > 0, nil
}

// Run implements executor.Worker. The dispatcher re-evaluates each
// group itself, so a membership change landing between poll and run is
// handled, not raced.
func (o *Observer) Run(ctx context.Context) error {
	pending := o.pending
	o.pending = nil

	for _, group := range pending {
		triggers, err := o.dispatcher.Observe(ctx, group)
		if err != nil {
			if model.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("failed to observe group %s: %w", group, err)
		}
		if len(triggers) > 0 {
			o.log.WithField("group", group).
				Infof("dispatched %d triggers", len(triggers))
		}
	}
	return nil
}
