// Package dispatch reacts to group membership changes by matching
// recipes against their group criteria and creating triggers. Dispatch
// is idempotent per membership transition: the last member set the
// dispatcher reacted to is persisted alongside the created triggers
// under a compare-and-swap, so re-observing an unchanged membership
// creates nothing and concurrent dispatchers record a transition only
// once.
package dispatch

import (
	"context"

	"github.com/tempest-orch/tempest/pkg/membership"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	membership.Source
	ListRecipes(ctx context.Context) ([]*model.Recipe, error)
	MembershipSnapshot(ctx context.Context, group string) ([]string, error)
	RecordDispatch(ctx context.Context, group string, previous, members []string, triggers []*model.Trigger) error
}

// Dispatcher observes group membership and spawns triggers for matching
// recipes.
type Dispatcher struct {
	store  Store
	engine *membership.Engine
	log    *telemetry.Logger
}

// NewDispatcher creates a dispatcher over the given store.
func NewDispatcher(store Store, log *telemetry.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		engine: membership.NewEngine(store),
		log:    log.NewComponentLogger("dispatch"),
	}
}

// Observe re-evaluates the group's membership, compares it with the
// last dispatched snapshot and fires matching recipes for the
// transition. It returns the triggers created, which is empty when the
// membership is unchanged.
func (d *Dispatcher) Observe(ctx context.Context, group string) ([]*model.Trigger, error) {
	members, err := d.engine.Members(ctx, group)
	if err != nil {
		return nil, err
	}

	previous, err := d.store.MembershipSnapshot(ctx, group)
	if err != nil {
		return nil, err
	}

	if equalSets(members, previous) {
		return nil, nil
	}

	joined := difference(members, previous)

	recipes, err := d.store.ListRecipes(ctx)
	if err != nil {
		return nil, err
	}

	triggers := []*model.Trigger{}
	for _, recipe := range recipes {
		if !recipe.AutoDispatched() {
			continue
		}
		triggers = append(triggers, d.match(recipe, group, members, joined)...)
	}

	// The write is a compare-and-swap on the snapshot read above. When a
	// concurrent dispatcher recorded this transition first, ours is a
	// duplicate and is dropped.
	if err := d.store.RecordDispatch(ctx, group, previous, members, triggers); err != nil {
		if model.IsClaimConflict(err) {
			d.log.WithField("group", group).
				Debug("transition already dispatched elsewhere")
			return nil, nil
		}
		return nil, err
	}

	for _, t := range triggers {
		d.log.WithField("trigger_id", t.ID).WithField("group", group).
			Infof("dispatched trigger %s", t.Name)
		telemetry.TriggersDispatched.WithLabelValues(t.Name).Inc()
	}
	return triggers, nil
}

// match applies one recipe's criteria to a membership transition.
//
// The recipe's intended target set defaults to the components that just
// joined the group; a `targets` list in the recipe params overrides it.
func (d *Dispatcher) match(recipe *model.Recipe, group string, members, joined []string) []*model.Trigger {
	triggers := []*model.Trigger{}

	// add_to fires once per component newly entering the group.
	if recipe.AddTo != nil && *recipe.AddTo == group {
		for _, component := range joined {
			triggers = append(triggers, &model.Trigger{
				Name: recipe.Name,
				Arguments: map[string]any{
					"recipe":    recipe.Name,
					"group":     group,
					"component": component,
				},
			})
		}
	}

	targets := targetSet(recipe, joined)

	// target_all_in gates on the whole target set being present.
	if recipe.TargetAllIn != nil && *recipe.TargetAllIn == group {
		if len(targets) > 0 && subset(targets, members) {
			triggers = append(triggers, targetTrigger(recipe, group, targets))
		}
	}

	// target_any_of gates on at least one target being present.
	if recipe.TargetAnyOf != nil && *recipe.TargetAnyOf == group {
		hit := intersection(targets, members)
		if len(hit) > 0 {
			triggers = append(triggers, targetTrigger(recipe, group, hit))
		}
	}

	return triggers
}

func targetTrigger(recipe *model.Recipe, group string, components []string) *model.Trigger {
	args := make([]any, len(components))
	for i, c := range components {
		args[i] = c
	}
	return &model.Trigger{
		Name: recipe.Name,
		Arguments: map[string]any{
			"recipe":     recipe.Name,
			"group":      group,
			"components": args,
		},
	}
}

// targetSet resolves the recipe's intended target set for a transition.
func targetSet(recipe *model.Recipe, joined []string) []string {
	raw, ok := recipe.Params["targets"]
	if !ok {
		return joined
	}
	list, ok := raw.([]any)
	if !ok {
		return joined
	}
	targets := make([]string, 0, len(list))
	for _, item := range list {
		if id, ok := item.(string); ok {
			targets = append(targets, id)
		}
	}
	return targets
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

func difference(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	out := []string{}
	for _, id := range a {
		if !set[id] {
			out = append(out, id)
		}
	}
	return out
}

func intersection(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	out := []string{}
	for _, id := range a {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

func subset(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	for _, id := range a {
		if !set[id] {
			return false
		}
	}
	return true
}
