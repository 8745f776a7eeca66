package dispatch

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// setupDispatcher creates an in-memory store and a dispatcher over it
func setupDispatcher(t *testing.T) (*store.SQLiteStore, *Dispatcher) {
	t.Helper()

	s, err := store.NewSQLiteStore(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s, NewDispatcher(s, telemetry.Nop())
}

func addComponent(t *testing.T, s *store.SQLiteStore, id, role string) {
	t.Helper()
	c := &model.Component{ID: id, Attributes: map[string]any{"role": role}}
	if err := s.CreateComponent(context.Background(), c); err != nil {
		t.Fatalf("failed to create component %s: %v", id, err)
	}
}

// observe runs one dispatch pass and fails the test on error
func observe(t *testing.T, d *Dispatcher, group string) []*model.Trigger {
	t.Helper()
	triggers, err := d.Observe(context.Background(), group)
	if err != nil {
		t.Fatalf("failed to observe %s: %v", group, err)
	}
	return triggers
}

// TestObserveAnyOfFiresOnJoin tests that a target_any_of recipe fires
// exactly once when a matching component joins the group
func TestObserveAnyOfFiresOnJoin(t *testing.T) {
	s, d := setupDispatcher(t)
	ctx := context.Background()

	addComponent(t, s, "node-1", "frontend")
	addComponent(t, s, "node-2", "frontend")
	addComponent(t, s, "node-3", "frontend")

	g := &model.Group{Name: "web", Query: map[string]any{"role": "frontend"}}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	// Establish the baseline snapshot before the recipe exists.
	observe(t, d, "web")

	web := "web"
	recipe := &model.Recipe{Name: "restart-web", Type: "shell", Content: "true", TargetAnyOf: &web}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	addComponent(t, s, "node-4", "frontend")

	triggers := observe(t, d, "web")
	if len(triggers) != 1 {
		t.Fatalf("expected exactly one trigger, got %d", len(triggers))
	}
	trigger := triggers[0]
	if trigger.Name != "restart-web" {
		t.Errorf("expected trigger restart-web, got %s", trigger.Name)
	}
	components, ok := trigger.Arguments["components"].([]any)
	if !ok || len(components) != 1 || components[0] != "node-4" {
		t.Errorf("expected trigger to reference node-4, got %v", trigger.Arguments["components"])
	}

	// The trigger is persisted as pending.
	stored, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get dispatched trigger: %v", err)
	}
	if stored.Status != model.TriggerStatusPending {
		t.Errorf("expected pending, got %s", stored.Status)
	}
}

// TestObserveIdempotent tests that re-observing an unchanged membership
// dispatches nothing
func TestObserveIdempotent(t *testing.T) {
	s, d := setupDispatcher(t)
	ctx := context.Background()

	addComponent(t, s, "node-1", "frontend")
	g := &model.Group{Name: "web", Query: map[string]any{"role": "frontend"}}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	web := "web"
	recipe := &model.Recipe{Name: "provision", Type: "shell", Content: "true", AddTo: &web}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	first := observe(t, d, "web")
	if len(first) != 1 {
		t.Fatalf("expected one trigger on first observation, got %d", len(first))
	}

	for i := 0; i < 3; i++ {
		if again := observe(t, d, "web"); len(again) != 0 {
			t.Fatalf("expected idempotent re-observation, got %d triggers", len(again))
		}
	}

	all, err := s.ListTriggers(ctx, store.TriggerFilter{Name: "provision"})
	if err != nil {
		t.Fatalf("failed to list triggers: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected one persisted trigger, got %d", len(all))
	}
}

// TestObserveConcurrentDispatchers tests that two dispatchers racing
// the same membership transition create its triggers only once
func TestObserveConcurrentDispatchers(t *testing.T) {
	s, d1 := setupDispatcher(t)
	d2 := NewDispatcher(s, telemetry.Nop())
	ctx := context.Background()

	g := &model.Group{Name: "web", Query: map[string]any{"role": "frontend"}}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	observe(t, d1, "web")

	web := "web"
	recipe := &model.Recipe{Name: "provision", Type: "shell", Content: "true", AddTo: &web}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	addComponent(t, s, "node-1", "frontend")

	// Both dispatchers react to the same join. Whichever records the
	// snapshot second loses the compare-and-swap and dispatches nothing.
	var wg sync.WaitGroup
	results := make([][]*model.Trigger, 2)
	for i, d := range []*Dispatcher{d1, d2} {
		wg.Add(1)
		go func(i int, d *Dispatcher) {
			defer wg.Done()
			triggers, err := d.Observe(ctx, "web")
			if err != nil {
				t.Errorf("failed to observe: %v", err)
				return
			}
			results[i] = triggers
		}(i, d)
	}
	wg.Wait()

	if total := len(results[0]) + len(results[1]); total != 1 {
		t.Errorf("expected the join to dispatch exactly once, got %d triggers", total)
	}

	all, err := s.ListTriggers(ctx, store.TriggerFilter{Name: "provision"})
	if err != nil {
		t.Fatalf("failed to list triggers: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected one persisted trigger, got %d", len(all))
	}
}

// TestObserveAddToPerComponent tests one trigger per joining component
func TestObserveAddToPerComponent(t *testing.T) {
	s, d := setupDispatcher(t)
	ctx := context.Background()

	g := &model.Group{Name: "web", Query: map[string]any{"role": "frontend"}}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	observe(t, d, "web")

	web := "web"
	recipe := &model.Recipe{Name: "provision", Type: "shell", Content: "true", AddTo: &web}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	addComponent(t, s, "node-1", "frontend")
	addComponent(t, s, "node-2", "frontend")

	triggers := observe(t, d, "web")
	if len(triggers) != 2 {
		t.Fatalf("expected one trigger per joining component, got %d", len(triggers))
	}

	got := []string{}
	for _, trigger := range triggers {
		component, _ := trigger.Arguments["component"].(string)
		got = append(got, component)
	}
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"node-1", "node-2"}) {
		t.Errorf("expected triggers for node-1 and node-2, got %v", got)
	}

	// A component leaving changes membership but joins nothing, so
	// add_to stays quiet.
	if err := s.DeleteComponent(ctx, "node-2"); err != nil {
		t.Fatalf("failed to delete component: %v", err)
	}
	if again := observe(t, d, "web"); len(again) != 0 {
		t.Errorf("expected no triggers on leave, got %d", len(again))
	}
}

// TestObserveAllInGate tests the subset gate with explicit targets
func TestObserveAllInGate(t *testing.T) {
	s, d := setupDispatcher(t)
	ctx := context.Background()

	g := &model.Group{Name: "web", Query: map[string]any{"role": "frontend"}}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	observe(t, d, "web")

	web := "web"
	recipe := &model.Recipe{
		Name: "rollout", Type: "shell", Content: "true",
		TargetAllIn: &web,
		Params:      map[string]any{"targets": []any{"node-1", "node-2"}},
	}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	// Only half the target set is present: the gate stays closed.
	addComponent(t, s, "node-1", "frontend")
	if triggers := observe(t, d, "web"); len(triggers) != 0 {
		t.Fatalf("expected no trigger with a partial target set, got %d", len(triggers))
	}

	// The full target set is present: the gate opens once.
	addComponent(t, s, "node-2", "frontend")
	triggers := observe(t, d, "web")
	if len(triggers) != 1 {
		t.Fatalf("expected one trigger with the full target set, got %d", len(triggers))
	}
	components, _ := triggers[0].Arguments["components"].([]any)
	if len(components) != 2 {
		t.Errorf("expected both targets in the trigger, got %v", components)
	}
}

// TestObserveIgnoresManualRecipes tests that recipes without group
// references never auto-fire
func TestObserveIgnoresManualRecipes(t *testing.T) {
	s, d := setupDispatcher(t)
	ctx := context.Background()

	g := &model.Group{Name: "web", Query: map[string]any{"role": "frontend"}}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	recipe := &model.Recipe{Name: "manual", Type: "shell", Content: "true"}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	addComponent(t, s, "node-1", "frontend")
	if triggers := observe(t, d, "web"); len(triggers) != 0 {
		t.Errorf("expected manual recipe to stay quiet, got %d triggers", len(triggers))
	}
}
