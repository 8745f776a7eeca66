package store

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
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

	return s
}

// createTestComponent registers a component or fails the test
func createTestComponent(t *testing.T, s *SQLiteStore, id string, attrs map[string]any) {
	t.Helper()
	if err := s.CreateComponent(context.Background(), &model.Component{ID: id, Attributes: attrs}); err != nil {
		t.Fatalf("failed to create component %s: %v", id, err)
	}
}

// createTestGroup creates a group or fails the test
func createTestGroup(t *testing.T, s *SQLiteStore, g *model.Group) {
	t.Helper()
	if err := s.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("failed to create group %s: %v", g.Name, err)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	s, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := s.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{
		"components", "groups", "services", "applications",
		"application_components", "application_expose", "component_links",
		"recipes", "triggers", "membership_snapshots",
	}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := s.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestComponentCRUD tests component operations
func TestComponentCRUD(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	c := &model.Component{
		ID:         "node-1",
		Attributes: map[string]any{"role": "frontend", "cpus": float64(4)},
	}
	if err := s.CreateComponent(ctx, c); err != nil {
		t.Fatalf("failed to create component: %v", err)
	}

	retrieved, err := s.GetComponent(ctx, "node-1")
	if err != nil {
		t.Fatalf("failed to get component: %v", err)
	}
	if retrieved.ID != c.ID {
		t.Errorf("expected ID %s, got %s", c.ID, retrieved.ID)
	}
	if retrieved.Attributes["role"] != "frontend" {
		t.Errorf("expected role frontend, got %v", retrieved.Attributes["role"])
	}

	// Duplicate registration is a conflict.
	if err := s.CreateComponent(ctx, &model.Component{ID: "node-1"}); !model.IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}

	// Invalid identifier is rejected before persistence.
	if err := s.CreateComponent(ctx, &model.Component{ID: "Not A Slug"}); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	retrieved.Attributes["role"] = "db"
	if err := s.UpdateComponent(ctx, retrieved); err != nil {
		t.Fatalf("failed to update component: %v", err)
	}
	updated, err := s.GetComponent(ctx, "node-1")
	if err != nil {
		t.Fatalf("failed to get updated component: %v", err)
	}
	if updated.Attributes["role"] != "db" {
		t.Errorf("expected role db, got %v", updated.Attributes["role"])
	}

	if err := s.DeleteComponent(ctx, "node-1"); err != nil {
		t.Fatalf("failed to delete component: %v", err)
	}
	if _, err := s.GetComponent(ctx, "node-1"); !model.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
	if err := s.DeleteComponent(ctx, "node-1"); !model.IsNotFound(err) {
		t.Errorf("expected not-found on double delete, got %v", err)
	}
}

// TestGroupCRUD tests group operations and query validation
func TestGroupCRUD(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	g := &model.Group{
		Name:    "web",
		Query:   map[string]any{"role": "frontend"},
		Exclude: []string{"node-9"},
	}
	createTestGroup(t, s, g)

	retrieved, err := s.GetGroup(ctx, "web")
	if err != nil {
		t.Fatalf("failed to get group: %v", err)
	}
	if !reflect.DeepEqual(retrieved.Query, g.Query) {
		t.Errorf("expected query %v, got %v", g.Query, retrieved.Query)
	}
	if !reflect.DeepEqual(retrieved.Exclude, []string{"node-9"}) {
		t.Errorf("expected exclude [node-9], got %v", retrieved.Exclude)
	}

	// Duplicate name is a conflict.
	if err := s.CreateGroup(ctx, &model.Group{Name: "web"}); !model.IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}

	// Malformed queries are rejected at the write boundary.
	bad := &model.Group{Name: "bad", Query: map[string]any{"role": map[string]any{"$gt": 3}}}
	if err := s.CreateGroup(ctx, bad); !model.IsValidation(err) {
		t.Errorf("expected validation error for malformed query, got %v", err)
	}

	// Invalid identifiers in the lists are rejected too.
	bad = &model.Group{Name: "bad", Include: []string{"Not A Slug"}}
	if err := s.CreateGroup(ctx, bad); !model.IsValidation(err) {
		t.Errorf("expected validation error for bad include, got %v", err)
	}

	retrieved.Query = map[string]any{"role": "db"}
	if err := s.UpdateGroup(ctx, retrieved); err != nil {
		t.Fatalf("failed to update group: %v", err)
	}

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("failed to list groups: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "web" {
		t.Errorf("expected one group web, got %v", groups)
	}
}

// TestAddGroupMembers tests the merge semantics of membership edits
func TestAddGroupMembers(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	createTestGroup(t, s, &model.Group{Name: "web", Include: []string{"node-1"}})

	g, err := s.AddGroupMembers(ctx, "web", []string{"node-1", "node-2"}, []string{"node-9"})
	if err != nil {
		t.Fatalf("failed to add members: %v", err)
	}

	// node-1 was already present and is not duplicated.
	if !reflect.DeepEqual(g.Include, []string{"node-1", "node-2"}) {
		t.Errorf("expected include [node-1 node-2], got %v", g.Include)
	}
	if !reflect.DeepEqual(g.Exclude, []string{"node-9"}) {
		t.Errorf("expected exclude [node-9], got %v", g.Exclude)
	}

	// The merge only adds; repeating the call changes nothing.
	again, err := s.AddGroupMembers(ctx, "web", []string{"node-2"}, nil)
	if err != nil {
		t.Fatalf("failed to re-add members: %v", err)
	}
	if !reflect.DeepEqual(again.Include, g.Include) {
		t.Errorf("expected unchanged include, got %v", again.Include)
	}

	if _, err := s.AddGroupMembers(ctx, "missing", []string{"x"}, nil); !model.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

// TestServiceUniqueness tests the per-group service namespace
func TestServiceUniqueness(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	createTestGroup(t, s, &model.Group{Name: "web"})
	createTestGroup(t, s, &model.Group{Name: "api"})

	http := &model.Service{Name: "http", Group: "web", Protocol: model.ProtocolTCP, Port: 80}
	if err := s.CreateService(ctx, http); err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	// Same name in the same group is a conflict.
	dup := &model.Service{Name: "http", Group: "web", Protocol: model.ProtocolTCP, Port: 8080}
	if err := s.CreateService(ctx, dup); !model.IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}

	// Same name in another group is fine.
	other := &model.Service{Name: "http", Group: "api", Protocol: model.ProtocolTCP, Port: 80}
	if err := s.CreateService(ctx, other); err != nil {
		t.Errorf("expected same name in another group to succeed, got %v", err)
	}

	// The owning group must exist.
	orphan := &model.Service{Name: "http", Group: "ghost", Protocol: model.ProtocolTCP, Port: 80}
	if err := s.CreateService(ctx, orphan); !model.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}

	// Port range is validated.
	bad := &model.Service{Name: "huge", Group: "web", Protocol: model.ProtocolTCP, Port: 70000}
	if err := s.CreateService(ctx, bad); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	services, err := s.ListServices(ctx, "web")
	if err != nil {
		t.Fatalf("failed to list services: %v", err)
	}
	if len(services) != 1 {
		t.Errorf("expected one service in web, got %d", len(services))
	}
}

// TestGroupDeletionPolicies tests that deleting a group cascades owned
// dependents and clears recipe references
func TestGroupDeletionPolicies(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	createTestGroup(t, s, &model.Group{Name: "web"})
	createTestGroup(t, s, &model.Group{Name: "db"})

	if err := s.CreateService(ctx, &model.Service{Name: "http", Group: "web", Protocol: model.ProtocolTCP, Port: 80}); err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := s.CreateService(ctx, &model.Service{Name: "postgres", Group: "db", Protocol: model.ProtocolTCP, Port: 5432}); err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	app := &model.Application{
		Name:       "shop",
		Components: []string{"web", "db"},
		Expose:     []model.ServiceRef{{Group: "web", Name: "http"}},
		Links: []model.ComponentLink{{
			Application: "shop",
			FromGroup:   "web",
			ToService:   model.ServiceRef{Group: "db", Name: "postgres"},
		}},
	}
	if err := s.CreateApplication(ctx, app); err != nil {
		t.Fatalf("failed to create application: %v", err)
	}

	web := "web"
	recipe := &model.Recipe{Name: "provision", Type: "shell", Content: "true", AddTo: &web}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	if err := s.RecordDispatch(ctx, "web", nil, []string{"node-1"}, nil); err != nil {
		t.Fatalf("failed to record snapshot: %v", err)
	}

	if err := s.DeleteGroup(ctx, "web"); err != nil {
		t.Fatalf("failed to delete group: %v", err)
	}

	// Owned services cascade.
	if _, err := s.GetService(ctx, "web", "http"); !model.IsNotFound(err) {
		t.Errorf("expected service to cascade, got %v", err)
	}

	// Links from the group cascade; the application itself survives.
	remaining, err := s.GetApplication(ctx, "shop")
	if err != nil {
		t.Fatalf("failed to get application: %v", err)
	}
	if len(remaining.Links) != 0 {
		t.Errorf("expected links to cascade, got %v", remaining.Links)
	}
	if len(remaining.Expose) != 0 {
		t.Errorf("expected exposed services to cascade, got %v", remaining.Expose)
	}
	if !reflect.DeepEqual(remaining.Components, []string{"db"}) {
		t.Errorf("expected only db membership to remain, got %v", remaining.Components)
	}

	// Recipe references are cleared, not cascaded.
	kept, err := s.GetRecipe(ctx, "provision")
	if err != nil {
		t.Fatalf("expected recipe to survive group deletion: %v", err)
	}
	if kept.AddTo != nil {
		t.Errorf("expected add_to reference to be cleared, got %v", *kept.AddTo)
	}

	// The membership snapshot is gone.
	snapshot, err := s.MembershipSnapshot(ctx, "web")
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("expected empty snapshot, got %v", snapshot)
	}
}

// TestApplicationValidation tests referential checks at create time
func TestApplicationValidation(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	createTestGroup(t, s, &model.Group{Name: "web"})
	createTestGroup(t, s, &model.Group{Name: "db"})
	if err := s.CreateService(ctx, &model.Service{Name: "postgres", Group: "db", Protocol: model.ProtocolTCP, Port: 5432}); err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	// Unknown member group.
	app := &model.Application{Name: "shop", Components: []string{"ghost"}}
	if err := s.CreateApplication(ctx, app); !model.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}

	// Exposed service owned by a non-member group.
	app = &model.Application{
		Name:       "shop",
		Components: []string{"web"},
		Expose:     []model.ServiceRef{{Group: "db", Name: "postgres"}},
	}
	if err := s.CreateApplication(ctx, app); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	// Duplicate links collapse to a conflict.
	link := model.ComponentLink{
		Application: "shop",
		FromGroup:   "web",
		ToService:   model.ServiceRef{Group: "db", Name: "postgres"},
	}
	app = &model.Application{
		Name:       "shop",
		Components: []string{"web", "db"},
		Links:      []model.ComponentLink{link, link},
	}
	if err := s.CreateApplication(ctx, app); !model.IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}

	// A valid application round-trips.
	app = &model.Application{
		Name:       "shop",
		Components: []string{"web", "db"},
		Links:      []model.ComponentLink{link},
	}
	if err := s.CreateApplication(ctx, app); err != nil {
		t.Fatalf("failed to create application: %v", err)
	}
	retrieved, err := s.GetApplication(ctx, "shop")
	if err != nil {
		t.Fatalf("failed to get application: %v", err)
	}
	if !reflect.DeepEqual(retrieved.Components, []string{"db", "web"}) {
		t.Errorf("expected components [db web], got %v", retrieved.Components)
	}
	if len(retrieved.Links) != 1 || retrieved.Links[0].ToService.Name != "postgres" {
		t.Errorf("expected one link to postgres, got %v", retrieved.Links)
	}
}

// TestRecipeGroupReferences tests that recipes only reference existing groups
func TestRecipeGroupReferences(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	ghost := "ghost"

	recipe := &model.Recipe{Name: "r", Type: "shell", TargetAnyOf: &ghost}
	if err := s.CreateRecipe(ctx, recipe); !model.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}

	createTestGroup(t, s, &model.Group{Name: "web"})
	web := "web"
	recipe = &model.Recipe{Name: "r", Type: "shell", TargetAnyOf: &web}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	retrieved, err := s.GetRecipe(ctx, "r")
	if err != nil {
		t.Fatalf("failed to get recipe: %v", err)
	}
	if retrieved.TargetAnyOf == nil || *retrieved.TargetAnyOf != "web" {
		t.Errorf("expected target_any_of web, got %v", retrieved.TargetAnyOf)
	}
	if !retrieved.AutoDispatched() {
		t.Error("expected recipe with a group reference to be auto-dispatched")
	}
}

// TestTriggerLifecycle tests the create/claim/heartbeat/finish sequence
func TestTriggerLifecycle(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	trigger := &model.Trigger{
		// Caller-supplied identifiers and statuses are overwritten.
		ID:     "caller-chosen",
		Name:   "provision",
		Status: model.TriggerStatusDone,
		Arguments: map[string]any{
			"component": "node-1",
		},
	}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}
	if trigger.ID == "caller-chosen" {
		t.Error("expected the store to generate the identifier")
	}
	if trigger.Status != model.TriggerStatusPending {
		t.Errorf("expected pending, got %s", trigger.Status)
	}

	// Claim moves pending to running.
	claimed, err := s.ClaimTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to claim trigger: %v", err)
	}
	if claimed.Status != model.TriggerStatusRunning {
		t.Errorf("expected running, got %s", claimed.Status)
	}

	// A second claim loses.
	if _, err := s.ClaimTrigger(ctx, trigger.ID); !model.IsClaimConflict(err) {
		t.Errorf("expected claim-conflict error, got %v", err)
	}

	// Heartbeats advance but never regress.
	before := claimed.Heartbeat
	time.Sleep(2 * time.Millisecond)
	if err := s.HeartbeatTrigger(ctx, trigger.ID); err != nil {
		t.Fatalf("failed to heartbeat: %v", err)
	}
	after, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if after.Heartbeat.Before(before) {
		t.Errorf("heartbeat went backwards: %v -> %v", before, after.Heartbeat)
	}

	// Completion stores the result.
	if err := s.CompleteTrigger(ctx, trigger.ID, map[string]any{"ok": true}); err != nil {
		t.Fatalf("failed to complete trigger: %v", err)
	}
	done, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if done.Status != model.TriggerStatusDone {
		t.Errorf("expected done, got %s", done.Status)
	}
	if done.Result["ok"] != true {
		t.Errorf("expected result ok=true, got %v", done.Result)
	}

	// Terminal states are immutable.
	if err := s.CompleteTrigger(ctx, trigger.ID, nil); !model.IsConflict(err) {
		t.Errorf("expected conflict on double completion, got %v", err)
	}
	if err := s.FailTrigger(ctx, trigger.ID, nil); !model.IsConflict(err) {
		t.Errorf("expected conflict on failing a done trigger, got %v", err)
	}
	if err := s.HeartbeatTrigger(ctx, trigger.ID); !model.IsConflict(err) {
		t.Errorf("expected conflict heartbeating a done trigger, got %v", err)
	}

	// Finishing a pending trigger skips the state machine and is rejected.
	pending := &model.Trigger{Name: "other"}
	if err := s.CreateTrigger(ctx, pending); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}
	if err := s.CompleteTrigger(ctx, pending.ID, nil); !model.IsConflict(err) {
		t.Errorf("expected conflict completing a pending trigger, got %v", err)
	}
}

// TestClaimRace tests that exactly one of many concurrent claimers wins
func TestClaimRace(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	trigger := &model.Trigger{Name: "contested"}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimTrigger(ctx, trigger.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case model.IsClaimConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	if conflicts != claimers-1 {
		t.Errorf("expected %d conflicts, got %d", claimers-1, conflicts)
	}
}

// TestListTriggersFilter tests name/status filters and the limit
func TestListTriggersFilter(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.CreateTrigger(ctx, &model.Trigger{Name: "provision"}); err != nil {
			t.Fatalf("failed to create trigger: %v", err)
		}
	}
	other := &model.Trigger{Name: "cleanup"}
	if err := s.CreateTrigger(ctx, other); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}
	if _, err := s.ClaimTrigger(ctx, other.ID); err != nil {
		t.Fatalf("failed to claim trigger: %v", err)
	}

	pending, err := s.ListTriggers(ctx, TriggerFilter{Status: model.TriggerStatusPending})
	if err != nil {
		t.Fatalf("failed to list triggers: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("expected 3 pending triggers, got %d", len(pending))
	}

	named, err := s.ListTriggers(ctx, TriggerFilter{Name: "cleanup"})
	if err != nil {
		t.Fatalf("failed to list triggers: %v", err)
	}
	if len(named) != 1 || named[0].Status != model.TriggerStatusRunning {
		t.Errorf("expected one running cleanup trigger, got %v", named)
	}

	limited, err := s.ListTriggers(ctx, TriggerFilter{Limit: 2})
	if err != nil {
		t.Fatalf("failed to list triggers: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 triggers with limit, got %d", len(limited))
	}
}

// TestStaleTriggerRecovery tests detection and recovery of abandoned triggers
func TestStaleTriggerRecovery(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	trigger := &model.Trigger{Name: "abandoned"}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}
	if _, err := s.ClaimTrigger(ctx, trigger.ID); err != nil {
		t.Fatalf("failed to claim trigger: %v", err)
	}

	// A healthy trigger is not stale.
	stale, err := s.ListStaleTriggers(ctx, time.Minute)
	if err != nil {
		t.Fatalf("failed to list stale triggers: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected no stale triggers, got %d", len(stale))
	}

	// With a tiny window the silent trigger shows up.
	time.Sleep(5 * time.Millisecond)
	stale, err = s.ListStaleTriggers(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("failed to list stale triggers: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != trigger.ID {
		t.Fatalf("expected the abandoned trigger, got %v", stale)
	}

	// Recovery returns it to pending and bumps the retry count.
	recovered, err := s.RecoverStaleTrigger(ctx, trigger.ID, time.Millisecond, model.MaxTriggerRetries)
	if err != nil {
		t.Fatalf("failed to recover trigger: %v", err)
	}
	if !recovered {
		t.Fatal("expected the trigger to be recovered")
	}
	back, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if back.Status != model.TriggerStatusPending {
		t.Errorf("expected pending after recovery, got %s", back.Status)
	}
	if back.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", back.Retries)
	}

	// Recovering a non-stale trigger is refused.
	if _, err := s.RecoverStaleTrigger(ctx, trigger.ID, time.Minute, model.MaxTriggerRetries); !model.IsStale(err) {
		t.Errorf("expected stale error, got %v", err)
	}
}

// TestStaleTriggerRetryBudget tests that recovery is bounded
func TestStaleTriggerRetryBudget(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	trigger := &model.Trigger{Name: "doomed"}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	const maxRetries = 2
	for i := 0; i < maxRetries; i++ {
		if _, err := s.ClaimTrigger(ctx, trigger.ID); err != nil {
			t.Fatalf("failed to claim trigger: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
		recovered, err := s.RecoverStaleTrigger(ctx, trigger.ID, time.Millisecond, maxRetries)
		if err != nil {
			t.Fatalf("failed to recover trigger: %v", err)
		}
		if !recovered {
			t.Fatalf("expected recovery %d to succeed", i+1)
		}
	}

	// The budget is spent; the next recovery fails the trigger.
	if _, err := s.ClaimTrigger(ctx, trigger.ID); err != nil {
		t.Fatalf("failed to claim trigger: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	recovered, err := s.RecoverStaleTrigger(ctx, trigger.ID, time.Millisecond, maxRetries)
	if err != nil {
		t.Fatalf("failed to run exhausted recovery: %v", err)
	}
	if recovered {
		t.Fatal("expected the exhausted trigger not to be requeued")
	}

	dead, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if dead.Status != model.TriggerStatusError {
		t.Errorf("expected error status, got %s", dead.Status)
	}
	detail, ok := dead.Result["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error diagnostic, got %v", dead.Result)
	}
	if detail["type"] != "stale" {
		t.Errorf("expected stale diagnostic, got %v", detail["type"])
	}
}

// TestRecordDispatch tests atomic trigger creation with the snapshot
func TestRecordDispatch(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	// Missing snapshots read as empty.
	snapshot, err := s.MembershipSnapshot(ctx, "web")
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("expected empty snapshot, got %v", snapshot)
	}

	triggers := []*model.Trigger{
		{Name: "provision", Arguments: map[string]any{"component": "node-1"}},
		{Name: "provision", Arguments: map[string]any{"component": "node-2"}},
	}
	if err := s.RecordDispatch(ctx, "web", nil, []string{"node-1", "node-2"}, triggers); err != nil {
		t.Fatalf("failed to record dispatch: %v", err)
	}

	snapshot, err = s.MembershipSnapshot(ctx, "web")
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if !reflect.DeepEqual(snapshot, []string{"node-1", "node-2"}) {
		t.Errorf("expected snapshot [node-1 node-2], got %v", snapshot)
	}

	created, err := s.ListTriggers(ctx, TriggerFilter{Name: "provision"})
	if err != nil {
		t.Fatalf("failed to list triggers: %v", err)
	}
	if len(created) != 2 {
		t.Errorf("expected 2 triggers, got %d", len(created))
	}
	for _, tr := range created {
		if tr.Status != model.TriggerStatusPending {
			t.Errorf("expected pending trigger, got %s", tr.Status)
		}
	}

	// Updating the snapshot with no triggers just advances it.
	if err := s.RecordDispatch(ctx, "web", []string{"node-1", "node-2"}, []string{"node-1"}, nil); err != nil {
		t.Fatalf("failed to update snapshot: %v", err)
	}
	snapshot, err = s.MembershipSnapshot(ctx, "web")
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if !reflect.DeepEqual(snapshot, []string{"node-1"}) {
		t.Errorf("expected snapshot [node-1], got %v", snapshot)
	}
}

// TestRecordDispatchStaleBaseline tests that a dispatch computed from
// an outdated snapshot is rejected instead of creating its triggers
func TestRecordDispatchStaleBaseline(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	// Two dispatchers both observe the empty baseline and compute the
	// same join of node-1. The first write wins.
	first := []*model.Trigger{{Name: "provision", Arguments: map[string]any{"component": "node-1"}}}
	if err := s.RecordDispatch(ctx, "web", nil, []string{"node-1"}, first); err != nil {
		t.Fatalf("failed to record dispatch: %v", err)
	}

	second := []*model.Trigger{{Name: "provision", Arguments: map[string]any{"component": "node-1"}}}
	err := s.RecordDispatch(ctx, "web", nil, []string{"node-1"}, second)
	if !model.IsClaimConflict(err) {
		t.Fatalf("expected claim conflict for a stale baseline, got %v", err)
	}

	created, err := s.ListTriggers(ctx, TriggerFilter{Name: "provision"})
	if err != nil {
		t.Fatalf("failed to list triggers: %v", err)
	}
	if len(created) != 1 {
		t.Errorf("expected the transition to dispatch once, got %d triggers", len(created))
	}

	// The snapshot reflects only the winning write.
	snapshot, err := s.MembershipSnapshot(ctx, "web")
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if !reflect.DeepEqual(snapshot, []string{"node-1"}) {
		t.Errorf("expected snapshot [node-1], got %v", snapshot)
	}

	// The baseline comparison is set equality, not order.
	if err := s.RecordDispatch(ctx, "web", []string{"node-1"}, []string{"node-1", "node-2"}, nil); err != nil {
		t.Fatalf("failed to advance snapshot: %v", err)
	}
	if err := s.RecordDispatch(ctx, "web", []string{"node-2", "node-1"}, []string{"node-2"}, nil); err != nil {
		t.Fatalf("expected order-insensitive baseline match, got %v", err)
	}
}
