package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// setupExecutorStore creates an in-memory store for executor tests
func setupExecutorStore(t *testing.T) *store.SQLiteStore {
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
	return s
}

// TestTriggerExecutorCompletesTrigger tests the claim/execute/complete path
func TestTriggerExecutorCompletesTrigger(t *testing.T) {
	s := setupExecutorStore(t)
	ctx := context.Background()

	trigger := &model.Trigger{Name: "provision", Arguments: map[string]any{"component": "node-1"}}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	handler := func(_ context.Context, tr *model.Trigger) (map[string]any, error) {
		return map[string]any{"component": tr.Arguments["component"]}, nil
	}
	exec := NewTriggerExecutor(s, handler, telemetry.Nop(), TriggerExecutorConfig{})

	found, err := exec.Poll(ctx)
	if err != nil {
		t.Fatalf("failed to poll: %v", err)
	}
	if !found {
		t.Fatal("expected the pending trigger to be found")
	}

	if err := exec.Run(ctx); err != nil {
		t.Fatalf("failed to run: %v", err)
	}

	done, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if done.Status != model.TriggerStatusDone {
		t.Errorf("expected done, got %s", done.Status)
	}
	if done.Result["component"] != "node-1" {
		t.Errorf("expected handler result to be stored, got %v", done.Result)
	}
}

// TestTriggerExecutorRecordsFailure tests that a handler error moves
// the trigger to error with a diagnostic and surfaces as an execution
// error for the loop to absorb
func TestTriggerExecutorRecordsFailure(t *testing.T) {
	s := setupExecutorStore(t)
	ctx := context.Background()

	trigger := &model.Trigger{Name: "provision"}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	handler := func(context.Context, *model.Trigger) (map[string]any, error) {
		return nil, errors.New("script exploded")
	}
	exec := NewTriggerExecutor(s, handler, telemetry.Nop(), TriggerExecutorConfig{})

	if _, err := exec.Poll(ctx); err != nil {
		t.Fatalf("failed to poll: %v", err)
	}
	err := exec.Run(ctx)
	if !model.IsExecution(err) {
		t.Fatalf("expected execution error, got %v", err)
	}

	failed, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if failed.Status != model.TriggerStatusError {
		t.Errorf("expected error status, got %s", failed.Status)
	}
	detail, ok := failed.Result["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error diagnostic, got %v", failed.Result)
	}
	if detail["message"] != "script exploded" {
		t.Errorf("expected the handler message in the diagnostic, got %v", detail["message"])
	}
}

// TestTriggerExecutorLostClaim tests that losing every candidate claim
// is a quiet no-op, not an error
func TestTriggerExecutorLostClaim(t *testing.T) {
	s := setupExecutorStore(t)
	ctx := context.Background()

	trigger := &model.Trigger{Name: "contested"}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	ran := false
	handler := func(context.Context, *model.Trigger) (map[string]any, error) {
		ran = true
		return nil, nil
	}
	exec := NewTriggerExecutor(s, handler, telemetry.Nop(), TriggerExecutorConfig{})

	if _, err := exec.Poll(ctx); err != nil {
		t.Fatalf("failed to poll: %v", err)
	}

	// Another worker wins the claim between poll and run.
	if _, err := s.ClaimTrigger(ctx, trigger.ID); err != nil {
		t.Fatalf("failed to steal claim: %v", err)
	}

	if err := exec.Run(ctx); err != nil {
		t.Fatalf("expected lost claim to be absorbed, got %v", err)
	}
	if ran {
		t.Error("expected the handler not to run after losing the claim")
	}
}

// TestTriggerExecutorHeartbeats tests that the heartbeat advances while
// the handler runs
func TestTriggerExecutorHeartbeats(t *testing.T) {
	s := setupExecutorStore(t)
	ctx := context.Background()

	trigger := &model.Trigger{Name: "slow"}
	if err := s.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	var claimedAt time.Time
	handler := func(hctx context.Context, tr *model.Trigger) (map[string]any, error) {
		claimedAt = tr.Heartbeat
		// Long enough for several heartbeat ticks.
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}
	exec := NewTriggerExecutor(s, handler, telemetry.Nop(), TriggerExecutorConfig{
		HeartbeatInterval: 5 * time.Millisecond,
	})

	if _, err := exec.Poll(ctx); err != nil {
		t.Fatalf("failed to poll: %v", err)
	}
	if err := exec.Run(ctx); err != nil {
		t.Fatalf("failed to run: %v", err)
	}

	done, err := s.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if !done.Heartbeat.After(claimedAt) {
		t.Errorf("expected heartbeat to advance during the run: claimed %v, final %v", claimedAt, done.Heartbeat)
	}
}

// TestTriggerExecutorNameFilter tests that a filtered executor ignores
// triggers with other names
func TestTriggerExecutorNameFilter(t *testing.T) {
	s := setupExecutorStore(t)
	ctx := context.Background()

	if err := s.CreateTrigger(ctx, &model.Trigger{Name: "other"}); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	handler := func(context.Context, *model.Trigger) (map[string]any, error) { return nil, nil }
	exec := NewTriggerExecutor(s, handler, telemetry.Nop(), TriggerExecutorConfig{
		TriggerName: "wanted",
	})

	found, err := exec.Poll(ctx)
	if err != nil {
		t.Fatalf("failed to poll: %v", err)
	}
	if found {
		t.Error("expected the filtered executor to ignore other triggers")
	}
}
