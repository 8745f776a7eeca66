package model

import (
	"errors"
	"testing"
	"time"
)

// TestTriggerStatusTransitions tests the trigger state machine
func TestTriggerStatusTransitions(t *testing.T) {
	tests := []struct {
		from    TriggerStatus
		to      TriggerStatus
		allowed bool
	}{
		{TriggerStatusPending, TriggerStatusRunning, true},
		{TriggerStatusRunning, TriggerStatusDone, true},
		{TriggerStatusRunning, TriggerStatusError, true},
		{TriggerStatusPending, TriggerStatusDone, false},
		{TriggerStatusPending, TriggerStatusError, false},
		{TriggerStatusRunning, TriggerStatusPending, false},
		{TriggerStatusDone, TriggerStatusRunning, false},
		{TriggerStatusDone, TriggerStatusError, false},
		{TriggerStatusError, TriggerStatusRunning, false},
		{TriggerStatusError, TriggerStatusDone, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected allowed=%v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

// TestTriggerStatusIsTerminal tests terminal state detection
func TestTriggerStatusIsTerminal(t *testing.T) {
	if TriggerStatusPending.IsTerminal() || TriggerStatusRunning.IsTerminal() {
		t.Error("pending and running must not be terminal")
	}
	if !TriggerStatusDone.IsTerminal() || !TriggerStatusError.IsTerminal() {
		t.Error("done and error must be terminal")
	}
}

// TestTriggerStale tests staleness detection
func TestTriggerStale(t *testing.T) {
	now := time.Now()
	trigger := &Trigger{
		Status:    TriggerStatusRunning,
		Heartbeat: now.Add(-2 * time.Minute),
	}

	if !trigger.Stale(now, time.Minute) {
		t.Error("running trigger with old heartbeat should be stale")
	}
	if trigger.Stale(now, 5*time.Minute) {
		t.Error("trigger within the window should not be stale")
	}

	trigger.Status = TriggerStatusPending
	if trigger.Stale(now, time.Minute) {
		t.Error("only running triggers can be stale")
	}
}

// TestErrorResult tests the diagnostic payload shape
func TestErrorResult(t *testing.T) {
	result := ErrorResult(NewValidationError("bad input", nil))

	detail, ok := result["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error key, got %v", result)
	}
	if detail["type"] != "validation" {
		t.Errorf("expected type validation, got %v", detail["type"])
	}
	if detail["message"] == "" {
		t.Error("expected non-empty message")
	}

	plain := ErrorResult(errors.New("boom"))
	detail = plain["error"].(map[string]any)
	if detail["type"] != "execution" {
		t.Errorf("unclassified errors default to execution, got %v", detail["type"])
	}
}

// TestErrorPredicates tests error classification through wrapping
func TestErrorPredicates(t *testing.T) {
	err := NewConflictError("duplicate service", nil).WithEntity("web/http")

	if !IsConflict(err) {
		t.Error("expected IsConflict to match")
	}
	if IsNotFound(err) {
		t.Error("IsNotFound must not match a conflict")
	}

	// Predicates see through wrapping.
	wrapped := NewExecutionError("handler failed", err)
	if !IsExecution(wrapped) {
		t.Error("expected IsExecution on the outer error")
	}
}

// TestValidSlug tests the slug identifier rule
func TestValidSlug(t *testing.T) {
	valid := []string{"node-1", "web", "a", "role_db", "x9-y_z"}
	for _, s := range valid {
		if !ValidSlug(s) {
			t.Errorf("expected %q to be a valid slug", s)
		}
	}

	invalid := []string{"", "Node-1", "-leading", "_leading", "has space", "dot.dot", "café"}
	for _, s := range invalid {
		if ValidSlug(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}
