package model

import (
	"time"
)

// TriggerStatus is the lifecycle state of a trigger.
type TriggerStatus string

const (
	// TriggerStatusPending is the only initial state.
	TriggerStatusPending TriggerStatus = "pending"

	// TriggerStatusRunning means a worker holds the claim.
	TriggerStatusRunning TriggerStatus = "running"

	// TriggerStatusDone is the terminal success state.
	TriggerStatusDone TriggerStatus = "done"

	// TriggerStatusError is the terminal failure state.
	TriggerStatusError TriggerStatus = "error"
)

// Default liveness parameters. The staleness window must exceed the
// heartbeat interval by a safety margin.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStalenessWindow   = 60 * time.Second

	// MaxTriggerRetries bounds how many times an abandoned trigger is
	// recovered to pending before it is failed outright.
	MaxTriggerRetries = 3
)

// IsTerminal returns true for the done and error states.
func (s TriggerStatus) IsTerminal() bool {
	return s == TriggerStatusDone || s == TriggerStatusError
}

// CanTransitionTo reports whether the status machine permits moving to
// next. Transitions only move forward: pending→running, running→done,
// running→error.
func (s TriggerStatus) CanTransitionTo(next TriggerStatus) bool {
	switch s {
	case TriggerStatusPending:
		return next == TriggerStatusRunning
	case TriggerStatusRunning:
		return next == TriggerStatusDone || next == TriggerStatusError
	default:
		return false
	}
}

// Trigger is one asynchronous execution request. Triggers are audit
// records: they outlive the recipe or group that spawned them.
type Trigger struct {
	// ID is the generated unique identifier. Never caller-supplied.
	ID string `json:"id"`

	// Name names the work, normally the recipe name (slug).
	Name string `json:"name" validate:"required,slug"`

	// Status is the lifecycle state.
	Status TriggerStatus `json:"status"`

	// Arguments is the payload handed to the execution engine.
	Arguments map[string]any `json:"arguments,omitempty"`

	// Result holds the outcome: the handler result on done, a
	// diagnostic mapping on error. Empty until terminal.
	Result map[string]any `json:"result,omitempty"`

	// Retries counts stale-claim recoveries.
	Retries int `json:"retries"`

	// Created is set once at creation.
	Created time.Time `json:"created"`

	// Heartbeat is the liveness timestamp. Initialized equal to
	// Created; monotonically non-decreasing while running.
	Heartbeat time.Time `json:"heartbeat"`
}

// Stale reports whether a running trigger's heartbeat is older than the
// staleness window at the given instant.
func (t *Trigger) Stale(now time.Time, window time.Duration) bool {
	return t.Status == TriggerStatusRunning && now.Sub(t.Heartbeat) > window
}

// ErrorResult builds the diagnostic payload stored on a failed trigger.
func ErrorResult(err error) map[string]any {
	detail := map[string]any{
		"message": err.Error(),
	}
	if e, ok := err.(*Error); ok {
		detail["type"] = string(e.Class)
	} else {
		detail["type"] = string(ErrorClassExecution)
	}
	return map[string]any{"error": detail}
}
