package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

const triggerColumns = `id, name, status, arguments, result, retries, created, heartbeat`

// CreateTrigger persists a new trigger. The identifier is always
// generated here, never caller-supplied, so concurrent creators cannot
// collide. Status starts at pending with the heartbeat equal to the
// creation timestamp.
func (s *SQLiteStore) CreateTrigger(ctx context.Context, t *model.Trigger) error {
	t.ID = uuid.New().String()
	t.Status = model.TriggerStatusPending
	t.Result = nil
	t.Retries = 0
	t.Created = time.Now().UTC()
	t.Heartbeat = t.Created

	if err := model.ValidateStruct(t); err != nil {
		return err
	}

	arguments, err := jsonMap(t.Arguments)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triggers (id, name, status, arguments, result, retries, created, heartbeat)
		 VALUES (?, ?, ?, ?, '{}', 0, ?, ?)`,
		t.ID, t.Name, t.Status, arguments, t.Created.UnixNano(), t.Heartbeat.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	telemetry.TriggersCreated.Inc()
	return nil
}

func scanTrigger(scan func(dest ...any) error) (*model.Trigger, error) {
	t := &model.Trigger{}
	var arguments, result string
	var created, heartbeat int64

	if err := scan(&t.ID, &t.Name, &t.Status, &arguments, &result,
		&t.Retries, &created, &heartbeat); err != nil {
		return nil, err
	}

	var err error
	if t.Arguments, err = decodeMap(arguments); err != nil {
		return nil, err
	}
	if t.Result, err = decodeMap(result); err != nil {
		return nil, err
	}
	t.Created = time.Unix(0, created).UTC()
	t.Heartbeat = time.Unix(0, heartbeat).UTC()
	return t, nil
}

func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*model.Trigger, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)

	t, err := scanTrigger(row.Scan)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("trigger not found", nil).WithEntity(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTriggers(ctx context.Context, filter TriggerFilter) ([]*model.Trigger, error) {
	q := `SELECT ` + triggerColumns + ` FROM triggers
		WHERE (? = '' OR name = ?) AND (? = '' OR status = ?)
		ORDER BY created`
	args := []any{filter.Name, filter.Name, string(filter.Status), string(filter.Status)}
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	triggers := []*model.Trigger{}
	for rows.Next() {
		t, err := scanTrigger(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}
	return triggers, nil
}

// ClaimTrigger performs the compare-and-swap pending-to-running
// transition. The conditional update succeeds for exactly one caller;
// everyone else gets a claim-conflict error and resumes polling.
func (s *SQLiteStore) ClaimTrigger(ctx context.Context, id string) (*model.Trigger, error) {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET status = ?, heartbeat = ? WHERE id = ? AND status = ?`,
		model.TriggerStatusRunning, now.UnixNano(), id, model.TriggerStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim trigger: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, model.NewClaimConflictError("trigger is not in pending state", nil).WithEntity(id)
	}

	return s.GetTrigger(ctx, id)
}

// HeartbeatTrigger advances the heartbeat of a running trigger. The
// max() keeps the timestamp monotonically non-decreasing even if clocks
// step backwards between calls.
func (s *SQLiteStore) HeartbeatTrigger(ctx context.Context, id string) error {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET heartbeat = max(heartbeat, ?) WHERE id = ? AND status = ?`,
		now.UnixNano(), id, model.TriggerStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.NewConflictError("trigger is not running", nil).WithEntity(id)
	}
	return nil
}

func (s *SQLiteStore) CompleteTrigger(ctx context.Context, id string, result map[string]any) error {
	return s.finishTrigger(ctx, id, model.TriggerStatusDone, result)
}

func (s *SQLiteStore) FailTrigger(ctx context.Context, id string, result map[string]any) error {
	return s.finishTrigger(ctx, id, model.TriggerStatusError, result)
}

// finishTrigger moves a running trigger to a terminal state exactly
// once. Writes to an already-terminal trigger are rejected.
func (s *SQLiteStore) finishTrigger(ctx context.Context, id string, status model.TriggerStatus, resultPayload map[string]any) error {
	resultText, err := jsonMap(resultPayload)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current model.TriggerStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM triggers WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return model.NewNotFoundError("trigger not found", nil).WithEntity(id)
		}
		if err != nil {
			return fmt.Errorf("failed to get trigger status: %w", err)
		}

		if !current.CanTransitionTo(status) {
			return model.NewConflictError(
				fmt.Sprintf("invalid transition %s -> %s", current, status), nil).WithEntity(id)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE triggers SET status = ?, result = ? WHERE id = ? AND status = ?`,
			status, resultText, id, current)
		if err != nil {
			return fmt.Errorf("failed to finish trigger: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListStaleTriggers(ctx context.Context, window time.Duration) ([]*model.Trigger, error) {
	threshold := time.Now().UTC().Add(-window)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE status = ? AND heartbeat < ? ORDER BY heartbeat`,
		model.TriggerStatusRunning, threshold.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale triggers: %w", err)
	}
	defer rows.Close()

	triggers := []*model.Trigger{}
	for rows.Next() {
		t, err := scanTrigger(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}
	return triggers, nil
}

// RecoverStaleTrigger returns an abandoned running trigger to pending
// for re-claim, bumping its retry count. The staleness condition is
// re-checked inside the update so a worker that resumed heartbeating in
// the meantime keeps its claim. Once the retry budget is exhausted the
// trigger is failed with a stale diagnostic instead.
func (s *SQLiteStore) RecoverStaleTrigger(ctx context.Context, id string, window time.Duration, maxRetries int) (bool, error) {
	threshold := time.Now().UTC().Add(-window)
	recovered := false

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var retries int
		var heartbeat int64
		var status model.TriggerStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status, retries, heartbeat FROM triggers WHERE id = ?`, id).
			Scan(&status, &retries, &heartbeat)
		if err == sql.ErrNoRows {
			return model.NewNotFoundError("trigger not found", nil).WithEntity(id)
		}
		if err != nil {
			return fmt.Errorf("failed to get trigger: %w", err)
		}

		if status != model.TriggerStatusRunning || heartbeat >= threshold.UnixNano() {
			return model.NewStaleError("trigger is not stale", nil).WithEntity(id)
		}

		if retries >= maxRetries {
			diagnostic := model.ErrorResult(model.NewStaleError(
				fmt.Sprintf("abandoned after %d recoveries", retries), nil))
			resultText, err := jsonMap(diagnostic)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE triggers SET status = ?, result = ? WHERE id = ?`,
				model.TriggerStatusError, resultText, id)
			if err != nil {
				return fmt.Errorf("failed to fail exhausted trigger: %w", err)
			}
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE triggers SET status = ?, retries = retries + 1 WHERE id = ?`,
			model.TriggerStatusPending, id)
		if err != nil {
			return fmt.Errorf("failed to recover trigger: %w", err)
		}
		recovered = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recovered, nil
}

// Membership snapshots

func (s *SQLiteStore) MembershipSnapshot(ctx context.Context, group string) ([]string, error) {
	var members string
	err := s.db.QueryRowContext(ctx,
		`SELECT members FROM membership_snapshots WHERE group_name = ?`, group).Scan(&members)
	if err == sql.ErrNoRows {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership snapshot: %w", err)
	}
	return decodeList(members)
}

// RecordDispatch stores the triggers spawned by a membership-change
// event together with the new snapshot in one transaction. The caller
// passes the snapshot it observed the transition against; the write is
// a compare-and-swap on that snapshot, so when a concurrent dispatcher
// already recorded the transition the stored snapshot no longer
// matches and the call fails with a claim conflict instead of creating
// the triggers a second time.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, group string, previous, members []string, triggers []*model.Trigger) error {
	membersText, err := jsonList(members)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var storedText string
		err := tx.QueryRowContext(ctx,
			`SELECT members FROM membership_snapshots WHERE group_name = ?`, group).Scan(&storedText)
		stored := []string{}
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to get membership snapshot: %w", err)
		}
		if err == nil {
			if stored, err = decodeList(storedText); err != nil {
				return err
			}
		}
		if !sameMemberSet(stored, previous) {
			return model.NewClaimConflictError("membership snapshot already advanced", nil).WithEntity(group)
		}

		now := time.Now().UTC()

		for _, t := range triggers {
			t.ID = uuid.New().String()
			t.Status = model.TriggerStatusPending
			t.Result = nil
			t.Retries = 0
			t.Created = now
			t.Heartbeat = now

			if err := model.ValidateStruct(t); err != nil {
				return err
			}
			arguments, err := jsonMap(t.Arguments)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO triggers (id, name, status, arguments, result, retries, created, heartbeat)
				 VALUES (?, ?, ?, ?, '{}', 0, ?, ?)`,
				t.ID, t.Name, t.Status, arguments, t.Created.UnixNano(), t.Heartbeat.UnixNano())
			if err != nil {
				return fmt.Errorf("failed to create trigger: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO membership_snapshots (group_name, members, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(group_name) DO UPDATE SET members = excluded.members, updated_at = excluded.updated_at`,
			group, membersText, now)
		if err != nil {
			return fmt.Errorf("failed to save membership snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	telemetry.TriggersCreated.Add(float64(len(triggers)))
	return nil
}

func sameMemberSet(a, b []string) bool {
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
