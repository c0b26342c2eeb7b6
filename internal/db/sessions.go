package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jacob8919/autonomous-coding/pkg/models"
)

// CreateSession opens a session record. featureID is nil for sessions that
// attempt no feature, such as the initializer run.
func (db *DB) CreateSession(ctx context.Context, featureID *int64) (*models.Session, error) {
	s := &models.Session{
		ID:        uuid.New().String(),
		FeatureID: featureID,
	}

	err := db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, feature_id)
		VALUES (?, ?)
		RETURNING started_at
	`, s.ID, s.FeatureID).Scan(&s.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	db.triggerChange(ctx)
	return s, nil
}

// FinishSession closes a session record. Sessions are append-only history:
// finishing an already-ended session is a conflict, not an update.
func (db *DB) FinishSession(ctx context.Context, id string, outcome models.SessionOutcome, errMsg *string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE sessions
		SET outcome = ?, error = ?, ended_at = CURRENT_TIMESTAMP
		WHERE id = ? AND ended_at IS NULL
	`, outcome, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found or already ended: %s", id)
	}

	db.triggerChange(ctx)
	return nil
}

// ListSessions returns session history, most recent first. A limit of 0 or
// less returns everything.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	query := `
		SELECT id, feature_id, outcome, error, started_at, ended_at
		FROM sessions
		ORDER BY started_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		if err := rows.Scan(&s.ID, &s.FeatureID, &s.Outcome, &s.Error, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return sessions, nil
}

// ReconcileInterrupted repairs state left behind by a killed process: open
// sessions are closed as aborted, and any feature stuck in_progress goes
// back to pending with last_error recording the interruption. The lost
// dispatch still counts toward attempts and the failure streak. Called once
// at supervisor startup, before the first tick.
func (db *DB) ReconcileInterrupted(ctx context.Context) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET outcome = 'aborted', ended_at = CURRENT_TIMESTAMP
		WHERE ended_at IS NULL
	`); err != nil {
		return 0, fmt.Errorf("failed to close interrupted sessions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE features
		SET status = 'pending',
		    last_error = 'interrupted',
		    attempt_count = attempt_count + 1,
		    consecutive_failures = consecutive_failures + 1
		WHERE status = 'in_progress'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted features: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if rows > 0 {
		db.triggerChange(ctx)
	}
	return int(rows), nil
}
