package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jacob8919/autonomous-coding/pkg/models"
)

const featureColumns = `id, priority, category, name, description, steps, status, source, batch_id,
	       attempt_count, consecutive_failures, needs_review, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeature(row rowScanner) (*models.Feature, error) {
	f := &models.Feature{}
	var steps string
	var needsReview int
	err := row.Scan(
		&f.ID, &f.Priority, &f.Category, &f.Name, &f.Description, &steps,
		&f.Status, &f.Source, &f.BatchID, &f.AttemptCount, &f.ConsecutiveFailures,
		&needsReview, &f.LastError, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.NeedsReview = needsReview == 1
	if err := json.Unmarshal([]byte(steps), &f.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps for feature %d: %w", f.ID, err)
	}
	return f, nil
}

// InsertFeatures atomically registers a batch of features. Append mode ranks
// the batch after everything already in the ledger; prepend mode ranks it
// before every non-passing feature, so a later prepend lands in front of an
// earlier one. Input order is preserved within the batch either way.
func (db *DB) InsertFeatures(ctx context.Context, inputs []models.FeatureInput, batchID *string, source models.FeatureSource, mode models.PriorityMode) ([]int64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	for i, in := range inputs {
		switch {
		case strings.TrimSpace(in.Category) == "":
			return nil, &ValidationError{Index: i, Field: "category"}
		case strings.TrimSpace(in.Name) == "":
			return nil, &ValidationError{Index: i, Field: "name"}
		case strings.TrimSpace(in.Description) == "":
			return nil, &ValidationError{Index: i, Field: "description"}
		case len(in.Steps) == 0:
			return nil, &ValidationError{Index: i, Field: "steps"}
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	start, err := startPriority(ctx, tx, mode, len(inputs))
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(inputs))
	for i, in := range inputs {
		steps, err := json.Marshal(in.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to encode steps for %q: %w", in.Name, err)
		}

		var id int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO features (priority, category, name, description, steps, source, batch_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, start+i, in.Category, in.Name, in.Description, string(steps), source, batchID).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert feature %q: %w", in.Name, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return ids, nil
}

// startPriority computes the rank of the first feature in a new batch.
// Append: one past the highest rank ever assigned. Prepend: strictly below
// the lowest-ranked non-passing feature, falling back to append arithmetic
// when nothing is pending.
func startPriority(ctx context.Context, exec executor, mode models.PriorityMode, n int) (int, error) {
	if mode == models.PriorityModePrepend {
		var min sql.NullInt64
		err := exec.QueryRowContext(ctx, `
			SELECT MIN(priority) FROM features WHERE status != 'passing'
		`).Scan(&min)
		if err != nil {
			return 0, fmt.Errorf("failed to query min priority: %w", err)
		}
		if min.Valid {
			return int(min.Int64) - n, nil
		}
	}

	var max sql.NullInt64
	err := exec.QueryRowContext(ctx, `SELECT MAX(priority) FROM features`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max priority: %w", err)
	}
	if max.Valid {
		return int(max.Int64) + 1, nil
	}
	return 1, nil
}

// NextPending returns the eligible feature with the lowest rank, or nil when
// no work remains. Failed features stay eligible for retry; review-flagged
// features are held back until reopened.
func (db *DB) NextPending(ctx context.Context) (*models.Feature, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM features
		WHERE status IN ('pending', 'failed') AND needs_review = 0
		ORDER BY priority ASC, id ASC
		LIMIT 1
	`, featureColumns)

	f, err := scanFeature(db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next pending feature: %w", err)
	}
	return f, nil
}

// MarkInProgress claims a feature for dispatch. The single-writer discipline
// lives here: the check that no other feature is in_progress and the status
// flip happen in one statement.
func (db *DB) MarkInProgress(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE features
		SET status = 'in_progress'
		WHERE id = ? AND status IN ('pending', 'failed')
		  AND NOT EXISTS (SELECT 1 FROM features WHERE status = 'in_progress')
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark feature in_progress: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return db.inProgressConflict(ctx, id)
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) inProgressConflict(ctx context.Context, id int64) error {
	f, err := db.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return &ConflictError{ID: id, Reason: "not found"}
	}
	if f.Status != models.FeatureStatusPending && f.Status != models.FeatureStatusFailed {
		return &ConflictError{ID: id, Reason: fmt.Sprintf("cannot dispatch from status %s", f.Status)}
	}
	return &ConflictError{ID: id, Reason: "another feature is already in_progress"}
}

// MarkOutcome records a session result: in_progress -> passing or failed.
// Passing clears last_error and the consecutive-failure streak; failed
// extends the streak. Returns the updated feature so the caller can apply
// its stall policy.
func (db *DB) MarkOutcome(ctx context.Context, id int64, status models.FeatureStatus, errMsg *string) (*models.Feature, error) {
	if status != models.FeatureStatusPassing && status != models.FeatureStatusFailed {
		return nil, fmt.Errorf("invalid outcome status %q", status)
	}

	var lastError *string
	if status == models.FeatureStatusFailed {
		lastError = errMsg
	}

	query := fmt.Sprintf(`
		UPDATE features
		SET status = ?,
		    attempt_count = attempt_count + 1,
		    consecutive_failures = CASE WHEN ? = 'failed' THEN consecutive_failures + 1 ELSE 0 END,
		    last_error = ?
		WHERE id = ? AND status = 'in_progress'
		RETURNING %s
	`, featureColumns)

	f, err := scanFeature(db.QueryRowContext(ctx, query, status, status, lastError, id))
	if err == sql.ErrNoRows {
		return nil, &ConflictError{ID: id, Reason: "not in_progress"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark outcome: %w", err)
	}

	db.triggerChange(ctx)
	return f, nil
}

// MarkAborted returns a timed-out feature to the queue. The attempt still
// counts toward the stall threshold, but last_error is left alone: a timeout
// may be environmental, not the feature's fault.
func (db *DB) MarkAborted(ctx context.Context, id int64) (*models.Feature, error) {
	query := fmt.Sprintf(`
		UPDATE features
		SET status = 'pending',
		    attempt_count = attempt_count + 1,
		    consecutive_failures = consecutive_failures + 1
		WHERE id = ? AND status = 'in_progress'
		RETURNING %s
	`, featureColumns)

	f, err := scanFeature(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &ConflictError{ID: id, Reason: "not in_progress"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark feature aborted: %w", err)
	}

	db.triggerChange(ctx)
	return f, nil
}

// FlagForReview parks a feature that keeps failing so it stops blocking the
// backlog. Flagged features are skipped by NextPending until reopened.
func (db *DB) FlagForReview(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `UPDATE features SET needs_review = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to flag feature for review: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("feature not found: %d", id)
	}

	db.triggerChange(ctx)
	return nil
}

// Reopen puts a feature back into circulation. It is the only transition out
// of passing and the only way to clear a review flag. The streak and error
// fields reset so the stall counter starts fresh.
func (db *DB) Reopen(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE features
		SET status = 'pending',
		    needs_review = 0,
		    consecutive_failures = 0,
		    last_error = NULL
		WHERE id = ? AND status != 'in_progress' AND (status = 'passing' OR needs_review = 1)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to reopen feature: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		f, err := db.GetFeature(ctx, id)
		if err != nil {
			return err
		}
		if f == nil {
			return &ConflictError{ID: id, Reason: "not found"}
		}
		return &ConflictError{ID: id, Reason: fmt.Sprintf("cannot reopen from status %s", f.Status)}
	}

	db.triggerChange(ctx)
	return nil
}

// SkipFeature moves a feature to the end of the queue by assigning it one
// past the highest rank. Returns the old and new ranks.
func (db *DB) SkipFeature(ctx context.Context, id int64) (oldPriority, newPriority int, err error) {
	f, err := db.GetFeature(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	if f == nil {
		return 0, 0, fmt.Errorf("feature not found: %d", id)
	}
	if f.Status == models.FeatureStatusPassing {
		return 0, 0, &ConflictError{ID: id, Reason: "cannot skip a passing feature"}
	}

	var max sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(priority) FROM features`).Scan(&max); err != nil {
		return 0, 0, fmt.Errorf("failed to query max priority: %w", err)
	}
	newPriority = 1
	if max.Valid {
		newPriority = int(max.Int64) + 1
	}

	if _, err := db.ExecContext(ctx, `UPDATE features SET priority = ? WHERE id = ?`, newPriority, id); err != nil {
		return 0, 0, fmt.Errorf("failed to skip feature: %w", err)
	}

	db.triggerChange(ctx)
	return f.Priority, newPriority, nil
}

// CompactRanks renumbers all non-passing features to a dense 1..N sequence,
// preserving their relative order. Only relative order matters, so this is
// pure housekeeping after rank space has drifted from repeated prepends.
func (db *DB) CompactRanks(ctx context.Context) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inProgress int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE status = 'in_progress'`).Scan(&inProgress); err != nil {
		return 0, fmt.Errorf("failed to check in_progress features: %w", err)
	}
	if inProgress > 0 {
		return 0, fmt.Errorf("cannot compact ranks while a feature is in_progress")
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM features WHERE status != 'passing' ORDER BY priority ASC, id ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list features for compaction: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan feature id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE features SET priority = ? WHERE id = ?`, i+1, id); err != nil {
			return 0, fmt.Errorf("failed to renumber feature %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return len(ids), nil
}

// GetFeature retrieves a feature by its id.
func (db *DB) GetFeature(ctx context.Context, id int64) (*models.Feature, error) {
	query := fmt.Sprintf(`SELECT %s FROM features WHERE id = ?`, featureColumns)

	f, err := scanFeature(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}
	return f, nil
}

// ListFeatures returns every feature in selection order.
func (db *DB) ListFeatures(ctx context.Context) ([]*models.Feature, error) {
	query := fmt.Sprintf(`SELECT %s FROM features ORDER BY priority ASC, id ASC`, featureColumns)
	return db.queryFeatures(ctx, query)
}

func (db *DB) queryFeatures(ctx context.Context, query string, args ...any) ([]*models.Feature, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var features []*models.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return features, nil
}
