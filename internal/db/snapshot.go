package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jacob8919/autonomous-coding/pkg/models"
)

// EnableAutoSnapshot sets up a hook that exports a ledger snapshot to the
// given path after every successful write, so the external checkpoint picks
// up ledger state alongside the project artifacts.
func (db *DB) EnableAutoSnapshot(path string) {
	db.AddOnChange(func(ctx context.Context) {
		// Best-effort: a failed export must never fail the write that
		// triggered it.
		_ = db.ExportSnapshot(ctx, path)
	})
}

type snapshotRecord struct {
	RecordType string          `json:"record_type"`
	Feature    *models.Feature `json:"feature,omitempty"`
	Session    *models.Session `json:"session,omitempty"`
	ExportedAt *time.Time      `json:"exported_at,omitempty"`
}

// ExportSnapshot writes every feature and session as JSONL, atomically via
// a temp file rename.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	w := bufio.NewWriter(tempFile)
	enc := json.NewEncoder(w)

	now := time.Now().UTC()
	if err := enc.Encode(snapshotRecord{RecordType: "meta", ExportedAt: &now}); err != nil {
		return fmt.Errorf("failed to write meta record: %w", err)
	}

	features, err := db.ListFeatures(ctx)
	if err != nil {
		return err
	}
	for _, f := range features {
		if err := enc.Encode(snapshotRecord{RecordType: "feature", Feature: f}); err != nil {
			return fmt.Errorf("failed to write feature record: %w", err)
		}
	}

	sessions, err := db.ListSessions(ctx, 0)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := enc.Encode(snapshotRecord{RecordType: "session", Session: s}); err != nil {
			return fmt.Errorf("failed to write session record: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ImportSnapshot restores ledger state from a JSONL snapshot into an empty
// database. Feature ids and ranks are preserved so selection order survives
// the round trip.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM features`).Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing features: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("refusing to import snapshot into a non-empty ledger")
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec snapshotRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot record: %w", err)
		}

		switch rec.RecordType {
		case "meta":
			// Skip meta
		case "feature":
			f := rec.Feature
			steps, err := json.Marshal(f.Steps)
			if err != nil {
				return fmt.Errorf("failed to encode steps for feature %d: %w", f.ID, err)
			}
			needsReview := 0
			if f.NeedsReview {
				needsReview = 1
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO features (
					id, priority, category, name, description, steps, status, source,
					batch_id, attempt_count, consecutive_failures, needs_review,
					last_error, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, f.ID, f.Priority, f.Category, f.Name, f.Description, string(steps),
				f.Status, f.Source, f.BatchID, f.AttemptCount, f.ConsecutiveFailures,
				needsReview, f.LastError, f.CreatedAt, f.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to import feature %d: %w", f.ID, err)
			}
		case "session":
			s := rec.Session
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sessions (id, feature_id, outcome, error, started_at, ended_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, s.ID, s.FeatureID, s.Outcome, s.Error, s.StartedAt, s.EndedAt)
			if err != nil {
				return fmt.Errorf("failed to import session %s: %w", s.ID, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}
