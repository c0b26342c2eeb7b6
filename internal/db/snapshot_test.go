package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jacob8919/autonomous-coding/pkg/models"
)

func TestSnapshotRoundTrip(t *testing.T) {
	src := testDB(t)
	ctx := context.Background()

	ids := seedFeatures(t, src, "alpha", "beta", "gamma")
	passFeature(t, src, ids[1])

	s, err := src.CreateSession(ctx, &ids[1])
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := src.FinishSession(ctx, s.ID, models.SessionOutcomePassing, nil); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := src.ExportSnapshot(ctx, path); err != nil {
		t.Fatalf("ExportSnapshot failed: %v", err)
	}

	dst := testDB(t)
	if err := dst.ImportSnapshot(ctx, path); err != nil {
		t.Fatalf("ImportSnapshot failed: %v", err)
	}

	want, err := src.ListFeatures(ctx)
	if err != nil {
		t.Fatalf("ListFeatures failed: %v", err)
	}
	got, err := dst.ListFeatures(ctx)
	if err != nil {
		t.Fatalf("ListFeatures failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d features after import, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("Position %d: expected id %d, got %d", i, want[i].ID, got[i].ID)
		}
		if got[i].Priority != want[i].Priority {
			t.Errorf("Feature %d: expected priority %d, got %d", got[i].ID, want[i].Priority, got[i].Priority)
		}
		if got[i].Status != want[i].Status {
			t.Errorf("Feature %d: expected status %s, got %s", got[i].ID, want[i].Status, got[i].Status)
		}
		if len(got[i].Steps) != len(want[i].Steps) {
			t.Errorf("Feature %d: expected %d steps, got %d", got[i].ID, len(want[i].Steps), len(got[i].Steps))
		}
	}

	sessions, err := dst.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != s.ID {
		t.Errorf("Expected imported session %s, got %+v", s.ID, sessions)
	}
}

func TestImportSnapshotRefusesNonEmpty(t *testing.T) {
	src := testDB(t)
	ctx := context.Background()
	seedFeatures(t, src, "alpha")

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := src.ExportSnapshot(ctx, path); err != nil {
		t.Fatalf("ExportSnapshot failed: %v", err)
	}

	dst := testDB(t)
	seedFeatures(t, dst, "existing")

	if err := dst.ImportSnapshot(ctx, path); err == nil {
		t.Error("Expected import into non-empty ledger to be refused")
	}
}

func TestEnableAutoSnapshot(t *testing.T) {
	db := testDB(t)

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	db.EnableAutoSnapshot(path)

	seedFeatures(t, db, "alpha")

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected snapshot written after insert: %v", err)
	}
}
