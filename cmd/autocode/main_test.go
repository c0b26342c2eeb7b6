package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunInit(t *testing.T) {
	tmpDir := t.TempDir()

	dbPath = ".autocode/autocode.db"
	snapshotPath = ".autocode/snapshot.jsonl"

	if err := runInit([]string{tmpDir}); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	autocodeDir := filepath.Join(tmpDir, ".autocode")
	if _, err := os.Stat(autocodeDir); os.IsNotExist(err) {
		t.Errorf(".autocode directory was not created")
	}

	gitignorePath := filepath.Join(autocodeDir, ".gitignore")
	content, err := os.ReadFile(gitignorePath)
	if err != nil {
		t.Errorf("failed to read .gitignore: %v", err)
	}
	if string(content) != "autocode.db*\n" {
		t.Errorf(".gitignore content mismatch: got %q", string(content))
	}

	dbFilePath := filepath.Join(autocodeDir, "autocode.db")
	if _, err := os.Stat(dbFilePath); os.IsNotExist(err) {
		t.Errorf("database file was not created")
	}
}

func TestParseBulkPayloadObject(t *testing.T) {
	payload := []byte(`{
		"metadata": {"batch_id": "batch-1", "priority_mode": "prepend"},
		"features": [
			{"category": "core", "name": "alpha", "description": "first", "steps": ["verify"]}
		],
		"feature_count": 1
	}`)

	inputs, meta, err := parseBulkPayload(payload)
	if err != nil {
		t.Fatalf("parseBulkPayload failed: %v", err)
	}
	if len(inputs) != 1 || inputs[0].Name != "alpha" {
		t.Errorf("unexpected inputs: %+v", inputs)
	}
	if meta == nil || meta.BatchID != "batch-1" || string(meta.PriorityMode) != "prepend" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestParseBulkPayloadArray(t *testing.T) {
	payload := []byte(`[
		{"category": "core", "name": "alpha", "description": "first", "steps": ["verify"]},
		{"category": "core", "name": "beta", "description": "second", "steps": ["verify"]}
	]`)

	inputs, meta, err := parseBulkPayload(payload)
	if err != nil {
		t.Fatalf("parseBulkPayload failed: %v", err)
	}
	if len(inputs) != 2 {
		t.Errorf("expected 2 inputs, got %d", len(inputs))
	}
	if meta != nil {
		t.Errorf("expected no metadata for array payload, got %+v", meta)
	}
}

func TestParseBulkPayloadInvalid(t *testing.T) {
	if _, _, err := parseBulkPayload([]byte(`"not a payload"`)); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID([]string{"42"}, "skip")
	if err != nil {
		t.Fatalf("parseID failed: %v", err)
	}
	if id != 42 {
		t.Errorf("expected 42, got %d", id)
	}

	if _, err := parseID([]string{}, "skip"); err == nil {
		t.Error("expected error for missing argument")
	}
	if _, err := parseID([]string{"abc"}, "skip"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}
