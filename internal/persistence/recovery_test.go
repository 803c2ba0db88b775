package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestRecoverPrefersDatabaseSnapshotBlobOverJSON(t *testing.T) {
	s := openTestStore(t)
	if err := s.WriteSnapshot(nil, nil, TradingStateRow{}, []byte(`{"source":"db_blob"}`)); err != nil {
		t.Fatalf("unexpected error writing snapshot: %v", err)
	}

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "state.json")
	backupDir := filepath.Join(dir, "backups")
	w := NewAtomicWriter(jsonPath, backupDir, 0, 0, zerolog.Nop())
	w.Start()
	w.QueueWrite(map[string]any{"source": "json_file"})
	w.Flush()
	w.Stop()

	doc, err := Recover(s, jsonPath, backupDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc["source"] != "db_blob" {
		t.Fatalf("expected the database snapshot blob to win, got %+v", doc)
	}
}

func TestRecoverFallsBackToJSONWhenDatabaseEmpty(t *testing.T) {
	s := openTestStore(t)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "state.json")
	backupDir := filepath.Join(dir, "backups")
	w := NewAtomicWriter(jsonPath, backupDir, 0, 0, zerolog.Nop())
	w.Start()
	w.QueueWrite(map[string]any{"source": "json_file"})
	w.Flush()
	w.Stop()

	doc, err := Recover(s, jsonPath, backupDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc["source"] != "json_file" {
		t.Fatalf("expected the JSON file to win when the database holds nothing, got %+v", doc)
	}
}

func TestRecoverReturnsEmptyStateWhenNothingPersisted(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "state.json")
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, err := Recover(nil, jsonPath, backupDir, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error when no persisted state exists anywhere")
	}
	if len(doc) != 0 {
		t.Fatalf("expected an empty document as the last resort, got %+v", doc)
	}
}
