// Package persistence implements the two redundant, kept-in-sync storage
// paths: an atomically-written JSON snapshot file with checksum and
// backup rotation (Path A), and a relational SQLite store (Path B).
package persistence

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AtomicWriter owns a single "pending snapshot" slot and a background
// writer goroutine that drains it on a fixed interval. Queuing a write
// never blocks and always supersedes whatever was previously pending.
type AtomicWriter struct {
	path          string
	backupDir     string
	batchInterval time.Duration
	maxBackups    int
	log           zerolog.Logger

	mu      sync.Mutex
	pending map[string]any
	dirty   bool

	stopCh chan struct{}
	doneCh chan struct{}
	flushReq chan chan struct{}
}

// NewAtomicWriter constructs a writer with the default batch interval
// (5s) and backup retention (10) unless overridden by the caller.
func NewAtomicWriter(path, backupDir string, batchInterval time.Duration, maxBackups int, log zerolog.Logger) *AtomicWriter {
	if batchInterval <= 0 {
		batchInterval = 5 * time.Second
	}
	if maxBackups <= 0 {
		maxBackups = 10
	}
	return &AtomicWriter{
		path:          path,
		backupDir:     backupDir,
		batchInterval: batchInterval,
		maxBackups:    maxBackups,
		log:           log,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		flushReq:      make(chan chan struct{}),
	}
}

// Start launches the background writer goroutine.
func (w *AtomicWriter) Start() {
	go w.loop()
}

// QueueWrite replaces the pending snapshot; the next tick of the
// background writer will serialize and persist it.
func (w *AtomicWriter) QueueWrite(snapshot map[string]any) {
	w.mu.Lock()
	w.pending = snapshot
	w.dirty = true
	w.mu.Unlock()
}

// QueueWriteAny accepts any JSON-marshalable snapshot value (a
// position.Snapshot struct, typically) and normalizes it into the
// map[string]any QueueWrite expects. This lets the position store,
// which is decoupled from this package, hand the writer an arbitrary
// struct instead of a pre-built map.
func (w *AtomicWriter) QueueWriteAny(snapshot any) {
	normalized, err := normalize(snapshot)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to normalize snapshot for atomic write")
		return
	}
	doc, ok := normalized.(map[string]any)
	if !ok {
		w.log.Error().Msg("normalized snapshot is not a JSON object")
		return
	}
	w.QueueWrite(doc)
}

func (w *AtomicWriter) loop() {
	ticker := time.NewTicker(w.batchInterval)
	defer ticker.Stop()
	defer close(w.doneCh)
	for {
		select {
		case <-ticker.C:
			w.drainIfDirty()
		case reply := <-w.flushReq:
			w.drainIfDirty()
			close(reply)
		case <-w.stopCh:
			w.drainIfDirty()
			return
		}
	}
}

func (w *AtomicWriter) drainIfDirty() {
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return
	}
	snapshot := w.pending
	w.dirty = false
	w.mu.Unlock()

	if err := w.performAtomicWrite(snapshot); err != nil {
		w.log.Error().Err(err).Msg("atomic state write failed")
	}
}

// Flush blocks until the pending slot is drained.
func (w *AtomicWriter) Flush() {
	reply := make(chan struct{})
	select {
	case w.flushReq <- reply:
		<-reply
	case <-w.doneCh:
	}
}

// Stop flushes and joins the writer goroutine.
func (w *AtomicWriter) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// SnapshotPersister adapts an AtomicWriter to the position.Persister
// interface (QueueWrite(snapshot any)), so the position store can stay
// decoupled from this package's map[string]any wire shape.
type SnapshotPersister struct {
	Writer *AtomicWriter
}

// QueueWrite implements position.Persister.
func (p SnapshotPersister) QueueWrite(snapshot any) {
	p.Writer.QueueWriteAny(snapshot)
}

func (w *AtomicWriter) performAtomicWrite(snapshot map[string]any) error {
	doc := make(map[string]any, len(snapshot)+1)
	for k, v := range snapshot {
		doc[k] = v
	}
	doc["saved_at"] = time.Now().UTC().Format(time.RFC3339)

	checksum, err := canonicalChecksum(doc)
	if err != nil {
		return fmt.Errorf("computing checksum: %w", err)
	}
	doc["_checksum"] = checksum

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, body, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if _, err := os.Stat(tmpPath); err != nil {
		return fmt.Errorf("temp file missing after write: %w", err)
	}

	if err := w.rotateBackup(); err != nil {
		w.log.Warn().Err(err).Msg("backup rotation failed, continuing with rename")
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}

	w.pruneOldBackups()
	return nil
}

func (w *AtomicWriter) rotateBackup() error {
	if _, err := os.Stat(w.path); err != nil {
		return nil // nothing to back up yet
	}
	if err := os.MkdirAll(w.backupDir, 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("state_backup_%s.json", time.Now().UTC().Format("20060102_150405"))
	return os.WriteFile(filepath.Join(w.backupDir, name), data, 0o644)
}

func (w *AtomicWriter) pruneOldBackups() {
	entries, err := os.ReadDir(w.backupDir)
	if err != nil {
		return
	}
	type fileInfo struct {
		name    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	for i := w.maxBackups; i < len(files); i++ {
		_ = os.Remove(filepath.Join(w.backupDir, files[i].name))
	}
}

// LoadWithValidation loads the live snapshot, verifying its checksum; on
// failure it falls back to backups, newest first.
func LoadWithValidation(path, backupDir string) (map[string]any, error) {
	if doc, err := loadAndValidate(path); err == nil {
		return doc, nil
	}
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("no valid live snapshot and no backup directory: %w", err)
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(backupDir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	for _, f := range files {
		if doc, err := loadAndValidate(f.path); err == nil {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("no valid snapshot found in live file or any of %d backups", len(files))
}

func loadAndValidate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	stored, ok := doc["_checksum"].(string)
	if !ok {
		return nil, fmt.Errorf("%s missing _checksum", path)
	}
	delete(doc, "_checksum")
	recomputed, err := canonicalChecksum(doc)
	if err != nil {
		return nil, err
	}
	if recomputed != stored {
		return nil, fmt.Errorf("checksum mismatch in %s: stored=%s computed=%s", path, stored, recomputed)
	}
	return doc, nil
}

// canonicalChecksum computes an MD5 hash over the document serialized
// with sorted keys, matching the write side's checksum basis exactly.
func canonicalChecksum(doc map[string]any) (string, error) {
	canon, err := sortedKeysJSON(doc)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canon)
	return hex.EncodeToString(sum[:]), nil
}

func sortedKeysJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize round-trips through encoding/json so that map keys compare
// consistently regardless of the original value's concrete Go type
// (Go's json package already sorts map keys on Marshal, but round
// tripping guards against non-map[string]any nested structures).
func normalize(v any) (any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}
