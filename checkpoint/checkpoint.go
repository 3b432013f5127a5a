// Package checkpoint persists session snapshots without blocking the
// trading path: a bounded queue feeds a single worker goroutine that writes
// each snapshot atomically (temp file + rename) to a durable path.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/sessiond/portfolio"
	"github.com/rustyeddy/sessiond/risk"
)

// SchemaVersion tags every snapshot so a future load can refuse formats it
// does not understand.
const SchemaVersion = 1

// ErrNoCheckpoint marks a cold start: the snapshot file has never existed.
// Any other load failure means the file exists but is unreadable, which is
// fatal rather than an empty session.
var ErrNoCheckpoint = fmt.Errorf("checkpoint: no snapshot file")

// Snapshot bundles everything needed to resume a session: the ledger, the
// risk gate, and the decision engine's opaque state.
type Snapshot struct {
	Version   int             `json:"version"`
	SessionID string          `json:"session_id"`
	Time      time.Time       `json:"time"`
	Portfolio portfolio.State `json:"portfolio"`
	Risk      risk.State      `json:"risk"`
	Engine    json.RawMessage `json:"engine,omitempty"`
}

// Write serializes the snapshot atomically to path: temp file in the same
// directory, fsync, rename. A crash mid-write leaves the previous file
// intact.
func Write(path string, snap Snapshot) error {
	snap.Version = SchemaVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("checkpoint: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads the last complete snapshot. Missing file: ErrNoCheckpoint.
// Present but unreadable or wrong version: an error, never an empty
// snapshot.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Snapshot{}, ErrNoCheckpoint
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("checkpoint: corrupt snapshot %s: %w", path, err)
	}
	if snap.Version != SchemaVersion {
		return Snapshot{}, fmt.Errorf("checkpoint: unsupported snapshot version %d in %s", snap.Version, path)
	}
	return snap, nil
}
