package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pawnstats/pawnstats/internal/model"
)

// Checkpoint persists the resume cursor. It only advances after a batch
// commits, so a crash mid-batch re-fetches that batch; idempotent loads make
// the replay safe.
type Checkpoint struct {
	mu       sync.RWMutex
	filePath string // empty = in-memory only

	Cursors     model.Cursor `json:"cursors"`
	UpdatedAt   string       `json:"updated_at"`
	TotalLoaded uint64       `json:"total_loaded"`
}

// NewCheckpoint loads the checkpoint at path, starting fresh when the file
// does not exist. An empty path yields an in-memory checkpoint.
func NewCheckpoint(path string) (*Checkpoint, error) {
	cp := &Checkpoint{filePath: path, Cursors: model.Cursor{}}
	if path == "" {
		return cp, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Cursors == nil {
		cp.Cursors = model.Cursor{}
	}
	return cp, nil
}

// Resume returns the stored cursors.
func (cp *Checkpoint) Resume() model.Cursor {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.Cursors.Clone()
}

// Advance records the source position after a committed batch.
func (cp *Checkpoint) Advance(cursors model.Cursor, loaded int) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for k, v := range cursors {
		cp.Cursors[k] = v
	}
	cp.TotalLoaded += uint64(loaded)
	cp.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Save writes the checkpoint atomically (temp file plus rename).
func (cp *Checkpoint) Save() error {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	if cp.filePath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cp.filePath), 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := cp.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, cp.filePath); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
