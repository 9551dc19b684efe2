package runtime

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// Checkpoint is the single-document snapshot the engine writes after every
// step so a run can be resumed from exactly where it left off.
type Checkpoint struct {
	GraphName       string         `json:"graph_name"`
	CurrentNodeID   string         `json:"current_node_id"`
	ContextSnapshot map[string]any `json:"context_snapshot"`
	RetryCounts     map[string]int `json:"retry_counts"`
	Visited         []string       `json:"visited"`
	RunID           string         `json:"run_id"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Save persists the checkpoint atomically: it writes to a temp file in the
// destination directory and renames it into place, so a reader never
// observes a partially-written checkpoint.
func (c *Checkpoint) Save(path string) error {
	if c == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadCheckpoint reads a checkpoint document previously written by Save.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Checkpoint
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &c, nil
}

// ContentHash returns a hex-encoded blake3 digest of the checkpoint's
// canonical JSON encoding. The engine stores this in the run manifest after
// every checkpoint write; resume loads the checkpoint without comparing it
// against this hash.
func (c *Checkpoint) ContentHash() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
