package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Manifest is the static header of a run directory: the graph identity and
// start time, plus the latest checkpoint's content hash. Resume does not
// read the manifest or check the hash.
type Manifest struct {
	GraphName      string    `json:"graph_name"`
	Goal           string    `json:"goal"`
	RunID          string    `json:"run_id"`
	StartTime      time.Time `json:"start_time"`
	CheckpointHash string    `json:"checkpoint_hash,omitempty"`
}

// Save persists the manifest atomically (temp file + rename), matching the
// write discipline the checkpoint uses throughout a run.
func (m *Manifest) Save(path string) error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
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
