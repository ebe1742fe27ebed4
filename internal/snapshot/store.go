// Package snapshot persists the agent's cross-cycle state so a restart
// resumes mid-intervention instead of starting cold.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/payops/autopilot/internal/feedback"
	"github.com/payops/autopilot/internal/observe"
)

// State is everything the loop needs to resume: in-flight interventions
// with their original deadlines, baselines, the cycle counter, the
// no-action streak, and the RNG seed. Unknown fields in a stored file are
// ignored on load, so the format can grow.
type State struct {
	ActiveInterventions []feedback.Active           `json:"active_interventions"`
	Baselines           map[string]observe.Baseline `json:"baselines"`
	CycleCounter        int64                       `json:"cycle_counter"`
	NoActionStreak      int                         `json:"no_action_streak"`
	Seed                int64                       `json:"seed"`
	SavedAtMS           int64                       `json:"saved_at_ms"`
}

// Store reads and writes the snapshot file.
type Store struct {
	path string
}

// NewStore creates a store for the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the state atomically (temp file + rename) so a crash during
// write never corrupts the previous snapshot. An empty path disables
// persistence.
func (s *Store) Save(state State) error {
	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("snapshot: create directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file (or disabled store)
// returns (nil, nil): start from defaults.
func (s *Store) Load() (*State, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("snapshot: parse: %w", err)
	}
	return &state, nil
}
