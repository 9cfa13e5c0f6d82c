package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sheriff/internal/logging"
)

// StateStore persists OrchestratorState as human-readable JSON under the
// workspace dot-directory. Writes use write-new-then-rename so a crash
// mid-write never leaves a corrupt state file.
type StateStore struct {
	dir string
}

// NewStateStore returns a store rooted at <workspace>/.sheriff.
func NewStateStore(workspace string) *StateStore {
	return &StateStore{dir: filepath.Join(workspace, ".sheriff")}
}

func (s *StateStore) statePath(missionID string) string {
	return filepath.Join(s.dir, "missions", missionID, "state.json")
}

// Save atomically persists the state.
func (s *StateStore) Save(state *OrchestratorState) error {
	path := s.statePath(state.MissionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}

	logging.MissionDebug("state saved: mission=%s paused=%v completed=%d",
		state.MissionID, state.Paused, len(state.CompletedTaskIDs))
	return nil
}

// Load reads a persisted state. A missing or corrupt file means no prior
// state: (nil, nil), never an error, so a bad shutdown cannot brick resume.
func (s *StateStore) Load(missionID string) (*OrchestratorState, error) {
	data, err := os.ReadFile(s.statePath(missionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var state OrchestratorState
	if err := json.Unmarshal(data, &state); err != nil {
		logging.Mission("discarding corrupt state file for mission %s: %v", missionID, err)
		return nil, nil
	}
	return &state, nil
}

// Delete removes a mission's persisted state. Missing state is not an error.
func (s *StateStore) Delete(missionID string) error {
	err := os.Remove(s.statePath(missionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListMissions returns the ids of missions with persisted state.
func (s *StateStore) ListMissions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "missions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
