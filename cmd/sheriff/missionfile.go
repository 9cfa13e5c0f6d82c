package main

import (
	"encoding/json"
	"fmt"
	"os"

	"sheriff/internal/mission"
)

// MissionFile is the on-disk mission definition handed to `sheriff run`.
type MissionFile struct {
	Objective string `json:"objective"`

	// ProjectID and Version feed the delivery sign-off record.
	ProjectID string `json:"project_id,omitempty"`
	Version   string `json:"version,omitempty"`

	// KnownImports lists module-local import prefixes the static audit
	// treats as resolvable, in addition to the standard library.
	KnownImports []string `json:"known_imports,omitempty"`

	Tasks []mission.AtomicTask `json:"tasks"`
}

// loadMissionFile reads and validates a mission definition.
func loadMissionFile(path string) (*MissionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mission file: %w", err)
	}

	var mf MissionFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse mission file %s: %w", path, err)
	}

	if mf.Objective == "" {
		return nil, fmt.Errorf("mission file %s has no objective", path)
	}
	if len(mf.Tasks) == 0 {
		return nil, fmt.Errorf("mission file %s has no tasks", path)
	}
	seen := make(map[string]bool, len(mf.Tasks))
	for i, t := range mf.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task %d has no id", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return &mf, nil
}
