// Package mission implements the mission orchestrator: a task-lifecycle
// engine that walks a DAG of atomic tasks through an analyze/predict/execute/
// heal/audit/review pipeline with persisted, resumable state.
//
// Missions are used for:
//   - Decomposing a high-level objective into dependency-ordered atomic tasks
//   - Driving each task through its lifecycle with bounded retries
//   - Pausing at task boundaries when the resource quota is exhausted
//   - Rolling tasks back to their last snapshot on rejection
package mission

import (
	"time"
)

func timeNowUTC() time.Time { return time.Now().UTC() }

// TaskState represents the lifecycle state of an atomic task.
type TaskState string

const (
	StatePending    TaskState = "PENDING"    // Queued, dependencies not yet satisfied
	StateAnalyzing  TaskState = "ANALYZING"  // Intent/constraint analysis
	StatePredicting TaskState = "PREDICTING" // Shadow simulation + consensus
	StateGenerating TaskState = "GENERATING" // (Re)generation after healing
	StateExecuting  TaskState = "EXECUTING"  // Sandboxed execution
	StateSelfCheck  TaskState = "SELF_CHECK" // Evaluating execution outcome
	StateHealing    TaskState = "HEALING"    // Root-cause analysis, corrective prompt
	StateAuditing   TaskState = "AUDITING"   // Local static audit
	StateReviewing  TaskState = "REVIEWING"  // Remote semantic review
	StateDone       TaskState = "DONE"       // Terminal success
	StatePaused     TaskState = "PAUSED"     // Suspended by resource quota
	StateRollback   TaskState = "ROLLBACK"   // Reverted to last snapshot
)

// IsTerminal reports whether the state ends a task's lifecycle.
// ROLLBACK is terminal only once the retry budget is exhausted; the
// orchestrator re-queues a rolled-back task while budget remains.
func (s TaskState) IsTerminal() bool {
	return s == StateDone
}

// AtomicTask is the smallest independently schedulable unit of work.
type AtomicTask struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`

	// TargetPath is the workspace-relative file this task's artifact is
	// promoted to after consensus approval.
	TargetPath string `json:"target_path,omitempty"`

	// TestCode optionally accompanies the artifact into the sandbox.
	TestCode string `json:"test_code,omitempty"`

	State             TaskState `json:"state"`
	GeneratedArtifact string    `json:"generated_artifact,omitempty"`
	RetryCount        int       `json:"retry_count"`
	MaxRetries        int       `json:"max_retries"`
	ErrorMessage      string    `json:"error_message,omitempty"`

	// ForbiddenPatterns holds function-level identifiers that produced
	// structural violations in earlier attempts. Survives retries.
	ForbiddenPatterns []string `json:"forbidden_patterns,omitempty"`

	// ConsensusRejections counts vetoed predictions when the consensus
	// budget is configured separately from the retry budget.
	ConsensusRejections int `json:"consensus_rejections,omitempty"`
}

// HasForbidden reports whether the identifier is already recorded.
func (t *AtomicTask) HasForbidden(identifier string) bool {
	for _, p := range t.ForbiddenPatterns {
		if p == identifier {
			return true
		}
	}
	return false
}

// AddForbidden records a forbidden identifier, deduplicated.
func (t *AtomicTask) AddForbidden(identifier string) {
	if !t.HasForbidden(identifier) {
		t.ForbiddenPatterns = append(t.ForbiddenPatterns, identifier)
	}
}

// Snapshot is an immutable capture of a task's mutable fields, taken before
// any destructive regeneration. Used exclusively by rollback.
type Snapshot struct {
	SnapshotID        string    `json:"snapshot_id"`
	TaskID            string    `json:"task_id"`
	GeneratedArtifact string    `json:"generated_artifact"`
	ErrorMessage      string    `json:"error_message"`
	RetryCount        int       `json:"retry_count"`
	Timestamp         time.Time `json:"timestamp"`
}

// TransitionRecord is one entry of the mission's transition telemetry.
type TransitionRecord struct {
	TaskID    string    `json:"task_id"`
	From      TaskState `json:"from"`
	To        TaskState `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// OrchestratorState is the persisted form of a mission in flight.
// It is written with atomic replace semantics and must stay human-readable
// for manual recovery.
type OrchestratorState struct {
	MissionID        string   `json:"mission_id"`
	CurrentTaskID    string   `json:"current_task_id"`
	ExecutionOrder   []string `json:"execution_order"`
	CompletedTaskIDs []string `json:"completed_task_ids"`
	ForbiddenZones   []string `json:"forbidden_zones"`

	TotalResourceUnitsUsed int  `json:"total_resource_units_used"`
	Paused                 bool `json:"paused"`

	DAGTopology   GraphTopology     `json:"dag_topology"`
	ContentHashes map[string]string `json:"content_hashes"`

	Tasks       []AtomicTask       `json:"tasks"`
	Transitions []TransitionRecord `json:"transitions,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// IsCompleted reports whether the task id is recorded as completed.
func (s *OrchestratorState) IsCompleted(taskID string) bool {
	for _, id := range s.CompletedTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// TaskFailure is the caller-facing description of a terminal task failure.
type TaskFailure struct {
	TaskID       string    `json:"task_id"`
	State        TaskState `json:"state"`
	ErrorMessage string    `json:"error_message"`
	RetriesUsed  int       `json:"retries_used"`
}

func (f *TaskFailure) Error() string {
	return "task " + f.TaskID + " failed in " + string(f.State) + ": " + f.ErrorMessage
}

// ExecutionSummary aggregates mission progress for status reporting.
type ExecutionSummary struct {
	MissionID         string            `json:"mission_id"`
	TotalTasks        int               `json:"total_tasks"`
	CompletedTasks    int               `json:"completed_tasks"`
	CompletionRate    float64           `json:"completion_rate"`
	StateDistribution map[TaskState]int `json:"state_distribution"`
	ResourceUnitsUsed int               `json:"resource_units_used"`
	Paused            bool              `json:"paused"`
	Transitions       int               `json:"transitions"`
}
