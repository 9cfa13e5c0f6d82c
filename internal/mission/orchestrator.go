package mission

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"sheriff/internal/config"
	"sheriff/internal/logging"
	"sheriff/internal/sandbox"
	"sheriff/internal/strategist"
)

// ErrMissionPaused signals that the mission suspended at a task boundary
// because the resource quota was exhausted. Not a failure: the persisted
// state guarantees resumability.
var ErrMissionPaused = errors.New("mission paused: resource quota exhausted")

// ErrNoPriorState is returned by Resume when no usable persisted state
// exists for the mission.
var ErrNoPriorState = errors.New("no prior mission state")

// Executor runs an artifact (plus optional test code) in the sandbox.
// Satisfied by *sandbox.Executor.
type Executor interface {
	Execute(ctx context.Context, code, testCode string) (*sandbox.Result, error)
}

// LocalAuditor performs the per-task static audit. Satisfied by
// *gate.StaticAuditor.
type LocalAuditor interface {
	AuditFile(path, content string) ([]string, error)
}

// Archiver receives snapshots for durable retention. Optional; satisfied by
// *store.Archive.
type Archiver interface {
	ArchiveSnapshot(missionID string, snap Snapshot) error
}

// Options wires an orchestrator's collaborators.
type Options struct {
	Workspace string
	Config    *config.Config

	Generator strategist.Generator
	Reviewer  strategist.Reviewer
	Executor  Executor
	Auditor   LocalAuditor

	Ledger      *Ledger
	StateStore  *StateStore
	RollbackLog *RollbackLog
	Archive     Archiver // may be nil
}

// Orchestrator drives one mission's tasks through their lifecycle, strictly
// sequentially in topological order. All mutable mission state lives behind
// the mutex; the only state shared with other missions is the Ledger.
type Orchestrator struct {
	mu sync.Mutex

	missionID string
	objective string
	workspace string
	cfg       *config.Config

	tasks          map[string]*AtomicTask
	graph          *DependencyGraph
	executionOrder []string
	completed      []string
	transitions    []TransitionRecord
	contentHashes  map[string]string
	contentLines   map[string]int
	resourceUnits  int
	paused         bool
	currentTaskID  string

	snapshots      map[string][]Snapshot
	failedAttempts map[string][]failedAttempt
	pending        map[string]*attemptState

	generator   strategist.Generator
	reviewer    strategist.Reviewer
	executor    Executor
	auditor     LocalAuditor
	ledger      *Ledger
	stateStore  *StateStore
	rollbackLog *RollbackLog
	archive     Archiver

	handlers map[TaskState]stateHandler
}

type stateHandler func(ctx context.Context, task *AtomicTask) (TaskState, error)

// failedAttempt mirrors healing.FailedAttempt without forcing the healing
// types into the persisted schema.
type failedAttempt struct {
	Identifier string
	Source     string
	Violations []string
}

// attemptState carries per-attempt scratch data between handlers.
type attemptState struct {
	prompt         string
	corrective     string
	predictionHash string
	predictedLines int
	execResult     *sandbox.Result
	violations     []string
}

// New builds an orchestrator for the objective and task set. The DAG is
// validated and scheduled here: a cycle fails construction and the mission
// never starts.
func New(objective string, tasks []AtomicTask, opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Ledger == nil {
		opts.Ledger = NewLedger()
	}
	if opts.StateStore == nil {
		opts.StateStore = NewStateStore(opts.Workspace)
	}
	if opts.RollbackLog == nil {
		opts.RollbackLog = NewRollbackLog(opts.Workspace)
	}

	graph, err := BuildGraph(tasks)
	if err != nil {
		return nil, err
	}
	order, err := graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		missionID:      uuid.NewString(),
		objective:      objective,
		workspace:      opts.Workspace,
		cfg:            opts.Config,
		tasks:          make(map[string]*AtomicTask, len(tasks)),
		graph:          graph,
		executionOrder: order,
		contentHashes:  make(map[string]string),
		contentLines:   make(map[string]int),
		snapshots:      make(map[string][]Snapshot),
		failedAttempts: make(map[string][]failedAttempt),
		pending:        make(map[string]*attemptState),
		generator:      opts.Generator,
		reviewer:       opts.Reviewer,
		executor:       opts.Executor,
		auditor:        opts.Auditor,
		ledger:         opts.Ledger,
		stateStore:     opts.StateStore,
		rollbackLog:    opts.RollbackLog,
		archive:        opts.Archive,
	}

	for i := range tasks {
		t := tasks[i]
		if t.State == "" {
			t.State = StatePending
		}
		if t.MaxRetries <= 0 {
			t.MaxRetries = opts.Config.Retry.MaxRetries
		}
		o.tasks[t.ID] = &t
	}

	o.registerHandlers()
	logging.Mission("mission %s created: %d tasks, order=%v", o.missionID, len(tasks), order)
	return o, nil
}

// MissionID returns the mission's unique identifier.
func (o *Orchestrator) MissionID() string {
	return o.missionID
}

// Run executes the mission to completion, pause, or failure. Tasks run
// strictly sequentially; the quota check happens only at task boundaries so
// an in-flight task always reaches a terminal outcome.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	order := append([]string(nil), o.executionOrder...)
	o.mu.Unlock()

	for _, taskID := range order {
		o.mu.Lock()
		if containsString(o.completed, taskID) {
			o.mu.Unlock()
			continue
		}
		task := o.tasks[taskID]

		threshold := o.cfg.Quota.PauseThresholdUnits
		if threshold > 0 && o.resourceUnits >= threshold {
			o.paused = true
			o.currentTaskID = taskID
			o.setState(task, StatePaused)
			o.mu.Unlock()

			if err := o.persist(); err != nil {
				return fmt.Errorf("failed to persist paused state: %w", err)
			}
			logging.Mission("mission %s paused at task %s (%d units used)",
				o.missionID, taskID, o.resourceUnits)
			return ErrMissionPaused
		}
		o.currentTaskID = taskID
		o.mu.Unlock()

		if err := o.runTask(ctx, taskID); err != nil {
			o.persistBestEffort()
			return err
		}

		o.mu.Lock()
		o.completed = append(o.completed, taskID)
		o.mu.Unlock()
		if err := o.persist(); err != nil {
			return fmt.Errorf("failed to persist state after task %s: %w", taskID, err)
		}
	}

	o.mu.Lock()
	o.currentTaskID = ""
	o.mu.Unlock()
	logging.Mission("mission %s complete: %d tasks", o.missionID, len(order))
	return o.persist()
}

// runTask drives one task's dispatcher loop until DONE or terminal failure.
func (o *Orchestrator) runTask(ctx context.Context, taskID string) error {
	o.mu.Lock()
	task := o.tasks[taskID]
	o.pending[taskID] = &attemptState{}
	o.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("mission cancelled in %s: %w", task.State, err)
		}

		o.mu.Lock()
		handler, ok := o.handlers[task.State]
		o.mu.Unlock()
		if !ok {
			return fmt.Errorf("no handler for state %s", task.State)
		}

		next, err := handler(ctx, task)
		if err != nil {
			// Handlers return an error only for terminal failures.
			return err
		}

		o.mu.Lock()
		o.setState(task, next)
		o.mu.Unlock()

		if next == StateDone {
			o.mu.Lock()
			delete(o.pending, taskID)
			o.mu.Unlock()
			return nil
		}
	}
}

// setState records a transition. Caller holds the mutex.
func (o *Orchestrator) setState(task *AtomicTask, next TaskState) {
	if task.State == next {
		return
	}
	o.transitions = append(o.transitions, TransitionRecord{
		TaskID:    task.ID,
		From:      task.State,
		To:        next,
		Timestamp: time.Now().UTC(),
	})
	logging.MissionDebug("task %s: %s -> %s", task.ID, task.State, next)
	task.State = next
}

// takeSnapshot captures the task's mutable fields before destructive work.
func (o *Orchestrator) takeSnapshot(task *AtomicTask) Snapshot {
	snap := Snapshot{
		SnapshotID:        uuid.NewString(),
		TaskID:            task.ID,
		GeneratedArtifact: task.GeneratedArtifact,
		ErrorMessage:      task.ErrorMessage,
		RetryCount:        task.RetryCount,
		Timestamp:         time.Now().UTC(),
	}
	o.mu.Lock()
	o.snapshots[task.ID] = append(o.snapshots[task.ID], snap)
	o.mu.Unlock()

	if o.archive != nil {
		if err := o.archive.ArchiveSnapshot(o.missionID, snap); err != nil {
			logging.Mission("snapshot archive failed for task %s: %v", task.ID, err)
		}
	}
	return snap
}

// lastSnapshot returns the most recent snapshot for the task, if any.
func (o *Orchestrator) lastSnapshot(taskID string) (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	snaps := o.snapshots[taskID]
	if len(snaps) == 0 {
		return Snapshot{}, false
	}
	return snaps[len(snaps)-1], true
}

// chargeUnits accrues resource usage toward the pause threshold.
func (o *Orchestrator) chargeUnits(prompt, artifact string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resourceUnits += (len(prompt) + len(artifact)) / 4
}

func (o *Orchestrator) targetAbsPath(task *AtomicTask) string {
	target := task.TargetPath
	if target == "" {
		target = filepath.Join("generated", task.ID+".go")
	}
	return filepath.Join(o.workspace, target)
}

// state assembles the persistable OrchestratorState. Caller must not hold
// the mutex.
func (o *Orchestrator) state() *OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := &OrchestratorState{
		MissionID:              o.missionID,
		CurrentTaskID:          o.currentTaskID,
		ExecutionOrder:         append([]string(nil), o.executionOrder...),
		CompletedTaskIDs:       append([]string(nil), o.completed...),
		ForbiddenZones:         o.ledger.All(),
		TotalResourceUnitsUsed: o.resourceUnits,
		Paused:                 o.paused,
		DAGTopology:            o.graph.Topology(),
		ContentHashes:          make(map[string]string, len(o.contentHashes)),
		Transitions:            append([]TransitionRecord(nil), o.transitions...),
		Timestamp:              time.Now().UTC(),
	}
	for k, v := range o.contentHashes {
		st.ContentHashes[k] = v
	}
	for _, id := range o.executionOrder {
		st.Tasks = append(st.Tasks, *o.tasks[id])
	}
	return st
}

func (o *Orchestrator) persist() error {
	return o.stateStore.Save(o.state())
}

func (o *Orchestrator) persistBestEffort() {
	if err := o.persist(); err != nil {
		logging.Mission("best-effort persist failed: %v", err)
	}
}

// Resume rebuilds an orchestrator from persisted state and continues
// scheduling at the first non-completed task. Completed tasks are restored
// to DONE and never re-run.
func Resume(missionID string, opts Options) (*Orchestrator, error) {
	if opts.StateStore == nil {
		opts.StateStore = NewStateStore(opts.Workspace)
	}
	st, err := opts.StateStore.Load(missionID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNoPriorState
	}

	tasks := make([]AtomicTask, 0, len(st.Tasks))
	for _, t := range st.Tasks {
		if st.IsCompleted(t.ID) {
			t.State = StateDone
		} else if t.State == StatePaused || !t.State.IsTerminal() {
			// A pause is only honored at task boundaries, so the paused
			// task had not started: it re-enters the queue.
			t.State = StatePending
		}
		tasks = append(tasks, t)
	}

	o, err := New("", tasks, opts)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.missionID = st.MissionID
	o.executionOrder = append([]string(nil), st.ExecutionOrder...)
	o.completed = append([]string(nil), st.CompletedTaskIDs...)
	o.resourceUnits = st.TotalResourceUnitsUsed
	o.transitions = append([]TransitionRecord(nil), st.Transitions...)
	for k, v := range st.ContentHashes {
		o.contentHashes[k] = v
	}
	o.paused = false
	o.mu.Unlock()

	o.ledger.AddAll(st.ForbiddenZones)

	logging.Mission("mission %s resumed: %d/%d tasks complete, %d units used",
		o.missionID, len(st.CompletedTaskIDs), len(st.Tasks), st.TotalResourceUnitsUsed)
	return o, nil
}

// ResetQuota clears the accumulated resource units, typically granted by the
// operator alongside an explicit resume.
func (o *Orchestrator) ResetQuota() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resourceUnits = 0
}

// Summary reports mission progress.
func (o *Orchestrator) Summary() ExecutionSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	dist := make(map[TaskState]int)
	for _, t := range o.tasks {
		dist[t.State]++
	}
	total := len(o.tasks)
	rate := 0.0
	if total > 0 {
		rate = float64(len(o.completed)) / float64(total)
	}
	return ExecutionSummary{
		MissionID:         o.missionID,
		TotalTasks:        total,
		CompletedTasks:    len(o.completed),
		CompletionRate:    rate,
		StateDistribution: dist,
		ResourceUnitsUsed: o.resourceUnits,
		Paused:            o.paused,
		Transitions:       len(o.transitions),
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
