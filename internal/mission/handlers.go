package mission

import (
	"context"
	"fmt"
	"strings"

	"sheriff/internal/healing"
	"sheriff/internal/logging"
	"sheriff/internal/shadow"
	"sheriff/internal/strategist"
)

func (o *Orchestrator) registerHandlers() {
	o.handlers = map[TaskState]stateHandler{
		StatePending:    o.handlePending,
		StateAnalyzing:  o.handleAnalyzing,
		StatePredicting: o.handlePredicting,
		StateGenerating: o.handleGenerating,
		StateExecuting:  o.handleExecuting,
		StateSelfCheck:  o.handleSelfCheck,
		StateHealing:    o.handleHealing,
		StateAuditing:   o.handleAuditing,
		StateReviewing:  o.handleReviewing,
		StateRollback:   o.handleRollback,
	}
}

func (o *Orchestrator) attempt(taskID string) *attemptState {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.pending[taskID]
	if a == nil {
		a = &attemptState{}
		o.pending[taskID] = a
	}
	return a
}

// handlePending verifies the scheduler invariant: every dependency is DONE
// before the task starts.
func (o *Orchestrator) handlePending(ctx context.Context, task *AtomicTask) (TaskState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, dep := range task.Dependencies {
		depTask, ok := o.tasks[dep]
		if !ok || depTask.State != StateDone {
			return "", fmt.Errorf("scheduler invariant violated: task %s started before dependency %s was DONE", task.ID, dep)
		}
	}
	return StateAnalyzing, nil
}

// handleAnalyzing prepares constraints and produces the first artifact.
func (o *Orchestrator) handleAnalyzing(ctx context.Context, task *AtomicTask) (TaskState, error) {
	a := o.attempt(task.ID)
	a.prompt = o.buildPrompt(task)

	code, err := o.generator.Generate(ctx, a.prompt, o.dependencyArtifacts(task))
	if err != nil {
		task.ErrorMessage = fmt.Sprintf("generation failed: %v", err)
		return o.failureRoute(task)
	}
	o.takeSnapshot(task)
	task.GeneratedArtifact = code
	o.chargeUnits(a.prompt, code)
	return StatePredicting, nil
}

// handleGenerating regenerates after healing, steered by the corrective
// prompt.
func (o *Orchestrator) handleGenerating(ctx context.Context, task *AtomicTask) (TaskState, error) {
	a := o.attempt(task.ID)
	prompt := a.corrective
	if prompt == "" {
		prompt = o.buildPrompt(task)
	}

	code, err := o.generator.Generate(ctx, prompt, o.dependencyArtifacts(task))
	if err != nil {
		task.ErrorMessage = fmt.Sprintf("regeneration failed: %v", err)
		return o.failureRoute(task)
	}
	task.GeneratedArtifact = code
	o.chargeUnits(prompt, code)
	return StatePredicting, nil
}

// handlePredicting runs the shadow simulation and submits it to consensus.
// A veto aborts the attempt outright: the prediction itself is unreliable,
// so the task returns to PENDING rather than entering healing.
func (o *Orchestrator) handlePredicting(ctx context.Context, task *AtomicTask) (TaskState, error) {
	pred := shadow.SimulateWrite(task.TargetPath, task.GeneratedArtifact)
	verdict := shadow.Validate(pred)
	if !verdict.Approved {
		task.ErrorMessage = fmt.Sprintf("consensus rejected prediction: %s", verdict.Reason)
		return o.consensusRejectRoute(task)
	}

	a := o.attempt(task.ID)
	a.predictionHash = pred.ContentHash
	a.predictedLines = pred.ProjectedLineCount
	task.GeneratedArtifact = pred.SanitizedContent
	return StateExecuting, nil
}

// handleExecuting promotes the approved artifact to its physical target and
// runs it in the sandbox. Outcome evaluation happens in SELF_CHECK either
// way.
func (o *Orchestrator) handleExecuting(ctx context.Context, task *AtomicTask) (TaskState, error) {
	a := o.attempt(task.ID)
	abs := o.targetAbsPath(task)

	o.mu.Lock()
	expected := o.contentLines[task.ID]
	o.mu.Unlock()

	realigned, err := preEditAudit(abs, expected)
	if err != nil {
		task.ErrorMessage = err.Error()
		a.execResult = nil
		return StateSelfCheck, nil
	}
	if realigned != expected {
		logging.MissionDebug("task %s target drifted to %d lines, realigned", task.ID, realigned)
	}

	pred := shadow.SimulateWrite(task.TargetPath, task.GeneratedArtifact)
	if err := promoteWrite(abs, pred); err != nil {
		task.ErrorMessage = err.Error()
		a.execResult = nil
		return StateSelfCheck, nil
	}

	o.mu.Lock()
	o.contentHashes[task.ID] = pred.ContentHash
	o.contentLines[task.ID] = pred.ProjectedLineCount
	o.mu.Unlock()

	res, err := o.executor.Execute(ctx, task.GeneratedArtifact, task.TestCode)
	if err != nil {
		task.ErrorMessage = fmt.Sprintf("sandbox unavailable: %v", err)
		a.execResult = nil
		return StateSelfCheck, nil
	}
	a.execResult = res
	return StateSelfCheck, nil
}

// handleSelfCheck evaluates the execution outcome.
func (o *Orchestrator) handleSelfCheck(ctx context.Context, task *AtomicTask) (TaskState, error) {
	a := o.attempt(task.ID)

	if a.execResult != nil && a.execResult.Success {
		task.ErrorMessage = ""
		a.violations = nil
		return StateAuditing, nil
	}

	if a.execResult != nil {
		task.ErrorMessage = fmt.Sprintf("execution failed (%s): %s",
			a.execResult.Metrics.ErrorKind, strings.TrimSpace(a.execResult.CapturedOutput))
	}
	a.violations = []string{task.ErrorMessage}
	return o.failureRoute(task)
}

// handleHealing classifies the failure, records forbidden zones, and builds
// the corrective prompt. Each pass consumes one retry.
func (o *Orchestrator) handleHealing(ctx context.Context, task *AtomicTask) (TaskState, error) {
	a := o.attempt(task.ID)
	o.takeSnapshot(task)

	c := healing.Classify(a.violations, task.GeneratedArtifact)
	for _, zone := range c.ForbiddenZones {
		task.AddForbidden(zone)
	}
	o.ledger.AddAll(c.ForbiddenZones)

	o.mu.Lock()
	for zone, snippet := range c.Snippets {
		o.failedAttempts[task.ID] = append(o.failedAttempts[task.ID], failedAttempt{
			Identifier: zone,
			Source:     snippet,
			Violations: c.Structural,
		})
	}
	history := make([]healing.FailedAttempt, 0, len(o.failedAttempts[task.ID]))
	for _, f := range o.failedAttempts[task.ID] {
		history = append(history, healing.FailedAttempt{
			Identifier: f.Identifier,
			Source:     f.Source,
			Violations: f.Violations,
		})
	}
	o.mu.Unlock()

	structural := c.Structural
	if len(structural) == 0 {
		structural = a.violations
	}
	negatives := healing.FilterRelevant(history, a.violations, 3)
	a.corrective = healing.CorrectivePrompt(task.Description, structural, negatives, task.ForbiddenPatterns)

	task.RetryCount++
	logging.Healing("task %s healing pass %d/%d: %d structural, %d zones",
		task.ID, task.RetryCount, task.MaxRetries, len(c.Structural), len(c.ForbiddenZones))
	return StateGenerating, nil
}

// handleAuditing runs the local static audit over the promoted artifact.
func (o *Orchestrator) handleAuditing(ctx context.Context, task *AtomicTask) (TaskState, error) {
	a := o.attempt(task.ID)

	if o.auditor == nil {
		return StateReviewing, nil
	}
	violations, err := o.auditor.AuditFile(task.TargetPath, task.GeneratedArtifact)
	if err != nil {
		task.ErrorMessage = fmt.Sprintf("audit failed: %v", err)
		return o.failureRoute(task)
	}
	if len(violations) > 0 {
		task.ErrorMessage = fmt.Sprintf("audit found %d violation(s): %s",
			len(violations), strings.Join(violations, "; "))
		a.violations = violations
		return o.failureRoute(task)
	}
	return StateReviewing, nil
}

// handleReviewing asks the remote reviewer for a verdict, under timeout.
func (o *Orchestrator) handleReviewing(ctx context.Context, task *AtomicTask) (TaskState, error) {
	reviewCtx, cancel := context.WithTimeout(ctx, o.cfg.StrategistTimeout())
	defer cancel()

	verdict, err := o.reviewer.Review(reviewCtx, strategist.ReviewRequest{
		ProjectID: o.missionID,
		Summary:   fmt.Sprintf("task %s: %s", task.ID, task.Description),
		Files:     map[string]string{task.TargetPath: task.GeneratedArtifact},
		Constraints: []string{
			"consistency with dependency artifacts",
		},
	})
	if err != nil {
		// Timeout or transport failure is recoverable, never a hang.
		task.ErrorMessage = fmt.Sprintf("review unavailable: %v", err)
		return StateRollback, nil
	}
	if !verdict.Approved {
		task.ErrorMessage = fmt.Sprintf("review rejected: %s", strings.Join(verdict.Comments, "; "))
		return StateRollback, nil
	}

	task.ErrorMessage = ""
	return StateDone, nil
}

// handleRollback restores the last snapshot, records the audit-trail entry,
// and either re-queues the task or fails the mission.
func (o *Orchestrator) handleRollback(ctx context.Context, task *AtomicTask) (TaskState, error) {
	reason := task.ErrorMessage
	if reason == "" {
		reason = "unspecified rollback"
	}

	snapRef := ""
	if snap, ok := o.lastSnapshot(task.ID); ok {
		snapRef = snap.SnapshotID
		task.GeneratedArtifact = snap.GeneratedArtifact
		task.ErrorMessage = snap.ErrorMessage
	} else {
		task.GeneratedArtifact = ""
	}

	if err := o.rollbackLog.Append(RollbackRecord{
		TaskID:            task.ID,
		Reason:            reason,
		SnapshotReference: snapRef,
		Timestamp:         timeNowUTC(),
	}); err != nil {
		return "", fmt.Errorf("failed to record rollback for task %s: %w", task.ID, err)
	}

	if task.RetryCount >= task.MaxRetries {
		return "", &TaskFailure{
			TaskID:       task.ID,
			State:        StateRollback,
			ErrorMessage: reason,
			RetriesUsed:  task.RetryCount,
		}
	}
	task.RetryCount++
	logging.Mission("task %s rolled back (%s), re-queued with retry %d/%d",
		task.ID, reason, task.RetryCount, task.MaxRetries)
	return StatePending, nil
}

// failureRoute sends a failed attempt to healing while budget remains,
// otherwise to rollback.
func (o *Orchestrator) failureRoute(task *AtomicTask) (TaskState, error) {
	if task.RetryCount < task.MaxRetries {
		return StateHealing, nil
	}
	return StateRollback, nil
}

// consensusRejectRoute aborts the attempt. Which budget it draws from is
// policy: by default the shared retry budget, optionally a dedicated
// consensus budget.
func (o *Orchestrator) consensusRejectRoute(task *AtomicTask) (TaskState, error) {
	if o.cfg.Retry.ConsensusSeparateBudget {
		task.ConsensusRejections++
		if task.ConsensusRejections > o.cfg.Retry.MaxConsensusRejections {
			return StateRollback, nil
		}
		return StatePending, nil
	}

	task.RetryCount++
	if task.RetryCount > task.MaxRetries {
		return StateRollback, nil
	}
	return StatePending, nil
}

// buildPrompt assembles the base generation prompt with forbidden-zone
// constraints.
func (o *Orchestrator) buildPrompt(task *AtomicTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement this task as a single Go source file.\n\nTask: %s\n", task.Description)
	if task.TargetPath != "" {
		fmt.Fprintf(&b, "Target file: %s\n", task.TargetPath)
	}

	zones := task.ForbiddenPatterns
	if global := o.ledger.All(); len(global) > 0 {
		zones = mergeUnique(zones, global)
	}
	if len(zones) > 0 {
		b.WriteString("\nAvoid these previously failed identifiers:\n")
		for _, z := range zones {
			fmt.Fprintf(&b, "  - %s\n", z)
		}
	}
	return b.String()
}

// dependencyArtifacts exposes committed artifacts of this task's
// dependencies to the generator. Dependency ordering guarantees they are
// final.
func (o *Orchestrator) dependencyArtifacts(task *AtomicTask) strategist.Artifacts {
	o.mu.Lock()
	defer o.mu.Unlock()

	artifacts := make(strategist.Artifacts)
	for _, dep := range task.Dependencies {
		if depTask, ok := o.tasks[dep]; ok && depTask.State == StateDone {
			path := depTask.TargetPath
			if path == "" {
				path = dep
			}
			artifacts[path] = depTask.GeneratedArtifact
		}
	}
	return artifacts
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
