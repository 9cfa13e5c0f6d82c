// Package strategist defines the boundary to the opaque remote collaborators:
// code generation and semantic review. The orchestrator and delivery gate
// only ever see these interfaces; the HTTP implementation lives alongside so
// the wiring stays in one place.
package strategist

import "context"

// Artifacts carries the context a generation call may draw on, keyed by
// workspace-relative path.
type Artifacts map[string]string

// Generator produces code for a task description. Failure is surfaced to the
// healing loop, never retried inside the call.
type Generator interface {
	Generate(ctx context.Context, prompt string, artifacts Artifacts) (string, error)
}

// ReviewRequest is the compressed context handed to the remote reviewer.
type ReviewRequest struct {
	ProjectID   string            `json:"project_id"`
	Summary     string            `json:"summary"`
	Files       map[string]string `json:"files"`
	Constraints []string          `json:"constraints,omitempty"`
}

// ReviewVerdict is the remote reviewer's decision.
type ReviewVerdict struct {
	Approved   bool     `json:"approved"`
	LogicScore float64  `json:"logic_score"`
	Comments   []string `json:"comments,omitempty"`
}

// Reviewer returns an architecture verdict over a set of files. Callers must
// apply a timeout via the context; a timeout is a recoverable failure.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (ReviewVerdict, error)
}
