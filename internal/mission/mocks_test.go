package mission

import (
	"context"

	"sheriff/internal/sandbox"
	"sheriff/internal/strategist"
)

// mockGenerator implements strategist.Generator via a function field.
type mockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string, artifacts strategist.Artifacts) (string, error)
	calls        int
	prompts      []string
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, artifacts strategist.Artifacts) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.GenerateFunc(ctx, prompt, artifacts)
}

// mockReviewer implements strategist.Reviewer via a function field.
type mockReviewer struct {
	ReviewFunc func(ctx context.Context, req strategist.ReviewRequest) (strategist.ReviewVerdict, error)
}

func (m *mockReviewer) Review(ctx context.Context, req strategist.ReviewRequest) (strategist.ReviewVerdict, error) {
	if m.ReviewFunc == nil {
		return strategist.ReviewVerdict{Approved: true, LogicScore: 100}, nil
	}
	return m.ReviewFunc(ctx, req)
}

// mockExecutor implements Executor via a function field.
type mockExecutor struct {
	ExecuteFunc func(ctx context.Context, code, testCode string) (*sandbox.Result, error)
	calls       int
}

func (m *mockExecutor) Execute(ctx context.Context, code, testCode string) (*sandbox.Result, error) {
	m.calls++
	if m.ExecuteFunc == nil {
		return &sandbox.Result{Success: true}, nil
	}
	return m.ExecuteFunc(ctx, code, testCode)
}

// mockAuditor implements LocalAuditor via a function field.
type mockAuditor struct {
	AuditFunc func(path, content string) ([]string, error)
}

func (m *mockAuditor) AuditFile(path, content string) ([]string, error) {
	if m.AuditFunc == nil {
		return nil, nil
	}
	return m.AuditFunc(path, content)
}

const validArtifact = `package task

// Work does the task's work.
func Work() int { return 1 }
`

// passingOptions returns Options where every collaborator succeeds.
func passingOptions(workspace string) (Options, *mockGenerator, *mockExecutor) {
	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, prompt string, artifacts strategist.Artifacts) (string, error) {
		return validArtifact, nil
	}}
	exec := &mockExecutor{}
	return Options{
		Workspace: workspace,
		Generator: gen,
		Reviewer:  &mockReviewer{},
		Executor:  exec,
		Auditor:   &mockAuditor{},
	}, gen, exec
}
