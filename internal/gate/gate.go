package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sheriff/internal/config"
	"sheriff/internal/logging"
	"sheriff/internal/strategist"
)

// Tier names reported on failure.
const (
	TierStatic   = "static_baseline"
	TierDynamic  = "dynamic_proof"
	TierSemantic = "semantic_review"
)

// TierFailure reports which tier rejected the delivery and why. The reason
// is passed to the caller verbatim.
type TierFailure struct {
	Tier   string
	Reason string
}

func (f *TierFailure) Error() string {
	return fmt.Sprintf("delivery gate %s tier failed: %s", f.Tier, f.Reason)
}

// Gate drives the three tiers in strict sequence. A failing tier stops the
// pipeline; later tiers never run, and no sign-off is produced.
type Gate struct {
	cfg      config.GateConfig
	auditor  *StaticAuditor
	runner   TestRunner
	reviewer strategist.Reviewer
	timeout  time.Duration
}

// New assembles a gate.
func New(cfg config.GateConfig, auditor *StaticAuditor, runner TestRunner, reviewer strategist.Reviewer, reviewTimeout time.Duration) *Gate {
	if auditor == nil {
		auditor = &StaticAuditor{}
	}
	if reviewTimeout <= 0 {
		reviewTimeout = 120 * time.Second
	}
	return &Gate{
		cfg:      cfg,
		auditor:  auditor,
		runner:   runner,
		reviewer: reviewer,
		timeout:  reviewTimeout,
	}
}

// Run audits the delivered project under dir and, on full approval, seals it
// with a SignOffRecord written to SIGN_OFF.json.
func (g *Gate) Run(ctx context.Context, projectID, version, dir string) (*SignOffRecord, error) {
	files, err := CollectFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to collect delivery files: %w", err)
	}
	if len(files) == 0 {
		return nil, &TierFailure{Tier: TierStatic, Reason: "no delivered files found"}
	}

	// Tier 1: static baseline.
	static := g.auditor.Audit(files, g.cfg.MinQualityScore)
	if !static.Passed {
		return nil, &TierFailure{Tier: TierStatic, Reason: staticFailureReason(static, g.cfg.MinQualityScore)}
	}

	// Tier 2: dynamic proof.
	dynamic, err := g.runner.Run(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("test suite could not run: %w", err)
	}
	if !dynamic.Passed {
		return nil, &TierFailure{Tier: TierDynamic,
			Reason: fmt.Sprintf("%d test(s) failed", dynamic.TestsFailed)}
	}
	if dynamic.Coverage < g.cfg.MinTestCoverage {
		return nil, &TierFailure{Tier: TierDynamic,
			Reason: fmt.Sprintf("coverage %.1f%% below minimum %.1f%%", dynamic.Coverage, g.cfg.MinTestCoverage)}
	}
	if dynamic.CoreCoverage < g.cfg.MinCoreCoverage {
		return nil, &TierFailure{Tier: TierDynamic,
			Reason: fmt.Sprintf("core coverage %.1f%% below minimum %.1f%%", dynamic.CoreCoverage, g.cfg.MinCoreCoverage)}
	}

	// Tier 3: semantic review, only reachable when 1 and 2 passed.
	reviewCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	verdict, err := g.reviewer.Review(reviewCtx, strategist.ReviewRequest{
		ProjectID: projectID,
		Summary:   fmt.Sprintf("delivery candidate %s@%s, %d files", projectID, version, len(files)),
		Files:     files,
		Constraints: []string{
			"cross-module consistency",
			"no race conditions on shared state",
		},
	})
	if err != nil {
		return nil, &TierFailure{Tier: TierSemantic, Reason: fmt.Sprintf("review unavailable: %v", err)}
	}
	if !verdict.Approved {
		return nil, &TierFailure{Tier: TierSemantic,
			Reason: "architecture rejected: " + strings.Join(verdict.Comments, "; ")}
	}
	if verdict.LogicScore < g.cfg.MinLogicScore {
		return nil, &TierFailure{Tier: TierSemantic,
			Reason: fmt.Sprintf("logic score %.1f below minimum %.1f", verdict.LogicScore, g.cfg.MinLogicScore)}
	}

	record := NewSignOffRecord(projectID, version, files, static, dynamic, verdict)
	if err := record.Write(dir); err != nil {
		return nil, fmt.Errorf("failed to write sign-off: %w", err)
	}

	logging.Gate("delivery approved: project=%s version=%s root=%.12s files=%d",
		projectID, version, record.MerkleRoot, len(files))
	return record, nil
}

func staticFailureReason(r *StaticReport, minQuality float64) string {
	var parts []string
	if len(r.SyntaxErrors) > 0 {
		parts = append(parts, strings.Join(r.SyntaxErrors, "; "))
	}
	if len(r.Violations) > 0 {
		parts = append(parts, strings.Join(r.Violations, "; "))
	}
	if r.QualityScore < minQuality {
		parts = append(parts, fmt.Sprintf("quality score %.1f below minimum %.1f", r.QualityScore, minQuality))
	}
	return strings.Join(parts, "; ")
}
