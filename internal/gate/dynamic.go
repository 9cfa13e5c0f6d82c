package gate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"sheriff/internal/logging"
)

// DynamicReport is the tier-two verdict: test outcome plus coverage.
type DynamicReport struct {
	Passed       bool    `json:"passed"`
	TestsPassed  int     `json:"tests_passed"`
	TestsFailed  int     `json:"tests_failed"`
	Coverage     float64 `json:"coverage"`
	CoreCoverage float64 `json:"core_coverage"`
	Output       string  `json:"output,omitempty"`
}

// TestRunner executes the project's test suite with coverage. Abstracted so
// the gate is testable without a toolchain run.
type TestRunner interface {
	Run(ctx context.Context, dir string) (*DynamicReport, error)
}

// GoTestRunner runs `go test -json` with a coverage profile and parses both.
type GoTestRunner struct {
	// CorePathFragment marks files belonging to designated core modules,
	// which are held to the stricter coverage minimum.
	CorePathFragment string
}

// Run executes the suite under dir.
func (r *GoTestRunner) Run(ctx context.Context, dir string) (*DynamicReport, error) {
	profile := filepath.Join(os.TempDir(), fmt.Sprintf("sheriff-cover-%d.out", os.Getpid()))
	defer os.Remove(profile)

	cmd := exec.CommandContext(ctx, "go", "test", "./...", "-json", "-coverprofile", profile)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()

	report := &DynamicReport{Output: out.String()}
	report.TestsPassed, report.TestsFailed = parseGoTestJSON(out.String())
	report.Passed = runErr == nil && report.TestsFailed == 0

	if cov, core, err := parseCoverProfile(profile, r.CorePathFragment); err == nil {
		report.Coverage = cov
		report.CoreCoverage = core
	}

	logging.Gate("dynamic tier: passed=%v tests=%d/%d coverage=%.1f%% core=%.1f%%",
		report.Passed, report.TestsPassed, report.TestsPassed+report.TestsFailed,
		report.Coverage, report.CoreCoverage)
	return report, nil
}

// parseGoTestJSON parses go test -json output for pass/fail counts.
func parseGoTestJSON(output string) (passed, failed int) {
	type goTestEvent struct {
		Action string `json:"Action"`
		Test   string `json:"Test"`
	}

	dec := json.NewDecoder(strings.NewReader(output))
	for dec.More() {
		var evt goTestEvent
		if err := dec.Decode(&evt); err != nil {
			return passed, failed
		}
		if evt.Test == "" {
			continue
		}
		switch evt.Action {
		case "pass":
			passed++
		case "fail":
			failed++
		}
	}
	return passed, failed
}

// parseCoverProfile computes aggregate and core-module statement coverage
// from a go coverage profile.
func parseCoverProfile(path, coreFragment string) (aggregate, core float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var total, covered, coreTotal, coreCovered int

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "mode:") {
			continue
		}
		// Format: file.go:l.c,l.c numStatements count
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		stmts, err1 := strconv.Atoi(fields[1])
		count, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			continue
		}

		total += stmts
		if count > 0 {
			covered += stmts
		}
		if coreFragment != "" && strings.Contains(filepath.ToSlash(fields[0]), coreFragment) {
			coreTotal += stmts
			if count > 0 {
				coreCovered += stmts
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}

	if total > 0 {
		aggregate = 100 * float64(covered) / float64(total)
	}
	if coreTotal > 0 {
		core = 100 * float64(coreCovered) / float64(coreTotal)
	} else {
		// No designated core files: the stricter minimum collapses onto the
		// aggregate.
		core = aggregate
	}
	return aggregate, core, nil
}
