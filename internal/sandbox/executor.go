// Package sandbox executes generated code in an interpreted, quota-bounded
// environment. Instead of compiling artifacts with `go build` (which can
// hang or fail on missing dependencies), code is interpreted with Yaegi.
//
// SAFETY RESTRICTIONS:
//   - Only allowlisted stdlib imports (no filesystem, network, exec, unsafe)
//   - Fresh interpreter per run: no symbol carry-over between executions
//   - Wall-clock timeout via context
//   - Memory watchdog with a warning level and a hard ceiling
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"sheriff/internal/logging"
)

// Error kinds reported in Metrics.ErrorKind.
const (
	ErrKindTimeout         = "timeout"
	ErrKindMemoryExceeded  = "memory_exceeded"
	ErrKindRuntimeError    = "runtime_error"
	ErrKindForbiddenImport = "forbidden_import"
)

// Metrics describes one execution's resource footprint and failure class.
type Metrics struct {
	Elapsed     time.Duration `json:"elapsed"`
	PeakAllocMB float64       `json:"peak_alloc_mb"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	LimitMB     int           `json:"limit_mb,omitempty"`

	// MemoryWarning is set when usage crossed the watchdog's warning level
	// without breaching the hard ceiling.
	MemoryWarning bool `json:"memory_warning,omitempty"`
}

// Result is the outcome of a sandboxed execution.
type Result struct {
	Success        bool    `json:"success"`
	CapturedOutput string  `json:"captured_output"`
	Metrics        Metrics `json:"metrics"`
}

// Executor runs Go source under resource quotas in a Yaegi interpreter.
// A new interpreter is created for every run, which is what guarantees that
// dynamically loaded definitions never leak between executions.
type Executor struct {
	allowedPackages map[string]bool
	timeout         time.Duration
	memoryLimitMB   int
}

// NewExecutor creates an executor with the given quota.
func NewExecutor(timeout time.Duration, memoryLimitMB int) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if memoryLimitMB <= 0 {
		memoryLimitMB = 512
	}
	return &Executor{
		timeout:       timeout,
		memoryLimitMB: memoryLimitMB,
		allowedPackages: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"errors":          true,
			"math":            true,
			"math/rand":       true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"unicode":         true,
			"unicode/utf8":    true,
			"container/heap":  true,
			"container/list":  true,

			// EXPLICITLY BLOCKED (unsafe packages):
			// "os" - filesystem access
			// "os/exec" - command execution
			// "net", "net/http" - network access
			// "syscall", "unsafe" - host process access
		},
	}
}

// Execute runs code (and optional test code in the same namespace) under the
// quota. The returned error covers infrastructure problems only; execution
// failures are reported through Result.Success and Metrics.ErrorKind.
func (e *Executor) Execute(ctx context.Context, code, testCode string) (*Result, error) {
	res := &Result{Metrics: Metrics{LimitMB: e.memoryLimitMB}}
	start := time.Now()

	if err := e.validateImports(code); err != nil {
		res.Metrics.ErrorKind = ErrKindForbiddenImport
		res.Metrics.Elapsed = time.Since(start)
		res.CapturedOutput = err.Error()
		logging.Sandbox("forbidden import rejected: %v", err)
		return res, nil
	}
	if testCode != "" {
		if err := e.validateImports(testCode); err != nil {
			res.Metrics.ErrorKind = ErrKindForbiddenImport
			res.Metrics.Elapsed = time.Since(start)
			res.CapturedOutput = err.Error()
			return res, nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	watchdog := newWatchdog(e.memoryLimitMB)
	watchdog.Start(runCtx, cancel)

	var stdout, stderr bytes.Buffer
	i := interp.New(interp.Options{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("panic: %v", r)
			}
		}()
		errChan <- e.evaluate(i, code, testCode)
	}()

	select {
	case err := <-errChan:
		res.Metrics.Elapsed = time.Since(start)
		report := watchdog.Stop()
		res.Metrics.PeakAllocMB = report.PeakAllocMB
		res.Metrics.MemoryWarning = report.Warned

		if report.Breached {
			res.Metrics.ErrorKind = ErrKindMemoryExceeded
			res.CapturedOutput = e.captured(&stdout, &stderr)
			logging.Sandbox("memory ceiling breached: peak=%.1fMB limit=%dMB",
				report.PeakAllocMB, e.memoryLimitMB)
			return res, nil
		}
		if err != nil {
			res.Metrics.ErrorKind = ErrKindRuntimeError
			res.CapturedOutput = e.captured(&stdout, &stderr) + err.Error()
			return res, nil
		}
		res.Success = true
		res.CapturedOutput = e.captured(&stdout, &stderr)
		logging.SandboxDebug("execution ok: elapsed=%s peak=%.1fMB",
			res.Metrics.Elapsed, res.Metrics.PeakAllocMB)
		return res, nil

	case <-runCtx.Done():
		// The interpreter goroutine cannot be killed; it is abandoned with
		// its interpreter and reclaimed when evaluation finishes.
		res.Metrics.Elapsed = time.Since(start)
		report := watchdog.Stop()
		res.Metrics.PeakAllocMB = report.PeakAllocMB
		res.Metrics.MemoryWarning = report.Warned
		res.CapturedOutput = e.captured(&stdout, &stderr)

		if report.Breached {
			res.Metrics.ErrorKind = ErrKindMemoryExceeded
		} else {
			res.Metrics.ErrorKind = ErrKindTimeout
			logging.Sandbox("execution timed out after %s", e.timeout)
		}
		return res, nil
	}
}

// evaluate loads the artifact and test code into the interpreter, then
// invokes main.Run if the artifact defines one.
func (e *Executor) evaluate(i *interp.Interpreter, code, testCode string) error {
	if _, err := i.Eval(rewritePackageMain(code)); err != nil {
		return fmt.Errorf("code evaluation failed: %w", err)
	}
	if testCode != "" {
		if _, err := i.Eval(stripToBody(testCode)); err != nil {
			return fmt.Errorf("test evaluation failed: %w", err)
		}
	}

	run, err := i.Eval("main.Run")
	if err != nil {
		// No entrypoint: loading the declarations is the whole execution.
		return nil
	}
	runFunc, ok := run.Interface().(func() error)
	if !ok {
		return fmt.Errorf("Run has incorrect signature (expected: func() error)")
	}
	return runFunc()
}

// validateImports parses the source and checks every import against the
// allowlist. Parsing (rather than scanning text) means tricks like aliased
// or dot imports cannot slip through.
func (e *Executor) validateImports(code string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "artifact.go", rewritePackageMain(code), parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("unparseable source: %w", err)
	}

	var forbidden []string
	for _, imp := range file.Imports {
		pkg := strings.Trim(imp.Path.Value, `"`)
		if !e.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v", forbidden)
	}
	return nil
}

// rewritePackageMain forces the artifact into package main so every run
// shares one namespace inside its private interpreter.
func rewritePackageMain(code string) string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "artifact.go", code, parser.PackageClauseOnly)
	if err != nil || file.Name == nil {
		return "package main\n\n" + code
	}
	if file.Name.Name == "main" {
		return code
	}
	return strings.Replace(code, "package "+file.Name.Name, "package main", 1)
}

// stripToBody prepares companion test code for evaluation in the artifact's
// namespace: a full source file has its package clause rewritten, a bare
// fragment is passed through untouched.
func stripToBody(testCode string) string {
	if strings.Contains(testCode, "package ") {
		return rewritePackageMain(testCode)
	}
	return testCode
}

func (e *Executor) captured(stdout, stderr *bytes.Buffer) string {
	out := stdout.String()
	if s := stderr.String(); s != "" {
		out += s
	}
	return out
}
