package gate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"sheriff/internal/logging"
)

// StaticReport is the tier-one verdict over the delivered file set.
type StaticReport struct {
	Passed       bool     `json:"passed"`
	QualityScore float64  `json:"quality_score"`
	SyntaxErrors []string `json:"syntax_errors,omitempty"`
	Violations   []string `json:"violations,omitempty"`
}

// unsafeImports are packages whose presence fails the static baseline
// outright.
var unsafeImports = map[string]bool{
	"unsafe":  true,
	"os/exec": true,
	"syscall": true,
	"plugin":  true,
}

// secretPatterns flag string literals that look like embedded credentials.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*"[^"]{8,}"`),
	regexp.MustCompile(`"AKIA[0-9A-Z]{16}"`),
	regexp.MustCompile(`"sk-[A-Za-z0-9]{20,}"`),
	regexp.MustCompile(`"-----BEGIN (RSA |EC )?PRIVATE KEY-----`),
}

// StaticAuditor performs the tier-one checks: syntax, quality score, secret
// and unsafe-construct scan, import resolution against the known package set.
type StaticAuditor struct {
	// KnownImports lists module-local import prefixes considered resolvable
	// in addition to the standard library.
	KnownImports []string
}

// AuditFile checks one artifact and returns its violations, empty when
// clean. Used by the per-task AUDITING state.
func (a *StaticAuditor) AuditFile(path, content string) ([]string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return []string{fmt.Sprintf("syntax error in %s: %v", path, err)}, nil
	}
	return a.inspect(fset, file, path, content), nil
}

// Audit runs the full tier over the delivered file set.
func (a *StaticAuditor) Audit(files map[string]string, minQuality float64) *StaticReport {
	report := &StaticReport{}
	fileCount := 0
	totalScore := 0.0

	for path, content := range files {
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
		if err != nil {
			report.SyntaxErrors = append(report.SyntaxErrors,
				fmt.Sprintf("%s: %v", path, err))
			continue
		}
		report.Violations = append(report.Violations, a.inspect(fset, file, path, content)...)
		totalScore += a.scoreFile(file, fset)
		fileCount++
	}

	if fileCount > 0 {
		report.QualityScore = totalScore / float64(fileCount)
	}
	report.Passed = len(report.SyntaxErrors) == 0 &&
		len(report.Violations) == 0 &&
		report.QualityScore >= minQuality

	logging.Gate("static tier: passed=%v quality=%.1f syntax_errors=%d violations=%d",
		report.Passed, report.QualityScore, len(report.SyntaxErrors), len(report.Violations))
	return report
}

// inspect applies the secret, unsafe-construct and import checks to a parsed
// file.
func (a *StaticAuditor) inspect(fset *token.FileSet, file *ast.File, path, content string) []string {
	var violations []string

	for _, imp := range file.Imports {
		pkg := strings.Trim(imp.Path.Value, `"`)
		if unsafeImports[pkg] {
			violations = append(violations,
				fmt.Sprintf("%s: unsafe construct: import %q", path, pkg))
			continue
		}
		if !a.resolvable(pkg) {
			violations = append(violations,
				fmt.Sprintf("%s: unresolvable import %q", path, pkg))
		}
	}

	for _, pattern := range secretPatterns {
		if m := pattern.FindString(content); m != "" {
			violations = append(violations,
				fmt.Sprintf("%s: hardcoded secret detected: %s", path, truncateMatch(m)))
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
			if ident, ok := sel.X.(*ast.Ident); ok {
				if ident.Name == "reflect" && sel.Sel.Name == "ValueOf" {
					pos := fset.Position(call.Pos())
					violations = append(violations,
						fmt.Sprintf("%s:%d: dynamic evaluation via reflection", path, pos.Line))
				}
			}
		}
		return true
	})

	return violations
}

// scoreFile computes a composite local quality score (0-100) from doc
// coverage and function size.
func (a *StaticAuditor) scoreFile(file *ast.File, fset *token.FileSet) float64 {
	score := 100.0

	if file.Doc == nil {
		score -= 5
	}

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		if fn.Name.IsExported() && fn.Doc == nil {
			score -= 3
		}
		start := fset.Position(fn.Pos()).Line
		end := fset.Position(fn.End()).Line
		if end-start > 80 {
			score -= 5
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

// resolvable reports whether an import path is standard library (no dot in
// the first path element) or a configured module-local prefix.
func (a *StaticAuditor) resolvable(pkg string) bool {
	first := pkg
	if idx := strings.IndexByte(pkg, '/'); idx > 0 {
		first = pkg[:idx]
	}
	if !strings.Contains(first, ".") {
		return true
	}
	for _, prefix := range a.KnownImports {
		if pkg == prefix || strings.HasPrefix(pkg, prefix+"/") {
			return true
		}
	}
	return false
}

func truncateMatch(m string) string {
	if len(m) > 40 {
		return m[:40] + "..."
	}
	return m
}
