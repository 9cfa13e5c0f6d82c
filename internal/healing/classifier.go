// Package healing implements the root-cause-analysis loop: it classifies
// audit violations, records forbidden zones for structural failures, and
// builds corrective regeneration prompts that cite prior failed attempts as
// negative examples.
package healing

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"regexp"
	"strings"

	"sheriff/internal/logging"
)

// structuralKeywords mark violations where the code's shape itself is wrong.
// Those require regeneration with a different approach, never a local patch.
var structuralKeywords = []string{
	"missing type",
	"missing error handling",
	"lacks error handling",
	"unhandled error",
	"unsafe construct",
	"dynamic evaluation",
	"eval",
	"exec",
}

// identifierPattern pulls a function name out of violation text like
// "function 'parseConfig' lacks error handling".
var identifierPattern = regexp.MustCompile(`['"` + "`" + `]([A-Za-z_][A-Za-z0-9_]*)['"` + "`" + `]`)

// Classification is the result of triaging a violation list.
type Classification struct {
	Structural    []string
	NonStructural []string

	// Snippets maps forbidden-zone identifiers to the offending source
	// fragment, captured as a negative example for regeneration.
	Snippets map[string]string

	// ForbiddenZones are the identifiers to record, in "func:<name>" form.
	ForbiddenZones []string
}

// Classify splits violations into structural and non-structural and captures
// source fragments for every structural violation tied to an identifiable
// function.
func Classify(violations []string, code string) Classification {
	c := Classification{Snippets: make(map[string]string)}

	for _, v := range violations {
		if !isStructural(v) {
			c.NonStructural = append(c.NonStructural, v)
			continue
		}
		c.Structural = append(c.Structural, v)

		zone := "func:structural_error"
		if name, ok := extractIdentifier(v); ok {
			zone = "func:" + name
			if snippet, found := extractFunction(code, name); found {
				c.Snippets[zone] = snippet
			}
		}
		if !contains(c.ForbiddenZones, zone) {
			c.ForbiddenZones = append(c.ForbiddenZones, zone)
		}
	}

	if len(c.Structural) > 0 {
		logging.Healing("classified %d structural / %d non-structural violations, %d forbidden zones",
			len(c.Structural), len(c.NonStructural), len(c.ForbiddenZones))
	}
	return c
}

func isStructural(violation string) bool {
	lower := strings.ToLower(violation)
	for _, kw := range structuralKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractIdentifier(violation string) (string, bool) {
	m := identifierPattern.FindStringSubmatch(violation)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// extractFunction returns the printed source of the named function
// declaration, if the code parses and the function exists.
func extractFunction(code, name string) (string, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "artifact.go", code, 0)
	if err != nil {
		return "", false
	}

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name.Name != name {
			continue
		}
		var buf bytes.Buffer
		if err := printer.Fprint(&buf, fset, fn); err != nil {
			return "", false
		}
		return buf.String(), true
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FailedAttempt is one historical regeneration failure kept for relevance
// filtering.
type FailedAttempt struct {
	Identifier string   `json:"identifier"`
	Source     string   `json:"source"`
	Violations []string `json:"violations,omitempty"`
}

// Relevance weights: an attempt whose identifier appears in the current
// violations is fully relevant; otherwise only the most recent attempts are
// carried at half weight.
const (
	weightKeywordMatch = 1.0
	weightRecent       = 0.5
)

// FilterRelevant selects up to max attempts worth citing in the corrective
// prompt, keyword matches first, then the most recent remainder.
func FilterRelevant(attempts []FailedAttempt, violations []string, max int) []FailedAttempt {
	if max <= 0 || len(attempts) == 0 {
		return nil
	}

	joined := strings.ToLower(strings.Join(violations, " "))

	type scored struct {
		attempt FailedAttempt
		weight  float64
		index   int
	}
	var ranked []scored
	for i, a := range attempts {
		w := weightRecent
		name := strings.TrimPrefix(a.Identifier, "func:")
		if name != "" && strings.Contains(joined, strings.ToLower(name)) {
			w = weightKeywordMatch
		}
		ranked = append(ranked, scored{attempt: a, weight: w, index: i})
	}

	// Stable ordering: higher weight first, later (more recent) attempts
	// first within a weight class.
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			better := ranked[j].weight > ranked[i].weight ||
				(ranked[j].weight == ranked[i].weight && ranked[j].index > ranked[i].index)
			if better {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}

	if max > len(ranked) {
		max = len(ranked)
	}
	out := make([]FailedAttempt, 0, max)
	for _, r := range ranked[:max] {
		out = append(out, r.attempt)
	}
	return out
}

// CorrectivePrompt builds the regeneration instruction handed to the code
// generator. It restates the hard constraints and lists prior failed
// implementations verbatim so the generator is steered away from them.
func CorrectivePrompt(description string, structural []string, negatives []FailedAttempt, forbiddenZones []string) string {
	var b strings.Builder

	b.WriteString("Regenerate the implementation for this task with a different approach.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\n", description)

	b.WriteString("The previous attempt was rejected for structural violations:\n")
	for _, v := range structural {
		fmt.Fprintf(&b, "  - %s\n", v)
	}

	if len(forbiddenZones) > 0 {
		b.WriteString("\nForbidden zones (identifiers that repeatedly produced structural errors):\n")
		for _, z := range forbiddenZones {
			fmt.Fprintf(&b, "  - %s\n", z)
		}
	}

	if len(negatives) > 0 {
		b.WriteString("\nDo NOT reproduce these failed implementations:\n")
		for _, n := range negatives {
			fmt.Fprintf(&b, "\n--- rejected: %s ---\n%s\n", n.Identifier, n.Source)
		}
	}

	b.WriteString("\nHard constraints:\n")
	b.WriteString("  - every exported function carries explicit parameter and return types\n")
	b.WriteString("  - every fallible operation handles its error explicitly\n")
	b.WriteString("  - no dynamic evaluation or unsafe constructs\n")

	return b.String()
}
