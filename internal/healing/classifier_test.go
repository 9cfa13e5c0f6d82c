package healing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCode = `package task

func parseConfig(raw string) map[string]string {
	result := map[string]string{}
	return result
}

func helper() int { return 42 }
`

func TestClassifySplitsStructuralAndNonStructural(t *testing.T) {
	violations := []string{
		"function 'parseConfig' lacks error handling",
		"function 'helper' exceeds 50 lines",
		"hardcoded credential detected",
	}

	c := Classify(violations, sampleCode)

	assert.Equal(t, []string{"function 'parseConfig' lacks error handling"}, c.Structural)
	assert.Len(t, c.NonStructural, 2)
}

func TestClassifyRecordsForbiddenZoneAndSnippet(t *testing.T) {
	violations := []string{"function 'parseConfig' lacks error handling"}

	c := Classify(violations, sampleCode)

	require.Contains(t, c.ForbiddenZones, "func:parseConfig")
	snippet, ok := c.Snippets["func:parseConfig"]
	require.True(t, ok, "snippet must be captured for identifiable function")
	assert.Contains(t, snippet, "func parseConfig")
	assert.NotContains(t, snippet, "func helper")
}

func TestClassifyAnonymousStructuralViolation(t *testing.T) {
	c := Classify([]string{"missing type annotations throughout"}, sampleCode)

	assert.Contains(t, c.ForbiddenZones, "func:structural_error")
	assert.Empty(t, c.Snippets)
}

func TestClassifyDeduplicatesZones(t *testing.T) {
	violations := []string{
		"function 'parseConfig' lacks error handling",
		"function 'parseConfig' uses unsafe construct",
	}

	c := Classify(violations, sampleCode)
	assert.Equal(t, []string{"func:parseConfig"}, c.ForbiddenZones)
}

func TestFilterRelevantPrefersKeywordMatches(t *testing.T) {
	attempts := []FailedAttempt{
		{Identifier: "func:oldHelper", Source: "func oldHelper() {}"},
		{Identifier: "func:parseConfig", Source: "func parseConfig() {}"},
		{Identifier: "func:another", Source: "func another() {}"},
	}
	violations := []string{"function 'parseConfig' lacks error handling"}

	got := FilterRelevant(attempts, violations, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "func:parseConfig", got[0].Identifier)
	// Remainder filled with the most recent attempt.
	assert.Equal(t, "func:another", got[1].Identifier)
}

func TestFilterRelevantHonorsMax(t *testing.T) {
	attempts := []FailedAttempt{
		{Identifier: "func:a"}, {Identifier: "func:b"}, {Identifier: "func:c"},
	}
	assert.Len(t, FilterRelevant(attempts, nil, 1), 1)
	assert.Empty(t, FilterRelevant(attempts, nil, 0))
}

func TestCorrectivePromptCitesNegativeExamples(t *testing.T) {
	negatives := []FailedAttempt{
		{Identifier: "func:parseConfig", Source: "func parseConfig(raw string) map[string]string {\n\treturn nil\n}"},
	}
	prompt := CorrectivePrompt(
		"parse the service configuration",
		[]string{"function 'parseConfig' lacks error handling"},
		negatives,
		[]string{"func:parseConfig"},
	)

	assert.Contains(t, prompt, "parse the service configuration")
	assert.Contains(t, prompt, "lacks error handling")
	assert.Contains(t, prompt, "func:parseConfig")
	assert.Contains(t, prompt, "Do NOT reproduce")
	assert.True(t, strings.Contains(prompt, "return nil"), "prior source must appear verbatim")
}
