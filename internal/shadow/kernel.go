// Package shadow implements predictive simulation of file writes. A shadow
// write computes what a physical write would produce (line count, content
// hash) with no durable side effect, so the consensus validator can veto a
// bad artifact before it ever touches disk or the sandbox.
package shadow

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prediction is the ephemeral result of a simulated write. It is consumed
// immediately by the consensus validator and never persisted.
type Prediction struct {
	TargetPath         string
	ProjectedLineCount int
	ContentHash        string
	SanitizedContent   string
}

// SimulateWrite computes the prediction for writing content to path. Pure
// function: identical input always yields an identical hash.
func SimulateWrite(path, content string) Prediction {
	sanitized := Sanitize(content)
	return Prediction{
		TargetPath:         path,
		ProjectedLineCount: countLines(sanitized),
		ContentHash:        HashContent(sanitized),
		SanitizedContent:   sanitized,
	}
}

// Sanitize strips non-printable control characters so downstream telemetry
// and diffing never observe binary garbage. Newlines and tabs survive.
func Sanitize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashContent returns the hex SHA-256 digest of the content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
