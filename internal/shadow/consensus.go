package shadow

import (
	"fmt"
	"go/parser"
	"go/token"
	"strings"

	"sheriff/internal/logging"
)

// Verdict is the consensus decision over a shadow prediction.
type Verdict struct {
	Approved bool
	Reason   string
}

// Validate is the last automated checkpoint before a prediction may become a
// physical write. It rejects empty content and content that fails to parse
// as Go source; everything else is approved. A rejection here means the
// prediction itself is unreliable, so callers abort the attempt instead of
// routing through healing.
func Validate(pred Prediction) Verdict {
	trimmed := strings.TrimSpace(pred.SanitizedContent)
	if trimmed == "" {
		logging.Consensus("VETO %s: empty content", pred.TargetPath)
		return Verdict{Reason: "prediction is empty"}
	}

	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, pred.TargetPath, pred.SanitizedContent, parser.AllErrors); err != nil {
		logging.Consensus("VETO %s: %v", pred.TargetPath, err)
		return Verdict{Reason: fmt.Sprintf("syntax error: %v", firstParseError(err))}
	}

	logging.Consensus("APPROVE %s: %d lines, hash %.12s",
		pred.TargetPath, pred.ProjectedLineCount, pred.ContentHash)
	return Verdict{Approved: true}
}

// firstParseError trims a scanner.ErrorList down to its first entry so the
// rejection reason stays one line.
func firstParseError(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx > 0 {
		msg = msg[:idx]
	}
	return msg
}
