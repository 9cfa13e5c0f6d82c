package mission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sheriff/internal/logging"
	"sheriff/internal/shadow"
)

// maxDriftFraction is the tolerated divergence between a target file's
// recorded line count and its actual line count. Within the tolerance the
// expectation is realigned; beyond it the write is refused.
const maxDriftFraction = 0.20

// DriftError reports a target file that diverged too far from its recorded
// expectation since the last promoted write.
type DriftError struct {
	Path     string
	Expected int
	Actual   int
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("pre-edit audit: %s has %d lines, expected %d (drift beyond %d%%)",
		e.Path, e.Actual, e.Expected, int(maxDriftFraction*100))
}

// preEditAudit verifies the physical target still matches what the mission
// last recorded before promoting a new artifact over it. expectedLines <= 0
// means no expectation is recorded (first write) and the audit passes.
// Returns the realigned line count.
func preEditAudit(absPath string, expectedLines int) (int, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return expectedLines, nil
		}
		return 0, fmt.Errorf("pre-edit audit failed to read %s: %w", absPath, err)
	}

	actual := countFileLines(string(data))
	if expectedLines <= 0 {
		return actual, nil
	}

	drift := float64(actual-expectedLines) / float64(expectedLines)
	if drift < 0 {
		drift = -drift
	}
	if drift > maxDriftFraction {
		return 0, &DriftError{Path: absPath, Expected: expectedLines, Actual: actual}
	}
	if actual != expectedLines {
		logging.MissionDebug("pre-edit audit realigned %s: %d -> %d lines", absPath, expectedLines, actual)
	}
	return actual, nil
}

// promoteWrite physically writes the approved artifact, atomically, and
// verifies the written content hashes to the approved prediction.
func promoteWrite(absPath string, pred shadow.Prediction) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(pred.SanitizedContent), 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		return fmt.Errorf("failed to commit artifact: %w", err)
	}

	written, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to verify written artifact: %w", err)
	}
	if got := shadow.HashContent(string(written)); got != pred.ContentHash {
		return fmt.Errorf("written content hash %s does not match prediction %s", got, pred.ContentHash)
	}
	return nil
}

func countFileLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
