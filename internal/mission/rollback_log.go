package mission

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RollbackRecord is one entry of the append-only rollback audit trail.
type RollbackRecord struct {
	TaskID            string    `json:"task_id"`
	Reason            string    `json:"reason"`
	SnapshotReference string    `json:"snapshot_reference"`
	Timestamp         time.Time `json:"timestamp"`
}

// RollbackLog is a durable append-only log of rollback events, one JSON
// record per line. Records are never rewritten.
type RollbackLog struct {
	mu   sync.Mutex
	path string
}

// NewRollbackLog returns a log stored at <workspace>/.sheriff/rollback.ndjson.
func NewRollbackLog(workspace string) *RollbackLog {
	return &RollbackLog{path: filepath.Join(workspace, ".sheriff", "rollback.ndjson")}
}

// Append durably adds one record. The file is opened with O_APPEND so
// concurrent missions interleave whole lines, never partial ones.
func (l *RollbackLog) Append(rec RollbackRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal rollback record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open rollback log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append rollback record: %w", err)
	}
	return f.Sync()
}

// Records reads back all rollback records, skipping unparseable lines.
func (l *RollbackLog) Records() ([]RollbackRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []RollbackRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec RollbackRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
