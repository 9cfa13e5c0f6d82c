// Package store persists mission history and rollback snapshots in SQLite.
// The live mission state lives in .sheriff/missions/<id>/state.json; this
// archive is the durable record that survives state-file cleanup, used by
// status reporting and post-mortem inspection of healing loops.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"sheriff/internal/logging"
	"sheriff/internal/mission"
)

// Archive is the SQLite-backed mission archive.
type Archive struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the archive database under the workspace's .sheriff dir.
func Open(workspace string) (*Archive, error) {
	path := filepath.Join(workspace, ".sheriff", "archive.db")
	logging.Store("opening mission archive at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	a := &Archive{db: db, dbPath: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// initialize creates the required tables.
func (a *Archive) initialize() error {
	snapshotsTable := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id TEXT NOT NULL UNIQUE,
		mission_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		artifact TEXT,
		error_message TEXT,
		retry_count INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_mission ON snapshots(mission_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_task ON snapshots(task_id);
	`

	outcomesTable := `
	CREATE TABLE IF NOT EXISTS mission_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mission_id TEXT NOT NULL,
		objective TEXT,
		completed_tasks INTEGER DEFAULT 0,
		total_tasks INTEGER DEFAULT 0,
		resource_units INTEGER DEFAULT 0,
		paused BOOLEAN DEFAULT FALSE,
		error_message TEXT,
		finished_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_mission ON mission_outcomes(mission_id);
	`

	for _, table := range []string{snapshotsTable, outcomesTable} {
		if _, err := a.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create archive table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	logging.Store("closing mission archive")
	return a.db.Close()
}

// ArchiveSnapshot durably records a pre-modification task snapshot.
func (a *Archive) ArchiveSnapshot(missionID string, snap mission.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(
		`INSERT INTO snapshots (snapshot_id, mission_id, task_id, artifact, error_message, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(snapshot_id) DO NOTHING`,
		snap.SnapshotID, missionID, snap.TaskID, snap.GeneratedArtifact,
		snap.ErrorMessage, snap.RetryCount, snap.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive snapshot %s: %w", snap.SnapshotID, err)
	}
	logging.StoreDebug("archived snapshot %s for task %s", snap.SnapshotID, snap.TaskID)
	return nil
}

// ArchivedSnapshot is one stored snapshot row.
type ArchivedSnapshot struct {
	SnapshotID   string
	MissionID    string
	TaskID       string
	Artifact     string
	ErrorMessage string
	RetryCount   int
	CreatedAt    time.Time
}

// Snapshots returns a mission's snapshots, oldest first.
func (a *Archive) Snapshots(missionID string) ([]ArchivedSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(
		`SELECT snapshot_id, mission_id, task_id, artifact, error_message, retry_count, created_at
		 FROM snapshots WHERE mission_id = ? ORDER BY id ASC`,
		missionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []ArchivedSnapshot
	for rows.Next() {
		var s ArchivedSnapshot
		if err := rows.Scan(&s.SnapshotID, &s.MissionID, &s.TaskID, &s.Artifact, &s.ErrorMessage, &s.RetryCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// TaskSnapshots returns one task's snapshots within a mission, oldest first.
// Each healing or rollback cycle leaves one row, so the sequence reads as
// the task's attempt history.
func (a *Archive) TaskSnapshots(missionID, taskID string) ([]ArchivedSnapshot, error) {
	all, err := a.Snapshots(missionID)
	if err != nil {
		return nil, err
	}
	var snaps []ArchivedSnapshot
	for _, s := range all {
		if s.TaskID == taskID {
			snaps = append(snaps, s)
		}
	}
	return snaps, nil
}

// MissionRecord is one finished (or paused) mission run.
type MissionRecord struct {
	MissionID      string
	Objective      string
	CompletedTasks int
	TotalTasks     int
	ResourceUnits  int
	Paused         bool
	ErrorMessage   string
	FinishedAt     time.Time
}

// RecordOutcome appends a mission run's outcome. Called once per Run or
// Resume, including quota pauses; a mission resumed twice has three rows.
func (a *Archive) RecordOutcome(missionID, objective string, sum mission.ExecutionSummary, runErr error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	_, err := a.db.Exec(
		`INSERT INTO mission_outcomes (mission_id, objective, completed_tasks, total_tasks, resource_units, paused, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		missionID, objective, sum.CompletedTasks, sum.TotalTasks, sum.ResourceUnitsUsed, sum.Paused, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to record mission outcome: %w", err)
	}
	return nil
}

// History returns the most recent mission outcomes, newest first.
func (a *Archive) History(limit int) ([]MissionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(
		`SELECT mission_id, objective, completed_tasks, total_tasks, resource_units, paused, error_message, finished_at
		 FROM mission_outcomes ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MissionRecord
	for rows.Next() {
		var r MissionRecord
		if err := rows.Scan(&r.MissionID, &r.Objective, &r.CompletedTasks, &r.TotalTasks, &r.ResourceUnits, &r.Paused, &r.ErrorMessage, &r.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
