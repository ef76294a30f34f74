// Package journal keeps a SQLite history of scene operations and cell
// executions for every notebook in a workspace.
package journal

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"

	"nbscenes/internal/logging"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func init() {
	_ = sqlite.RegisterDeterministicScalarFunction("elapsed_ms", 2, elapsedMillis)
}

// SceneEvent is one recorded scene operation.
type SceneEvent struct {
	ID        int64
	Notebook  string
	Operation string
	Scene     string
	Detail    string
	CreatedAt time.Time
}

// Execution is one recorded cell execution.
type Execution struct {
	ID         string
	Notebook   string
	KernelID   string
	CellID     string
	CellIndex  int
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string

	// Elapsed is computed on read.
	Elapsed time.Duration
}

// Journal is the SQLite-backed history.
type Journal struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	timer := logging.StartTimer(logging.CategoryJournal, "journal.Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.JournalDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.JournalDebug("failed to set journal_mode=WAL: %v", err)
	}

	j := &Journal{db: db, path: path, now: time.Now}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Journal("journal opened at %s", path)
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scene_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		notebook TEXT NOT NULL,
		operation TEXT NOT NULL,
		scene TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scene_events_notebook ON scene_events(notebook, created_at);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		notebook TEXT NOT NULL,
		kernel_id TEXT NOT NULL DEFAULT '',
		cell_id TEXT NOT NULL,
		cell_index INTEGER NOT NULL DEFAULT -1,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_executions_notebook ON executions(notebook, started_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// Path returns the database file.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// RecordEvent stores e; a zero CreatedAt means now.
func (j *Journal) RecordEvent(ctx context.Context, e SceneEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO scene_events (notebook, operation, scene, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Notebook, e.Operation, e.Scene, e.Detail, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record scene event: %w", err)
	}
	logging.JournalDebug("recorded %s on %s (%q)", e.Operation, e.Notebook, e.Scene)
	return nil
}

// RecordExecution stores e, replacing any record with the same id.
func (j *Journal) RecordExecution(ctx context.Context, e Execution) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions
			(id, notebook, kernel_id, cell_id, cell_index, status, started_at, finished_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Notebook, e.KernelID, e.CellID, e.CellIndex, e.Status,
		formatTime(e.StartedAt), formatTime(e.FinishedAt), e.Error)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// Events lists scene events newest first. An empty notebook lists all of
// them; limit <= 0 means no limit.
func (j *Journal) Events(ctx context.Context, notebook string, limit int) ([]SceneEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, notebook, operation, scene, detail, created_at FROM scene_events
		 WHERE (? = '' OR notebook = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, notebook, notebook, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query scene events: %w", err)
	}
	defer rows.Close()

	var out []SceneEvent
	for rows.Next() {
		var e SceneEvent
		var created string
		if err := rows.Scan(&e.ID, &e.Notebook, &e.Operation, &e.Scene, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("failed to scan scene event: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Executions lists executions newest first, filtered like Events.
func (j *Journal) Executions(ctx context.Context, notebook string, limit int) ([]Execution, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, notebook, kernel_id, cell_id, cell_index, status, started_at, finished_at, error,
			elapsed_ms(started_at, finished_at)
		 FROM executions
		 WHERE (? = '' OR notebook = ?)
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`, notebook, notebook, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var started, finished string
		var elapsed float64
		if err := rows.Scan(&e.ID, &e.Notebook, &e.KernelID, &e.CellID, &e.CellIndex, &e.Status,
			&started, &finished, &e.Error, &elapsed); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.StartedAt, _ = time.Parse(timeLayout, started)
		e.FinishedAt, _ = time.Parse(timeLayout, finished)
		e.Elapsed = time.Duration(elapsed * float64(time.Millisecond))
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes records older than maxAge and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := formatTime(j.now().Add(-maxAge))
	var total int64
	for _, stmt := range []string{
		`DELETE FROM scene_events WHERE created_at < ?`,
		`DELETE FROM executions WHERE finished_at < ?`,
	} {
		res, err := j.db.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		logging.Journal("pruned %d journal records older than %s", total, maxAge)
	}
	return total, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// elapsedMillis implements elapsed_ms(started, finished) over stored
// timestamps with nanosecond precision.
func elapsedMillis(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("elapsed_ms expects 2 arguments")
	}
	start, ok1 := args[0].(string)
	end, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return float64(0), nil
	}
	s, err := time.Parse(timeLayout, start)
	if err != nil {
		return float64(0), nil
	}
	e, err := time.Parse(timeLayout, end)
	if err != nil {
		return float64(0), nil
	}
	return float64(e.Sub(s)) / float64(time.Millisecond), nil
}
