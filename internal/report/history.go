package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// HistoryFile is the database file kept in the cache directory.
const HistoryFile = "history.db"

// History stores every reported task and its operations in SQLite.
type History struct {
	db    *sql.DB
	runID string
	start time.Time
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Passed    int
	Cached    int
	Failed    int
	Skipped   int
	Error     string
}

// TaskRecord is one row of the tasks table.
type TaskRecord struct {
	RunID      string
	Target     string
	Hash       string
	Status     string
	Duration   time.Duration
	ExitCode   int
	Error      string
	Operations int
}

// OpenHistory opens or creates dir/history.db and starts a new run.
func OpenHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	dsn := "file:" + filepath.Join(dir, HistoryFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db, runID: uuid.NewString(), start: time.Now()}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`, h.runID, h.start.UnixMilli()); err != nil {
		db.Close()
		return nil, fmt.Errorf("record run: %w", err)
	}
	return h, nil
}

// RunID identifies the run being recorded.
func (h *History) RunID() string {
	return h.runID
}

// Close flushes and closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER,
			passed      INTEGER NOT NULL DEFAULT 0,
			cached      INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0,
			skipped     INTEGER NOT NULL DEFAULT 0,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL REFERENCES runs(id),
			target      TEXT NOT NULL,
			hash        TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			exit_code   INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_target ON tasks(target)`,

		`CREATE TABLE IF NOT EXISTS operations (
			task_id     INTEGER NOT NULL REFERENCES tasks(id),
			seq         INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			hash        TEXT,
			meta        TEXT,
			error       TEXT,
			PRIMARY KEY (task_id, seq)
		)`,
	}

	for _, m := range migrations {
		if _, err := h.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// TaskFinished implements Reporter.
func (h *History) TaskFinished(ctx context.Context, r *TaskReport) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exitCode sql.NullInt64
	if out := r.Output(); out != nil {
		exitCode = sql.NullInt64{Int64: int64(out.ExitCode), Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (run_id, target, hash, status, duration_ms, exit_code, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.runID, r.Target.String(), r.Hash, r.Status.String(), r.Duration().Milliseconds(), exitCode, errorText(r.Err),
	)
	if err != nil {
		return fmt.Errorf("record task %s: %w", r.Target, err)
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for i, op := range r.Operations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO operations (task_id, seq, kind, status, started_at, finished_at, hash, meta, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			taskID, i, op.Kind.String(), op.Status.String(), op.StartedAt.UnixMilli(),
			nullableMilli(op.FinishedAt), op.Hash, op.Meta, errorText(op.Err),
		)
		if err != nil {
			return fmt.Errorf("record operation of %s: %w", r.Target, err)
		}
	}
	return tx.Commit()
}

// RunFinished implements Reporter.
func (h *History) RunFinished(ctx context.Context, s *RunSummary) error {
	_, err := h.db.ExecContext(ctx,
		`UPDATE runs SET duration_ms = ?, passed = ?, cached = ?, failed = ?, skipped = ?, error = ? WHERE id = ?`,
		s.Duration.Milliseconds(), s.Passed, s.Cached, s.Failed, s.Skipped, errorText(s.Err), h.runID,
	)
	return err
}

// Runs returns the most recent runs, newest first.
func (h *History) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, started_at, COALESCE(duration_ms, 0), passed, cached, failed, skipped, COALESCE(error, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, duration int64
		if err := rows.Scan(&r.ID, &started, &duration, &r.Passed, &r.Cached, &r.Failed, &r.Skipped, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(duration) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Tasks returns the tasks recorded for a run in report order.
func (h *History) Tasks(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT t.run_id, t.target, t.hash, t.status, t.duration_ms, COALESCE(t.exit_code, -1), COALESCE(t.error, ''),
		        (SELECT COUNT(*) FROM operations o WHERE o.task_id = t.id)
		 FROM tasks t WHERE t.run_id = ? ORDER BY t.id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var duration int64
		if err := rows.Scan(&r.RunID, &r.Target, &r.Hash, &r.Status, &duration, &r.ExitCode, &r.Error, &r.Operations); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(duration) * time.Millisecond
		tasks = append(tasks, r)
	}
	return tasks, rows.Err()
}

func errorText(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

func nullableMilli(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
