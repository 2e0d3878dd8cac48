package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freema/askshell/internal/apperror"
	"github.com/freema/askshell/internal/shell"
)

// Store persists finished run summaries in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
// ":memory:" keeps history in process.
func Open(path string) (*Store, error) {
	connStr := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// writer lock contention.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		shell_input TEXT NOT NULL,
		cwd TEXT,
		prefix TEXT,
		attempt INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		error TEXT,
		output_dir TEXT,
		stdout_tail TEXT,
		stderr_tail TEXT,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a run summary.
func (s *Store) Save(ctx context.Context, sum shell.Summary) error {
	var exitCode sql.NullInt64
	if sum.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*sum.ExitCode), Valid: true}
	}
	var finishedAt sql.NullTime
	if !sum.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: sum.FinishedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO runs (id, shell_input, cwd, prefix, attempt, attempts, status, exit_code,
	                  error, output_dir, stdout_tail, stderr_tail, created_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		attempt = excluded.attempt,
		status = excluded.status,
		exit_code = excluded.exit_code,
		error = excluded.error,
		output_dir = excluded.output_dir,
		stdout_tail = excluded.stdout_tail,
		stderr_tail = excluded.stderr_tail,
		finished_at = excluded.finished_at
	`,
		sum.ID, sum.ShellInput, sum.Cwd, sum.Prefix, sum.Attempt, sum.Attempts, sum.Status, exitCode,
		sum.Error, sum.OutputDir, sum.StdoutTail, sum.StderrTail, sum.CreatedAt, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", sum.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, shell_input, cwd, prefix, attempt, attempts, status, exit_code,
	       error, output_dir, stdout_tail, stderr_tail, created_at, finished_at
	FROM runs`

// Get returns the stored summary of run id.
func (s *Store) Get(ctx context.Context, id string) (shell.Summary, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	sum, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shell.Summary{}, apperror.NotFound("run %s not found", id)
	}
	return sum, err
}

// List returns up to limit summaries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]shell.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []shell.Summary
	for rows.Next() {
		sum, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (shell.Summary, error) {
	var (
		sum                                     shell.Summary
		cwd, prefix, errMsg, outputDir, so, se sql.NullString
		exitCode                                sql.NullInt64
		finishedAt                              sql.NullTime
	)
	err := row.Scan(&sum.ID, &sum.ShellInput, &cwd, &prefix, &sum.Attempt, &sum.Attempts, &sum.Status,
		&exitCode, &errMsg, &outputDir, &so, &se, &sum.CreatedAt, &finishedAt)
	if err != nil {
		return shell.Summary{}, err
	}
	sum.Cwd, sum.Prefix, sum.Error, sum.OutputDir = cwd.String, prefix.String, errMsg.String, outputDir.String
	sum.StdoutTail, sum.StderrTail = so.String, se.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		sum.ExitCode = &code
	}
	if finishedAt.Valid {
		sum.FinishedAt = finishedAt.Time
	}
	return sum, nil
}
