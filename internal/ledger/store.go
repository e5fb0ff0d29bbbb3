package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically, which ListRuns relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Kind identifies what a run did.
type Kind string

const (
	KindChain   Kind = "chain"
	KindProcess Kind = "process"
	KindWatch   Kind = "watch"
	KindTrial   Kind = "trial"
	KindPatient Kind = "patient"
)

// State is the lifecycle position of a run.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// FileKind classifies a processed document.
type FileKind string

const (
	FileTrial    FileKind = "trial"
	FileClinical FileKind = "patient_clinical"
	FileGenomic  FileKind = "patient_genomic"
)

// Run is one recorded invocation.
type Run struct {
	ID         string
	Kind       Kind
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Detail     string
}

// Duration returns how long the run took, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store wraps the ledger database.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps pragmas applied to every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun records a new running entry.
func (s *Store) StartRun(ctx context.Context, kind Kind) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     StateRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, state, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Kind), string(run.State), run.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final state of run and updates it in place.
func (s *Store) FinishRun(ctx context.Context, run *Run, state State, code int, detail string) error {
	if run == nil {
		return errors.New("run is nil")
	}
	run.State = state
	run.ExitCode = code
	run.Detail = detail
	run.FinishedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, finished_at = ?, exit_code = ?, detail = ? WHERE id = ?`,
		string(state), run.FinishedAt.Format(timeLayout), code, nullableString(detail), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: not found", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, kind, state, started_at, finished_at, exit_code, detail FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run              Run
			kind, state      string
			started          string
			finished, detail sql.NullString
			code             sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &kind, &state, &started, &finished, &code, &detail); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Kind = Kind(kind)
		run.State = State(state)
		run.StartedAt = parseTime(started)
		if finished.Valid {
			run.FinishedAt = parseTime(finished.String)
		}
		run.ExitCode = int(code.Int64)
		run.Detail = detail.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkProcessed records path as handled. Repeated calls keep the original
// first_seen_at and refresh processed_at.
func (s *Store) MarkProcessed(ctx context.Context, path string, kind FileKind) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_files (path, kind, first_seen_at, processed_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET processed_at = excluded.processed_at, kind = excluded.kind`,
		path, string(kind), now, now,
	)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", path, err)
	}
	return nil
}

// ProcessedPaths returns every path recorded by MarkProcessed.
func (s *Store) ProcessedPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM processed_files`)
	if err != nil {
		return nil, fmt.Errorf("query processed files: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan processed file: %w", err)
		}
		paths[path] = struct{}{}
	}
	return paths, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
