package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
	defaultKey  = "default"
)

// ErrNotFound is returned by LoadRun for an unknown run ID.
var ErrNotFound = errors.New("history run not found")

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL keep watch-mode saves from tripping over readers.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func projectKeyOrDefault(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return defaultKey
	}
	return key
}

// SaveRun persists run and its findings in one transaction. A missing ID or
// timestamp is filled in; the stored run is returned.
func (s *Store) SaveRun(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.ProjectKey = projectKeyOrDefault(run.ProjectKey)
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	run.Timestamp = run.Timestamp.UTC()

	err := s.withRetry("save run", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (
  id, project_key, schema_version, ts_utc, duration_ms, status, combinations,
  file_count, manifest_count, missing_count, optional_count, unused_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			run.ProjectKey,
			SchemaVersion,
			run.Timestamp.Format(time.RFC3339Nano),
			run.Duration.Milliseconds(),
			run.Status,
			strings.Join(run.Combinations, ","),
			run.FileCount,
			run.ManifestCount,
			run.MissingCount,
			run.OptionalCount,
			run.UnusedCount,
		); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO findings (run_id, seq, kind, subject, file, line, combinations)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, f := range run.Findings {
			if _, err := stmt.ExecContext(ctx, run.ID, i, f.Kind, f.Subject, f.File, f.Line, strings.Join(f.Combinations, ",")); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

const runColumns = `id, project_key, ts_utc, duration_ms, status, combinations,
  file_count, manifest_count, missing_count, optional_count, unused_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		tsRaw      string
		durationMS int64
		combos     string
	)
	if err := row.Scan(
		&run.ID,
		&run.ProjectKey,
		&tsRaw,
		&durationMS,
		&run.Status,
		&combos,
		&run.FileCount,
		&run.ManifestCount,
		&run.MissingCount,
		&run.OptionalCount,
		&run.UnusedCount,
	); err != nil {
		return Run{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return Run{}, fmt.Errorf("parse run timestamp %q: %w", tsRaw, err)
	}
	run.Timestamp = ts.UTC()
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.Combinations = splitList(combos)
	return run, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// ListRuns returns the newest runs of a project first, without findings.
// A non-positive limit returns every run.
func (s *Store) ListRuns(ctx context.Context, projectKey string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + runColumns + ` FROM runs WHERE project_key = ? ORDER BY ts_utc DESC, id ASC`
	args := []any{projectKeyOrDefault(projectKey)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows *sql.Rows
	err := s.withRetry("list runs", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, query, args...)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// LoadRun returns a run with its findings.
func (s *Store) LoadRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var run Run
	err := s.withRetry("load run", func() error {
		var scanErr error
		run, scanErr = scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	var rows *sql.Rows
	err = s.withRetry("load findings", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT kind, subject, file, line, combinations FROM findings
WHERE run_id = ? ORDER BY seq ASC`, id)
		return qErr
	})
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f      Finding
			combos string
		)
		if err := rows.Scan(&f.Kind, &f.Subject, &f.File, &f.Line, &combos); err != nil {
			return Run{}, fmt.Errorf("scan finding row: %w", err)
		}
		f.Combinations = splitList(combos)
		run.Findings = append(run.Findings, f)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate finding rows: %w", err)
	}
	return run, nil
}

// Prune deletes all but the newest keep runs of a project and returns how
// many were removed. Findings go with their run.
func (s *Store) Prune(ctx context.Context, projectKey string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	err := s.withRetry("prune runs", func() error {
		res, err := s.db.ExecContext(ctx, `
DELETE FROM runs WHERE project_key = ? AND id NOT IN (
  SELECT id FROM runs WHERE project_key = ? ORDER BY ts_utc DESC, id ASC LIMIT ?
)`, projectKeyOrDefault(projectKey), projectKeyOrDefault(projectKey), keep)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}
