package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmorgan/crucible/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, r *storage.Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = storage.StatusCompleted
	}

	toolsJSON, err := json.Marshal(r.ToolsUsed)
	if err != nil {
		return fmt.Errorf("marshaling tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, agent, message, response, status, error, tools_used, created_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Agent, r.Message, r.Response, r.Status, r.Error, string(toolsJSON),
		r.CreatedAt.Format(time.RFC3339), r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	// Try exact match first, then prefix match
	run, err := s.getRunExact(ctx, id)
	if err == nil {
		return run, nil
	}

	// Prefix match
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, message, response, status, error, tools_used, created_at, duration_ms
		FROM runs WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, run)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous run prefix %q matches %d runs", id, len(matches))
	}
}

func (s *SQLiteStore) getRunExact(ctx context.Context, id string) (*storage.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent, message, response, status, error, tools_used, created_at, duration_ms
		FROM runs WHERE id = ?`, id)
	return scanRunRow(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts storage.RunListOptions) ([]storage.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, agent, message, response, status, error, tools_used, created_at, duration_ms FROM runs`
	var conds []string
	var args []any

	if opts.Agent != "" {
		conds = append(conds, `agent = ?`)
		args = append(args, opts.Agent)
	}
	if opts.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, string(opts.Status))
	}
	for i, cond := range conds {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}

	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	// Resolve prefix first
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRunFromScanner(s scanner) (*storage.Run, error) {
	var run storage.Run
	var toolsJSON, createdAt string
	err := s.Scan(&run.ID, &run.Agent, &run.Message, &run.Response, &run.Status,
		&run.Error, &toolsJSON, &createdAt, &run.DurationMS)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(toolsJSON), &run.ToolsUsed); err != nil {
		return nil, fmt.Errorf("unmarshaling tools: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &run, nil
}

func scanRun(rows *sql.Rows) (*storage.Run, error) {
	return scanRunFromScanner(rows)
}

func scanRunRow(row *sql.Row) (*storage.Run, error) {
	return scanRunFromScanner(row)
}
