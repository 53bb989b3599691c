// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/reviewgen/internal/review"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("history: task not found")

// TaskRecord is a stored task row.
type TaskRecord struct {
	ID          string
	Name        string
	State       review.State
	Degraded    bool
	BestAttempt int // attempt number, 0 when none
	Attempts    int
	TotalTokens int
	Error       string
	Text        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AttemptRecord is a stored attempt row with its issues.
type AttemptRecord struct {
	TaskID         string
	Number         int
	Model          string
	InputChars     int
	OutputChars    int
	Tokens         int
	ElapsedSeconds float64
	Passed         bool
	Text           string
	StartedAt      time.Time
	Issues         []IssueRecord
}

// IssueRecord is a stored validation issue.
type IssueRecord struct {
	Category string
	Severity string
	Code     string
	Subject  string
	Message  string
}

// Stats aggregates the store.
type Stats struct {
	Tasks    int
	Accepted int
	Degraded int
	Failed   int
	Attempts int
	Tokens   int
}

// Store is the SQLite-backed history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// foreign_keys is per connection, so it goes in the DSN
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordAttempt stores one attempt and its issues.
func (s *Store) RecordAttempt(ctx context.Context, task review.Task, a review.Attempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, name, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		task.ID, task.Name, string(review.StateAttempted), now, now); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (task_id, number, model, input_chars, output_chars, tokens,
			elapsed_seconds, passed, issue_count, text, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, a.Number, a.Model, a.Metrics.InputChars, a.Metrics.OutputChars, a.Metrics.TokensUsed,
		a.Metrics.ElapsedSeconds, boolInt(a.Passed()), a.Report.Score(), a.Text, a.Started.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	attemptID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("attempt id: %w", err)
	}

	for _, issue := range a.Report.Issues {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issues (attempt_id, category, severity, code, subject, message)
			VALUES (?, ?, ?, ?, ?, ?)`,
			attemptID, string(issue.Category), string(issue.Severity), issue.Code, issue.Subject, issue.Message); err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
	}

	return tx.Commit()
}

// RecordResult stores the final state of a task.
func (s *Store) RecordResult(ctx context.Context, r *review.Result) error {
	best := 0
	if a := r.BestAttempt(); a != nil {
		best = a.Number
	}
	errText := ""
	if r.Err != nil {
		errText = r.Err.Error()
	}

	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, state, degraded, best_attempt, attempts, total_tokens, error, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			degraded = excluded.degraded,
			best_attempt = excluded.best_attempt,
			attempts = excluded.attempts,
			total_tokens = excluded.total_tokens,
			error = excluded.error,
			text = excluded.text,
			updated_at = excluded.updated_at`,
		r.TaskID, r.TaskName, string(r.State), boolInt(r.Degraded), best, len(r.Attempts),
		r.TotalTokens(), errText, r.Text, now, now)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// Task loads one task.
func (s *Store) Task(ctx context.Context, id string) (*TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, state, degraded, best_attempt, attempts, total_tokens, error, text, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Recent returns up to limit tasks, most recently updated first.
func (s *Store) Recent(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, state, degraded, best_attempt, attempts, total_tokens, error, text, created_at, updated_at
		FROM tasks ORDER BY updated_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Attempts loads the attempts of a task in order, with issues.
func (s *Store) Attempts(ctx context.Context, taskID string) ([]AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, number, model, input_chars, output_chars, tokens, elapsed_seconds, passed, text, started_at
		FROM attempts WHERE task_id = ? ORDER BY number`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}

	var out []AttemptRecord
	var ids []int64
	for rows.Next() {
		var a AttemptRecord
		var id, started int64
		var passed int
		if err := rows.Scan(&id, &a.TaskID, &a.Number, &a.Model, &a.InputChars, &a.OutputChars,
			&a.Tokens, &a.ElapsedSeconds, &passed, &a.Text, &started); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Passed = passed != 0
		a.StartedAt = time.UnixMilli(started)
		out = append(out, a)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// one connection: the attempt rows must be closed before issuing more queries
	for i, id := range ids {
		issues, err := s.issues(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].Issues = issues
	}
	return out, nil
}

func (s *Store) issues(ctx context.Context, attemptID int64) ([]IssueRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, severity, code, subject, message FROM issues WHERE attempt_id = ? ORDER BY rowid`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var out []IssueRecord
	for rows.Next() {
		var i IssueRecord
		if err := rows.Scan(&i.Category, &i.Severity, &i.Code, &i.Subject, &i.Message); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Stats returns aggregate counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN state = 'accepted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'degraded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0)
		FROM tasks`).Scan(&st.Tasks, &st.Accepted, &st.Degraded, &st.Failed)
	if err != nil {
		return st, fmt.Errorf("task stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(tokens), 0) FROM attempts`).
		Scan(&st.Attempts, &st.Tokens)
	if err != nil {
		return st, fmt.Errorf("attempt stats: %w", err)
	}
	return st, nil
}

// Prune deletes tasks last updated before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*TaskRecord, error) {
	var t TaskRecord
	var state string
	var degraded int
	var created, updated int64
	err := row.Scan(&t.ID, &t.Name, &state, &degraded, &t.BestAttempt, &t.Attempts,
		&t.TotalTokens, &t.Error, &t.Text, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.State = review.State(strings.TrimSpace(state))
	t.Degraded = degraded != 0
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return &t, nil
}

func dsn(path string) string {
	const params = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + path + "?" + params
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
