// Package store persists sessions, transcripts and recording metadata in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"viva/conversation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

type Store struct {
	db *sql.DB
}

// Open opens (or creates) viva.db in dataDir and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "viva.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one connection: an in-memory database is per connection, and SQLite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, s)
}

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	if sess.Status == "" {
		sess.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, status, provider, question_count)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, formatTime(sess.StartedAt), string(sess.Status), sess.Provider, sess.QuestionCount,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// EndSession closes a session row with its final status and turn count.
func (s *Store) EndSession(ctx context.Context, id string, status Status, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ?,
			turn_count = (SELECT COUNT(*) FROM turns WHERE session_id = ?)
		WHERE id = ?`,
		string(status), formatTime(endedAt), id, id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return expectRow(res)
}

func (s *Store) AttachRecording(ctx context.Context, sessionID, recordingID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET recording_id = ? WHERE id = ?`, recordingID, sessionID)
	if err != nil {
		return fmt.Errorf("attach recording: %w", err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `id, started_at, ended_at, status, provider, question_count, turn_count, recording_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var started, ended, status string
	if err := row.Scan(&sess.ID, &started, &ended, &status, &sess.Provider, &sess.QuestionCount, &sess.TurnCount, &sess.RecordingID); err != nil {
		return Session{}, err
	}
	var err error
	if sess.StartedAt, err = parseTime(started); err != nil {
		return Session{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if sess.EndedAt, err = parseTime(ended); err != nil {
		return Session{}, fmt.Errorf("parsing ended_at: %w", err)
	}
	sess.Status = Status(status)
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// Sessions returns the most recent sessions first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) AddTurn(ctx context.Context, sessionID string, t conversation.Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, speaker, label, text, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, t.Speaker.String(), t.Label, t.Text, formatTime(t.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("add turn: %w", err)
	}
	return nil
}

// Turns returns a session's transcript in insertion order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT speaker, label, text, occurred_at FROM turns WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []conversation.Turn
	for rows.Next() {
		var speaker, at string
		var t conversation.Turn
		if err := rows.Scan(&speaker, &t.Label, &t.Text, &at); err != nil {
			return nil, err
		}
		if t.Speaker, err = conversation.ParseSpeaker(speaker); err != nil {
			return nil, err
		}
		if t.OccurredAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AddRecording(ctx context.Context, r Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, session_id, name, path, size, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Name, r.Path, r.Size, r.Duration.Milliseconds(), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add recording: %w", err)
	}
	return nil
}

const recordingColumns = `id, session_id, name, path, size, duration_ms, created_at`

func scanRecording(row scanner) (Recording, error) {
	var r Recording
	var durMs int64
	var created string
	if err := row.Scan(&r.ID, &r.SessionID, &r.Name, &r.Path, &r.Size, &durMs, &created); err != nil {
		return Recording{}, err
	}
	r.Duration = time.Duration(durMs) * time.Millisecond
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return Recording{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return r, nil
}

func (s *Store) GetRecording(ctx context.Context, id string) (Recording, error) {
	r, err := scanRecording(s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	return r, err
}

func (s *Store) Recordings(ctx context.Context) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordingColumns+` FROM recordings ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
