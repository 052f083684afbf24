// internal/storage/history.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Corphon/GamebookRuntime/internal/storage/migrations"
)

// Play event kinds.
const (
	EventStart    = "start"
	EventAction   = "action"
	EventNavigate = "navigate"
	EventContinue = "continue"
	EventRestart  = "restart"
	EventEnd      = "end"
)

// PlayEvent is one recorded step of a play session.
type PlayEvent struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	BookID     string    `json:"book_id,omitempty"`
	Kind       string    `json:"kind"`
	PageID     string    `json:"page_id,omitempty"`
	Verb       string    `json:"verb,omitempty"`
	Noun       string    `json:"noun,omitempty"`
	Behavior   string    `json:"behavior,omitempty"`
	TargetPage string    `json:"target_page,omitempty"`
	Flags      []string  `json:"flags"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryStore persists play events in SQLite.
type HistoryStore struct {
	sqlDB *sql.DB
}

// OpenHistory opens the SQLite database at path and applies the embedded migrations.
func OpenHistory(path string) (*HistoryStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writes ordered.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &HistoryStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *HistoryStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record appends one event. CreatedAt defaults to now.
func (s *HistoryStore) Record(ctx context.Context, event PlayEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if event.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Flags == nil {
		event.Flags = []string{}
	}

	flags, err := json.Marshal(event.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO play_events (
		   session_id, book_id, kind, page_id, verb, noun, behavior, target_page, flags, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.SessionID,
		event.BookID,
		event.Kind,
		event.PageID,
		event.Verb,
		event.Noun,
		event.Behavior,
		event.TargetPage,
		string(flags),
		event.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert play event: %w", err)
	}
	return nil
}

// List returns a session's events in recording order. limit <= 0 means all.
func (s *HistoryStore) List(ctx context.Context, sessionID string, limit int) ([]PlayEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, session_id, book_id, kind, page_id, verb, noun, behavior, target_page, flags, created_at
		 FROM play_events
		 WHERE session_id = ?
		 ORDER BY id
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query play events: %w", err)
	}
	defer rows.Close()

	var events []PlayEvent
	for rows.Next() {
		var (
			event     PlayEvent
			flags     string
			createdAt int64
		)
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.BookID,
			&event.Kind,
			&event.PageID,
			&event.Verb,
			&event.Noun,
			&event.Behavior,
			&event.TargetPage,
			&flags,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan play event: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &event.Flags); err != nil {
			return nil, fmt.Errorf("decode flags of event %d: %w", event.ID, err)
		}
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate play events: %w", err)
	}
	return events, nil
}

// DeleteSession removes all events of a session.
func (s *HistoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM play_events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete play events: %w", err)
	}
	return nil
}

const migrationTable = "schema_migrations"

// applyMigrations runs each embedded *.sql file at most once, in name order.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upMigration(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upMigration returns the section between "-- +migrate Up" and "-- +migrate Down".
func upMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}
