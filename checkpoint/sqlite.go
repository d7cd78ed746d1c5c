package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps checkpoints in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "could not create checkpoint directory %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint db")
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "set busy timeout")
	}
	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to initialize checkpoint schema")
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			todos TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := validThreadID(threadID); err != nil {
		return nil, err
	}

	var messagesJSON, todosJSON string
	var updatedAt int64
	row := s.db.QueryRowContext(ctx,
		`SELECT messages, todos, updated_at FROM checkpoints WHERE thread_id = ?`, threadID)
	if err := row.Scan(&messagesJSON, &todosJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "query checkpoint %s", threadID)
	}

	cp := &Checkpoint{ThreadID: threadID, UpdatedAt: time.Unix(0, updatedAt)}
	if err := json.Unmarshal([]byte(messagesJSON), &cp.Messages); err != nil {
		return nil, errors.Wrapf(err, "decode messages of checkpoint %s", threadID)
	}
	if err := json.Unmarshal([]byte(todosJSON), &cp.Todos); err != nil {
		return nil, errors.Wrapf(err, "decode todos of checkpoint %s", threadID)
	}
	return cp, nil
}

func (s *SQLiteStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validThreadID(cp.ThreadID); err != nil {
		return err
	}
	messagesJSON, err := json.Marshal(cp.Messages)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal messages")
	}
	todos := cp.Todos
	if todos == nil {
		todos = []session.Todo{}
	}
	todosJSON, err := json.Marshal(todos)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal todos")
	}
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO checkpoints (thread_id, messages, todos, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			messages = excluded.messages,
			todos = excluded.todos,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, cp.ThreadID, string(messagesJSON), string(todosJSON), updatedAt.UnixNano())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
