package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

var ErrStoreLocked = errors.New("thread database is locked by another process")

// SQLiteStore persists threads in a SQLite database file. The file is
// guarded by a lock file so that only one process serves it.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	lock := flock.New(path + ".lock")

	locked, err := lock.TryLock()

	if err != nil {
		return nil, fmt.Errorf("lock database: %w", err)
	}

	if !locked {
		return nil, ErrStoreLocked
	}

	db, err := sql.Open("sqlite", path)

	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		lock: lock,
	}, nil
}

func (s *SQLiteStore) Close() error {
	err := s.db.Close()

	if unlockErr := s.lock.Unlock(); unlockErr != nil {
		err = errors.Join(err, unlockErr)
	}

	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id string) ([]agent.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id
		FROM messages
		WHERE thread_id = ?
		ORDER BY id ASC`, id)

	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	defer rows.Close()

	var result []agent.Message

	for rows.Next() {
		var m agent.Message
		var role string
		var toolCalls string

		if err := rows.Scan(&role, &m.Content, &toolCalls, &m.ToolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		m.Role = agent.MessageRole(role)

		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}

		result = append(result, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return result, nil
}

// Append writes all messages of a turn in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, id string, messages []agent.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	now := time.Now().UTC().Format(timeFormat)

	for _, m := range messages {
		var toolCalls string

		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)

			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("encode tool calls: %w", err)
			}

			toolCalls = string(data)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (thread_id, role, content, tool_calls, tool_call_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id,
			string(m.Role),
			m.Content,
			toolCalls,
			m.ToolCallID,
			now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
