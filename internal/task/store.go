package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists tasks and conversation history so context continuity
// survives a restart. All methods are safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the task database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			context_id TEXT NOT NULL,
			state TEXT NOT NULL,
			reason TEXT,
			answer TEXT,
			iterations INTEGER DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			context_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT,
			tool_calls TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_context ON tasks(context_id);
		CREATE INDEX IF NOT EXISTS idx_messages_context ON messages(context_id, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id, seq);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTask inserts or updates a task row.
func (s *Store) SaveTask(t *Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, context_id, state, reason, answer, iterations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			answer = excluded.answer,
			iterations = excluded.iterations,
			updated_at = excluded.updated_at
	`, t.ID, t.ContextID, string(t.State), t.Reason, t.Answer, t.Iterations,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// AppendMessage records one history message. seq orders messages
// within a context.
func (s *Store) AppendMessage(contextID, taskID string, seq int, m Message) error {
	var toolCalls sql.NullString
	if len(m.ToolCalls) > 0 {
		b, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, context_id, task_id, seq, role, content, tool_call_id, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, contextID, taskID, seq, m.Role, m.Content, nullable(m.ToolCallID), toolCalls,
		m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// LoadContext returns a context's full message history in order.
func (s *Store) LoadContext(contextID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, tool_call_id, tool_calls, created_at
		FROM messages WHERE context_id = ? ORDER BY seq
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m          Message
			toolCallID sql.NullString
			toolCalls  sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &toolCallID, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ToolCallID = toolCallID.String
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			m.CreatedAt = t
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ContextExists reports whether any messages are stored for contextID.
func (s *Store) ContextExists(contextID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM messages WHERE context_id = ?`, contextID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check context: %w", err)
	}
	return n > 0, nil
}

// GetTask loads one task row. History is not populated; callers use
// LoadContext when they need messages.
func (s *Store) GetTask(taskID string) (*Task, error) {
	var (
		t                    Task
		state                string
		reason, answer       sql.NullString
		createdAt, updatedAt string
	)
	err := s.db.QueryRow(`
		SELECT id, context_id, state, reason, answer, iterations, created_at, updated_at
		FROM tasks WHERE id = ?
	`, taskID).Scan(&t.ID, &t.ContextID, &state, &reason, &answer, &t.Iterations, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.State = State(state)
	t.Reason = reason.String
	t.Answer = answer.String
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	return &t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
