package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists sessions and messages in SQLite.
type SQLiteStore struct {
	db          *sql.DB
	maxMessages int
}

// NewSQLiteStore opens (or creates) the database at dbPath. maxMessages
// caps how much history GetMessages returns per session.
func NewSQLiteStore(dbPath string, maxMessages int) (*SQLiteStore, error) {
	if maxMessages <= 0 {
		maxMessages = 200
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:          db,
		maxMessages: maxMessages,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	-- Sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		persona TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		tool_call_count INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0
	);

	-- Messages
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		timestamp TIMESTAMP NOT NULL,
		token_count INTEGER DEFAULT 0,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);

	-- Tool calls (structured, queryable)
	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreateSession ensures a session row exists and returns it.
func (s *SQLiteStore) GetOrCreateSession(id, persona string) (*Session, error) {
	now := time.Now()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (id, persona, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, persona, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return s.GetSession(id)
}

// GetSession retrieves a session by ID, or nil if absent.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, persona, created_at, updated_at, message_count, tool_call_count, total_tokens
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.Persona, &sess.CreatedAt, &sess.UpdatedAt,
		&sess.MessageCount, &sess.ToolCallCount, &sess.TotalTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *SQLiteStore) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, persona, created_at, updated_at, message_count, tool_call_count, total_tokens
		FROM sessions ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Persona, &sess.CreatedAt, &sess.UpdatedAt,
			&sess.MessageCount, &sess.ToolCallCount, &sess.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AppendMessage persists one message and bumps the session counters.
// The stored message ID is returned.
func (s *SQLiteStore) AppendMessage(sessionID string, msg Message) (string, error) {
	now := time.Now()
	msgID, _ := uuid.NewV7()

	if _, err := s.GetOrCreateSession(sessionID, ""); err != nil {
		return "", err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO messages (id, session_id, role, content, tool_calls, tool_call_id, timestamp, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msgID.String(), sessionID, msg.Role, msg.Content,
		nullable(msg.ToolCalls), nullable(msg.ToolCallID), now, estimateTokens(msg.Content))
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE sessions
		SET updated_at = ?,
		    message_count = message_count + 1,
		    total_tokens = total_tokens + ?
		WHERE id = ?
	`, now, estimateTokens(msg.Content), sessionID)
	if err != nil {
		return "", fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return msgID.String(), nil
}

// GetMessages retrieves the most recent history for a session, oldest
// first, capped at the store's message limit.
func (s *SQLiteStore) GetMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, tool_calls, tool_call_id, timestamp, token_count
		FROM (
			SELECT * FROM messages
			WHERE session_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC
	`, sessionID, s.maxMessages)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &toolCalls, &toolCallID, &m.Timestamp, &m.TokenCount); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ToolCalls = toolCalls.String
		m.ToolCallID = toolCallID.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Clear removes a session and everything attached to it.
func (s *SQLiteStore) Clear(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM tool_calls WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, sessionID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordToolCall records a tool invocation with its outcome.
func (s *SQLiteStore) RecordToolCall(sessionID, toolCallID, toolName, arguments, result, errMsg string, started time.Time, duration time.Duration) error {
	if toolCallID == "" {
		id, _ := uuid.NewV7()
		toolCallID = id.String()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO tool_calls (id, session_id, tool_name, arguments, result, error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, toolCallID, sessionID, toolName, arguments,
		nullable(result), nullable(errMsg), started, started.Add(duration), duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE sessions SET tool_call_count = tool_call_count + 1 WHERE id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return tx.Commit()
}

// Stats returns storage statistics.
func (s *SQLiteStore) Stats() map[string]any {
	var sessCount, msgCount, tokenCount int

	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)
	_ = s.db.QueryRow(`SELECT COALESCE(SUM(token_count), 0) FROM messages`).Scan(&tokenCount)

	return map[string]any{
		"sessions":     sessCount,
		"messages":     msgCount,
		"total_tokens": tokenCount,
		"max_per_conv": s.maxMessages,
		"storage":      "sqlite",
	}
}

// ToolCallStats returns aggregate tool usage statistics.
func (s *SQLiteStore) ToolCallStats() map[string]any {
	stats := make(map[string]any)

	var total int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM tool_calls`).Scan(&total)
	stats["total_calls"] = total

	byTool := make(map[string]int)
	rows, err := s.db.Query(`SELECT tool_name, COUNT(*) FROM tool_calls GROUP BY tool_name`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var name string
			var count int
			if err := rows.Scan(&name, &count); err != nil {
				continue
			}
			byTool[name] = count
		}
	}
	stats["by_tool"] = byTool

	var errors int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM tool_calls WHERE error IS NOT NULL AND error != ''`).Scan(&errors)
	if total > 0 {
		stats["error_rate"] = float64(errors) / float64(total)
	} else {
		stats["error_rate"] = 0.0
	}

	return stats
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
