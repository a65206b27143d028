package chatsession

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, avoids cgo
)

// SQLiteStore is the production Store, backed by a single process-wide
// connection (spec.md §5 "Chat-session SQLite access goes through a single
// process-wide mutex-protected connection"). SetMaxOpenConns(1) is the
// idiomatic Go equivalent: database/sql already serializes checkout of a
// single open connection, so no extra mutex is needed at this layer.
//
// Callers must not hold a transaction across an LLM/tool await — Go's type
// system can't enforce "must not await while holding a Tx", so this is
// documented convention rather than a compile-time guarantee.
type SQLiteStore struct {
	db    *sql.DB
	Clock func() time.Time
}

// NewSQLiteStore opens (and migrates) a SQLiteStore at path. Use ":memory:"
// for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chatsession: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, Clock: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) now() time.Time { return s.Clock() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			channel_type TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			platform_chat_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			active INTEGER NOT NULL,
			completion_status TEXT NOT NULL,
			compaction_memory_id TEXT,
			last_activity_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_sessions_key
			ON chat_sessions(channel_type, channel_id, scope, agent_id, active);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("chatsession: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, channelType, channelID, platformChatID, scope, agentID string, reset ResetConfig) (*Session, error) {
	now := s.now()

	active, err := s.activeSessionForKey(ctx, channelType, channelID, scope, agentID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if shouldReset(reset, active.LastActivityAt, now) {
			return s.resetSession(ctx, active, channelType, channelID, scope, agentID, now)
		}
		active.LastActivityAt = now
		active.UpdatedAt = now
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chat_sessions SET last_activity_at = ?, updated_at = ? WHERE id = ?`,
			now, now, active.ID); err != nil {
			return nil, fmt.Errorf("chatsession: bump last_activity_at: %w", err)
		}
		return active, nil
	}

	inactive, err := s.mostRecentInactive(ctx, channelType, channelID, scope, agentID)
	if err != nil {
		return nil, err
	}
	if inactive != nil {
		inactive.Active = true
		inactive.CompletionStatus = StatusActive
		inactive.LastActivityAt = now
		inactive.UpdatedAt = now
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chat_sessions SET active = 1, completion_status = ?, last_activity_at = ?, updated_at = ? WHERE id = ?`,
			StatusActive, now, now, inactive.ID); err != nil {
			return nil, fmt.Errorf("chatsession: reactivate session: %w", err)
		}
		return inactive, nil
	}

	return s.insertSession(ctx, channelType, channelID, platformChatID, scope, agentID, now)
}

func (s *SQLiteStore) resetSession(ctx context.Context, old *Session, channelType, channelID, scope, agentID string, now time.Time) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chatsession: begin reset tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET active = 0, completion_status = ?, updated_at = ? WHERE id = ?`,
		StatusInactive, now, old.ID); err != nil {
		return nil, fmt.Errorf("chatsession: deactivate old session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, old.ID); err != nil {
		return nil, fmt.Errorf("chatsession: clear old messages: %w", err)
	}

	fresh := &Session{
		ID:               uuid.NewString(),
		ChannelType:      channelType,
		ChannelID:        channelID,
		PlatformChatID:   fmt.Sprintf("reset-%d", now.UnixMilli()),
		Scope:            scope,
		AgentID:          agentID,
		Active:           true,
		CompletionStatus: StatusActive,
		LastActivityAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := insertSessionTx(ctx, tx, fresh); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("chatsession: commit reset tx: %w", err)
	}
	return fresh, nil
}

func (s *SQLiteStore) insertSession(ctx context.Context, channelType, channelID, platformChatID, scope, agentID string, now time.Time) (*Session, error) {
	session := &Session{
		ID:               uuid.NewString(),
		ChannelType:      channelType,
		ChannelID:        channelID,
		PlatformChatID:   platformChatID,
		Scope:            scope,
		AgentID:          agentID,
		Active:           true,
		CompletionStatus: StatusActive,
		LastActivityAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, channel_type, channel_id, platform_chat_id, scope, agent_id, active, completion_status, last_activity_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		session.ID, session.ChannelType, session.ChannelID, session.PlatformChatID, session.Scope, session.AgentID,
		session.CompletionStatus, session.LastActivityAt, session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, fmt.Errorf("chatsession: insert session: %w", err)
	}
	return session, nil
}

func insertSessionTx(ctx context.Context, tx *sql.Tx, session *Session) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, channel_type, channel_id, platform_chat_id, scope, agent_id, active, completion_status, last_activity_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		session.ID, session.ChannelType, session.ChannelID, session.PlatformChatID, session.Scope, session.AgentID,
		session.CompletionStatus, session.LastActivityAt, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("chatsession: insert session in tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) activeSessionForKey(ctx context.Context, channelType, channelID, scope, agentID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_type, channel_id, platform_chat_id, scope, agent_id, active, completion_status,
		        COALESCE(compaction_memory_id, ''), last_activity_at, created_at, updated_at
		 FROM chat_sessions
		 WHERE channel_type = ? AND channel_id = ? AND scope = ? AND agent_id = ? AND active = 1
		 LIMIT 1`,
		channelType, channelID, scope, agentID)
	return scanSession(row)
}

func (s *SQLiteStore) mostRecentInactive(ctx context.Context, channelType, channelID, scope, agentID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_type, channel_id, platform_chat_id, scope, agent_id, active, completion_status,
		        COALESCE(compaction_memory_id, ''), last_activity_at, created_at, updated_at
		 FROM chat_sessions
		 WHERE channel_type = ? AND channel_id = ? AND scope = ? AND agent_id = ? AND active = 0
		 ORDER BY updated_at DESC LIMIT 1`,
		channelType, channelID, scope, agentID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	var active int
	err := row.Scan(&s.ID, &s.ChannelType, &s.ChannelID, &s.PlatformChatID, &s.Scope, &s.AgentID,
		&active, &s.CompletionStatus, &s.CompactionMemoryID, &s.LastActivityAt, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatsession: scan session: %w", err)
	}
	s.Active = active == 1
	return &s, nil
}

func (s *SQLiteStore) CreateGatewaySession(ctx context.Context, channelType, channelID, scope string) (*Session, error) {
	now := s.now()
	return s.insertSession(ctx, channelType, channelID, fmt.Sprintf("gateway-%d", now.UnixMilli()), scope, "", now)
}

func (s *SQLiteStore) Deactivate(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chatsession: begin deactivate tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET active = 0, completion_status = ?, updated_at = ? WHERE id = ?`,
		StatusInactive, s.now(), sessionID)
	if err != nil {
		return fmt.Errorf("chatsession: deactivate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("chatsession: cascade delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, sessionID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("chatsession: append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `SELECT id, session_id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (SELECT id, session_id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?) ORDER BY created_at ASC`
		args = append(args, limit)
	}
	return s.queryMessages(ctx, query, args...)
}

func (s *SQLiteStore) GetMessagesForCompaction(ctx context.Context, sessionID string, keepRecent int) ([]*Message, error) {
	all, err := s.queryMessages(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	if len(all) <= keepRecent {
		return nil, nil
	}
	return all[:len(all)-keepRecent], nil
}

func (s *SQLiteStore) DeleteCompactedMessages(ctx context.Context, sessionID string, keepRecent int) error {
	toDrop, err := s.GetMessagesForCompaction(ctx, sessionID, keepRecent)
	if err != nil || len(toDrop) == 0 {
		return err
	}
	ids := make([]any, len(toDrop))
	placeholders := ""
	for i, m := range toDrop {
		ids[i] = m.ID
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id IN (`+placeholders+`)`, ids...)
	if err != nil {
		return fmt.Errorf("chatsession: delete compacted messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetSessionCompaction(ctx context.Context, sessionID, memoryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET compaction_memory_id = ?, updated_at = ? WHERE id = ?`,
		memoryID, s.now(), sessionID)
	if err != nil {
		return fmt.Errorf("chatsession: set session compaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chatsession: query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chatsession: scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
