package chatsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxMessagesPerSession bounds in-memory message growth, mirroring the
// teacher's internal/sessions/memory.go trim-to-limit discipline.
const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store for tests and for runs with no database
// URL configured,
// grounded on the teacher's internal/sessions/memory.go clone-on-read/
// clone-on-write discipline (every getter returns a copy; every mutation
// copies on write so callers can't corrupt shared state through aliasing).
type MemoryStore struct {
	mu sync.Mutex

	sessions map[string]*Session // id -> session
	byKey    map[string]string   // session key -> active session id
	messages map[string][]*Message

	// Clock overrides time.Now, for deterministic reset-key suffixes and
	// idle/daily-reset evaluation in tests (teacher's WithNow pattern from
	// internal/cron).
	Clock func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byKey:    make(map[string]string),
		messages: make(map[string][]*Message),
		Clock:    time.Now,
	}
}

func (m *MemoryStore) now() time.Time { return m.Clock() }

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

func cloneMessage(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	return &clone
}

// GetOrCreate implements spec.md §4.E.
func (m *MemoryStore) GetOrCreate(ctx context.Context, channelType, channelID, platformChatID, scope, agentID string, reset ResetConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(channelType, channelID, scope, agentID)
	now := m.now()

	if id, ok := m.byKey[key]; ok {
		if s, ok := m.sessions[id]; ok && s.Active {
			if shouldReset(reset, s.LastActivityAt, now) {
				return m.resetLocked(s, channelType, channelID, scope, agentID, now), nil
			}
			s.LastActivityAt = now
			s.UpdatedAt = now
			return cloneSession(s), nil
		}
	}

	// No active row: try to reactivate the most recent inactive row for
	// this key.
	var mostRecent *Session
	for _, s := range m.sessions {
		if s.ChannelType == channelType && s.ChannelID == channelID && s.Scope == scope && s.AgentID == agentID && !s.Active {
			if mostRecent == nil || s.UpdatedAt.After(mostRecent.UpdatedAt) {
				mostRecent = s
			}
		}
	}
	if mostRecent != nil {
		mostRecent.Active = true
		mostRecent.CompletionStatus = StatusActive
		mostRecent.LastActivityAt = now
		mostRecent.UpdatedAt = now
		m.byKey[key] = mostRecent.ID
		return cloneSession(mostRecent), nil
	}

	s := &Session{
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
	m.sessions[s.ID] = s
	m.byKey[key] = s.ID
	return cloneSession(s), nil
}

func (m *MemoryStore) resetLocked(old *Session, channelType, channelID, scope, agentID string, now time.Time) *Session {
	old.Active = false
	old.CompletionStatus = StatusInactive
	old.UpdatedAt = now
	delete(m.messages, old.ID)

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
	m.sessions[fresh.ID] = fresh
	m.byKey[sessionKey(channelType, channelID, scope, agentID)] = fresh.ID
	return cloneSession(fresh)
}

// CreateGatewaySession always inserts a fresh, distinct row.
func (m *MemoryStore) CreateGatewaySession(ctx context.Context, channelType, channelID, scope string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &Session{
		ID:               uuid.NewString(),
		ChannelType:      channelType,
		ChannelID:        channelID,
		PlatformChatID:   fmt.Sprintf("gateway-%d", now.UnixMilli()),
		Scope:            scope,
		Active:           true,
		CompletionStatus: StatusActive,
		LastActivityAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.sessions[s.ID] = s
	return cloneSession(s), nil
}

// Deactivate cascades to the session's in-memory message log.
func (m *MemoryStore) Deactivate(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	s.CompletionStatus = StatusInactive
	s.UpdatedAt = m.now()
	delete(m.messages, sessionID)
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now()
	}
	clone.SessionID = sessionID
	m.messages[sessionID] = append(m.messages[sessionID], clone)

	if len(m.messages[sessionID]) > maxMessagesPerSession {
		excess := len(m.messages[sessionID]) - maxMessagesPerSession
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]*Message, 0, len(msgs)-start)
	for _, msg := range msgs[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) GetMessagesForCompaction(ctx context.Context, sessionID string, keepRecent int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	if len(msgs) <= keepRecent {
		return nil, nil
	}
	cutoff := len(msgs) - keepRecent
	out := make([]*Message, 0, cutoff)
	for _, msg := range msgs[:cutoff] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) DeleteCompactedMessages(ctx context.Context, sessionID string, keepRecent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	if len(msgs) <= keepRecent {
		return nil
	}
	cutoff := len(msgs) - keepRecent
	m.messages[sessionID] = append([]*Message{}, msgs[cutoff:]...)
	return nil
}

func (m *MemoryStore) SetSessionCompaction(ctx context.Context, sessionID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.CompactionMemoryID = memoryID
	s.UpdatedAt = m.now()
	return nil
}
