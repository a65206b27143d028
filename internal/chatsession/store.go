package chatsession

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session or message lookup fails.
var ErrNotFound = errors.New("chatsession: not found")

// Store is the chat-session persistence contract, implemented by MemoryStore
// (tests, dev mode) and SQLiteStore (production).
type Store interface {
	// GetOrCreate implements spec.md §4.E's get_or_create algorithm:
	// reuse an active row (resetting it first if the configured policy
	// demands), else reactivate the most recent inactive row, else insert
	// a new one.
	GetOrCreate(ctx context.Context, channelType, channelID, platformChatID, scope, agentID string, reset ResetConfig) (*Session, error)

	// CreateGatewaySession always creates a fresh row with a distinct
	// platform_chat_id, for HTTP gateways where every call is a new
	// session.
	CreateGatewaySession(ctx context.Context, channelType, channelID, scope string) (*Session, error)

	GetMessagesForCompaction(ctx context.Context, sessionID string, keepRecent int) ([]*Message, error)
	DeleteCompactedMessages(ctx context.Context, sessionID string, keepRecent int) error
	SetSessionCompaction(ctx context.Context, sessionID, memoryID string) error

	// Deactivate marks sessionID inactive and deletes the messages it
	// owns. It does not touch agent context or sub-agent records.
	Deactivate(ctx context.Context, sessionID string) error

	AppendMessage(ctx context.Context, sessionID string, msg *Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*Message, error)
}
