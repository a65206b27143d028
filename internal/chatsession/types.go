// Package chatsession implements the chat-session store: get-or-create with
// reset-policy evaluation, gateway sessions, and compaction hooks.
//
// Grounded on the teacher's internal/sessions.Store/MemoryStore split
// (clone-on-read/clone-on-write discipline from internal/sessions/memory.go)
// and spec.md §4.E.
package chatsession

import "time"

// ResetPolicy governs when an inactive session's history is discarded in
// favor of a fresh row on the next get_or_create (spec.md §4.E).
type ResetPolicy string

const (
	ResetDaily  ResetPolicy = "daily"
	ResetIdle   ResetPolicy = "idle"
	ResetManual ResetPolicy = "manual"
	ResetNever  ResetPolicy = "never"
)

// CompletionStatus tracks a session row's lifecycle independent of Active,
// so a deactivated row can be reactivated rather than always recreated.
type CompletionStatus string

const (
	StatusActive   CompletionStatus = "active"
	StatusInactive CompletionStatus = "inactive"
)

// Session is one chat-session row.
type Session struct {
	ID               string
	ChannelType      string
	ChannelID        string
	PlatformChatID   string
	Scope            string
	AgentID          string
	Active           bool
	CompletionStatus CompletionStatus
	CompactionMemoryID string

	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// sessionKey is the lookup key for an active session: everything that
// identifies "the same conversation" independent of reset history.
func sessionKey(channelType, channelID, scope, agentID string) string {
	return channelType + "|" + channelID + "|" + scope + "|" + agentID
}

// Message is one persisted chat-session message.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ResetConfig parameterizes reset-policy evaluation for a session.
type ResetConfig struct {
	Policy             ResetPolicy
	DailyResetHour     int
	IdleTimeoutMinutes int
}

// shouldReset implements spec.md §4.E's reset-policy table.
func shouldReset(cfg ResetConfig, lastActivity, now time.Time) bool {
	switch cfg.Policy {
	case ResetDaily:
		lastDate := lastActivity.UTC().Truncate(24 * time.Hour)
		nowDate := now.UTC().Truncate(24 * time.Hour)
		return nowDate.After(lastDate) && now.UTC().Hour() >= cfg.DailyResetHour
	case ResetIdle:
		return now.Sub(lastActivity) > time.Duration(cfg.IdleTimeoutMinutes)*time.Minute
	case ResetManual, ResetNever:
		return false
	default:
		return false
	}
}
