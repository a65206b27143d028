// Package subagent implements the Sub-Agent Manager: bounded-concurrency
// background agent spawning, cancellation, and persisted lifecycle.
// Grounded on
// original_source/stark-backend/src/ai/multi_agent/subagent_manager.rs
// (Semaphore/DashMap/oneshot-channel design, transliterated to Go's
// buffered-channel-as-semaphore and mutex-guarded map idiom).
package subagent

import "time"

// Status is a sub-agent's lifecycle state. Terminal statuses never
// transition (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is a final status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// Context is one sub-agent's persisted state (spec.md §3 "Sub-Agent
// Context").
type Context struct {
	ID               string
	ParentSessionID  string
	ParentChannelID  string
	SessionID        string // assigned once Running
	Label            string
	Task             string
	Status           Status
	ModelOverride    string
	ThinkingLevel    string
	TimeoutSecs      int
	AdditionalContext string
	Result           string
	Error            string
	ReadOnly         bool
	AgentSubtype     string
	ParentSubAgentID string
	ParentDepth      int

	StartedAt   time.Time
	CompletedAt time.Time // zero value means not yet terminal
}

func (c *Context) markRunning(sessionID string) {
	c.Status = StatusRunning
	c.SessionID = sessionID
}

func (c *Context) markCompleted(result string) {
	c.Status = StatusCompleted
	c.Result = result
}

func (c *Context) markFailed(err string) {
	c.Status = StatusFailed
	c.Error = err
}

func (c *Context) markTimedOut() {
	c.Status = StatusTimedOut
	c.Error = "timed out"
}

func (c *Context) markCancelled() {
	c.Status = StatusCancelled
	c.Error = "cancelled"
}

// SpawnConfig is the caller-supplied request to spawn a sub-agent.
type SpawnConfig struct {
	Label             string
	Task              string
	AdditionalContext string
	ParentSessionID   string
	ParentChannelID   string
	ModelOverride     string
	ThinkingLevel     string
	TimeoutSecs       int
	ReadOnly          bool
	AgentSubtype      string
	ParentSubAgentID  string
	ParentDepth       int
}

// Config bounds a Manager's concurrency and timeout defaults.
type Config struct {
	MaxTotalConcurrent      int
	MaxConcurrentPerChannel int
	DefaultTimeoutSecs      int
	MaxTimeoutSecs          int
}

// DefaultConfig mirrors the original's SubAgentConfig::default() shape.
func DefaultConfig() Config {
	return Config{
		MaxTotalConcurrent:      10,
		MaxConcurrentPerChannel: 3,
		DefaultTimeoutSecs:      120,
		MaxTimeoutSecs:          600,
	}
}

func (c Config) clampTimeout(requested int) int {
	if requested <= 0 {
		return c.DefaultTimeoutSecs
	}
	if requested > c.MaxTimeoutSecs {
		return c.MaxTimeoutSecs
	}
	return requested
}

// MaxIterations bounds a sub-agent's inner agent-loop turn, lower than a
// top-level turn's cap (spec.md §4.H: "bounded iterations (15)").
const MaxIterations = 15

// MaxContextOverflowRetries bounds context-overflow recovery attempts
// within a sub-agent's inner loop (spec.md §4.H).
const MaxContextOverflowRetries = 2
