package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Broadcaster is the subset of internal/broadcaster.Broadcaster the manager
// needs to emit lifecycle events. Declared locally, the same way
// internal/toolctx declares its own Broadcaster interface, so this package
// depends on nothing but its own concerns.
type Broadcaster interface {
	Broadcast(event string, data map[string]any)
}

// Runner executes a sub-agent's task text against the inner agent loop. The
// concrete implementation (an internal/agentloop.Driver adapter) lives in
// process wiring, not here, so this package never imports agentloop,
// chatsession, orchestrator, or tooldispatch.
type Runner interface {
	RunSubTask(ctx context.Context, req SubTaskRequest) (summary string, err error)
}

// SubTaskRequest is what the Manager hands a Runner for one sub-agent
// execution.
type SubTaskRequest struct {
	SubAgentID        string
	Label             string
	Task              string
	AdditionalContext string
	ParentChannelID   string
	ModelOverride     string
	ThinkingLevel     string
	MaxIterations     int
}

var subagentCounter atomic.Uint64

// GenerateID returns a monotonically increasing, label-prefixed sub-agent
// id, matching the original's SUBAGENT_COUNTER scheme.
func GenerateID(label string) string {
	n := subagentCounter.Add(1)
	return fmt.Sprintf("subagent-%s-%d", label, n)
}

type handle struct {
	cancel chan struct{}
}

// Manager coordinates sub-agent spawning under global and per-channel
// concurrency caps.
type Manager struct {
	config      Config
	store       Store
	broadcaster Broadcaster
	runner      Runner
	logger      *slog.Logger

	totalSem chan struct{}

	channelMu  sync.Mutex
	channelSem map[string]chan struct{}

	activeMu sync.Mutex
	active   map[string]*handle
}

// New creates a Manager. broadcaster may be nil (events are then dropped).
func New(config Config, store Store, broadcaster Broadcaster, runner Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:      config,
		store:       store,
		broadcaster: broadcaster,
		runner:      runner,
		logger:      logger,
		totalSem:    make(chan struct{}, config.MaxTotalConcurrent),
		channelSem:  make(map[string]chan struct{}),
		active:      make(map[string]*handle),
	}
}

func (m *Manager) channelSemaphore(channelID string) chan struct{} {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()
	ch, ok := m.channelSem[channelID]
	if !ok {
		ch = make(chan struct{}, m.config.MaxConcurrentPerChannel)
		m.channelSem[channelID] = ch
	}
	return ch
}

func (m *Manager) emit(event string, data map[string]any) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Broadcast(event, data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Spawn creates a sub-agent context, persists its initial Pending state,
// broadcasts subagent.spawned, and launches the detached execution
// goroutine. It returns the sub-agent id immediately (spec.md §4.H steps
// 1-3).
func (m *Manager) Spawn(ctx context.Context, cfg SpawnConfig) (string, error) {
	id := GenerateID(cfg.Label)
	sa := &Context{
		ID:                id,
		ParentSessionID:   cfg.ParentSessionID,
		ParentChannelID:   cfg.ParentChannelID,
		Label:             cfg.Label,
		Task:              cfg.Task,
		AdditionalContext: cfg.AdditionalContext,
		Status:            StatusPending,
		ModelOverride:     cfg.ModelOverride,
		ThinkingLevel:     cfg.ThinkingLevel,
		TimeoutSecs:       m.config.clampTimeout(cfg.TimeoutSecs),
		ReadOnly:          cfg.ReadOnly,
		AgentSubtype:      cfg.AgentSubtype,
		ParentSubAgentID:  cfg.ParentSubAgentID,
		ParentDepth:       cfg.ParentDepth,
		StartedAt:         time.Now(),
	}

	if err := m.store.Save(ctx, sa); err != nil {
		return "", fmt.Errorf("subagent: persist initial state: %w", err)
	}

	m.emit("subagent.spawned", map[string]any{
		"channel_id":  sa.ParentChannelID,
		"subagent_id": sa.ID,
		"label":       sa.Label,
		"task":        truncate(sa.Task, 200),
	})

	cancel := make(chan struct{})
	m.activeMu.Lock()
	m.active[id] = &handle{cancel: cancel}
	m.activeMu.Unlock()

	go m.run(sa, cancel)

	return id, nil
}

func (m *Manager) run(sa *Context, cancel chan struct{}) {
	defer func() {
		m.activeMu.Lock()
		delete(m.active, sa.ID)
		m.activeMu.Unlock()
	}()

	select {
	case m.totalSem <- struct{}{}:
	case <-cancel:
		m.finish(sa, "", fmt.Errorf("cancelled"), true)
		return
	}
	defer func() { <-m.totalSem }()

	channelSem := m.channelSemaphore(sa.ParentChannelID)
	select {
	case channelSem <- struct{}{}:
	case <-cancel:
		m.finish(sa, "", fmt.Errorf("cancelled"), true)
		return
	}
	defer func() { <-channelSem }()

	sessionID := uuid.NewString()
	sa.markRunning(sessionID)
	if err := m.store.Save(context.Background(), sa); err != nil {
		m.logger.Error("subagent: persist running state", "id", sa.ID, "err", err)
	}

	runCtx, stop := context.WithTimeout(context.Background(), time.Duration(sa.TimeoutSecs)*time.Second)
	defer stop()

	resultCh := make(chan struct {
		summary string
		err     error
	}, 1)
	go func() {
		summary, err := m.runner.RunSubTask(runCtx, SubTaskRequest{
			SubAgentID:        sa.ID,
			Label:             sa.Label,
			Task:              sa.Task,
			AdditionalContext: sa.AdditionalContext,
			ParentChannelID:   sa.ParentChannelID,
			ModelOverride:     sa.ModelOverride,
			ThinkingLevel:     sa.ThinkingLevel,
			MaxIterations:     MaxIterations,
		})
		resultCh <- struct {
			summary string
			err     error
		}{summary, err}
	}()

	select {
	case res := <-resultCh:
		m.finish(sa, res.summary, res.err, false)
	case <-runCtx.Done():
		m.finish(sa, "", fmt.Errorf("timed out"), false)
	case <-cancel:
		m.finish(sa, "", fmt.Errorf("cancelled"), true)
	}
}

func (m *Manager) finish(sa *Context, summary string, err error, cancelled bool) {
	switch {
	case err == nil:
		sa.markCompleted(summary)
		m.emit("subagent.completed", map[string]any{
			"channel_id":  sa.ParentChannelID,
			"subagent_id": sa.ID,
			"label":       sa.Label,
			"result":      truncate(sa.Result, 500),
		})
	case cancelled:
		sa.markCancelled()
		m.emit("subagent.failed", map[string]any{
			"channel_id":  sa.ParentChannelID,
			"subagent_id": sa.ID,
			"label":       sa.Label,
			"error":       sa.Error,
		})
	case err.Error() == "timed out":
		sa.markTimedOut()
		m.emit("subagent.failed", map[string]any{
			"channel_id":  sa.ParentChannelID,
			"subagent_id": sa.ID,
			"label":       sa.Label,
			"error":       sa.Error,
		})
	default:
		sa.markFailed(err.Error())
		m.emit("subagent.failed", map[string]any{
			"channel_id":  sa.ParentChannelID,
			"subagent_id": sa.ID,
			"label":       sa.Label,
			"error":       sa.Error,
		})
	}
	sa.CompletedAt = time.Now()

	if saveErr := m.store.Save(context.Background(), sa); saveErr != nil {
		m.logger.Error("subagent: persist final state", "id", sa.ID, "err", saveErr)
	}
}

// Cancel sends on id's cancel channel if it's live, reporting whether a
// handle was found.
func (m *Manager) Cancel(id string) bool {
	m.activeMu.Lock()
	h, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.activeMu.Unlock()
	if !ok {
		return false
	}
	close(h.cancel)
	return true
}

// CancelAllForChannel cancels every live handle whose sub-agent belongs to
// channelID, returning the count cancelled.
func (m *Manager) CancelAllForChannel(ctx context.Context, channelID string) int {
	agents, err := m.store.ListByChannel(ctx, channelID)
	if err != nil {
		m.logger.Error("subagent: list by channel for cancel", "channel_id", channelID, "err", err)
		return 0
	}

	count := 0
	for _, sa := range agents {
		if sa.Status != StatusRunning && sa.Status != StatusPending {
			continue
		}
		if m.Cancel(sa.ID) {
			count++
		}
	}
	return count
}

// CancelAllForChannelAndWait cancels as CancelAllForChannel does, then
// sleeps d to let in-flight goroutines observe the cancel signal.
func (m *Manager) CancelAllForChannelAndWait(ctx context.Context, channelID string, d time.Duration) int {
	count := m.CancelAllForChannel(ctx, channelID)
	if count > 0 {
		time.Sleep(d)
	}
	return count
}

// ActiveCount returns the number of currently live (non-terminal) handles.
func (m *Manager) ActiveCount() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return len(m.active)
}

// ActiveCountForChannel implements internal/toolctx.SubAgentManager.
// Per spec.md §9 Open Questions, this is the documented approximation: the
// global active count, not a per-channel-accurate one, since handles aren't
// indexed by channel. The per-channel semaphore is what actually enforces
// the cap; this number is advisory only.
func (m *Manager) ActiveCountForChannel(channelID string) int {
	return m.ActiveCount()
}

// Status returns a sub-agent's current persisted state.
func (m *Manager) Status(ctx context.Context, id string) (*Context, bool, error) {
	return m.store.Get(ctx, id)
}

// ListByChannel returns every sub-agent ever spawned for channelID.
func (m *Manager) ListByChannel(ctx context.Context, channelID string) ([]*Context, error) {
	return m.store.ListByChannel(ctx, channelID)
}
