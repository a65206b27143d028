// Package orchestrator tracks the per-session agent state the agent loop
// drives each turn: mode, subtype, active skill, task queue, per-turn
// counters, and the no-tool-call loop guard. Grounded on
// original_source/stark-backend/src/ai/multi_agent/orchestrator.rs.
package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/starkrun/agentcore/internal/taskqueue"
)

// Orchestrator manages one session's agent context across turns.
type Orchestrator struct {
	context *Context
	logger  *slog.Logger
}

// New creates an orchestrator for a fresh request, starting in TaskPlanner
// mode with the default subtype.
func New(originalRequest string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{context: NewContext(originalRequest), logger: logger}
}

// FromContext resumes an orchestrator from a previously persisted context.
func FromContext(ctx *Context, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx.TaskQueue == nil {
		ctx.TaskQueue = taskqueue.New()
	}
	return &Orchestrator{context: ctx, logger: logger}
}

// CurrentMode returns the orchestrator's current mode.
func (o *Orchestrator) CurrentMode() Mode { return o.context.Mode }

// Context returns the mutable agent context. Go has no borrow checker, so
// unlike the Rust original there is no separate context()/context_mut()
// split — callers mutate fields directly through the returned pointer.
func (o *Orchestrator) Context() *Context { return o.context }

// RecordToolCall records that an actual tool was invoked this turn,
// resetting the no-tool-warning counter and crediting the active skill if
// one is loaded.
func (o *Orchestrator) RecordToolCall(toolName string) {
	o.context.ActualToolCalls++
	o.context.NoToolWarnings = 0

	o.logger.Debug("tool recorded", "tool", toolName, "total", o.context.ActualToolCalls)

	if o.context.ActiveSkillPtr != nil {
		o.context.ActiveSkillPtr.ToolCallsMade++
		o.logger.Debug("skill tool call recorded",
			"tool", toolName, "skill", o.context.ActiveSkillPtr.Name,
			"skill_total", o.context.ActiveSkillPtr.ToolCallsMade)
	}
}

// ResetTurnCounters zeroes the four per-turn counters. Called at the start
// of every new user message so counters never carry over between turns.
func (o *Orchestrator) ResetTurnCounters() {
	o.context.ModeIterations = 0
	o.context.TotalIterations = 0
	o.context.ActualToolCalls = 0
	o.context.NoToolWarnings = 0
}

// ClearActiveSkill unloads the active skill, if any.
func (o *Orchestrator) ClearActiveSkill() {
	if o.context.ActiveSkillPtr != nil {
		o.logger.Debug("clearing active skill",
			"skill", o.context.ActiveSkillPtr.Name,
			"tool_calls", o.context.ActiveSkillPtr.ToolCallsMade)
	}
	o.context.ActiveSkillPtr = nil
}

// CheckToolCallRequired returns a synthetic warning message and the current
// warning count when the model responded without calling any tool this
// turn. After MaxNoToolWarnings consecutive warnings it returns ok=false so
// the loop lets the response through rather than deadlocking (spec.md §4.F
// "After 5 consecutive such warnings, allow the response to pass").
func (o *Orchestrator) CheckToolCallRequired() (message string, count int, ok bool) {
	if o.context.NoToolWarnings >= MaxNoToolWarnings {
		o.logger.Error("no-tool warning cap reached; letting response through",
			"warnings", o.context.NoToolWarnings)
		return "", o.context.NoToolWarnings, false
	}

	if o.context.ActualToolCalls == 0 && o.context.ModeIterations > 0 {
		o.context.NoToolWarnings++
		o.logger.Warn("agent responded without calling a tool",
			"warning", o.context.NoToolWarnings, "cap", MaxNoToolWarnings)

		msg := fmt.Sprintf(
			"WARNING %d/%d: You MUST call a tool before responding. Do not fabricate "+
				"data or guess. Call the appropriate tool for: %s",
			o.context.NoToolWarnings, MaxNoToolWarnings, o.context.OriginalRequest,
		)
		return msg, o.context.NoToolWarnings, true
	}

	return "", o.context.NoToolWarnings, false
}

// CurrentSubtypeKey returns the active subtype key, or "" if none selected.
func (o *Orchestrator) CurrentSubtypeKey() string { return o.context.Subtype }

// SetSubtype sets the active subtype.
func (o *Orchestrator) SetSubtype(key string) { o.context.Subtype = key }

// TransitionToAssistant moves the orchestrator from TaskPlanner to
// Assistant mode. This is one-way per session (spec.md §4 state machine
// summary): it requires the planner to have completed.
func (o *Orchestrator) TransitionToAssistant() {
	o.context.Mode = ModeAssistant
	o.context.PlannerCompleted = true
}

// CheckForcedTransition reports whether the per-turn iteration cap has been
// hit. Per spec.md §9 Open Questions, it intentionally never itself
// schedules a mode transition — the agent loop is responsible for
// terminating the turn when ok is true.
func (o *Orchestrator) CheckForcedTransition() (transition ModeTransition, ok bool) {
	if o.context.ModeIterations >= MaxIterations {
		o.logger.Warn("forced completion: iteration cap reached", "cap", MaxIterations)
		return ModeTransition{}, false
	}
	return ModeTransition{}, false
}

// RecordIteration advances the per-turn iteration counters. Called once per
// agent-loop iteration (every LLM round-trip), independent of how many
// tools that round-trip invoked.
func (o *Orchestrator) RecordIteration() {
	o.context.ModeIterations++
	o.context.TotalIterations++
}

// --- Task queue proxies -----------------------------------------------

// PopNextTask pops the next pending task into in-progress state.
func (o *Orchestrator) PopNextTask() *taskqueue.Task { return o.context.TaskQueue.PopNext() }

// CompleteCurrentTask completes the in-progress task.
func (o *Orchestrator) CompleteCurrentTask() (uint32, bool) {
	return o.context.TaskQueue.CompleteCurrent()
}

// AllTasksComplete reports whether every task in the queue is complete.
func (o *Orchestrator) AllTasksComplete() bool { return o.context.TaskQueue.AllComplete() }

// TaskQueueIsEmpty reports whether no tasks have been defined yet.
func (o *Orchestrator) TaskQueueIsEmpty() bool { return o.context.TaskQueue.IsEmpty() }

// TaskQueue exposes the queue directly, e.g. for broadcasting its state.
func (o *Orchestrator) TaskQueue() *taskqueue.Queue { return o.context.TaskQueue }

// DeleteTask deletes a task by id, reporting whether it existed and whether
// it was the current task.
func (o *Orchestrator) DeleteTask(id uint32) (deleted, wasCurrent bool) {
	return o.context.TaskQueue.DeleteTask(id)
}

// GetTask looks up a task by id.
func (o *Orchestrator) GetTask(id uint32) *taskqueue.Task { return o.context.TaskQueue.GetTask(id) }

// InsertTaskFront inserts a task to run immediately after the current one.
func (o *Orchestrator) InsertTaskFront(description string) []uint32 {
	return o.context.TaskQueue.InsertAfterCurrent(description)
}

// AppendTask appends a task to the end of the queue.
func (o *Orchestrator) AppendTask(description string) []uint32 {
	return o.context.TaskQueue.Append(description)
}

// ClearWaitingForUserContext clears the waiting-for-user marker once it has
// been consumed by a prompt build.
func (o *Orchestrator) ClearWaitingForUserContext() {
	o.context.WaitingForUserContext = ""
}
