package orchestrator

import "github.com/starkrun/agentcore/internal/taskqueue"

// Mode is the orchestrator's top-level operating mode for a session.
type Mode string

const (
	// ModeTaskPlanner decomposes the original request into a task queue.
	ModeTaskPlanner Mode = "task_planner"
	// ModeAssistant executes tasks, one tool-calling turn at a time.
	ModeAssistant Mode = "assistant"
)

// MaxIterations is the per-turn iteration cap (spec.md §3: "mode_iterations
// ≤ MAX_ITERATIONS (100)").
const MaxIterations = 100

// MaxNoToolWarnings is the number of consecutive no-tool-call warnings the
// orchestrator will emit before letting a response through unmodified.
const MaxNoToolWarnings = 5

// ActiveSkill tracks a loaded skill and how many tool calls have been made
// while it is active.
type ActiveSkill struct {
	Name          string
	Instructions  string
	ToolCallsMade int
}

// Context is the orchestrator state that lives alongside a chat session.
type Context struct {
	OriginalRequest string
	Mode            Mode
	PlannerCompleted bool
	Subtype          string // empty means "no subtype selected"
	ActiveSkillPtr   *ActiveSkill
	TaskQueue        *taskqueue.Queue

	ModeIterations  int
	TotalIterations int
	ActualToolCalls int
	NoToolWarnings  int

	ExplorationNotes []string
	Scratchpad       string

	WaitingForUserContext string // empty means "not waiting"
	IsHookSession         bool
	SelectedNetwork       string
}

// NewContext returns a zero-value Context for a new original request,
// defaulting to TaskPlanner mode with the lowest-sort-order enabled subtype.
func NewContext(originalRequest string) *Context {
	return &Context{
		OriginalRequest: originalRequest,
		Mode:            ModeTaskPlanner,
		Subtype:         DefaultSubtypeKey(),
		TaskQueue:       taskqueue.New(),
	}
}

// ModeTransition describes a requested change of orchestrator mode. Reserved
// for future forced-transition handling; see CheckForcedTransition.
type ModeTransition struct {
	To     Mode
	Reason string
}
