// Package tooldispatch holds the typed tool catalog and the dispatcher that
// validates, times out, and executes tool calls, emitting call/result
// events around every invocation. Grounded on the teacher's
// internal/agent/tool_registry.go and tool_exec.go.
package tooldispatch

import (
	"context"
	"encoding/json"

	"github.com/starkrun/agentcore/internal/toolctx"
)

// SafetyLevel advises safe-mode filtering (spec.md §4.B).
type SafetyLevel string

const (
	SafetyReadOnly    SafetyLevel = "read_only"
	SafetyStandard    SafetyLevel = "standard"
	SafetyDestructive SafetyLevel = "destructive"
)

// PropertySchema describes one property of a tool's input schema.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *PropertySchema `json:"items,omitempty"`
}

// InputSchema is a typed JSON-Schema-shaped description of a tool's
// arguments.
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// Definition is the static description of a tool.
type Definition struct {
	Name        string
	Description string
	InputSchema InputSchema
	Group       string
	Hidden      bool
}

// Result is the outcome of a tool invocation.
type Result struct {
	Success  bool
	Content  string
	Metadata map[string]any
}

// ErrorResult builds a failure Result with a human-readable message.
func ErrorResult(message string) Result {
	return Result{Success: false, Content: message}
}

// TaskFullyCompleted reports whether this result's metadata carries the
// task_fully_completed terminal signal (spec.md §3 Tool Result).
func (r Result) TaskFullyCompleted() bool {
	v, ok := r.Metadata["task_fully_completed"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Tool is the dispatch point every tool implements. Implementers vary
// wildly in internal state but share this uniform surface (spec.md §9
// "Dynamic dispatch").
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args json.RawMessage, tc *toolctx.Context) Result
}

// SafetyAware is an optional capability a Tool may additionally implement
// to advise the dispatcher's safe-mode filter.
type SafetyAware interface {
	SafetyLevel() SafetyLevel
}

func safetyLevelOf(t Tool) SafetyLevel {
	if sa, ok := t.(SafetyAware); ok {
		return sa.SafetyLevel()
	}
	return SafetyStandard
}
