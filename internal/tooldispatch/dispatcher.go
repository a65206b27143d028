package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/starkrun/agentcore/internal/specialrole"
	"github.com/starkrun/agentcore/internal/toolctx"
)

// DefaultTimeout is the per-call execution cap applied when a tool doesn't
// configure its own (spec.md §4.B: "a 60 s default cap").
const DefaultTimeout = 60 * time.Second

// Registry holds the catalog of tools known to the process.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	timeouts map[string]time.Duration
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		timeouts: make(map[string]time.Duration),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its input schema for validation at
// dispatch time. A compile failure is a programmer error (bad schema
// literal) and panics at registration, never at call time.
func (r *Registry) Register(t Tool) {
	def := t.Definition()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = t

	raw, err := json.Marshal(def.InputSchema)
	if err != nil {
		panic(fmt.Sprintf("tooldispatch: marshal schema for %q: %v", def.Name, err))
	}
	compiled, err := jsonschema.CompileString(def.Name, string(raw))
	if err != nil {
		panic(fmt.Sprintf("tooldispatch: compile schema for %q: %v", def.Name, err))
	}
	r.schemas[def.Name] = compiled
}

// SetTimeout overrides the default per-call timeout for a registered tool.
func (r *Registry) SetTimeout(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts[name] = d
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool's definition, optionally filtered to
// safe-mode (ReadOnly + caller's resolved special-role allowlist).
func (r *Registry) List(safeMode bool, allowedTools map[string]struct{}) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.tools))
	for name, t := range r.tools {
		def := t.Definition()
		if def.Hidden {
			continue
		}
		if safeMode {
			_, allowlisted := allowedTools[name]
			if safetyLevelOf(t) != SafetyReadOnly && !allowlisted {
				continue
			}
		}
		out = append(out, def)
	}
	return out
}

// FilterForRoles resolves the tool-name allowlist for a set of special
// roles, for use with List's safeMode filter.
func FilterForRoles(roles []*specialrole.Role) map[string]struct{} {
	return specialrole.AllowedToolSet(roles)
}

// Dispatcher executes tool calls against a Registry, applying schema
// validation, timeouts, panic recovery, and call/result event emission.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Call executes the named tool with args against tc. Unknown tools return a
// synthetic error result rather than an error value, matching spec.md §4.B
// ("Tool lookup failure returns a synthetic ToolResult::error").
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage, tc *toolctx.Context) Result {
	d.emitEvent(tc, "tool.call", map[string]any{
		"tool_name":  name,
		"channel_id": tc.ChannelID,
	})

	start := time.Now()
	result := d.execute(ctx, name, args, tc)
	duration := time.Since(start)

	d.emitEvent(tc, "tool.result", map[string]any{
		"tool_name":   name,
		"success":     result.Success,
		"duration_ms": duration.Milliseconds(),
		"content":     result.Content,
		"channel_id":  tc.ChannelID,
	})

	return result
}

func (d *Dispatcher) execute(ctx context.Context, name string, args json.RawMessage, tc *toolctx.Context) Result {
	d.registry.mu.RLock()
	tool, ok := d.registry.tools[name]
	schema := d.registry.schemas[name]
	timeout, hasTimeout := d.registry.timeouts[name]
	d.registry.mu.RUnlock()

	if !ok {
		return ErrorResult("unknown tool: " + name)
	}

	if schema != nil {
		var parsed any
		if len(args) == 0 {
			parsed = map[string]any{}
		} else if err := json.Unmarshal(args, &parsed); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
		if err := schema.Validate(parsed); err != nil {
			return ErrorResult(fmt.Sprintf("arguments for %s failed validation: %v", name, err))
		}
	}

	if !hasTimeout {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return d.runGuarded(callCtx, tool, args, tc)
}

// runGuarded executes the tool, converting a panic into an error result
// (spec.md §4.B: "Panics inside a tool are caught and converted to error
// results; they never propagate").
func (d *Dispatcher) runGuarded(ctx context.Context, tool Tool, args json.RawMessage, tc *toolctx.Context) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("tool panicked", "tool", tool.Definition().Name, "panic", rec)
			result = ErrorResult(fmt.Sprintf("tool %q panicked: %v", tool.Definition().Name, rec))
		}
	}()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("tool panicked", "tool", tool.Definition().Name, "panic", rec)
				done <- ErrorResult(fmt.Sprintf("tool %q panicked: %v", tool.Definition().Name, rec))
			}
		}()
		done <- tool.Execute(ctx, args, tc)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return ErrorResult(fmt.Sprintf("tool %q timed out", tool.Definition().Name))
	}
}

func (d *Dispatcher) emitEvent(tc *toolctx.Context, event string, data map[string]any) {
	if tc == nil || tc.Broadcaster == nil {
		return
	}
	tc.Broadcaster.Broadcast(event, data)
}
