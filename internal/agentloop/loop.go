package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/starkrun/agentcore/internal/chatsession"
	"github.com/starkrun/agentcore/internal/orchestrator"
	"github.com/starkrun/agentcore/internal/tooldispatch"
	"github.com/starkrun/agentcore/internal/toolctx"
)

// Driver is the per-turn agent loop: the component that alternates LLM
// calls and tool dispatch until a terminal condition, grounded on the
// teacher's internal/agent.AgenticLoop but collapsed to spec.md §4.I's
// non-streaming five-step algorithm.
type Driver struct {
	LLM        LLMClient
	Dispatcher *tooldispatch.Dispatcher
	Sessions   chatsession.Store
	Logger     *slog.Logger

	// MaxIterations overrides orchestrator.MaxIterations for tests; zero
	// means use the orchestrator's default cap.
	MaxIterations int
}

// New creates a Driver wired to an LLM client, tool dispatcher, and session
// store.
func New(llm LLMClient, dispatcher *tooldispatch.Dispatcher, sessions chatsession.Store, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{LLM: llm, Dispatcher: dispatcher, Sessions: sessions, Logger: logger}
}

// TurnRequest bundles everything one call to RunTurn needs. ToolContext is
// built by the caller (the process already owns the broadcaster, tx queue,
// subagent manager, and wallet as long-lived singletons; the loop itself
// only needs to read them off tc, not construct them) and reused unchanged
// across every tool call within the turn (spec.md §3: "constructed once per
// turn and reused across tool calls within that turn").
type TurnRequest struct {
	Session      *chatsession.Session
	Orchestrator *orchestrator.Orchestrator
	ToolContext  *toolctx.Context

	Model        string
	SystemPrompt string
	Tools        []tooldispatch.Definition
	UserText     string

	// HistoryLimit bounds how many prior session messages are pulled into
	// the message list; 0 means unlimited.
	HistoryLimit int
}

// TurnResult is what RunTurn produces: the text to send back to the
// channel and the session's completion status after this turn.
type TurnResult struct {
	FinalResponse    string
	CompletionStatus chatsession.CompletionStatus
}

func defToolDefinition(d tooldispatch.Definition) ToolDefinition {
	return ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
}

// RunTurn executes spec.md §4.I's per-turn algorithm.
func (d *Driver) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	// Step 1: load/create session; append user message; reset turn counters.
	if err := d.Sessions.AppendMessage(ctx, req.Session.ID, &chatsession.Message{
		Role:    string(RoleUser),
		Content: req.UserText,
	}); err != nil {
		return nil, fmt.Errorf("agentloop: append user message: %w", err)
	}
	req.Orchestrator.ResetTurnCounters()

	history, err := d.Sessions.GetHistory(ctx, req.Session.ID, req.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("agentloop: load history: %w", err)
	}

	toolDefs := make([]ToolDefinition, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolDefs = append(toolDefs, defToolDefinition(t))
	}

	iterationCap := orchestrator.MaxIterations
	if d.MaxIterations > 0 {
		iterationCap = d.MaxIterations
	}

	var toolHistory []Message
	var finalResponse string
	contextOverflowRetries := 0

	for i := 0; i < iterationCap; i++ {
		req.Orchestrator.RecordIteration()

		messages := buildMessages(req.SystemPrompt, history, toolHistory)
		resp, err := d.LLM.Complete(ctx, CompletionRequest{Model: req.Model, Messages: messages, Tools: toolDefs})
		if err != nil {
			if IsContextTooLarge(err) && contextOverflowRetries < MaxContextOverflowRetries {
				contextOverflowRetries++
				d.Logger.Warn("context overflow recovery", "retry", contextOverflowRetries)
				toolHistory = []Message{{Role: RoleTool, Content: ContextOverflowMarker}}
				continue
			}
			return nil, fmt.Errorf("agentloop: llm completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			if warning, _, ok := req.Orchestrator.CheckToolCallRequired(); ok {
				toolHistory = append(toolHistory, Message{Role: RoleTool, Content: warning})
				continue
			}
			finalResponse = resp.Text
			break
		}

		taskDone, err := d.executeToolCalls(ctx, req, resp.ToolCalls, &toolHistory)
		if err != nil {
			return nil, err
		}
		if taskDone != "" {
			finalResponse = taskDone
			break
		}
	}

	// Step 4: fallback when the loop exhausted its budget without a
	// response.
	if finalResponse == "" {
		finalResponse = NoResponseFallback
	}

	// Step 5: persist the assistant message. The completion status is
	// returned in the TurnResult only; it is not written to the store.
	if err := d.Sessions.AppendMessage(ctx, req.Session.ID, &chatsession.Message{
		Role:    string(RoleAssistant),
		Content: finalResponse,
	}); err != nil {
		return nil, fmt.Errorf("agentloop: append assistant message: %w", err)
	}

	return &TurnResult{FinalResponse: finalResponse, CompletionStatus: chatsession.StatusActive}, nil
}

// executeToolCalls runs every requested tool call through the dispatcher,
// appends the assistant/tool-response pair to toolHistory, completes the
// current task on an auto_complete_tool match, and returns a non-empty
// summary the instant any call reports task_fully_completed (spec.md §4.I
// step 3d).
func (d *Driver) executeToolCalls(ctx context.Context, req TurnRequest, calls []ToolCall, toolHistory *[]Message) (string, error) {
	assistantMsg := Message{Role: RoleAssistant, ToolCalls: calls}
	responses := make([]Message, 0, len(calls))

	for _, call := range calls {
		var args json.RawMessage = call.Args
		if args == nil {
			args = json.RawMessage("{}")
		}
		result := d.Dispatcher.Call(ctx, call.Name, args, req.ToolContext)
		req.Orchestrator.RecordToolCall(call.Name)

		responses = append(responses, Message{Role: RoleTool, ToolCallID: call.ID, Content: result.Content})

		if current := req.Orchestrator.Context().TaskQueue.CurrentTask(); current != nil &&
			current.AutoCompleteTool == call.Name && result.Success {
			req.Orchestrator.CompleteCurrentTask()
		}

		if result.TaskFullyCompleted() {
			summary := result.Content
			if s, ok := result.Metadata["summary"].(string); ok && s != "" {
				summary = s
			}
			*toolHistory = append(*toolHistory, assistantMsg)
			*toolHistory = append(*toolHistory, responses...)
			return summary, nil
		}
	}

	*toolHistory = append(*toolHistory, assistantMsg)
	*toolHistory = append(*toolHistory, responses...)
	return "", nil
}

func buildMessages(systemPrompt string, history []*chatsession.Message, toolHistory []Message) []Message {
	out := make([]Message, 0, len(history)+len(toolHistory)+1)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		out = append(out, Message{Role: Role(m.Role), Content: m.Content})
	}
	out = append(out, toolHistory...)
	return out
}
