// Package llmclient adapts third-party model SDKs to agentloop.LLMClient's
// single-round-trip-per-iteration shape.
//
// Grounded on the teacher's internal/agent/providers/anthropic.go
// (client construction, message/tool conversion, error classification),
// collapsed from its streaming chunk channel to one Complete call per spec.md
// §4.I, since per-event streaming to callers is the broadcaster's job.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/starkrun/agentcore/internal/agentloop"
)

// AnthropicClient implements agentloop.LLMClient against Anthropic's Messages
// API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// NewAnthropicClient builds a client from static config. MaxTokens defaults
// to 4096 when unset.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends req as one non-streaming Messages.New call and converts the
// response back into agentloop's shape.
func (c *AnthropicClient) Complete(ctx context.Context, req agentloop.CompletionRequest) (*agentloop.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	system, messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	return convertResponse(resp), nil
}

func convertMessages(messages []agentloop.Message) (string, []anthropic.MessageParam, error) {
	var system strings.Builder
	var out []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case agentloop.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case agentloop.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case agentloop.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case agentloop.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &input); err != nil {
						return "", nil, err
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}

	return system.String(), out, nil
}

func convertTools(defs []agentloop.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := d.InputSchema.(map[string]any); ok {
			schema.Properties = props["properties"]
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: schema,
			},
		})
	}
	return tools
}

func convertResponse(resp *anthropic.Message) *agentloop.CompletionResponse {
	out := &agentloop.CompletionResponse{}
	var text strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, agentloop.ToolCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: json.RawMessage(variant.Input),
			})
		}
	}
	out.Text = text.String()
	return out
}

// wrapError classifies a prompt-too-long invalid_request_error as
// agentloop.ContextTooLargeError so the driver's recovery step can act on it
// (spec.md §4.I step 3e).
func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		raw := apiErr.RawJSON()
		if strings.Contains(raw, "invalid_request_error") &&
			(strings.Contains(raw, "too long") || strings.Contains(raw, "maximum context length") || strings.Contains(raw, "prompt is too long")) {
			return &agentloop.ContextTooLargeError{Err: err}
		}
	}
	return err
}
