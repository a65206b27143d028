package llmclient

import (
	"encoding/json"
	"testing"

	"github.com/starkrun/agentcore/internal/agentloop"
)

func TestConvertMessagesSeparatesSystemFromTurns(t *testing.T) {
	system, msgs, err := convertMessages([]agentloop.Message{
		{Role: agentloop.RoleSystem, Content: "be helpful"},
		{Role: agentloop.RoleUser, Content: "hello"},
		{Role: agentloop.RoleAssistant, Content: "hi there"},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if system != "be helpful" {
		t.Fatalf("expected system prompt extracted, got %q", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 non-system messages, got %d", len(msgs))
	}
}

func TestConvertMessagesMergesMultipleSystemEntries(t *testing.T) {
	system, _, err := convertMessages([]agentloop.Message{
		{Role: agentloop.RoleSystem, Content: "part one"},
		{Role: agentloop.RoleSystem, Content: "part two"},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if system != "part one\n\npart two" {
		t.Fatalf("expected system segments joined with a blank line, got %q", system)
	}
}

func TestConvertMessagesAssistantToolCallWithInvalidArgsErrors(t *testing.T) {
	_, _, err := convertMessages([]agentloop.Message{
		{
			Role: agentloop.RoleAssistant,
			ToolCalls: []agentloop.ToolCall{
				{ID: "call-1", Name: "read_file", Args: json.RawMessage(`not json`)},
			},
		},
	})
	if err == nil {
		t.Fatal("expected an error converting malformed tool-call args")
	}
}

func TestConvertMessagesToolRoleProducesOneMessage(t *testing.T) {
	_, msgs, err := convertMessages([]agentloop.Message{
		{Role: agentloop.RoleTool, ToolCallID: "call-1", Content: "file contents"},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message for a tool-result turn, got %d", len(msgs))
	}
}

func TestConvertToolsCarriesSchemaProperties(t *testing.T) {
	tools := convertTools([]agentloop.ToolDefinition{
		{
			Name:        "read_file",
			Description: "reads a file",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		},
	})
	if len(tools) != 1 {
		t.Fatalf("expected 1 converted tool, got %d", len(tools))
	}
	if tools[0].OfTool == nil || tools[0].OfTool.Name != "read_file" {
		t.Fatalf("expected the tool name preserved, got %+v", tools[0].OfTool)
	}
}
