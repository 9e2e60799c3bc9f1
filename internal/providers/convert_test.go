package providers

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestConvertMessages_SystemSeparated(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "be helpful"},
		{Role: models.RoleUser, Content: "read main.go"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "t1", Name: "fs_read", Input: json.RawMessage(`{"path":"main.go"}`)},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "t1", Success: true, Output: "package main"},
		}},
	}
	converted, system, err := convertMessages(msgs)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if system != "be helpful" {
		t.Errorf("system = %q", system)
	}
	// System message is lifted out; the other three remain.
	if len(converted) != 3 {
		t.Errorf("converted %d messages, want 3", len(converted))
	}
}

func TestConvertMessages_InvalidToolInput(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "t1", Name: "fs_read", Input: json.RawMessage(`not json`)},
		}},
	}
	if _, _, err := convertMessages(msgs); err == nil {
		t.Error("invalid tool input did not error")
	}
}

func TestConvertOpenAIMessages_ToolResultsFanOut(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "a", Success: true, Output: "one"},
			{ToolCallID: "b", Success: false, Error: "boom"},
		}},
	}
	out := convertOpenAIMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("converted %d messages, want one per tool result", len(out))
	}
	if out[0].ToolCallID != "a" || out[1].ToolCallID != "b" {
		t.Errorf("tool call ids = %s, %s", out[0].ToolCallID, out[1].ToolCallID)
	}
	if out[1].Content != "boom" {
		t.Errorf("failed result content = %q, want the error text", out[1].Content)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := convertOpenAITools([]agent.ToolDefinition{{
		Name:        "glob_search",
		Description: "find files",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"}}}`),
	}})
	if len(tools) != 1 || tools[0].Function.Name != "glob_search" {
		t.Fatalf("tools = %+v", tools)
	}
}
