package agent

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func guardCall(name, args string) models.ToolCall {
	return models.ToolCall{Name: name, Input: json.RawMessage(args)}
}

func TestGuard_EmptyPattern(t *testing.T) {
	g := NewGuard("some task", 40, 2, nil)
	if rej := g.Check(guardCall("glob_search", `{"pattern":""}`)); rej == nil {
		t.Error("empty glob pattern not rejected")
	}
	if rej := g.Check(guardCall("grep_search", `{"pattern":"  "}`)); rej == nil {
		t.Error("blank grep pattern not rejected")
	}
	if rej := g.Check(guardCall("grep_search", `{"pattern":"Run"}`)); rej != nil {
		t.Errorf("valid pattern rejected: %v", rej)
	}
}

func TestGuard_SecondaryArtifactPaths(t *testing.T) {
	g := NewGuard("explain the parser", 40, 2, nil)
	tests := []struct {
		path   string
		reject bool
	}{
		{"src/parser.go", false},
		{"dist/bundle.js", false}, // no /dist/ marker without leading slash context
		{"web/dist/bundle.js", true},
		{"app.min.js", true},
		{"config.yaml.bak", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			input, _ := json.Marshal(map[string]any{"path": tt.path})
			rej := g.Check(models.ToolCall{Name: "fs_read", Input: input})
			if (rej != nil) != tt.reject {
				t.Errorf("Check(%s) rejected=%v, want %v", tt.path, rej != nil, tt.reject)
			}
		})
	}
}

func TestGuard_SecondaryArtifactAllowedWhenTaskMentionsIt(t *testing.T) {
	g := NewGuard("inspect the generated web/dist/bundle.js output", 40, 2, nil)
	input, _ := json.Marshal(map[string]any{"path": "web/dist/bundle.js"})
	if rej := g.Check(models.ToolCall{Name: "fs_read", Input: input}); rej != nil {
		t.Errorf("task-mentioned artifact rejected: %v", rej)
	}
}

func TestGuard_RepeatedSmallWindowReads(t *testing.T) {
	g := NewGuard("task", 40, 2, nil)
	small := guardCall("fs_read", `{"path":"a.go","limit":10}`)
	if rej := g.Check(small); rej != nil {
		t.Fatalf("first small read rejected: %v", rej)
	}
	if rej := g.Check(small); rej != nil {
		t.Fatalf("second small read rejected: %v", rej)
	}
	if rej := g.Check(small); rej == nil {
		t.Error("third consecutive small-window read not rejected")
	}
	// A large read resets the streak.
	if rej := g.Check(guardCall("fs_read", `{"path":"a.go","limit":200}`)); rej != nil {
		t.Fatalf("large read rejected: %v", rej)
	}
	if rej := g.Check(small); rej != nil {
		t.Errorf("small read after reset rejected: %v", rej)
	}
}

func TestGuard_SchemaValidation(t *testing.T) {
	defs := []ToolDefinition{{
		Name:       "fs_write",
		Parameters: json.RawMessage(`{"type":"object","required":["path","content"],"properties":{"path":{"type":"string"},"content":{"type":"string"}}}`),
	}}
	g := NewGuard("task", 40, 2, defs)
	if rej := g.Check(guardCall("fs_write", `{"path":"x.txt"}`)); rej == nil {
		t.Error("schema-violating input not rejected")
	}
	if rej := g.Check(guardCall("fs_write", `{"path":"x.txt","content":"hi"}`)); rej != nil {
		t.Errorf("valid input rejected: %v", rej)
	}
}

func TestGuardRejectedError_IsNotToolError(t *testing.T) {
	rej := &GuardRejectedError{ToolName: "fs_read", Reason: "empty path"}
	if IsToolError(rej) {
		t.Error("guard rejection classified as tool error")
	}
}
