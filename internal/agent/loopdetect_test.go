package agent

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func call(name, args string) models.ToolCall {
	return models.ToolCall{Name: name, Input: json.RawMessage(args)}
}

func TestLoopDetector_NeverFiresBeforeThree(t *testing.T) {
	d := NewLoopDetector()
	if d.Record([]models.ToolCall{call("grep_search", `{"pattern":"X"}`)}) {
		t.Error("fired at iteration 1")
	}
	if d.Record([]models.ToolCall{call("grep_search", `{"pattern":"X"}`)}) {
		t.Error("fired at iteration 2")
	}
	if !d.Record([]models.ToolCall{call("grep_search", `{"pattern":"X"}`)}) {
		t.Error("did not fire at iteration 3 with identical signatures")
	}
}

func TestLoopDetector_DifferentArgsNoLoop(t *testing.T) {
	d := NewLoopDetector()
	d.Record([]models.ToolCall{call("grep_search", `{"pattern":"A"}`)})
	d.Record([]models.ToolCall{call("grep_search", `{"pattern":"B"}`)})
	if d.Record([]models.ToolCall{call("grep_search", `{"pattern":"C"}`)}) {
		t.Error("fired on varying arguments")
	}
}

func TestLoopDetector_EmptyIterationsNoLoop(t *testing.T) {
	d := NewLoopDetector()
	for i := 0; i < 5; i++ {
		if d.Record(nil) {
			t.Fatal("fired on tool-free iterations")
		}
	}
}

func TestSignature_OrderIndependent(t *testing.T) {
	a := Signature([]models.ToolCall{call("a", `{}`), call("b", `{}`)})
	b := Signature([]models.ToolCall{call("b", `{}`), call("a", `{}`)})
	if a != b {
		t.Errorf("signatures differ on call order: %q vs %q", a, b)
	}
}
