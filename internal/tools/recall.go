package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const maxRecallEntries = 5

// archiveRecall reads the run's cold memory back into the conversation.
// It is the one tool holding a back-reference to the archive; the
// reference is a capability injected at construction, alive for the run.
type archiveRecall struct {
	ctx *agent.ToolContext
}

func (*archiveRecall) Name() string { return "archive_recall" }
func (*archiveRecall) Description() string {
	return "Recall full stored tool outputs from this run's archive, by file path, tool name, or keyword."
}
func (*archiveRecall) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {"type": "string"},
			"tool_name": {"type": "string"},
			"keyword":   {"type": "string"}
		}
	}`)
}

func (t *archiveRecall) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	if t.ctx.Archive == nil {
		return failure(fmt.Errorf("no archive attached to this run")), nil
	}
	var args struct {
		FilePath string `json:"file_path"`
		ToolName string `json:"tool_name"`
		Keyword  string `json:"keyword"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}

	var entries []models.ArchiveEntry
	switch {
	case args.FilePath != "":
		if entry, ok := t.ctx.Archive.RecallByFilePath(args.FilePath); ok {
			entries = []models.ArchiveEntry{entry}
		}
	case args.ToolName != "":
		entries = t.ctx.Archive.RecallByToolName(args.ToolName, maxRecallEntries)
	case args.Keyword != "":
		entries = t.ctx.Archive.Search(args.Keyword, maxRecallEntries)
	default:
		return failure(fmt.Errorf("provide one of file_path, tool_name, keyword")), nil
	}
	if len(entries) == 0 {
		return success("nothing archived matches"), nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "--- %s (iteration %d, %s) ---\n%s\n", e.ID, e.Iteration, e.ToolName, e.FullOutput)
	}
	return success(b.String()), nil
}

// spawnAgent delegates a subtask to a child agent through the SpawnFunc
// capability. Only main-agent registries include it.
type spawnAgent struct {
	ctx *agent.ToolContext
}

func (*spawnAgent) Name() string { return "spawn_agent" }
func (*spawnAgent) Description() string {
	return "Delegate a self-contained subtask to a child agent and return its result summary."
}
func (*spawnAgent) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["task"],
		"properties": {
			"task":      {"type": "string"},
			"directory": {"type": "string"}
		}
	}`)
}

func (t *spawnAgent) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	if t.ctx.SpawnAgent == nil {
		return failure(fmt.Errorf("this agent cannot spawn sub-agents")), nil
	}
	var args struct {
		Task      string `json:"task"`
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	if args.Task == "" {
		return failure(fmt.Errorf("missing required task")), nil
	}
	result, err := t.ctx.SpawnAgent(ctx, args.Task, args.Directory)
	if err != nil {
		return failure(err), nil
	}
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	return &models.ToolResult{
		Success: result.Success,
		Output:  fmt.Sprintf("sub-agent %s after %d iteration(s):\n%s", status, result.Iterations, result.Summary),
		Metadata: map[string]any{
			"iterations":  result.Iterations,
			"tokens_used": result.TokensUsed,
		},
	}, nil
}
