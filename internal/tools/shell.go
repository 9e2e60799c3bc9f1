package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	shellTimeout   = 2 * time.Minute
	maxShellOutput = 200_000
)

type shellExec struct {
	ctx *agent.ToolContext
}

func (*shellExec) Name() string { return "shell_exec" }
func (*shellExec) Description() string {
	return "Run a shell command in the working directory and capture combined output."
}
func (*shellExec) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command":   {"type": "string"},
			"cwd":       {"type": "string"},
			"preflight": {"type": "string"}
		}
	}`)
}

func (t *shellExec) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Command   string `json:"command"`
		Cwd       string `json:"cwd"`
		Preflight string `json:"preflight"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	if args.Command == "" {
		return failure(fmt.Errorf("missing required command")), nil
	}
	cwd := args.Cwd
	if cwd == "" {
		cwd = t.ctx.WorkingDir
	}

	cctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", args.Command)
	cmd.Dir = cwd
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()

	output := buf.String()
	if len(output) > maxShellOutput {
		output = output[:maxShellOutput] + "\n[output truncated]"
	}
	if args.Preflight != "" {
		output = args.Preflight + "\n\n" + output
	}
	if runErr != nil {
		return &models.ToolResult{
			Success: false,
			Output:  output,
			Error:   fmt.Sprintf("command failed: %v\n%s", runErr, output),
			ErrorDetails: &models.ErrorDetails{
				Code: "exit_error",
				Hint: "inspect the captured output; the command may need different arguments or a different cwd",
			},
		}, nil
	}
	if t.ctx.FileChangeHook != nil {
		_ = t.ctx.FileChangeHook.Forward(context.Background(), t.ctx.AgentID, t.ctx.SessionID)
	}
	return success(output), nil
}
