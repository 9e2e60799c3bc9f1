// Package tools ships the concrete tool catalog that exercises the
// iteration loop: filesystem, search, shell, archive recall, and sub-agent
// spawning. It is deliberately small; enough to run the engine end to
// end, not a product tool surface.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Registry is the concrete agent.ToolRegistry.
type Registry struct {
	tools []agent.Tool
	ctx   *agent.ToolContext
}

// NewRegistry builds the full catalog around a tool context. spawn_agent
// is only included when the context carries a SpawnFunc (main agents).
func NewRegistry(tctx *agent.ToolContext) *Registry {
	r := &Registry{ctx: tctx}
	r.tools = []agent.Tool{
		&fsRead{ctx: tctx},
		&fsWrite{ctx: tctx},
		&fsList{ctx: tctx},
		&globSearch{ctx: tctx},
		&grepSearch{ctx: tctx},
		&findDefinition{ctx: tctx},
		&codeStats{ctx: tctx},
		&shellExec{ctx: tctx},
		&archiveRecall{ctx: tctx},
	}
	if tctx.SpawnAgent != nil {
		r.tools = append(r.tools, &spawnAgent{ctx: tctx})
	}
	return r
}

// GetDefinitions implements agent.ToolRegistry.
func (r *Registry) GetDefinitions() []agent.ToolDefinition {
	defs := make([]agent.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, agent.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Execute implements agent.ToolRegistry.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	for _, t := range r.tools {
		if t.Name() == name {
			return t.Execute(ctx, input)
		}
	}
	return nil, fmt.Errorf("%w: %s", agent.ErrToolNotFound, name)
}

// Has implements agent.ToolRegistry.
func (r *Registry) Has(name string) bool {
	for _, t := range r.tools {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// WithoutSpawn implements agent.ToolRegistry: a fresh registry for a
// child agent, with its own tool context and no spawn_agent (sub-agents
// never recurse). The loop rebinds the copied context's archive and
// identity before the child's first iteration.
func (r *Registry) WithoutSpawn() agent.ToolRegistry {
	copied := *r.ctx
	copied.SpawnAgent = nil
	return NewRegistry(&copied)
}

// Restrict implements agent.ToolRegistry.
func (r *Registry) Restrict(exclude []string) agent.ToolRegistry {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}
	out := &Registry{ctx: r.ctx}
	for _, t := range r.tools {
		if !excluded[t.Name()] {
			out.tools = append(out.tools, t)
		}
	}
	return out
}

// GetContext implements agent.ToolRegistry.
func (r *Registry) GetContext() *agent.ToolContext { return r.ctx }

func failure(err error) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: err.Error()}
}

func success(output string) *models.ToolResult {
	return &models.ToolResult{Success: true, Output: output}
}
