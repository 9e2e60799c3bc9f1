// Package agent implements the bounded, observable, self-correcting
// iteration loop that drives an LLM to complete a single user task by
// invoking tools and synthesizing a final answer.
package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ToolChoice constrains whether/which tool the model must call.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ChatOptions configures a ChatWithTools call.
type ChatOptions struct {
	Tools       []ToolDefinition
	Temperature float64
	ToolChoice  ToolChoice
	MaxTokens   int
	Model       string
}

// Usage reports token accounting for a single completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// ChatResult is the outcome of a ChatWithTools call.
type ChatResult struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     Usage
	Model     string
}

// ToolDefinition is the JSON-schema shaped description of a tool, as handed
// to the provider for function calling.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Provider is the consumed LLM interface. Complete is used for single-shot,
// tool-free prompts (classification, search-signal assessment, background
// summarization, scope narrowing); ChatWithTools is used for every loop
// iteration and for the set_reflection / set_validation_result calls.
type Provider interface {
	Name() string
	Complete(ctx context.Context, tier models.Tier, prompt string) (string, Usage, error)
	ChatWithTools(ctx context.Context, tier models.Tier, messages []models.Message, opts ChatOptions) (*ChatResult, error)
}

// Tool is the consumed interface for a single executable tool.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error)
}

// ToolContext is the mutable, per-run capability bag handed to tools that
// need back-references (archive_recall, spawn_agent). Represented as
// interface capabilities injected at construction, never as an owning
// reference; lifetime is the run.
type ToolContext struct {
	WorkingDir      string
	SessionID       string
	AgentID         string
	Archive         *Archive
	FileChangeHook  FileChangeForwarder
	SpawnAgent      SpawnFunc
}

// FileChangeForwarder is the narrow contract into the out-of-scope
// file-change history / conflict detection subsystem: the core only
// forwards an agent id and session id into it.
type FileChangeForwarder interface {
	Forward(ctx context.Context, agentID, sessionID string) error
}

// SpawnFunc is the capability a tool context exposes to spawn a sub-agent
// on a task, optionally scoped to a subdirectory of the parent's working
// dir. Only main-agent tool contexts carry a non-nil SpawnFunc.
type SpawnFunc func(ctx context.Context, task, subDir string) (*models.TaskResult, error)

// ToolRegistry is the consumed interface for the concrete tool catalog.
type ToolRegistry interface {
	GetDefinitions() []ToolDefinition
	Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error)
	Has(name string) bool
	// GetContext returns the mutable per-run capability bag, or nil when
	// the registry carries none. The loop injects the run's archive and
	// agent id into it before the first iteration.
	GetContext() *ToolContext
	// WithoutSpawn returns a registry-shaped view that never exposes
	// spawn_agent, used to build a child's tool registry (invariant I7).
	WithoutSpawn() ToolRegistry
	// Restrict returns a view excluding the given tool names. The loop's
	// cost-aware restriction filters the advertised definitions itself and
	// does not call Restrict.
	Restrict(exclude []string) ToolRegistry
}

// LongTermMemory is the optional pluggable cross-session memory, distinct
// from the run's two-tier working memory. When wired, its context renders
// into the system prompt and the final summary is written back.
type LongTermMemory interface {
	Add(ctx context.Context, content string, metadata map[string]any) error
	GetRecent(ctx context.Context, limit int) ([]string, error)
	GetContext(ctx context.Context, query string) (string, error)
}

// SessionStore is the consumed interface for conversation-history and KPI
// persistence.
type SessionStore interface {
	GetConversationHistory(ctx context.Context, sessionID string) (ConversationHistory, error)
	GetKPIBaseline(ctx context.Context, sessionID string) (*models.KPIBaseline, error)
	UpdateKPIBaseline(ctx context.Context, sessionID string, fn func(*models.KPIBaseline)) error
	AppendMessages(ctx context.Context, sessionID string, msgs []models.Message) error
}

// ConversationHistory is the three progressively-summarized buckets a
// SessionStore returns: recent (full), mid-term (summarized), old
// (ultra-brief). The loop only consumes them in order.
type ConversationHistory struct {
	Recent  []models.Message
	MidTerm []models.Message
	Old     []models.Message
}

// Analytics is a fire-and-forget tracking sink.
type Analytics interface {
	Track(ctx context.Context, eventName string, payload map[string]any)
}

// Tracer is a fire-and-forget structured event sink.
type Tracer interface {
	Trace(ctx context.Context, event models.TraceEvent)
}

// EventSink receives emitted onEvent-callback-shaped events.
type EventSink interface {
	Emit(ctx context.Context, event models.Event)
}
