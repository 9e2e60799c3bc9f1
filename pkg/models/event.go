package models

import "time"

// EventType is one of the closed set of emitted events (to the onEvent
// callback). All events are enriched with AgentID and ParentAgentID.
type EventType string

const (
	EventAgentStart       EventType = "agent:start"
	EventAgentEnd         EventType = "agent:end"
	EventAgentError       EventType = "agent:error"
	EventIterationStart   EventType = "iteration:start"
	EventIterationEnd     EventType = "iteration:end"
	EventLLMStart         EventType = "llm:start"
	EventLLMEnd           EventType = "llm:end"
	EventToolStart        EventType = "tool:start"
	EventToolEnd          EventType = "tool:end"
	EventToolError        EventType = "tool:error"
	EventStatusChange     EventType = "status:change"
	EventSubtaskStart     EventType = "subtask:start"
	EventSubtaskEnd       EventType = "subtask:end"
	EventSynthesisForced  EventType = "synthesis:forced"
	EventSynthesisStart   EventType = "synthesis:start"
	EventSynthesisComplete EventType = "synthesis:complete"
)

// Event is a single emitted agent event. Start/end events are correlated by
// ToolCallID (tools) or StartedAt (iterations, llm calls, agent).
type Event struct {
	Type          EventType `json:"type"`
	Time          time.Time `json:"time"`
	AgentID       string    `json:"agent_id"`
	ParentAgentID string    `json:"parent_agent_id,omitempty"`
	Iteration     int       `json:"iteration,omitempty"`
	ToolCallID    string    `json:"tool_call_id,omitempty"`
	ToolName      string    `json:"tool_name,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	Stopped       bool      `json:"stopped,omitempty"`
	SubtaskID     string    `json:"subtask_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	Payload       any       `json:"payload,omitempty"`
}

// TraceEventType is the closed set of fire-and-forget Tracer events.
type TraceEventType string

const (
	TraceTaskStart          TraceEventType = "task:start"
	TraceTaskEnd             TraceEventType = "task:end"
	TraceIterationDetail     TraceEventType = "iteration:detail"
	TraceLLMCall             TraceEventType = "llm:call"
	TraceLLMValidation       TraceEventType = "llm:validation"
	TraceStoppingAnalysis    TraceEventType = "stopping:analysis"
	TraceToolExecution       TraceEventType = "tool:execution"
	TraceToolFilter          TraceEventType = "tool:filter"
	TraceContextSnapshot     TraceEventType = "context:snapshot"
	TraceContextDiff         TraceEventType = "context:diff"
	TraceContextTrim         TraceEventType = "context:trim"
	TraceMemorySnapshot      TraceEventType = "memory:snapshot"
	TraceSynthesisForced     TraceEventType = "synthesis:forced"
	TraceErrorCaptured       TraceEventType = "error:captured"
	TraceFactAdded           TraceEventType = "fact:added"
	TraceArchiveStore        TraceEventType = "archive:store"
	TraceSummarizationResult TraceEventType = "summarization:result"
	TraceSummarizationCall   TraceEventType = "summarization:llm_call"
)

// TraceEvent is one JSONL record written by a Tracer implementation.
// Sequence is strictly monotonic per run (ordering guarantee #2).
type TraceEvent struct {
	Sequence  uint64         `json:"sequence"`
	Type      TraceEventType `json:"type"`
	Time      time.Time      `json:"time"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}
