package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// fakeProvider scripts LLM behavior per call site. chatFn receives the
// 1-based ChatWithTools call index.
type fakeProvider struct {
	mu         sync.Mutex
	completeFn func(tier models.Tier, prompt string) (string, Usage, error)
	chatFn     func(call int, messages []models.Message, opts ChatOptions) (*ChatResult, error)
	chatOpts   []ChatOptions
	calls      int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, tier models.Tier, prompt string) (string, Usage, error) {
	if f.completeFn == nil {
		return "", Usage{}, ErrNoProvider
	}
	return f.completeFn(tier, prompt)
}

func (f *fakeProvider) ChatWithTools(_ context.Context, _ models.Tier, messages []models.Message, opts ChatOptions) (*ChatResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.chatOpts = append(f.chatOpts, opts)
	f.mu.Unlock()
	return f.chatFn(call, messages, opts)
}

// classifyAs builds a completeFn answering the classifier with the given
// intent and budget and everything else with empty (forcing heuristics).
func classifyAs(intent models.Intent, budget int) func(models.Tier, string) (string, Usage, error) {
	return func(_ models.Tier, prompt string) (string, Usage, error) {
		if len(prompt) >= 8 && prompt[:8] == "Classify" {
			out, _ := json.Marshal(Classification{Intent: intent, Budget: budget})
			return string(out), Usage{}, nil
		}
		return "", Usage{}, nil
	}
}

// toolCall builds a models.ToolCall from name and an args literal.
func toolCall(id, name string, args map[string]any) models.ToolCall {
	input, _ := json.Marshal(args)
	return models.ToolCall{ID: id, Name: name, Input: input}
}

// fakeRegistry dispatches to scripted tool funcs.
type fakeRegistry struct {
	tools map[string]func(input json.RawMessage) *models.ToolResult
	defs  []ToolDefinition
}

func newFakeRegistry(names ...string) *fakeRegistry {
	r := &fakeRegistry{tools: make(map[string]func(json.RawMessage) *models.ToolResult)}
	for _, name := range names {
		r.defs = append(r.defs, ToolDefinition{
			Name:       name,
			Parameters: json.RawMessage(`{"type":"object"}`),
		})
		r.tools[name] = func(json.RawMessage) *models.ToolResult {
			return &models.ToolResult{Success: true, Output: ""}
		}
	}
	return r
}

func (r *fakeRegistry) with(name string, fn func(json.RawMessage) *models.ToolResult) *fakeRegistry {
	r.tools[name] = fn
	return r
}

func (r *fakeRegistry) GetDefinitions() []ToolDefinition { return r.defs }

func (r *fakeRegistry) GetContext() *ToolContext { return nil }

func (r *fakeRegistry) Execute(_ context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	fn, ok := r.tools[name]
	if !ok {
		return nil, ErrToolNotFound
	}
	return fn(input), nil
}

func (r *fakeRegistry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *fakeRegistry) WithoutSpawn() ToolRegistry { return r.restrict([]string{"spawn_agent"}) }

func (r *fakeRegistry) Restrict(exclude []string) ToolRegistry { return r.restrict(exclude) }

func (r *fakeRegistry) restrict(exclude []string) *fakeRegistry {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}
	out := &fakeRegistry{tools: make(map[string]func(json.RawMessage) *models.ToolResult)}
	for _, def := range r.defs {
		if excluded[def.Name] {
			continue
		}
		out.defs = append(out.defs, def)
		out.tools[def.Name] = r.tools[def.Name]
	}
	return out
}

// recordingTracer captures trace events for assertions.
type recordingTracer struct {
	mu     sync.Mutex
	events []models.TraceEvent
}

func (t *recordingTracer) Trace(_ context.Context, event models.TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *recordingTracer) byType(typ models.TraceEventType) []models.TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.TraceEvent
	for _, e := range t.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// recordingSink captures emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Emit(_ context.Context, event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) byType(typ models.EventType) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// recordingAnalytics captures Track calls.
type recordingAnalytics struct {
	mu     sync.Mutex
	events []struct {
		Name    string
		Payload map[string]any
	}
}

func (a *recordingAnalytics) Track(_ context.Context, name string, payload map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, struct {
		Name    string
		Payload map[string]any
	}{name, payload})
}

// fakeStore is an in-memory SessionStore for tests.
type fakeStore struct {
	mu       sync.Mutex
	baseline *models.KPIBaseline
	messages []models.Message
}

func (s *fakeStore) GetConversationHistory(context.Context, string) (ConversationHistory, error) {
	return ConversationHistory{}, nil
}

func (s *fakeStore) GetKPIBaseline(context.Context, string) (*models.KPIBaseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline, nil
}

func (s *fakeStore) UpdateKPIBaseline(_ context.Context, _ string, fn func(*models.KPIBaseline)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline == nil {
		s.baseline = &models.KPIBaseline{}
	}
	fn(s.baseline)
	return nil
}

func (s *fakeStore) AppendMessages(_ context.Context, _ string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	return nil
}
