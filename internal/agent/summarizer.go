package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Summarizer is the one background task a run is allowed: every
// summarizationInterval iterations it takes a snapshot of the full history
// and asks a small model for durable facts and a compact summary. Facts go
// through the same AddFact path as the foreground; the FactSheet mutex is
// the only synchronization needed.
type Summarizer struct {
	provider Provider
	sheet    *FactSheet
	builder  *ContextBuilder
	logger   *slog.Logger
	trace    func(models.TraceEventType, map[string]any)

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSummarizer builds a summarizer.
func NewSummarizer(provider Provider, sheet *FactSheet, builder *ContextBuilder, trace func(models.TraceEventType, map[string]any), logger *slog.Logger) *Summarizer {
	return &Summarizer{provider: provider, sheet: sheet, builder: builder, trace: trace, logger: logger}
}

// summaryOutput is what the summarization call must return.
type summaryOutput struct {
	Summary string `json:"summary"`
	Facts   []struct {
		Category   string  `json:"category"`
		Fact       string  `json:"fact"`
		Confidence float64 `json:"confidence"`
	} `json:"facts"`
}

// Fire starts one background summarization over a snapshot of history. A
// fire while the previous one is still running is dropped.
func (s *Summarizer) Fire(ctx context.Context, iteration int, history []models.Message) {
	if s.provider == nil {
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	// Copy-on-read snapshot: the loop keeps appending to its own slice.
	snapshot := make([]models.Message, len(history))
	copy(snapshot, history)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.run(ctx, iteration, snapshot)
	}()
}

func (s *Summarizer) run(ctx context.Context, iteration int, snapshot []models.Message) {
	var b strings.Builder
	b.WriteString("Summarize this agent conversation so far. Respond with JSON only:\n")
	b.WriteString(`{"summary": "<= 500 chars", "facts": [{"category": "...", "fact": "<= 280 chars", "confidence": 0.0-1.0}]}` + "\n\n")
	for _, m := range snapshot {
		content := m.Content
		if len(content) > 1500 {
			content = content[:1500]
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, content)
	}

	s.trace(models.TraceSummarizationCall, map[string]any{"iteration": iteration, "messages": len(snapshot)})
	content, _, err := s.provider.Complete(ctx, models.TierSmall, b.String())
	if err != nil {
		s.logger.Warn("background summarization failed", "error", err, "iteration", iteration)
		return
	}
	var out summaryOutput
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &out); err != nil {
		s.logger.Warn("background summarization unparseable", "error", err, "iteration", iteration)
		return
	}

	s.trace(models.TraceSummarizationResult, map[string]any{
		"iteration": iteration,
		"facts":     len(out.Facts),
		"summary":   preview(out.Summary, 200),
	})
	for _, f := range out.Facts {
		res := s.sheet.AddFact(f.Category, f.Fact, f.Confidence, "summarizer", iteration)
		s.trace(models.TraceFactAdded, map[string]any{
			"category": f.Category,
			"fact":     preview(f.Fact, 120),
			"merged":   res.Merged,
			"source":   "summarizer",
		})
	}
	if out.Summary != "" {
		s.builder.AddSummary(out.Summary)
	}
}

// Wait blocks until any in-flight summarization finishes. Called at run
// teardown so memory persistence sees the final fact set.
func (s *Summarizer) Wait() { s.wg.Wait() }
