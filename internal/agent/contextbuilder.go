package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ContextBuilder assembles the lean, LLM-ready message list for each
// iteration: enriched system prompt, the task, a sliding window over full
// history, summarizer output, and any injected user feedback. Full history
// never goes to the LLM raw; it is preserved for tracing only.
type ContextBuilder struct {
	systemPrompt string
	workspaceMap string
	task         string

	factSheet *FactSheet
	archive   *Archive
	window    int

	mu        sync.Mutex
	summaries []string
	feedback  []string

	lastSnapshotChars    int
	lastSnapshotMessages int
}

// NewContextBuilder builds a context builder for one run.
func NewContextBuilder(systemPrompt, workspaceMap, task string, factSheet *FactSheet, archive *Archive, window int) *ContextBuilder {
	return &ContextBuilder{
		systemPrompt: systemPrompt,
		workspaceMap: workspaceMap,
		task:         task,
		factSheet:    factSheet,
		archive:      archive,
		window:       window,
	}
}

// AddSummary appends a deduped summary block from the background
// summarizer. Safe to call from the summarizer goroutine.
func (c *ContextBuilder) AddSummary(summary string) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.summaries {
		if existing == summary {
			return
		}
	}
	c.summaries = append(c.summaries, summary)
}

// InjectFeedback queues user feedback for prominent insertion into the
// next built context.
func (c *ContextBuilder) InjectFeedback(feedback string) {
	if strings.TrimSpace(feedback) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedback = append(c.feedback, feedback)
}

// Build assembles the message list for one LLM call and emits
// context:snapshot (and context:diff when a prior snapshot exists) trace
// events.
func (c *ContextBuilder) Build(fullHistory []models.Message, iteration int, trace func(models.TraceEventType, map[string]any)) []models.Message {
	system := c.enrichedSystem()
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: c.task},
	}

	windowed := slidingWindow(fullHistory, c.window)
	msgs = append(msgs, windowed...)

	c.mu.Lock()
	for _, s := range c.summaries {
		msgs = append(msgs, models.Message{
			Role:    models.RoleAssistant,
			Content: "[history summary] " + s,
		})
	}
	feedback := c.feedback
	c.feedback = nil
	c.mu.Unlock()

	for _, f := range feedback {
		msgs = append(msgs, models.Message{
			Role:    models.RoleUser,
			Content: "IMPORTANT user feedback, adjust course: " + f,
		})
	}

	totalChars := 0
	for _, m := range msgs {
		totalChars += len(m.Content)
	}
	dropped := len(fullHistory) - len(windowed)
	trace(models.TraceContextSnapshot, map[string]any{
		"iteration":      iteration,
		"messages":       len(msgs),
		"chars":          totalChars,
		"est_tokens":     estimateTokens(system) + totalChars/4,
		"dropped":        dropped,
		"system_preview": preview(system, 200),
	})
	if c.lastSnapshotMessages > 0 {
		trace(models.TraceContextDiff, map[string]any{
			"iteration":      iteration,
			"messages_added": len(msgs) - c.lastSnapshotMessages,
			"chars_delta":    totalChars - c.lastSnapshotChars,
			"tokens_delta":   (totalChars - c.lastSnapshotChars) / 4,
			"dropped":        dropped,
		})
	}
	c.lastSnapshotMessages = len(msgs)
	c.lastSnapshotChars = totalChars
	return msgs
}

// enrichedSystem appends the fact sheet, archive hint, and workspace map
// to the base system prompt.
func (c *ContextBuilder) enrichedSystem() string {
	var b strings.Builder
	b.WriteString(c.systemPrompt)
	if c.workspaceMap != "" {
		b.WriteString("\n\n## Workspace\n")
		b.WriteString(c.workspaceMap)
	}
	if facts := c.factSheet.Render(); facts != "" {
		b.WriteString("\n\n")
		b.WriteString(facts)
	}
	if hint := c.archive.SummaryHint(); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	return b.String()
}

// slidingWindow takes the last n messages, extending backwards so a tool
// result never enters the window without the assistant message that
// requested it.
func slidingWindow(history []models.Message, n int) []models.Message {
	if len(history) <= n {
		return history
	}
	start := len(history) - n
	// Keep tool-call/tool-result pairing: never start on a tool message.
	for start > 0 && history[start].Role == models.RoleTool {
		start--
	}
	return history[start:]
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d chars)", s[:n], len(s))
}
