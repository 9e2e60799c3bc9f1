package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Classification is the classifier's one-shot verdict on the task.
type Classification struct {
	Intent models.Intent `json:"intent"`
	Budget int           `json:"budget"`
}

// Classifier infers {intent, budget} with one small-tier LLM call. On any
// failure it falls back to intent=action, budget=min(configMax, 12).
type Classifier struct {
	provider  Provider
	configMax int
	logger    *slog.Logger
}

// NewClassifier builds a classifier.
func NewClassifier(provider Provider, configMax int, logger *slog.Logger) *Classifier {
	return &Classifier{provider: provider, configMax: configMax, logger: logger}
}

const classifyPromptFmt = `Classify this task for an autonomous coding agent.

Task: %s

Respond with JSON only: {"intent": "action"|"discovery"|"analysis", "budget": <int>}.
- "action": the task changes files or runs commands.
- "discovery": the task locates something in the codebase.
- "analysis": the task explains or evaluates existing code.
budget is your estimate of how many tool-use iterations the task needs (4-20).`

// Classify runs the one-shot classification call.
func (c *Classifier) Classify(ctx context.Context, task string) Classification {
	fallback := Classification{Intent: models.IntentAction, Budget: min(c.configMax, 12)}
	if c.provider == nil {
		return fallback
	}
	content, _, err := c.provider.Complete(ctx, models.TierSmall, fmt.Sprintf(classifyPromptFmt, task))
	if err != nil {
		c.logger.Warn("task classification failed, using defaults", "error", err)
		return fallback
	}
	var out Classification
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &out); err != nil {
		c.logger.Warn("task classification unparseable, using defaults", "error", err)
		return fallback
	}
	switch out.Intent {
	case models.IntentAction, models.IntentDiscovery, models.IntentAnalysis:
	default:
		out.Intent = models.IntentAction
	}
	if out.Budget <= 0 {
		out.Budget = fallback.Budget
	}
	return out
}
