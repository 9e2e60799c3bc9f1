package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ReflectionTrigger names the loop site asking for a reflection.
type ReflectionTrigger string

const (
	TriggerPostTools        ReflectionTrigger = "post_tools"
	TriggerBeforeEscalation ReflectionTrigger = "before_escalation"
	TriggerBeforeNoResult   ReflectionTrigger = "before_no_result"
)

const reflectionFieldMax = 220

// Reflection is the structured checkpoint the set_reflection tool returns.
type Reflection struct {
	Hypothesis      string  `json:"hypothesis"`
	Confidence      float64 `json:"confidence"`
	EvidenceFor     string  `json:"evidenceFor"`
	EvidenceAgainst string  `json:"evidenceAgainst"`
	NextBestCheck   string  `json:"nextBestCheck"`
	WhyThisCheck    string  `json:"whyThisCheck"`
}

// reflectionSchema is the JSON Schema for the set_reflection tool.
var reflectionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"hypothesis":      {"type": "string", "maxLength": 220},
		"confidence":      {"type": "number", "minimum": 0, "maximum": 1},
		"evidenceFor":     {"type": "string", "maxLength": 220},
		"evidenceAgainst": {"type": "string", "maxLength": 220},
		"nextBestCheck":   {"type": "string", "maxLength": 220},
		"whyThisCheck":    {"type": "string", "maxLength": 220}
	},
	"required": ["hypothesis", "confidence", "nextBestCheck"]
}`)

// ReflectionEngine produces hypothesis/next-check checkpoints on stall or
// failure and counts hypothesis switches for KPI regression.
type ReflectionEngine struct {
	provider Provider
	logger   *slog.Logger

	lastReflectionIteration int
	lastHypothesis          string
	hypothesisSwitches      int
}

// NewReflectionEngine builds an engine.
func NewReflectionEngine(provider Provider, logger *slog.Logger) *ReflectionEngine {
	return &ReflectionEngine{provider: provider, logger: logger}
}

// ShouldReflect gates reflection: forced triggers always run; otherwise a
// reflection runs at most every other iteration and only when something is
// going wrong.
func (r *ReflectionEngine) ShouldReflect(trigger ReflectionTrigger, force bool, iteration, failures int, repeatedSingleTool bool, nearStuck bool) bool {
	switch trigger {
	case TriggerPostTools, TriggerBeforeEscalation, TriggerBeforeNoResult:
	default:
		return false
	}
	if force {
		return true
	}
	if iteration <= r.lastReflectionIteration+1 {
		return false
	}
	return failures > 0 || repeatedSingleTool || nearStuck
}

const reflectPromptFmt = `You are pausing to reflect mid-task. Based on the conversation so far, call the set_reflection tool exactly once with your current working hypothesis, your confidence in it, the strongest evidence for and against it, and the single next best check.

Task: %s
Iteration: %d
Recent trouble: %s`

// Reflect runs the reflection LLM call and returns a compact summary line
// to append to the conversation as an assistant message.
func (r *ReflectionEngine) Reflect(ctx context.Context, tier models.Tier, task string, iteration int, trouble string, messages []models.Message) (string, error) {
	if r.provider == nil {
		return "", ErrNoProvider
	}
	prompt := fmt.Sprintf(reflectPromptFmt, task, iteration, trouble)
	msgs := append(append([]models.Message{}, messages...), models.Message{Role: models.RoleUser, Content: prompt})

	result, err := r.provider.ChatWithTools(ctx, tier, msgs, ChatOptions{
		Tools: []ToolDefinition{{
			Name:        "set_reflection",
			Description: "Record a structured mid-task reflection checkpoint.",
			Parameters:  reflectionSchema,
		}},
		Temperature: 0.1,
		ToolChoice:  ToolChoiceAuto,
	})
	if err != nil {
		return "", err
	}

	var refl Reflection
	found := false
	for _, call := range result.ToolCalls {
		if call.Name == "set_reflection" {
			if err := json.Unmarshal(call.Input, &refl); err == nil {
				found = true
				break
			}
		}
	}
	if !found {
		return "", fmt.Errorf("agent: model did not call set_reflection")
	}
	clampReflection(&refl)

	norm := normalizeFactText(refl.Hypothesis)
	if r.lastHypothesis != "" && norm != r.lastHypothesis {
		r.hypothesisSwitches++
	}
	r.lastHypothesis = norm
	r.lastReflectionIteration = iteration

	summary := fmt.Sprintf("[reflection] hypothesis: %s (confidence %.2f). next check: %s; %s",
		refl.Hypothesis, refl.Confidence, refl.NextBestCheck, refl.WhyThisCheck)
	if refl.EvidenceAgainst != "" {
		summary += " | against: " + refl.EvidenceAgainst
	}
	return summary, nil
}

func clampReflection(r *Reflection) {
	clamp := func(s string) string {
		if len(s) > reflectionFieldMax {
			return s[:reflectionFieldMax]
		}
		return s
	}
	r.Hypothesis = clamp(strings.TrimSpace(r.Hypothesis))
	r.EvidenceFor = clamp(r.EvidenceFor)
	r.EvidenceAgainst = clamp(r.EvidenceAgainst)
	r.NextBestCheck = clamp(r.NextBestCheck)
	r.WhyThisCheck = clamp(r.WhyThisCheck)
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
}

// HypothesisSwitches reports how many times the normalized hypothesis
// changed across reflections.
func (r *ReflectionEngine) HypothesisSwitches() int { return r.hypothesisSwitches }
