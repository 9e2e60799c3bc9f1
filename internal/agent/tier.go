package agent

import (
	"math"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// TierNode names an auxiliary LLM call site for smart tier selection.
type TierNode string

const (
	NodeIntentInference  TierNode = "intentInference"
	NodeSearchAssessment TierNode = "searchAssessment"
	NodeTaskValidation   TierNode = "taskValidation"
)

// TierContext carries the run state a tier decision looks at.
type TierContext struct {
	Task                    string
	Intent                  models.Intent
	Iteration               int
	Budget                  int
	IterationsSinceProgress int
	EvidenceCount           int
	EvidenceDensity         float64
	ArtifactCount           int
}

// TierSelector picks the LLM tier per auxiliary call and decides when the
// main loop should escalate to a bigger model.
type TierSelector struct {
	escalationEnabled bool

	// maxStallForMediumSearch biases search assessment to medium once the
	// stall counter reaches it.
	maxStallForMediumSearch int
}

// NewTierSelector builds a selector.
func NewTierSelector(escalationEnabled bool, maxStallForMediumSearch int) *TierSelector {
	return &TierSelector{
		escalationEnabled:       escalationEnabled,
		maxStallForMediumSearch: maxStallForMediumSearch,
	}
}

// ChooseSmartTier defaults every auxiliary call to the small tier and
// upgrades to medium where the call's stakes justify it.
func (t *TierSelector) ChooseSmartTier(node TierNode, ctx TierContext) models.Tier {
	if isAuditTask(ctx.Task) {
		return models.TierMedium
	}
	switch node {
	case NodeTaskValidation:
		if ctx.Intent != models.IntentAction && ctx.EvidenceDensity < 0.2 {
			return models.TierMedium
		}
		threshold := math.Max(6, 0.7*float64(ctx.Budget))
		if float64(ctx.Iteration) >= threshold {
			return models.TierMedium
		}
	case NodeSearchAssessment:
		if ctx.IterationsSinceProgress >= t.maxStallForMediumSearch || ctx.ArtifactCount >= 3 {
			return models.TierMedium
		}
	}
	return models.TierSmall
}

func isAuditTask(task string) bool {
	low := strings.ToLower(task)
	return strings.Contains(low, "audit") || strings.Contains(low, "reliability") ||
		strings.Contains(low, "security review")
}

// EscalationContext carries the main-loop state an escalation decision
// needs.
type EscalationContext struct {
	Tier                  models.Tier
	Iteration             int
	Budget                int
	Stalled               bool
	RepeatedSingleTool    bool
	LastSignalIteration   int
	LastProgressIteration int
	EvidenceCount         int
	HasParentCallback     bool
}

// EvaluateEscalationNeed decides whether a stalled main loop should retry
// at the next tier up. Returns the escalation signal to bubble, or nil.
func (t *TierSelector) EvaluateEscalationNeed(ctx EscalationContext) *tierEscalation {
	if !t.escalationEnabled || ctx.HasParentCallback {
		return nil
	}
	if ctx.Tier == models.TierLarge {
		return nil
	}
	minIteration := int(math.Max(3, math.Ceil(0.25*float64(ctx.Budget))))
	if ctx.Iteration < minIteration {
		return nil
	}
	if !ctx.Stalled {
		return nil
	}
	recentSignal := ctx.LastSignalIteration > 0 && ctx.Iteration-ctx.LastSignalIteration <= 3
	recentProgress := ctx.LastProgressIteration > 0 && ctx.Iteration-ctx.LastProgressIteration <= 2
	if recentSignal || recentProgress {
		return nil
	}
	utilization := float64(ctx.Iteration) / float64(ctx.Budget)
	if ctx.RepeatedSingleTool {
		return &tierEscalation{Reason: "repeating same tool calls without new signal", Iteration: ctx.Iteration}
	}
	if utilization >= 0.45 && ctx.EvidenceCount <= 2 {
		return &tierEscalation{Reason: "high iteration utilization with little evidence", Iteration: ctx.Iteration}
	}
	return nil
}
