package agent

import (
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestChooseSmartTier(t *testing.T) {
	sel := NewTierSelector(true, 2)
	tests := []struct {
		name string
		node TierNode
		ctx  TierContext
		want models.Tier
	}{
		{"defaults small", NodeIntentInference, TierContext{Task: "rename a function"}, models.TierSmall},
		{"audit biases medium", NodeIntentInference, TierContext{Task: "audit the auth flow"}, models.TierMedium},
		{"validation low density informational", NodeTaskValidation,
			TierContext{Task: "explain x", Intent: models.IntentAnalysis, EvidenceDensity: 0.1}, models.TierMedium},
		{"validation late in budget", NodeTaskValidation,
			TierContext{Task: "do x", Intent: models.IntentAction, Iteration: 9, Budget: 12, EvidenceDensity: 0.9}, models.TierMedium},
		{"validation early action stays small", NodeTaskValidation,
			TierContext{Task: "do x", Intent: models.IntentAction, Iteration: 2, Budget: 12, EvidenceDensity: 0.9}, models.TierSmall},
		{"search stalls to medium", NodeSearchAssessment,
			TierContext{Task: "do x", IterationsSinceProgress: 2}, models.TierMedium},
		{"search artifacts to medium", NodeSearchAssessment,
			TierContext{Task: "do x", ArtifactCount: 3}, models.TierMedium},
		{"search fresh stays small", NodeSearchAssessment,
			TierContext{Task: "do x"}, models.TierSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sel.ChooseSmartTier(tt.node, tt.ctx); got != tt.want {
				t.Errorf("ChooseSmartTier(%s) = %s, want %s", tt.node, got, tt.want)
			}
		})
	}
}

func TestEvaluateEscalationNeed(t *testing.T) {
	sel := NewTierSelector(true, 2)
	base := EscalationContext{
		Tier:               models.TierSmall,
		Iteration:          5,
		Budget:             12,
		Stalled:            true,
		RepeatedSingleTool: true,
	}

	if esc := sel.EvaluateEscalationNeed(base); esc == nil {
		t.Fatal("stalled repeated-tool run did not escalate")
	} else if esc.Reason != "repeating same tool calls without new signal" {
		t.Errorf("reason = %q", esc.Reason)
	}

	t.Run("disabled", func(t *testing.T) {
		off := NewTierSelector(false, 2)
		if off.EvaluateEscalationNeed(base) != nil {
			t.Error("escalated with escalation disabled")
		}
	})
	t.Run("large tier never escalates", func(t *testing.T) {
		ctx := base
		ctx.Tier = models.TierLarge
		if sel.EvaluateEscalationNeed(ctx) != nil {
			t.Error("escalated from large")
		}
	})
	t.Run("too early", func(t *testing.T) {
		ctx := base
		ctx.Iteration = 2
		if sel.EvaluateEscalationNeed(ctx) != nil {
			t.Error("escalated before iteration floor")
		}
	})
	t.Run("recent signal blocks", func(t *testing.T) {
		ctx := base
		ctx.LastSignalIteration = 4
		if sel.EvaluateEscalationNeed(ctx) != nil {
			t.Error("escalated despite recent search signal")
		}
	})
	t.Run("parent callback blocks", func(t *testing.T) {
		ctx := base
		ctx.HasParentCallback = true
		if sel.EvaluateEscalationNeed(ctx) != nil {
			t.Error("escalated with a parent callback wired")
		}
	})
	t.Run("utilization path", func(t *testing.T) {
		ctx := base
		ctx.RepeatedSingleTool = false
		ctx.Iteration = 6 // 0.5 utilization
		ctx.EvidenceCount = 1
		if esc := sel.EvaluateEscalationNeed(ctx); esc == nil {
			t.Error("high-utilization low-evidence run did not escalate")
		}
	})
}

func TestTierNext(t *testing.T) {
	if next, ok := models.TierSmall.Next(); !ok || next != models.TierMedium {
		t.Errorf("small.Next() = %s, %v", next, ok)
	}
	if next, ok := models.TierMedium.Next(); !ok || next != models.TierLarge {
		t.Errorf("medium.Next() = %s, %v", next, ok)
	}
	if _, ok := models.TierLarge.Next(); ok {
		t.Error("large.Next() reported a next tier")
	}
}
