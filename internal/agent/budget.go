package agent

import (
	"log/slog"
	"math"
	"sort"

	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	minIterationBudget   = 4
	iterationBudgetCeil  = 20
	budgetExtensionStep  = 5
	minTokenSamples      = 5
	qualityFloorForToken = 0.75
)

// BudgetController derives the run's iteration and token budgets and
// extends the iteration budget when a nearly-exhausted run is still making
// progress.
type BudgetController struct {
	iterationBudget int
	tokenBudget     int
	extensions      int
	maxLoggedExt    int
	logger          *slog.Logger
}

// NewBudgetController clamps the classifier's proposed budget to
// [4, min(configMax, 20)] and derives the token budget from the session's
// KPI baseline.
func NewBudgetController(proposed, configMax int, baseline *models.KPIBaseline, maxLoggedExt int, logger *slog.Logger) *BudgetController {
	ceil := configMax
	if ceil > iterationBudgetCeil {
		ceil = iterationBudgetCeil
	}
	if proposed < minIterationBudget {
		proposed = minIterationBudget
	}
	if proposed > ceil {
		proposed = ceil
	}
	return &BudgetController{
		iterationBudget: proposed,
		tokenBudget:     tokenBudgetFromBaseline(baseline),
		maxLoggedExt:    maxLoggedExt,
		logger:          logger,
	}
}

// tokenBudgetFromBaseline computes max(p75, p90*0.8) over the token history
// of prior high-quality runs. Fewer than five samples disables the budget.
func tokenBudgetFromBaseline(baseline *models.KPIBaseline) int {
	if baseline == nil {
		return 0
	}
	var samples []int
	for i, tokens := range baseline.TokenHistory {
		if i < len(baseline.QualityScoreHistory) && baseline.QualityScoreHistory[i] >= qualityFloorForToken {
			samples = append(samples, tokens)
		}
	}
	if len(samples) < minTokenSamples {
		return 0
	}
	sort.Ints(samples)
	p75 := percentile(samples, 0.75)
	p90 := percentile(samples, 0.90)
	return int(math.Max(float64(p75), float64(p90)*0.8))
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []int, p float64) int {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// IterationBudget reports the current (possibly extended) budget.
func (b *BudgetController) IterationBudget() int { return b.iterationBudget }

// TokenBudget reports the token budget; 0 means disabled.
func (b *BudgetController) TokenBudget() int { return b.tokenBudget }

// Extensions reports how many times the budget was extended.
func (b *BudgetController) Extensions() int { return b.extensions }

// MaybeExtend adds five iterations when the run is nearly out of budget but
// still making progress. There is no hard ceiling on extensions; past the
// logged limit each further extension is flagged at Warn.
func (b *BudgetController) MaybeExtend(iteration int, progress *ProgressTracker, lastSignalIteration int) bool {
	remaining := b.iterationBudget - iteration
	if remaining > 2 {
		return false
	}
	recentSignal := lastSignalIteration > 0 && iteration-lastSignalIteration <= 3
	recentProgress := progress.LastProgressIteration() > 0 && iteration-progress.LastProgressIteration() <= 2
	if progress.IsStuck() && !recentSignal && !recentProgress {
		return false
	}
	b.iterationBudget += budgetExtensionStep
	b.extensions++
	if b.extensions > b.maxLoggedExt {
		b.logger.Warn("iteration budget extended beyond soft limit",
			"extensions", b.extensions, "budget", b.iterationBudget, "iteration", iteration)
	} else {
		b.logger.Info("iteration budget extended",
			"extensions", b.extensions, "budget", b.iterationBudget, "iteration", iteration)
	}
	return true
}
