package agent

import (
	"log/slog"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestNewBudgetController_Clamp(t *testing.T) {
	tests := []struct {
		name      string
		proposed  int
		configMax int
		want      int
	}{
		{"runaway classifier", 999, 30, 20},
		{"config below ceiling", 999, 15, 15},
		{"below floor", 1, 30, 4},
		{"in range", 12, 30, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBudgetController(tt.proposed, tt.configMax, nil, 5, slog.Default())
			if got := b.IterationBudget(); got != tt.want {
				t.Errorf("IterationBudget() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTokenBudget_Percentile(t *testing.T) {
	baseline := &models.KPIBaseline{
		TokenHistory:        []int{100, 200, 300, 400, 500},
		QualityScoreHistory: []float64{0.8, 0.8, 0.8, 0.8, 0.8},
	}
	b := NewBudgetController(10, 20, baseline, 5, slog.Default())
	// max(p75, p90*0.8) = max(400, 500*0.8) = 400
	if got := b.TokenBudget(); got != 400 {
		t.Errorf("TokenBudget() = %d, want 400", got)
	}
}

func TestTokenBudget_DisabledBelowFiveSamples(t *testing.T) {
	baseline := &models.KPIBaseline{
		TokenHistory:        []int{100, 200, 300, 400, 500},
		QualityScoreHistory: []float64{0.8, 0.8, 0.8, 0.8, 0.5}, // one below the floor
	}
	b := NewBudgetController(10, 20, baseline, 5, slog.Default())
	if got := b.TokenBudget(); got != 0 {
		t.Errorf("TokenBudget() = %d, want 0 (disabled)", got)
	}
}

func TestMaybeExtend(t *testing.T) {
	progress := NewProgressTracker(3)
	// One productive iteration: evidence gained at iteration 8.
	progress.UpdateProgress("fs_read", 500, ProgressUpdate{Iteration: 8, EvidenceDelta: 1})

	b := NewBudgetController(10, 20, nil, 5, slog.Default())
	if b.MaybeExtend(5, progress, 0) {
		t.Error("extended with 5 iterations remaining")
	}
	if !b.MaybeExtend(8, progress, 0) {
		t.Error("did not extend near budget end with recent progress")
	}
	if got := b.IterationBudget(); got != 15 {
		t.Errorf("IterationBudget() = %d, want 15 after one extension", got)
	}
	if got := b.Extensions(); got != 1 {
		t.Errorf("Extensions() = %d, want 1", got)
	}
}

func TestMaybeExtend_StalledRunNotExtended(t *testing.T) {
	progress := NewProgressTracker(3)
	for i := 1; i <= 4; i++ {
		progress.UpdateProgress("grep_search", 0, ProgressUpdate{Iteration: i})
	}
	if !progress.IsStuck() {
		t.Fatal("tracker should be stuck")
	}
	b := NewBudgetController(4, 20, nil, 5, slog.Default())
	if b.MaybeExtend(4, progress, 0) {
		t.Error("extended a stalled run with no recent signal")
	}
}
