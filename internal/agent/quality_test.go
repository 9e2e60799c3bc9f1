package agent

import (
	"math"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestQualityGate_CleanRunPasses(t *testing.T) {
	stats := NewRunStats()
	stats.ToolCallsTotal = 4
	stats.AddFile(&stats.FilesRead, "a.go")
	stats.AddFile(&stats.FilesCreated, "b.go")
	ledger := NewLedger()
	id := ledger.Start("read a.go", "filesystem", "fs_read")
	ledger.Close(id, models.LedgerCompleted, "")

	result := QualityGate{}.Evaluate(stats, ledger, "create b.go", 4)
	if result.Status != models.QualityPass {
		t.Errorf("status = %s, want pass (score %.2f, reasons %v)", result.Status, result.Score, result.Reasons)
	}
	if result.Score != 1 {
		t.Errorf("score = %.2f, want 1", result.Score)
	}
}

func TestQualityGate_Penalties(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*RunStats, *Ledger)
		iters    int
		task     string
		maxScore float64
	}{
		{
			name: "high error rate",
			mutate: func(s *RunStats, _ *Ledger) {
				s.ToolCallsTotal = 10
				s.ToolErrorCount = 4
			},
			iters:    3,
			task:     "fix it",
			maxScore: 0.65,
		},
		{
			name: "domain drift",
			mutate: func(s *RunStats, _ *Ledger) {
				s.ToolCallsTotal = 4
				s.TouchDomain("api/x.go")
				s.TouchDomain("web/y.go")
			},
			iters:    3,
			task:     "fix it",
			maxScore: 0.75,
		},
		{
			name: "thin evidence no signal",
			mutate: func(s *RunStats, _ *Ledger) {
				s.ToolCallsTotal = 6
			},
			iters:    8,
			task:     "explain it",
			maxScore: 0.80,
		},
		{
			name: "failed ledger step",
			mutate: func(_ *RunStats, l *Ledger) {
				id := l.Start("run tests", "shell", "shell_exec")
				l.Close(id, models.LedgerFailed, "exit 1")
			},
			iters:    3,
			task:     "fix it",
			maxScore: 0.80,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := NewRunStats()
			ledger := NewLedger()
			tt.mutate(stats, ledger)
			result := QualityGate{}.Evaluate(stats, ledger, tt.task, tt.iters)
			if result.Score > tt.maxScore {
				t.Errorf("score = %.2f, want <= %.2f", result.Score, tt.maxScore)
			}
			if len(result.Reasons) == 0 {
				t.Error("no reasons recorded for a penalized run")
			}
		})
	}
}

func TestQualityGate_ThinEvidencePenaltySoftenedBySignal(t *testing.T) {
	evaluate := func(hits int) float64 {
		stats := NewRunStats()
		stats.ToolCallsTotal = 6
		stats.SearchSignalHits = hits
		return QualityGate{}.Evaluate(stats, NewLedger(), "explain it", 8).Score
	}
	noSignal := evaluate(0)
	withSignal := evaluate(1)
	if math.Abs(noSignal-0.80) > 1e-9 {
		t.Errorf("no-signal score = %.2f, want 0.80", noSignal)
	}
	if math.Abs(withSignal-0.92) > 1e-9 {
		t.Errorf("with-signal score = %.2f, want softened 0.92", withSignal)
	}
	if withSignal <= noSignal {
		t.Errorf("search signal did not soften the density penalty: %.2f vs %.2f", withSignal, noSignal)
	}
}

func TestQualityGate_PartialBelowThreshold(t *testing.T) {
	stats := NewRunStats()
	stats.ToolCallsTotal = 10
	stats.ToolErrorCount = 4 // -0.35
	stats.TouchDomain("api/x.go")
	stats.TouchDomain("web/y.go") // drift 0.1 with 10 calls: no penalty
	ledger := NewLedger()
	id := ledger.Start("a", "shell", "shell_exec")
	ledger.Close(id, models.LedgerFailed, "boom") // -0.20
	id2 := ledger.Start("b", "shell", "shell_exec")
	_ = id2 // pending -0.10

	result := QualityGate{}.Evaluate(stats, ledger, "explain the build", 8)
	if result.Status != models.QualityPartial {
		t.Errorf("status = %s (score %.2f), want partial", result.Status, result.Score)
	}
	if len(result.NextChecks) == 0 || len(result.NextChecks) > 4 {
		t.Errorf("nextChecks = %v, want 1..4 suggestions", result.NextChecks)
	}
}

func TestHasStrongEvidenceSignal(t *testing.T) {
	stats := NewRunStats()
	stats.ToolCallsTotal = 6
	for _, f := range []string{"src/a.go", "src/b.go", "src/c.go"} {
		stats.AddFile(&stats.FilesRead, f)
		stats.TouchDomain(f)
	}
	if !(QualityGate{}).HasStrongEvidenceSignal(stats, 5) {
		t.Error("dense single-domain run not recognized as strong")
	}
	stats.ToolErrorCount = 2
	if (QualityGate{}).HasStrongEvidenceSignal(stats, 5) {
		t.Error("error-heavy run still strong")
	}
}

func TestDriftRate(t *testing.T) {
	stats := NewRunStats()
	stats.ToolCallsTotal = 10
	stats.TouchDomain("api/handler.go")
	stats.TouchDomain("api/router.go")
	stats.TouchDomain("web/app.tsx")
	stats.TouchDomain("docs/readme.md")
	// 3 domains -> (3-1)/10
	if got := stats.DriftRate(); got != 0.2 {
		t.Errorf("DriftRate() = %v, want 0.2", got)
	}
}
