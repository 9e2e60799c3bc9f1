package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// RunStats is the aggregate view of a run that the quality gate and the
// cost-aware restriction score. The orchestrator maintains one per run.
type RunStats struct {
	ToolCallsTotal   int
	ToolErrorCount   int
	TouchedDomains   map[string]struct{}
	FilesRead        []string
	FilesModified    []string
	FilesCreated     []string
	SearchSignalHits int
	TodoToolCalls    int
}

// NewRunStats builds an empty stats accumulator.
func NewRunStats() *RunStats {
	return &RunStats{TouchedDomains: make(map[string]struct{})}
}

// EvidenceCount is the total count of files read, modified, and created.
func (s *RunStats) EvidenceCount() int {
	return len(s.FilesRead) + len(s.FilesModified) + len(s.FilesCreated)
}

// EvidenceDensity is evidence per iteration used.
func (s *RunStats) EvidenceDensity(iterationsUsed int) float64 {
	if iterationsUsed <= 0 {
		return 0
	}
	return float64(s.EvidenceCount()) / float64(iterationsUsed)
}

// ToolErrorRate is failed tool calls over total tool calls.
func (s *RunStats) ToolErrorRate() float64 {
	if s.ToolCallsTotal == 0 {
		return 0
	}
	return float64(s.ToolErrorCount) / float64(s.ToolCallsTotal)
}

// DriftRate proxies scope creep: extra touched top-level domains per tool
// call.
func (s *RunStats) DriftRate() float64 {
	if s.ToolCallsTotal == 0 {
		return 0
	}
	extra := len(s.TouchedDomains) - 1
	if extra < 0 {
		extra = 0
	}
	return float64(extra) / float64(s.ToolCallsTotal)
}

// AddFile records a touched file into the right bucket, deduped.
func (s *RunStats) AddFile(bucket *[]string, path string) {
	for _, p := range *bucket {
		if p == path {
			return
		}
	}
	*bucket = append(*bucket, path)
}

// TouchDomain records the top-level directory segment of a referenced path.
func (s *RunStats) TouchDomain(path string) {
	path = strings.TrimPrefix(path, "./")
	if path == "" || path == "." {
		return
	}
	if i := strings.IndexByte(path, '/'); i > 0 {
		path = path[:i]
	}
	s.TouchedDomains[path] = struct{}{}
}

// QualityGate computes the completion score that decides pass versus
// needs-clarification.
type QualityGate struct{}

// Evaluate scores a finished run. Starts at 1 and subtracts for error
// rate, domain drift, thin evidence, missing task tracking, and ledger
// trouble.
func (QualityGate) Evaluate(stats *RunStats, ledger *Ledger, task string, iterationsUsed int) models.QualityResult {
	score := 1.0
	var reasons []string
	var nextChecks []string

	if rate := stats.ToolErrorRate(); rate >= 0.30 {
		score -= 0.35
		reasons = append(reasons, fmt.Sprintf("high tool error rate (%.0f%%)", rate*100))
		nextChecks = append(nextChecks, "retry the failed tool calls with corrected arguments")
	}
	if len(stats.TouchedDomains) >= 2 && stats.DriftRate() >= 0.20 {
		score -= 0.25
		reasons = append(reasons, fmt.Sprintf("scope drift across %d domains", len(stats.TouchedDomains)))
		nextChecks = append(nextChecks, "confirm which top-level directory is actually in scope")
	}
	density := stats.EvidenceDensity(iterationsUsed)
	if density < 0.20 && stats.ToolCallsTotal >= 5 {
		if stats.SearchSignalHits == 0 {
			score -= 0.20
		} else {
			score -= 0.08
		}
		reasons = append(reasons, fmt.Sprintf("low evidence density (%.2f)", density))
		nextChecks = append(nextChecks, "read the most relevant files directly instead of searching")
	}
	if looksMultiStep(task) && iterationsUsed >= 5 && stats.TodoToolCalls == 0 {
		score -= 0.15
		reasons = append(reasons, "multi-step task ran without a checklist")
		nextChecks = append(nextChecks, "track remaining steps with todo_add / todo_complete")
	}
	if ledger.FailedCount() > 0 {
		score -= 0.20
		reasons = append(reasons, fmt.Sprintf("%d ledger step(s) failed", ledger.FailedCount()))
		nextChecks = append(nextChecks, "re-run the failed steps or explain why they cannot succeed")
	}
	if ledger.PendingCount() > 0 {
		score -= 0.10
		reasons = append(reasons, fmt.Sprintf("%d ledger step(s) still pending", ledger.PendingCount()))
	}

	if score < 0 {
		score = 0
	}
	status := models.QualityPass
	if score < 0.55 {
		status = models.QualityPartial
	}
	if len(nextChecks) > 4 {
		nextChecks = nextChecks[:4]
	}
	return models.QualityResult{Status: status, Score: score, Reasons: reasons, NextChecks: nextChecks}
}

// HasStrongEvidenceSignal reports whether the run has enough verified
// evidence to justify the cost-aware tool restriction.
func (QualityGate) HasStrongEvidenceSignal(stats *RunStats, iterationsUsed int) bool {
	return stats.EvidenceCount() >= 3 &&
		stats.EvidenceDensity(iterationsUsed) >= 0.55 &&
		stats.DriftRate() <= 0.08 &&
		stats.ToolErrorRate() <= 0.10
}

var multiStepMarkers = []string{" and ", " then ", "steps", "first", "second", "finally", "refactor", "migrate"}

func looksMultiStep(task string) bool {
	low := strings.ToLower(task)
	n := 0
	for _, m := range multiStepMarkers {
		if strings.Contains(low, m) {
			n++
		}
	}
	return n >= 2 || strings.Count(task, "\n") >= 2
}
