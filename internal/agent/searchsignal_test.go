package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func smallTier() models.Tier { return models.TierSmall }

func TestSearchSignal_HeuristicFallback(t *testing.T) {
	// A nil provider forces the heuristic path.
	tracker := NewSearchSignalTracker(nil, smallTier)

	got := tracker.Assess(context.Background(), 1, map[string]string{
		"grep_search": "src/parser/lexer.go:42: func Tokenize",
	})
	if got != SignalPartial {
		t.Errorf("path-bearing result classified %s, want partial", got)
	}
	if tracker.Hits() != 1 || tracker.LastSignalIteration() != 1 {
		t.Errorf("hits=%d lastSignal=%d, want 1/1", tracker.Hits(), tracker.LastSignalIteration())
	}

	got = tracker.Assess(context.Background(), 2, map[string]string{
		"grep_search": "no matches found",
	})
	if got != SignalNone {
		t.Errorf("not-found result classified %s, want none", got)
	}
	if tracker.ConsecutiveNoSignal() != 1 {
		t.Errorf("consecutiveNoSignal = %d, want 1", tracker.ConsecutiveNoSignal())
	}
}

func TestSearchSignal_LLMClassification(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(_ models.Tier, _ string) (string, Usage, error) {
			return `{"signal":"strong","snippets":["src/a.go:1","src/b.go:2"]}`, Usage{}, nil
		},
	}
	tracker := NewSearchSignalTracker(provider, smallTier)
	if got := tracker.Assess(context.Background(), 1, map[string]string{"grep_search": "lots of hits"}); got != SignalStrong {
		t.Errorf("signal = %s, want strong", got)
	}
	if len(tracker.RecentEvidence()) != 2 {
		t.Errorf("evidence = %v, want 2 snippets", tracker.RecentEvidence())
	}
}

func TestSearchSignal_EvidenceDedupedAndBounded(t *testing.T) {
	tracker := NewSearchSignalTracker(nil, smallTier)
	for i := 0; i < 12; i++ {
		tracker.Assess(context.Background(), i+1, map[string]string{
			"grep_search": "pkg/file.go:1: hit",
		})
	}
	ev := tracker.RecentEvidence()
	if len(ev) > maxEvidenceSnippets {
		t.Errorf("evidence list = %d entries, want <= %d", len(ev), maxEvidenceSnippets)
	}
	// The identical snippet dedupes to one.
	if len(ev) != 1 {
		t.Errorf("evidence = %v, want single deduped snippet", ev)
	}
}

func TestShouldConcludeNoResult(t *testing.T) {
	tracker := NewSearchSignalTracker(nil, smallTier)
	for i := 1; i <= 3; i++ {
		tracker.Assess(context.Background(), i, map[string]string{"grep_search": ""})
	}

	tests := []struct {
		name     string
		intent   models.Intent
		task     string
		iter     int
		evidence int
		want     bool
	}{
		{"qualifies", models.IntentDiscovery, "where is Foo defined", 3, 0, true},
		{"action blocked", models.IntentAction, "where is Foo defined", 3, 0, false},
		{"non-discovery task", models.IntentAnalysis, "summarize the module", 3, 0, false},
		{"too early", models.IntentDiscovery, "where is Foo defined", 2, 0, false},
		{"has evidence", models.IntentDiscovery, "where is Foo defined", 3, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tracker.ShouldConcludeNoResult(tt.intent, tt.task, tt.iter, 3, 3, tt.evidence)
			if got != tt.want {
				t.Errorf("ShouldConcludeNoResult = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoResultSummary(t *testing.T) {
	tracker := NewSearchSignalTracker(nil, smallTier)
	tracker.Assess(context.Background(), 1, map[string]string{"grep_search": "", "glob_search": ""})
	tracker.Assess(context.Background(), 2, map[string]string{"grep_search": ""})

	summary := tracker.NoResultSummary()
	if want := "Insufficient evidence found after repeated search attempts"; summary[:len(want)] != want {
		t.Errorf("summary prefix = %q", summary[:60])
	}
	for _, want := range []string{"grep_search: 2 attempt(s)", "glob_search: 1 attempt(s)"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}
