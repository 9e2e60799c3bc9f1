package agent

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestValidate_FastPathViaSearchSignal(t *testing.T) {
	// A nil provider makes the LLM fallback fail, so only the fast path
	// can produce success here.
	v := NewValidator(nil, 350, 2, 0.3, slog.Default())

	finalText := "The handler lives in src/server/routes.go:88.\n" +
		strings.Repeat("It wires each route to its controller and logs request ids. ", 8)

	stats := NewRunStats()
	// No files read and zero density: only the search signal can satisfy
	// evidence sufficiency.
	stats.SearchSignalHits = 1

	ok, summary := v.Validate(context.Background(), ValidationInput{
		Task:           "where is the handler wired",
		Intent:         models.IntentDiscovery,
		FinalText:      finalText,
		Stats:          stats,
		IterationsUsed: 4,
		Tier:           models.TierSmall,
	})
	if !ok {
		t.Fatal("evidence-rich answer backed by search signal not fast-accepted")
	}
	if summary != finalText {
		t.Errorf("fast path must return the text verbatim, got %q", summary)
	}

	// Without the signal the same answer falls through to the (failing)
	// LLM path and the no-evidence heuristics reject it.
	stats.SearchSignalHits = 0
	ok, _ = v.Validate(context.Background(), ValidationInput{
		Task:           "where is the handler wired",
		Intent:         models.IntentDiscovery,
		FinalText:      finalText,
		Stats:          stats,
		IterationsUsed: 4,
		Tier:           models.TierSmall,
	})
	if ok {
		t.Error("signal-free answer with no file evidence was accepted")
	}
}
