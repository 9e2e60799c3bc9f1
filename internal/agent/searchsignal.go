package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// SignalStrength is the classified strength of an iteration's combined
// search results.
type SignalStrength string

const (
	SignalNone    SignalStrength = "none"
	SignalPartial SignalStrength = "partial"
	SignalStrong  SignalStrength = "strong"
)

const (
	searchPreviewChars  = 2000
	maxEvidenceSnippets = 8
	maxAssessedSnippets = 6
)

// searchToolNames are the tools whose results feed the signal tracker.
var searchToolNames = map[string]bool{
	"grep_search":     true,
	"glob_search":     true,
	"find_definition": true,
}

// IsSearchTool reports whether a tool's results feed the search signal.
func IsSearchTool(name string) bool { return searchToolNames[name] }

// SearchSignalTracker classifies each search iteration's combined results
// and drives no-result convergence on discovery tasks.
type SearchSignalTracker struct {
	provider   Provider
	chooseTier func() models.Tier

	searchSignalHits              int
	consecutiveNoSignalIterations int
	lastSignalIteration           int
	recentEvidence                []string
	attemptsByTool                map[string]int
}

// NewSearchSignalTracker builds a tracker. chooseTier picks the tier for
// the assessment LLM call (the tier selector's searchAssessment node).
func NewSearchSignalTracker(provider Provider, chooseTier func() models.Tier) *SearchSignalTracker {
	return &SearchSignalTracker{
		provider:       provider,
		chooseTier:     chooseTier,
		attemptsByTool: make(map[string]int),
	}
}

// signalAssessment is the shape the assessment LLM call must return.
type signalAssessment struct {
	Signal   SignalStrength `json:"signal"`
	Snippets []string       `json:"snippets"`
}

// Assess classifies the combined search results of one iteration and folds
// the outcome into the tracker state. results maps tool name to raw output.
func (s *SearchSignalTracker) Assess(ctx context.Context, iteration int, results map[string]string) SignalStrength {
	previews := make(map[string]string, len(results))
	for name, out := range results {
		s.attemptsByTool[name]++
		if len(out) > searchPreviewChars {
			out = out[:searchPreviewChars]
		}
		previews[name] = out
	}

	assessment, err := s.assessWithLLM(ctx, previews)
	if err != nil {
		assessment = heuristicAssessment(previews)
	}

	switch assessment.Signal {
	case SignalPartial, SignalStrong:
		s.searchSignalHits++
		s.lastSignalIteration = iteration
		s.consecutiveNoSignalIterations = 0
	default:
		s.consecutiveNoSignalIterations++
	}
	for _, snip := range assessment.Snippets {
		s.addEvidence(snip)
	}
	return assessment.Signal
}

func (s *SearchSignalTracker) assessWithLLM(ctx context.Context, previews map[string]string) (signalAssessment, error) {
	if s.provider == nil {
		return signalAssessment{}, ErrNoProvider
	}
	var b strings.Builder
	b.WriteString("Classify the combined signal of these code-search results as one of none, partial, strong. ")
	b.WriteString("Respond with JSON {\"signal\": \"...\", \"snippets\": [...]} where snippets holds at most ")
	fmt.Fprintf(&b, "%d short evidence excerpts.\n\n", maxAssessedSnippets)
	for name, preview := range previews {
		fmt.Fprintf(&b, "## %s\n%s\n\n", name, preview)
	}
	content, _, err := s.provider.Complete(ctx, s.chooseTier(), b.String())
	if err != nil {
		return signalAssessment{}, err
	}
	var out signalAssessment
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &out); err != nil {
		return signalAssessment{}, err
	}
	switch out.Signal {
	case SignalNone, SignalPartial, SignalStrong:
	default:
		return signalAssessment{}, fmt.Errorf("unrecognized signal %q", out.Signal)
	}
	if len(out.Snippets) > maxAssessedSnippets {
		out.Snippets = out.Snippets[:maxAssessedSnippets]
	}
	return out, nil
}

var pathLikeRe = regexp.MustCompile(`[\w./-]+\.\w{1,5}(:\d+)?`)

// heuristicAssessment is the no-LLM fallback: any path-like token means
// partial signal; all-empty or not-found means none.
func heuristicAssessment(previews map[string]string) signalAssessment {
	var snippets []string
	signal := SignalNone
	for _, preview := range previews {
		trimmed := strings.TrimSpace(preview)
		if trimmed == "" || looksLikeNotFound(trimmed) {
			continue
		}
		if m := pathLikeRe.FindString(trimmed); m != "" {
			signal = SignalPartial
			snippets = append(snippets, m)
		}
	}
	if len(snippets) > maxAssessedSnippets {
		snippets = snippets[:maxAssessedSnippets]
	}
	return signalAssessment{Signal: signal, Snippets: snippets}
}

func looksLikeNotFound(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "no matches") ||
		strings.Contains(low, "not found") ||
		strings.Contains(low, "no results") ||
		strings.Contains(low, "0 files")
}

func (s *SearchSignalTracker) addEvidence(snippet string) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return
	}
	for _, existing := range s.recentEvidence {
		if existing == snippet {
			return
		}
	}
	s.recentEvidence = append(s.recentEvidence, snippet)
	if len(s.recentEvidence) > maxEvidenceSnippets {
		s.recentEvidence = s.recentEvidence[1:]
	}
}

// Hits reports the total count of signal-bearing search iterations.
func (s *SearchSignalTracker) Hits() int { return s.searchSignalHits }

// ConsecutiveNoSignal reports the current run of signal-free search
// iterations.
func (s *SearchSignalTracker) ConsecutiveNoSignal() int { return s.consecutiveNoSignalIterations }

// LastSignalIteration reports the most recent iteration with signal.
func (s *SearchSignalTracker) LastSignalIteration() int { return s.lastSignalIteration }

// RecentEvidence returns the deduped bounded evidence snippet list.
func (s *SearchSignalTracker) RecentEvidence() []string {
	out := make([]string, len(s.recentEvidence))
	copy(out, s.recentEvidence)
	return out
}

// AttemptsByTool reports how many times each search tool ran.
func (s *SearchSignalTracker) AttemptsByTool() map[string]int {
	out := make(map[string]int, len(s.attemptsByTool))
	for k, v := range s.attemptsByTool {
		out[k] = v
	}
	return out
}

// ShouldConcludeNoResult decides no-result early conclusion: a discovery-
// shaped task that has searched repeatedly with zero signal and almost no
// file evidence is allowed to terminate early with an honest summary.
func (s *SearchSignalTracker) ShouldConcludeNoResult(intent models.Intent, task string, iteration, minIterations, maxNoSignalForTier, evidenceCount int) bool {
	if intent == models.IntentAction {
		return false
	}
	if !looksLikeDiscovery(task) {
		return false
	}
	return iteration >= minIterations &&
		s.consecutiveNoSignalIterations >= maxNoSignalForTier &&
		s.searchSignalHits == 0 &&
		evidenceCount <= 1
}

// NoResultSummary renders the early-conclusion summary: what was searched,
// how often, and what partial matches exist.
func (s *SearchSignalTracker) NoResultSummary() string {
	var b strings.Builder
	b.WriteString("Insufficient evidence found after repeated search attempts.\n\nSearched with:\n")
	for _, name := range []string{"grep_search", "glob_search", "find_definition"} {
		if n := s.attemptsByTool[name]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d attempt(s), no signal\n", name, n)
		}
	}
	if len(s.recentEvidence) > 0 {
		b.WriteString("\nPartial matches observed:\n")
		for _, snip := range s.recentEvidence {
			fmt.Fprintf(&b, "- %s\n", snip)
		}
	} else {
		b.WriteString("\nNo partial matches were observed. The target may not exist in this workspace, or it may use a different name.")
	}
	return b.String()
}

var discoveryMarkers = []string{"where", "find", "locate", "search", "which file", "defined", "declared", "look for"}

func looksLikeDiscovery(task string) bool {
	low := strings.ToLower(task)
	for _, m := range discoveryMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

// extractJSONObject pulls the first {...} block out of an LLM reply that
// may wrap JSON in prose or a code fence.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
