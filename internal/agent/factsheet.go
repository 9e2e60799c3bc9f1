package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// FactSheet is the hot tier of working memory: a small, deduped set of
// high-signal facts rendered into every system prompt. AddFact is the only
// cross-goroutine mutation in a run (the background summarizer shares it
// with the foreground), so the whole body runs under one mutex.
type FactSheet struct {
	mu sync.Mutex

	maxTokens      int
	maxEntries     int
	maxPerCategory int
	simThreshold   float64

	entries []models.Fact
	now     func() time.Time
}

// AddFactResult reports what AddFact did with the candidate fact.
type AddFactResult struct {
	Entry  models.Fact
	Merged bool
}

// NewFactSheet builds an empty fact sheet with the given caps.
func NewFactSheet(maxTokens, maxEntries, maxPerCategory int, simThreshold float64) *FactSheet {
	return &FactSheet{
		maxTokens:      maxTokens,
		maxEntries:     maxEntries,
		maxPerCategory: maxPerCategory,
		simThreshold:   simThreshold,
		now:            time.Now,
	}
}

// AddFact inserts or merges a fact. Near-duplicates (same category, text
// similarity at or above the threshold) are merged keeping the max
// confidence and the latest iteration. After insertion the sheet is brought
// back under its token, entry, and per-category caps.
func (f *FactSheet) AddFact(category, fact string, confidence float64, source string, iteration int) AddFactResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(fact) > models.MaxFactChars {
		fact = fact[:models.MaxFactChars]
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	norm := normalizeFactText(fact)
	for i := range f.entries {
		e := &f.entries[i]
		if e.Category != category {
			continue
		}
		if textSimilarity(norm, normalizeFactText(e.Fact)) >= f.simThreshold {
			if confidence > e.Confidence {
				e.Confidence = confidence
				e.Fact = fact
				e.Source = source
			}
			if iteration > e.Iteration {
				e.Iteration = iteration
			}
			return AddFactResult{Entry: *e, Merged: true}
		}
	}

	entry := models.Fact{
		ID:         uuid.NewString(),
		Category:   category,
		Fact:       fact,
		Confidence: confidence,
		Source:     source,
		Iteration:  iteration,
		CreatedAt:  f.now(),
	}
	f.entries = append(f.entries, entry)
	f.evictLocked()
	return AddFactResult{Entry: entry, Merged: false}
}

// evictLocked restores the token, entry, and per-category caps, dropping
// lowest-confidence-then-oldest entries first.
func (f *FactSheet) evictLocked() {
	perCategory := make(map[string]int)
	for _, e := range f.entries {
		perCategory[e.Category]++
	}
	for cat, n := range perCategory {
		for n > f.maxPerCategory {
			f.removeWeakestLocked(cat)
			n--
		}
	}
	for len(f.entries) > f.maxEntries || f.estTokensLocked() > f.maxTokens {
		if len(f.entries) == 0 {
			return
		}
		f.removeWeakestLocked("")
	}
}

// removeWeakestLocked removes the lowest-confidence entry (ties broken by
// age, oldest first), optionally restricted to one category.
func (f *FactSheet) removeWeakestLocked(category string) {
	idx := -1
	for i, e := range f.entries {
		if category != "" && e.Category != category {
			continue
		}
		if idx == -1 {
			idx = i
			continue
		}
		w := f.entries[idx]
		if e.Confidence < w.Confidence || (e.Confidence == w.Confidence && e.CreatedAt.Before(w.CreatedAt)) {
			idx = i
		}
	}
	if idx >= 0 {
		f.entries = append(f.entries[:idx], f.entries[idx+1:]...)
	}
}

func (f *FactSheet) estTokensLocked() int {
	total := 0
	for _, e := range f.entries {
		total += estimateTokens(e.Fact) + estimateTokens(e.Category)
	}
	return total
}

// EstTokens reports the current estimated-token footprint.
func (f *FactSheet) EstTokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estTokensLocked()
}

// Len reports the current entry count.
func (f *FactSheet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Entries returns a copy of the current facts in insertion order; a merge
// updates an existing entry in place rather than moving it to the end.
func (f *FactSheet) Entries() []models.Fact {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Fact, len(f.entries))
	copy(out, f.entries)
	return out
}

// Render produces the fact-sheet section appended to the system prompt,
// grouped by category, highest confidence first.
func (f *FactSheet) Render() string {
	f.mu.Lock()
	entries := make([]models.Fact, len(f.entries))
	copy(entries, f.entries)
	f.mu.Unlock()

	if len(entries) == 0 {
		return ""
	}
	byCat := make(map[string][]models.Fact)
	var cats []string
	for _, e := range entries {
		if _, ok := byCat[e.Category]; !ok {
			cats = append(cats, e.Category)
		}
		byCat[e.Category] = append(byCat[e.Category], e)
	}
	sort.Strings(cats)

	var b strings.Builder
	b.WriteString("## Known facts\n")
	for _, cat := range cats {
		facts := byCat[cat]
		sort.Slice(facts, func(i, j int) bool { return facts[i].Confidence > facts[j].Confidence })
		fmt.Fprintf(&b, "### %s\n", cat)
		for _, e := range facts {
			fmt.Fprintf(&b, "- %s (confidence %.2f, iter %d)\n", e.Fact, e.Confidence, e.Iteration)
		}
	}
	return b.String()
}

func normalizeFactText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// textSimilarity is a token-set Jaccard similarity over normalized text.
// Good enough to catch near-duplicate facts without an embedding call.
func textSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	setA := make(map[string]struct{})
	for _, w := range strings.Fields(a) {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, w := range strings.Fields(b) {
		setB[w] = struct{}{}
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
