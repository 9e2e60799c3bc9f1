package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Archive is the cold tier of working memory: every tool output is stored
// untruncated and indexed by file path and tool name so the model can
// recall it later through the archive_recall tool. Writes happen only on
// the loop goroutine; reads may come from the tool context.
type Archive struct {
	maxEntries    int
	maxTotalChars int

	entries    []models.ArchiveEntry
	byFilePath map[string][]int
	byToolName map[string][]int
	totalChars int
	nextID     int
	now        func() time.Time
}

// NewArchive builds an empty archive with the given caps.
func NewArchive(maxEntries, maxTotalChars int) *Archive {
	return &Archive{
		maxEntries:    maxEntries,
		maxTotalChars: maxTotalChars,
		byFilePath:    make(map[string][]int),
		byToolName:    make(map[string][]int),
		nextID:        1,
		now:           time.Now,
	}
}

// Store appends one tool output and evicts oldest entries until both the
// entry cap and the total-chars cap hold again. It returns the stored entry
// and how many entries were evicted to make room.
func (a *Archive) Store(iteration int, toolName, toolInput, fullOutput, filePath string, keyFacts []string) (models.ArchiveEntry, int) {
	entry := models.ArchiveEntry{
		ID:         fmt.Sprintf("arch-%d", a.nextID),
		Iteration:  iteration,
		ToolName:   toolName,
		ToolInput:  toolInput,
		FullOutput: fullOutput,
		OutputLen:  len(fullOutput),
		EstTokens:  estimateTokens(fullOutput),
		Timestamp:  a.now().UTC(),
		FilePath:   filePath,
		KeyFacts:   keyFacts,
	}
	a.nextID++
	a.entries = append(a.entries, entry)
	a.totalChars += entry.OutputLen
	a.reindex()

	evicted := 0
	prevSize := -1
	for (len(a.entries) > a.maxEntries || a.totalChars > a.maxTotalChars) && len(a.entries) > 0 {
		// Size-stalled guard: if an eviction pass fails to shrink the
		// archive, bail rather than loop forever.
		if a.totalChars == prevSize && len(a.entries) <= a.maxEntries {
			break
		}
		prevSize = a.totalChars
		a.evictOldest()
		evicted++
	}
	if evicted > 0 {
		a.reindex()
	}
	return entry, evicted
}

// evictOldest removes the entry with the minimum (iteration, timestamp).
func (a *Archive) evictOldest() {
	idx := 0
	for i := 1; i < len(a.entries); i++ {
		e, min := a.entries[i], a.entries[idx]
		if e.Iteration < min.Iteration || (e.Iteration == min.Iteration && e.Timestamp.Before(min.Timestamp)) {
			idx = i
		}
	}
	a.totalChars -= a.entries[idx].OutputLen
	a.entries = append(a.entries[:idx], a.entries[idx+1:]...)
}

func (a *Archive) reindex() {
	a.byFilePath = make(map[string][]int, len(a.entries))
	a.byToolName = make(map[string][]int, len(a.entries))
	for i, e := range a.entries {
		if e.FilePath != "" {
			a.byFilePath[e.FilePath] = append(a.byFilePath[e.FilePath], i)
		}
		a.byToolName[e.ToolName] = append(a.byToolName[e.ToolName], i)
	}
}

// RecallByFilePath returns the most recent entry for a file path.
func (a *Archive) RecallByFilePath(path string) (models.ArchiveEntry, bool) {
	idxs := a.byFilePath[path]
	if len(idxs) == 0 {
		return models.ArchiveEntry{}, false
	}
	return a.entries[idxs[len(idxs)-1]], true
}

// RecallAllByFilePath returns every entry for a file path in chronological
// order.
func (a *Archive) RecallAllByFilePath(path string) []models.ArchiveEntry {
	idxs := a.byFilePath[path]
	out := make([]models.ArchiveEntry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, a.entries[i])
	}
	return out
}

// RecallByToolName returns up to limit most-recent entries for a tool.
func (a *Archive) RecallByToolName(toolName string, limit int) []models.ArchiveEntry {
	idxs := a.byToolName[toolName]
	if limit > 0 && len(idxs) > limit {
		idxs = idxs[len(idxs)-limit:]
	}
	out := make([]models.ArchiveEntry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, a.entries[i])
	}
	return out
}

// RecallByIteration returns every entry stored during one iteration.
func (a *Archive) RecallByIteration(iteration int) []models.ArchiveEntry {
	var out []models.ArchiveEntry
	for _, e := range a.entries {
		if e.Iteration == iteration {
			out = append(out, e)
		}
	}
	return out
}

// Search returns up to limit entries whose output, input, or file path
// contains the keyword (case-insensitive), most recent first.
func (a *Archive) Search(keyword string, limit int) []models.ArchiveEntry {
	kw := strings.ToLower(keyword)
	var out []models.ArchiveEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if strings.Contains(strings.ToLower(e.FullOutput), kw) ||
			strings.Contains(strings.ToLower(e.ToolInput), kw) ||
			strings.Contains(strings.ToLower(e.FilePath), kw) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Len reports the current entry count.
func (a *Archive) Len() int { return len(a.entries) }

// TotalChars reports the current total output size.
func (a *Archive) TotalChars() int { return a.totalChars }

// SummaryHint renders the one-line archive hint injected into the system
// prompt.
func (a *Archive) SummaryHint() string {
	if len(a.entries) == 0 {
		return ""
	}
	return fmt.Sprintf("Archive: %d stored tool outputs (%d chars, %d files indexed); use archive_recall to re-read any of them in full.",
		len(a.entries), a.totalChars, len(a.byFilePath))
}

// archiveSnapshot is the persisted form of an Archive.
type archiveSnapshot struct {
	Entries []models.ArchiveEntry `json:"entries"`
	NextID  int                   `json:"next_id"`
}

// Persist writes the archive to path as JSON, creating parent directories.
func (a *Archive) Persist(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive persist: %w", err)
	}
	data, err := json.Marshal(archiveSnapshot{Entries: a.entries, NextID: a.nextID})
	if err != nil {
		return fmt.Errorf("archive persist: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadArchive reads a persisted archive back, rebuilding indexes and sizes.
func LoadArchive(path string, maxEntries, maxTotalChars int) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive load: %w", err)
	}
	var snap archiveSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("archive load: %w", err)
	}
	a := NewArchive(maxEntries, maxTotalChars)
	a.entries = snap.Entries
	a.nextID = snap.NextID
	for _, e := range a.entries {
		a.totalChars += e.OutputLen
	}
	a.reindex()
	return a, nil
}
