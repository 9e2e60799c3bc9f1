package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// HeuristicFact is one deterministically extracted fact candidate.
type HeuristicFact struct {
	Category   string
	Fact       string
	Confidence float64
}

var symbolDeclRe = regexp.MustCompile(`(?m)^([\w./-]+\.\w{1,5}):(\d+):.*\b(func|type|class|def|interface|const|var)\s+(\w+)`)

// ExtractHeuristicFacts derives cheap facts from one successful tool
// result without an LLM call. The loop filters them by the configured
// minimum confidence.
func ExtractHeuristicFacts(toolName string, input json.RawMessage, output string) []HeuristicFact {
	var args map[string]any
	_ = json.Unmarshal(input, &args)
	path, _ := args["path"].(string)

	var facts []HeuristicFact
	switch toolName {
	case "fs_read":
		if path != "" && output != "" {
			lines := strings.Count(output, "\n") + 1
			facts = append(facts, HeuristicFact{
				Category:   "files",
				Fact:       fmt.Sprintf("file %s exists; read %d lines", path, lines),
				Confidence: 0.9,
			})
		}
	case "fs_write":
		if path != "" {
			facts = append(facts, HeuristicFact{
				Category:   "changes",
				Fact:       fmt.Sprintf("wrote file %s", path),
				Confidence: 0.95,
			})
		}
	case "fs_list":
		if path != "" {
			n := len(strings.Split(strings.TrimSpace(output), "\n"))
			facts = append(facts, HeuristicFact{
				Category:   "layout",
				Fact:       fmt.Sprintf("directory %s holds %d entries", path, n),
				Confidence: 0.8,
			})
		}
	case "grep_search", "find_definition":
		for _, m := range symbolDeclRe.FindAllStringSubmatch(output, 3) {
			facts = append(facts, HeuristicFact{
				Category:   "symbols",
				Fact:       fmt.Sprintf("symbol %s declared at %s:%s", m[4], m[1], m[2]),
				Confidence: 0.85,
			})
		}
	}
	return facts
}

// FilePathFromInput extracts the file path argument of a tool call, if it
// has one, for archive indexing and domain tracking.
func FilePathFromInput(input json.RawMessage) string {
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return ""
	}
	if p, _ := args["path"].(string); p != "" {
		return p
	}
	if p, _ := args["directory"].(string); p != "" {
		return p
	}
	return ""
}
