package agent

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Guard runs pre-dispatch assertions on normalized tool calls. A rejection
// is a GuardRejectedError: it is fed back to the model as a hint and never
// counted as a tool error.
type Guard struct {
	taskText string

	minReadWindowLines    int
	maxSmallWindowReads   int
	smallWindowReadCounts map[string]int

	schemas map[string]*jsonschema.Schema
}

// NewGuard builds a guard for one run. Tool definitions with parseable
// JSON Schemas get their inputs validated against them before dispatch.
func NewGuard(taskText string, minReadWindowLines, maxSmallWindowReads int, defs []ToolDefinition) *Guard {
	g := &Guard{
		taskText:              strings.ToLower(taskText),
		minReadWindowLines:    minReadWindowLines,
		maxSmallWindowReads:   maxSmallWindowReads,
		smallWindowReadCounts: make(map[string]int),
		schemas:               make(map[string]*jsonschema.Schema),
	}
	for _, def := range defs {
		if len(def.Parameters) == 0 {
			continue
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(def.Name+".json", strings.NewReader(string(def.Parameters))); err != nil {
			continue
		}
		if schema, err := compiler.Compile(def.Name + ".json"); err == nil {
			g.schemas[def.Name] = schema
		}
	}
	return g
}

var secondaryArtifactMarkers = []string{"/dist/", "/build/", ".map", ".min.js", ".backup", ".bak", ".orig", ".tmp"}

// Check asserts the guard rules for one normalized call. A nil return
// means the call may dispatch.
func (g *Guard) Check(call models.ToolCall) *GuardRejectedError {
	var input map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return &GuardRejectedError{
				ToolName: call.Name,
				Reason:   "input is not a JSON object",
				Hint:     "re-emit the call with a valid JSON argument object",
			}
		}
	}

	if schema, ok := g.schemas[call.Name]; ok {
		var doc any
		if err := json.Unmarshal(call.Input, &doc); err == nil {
			if err := schema.Validate(doc); err != nil {
				return &GuardRejectedError{
					ToolName: call.Name,
					Reason:   "input does not match the tool schema",
					Hint:     err.Error(),
				}
			}
		}
	}

	switch call.Name {
	case "glob_search":
		if pattern, _ := input["pattern"].(string); strings.TrimSpace(pattern) == "" {
			return &GuardRejectedError{
				ToolName: call.Name,
				Reason:   "empty pattern",
				Hint:     "provide a file name fragment or glob pattern to search for",
			}
		}
	case "grep_search":
		if pattern, _ := input["pattern"].(string); strings.TrimSpace(pattern) == "" {
			return &GuardRejectedError{
				ToolName: call.Name,
				Reason:   "empty pattern",
				Hint:     "provide a regex or literal string to search for",
			}
		}
	case "fs_read":
		return g.checkRead(input)
	case "fs_write":
		if path, _ := input["path"].(string); strings.TrimSpace(path) == "" {
			return &GuardRejectedError{
				ToolName: call.Name,
				Reason:   "empty path",
				Hint:     "provide the path of the file to write",
			}
		}
	}
	return nil
}

func (g *Guard) checkRead(input map[string]any) *GuardRejectedError {
	path, _ := input["path"].(string)
	if strings.TrimSpace(path) == "" {
		return &GuardRejectedError{
			ToolName: "fs_read",
			Reason:   "empty path",
			Hint:     "provide the path of the file to read",
		}
	}

	low := strings.ToLower(path)
	for _, marker := range secondaryArtifactMarkers {
		if strings.Contains(low, marker) && !strings.Contains(g.taskText, marker) {
			return &GuardRejectedError{
				ToolName: "fs_read",
				Reason:   "secondary artifact path " + path,
				Hint:     "read the primary source file instead of generated or backup artifacts",
			}
		}
	}

	limit := intField(input, "limit")
	if limit > 0 && limit < g.minReadWindowLines {
		g.smallWindowReadCounts[path]++
		if g.smallWindowReadCounts[path] > g.maxSmallWindowReads {
			return &GuardRejectedError{
				ToolName: "fs_read",
				Reason:   "too many small-window reads of " + path,
				Hint:     "read a larger window of the file in one call instead of many small slices",
			}
		}
	} else {
		g.smallWindowReadCounts[path] = 0
	}
	return nil
}
