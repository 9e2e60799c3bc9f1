package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ValidationResult is the shape of the set_validation_result tool call.
type ValidationResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

var validationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"success": {"type": "boolean"},
		"summary": {"type": "string"}
	},
	"required": ["success", "summary"]
}`)

// Validator decides whether the model's final text actually completes the
// task. Informational tasks with evidence-rich answers are fast-accepted;
// everything else goes through one validation LLM call with a structured
// fallback.
type Validator struct {
	provider Provider
	logger   *slog.Logger

	minResponseChars int
	minFilesRead     int
	minDensity       float64
}

// NewValidator builds a validator.
func NewValidator(provider Provider, minResponseChars, minFilesRead int, minDensity float64, logger *slog.Logger) *Validator {
	return &Validator{
		provider:         provider,
		logger:           logger,
		minResponseChars: minResponseChars,
		minFilesRead:     minFilesRead,
		minDensity:       minDensity,
	}
}

// ValidationInput carries everything the validator may need.
type ValidationInput struct {
	Task                string
	Intent              models.Intent
	FinalText           string
	Stats               *RunStats
	IterationsUsed      int
	Tier                models.Tier
	FileExcerpts        map[string]string // path -> excerpt, <= 3 files x 1000 chars
	PriorRunsHadChanges bool
	NoResultConclusion  bool
}

var evidenceMarkerRe = regexp.MustCompile("(?s)([\\w./-]+\\.[a-z]{1,5}(:\\d+)?)|```")

// Validate returns (success, summary).
func (v *Validator) Validate(ctx context.Context, in ValidationInput) (bool, string) {
	// Fast path: an informational answer that is long enough, cites
	// evidence, and is backed by real file contact is accepted verbatim.
	if in.Intent != models.IntentAction {
		hasMarkers := evidenceMarkerRe.MatchString(in.FinalText)
		sufficient := len(in.Stats.FilesRead) >= v.minFilesRead ||
			in.Stats.EvidenceDensity(in.IterationsUsed) >= v.minDensity ||
			in.Stats.SearchSignalHits > 0
		if len(in.FinalText) >= v.minResponseChars && hasMarkers && sufficient {
			return true, in.FinalText
		}
	}

	success, summary, err := v.validateWithLLM(ctx, in)
	if err != nil {
		v.logger.Warn("validation LLM call failed, falling back to heuristics", "error", err)
		hasFileChanges := len(in.Stats.FilesModified) > 0 || len(in.Stats.FilesCreated) > 0
		hasEvidence := in.Stats.EvidenceCount() > 0
		ok := hasFileChanges || hasEvidence || in.NoResultConclusion
		return ok, in.FinalText
	}
	return success, summary
}

func (v *Validator) validateWithLLM(ctx context.Context, in ValidationInput) (bool, string, error) {
	if v.provider == nil {
		return false, "", ErrNoProvider
	}
	var b strings.Builder
	b.WriteString("Judge whether the agent's response completes the task, then call set_validation_result exactly once.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\n", in.Task)
	fmt.Fprintf(&b, "Files read: %v\nFiles modified: %v\nFiles created: %v\n", in.Stats.FilesRead, in.Stats.FilesModified, in.Stats.FilesCreated)
	if in.PriorRunsHadChanges {
		b.WriteString("Previous runs of this same task produced file changes; a run with none is suspicious.\n")
	}
	if len(in.FileExcerpts) > 0 {
		b.WriteString("\nFile excerpts:\n")
		count := 0
		for path, excerpt := range in.FileExcerpts {
			if count >= 3 {
				break
			}
			if len(excerpt) > 1000 {
				excerpt = excerpt[:1000]
			}
			fmt.Fprintf(&b, "--- %s ---\n%s\n", path, excerpt)
			count++
		}
	}
	fmt.Fprintf(&b, "\nAgent response:\n%s\n", in.FinalText)

	result, err := v.provider.ChatWithTools(ctx, in.Tier, []models.Message{{Role: models.RoleUser, Content: b.String()}}, ChatOptions{
		Tools: []ToolDefinition{{
			Name:        "set_validation_result",
			Description: "Record whether the agent's response completes the task, with a summary.",
			Parameters:  validationSchema,
		}},
		Temperature: 0,
		ToolChoice:  ToolChoiceAuto,
	})
	if err != nil {
		return false, "", err
	}
	for _, call := range result.ToolCalls {
		if call.Name != "set_validation_result" {
			continue
		}
		var out ValidationResult
		if err := json.Unmarshal(call.Input, &out); err != nil {
			return false, "", err
		}
		summary := out.Summary
		if summary == "" {
			summary = in.FinalText
		}
		return out.Success, summary, nil
	}
	return false, "", fmt.Errorf("agent: model did not call set_validation_result")
}
