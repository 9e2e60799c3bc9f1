package agent

import (
	"log/slog"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Options configures the iteration loop and all of its collaborators:
// budgets, memory caps, stall thresholds, and context sizing.
type Options struct {
	// MaxIterations is the configured upper bound on the classifier's
	// iteration budget. The effective budget is clamped to
	// [4, min(MaxIterations, 20)].
	// Default: 20
	MaxIterations int

	// SlidingWindowSize is how many recent messages from full history the
	// context builder forwards to the LLM.
	// Default: 20
	SlidingWindowSize int

	// MaxToolOutputChars truncates tool outputs inserted into the
	// conversation; the full output is preserved in the archive.
	// Default: 8000
	MaxToolOutputChars int

	// SummarizationInterval fires the background summarizer every N
	// iterations.
	// Default: 4
	SummarizationInterval int

	// Temperature for the main loop's ChatWithTools calls.
	// Default: 0.2
	Temperature float64

	// MaxTokens per LLM response.
	// Default: 4096
	MaxTokens int

	// FactSheet caps (hot memory).
	FactSheetMaxTokens      int     // Default: 2000
	FactSheetMaxEntries     int     // Default: 50
	FactSheetMaxPerCategory int     // Default: 12
	FactSimilarityThreshold float64 // Default: 0.85
	AutoFactMinConfidence   float64 // Default: 0.6

	// Archive caps (cold memory).
	ArchiveMaxEntries    int // Default: 200
	ArchiveMaxTotalChars int // Default: 2_000_000

	// StuckThreshold is the iterations-without-progress count that flags a
	// stall.
	// Default: 3
	StuckThreshold int

	// MinIterationsBeforeConclusion gates no-result early conclusion.
	// Default: 3
	MinIterationsBeforeConclusion int

	// MaxNoSignalPerTier is the consecutive no-signal search iteration
	// count, per tier, that triggers no-result convergence.
	MaxNoSignalPerTier map[models.Tier]int

	// Read-guard knobs.
	MinReadWindowLines                    int // Default: 40
	MaxConsecutiveSmallWindowReadsPerFile int // Default: 2

	// MinInformationalResponseChars is the validator's fast-accept length
	// floor for informational tasks.
	// Default: 350
	MinInformationalResponseChars int

	// Evidence sufficiency floors for the validator's fast path.
	MinFilesReadForEvidence int     // Default: 2
	MinEvidenceDensity      float64 // Default: 0.3

	// EnableEscalation turns stall-driven tier escalation on.
	// Default: true in DefaultOptions; sanitizeOptions leaves this field
	// as given, so a zero Options runs with escalation off.
	EnableEscalation bool

	// MaxLoggedBudgetExtensions is a log-only guard against runaway budget
	// extensions; extensions beyond it still happen but are logged at Warn.
	// Default: 5
	MaxLoggedBudgetExtensions int

	// MaxIterationsWithoutProgressForMediumSearch biases search assessment
	// to the medium tier once the stall counter reaches it.
	// Default: 2
	MaxIterationsWithoutProgressForMediumSearch int

	// Logger receives loop diagnostics.
	Logger *slog.Logger
}

// DefaultOptions returns the baseline loop options.
func DefaultOptions() Options {
	return Options{
		MaxIterations:                 20,
		SlidingWindowSize:             20,
		MaxToolOutputChars:            8000,
		SummarizationInterval:         4,
		Temperature:                   0.2,
		MaxTokens:                     4096,
		FactSheetMaxTokens:            2000,
		FactSheetMaxEntries:           50,
		FactSheetMaxPerCategory:       12,
		FactSimilarityThreshold:       0.85,
		AutoFactMinConfidence:         0.6,
		ArchiveMaxEntries:             200,
		ArchiveMaxTotalChars:          2_000_000,
		StuckThreshold:                3,
		MinIterationsBeforeConclusion: 3,
		MaxNoSignalPerTier: map[models.Tier]int{
			models.TierSmall:  3,
			models.TierMedium: 4,
			models.TierLarge:  5,
		},
		MinReadWindowLines:                    40,
		MaxConsecutiveSmallWindowReadsPerFile: 2,
		MinInformationalResponseChars:         350,
		MinFilesReadForEvidence:               2,
		MinEvidenceDensity:                    0.3,
		EnableEscalation:                      true,
		MaxLoggedBudgetExtensions:             5,
		MaxIterationsWithoutProgressForMediumSearch: 2,
		Logger: slog.Default(),
	}
}

func sanitizeOptions(opts Options) Options {
	defaults := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaults.MaxIterations
	}
	if opts.SlidingWindowSize <= 0 {
		opts.SlidingWindowSize = defaults.SlidingWindowSize
	}
	if opts.MaxToolOutputChars <= 0 {
		opts.MaxToolOutputChars = defaults.MaxToolOutputChars
	}
	if opts.SummarizationInterval <= 0 {
		opts.SummarizationInterval = defaults.SummarizationInterval
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaults.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.FactSheetMaxTokens <= 0 {
		opts.FactSheetMaxTokens = defaults.FactSheetMaxTokens
	}
	if opts.FactSheetMaxEntries <= 0 {
		opts.FactSheetMaxEntries = defaults.FactSheetMaxEntries
	}
	if opts.FactSheetMaxPerCategory <= 0 {
		opts.FactSheetMaxPerCategory = defaults.FactSheetMaxPerCategory
	}
	if opts.FactSimilarityThreshold <= 0 {
		opts.FactSimilarityThreshold = defaults.FactSimilarityThreshold
	}
	if opts.AutoFactMinConfidence <= 0 {
		opts.AutoFactMinConfidence = defaults.AutoFactMinConfidence
	}
	if opts.ArchiveMaxEntries <= 0 {
		opts.ArchiveMaxEntries = defaults.ArchiveMaxEntries
	}
	if opts.ArchiveMaxTotalChars <= 0 {
		opts.ArchiveMaxTotalChars = defaults.ArchiveMaxTotalChars
	}
	if opts.StuckThreshold <= 0 {
		opts.StuckThreshold = defaults.StuckThreshold
	}
	if opts.MinIterationsBeforeConclusion <= 0 {
		opts.MinIterationsBeforeConclusion = defaults.MinIterationsBeforeConclusion
	}
	if len(opts.MaxNoSignalPerTier) == 0 {
		opts.MaxNoSignalPerTier = defaults.MaxNoSignalPerTier
	}
	if opts.MinReadWindowLines <= 0 {
		opts.MinReadWindowLines = defaults.MinReadWindowLines
	}
	if opts.MaxConsecutiveSmallWindowReadsPerFile <= 0 {
		opts.MaxConsecutiveSmallWindowReadsPerFile = defaults.MaxConsecutiveSmallWindowReadsPerFile
	}
	if opts.MinInformationalResponseChars <= 0 {
		opts.MinInformationalResponseChars = defaults.MinInformationalResponseChars
	}
	if opts.MinFilesReadForEvidence <= 0 {
		opts.MinFilesReadForEvidence = defaults.MinFilesReadForEvidence
	}
	if opts.MinEvidenceDensity <= 0 {
		opts.MinEvidenceDensity = defaults.MinEvidenceDensity
	}
	if opts.MaxLoggedBudgetExtensions <= 0 {
		opts.MaxLoggedBudgetExtensions = defaults.MaxLoggedBudgetExtensions
	}
	if opts.MaxIterationsWithoutProgressForMediumSearch <= 0 {
		opts.MaxIterationsWithoutProgressForMediumSearch = defaults.MaxIterationsWithoutProgressForMediumSearch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// estimateTokens is the cheap chars/4 heuristic used consistently across
// the fact sheet, archive, and context builder.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
