package agent

// progressRingLen bounds the recent tool name / output size ring buffers.
const progressRingLen = 3

// ProgressUpdate carries the per-iteration inputs to UpdateProgress.
type ProgressUpdate struct {
	Iteration                int
	EvidenceDelta            int
	FailedToolsThisIteration int
	SearchSignalHits         int
}

// ProgressTracker maintains the stall signal: a small scored model of
// whether the run is still learning anything, fed once per iteration.
type ProgressTracker struct {
	lastToolNames   []string
	lastOutputSizes []int

	iterationsSinceProgress int
	lastProgressIteration   int
	lastFailureCount        int
	lastSearchSignalHits    int

	stuckThreshold int
}

// NewProgressTracker builds a tracker with the given stuck threshold.
func NewProgressTracker(stuckThreshold int) *ProgressTracker {
	return &ProgressTracker{stuckThreshold: stuckThreshold}
}

// UpdateProgress scores the iteration and updates the stall counter.
// Scoring: evidence gain is worth the most, then a rising search signal or
// falling failure count, then output growth and tool diversity.
func (p *ProgressTracker) UpdateProgress(toolName string, outputSize int, u ProgressUpdate) {
	previous := 0
	if len(p.lastOutputSizes) > 0 {
		previous = p.lastOutputSizes[len(p.lastOutputSizes)-1]
	}
	outputGrowth := outputSize - previous
	outputGrowthRatio := 0.0
	if previous > 0 {
		outputGrowthRatio = float64(outputSize) / float64(previous)
	} else if outputSize > 0 {
		outputGrowthRatio = 1
	}
	searchSignalDelta := u.SearchSignalHits - p.lastSearchSignalHits
	if searchSignalDelta < 0 {
		searchSignalDelta = 0
	}
	failedDelta := p.lastFailureCount - u.FailedToolsThisIteration

	p.pushRecent(toolName, outputSize)
	repeated := p.repeatedSingleTool()

	score := 0
	if u.EvidenceDelta > 0 {
		score += 3
	}
	if searchSignalDelta > 0 {
		score += 2
	}
	if failedDelta > 0 {
		score += 2
	}
	if outputGrowth >= 300 || outputGrowthRatio >= 1.35 {
		score++
	}
	distinct := make(map[string]struct{}, len(p.lastToolNames))
	for _, name := range p.lastToolNames {
		distinct[name] = struct{}{}
	}
	if !repeated && len(distinct) >= 2 {
		score++
	}

	switch {
	case score >= 2:
		p.iterationsSinceProgress = 0
		p.lastProgressIteration = u.Iteration
	case score == 1:
		if p.iterationsSinceProgress > 0 {
			p.iterationsSinceProgress--
		}
	default:
		p.iterationsSinceProgress++
	}

	p.lastFailureCount = u.FailedToolsThisIteration
	p.lastSearchSignalHits = u.SearchSignalHits
}

func (p *ProgressTracker) pushRecent(toolName string, outputSize int) {
	p.lastToolNames = append(p.lastToolNames, toolName)
	if len(p.lastToolNames) > progressRingLen {
		p.lastToolNames = p.lastToolNames[1:]
	}
	p.lastOutputSizes = append(p.lastOutputSizes, outputSize)
	if len(p.lastOutputSizes) > progressRingLen {
		p.lastOutputSizes = p.lastOutputSizes[1:]
	}
}

// repeatedSingleTool reports whether the last three iterations all used the
// same single tool.
func (p *ProgressTracker) repeatedSingleTool() bool {
	if len(p.lastToolNames) < progressRingLen {
		return false
	}
	first := p.lastToolNames[0]
	for _, n := range p.lastToolNames[1:] {
		if n != first {
			return false
		}
	}
	return true
}

// IsStuck reports whether the run has stalled: the same single tool three
// times in a row, or too many iterations without progress.
func (p *ProgressTracker) IsStuck() bool {
	return p.repeatedSingleTool() || p.iterationsSinceProgress >= p.stuckThreshold
}

// RepeatedSingleTool exposes the repeated-tool component of the stall
// signal for escalation and reflection decisions.
func (p *ProgressTracker) RepeatedSingleTool() bool { return p.repeatedSingleTool() }

// IterationsSinceProgress exposes the stall counter.
func (p *ProgressTracker) IterationsSinceProgress() int { return p.iterationsSinceProgress }

// LastProgressIteration reports the most recent iteration that scored as
// progress, 0 if none did yet.
func (p *ProgressTracker) LastProgressIteration() int { return p.lastProgressIteration }
