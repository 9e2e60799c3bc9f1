package agent

import (
	"fmt"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Phase re-exports the execution phase for this package's error types.
type Phase = models.Phase

// allowedTransitions encodes the linear phase order. Backtracking is
// forbidden except executing <-> converging.
var allowedTransitions = map[models.Phase][]models.Phase{
	models.PhaseScoping:      {models.PhasePlanningLite, models.PhaseFailed},
	models.PhasePlanningLite: {models.PhaseExecuting, models.PhaseFailed},
	models.PhaseExecuting:    {models.PhaseConverging, models.PhaseVerifying, models.PhaseFailed},
	models.PhaseConverging:   {models.PhaseExecuting, models.PhaseVerifying, models.PhaseFailed},
	models.PhaseVerifying:    {models.PhaseReporting, models.PhaseFailed},
	models.PhaseReporting:    {models.PhaseCompleted, models.PhaseFailed},
}

// StateMachine tracks the execution phase and per-phase durations for
// telemetry.
type StateMachine struct {
	current   models.Phase
	enteredAt time.Time
	durations map[models.Phase]time.Duration
	now       func() time.Time
}

// NewStateMachine starts in the scoping phase.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		current:   models.PhaseScoping,
		durations: make(map[models.Phase]time.Duration),
		now:       time.Now,
	}
	sm.enteredAt = sm.now()
	return sm
}

// Current reports the active phase.
func (s *StateMachine) Current() models.Phase { return s.current }

// Transition moves to the next phase, recording time spent in the old one.
// Illegal transitions return an error and leave the machine unchanged.
func (s *StateMachine) Transition(to models.Phase) error {
	if to == s.current {
		return nil
	}
	ok := false
	for _, allowed := range allowedTransitions[s.current] {
		if allowed == to {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("agent: illegal phase transition %s -> %s", s.current, to)
	}
	now := s.now()
	s.durations[s.current] += now.Sub(s.enteredAt)
	s.current = to
	s.enteredAt = now
	return nil
}

// Durations returns a copy of the accumulated per-phase durations.
func (s *StateMachine) Durations() map[models.Phase]time.Duration {
	out := make(map[models.Phase]time.Duration, len(s.durations))
	for k, v := range s.durations {
		out[k] = v
	}
	return out
}
