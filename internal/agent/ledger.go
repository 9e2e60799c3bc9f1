package agent

import (
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Ledger is the ordered log of per-tool-call steps the orchestrator opens
// and closes. The quality gate scores failed and dangling steps.
type Ledger struct {
	steps []models.LedgerStep
	now   func() time.Time
}

// NewLedger builds an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// Start opens a step for a tool call and returns its id.
func (l *Ledger) Start(goal, capability, toolName string) string {
	step := models.LedgerStep{
		ID:         uuid.NewString(),
		Goal:       goal,
		Capability: capability,
		ToolName:   toolName,
		Status:     models.LedgerStarted,
		StartedAt:  l.now(),
	}
	l.steps = append(l.steps, step)
	return step.ID
}

// Close resolves a step to completed or failed with an optional message.
func (l *Ledger) Close(id string, status models.LedgerStatus, message string) {
	for i := range l.steps {
		if l.steps[i].ID == id {
			l.steps[i].Status = status
			l.steps[i].Message = message
			l.steps[i].EndedAt = l.now()
			return
		}
	}
}

// FailedCount reports how many steps ended failed.
func (l *Ledger) FailedCount() int {
	n := 0
	for _, s := range l.steps {
		if s.Status == models.LedgerFailed {
			n++
		}
	}
	return n
}

// PendingCount reports how many steps are still open.
func (l *Ledger) PendingCount() int {
	n := 0
	for _, s := range l.steps {
		if s.Status == models.LedgerStarted {
			n++
		}
	}
	return n
}

// Steps returns a copy of all steps in order.
func (l *Ledger) Steps() []models.LedgerStep {
	out := make([]models.LedgerStep, len(l.steps))
	copy(out, l.steps)
	return out
}
