package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	signatureRingLen  = 6
	loopDetectRepeats = 3
)

// LoopDetector keeps a bounded ring of per-iteration tool-call signatures
// and declares a loop when the last three are identical.
type LoopDetector struct {
	signatures []string
}

// NewLoopDetector builds an empty detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{}
}

// Signature renders one iteration's tool calls into a stable signature:
// sorted "name:input" pairs joined by "|".
func Signature(calls []models.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, fmt.Sprintf("%s:%s", c.Name, string(c.Input)))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// Record pushes one iteration's signature and reports whether a loop is
// now detected. A loop cannot fire before three iterations have been
// recorded.
func (d *LoopDetector) Record(calls []models.ToolCall) bool {
	d.signatures = append(d.signatures, Signature(calls))
	if len(d.signatures) > signatureRingLen {
		d.signatures = d.signatures[1:]
	}
	if len(d.signatures) < loopDetectRepeats {
		return false
	}
	last := d.signatures[len(d.signatures)-1]
	if last == "" {
		return false
	}
	for i := 2; i <= loopDetectRepeats; i++ {
		if d.signatures[len(d.signatures)-i] != last {
			return false
		}
	}
	return true
}
