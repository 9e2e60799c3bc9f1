package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// emitter enriches and fans out run events and trace records. Sequence
// numbers are strictly monotonic per run.
type emitter struct {
	agentID       string
	parentAgentID string
	runID         string

	sink      EventSink
	tracer    Tracer
	analytics Analytics

	seq atomic.Uint64
	now func() time.Time
}

func newEmitter(agentID, parentAgentID, runID string, sink EventSink, tracer Tracer, analytics Analytics) *emitter {
	return &emitter{
		agentID:       agentID,
		parentAgentID: parentAgentID,
		runID:         runID,
		sink:          sink,
		tracer:        tracer,
		analytics:     analytics,
		now:           time.Now,
	}
}

// emit sends one enriched event to the sink.
func (e *emitter) emit(ctx context.Context, event models.Event) {
	if e.sink == nil {
		return
	}
	event.AgentID = e.agentID
	event.ParentAgentID = e.parentAgentID
	if event.Time.IsZero() {
		event.Time = e.now()
	}
	e.sink.Emit(ctx, event)
}

// trace writes one fire-and-forget trace record with the next sequence
// number.
func (e *emitter) trace(ctx context.Context, typ models.TraceEventType, data map[string]any) {
	if e.tracer == nil {
		return
	}
	e.tracer.Trace(ctx, models.TraceEvent{
		Sequence: e.seq.Add(1),
		Type:     typ,
		Time:     e.now(),
		RunID:    e.runID,
		Data:     data,
	})
}

// track forwards one analytics event.
func (e *emitter) track(ctx context.Context, name string, payload map[string]any) {
	if e.analytics == nil {
		return
	}
	e.analytics.Track(ctx, name, payload)
}
