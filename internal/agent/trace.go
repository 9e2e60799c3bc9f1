package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// JSONLTracer writes each trace event as one JSON line. Writes are
// serialized; failures are logged and dropped (the tracer contract is
// fire-and-forget).
type JSONLTracer struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewJSONLTracer opens (appending) the trace file at path.
func NewJSONLTracer(path string, logger *slog.Logger) (*JSONLTracer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLTracer{file: f, logger: logger}, nil
}

// Trace writes one event line.
func (t *JSONLTracer) Trace(_ context.Context, event models.TraceEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		t.logger.Warn("trace marshal failed", "error", err, "type", event.Type)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Write(append(data, '\n')); err != nil {
		t.logger.Warn("trace write failed", "error", err)
	}
}

// Close flushes and closes the trace file.
func (t *JSONLTracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// NopTracer drops everything. Useful in tests and when tracing is off.
type NopTracer struct{}

// Trace implements Tracer.
func (NopTracer) Trace(context.Context, models.TraceEvent) {}

// NopAnalytics drops everything.
type NopAnalytics struct{}

// Track implements Analytics.
func (NopAnalytics) Track(context.Context, string, map[string]any) {}

// NopEventSink drops everything.
type NopEventSink struct{}

// Emit implements EventSink.
func (NopEventSink) Emit(context.Context, models.Event) {}
