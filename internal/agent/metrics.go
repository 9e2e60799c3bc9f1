package agent

import (
	"context"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Metrics exports per-run KPIs as Prometheus collectors and folds each run
// into the session's persisted baseline, flagging regressions.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	tierEscalated    *prometheus.CounterVec
	iterationsUsed   prometheus.Histogram
	tokensUsed       prometheus.Histogram
	qualityScore     prometheus.Gauge
	budgetExtensions prometheus.Counter
	toolErrors       prometheus.Counter

	store  SessionStore
	logger *slog.Logger
}

// NewMetrics builds and registers the KPI collectors.
func NewMetrics(reg prometheus.Registerer, store SessionStore, logger *slog.Logger) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_runs_total",
			Help: "Completed agent runs by outcome.",
		}, []string{"outcome"}),
		tierEscalated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tier_escalated_total",
			Help: "Tier escalations by from/to tier.",
		}, []string{"from_tier", "to_tier"}),
		iterationsUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_iterations_used",
			Help:    "Iterations used per run.",
			Buckets: prometheus.LinearBuckets(1, 3, 10),
		}),
		tokensUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_tokens_used",
			Help:    "Tokens used per run.",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 10),
		}),
		qualityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_quality_score",
			Help: "Quality gate score of the most recent run.",
		}),
		budgetExtensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_budget_extensions_total",
			Help: "Iteration budget extensions granted.",
		}),
		toolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_tool_errors_total",
			Help: "Failed tool executions.",
		}),
		store:  store,
		logger: logger,
	}
	if reg != nil {
		reg.MustRegister(m.runsTotal, m.tierEscalated, m.iterationsUsed, m.tokensUsed,
			m.qualityScore, m.budgetExtensions, m.toolErrors)
	}
	return m
}

// RecordEscalation counts one tier escalation.
func (m *Metrics) RecordEscalation(from, to models.Tier) {
	m.tierEscalated.WithLabelValues(string(from), string(to)).Inc()
}

// RunSample is the per-run KPI payload folded into the baseline.
type RunSample struct {
	SessionID          string
	Success            bool
	IterationsUsed     int
	Budget             int
	TokensUsed         int
	QualityScore       float64
	DriftRate          float64
	EvidenceDensity    float64
	ToolErrorRate      float64
	ToolErrors         int
	BudgetExtensions   int
	HypothesisSwitches int
}

// regressionTolerance is how far above the baseline EMA a rate may move
// before the run is flagged as a regression.
const regressionTolerance = 0.15

// EmitRun exports the run's KPIs, updates the session baseline, and logs a
// regression warning when the run is clearly worse than the baseline.
func (m *Metrics) EmitRun(ctx context.Context, sample RunSample) {
	outcome := "failure"
	if sample.Success {
		outcome = "success"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.iterationsUsed.Observe(float64(sample.IterationsUsed))
	m.tokensUsed.Observe(float64(sample.TokensUsed))
	m.qualityScore.Set(sample.QualityScore)
	m.budgetExtensions.Add(float64(sample.BudgetExtensions))
	m.toolErrors.Add(float64(sample.ToolErrors))

	if m.store == nil || sample.SessionID == "" {
		return
	}
	baseline, err := m.store.GetKPIBaseline(ctx, sample.SessionID)
	if err == nil && baseline != nil && baseline.Samples >= 3 {
		if sample.ToolErrorRate > baseline.ToolErrorRateEma+regressionTolerance {
			m.logger.Warn("KPI regression: tool error rate above baseline",
				"rate", sample.ToolErrorRate, "baseline", baseline.ToolErrorRateEma, "session_id", sample.SessionID)
		}
		if sample.EvidenceDensity < math.Max(0, baseline.EvidenceDensityEma-regressionTolerance) {
			m.logger.Warn("KPI regression: evidence density below baseline",
				"density", sample.EvidenceDensity, "baseline", baseline.EvidenceDensityEma, "session_id", sample.SessionID)
		}
	}

	utilization := 0.0
	if sample.Budget > 0 {
		utilization = float64(sample.IterationsUsed) / float64(sample.Budget)
	}
	err = m.store.UpdateKPIBaseline(ctx, sample.SessionID, func(b *models.KPIBaseline) {
		b.RecordSample(sample.DriftRate, sample.EvidenceDensity, sample.ToolErrorRate,
			sample.TokensUsed, utilization, sample.QualityScore)
	})
	if err != nil {
		m.logger.Warn("failed to update KPI baseline", "error", err, "session_id", sample.SessionID)
	}
}
