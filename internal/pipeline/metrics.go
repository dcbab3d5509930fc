package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/responder/internal/notify"
)

// Metrics holds Prometheus metrics for the response pipeline.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	StageDuration      *prometheus.HistogramVec
	LLMCallsTotal      *prometheus.CounterVec
	LLMDuration        *prometheus.HistogramVec
	NotificationsTotal *prometheus.CounterVec
	EvaluationScore    *prometheus.HistogramVec
	SubmitsTotal       *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_runs_total",
			Help: "Total pipeline runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "responder_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "responder_stage_duration_seconds",
			Help:    "Duration of individual stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"stage", "status"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_llm_calls_total",
			Help: "Total text-generation calls by stage and status.",
		}, []string{"stage", "status"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "responder_llm_call_duration_seconds",
			Help:    "Duration of text-generation calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"stage"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_notifications_total",
			Help: "Total stakeholder notifications by priority.",
		}, []string{"priority"}),
		EvaluationScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "responder_evaluation_score",
			Help:    "Judge overall scores by evaluated agent.",
			Buckets: prometheus.LinearBuckets(1, 1, 10), // 1 .. 10
		}, []string{"agent"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_submits_total",
			Help: "Total incident submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StageDuration,
		m.LLMCallsTotal,
		m.LLMDuration,
		m.NotificationsTotal,
		m.EvaluationScore,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns pipeline Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnLLMCall: func(stage Stage, duration float64, isError bool) {
			m.LLMCallsTotal.WithLabelValues(string(stage), statusLabel(isError)).Inc()
			m.LLMDuration.WithLabelValues(string(stage)).Observe(duration)
		},
		OnStage: func(stage Stage, duration float64, isError bool) {
			m.StageDuration.WithLabelValues(string(stage), statusLabel(isError)).Observe(duration)
		},
		OnRun: func(status RunStatus, duration float64) {
			m.RunsTotal.WithLabelValues(string(status)).Inc()
			m.RunDuration.WithLabelValues(string(status)).Observe(duration)
		},
		OnNotification: func(p notify.Priority) {
			m.NotificationsTotal.WithLabelValues(string(p)).Inc()
		},
		OnEvaluation: func(agent string, score float64) {
			m.EvaluationScore.WithLabelValues(agent).Observe(score)
		},
	}
}

// ObserveSubmit counts an incident submission outcome.
func (m *Metrics) ObserveSubmit(result string) {
	m.SubmitsTotal.WithLabelValues(result).Inc()
}

func statusLabel(isError bool) string {
	if isError {
		return "error"
	}
	return "success"
}
