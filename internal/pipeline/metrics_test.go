package pipeline

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/responder/internal/notify"
)

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	h := m.Hooks()

	h.OnLLMCall(StageTriage, 1.2, false)
	h.OnLLMCall(StageTriage, 0.3, true)
	h.OnStage(StageInvestigation, 2, false)
	h.OnRun(RunResolved, 10)
	h.OnRun(RunError, 3)
	h.OnRun(RunResolved, 8)
	h.OnNotification(notify.PriorityUrgent)
	h.OnEvaluation(TriageAgent, 8.5)
	m.ObserveSubmit("accepted")

	if got := testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("triage", "success")); got != 1 {
		t.Errorf("llm success calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("triage", "error")); got != 1 {
		t.Errorf("llm error calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("resolved")); got != 2 {
		t.Errorf("resolved runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("urgent")); got != 1 {
		t.Errorf("urgent notifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SubmitsTotal.WithLabelValues("accepted")); got != 1 {
		t.Errorf("accepted submits = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.StageDuration); n != 1 {
		t.Errorf("stage duration series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(m.EvaluationScore); n != 1 {
		t.Errorf("evaluation score series = %d, want 1", n)
	}
}

func TestMetrics_RegisterTwicePanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(reg)
}
