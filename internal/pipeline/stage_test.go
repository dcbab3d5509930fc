package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/incident/memstore"
	"github.com/linnemanlabs/responder/internal/llm"
	"github.com/linnemanlabs/responder/internal/notify"
	"github.com/linnemanlabs/responder/internal/session"
	"github.com/linnemanlabs/responder/internal/tools"
)

// Prompt fragments that identify which stage is calling the generator.
const (
	triageMarker        = "triage specialist"
	investigationMarker = "incident investigator"
	resolutionMarker    = "incident resolver"
	communicationMarker = "status updates for stakeholders"
)

const fixedReply = `Priority: High
Category: performance
Subject: DB timeout update
Summary:
Restarted connection pool
Scaled read replicas

End of report.`

// mockGenerator echoes reply for every prompt, failing prompts that
// contain failOn.
type mockGenerator struct {
	mu      sync.Mutex
	reply   string
	failOn  string
	err     error
	prompts []string
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	if m.failOn != "" && strings.Contains(prompt, m.failOn) {
		if m.err != nil {
			return "", m.err
		}
		return "", errors.New("generation failed")
	}
	return m.reply, nil
}

func (m *mockGenerator) calls(marker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.Contains(p, marker) {
			n++
		}
	}
	return n
}

func newTestDeps(gen llm.Generator) (*Deps, *notify.Log) {
	notes := notify.NewLog(nil, log.Nop())
	return &Deps{
		Generator: gen,
		Incidents: memstore.New(),
		Sessions:  session.NewTracker(),
		Notifier:  notes,
		Tools:     tools.NewRegistry(tools.NewSystemHealth(), tools.IssueDiagnoser{}, tools.DefaultKnowledgeBase()),
		Logger:    log.Nop(),
	}, notes
}

func createIncident(t *testing.T, d *Deps) *incident.Incident {
	t.Helper()
	inc, err := d.Incidents.Create(context.Background(), incident.NewIncident{
		Title:       "DB timeout",
		Description: "connection timeouts, 40% error increase",
		Reporter:    "ops@x.com",
		Severity:    "high",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return inc
}

func getIncident(t *testing.T, d *Deps, id string) *incident.Incident {
	t.Helper()
	inc, ok, err := d.Incidents.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("Get(%s): ok=%v err=%v", id, ok, err)
	}
	return inc
}

func agentEntries(h []session.HistoryEntry) []session.HistoryEntry {
	var out []session.HistoryEntry
	for _, e := range h {
		if e.Agent != "" {
			out = append(out, e)
		}
	}
	return out
}

func TestTriage_Success(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{reply: fixedReply}
	d, _ := newTestDeps(gen)
	inc := createIncident(t, d)

	res := NewTriage(d).Process(context.Background(), inc)
	if !res.OK() {
		t.Fatalf("status = %q, error = %q", res.Status, res.Error)
	}
	if res.Priority != incident.PriorityHigh || res.Category != incident.CategoryPerformance {
		t.Errorf("priority/category = %q/%q", res.Priority, res.Category)
	}
	if res.NextState != session.StateInvestigation {
		t.Errorf("NextState = %q", res.NextState)
	}
	if res.Analysis != fixedReply {
		t.Error("analysis should be the raw reply")
	}

	got := getIncident(t, d, inc.ID)
	if got.Priority != incident.PriorityHigh || got.Category != incident.CategoryPerformance {
		t.Errorf("incident priority/category = %q/%q", got.Priority, got.Category)
	}
	if got.AssignedAgent == nil || *got.AssignedAgent != TriageAgent {
		t.Errorf("AssignedAgent = %v", got.AssignedAgent)
	}

	sess, ok := d.Sessions.Get(inc.ID)
	if !ok {
		t.Fatal("expected session to be created")
	}
	if sess.State != session.StateInvestigation {
		t.Errorf("State = %q", sess.State)
	}
	if !sess.TriageComplete || sess.TriageAnalysis != fixedReply || sess.Priority != incident.PriorityHigh {
		t.Errorf("session triage fields not written: %+v", sess)
	}
	if sess.Incident == nil || sess.Incident.ID != inc.ID {
		t.Error("session should carry the incident snapshot")
	}

	entries := agentEntries(sess.History)
	if len(entries) != 1 || entries[0].Agent != TriageAgent || entries[0].Action != "triage" || entries[0].Result != fixedReply {
		t.Errorf("agent history = %+v", entries)
	}

	if !strings.Contains(gen.prompts[0], "Title: DB timeout") || !strings.Contains(gen.prompts[0], "Severity: high") {
		t.Errorf("prompt missing incident fields:\n%s", gen.prompts[0])
	}
}

func TestTriage_KeepsExistingSession(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(&mockGenerator{reply: "Critical issue"})
	inc := createIncident(t, d)
	d.Sessions.Create(inc.ID, session.Update{Extra: map[string]any{"source": "pager"}})

	res := NewTriage(d).Process(context.Background(), inc)
	if !res.OK() {
		t.Fatalf("error = %q", res.Error)
	}
	if res.Priority != incident.PriorityCritical {
		t.Errorf("Priority = %q, want critical", res.Priority)
	}

	sess, _ := d.Sessions.Get(inc.ID)
	if sess.Extra["source"] != "pager" {
		t.Error("existing session was replaced")
	}
}

func TestTriage_UpstreamFailure(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(&mockGenerator{failOn: triageMarker, err: errors.New("quota exceeded")})
	inc := createIncident(t, d)

	res := NewTriage(d).Process(context.Background(), inc)
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if !errors.Is(res.Err(), ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", res.Err())
	}
	if !strings.Contains(res.Error, "quota exceeded") {
		t.Errorf("Error = %q", res.Error)
	}

	sess, ok := d.Sessions.Get(inc.ID)
	if !ok || sess.State != session.StateTriage {
		t.Errorf("session should exist in triage state, got %+v", sess)
	}
	if got := getIncident(t, d, inc.ID); got.Priority != "" {
		t.Errorf("priority written on failure: %q", got.Priority)
	}
}

func TestTriage_EmptyReply(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(&mockGenerator{reply: " \n "})
	inc := createIncident(t, d)

	res := NewTriage(d).Process(context.Background(), inc)
	if !errors.Is(res.Err(), ErrUpstream) || !errors.Is(res.Err(), llm.ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrUpstream wrapping ErrEmptyResponse", res.Err())
	}
}

func TestInvestigation_MissingSession(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{reply: fixedReply}
	d, _ := newTestDeps(gen)
	inc := createIncident(t, d)

	res := NewInvestigation(d).Process(context.Background(), inc.ID)
	if !errors.Is(res.Err(), session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", res.Err())
	}
	if len(gen.prompts) != 0 {
		t.Error("generator should not be called without a session")
	}
}

func TestInvestigation_MissingIncident(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(&mockGenerator{reply: fixedReply})
	d.Sessions.Create("INC-9999", session.Update{})

	res := NewInvestigation(d).Process(context.Background(), "INC-9999")
	if !errors.Is(res.Err(), incident.ErrNotFound) {
		t.Fatalf("err = %v, want incident.ErrNotFound", res.Err())
	}
}

func TestInvestigation_Success(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{reply: "Root cause: pool exhaustion"}
	d, _ := newTestDeps(gen)
	inc := createIncident(t, d)
	d.Sessions.Create(inc.ID, session.Update{Incident: inc})
	_ = d.Sessions.SetState(inc.ID, session.StateInvestigation)

	res := NewInvestigation(d).Process(context.Background(), inc.ID)
	if !res.OK() {
		t.Fatalf("error = %q", res.Error)
	}
	if res.RootCauseAnalysis != "Root cause: pool exhaustion" || res.NextState != session.StateResolution {
		t.Errorf("result = %+v", res)
	}

	var health tools.HealthReport
	if err := json.Unmarshal(res.DiagnosticData.SystemHealth, &health); err != nil {
		t.Fatalf("system health: %v", err)
	}
	if health.OverallStatus != "healthy" || len(health.Components) != 5 {
		t.Errorf("health = %+v", health)
	}

	var diag tools.Diagnosis
	if err := json.Unmarshal(res.DiagnosticData.Diagnosis, &diag); err != nil {
		t.Fatalf("diagnosis: %v", err)
	}
	if diag.Diagnosis != "Performance degradation" {
		t.Errorf("Diagnosis = %q", diag.Diagnosis)
	}

	sess, _ := d.Sessions.Get(inc.ID)
	if sess.State != session.StateResolution || !sess.InvestigationComplete {
		t.Errorf("session = %+v", sess)
	}
	if sess.DiagnosticData == nil || len(sess.DiagnosticData.KBResults) == 0 {
		t.Error("diagnostic data not stored on session")
	}

	prompt := gen.prompts[0]
	for _, want := range []string{"System Health:", "Performance degradation", "Knowledge Base Results:"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestInvestigation_ToolFailureDoesNotFail(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(&mockGenerator{reply: "root cause"})
	d.Tools = tools.NewRegistry(tools.NewSystemHealth())
	inc := createIncident(t, d)
	d.Sessions.Create(inc.ID, session.Update{})

	res := NewInvestigation(d).Process(context.Background(), inc.ID)
	if !res.OK() {
		t.Fatalf("error = %q", res.Error)
	}
	if !strings.Contains(string(res.DiagnosticData.Diagnosis), "unknown tool") {
		t.Errorf("Diagnosis = %s, want error slot", res.DiagnosticData.Diagnosis)
	}
}

func TestResolution_Success(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{reply: fixedReply}
	d, _ := newTestDeps(gen)
	inc := createIncident(t, d)
	d.Sessions.Create(inc.ID, session.Update{RootCauseAnalysis: incident.Ptr("pool exhaustion")})

	res := NewResolution(d).Process(context.Background(), inc.ID)
	if !res.OK() {
		t.Fatalf("error = %q", res.Error)
	}
	wantSummary := "Restarted connection pool\nScaled read replicas"
	if res.ResolutionSummary != wantSummary {
		t.Errorf("ResolutionSummary = %q", res.ResolutionSummary)
	}

	got := getIncident(t, d, inc.ID)
	if got.Resolution == nil || *got.Resolution != wantSummary {
		t.Errorf("incident resolution = %v", got.Resolution)
	}
	if got.Status != incident.StatusOpen {
		t.Errorf("incident status = %q, want open", got.Status)
	}

	sess, _ := d.Sessions.Get(inc.ID)
	if sess.State != session.StateClosed || sess.ResolutionPlan != fixedReply || sess.ResolutionSummary != wantSummary {
		t.Errorf("session = %+v", sess)
	}
	if !strings.Contains(gen.prompts[0], "Root Cause Analysis: pool exhaustion") {
		t.Error("prompt missing root cause")
	}
}

func TestCommunication_SendsToReporter(t *testing.T) {
	t.Parallel()

	d, notes := newTestDeps(&mockGenerator{reply: fixedReply})
	inc := createIncident(t, d)
	_, _, _ = d.Incidents.Update(context.Background(), inc.ID, incident.Update{Priority: incident.Ptr(incident.PriorityCritical)})
	d.Sessions.Create(inc.ID, session.Update{})

	res := NewCommunication(d).Process(context.Background(), inc.ID, StageTriage)
	if !res.OK() {
		t.Fatalf("error = %q", res.Error)
	}
	if res.Subject != "DB timeout update" || res.NotificationID != "NOTIF-0001" {
		t.Errorf("result = %+v", res)
	}

	sent := notes.List("ops@x.com")
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	if sent[0].Priority != notify.PriorityUrgent || sent[0].Message != fixedReply {
		t.Errorf("notification = %+v", sent[0])
	}

	entries := agentEntries(d.Sessions.History(inc.ID))
	if len(entries) != 1 || entries[0].Action != "communication_triage" || entries[0].Agent != CommunicationAgent {
		t.Errorf("history = %+v", entries)
	}
}

func TestCommunication_DefaultSubject(t *testing.T) {
	t.Parallel()

	d, notes := newTestDeps(&mockGenerator{reply: "Investigation is under way."})
	inc := createIncident(t, d)
	d.Sessions.Create(inc.ID, session.Update{})

	res := NewCommunication(d).Process(context.Background(), inc.ID, StageInvestigation)
	if res.Subject != "Incident Update - Investigation" {
		t.Errorf("Subject = %q", res.Subject)
	}
	if got := notes.List(""); len(got) != 1 || got[0].Priority != notify.PriorityNormal {
		t.Errorf("notifications = %+v", got)
	}
}

func TestCommunication_MissingSession(t *testing.T) {
	t.Parallel()

	d, notes := newTestDeps(&mockGenerator{reply: fixedReply})
	inc := createIncident(t, d)

	res := NewCommunication(d).Process(context.Background(), inc.ID, StageTriage)
	if !errors.Is(res.Err(), session.ErrNotFound) {
		t.Errorf("err = %v, want session.ErrNotFound", res.Err())
	}
	if len(notes.List("")) != 0 {
		t.Error("no notification expected")
	}
}

func TestInvestigation_KnowledgeBaseFallsBackAcrossCategories(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(&mockGenerator{reply: "root cause"})
	inc := createIncident(t, d)
	if _, _, err := d.Incidents.Update(context.Background(), inc.ID, incident.Update{
		Category: incident.Ptr(incident.CategoryPerformance),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	d.Sessions.Create(inc.ID, session.Update{})

	res := NewInvestigation(d).Process(context.Background(), inc.ID)
	if !res.OK() {
		t.Fatalf("error = %q", res.Error)
	}

	var hits []tools.SearchResult
	if err := json.Unmarshal(res.DiagnosticData.KBResults, &hits); err != nil {
		t.Fatalf("kb results: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != "KB-001" {
		t.Fatalf("kb results = %+v, want KB-001 first", hits)
	}
	if len(hits) > kbResultLimit {
		t.Errorf("kb results = %d, want at most %d", len(hits), kbResultLimit)
	}
}
