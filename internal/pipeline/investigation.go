package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/session"
)

// kbResultLimit is how many knowledge-base hits are shown to the model.
const kbResultLimit = 2

// InvestigationResult is the outcome of a root-cause investigation.
type InvestigationResult struct {
	StageStatus
	RootCauseAnalysis string                  `json:"root_cause_analysis,omitempty"`
	DiagnosticData    *session.DiagnosticData `json:"diagnostic_data,omitempty"`
	NextState         session.State           `json:"next_state,omitempty"`
}

// Investigation gathers diagnostics and asks for a root-cause analysis.
type Investigation struct {
	deps *Deps
}

// NewInvestigation creates the investigation stage.
func NewInvestigation(d *Deps) *Investigation {
	return &Investigation{deps: d}
}

// Process investigates incident id. Its session must already exist.
func (s *Investigation) Process(ctx context.Context, id string) *InvestigationResult {
	L := s.deps.logger().With("incident_id", id, "stage", StageInvestigation)
	L.Info(ctx, "starting investigation")

	_, inc, err := s.deps.lookup(ctx, StageInvestigation, id)
	if err != nil {
		L.Error(ctx, err, "investigation failed")
		return &InvestigationResult{StageStatus: failed(err)}
	}

	diag := &session.DiagnosticData{
		SystemHealth: s.runTool(ctx, L, "check_system_health", nil),
		Diagnosis:    s.runTool(ctx, L, "diagnose_issue", map[string]any{"symptom": inc.Description}),
		KBResults:    s.searchKnowledgeBase(ctx, L, inc),
	}

	text, err := s.deps.generate(ctx, StageInvestigation, buildInvestigationPrompt(inc, diag))
	if err != nil {
		L.Error(ctx, err, "investigation failed")
		return &InvestigationResult{StageStatus: failed(err)}
	}

	updated, err := s.deps.updateIncident(ctx, id, incident.Update{AssignedAgent: incident.Ptr(InvestigationAgent)})
	if err == nil {
		err = s.deps.record(id, session.Update{
			Incident:              updated,
			InvestigationComplete: incident.Ptr(true),
			RootCauseAnalysis:     &text,
			DiagnosticData:        diag,
		}, InvestigationAgent, string(StageInvestigation), text, session.StateResolution)
	}
	if err != nil {
		L.Error(ctx, err, "investigation failed")
		return &InvestigationResult{StageStatus: failed(err)}
	}

	L.Info(ctx, "investigation complete")
	return &InvestigationResult{
		StageStatus:       succeeded(),
		RootCauseAnalysis: text,
		DiagnosticData:    diag,
		NextState:         session.StateResolution,
	}
}

// runTool executes a diagnostic tool. A failing tool does not fail the
// stage; its slot carries the error instead.
func (s *Investigation) runTool(ctx context.Context, L log.Logger, name string, params any) json.RawMessage {
	if s.deps.Tools == nil {
		return nil
	}
	out, err := s.deps.Tools.Execute(ctx, name, params)
	if err != nil {
		L.Warn(ctx, "diagnostic tool failed", "tool", name, "err", err)
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return b
	}
	return out
}

// searchKnowledgeBase looks for articles in the incident's category first.
// Triage categories describe symptoms while articles are filed by
// subsystem, so an empty category hit falls back to the whole table.
func (s *Investigation) searchKnowledgeBase(ctx context.Context, L log.Logger, inc *incident.Incident) json.RawMessage {
	params := map[string]any{
		"query":    inc.Description,
		"category": string(inc.Category),
		"limit":    kbResultLimit,
	}
	out := s.runTool(ctx, L, "search_knowledge_base", params)
	if inc.Category == "" || !bytes.Equal(bytes.TrimSpace(out), []byte("[]")) {
		return out
	}
	delete(params, "category")
	return s.runTool(ctx, L, "search_knowledge_base", params)
}

func buildInvestigationPrompt(inc *incident.Incident, diag *session.DiagnosticData) string {
	kb := indentJSON(diag.KBResults)
	if kb == "[]" || kb == "null" {
		kb = "None"
	}
	return fmt.Sprintf(`You are an incident investigator. Determine the root cause of the incident below.

Incident: %s
Description: %s
Category: %s
Priority: %s

System Health: %s
Diagnostic Results: %s
Knowledge Base Results: %s

Report:
1. Root cause analysis
2. Contributing factors
3. Evidence from the diagnostics
4. Recommended resolution approach
5. Estimated time to resolve`,
		inc.Title, inc.Description, inc.Category, inc.Priority,
		indentJSON(diag.SystemHealth), indentJSON(diag.Diagnosis), kb)
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
