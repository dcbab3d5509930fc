// Package session tracks per-incident state across the pipeline stages:
// the lifecycle state, the fields each stage writes, and an append-only
// history of everything that happened.
package session

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/linnemanlabs/responder/internal/incident"
)

// State is the lifecycle position of an incident within the pipeline.
type State string

const (
	StateTriage        State = "triage"
	StateInvestigation State = "investigation"
	StateResolution    State = "resolution"
	StateClosed        State = "closed"
)

// lifecycle is the canonical forward order.
var lifecycle = []State{StateTriage, StateInvestigation, StateResolution, StateClosed}

// Next returns the canonical successor of s. Closed and unknown states have none.
func (s State) Next() (State, bool) {
	for i, st := range lifecycle {
		if st == s && i+1 < len(lifecycle) {
			return lifecycle[i+1], true
		}
	}
	return "", false
}

// ValidTransition reports whether to is the canonical successor of from.
func ValidTransition(from, to State) bool {
	next, ok := from.Next()
	return ok && next == to
}

// DiagnosticData bundles the tool outputs the investigation stage worked from.
type DiagnosticData struct {
	SystemHealth json.RawMessage `json:"system_health,omitempty"`
	Diagnosis    json.RawMessage `json:"diagnosis,omitempty"`
	KBResults    json.RawMessage `json:"kb_results,omitempty"`
}

// Session is the mutable per-incident record shared by all stages.
type Session struct {
	IncidentID string         `json:"incident_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	State      State          `json:"state"`
	History    []HistoryEntry `json:"history"`

	Incident *incident.Incident `json:"incident,omitempty"`

	TriageComplete bool              `json:"triage_complete,omitempty"`
	Priority       incident.Priority `json:"priority,omitempty"`
	Category       incident.Category `json:"category,omitempty"`
	TriageAnalysis string            `json:"triage_analysis,omitempty"`

	InvestigationComplete bool            `json:"investigation_complete,omitempty"`
	RootCauseAnalysis     string          `json:"root_cause_analysis,omitempty"`
	DiagnosticData        *DiagnosticData `json:"diagnostic_data,omitempty"`

	ResolutionComplete bool   `json:"resolution_complete,omitempty"`
	ResolutionPlan     string `json:"resolution_plan,omitempty"`
	ResolutionSummary  string `json:"resolution_summary,omitempty"`

	// Extra carries stage-specific payloads without a dedicated field.
	Extra map[string]any `json:"extra,omitempty"`
}

// HistoryEntry is one audit record. Agent entries carry Agent, Action and
// Result; implicit entries from Tracker.Update carry Updates.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent,omitempty"`
	Action    string    `json:"action,omitempty"`
	Result    string    `json:"result,omitempty"`
	Updates   *Update   `json:"updates,omitempty"`
}

// Update is a partial session update. Only non-nil fields (and Extra keys)
// are merged.
type Update struct {
	State    *State             `json:"state,omitempty"`
	Incident *incident.Incident `json:"incident,omitempty"`

	TriageComplete *bool              `json:"triage_complete,omitempty"`
	Priority       *incident.Priority `json:"priority,omitempty"`
	Category       *incident.Category `json:"category,omitempty"`
	TriageAnalysis *string            `json:"triage_analysis,omitempty"`

	InvestigationComplete *bool           `json:"investigation_complete,omitempty"`
	RootCauseAnalysis     *string         `json:"root_cause_analysis,omitempty"`
	DiagnosticData        *DiagnosticData `json:"diagnostic_data,omitempty"`

	ResolutionComplete *bool   `json:"resolution_complete,omitempty"`
	ResolutionPlan     *string `json:"resolution_plan,omitempty"`
	ResolutionSummary  *string `json:"resolution_summary,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

func (u *Update) apply(s *Session) {
	if u.State != nil {
		s.State = *u.State
	}
	if u.Incident != nil {
		s.Incident = u.Incident.Clone()
	}
	if u.TriageComplete != nil {
		s.TriageComplete = *u.TriageComplete
	}
	if u.Priority != nil {
		s.Priority = *u.Priority
	}
	if u.Category != nil {
		s.Category = *u.Category
	}
	if u.TriageAnalysis != nil {
		s.TriageAnalysis = *u.TriageAnalysis
	}
	if u.InvestigationComplete != nil {
		s.InvestigationComplete = *u.InvestigationComplete
	}
	if u.RootCauseAnalysis != nil {
		s.RootCauseAnalysis = *u.RootCauseAnalysis
	}
	if u.DiagnosticData != nil {
		dd := *u.DiagnosticData
		s.DiagnosticData = &dd
	}
	if u.ResolutionComplete != nil {
		s.ResolutionComplete = *u.ResolutionComplete
	}
	if u.ResolutionPlan != nil {
		s.ResolutionPlan = *u.ResolutionPlan
	}
	if u.ResolutionSummary != nil {
		s.ResolutionSummary = *u.ResolutionSummary
	}
	if len(u.Extra) > 0 {
		if s.Extra == nil {
			s.Extra = make(map[string]any, len(u.Extra))
		}
		maps.Copy(s.Extra, u.Extra)
	}
}

// clone copies u so a history entry is not affected by later caller edits.
func (u Update) clone() *Update {
	cp := u
	if u.Extra != nil {
		cp.Extra = maps.Clone(u.Extra)
	}
	if u.Incident != nil {
		cp.Incident = u.Incident.Clone()
	}
	return &cp
}

func (s *Session) clone() *Session {
	cp := *s
	cp.History = append([]HistoryEntry(nil), s.History...)
	if s.Incident != nil {
		cp.Incident = s.Incident.Clone()
	}
	if s.DiagnosticData != nil {
		dd := *s.DiagnosticData
		cp.DiagnosticData = &dd
	}
	if s.Extra != nil {
		cp.Extra = maps.Clone(s.Extra)
	}
	return &cp
}
