package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/session"
)

// ResolutionResult is the outcome of planning a fix.
type ResolutionResult struct {
	StageStatus
	ResolutionPlan    string        `json:"resolution_plan,omitempty"`
	ResolutionSummary string        `json:"resolution_summary,omitempty"`
	NextState         session.State `json:"next_state,omitempty"`
}

// Resolution produces a resolution plan and documents its summary on the
// incident. It does not change the incident's status.
type Resolution struct {
	deps *Deps
}

// NewResolution creates the resolution stage.
func NewResolution(d *Deps) *Resolution {
	return &Resolution{deps: d}
}

// Process plans the resolution for incident id.
func (s *Resolution) Process(ctx context.Context, id string) *ResolutionResult {
	L := s.deps.logger().With("incident_id", id, "stage", StageResolution)
	L.Info(ctx, "starting resolution")

	sess, inc, err := s.deps.lookup(ctx, StageResolution, id)
	if err != nil {
		L.Error(ctx, err, "resolution failed")
		return &ResolutionResult{StageStatus: failed(err)}
	}

	text, err := s.deps.generate(ctx, StageResolution, buildResolutionPrompt(inc, sess))
	if err != nil {
		L.Error(ctx, err, "resolution failed")
		return &ResolutionResult{StageStatus: failed(err)}
	}

	summary := ExtractResolutionSummary(text)

	updated, err := s.deps.updateIncident(ctx, id, incident.Update{
		Resolution:    &summary,
		AssignedAgent: incident.Ptr(ResolutionAgent),
	})
	if err == nil {
		err = s.deps.record(id, session.Update{
			Incident:           updated,
			ResolutionComplete: incident.Ptr(true),
			ResolutionPlan:     &text,
			ResolutionSummary:  &summary,
		}, ResolutionAgent, string(StageResolution), text, session.StateClosed)
	}
	if err != nil {
		L.Error(ctx, err, "resolution failed")
		return &ResolutionResult{StageStatus: failed(err)}
	}

	L.Info(ctx, "resolution complete")
	return &ResolutionResult{
		StageStatus:       succeeded(),
		ResolutionPlan:    text,
		ResolutionSummary: summary,
		NextState:         session.StateClosed,
	}
}

func buildResolutionPrompt(inc *incident.Incident, sess *session.Session) string {
	diag := "{}"
	if sess.DiagnosticData != nil {
		if b, err := json.MarshalIndent(sess.DiagnosticData, "", "  "); err == nil {
			diag = string(b)
		}
	}
	return fmt.Sprintf(`You are an incident resolver. Write a resolution plan for the incident below.

Incident: %s
Root Cause Analysis: %s
Diagnostic Data: %s

Include:
1. Step-by-step resolution plan
2. Commands or actions to run, if any
3. Verification steps
4. Prevention measures
5. A resolution summary for the incident record`,
		inc.Title, sess.RootCauseAnalysis, diag)
}
