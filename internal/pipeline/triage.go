package pipeline

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/session"
)

// TriageResult is the outcome of classifying an incident.
type TriageResult struct {
	StageStatus
	Priority  incident.Priority `json:"priority,omitempty"`
	Category  incident.Category `json:"category,omitempty"`
	Analysis  string            `json:"analysis,omitempty"`
	NextState session.State     `json:"next_state,omitempty"`
}

// Triage classifies and prioritizes a new incident.
type Triage struct {
	deps *Deps
}

// NewTriage creates the triage stage.
func NewTriage(d *Deps) *Triage {
	return &Triage{deps: d}
}

// Process triages inc, creating its session if none exists yet.
func (t *Triage) Process(ctx context.Context, inc *incident.Incident) *TriageResult {
	L := t.deps.logger().With("incident_id", inc.ID, "stage", StageTriage)
	L.Info(ctx, "starting triage")

	if _, ok := t.deps.Sessions.Get(inc.ID); !ok {
		t.deps.Sessions.Create(inc.ID, session.Update{Incident: inc})
	}

	text, err := t.deps.generate(ctx, StageTriage, buildTriagePrompt(inc))
	if err != nil {
		L.Error(ctx, err, "triage failed")
		return &TriageResult{StageStatus: failed(err)}
	}

	priority := ExtractPriority(text)
	category := ExtractCategory(text)

	updated, err := t.deps.updateIncident(ctx, inc.ID, incident.Update{
		Priority:      &priority,
		Category:      &category,
		AssignedAgent: incident.Ptr(TriageAgent),
	})
	if err == nil {
		err = t.deps.record(inc.ID, session.Update{
			Incident:       updated,
			TriageComplete: incident.Ptr(true),
			Priority:       &priority,
			Category:       &category,
			TriageAnalysis: &text,
		}, TriageAgent, string(StageTriage), text, session.StateInvestigation)
	}
	if err != nil {
		L.Error(ctx, err, "triage failed")
		return &TriageResult{StageStatus: failed(err)}
	}

	L.Info(ctx, "triage complete", "priority", priority, "category", category)
	return &TriageResult{
		StageStatus: succeeded(),
		Priority:    priority,
		Category:    category,
		Analysis:    text,
		NextState:   session.StateInvestigation,
	}
}

func buildTriagePrompt(inc *incident.Incident) string {
	return fmt.Sprintf(`You are an incident triage specialist. Classify the incident below and report:
1. Priority (low, medium, high or critical)
2. Category (performance, error, connectivity, security or other)
3. Initial assessment
4. Recommended next steps

Title: %s
Description: %s
Severity: %s
Reporter: %s

Structure your answer with one heading per item.`,
		inc.Title, inc.Description, inc.Severity, inc.Reporter)
}
