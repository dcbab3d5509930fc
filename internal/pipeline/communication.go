package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

// CommunicationResult is the outcome of a stakeholder update.
type CommunicationResult struct {
	StageStatus
	Subject        string `json:"subject,omitempty"`
	Message        string `json:"message,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

// Communication writes a status update after a substantive stage and
// sends it to the incident's reporter.
type Communication struct {
	deps *Deps
}

// NewCommunication creates the communication stage.
func NewCommunication(d *Deps) *Communication {
	return &Communication{deps: d}
}

// Process sends the update for stage of incident id.
func (s *Communication) Process(ctx context.Context, id string, stage Stage) *CommunicationResult {
	L := s.deps.logger().With("incident_id", id, "stage", StageCommunication, "for_stage", stage)
	L.Info(ctx, "generating communication")

	sess, inc, err := s.deps.lookup(ctx, StageCommunication, id)
	if err != nil {
		L.Error(ctx, err, "communication failed")
		return &CommunicationResult{StageStatus: failed(err)}
	}

	sessJSON, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		L.Error(ctx, err, "communication failed")
		return &CommunicationResult{StageStatus: failed(fmt.Errorf("marshal session: %w", err))}
	}

	prompt := fmt.Sprintf(`You write incident status updates for stakeholders. Keep it clear and brief.

Incident: %s
Current Stage: %s
Priority: %s
Reporter: %s

Session Data: %s

Write:
1. A subject line for the update
2. A short status message (2-3 sentences)
3. Current status and progress
4. Next steps or expected timeline
5. Any action needed from stakeholders`,
		inc.Title, stage, inc.Priority, inc.Reporter, sessJSON)

	text, err := s.deps.generate(ctx, StageCommunication, prompt)
	if err != nil {
		L.Error(ctx, err, "communication failed")
		return &CommunicationResult{StageStatus: failed(err)}
	}

	subject := ExtractSubject(text, stage)
	priority := NotificationPriority(inc.Priority)

	res := &CommunicationResult{StageStatus: succeeded(), Subject: subject, Message: text}
	if s.deps.Notifier != nil {
		n, err := s.deps.Notifier.Send(ctx, inc.Reporter, subject, text, priority)
		if err != nil {
			L.Error(ctx, err, "communication failed")
			return &CommunicationResult{StageStatus: failed(fmt.Errorf("send notification: %w", err))}
		}
		res.NotificationID = n.ID
		if s.deps.Hooks.OnNotification != nil {
			s.deps.Hooks.OnNotification(priority)
		}
	}

	if err := s.deps.Sessions.AddHistory(id, CommunicationAgent, "communication_"+string(stage), text); err != nil {
		L.Error(ctx, err, "communication failed")
		return &CommunicationResult{StageStatus: failed(err)}
	}

	L.Info(ctx, "communication sent", "subject", subject, "priority", priority)
	return res
}
