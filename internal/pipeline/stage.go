package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/llm"
	"github.com/linnemanlabs/responder/internal/notify"
	"github.com/linnemanlabs/responder/internal/session"
	"github.com/linnemanlabs/responder/internal/tools"
)

// ErrUpstream wraps every failed or empty text-generation call.
var ErrUpstream = errors.New("upstream generation failed")

// Stage names a pipeline step.
type Stage string

const (
	StageTriage        Stage = "triage"
	StageInvestigation Stage = "investigation"
	StageResolution    Stage = "resolution"
	StageCommunication Stage = "communication"
)

// Agent names, recorded in session history and trace spans.
const (
	TriageAgent        = "TriageAgent"
	InvestigationAgent = "InvestigationAgent"
	ResolutionAgent    = "ResolutionAgent"
	CommunicationAgent = "CommunicationAgent"
	OrchestratorAgent  = "Orchestrator"
)

// Status is the tag on every stage result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// StageStatus is embedded in every stage result.
type StageStatus struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	err    error
}

// OK reports whether the stage succeeded.
func (s StageStatus) OK() bool { return s.Status == StatusSuccess }

// Err returns the failure cause, or nil on success.
func (s StageStatus) Err() error { return s.err }

func succeeded() StageStatus { return StageStatus{Status: StatusSuccess} }

func failed(err error) StageStatus {
	return StageStatus{Status: StatusError, Error: err.Error(), err: err}
}

// Notifier records and delivers a stakeholder notification.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, message string, priority notify.Priority) (*notify.Notification, error)
}

// Hooks receives pipeline events, typically for metrics. Nil fields are skipped.
type Hooks struct {
	OnLLMCall      func(stage Stage, duration float64, isError bool)
	OnStage        func(stage Stage, duration float64, isError bool)
	OnRun          func(status RunStatus, duration float64)
	OnNotification func(priority notify.Priority)
	OnEvaluation   func(agent string, score float64)
}

// Deps are the collaborators shared by every stage. The stores are owned
// by the caller; stages only read and write through them.
type Deps struct {
	Generator llm.Generator
	Incidents incident.Store
	Sessions  *session.Tracker
	Notifier  Notifier
	Tools     *tools.Registry
	Hooks     Hooks
	Logger    log.Logger
}

func (d *Deps) logger() log.Logger {
	if d.Logger == nil {
		return log.Nop()
	}
	return d.Logger
}

// generate makes the stage's single generation call. Blank replies count as failures.
func (d *Deps) generate(ctx context.Context, stage Stage, prompt string) (string, error) {
	start := time.Now()
	text, err := d.Generator.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyResponse
	}
	if d.Hooks.OnLLMCall != nil {
		d.Hooks.OnLLMCall(stage, time.Since(start).Seconds(), err != nil)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return text, nil
}

// lookup fetches the session and incident a stage works on.
func (d *Deps) lookup(ctx context.Context, stage Stage, id string) (*session.Session, *incident.Incident, error) {
	sess, ok := d.Sessions.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%s %s: %w", stage, id, session.ErrNotFound)
	}
	inc, ok, err := d.Incidents.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: get incident: %w", stage, id, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%s %s: %w", stage, id, incident.ErrNotFound)
	}
	return sess, inc, nil
}

// updateIncident applies u and returns the stored record. A missing
// incident is reported as ErrNotFound.
func (d *Deps) updateIncident(ctx context.Context, id string, u incident.Update) (*incident.Incident, error) {
	inc, ok, err := d.Incidents.Update(ctx, id, u)
	if err != nil {
		return nil, fmt.Errorf("update incident %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("update incident %s: %w", id, incident.ErrNotFound)
	}
	return inc, nil
}

// record writes a completed stage's session fields, history entry and
// next state, in that order.
func (d *Deps) record(id string, u session.Update, agent, action, result string, next session.State) error {
	if err := d.Sessions.Update(id, u); err != nil {
		return err
	}
	if err := d.Sessions.AddHistory(id, agent, action, result); err != nil {
		return err
	}
	return d.Sessions.SetState(id, next)
}
