package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/judge"
	"github.com/linnemanlabs/responder/internal/session"
)

var tracer = otel.Tracer("github.com/linnemanlabs/responder/internal/pipeline")

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunResolved RunStatus = "resolved"
	RunError    RunStatus = "error"
)

// Evaluator scores a stage's output.
type Evaluator interface {
	Evaluate(ctx context.Context, req judge.Request) *judge.Evaluation
}

// Outcome is the result of one orchestrator run. On failure only
// Status, Error, TraceID and (when the incident was created) IncidentID
// are set.
type Outcome struct {
	IncidentID    string                      `json:"incident_id,omitempty"`
	Status        RunStatus                   `json:"status"`
	Error         string                      `json:"error,omitempty"`
	Triage        *TriageResult               `json:"triage,omitempty"`
	Investigation *InvestigationResult        `json:"investigation,omitempty"`
	Resolution    *ResolutionResult           `json:"resolution,omitempty"`
	FinalIncident *incident.Incident          `json:"final_incident,omitempty"`
	Evaluation    map[Stage]*judge.Evaluation `json:"evaluation,omitempty"`
	Session       *session.Session            `json:"session,omitempty"`
	TraceID       string                      `json:"trace_id"`
}

// Accepted identifies a submitted run that continues in the background.
type Accepted struct {
	IncidentID string `json:"incident_id"`
	TraceID    string `json:"trace_id"`
}

// Orchestrator drives one incident at a time through the stages.
type Orchestrator struct {
	mu sync.Mutex
	wg sync.WaitGroup

	deps          *Deps
	triage        *Triage
	investigation *Investigation
	resolution    *Resolution
	communication *Communication
	judge         Evaluator
	traces        *TraceRecorder
}

// NewOrchestrator wires the stages around d. ev may be nil, in which
// case evaluation requests are ignored.
func NewOrchestrator(d *Deps, ev Evaluator, traces *TraceRecorder) *Orchestrator {
	if traces == nil {
		traces = NewTraceRecorder()
	}
	return &Orchestrator{
		deps:          d,
		triage:        NewTriage(d),
		investigation: NewInvestigation(d),
		resolution:    NewResolution(d),
		communication: NewCommunication(d),
		judge:         ev,
		traces:        traces,
	}
}

// Traces returns the recorder holding this orchestrator's run traces.
func (o *Orchestrator) Traces() *TraceRecorder {
	return o.traces
}

// Handle creates an incident and runs it through triage, investigation and
// resolution, sending a stakeholder update after each. Runs are serialized.
func (o *Orchestrator) Handle(ctx context.Context, in incident.NewIncident, evaluate bool) *Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	traceID := o.traces.Start("handle_incident", OrchestratorAgent)

	inc, err := o.deps.Incidents.Create(ctx, in)
	if err != nil {
		err = fmt.Errorf("create incident: %w", err)
		o.deps.logger().Error(ctx, err, "incident handling failed", "trace_id", traceID)
		o.finish(ctx, start, traceID, err)
		return &Outcome{TraceID: traceID, Status: RunError, Error: err.Error()}
	}
	return o.execute(ctx, start, traceID, inc, evaluate)
}

// Submit creates the incident and starts its run in the background, returning
// as soon as the incident is stored. Progress is visible through the incident
// store, the session tracker and the trace recorder. The run outlives ctx.
func (o *Orchestrator) Submit(ctx context.Context, in incident.NewIncident, evaluate bool) (*Accepted, error) {
	inc, err := o.deps.Incidents.Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	start := time.Now()
	traceID := o.traces.Start("handle_incident", OrchestratorAgent)
	o.deps.logger().Info(ctx, "incident accepted", "incident_id", inc.ID, "trace_id", traceID)

	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.mu.Lock()
		defer o.mu.Unlock()
		o.execute(runCtx, start, traceID, inc, evaluate)
	}()

	return &Accepted{IncidentID: inc.ID, TraceID: traceID}, nil
}

// Wait blocks until every submitted run has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs the stages for an already stored incident. Callers hold o.mu.
func (o *Orchestrator) execute(ctx context.Context, start time.Time, traceID string, inc *incident.Incident, evaluate bool) *Outcome {
	ctx, span := tracer.Start(ctx, "incident.handle",
		trace.WithAttributes(
			attribute.String("responder.trace.id", traceID),
			attribute.String("responder.incident.id", inc.ID),
		),
	)
	defer span.End()

	out, err := o.run(ctx, traceID, inc, evaluate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "incident handling failed")
		o.deps.logger().Error(ctx, err, "incident handling failed", "incident_id", inc.ID)
		out.Status = RunError
		out.Error = err.Error()
		out.Triage, out.Investigation, out.Resolution = nil, nil, nil
	}
	span.SetAttributes(attribute.String("responder.run.status", string(out.Status)))

	o.finish(ctx, start, traceID, err)
	return out
}

// finish closes the run trace and reports the run to the hooks.
func (o *Orchestrator) finish(ctx context.Context, start time.Time, traceID string, runErr error) {
	if endErr := o.traces.End(traceID, runErr); endErr != nil {
		o.deps.logger().Warn(ctx, "trace end failed", "trace_id", traceID, "err", endErr)
	}
	if o.deps.Hooks.OnRun != nil {
		status := RunResolved
		if runErr != nil {
			status = RunError
		}
		o.deps.Hooks.OnRun(status, time.Since(start).Seconds())
	}
}

func (o *Orchestrator) run(ctx context.Context, traceID string, inc *incident.Incident, evaluate bool) (*Outcome, error) {
	out := &Outcome{TraceID: traceID, IncidentID: inc.ID}

	L := o.deps.logger().With("incident_id", inc.ID, "trace_id", traceID)
	L.Info(ctx, "incident created", "severity", inc.Severity)

	out.Triage = runStage(ctx, o, traceID, inc.ID, StageTriage, TriageAgent, func(ctx context.Context) *TriageResult {
		return o.triage.Process(ctx, inc)
	})
	o.communicate(ctx, traceID, inc.ID, StageTriage)
	if err := o.check(inc.ID, "Triage", out.Triage.StageStatus, session.StateTriage); err != nil {
		return out, err
	}

	out.Investigation = runStage(ctx, o, traceID, inc.ID, StageInvestigation, InvestigationAgent, func(ctx context.Context) *InvestigationResult {
		return o.investigation.Process(ctx, inc.ID)
	})
	o.communicate(ctx, traceID, inc.ID, StageInvestigation)
	if err := o.check(inc.ID, "Investigation", out.Investigation.StageStatus, session.StateInvestigation); err != nil {
		return out, err
	}

	out.Resolution = runStage(ctx, o, traceID, inc.ID, StageResolution, ResolutionAgent, func(ctx context.Context) *ResolutionResult {
		return o.resolution.Process(ctx, inc.ID)
	})
	o.communicate(ctx, traceID, inc.ID, StageResolution)
	if err := o.check(inc.ID, "Resolution", out.Resolution.StageStatus, session.StateResolution); err != nil {
		return out, err
	}

	final, ok, err := o.deps.Incidents.Get(ctx, inc.ID)
	if err != nil {
		return out, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return out, fmt.Errorf("get incident %s: %w", inc.ID, incident.ErrNotFound)
	}
	out.FinalIncident = final
	out.Status = RunResolved
	L.Info(ctx, "incident resolved")

	if evaluate {
		out.Evaluation = o.evaluate(ctx, inc.ID, out)
	}

	out.Session, _ = o.deps.Sessions.Get(inc.ID)
	return out, nil
}

// check turns a failed stage into the run error, and verifies the stage
// moved the session to the canonical successor of from.
func (o *Orchestrator) check(id, name string, st StageStatus, from session.State) error {
	if !st.OK() {
		return fmt.Errorf("%s failed: %w", name, stageErr(st))
	}
	sess, ok := o.deps.Sessions.Get(id)
	if !ok {
		return fmt.Errorf("%s failed: %s: %w", name, id, session.ErrNotFound)
	}
	if !session.ValidTransition(from, sess.State) {
		return fmt.Errorf("%s failed: invalid state transition %s -> %s", name, from, sess.State)
	}
	return nil
}

func stageErr(st StageStatus) error {
	if err := st.Err(); err != nil {
		return err
	}
	return errors.New(st.Error)
}

// communicate sends the stakeholder update for stage. Its outcome never
// affects the run.
func (o *Orchestrator) communicate(ctx context.Context, traceID, id string, stage Stage) {
	res := runStage(ctx, o, traceID, id, Stage("communication_"+string(stage)), CommunicationAgent,
		func(ctx context.Context) *CommunicationResult {
			return o.communication.Process(ctx, id, stage)
		})
	if !res.OK() {
		o.deps.logger().Warn(ctx, "communication failed", "incident_id", id, "for_stage", stage, "err", res.Error)
	}
}

func (o *Orchestrator) evaluate(ctx context.Context, id string, out *Outcome) map[Stage]*judge.Evaluation {
	if o.judge == nil {
		o.deps.logger().Warn(ctx, "evaluation requested but no judge configured", "incident_id", id)
		return nil
	}

	ctx, span := tracer.Start(ctx, "incident.evaluate")
	defer span.End()

	evalCtx := map[string]any{"incident_id": id}
	reqs := []struct {
		stage Stage
		req   judge.Request
	}{
		{StageTriage, judge.Request{Agent: TriageAgent, Task: "Classify and prioritize incident", Response: out.Triage.Analysis, Context: evalCtx}},
		{StageInvestigation, judge.Request{Agent: InvestigationAgent, Task: "Investigate root cause using diagnostic tools", Response: out.Investigation.RootCauseAnalysis, Context: evalCtx}},
		{StageResolution, judge.Request{Agent: ResolutionAgent, Task: "Generate resolution plan", Response: out.Resolution.ResolutionPlan, Context: evalCtx}},
	}

	evals := make(map[Stage]*judge.Evaluation, len(reqs))
	for _, r := range reqs {
		ev := o.judge.Evaluate(ctx, r.req)
		evals[r.stage] = ev
		if ev.OverallScore != nil && o.deps.Hooks.OnEvaluation != nil {
			o.deps.Hooks.OnEvaluation(r.req.Agent, *ev.OverallScore)
		}
	}
	return evals
}

type stageResult interface {
	OK() bool
}

// runStage times fn, records it as a span on the run trace, and mirrors it
// to an OpenTelemetry span.
func runStage[R stageResult](ctx context.Context, o *Orchestrator, traceID, id string, stage Stage, agent string, fn func(context.Context) R) R {
	ctx, span := tracer.Start(ctx, "stage."+string(stage),
		trace.WithAttributes(
			attribute.String("responder.incident.id", id),
			attribute.String("responder.agent", agent),
		),
	)
	defer span.End()

	start := time.Now()
	res := fn(ctx)
	elapsed := time.Since(start)

	ok := res.OK()
	if !ok {
		span.SetStatus(codes.Error, "stage failed")
	}
	span.SetAttributes(attribute.Bool("responder.stage.success", ok))

	if err := o.traces.AddSpan(traceID, Span{
		Name:       string(stage),
		Agent:      agent,
		StartTime:  start,
		DurationMS: float64(elapsed.Microseconds()) / 1000,
		Success:    ok,
		Metadata:   map[string]any{"incident_id": id},
	}); err != nil {
		o.deps.logger().Warn(ctx, "trace span not recorded", "trace_id", traceID, "err", err)
	}
	if o.deps.Hooks.OnStage != nil {
		o.deps.Hooks.OnStage(stage, elapsed.Seconds(), !ok)
	}
	return res
}
