package incidentapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/notify"
)

const defaultSeverity = "medium"

type createIncidentRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	Reporter    string `json:"reporter" validate:"required"`
	Severity    string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Evaluate    *bool  `json:"evaluate"`
}

type closeIncidentRequest struct {
	Resolution string `json:"resolution" validate:"required"`
}

func (a *API) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if !a.decode(w, r, &req) {
		a.observeSubmit(SubmitInvalid)
		return
	}
	if a.deps.Limiter != nil && !a.deps.Limiter.Allow() {
		a.observeSubmit(SubmitThrottled)
		writeError(w, http.StatusTooManyRequests, "submission rate exceeded")
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = defaultSeverity
	}
	evaluate := a.deps.Evaluate
	if req.Evaluate != nil {
		evaluate = *req.Evaluate
	}

	acc, err := a.deps.Runner.Submit(r.Context(), incident.NewIncident{
		Title:       req.Title,
		Description: req.Description,
		Reporter:    req.Reporter,
		Severity:    severity,
	}, evaluate)
	if err != nil {
		a.observeSubmit(SubmitFailed)
		a.logger.Error(r.Context(), err, "failed to submit incident")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("responder.incident.id", acc.IncidentID),
		attribute.String("responder.trace.id", acc.TraceID),
	)

	a.observeSubmit(SubmitAccepted)
	w.Header().Set("Location", "/api/v1/incidents/"+acc.IncidentID)
	writeJSON(w, http.StatusAccepted, acc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := incident.Filter{
		Status:   incident.Status(q.Get("status")),
		Severity: q.Get("severity"),
	}
	if f.Status != "" && f.Status != incident.StatusOpen && f.Status != incident.StatusClosed {
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	list, err := a.deps.Incidents.List(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("responder.incident.id", id))

	inc, ok, err := a.deps.Incidents.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleCloseIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("responder.incident.id", id))

	var req closeIncidentRequest
	if !a.decode(w, r, &req) {
		return
	}

	inc, ok, err := incident.Close(r.Context(), a.deps.Incidents, id, req.Resolution)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to close incident", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	a.logger.Info(r.Context(), "incident closed", "id", id)
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := a.deps.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := a.deps.Traces.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list := a.deps.Notifications.List(r.URL.Query().Get("recipient"))
	if list == nil {
		list = []*notify.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}
