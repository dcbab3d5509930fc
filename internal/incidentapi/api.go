// Package incidentapi exposes the incident pipeline over HTTP.
package incidentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/judge"
	"github.com/linnemanlabs/responder/internal/notify"
	"github.com/linnemanlabs/responder/internal/pipeline"
	"github.com/linnemanlabs/responder/internal/session"
)

// Submission results passed to Deps.OnSubmit.
const (
	SubmitAccepted  = "accepted"
	SubmitFailed    = "failed"
	SubmitInvalid   = "invalid"
	SubmitThrottled = "throttled"
)

// Runner accepts a new incident and runs it through the pipeline in the
// background.
type Runner interface {
	Submit(ctx context.Context, in incident.NewIncident, evaluate bool) (*pipeline.Accepted, error)
}

// SessionReader looks up per-incident sessions.
type SessionReader interface {
	Get(incidentID string) (*session.Session, bool)
}

// TraceReader looks up run traces.
type TraceReader interface {
	Get(traceID string) (*pipeline.Trace, bool)
}

// NotificationLister lists sent notifications, optionally by recipient.
type NotificationLister interface {
	List(recipient string) []*notify.Notification
}

// Comparer scores several agent outputs against each other.
type Comparer interface {
	Compare(ctx context.Context, reqs []judge.Request) *judge.Comparison
}

// Deps are the services behind the API. Judge, Limiter, WriteGuard and
// OnSubmit are optional.
type Deps struct {
	Runner        Runner
	Incidents     incident.Store
	Sessions      SessionReader
	Traces        TraceReader
	Notifications NotificationLister
	Judge         Comparer

	// Limiter throttles POST /incidents. nil means unlimited.
	Limiter *rate.Limiter
	// WriteGuard wraps the mutating routes, e.g. with bearer auth.
	WriteGuard func(http.Handler) http.Handler
	// OnSubmit is called once per POST /incidents with a Submit* result.
	OnSubmit func(result string)
	// Evaluate is the default when a submission does not set evaluate.
	Evaluate bool
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	deps     Deps
	validate *validator.Validate
}

// New creates a new API handler.
func New(logger log.Logger, d Deps) *API {
	if logger == nil {
		logger = log.Nop()
	}
	switch {
	case d.Runner == nil:
		panic(xerrors.New("pipeline runner is required"))
	case d.Incidents == nil:
		panic(xerrors.New("incident store is required"))
	case d.Sessions == nil:
		panic(xerrors.New("session reader is required"))
	case d.Traces == nil:
		panic(xerrors.New("trace reader is required"))
	case d.Notifications == nil:
		panic(xerrors.New("notification lister is required"))
	}
	v := validator.New()
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &API{
		logger:   logger,
		deps:     d,
		validate: v,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Get("/incidents/{id}/session", a.handleGetSession)
		r.Get("/traces/{id}", a.handleGetTrace)
		r.Get("/notifications", a.handleListNotifications)

		r.Group(func(r chi.Router) {
			if a.deps.WriteGuard != nil {
				r.Use(a.deps.WriteGuard)
			}
			r.Post("/incidents", a.handleCreateIncident)
			r.Post("/incidents/{id}/close", a.handleCloseIncident)
			r.Post("/evaluations/compare", a.handleCompare)
		})
	})
}

func (a *API) observeSubmit(result string) {
	if a.deps.OnSubmit != nil {
		a.deps.OnSubmit(result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing useful to do with a write error once headers are out
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// writeValidationError reports validator failures field by field.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"message": "validation error", "details": err.Error()},
		})
		return
	}
	details := make([]fieldError, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, fieldError{Field: e.Field(), Message: e.Tag()})
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{"message": "validation error", "details": details},
	})
}

// decode reads a JSON body into v and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}
