package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrTraceNotFound = errors.New("trace not found")
	ErrTraceEnded    = errors.New("trace already ended")
)

// Span is one timed step within a trace.
type Span struct {
	Name       string         `json:"name"`
	Agent      string         `json:"agent"`
	StartTime  time.Time      `json:"start_time"`
	DurationMS float64        `json:"duration_ms"`
	Success    bool           `json:"success"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Trace records one orchestrator run.
type Trace struct {
	ID         string     `json:"id"`
	Operation  string     `json:"operation"`
	Agent      string     `json:"agent"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMS float64    `json:"duration_ms"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Ended      bool       `json:"ended"`
	Spans      []Span     `json:"spans"`
}

func (t *Trace) clone() *Trace {
	cp := *t
	cp.Spans = make([]Span, len(t.Spans))
	for i, s := range t.Spans {
		s.Metadata = maps.Clone(s.Metadata)
		cp.Spans[i] = s
	}
	if t.EndTime != nil {
		end := *t.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// DefaultTraceLimit is how many traces a recorder retains unless
// WithTraceLimit says otherwise.
const DefaultTraceLimit = 1000

// TraceRecorder keeps run traces in memory for later inspection. Once more
// than limit traces are held, the oldest ended ones are dropped; running
// traces are never dropped.
type TraceRecorder struct {
	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string
	limit  int
	now    func() time.Time
}

// TraceOption configures a TraceRecorder.
type TraceOption func(*TraceRecorder)

// WithTraceLimit caps retained traces. n <= 0 keeps DefaultTraceLimit.
func WithTraceLimit(n int) TraceOption {
	return func(r *TraceRecorder) {
		if n > 0 {
			r.limit = n
		}
	}
}

// NewTraceRecorder creates an empty recorder.
func NewTraceRecorder(opts ...TraceOption) *TraceRecorder {
	r := &TraceRecorder{
		traces: make(map[string]*Trace),
		limit:  DefaultTraceLimit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the number of retained traces.
func (r *TraceRecorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.traces)
}

// evictLocked drops the oldest ended traces until the recorder is within
// its limit. Callers hold r.mu.
func (r *TraceRecorder) evictLocked() {
	excess := len(r.traces) - r.limit
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.traces[id].Ended {
			delete(r.traces, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// Start opens a new trace and returns its ID.
func (r *TraceRecorder) Start(operation, agent string) string {
	id := ulid.Make().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.traces[id] = &Trace{
		ID:        id,
		Operation: operation,
		Agent:     agent,
		StartTime: r.now(),
		Spans:     []Span{},
	}
	r.order = append(r.order, id)
	r.evictLocked()
	return id
}

// AddSpan appends a span. Spans cannot be added once the trace has ended.
func (r *TraceRecorder) AddSpan(traceID string, s Span) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.traces[traceID]
	if !ok {
		return fmt.Errorf("add span %s: %w", traceID, ErrTraceNotFound)
	}
	if t.Ended {
		return fmt.Errorf("add span %s: %w", traceID, ErrTraceEnded)
	}
	s.Metadata = maps.Clone(s.Metadata)
	t.Spans = append(t.Spans, s)
	return nil
}

// End closes the trace. A nil runErr marks it successful; otherwise the
// error text is kept on the trace. A trace ends exactly once; later calls
// fail with ErrTraceEnded and change nothing.
func (r *TraceRecorder) End(traceID string, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.traces[traceID]
	if !ok {
		return fmt.Errorf("end trace %s: %w", traceID, ErrTraceNotFound)
	}
	if t.Ended {
		return fmt.Errorf("end trace %s: %w", traceID, ErrTraceEnded)
	}
	end := r.now()
	t.EndTime = &end
	t.DurationMS = float64(end.Sub(t.StartTime).Microseconds()) / 1000
	t.Success = runErr == nil
	if runErr != nil {
		t.Error = runErr.Error()
	}
	t.Ended = true
	r.evictLocked()
	return nil
}

// Get returns a copy of the trace.
func (r *TraceRecorder) Get(traceID string) (*Trace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.traces[traceID]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}
