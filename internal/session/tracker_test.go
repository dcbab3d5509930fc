package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/linnemanlabs/responder/internal/incident"
)

func TestCreate_InitialState(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inc := &incident.Incident{ID: "INC-0001", Title: "DB timeout"}
	s := tr.Create("INC-0001", Update{Incident: inc})

	if s.State != StateTriage {
		t.Errorf("State = %q, want %q", s.State, StateTriage)
	}
	if len(s.History) != 0 {
		t.Errorf("History len = %d, want 0", len(s.History))
	}
	if s.Incident == nil || s.Incident.Title != "DB timeout" {
		t.Errorf("Incident = %+v, want merged initial data", s.Incident)
	}
	if s.IncidentID != "INC-0001" {
		t.Errorf("IncidentID = %q, want INC-0001", s.IncidentID)
	}
}

func TestCreate_OverwritesExisting(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Create("INC-0001", Update{})
	if err := tr.SetState("INC-0001", StateResolution); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	tr.Create("INC-0001", Update{})
	s, ok := tr.Get("INC-0001")
	if !ok {
		t.Fatal("expected session")
	}
	if s.State != StateTriage || len(s.History) != 0 {
		t.Errorf("session = (%q, %d entries), want fresh session", s.State, len(s.History))
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	s, ok := tr.Get("nope")
	if ok || s != nil {
		t.Fatalf("Get = (%v, %v), want (nil, false)", s, ok)
	}
}

func TestMutationsOnMissingSession(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tests := []struct {
		name string
		fn   func() error
	}{
		{"Update", func() error { return tr.Update("missing", Update{Extra: map[string]any{"k": 1}}) }},
		{"AddHistory", func() error { return tr.AddHistory("missing", "Agent", "act", "res") }},
		{"SetState", func() error { return tr.SetState("missing", StateClosed) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want no sessions created as a side effect", tr.Len())
	}
}

func TestUpdate_MergesAndRecordsHistory(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	created := tr.Create("INC-0002", Update{})

	prio := incident.PriorityHigh
	analysis := "looks bad"
	if err := tr.Update("INC-0002", Update{
		Priority:       &prio,
		TriageAnalysis: &analysis,
		Extra:          map[string]any{"note": "x"},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	s, _ := tr.Get("INC-0002")
	if s.Priority != incident.PriorityHigh {
		t.Errorf("Priority = %q, want high", s.Priority)
	}
	if s.TriageAnalysis != "looks bad" {
		t.Errorf("TriageAnalysis = %q, want %q", s.TriageAnalysis, "looks bad")
	}
	if s.State != StateTriage {
		t.Errorf("State = %q, want untouched triage", s.State)
	}
	if s.Extra["note"] != "x" {
		t.Errorf("Extra[note] = %v, want x", s.Extra["note"])
	}
	if s.UpdatedAt.Before(created.UpdatedAt) {
		t.Error("UpdatedAt went backwards")
	}
	if len(s.History) != 1 {
		t.Fatalf("History len = %d, want 1", len(s.History))
	}
	h := s.History[0]
	if h.Updates == nil || h.Updates.Priority == nil || *h.Updates.Priority != incident.PriorityHigh {
		t.Errorf("history updates = %+v, want recorded priority", h.Updates)
	}
	if h.Agent != "" {
		t.Errorf("implicit entry Agent = %q, want empty", h.Agent)
	}
}

func TestAddHistory_DoesNotTouchFields(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Create("INC-0003", Update{})
	before, _ := tr.Get("INC-0003")

	if err := tr.AddHistory("INC-0003", "TriageAgent", "triage", "text"); err != nil {
		t.Fatalf("AddHistory: %v", err)
	}

	after, _ := tr.Get("INC-0003")
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("AddHistory changed UpdatedAt")
	}
	if after.State != before.State {
		t.Errorf("State = %q, want %q", after.State, before.State)
	}
	e := after.History[0]
	if e.Agent != "TriageAgent" || e.Action != "triage" || e.Result != "text" || e.Updates != nil {
		t.Errorf("entry = %+v", e)
	}
}

func TestHistory_CountsEveryCall(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Create("INC-0004", Update{})

	const n = 10
	for i := range n {
		var err error
		if i%2 == 0 {
			err = tr.Update("INC-0004", Update{Extra: map[string]any{"same": true}})
		} else {
			err = tr.AddHistory("INC-0004", "Agent", "same", "same")
		}
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	if got := len(tr.History("INC-0004")); got != n {
		t.Errorf("History len = %d, want %d", got, n)
	}
}

func TestHistory_ChronologicalAndCopied(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Create("INC-0005", Update{})
	for i := range 3 {
		_ = tr.AddHistory("INC-0005", "Agent", fmt.Sprintf("a%d", i), "")
	}

	h := tr.History("INC-0005")
	for i := range h {
		if h[i].Action != fmt.Sprintf("a%d", i) {
			t.Errorf("[%d] Action = %q, want a%d", i, h[i].Action, i)
		}
		if i > 0 && h[i].Timestamp.Before(h[i-1].Timestamp) {
			t.Errorf("[%d] timestamp out of order", i)
		}
	}

	h[0].Action = "rewritten"
	if tr.History("INC-0005")[0].Action != "a0" {
		t.Error("mutating returned history leaked into tracker")
	}
	if got := tr.History("unknown"); got == nil || len(got) != 0 {
		t.Errorf("History(unknown) = %v, want empty slice", got)
	}
}

func TestSetState_Permissive(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Create("INC-0006", Update{})

	// backwards and skipping transitions are accepted by the tracker
	for _, st := range []State{StateClosed, StateTriage, StateResolution} {
		if err := tr.SetState("INC-0006", st); err != nil {
			t.Fatalf("SetState(%q): %v", st, err)
		}
		s, _ := tr.Get("INC-0006")
		if s.State != st {
			t.Errorf("State = %q, want %q", s.State, st)
		}
	}
	if got := len(tr.History("INC-0006")); got != 3 {
		t.Errorf("History len = %d, want 3", got)
	}
}

func TestStateNextAndValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		valid    bool
	}{
		{StateTriage, StateInvestigation, true},
		{StateInvestigation, StateResolution, true},
		{StateResolution, StateClosed, true},
		{StateTriage, StateResolution, false},
		{StateClosed, StateTriage, false},
		{StateResolution, StateInvestigation, false},
		{State("bogus"), StateTriage, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			if got := ValidTransition(tt.from, tt.to); got != tt.valid {
				t.Errorf("ValidTransition = %v, want %v", got, tt.valid)
			}
		})
	}

	if _, ok := StateClosed.Next(); ok {
		t.Error("closed should have no successor")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Create("INC-0007", Update{Extra: map[string]any{"k": "v"}})

	s, _ := tr.Get("INC-0007")
	s.State = StateClosed
	s.Extra["k"] = "changed"
	s.History = append(s.History, HistoryEntry{Action: "fake"})

	fresh, _ := tr.Get("INC-0007")
	if fresh.State != StateTriage || fresh.Extra["k"] != "v" || len(fresh.History) != 0 {
		t.Errorf("tracker state leaked through copy: %+v", fresh)
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	const n = 50
	for i := range n {
		tr.Create(fmt.Sprintf("INC-%04d", i), Update{})
	}

	var wg sync.WaitGroup
	wg.Add(n * 2)
	for i := range n {
		id := fmt.Sprintf("INC-%04d", i)
		go func() {
			defer wg.Done()
			_ = tr.AddHistory(id, "a", "b", "c")
			_ = tr.SetState(id, StateInvestigation)
		}()
		go func() {
			defer wg.Done()
			_, _ = tr.Get(id)
			_ = tr.History(id)
		}()
	}
	wg.Wait()

	for i := range n {
		if got := len(tr.History(fmt.Sprintf("INC-%04d", i))); got != 2 {
			t.Errorf("INC-%04d history = %d, want 2", i, got)
		}
	}
}
