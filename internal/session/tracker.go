package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a mutation targets an incident with no session.
var ErrNotFound = errors.New("session not found")

// Tracker holds one Session per incident in memory.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session // incident ID -> session
	now      func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create starts a session in StateTriage with an empty history and merges
// initial into it. An existing session for the same incident is replaced.
func (t *Tracker) Create(incidentID string, initial Update) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s := &Session{
		IncidentID: incidentID,
		CreatedAt:  now,
		UpdatedAt:  now,
		State:      StateTriage,
		History:    []HistoryEntry{},
	}
	initial.apply(s)
	t.sessions[incidentID] = s
	return s.clone()
}

// Get returns a copy of the session, or ok=false when none exists.
func (t *Tracker) Get(incidentID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[incidentID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Update merges u into the session, refreshes UpdatedAt and records the
// update in history.
func (t *Tracker) Update(incidentID string, u Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[incidentID]
	if !ok {
		return fmt.Errorf("update %s: %w", incidentID, ErrNotFound)
	}
	u.apply(s)
	now := t.now()
	s.UpdatedAt = now
	s.History = append(s.History, HistoryEntry{Timestamp: now, Updates: u.clone()})
	return nil
}

// AddHistory appends an agent action without touching any other field.
func (t *Tracker) AddHistory(incidentID, agent, action, result string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[incidentID]
	if !ok {
		return fmt.Errorf("add history %s: %w", incidentID, ErrNotFound)
	}
	s.History = append(s.History, HistoryEntry{
		Timestamp: t.now(),
		Agent:     agent,
		Action:    action,
		Result:    result,
	})
	return nil
}

// History returns a copy of the session history; empty when no session exists.
func (t *Tracker) History(incidentID string) []HistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[incidentID]
	if !ok {
		return []HistoryEntry{}
	}
	return append([]HistoryEntry(nil), s.History...)
}

// SetState moves the session to state. Transitions are not validated here;
// callers that care use ValidTransition.
func (t *Tracker) SetState(incidentID string, state State) error {
	return t.Update(incidentID, Update{State: &state})
}
