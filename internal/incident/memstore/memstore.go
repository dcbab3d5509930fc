// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/responder/internal/incident"
)

// Store holds incidents in memory for the life of the process.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident // incident ID -> record
	order     []string                      // creation order, for List
	nextID    int
	now       func() time.Time
}

// New initializes an empty Store. IDs start at INC-0001.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		nextID:    1,
		now:       time.Now,
	}
}

// Create assigns the next INC-#### identifier and stores an open incident.
func (s *Store) Create(_ context.Context, in incident.NewIncident) (*incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("INC-%04d", s.nextID)
	s.nextID++

	if in.Severity == "" {
		in.Severity = string(incident.PriorityMedium)
	}

	now := s.now()
	rec := &incident.Incident{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Reporter:    in.Reporter,
		Severity:    in.Severity,
		Status:      incident.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.incidents[id] = rec
	s.order = append(s.order, id)
	return rec.Clone(), nil
}

// Get retrieves an incident by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// Update merges u into the stored incident and refreshes UpdatedAt.
func (s *Store) Update(_ context.Context, id string, u incident.Update) (*incident.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	u.Apply(rec)
	rec.UpdatedAt = s.now()
	return rec.Clone(), true, nil
}

// List returns copies of the incidents matching f, in creation order.
func (s *Store) List(_ context.Context, f incident.Filter) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*incident.Incident, 0, len(s.order))
	for _, id := range s.order {
		rec := s.incidents[id]
		if f.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}
