package incident

import (
	"errors"
	"time"
)

// ErrNotFound is returned by mutating operations on an unknown incident ID.
var ErrNotFound = errors.New("incident not found")

// Status is the lifecycle status of an incident record.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Priority is derived by triage.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Category is derived by triage.
type Category string

const (
	CategoryPerformance  Category = "performance"
	CategoryError        Category = "error"
	CategoryConnectivity Category = "connectivity"
	CategorySecurity     Category = "security"
	CategoryOther        Category = "other"
)

// Incident is a reported incident. Severity is free-form reporter input;
// Priority and Category stay empty until triage derives them.
type Incident struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Reporter      string    `json:"reporter"`
	Severity      string    `json:"severity"`
	Status        Status    `json:"status"`
	Priority      Priority  `json:"priority,omitempty"`
	Category      Category  `json:"category,omitempty"`
	AssignedAgent *string   `json:"assigned_agent"`
	Resolution    *string   `json:"resolution"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with i.
func (i *Incident) Clone() *Incident {
	cp := *i
	if i.AssignedAgent != nil {
		v := *i.AssignedAgent
		cp.AssignedAgent = &v
	}
	if i.Resolution != nil {
		v := *i.Resolution
		cp.Resolution = &v
	}
	return &cp
}

// NewIncident is the reporter-supplied input for Create.
type NewIncident struct {
	Title       string
	Description string
	Reporter    string
	Severity    string
}

// Update is a partial update; nil fields are left untouched.
type Update struct {
	Status        *Status
	Priority      *Priority
	Category      *Category
	AssignedAgent *string
	Resolution    *string
}

// Apply merges the set fields of u into i.
func (u Update) Apply(i *Incident) {
	if u.Status != nil {
		i.Status = *u.Status
	}
	if u.Priority != nil {
		i.Priority = *u.Priority
	}
	if u.Category != nil {
		i.Category = *u.Category
	}
	if u.AssignedAgent != nil {
		v := *u.AssignedAgent
		i.AssignedAgent = &v
	}
	if u.Resolution != nil {
		v := *u.Resolution
		i.Resolution = &v
	}
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Status   Status
	Severity string
}

// Matches reports whether i passes the filter.
func (f Filter) Matches(i *Incident) bool {
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	return true
}
