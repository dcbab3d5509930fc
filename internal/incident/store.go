package incident

import "context"

// Store is the persistence interface for incident records.
// Get and Update report a missing ID through ok=false rather than an error.
type Store interface {
	Create(ctx context.Context, in NewIncident) (*Incident, error)
	Get(ctx context.Context, id string) (*Incident, bool, error)
	Update(ctx context.Context, id string, u Update) (*Incident, bool, error)
	List(ctx context.Context, f Filter) ([]*Incident, error)
}

// Close marks an incident closed with the given resolution.
func Close(ctx context.Context, s Store, id, resolution string) (*Incident, bool, error) {
	closed := StatusClosed
	return s.Update(ctx, id, Update{Status: &closed, Resolution: &resolution})
}

// Ptr returns a pointer to v, for building Update values inline.
func Ptr[T any](v T) *T {
	return &v
}
