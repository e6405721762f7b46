package incident

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/signalos/internal/event"
)

// ErrDuplicateFingerprint is returned by Tx.InsertEvent when an event with the
// same fingerprint is already stored.
var ErrDuplicateFingerprint = errors.New("duplicate event fingerprint")

// Tx is the set of reads and writes the pipeline performs inside one
// transaction. Implementations must serialize transactions that touch the
// same incident.
type Tx interface {
	// Candidates returns stored events with occurred_at in [from, to], newest
	// first, at most limit of them.
	Candidates(ctx context.Context, from, to time.Time, limit int) ([]Candidate, error)
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)
	// CreateIncident creates an empty open incident.
	CreateIncident(ctx context.Context) (*Incident, error)
	// UpdateIncident writes the incident's score and last_event_at.
	UpdateIncident(ctx context.Context, inc *Incident) error
	// SetIncidentState writes the incident's status and owner. Score and
	// last_event_at are left as stored.
	SetIncidentState(ctx context.Context, id string, status Status, ownerID string) error
	SetEventIncident(ctx context.Context, eventID, incidentID string) error
	InsertEvent(ctx context.Context, ev *event.Event) error
}

// Store is the persistence interface for events and incidents.
type Store interface {
	// Atomic runs fn in a transaction. Everything fn writes commits together
	// or not at all. fn may run more than once if the store retries.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetEvent(ctx context.Context, id string) (*event.Event, bool, error)
	GetEventByFingerprint(ctx context.Context, fingerprint string) (*event.Event, bool, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*event.Event, int, error)

	GetIncident(ctx context.Context, id string) (*Incident, bool, error)
	ListIncidents(ctx context.Context, f IncidentFilter) ([]*Incident, int, error)
	// PutIncident upserts an incident, including its status and owner. An
	// existing score or last_event_at is never lowered.
	PutIncident(ctx context.Context, inc *Incident) error
}
