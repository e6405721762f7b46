package incident

import "time"

// Status tracks whether an incident still accepts new events.
type Status string

const (
	// StatusOpen means correlation may attach new events
	StatusOpen Status = "open"

	// StatusClosed is set externally; correlation skips closed incidents
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Incident aggregates correlated events. Score and LastEventAt are running
// maxima over member events and are nil until the first event attaches.
type Incident struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Status      Status     `json:"status"`
	Score       *float64   `json:"score"`
	LastEventAt *time.Time `json:"last_event_at"`
	EventCount  int        `json:"event_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with i.
func (i *Incident) Clone() *Incident {
	cp := *i
	if i.Score != nil {
		s := *i.Score
		cp.Score = &s
	}
	if i.LastEventAt != nil {
		t := *i.LastEventAt
		cp.LastEventAt = &t
	}
	return &cp
}

// View is the part of an event the merge predicate looks at.
type View struct {
	EntityID   string
	OccurredAt time.Time
	Tags       []string
}

// Candidate is a recently stored event offered to the correlator, joined with
// the status of the incident it belongs to. IncidentStatus is empty when the
// event has no incident or the incident no longer exists.
type Candidate struct {
	EventID        string
	EntityID       string
	OccurredAt     time.Time
	Tags           []string
	Score          float64
	IncidentID     string
	IncidentStatus Status
}

// View returns the candidate's merge view.
func (c *Candidate) View() View {
	return View{EntityID: c.EntityID, OccurredAt: c.OccurredAt, Tags: c.Tags}
}

// EventFilter selects stored events. Zero values do not filter.
type EventFilter struct {
	Source         string
	EntityType     string
	EntityID       string
	IncidentID     string
	Tag            string
	OccurredAfter  *time.Time
	OccurredBefore *time.Time
	Limit          int
	Offset         int
}

// IncidentFilter selects stored incidents. Zero values do not filter.
type IncidentFilter struct {
	Status  Status
	OwnerID string
	Limit   int
	Offset  int
}
