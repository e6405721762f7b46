// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/incident"
)

// Store holds events and incidents in memory. Suitable for dev/testing.
// Transactions run one at a time; reads never block on a running transaction
// and see only committed state.
type Store struct {
	writeMu sync.Mutex // single writer: held for the whole of Atomic and PutIncident

	mu        sync.RWMutex
	events    map[string]*event.Event       // event ID -> event
	seen      map[string]string             // fingerprint -> event ID
	incidents map[string]*incident.Incident // incident ID -> incident
	counts    map[string]int                // incident ID -> member events
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		events:    make(map[string]*event.Event),
		seen:      make(map[string]string),
		incidents: make(map[string]*incident.Incident),
		counts:    make(map[string]int),
	}
}

// Atomic runs fn against a staged view of the store and applies the staged
// writes only if fn returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx incident.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &tx{
		s:         s,
		events:    make(map[string]*event.Event),
		seen:      make(map[string]string),
		incidents: make(map[string]*incident.Incident),
		attach:    make(map[string]string),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, inc := range t.incidents {
		s.incidents[id] = inc
	}
	for eventID, incID := range t.attach {
		if ev, ok := s.events[eventID]; ok {
			ev.IncidentID = incID
			s.counts[incID]++
		}
	}
	for id, ev := range t.events {
		s.events[id] = ev
		s.seen[ev.Fingerprint] = id
		if ev.IncidentID != "" {
			s.counts[ev.IncidentID]++
		}
	}
}

// GetEvent retrieves an event by ID. Returns a copy.
func (s *Store) GetEvent(_ context.Context, id string) (*event.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, false, nil
	}
	return ev.Clone(), true, nil
}

// GetEventByFingerprint retrieves an event by fingerprint. Returns a copy.
func (s *Store) GetEventByFingerprint(_ context.Context, fp string) (*event.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.seen[fp]
	if !ok {
		return nil, false, nil
	}
	return s.events[id].Clone(), true, nil
}

// ListEvents returns copies of matching events ordered by occurred_at desc, id desc.
func (s *Store) ListEvents(_ context.Context, f incident.EventFilter) ([]*event.Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*event.Event
	for _, ev := range s.events {
		if matchEvent(ev, f) {
			matched = append(matched, ev)
		}
	}
	sortNewestFirst(matched)

	page := paginate(matched, f.Offset, f.Limit)
	out := make([]*event.Event, len(page))
	for i, ev := range page {
		out[i] = ev.Clone()
	}
	return out, len(matched), nil
}

// GetIncident retrieves an incident by ID with its event count. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	cp := inc.Clone()
	cp.EventCount = s.counts[id]
	return cp, true, nil
}

// ListIncidents returns copies of matching incidents ordered by last_event_at
// desc (never-updated incidents last), then id.
func (s *Store) ListIncidents(_ context.Context, f incident.IncidentFilter) ([]*incident.Incident, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*incident.Incident
	for _, inc := range s.incidents {
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.OwnerID != "" && inc.OwnerID != f.OwnerID {
			continue
		}
		matched = append(matched, inc)
	}
	slices.SortFunc(matched, func(a, b *incident.Incident) int {
		switch {
		case a.LastEventAt == nil && b.LastEventAt != nil:
			return 1
		case a.LastEventAt != nil && b.LastEventAt == nil:
			return -1
		case a.LastEventAt != nil && !a.LastEventAt.Equal(*b.LastEventAt):
			return b.LastEventAt.Compare(*a.LastEventAt)
		}
		return strings.Compare(a.ID, b.ID)
	})

	page := paginate(matched, f.Offset, f.Limit)
	out := make([]*incident.Incident, len(page))
	for i, inc := range page {
		cp := inc.Clone()
		cp.EventCount = s.counts[inc.ID]
		out[i] = cp
	}
	return out, len(matched), nil
}

// PutIncident stores a copy of the incident, keeping the stored score and
// last event time where they are higher.
func (s *Store) PutIncident(_ context.Context, inc *incident.Incident) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := inc.Clone()
	cp.EventCount = 0
	if cur, ok := s.incidents[inc.ID]; ok {
		keepMaxima(cp, cur)
	}
	s.incidents[inc.ID] = cp
	return nil
}

func keepMaxima(next, cur *incident.Incident) {
	if cur.Score != nil && (next.Score == nil || *cur.Score > *next.Score) {
		sc := *cur.Score
		next.Score = &sc
	}
	if cur.LastEventAt != nil && (next.LastEventAt == nil || cur.LastEventAt.After(*next.LastEventAt)) {
		at := *cur.LastEventAt
		next.LastEventAt = &at
	}
}

// tx stages writes on top of the committed maps.
type tx struct {
	s         *Store
	events    map[string]*event.Event       // inserted events
	seen      map[string]string             // inserted fingerprints
	incidents map[string]*incident.Incident // created or updated incidents
	attach    map[string]string             // committed event ID -> incident ID
}

func (t *tx) incident(id string) (*incident.Incident, bool) {
	if inc, ok := t.incidents[id]; ok {
		return inc, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	inc, ok := t.s.incidents[id]
	return inc, ok
}

func (t *tx) Candidates(_ context.Context, from, to time.Time, limit int) ([]incident.Candidate, error) {
	t.s.mu.RLock()
	var evs []*event.Event
	for _, ev := range t.s.events {
		if inWindow(ev.OccurredAt, from, to) {
			evs = append(evs, ev)
		}
	}
	t.s.mu.RUnlock()
	for _, ev := range t.events {
		if inWindow(ev.OccurredAt, from, to) {
			evs = append(evs, ev)
		}
	}
	sortNewestFirst(evs)
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}

	out := make([]incident.Candidate, 0, len(evs))
	for _, ev := range evs {
		c := incident.Candidate{
			EventID:    ev.ID,
			EntityID:   ev.Entity.ID,
			OccurredAt: ev.OccurredAt,
			Tags:       slices.Clone(ev.Tags),
			Score:      ev.Score,
			IncidentID: ev.IncidentID,
		}
		if id, ok := t.attach[ev.ID]; ok {
			c.IncidentID = id
		}
		if c.IncidentID != "" {
			if inc, ok := t.incident(c.IncidentID); ok {
				c.IncidentStatus = inc.Status
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *tx) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	inc, ok := t.incident(id)
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

func (t *tx) CreateIncident(_ context.Context) (*incident.Incident, error) {
	now := time.Now().UTC()
	inc := &incident.Incident{
		ID:        ulid.Make().String(),
		Status:    incident.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.incidents[inc.ID] = inc
	return inc.Clone(), nil
}

func (t *tx) UpdateIncident(_ context.Context, inc *incident.Incident) error {
	cur, ok := t.incident(inc.ID)
	if !ok {
		return fmt.Errorf("update incident %s: not found", inc.ID)
	}
	next := cur.Clone()
	next.Score = inc.Clone().Score
	next.LastEventAt = inc.Clone().LastEventAt
	next.UpdatedAt = time.Now().UTC()
	t.incidents[inc.ID] = next
	return nil
}

func (t *tx) SetIncidentState(_ context.Context, id string, status incident.Status, ownerID string) error {
	cur, ok := t.incident(id)
	if !ok {
		return fmt.Errorf("set incident %s state: not found", id)
	}
	next := cur.Clone()
	next.Status = status
	next.OwnerID = ownerID
	next.UpdatedAt = time.Now().UTC()
	t.incidents[id] = next
	return nil
}

func (t *tx) SetEventIncident(_ context.Context, eventID, incidentID string) error {
	if ev, ok := t.events[eventID]; ok {
		return setOnce(ev.IncidentID, eventID, incidentID, func() { ev.IncidentID = incidentID })
	}

	t.s.mu.RLock()
	ev, ok := t.s.events[eventID]
	t.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("set incident on event %s: not found", eventID)
	}
	current := ev.IncidentID
	if staged, ok := t.attach[eventID]; ok {
		current = staged
	}
	return setOnce(current, eventID, incidentID, func() { t.attach[eventID] = incidentID })
}

func setOnce(current, eventID, incidentID string, set func()) error {
	switch current {
	case "":
		set()
		return nil
	case incidentID:
		return nil
	default:
		return fmt.Errorf("event %s already belongs to incident %s", eventID, current)
	}
}

func (t *tx) InsertEvent(_ context.Context, ev *event.Event) error {
	if _, ok := t.seen[ev.Fingerprint]; ok {
		return incident.ErrDuplicateFingerprint
	}
	t.s.mu.RLock()
	_, dup := t.s.seen[ev.Fingerprint]
	t.s.mu.RUnlock()
	if dup {
		return incident.ErrDuplicateFingerprint
	}
	cp := ev.Clone()
	t.events[cp.ID] = cp
	t.seen[cp.Fingerprint] = cp.ID
	return nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func sortNewestFirst(evs []*event.Event) {
	slices.SortFunc(evs, func(a, b *event.Event) int {
		if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

func matchEvent(ev *event.Event, f incident.EventFilter) bool {
	switch {
	case f.Source != "" && ev.Source != f.Source:
		return false
	case f.EntityType != "" && ev.Entity.Type != f.EntityType:
		return false
	case f.EntityID != "" && ev.Entity.ID != f.EntityID:
		return false
	case f.IncidentID != "" && ev.IncidentID != f.IncidentID:
		return false
	case f.Tag != "" && !slices.Contains(ev.Tags, f.Tag):
		return false
	case f.OccurredAfter != nil && ev.OccurredAt.Before(*f.OccurredAfter):
		return false
	case f.OccurredBefore != nil && ev.OccurredAt.After(*f.OccurredBefore):
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
