package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/features"
	"github.com/linnemanlabs/signalos/internal/scoring"
)

// Ingest results reported to ServiceHooks.OnIngest.
const (
	IngestCreated   = "created"
	IngestDuplicate = "duplicate"
	IngestError     = "error"
)

// ServiceHooks are optional callbacks for instrumentation. Nil fields are skipped.
type ServiceHooks struct {
	OnIngest      func(result string, duration float64)
	OnStored      func(category string, score float64, outcome Outcome)
	OnNotifyError func()
	OnCacheError  func()
}

// IngestResult is the outcome of ingesting one event.
type IngestResult struct {
	Event     *event.Event
	Duplicate bool
	Outcome   Outcome
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the fingerprint cache consulted before the store.
func WithCache(c FingerprintCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithNotifiers sets the notifiers told about newly opened incidents.
func WithNotifiers(n ...Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n...) }
}

// WithHooks sets instrumentation callbacks.
func WithHooks(h ServiceHooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithClock overrides time.Now for received_at defaults and durations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the business boundary for event ingestion and queries.
type Service struct {
	store     Store
	pipeline  *Pipeline
	cache     FingerprintCache
	notifiers []Notifier
	hooks     ServiceHooks
	logger    log.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// NewService creates a new ingest service.
func NewService(store Store, pipeline *Pipeline, logger log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:    store,
		pipeline: pipeline,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest normalizes, fingerprints and stores ev, running the pipeline in the
// same transaction as the insert. A repeat of an already stored event returns
// the stored event with Duplicate set. ev is not modified.
func (s *Service) Ingest(ctx context.Context, ev *event.Event) (*IngestResult, error) {
	start := s.now()

	res, err := s.ingest(ctx, ev)
	switch {
	case err != nil:
		s.reportIngest(IngestError, start)
	case res.Duplicate:
		s.reportIngest(IngestDuplicate, start)
	default:
		s.reportIngest(IngestCreated, start)
	}
	return res, err
}

func (s *Service) ingest(ctx context.Context, in *event.Event) (*IngestResult, error) {
	ev := in.Clone()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	ev.Normalize()
	ev.Fingerprint = event.Fingerprint(ev.Identity())
	ev.Features, ev.Score, ev.Explain = nil, 0, scoring.Explanation{}

	L := s.logger.With("fingerprint", ev.Fingerprint, "source", ev.Source)

	if dup, ok, err := s.findDuplicate(ctx, ev.Fingerprint); err != nil {
		return nil, err
	} else if ok {
		return &IngestResult{Event: dup, Duplicate: true}, nil
	}

	ev.ID = ulid.Make().String()

	var stored *event.Event
	var outcome Outcome
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		r, err := s.pipeline.Process(ctx, tx, ev)
		if err != nil {
			return err
		}
		out := ev.Clone()
		out.Features = r.Features
		out.Score = r.Score
		out.Explain = r.Explain
		out.IncidentID = r.IncidentID
		if err := tx.InsertEvent(ctx, out); err != nil {
			return err
		}
		stored, outcome = out, r.Outcome
		return nil
	})
	if errors.Is(err, ErrDuplicateFingerprint) {
		// lost a race with a concurrent ingest of the same event
		dup, ok, gerr := s.store.GetEventByFingerprint(ctx, ev.Fingerprint)
		if gerr != nil {
			return nil, gerr
		}
		if ok {
			return &IngestResult{Event: dup, Duplicate: true}, nil
		}
		return nil, err
	}
	if err != nil {
		L.Error(ctx, err, "failed to store event")
		return nil, fmt.Errorf("store event: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Mark(ctx, stored.Fingerprint, stored.ID); err != nil {
			L.Warn(ctx, "failed to mark fingerprint in cache", "error", err)
			s.reportCacheError()
		}
	}

	if s.hooks.OnStored != nil {
		s.hooks.OnStored(features.ParseCategory(stored.Type).String(), stored.Score, outcome)
	}

	L.Info(ctx, "event ingested",
		"event_id", stored.ID,
		"type", stored.Type,
		"score", stored.Score,
		"outcome", outcome,
		"incident_id", stored.IncidentID,
	)

	if outcome == OutcomeAttachedNew && len(s.notifiers) > 0 {
		s.wg.Add(1)
		go s.notify(context.WithoutCancel(ctx), stored.IncidentID, stored.Clone())
	}

	return &IngestResult{Event: stored, Outcome: outcome}, nil
}

// findDuplicate checks the cache, then the store, for an event with fingerprint fp.
// Cache failures are logged and ignored.
func (s *Service) findDuplicate(ctx context.Context, fp string) (*event.Event, bool, error) {
	if s.cache != nil {
		id, ok, err := s.cache.Seen(ctx, fp)
		switch {
		case err != nil:
			s.logger.Warn(ctx, "fingerprint cache lookup failed", "fingerprint", fp, "error", err)
			s.reportCacheError()
		case ok:
			ev, found, err := s.store.GetEvent(ctx, id)
			if err != nil {
				return nil, false, err
			}
			if found {
				return ev, true, nil
			}
		}
	}
	return s.store.GetEventByFingerprint(ctx, fp)
}

func (s *Service) notify(ctx context.Context, incidentID string, ev *event.Event) {
	defer s.wg.Done()
	L := s.logger.With("incident_id", incidentID, "event_id", ev.ID)

	inc, ok, err := s.store.GetIncident(ctx, incidentID)
	if err == nil && !ok {
		err = fmt.Errorf("incident %s not found", incidentID)
	}
	if err != nil {
		L.Error(ctx, err, "failed to fetch incident for notification")
		return
	}

	for _, n := range s.notifiers {
		if err := n.Notify(ctx, inc, ev); err != nil {
			L.Error(ctx, err, "incident notification failed")
			if s.hooks.OnNotifyError != nil {
				s.hooks.OnNotifyError()
			}
		}
	}
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Score runs the scoring model over a caller-supplied feature vector.
func (s *Service) Score(v features.Vector) (float64, scoring.Explanation) {
	m := s.pipeline.Model()
	score := m.Score(v)
	return score, m.Explain(v, score)
}

// GetEvent retrieves an event by ID.
func (s *Service) GetEvent(ctx context.Context, id string) (*event.Event, bool, error) {
	return s.store.GetEvent(ctx, id)
}

// ListEvents returns a page of events and the total number matching f.
func (s *Service) ListEvents(ctx context.Context, f EventFilter) ([]*event.Event, int, error) {
	return s.store.ListEvents(ctx, f)
}

// GetIncident retrieves an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*Incident, bool, error) {
	return s.store.GetIncident(ctx, id)
}

// ListIncidents returns a page of incidents and the total number matching f.
func (s *Service) ListIncidents(ctx context.Context, f IncidentFilter) ([]*Incident, int, error) {
	return s.store.ListIncidents(ctx, f)
}

// IncidentUpdate carries externally managed incident fields. Nil fields are left unchanged.
type IncidentUpdate struct {
	Status  *Status
	OwnerID *string
}

// ErrInvalidStatus is returned by UpdateIncident for an unknown status.
var ErrInvalidStatus = errors.New("invalid incident status")

// UpdateIncident changes an incident's status or owner. Correlation never
// does this itself; it is the external path for closing incidents.
func (s *Service) UpdateIncident(ctx context.Context, id string, u IncidentUpdate) (*Incident, bool, error) {
	if u.Status != nil && !u.Status.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
	}

	var found bool
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		inc, ok, err := tx.GetIncident(ctx, id)
		found = ok
		if err != nil || !ok {
			return err
		}
		if u.Status != nil {
			inc.Status = *u.Status
		}
		if u.OwnerID != nil {
			inc.OwnerID = *u.OwnerID
		}
		return tx.SetIncidentState(ctx, id, inc.Status, inc.OwnerID)
	})
	if err != nil || !found {
		return nil, found, err
	}

	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}

	s.logger.Info(ctx, "incident updated", "incident_id", id, "status", inc.Status, "owner_id", inc.OwnerID)
	return inc, true, nil
}

func (s *Service) reportIngest(result string, start time.Time) {
	if s.hooks.OnIngest != nil {
		s.hooks.OnIngest(result, s.now().Sub(start).Seconds())
	}
}

func (s *Service) reportCacheError() {
	if s.hooks.OnCacheError != nil {
		s.hooks.OnCacheError()
	}
}
