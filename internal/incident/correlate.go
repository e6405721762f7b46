package incident

import (
	"context"
	"fmt"
	"time"
)

// Correlation defaults.
const (
	DefaultWindow     = 15 * time.Minute
	DefaultCandidates = 50
)

// Outcome is what correlation did with an event.
type Outcome string

const (
	OutcomeUnattached       Outcome = "unattached"
	OutcomeAttachedExisting Outcome = "attached_existing"
	OutcomeAttachedNew      Outcome = "attached_new"
	// OutcomeExplicit means the caller named the incident and correlation did not run.
	OutcomeExplicit Outcome = "explicit"
)

// ShouldMerge reports whether two events belong together under the default
// window: same entity within 15 minutes, or any shared tag regardless of time.
func ShouldMerge(a, b View) bool {
	return shouldMerge(a, b, DefaultWindow)
}

func shouldMerge(a, b View, window time.Duration) bool {
	if a.EntityID == b.EntityID {
		d := a.OccurredAt.UnixMilli() - b.OccurredAt.UnixMilli()
		if d < 0 {
			d = -d
		}
		if d <= window.Milliseconds() {
			return true
		}
	}
	return sharesTag(a.Tags, b.Tags)
}

func sharesTag(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Decision is the correlator's verdict for one event.
type Decision struct {
	Outcome    Outcome
	Candidate  *Candidate
	IncidentID string
}

// Correlator attaches events to incidents. Its scan is greedy: the first
// candidate (newest first) that merges decides the outcome, except that
// candidates in a non-open incident are skipped and the scan continues.
// Two events that each merge with a third end up together even if they would
// not merge with each other.
type Correlator struct {
	window time.Duration
	limit  int
}

// NewCorrelator returns a Correlator. Non-positive arguments take the defaults.
func NewCorrelator(window time.Duration, limit int) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultCandidates
	}
	return &Correlator{window: window, limit: limit}
}

// Window returns the lookback window.
func (c *Correlator) Window() time.Duration { return c.window }

// Limit returns the candidate cap.
func (c *Correlator) Limit() int { return c.limit }

// Decide picks the merge target for v from cands, which must be ordered newest
// first. It performs no I/O.
func (c *Correlator) Decide(v View, cands []Candidate) Decision {
	for i := range cands {
		cand := &cands[i]
		if !shouldMerge(cand.View(), v, c.window) {
			continue
		}
		if cand.IncidentID != "" {
			if cand.IncidentStatus != StatusOpen {
				continue
			}
			return Decision{Outcome: OutcomeAttachedExisting, Candidate: cand, IncidentID: cand.IncidentID}
		}
		return Decision{Outcome: OutcomeAttachedNew, Candidate: cand}
	}
	return Decision{Outcome: OutcomeUnattached}
}

// Correlate loads candidates for v from tx, decides, and applies the decision:
// it updates the aggregates of an existing incident, or creates a new one and
// attaches the candidate to it. The new event itself is not written; the
// caller stores it with the returned IncidentID. Store errors are returned
// unchanged.
func (c *Correlator) Correlate(ctx context.Context, tx Tx, v View, score float64) (Decision, error) {
	cands, err := tx.Candidates(ctx, v.OccurredAt.Add(-c.window), v.OccurredAt, c.limit)
	if err != nil {
		return Decision{}, err
	}

	d := c.Decide(v, cands)
	switch d.Outcome {
	case OutcomeAttachedExisting:
		inc, ok, err := tx.GetIncident(ctx, d.IncidentID)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return Decision{}, fmt.Errorf("incident %s: not found", d.IncidentID)
		}
		Aggregate(inc, score, v.OccurredAt)
		if err := tx.UpdateIncident(ctx, inc); err != nil {
			return Decision{}, err
		}

	case OutcomeAttachedNew:
		inc, err := tx.CreateIncident(ctx)
		if err != nil {
			return Decision{}, err
		}
		Aggregate(inc, d.Candidate.Score, d.Candidate.OccurredAt)
		Aggregate(inc, score, v.OccurredAt)
		if err := tx.UpdateIncident(ctx, inc); err != nil {
			return Decision{}, err
		}
		if err := tx.SetEventIncident(ctx, d.Candidate.EventID, inc.ID); err != nil {
			return Decision{}, err
		}
		d.IncidentID = inc.ID

	case OutcomeUnattached, OutcomeExplicit:
	}
	return d, nil
}
