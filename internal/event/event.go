// Package event defines the normalized monitoring event that flows through the
// enrichment pipeline, and the fingerprint used for idempotent ingestion.
package event

import (
	"time"

	"github.com/linnemanlabs/signalos/internal/features"
	"github.com/linnemanlabs/signalos/internal/scoring"
)

// EntityRef points at the thing an event is about (a user, a portfolio, a service).
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Metric is a named numeric signal carried by an event.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Link is a reference to external material about the event.
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel,omitempty"`
	Text string `json:"text,omitempty"`
}

// Event is a normalized event. Source fields are immutable once ingested; the
// pipeline fills Features, Score, Explain and at most once IncidentID.
type Event struct {
	ID          string         `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	Source      string         `json:"source"`
	OccurredAt  time.Time      `json:"occurred_at"`
	ReceivedAt  time.Time      `json:"received_at"`
	Entity      EntityRef      `json:"entity"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Body        string         `json:"body,omitempty"`
	SeverityRaw string         `json:"severity_raw,omitempty"`
	Tags        []string       `json:"tags"`
	Metrics     []Metric       `json:"metrics"`
	Links       []Link         `json:"links"`
	Extras      map[string]any `json:"extras"`

	Features   features.Vector     `json:"features"`
	Score      float64             `json:"score"`
	Explain    scoring.Explanation `json:"explain"`
	IncidentID string              `json:"incident_id,omitempty"`
}

// Normalize converts both timestamps to UTC and collapses duplicate tags,
// keeping the first occurrence of each.
func (e *Event) Normalize() {
	e.OccurredAt = e.OccurredAt.UTC()
	e.ReceivedAt = e.ReceivedAt.UTC()
	e.Tags = UniqueTags(e.Tags)
}

// MetricValues returns metrics keyed by name. A later metric with the same
// name replaces an earlier one.
func (e *Event) MetricValues() map[string]float64 {
	out := make(map[string]float64, len(e.Metrics))
	for _, m := range e.Metrics {
		out[m.Name] = m.Value
	}
	return out
}

// Identity returns the fields that make up the event's fingerprint.
func (e *Event) Identity() Identity {
	return Identity{
		Source:     e.Source,
		OccurredAt: e.OccurredAt,
		EntityType: e.Entity.Type,
		EntityID:   e.Entity.ID,
		Type:       e.Type,
		Title:      e.Title,
	}
}

// Clone returns a deep copy. Extras values are copied one level deep.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	cp.Metrics = append([]Metric(nil), e.Metrics...)
	cp.Links = append([]Link(nil), e.Links...)
	if e.Extras != nil {
		cp.Extras = make(map[string]any, len(e.Extras))
		for k, v := range e.Extras {
			cp.Extras[k] = v
		}
	}
	if e.Features != nil {
		cp.Features = make(features.Vector, len(e.Features))
		for k, v := range e.Features {
			cp.Features[k] = v
		}
	}
	if e.Explain.Contributions != nil {
		cp.Explain.Contributions = make(map[scoring.Factor]float64, len(e.Explain.Contributions))
		for k, v := range e.Explain.Contributions {
			cp.Explain.Contributions[k] = v
		}
	}
	return &cp
}

// UniqueTags drops repeated tags and empty strings.
func UniqueTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
