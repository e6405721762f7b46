package eventapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/incident"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// createEventRequest is the POST /events body. Required fields are pointers
// so a missing field can be told apart from a zero value.
type createEventRequest struct {
	Source      *string         `json:"source"`
	OccurredAt  *time.Time      `json:"occurred_at"`
	ReceivedAt  *time.Time      `json:"received_at"`
	Entity      *entityRequest  `json:"entity"`
	Type        *string         `json:"type"`
	Title       *string         `json:"title"`
	Body        string          `json:"body"`
	SeverityRaw string          `json:"severity_raw"`
	Tags        []string        `json:"tags"`
	Metrics     []metricRequest `json:"metrics"`
	Links       []event.Link    `json:"links"`
	Extras      map[string]any  `json:"extras"`
	IncidentID  string          `json:"incident_id"`
}

type entityRequest struct {
	Type *string `json:"type"`
	ID   *string `json:"id"`
}

type metricRequest struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// toEvent validates the request and returns the event it describes, or the
// list of offending fields.
func (req *createEventRequest) toEvent() (*event.Event, []string) {
	var bad []string
	if blank(req.Source) {
		bad = append(bad, "source")
	}
	if req.OccurredAt == nil {
		bad = append(bad, "occurred_at")
	}
	if req.ReceivedAt == nil {
		bad = append(bad, "received_at")
	}
	if req.Entity == nil {
		bad = append(bad, "entity")
	} else {
		if blank(req.Entity.Type) {
			bad = append(bad, "entity.type")
		}
		if blank(req.Entity.ID) {
			bad = append(bad, "entity.id")
		}
	}
	if blank(req.Type) {
		bad = append(bad, "type")
	}
	if blank(req.Title) {
		bad = append(bad, "title")
	}
	for i, m := range req.Metrics {
		if m.Name == "" {
			bad = append(bad, fmt.Sprintf("metrics[%d].name", i))
		}
		if m.Value == nil {
			bad = append(bad, fmt.Sprintf("metrics[%d].value", i))
		}
	}
	for i, l := range req.Links {
		if l.Href == "" {
			bad = append(bad, fmt.Sprintf("links[%d].href", i))
		}
	}
	if len(bad) > 0 {
		return nil, bad
	}

	ev := &event.Event{
		Source:      *req.Source,
		OccurredAt:  *req.OccurredAt,
		ReceivedAt:  *req.ReceivedAt,
		Entity:      event.EntityRef{Type: *req.Entity.Type, ID: *req.Entity.ID},
		Type:        *req.Type,
		Title:       *req.Title,
		Body:        req.Body,
		SeverityRaw: req.SeverityRaw,
		Tags:        req.Tags,
		Links:       req.Links,
		Extras:      req.Extras,
		IncidentID:  req.IncidentID,
	}
	for _, m := range req.Metrics {
		ev.Metrics = append(ev.Metrics, event.Metric{Name: m.Name, Value: *m.Value, Unit: m.Unit})
	}
	return ev, nil
}

func (a *API) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	ev, bad := req.toEvent()
	if bad != nil {
		writeInvalid(w, bad)
		return
	}

	res, err := a.svc.Ingest(r.Context(), ev)
	if err != nil {
		a.internalError(w, r, err, "failed to ingest event", "source", ev.Source, "type", ev.Type)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("signalos.event.id", res.Event.ID),
		attribute.Bool("signalos.event.duplicate", res.Duplicate),
	)

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res.Event)
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("signalos.event.id", id))

	ev, ok, err := a.svc.GetEvent(r.Context(), id)
	if err != nil {
		a.internalError(w, r, err, "failed to get event", "id", id)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, bad := parsePage(q)

	f := incident.EventFilter{
		Source:     q.Get("source"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		IncidentID: q.Get("incident_id"),
		Tag:        q.Get("tag"),
		Limit:      limit,
		Offset:     offset,
	}
	var ok bool
	if f.OccurredAfter, ok = parseTime(q, "occurred_after"); !ok {
		bad = append(bad, "occurred_after")
	}
	if f.OccurredBefore, ok = parseTime(q, "occurred_before"); !ok {
		bad = append(bad, "occurred_before")
	}
	if len(bad) > 0 {
		writeInvalid(w, bad)
		return
	}

	items, total, err := a.svc.ListEvents(r.Context(), f)
	if err != nil {
		a.internalError(w, r, err, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, total, limit, offset))
}

// parsePage reads limit (1..maxLimit, default defaultLimit) and offset (>= 0).
func parsePage(q url.Values) (limit, offset int, bad []string) {
	limit, offset = defaultLimit, 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			bad = append(bad, "limit")
		} else {
			limit = n
		}
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			bad = append(bad, "offset")
		} else {
			offset = n
		}
	}
	return limit, offset, bad
}

// parseTime reads an optional RFC 3339 timestamp. ok is false only when the
// parameter is present and malformed.
func parseTime(q url.Values, key string) (*time.Time, bool) {
	s := q.Get(key)
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
