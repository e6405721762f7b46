package eventapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/features"
	"github.com/linnemanlabs/signalos/internal/incident"
	"github.com/linnemanlabs/signalos/internal/scoring"
)

// EventService defines the business operations eventapi needs.
type EventService interface {
	Ingest(ctx context.Context, ev *event.Event) (*incident.IngestResult, error)
	GetEvent(ctx context.Context, id string) (*event.Event, bool, error)
	ListEvents(ctx context.Context, f incident.EventFilter) ([]*event.Event, int, error)
	GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error)
	ListIncidents(ctx context.Context, f incident.IncidentFilter) ([]*incident.Incident, int, error)
	UpdateIncident(ctx context.Context, id string, u incident.IncidentUpdate) (*incident.Incident, bool, error)
	Score(v features.Vector) (float64, scoring.Explanation)
}

// Option configures an API.
type Option func(*API)

// WithAuth protects every /api/v1 route with mw.
func WithAuth(mw func(http.Handler) http.Handler) Option {
	return func(a *API) { a.auth = mw }
}

// WithIngestLimit applies mw to POST /api/v1/events only.
func WithIngestLimit(mw func(http.Handler) http.Handler) Option {
	return func(a *API) { a.ingestLimit = mw }
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger      log.Logger
	svc         EventService
	auth        func(http.Handler) http.Handler
	ingestLimit func(http.Handler) http.Handler
}

// New creates a new API handler.
func New(logger log.Logger, svc EventService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("event service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.auth != nil {
			r.Use(a.auth)
		}

		if a.ingestLimit != nil {
			r.With(a.ingestLimit).Post("/events", a.handleCreateEvent)
		} else {
			r.Post("/events", a.handleCreateEvent)
		}
		r.Get("/events", a.handleListEvents)
		r.Get("/events/{id}", a.handleGetEvent)

		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Patch("/incidents/{id}", a.handleUpdateIncident)

		r.Post("/scoring/debug", a.handleScoringDebug)
	})
}

// page is the envelope for list responses.
type page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newPage[T any](items []T, total, limit, offset int) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, Total: total, Limit: limit, Offset: offset}
}

type validationError struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeInvalid(w http.ResponseWriter, fields []string) {
	writeJSON(w, http.StatusUnprocessableEntity, validationError{Error: "validation failed", Fields: fields})
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	a.logger.Error(r.Context(), err, msg, kv...)
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}
