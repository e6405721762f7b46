package eventapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/signalos/internal/incident"
)

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, bad := parsePage(q)

	status := incident.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		bad = append(bad, "status")
	}
	if len(bad) > 0 {
		writeInvalid(w, bad)
		return
	}

	items, total, err := a.svc.ListIncidents(r.Context(), incident.IncidentFilter{
		Status:  status,
		OwnerID: q.Get("owner_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		a.internalError(w, r, err, "failed to list incidents")
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, total, limit, offset))
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("signalos.incident.id", id))

	inc, ok, err := a.svc.GetIncident(r.Context(), id)
	if err != nil {
		a.internalError(w, r, err, "failed to get incident", "id", id)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("signalos.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, inc)
}

type updateIncidentRequest struct {
	Status  *incident.Status `json:"status"`
	OwnerID *string          `json:"owner_id"`
}

func (a *API) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("signalos.incident.id", id))

	var req updateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeInvalid(w, []string{"status"})
		return
	}

	inc, ok, err := a.svc.UpdateIncident(r.Context(), id, incident.IncidentUpdate{
		Status:  req.Status,
		OwnerID: req.OwnerID,
	})
	if errors.Is(err, incident.ErrInvalidStatus) {
		writeInvalid(w, []string{"status"})
		return
	}
	if err != nil {
		a.internalError(w, r, err, "failed to update incident", "id", id)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
