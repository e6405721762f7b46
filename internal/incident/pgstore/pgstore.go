// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/incident"
	"github.com/linnemanlabs/signalos/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/signalos/internal/incident/pgstore")

//go:embed schema.sql
var schema string

const (
	// maxTxAttempts bounds how often Atomic runs a transaction that keeps
	// failing serialization.
	maxTxAttempts = 5

	sqlStateSerializationFailure = "40001"
	sqlStateUniqueViolation      = "23505"
	fingerprintConstraint        = "events_fingerprint_key"
)

// Store persists events and incidents in PostgreSQL.
type Store struct {
	pool       *pgxpool.Pool
	newBackOff func() backoff.BackOff
}

// New applies the schema on pool and returns a ready Store. The Store takes
// ownership of pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(postgres.WithOperation(ctx, "pgstore.schema"), schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, newBackOff: defaultBackOff}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	return b
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
	return postgres.WithOperation(ctx, name), span
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Atomic runs fn in a SERIALIZABLE transaction. Serialization failures are
// retried with exponential backoff, up to maxTxAttempts runs in total; any
// other error is returned unchanged after rollback.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx incident.Tx) error) error {
	ctx, span := tracer.Start(ctx, "pgstore.Atomic", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
	))
	defer span.End()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.runTx(ctx, fn)
		if err == nil || isSerializationFailure(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(s.newBackOff()), backoff.WithMaxTries(maxTxAttempts))

	span.SetAttributes(attribute.Int("db.tx.attempts", attempts))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil {
		fail(span, err)
		return err
	}
	return nil
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx incident.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateSerializationFailure
}

func isDuplicateFingerprint(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == sqlStateUniqueViolation &&
		pgErr.ConstraintName == fingerprintConstraint
}

const eventColumns = `id, fingerprint, source, occurred_at, received_at, entity_type, entity_id,
	type, title, body, severity_raw, tags, metrics, links, extras, features, score, explain, incident_id`

const incidentColumns = `i.id, i.owner_id, i.status, i.score, i.last_event_at, i.created_at, i.updated_at,
	(SELECT count(*) FROM events e WHERE e.incident_id = i.id)`

// GetEvent retrieves an event by ID.
//
//nolint:dupl // similar structure to GetEventByFingerprint is intentional
func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetEvent", "SELECT")
	defer span.End()

	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return ev, ev != nil, nil
}

// GetEventByFingerprint retrieves an event by fingerprint.
//
//nolint:dupl // similar structure to GetEvent is intentional
func (s *Store) GetEventByFingerprint(ctx context.Context, fp string) (*event.Event, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetEventByFingerprint", "SELECT")
	defer span.End()

	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE fingerprint = $1`, fp))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return ev, ev != nil, nil
}

// ListEvents returns matching events ordered by occurred_at desc, id desc, and the total count.
func (s *Store) ListEvents(ctx context.Context, f incident.EventFilter) ([]*event.Event, int, error) {
	ctx, span := startSpan(ctx, "pgstore.ListEvents", "SELECT")
	defer span.End()

	var w where
	w.add("source = $%d", f.Source, f.Source != "")
	w.add("entity_type = $%d", f.EntityType, f.EntityType != "")
	w.add("entity_id = $%d", f.EntityID, f.EntityID != "")
	w.add("incident_id = $%d", f.IncidentID, f.IncidentID != "")
	w.add("$%d = ANY(tags)", f.Tag, f.Tag != "")
	if f.OccurredAfter != nil {
		w.add("occurred_at >= $%d", *f.OccurredAfter, true)
	}
	if f.OccurredBefore != nil {
		w.add("occurred_at <= $%d", *f.OccurredBefore, true)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM events`+w.sql(), w.args...).Scan(&total); err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM events` + w.sql() +
		` ORDER BY occurred_at DESC, id DESC` + w.page(f.Limit, f.Offset)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			fail(span, err)
			return nil, 0, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}
	return out, total, nil
}

// GetIncident retrieves an incident by ID with its event count.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents i WHERE i.id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return inc, inc != nil, nil
}

// ListIncidents returns matching incidents ordered by last_event_at desc
// (nulls last), then id, and the total count.
func (s *Store) ListIncidents(ctx context.Context, f incident.IncidentFilter) ([]*incident.Incident, int, error) {
	ctx, span := startSpan(ctx, "pgstore.ListIncidents", "SELECT")
	defer span.End()

	var w where
	w.add("i.status = $%d", string(f.Status), f.Status != "")
	w.add("i.owner_id = $%d", f.OwnerID, f.OwnerID != "")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM incidents i`+w.sql(), w.args...).Scan(&total); err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents i` + w.sql() +
		` ORDER BY i.last_event_at DESC NULLS LAST, i.id` + w.page(f.Limit, f.Offset)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			fail(span, err)
			return nil, 0, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, total, nil
}

// PutIncident inserts or updates an incident. The stored score and
// last_event_at only move forward.
func (s *Store) PutIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := startSpan(ctx, "pgstore.PutIncident", "UPSERT")
	defer span.End()

	now := time.Now().UTC()
	createdAt := inc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO incidents (id, owner_id, status, score, last_event_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id      = EXCLUDED.owner_id,
			status        = EXCLUDED.status,
			score         = GREATEST(incidents.score, EXCLUDED.score),
			last_event_at = GREATEST(incidents.last_event_at, EXCLUDED.last_event_at),
			updated_at    = EXCLUDED.updated_at`,
		inc.ID, nullString(inc.OwnerID), string(inc.Status), inc.Score, inc.LastEventAt, createdAt, now,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

// pgTx implements incident.Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Candidates(ctx context.Context, from, to time.Time, limit int) ([]incident.Candidate, error) {
	ctx = postgres.WithOperation(ctx, "pgstore.Candidates")
	rows, err := t.tx.Query(ctx, `SELECT e.id, e.entity_id, e.occurred_at, e.tags, e.score, e.incident_id, i.status
		FROM events e LEFT JOIN incidents i ON i.id = e.incident_id
		WHERE e.occurred_at >= $1 AND e.occurred_at <= $2
		ORDER BY e.occurred_at DESC, e.id DESC
		LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []incident.Candidate
	for rows.Next() {
		var (
			c          incident.Candidate
			incidentID *string
			status     *string
		)
		if err := rows.Scan(&c.EventID, &c.EntityID, &c.OccurredAt, &c.Tags, &c.Score, &incidentID, &status); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if incidentID != nil {
			c.IncidentID = *incidentID
		}
		if status != nil {
			c.IncidentStatus = incident.Status(*status)
		}
		c.OccurredAt = c.OccurredAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func (t *pgTx) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx = postgres.WithOperation(ctx, "pgstore.TxGetIncident")
	inc, err := scanIncident(t.tx.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents i WHERE i.id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, err
	}
	return inc, inc != nil, nil
}

func (t *pgTx) CreateIncident(ctx context.Context) (*incident.Incident, error) {
	ctx = postgres.WithOperation(ctx, "pgstore.CreateIncident")
	inc := &incident.Incident{ID: ulid.Make().String(), Status: incident.StatusOpen}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO incidents (id, status) VALUES ($1, $2) RETURNING created_at, updated_at`,
		inc.ID, string(inc.Status),
	).Scan(&inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}
	return inc, nil
}

func (t *pgTx) UpdateIncident(ctx context.Context, inc *incident.Incident) error {
	ctx = postgres.WithOperation(ctx, "pgstore.UpdateIncident")
	tag, err := t.tx.Exec(ctx,
		`UPDATE incidents SET score = $2, last_event_at = $3, updated_at = now() WHERE id = $1`,
		inc.ID, inc.Score, inc.LastEventAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update incident %s: not found", inc.ID)
	}
	return nil
}

func (t *pgTx) SetIncidentState(ctx context.Context, id string, status incident.Status, ownerID string) error {
	ctx = postgres.WithOperation(ctx, "pgstore.SetIncidentState")
	tag, err := t.tx.Exec(ctx,
		`UPDATE incidents SET status = $2, owner_id = $3, updated_at = now() WHERE id = $1`,
		id, string(status), nullString(ownerID),
	)
	if err != nil {
		return fmt.Errorf("set incident state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set incident %s state: not found", id)
	}
	return nil
}

func (t *pgTx) SetEventIncident(ctx context.Context, eventID, incidentID string) error {
	ctx = postgres.WithOperation(ctx, "pgstore.SetEventIncident")
	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET incident_id = $2 WHERE id = $1 AND (incident_id IS NULL OR incident_id = $2)`,
		eventID, incidentID,
	)
	if err != nil {
		return fmt.Errorf("set event incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set incident on event %s: not found or already attached", eventID)
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev *event.Event) error {
	ctx = postgres.WithOperation(ctx, "pgstore.InsertEvent")

	metricsJSON, err := json.Marshal(orEmpty(ev.Metrics))
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	linksJSON, err := json.Marshal(orEmpty(ev.Links))
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	extrasJSON, err := marshalObject(ev.Extras)
	if err != nil {
		return fmt.Errorf("marshal extras: %w", err)
	}
	featuresJSON, err := marshalObject(ev.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	explainJSON, err := json.Marshal(ev.Explain)
	if err != nil {
		return fmt.Errorf("marshal explain: %w", err)
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		ev.ID, ev.Fingerprint, ev.Source, ev.OccurredAt, ev.ReceivedAt, ev.Entity.Type, ev.Entity.ID,
		ev.Type, ev.Title, ev.Body, ev.SeverityRaw, orEmpty(ev.Tags), metricsJSON, linksJSON,
		extrasJSON, featuresJSON, ev.Score, explainJSON, nullString(ev.IncidentID),
	)
	if isDuplicateFingerprint(err) {
		return incident.ErrDuplicateFingerprint
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// scanEvent scans one events row. Returns (nil, nil) when no row is found.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		ev           event.Event
		metricsJSON  []byte
		linksJSON    []byte
		extrasJSON   []byte
		featuresJSON []byte
		explainJSON  []byte
		incidentID   *string
	)
	err := row.Scan(
		&ev.ID, &ev.Fingerprint, &ev.Source, &ev.OccurredAt, &ev.ReceivedAt, &ev.Entity.Type, &ev.Entity.ID,
		&ev.Type, &ev.Title, &ev.Body, &ev.SeverityRaw, &ev.Tags, &metricsJSON, &linksJSON,
		&extrasJSON, &featuresJSON, &ev.Score, &explainJSON, &incidentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}

	for _, f := range []struct {
		name string
		src  []byte
		dst  any
	}{
		{"metrics", metricsJSON, &ev.Metrics},
		{"links", linksJSON, &ev.Links},
		{"extras", extrasJSON, &ev.Extras},
		{"features", featuresJSON, &ev.Features},
		{"explain", explainJSON, &ev.Explain},
	} {
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", f.name, err)
		}
	}

	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	if incidentID != nil {
		ev.IncidentID = *incidentID
	}
	return &ev, nil
}

// scanIncident scans one incidents row. Returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc         incident.Incident
		ownerID     *string
		status      string
		lastEventAt *time.Time
	)
	err := row.Scan(&inc.ID, &ownerID, &status, &inc.Score, &lastEventAt, &inc.CreatedAt, &inc.UpdatedAt, &inc.EventCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Status = incident.Status(status)
	if ownerID != nil {
		inc.OwnerID = *ownerID
	}
	if lastEventAt != nil {
		t := lastEventAt.UTC()
		inc.LastEventAt = &t
	}
	return &inc, nil
}

// where accumulates positional filter conditions.
type where struct {
	conds []string
	args  []any
}

// add appends cond (with a single %d placeholder for the argument position) when ok.
func (w *where) add(cond string, arg any, ok bool) {
	if !ok {
		return
	}
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page renders LIMIT/OFFSET inline; both are validated integers, never user strings.
func (w *where) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func marshalObject[M ~map[K]V, K comparable, V any](m M) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
