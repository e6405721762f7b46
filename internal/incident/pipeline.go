package incident

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/features"
	"github.com/linnemanlabs/signalos/internal/scoring"
)

const tracerName = "github.com/linnemanlabs/signalos/internal/incident"

// Result is the pipeline output for one event, consumed by the caller for
// persistence and response formatting.
type Result struct {
	Features   features.Vector
	Score      float64
	Explain    scoring.Explanation
	IncidentID string
	Outcome    Outcome
}

// Pipeline enriches one event at a time: context, features, score,
// explanation, then correlation unless the event names its incident.
// It holds no state between calls.
type Pipeline struct {
	model      scoring.Model
	correlator *Correlator
}

// NewPipeline creates a pipeline using model for scoring and c for correlation.
func NewPipeline(model scoring.Model, c *Correlator) *Pipeline {
	if c == nil {
		c = NewCorrelator(0, 0)
	}
	return &Pipeline{model: model, correlator: c}
}

// Model returns the scoring model shared by Score and Explain.
func (p *Pipeline) Model() scoring.Model { return p.model }

// Enrich computes features, score and explanation. It is pure.
func (p *Pipeline) Enrich(ev *event.Event) (features.Vector, float64, scoring.Explanation) {
	fctx := features.BuildContext(ev.Extras)
	vec := features.Extract(ev.Type, ev.MetricValues(), fctx)
	score := p.model.Score(vec)
	return vec, score, p.model.Explain(vec, score)
}

// Process runs the pipeline for ev inside tx. An explicit ev.IncidentID
// bypasses correlation and is not validated; when that incident exists its
// aggregates are updated. ev itself is not modified or written.
func (p *Pipeline) Process(ctx context.Context, tx Tx, ev *event.Event) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "incident.Pipeline.Process", trace.WithAttributes(
		attribute.String("event.source", ev.Source),
		attribute.String("event.type", ev.Type),
	))
	defer span.End()

	vec, score, explain := p.Enrich(ev)
	res := &Result{Features: vec, Score: score, Explain: explain}

	if ev.IncidentID != "" {
		res.IncidentID = ev.IncidentID
		res.Outcome = OutcomeExplicit
		if err := p.applyExplicit(ctx, tx, ev.IncidentID, score, ev.OccurredAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	} else {
		d, err := p.correlator.Correlate(ctx, tx, View{
			EntityID:   ev.Entity.ID,
			OccurredAt: ev.OccurredAt,
			Tags:       ev.Tags,
		}, score)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		res.IncidentID = d.IncidentID
		res.Outcome = d.Outcome
	}

	span.SetAttributes(
		attribute.Float64("event.score", score),
		attribute.String("correlation.outcome", string(res.Outcome)),
	)
	return res, nil
}

func (p *Pipeline) applyExplicit(ctx context.Context, tx Tx, id string, score float64, occurredAt time.Time) error {
	inc, ok, err := tx.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	Aggregate(inc, score, occurredAt)
	return tx.UpdateIncident(ctx, inc)
}
