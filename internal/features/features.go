// Package features turns an event's type, metrics and context into the named
// feature vector consumed by scoring.
package features

import "math"

// Vector maps feature names to values. Absent features are read as zero or as
// the scoring model's default, never as an error.
type Vector map[string]float64

// Feature names.
const (
	ImpactFinance     = "impact_finance"
	ImpactHealth      = "impact_health"
	ImpactNews        = "impact_news"
	Actionability     = "actionability"
	Urgency           = "urgency"
	PersonalRelevance = "personal_relevance"
)

// Metric names read by the extractor.
const (
	MetricPctChange      = "pct_change"
	MetricPctChange5m    = "pct_change_5m"
	MetricRHRZ           = "rhr_z"
	MetricDaysPersistent = "days_persistent"
	MetricCredibility    = "credibility"
	MetricTopicRelevance = "topic_relevance"
	MetricHasAction      = "has_action"
	MetricVelocity       = "velocity"
)

// Category is the closed set of event types with dedicated features.
type Category int

const (
	Unknown Category = iota
	PriceMove
	HealthAnomaly
	News
)

// ParseCategory maps an event type tag to its category. Unrecognized tags map to Unknown.
func ParseCategory(eventType string) Category {
	switch eventType {
	case "price_move":
		return PriceMove
	case "health_anomaly":
		return HealthAnomaly
	case "news":
		return News
	default:
		return Unknown
	}
}

func (c Category) String() string {
	switch c {
	case PriceMove:
		return "price_move"
	case HealthAnomaly:
		return "health_anomaly"
	case News:
		return "news"
	default:
		return "unknown"
	}
}

// Extract computes the feature vector for one event. It is pure and never
// fails; missing metrics fall back to fixed defaults.
func Extract(eventType string, metrics map[string]float64, ctx Context) Vector {
	f := Vector{}
	metric := func(name string, def float64) float64 {
		if v, ok := metrics[name]; ok {
			return v
		}
		return def
	}

	switch ParseCategory(eventType) {
	case PriceMove:
		pct := metric(MetricPctChange, 0)
		f[ImpactFinance] = clamp01(math.Abs(pct) * ctx.PortfolioExposure)
		f[Urgency] = clamp01(math.Abs(metric(MetricPctChange5m, pct)))
		if ctx.MarketOpen {
			f[Actionability] = 1.0
		} else {
			f[Actionability] = 0.3
		}
	case HealthAnomaly:
		f[ImpactHealth] = clamp01(math.Abs(metric(MetricRHRZ, 0)) / 3)
		if math.Trunc(metric(MetricDaysPersistent, 0)) >= 3 {
			f[Urgency] = 0.4
		} else {
			f[Urgency] = 0.2
		}
		f[Actionability] = 0.6
	case News:
		f[ImpactNews] = metric(MetricCredibility, 0.3) * metric(MetricTopicRelevance, 0.3)
		if metric(MetricHasAction, 0) != 0 {
			f[Actionability] = 0.5
		} else {
			f[Actionability] = 0.2
		}
		f[Urgency] = metric(MetricVelocity, 0.2)
	case Unknown:
		// only the universal feature below
	}

	f[PersonalRelevance] = ctx.PersonalRelevance
	return f
}

// clamp01 bounds v to [0,1]. NaN maps to 0.
func clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
