// Package scoring maps a feature vector to a risk score in [0,1] and explains
// the score as per-factor weighted contributions. Score and Explain share one
// Model so their weights cannot drift apart.
package scoring

import (
	"math"

	"github.com/linnemanlabs/signalos/internal/features"
)

// Factor is one term of the weighted score.
type Factor string

const (
	FactorImpact            Factor = "impact"
	FactorActionability     Factor = "actionability"
	FactorUrgency           Factor = "urgency"
	FactorPersonalRelevance Factor = "personal_relevance"
)

// Factors lists the factors in declaration order. Explain breaks ties for the
// top factor in this order.
var Factors = [...]Factor{FactorImpact, FactorActionability, FactorUrgency, FactorPersonalRelevance}

// Weights is the per-factor weight table.
type Weights struct {
	Impact            float64 `yaml:"impact" json:"impact"`
	Actionability     float64 `yaml:"actionability" json:"actionability"`
	Urgency           float64 `yaml:"urgency" json:"urgency"`
	PersonalRelevance float64 `yaml:"personal_relevance" json:"personal_relevance"`
}

// Defaults are the factor values used when a feature is absent. Impact has no
// default; it is the maximum of the impact features present, or 0.
type Defaults struct {
	Actionability     float64 `yaml:"actionability" json:"actionability"`
	Urgency           float64 `yaml:"urgency" json:"urgency"`
	PersonalRelevance float64 `yaml:"personal_relevance" json:"personal_relevance"`
}

// Model is the scoring configuration passed to both Score and Explain.
type Model struct {
	Weights  Weights  `yaml:"weights" json:"weights"`
	Defaults Defaults `yaml:"defaults" json:"defaults"`
}

// DefaultModel returns the built-in weight table.
func DefaultModel() Model {
	return Model{
		Weights: Weights{
			Impact:            0.4,
			Actionability:     0.25,
			Urgency:           0.2,
			PersonalRelevance: 0.15,
		},
		Defaults: Defaults{
			Actionability:     0.5,
			Urgency:           0.2,
			PersonalRelevance: 0.5,
		},
	}
}

// Explanation is the auditable breakdown of a score.
type Explanation struct {
	Contributions map[Factor]float64 `json:"contributions"`
	TopFactor     Factor             `json:"top_factor"`
	Score         float64            `json:"score"`
}

// weight returns the weight for f.
func (m Model) weight(f Factor) float64 {
	switch f {
	case FactorImpact:
		return m.Weights.Impact
	case FactorActionability:
		return m.Weights.Actionability
	case FactorUrgency:
		return m.Weights.Urgency
	case FactorPersonalRelevance:
		return m.Weights.PersonalRelevance
	default:
		return 0
	}
}

// value resolves factor f from the vector, applying the model defaults.
func (m Model) value(v features.Vector, f Factor) float64 {
	get := func(name string, def float64) float64 {
		if x, ok := v[name]; ok {
			return x
		}
		return def
	}
	switch f {
	case FactorImpact:
		return max(get(features.ImpactFinance, 0), get(features.ImpactHealth, 0), get(features.ImpactNews, 0))
	case FactorActionability:
		return get(features.Actionability, m.Defaults.Actionability)
	case FactorUrgency:
		return get(features.Urgency, m.Defaults.Urgency)
	case FactorPersonalRelevance:
		return get(features.PersonalRelevance, m.Defaults.PersonalRelevance)
	default:
		return 0
	}
}

// Score returns the weighted sum of the factors, clamped to [0,1].
func (m Model) Score(v features.Vector) float64 {
	var s float64
	for _, f := range Factors {
		s += m.weight(f) * m.value(v, f)
	}
	return clamp01(s)
}

// Explain returns per-factor contributions rounded to 6 decimals, the first
// factor in declaration order with the largest contribution, and the score.
func (m Model) Explain(v features.Vector, score float64) Explanation {
	e := Explanation{
		Contributions: make(map[Factor]float64, len(Factors)),
		Score:         round6(score),
	}
	best := math.Inf(-1)
	for _, f := range Factors {
		c := round6(m.weight(f) * m.value(v, f))
		e.Contributions[f] = c
		if c > best {
			best = c
			e.TopFactor = f
		}
	}
	return e
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
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
