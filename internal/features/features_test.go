package features

import (
	"math"
	"reflect"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Category
	}{
		{"price_move", PriceMove},
		{"health_anomaly", HealthAnomaly},
		{"news", News},
		{"cpu_high", Unknown},
		{"", Unknown},
		{"News", Unknown},
	}
	for _, tt := range tests {
		if got := ParseCategory(tt.in); got != tt.want {
			t.Errorf("ParseCategory(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if tt.want != Unknown && tt.want.String() != tt.in {
			t.Errorf("%v.String() = %q, want %q", tt.want, tt.want.String(), tt.in)
		}
	}
}

func TestExtract_PriceMove(t *testing.T) {
	t.Parallel()

	ctx := Context{PortfolioExposure: 0.8, MarketOpen: true, PersonalRelevance: 0.9}
	got := Extract("price_move", map[string]float64{
		MetricPctChange:   -0.07,
		MetricPctChange5m: -0.05,
	}, ctx)

	want := map[string]float64{
		ImpactFinance:     0.056,
		Urgency:           0.05,
		Actionability:     1.0,
		PersonalRelevance: 0.9,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d features %v, want %d", len(got), got, len(want))
	}
	for k, w := range want {
		if !approx(got[k], w) {
			t.Errorf("%s = %v, want %v", k, got[k], w)
		}
	}
}

func TestExtract_PriceMoveEdges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		metrics map[string]float64
		ctx     Context
		feature string
		want    float64
	}{
		{"urgency falls back to pct_change", map[string]float64{MetricPctChange: -0.3}, DefaultContext(), Urgency, 0.3},
		{"impact clamped", map[string]float64{MetricPctChange: 2}, Context{PortfolioExposure: 3}, ImpactFinance, 1},
		{"urgency clamped", map[string]float64{MetricPctChange5m: -4}, DefaultContext(), Urgency, 1},
		{"market closed", nil, Context{MarketOpen: false}, Actionability, 0.3},
		{"no metrics", nil, DefaultContext(), ImpactFinance, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Extract("price_move", tt.metrics, tt.ctx)
			if !approx(got[tt.feature], tt.want) {
				t.Errorf("%s = %v, want %v", tt.feature, got[tt.feature], tt.want)
			}
		})
	}
}

func TestExtract_HealthAnomaly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		metrics     map[string]float64
		wantImpact  float64
		wantUrgency float64
	}{
		{"mild", map[string]float64{MetricRHRZ: 1.5, MetricDaysPersistent: 1}, 0.5, 0.2},
		{"negative z", map[string]float64{MetricRHRZ: -1.5}, 0.5, 0.2},
		{"persistent", map[string]float64{MetricRHRZ: 6, MetricDaysPersistent: 3}, 1, 0.4},
		{"days truncated", map[string]float64{MetricDaysPersistent: 2.9}, 0, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Extract("health_anomaly", tt.metrics, DefaultContext())
			if !approx(got[ImpactHealth], tt.wantImpact) {
				t.Errorf("impact_health = %v, want %v", got[ImpactHealth], tt.wantImpact)
			}
			if !approx(got[Urgency], tt.wantUrgency) {
				t.Errorf("urgency = %v, want %v", got[Urgency], tt.wantUrgency)
			}
			if got[Actionability] != 0.6 {
				t.Errorf("actionability = %v, want 0.6", got[Actionability])
			}
		})
	}
}

func TestExtract_News(t *testing.T) {
	t.Parallel()

	got := Extract("news", nil, DefaultContext())
	if !approx(got[ImpactNews], 0.09) {
		t.Errorf("default impact_news = %v, want 0.09", got[ImpactNews])
	}
	if got[Actionability] != 0.2 || got[Urgency] != 0.2 {
		t.Errorf("defaults = %v", got)
	}

	got = Extract("news", map[string]float64{
		MetricCredibility:    0.9,
		MetricTopicRelevance: 0.5,
		MetricHasAction:      1,
		MetricVelocity:       0.7,
	}, DefaultContext())
	if !approx(got[ImpactNews], 0.45) || got[Actionability] != 0.5 || got[Urgency] != 0.7 {
		t.Errorf("news features = %v", got)
	}
}

func TestExtract_UnknownTypeOnlyRelevance(t *testing.T) {
	t.Parallel()

	got := Extract("cpu_high", map[string]float64{MetricPctChange: 0.5}, DefaultContext())
	want := Vector{PersonalRelevance: 0.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract(unknown) = %v, want %v", got, want)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	t.Parallel()

	m := map[string]float64{MetricPctChange: -0.07, MetricPctChange5m: -0.05}
	ctx := Context{PortfolioExposure: 0.8, MarketOpen: true, PersonalRelevance: 0.9}
	first := Extract("price_move", m, ctx)
	for i := 0; i < 10; i++ {
		if got := Extract("price_move", m, ctx); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d = %v, want %v", i, got, first)
		}
	}
}

func TestBuildContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		extras map[string]any
		want   Context
	}{
		{"nil extras", nil, DefaultContext()},
		{
			"top level",
			map[string]any{"portfolio_exposure": 0.8, "market_open": false, "personal_relevance": 0.9},
			Context{PortfolioExposure: 0.8, MarketOpen: false, PersonalRelevance: 0.9},
		},
		{
			"nested wins",
			map[string]any{
				"portfolio_exposure": 0.2,
				"context":            map[string]any{"portfolio_exposure": 0.7},
			},
			Context{PortfolioExposure: 0.7, MarketOpen: true, PersonalRelevance: 0.5},
		},
		{
			"non-coercible nested falls through to top level",
			map[string]any{
				"personal_relevance": "0.25",
				"context":            map[string]any{"personal_relevance": "high"},
			},
			Context{PortfolioExposure: 1, MarketOpen: true, PersonalRelevance: 0.25},
		},
		{
			"garbage falls back to defaults",
			map[string]any{"portfolio_exposure": []any{1}, "market_open": "maybe", "personal_relevance": nil},
			DefaultContext(),
		},
		{
			"string and numeric booleans",
			map[string]any{"market_open": "False", "context": "not a map"},
			Context{PortfolioExposure: 1, MarketOpen: false, PersonalRelevance: 0.5},
		},
		{
			"numeric zero closes market",
			map[string]any{"market_open": float64(0)},
			Context{PortfolioExposure: 1, MarketOpen: false, PersonalRelevance: 0.5},
		},
		{
			"bool as float",
			map[string]any{"portfolio_exposure": true},
			Context{PortfolioExposure: 1, MarketOpen: true, PersonalRelevance: 0.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BuildContext(tt.extras); got != tt.want {
				t.Errorf("BuildContext(%v) = %+v, want %+v", tt.extras, got, tt.want)
			}
		})
	}
}
