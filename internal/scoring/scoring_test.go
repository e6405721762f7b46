package scoring

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/linnemanlabs/signalos/internal/features"
)

func TestScore_EmptyVector(t *testing.T) {
	t.Parallel()

	got := DefaultModel().Score(features.Vector{})
	if math.Abs(got-0.24) > 1e-12 {
		t.Errorf("Score(empty) = %v, want 0.24", got)
	}
}

func TestScore_PriceMoveScenario(t *testing.T) {
	t.Parallel()

	v := features.Extract("price_move", map[string]float64{
		features.MetricPctChange:   -0.07,
		features.MetricPctChange5m: -0.05,
	}, features.Context{PortfolioExposure: 0.8, MarketOpen: true, PersonalRelevance: 0.9})

	got := DefaultModel().Score(v)
	if math.Abs(got-0.4174) > 1e-4 {
		t.Errorf("Score = %v, want 0.4174", got)
	}
}

func TestScore_ImpactIsMaxOfImpacts(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	a := m.Score(features.Vector{features.ImpactFinance: 0.2, features.ImpactHealth: 0.9, features.ImpactNews: 0.1})
	b := m.Score(features.Vector{features.ImpactHealth: 0.9})
	if a != b {
		t.Errorf("Score with lesser impacts = %v, want %v", a, b)
	}
}

func TestScore_Bounded(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	rng := rand.New(rand.NewPCG(1, 2))
	names := []string{
		features.ImpactFinance, features.ImpactHealth, features.ImpactNews,
		features.Actionability, features.Urgency, features.PersonalRelevance,
	}
	for i := 0; i < 2000; i++ {
		v := features.Vector{}
		for _, n := range names {
			if rng.IntN(3) == 0 {
				continue
			}
			v[n] = (rng.Float64() - 0.5) * 20
		}
		if s := m.Score(v); s < 0 || s > 1 {
			t.Fatalf("Score(%v) = %v out of [0,1]", v, s)
		}
	}

	extremes := []features.Vector{
		{features.ImpactFinance: math.Inf(1)},
		{features.Urgency: math.Inf(-1)},
		{features.PersonalRelevance: math.NaN()},
	}
	for _, v := range extremes {
		if s := m.Score(v); !(s >= 0 && s <= 1) {
			t.Errorf("Score(%v) = %v out of [0,1]", v, s)
		}
	}
}

func TestExplain(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	v := features.Vector{
		features.ImpactFinance:     0.056,
		features.Urgency:           0.05,
		features.Actionability:     1.0,
		features.PersonalRelevance: 0.9,
	}
	e := m.Explain(v, m.Score(v))

	want := map[Factor]float64{
		FactorImpact:            0.0224,
		FactorActionability:     0.25,
		FactorUrgency:           0.01,
		FactorPersonalRelevance: 0.135,
	}
	if !reflect.DeepEqual(e.Contributions, want) {
		t.Errorf("contributions = %v, want %v", e.Contributions, want)
	}
	if e.TopFactor != FactorActionability {
		t.Errorf("top factor = %q, want actionability", e.TopFactor)
	}
	if e.Score != 0.4174 {
		t.Errorf("score snapshot = %v, want 0.4174", e.Score)
	}
}

func TestExplain_TieGoesToDeclarationOrder(t *testing.T) {
	t.Parallel()

	m := Model{
		Weights:  Weights{Impact: 0.25, Actionability: 0.25, Urgency: 0.25, PersonalRelevance: 0.25},
		Defaults: Defaults{Actionability: 1, Urgency: 1, PersonalRelevance: 1},
	}
	e := m.Explain(features.Vector{features.ImpactNews: 1}, 1)
	if e.TopFactor != FactorImpact {
		t.Errorf("top factor = %q, want impact", e.TopFactor)
	}

	e = m.Explain(features.Vector{}, 0.75)
	if e.TopFactor != FactorActionability {
		t.Errorf("top factor = %q, want actionability", e.TopFactor)
	}
}

func TestExplain_SumMatchesScore(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	v := features.Vector{features.ImpactHealth: 0.5, features.Urgency: 0.4, features.Actionability: 0.6}
	s := m.Score(v)
	e := m.Explain(v, s)

	var sum float64
	for _, c := range e.Contributions {
		sum += c
	}
	if math.Abs(sum-s) > 1e-5 {
		t.Errorf("sum of contributions %v != score %v", sum, s)
	}
}

func TestScoreAndExplain_Idempotent(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	v := features.Vector{features.ImpactNews: 0.27, features.Urgency: 0.7, features.Actionability: 0.5}
	s1, e1 := m.Score(v), m.Explain(v, m.Score(v))
	for i := 0; i < 5; i++ {
		s2, e2 := m.Score(v), m.Explain(v, m.Score(v))
		if s1 != s2 || !reflect.DeepEqual(e1, e2) {
			t.Fatalf("run %d differs: %v/%v vs %v/%v", i, s1, e1, s2, e2)
		}
	}
}

func TestParseProfile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		want    Model
		wantErr string
	}{
		{
			name: "empty keeps defaults",
			yaml: "",
			want: DefaultModel(),
		},
		{
			name: "partial override",
			yaml: "weights:\n  impact: 0.5\ndefaults:\n  urgency: 0.3\n",
			want: func() Model {
				m := DefaultModel()
				m.Weights.Impact = 0.5
				m.Defaults.Urgency = 0.3
				return m
			}(),
		},
		{
			name:    "out of range",
			yaml:    "weights:\n  urgency: 1.5\n",
			wantErr: "weights.urgency",
		},
		{
			name:    "all zero",
			yaml:    "weights: {impact: 0, actionability: 0, urgency: 0, personal_relevance: 0}\n",
			wantErr: "all be zero",
		},
		{
			name:    "unknown key",
			yaml:    "weight:\n  impact: 0.1\n",
			wantErr: "decode scoring profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseProfile([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("model = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadProfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scoring.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  personal_relevance: 0.7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if m.Defaults.PersonalRelevance != 0.7 {
		t.Errorf("personal_relevance default = %v, want 0.7", m.Defaults.PersonalRelevance)
	}

	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
