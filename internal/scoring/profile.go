package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadProfile reads a YAML scoring profile. Keys missing from the file keep
// their DefaultModel values.
//
//	weights:
//	  impact: 0.5
//	defaults:
//	  urgency: 0.3
func LoadProfile(path string) (Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("read scoring profile: %w", err)
	}
	return ParseProfile(b)
}

// ParseProfile decodes a YAML scoring profile over DefaultModel and validates it.
func ParseProfile(b []byte) (Model, error) {
	m := DefaultModel()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return Model{}, fmt.Errorf("decode scoring profile: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Validate checks that every weight and default is in [0,1] and that at
// least one weight is positive.
func (m Model) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if !(v >= 0 && v <= 1) {
			errs = append(errs, fmt.Errorf("%s must be in [0,1], got %v", name, v))
		}
	}
	check("weights.impact", m.Weights.Impact)
	check("weights.actionability", m.Weights.Actionability)
	check("weights.urgency", m.Weights.Urgency)
	check("weights.personal_relevance", m.Weights.PersonalRelevance)
	check("defaults.actionability", m.Defaults.Actionability)
	check("defaults.urgency", m.Defaults.Urgency)
	check("defaults.personal_relevance", m.Defaults.PersonalRelevance)

	sum := m.Weights.Impact + m.Weights.Actionability + m.Weights.Urgency + m.Weights.PersonalRelevance
	if !(sum > 0) {
		errs = append(errs, errors.New("weights must not all be zero"))
	}
	return errors.Join(errs...)
}
