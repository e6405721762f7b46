package features

import (
	"strconv"
	"strings"
)

// Context defaults.
const (
	DefaultPortfolioExposure = 1.0
	DefaultMarketOpen        = true
	DefaultPersonalRelevance = 0.5
)

// Extras keys read when building a Context.
const (
	keyContext           = "context"
	keyPortfolioExposure = "portfolio_exposure"
	keyMarketOpen        = "market_open"
	keyPersonalRelevance = "personal_relevance"
)

// Context carries caller-specific inputs to feature extraction.
type Context struct {
	PortfolioExposure float64 `json:"portfolio_exposure"`
	MarketOpen        bool    `json:"market_open"`
	PersonalRelevance float64 `json:"personal_relevance"`
}

// DefaultContext returns the context used when extras carry nothing usable.
func DefaultContext() Context {
	return Context{
		PortfolioExposure: DefaultPortfolioExposure,
		MarketOpen:        DefaultMarketOpen,
		PersonalRelevance: DefaultPersonalRelevance,
	}
}

// BuildContext derives a Context from an event's extras. For each key a
// coercible value in the nested "context" object wins over a coercible
// top-level value; anything else falls back to the default silently.
func BuildContext(extras map[string]any) Context {
	nested, _ := extras[keyContext].(map[string]any)

	c := DefaultContext()
	if v, ok := firstFloat(nested, extras, keyPortfolioExposure); ok {
		c.PortfolioExposure = v
	}
	if v, ok := firstBool(nested, extras, keyMarketOpen); ok {
		c.MarketOpen = v
	}
	if v, ok := firstFloat(nested, extras, keyPersonalRelevance); ok {
		c.PersonalRelevance = v
	}
	return c
}

func firstFloat(nested, top map[string]any, key string) (float64, bool) {
	if v, ok := asFloat(nested[key]); ok {
		return v, true
	}
	return asFloat(top[key])
}

func firstBool(nested, top map[string]any, key string) (bool, bool) {
	if v, ok := asBool(nested[key]); ok {
		return v, true
	}
	return asBool(top[key])
}

// asFloat coerces JSON-decoded values: numbers, numeric strings and booleans.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asBool accepts booleans, "true"/"True"/"1"/1 and "false"/"False"/"0"/0.
func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch x {
		case "true", "True", "1":
			return true, true
		case "false", "False", "0":
			return false, true
		}
	case float64:
		switch x {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case int:
		switch x {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	}
	return false, false
}
