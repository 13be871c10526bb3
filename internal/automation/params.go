package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params is the loosely typed {key: value} bag used on the wire. The typed
// trigger/action variants are built from it once, at save time.
type Params map[string]any

// Number reads a numeric param. JSON numbers, Go ints/floats and numeric strings
// are accepted.
func (p Params) Number(key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return f, true, nil
}

// String reads a string param; surrounding whitespace is trimmed.
func (p Params) String(key string) (string, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", true, fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return strings.TrimSpace(s), true, nil
}

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// PayloadNumber reads a numeric field from an event payload.
func PayloadNumber(payload map[string]any, key string) (float64, error) {
	f, ok, err := Params(payload).Number(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("payload.%s missing", key)
	}
	return f, nil
}

// PayloadString reads a string field from an event payload.
func PayloadString(payload map[string]any, key string) (string, error) {
	s, ok, err := Params(payload).String(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("payload.%s missing", key)
	}
	return s, nil
}
