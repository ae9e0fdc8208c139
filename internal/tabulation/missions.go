package tabulation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// DefaultGPScore is used when a season has no gracious professionalism mission.
const DefaultGPScore = 3

var gpKeyPattern = regexp.MustCompile(`professionalism$`)

// MissionState maps mission option keys to bool or non-negative int values.
type MissionState map[string]any

// UnmarshalJSON keeps integral numbers as int instead of float64.
func (m *MissionState) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(MissionState, len(raw))
	for k, v := range raw {
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("mission %q: %w", k, err)
		}
		out[k] = nv
	}
	*m = out
	return nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return nil, fmt.Errorf("non-integral value %v", t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integral value %s", t)
		}
		return int(n), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func (m MissionState) Clone() MissionState {
	if m == nil {
		return nil
	}
	out := make(MissionState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Int returns the numeric value of key; booleans count as 0 or 1.
func (m MissionState) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int:
		return v, true
	}
	return 0, false
}

// Keys returns the keys in lexical order.
func (m MissionState) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GPKey returns the gracious professionalism mission key, or "".
func (m MissionState) GPKey() string {
	for _, k := range m.Keys() {
		if gpKeyPattern.MatchString(k) {
			return k
		}
	}
	return ""
}

// GPScore returns the value at the GP key, DefaultGPScore when there is none.
func (m MissionState) GPScore() int {
	if k := m.GPKey(); k != "" {
		if v, ok := m.Int(k); ok {
			return v
		}
	}
	return DefaultGPScore
}

// Reconcile rebuilds stored against the canonical key set of defaults: every
// default key takes the stored value when present (coerced to the default's
// type), otherwise the default. Keys unknown to defaults are dropped.
func Reconcile(stored, defaults MissionState) MissionState {
	out := make(MissionState, len(defaults))
	for k, def := range defaults {
		v, ok := stored[k]
		if !ok || v == nil {
			out[k] = def
			continue
		}
		out[k] = coerce(v, def)
	}
	return out
}

func coerce(v, like any) any {
	switch like.(type) {
	case bool:
		switch t := v.(type) {
		case bool:
			return t
		case int:
			return t != 0
		}
	case int:
		switch t := v.(type) {
		case int:
			if t < 0 {
				return like
			}
			return t
		case bool:
			if t {
				return 1
			}
			return 0
		}
	}
	return like
}
