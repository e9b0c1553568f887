package entities

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IncludeList is an optional allow-list filter. It accepts both the list form
// ["critical","warning"] and the object form {"include": [...]}. An empty list
// means the filter is absent.
type IncludeList []string

// UnmarshalJSON accepts a list of strings, {"include": [...]}, or null.
func (l *IncludeList) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*l = nil
		return nil
	case []any:
		return l.fromSlice(v)
	case map[string]any:
		inc, ok := v["include"]
		if !ok || inc == nil {
			*l = nil
			return nil
		}
		items, ok := inc.([]any)
		if !ok {
			return fmt.Errorf("include filter must be a list, got %T", inc)
		}
		return l.fromSlice(items)
	default:
		return fmt.Errorf("filter must be a list or {\"include\": [...]}, got %T", raw)
	}
}

func (l *IncludeList) fromSlice(items []any) error {
	out := make(IncludeList, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return fmt.Errorf("filter entries must be strings, got %T", item)
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

// Contains reports whether v is in the list.
func (l IncludeList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

// TagMatch is the expected value of one tag: a single value or a set of
// accepted values. Scalars are stored as a one-element list.
type TagMatch []string

// UnmarshalJSON accepts a scalar or a list of scalars.
func (m *TagMatch) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case []any:
		out := make(TagMatch, 0, len(v))
		for _, item := range v {
			out = append(out, TagString(item))
		}
		*m = out
	default:
		*m = TagMatch{TagString(v)}
	}
	return nil
}

// MarshalJSON writes single-value matches back as a scalar.
func (m TagMatch) MarshalJSON() ([]byte, error) {
	if len(m) == 1 {
		return json.Marshal(m[0])
	}
	return json.Marshal([]string(m))
}

// Matches reports whether the tag value v satisfies the match.
func (m TagMatch) Matches(v string) bool {
	for _, want := range m {
		if want == v {
			return true
		}
	}
	return false
}

// TagFilter maps tag keys to their expected values.
type TagFilter map[string]TagMatch

// TagString renders a JSON tag value for comparison. Numbers and booleans
// compare by their JSON text, so 3 and "3" match.
func TagString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool, json.Number:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// SilenceWindow is a daily HH:MM range. End before start wraps midnight.
type SilenceWindow struct {
	Start string `json:"start" validate:"omitempty,hhmm"`
	End   string `json:"end" validate:"omitempty,hhmm"`
}

// String returns "HH:MM-HH:MM".
func (w SilenceWindow) String() string {
	return w.Start + "-" + w.End
}

// RateLimit caps deliveries per scope within a rolling window.
type RateLimit struct {
	Limit     int `json:"limit" validate:"min=0"`
	WindowSec int `json:"window_sec" validate:"min=0"`
}

// Enabled reports whether both limit and window are positive.
func (r *RateLimit) Enabled() bool {
	return r != nil && r.Limit > 0 && r.WindowSec > 0
}

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any

// String returns the value under key as a trimmed string, or "" when the key
// is missing or not a scalar.
func (m JSONMap) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64, bool, json.Number, int, int64:
		return TagString(t)
	default:
		return ""
	}
}

// Strings returns the value under key as a list. A scalar string becomes a
// one-element list.
func (m JSONMap) Strings(key string) []string {
	switch t := m[key].(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
