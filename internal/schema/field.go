package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type FieldType string

const (
	TypeID        FieldType = "id"
	TypeText      FieldType = "text"
	TypeHTML      FieldType = "html"
	TypeURL       FieldType = "url"
	TypeEmail     FieldType = "email"
	TypeInt       FieldType = "int"
	TypeBool      FieldType = "bool"
	TypeTags      FieldType = "tags"
	TypeTimestamp FieldType = "timestamp"
)

type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty" yaml:"unique,omitempty"`
	// UniqueWhenTrue allows at most one row with the value true.
	UniqueWhenTrue bool `json:"unique_when_true,omitempty" yaml:"unique_when_true,omitempty"`
}

// IsString reports whether values of the field are stored as strings.
func (f Field) IsString() bool {
	switch f.Type {
	case TypeID, TypeText, TypeHTML, TypeURL, TypeEmail:
		return true
	}
	return false
}

// ZeroValue is the value stored when a draft omits the field.
func (f Field) ZeroValue() any {
	switch f.Type {
	case TypeInt:
		return int64(0)
	case TypeBool:
		return false
	case TypeTags:
		return []string{}
	case TypeTimestamp:
		return nil
	default:
		return ""
	}
}

// IsBlank reports whether v counts as missing for a required check.
func (f Field) IsBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	if tags, ok := v.([]string); ok {
		return len(tags) == 0
	}
	return false
}

// Coerce converts a loosely typed value (JSON numbers, driver integers,
// YAML scalars) to the canonical Go type for the field.
func (f Field) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeInt:
		return coerceInt(v)
	case TypeBool:
		return coerceBool(v)
	case TypeTags:
		return coerceTags(v)
	case TypeTimestamp:
		return coerceTime(v)
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		case fmt.Stringer:
			return s.String(), nil
		case int, int32, int64, float64:
			return fmt.Sprint(s), nil
		}
		return nil, fmt.Errorf("expected text, got %T", v)
	}
}

func coerceInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		return n.Int64()
	case string:
		if strings.TrimSpace(n) == "" {
			return nil, nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func floatToInt(f float64) (any, error) {
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("expected integer, got %v", f)
	}
	return int64(f), nil
}

func coerceBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, fmt.Errorf("expected boolean, got %q", b)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("expected boolean, got %T", v)
}

func coerceTags(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected tag string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return ParseTags(t), nil
	case []byte:
		return ParseTags(string(t)), nil
	}
	return nil, fmt.Errorf("expected tag list, got %T", v)
}

// ParseTags accepts a JSON array, a PostgreSQL array literal or a
// comma-separated list and returns the trimmed, non-empty tags.
func ParseTags(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "{}" || s == "[]" {
		return []string{}
	}
	if strings.HasPrefix(s, "[") {
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		s = s[1 : len(s)-1]
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		if t == "" {
			return nil, nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return nil, fmt.Errorf("expected timestamp, got %q", t)
	case []byte:
		return coerceTime(string(t))
	}
	return nil, fmt.Errorf("expected timestamp, got %T", v)
}
