package repository

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"portfolio-cms/internal/schema"
)

func lookup(reg *schema.Registry, name string) (*schema.Collection, error) {
	c := reg.Get(name)
	if c == nil {
		return nil, unknownCollection(name)
	}
	return c, nil
}

// decode converts backend values for known fields to their canonical
// types. Columns the schema does not know are passed through unchanged.
func decode(c *schema.Collection, row Row) Row {
	for k, v := range row {
		f := c.GetField(k)
		if f == nil {
			continue
		}
		if cv, err := f.Coerce(v); err == nil {
			row[k] = cv
		}
	}
	return row
}

func checkFilters(c *schema.Collection, filters []Filter) error {
	for _, f := range filters {
		if !c.HasField(f.Field) {
			return fmt.Errorf("filter on unknown field %s.%s", c.Name, f.Field)
		}
		switch f.Op {
		case OpEq, OpNeq, OpIn:
		default:
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return nil
}

// orderFor appends the insertion-order tie-breakers to the requested or
// default ordering.
func orderFor(c *schema.Collection, requested []Order) []Order {
	order := requested
	if len(order) == 0 {
		order = c.OrderBy
	}
	out := make([]Order, 0, len(order)+2)
	seen := make(map[string]bool, len(order)+2)
	for _, o := range order {
		out = append(out, o)
		seen[o.Field] = true
	}
	for _, tie := range []string{"created_at", "id"} {
		if !seen[tie] {
			out = append(out, Order{Field: tie})
		}
	}
	return out
}

// sortedKeys returns the keys of row in a stable order for SQL generation.
func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		if tags, ok := v.([]string); ok {
			cp := make([]string, len(tags))
			copy(cp, tags)
			v = cp
		}
		out[k] = v
	}
	return out
}

// compareValues orders two canonical field values. nil sorts first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// filterValues normalizes the value of an In filter.
func filterValues(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, len(vals))
		for i, item := range vals {
			out[i] = fmt.Sprint(item)
		}
		return out
	}
	return nil
}
