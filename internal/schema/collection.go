package schema

import (
	"fmt"
	"sort"
)

type Shape string

const (
	Singleton Shape = "singleton"
	List      Shape = "list"
)

// Order is one ORDER BY term.
type Order struct {
	Field string `json:"field" yaml:"field"`
	Desc  bool   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

type Collection struct {
	Name   string  `json:"name" yaml:"name"`
	Shape  Shape   `json:"shape" yaml:"shape"`
	Fields []Field `json:"fields" yaml:"fields"`
	// OrderBy is the default ordering for FetchMany. Ties fall back to
	// created_at then id.
	OrderBy []Order `json:"order_by,omitempty" yaml:"order_by,omitempty"`
	// Extra fields stripped on duplicate, on top of id and the timestamps.
	ServerGeneratedExtra []string `json:"server_generated,omitempty" yaml:"server_generated,omitempty"`
	// LabelFields are the display fields tried, in order, when naming a copy.
	LabelFields []string `json:"label_fields,omitempty" yaml:"label_fields,omitempty"`
}

var systemFields = []Field{
	{Name: "id", Type: TypeID},
	{Name: "created_at", Type: TypeTimestamp},
	{Name: "updated_at", Type: TypeTimestamp},
}

// NewCollection builds a collection with the system fields prepended.
func NewCollection(name string, shape Shape, fields ...Field) *Collection {
	all := make([]Field, 0, len(fields)+len(systemFields))
	all = append(all, systemFields...)
	all = append(all, fields...)
	c := &Collection{Name: name, Shape: shape, Fields: all}
	switch {
	case c.HasField("order_index"):
		c.OrderBy = []Order{{Field: "order_index"}}
	case shape == List:
		c.OrderBy = []Order{{Field: "created_at", Desc: true}}
	}
	for _, label := range []string{"title", "name"} {
		if c.HasField(label) {
			c.LabelFields = append(c.LabelFields, label)
		}
	}
	return c
}

// GetField returns a pointer to the field with the given name, or nil.
func (c *Collection) GetField(name string) *Field {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

func (c *Collection) HasField(name string) bool {
	return c.GetField(name) != nil
}

func (c *Collection) FieldNames() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// WritableFields excludes the system-managed id and timestamps.
func (c *Collection) WritableFields() []Field {
	var fields []Field
	for _, f := range c.Fields {
		if isSystem(f.Name) {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// ServerGenerated lists the fields a duplicate must not copy.
func (c *Collection) ServerGenerated() []string {
	out := []string{"id", "created_at", "updated_at"}
	return append(out, c.ServerGeneratedExtra...)
}

// FeaturedField returns the field carrying the at-most-one-true rule, or nil.
func (c *Collection) FeaturedField() *Field {
	for i := range c.Fields {
		if c.Fields[i].UniqueWhenTrue {
			return &c.Fields[i]
		}
	}
	return nil
}

// Validate checks required fields and rejects unknown ones. Fields missing
// from row are only reported when they are required.
func (c *Collection) Validate(row map[string]any) error {
	var verr ValidationError
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !c.HasField(k) {
			verr.Add(k, "unknown", fmt.Sprintf("unknown field %q", k))
		}
	}
	for _, f := range c.Fields {
		if f.Required && f.IsBlank(row[f.Name]) {
			verr.Add(f.Name, "required", fmt.Sprintf("%s is required", f.Name))
		}
	}
	if verr.HasErrors() {
		verr.Collection = c.Name
		return &verr
	}
	return nil
}

// ApplyDefaults fills every absent writable field with its zero value.
func (c *Collection) ApplyDefaults(row map[string]any) {
	for _, f := range c.WritableFields() {
		if v, ok := row[f.Name]; !ok || v == nil {
			row[f.Name] = f.ZeroValue()
		}
	}
}

// Coerce returns a copy of row with every known field converted to its
// canonical Go type. Unknown fields produce a ValidationError.
func (c *Collection) Coerce(row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	var verr ValidationError
	for k, v := range row {
		f := c.GetField(k)
		if f == nil {
			verr.Add(k, "unknown", fmt.Sprintf("unknown field %q", k))
			continue
		}
		cv, err := f.Coerce(v)
		if err != nil {
			verr.Add(k, "type", err.Error())
			continue
		}
		out[k] = cv
	}
	if verr.HasErrors() {
		verr.Collection = c.Name
		verr.sort()
		return nil, &verr
	}
	return out, nil
}

func isSystem(name string) bool {
	for _, f := range systemFields {
		if f.Name == name {
			return true
		}
	}
	return false
}
