package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"portfolio-cms/internal/schema"
)

type memRow struct {
	seq  int64
	data Row
}

// MemoryRepository keeps collections in process memory. It enforces
// unique and unique-when-true fields the way the SQL indexes do, so that
// editor behavior under constraint failures can be exercised without a
// database.
type MemoryRepository struct {
	reg *schema.Registry

	mu     sync.RWMutex
	tables map[string][]*memRow
	seq    int64
	now    func() time.Time

	// failNext holds one injected error per operation name, consumed by
	// the next call of that operation.
	failNext map[string]error
}

func NewMemory(reg *schema.Registry) *MemoryRepository {
	return &MemoryRepository{
		reg:      reg,
		tables:   make(map[string][]*memRow),
		now:      func() time.Time { return time.Now().UTC() },
		failNext: make(map[string]error),
	}
}

// FailNext makes the next call of op fail with a BackendError wrapping err.
func (m *MemoryRepository) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

func (m *MemoryRepository) injected(op, collection string) error {
	err, ok := m.failNext[op]
	if !ok {
		return nil
	}
	delete(m.failNext, op)
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	return &BackendError{Op: op, Collection: collection, Kind: KindNetwork, Err: err}
}

func (m *MemoryRepository) FetchOne(ctx context.Context, collection string, filters ...Filter) (Row, error) {
	const op = "fetch_one"
	c, err := lookup(m.reg, collection)
	if err != nil {
		return nil, err
	}
	if err := checkFilters(c, filters); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(op, c.Name); err != nil {
		return nil, err
	}

	var found []*memRow
	for _, r := range m.tables[c.Name] {
		if matches(c, r.data, filters) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return nil, &NotFoundError{Collection: c.Name, ID: idFilter(filters)}
	case 1:
		return cloneRow(found[0].data), nil
	default:
		return nil, &BackendError{Op: op, Collection: c.Name, Kind: KindUnknown,
			Err: errors.New("expected exactly one row, got several")}
	}
}

func (m *MemoryRepository) FetchMany(ctx context.Context, collection string, q Query) ([]Row, error) {
	c, err := lookup(m.reg, collection)
	if err != nil {
		return nil, err
	}
	if err := checkFilters(c, q.Filters); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("fetch_many", c.Name); err != nil {
		return nil, err
	}

	var found []*memRow
	for _, r := range m.tables[c.Name] {
		if matches(c, r.data, q.Filters) {
			found = append(found, r)
		}
	}
	order := orderFor(c, q.Order)
	sort.SliceStable(found, func(i, j int) bool {
		for _, o := range order {
			cmp := compareValues(found[i].data[o.Field], found[j].data[o.Field])
			if o.Field == "created_at" && cmp == 0 {
				// insertion order breaks timestamp ties
				cmp = int(found[i].seq - found[j].seq)
			}
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return found[i].seq < found[j].seq
	})
	if q.Limit > 0 && len(found) > q.Limit {
		found = found[:q.Limit]
	}
	out := make([]Row, len(found))
	for i, r := range found {
		out[i] = cloneRow(r.data)
	}
	return out, nil
}

func (m *MemoryRepository) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	const op = "insert"
	c, err := lookup(m.reg, collection)
	if err != nil {
		return nil, err
	}
	data, err := c.Coerce(row)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(op, c.Name); err != nil {
		return nil, err
	}
	return m.insertLocked(op, c, data)
}

func (m *MemoryRepository) insertLocked(op string, c *schema.Collection, data Row) (Row, error) {
	now := m.now()
	if id, _ := data["id"].(string); id == "" {
		data["id"] = uuid.NewString()
	}
	if data["created_at"] == nil {
		data["created_at"] = now
	}
	data["updated_at"] = now
	// column defaults mirror the SQL migrator
	for _, f := range c.Fields {
		if _, ok := data[f.Name]; ok {
			continue
		}
		switch f.Type {
		case schema.TypeBool:
			data[f.Name] = false
		case schema.TypeInt:
			data[f.Name] = int64(0)
		default:
			data[f.Name] = nil
		}
	}
	if err := m.checkUnique(op, c, data, ""); err != nil {
		return nil, err
	}
	m.seq++
	m.tables[c.Name] = append(m.tables[c.Name], &memRow{seq: m.seq, data: data})
	return cloneRow(data), nil
}

func (m *MemoryRepository) Update(ctx context.Context, collection, id string, patch Row) error {
	const op = "update"
	c, err := lookup(m.reg, collection)
	if err != nil {
		return err
	}
	data, err := c.Coerce(patch)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(op, c.Name); err != nil {
		return err
	}
	r := m.findLocked(c.Name, id)
	if r == nil {
		return &NotFoundError{Collection: c.Name, ID: id}
	}
	return m.applyLocked(op, c, r, data)
}

func (m *MemoryRepository) UpdateMany(ctx context.Context, collection string, patch Row, filters ...Filter) (int64, error) {
	const op = "update_many"
	c, err := lookup(m.reg, collection)
	if err != nil {
		return 0, err
	}
	if err := checkFilters(c, filters); err != nil {
		return 0, err
	}
	data, err := c.Coerce(patch)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(op, c.Name); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range m.tables[c.Name] {
		if !matches(c, r.data, filters) {
			continue
		}
		if err := m.applyLocked(op, c, r, data); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *MemoryRepository) Upsert(ctx context.Context, collection string, row Row) (Row, error) {
	const op = "upsert"
	c, err := lookup(m.reg, collection)
	if err != nil {
		return nil, err
	}
	data, err := c.Coerce(row)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(op, c.Name); err != nil {
		return nil, err
	}
	id, _ := data["id"].(string)
	if r := m.findLocked(c.Name, id); id != "" && r != nil {
		if err := m.applyLocked(op, c, r, data); err != nil {
			return nil, err
		}
		return cloneRow(r.data), nil
	}
	return m.insertLocked(op, c, data)
}

func (m *MemoryRepository) DeleteOne(ctx context.Context, collection, id string) error {
	c, err := lookup(m.reg, collection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("delete_one", c.Name); err != nil {
		return err
	}
	m.removeLocked(c.Name, map[string]bool{id: true})
	return nil
}

func (m *MemoryRepository) DeleteMany(ctx context.Context, collection string, ids []string) error {
	c, err := lookup(m.reg, collection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("delete_many", c.Name); err != nil {
		return err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	m.removeLocked(c.Name, set)
	return nil
}

func (m *MemoryRepository) Count(ctx context.Context, collection string) (int, error) {
	c, err := lookup(m.reg, collection)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("count", c.Name); err != nil {
		return 0, err
	}
	return len(m.tables[c.Name]), nil
}

func (m *MemoryRepository) findLocked(table, id string) *memRow {
	for _, r := range m.tables[table] {
		if r.data["id"] == id {
			return r
		}
	}
	return nil
}

func (m *MemoryRepository) removeLocked(table string, ids map[string]bool) {
	rows := m.tables[table]
	kept := rows[:0]
	for _, r := range rows {
		id, _ := r.data["id"].(string)
		if !ids[id] {
			kept = append(kept, r)
		}
	}
	m.tables[table] = kept
}

// applyLocked merges data into r after checking unique constraints against
// the merged result.
func (m *MemoryRepository) applyLocked(op string, c *schema.Collection, r *memRow, data Row) error {
	merged := cloneRow(r.data)
	for k, v := range data {
		if k == "id" || k == "created_at" {
			continue
		}
		merged[k] = v
	}
	merged["updated_at"] = m.now()
	id, _ := r.data["id"].(string)
	if err := m.checkUnique(op, c, merged, id); err != nil {
		return err
	}
	r.data = merged
	return nil
}

func (m *MemoryRepository) checkUnique(op string, c *schema.Collection, data Row, selfID string) error {
	for _, f := range c.Fields {
		if !f.Unique && !f.UniqueWhenTrue && f.Name != "id" {
			continue
		}
		v := data[f.Name]
		if v == nil || (f.UniqueWhenTrue && v != true) {
			continue
		}
		for _, other := range m.tables[c.Name] {
			otherID, _ := other.data["id"].(string)
			if otherID == selfID {
				continue
			}
			if compareValues(other.data[f.Name], v) == 0 {
				return &BackendError{Op: op, Collection: c.Name, Kind: KindConstraint,
					Err: fmt.Errorf("duplicate value for %s", f.Name)}
			}
		}
	}
	return nil
}

func matches(c *schema.Collection, row Row, filters []Filter) bool {
	for _, f := range filters {
		got := row[f.Field]
		switch f.Op {
		case OpIn:
			hit := false
			for _, v := range filterValues(f.Value) {
				if compareValues(got, v) == 0 {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		default:
			want, err := c.GetField(f.Field).Coerce(f.Value)
			if err != nil {
				return false
			}
			eq := compareValues(got, want) == 0
			if f.Op == OpEq && !eq {
				return false
			}
			// neq never matches NULL, as in SQL
			if f.Op == OpNeq && (eq || got == nil) {
				return false
			}
		}
	}
	return true
}

var _ Repository = (*MemoryRepository)(nil)
