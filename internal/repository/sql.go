package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"portfolio-cms/internal/schema"
	"portfolio-cms/internal/store"
)

// SQLRepository talks to PostgreSQL or SQLite through the store package.
// Table and column names are only ever taken from the schema registry.
type SQLRepository struct {
	store *store.Store
	reg   *schema.Registry
	now   func() time.Time
	newID func() string
}

func NewSQL(s *store.Store, reg *schema.Registry) *SQLRepository {
	return &SQLRepository{
		store: s,
		reg:   reg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (r *SQLRepository) FetchOne(ctx context.Context, collection string, filters ...Filter) (Row, error) {
	const op = "fetch_one"
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	pb := r.store.Dialect.NewParamBuilder()
	where, err := r.where(c, pb, filters)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s%s LIMIT 2", c.Name, where)
	rows, err := store.QueryRows(ctx, r.store.DB, query, pb.Params()...)
	if err != nil {
		return nil, r.wrap(op, c.Name, err)
	}
	switch len(rows) {
	case 0:
		return nil, &NotFoundError{Collection: c.Name, ID: idFilter(filters)}
	case 1:
		return r.decode(c, rows[0]), nil
	default:
		return nil, &BackendError{Op: op, Collection: c.Name, Kind: KindUnknown,
			Err: errors.New("expected exactly one row, got several")}
	}
}

func (r *SQLRepository) FetchMany(ctx context.Context, collection string, q Query) ([]Row, error) {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	pb := r.store.Dialect.NewParamBuilder()
	where, err := r.where(c, pb, q.Filters)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s%s", c.Name, where)
	order := orderFor(c, q.Order)
	terms := make([]string, 0, len(order))
	for _, o := range order {
		if !c.HasField(o.Field) {
			return nil, fmt.Errorf("order by unknown field %s.%s", c.Name, o.Field)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms = append(terms, o.Field+" "+dir)
	}
	sb.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + pb.Add(q.Limit))
	}

	rows, err := store.QueryRows(ctx, r.store.DB, sb.String(), pb.Params()...)
	if err != nil {
		return nil, r.wrap("fetch_many", c.Name, err)
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = r.decode(c, row)
	}
	return out, nil
}

func (r *SQLRepository) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	data, err := c.Coerce(row)
	if err != nil {
		return nil, err
	}
	r.stamp(data, true)
	return r.insert(ctx, "insert", c, data, "")
}

func (r *SQLRepository) Update(ctx context.Context, collection, id string, patch Row) error {
	const op = "update"
	c, err := lookup(r.reg, collection)
	if err != nil {
		return err
	}
	data, err := r.patchData(c, patch)
	if err != nil {
		return err
	}

	pb := r.store.Dialect.NewParamBuilder()
	set := r.setClause(c, pb, data)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", c.Name, set, pb.Add(id))
	n, err := store.Exec(ctx, r.store.DB, query, pb.Params()...)
	if err != nil {
		return r.wrap(op, c.Name, err)
	}
	if n == 0 {
		return &NotFoundError{Collection: c.Name, ID: id}
	}
	return nil
}

func (r *SQLRepository) UpdateMany(ctx context.Context, collection string, patch Row, filters ...Filter) (int64, error) {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return 0, err
	}
	data, err := r.patchData(c, patch)
	if err != nil {
		return 0, err
	}

	pb := r.store.Dialect.NewParamBuilder()
	set := r.setClause(c, pb, data)
	where, err := r.where(c, pb, filters)
	if err != nil {
		return 0, err
	}
	n, err := store.Exec(ctx, r.store.DB, fmt.Sprintf("UPDATE %s SET %s%s", c.Name, set, where), pb.Params()...)
	if err != nil {
		return 0, r.wrap("update_many", c.Name, err)
	}
	return n, nil
}

func (r *SQLRepository) Upsert(ctx context.Context, collection string, row Row) (Row, error) {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	data, err := c.Coerce(row)
	if err != nil {
		return nil, err
	}
	if id, _ := data["id"].(string); id == "" {
		r.stamp(data, true)
		return r.insert(ctx, "upsert", c, data, "")
	}

	r.stamp(data, true)
	updates := make([]string, 0, len(data))
	for _, k := range sortedKeys(data) {
		if k == "id" || k == "created_at" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", k, k))
	}
	conflict := " ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")
	return r.insert(ctx, "upsert", c, data, conflict)
}

func (r *SQLRepository) DeleteOne(ctx context.Context, collection, id string) error {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return err
	}
	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", c.Name, pb.Add(id))
	if _, err := store.Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return r.wrap("delete_one", c.Name, err)
	}
	return nil
}

func (r *SQLRepository) DeleteMany(ctx context.Context, collection string, ids []string) error {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", c.Name, r.store.Dialect.InExpr("id", pb, values))
	if _, err := store.Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return r.wrap("delete_many", c.Name, err)
	}
	return nil
}

func (r *SQLRepository) Count(ctx context.Context, collection string) (int, error) {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.store.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.Name).Scan(&n); err != nil {
		return 0, r.wrap("count", c.Name, err)
	}
	return n, nil
}

func (r *SQLRepository) insert(ctx context.Context, op string, c *schema.Collection, data Row, suffix string) (Row, error) {
	pb := r.store.Dialect.NewParamBuilder()
	cols := sortedKeys(data)
	phs := make([]string, len(cols))
	for i, col := range cols {
		phs[i] = pb.Add(r.encode(c.GetField(col), data[col]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s RETURNING *",
		c.Name, strings.Join(cols, ", "), strings.Join(phs, ", "), suffix)

	row, err := store.QueryRow(ctx, r.store.DB, query, pb.Params()...)
	if err != nil {
		return nil, r.wrap(op, c.Name, err)
	}
	return r.decode(c, row), nil
}

// stamp assigns id and timestamps. created_at supplied by a seed file is kept.
func (r *SQLRepository) stamp(data Row, creating bool) {
	now := r.now()
	if creating {
		if id, _ := data["id"].(string); id == "" {
			data["id"] = r.newID()
		}
		if data["created_at"] == nil {
			data["created_at"] = now
		}
	}
	data["updated_at"] = now
}

func (r *SQLRepository) patchData(c *schema.Collection, patch Row) (Row, error) {
	data, err := c.Coerce(patch)
	if err != nil {
		return nil, err
	}
	delete(data, "id")
	delete(data, "created_at")
	r.stamp(data, false)
	return data, nil
}

func (r *SQLRepository) setClause(c *schema.Collection, pb store.ParamBuilder, data Row) string {
	keys := sortedKeys(data)
	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = %s", k, pb.Add(r.encode(c.GetField(k), data[k])))
	}
	return strings.Join(sets, ", ")
}

func (r *SQLRepository) where(c *schema.Collection, pb store.ParamBuilder, filters []Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	if err := checkFilters(c, filters); err != nil {
		return "", err
	}
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		field := c.GetField(f.Field)
		switch f.Op {
		case OpIn:
			vals := filterValues(f.Value)
			anyVals := make([]any, len(vals))
			for i, v := range vals {
				anyVals[i] = v
			}
			conds = append(conds, r.store.Dialect.InExpr(f.Field, pb, anyVals))
		default:
			v, err := field.Coerce(f.Value)
			if err != nil {
				return "", fmt.Errorf("filter %s: %w", f.Field, err)
			}
			switch {
			case v == nil && f.Op == OpEq:
				conds = append(conds, f.Field+" IS NULL")
			case v == nil:
				conds = append(conds, f.Field+" IS NOT NULL")
			case f.Op == OpEq:
				conds = append(conds, fmt.Sprintf("%s = %s", f.Field, pb.Add(r.encode(field, v))))
			default:
				conds = append(conds, fmt.Sprintf("%s <> %s", f.Field, pb.Add(r.encode(field, v))))
			}
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func (r *SQLRepository) encode(f *schema.Field, v any) any {
	if v == nil || f == nil {
		return v
	}
	switch val := v.(type) {
	case []string:
		return r.store.Dialect.ArrayParam(val)
	case time.Time:
		return r.store.Dialect.TimeParam(val)
	}
	return v
}

func (r *SQLRepository) decode(c *schema.Collection, row Row) Row {
	for _, f := range c.Fields {
		if f.Type != schema.TypeTags {
			continue
		}
		if tags, err := r.store.Dialect.ScanArray(row[f.Name]); err == nil {
			row[f.Name] = tags
		}
	}
	return decode(c, row)
}

func (r *SQLRepository) wrap(op, collection string, err error) error {
	mapped := store.MapError(r.store.Dialect, err)
	kind := KindUnknown
	var netErr net.Error
	switch {
	case errors.Is(mapped, store.ErrUniqueViolation), errors.Is(mapped, store.ErrConstraint):
		kind = KindConstraint
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn), errors.As(err, &netErr):
		kind = KindNetwork
	case strings.Contains(err.Error(), "password authentication failed"),
		strings.Contains(err.Error(), "permission denied"):
		kind = KindAuth
	}
	return &BackendError{Op: op, Collection: collection, Kind: kind, Err: mapped}
}

func idFilter(filters []Filter) string {
	for _, f := range filters {
		if f.Field == "id" && f.Op == OpEq {
			return fmt.Sprint(f.Value)
		}
	}
	return ""
}

var _ Repository = (*SQLRepository)(nil)
