package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"portfolio-cms/internal/config"
	"portfolio-cms/internal/schema"
)

// RESTRepository speaks the PostgREST dialect used by hosted Postgres
// backends: one resource per collection, filters as query parameters.
type RESTRepository struct {
	base   string
	apiKey string
	schema string
	reg    *schema.Registry
	client *http.Client
	now    func() time.Time
}

func NewREST(cfg config.RESTConfig, reg *schema.Registry, client *http.Client) *RESTRepository {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTRepository{
		base:   strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		schema: cfg.Schema,
		reg:    reg,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// postgrestError is the JSON body PostgREST returns on failure.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *postgrestError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type restRequest struct {
	method string
	params url.Values
	body   any
	prefer []string
}

func (r *RESTRepository) FetchOne(ctx context.Context, collection string, filters ...Filter) (Row, error) {
	const op = "fetch_one"
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	params, err := r.filterParams(c, filters)
	if err != nil {
		return nil, err
	}
	params.Set("select", "*")
	params.Set("limit", "2")

	rows, _, err := r.do(ctx, op, c, restRequest{method: http.MethodGet, params: params})
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, &NotFoundError{Collection: c.Name, ID: idFilter(filters)}
	case 1:
		return rows[0], nil
	default:
		return nil, &BackendError{Op: op, Collection: c.Name, Kind: KindUnknown,
			Err: errors.New("expected exactly one row, got several")}
	}
}

func (r *RESTRepository) FetchMany(ctx context.Context, collection string, q Query) ([]Row, error) {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	params, err := r.filterParams(c, q.Filters)
	if err != nil {
		return nil, err
	}
	params.Set("select", "*")
	order := orderFor(c, q.Order)
	terms := make([]string, len(order))
	for i, o := range order {
		if !c.HasField(o.Field) {
			return nil, fmt.Errorf("order by unknown field %s.%s", c.Name, o.Field)
		}
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		terms[i] = o.Field + "." + dir
	}
	params.Set("order", strings.Join(terms, ","))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	rows, _, err := r.do(ctx, "fetch_many", c, restRequest{method: http.MethodGet, params: params})
	return rows, err
}

func (r *RESTRepository) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	const op = "insert"
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	data, err := c.Coerce(row)
	if err != nil {
		return nil, err
	}
	if id, _ := data["id"].(string); id == "" {
		delete(data, "id")
	}
	rows, _, err := r.do(ctx, op, c, restRequest{
		method: http.MethodPost,
		params: url.Values{},
		body:   data,
		prefer: []string{"return=representation"},
	})
	if err != nil {
		return nil, err
	}
	return r.single(op, c, rows)
}

func (r *RESTRepository) Update(ctx context.Context, collection, id string, patch Row) error {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return err
	}
	n, err := r.patch(ctx, "update", c, patch, []Filter{Eq("id", id)})
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Collection: c.Name, ID: id}
	}
	return nil
}

func (r *RESTRepository) UpdateMany(ctx context.Context, collection string, patch Row, filters ...Filter) (int64, error) {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return 0, err
	}
	return r.patch(ctx, "update_many", c, patch, filters)
}

func (r *RESTRepository) Upsert(ctx context.Context, collection string, row Row) (Row, error) {
	const op = "upsert"
	c, err := lookup(r.reg, collection)
	if err != nil {
		return nil, err
	}
	data, err := c.Coerce(row)
	if err != nil {
		return nil, err
	}
	if id, _ := data["id"].(string); id == "" {
		delete(data, "id")
	}
	data["updated_at"] = r.now()
	rows, _, err := r.do(ctx, op, c, restRequest{
		method: http.MethodPost,
		params: url.Values{"on_conflict": {"id"}},
		body:   data,
		prefer: []string{"resolution=merge-duplicates", "return=representation"},
	})
	if err != nil {
		return nil, err
	}
	return r.single(op, c, rows)
}

func (r *RESTRepository) DeleteOne(ctx context.Context, collection, id string) error {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return err
	}
	params, err := r.filterParams(c, []Filter{Eq("id", id)})
	if err != nil {
		return err
	}
	_, _, err = r.do(ctx, "delete_one", c, restRequest{method: http.MethodDelete, params: params})
	return err
}

func (r *RESTRepository) DeleteMany(ctx context.Context, collection string, ids []string) error {
	c, err := lookup(r.reg, collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	params, err := r.filterParams(c, []Filter{In("id", ids)})
	if err != nil {
		return err
	}
	_, _, err = r.do(ctx, "delete_many", c, restRequest{method: http.MethodDelete, params: params})
	return err
}

func (r *RESTRepository) Count(ctx context.Context, collection string) (int, error) {
	const op = "count"
	c, err := lookup(r.reg, collection)
	if err != nil {
		return 0, err
	}
	_, header, err := r.do(ctx, op, c, restRequest{
		method: http.MethodHead,
		params: url.Values{"select": {"id"}},
		prefer: []string{"count=exact"},
	})
	if err != nil {
		return 0, err
	}
	// Content-Range: 0-9/42 or */0
	cr := header.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 {
		return 0, &BackendError{Op: op, Collection: c.Name, Kind: KindUnknown,
			Err: fmt.Errorf("missing count in Content-Range %q", cr)}
	}
	n, err := strconv.Atoi(cr[idx+1:])
	if err != nil {
		return 0, &BackendError{Op: op, Collection: c.Name, Kind: KindUnknown, Err: err}
	}
	return n, nil
}

func (r *RESTRepository) patch(ctx context.Context, op string, c *schema.Collection, patch Row, filters []Filter) (int64, error) {
	data, err := c.Coerce(patch)
	if err != nil {
		return 0, err
	}
	delete(data, "id")
	delete(data, "created_at")
	data["updated_at"] = r.now()

	params, err := r.filterParams(c, filters)
	if err != nil {
		return 0, err
	}
	rows, _, err := r.do(ctx, op, c, restRequest{
		method: http.MethodPatch,
		params: params,
		body:   data,
		prefer: []string{"return=representation"},
	})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (r *RESTRepository) single(op string, c *schema.Collection, rows []Row) (Row, error) {
	if len(rows) != 1 {
		return nil, &BackendError{Op: op, Collection: c.Name, Kind: KindUnknown,
			Err: fmt.Errorf("expected one returned row, got %d", len(rows))}
	}
	return rows[0], nil
}

func (r *RESTRepository) filterParams(c *schema.Collection, filters []Filter) (url.Values, error) {
	params := url.Values{}
	if err := checkFilters(c, filters); err != nil {
		return nil, err
	}
	for _, f := range filters {
		switch f.Op {
		case OpIn:
			vals := filterValues(f.Value)
			quoted := make([]string, len(vals))
			for i, v := range vals {
				quoted[i] = strconv.Quote(v)
			}
			params.Add(f.Field, "in.("+strings.Join(quoted, ",")+")")
		default:
			v, err := c.GetField(f.Field).Coerce(f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", f.Field, err)
			}
			if v == nil {
				if f.Op == OpEq {
					params.Add(f.Field, "is.null")
				} else {
					params.Add(f.Field, "not.is.null")
				}
				continue
			}
			params.Add(f.Field, string(f.Op)+"."+literal(v))
		}
	}
	return params, nil
}

func literal(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	return fmt.Sprint(v)
}

func (r *RESTRepository) do(ctx context.Context, op string, c *schema.Collection, req restRequest) ([]Row, http.Header, error) {
	endpoint := r.base + "/" + c.Name
	if len(req.params) > 0 {
		endpoint += "?" + req.params.Encode()
	}

	var body io.Reader
	if req.body != nil {
		buf, err := json.Marshal(req.body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s body: %w", c.Name, err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		httpReq.Header.Set("apikey", r.apiKey)
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if r.schema != "" {
		httpReq.Header.Set("Accept-Profile", r.schema)
		httpReq.Header.Set("Content-Profile", r.schema)
	}
	if len(req.prefer) > 0 {
		httpReq.Header.Set("Prefer", strings.Join(req.prefer, ","))
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, nil, &BackendError{Op: op, Collection: c.Name, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resp.Header, r.statusError(op, c.Name, resp)
	}
	if req.method == http.MethodHead || resp.StatusCode == http.StatusNoContent {
		return nil, resp.Header, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &BackendError{Op: op, Collection: c.Name, Kind: KindNetwork, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, resp.Header, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rows []Row
	if err := dec.Decode(&rows); err != nil {
		return nil, nil, &BackendError{Op: op, Collection: c.Name, Kind: KindUnknown,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	for _, row := range rows {
		decode(c, row)
	}
	return rows, resp.Header, nil
}

func (r *RESTRepository) statusError(op, collection string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	pgErr := &postgrestError{}
	if err := json.Unmarshal(raw, pgErr); err != nil || pgErr.Message == "" {
		pgErr = &postgrestError{Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	kind := KindUnknown
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		pgErr.Code == "42501", strings.HasPrefix(pgErr.Code, "PGRST30"):
		kind = KindAuth
	case resp.StatusCode == http.StatusConflict, strings.HasPrefix(pgErr.Code, "23"):
		kind = KindConstraint
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		kind = KindNetwork
	}
	return &BackendError{Op: op, Collection: collection, Kind: kind, Err: pgErr}
}

var _ Repository = (*RESTRepository)(nil)
