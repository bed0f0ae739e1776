package public

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-cms/internal/apperr"
	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/content"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

type fixture struct {
	app     *fiber.App
	mem     *repository.MemoryRepository
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, limit fiber.Handler) *fixture {
	t.Helper()
	reg := schema.Default()
	mem := repository.NewMemory(reg)
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(cache.Options{Logger: zerolog.Nop()})
	t.Cleanup(c.Close)

	svc := content.NewService(content.Options{Registry: reg, Repo: mem, Cache: c, SiteURL: "https://example.com", Logger: zerolog.Nop()})
	h := NewHandler(svc, NewForms(reg, mem, c, m), zerolog.Nop())

	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler(zerolog.Nop())})
	RegisterRoutes(app, h, limit)
	return &fixture{app: app, mem: mem, metrics: m}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) emails(t *testing.T) []string {
	t.Helper()
	rows, err := f.mem.FetchMany(context.Background(), "newsletter_subscriptions", repository.Query{})
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		out = append(out, r["email"].(string))
	}
	return out
}

func TestNewsletterSignupStoresEmail(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, "POST", "/api/newsletter", map[string]string{"email": " X@y.com "})
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, []string{"x@y.com"}, f.emails(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues("newsletter", "ok")))
}

func TestNewsletterFailsSoftly(t *testing.T) {
	f := newFixture(t, nil)
	f.mem.FailNext("insert", errors.New("connection refused"))

	resp := f.do(t, "POST", "/api/newsletter", map[string]string{"email": "x@y.com"})
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "Thank you for subscribing!", decodeMap(t, resp)["message"])
	assert.Empty(t, f.emails(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues("newsletter", "error")))

	// a repeat signup hits the unique constraint and still succeeds
	require.Equal(t, 201, f.do(t, "POST", "/api/newsletter", map[string]string{"email": "x@y.com"}).StatusCode)
	require.Equal(t, 201, f.do(t, "POST", "/api/newsletter", map[string]string{"email": "x@y.com"}).StatusCode)
	assert.Equal(t, []string{"x@y.com"}, f.emails(t))
}

func TestNewsletterRejectsInvalidEmail(t *testing.T) {
	f := newFixture(t, nil)
	for _, email := range []string{"", "not-an-email", "a@b"} {
		resp := f.do(t, "POST", "/api/newsletter", map[string]string{"email": email})
		assert.Equal(t, 422, resp.StatusCode, email)
	}
	assert.Empty(t, f.emails(t))
}

func TestContactReportsErrors(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, "POST", "/api/contact", map[string]string{"name": "Ann", "email": "ann@example.com"})
	require.Equal(t, 422, resp.StatusCode)
	body := decodeMap(t, resp)["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	var fields []string
	for _, d := range body["details"].([]any) {
		fields = append(fields, d.(map[string]any)["field"].(string))
	}
	assert.ElementsMatch(t, []string{"subject", "message"}, fields)

	f.mem.FailNext("insert", errors.New("connection refused"))
	full := map[string]string{"name": "Ann", "email": "ann@example.com", "subject": "Hi", "message": "Hello"}
	resp = f.do(t, "POST", "/api/contact", full)
	assert.Equal(t, 502, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues("contact", "error")))

	resp = f.do(t, "POST", "/api/contact", full)
	assert.Equal(t, 201, resp.StatusCode)
	rows, err := f.mem.FetchMany(context.Background(), "contact_submissions", repository.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Hello", rows[0]["message"])
}

func TestPagesAndDetails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	insight, err := f.mem.Insert(ctx, "insights", repository.Row{"title": "Live", "published": true})
	require.NoError(t, err)
	draft, err := f.mem.Insert(ctx, "insights", repository.Row{"title": "Draft"})
	require.NoError(t, err)

	resp := f.do(t, "GET", "/api/pages/home", nil)
	require.Equal(t, 200, resp.StatusCode)
	data := decodeMap(t, resp)["data"].(map[string]any)
	assert.Equal(t, "home", data["name"])
	hero := data["sections"].(map[string]any)["hero"].(map[string]any)
	assert.Equal(t, "MOHSIN SALYA", hero["name"])

	assert.Equal(t, 404, f.do(t, "GET", "/api/pages/blog", nil).StatusCode)

	resp = f.do(t, "GET", "/api/insights", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Len(t, decodeMap(t, resp)["data"], 1)

	assert.Equal(t, 200, f.do(t, "GET", "/api/insights/"+insight["id"].(string), nil).StatusCode)
	assert.Equal(t, 404, f.do(t, "GET", "/api/insights/"+draft["id"].(string), nil).StatusCode)
	assert.Equal(t, 404, f.do(t, "GET", "/api/markets/missing", nil).StatusCode)
}

func TestSEOEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, "GET", "/api/seo?path=/contact&title=Contact", nil)
	require.Equal(t, 200, resp.StatusCode)
	data := decodeMap(t, resp)["data"].(map[string]any)
	assert.Equal(t, "Contact", data["title"])
	assert.Equal(t, "https://example.com/contact", data["canonical"])
}

func TestRateLimiter(t *testing.T) {
	limit, err := NewRateLimiter(2, "1m")
	require.NoError(t, err)
	f := newFixture(t, limit)

	for i := 0; i < 2; i++ {
		resp := f.do(t, "POST", "/api/newsletter", map[string]string{"email": "x@y.com"})
		require.Equal(t, 201, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	}
	resp := f.do(t, "POST", "/api/newsletter", map[string]string{"email": "x@y.com"})
	assert.Equal(t, 429, resp.StatusCode)

	// reads are not limited
	assert.Equal(t, 200, f.do(t, "GET", "/api/insights", nil).StatusCode)

	_, err = NewRateLimiter(1, "soon")
	assert.Error(t, err)
}
