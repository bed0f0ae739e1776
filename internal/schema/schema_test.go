package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCoversEveryCollection(t *testing.T) {
	reg := Default()
	names := []string{
		"hero_content", "biography_content", "biography_quotes", "biography_milestones",
		"markets", "insights", "achievements", "charity_works", "charity_quotes",
		"interviews_content", "interviews_qa", "stats", "media_settings",
		"newsletter_settings", "newsletter_subscriptions", "contact_settings",
		"contact_submissions", "seo_settings", "page_metadata",
	}
	require.Len(t, reg.All(), len(names))
	for _, name := range names {
		c := reg.Get(name)
		require.NotNil(t, c, name)
		assert.True(t, c.HasField("id"), name)
		assert.True(t, c.HasField("created_at"), name)
	}
	assert.Nil(t, reg.Get("users"))
}

func TestBuiltinKeyFields(t *testing.T) {
	reg := Default()
	fields := map[string][]string{
		"hero_content":             {"name", "title_line1", "title_line2", "description", "bottom_left_text", "bottom_left_subtext"},
		"biography_content":        {"name", "title", "subtitle"},
		"biography_quotes":         {"quote", "tags", "order_index"},
		"biography_milestones":     {"milestone_number", "title", "content", "order_index"},
		"markets":                  {"name", "title", "description", "image_url", "year", "industry", "timeline", "page_content", "order_index"},
		"insights":                 {"title", "excerpt", "content", "category", "image_url", "read_time", "author_name", "published", "is_featured", "created_at"},
		"achievements":             {"title", "subtitle", "category", "image_url", "order_index"},
		"charity_works":            {"title", "subtitle", "category", "location", "work_date", "description", "image_url", "order_index"},
		"charity_quotes":           {"quote", "author_name", "author_title", "order_index"},
		"interviews_content":       {"hero_title", "hero_subtitle", "hero_description", "hero_image_url", "philosophy_title", "philosophy_subtitle", "growth_title", "growth_subtitle"},
		"interviews_qa":            {"question", "answer", "order_index"},
		"stats":                    {"value", "label", "order_index"},
		"media_settings":           {"key", "url", "description"},
		"newsletter_settings":      {"title", "disclaimer", "button_text", "placeholder_text"},
		"newsletter_subscriptions": {"email", "created_at"},
		"contact_settings":         {"receive_email", "title", "description"},
		"contact_submissions":      {"name", "email", "subject", "message", "created_at"},
		"seo_settings":             {"site_name", "twitter_handle", "default_og_image", "ga_measurement_id", "clarity_id", "google_search_console_id"},
		"page_metadata":            {"page_path", "title", "description", "og_image"},
	}
	for name, want := range fields {
		c := reg.Get(name)
		require.NotNil(t, c, name)
		for _, f := range want {
			assert.True(t, c.HasField(f), "%s.%s", name, f)
		}
	}

	row, err := reg.Get("charity_works").Coerce(map[string]any{"title": "Water", "category": "Health"})
	require.NoError(t, err)
	assert.Equal(t, "Health", row["category"])
	assert.Equal(t, TypeTags, reg.Get("biography_quotes").GetField("tags").Type)
}

func TestDefaultOrdering(t *testing.T) {
	reg := Default()
	assert.Equal(t, []Order{{Field: "order_index"}}, reg.Get("markets").OrderBy)
	assert.Equal(t, []Order{{Field: "created_at", Desc: true}}, reg.Get("insights").OrderBy)
	assert.Empty(t, reg.Get("hero_content").OrderBy)
}

func TestFeaturedField(t *testing.T) {
	reg := Default()
	f := reg.Get("insights").FeaturedField()
	require.NotNil(t, f)
	assert.Equal(t, "is_featured", f.Name)
	assert.Nil(t, reg.Get("markets").FeaturedField())
}

func TestLabelFields(t *testing.T) {
	reg := Default()
	assert.Equal(t, []string{"title", "name"}, reg.Get("markets").LabelFields)
	assert.Equal(t, []string{"title"}, reg.Get("insights").LabelFields)
	assert.Empty(t, reg.Get("stats").LabelFields)
}

func TestValidateRequired(t *testing.T) {
	c := Default().Get("contact_submissions")

	err := c.Validate(map[string]any{"name": "Ada", "email": " "})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "contact_submissions", verr.Collection)

	var fields []string
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"email", "subject", "message"}, fields)

	assert.NoError(t, c.Validate(map[string]any{
		"name": "Ada", "email": "ada@example.com", "subject": "Hi", "message": "Hello",
	}))
}

func TestValidateUnknownField(t *testing.T) {
	c := Default().Get("stats")
	err := c.Validate(map[string]any{"value": "10+", "label": "Years", "bogus": 1})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "unknown", verr.Fields[0].Rule)
}

func TestApplyDefaults(t *testing.T) {
	c := Default().Get("markets")
	row := map[string]any{"name": "Energy"}
	c.ApplyDefaults(row)

	assert.Equal(t, "", row["page_content"])
	assert.Equal(t, int64(0), row["order_index"])
	assert.Equal(t, "Energy", row["name"])
	_, hasID := row["id"]
	assert.False(t, hasID)
}

func TestCoerce(t *testing.T) {
	c := Default().Get("insights")
	out, err := c.Coerce(map[string]any{
		"title":       "Outlook",
		"is_featured": int64(1),
		"published":   "true",
		"created_at":  "2024-05-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["is_featured"])
	assert.Equal(t, true, out["published"])
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), out["created_at"])

	_, err = c.Coerce(map[string]any{"is_featured": "sometimes"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Fields[0].Rule)
}

func TestCoerceIntRejectsFractions(t *testing.T) {
	f := Field{Name: "order_index", Type: TypeInt}
	v, err := f.Coerce(float64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = f.Coerce(2.5)
	assert.Error(t, err)
}

func TestParseTags(t *testing.T) {
	cases := map[string][]string{
		`["biography","vision"]`: {"biography", "vision"},
		`{biography,"vision"}`:   {"biography", "vision"},
		"a, b ,,c":               {"a", "b", "c"},
		"":                       {},
		"{}":                     {},
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseTags(in), in)
	}
}

func TestServerGenerated(t *testing.T) {
	c := NewCollection("notes", List, text("title"))
	c.ServerGeneratedExtra = []string{"slug"}
	assert.Equal(t, []string{"id", "created_at", "updated_at", "slug"}, c.ServerGenerated())
}
