package editor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/notify"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

type fixture struct {
	reg     *schema.Registry
	mem     *repository.MemoryRepository
	repo    repository.Repository
	cache   *cache.Cache
	metrics *metrics.Metrics
	queue   *notify.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := schema.Default()
	mem := repository.NewMemory(reg)
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(cache.Options{Metrics: m, Logger: zerolog.Nop()})
	t.Cleanup(c.Close)
	return &fixture{reg: reg, mem: mem, repo: mem, cache: c, metrics: m, queue: notify.NewQueue(0)}
}

func (fx *fixture) config(collection string) Config {
	return Config{
		Collection: collection,
		Registry:   fx.reg,
		Repo:       fx.repo,
		Cache:      fx.cache,
		Hooks:      DefaultHooks(fx.reg.Get(collection), true),
		Notifier:   fx.queue,
		Metrics:    fx.metrics,
		Logger:     zerolog.Nop(),
	}
}

func (fx *fixture) insert(t *testing.T, collection string, row Row) Row {
	t.Helper()
	saved, err := fx.mem.Insert(context.Background(), collection, row)
	require.NoError(t, err)
	return saved
}

// writeCounter counts the write calls that reach the backend.
type writeCounter struct {
	repository.Repository
	writes atomic.Int64
}

func (w *writeCounter) Insert(ctx context.Context, c string, row Row) (Row, error) {
	w.writes.Add(1)
	return w.Repository.Insert(ctx, c, row)
}

func (w *writeCounter) Update(ctx context.Context, c, id string, patch Row) error {
	w.writes.Add(1)
	return w.Repository.Update(ctx, c, id, patch)
}

func (w *writeCounter) Upsert(ctx context.Context, c string, row Row) (Row, error) {
	w.writes.Add(1)
	return w.Repository.Upsert(ctx, c, row)
}

func (w *writeCounter) UpdateMany(ctx context.Context, c string, patch Row, filters ...repository.Filter) (int64, error) {
	w.writes.Add(1)
	return w.Repository.UpdateMany(ctx, c, patch, filters...)
}

func (w *writeCounter) Count(ctx context.Context, c string) (int, error) {
	w.writes.Add(1)
	return w.Repository.Count(ctx, c)
}

// funcHook runs before on every BeforeWrite.
type funcHook struct {
	before func(ctx context.Context, sc *SaveContext) error
}

func (h funcHook) BeforeWrite(ctx context.Context, sc *SaveContext) error { return h.before(ctx, sc) }
func (funcHook) AfterWrite(context.Context, *SaveContext, Row) error { return nil }

var ignoreSystem = cmpopts.IgnoreMapEntries(func(k string, _ any) bool {
	return k == "id" || k == "created_at" || k == "updated_at"
})

func featuredByTitle(t *testing.T, fx *fixture) map[string]bool {
	t.Helper()
	rows, err := fx.mem.FetchMany(context.Background(), "insights", repository.Query{})
	require.NoError(t, err)
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r["title"].(string)] = r["is_featured"].(bool)
	}
	return out
}

func TestSingletonLoadsDefaultsWhenNoRowExists(t *testing.T) {
	fx := newFixture(t)
	cfg := fx.config("hero_content")
	cfg.Defaults = Row{"name": "Jane Doe", "title_line1": "Building"}
	ed, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(ed.Close)

	draft, err := ed.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Row{"name": "Jane Doe", "title_line1": "Building"}, draft)
	assert.False(t, ed.Exists())
	assert.Equal(t, Idle, ed.State())

	n, err := fx.mem.Count(context.Background(), "hero_content")
	require.NoError(t, err)
	assert.Zero(t, n, "defaults are never written on load")
}

func TestSingletonSaveRoundTrip(t *testing.T) {
	fx := newFixture(t)
	cfg := fx.config("hero_content")
	cfg.Defaults = Row{"name": "Jane Doe"}
	ed, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(ed.Close)
	ctx := context.Background()

	_, err = ed.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, ed.SetField("title_line1", "Hello"))
	assert.Equal(t, Editing, ed.State())

	saved, err := ed.Save(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, saved["id"])
	assert.Equal(t, Idle, ed.State())
	assert.True(t, ed.Exists())

	stored, err := fx.mem.FetchOne(ctx, "hero_content")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", stored["name"])
	assert.Equal(t, "Hello", stored["title_line1"])
	assert.Equal(t, "", stored["description"])

	// a second save updates the same row
	require.NoError(t, ed.SetField("description", "More"))
	_, err = ed.Save(ctx)
	require.NoError(t, err)
	n, err := fx.mem.Count(ctx, "hero_content")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// reloading through a fresh editor shows the stored values
	other, err := New(fx.config("hero_content"))
	require.NoError(t, err)
	t.Cleanup(other.Close)
	reloaded, err := other.Load(ctx)
	require.NoError(t, err)
	stored, err = fx.mem.FetchOne(ctx, "hero_content")
	require.NoError(t, err)
	if diff := cmp.Diff(stored, reloaded, ignoreSystem); diff != "" {
		t.Errorf("reloaded draft mismatch (-stored +reloaded):\n%s", diff)
	}
	assert.Equal(t, "More", reloaded["description"])

	notes := fx.queue.Drain()
	require.Len(t, notes, 2)
	assert.Equal(t, notify.LevelSuccess, notes[0].Level)
	assert.Equal(t, "Hero content saved.", notes[0].Message)
	assert.Equal(t, 2.0, testutil.ToFloat64(fx.metrics.Saves.WithLabelValues("hero_content", "ok")))
}

func TestSaveRefreshesOtherIdleEditors(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.insert(t, "hero_content", Row{"name": "Before"})

	a, err := New(fx.config("hero_content"))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	b, err := New(fx.config("hero_content"))
	require.NoError(t, err)
	_, err = a.Load(ctx)
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, a.SetField("name", "After"))
	_, err = a.Save(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.Draft()["name"] == "After" },
		time.Second, 5*time.Millisecond)

	b.Close()
	require.NoError(t, a.SetField("name", "Later"))
	_, err = a.Save(ctx)
	require.NoError(t, err)
	assert.Never(t, func() bool { return b.Draft()["name"] == "Later" },
		50*time.Millisecond, 5*time.Millisecond)
}

func TestRefreshDoesNotOverwriteUnsavedEdits(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.insert(t, "hero_content", Row{"name": "Before"})

	a, err := New(fx.config("hero_content"))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	b, err := New(fx.config("hero_content"))
	require.NoError(t, err)
	t.Cleanup(b.Close)
	_, err = a.Load(ctx)
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, b.SetField("description", "mine"))
	require.NoError(t, a.SetField("name", "After"))
	_, err = a.Save(ctx)
	require.NoError(t, err)

	assert.Never(t, func() bool { return b.Draft()["name"] == "After" },
		50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, "mine", b.Draft()["description"])
	assert.Equal(t, Editing, b.State())
}

func TestSetFieldRejectsUnknownAndReadOnly(t *testing.T) {
	fx := newFixture(t)
	cfg := fx.config("hero_content")
	cfg.Editable = []string{"name"}
	ed, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(ed.Close)

	assert.ErrorIs(t, ed.SetField("nickname", "x"), ErrUnknownField)
	assert.ErrorIs(t, ed.SetField("title_line1", "x"), ErrReadOnlyField)
	assert.ErrorIs(t, ed.SetField("id", "x"), ErrReadOnlyField)
	require.NoError(t, ed.SetField("name", "ok"))
	assert.Equal(t, Row{"name": "ok"}, ed.Draft())

	cfg.Editable = []string{"nickname"}
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestNewRejectsWrongShape(t *testing.T) {
	fx := newFixture(t)
	_, err := New(fx.config("markets"))
	assert.ErrorIs(t, err, ErrWrongShape)
	_, err = NewList(fx.config("hero_content"))
	assert.ErrorIs(t, err, ErrWrongShape)
	_, err = New(fx.config("missing"))
	assert.ErrorIs(t, err, repository.ErrUnknownCollection)
}

func TestSetFieldCoercesAndReportsTypeErrors(t *testing.T) {
	fx := newFixture(t)
	le, err := NewList(fx.config("markets"))
	require.NoError(t, err)
	t.Cleanup(le.Close)

	d := le.OpenCreate()
	require.NoError(t, d.SetField("order_index", 3.0))
	assert.Equal(t, int64(3), d.Draft()["order_index"])

	err = d.SetField("order_index", "three")
	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "order_index", ve.Fields[0].Field)
}

func TestAddMarketDefaultsOrderAndContent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.insert(t, "markets", Row{"name": "One", "order_index": 0})
	fx.insert(t, "markets", Row{"name": "Two", "order_index": 1})

	le, err := NewList(fx.config("markets"))
	require.NoError(t, err)
	t.Cleanup(le.Close)
	_, err = le.Load(ctx)
	require.NoError(t, err)

	d := le.OpenCreate()
	assert.True(t, d.IsNew())
	require.NoError(t, d.SetField("name", "Foo"))
	saved, err := d.Save(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Foo", saved["name"])
	assert.Equal(t, "", saved["page_content"])
	assert.Equal(t, int64(2), saved["order_index"])
	assert.True(t, d.Closed())
	assert.Nil(t, le.Dialog())

	require.Eventually(t, func() bool { return len(le.Items()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Foo", le.Items()[2]["name"])
}

func TestValidationFailureMakesNoBackendCall(t *testing.T) {
	fx := newFixture(t)
	counter := &writeCounter{Repository: fx.mem}
	fx.repo = counter

	le, err := NewList(fx.config("markets"))
	require.NoError(t, err)
	t.Cleanup(le.Close)

	d := le.OpenCreate()
	require.NoError(t, d.SetField("title", "No name"))
	_, err = d.Save(context.Background())

	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, counter.writes.Load())
	assert.Equal(t, Editing, d.State())
	assert.False(t, d.Closed())
	assert.Equal(t, "No name", d.Draft()["title"])

	notes := fx.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelError, notes[0].Level)
	assert.Contains(t, notes[0].Message, "name is required")
}

func TestBackendFailureKeepsDraft(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	row := fx.insert(t, "markets", Row{"name": "One"})

	le, err := NewList(fx.config("markets"))
	require.NoError(t, err)
	t.Cleanup(le.Close)
	_, err = le.Load(ctx)
	require.NoError(t, err)

	d, err := le.OpenEdit(ctx, row["id"].(string))
	require.NoError(t, err)
	require.NoError(t, d.SetField("title", "Changed"))

	fx.mem.FailNext("update", errors.New("connection reset"))
	_, err = d.Save(ctx)
	require.Error(t, err)
	assert.Equal(t, repository.KindNetwork, repository.KindOf(err))

	assert.Equal(t, Editing, d.State())
	assert.Equal(t, err, d.Err())
	assert.Equal(t, "Changed", d.Draft()["title"])
	assert.Same(t, d, le.Dialog())

	notes := fx.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "Could not reach the content backend. Please try again.", notes[0].Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.Saves.WithLabelValues("markets", "error")))

	// the retry by the author succeeds with the same draft
	_, err = d.Save(ctx)
	require.NoError(t, err)
	assert.NoError(t, d.Err())
	stored, err := fx.mem.FetchOne(ctx, "markets", repository.Eq("id", row["id"]))
	require.NoError(t, err)
	assert.Equal(t, "Changed", stored["title"])
}

func TestFeaturingOneInsightClearsTheOther(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.insert(t, "insights", Row{"title": "A"})
	fx.insert(t, "insights", Row{"title": "B", "is_featured": true})

	le, err := NewList(fx.config("insights"))
	require.NoError(t, err)
	t.Cleanup(le.Close)
	_, err = le.Load(ctx)
	require.NoError(t, err)

	d, err := le.OpenEdit(ctx, a["id"].(string))
	require.NoError(t, err)
	require.NoError(t, d.SetField("is_featured", true))
	_, err = d.Save(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"A": true, "B": false}, featuredByTitle(t, fx))
}

func TestAtMostOneFeaturedForAnyPriorState(t *testing.T) {
	priors := []struct {
		name     string
		featured []bool
	}{
		{"none featured", []bool{false, false, false}},
		{"another featured", []bool{false, true, false}},
		{"target already featured", []bool{true, false, false}},
	}
	for _, tt := range priors {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			ctx := context.Background()
			var ids []string
			for i, f := range tt.featured {
				r := fx.insert(t, "insights", Row{"title": string(rune('A' + i)), "is_featured": f})
				ids = append(ids, r["id"].(string))
			}

			le, err := NewList(fx.config("insights"))
			require.NoError(t, err)
			t.Cleanup(le.Close)
			d, err := le.OpenEdit(ctx, ids[0])
			require.NoError(t, err)
			require.NoError(t, d.SetField("is_featured", true))
			_, err = d.Save(ctx)
			require.NoError(t, err)

			assert.Equal(t, map[string]bool{"A": true, "B": false, "C": false}, featuredByTitle(t, fx))
		})
	}
}

func TestNewFeaturedInsightClearsExisting(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.insert(t, "insights", Row{"title": "Old", "is_featured": true})

	le, err := NewList(fx.config("insights"))
	require.NoError(t, err)
	t.Cleanup(le.Close)
	d := le.OpenCreate()
	require.NoError(t, d.SetField("title", "New"))
	require.NoError(t, d.SetField("is_featured", true))
	_, err = d.Save(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"Old": false, "New": true}, featuredByTitle(t, fx))
}

func TestConstraintViolationRetriesOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.insert(t, "insights", Row{"title": "A"})
	b := fx.insert(t, "insights", Row{"title": "B"})

	// another admin features B between the clear and the write
	var raced atomic.Int64
	racer := funcHook{before: func(ctx context.Context, sc *SaveContext) error {
		if sc.Attempt == 0 {
			raced.Add(1)
			return fx.mem.Update(ctx, "insights", b["id"].(string), Row{"is_featured": true})
		}
		return nil
	}}
	cfg := fx.config("insights")
	cfg.Hooks = []SaveHook{FeaturedInvariant{}, racer}

	le, err := NewList(cfg)
	require.NoError(t, err)
	t.Cleanup(le.Close)
	d, err := le.OpenEdit(ctx, a["id"].(string))
	require.NoError(t, err)
	require.NoError(t, d.SetField("is_featured", true))
	_, err = d.Save(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), raced.Load())
	assert.Equal(t, map[string]bool{"A": true, "B": false}, featuredByTitle(t, fx))
}

func TestConstraintViolationWithoutRetryHookFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.insert(t, "insights", Row{"title": "A"})
	fx.insert(t, "insights", Row{"title": "B", "is_featured": true})

	cfg := fx.config("insights")
	cfg.Hooks = nil
	le, err := NewList(cfg)
	require.NoError(t, err)
	t.Cleanup(le.Close)
	d, err := le.OpenEdit(ctx, a["id"].(string))
	require.NoError(t, err)
	require.NoError(t, d.SetField("is_featured", true))
	_, err = d.Save(ctx)
	assert.True(t, repository.IsConstraint(err))
	assert.Equal(t, "The change conflicts with existing content.", fx.queue.Drain()[0].Message)
}

func TestEditDuringSaveStaysPending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	cfg := fx.config("hero_content")
	var ed *Editor
	cfg.Hooks = []SaveHook{funcHook{before: func(context.Context, *SaveContext) error {
		return ed.SetField("description", "typed while saving")
	}}}
	ed, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(ed.Close)
	_, err = ed.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, ed.SetField("name", "Jane"))
	_, err = ed.Save(ctx)
	require.NoError(t, err)

	assert.Equal(t, Editing, ed.State())
	assert.Equal(t, "typed while saving", ed.Draft()["description"])
	stored, err := fx.mem.FetchOne(ctx, "hero_content")
	require.NoError(t, err)
	assert.Equal(t, "", stored["description"])
}

func TestSanitizeHookCleansHTML(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ed, err := New(fx.config("biography_content"))
	require.NoError(t, err)
	t.Cleanup(ed.Close)

	require.NoError(t, ed.SetField("hero_description", `<p>Hi</p><script>alert(1)</script>`))
	_, err = ed.Save(ctx)
	require.NoError(t, err)

	stored, err := fx.mem.FetchOne(ctx, "biography_content")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hi</p>", stored["hero_description"])
	assert.Equal(t, "<p>Hi</p>", ed.Draft()["hero_description"])
}

func TestRichFieldUpdatesDraft(t *testing.T) {
	fx := newFixture(t)
	cfg := fx.config("biography_content")
	cfg.Defaults = Row{"hero_description": "<p>a</p>"}
	ed, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(ed.Close)

	f, err := ed.RichField("hero_description")
	require.NoError(t, err)
	assert.Equal(t, "<p>a</p>", string(f.Value()))

	f.OnChange("<p>b</p>")
	assert.Equal(t, "<p>b</p>", ed.Draft()["hero_description"])
	assert.Equal(t, Editing, ed.State())

	_, err = ed.RichField("name")
	assert.ErrorIs(t, err, ErrNotRichText)
	_, err = ed.RichField("nope")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestDialogLifecycle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	row := fx.insert(t, "stats", Row{"value": "10+", "label": "Years"})

	le, err := NewList(fx.config("stats"))
	require.NoError(t, err)
	t.Cleanup(le.Close)
	items, err := le.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	first := le.OpenCreate()
	second, err := le.OpenEdit(ctx, row["id"].(string))
	require.NoError(t, err)
	assert.True(t, first.Closed(), "opening a dialog replaces the previous one")
	assert.ErrorIs(t, first.SetField("value", "x"), ErrDialogClosed)
	_, err = first.Save(ctx)
	assert.ErrorIs(t, err, ErrDialogClosed)

	require.NoError(t, second.SetField("label", "Years active"))
	assert.Equal(t, "Years", le.Items()[0]["label"], "list rows are untouched until save")
	le.CloseDialog()
	assert.True(t, second.Closed())
	assert.Nil(t, le.Dialog())

	_, err = le.OpenEdit(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	row := fx.insert(t, "stats", Row{"value": "1", "label": "One"})
	fx.insert(t, "stats", Row{"value": "2", "label": "Two"})

	le, err := NewList(fx.config("stats"))
	require.NoError(t, err)
	t.Cleanup(le.Close)
	_, err = le.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, le.Delete(ctx, row["id"].(string)))
	require.Eventually(t, func() bool { return len(le.Items()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Two", le.Items()[0]["label"])

	fx.mem.FailNext("delete_one", errors.New("timeout"))
	assert.Error(t, le.Delete(ctx, "whatever"))
	notes := fx.queue.Drain()
	require.Len(t, notes, 2)
	assert.Equal(t, notify.LevelSuccess, notes[0].Level)
	assert.Equal(t, notify.LevelError, notes[1].Level)
}

func TestCreateWritesOnlyEditableFields(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	cfg := fx.config("markets")
	cfg.Editable = []string{"name"}
	cfg.Defaults = Row{"title": "Preset", "year": "2020"}

	le, err := NewList(cfg)
	require.NoError(t, err)
	t.Cleanup(le.Close)

	d := le.OpenCreate()
	require.NoError(t, d.SetField("name", "Foo"))
	saved, err := d.Save(ctx)
	require.NoError(t, err)

	stored, err := fx.mem.FetchOne(ctx, "markets", repository.Eq("id", saved["id"]))
	require.NoError(t, err)
	assert.Equal(t, "Foo", stored["name"])
	assert.Equal(t, "", stored["title"])
	assert.Equal(t, "", stored["year"])
	assert.Equal(t, int64(0), stored["order_index"])
}

func TestRefreshReturnsRowsAfterDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	var ids []string
	for _, v := range []string{"1", "2", "3"} {
		ids = append(ids, fx.insert(t, "stats", Row{"value": v, "label": "L" + v})["id"].(string))
	}

	le, err := NewList(fx.config("stats"))
	require.NoError(t, err)
	t.Cleanup(le.Close)
	_, err = le.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, le.Delete(ctx, ids[0]))
	items, err := le.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ids[1:], le.IDs())
}
