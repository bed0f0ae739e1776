package selection

import (
	"context"
	"errors"
	"testing"

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
	cache   *cache.Cache
	metrics *metrics.Metrics
	queue   *notify.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := schema.Default()
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(cache.Options{Metrics: m, Logger: zerolog.Nop()})
	t.Cleanup(c.Close)
	return &fixture{reg: reg, mem: repository.NewMemory(reg), cache: c, metrics: m, queue: notify.NewQueue(0)}
}

func (fx *fixture) controller(t *testing.T, collection string, repo repository.Repository) *Controller {
	t.Helper()
	if repo == nil {
		repo = fx.mem
	}
	s, err := New(Config{
		Collection: collection,
		Registry:   fx.reg,
		Repo:       repo,
		Cache:      fx.cache,
		Notifier:   fx.queue,
		Metrics:    fx.metrics,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func (fx *fixture) seed(t *testing.T, collection string, rows ...Row) []string {
	t.Helper()
	var ids []string
	for _, r := range rows {
		saved, err := fx.mem.Insert(context.Background(), collection, r)
		require.NoError(t, err)
		ids = append(ids, saved["id"].(string))
	}
	return ids
}

func TestToggleSelect(t *testing.T) {
	fx := newFixture(t)
	s := fx.controller(t, "stats", nil)

	s.ToggleSelect("a")
	s.ToggleSelect("b")
	assert.Equal(t, []string{"a", "b"}, s.Selected())
	assert.True(t, s.IsSelected("a"))

	s.ToggleSelect("a")
	assert.Equal(t, []string{"b"}, s.Selected())
	assert.False(t, s.IsSelected("a"))
}

func TestToggleSelectAll(t *testing.T) {
	current := []string{"a", "b", "c"}

	t.Run("selects every current id", func(t *testing.T) {
		s := newFixture(t).controller(t, "stats", nil)
		s.ToggleSelect("b")
		s.ToggleSelectAll(current)
		assert.ElementsMatch(t, current, s.Selected())
	})

	t.Run("double call restores the prior selection", func(t *testing.T) {
		for _, prior := range [][]string{nil, {"a"}, {"b", "c"}, {"x", "a"}} {
			s := newFixture(t).controller(t, "stats", nil)
			for _, id := range prior {
				s.ToggleSelect(id)
			}
			before := s.Selected()
			s.ToggleSelectAll(current)
			s.ToggleSelectAll(current)
			assert.Equal(t, before, s.Selected(), "prior %v", prior)
		}
	})

	t.Run("clears when everything was selected by hand", func(t *testing.T) {
		s := newFixture(t).controller(t, "stats", nil)
		for _, id := range []string{"x", "a", "b", "c"} {
			s.ToggleSelect(id)
		}
		s.ToggleSelectAll(current)
		assert.Equal(t, []string{"x"}, s.Selected())
	})

	t.Run("a toggle in between ends the undo window", func(t *testing.T) {
		s := newFixture(t).controller(t, "stats", nil)
		s.ToggleSelect("a")
		s.ToggleSelectAll(current)
		s.ToggleSelect("x")
		s.ToggleSelect("x")
		s.ToggleSelectAll(current)
		assert.Empty(t, s.Selected())
	})

	t.Run("empty list is a no-op", func(t *testing.T) {
		s := newFixture(t).controller(t, "stats", nil)
		s.ToggleSelect("a")
		s.ToggleSelectAll(nil)
		assert.Equal(t, []string{"a"}, s.Selected())
	})
}

func TestBulkDeleteThreeOfFive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ids := fx.seed(t, "stats",
		Row{"value": "1", "label": "one"}, Row{"value": "2", "label": "two"},
		Row{"value": "3", "label": "three"}, Row{"value": "4", "label": "four"},
		Row{"value": "5", "label": "five"})
	s := fx.controller(t, "stats", nil)

	for _, id := range []string{ids[0], ids[2], ids[4]} {
		s.ToggleSelect(id)
	}
	require.NoError(t, s.BulkDelete(ctx))

	rows, err := fx.mem.FetchMany(ctx, "stats", repository.Query{})
	require.NoError(t, err)
	var labels []string
	for _, r := range rows {
		labels = append(labels, r["label"].(string))
	}
	assert.ElementsMatch(t, []string{"two", "four"}, labels)
	assert.Empty(t, s.Selected())
	assert.False(t, s.IsPending())

	notes := fx.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "Selected items deleted.", notes[0].Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.BulkActions.WithLabelValues("stats", "delete", "ok")))
}

func TestBulkDeleteFailureKeepsSelection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ids := fx.seed(t, "stats", Row{"value": "1", "label": "one"}, Row{"value": "2", "label": "two"})
	s := fx.controller(t, "stats", nil)
	s.ToggleSelect(ids[0])
	s.ToggleSelect(ids[1])

	fx.mem.FailNext("delete_many", errors.New("connection refused"))
	err := s.BulkDelete(ctx)
	require.Error(t, err)
	assert.Equal(t, repository.KindNetwork, repository.KindOf(err))

	assert.Equal(t, ids, s.Selected())
	n, err := fx.mem.Count(ctx, "stats")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	notes := fx.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelError, notes[0].Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.BulkActions.WithLabelValues("stats", "delete", "error")))
}

func TestBulkDeleteWithEmptySelectionDoesNothing(t *testing.T) {
	fx := newFixture(t)
	s := fx.controller(t, "stats", nil)
	require.NoError(t, s.BulkDelete(context.Background()))
	assert.Zero(t, fx.queue.Len())
}

// blockingRepo holds DeleteMany until release is closed.
type blockingRepo struct {
	repository.Repository
	started chan struct{}
	release chan struct{}
}

func (b *blockingRepo) DeleteMany(ctx context.Context, c string, ids []string) error {
	close(b.started)
	<-b.release
	return b.Repository.DeleteMany(ctx, c, ids)
}

func TestActionsAreExclusiveWhilePending(t *testing.T) {
	fx := newFixture(t)
	ids := fx.seed(t, "stats", Row{"value": "1", "label": "one"})
	repo := &blockingRepo{Repository: fx.mem, started: make(chan struct{}), release: make(chan struct{})}
	s := fx.controller(t, "stats", repo)
	s.ToggleSelect(ids[0])

	done := make(chan error, 1)
	go func() { done <- s.BulkDelete(context.Background()) }()
	<-repo.started

	assert.True(t, s.IsPending())
	_, err := s.Duplicate(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrPending)

	close(repo.release)
	require.NoError(t, <-done)
	assert.False(t, s.IsPending())
}

func TestDuplicate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ids := fx.seed(t, "insights", Row{
		"title":       "Scaling teams",
		"excerpt":     "How we grew",
		"published":   true,
		"is_featured": true,
	})
	s := fx.controller(t, "insights", nil)

	copied, err := s.Duplicate(ctx, ids[0])
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], copied["id"])
	assert.Equal(t, "Scaling teams (Copy)", copied["title"])
	assert.Equal(t, "How we grew", copied["excerpt"])
	assert.Equal(t, true, copied["published"])
	assert.Equal(t, false, copied["is_featured"])

	original, err := fx.mem.FetchOne(ctx, "insights", repository.Eq("id", ids[0]))
	require.NoError(t, err)
	assert.Equal(t, true, original["is_featured"])

	notes := fx.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "Duplicated", notes[0].Title)
}

func TestDuplicateMissingRow(t *testing.T) {
	fx := newFixture(t)
	s := fx.controller(t, "stats", nil)
	_, err := s.Duplicate(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, "The item no longer exists.", fx.queue.Drain()[0].Message)
}

func TestDuplicateUniqueKey(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ids := fx.seed(t, "page_metadata", Row{"page_path": "/about", "title": "About"})
	s := fx.controller(t, "page_metadata", nil)

	first, err := s.Duplicate(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "/about (Copy)", first["page_path"])

	second, err := s.Duplicate(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "/about (Copy 2)", second["page_path"])
	assert.Equal(t, "About (Copy 2)", second["title"])

	n, err := fx.mem.Count(ctx, "page_metadata")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCopyOfLabels(t *testing.T) {
	reg := schema.Default()
	tests := []struct {
		name       string
		collection string
		row        Row
		want       Row
	}{
		{
			name:       "title suffixed",
			collection: "achievements",
			row:        Row{"id": "1", "created_at": "t", "updated_at": "t", "title": "Award", "order_index": int64(2)},
			want:       Row{"title": "Award (Copy)", "order_index": int64(2)},
		},
		{
			name:       "name used when there is no title",
			collection: "markets",
			row:        Row{"id": "1", "name": "Retail", "title": ""},
			want:       Row{"name": "Retail (Copy)", "title": ""},
		},
		{
			name:       "empty label becomes Copy",
			collection: "achievements",
			row:        Row{"id": "1", "title": ""},
			want:       Row{"title": "Copy"},
		},
		{
			name:       "unique key suffixed with the label",
			collection: "page_metadata",
			row:        Row{"id": "1", "page_path": "/about", "title": "About"},
			want:       Row{"page_path": "/about (Copy)", "title": "About (Copy)"},
		},
		{
			name:       "collection without a label field",
			collection: "stats",
			row:        Row{"id": "1", "value": "10", "label": "Years"},
			want:       Row{"value": "10", "label": "Years"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CopyOf(reg.Get(tt.collection), tt.row))
		})
	}
}
