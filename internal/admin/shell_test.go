package admin

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

func newDeps(t *testing.T) (Deps, *repository.MemoryRepository) {
	t.Helper()
	reg := schema.Default()
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(cache.Options{Metrics: m, Logger: zerolog.Nop()})
	t.Cleanup(c.Close)
	mem := repository.NewMemory(reg)
	return Deps{Registry: reg, Repo: mem, Cache: c, Metrics: m, Logger: zerolog.Nop(), Timeout: 5 * time.Second}, mem
}

func TestEveryCollectionHasOneTab(t *testing.T) {
	seen := map[string]string{}
	for _, tab := range Tabs() {
		for _, s := range append(append([]Section{}, tab.Singletons...), tab.Lists...) {
			prev, dup := seen[s.Collection]
			assert.False(t, dup, "%s is on %s and %s", s.Collection, prev, tab.Name)
			seen[s.Collection] = tab.Name
		}
	}
	for _, c := range schema.Default().All() {
		assert.Contains(t, seen, c.Name)
	}
}

func TestShellSelect(t *testing.T) {
	var left []string
	s := NewShell(func(tab Tab) { left = append(left, tab.Name) })
	assert.Equal(t, "hero", s.Active().Name)

	require.NoError(t, s.Select("hero"))
	assert.Empty(t, left)

	require.NoError(t, s.Select("markets"))
	require.NoError(t, s.Select("seo"))
	assert.Equal(t, []string{"hero", "markets"}, left)

	assert.ErrorIs(t, s.Select("nope"), ErrUnknownTab)
	assert.Equal(t, "seo", s.Active().Name)
}

func TestTabSwitchClosesControllers(t *testing.T) {
	deps, _ := newDeps(t)
	w := newWorkspace("u1", deps, time.Now())
	ctx := context.Background()

	lv, err := w.List(ctx, "markets")
	require.NoError(t, err)
	assert.Equal(t, "markets", w.Active().Name)
	lv.Editor.OpenCreate()

	again, err := w.List(ctx, "markets")
	require.NoError(t, err)
	assert.Same(t, lv, again)

	_, _, err = w.Singleton(ctx, "hero_content")
	require.NoError(t, err)
	assert.Equal(t, "hero", w.Active().Name)
	assert.Nil(t, lv.Editor.Dialog(), "leaving a tab discards its dialog")
	assert.Empty(t, w.lists)

	_, err = w.List(ctx, "hero_content")
	assert.Error(t, err)
	_, err = w.List(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestManagerEvictsIdleWorkspaces(t *testing.T) {
	deps, _ := newDeps(t)
	m := NewManager(deps, time.Hour)
	now := time.Now()
	m.now = func() time.Time { return now }

	a := m.Get("a")
	m.Get("b")
	assert.Same(t, a, m.Get("a"))
	assert.Equal(t, 2.0, testutil.ToFloat64(deps.Metrics.ActiveWorkspaces))

	now = now.Add(40 * time.Minute)
	m.Get("b")
	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, m.EvictIdle())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.ActiveWorkspaces))

	_, err := a.List(context.Background(), "markets")
	assert.ErrorIs(t, err, ErrWorkspaceClosed)
	assert.NotSame(t, a, m.Get("a"))

	m.Evict("a")
	m.Evict("missing")
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	<-m.Stop().Done()
	assert.Zero(t, m.Len())
	assert.Zero(t, testutil.ToFloat64(deps.Metrics.ActiveWorkspaces))
}
