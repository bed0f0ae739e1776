// Package cache is the process-wide query cache shared by admin sessions
// and public pages. Reads are keyed, deduplicated per key and refreshed
// after invalidation.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"portfolio-cms/internal/metrics"
)

var ErrClosed = errors.New("cache closed")

// Fetcher loads the value for one key from the backend.
type Fetcher func(ctx context.Context) (any, error)

// Result is a snapshot of one cache entry.
type Result struct {
	Data      any
	IsLoading bool
	IsError   bool
	Err       error
	UpdatedAt time.Time
}

// Value returns r.Data as T.
func Value[T any](r Result) (T, bool) {
	v, ok := r.Data.(T)
	return v, ok
}

type Options struct {
	// StaleAfter, when positive, makes entries older than this revalidate
	// in the background on the next read. Zero means fetch once.
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	Broadcaster  Broadcaster
}

type subscriber struct {
	fn     func(Result)
	mu     sync.Mutex
	active bool
}

func (s *subscriber) deliver(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.fn(r)
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

type entry struct {
	fetch     Fetcher
	data      any
	hasValue  bool
	err       error
	updatedAt time.Time

	// stale is set by invalidation; the next read refetches.
	stale    bool
	inflight bool
	// dirty records an invalidation that arrived while a fetch was in
	// flight. The fetch loop runs once more when it is set.
	dirty bool

	subs map[uint64]*subscriber
}

func (e *entry) result() Result {
	return Result{
		Data:      e.data,
		IsLoading: e.inflight,
		IsError:   e.err != nil,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
	}
}

type Cache struct {
	staleAfter   time.Duration
	fetchTimeout time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	broadcaster  Broadcaster
	now          func() time.Time

	mu      sync.Mutex
	entries map[Key]*entry
	nextSub uint64
	closed  bool

	group      singleflight.Group
	wg         sync.WaitGroup
	stopListen context.CancelFunc
}

func New(opts Options) *Cache {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	c := &Cache{
		staleAfter:   opts.StaleAfter,
		fetchTimeout: opts.FetchTimeout,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With().Str("component", "cache").Logger(),
		broadcaster:  opts.Broadcaster,
		now:          time.Now,
		entries:      make(map[Key]*entry),
	}
	if c.broadcaster != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopListen = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.broadcaster.Listen(ctx, func(k Key) { c.invalidate(k, "remote") })
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error().Err(err).Msg("invalidation listener stopped")
			}
		}()
	}
	return c
}

// Query returns the cached value for key, fetching it when there is no
// usable entry. An invalidated entry is refetched before returning; an
// entry older than StaleAfter is returned at once and refreshed in the
// background.
func (c *Cache) Query(ctx context.Context, key Key, fetch Fetcher) Result {
	c.mu.Lock()
	e := c.entryLocked(key)
	if fetch != nil {
		e.fetch = fetch
	}
	// A dirty entry is being refetched after an invalidation; join that
	// fetch instead of returning the value it is about to replace.
	if e.hasValue && !e.stale && !e.dirty {
		res := e.result()
		expired := c.staleAfter > 0 && c.now().Sub(e.updatedAt) > c.staleAfter
		c.mu.Unlock()
		c.countLookup(key, "hit")
		if expired {
			c.refreshAsync(key)
		}
		return res
	}
	c.mu.Unlock()
	c.countLookup(key, "miss")
	return c.load(ctx, key)
}

// Peek returns the current snapshot of key without fetching.
func (c *Cache) Peek(key Key) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result{}
	}
	return e.result()
}

// Invalidate marks every entry covered by key stale. Entries with
// subscribers are refetched right away; the rest on their next read.
// The invalidation is also published to other instances.
func (c *Cache) Invalidate(key Key) {
	c.invalidate(key, "local")
	if c.broadcaster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.broadcaster.Publish(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("publish invalidation")
	}
}

// Subscribe registers fn to receive every fresh result for key. fetch
// becomes the entry's loader when non-nil. The returned func removes the
// subscription; once it returns fn is never called again. fn must not
// call the returned func itself.
func (c *Cache) Subscribe(key Key, fetch Fetcher, fn func(Result)) (unsubscribe func()) {
	sub := &subscriber{fn: fn, active: true}

	c.mu.Lock()
	e := c.entryLocked(key)
	if fetch != nil {
		e.fetch = fetch
	}
	c.nextSub++
	id := c.nextSub
	e.subs[id] = sub
	needFetch := !e.hasValue && !e.inflight && e.fetch != nil
	c.mu.Unlock()

	if needFetch {
		c.refreshAsync(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(e.subs, id)
			c.mu.Unlock()
			sub.stop()
		})
	}
}

// Close stops the invalidation listener and waits for background fetches.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.stopListen != nil {
		c.stopListen()
	}
	c.wg.Wait()
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{subs: make(map[uint64]*subscriber)}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) invalidate(key Key, origin string) {
	var refetch []Key

	c.mu.Lock()
	for k, e := range c.entries {
		if !key.Covers(k) {
			continue
		}
		if c.metrics != nil {
			c.metrics.CacheInvalidations.WithLabelValues(k.Domain, k.Collection, origin).Inc()
		}
		if e.inflight {
			e.dirty = true
			continue
		}
		e.stale = true
		if len(e.subs) > 0 && e.fetch != nil {
			refetch = append(refetch, k)
		}
	}
	c.mu.Unlock()

	for _, k := range refetch {
		c.refreshAsync(k)
	}
}

func (c *Cache) load(ctx context.Context, key Key) Result {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{IsError: true, Err: ErrClosed}
	}
	c.wg.Add(1)
	c.mu.Unlock()

	done := make(chan Result, 1)
	go func() {
		defer c.wg.Done()
		v, _, _ := c.group.Do(key.String(), func() (any, error) {
			return c.run(key), nil
		})
		done <- v.(Result)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		res := c.Peek(key)
		res.IsError = true
		res.Err = ctx.Err()
		return res
	}
}

func (c *Cache) refreshAsync(key Key) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		_, _, _ = c.group.Do(key.String(), func() (any, error) {
			return c.run(key), nil
		})
	}()
}

// run fetches key until no invalidation arrived during the fetch. Callers
// hold the singleflight slot for key.
func (c *Cache) run(key Key) Result {
	for {
		c.mu.Lock()
		e := c.entries[key]
		if e == nil || e.fetch == nil {
			c.mu.Unlock()
			return Result{}
		}
		e.inflight = true
		e.dirty = false
		fetch := e.fetch
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		data, err := fetch(ctx)
		cancel()

		if c.metrics != nil {
			c.metrics.CacheFetches.WithLabelValues(key.Domain, key.Collection, metrics.Outcome(err)).Inc()
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("fetch failed")
		}

		c.mu.Lock()
		if err == nil {
			e.data = data
			e.hasValue = true
			e.err = nil
			e.stale = false
			e.updatedAt = c.now()
		} else {
			e.err = err
		}
		res := e.result()
		res.IsLoading = false
		subs := make([]*subscriber, 0, len(e.subs))
		for _, s := range e.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()

		for _, s := range subs {
			s.deliver(res)
		}

		c.mu.Lock()
		if e.dirty && !c.closed {
			e.stale = true
			c.mu.Unlock()
			continue
		}
		e.dirty = false
		e.inflight = false
		// Later invalidations must start a new fetch rather than join
		// this finishing one.
		c.group.Forget(key.String())
		c.mu.Unlock()
		return res
	}
}

func (c *Cache) countLookup(key Key, result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(key.Domain, key.Collection, result).Inc()
	}
}
