package editor

import (
	"context"
	"errors"
	"sync"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

// Editor edits the single row of a singleton collection.
type Editor struct {
	*form
	env *env

	mu          sync.Mutex
	unsubscribe func()
	closed      bool
}

func New(cfg Config) (*Editor, error) {
	e, err := newEnv(cfg, schema.Singleton)
	if err != nil {
		return nil, err
	}
	return &Editor{form: newForm(e, e.draftFrom(cfg.Defaults)), env: e}, nil
}

func (ed *Editor) fetch(ctx context.Context) (any, error) {
	row, err := ed.env.cfg.Repo.FetchOne(ctx, ed.env.c.Name)
	if errors.Is(err, repository.ErrNotFound) {
		return Row(nil), nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Load reads the row through the cache and replaces the draft with it.
// When no row exists yet the draft is the configured defaults.
func (ed *Editor) Load(ctx context.Context) (Row, error) {
	res := ed.env.cfg.Cache.Query(ctx, ed.env.cfg.Key, ed.fetch)
	if res.IsError {
		return nil, res.Err
	}
	ed.reset(ed.draftOf(res), true)
	ed.subscribe()
	return ed.Draft(), nil
}

// Exists reports whether the draft is backed by a stored row.
func (ed *Editor) Exists() bool {
	id, _ := ed.Draft()["id"].(string)
	return id != ""
}

func (ed *Editor) draftOf(res cache.Result) Row {
	row, _ := cache.Value[Row](res)
	if row == nil {
		return ed.env.draftFrom(ed.env.cfg.Defaults)
	}
	return ed.env.draftFrom(row)
}

func (ed *Editor) subscribe() {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	if ed.closed || ed.unsubscribe != nil {
		return
	}
	ed.unsubscribe = ed.env.cfg.Cache.Subscribe(ed.env.cfg.Key, ed.fetch, func(res cache.Result) {
		if res.IsError {
			return
		}
		ed.reset(ed.draftOf(res), false)
	})
}

// Save upserts the draft. A draft without id creates the row.
func (ed *Editor) Save(ctx context.Context) (Row, error) {
	return ed.env.save(ctx, ed.form, ed.write)
}

func (ed *Editor) write(ctx context.Context, sc *SaveContext) (Row, error) {
	row := ed.env.writable(sc.Row)
	if id, _ := sc.Row["id"].(string); id != "" {
		row["id"] = id
	} else {
		sc.Collection.ApplyDefaults(row)
	}
	return sc.Repo.Upsert(ctx, sc.Collection.Name, row)
}

// Close detaches the editor from the cache. Results arriving afterwards
// are dropped.
func (ed *Editor) Close() {
	ed.mu.Lock()
	unsubscribe := ed.unsubscribe
	ed.unsubscribe = nil
	ed.closed = true
	ed.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
