// Package editor implements the draft-and-save controllers behind every
// admin form. A controller loads through the shared query cache, keeps a
// controlled draft, writes through the repository and invalidates the
// cache after a successful save.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/notify"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/richtext"
	"portfolio-cms/internal/schema"
)

type Row = repository.Row

// State is the lifecycle of one draft.
type State string

const (
	Idle    State = "idle"
	Editing State = "editing"
	Saving  State = "saving"
)

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrReadOnlyField = errors.New("field is not editable")
	ErrWrongShape    = errors.New("collection has the wrong shape for this editor")
	ErrDialogClosed  = errors.New("dialog is closed")
	ErrNotRichText   = errors.New("field is not rich text")
)

const defaultTimeout = 30 * time.Second

type Config struct {
	Collection string
	Registry   *schema.Registry
	Repo       repository.Repository
	Cache      *cache.Cache
	// Key is the cache key reads go through. Defaults to cache.Admin(Collection).
	Key cache.Key
	// Invalidate lists the keys refreshed after a successful write.
	// Defaults to every cached read of the collection.
	Invalidate []cache.Key
	// Defaults is the draft shown when a singleton has no row yet. It is
	// never written until the first save.
	Defaults Row
	// Editable restricts SetField to these fields. Empty allows every
	// writable field.
	Editable []string
	Hooks    []SaveHook
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	// Timeout bounds one save including its hooks.
	Timeout time.Duration
}

// env is the resolved configuration shared by a controller and its dialogs.
type env struct {
	cfg      Config
	c        *schema.Collection
	editable map[string]bool
	logger   zerolog.Logger

	// saveMu serializes saves issued through one controller.
	saveMu sync.Mutex
}

func newEnv(cfg Config, shape schema.Shape) (*env, error) {
	if cfg.Registry == nil || cfg.Repo == nil || cfg.Cache == nil {
		return nil, errors.New("editor: registry, repository and cache are required")
	}
	c := cfg.Registry.Get(cfg.Collection)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrUnknownCollection, cfg.Collection)
	}
	if c.Shape != shape {
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongShape, c.Name, c.Shape)
	}
	if cfg.Key == (cache.Key{}) {
		cfg.Key = cache.Admin(c.Name)
	}
	if len(cfg.Invalidate) == 0 {
		cfg.Invalidate = []cache.Key{cache.Collection(c.Name)}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	editable := make(map[string]bool)
	for _, f := range c.WritableFields() {
		editable[f.Name] = len(cfg.Editable) == 0
	}
	for _, name := range cfg.Editable {
		if _, ok := editable[name]; !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, c.Name, name)
		}
		editable[name] = true
	}

	return &env{
		cfg:      cfg,
		c:        c,
		editable: editable,
		logger: cfg.Logger.With().
			Str("component", "editor").
			Str("collection", c.Name).
			Logger(),
	}, nil
}

// draftFrom copies the fields of row the collection knows about.
func (e *env) draftFrom(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		if e.c.HasField(k) {
			out[k] = cloneValue(v)
		}
	}
	return out
}

func (e *env) label() string {
	s := strings.ReplaceAll(e.c.Name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (e *env) invalidate() {
	for _, k := range e.cfg.Invalidate {
		e.cfg.Cache.Invalidate(k)
	}
}

func (e *env) retryOnConstraint() bool {
	for _, h := range e.cfg.Hooks {
		if r, ok := h.(interface{ RetryOnConstraint() bool }); ok && r.RetryOnConstraint() {
			return true
		}
	}
	return false
}

// writeFunc performs the primary write of a save and returns the stored row.
type writeFunc func(ctx context.Context, sc *SaveContext) (Row, error)

// save runs validation, hooks and write for f. On failure the draft is left
// untouched and the form returns to Editing.
func (e *env) save(ctx context.Context, f *form, write writeFunc) (Row, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snapshot, rev := f.beginSave()

	fail := func(err error) (Row, error) {
		f.failSave(err)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.Saves.WithLabelValues(e.c.Name, "error").Inc()
		}
		e.logger.Warn().Err(err).Str("kind", string(repository.KindOf(err))).Msg("save failed")
		e.cfg.Notifier.Notify(notify.Failure("Save failed", err))
		return nil, err
	}

	if err := e.c.Validate(snapshot); err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	id, _ := snapshot["id"].(string)
	sc := &SaveContext{Collection: e.c, Repo: e.cfg.Repo, IsNew: id == "", Logger: e.logger}
	var saved Row
	for attempt := 0; ; attempt++ {
		sc.Row = cloneRow(snapshot)
		sc.Attempt = attempt
		var err error
		for _, h := range e.cfg.Hooks {
			if err = h.BeforeWrite(ctx, sc); err != nil {
				break
			}
		}
		if err == nil {
			saved, err = write(ctx, sc)
		}
		if err == nil {
			break
		}
		if attempt == 0 && repository.IsConstraint(err) && e.retryOnConstraint() {
			e.logger.Info().Err(err).Msg("constraint violation, retrying once")
			continue
		}
		return fail(err)
	}

	for _, h := range e.cfg.Hooks {
		if err := h.AfterWrite(ctx, sc, saved); err != nil {
			e.logger.Warn().Err(err).Msg("post-write hook failed")
		}
	}

	e.invalidate()
	f.finishSave(e.draftFrom(saved), rev)

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.Saves.WithLabelValues(e.c.Name, "ok").Inc()
	}
	e.logger.Debug().Str("id", fmt.Sprint(saved["id"])).Msg("saved")
	e.cfg.Notifier.Notify(notify.Success("Saved", e.label()+" saved."))
	return cloneRow(saved), nil
}

// form is the controlled draft shared by singleton editors and dialogs.
type form struct {
	env *env

	mu    sync.Mutex
	state State
	draft Row
	// rev counts draft edits so a save can tell whether the draft moved
	// while it was in flight.
	rev uint64
	err error
}

func newForm(e *env, draft Row) *form {
	return &form{env: e, state: Idle, draft: draft}
}

// SetField updates one draft field. The value is converted to the field's
// type; unknown and read-only fields are rejected.
func (f *form) SetField(name string, value any) error {
	field := f.env.c.GetField(name)
	if field == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, f.env.c.Name, name)
	}
	if !f.env.editable[name] {
		return fmt.Errorf("%w: %s.%s", ErrReadOnlyField, f.env.c.Name, name)
	}
	v, err := field.Coerce(value)
	if err != nil {
		ve := &schema.ValidationError{Collection: f.env.c.Name}
		ve.Add(name, "type", err.Error())
		return ve
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft[name] = v
	f.rev++
	if f.state == Idle {
		f.state = Editing
	}
	return nil
}

// Draft returns a copy of the current draft.
func (f *form) Draft() Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRow(f.draft)
}

func (f *form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error of the last failed save, cleared by the next
// successful one.
func (f *form) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// RichField binds an html field of the draft to a rich-content editor.
func (f *form) RichField(name string) (*richtext.Field, error) {
	field := f.env.c.GetField(name)
	if field == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, f.env.c.Name, name)
	}
	if field.Type != schema.TypeHTML {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotRichText, f.env.c.Name, name)
	}
	f.mu.Lock()
	current, _ := f.draft[name].(string)
	f.mu.Unlock()
	return richtext.NewField(name, richtext.HTML(current), func(h richtext.HTML) {
		_ = f.SetField(name, string(h))
	}), nil
}

// reset replaces the draft with row unless the author has unsaved edits
// or a save is running. force skips that check.
func (f *form) reset(row Row, force bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !force && f.state != Idle {
		return false
	}
	f.draft = row
	f.state = Idle
	f.err = nil
	f.rev++
	return true
}

func (f *form) beginSave() (Row, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Saving
	return cloneRow(f.draft), f.rev
}

func (f *form) failSave(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Editing
	f.err = err
}

// finishSave adopts the stored row unless the draft was edited while the
// save was in flight, in which case those edits stay pending.
func (f *form) finishSave(saved Row, rev uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = nil
	if f.rev != rev {
		f.state = Editing
		return
	}
	f.draft = saved
	f.state = Idle
}

func cloneValue(v any) any {
	if tags, ok := v.([]string); ok {
		cp := make([]string, len(tags))
		copy(cp, tags)
		return cp
	}
	return v
}

func cloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

// writable strips server-generated fields and, when the editor restricts
// edits, every field outside that set.
func (e *env) writable(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		if e.editable[k] {
			out[k] = v
		}
	}
	return out
}
