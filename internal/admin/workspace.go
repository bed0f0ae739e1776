package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/content"
	"portfolio-cms/internal/editor"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/notify"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
	"portfolio-cms/internal/selection"
)

// Deps are the services shared by every workspace.
type Deps struct {
	Registry *schema.Registry
	Repo     repository.Repository
	Cache    *cache.Cache
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	// SanitizeHTML cleans html fields before they are written.
	SanitizeHTML bool
	// Timeout bounds every save and bulk action.
	Timeout time.Duration
}

// ListView pairs the list editor of a collection with its selection.
type ListView struct {
	Section   Section
	Editor    *editor.ListEditor
	Selection *selection.Controller
}

// Workspace is the admin state of one signed-in user: the selected tab, the
// controllers of that tab and the pending notifications.
type Workspace struct {
	user     string
	deps     Deps
	shell    *Shell
	queue    *notify.Queue
	notifier notify.Notifier
	logger   zerolog.Logger

	mu         sync.Mutex
	singletons map[string]*editor.Editor
	lists      map[string]*ListView
	lastSeen   time.Time
	closed     bool
}

func newWorkspace(user string, deps Deps, now time.Time) *Workspace {
	logger := deps.Logger.With().Str("component", "workspace").Str("user_id", user).Logger()
	queue := notify.NewQueue(0)
	w := &Workspace{
		user:       user,
		deps:       deps,
		queue:      queue,
		notifier:   notify.Logged(queue, logger),
		logger:     logger,
		singletons: make(map[string]*editor.Editor),
		lists:      make(map[string]*ListView),
		lastSeen:   now,
	}
	w.shell = NewShell(w.leaveLocked)
	return w
}

func (w *Workspace) User() string { return w.user }

func (w *Workspace) Active() Tab { return w.shell.Active() }

// Select switches tabs and tears down the controllers of the tab left.
func (w *Workspace) Select(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shell.Select(name)
}

// Notifications drains the pending notifications.
func (w *Workspace) Notifications() []notify.Notification {
	return w.queue.Drain()
}

// Singleton returns the editor of a singleton collection, selecting the
// tab that hosts it.
func (w *Workspace) Singleton(ctx context.Context, collection string) (*editor.Editor, Section, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sec, singleton, err := w.enterLocked(collection)
	if err != nil {
		return nil, Section{}, err
	}
	if !singleton {
		return nil, Section{}, fmt.Errorf("%w: %s is a list", editor.ErrWrongShape, collection)
	}
	if ed, ok := w.singletons[collection]; ok {
		return ed, sec, nil
	}

	ed, err := editor.New(w.editorConfig(sec, content.Defaults(collection)))
	if err != nil {
		return nil, Section{}, err
	}
	if _, err := ed.Load(ctx); err != nil {
		ed.Close()
		return nil, Section{}, err
	}
	w.singletons[collection] = ed
	return ed, sec, nil
}

// List returns the list editor and selection of a list collection,
// selecting the tab that hosts it.
func (w *Workspace) List(ctx context.Context, collection string) (*ListView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sec, singleton, err := w.enterLocked(collection)
	if err != nil {
		return nil, err
	}
	if singleton {
		return nil, fmt.Errorf("%w: %s is a singleton", editor.ErrWrongShape, collection)
	}
	if lv, ok := w.lists[collection]; ok {
		return lv, nil
	}

	le, err := editor.NewList(w.editorConfig(sec, nil))
	if err != nil {
		return nil, err
	}
	sel, err := selection.New(selection.Config{
		Collection: collection,
		Registry:   w.deps.Registry,
		Repo:       w.deps.Repo,
		Cache:      w.deps.Cache,
		Notifier:   w.notifier,
		Metrics:    w.deps.Metrics,
		Logger:     w.logger,
		Timeout:    w.deps.Timeout,
	})
	if err != nil {
		le.Close()
		return nil, err
	}
	if _, err := le.Load(ctx); err != nil {
		le.Close()
		return nil, err
	}
	lv := &ListView{Section: sec, Editor: le, Selection: sel}
	w.lists[collection] = lv
	return lv, nil
}

func (w *Workspace) editorConfig(sec Section, defaults repository.Row) editor.Config {
	var hooks []editor.SaveHook
	if c := w.deps.Registry.Get(sec.Collection); c != nil {
		hooks = editor.DefaultHooks(c, w.deps.SanitizeHTML)
	}
	return editor.Config{
		Collection: sec.Collection,
		Registry:   w.deps.Registry,
		Repo:       w.deps.Repo,
		Cache:      w.deps.Cache,
		Defaults:   defaults,
		Editable:   sec.Editable,
		Hooks:      hooks,
		Notifier:   w.notifier,
		Metrics:    w.deps.Metrics,
		Logger:     w.logger,
		Timeout:    w.deps.Timeout,
	}
}

func (w *Workspace) enterLocked(collection string) (Section, bool, error) {
	if w.closed {
		return Section{}, false, ErrWorkspaceClosed
	}
	tab, sec, singleton, err := tabOf(collection)
	if err != nil {
		return Section{}, false, err
	}
	if err := w.shell.Select(tab.Name); err != nil {
		return Section{}, false, err
	}
	return sec, singleton, nil
}

// leaveLocked closes the controllers of t. Saves already in flight finish;
// their results no longer reach the closed controllers.
func (w *Workspace) leaveLocked(t Tab) {
	for _, s := range t.Singletons {
		if ed, ok := w.singletons[s.Collection]; ok {
			ed.Close()
			delete(w.singletons, s.Collection)
		}
	}
	for _, s := range t.Lists {
		if lv, ok := w.lists[s.Collection]; ok {
			lv.Editor.Close()
			delete(w.lists, s.Collection)
		}
	}
}

// UpdateMedia sets the url of the media setting stored under key.
func (w *Workspace) UpdateMedia(ctx context.Context, key, url string) (repository.Row, error) {
	lv, err := w.List(ctx, "media_settings")
	if err != nil {
		return nil, err
	}
	var id string
	for _, row := range lv.Editor.Items() {
		if row["key"] == key {
			id, _ = row["id"].(string)
			break
		}
	}
	if id == "" {
		return nil, &repository.NotFoundError{Collection: "media_settings", ID: key}
	}
	d, err := lv.Editor.OpenEdit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.SetField("url", url); err != nil {
		lv.Editor.CloseDialog()
		return nil, err
	}
	return d.Save(ctx)
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Close releases every controller. Later calls fail with ErrWorkspaceClosed.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for name, ed := range w.singletons {
		ed.Close()
		delete(w.singletons, name)
	}
	for name, lv := range w.lists {
		lv.Editor.Close()
		delete(w.lists, name)
	}
}
