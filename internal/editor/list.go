package editor

import (
	"context"
	"fmt"
	"sync"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/notify"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

// ListEditor backs a list tab: the cached rows plus at most one open
// create or edit dialog.
type ListEditor struct {
	env *env

	mu          sync.Mutex
	items       []Row
	dialog      *Dialog
	unsubscribe func()
	closed      bool
}

func NewList(cfg Config) (*ListEditor, error) {
	e, err := newEnv(cfg, schema.List)
	if err != nil {
		return nil, err
	}
	return &ListEditor{env: e}, nil
}

func (le *ListEditor) Collection() *schema.Collection { return le.env.c }

func (le *ListEditor) Key() cache.Key { return le.env.cfg.Key }

func (le *ListEditor) fetch(ctx context.Context) (any, error) {
	rows, err := le.env.cfg.Repo.FetchMany(ctx, le.env.c.Name, repository.Query{})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Load reads the list through the cache.
func (le *ListEditor) Load(ctx context.Context) ([]Row, error) {
	res := le.env.cfg.Cache.Query(ctx, le.env.cfg.Key, le.fetch)
	if res.IsError {
		return nil, res.Err
	}
	rows, _ := cache.Value[[]Row](res)

	le.mu.Lock()
	le.items = rows
	if !le.closed && le.unsubscribe == nil {
		le.unsubscribe = le.env.cfg.Cache.Subscribe(le.env.cfg.Key, le.fetch, le.onResult)
	}
	le.mu.Unlock()
	return le.Items(), nil
}

// Refresh waits for the rows written since the last invalidation and
// replaces the items with them.
func (le *ListEditor) Refresh(ctx context.Context) ([]Row, error) {
	return le.Load(ctx)
}

func (le *ListEditor) onResult(res cache.Result) {
	if res.IsError {
		return
	}
	rows, ok := cache.Value[[]Row](res)
	if !ok {
		return
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	if !le.closed {
		le.items = rows
	}
}

// Items returns a copy of the rows last delivered by the cache.
func (le *ListEditor) Items() []Row {
	le.mu.Lock()
	defer le.mu.Unlock()
	out := make([]Row, len(le.items))
	for i, r := range le.items {
		out[i] = cloneRow(r)
	}
	return out
}

// IDs returns the ids of the current items in display order.
func (le *ListEditor) IDs() []string {
	le.mu.Lock()
	defer le.mu.Unlock()
	ids := make([]string, 0, len(le.items))
	for _, r := range le.items {
		if id, ok := r["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// OpenCreate opens an empty dialog for a new row, replacing any open one.
func (le *ListEditor) OpenCreate() *Dialog {
	d := &Dialog{form: newForm(le.env, le.env.draftFrom(le.env.cfg.Defaults)), list: le, isNew: true}
	le.setDialog(d)
	return d
}

// OpenEdit opens a dialog holding a copy of row id. The list's cached rows
// are consulted first.
func (le *ListEditor) OpenEdit(ctx context.Context, id string) (*Dialog, error) {
	var row Row
	le.mu.Lock()
	for _, r := range le.items {
		if r["id"] == id {
			row = r
			break
		}
	}
	le.mu.Unlock()

	if row == nil {
		var err error
		row, err = le.env.cfg.Repo.FetchOne(ctx, le.env.c.Name, repository.Eq("id", id))
		if err != nil {
			return nil, err
		}
	}
	d := &Dialog{form: newForm(le.env, le.env.draftFrom(row)), list: le}
	le.setDialog(d)
	return d, nil
}

// Dialog returns the open dialog or nil.
func (le *ListEditor) Dialog() *Dialog {
	le.mu.Lock()
	defer le.mu.Unlock()
	return le.dialog
}

func (le *ListEditor) setDialog(d *Dialog) {
	le.mu.Lock()
	prev := le.dialog
	le.dialog = d
	le.mu.Unlock()
	if prev != nil {
		prev.markClosed()
	}
}

// CloseDialog discards the open dialog and its draft.
func (le *ListEditor) CloseDialog() {
	le.setDialog(nil)
}

func (le *ListEditor) dialogSaved(d *Dialog) {
	le.mu.Lock()
	if le.dialog == d {
		le.dialog = nil
	}
	le.mu.Unlock()
	d.markClosed()
}

// Delete removes one row and refreshes the list.
func (le *ListEditor) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, le.env.cfg.Timeout)
	defer cancel()
	if err := le.env.cfg.Repo.DeleteOne(ctx, le.env.c.Name, id); err != nil {
		le.env.logger.Warn().Err(err).Str("id", id).Msg("delete failed")
		le.env.cfg.Notifier.Notify(notify.Failure("Delete failed", err))
		return err
	}
	le.env.invalidate()
	le.env.cfg.Notifier.Notify(notify.Success("Deleted", le.env.label()+" item deleted."))
	return nil
}

// Close detaches the editor from the cache and discards any open dialog.
func (le *ListEditor) Close() {
	le.mu.Lock()
	unsubscribe := le.unsubscribe
	le.unsubscribe = nil
	le.closed = true
	dialog := le.dialog
	le.dialog = nil
	le.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if dialog != nil {
		dialog.markClosed()
	}
}

// Dialog holds the draft of one row being created or edited, independent
// of the list's cached rows until it is saved.
type Dialog struct {
	*form
	list  *ListEditor
	isNew bool

	closeMu sync.Mutex
	closed  bool
}

func (d *Dialog) IsNew() bool { return d.isNew }

func (d *Dialog) Closed() bool {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	return d.closed
}

func (d *Dialog) markClosed() {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()
}

// SetField edits the dialog draft.
func (d *Dialog) SetField(name string, value any) error {
	if d.Closed() {
		return ErrDialogClosed
	}
	return d.form.SetField(name, value)
}

// Save inserts a new row or updates the edited one. A successful save
// closes the dialog; a failed one leaves it open with its draft intact.
func (d *Dialog) Save(ctx context.Context) (Row, error) {
	if d.Closed() {
		return nil, ErrDialogClosed
	}
	saved, err := d.list.env.save(ctx, d.form, d.write)
	if err != nil {
		return nil, err
	}
	d.list.dialogSaved(d)
	return saved, nil
}

func (d *Dialog) write(ctx context.Context, sc *SaveContext) (Row, error) {
	e := d.list.env
	id, _ := sc.Row["id"].(string)
	if id != "" {
		patch := e.writable(sc.Row)
		if err := sc.Repo.Update(ctx, sc.Collection.Name, id, patch); err != nil {
			return nil, err
		}
		saved := cloneRow(sc.Row)
		for k, v := range patch {
			saved[k] = v
		}
		return saved, nil
	}

	row := e.writable(sc.Row)
	for _, name := range sc.Collection.ServerGenerated() {
		delete(row, name)
	}
	if sc.Collection.HasField("order_index") && row["order_index"] == nil {
		n, err := sc.Repo.Count(ctx, sc.Collection.Name)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", sc.Collection.Name, err)
		}
		row["order_index"] = int64(n)
	}
	sc.Collection.ApplyDefaults(row)
	return sc.Repo.Insert(ctx, sc.Collection.Name, row)
}
