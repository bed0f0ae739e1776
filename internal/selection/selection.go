// Package selection tracks the rows an admin has ticked in a list tab and
// runs the bulk actions that operate on them.
package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/notify"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

type Row = repository.Row

// ErrPending is returned when an action starts while another one is running.
var ErrPending = errors.New("another bulk action is in progress")

const (
	defaultTimeout = 30 * time.Second
	copySuffix     = " (Copy)"
	copyLabel      = "Copy"
)

// maxCopies bounds the numbered suffixes tried when a copy's unique key is
// already taken by an earlier copy.
const maxCopies = 5

type Config struct {
	Collection string
	Registry   *schema.Registry
	Repo       repository.Repository
	Cache      *cache.Cache
	// Invalidate lists the keys refreshed after a successful action.
	// Defaults to every cached read of the collection.
	Invalidate []cache.Key
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	Timeout    time.Duration
}

type Controller struct {
	cfg    Config
	c      *schema.Collection
	logger zerolog.Logger

	mu       sync.Mutex
	selected []string
	// beforeAll is the selection replaced by the last ToggleSelectAll when
	// that call selected everything and nothing has changed since.
	beforeAll []string
	canUndo   bool
	pending   bool
}

func New(cfg Config) (*Controller, error) {
	if cfg.Registry == nil || cfg.Repo == nil || cfg.Cache == nil {
		return nil, errors.New("selection: registry, repository and cache are required")
	}
	c := cfg.Registry.Get(cfg.Collection)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrUnknownCollection, cfg.Collection)
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
	return &Controller{
		cfg: cfg,
		c:   c,
		logger: cfg.Logger.With().
			Str("component", "selection").
			Str("collection", c.Name).
			Logger(),
	}, nil
}

// Selected returns the selected ids in the order they were selected.
func (s *Controller) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selected...)
}

func (s *Controller) IsSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.selected, id) >= 0
}

// ToggleSelect adds id to the selection or removes it when present.
func (s *Controller) ToggleSelect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canUndo = false
	if i := indexOf(s.selected, id); i >= 0 {
		s.selected = append(s.selected[:i:i], s.selected[i+1:]...)
		return
	}
	s.selected = append(s.selected, id)
}

// ToggleSelectAll selects every id of the current list, or deselects them
// when all are already selected. Deselecting right after a select-all
// restores the selection that select-all replaced, so two calls in a row
// leave the selection unchanged.
func (s *Controller) ToggleSelectAll(current []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(current) == 0 {
		return
	}
	allSelected := true
	for _, id := range current {
		if indexOf(s.selected, id) < 0 {
			allSelected = false
			break
		}
	}

	if allSelected {
		if s.canUndo {
			s.selected = s.beforeAll
		} else {
			s.selected = without(s.selected, current)
		}
		s.beforeAll = nil
		s.canUndo = false
		return
	}

	s.beforeAll = append([]string(nil), s.selected...)
	s.canUndo = true
	for _, id := range current {
		if indexOf(s.selected, id) < 0 {
			s.selected = append(s.selected, id)
		}
	}
}

// Clear empties the selection.
func (s *Controller) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
	s.beforeAll = nil
	s.canUndo = false
}

// IsPending reports whether a bulk action is running.
func (s *Controller) IsPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Controller) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return ErrPending
	}
	s.pending = true
	return nil
}

func (s *Controller) end() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

func (s *Controller) record(action string, err error) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.BulkActions.WithLabelValues(s.c.Name, action, metrics.Outcome(err)).Inc()
	}
}

func (s *Controller) invalidate() {
	for _, k := range s.cfg.Invalidate {
		s.cfg.Cache.Invalidate(k)
	}
}

// BulkDelete removes every selected row in one backend call. On success the
// selection is cleared; on failure it is kept so the action can be retried.
func (s *Controller) BulkDelete(ctx context.Context) error {
	ids := s.Selected()
	if len(ids) == 0 {
		return nil
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	err := s.cfg.Repo.DeleteMany(ctx, s.c.Name, ids)
	s.record("delete", err)
	if err != nil {
		s.logger.Warn().Err(err).Int("count", len(ids)).Msg("bulk delete failed")
		s.cfg.Notifier.Notify(notify.Failure("Delete failed", err))
		return err
	}

	s.mu.Lock()
	s.selected = without(s.selected, ids)
	s.beforeAll = nil
	s.canUndo = false
	s.mu.Unlock()

	s.invalidate()
	s.logger.Info().Int("count", len(ids)).Msg("bulk delete")
	s.cfg.Notifier.Notify(notify.Success("Deleted", "Selected items deleted."))
	return nil
}

// Duplicate inserts a copy of row id. Server-generated fields are dropped,
// the copy's label is marked and a featured flag is not carried over.
func (s *Controller) Duplicate(ctx context.Context, id string) (Row, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	copied, err := s.duplicate(ctx, id)
	s.record("duplicate", err)
	if err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("duplicate failed")
		s.cfg.Notifier.Notify(notify.Failure("Duplicate failed", err))
		return nil, err
	}
	s.invalidate()
	s.cfg.Notifier.Notify(notify.Success("Duplicated", "Item duplicated."))
	return copied, nil
}

func (s *Controller) duplicate(ctx context.Context, id string) (Row, error) {
	row, err := s.cfg.Repo.FetchOne(ctx, s.c.Name, repository.Eq("id", id))
	if err != nil {
		return nil, err
	}
	for n := 1; ; n++ {
		suffix := copySuffix
		if n > 1 {
			suffix = fmt.Sprintf(" (Copy %d)", n)
		}
		copied, err := s.cfg.Repo.Insert(ctx, s.c.Name, copyOf(s.c, row, suffix))
		if err == nil || n == maxCopies || !repository.IsConstraint(err) || len(uniqueKeys(s.c)) == 0 {
			return copied, err
		}
	}
}

// CopyOf returns the row to insert when duplicating row. Unique text keys
// are suffixed like the label so the copy does not collide with row.
func CopyOf(c *schema.Collection, row Row) Row {
	return copyOf(c, row, copySuffix)
}

// uniqueKeys lists the unique text fields that are not label fields.
func uniqueKeys(c *schema.Collection) []string {
	var keys []string
	for _, f := range c.Fields {
		if f.Unique && f.Type == schema.TypeText && !isLabel(c, f.Name) {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

func isLabel(c *schema.Collection, name string) bool {
	for _, l := range c.LabelFields {
		if l == name {
			return true
		}
	}
	return false
}

func copyOf(c *schema.Collection, row Row, suffix string) Row {
	out := make(Row, len(row))
	for k, v := range row {
		if tags, ok := v.([]string); ok {
			v = append([]string(nil), tags...)
		}
		out[k] = v
	}
	for _, name := range c.ServerGenerated() {
		delete(out, name)
	}
	if f := c.FeaturedField(); f != nil {
		out[f.Name] = false
	}
	for _, name := range uniqueKeys(c) {
		if key, _ := out[name].(string); key != "" {
			out[name] = key + suffix
		}
	}

	for _, name := range c.LabelFields {
		if label, _ := out[name].(string); label != "" {
			out[name] = label + suffix
			return out
		}
	}
	if len(c.LabelFields) > 0 {
		out[c.LabelFields[0]] = copyLabel
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func without(ids, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	var out []string
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
