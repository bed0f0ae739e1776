package editor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/richtext"
	"portfolio-cms/internal/schema"
)

// SaveContext is handed to every hook of one save attempt.
type SaveContext struct {
	Collection *schema.Collection
	Repo       repository.Repository
	// Row is the draft about to be written. BeforeWrite hooks may change it.
	Row   Row
	IsNew bool
	// Attempt is 0 for the first write and 1 for the retry after a
	// constraint violation.
	Attempt int
	Logger  zerolog.Logger
}

// SaveHook enforces an entity rule around the primary write of a save.
// A BeforeWrite error aborts the save. AfterWrite errors are logged only,
// since the write has already happened.
type SaveHook interface {
	BeforeWrite(ctx context.Context, sc *SaveContext) error
	AfterWrite(ctx context.Context, sc *SaveContext, saved Row) error
}

// FeaturedInvariant keeps at most one row of a collection flagged by its
// unique-when-true field. Before the write every other flagged row is
// cleared; after it the collection is re-checked and any row flagged by a
// concurrent writer is cleared once more. A constraint violation from the
// partial unique index retries the clear and the write once.
type FeaturedInvariant struct{}

func (FeaturedInvariant) RetryOnConstraint() bool { return true }

func (FeaturedInvariant) BeforeWrite(ctx context.Context, sc *SaveContext) error {
	field := sc.Collection.FeaturedField()
	if field == nil || sc.Row[field.Name] != true {
		return nil
	}
	filters := []repository.Filter{repository.Eq(field.Name, true)}
	if id, _ := sc.Row["id"].(string); id != "" {
		filters = append(filters, repository.Neq("id", id))
	}
	n, err := sc.Repo.UpdateMany(ctx, sc.Collection.Name, Row{field.Name: false}, filters...)
	if err != nil {
		return fmt.Errorf("clear %s: %w", field.Name, err)
	}
	if n > 0 {
		sc.Logger.Debug().Int64("rows", n).Str("field", field.Name).Msg("cleared flag on other rows")
	}
	return nil
}

func (FeaturedInvariant) AfterWrite(ctx context.Context, sc *SaveContext, saved Row) error {
	field := sc.Collection.FeaturedField()
	if field == nil || saved[field.Name] != true {
		return nil
	}
	id, _ := saved["id"].(string)
	rows, err := sc.Repo.FetchMany(ctx, sc.Collection.Name, repository.Query{
		Filters: []repository.Filter{repository.Eq(field.Name, true)},
	})
	if err != nil {
		return fmt.Errorf("recheck %s: %w", field.Name, err)
	}
	var others []string
	for _, r := range rows {
		if other, _ := r["id"].(string); other != id {
			others = append(others, other)
		}
	}
	if len(others) == 0 {
		return nil
	}
	sc.Logger.Warn().Strs("ids", others).Str("field", field.Name).Msg("concurrent writer flagged other rows, clearing")
	if _, err := sc.Repo.UpdateMany(ctx, sc.Collection.Name, Row{field.Name: false},
		repository.In("id", others)); err != nil {
		return fmt.Errorf("reconcile %s: %w", field.Name, err)
	}
	return nil
}

// SanitizeHTML strips active content from every html field before it is
// written.
type SanitizeHTML struct{}

func (SanitizeHTML) BeforeWrite(ctx context.Context, sc *SaveContext) error {
	for _, f := range sc.Collection.Fields {
		if f.Type != schema.TypeHTML {
			continue
		}
		s, ok := sc.Row[f.Name].(string)
		if !ok || s == "" {
			continue
		}
		clean, err := richtext.Sanitize(richtext.HTML(s))
		if err != nil {
			return fmt.Errorf("sanitize %s: %w", f.Name, err)
		}
		sc.Row[f.Name] = string(clean)
	}
	return nil
}

func (SanitizeHTML) AfterWrite(context.Context, *SaveContext, Row) error { return nil }

// DefaultHooks returns the hooks every editor of c should run.
func DefaultHooks(c *schema.Collection, sanitize bool) []SaveHook {
	var hooks []SaveHook
	if sanitize {
		hooks = append(hooks, SanitizeHTML{})
	}
	if c.FeaturedField() != nil {
		hooks = append(hooks, FeaturedInvariant{})
	}
	return hooks
}
