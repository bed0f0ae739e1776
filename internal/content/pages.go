// Package content assembles the public pages from cached collection reads,
// falling back to a default record wherever an admin has not filled a
// value in.
package content

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

var ErrUnknownPage = errors.New("unknown page")

const (
	biographyQuotes = `tags != nil && "biography" in tags`
	charityQuotes   = `tags != nil && "charity" in tags`
)

// section is one block of a page backed by a single collection read.
type section struct {
	name       string
	collection string
	// filter, when set, is applied to the fetched rows.
	filter string
	query  repository.Query
	// discriminator separates cached reads of the same collection that use
	// different queries.
	discriminator string
}

var publishedInsights = section{
	name:       "insights",
	collection: "insights",
	query: repository.Query{
		Filters: []repository.Filter{repository.Eq("published", true)},
		Order:   []repository.Order{{Field: "is_featured", Desc: true}, {Field: "created_at", Desc: true}},
	},
	discriminator: "published",
}

func one(name, collection string) section { return section{name: name, collection: collection} }

var pages = map[string][]section{
	"home": {
		one("hero", "hero_content"),
		one("biography", "biography_content"),
		{name: "quotes", collection: "biography_quotes", filter: biographyQuotes},
		one("markets", "markets"),
		one("stats", "stats"),
		publishedInsights,
		one("achievements", "achievements"),
		one("charity_works", "charity_works"),
		one("cta", "newsletter_settings"),
		one("media", "media_settings"),
	},
	"biography": {
		one("biography", "biography_content"),
		{name: "quotes", collection: "biography_quotes", filter: biographyQuotes},
		one("milestones", "biography_milestones"),
		one("cta", "newsletter_settings"),
	},
	"markets": {
		one("markets", "markets"),
		one("stats", "stats"),
	},
	"insights": {
		publishedInsights,
	},
	"charity": {
		one("charity_works", "charity_works"),
		one("charity_quotes", "charity_quotes"),
		{name: "quotes", collection: "biography_quotes", filter: charityQuotes},
		one("stats", "stats"),
		one("media", "media_settings"),
		one("cta", "newsletter_settings"),
	},
	"interviews": {
		one("interviews", "interviews_content"),
		one("qa", "interviews_qa"),
		one("cta", "newsletter_settings"),
	},
	"contact": {
		one("contact", "contact_settings"),
		one("biography", "biography_content"),
		one("quotes", "biography_quotes"),
		one("cta", "newsletter_settings"),
	},
}

// Pages lists the page names Page accepts.
func Pages() []string {
	names := make([]string, 0, len(pages))
	for name := range pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Page is the data behind one public page. Singleton sections hold a Row,
// list sections a []Row.
type Page struct {
	Name     string         `json:"name"`
	Sections map[string]any `json:"sections"`
}

type Service struct {
	reg     *schema.Registry
	repo    repository.Repository
	cache   *cache.Cache
	filters *Filters
	siteURL string
	logger  zerolog.Logger
}

type Options struct {
	Registry *schema.Registry
	Repo     repository.Repository
	Cache    *cache.Cache
	// SiteURL prefixes canonical URLs.
	SiteURL string
	Logger  zerolog.Logger
}

func NewService(opts Options) *Service {
	return &Service{
		reg:     opts.Registry,
		repo:    opts.Repo,
		cache:   opts.Cache,
		filters: NewFilters(),
		siteURL: opts.SiteURL,
		logger:  opts.Logger.With().Str("component", "content").Logger(),
	}
}

// Page assembles the named page. Sections are read concurrently; a section
// whose read fails degrades to its defaults (singletons) or to an empty
// list, as the public site never fails a whole page over one block.
func (s *Service) Page(ctx context.Context, name string) (*Page, error) {
	sections, ok := pages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, name)
	}
	values := make([]any, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, sec := range sections {
		g.Go(func() error {
			v, err := s.section(gctx, sec)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn().Err(err).Str("page", name).Str("section", sec.name).Msg("section read failed, using fallback")
				v = s.fallback(sec)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &Page{Name: name, Sections: make(map[string]any, len(sections))}
	for i, sec := range sections {
		page.Sections[sec.name] = values[i]
	}
	return page, nil
}

func (s *Service) shape(collection string) schema.Shape {
	if c := s.reg.Get(collection); c != nil {
		return c.Shape
	}
	return schema.List
}

func (s *Service) fallback(sec section) any {
	if s.shape(sec.collection) == schema.Singleton {
		return Resolve(sec.collection, nil)
	}
	return []Row{}
}

func (s *Service) section(ctx context.Context, sec section) (any, error) {
	if s.shape(sec.collection) == schema.Singleton {
		return s.Singleton(ctx, sec.collection)
	}
	rows, err := s.list(ctx, sec)
	if err != nil {
		return nil, err
	}
	rows, err = s.filters.Apply(sec.filter, rows)
	if err != nil {
		return nil, err
	}
	return resolveAll(rows), nil
}

// Singleton returns the resolved record of a singleton collection.
func (s *Service) Singleton(ctx context.Context, collection string) (Row, error) {
	res := s.cache.Query(ctx, cache.Public(collection), func(ctx context.Context) (any, error) {
		row, err := s.repo.FetchOne(ctx, collection)
		if errors.Is(err, repository.ErrNotFound) {
			return Row(nil), nil
		}
		return row, err
	})
	if res.IsError {
		return nil, res.Err
	}
	row, _ := cache.Value[Row](res)
	return Resolve(collection, row), nil
}

func (s *Service) list(ctx context.Context, sec section) ([]Row, error) {
	key := cache.Public(sec.collection).With(sec.discriminator)
	res := s.cache.Query(ctx, key, func(ctx context.Context) (any, error) {
		return s.repo.FetchMany(ctx, sec.collection, sec.query)
	})
	if res.IsError {
		return nil, res.Err
	}
	rows, _ := cache.Value[[]Row](res)
	return rows, nil
}

// Insights returns the published insights, featured first then newest.
func (s *Service) Insights(ctx context.Context) ([]Row, error) {
	rows, err := s.list(ctx, publishedInsights)
	if err != nil {
		return nil, err
	}
	return resolveAll(rows), nil
}

// Insight returns one published insight.
func (s *Service) Insight(ctx context.Context, id string) (Row, error) {
	row, err := s.detail(ctx, "insights", id)
	if err != nil {
		return nil, err
	}
	if row["published"] != true {
		return nil, &repository.NotFoundError{Collection: "insights", ID: id}
	}
	return row, nil
}

// Market returns one market with its page content.
func (s *Service) Market(ctx context.Context, id string) (Row, error) {
	return s.detail(ctx, "markets", id)
}

func (s *Service) detail(ctx context.Context, collection, id string) (Row, error) {
	res := s.cache.Query(ctx, cache.Public(collection).With(id), func(ctx context.Context) (any, error) {
		return s.repo.FetchOne(ctx, collection, repository.Eq("id", id))
	})
	if res.IsError {
		return nil, res.Err
	}
	row, _ := cache.Value[Row](res)
	return resolveAll([]Row{row})[0], nil
}
