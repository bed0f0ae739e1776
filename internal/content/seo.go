package content

import (
	"context"
	"errors"
	"strings"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/repository"
)

// Override carries page-specific values that win over page_metadata.
type Override struct {
	Title       string `query:"title"`
	Description string `query:"description"`
	Image       string `query:"image"`
	Type        string `query:"type"`
}

// Meta is the resolved head metadata of one public path.
type Meta struct {
	Path               string `json:"path"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	Image              string `json:"image"`
	Type               string `json:"type"`
	SiteName           string `json:"site_name"`
	Canonical          string `json:"canonical"`
	TwitterHandle      string `json:"twitter_handle,omitempty"`
	GoogleVerification string `json:"google_site_verification,omitempty"`
	GAMeasurementID    string `json:"ga_measurement_id,omitempty"`
	ClarityID          string `json:"clarity_id,omitempty"`
}

// SEO resolves the metadata for path. Each value falls back from the
// override to the page_metadata row for path, then to the global settings
// and finally to the site defaults.
func (s *Service) SEO(ctx context.Context, path string, o Override) (Meta, error) {
	if path == "" {
		path = "/"
	}
	global, err := s.Singleton(ctx, "seo_settings")
	if err != nil {
		s.logger.Warn().Err(err).Msg("seo settings read failed, using defaults")
		global = Resolve("seo_settings", nil)
	}
	page, err := s.pageMetadata(ctx, path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("page metadata read failed")
		page = nil
	}

	siteName := first(str(global, "site_name"), DefaultSiteName)
	m := Meta{
		Path:               path,
		SiteName:           siteName,
		Title:              first(o.Title, str(page, "title"), siteName),
		Description:        first(o.Description, str(page, "description"), DefaultDescription),
		Image:              ResolveImageURL(first(o.Image, str(page, "og_image"), str(global, "default_og_image"), DefaultImage)),
		Type:               first(o.Type, "website"),
		Canonical:          s.canonical(path),
		TwitterHandle:      strings.TrimPrefix(str(global, "twitter_handle"), "@"),
		GoogleVerification: str(global, "google_search_console_id"),
		GAMeasurementID:    str(global, "ga_measurement_id"),
		ClarityID:          str(global, "clarity_id"),
	}
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func (s *Service) canonical(path string) string {
	base := strings.TrimSuffix(s.siteURL, "/")
	if path == "/" {
		return base
	}
	return base + path
}

func (s *Service) pageMetadata(ctx context.Context, path string) (Row, error) {
	res := s.cache.Query(ctx, cache.PageMetadata(path), func(ctx context.Context) (any, error) {
		row, err := s.repo.FetchOne(ctx, "page_metadata", repository.Eq("page_path", path))
		if errors.Is(err, repository.ErrNotFound) {
			return Row(nil), nil
		}
		return row, err
	})
	if res.IsError {
		return nil, res.Err
	}
	row, _ := cache.Value[Row](res)
	return row, nil
}

func str(row Row, field string) string {
	s, _ := row[field].(string)
	return strings.TrimSpace(s)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
