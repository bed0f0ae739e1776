package public

import (
	"context"
	"net/mail"
	"strings"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

const (
	newsletterCollection = "newsletter_subscriptions"
	contactCollection    = "contact_submissions"
)

// Forms stores submissions from the public newsletter and contact forms.
type Forms struct {
	reg     *schema.Registry
	repo    repository.Repository
	cache   *cache.Cache
	metrics *metrics.Metrics
}

func NewForms(reg *schema.Registry, repo repository.Repository, c *cache.Cache, m *metrics.Metrics) *Forms {
	return &Forms{reg: reg, repo: repo, cache: c, metrics: m}
}

// Subscribe validates email and stores the subscription. Validation errors
// are returned before any backend call.
func (f *Forms) Subscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	row, err := f.prepare(newsletterCollection, repository.Row{"email": email})
	if err == nil {
		_, err = f.repo.Insert(ctx, newsletterCollection, row)
	}
	f.record("newsletter", err)
	if err == nil {
		f.cache.Invalidate(cache.Collection(newsletterCollection))
	}
	return err
}

// Contact is one contact form submission.
type Contact struct {
	Name    string `json:"name" form:"name"`
	Email   string `json:"email" form:"email"`
	Subject string `json:"subject" form:"subject"`
	Message string `json:"message" form:"message"`
}

// SubmitContact validates and stores a contact form submission.
func (f *Forms) SubmitContact(ctx context.Context, in Contact) (repository.Row, error) {
	row, err := f.prepare(contactCollection, repository.Row{
		"name":    strings.TrimSpace(in.Name),
		"email":   strings.TrimSpace(in.Email),
		"subject": strings.TrimSpace(in.Subject),
		"message": strings.TrimSpace(in.Message),
	})
	var saved repository.Row
	if err == nil {
		saved, err = f.repo.Insert(ctx, contactCollection, row)
	}
	f.record("contact", err)
	if err != nil {
		return nil, err
	}
	f.cache.Invalidate(cache.Collection(contactCollection))
	return saved, nil
}

func (f *Forms) prepare(collection string, row repository.Row) (repository.Row, error) {
	c := f.reg.Get(collection)
	if c == nil {
		return nil, repository.ErrUnknownCollection
	}
	row, err := c.Coerce(row)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(row); err != nil {
		return nil, err
	}
	verr := &schema.ValidationError{Collection: collection}
	for _, field := range c.Fields {
		if field.Type != schema.TypeEmail {
			continue
		}
		if s, _ := row[field.Name].(string); s != "" && !validEmail(s) {
			verr.Add(field.Name, "email", field.Name+" must be a valid email address")
		}
	}
	if verr.HasErrors() {
		return nil, verr
	}
	return row, nil
}

func (f *Forms) record(form string, err error) {
	if f.metrics != nil {
		f.metrics.Submissions.WithLabelValues(form, metrics.Outcome(err)).Inc()
	}
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}
