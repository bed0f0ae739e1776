// Package public serves the anonymous site API: assembled pages, SEO
// metadata, insight and market details, and the newsletter and contact forms.
package public

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"portfolio-cms/internal/apperr"
	"portfolio-cms/internal/content"
	"portfolio-cms/internal/schema"
)

type Handler struct {
	content *content.Service
	forms   *Forms
	logger  zerolog.Logger
}

func NewHandler(svc *content.Service, forms *Forms, logger zerolog.Logger) *Handler {
	return &Handler{
		content: svc,
		forms:   forms,
		logger:  logger.With().Str("component", "public").Logger(),
	}
}

// Page handles GET /api/pages/:page.
func (h *Handler) Page(c *fiber.Ctx) error {
	page, err := h.content.Page(c.UserContext(), c.Params("page"))
	if errors.Is(err, content.ErrUnknownPage) {
		return apperr.New("NOT_FOUND", 404, "Unknown page: "+c.Params("page"))
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": page})
}

// SEO handles GET /api/seo?path=/contact.
func (h *Handler) SEO(c *fiber.Ctx) error {
	var o content.Override
	if err := c.QueryParser(&o); err != nil {
		return apperr.InvalidPayload("Invalid query parameters")
	}
	meta, err := h.content.SEO(c.UserContext(), c.Query("path", "/"), o)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": meta})
}

// Insights handles GET /api/insights.
func (h *Handler) Insights(c *fiber.Ctx) error {
	rows, err := h.content.Insights(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rows})
}

// Insight handles GET /api/insights/:id.
func (h *Handler) Insight(c *fiber.Ctx) error {
	row, err := h.content.Insight(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// Market handles GET /api/markets/:id.
func (h *Handler) Market(c *fiber.Ctx) error {
	row, err := h.content.Market(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// Newsletter handles POST /api/newsletter. Backend failures are logged and
// the visitor still sees a success response.
func (h *Handler) Newsletter(c *fiber.Ctx) error {
	var body struct {
		Email string `json:"email" form:"email"`
	}
	if err := c.BodyParser(&body); err != nil {
		return apperr.InvalidPayload("Invalid request body")
	}

	err := h.forms.Subscribe(c.UserContext(), body.Email)
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("newsletter signup failed")
	}
	return c.Status(201).JSON(fiber.Map{"message": "Thank you for subscribing!"})
}

// Contact handles POST /api/contact.
func (h *Handler) Contact(c *fiber.Ctx) error {
	var body Contact
	if err := c.BodyParser(&body); err != nil {
		return apperr.InvalidPayload("Invalid request body")
	}
	if _, err := h.forms.SubmitContact(c.UserContext(), body); err != nil {
		h.logger.Warn().Err(err).Msg("contact submission rejected")
		return err
	}
	return c.Status(201).JSON(fiber.Map{"message": "Thank you for your message. We will get back to you soon."})
}

// RegisterRoutes mounts the public API. limit, when set, guards the form
// endpoints.
func RegisterRoutes(app *fiber.App, h *Handler, limit fiber.Handler) {
	api := app.Group("/api")
	api.Get("/pages/:page", h.Page)
	api.Get("/seo", h.SEO)
	api.Get("/insights", h.Insights)
	api.Get("/insights/:id", h.Insight)
	api.Get("/markets/:id", h.Market)

	post := func(path string, handler fiber.Handler) {
		if limit != nil {
			api.Post(path, limit, handler)
			return
		}
		api.Post(path, handler)
	}
	post("/newsletter", h.Newsletter)
	post("/contact", h.Contact)
}
