package admin

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"portfolio-cms/internal/apperr"
	"portfolio-cms/internal/auth"
	"portfolio-cms/internal/editor"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/selection"
)

type Handler struct {
	workspaces *Manager
	uploads    fiber.Handler
}

// NewHandler serves the admin API. uploads, when set, handles POST /uploads.
func NewHandler(m *Manager, uploads fiber.Handler) *Handler {
	return &Handler{workspaces: m, uploads: uploads}
}

// RegisterRoutes mounts the admin API under /api/admin behind guards.
func RegisterRoutes(app *fiber.App, h *Handler, guards ...fiber.Handler) {
	admin := app.Group("/api/admin", guards...)

	admin.Get("/tabs", h.ListTabs)
	admin.Post("/tabs/:tab", h.SelectTab)
	admin.Get("/notifications", h.Notifications)

	admin.Get("/singletons/:collection", h.GetSingleton)
	admin.Patch("/singletons/:collection", h.PatchSingleton)
	admin.Post("/singletons/:collection/save", h.SaveSingleton)

	admin.Get("/lists/:collection", h.GetList)
	admin.Post("/lists/:collection/dialog", h.OpenDialog)
	admin.Patch("/lists/:collection/dialog", h.PatchDialog)
	admin.Post("/lists/:collection/dialog/save", h.SaveDialog)
	admin.Delete("/lists/:collection/dialog", h.CloseDialog)
	admin.Delete("/lists/:collection/items/:id", h.DeleteItem)
	admin.Post("/lists/:collection/items/:id/duplicate", h.Duplicate)
	admin.Post("/lists/:collection/selection/toggle", h.ToggleSelect)
	admin.Post("/lists/:collection/selection/toggle-all", h.ToggleSelectAll)
	admin.Post("/lists/:collection/selection/delete", h.BulkDelete)

	admin.Put("/media/:key", h.UpdateMedia)
	if h.uploads != nil {
		admin.Post("/uploads", h.uploads)
	}
}

// OnLogout drops the workspace of a user who signed out.
func (h *Handler) OnLogout(userID string) {
	h.workspaces.Evict(userID)
}

func (h *Handler) workspace(c *fiber.Ctx) (*Workspace, error) {
	user := auth.GetUser(c)
	if user == nil {
		return nil, apperr.Unauthorized("Missing auth token")
	}
	return h.workspaces.Get(user.ID), nil
}

// mapError renders controller errors that have no generic envelope.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownTab), errors.Is(err, ErrUnknownCollection):
		return apperr.New("NOT_FOUND", 404, err.Error())
	case errors.Is(err, editor.ErrUnknownField), errors.Is(err, editor.ErrReadOnlyField),
		errors.Is(err, editor.ErrWrongShape), errors.Is(err, editor.ErrNotRichText):
		return apperr.InvalidPayload(err.Error())
	case errors.Is(err, editor.ErrDialogClosed), errors.Is(err, selection.ErrPending),
		errors.Is(err, ErrWorkspaceClosed), errors.Is(err, errNoDialog), errors.Is(err, errReadOnly):
		return apperr.Conflict(err.Error())
	}
	return err
}

func data(c *fiber.Ctx, v any) error {
	return c.JSON(fiber.Map{"data": v})
}

type tabsResponse struct {
	Tabs   []Tab  `json:"tabs"`
	Active string `json:"active"`
}

// ListTabs handles GET /api/admin/tabs.
func (h *Handler) ListTabs(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	return data(c, tabsResponse{Tabs: Tabs(), Active: w.Active().Name})
}

// SelectTab handles POST /api/admin/tabs/:tab.
func (h *Handler) SelectTab(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	if err := w.Select(c.Params("tab")); err != nil {
		return mapError(err)
	}
	return data(c, tabsResponse{Tabs: Tabs(), Active: w.Active().Name})
}

// Notifications handles GET /api/admin/notifications. Returned
// notifications are removed from the queue.
func (h *Handler) Notifications(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	return data(c, w.Notifications())
}

type formView struct {
	Draft  repository.Row `json:"draft"`
	State  editor.State   `json:"state"`
	Error  string         `json:"error,omitempty"`
	Exists bool           `json:"exists"`
}

type form interface {
	Draft() repository.Row
	State() editor.State
	Err() error
	SetField(name string, value any) error
}

func viewOf(f form) formView {
	v := formView{Draft: f.Draft(), State: f.State()}
	if err := f.Err(); err != nil {
		v.Error = err.Error()
	}
	id, _ := v.Draft["id"].(string)
	v.Exists = id != ""
	return v
}

func patch(c *fiber.Ctx, f form) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return apperr.InvalidPayload("Invalid request body")
	}
	for name, value := range body {
		if err := f.SetField(name, value); err != nil {
			return mapError(err)
		}
	}
	return data(c, viewOf(f))
}

// GetSingleton handles GET /api/admin/singletons/:collection.
func (h *Handler) GetSingleton(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	ed, _, err := w.Singleton(c.UserContext(), c.Params("collection"))
	if err != nil {
		return mapError(err)
	}
	return data(c, viewOf(ed))
}

// PatchSingleton handles PATCH /api/admin/singletons/:collection with a
// JSON object of field values.
func (h *Handler) PatchSingleton(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	ed, _, err := w.Singleton(c.UserContext(), c.Params("collection"))
	if err != nil {
		return mapError(err)
	}
	return patch(c, ed)
}

// SaveSingleton handles POST /api/admin/singletons/:collection/save.
func (h *Handler) SaveSingleton(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	ed, _, err := w.Singleton(c.UserContext(), c.Params("collection"))
	if err != nil {
		return mapError(err)
	}
	if _, err := ed.Save(c.UserContext()); err != nil {
		return mapError(err)
	}
	return data(c, viewOf(ed))
}
