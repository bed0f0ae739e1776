package admin

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"portfolio-cms/internal/apperr"
	"portfolio-cms/internal/editor"
	"portfolio-cms/internal/repository"
)

var (
	errNoDialog = errors.New("no dialog is open")
	errReadOnly = errors.New("rows of this collection cannot be edited")
)

type listResponse struct {
	Section  Section          `json:"section"`
	Items    []repository.Row `json:"items"`
	Selected []string         `json:"selected"`
	Pending  bool             `json:"pending"`
	Dialog   *dialogView      `json:"dialog,omitempty"`
}

type dialogView struct {
	formView
	IsNew bool `json:"is_new"`
}

func (h *Handler) list(c *fiber.Ctx) (*ListView, error) {
	w, err := h.workspace(c)
	if err != nil {
		return nil, err
	}
	lv, err := w.List(c.UserContext(), c.Params("collection"))
	return lv, mapError(err)
}

// refresh brings the list up to date with a write this request just made.
// The write already succeeded, so a failed reload keeps the previous rows.
func (h *Handler) refresh(c *fiber.Ctx, lv *ListView) {
	if _, err := lv.Editor.Refresh(c.UserContext()); err != nil {
		h.workspaces.logger.Warn().Err(err).
			Str("collection", lv.Section.Collection).
			Msg("list refresh after write failed")
	}
}

func listOf(lv *ListView) listResponse {
	resp := listResponse{
		Section:  lv.Section,
		Items:    lv.Editor.Items(),
		Selected: lv.Selection.Selected(),
		Pending:  lv.Selection.IsPending(),
	}
	if resp.Selected == nil {
		resp.Selected = []string{}
	}
	if d := lv.Editor.Dialog(); d != nil {
		resp.Dialog = &dialogView{formView: viewOf(d), IsNew: d.IsNew()}
	}
	return resp
}

// GetList handles GET /api/admin/lists/:collection.
func (h *Handler) GetList(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	if _, err := lv.Editor.Refresh(c.UserContext()); err != nil {
		return mapError(err)
	}
	return data(c, listOf(lv))
}

// OpenDialog handles POST /api/admin/lists/:collection/dialog. A body with
// an id opens that row for editing; an empty body opens the add dialog.
func (h *Handler) OpenDialog(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	if lv.Section.ReadOnly {
		return mapError(errReadOnly)
	}
	var body struct {
		ID string `json:"id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return apperr.InvalidPayload("Invalid request body")
		}
	}

	var d *editor.Dialog
	if body.ID == "" {
		if lv.Section.NoCreate {
			return apperr.InvalidPayload("New rows cannot be added to " + lv.Section.Collection)
		}
		d = lv.Editor.OpenCreate()
	} else if d, err = lv.Editor.OpenEdit(c.UserContext(), body.ID); err != nil {
		return mapError(err)
	}
	return data(c, dialogView{formView: viewOf(d), IsNew: d.IsNew()})
}

func openDialog(lv *ListView) (*editor.Dialog, error) {
	d := lv.Editor.Dialog()
	if d == nil {
		return nil, errNoDialog
	}
	return d, nil
}

// PatchDialog handles PATCH /api/admin/lists/:collection/dialog.
func (h *Handler) PatchDialog(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	d, err := openDialog(lv)
	if err != nil {
		return mapError(err)
	}
	return patch(c, d)
}

// SaveDialog handles POST /api/admin/lists/:collection/dialog/save. The
// dialog closes on success and stays open with its draft on failure.
func (h *Handler) SaveDialog(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	d, err := openDialog(lv)
	if err != nil {
		return mapError(err)
	}
	saved, err := d.Save(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	h.refresh(c, lv)
	return data(c, saved)
}

// CloseDialog handles DELETE /api/admin/lists/:collection/dialog.
func (h *Handler) CloseDialog(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	lv.Editor.CloseDialog()
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteItem handles DELETE /api/admin/lists/:collection/items/:id.
func (h *Handler) DeleteItem(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	if err := lv.Editor.Delete(c.UserContext(), c.Params("id")); err != nil {
		return mapError(err)
	}
	h.refresh(c, lv)
	return c.SendStatus(fiber.StatusNoContent)
}

// Duplicate handles POST /api/admin/lists/:collection/items/:id/duplicate.
func (h *Handler) Duplicate(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	if lv.Section.ReadOnly || lv.Section.NoCreate {
		return mapError(errReadOnly)
	}
	row, err := lv.Selection.Duplicate(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	h.refresh(c, lv)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": row})
}

// ToggleSelect handles POST /api/admin/lists/:collection/selection/toggle.
func (h *Handler) ToggleSelect(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := c.BodyParser(&body); err != nil || body.ID == "" {
		return apperr.InvalidPayload("id is required")
	}
	lv.Selection.ToggleSelect(body.ID)
	return data(c, listOf(lv))
}

// ToggleSelectAll handles POST /api/admin/lists/:collection/selection/toggle-all
// against the rows currently listed.
func (h *Handler) ToggleSelectAll(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	h.refresh(c, lv)
	lv.Selection.ToggleSelectAll(lv.Editor.IDs())
	return data(c, listOf(lv))
}

// BulkDelete handles POST /api/admin/lists/:collection/selection/delete.
func (h *Handler) BulkDelete(c *fiber.Ctx) error {
	lv, err := h.list(c)
	if err != nil {
		return err
	}
	if err := lv.Selection.BulkDelete(c.UserContext()); err != nil {
		return mapError(err)
	}
	h.refresh(c, lv)
	return data(c, listOf(lv))
}

// UpdateMedia handles PUT /api/admin/media/:key with {"url": ...}.
func (h *Handler) UpdateMedia(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	var body struct {
		URL *string `json:"url"`
	}
	if err := c.BodyParser(&body); err != nil || body.URL == nil {
		return apperr.InvalidPayload("url is required")
	}
	row, err := w.UpdateMedia(c.UserContext(), c.Params("key"), *body.URL)
	if err != nil {
		return mapError(err)
	}
	return data(c, row)
}
