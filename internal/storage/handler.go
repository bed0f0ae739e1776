package storage

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"portfolio-cms/internal/apperr"
)

const defaultMaxSize = 10 << 20

var imageExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Handler accepts image uploads for image_url fields.
type Handler struct {
	storage FileStorage
	maxSize int64
	logger  zerolog.Logger
}

func NewHandler(fs FileStorage, maxSize int64, logger zerolog.Logger) *Handler {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Handler{
		storage: fs,
		maxSize: maxSize,
		logger:  logger.With().Str("component", "storage").Logger(),
	}
}

// Upload handles a multipart "file" upload and responds with the public URL.
func (h *Handler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return apperr.InvalidPayload("Missing file in form data")
	}
	if file.Size > h.maxSize {
		msg := fmt.Sprintf("File too large: %d bytes (max %d)", file.Size, h.maxSize)
		return apperr.New("FILE_TOO_LARGE", 413, msg)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		head := make([]byte, 512)
		n, _ := src.Read(head)
		mimeType = http.DetectContentType(head[:n])
		if _, err := src.Seek(0, 0); err != nil {
			return fmt.Errorf("rewind upload: %w", err)
		}
	}
	mimeType = strings.TrimSpace(strings.Split(mimeType, ";")[0])
	ext, ok := imageExtensions[mimeType]
	if !ok {
		return apperr.New("UNSUPPORTED_MEDIA_TYPE", 415, "Only image uploads are accepted")
	}

	key := path.Join("images", uuid.NewString()+ext)
	if err := h.storage.Save(c.Context(), key, mimeType, src); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("upload failed")
		return apperr.Backend("Could not store the uploaded file")
	}

	url := h.storage.URL(key)
	h.logger.Info().Str("key", key).Int64("size", file.Size).Msg("file uploaded")
	return c.Status(201).JSON(fiber.Map{
		"data": fiber.Map{
			"key":       key,
			"filename":  file.Filename,
			"size":      file.Size,
			"mime_type": mimeType,
			"url":       url,
		},
	})
}

// Remove deletes an uploaded object by key.
func (h *Handler) Remove(c *fiber.Ctx) error {
	key := strings.TrimPrefix(c.Params("*"), "/")
	if key == "" {
		return apperr.InvalidPayload("Missing file key")
	}
	err := h.storage.Delete(c.Context(), key)
	if errors.Is(err, ErrInvalidKey) {
		return apperr.InvalidPayload(err.Error())
	}
	if err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("delete failed")
		return apperr.Backend("Could not delete the file")
	}
	return c.SendStatus(204)
}
