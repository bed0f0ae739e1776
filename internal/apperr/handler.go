package apperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

// From maps a domain error to its HTTP envelope. It returns nil for errors
// with no public rendering.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		details := make([]ErrorDetail, len(verr.Fields))
		for i, f := range verr.Fields {
			details[i] = ErrorDetail{Field: f.Field, Rule: f.Rule, Message: f.Message}
		}
		return Validation(details)
	}

	var nf *repository.NotFoundError
	if errors.As(err, &nf) {
		return NotFound(nf.Collection, nf.ID)
	}
	if errors.Is(err, repository.ErrUnknownCollection) {
		return New("UNKNOWN_COLLECTION", 404, err.Error())
	}

	switch repository.KindOf(err) {
	case repository.KindConstraint:
		return Conflict("The change conflicts with existing content")
	case repository.KindNetwork, repository.KindAuth, repository.KindUnknown:
		return Backend("The content backend request failed")
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return New("HTTP_ERROR", fiberErr.Code, fiberErr.Message)
	}
	return nil
}

// ErrorHandler renders every error returned by a handler as an ErrorResponse.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if appErr := From(err); appErr != nil {
			if appErr.Status >= 500 {
				logger.Error().Err(err).Str("path", c.Path()).Msg("backend error")
			}
			return Respond(c, appErr)
		}

		logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		return Respond(c, &AppError{
			Code:    "INTERNAL_ERROR",
			Status:  fiber.StatusInternalServerError,
			Message: "Internal server error",
		})
	}
}
