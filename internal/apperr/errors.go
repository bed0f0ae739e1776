// Package apperr defines the JSON error envelope returned by every HTTP handler.
package apperr

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func New(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFound(what, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", what, id),
	}
}

func UnknownCollection(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_COLLECTION",
		Status:  404,
		Message: fmt.Sprintf("Unknown collection: %s", name),
	}
}

func Validation(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func InvalidPayload(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func Unauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func Forbidden(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func Conflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

func Backend(msg string) *AppError {
	return &AppError{Code: "BACKEND_ERROR", Status: 502, Message: msg}
}

func RateLimited() *AppError {
	return &AppError{Code: "RATE_LIMITED", Status: 429, Message: "Too many requests"}
}

// StatusOf reports the HTTP status an error will be rendered with.
func StatusOf(err error) int {
	if appErr := From(err); appErr != nil {
		return appErr.Status
	}
	return fiber.StatusInternalServerError
}

// Respond writes the error envelope directly.
func Respond(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}
