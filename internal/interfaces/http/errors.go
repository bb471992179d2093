package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// Stable error codes returned in Response.Code
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeInvalidState = "invalid_state"
	CodeConflict     = "conflict"
	CodeInternal     = "internal_error"
)

// statusFor maps an error kind onto an HTTP status and code
func statusFor(err error) (int, string) {
	switch entity.ErrorKind(err) {
	case entity.ErrValidation:
		return http.StatusBadRequest, CodeValidation
	case entity.ErrNotFound:
		return http.StatusNotFound, CodeNotFound
	case entity.ErrUnauthorized:
		return http.StatusForbidden, CodeUnauthorized
	case entity.ErrInvalidState:
		return http.StatusConflict, CodeInvalidState
	case entity.ErrConflict:
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// fail writes err in the response envelope. Errors outside the taxonomy are
// logged and hidden behind a generic message.
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status, code := statusFor(err)
	message := err.Error()

	var domainErr *entity.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "path", c.Request.URL.Path, "error", err)
		message = op + " failed"
	}

	c.JSON(status, Response{
		Success: false,
		Code:    code,
		Error:   message,
	})
}

func (h *Handlers) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Code:    CodeValidation,
		Error:   message,
	})
}
