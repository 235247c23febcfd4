package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/med-core/patient-service/internal/client"
	"github.com/med-core/patient-service/internal/domain/diagnostic"
	"github.com/med-core/patient-service/internal/domain/patient"
	"github.com/med-core/patient-service/internal/service"
)

type APIResponse[T any] struct {
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// ErrorResponse is the failure envelope: every failure carries a
// human-readable message and never internal detail.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ValidationErrorResponse struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Message: message, Data: data})
}

func respondCreated(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Message: message, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Message: message})
}

func respondServiceError(c *gin.Context, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Message: "validation failed",
			Errors:  validErr.Fields,
		})
		return
	}

	// Downstream failures propagate the downstream's own status when one was
	// received, and a generic gateway status otherwise.
	var downstreamErr *client.DownstreamError
	if errors.As(err, &downstreamErr) {
		status := downstreamErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, ErrorResponse{Message: downstreamErr.Message})
		return
	}

	switch {
	case errors.Is(err, patient.ErrPatientNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})

	case errors.Is(err, patient.ErrPatientAlreadyExists):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error()})

	case errors.Is(err, patient.ErrInvalidStatus),
		errors.Is(err, patient.ErrInvalidDateOfBirth),
		errors.Is(err, diagnostic.ErrNoFiles),
		errors.Is(err, diagnostic.ErrTooManyFiles),
		errors.Is(err, diagnostic.ErrFileTooLarge),
		errors.Is(err, diagnostic.ErrFileTypeNotAllowed):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})

	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "access denied"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request: " + err.Error()})
		return false
	}

	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}
