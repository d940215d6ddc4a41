package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/processlog/eventlog/pkg/models"
	"github.com/processlog/eventlog/pkg/store"
)

// writeError maps a store/validation error to an HTTP status and JSON body,
// following the teacher's mapServiceError pattern (pkg/api/errors.go) but
// against gin.Context instead of echo.
func writeError(c *gin.Context, err error) {
	var validErr *models.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error(), "fields": validErr.Fields})
		return
	}
	if errors.Is(err, models.ErrValidationFailed) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	if errors.Is(err, store.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "resource already exists"})
		return
	}

	slog.Error("unexpected store error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// writeValidationError reports a per-item ValidateEventInput failure as a
// 400 with the full field-error list (spec.md §4.4), not just the first.
func writeValidationError(c *gin.Context, err error, index int) {
	var validErr *models.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error(), "fields": validErr.Fields, "index": index})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": index})
}
