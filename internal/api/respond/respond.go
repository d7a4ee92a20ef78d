// Package respond holds the helpers shared by every HTTP handler: error
// envelope rendering, UUID path-parameter parsing, and cursor pagination
// query parsing.
package respond

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
)

// Error writes err as the {error, message, details} envelope with the status
// mapped from its kind. Unclassified errors render as a generic internal
// error; the cause is logged, never leaked.
func Error(c *gin.Context, err error) {
	status := apperrors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()))
	}
	c.JSON(status, apperrors.ToEnvelope(err))
}

// UUIDParam parses the named path parameter as a UUID, writing a validation
// error response on failure.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		Error(c, apperrors.Validation("invalid identifier", map[string]any{
			"param": name,
			"value": c.Param(name),
		}))
		return uuid.Nil, false
	}
	return id, true
}

// PageRequest parses the limit, cursor, and direction query parameters.
// Limits are clamped later by each repository's Normalize call.
func PageRequest(c *gin.Context) (repositories.PageRequest, bool) {
	var req repositories.PageRequest

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			Error(c, apperrors.Validation("limit must be a positive integer", map[string]any{
				"limit": raw,
			}))
			return req, false
		}
		req.Limit = limit
	}

	if token := c.Query("cursor"); token != "" {
		cursor, err := repositories.DecodeCursor(token)
		if err != nil {
			Error(c, err)
			return req, false
		}
		req.Cursor = cursor
	}

	if dir := c.Query("direction"); dir == string(repositories.DirectionPrev) {
		req.Direction = repositories.DirectionPrev
	}

	return req, true
}
