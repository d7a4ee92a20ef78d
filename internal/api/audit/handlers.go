// Package audit exposes the read-only audit trail endpoints.
package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/api/respond"
	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
)

// Handlers serves /v1/audit.
type Handlers struct {
	db *sqlx.DB
}

// NewHandlers creates the audit handlers.
func NewHandlers(db *sqlx.DB) *Handlers {
	return &Handlers{db: db}
}

// List handles GET /v1/audit with entity, actor, and time-window filters.
// Timestamps are RFC 3339.
func (h *Handlers) List(c *gin.Context) {
	req, ok := respond.PageRequest(c)
	if !ok {
		return
	}

	var filters repositories.AuditFilters
	if raw := c.Query("entity_type"); raw != "" {
		filters.EntityType = &raw
	}
	if raw := c.Query("entity_id"); raw != "" {
		filters.EntityID = &raw
	}
	if raw := c.Query("action"); raw != "" {
		filters.Action = &raw
	}
	if raw := c.Query("performed_by"); raw != "" {
		filters.PerformedBy = &raw
	}

	since, ok := timeQuery(c, "since")
	if !ok {
		return
	}
	filters.Since = since

	until, ok := timeQuery(c, "until")
	if !ok {
		return
	}
	filters.Until = until

	page, err := repositories.NewAuditRepository(h.db).List(c.Request.Context(), filters, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get handles GET /v1/audit/:id.
func (h *Handlers) Get(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}

	entry, err := repositories.NewAuditRepository(h.db).GetByID(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if entry == nil {
		respond.Error(c, apperrors.NotFound("audit entry not found", map[string]any{"audit_id": id.String()}))
		return
	}
	c.JSON(http.StatusOK, entry)
}

func timeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respond.Error(c, apperrors.Validation(name+" must be an RFC 3339 timestamp", map[string]any{
			name: raw,
		}))
		return nil, false
	}
	return &t, true
}
