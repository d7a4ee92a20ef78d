// Package manifests exposes the read-only publication record endpoints
// runtime evaluators and operators use to discover artifacts.
package manifests

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/api/respond"
	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// Handlers serves /v1/manifests.
type Handlers struct {
	db *sqlx.DB
}

// NewHandlers creates the manifest handlers.
func NewHandlers(db *sqlx.DB) *Handlers {
	return &Handlers{db: db}
}

type target struct {
	environment string
	region      string
	country     string
	ruleType    domain.RuleType
}

// targetQuery reads the four query parameters that identify a publication
// target. All four are required.
func targetQuery(c *gin.Context) (target, bool) {
	t := target{
		environment: c.Query("environment"),
		region:      c.Query("region"),
		country:     c.Query("country"),
		ruleType:    domain.RuleType(c.Query("rule_type")),
	}
	if t.environment == "" || t.region == "" || t.country == "" || c.Query("rule_type") == "" {
		respond.Error(c, apperrors.Validation("environment, region, country, and rule_type are required", nil))
		return t, false
	}
	if !t.ruleType.Valid() {
		respond.Error(c, apperrors.Validation("unknown rule type", map[string]any{
			"rule_type": c.Query("rule_type"),
		}))
		return t, false
	}
	return t, true
}

// Latest handles GET /v1/manifests/latest: the newest manifest for a target,
// i.e. what the mutable pointer should reference.
func (h *Handlers) Latest(c *gin.Context) {
	t, ok := targetQuery(c)
	if !ok {
		return
	}

	manifest, err := repositories.NewManifestRepository(h.db).GetLatest(
		c.Request.Context(), t.environment, t.region, t.country, t.ruleType)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if manifest == nil {
		respond.Error(c, apperrors.NotFound("no manifest published for target", map[string]any{
			"environment": t.environment,
			"region":      t.region,
			"country":     t.country,
			"rule_type":   string(t.ruleType),
		}))
		return
	}
	c.JSON(http.StatusOK, manifest)
}

// GetByVersion handles GET /v1/manifests/versions/:version for a target.
func (h *Handlers) GetByVersion(c *gin.Context) {
	t, ok := targetQuery(c)
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		respond.Error(c, apperrors.Validation("version must be a positive integer", map[string]any{
			"version": c.Param("version"),
		}))
		return
	}

	manifest, err := repositories.NewManifestRepository(h.db).GetByVersion(
		c.Request.Context(), t.environment, t.region, t.country, t.ruleType, version)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if manifest == nil {
		respond.Error(c, apperrors.NotFound("manifest not found for target version", map[string]any{
			"environment": t.environment,
			"region":      t.region,
			"country":     t.country,
			"rule_type":   string(t.ruleType),
			"version":     version,
		}))
		return
	}
	c.JSON(http.StatusOK, manifest)
}

// List handles GET /v1/manifests with optional target filters.
func (h *Handlers) List(c *gin.Context) {
	req, ok := respond.PageRequest(c)
	if !ok {
		return
	}

	var filters repositories.ManifestFilters
	if raw := c.Query("environment"); raw != "" {
		filters.Environment = &raw
	}
	if raw := c.Query("region"); raw != "" {
		filters.Region = &raw
	}
	if raw := c.Query("country"); raw != "" {
		filters.Country = &raw
	}
	if raw := c.Query("rule_type"); raw != "" {
		rt := domain.RuleType(raw)
		if !rt.Valid() {
			respond.Error(c, apperrors.Validation("unknown rule type", map[string]any{"rule_type": raw}))
			return
		}
		filters.RuleType = &rt
	}

	page, err := repositories.NewManifestRepository(h.db).List(c.Request.Context(), filters, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get handles GET /v1/manifests/:id.
func (h *Handlers) Get(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}

	manifest, err := repositories.NewManifestRepository(h.db).GetByID(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if manifest == nil {
		respond.Error(c, apperrors.NotFound("manifest not found", map[string]any{"manifest_id": id.String()}))
		return
	}
	c.JSON(http.StatusOK, manifest)
}
