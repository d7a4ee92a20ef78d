// Package rulesets exposes ruleset authoring, compilation, and publication
// endpoints.
package rulesets

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/api/respond"
	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/compiler"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/middleware"
	"github.com/fraud-governance/fraud-governance/internal/publisher"
	"github.com/fraud-governance/fraud-governance/internal/services"
	"github.com/fraud-governance/fraud-governance/internal/telemetry"
)

// Handlers serves /v1/rulesets.
type Handlers struct {
	svc      *services.RulesetService
	compiler *compiler.Compiler
	pub      *publisher.Publisher
}

// NewHandlers creates the ruleset handlers.
func NewHandlers(svc *services.RulesetService, comp *compiler.Compiler, pub *publisher.Publisher) *Handlers {
	return &Handlers{svc: svc, compiler: comp, pub: pub}
}

type createRulesetRequest struct {
	Environment string          `json:"environment" binding:"required"`
	Region      string          `json:"region" binding:"required"`
	Country     string          `json:"country" binding:"required"`
	RuleType    domain.RuleType `json:"rule_type" binding:"required"`
	Name        string          `json:"name" binding:"required"`
	Description *string         `json:"description"`
}

// Create handles POST /v1/rulesets.
func (h *Handlers) Create(c *gin.Context) {
	var req createRulesetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	ruleset, err := h.svc.CreateRuleset(c.Request.Context(), services.CreateRulesetInput{
		Environment: req.Environment,
		Region:      req.Region,
		Country:     req.Country,
		RuleType:    req.RuleType,
		Name:        req.Name,
		Description: req.Description,
		Actor:       middleware.Actor(c),
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, ruleset)
}

// Get handles GET /v1/rulesets/:id.
func (h *Handlers) Get(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}
	ruleset, err := h.svc.GetRuleset(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, ruleset)
}

// List handles GET /v1/rulesets with target filters.
func (h *Handlers) List(c *gin.Context) {
	req, ok := respond.PageRequest(c)
	if !ok {
		return
	}

	var filters repositories.RulesetFilters
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

	page, err := h.svc.ListRulesets(c.Request.Context(), filters, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type updateRulesetRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

// Update handles PUT /v1/rulesets/:id. Only name and description change; the
// natural key is immutable.
func (h *Handlers) Update(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req updateRulesetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	if err := h.svc.UpdateRulesetInfo(c.Request.Context(), id, req.Name, req.Description, middleware.Actor(c)); err != nil {
		respond.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createVersionRequest struct {
	RuleVersionIDs []uuid.UUID `json:"rule_version_ids" binding:"required"`
}

// CreateVersion handles POST /v1/rulesets/:id/versions.
func (h *Handlers) CreateVersion(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req createVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	version, err := h.svc.CreateRulesetVersion(c.Request.Context(), id, req.RuleVersionIDs, middleware.Actor(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

type versionResponse struct {
	*models.RulesetVersion
	RuleVersionIDs []uuid.UUID `json:"rule_version_ids"`
}

// GetVersion handles GET /v1/rulesets/versions/:versionId and includes the
// snapshot-bound membership.
func (h *Handlers) GetVersion(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "versionId")
	if !ok {
		return
	}
	version, members, err := h.svc.GetRulesetVersion(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse{RulesetVersion: version, RuleVersionIDs: members})
}

// ListVersions handles GET /v1/rulesets/:id/versions.
func (h *Handlers) ListVersions(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}
	req, ok := respond.PageRequest(c)
	if !ok {
		return
	}

	var status *domain.EntityStatus
	if raw := c.Query("status"); raw != "" {
		s := domain.EntityStatus(raw)
		status = &s
	}

	page, err := h.svc.ListRulesetVersions(c.Request.Context(), id, status, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetActiveVersion handles GET /v1/rulesets/:id/versions/active.
func (h *Handlers) GetActiveVersion(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}
	version, err := h.svc.GetActiveVersion(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

type compileResponse struct {
	RulesetVersionID uuid.UUID      `json:"ruleset_version_id"`
	Version          int            `json:"version"`
	AST              map[string]any `json:"ast"`
	Checksum         string         `json:"checksum"`
}

// CompileVersion handles POST /v1/rulesets/versions/:versionId/compile.
// Compilation is a pure read; nothing is stored.
func (h *Handlers) CompileVersion(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "versionId")
	if !ok {
		return
	}
	h.compile(c, func() (*compiler.Result, error) {
		return h.compiler.CompileVersion(c.Request.Context(), id)
	})
}

// CompileActive handles POST /v1/rulesets/:id/compile and compiles the
// currently ACTIVE version.
func (h *Handlers) CompileActive(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}
	h.compile(c, func() (*compiler.Result, error) {
		return h.compiler.CompileActive(c.Request.Context(), id)
	})
}

func (h *Handlers) compile(c *gin.Context, run func() (*compiler.Result, error)) {
	start := time.Now()
	result, err := run()
	telemetry.RulesetCompileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.RulesetCompilesTotal.WithLabelValues("error").Inc()
		respond.Error(c, err)
		return
	}
	telemetry.RulesetCompilesTotal.WithLabelValues("success").Inc()

	c.JSON(http.StatusOK, compileResponse{
		RulesetVersionID: result.RulesetVersion.ID,
		Version:          result.RulesetVersion.Version,
		AST:              result.AST,
		Checksum:         result.Checksum,
	})
}

// Publish handles POST /v1/rulesets/versions/:versionId/publish. Publication
// is idempotent: re-publishing a version with an identical artifact repairs
// the pointer and returns the recorded manifest.
func (h *Handlers) Publish(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "versionId")
	if !ok {
		return
	}

	manifest, err := h.pub.PublishVersion(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	telemetry.RulesetPublishesTotal.WithLabelValues(manifest.Environment, string(manifest.RuleType)).Inc()

	c.JSON(http.StatusOK, manifest)
}
