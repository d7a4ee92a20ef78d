// Package rules exposes the rule authoring endpoints: identities, DRAFT
// versions, and reads.
package rules

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraud-governance/fraud-governance/internal/api/respond"
	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/middleware"
	"github.com/fraud-governance/fraud-governance/internal/services"
)

// Handlers serves /v1/rules.
type Handlers struct {
	svc *services.RuleService
}

// NewHandlers creates the rule handlers.
func NewHandlers(svc *services.RuleService) *Handlers {
	return &Handlers{svc: svc}
}

type createRuleRequest struct {
	Name          string             `json:"name" binding:"required"`
	Description   *string            `json:"description"`
	RuleType      domain.RuleType    `json:"rule_type" binding:"required"`
	ConditionTree json.RawMessage    `json:"condition_tree" binding:"required"`
	Scope         json.RawMessage    `json:"scope"`
	Priority      int                `json:"priority"`
	Action        *domain.RuleAction `json:"action"`
}

// Create handles POST /v1/rules: a new rule identity plus its version-1 DRAFT.
func (h *Handlers) Create(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	result, err := h.svc.CreateRule(c.Request.Context(), services.CreateRuleInput{
		Name:          req.Name,
		Description:   req.Description,
		RuleType:      req.RuleType,
		ConditionTree: req.ConditionTree,
		Scope:         req.Scope,
		Priority:      req.Priority,
		Action:        req.Action,
		Actor:         middleware.Actor(c),
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Get handles GET /v1/rules/:id.
func (h *Handlers) Get(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}
	rule, err := h.svc.GetRule(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// List handles GET /v1/rules with optional rule_type and status filters.
func (h *Handlers) List(c *gin.Context) {
	req, ok := respond.PageRequest(c)
	if !ok {
		return
	}

	var filters repositories.RuleFilters
	if raw := c.Query("rule_type"); raw != "" {
		rt := domain.RuleType(raw)
		if !rt.Valid() {
			respond.Error(c, apperrors.Validation("unknown rule type", map[string]any{"rule_type": raw}))
			return
		}
		filters.RuleType = &rt
	}
	if raw := c.Query("status"); raw != "" {
		status := domain.EntityStatus(raw)
		filters.Status = &status
	}

	page, err := h.svc.ListRules(c.Request.Context(), filters, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type createVersionRequest struct {
	ConditionTree      json.RawMessage    `json:"condition_tree" binding:"required"`
	Scope              json.RawMessage    `json:"scope"`
	Priority           int                `json:"priority"`
	Action             *domain.RuleAction `json:"action"`
	ExpectedRowVersion *int               `json:"expected_row_version"`
}

// CreateVersion handles POST /v1/rules/:id/versions.
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

	version, err := h.svc.CreateRuleVersion(c.Request.Context(), id, services.CreateVersionInput{
		ConditionTree:      req.ConditionTree,
		Scope:              req.Scope,
		Priority:           req.Priority,
		Action:             req.Action,
		ExpectedRowVersion: req.ExpectedRowVersion,
		Actor:              middleware.Actor(c),
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

// ListVersions handles GET /v1/rules/:id/versions.
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

	page, err := h.svc.ListRuleVersions(c.Request.Context(), id, status, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetVersion handles GET /v1/rules/versions/:versionId.
func (h *Handlers) GetVersion(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "versionId")
	if !ok {
		return
	}
	version, err := h.svc.GetRuleVersion(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}
