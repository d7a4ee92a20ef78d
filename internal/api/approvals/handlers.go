// Package approvals exposes the maker-checker workflow endpoints: submit,
// approve, reject, activate, and the approval history reads.
package approvals

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/api/respond"
	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/approval"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/middleware"
	"github.com/fraud-governance/fraud-governance/internal/telemetry"
)

// Handlers serves /v1/approvals.
type Handlers struct {
	engine *approval.Engine
	db     *sqlx.DB
}

// NewHandlers creates the approval handlers.
func NewHandlers(engine *approval.Engine, db *sqlx.DB) *Handlers {
	return &Handlers{engine: engine, db: db}
}

type transitionRequest struct {
	EntityType     domain.ApprovalEntityType `json:"entity_type" binding:"required"`
	EntityID       uuid.UUID                 `json:"entity_id" binding:"required"`
	Remarks        *string                   `json:"remarks"`
	IdempotencyKey *string                   `json:"idempotency_key"`
}

func (r transitionRequest) validEntityType() bool {
	switch r.EntityType {
	case domain.EntityRuleVersion, domain.EntityRulesetVersion, domain.EntityFieldVersion:
		return true
	}
	return false
}

func bindTransition(c *gin.Context) (transitionRequest, bool) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return req, false
	}
	if !req.validEntityType() {
		respond.Error(c, apperrors.Validation("unknown entity type", map[string]any{
			"entity_type": string(req.EntityType),
		}))
		return req, false
	}
	return req, true
}

// Submit handles POST /v1/approvals/submit: a maker sends a DRAFT or
// REJECTED version for review.
func (h *Handlers) Submit(c *gin.Context) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}

	row, err := h.engine.Submit(c.Request.Context(), approval.SubmitInput{
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Actor:          middleware.Actor(c),
		Remarks:        req.Remarks,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	telemetry.ApprovalActionsTotal.WithLabelValues(string(req.EntityType), "SUBMIT").Inc()
	c.JSON(http.StatusCreated, row)
}

// Approve handles POST /v1/approvals/approve: a checker approves a pending
// version. Ruleset-version approvals compile and publish in the same
// transition, so the response carries the manifest when one was produced.
func (h *Handlers) Approve(c *gin.Context) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}

	outcome, err := h.engine.Approve(c.Request.Context(), approval.DecisionInput{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Actor:      middleware.Actor(c),
		Remarks:    req.Remarks,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	telemetry.ApprovalActionsTotal.WithLabelValues(string(req.EntityType), "APPROVE").Inc()
	if outcome.Manifest != nil {
		telemetry.RulesetPublishesTotal.WithLabelValues(outcome.Manifest.Environment, string(outcome.Manifest.RuleType)).Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"approval": outcome.Approval,
		"manifest": outcome.Manifest,
	})
}

// Reject handles POST /v1/approvals/reject.
func (h *Handlers) Reject(c *gin.Context) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}

	row, err := h.engine.Reject(c.Request.Context(), approval.DecisionInput{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Actor:      middleware.Actor(c),
		Remarks:    req.Remarks,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	telemetry.ApprovalActionsTotal.WithLabelValues(string(req.EntityType), "REJECT").Inc()
	c.JSON(http.StatusOK, row)
}

// Activate handles POST /v1/rulesets/versions/:versionId/activate: promote
// an APPROVED ruleset version to ACTIVE, demoting any current ACTIVE sibling.
func (h *Handlers) Activate(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "versionId")
	if !ok {
		return
	}

	version, err := h.engine.Activate(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	telemetry.ApprovalActionsTotal.WithLabelValues(string(domain.EntityRulesetVersion), "ACTIVATE").Inc()
	c.JSON(http.StatusOK, version)
}

// List handles GET /v1/approvals with entity and status filters.
func (h *Handlers) List(c *gin.Context) {
	req, ok := respond.PageRequest(c)
	if !ok {
		return
	}

	var filters repositories.ApprovalFilters
	if raw := c.Query("entity_type"); raw != "" {
		et := domain.ApprovalEntityType(raw)
		filters.EntityType = &et
	}
	if raw := c.Query("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respond.Error(c, apperrors.Validation("invalid entity_id", map[string]any{"entity_id": raw}))
			return
		}
		filters.EntityID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := domain.ApprovalStatus(raw)
		filters.Status = &status
	}
	if raw := c.Query("maker"); raw != "" {
		filters.Maker = &raw
	}

	page, err := repositories.NewApprovalRepository(h.db).List(c.Request.Context(), filters, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get handles GET /v1/approvals/:id.
func (h *Handlers) Get(c *gin.Context) {
	id, ok := respond.UUIDParam(c, "id")
	if !ok {
		return
	}

	row, err := repositories.NewApprovalRepository(h.db).GetByID(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if row == nil {
		respond.Error(c, apperrors.NotFound("approval not found", map[string]any{"approval_id": id.String()}))
		return
	}
	c.JSON(http.StatusOK, row)
}
