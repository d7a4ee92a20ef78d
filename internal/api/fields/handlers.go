// Package fields exposes the rule-field catalog endpoints: field authoring,
// activation, metadata, and registry publication.
package fields

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraud-governance/fraud-governance/internal/api/respond"
	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/catalog"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/middleware"
)

// Handlers serves /v1/fields.
type Handlers struct {
	svc      *catalog.Service
	registry *catalog.RegistryPublisher
}

// NewHandlers creates the field handlers.
func NewHandlers(svc *catalog.Service, registry *catalog.RegistryPublisher) *Handlers {
	return &Handlers{svc: svc, registry: registry}
}

type fieldRequest struct {
	FieldKey          string            `json:"field_key"`
	DisplayName       string            `json:"display_name" binding:"required"`
	Description       *string           `json:"description"`
	DataType          domain.DataType   `json:"data_type" binding:"required"`
	AllowedOperators  []domain.Operator `json:"allowed_operators" binding:"required"`
	MultiValueAllowed bool              `json:"multi_value_allowed"`
	EnumValues        []string          `json:"enum_values"`
	IsSensitive       bool              `json:"is_sensitive"`
}

func (r fieldRequest) toInput(actor string) catalog.CreateFieldInput {
	return catalog.CreateFieldInput{
		FieldKey:          r.FieldKey,
		DisplayName:       r.DisplayName,
		Description:       r.Description,
		DataType:          r.DataType,
		AllowedOperators:  r.AllowedOperators,
		MultiValueAllowed: r.MultiValueAllowed,
		EnumValues:        r.EnumValues,
		IsSensitive:       r.IsSensitive,
		CreatedBy:         actor,
	}
}

// Create handles POST /v1/fields: a new field identity with its version-1
// DRAFT definition.
func (h *Handlers) Create(c *gin.Context) {
	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	field, err := h.svc.CreateField(c.Request.Context(), req.toInput(middleware.Actor(c)))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, field)
}

// CreateDraft handles POST /v1/fields/:fieldKey/versions: a new DRAFT
// definition of an existing field.
func (h *Handlers) CreateDraft(c *gin.Context) {
	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	version, err := h.svc.CreateFieldDraft(c.Request.Context(), c.Param("fieldKey"), req.toInput(middleware.Actor(c)))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

// Get handles GET /v1/fields/:fieldKey.
func (h *Handlers) Get(c *gin.Context) {
	field, err := h.svc.GetField(c.Request.Context(), c.Param("fieldKey"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, field)
}

// List handles GET /v1/fields. ?active=true restricts to active fields, the
// view rule authors validate against.
func (h *Handlers) List(c *gin.Context) {
	req, ok := respond.PageRequest(c)
	if !ok {
		return
	}
	activeOnly := c.Query("active") == "true"

	page, err := h.svc.ListFields(c.Request.Context(), activeOnly, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Activate handles POST /v1/fields/:fieldKey/activate.
func (h *Handlers) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate handles POST /v1/fields/:fieldKey/deactivate. Deactivation only
// hides the field from new drafts; approved rules referencing it keep
// compiling.
func (h *Handlers) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *Handlers) setActive(c *gin.Context, active bool) {
	if err := h.svc.SetFieldActive(c.Request.Context(), c.Param("fieldKey"), active, middleware.Actor(c)); err != nil {
		respond.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type metadataRequest struct {
	MetaKey     string          `json:"meta_key" binding:"required"`
	MetaValue   json.RawMessage `json:"meta_value" binding:"required"`
	Description *string         `json:"description"`
}

// UpsertMetadata handles PUT /v1/fields/:fieldKey/metadata.
func (h *Handlers) UpsertMetadata(c *gin.Context) {
	var req metadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperrors.Validation("invalid request body", map[string]any{"reason": err.Error()}))
		return
	}

	meta := &models.RuleFieldMetadata{
		FieldKey:    c.Param("fieldKey"),
		MetaKey:     req.MetaKey,
		MetaValue:   req.MetaValue,
		Description: req.Description,
	}
	if err := h.svc.UpsertFieldMetadata(c.Request.Context(), meta); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// GetMetadata handles GET /v1/fields/:fieldKey/metadata.
func (h *Handlers) GetMetadata(c *gin.Context) {
	meta, err := h.svc.GetFieldMetadata(c.Request.Context(), c.Param("fieldKey"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"field_key": c.Param("fieldKey"), "metadata": meta})
}

// PublishRegistry handles POST /v1/fields/registry/publish: snapshot the
// active catalog into an immutable registry artifact for runtime consumers.
func (h *Handlers) PublishRegistry(c *gin.Context) {
	manifest, err := h.registry.Publish(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, manifest)
}

// LatestRegistry handles GET /v1/fields/registry/latest.
func (h *Handlers) LatestRegistry(c *gin.Context) {
	manifest, err := h.registry.Latest(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, manifest)
}
