// Package catalog manages the rule field catalog: field identities and their
// immutable versions, per-field metadata, the in-process active-field cache
// used by condition validation, and publication of field-registry snapshots.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/canonicaljson"
	"github.com/fraud-governance/fraud-governance/internal/condition"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// Service owns catalog reads and the draft-side field mutations. Approval of
// field versions is handled by the approval engine; the service only creates
// DRAFT material and serves the active catalog.
type Service struct {
	db     *sqlx.DB
	fields *repositories.RuleFieldRepository
	audit  *repositories.AuditRepository
	logger *slog.Logger

	mu     sync.RWMutex
	cached condition.Catalog
}

// NewService creates a catalog service backed by db.
func NewService(db *sqlx.DB, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		fields: repositories.NewRuleFieldRepository(db),
		audit:  repositories.NewAuditRepository(db),
		logger: logger,
	}
}

// ActiveCatalog returns the validation catalog of active fields, serving a
// cached copy when available. The cache is invalidated on field mutations and
// registry publishes.
func (s *Service) ActiveCatalog(ctx context.Context) (condition.Catalog, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	fields, err := s.fields.ListActiveFields(ctx)
	if err != nil {
		return nil, err
	}

	catalog := make(condition.Catalog, len(fields))
	for _, f := range fields {
		catalog[f.FieldKey] = condition.FieldMeta{
			FieldID:           f.FieldID,
			DataType:          f.DataType,
			AllowedOperators:  f.Operators(),
			MultiValueAllowed: f.MultiValueAllowed,
			IsActive:          f.IsActive,
			EnumValues:        f.EnumValues,
			IsSensitive:       f.IsSensitive,
		}
	}

	s.mu.Lock()
	s.cached = catalog
	s.mu.Unlock()

	return catalog, nil
}

// CompileCatalog returns the validation catalog over ALL fields, active or
// not. Compilation uses this view: deactivating a field stops new drafts from
// referencing it but must not break recompilation of already-approved rules.
func (s *Service) CompileCatalog(ctx context.Context) (condition.Catalog, error) {
	fields, err := s.fields.ListAllFields(ctx)
	if err != nil {
		return nil, err
	}

	catalog := make(condition.Catalog, len(fields))
	for _, f := range fields {
		catalog[f.FieldKey] = condition.FieldMeta{
			FieldID:           f.FieldID,
			DataType:          f.DataType,
			AllowedOperators:  f.Operators(),
			MultiValueAllowed: f.MultiValueAllowed,
			IsActive:          true,
			EnumValues:        f.EnumValues,
			IsSensitive:       f.IsSensitive,
		}
	}
	return catalog, nil
}

// Invalidate drops the cached catalog. The next ActiveCatalog call reloads
// from the database.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// CreateFieldInput carries the caller-supplied definition for a new field.
type CreateFieldInput struct {
	FieldKey          string
	DisplayName       string
	Description       *string
	DataType          domain.DataType
	AllowedOperators  []domain.Operator
	MultiValueAllowed bool
	EnumValues        []string
	IsSensitive       bool
	CreatedBy         string
}

// CreateField registers a new field identity with its version-1 DRAFT snapshot.
// The next free field_id (≥ 27; 1..26 are the seeded standard fields) is
// assigned inside the transaction.
func (s *Service) CreateField(ctx context.Context, input CreateFieldInput) (*models.RuleField, error) {
	if err := validateFieldDefinition(input.DataType, input.AllowedOperators, input.EnumValues); err != nil {
		return nil, err
	}
	if input.FieldKey == "" {
		return nil, apperrors.Validation("field_key is required", nil)
	}
	if input.DisplayName == "" {
		return nil, apperrors.Validation("display_name is required", nil)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	fields := repositories.NewRuleFieldRepository(tx)
	audit := repositories.NewAuditRepository(tx)

	fieldID, err := fields.NextFieldID(ctx)
	if err != nil {
		return nil, err
	}

	ops := make([]string, len(input.AllowedOperators))
	for i, op := range input.AllowedOperators {
		ops[i] = string(op)
	}

	field := &models.RuleField{
		FieldKey:          input.FieldKey,
		FieldID:           fieldID,
		DisplayName:       input.DisplayName,
		Description:       input.Description,
		DataType:          input.DataType,
		AllowedOperators:  pq.StringArray(ops),
		MultiValueAllowed: input.MultiValueAllowed,
		EnumValues:        pq.StringArray(input.EnumValues),
		IsSensitive:       input.IsSensitive,
		IsActive:          false,
		CreatedBy:         input.CreatedBy,
	}
	if err := fields.CreateField(ctx, field); err != nil {
		return nil, err
	}

	version := &models.RuleFieldVersion{
		FieldKey:          field.FieldKey,
		Version:           1,
		DisplayName:       field.DisplayName,
		Description:       field.Description,
		DataType:          field.DataType,
		AllowedOperators:  field.AllowedOperators,
		MultiValueAllowed: field.MultiValueAllowed,
		EnumValues:        field.EnumValues,
		IsSensitive:       field.IsSensitive,
		CreatedBy:         input.CreatedBy,
	}
	if err := fields.CreateFieldVersion(ctx, version); err != nil {
		return nil, err
	}

	snapshot, err := canonicaljson.Marshal(field)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize field snapshot: %w", err)
	}
	if err := audit.Insert(ctx, &models.AuditEntry{
		EntityType:  "RULE_FIELD",
		EntityID:    field.FieldKey,
		Action:      "CREATE",
		NewValue:    snapshot,
		PerformedBy: input.CreatedBy,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.Invalidate()
	s.logger.Info("field created",
		slog.String("field_key", field.FieldKey),
		slog.Int("field_id", field.FieldID),
		slog.String("created_by", input.CreatedBy))

	return field, nil
}

// CreateFieldDraft snapshots a new DRAFT version for an existing field. The
// draft becomes effective only after approval.
func (s *Service) CreateFieldDraft(ctx context.Context, fieldKey string, input CreateFieldInput) (*models.RuleFieldVersion, error) {
	if err := validateFieldDefinition(input.DataType, input.AllowedOperators, input.EnumValues); err != nil {
		return nil, err
	}

	field, err := s.fields.GetField(ctx, fieldKey)
	if err != nil {
		return nil, err
	}
	if field == nil {
		return nil, apperrors.NotFound("field not found", map[string]any{"field_key": fieldKey})
	}

	ops := make([]string, len(input.AllowedOperators))
	for i, op := range input.AllowedOperators {
		ops[i] = string(op)
	}

	version := &models.RuleFieldVersion{
		FieldKey:          fieldKey,
		Version:           field.CurrentVersion + 1,
		DisplayName:       input.DisplayName,
		Description:       input.Description,
		DataType:          input.DataType,
		AllowedOperators:  pq.StringArray(ops),
		MultiValueAllowed: input.MultiValueAllowed,
		EnumValues:        pq.StringArray(input.EnumValues),
		IsSensitive:       input.IsSensitive,
		CreatedBy:         input.CreatedBy,
	}
	if err := s.fields.CreateFieldVersion(ctx, version); err != nil {
		return nil, err
	}

	return version, nil
}

// GetField returns a field identity by key.
func (s *Service) GetField(ctx context.Context, fieldKey string) (*models.RuleField, error) {
	field, err := s.fields.GetField(ctx, fieldKey)
	if err != nil {
		return nil, err
	}
	if field == nil {
		return nil, apperrors.NotFound("field not found", map[string]any{"field_key": fieldKey})
	}
	return field, nil
}

// ListFields returns a page of catalog fields.
func (s *Service) ListFields(ctx context.Context, activeOnly bool, req repositories.PageRequest) (repositories.Page[models.RuleField], error) {
	return s.fields.ListFields(ctx, activeOnly, req)
}

// SetFieldActive toggles field availability for new drafts and invalidates the
// cache. Deactivation never touches existing approved rule versions.
func (s *Service) SetFieldActive(ctx context.Context, fieldKey string, active bool, actor string) error {
	if err := s.fields.SetFieldActive(ctx, fieldKey, active); err != nil {
		return err
	}

	action := "DEACTIVATE"
	if active {
		action = "ACTIVATE"
	}
	if err := s.audit.Insert(ctx, &models.AuditEntry{
		EntityType:  "RULE_FIELD",
		EntityID:    fieldKey,
		Action:      action,
		PerformedBy: actor,
	}); err != nil {
		return err
	}

	s.Invalidate()
	return nil
}

// UpsertFieldMetadata stores or replaces one (field_key, meta_key) metadata row.
func (s *Service) UpsertFieldMetadata(ctx context.Context, meta *models.RuleFieldMetadata) error {
	field, err := s.fields.GetField(ctx, meta.FieldKey)
	if err != nil {
		return err
	}
	if field == nil {
		return apperrors.NotFound("field not found", map[string]any{"field_key": meta.FieldKey})
	}
	return s.fields.UpsertFieldMetadata(ctx, meta)
}

// GetFieldMetadata returns all metadata rows for a field.
func (s *Service) GetFieldMetadata(ctx context.Context, fieldKey string) ([]*models.RuleFieldMetadata, error) {
	return s.fields.GetFieldMetadata(ctx, fieldKey)
}

// operatorsByDataType is the closed compatibility table between data types and
// operators. A field definition may only carry a subset of its row.
var operatorsByDataType = map[domain.DataType][]domain.Operator{
	domain.DataTypeNumber: {
		domain.OpEQ, domain.OpNE, domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE,
		domain.OpBetween, domain.OpIn, domain.OpNotIn,
	},
	domain.DataTypeDate: {
		domain.OpEQ, domain.OpNE, domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE,
		domain.OpBetween, domain.OpIn, domain.OpNotIn,
	},
	domain.DataTypeString: {
		domain.OpEQ, domain.OpNE, domain.OpIn, domain.OpNotIn,
		domain.OpContains, domain.OpNotContains, domain.OpStartsWith, domain.OpEndsWith, domain.OpRegex,
	},
	domain.DataTypeEnum: {
		domain.OpEQ, domain.OpNE, domain.OpIn, domain.OpNotIn,
	},
	domain.DataTypeBoolean: {
		domain.OpEQ, domain.OpNE,
	},
}

func validateFieldDefinition(dataType domain.DataType, operators []domain.Operator, enumValues []string) error {
	if !dataType.Valid() {
		return apperrors.Validation("unknown data type", map[string]any{"data_type": string(dataType)})
	}
	if len(operators) == 0 {
		return apperrors.Validation("at least one operator is required", nil)
	}

	compatible := operatorsByDataType[dataType]
	for _, op := range operators {
		if !op.Valid() {
			return apperrors.Validation("unknown operator", map[string]any{"operator": string(op)})
		}
		allowed := false
		for _, c := range compatible {
			if op == c {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperrors.Validation("operator not compatible with data type", map[string]any{
				"operator":  string(op),
				"data_type": string(dataType),
			})
		}
	}

	if dataType == domain.DataTypeEnum && len(enumValues) == 0 {
		return apperrors.Validation("enum fields require enum_values", nil)
	}
	if dataType != domain.DataTypeEnum && len(enumValues) > 0 {
		return apperrors.Validation("enum_values are only valid for enum fields", nil)
	}

	return nil
}
