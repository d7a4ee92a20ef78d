// Package services holds the transactional application services sitting
// between the HTTP layer and the repositories: rule and ruleset authoring.
// Workflow transitions live in internal/approval; field authoring lives in
// internal/catalog.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/canonicaljson"
	"github.com/fraud-governance/fraud-governance/internal/catalog"
	"github.com/fraud-governance/fraud-governance/internal/condition"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// RuleService implements rule authoring: identities and DRAFT versions.
type RuleService struct {
	db      *sqlx.DB
	catalog *catalog.Service
	logger  *slog.Logger
}

// NewRuleService creates a rule service validating trees against cat.
func NewRuleService(db *sqlx.DB, cat *catalog.Service, logger *slog.Logger) *RuleService {
	return &RuleService{db: db, catalog: cat, logger: logger}
}

// CreateRuleInput carries everything needed for a new rule and its first
// DRAFT version.
type CreateRuleInput struct {
	Name          string
	Description   *string
	RuleType      domain.RuleType
	ConditionTree json.RawMessage
	Scope         json.RawMessage
	Priority      int
	Action        *domain.RuleAction
	Actor         string
}

// RuleWithVersion pairs a rule identity with one of its versions.
type RuleWithVersion struct {
	Rule    *models.Rule        `json:"rule"`
	Version *models.RuleVersion `json:"version"`
}

// CreateRule creates a rule identity and its version-1 DRAFT snapshot. The
// condition tree is validated against the active catalog before anything is
// written; the action defaults from the rule type when omitted.
func (s *RuleService) CreateRule(ctx context.Context, input CreateRuleInput) (*RuleWithVersion, error) {
	if input.Name == "" {
		return nil, apperrors.Validation("rule name is required", nil)
	}
	if !input.RuleType.Valid() {
		return nil, apperrors.Validation("unknown rule type", map[string]any{
			"rule_type": string(input.RuleType),
		})
	}

	action, err := s.resolveAction(input.RuleType, input.Action)
	if err != nil {
		return nil, err
	}
	if err := s.validateTree(ctx, input.ConditionTree); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rules := repositories.NewRuleRepository(tx)

	rule := &models.Rule{
		Name:        input.Name,
		Description: input.Description,
		RuleType:    input.RuleType,
		CreatedBy:   input.Actor,
	}
	if err := rules.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	version := &models.RuleVersion{
		RuleID:        rule.ID,
		Version:       1,
		ConditionTree: input.ConditionTree,
		Scope:         normalizeScope(input.Scope),
		Priority:      input.Priority,
		Action:        action,
		CreatedBy:     input.Actor,
	}
	if err := rules.CreateRuleVersion(ctx, version); err != nil {
		return nil, err
	}

	if err := s.auditCreate(ctx, tx, "RULE", rule.ID.String(), input.Actor, rule); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("rule created",
		slog.String("rule_id", rule.ID.String()),
		slog.String("rule_type", string(rule.RuleType)),
		slog.String("created_by", input.Actor))
	return &RuleWithVersion{Rule: rule, Version: version}, nil
}

// CreateVersionInput carries a new DRAFT snapshot for an existing rule.
type CreateVersionInput struct {
	ConditionTree      json.RawMessage
	Scope              json.RawMessage
	Priority           int
	Action             *domain.RuleAction
	ExpectedRowVersion *int
	Actor              string
}

// CreateRuleVersion snapshots a new DRAFT version of an existing rule. When
// ExpectedRowVersion is set and the identity has moved on, the call fails
// with ConflictError instead of drafting against a stale read.
func (s *RuleService) CreateRuleVersion(ctx context.Context, ruleID uuid.UUID, input CreateVersionInput) (*models.RuleVersion, error) {
	if err := s.validateTree(ctx, input.ConditionTree); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rules := repositories.NewRuleRepository(tx)

	rule, err := rules.LockRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, apperrors.NotFound("rule not found", map[string]any{"rule_id": ruleID.String()})
	}
	if input.ExpectedRowVersion != nil && *input.ExpectedRowVersion != rule.RowVersion {
		return nil, apperrors.Conflict("rule was modified concurrently", map[string]any{
			"rule_id":              ruleID.String(),
			"expected_row_version": *input.ExpectedRowVersion,
			"actual_row_version":   rule.RowVersion,
		})
	}

	action, err := s.resolveAction(rule.RuleType, input.Action)
	if err != nil {
		return nil, err
	}

	next, err := rules.NextVersionNumber(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	version := &models.RuleVersion{
		RuleID:        ruleID,
		Version:       next,
		ConditionTree: input.ConditionTree,
		Scope:         normalizeScope(input.Scope),
		Priority:      input.Priority,
		Action:        action,
		CreatedBy:     input.Actor,
	}
	if err := rules.CreateRuleVersion(ctx, version); err != nil {
		return nil, err
	}

	if err := s.auditCreate(ctx, tx, "RULE_VERSION", version.ID.String(), input.Actor, version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return version, nil
}

// GetRule retrieves a rule identity.
func (s *RuleService) GetRule(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	rule, err := repositories.NewRuleRepository(s.db).GetRuleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, apperrors.NotFound("rule not found", map[string]any{"rule_id": id.String()})
	}
	return rule, nil
}

// GetRuleVersion retrieves a rule version with its rule's name and type.
func (s *RuleService) GetRuleVersion(ctx context.Context, id uuid.UUID) (*models.RuleVersion, error) {
	version, err := repositories.NewRuleRepository(s.db).GetRuleVersionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("rule version not found", map[string]any{"rule_version_id": id.String()})
	}
	return version, nil
}

// ListRules returns a page of rule summaries.
func (s *RuleService) ListRules(ctx context.Context, filters repositories.RuleFilters, req repositories.PageRequest) (repositories.Page[models.RuleSummary], error) {
	return repositories.NewRuleRepository(s.db).ListRules(ctx, filters, req)
}

// ListRuleVersions returns a page of a rule's versions.
func (s *RuleService) ListRuleVersions(ctx context.Context, ruleID uuid.UUID, status *domain.EntityStatus, req repositories.PageRequest) (repositories.Page[models.RuleVersion], error) {
	return repositories.NewRuleRepository(s.db).ListRuleVersions(ctx, ruleID, status, req)
}

// resolveAction defaults and checks the action against the rule type's
// allowed set.
func (s *RuleService) resolveAction(ruleType domain.RuleType, action *domain.RuleAction) (domain.RuleAction, error) {
	if action == nil {
		return domain.DefaultRuleAction(ruleType), nil
	}
	for _, allowed := range domain.AllowedRuleActions(ruleType) {
		if *action == allowed {
			return *action, nil
		}
	}
	return "", apperrors.Validation("action is not allowed for this rule type", map[string]any{
		"rule_type": string(ruleType),
		"action":    string(*action),
	})
}

func (s *RuleService) validateTree(ctx context.Context, raw json.RawMessage) error {
	cat, err := s.catalog.ActiveCatalog(ctx)
	if err != nil {
		return err
	}
	_, err = condition.ParseAndValidate(raw, cat)
	return err
}

func (s *RuleService) auditCreate(ctx context.Context, tx *sqlx.Tx, entityType, entityID, actor string, entity any) error {
	snapshot, err := canonicaljson.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to serialize audit snapshot: %w", err)
	}
	return repositories.NewAuditRepository(tx).Insert(ctx, &models.AuditEntry{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      "CREATE",
		NewValue:    snapshot,
		PerformedBy: actor,
	})
}

// normalizeScope defaults a missing scope to the empty object so stored
// snapshots are always valid JSON.
func normalizeScope(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
