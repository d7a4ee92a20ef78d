package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// RulesetService implements ruleset authoring: natural-key identities and
// DRAFT versions with snapshot-bound membership.
type RulesetService struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewRulesetService creates a ruleset service.
func NewRulesetService(db *sqlx.DB, logger *slog.Logger) *RulesetService {
	return &RulesetService{db: db, logger: logger}
}

// CreateRulesetInput identifies a publication target and names it.
type CreateRulesetInput struct {
	Environment string
	Region      string
	Country     string
	RuleType    domain.RuleType
	Name        string
	Description *string
	Actor       string
}

// CreateRuleset creates a ruleset identity. The natural key
// (environment, region, country, rule_type) is unique; a duplicate fails
// with ConflictError carrying the key.
func (s *RulesetService) CreateRuleset(ctx context.Context, input CreateRulesetInput) (*models.Ruleset, error) {
	if input.Environment == "" || input.Region == "" || input.Country == "" {
		return nil, apperrors.Validation("environment, region, and country are required", nil)
	}
	if !input.RuleType.Valid() {
		return nil, apperrors.Validation("unknown rule type", map[string]any{
			"rule_type": string(input.RuleType),
		})
	}
	if input.Name == "" {
		return nil, apperrors.Validation("ruleset name is required", nil)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rulesets := repositories.NewRulesetRepository(tx)

	ruleset := &models.Ruleset{
		Environment: input.Environment,
		Region:      input.Region,
		Country:     input.Country,
		RuleType:    input.RuleType,
		Name:        input.Name,
		Description: input.Description,
		CreatedBy:   input.Actor,
	}
	if err := rulesets.CreateRuleset(ctx, ruleset); err != nil {
		return nil, err
	}

	if err := repositories.NewAuditRepository(tx).Insert(ctx, &models.AuditEntry{
		EntityType:  "RULESET",
		EntityID:    ruleset.ID.String(),
		Action:      "CREATE",
		PerformedBy: input.Actor,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("ruleset created",
		slog.String("ruleset_id", ruleset.ID.String()),
		slog.String("environment", ruleset.Environment),
		slog.String("region", ruleset.Region),
		slog.String("country", ruleset.Country),
		slog.String("rule_type", string(ruleset.RuleType)))
	return ruleset, nil
}

// CreateRulesetVersion snapshots a new DRAFT version binding the given rule
// versions. Every member must exist and carry the ruleset's rule type; the
// membership rows never change after this insert.
func (s *RulesetService) CreateRulesetVersion(ctx context.Context, rulesetID uuid.UUID, ruleVersionIDs []uuid.UUID, actor string) (*models.RulesetVersion, error) {
	if len(ruleVersionIDs) == 0 {
		return nil, apperrors.Validation("ruleset version requires at least one rule version", nil)
	}
	seen := make(map[uuid.UUID]struct{}, len(ruleVersionIDs))
	for _, id := range ruleVersionIDs {
		if _, dup := seen[id]; dup {
			return nil, apperrors.Validation("duplicate rule version in membership", map[string]any{
				"rule_version_id": id.String(),
			})
		}
		seen[id] = struct{}{}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rulesets := repositories.NewRulesetRepository(tx)
	rules := repositories.NewRuleRepository(tx)

	ruleset, err := rulesets.LockRuleset(ctx, rulesetID)
	if err != nil {
		return nil, err
	}
	if ruleset == nil {
		return nil, apperrors.NotFound("ruleset not found", map[string]any{"ruleset_id": rulesetID.String()})
	}

	members, err := rules.GetRuleVersionsByIDs(ctx, ruleVersionIDs)
	if err != nil {
		return nil, err
	}
	if len(members) != len(ruleVersionIDs) {
		found := make(map[uuid.UUID]struct{}, len(members))
		for _, m := range members {
			found[m.ID] = struct{}{}
		}
		missing := make([]string, 0)
		for _, id := range ruleVersionIDs {
			if _, ok := found[id]; !ok {
				missing = append(missing, id.String())
			}
		}
		return nil, apperrors.NotFound("rule versions not found", map[string]any{
			"rule_version_ids": missing,
		})
	}
	for _, m := range members {
		if m.RuleType != nil && *m.RuleType != ruleset.RuleType {
			return nil, apperrors.Validation("rule type does not match ruleset", map[string]any{
				"rule_version_id":   m.ID.String(),
				"rule_type":         string(*m.RuleType),
				"ruleset_rule_type": string(ruleset.RuleType),
			})
		}
	}

	next, err := rulesets.NextVersionNumber(ctx, rulesetID)
	if err != nil {
		return nil, err
	}

	version := &models.RulesetVersion{
		RulesetID: rulesetID,
		Version:   next,
		CreatedBy: actor,
	}
	if err := rulesets.CreateRulesetVersion(ctx, version, ruleVersionIDs); err != nil {
		return nil, err
	}

	if err := repositories.NewAuditRepository(tx).Insert(ctx, &models.AuditEntry{
		EntityType:  "RULESET_VERSION",
		EntityID:    version.ID.String(),
		Action:      "CREATE",
		PerformedBy: actor,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return version, nil
}

// GetRuleset retrieves a ruleset identity.
func (s *RulesetService) GetRuleset(ctx context.Context, id uuid.UUID) (*models.Ruleset, error) {
	ruleset, err := repositories.NewRulesetRepository(s.db).GetRulesetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ruleset == nil {
		return nil, apperrors.NotFound("ruleset not found", map[string]any{"ruleset_id": id.String()})
	}
	return ruleset, nil
}

// GetRulesetVersion retrieves a ruleset version with its member count and
// member rule-version ids.
func (s *RulesetService) GetRulesetVersion(ctx context.Context, id uuid.UUID) (*models.RulesetVersion, []uuid.UUID, error) {
	rulesets := repositories.NewRulesetRepository(s.db)
	version, err := rulesets.GetRulesetVersionByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if version == nil {
		return nil, nil, apperrors.NotFound("ruleset version not found", map[string]any{"ruleset_version_id": id.String()})
	}
	members, err := rulesets.GetMemberRuleVersionIDs(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return version, members, nil
}

// GetActiveVersion returns the ACTIVE version of a ruleset, or NotFoundError.
func (s *RulesetService) GetActiveVersion(ctx context.Context, rulesetID uuid.UUID) (*models.RulesetVersion, error) {
	version, err := repositories.NewRulesetRepository(s.db).GetActiveVersion(ctx, rulesetID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("ruleset has no active version", map[string]any{
			"ruleset_id": rulesetID.String(),
		})
	}
	return version, nil
}

// UpdateRulesetInfo renames a ruleset; the natural key is immutable.
func (s *RulesetService) UpdateRulesetInfo(ctx context.Context, id uuid.UUID, name string, description *string, actor string) error {
	if name == "" {
		return apperrors.Validation("ruleset name is required", nil)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := repositories.NewRulesetRepository(tx).UpdateRulesetInfo(ctx, id, name, description); err != nil {
		return err
	}
	if err := repositories.NewAuditRepository(tx).Insert(ctx, &models.AuditEntry{
		EntityType:  "RULESET",
		EntityID:    id.String(),
		Action:      "UPDATE",
		PerformedBy: actor,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRulesets returns a page of ruleset identities.
func (s *RulesetService) ListRulesets(ctx context.Context, filters repositories.RulesetFilters, req repositories.PageRequest) (repositories.Page[models.Ruleset], error) {
	return repositories.NewRulesetRepository(s.db).ListRulesets(ctx, filters, req)
}

// ListRulesetVersions returns a page of a ruleset's versions.
func (s *RulesetService) ListRulesetVersions(ctx context.Context, rulesetID uuid.UUID, status *domain.EntityStatus, req repositories.PageRequest) (repositories.Page[models.RulesetVersion], error) {
	return repositories.NewRulesetRepository(s.db).ListRulesetVersions(ctx, rulesetID, status, req)
}
