// ruleset_repository.go implements RulesetRepository, providing database
// queries for ruleset identities (unique per environment/region/country/
// rule_type), their immutable versions, and snapshot membership rows.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/identifier"
)

// RulesetRepository handles database operations for rulesets and their versions.
type RulesetRepository struct {
	db Querier
}

// NewRulesetRepository creates a new ruleset repository.
func NewRulesetRepository(db Querier) *RulesetRepository {
	return &RulesetRepository{db: db}
}

// RulesetFilters narrows ruleset list queries.
type RulesetFilters struct {
	Environment *string
	Region      *string
	Country     *string
	RuleType    *domain.RuleType
}

// CreateRuleset inserts a new ruleset identity. A natural-key duplicate
// returns ConflictError carrying the key.
func (r *RulesetRepository) CreateRuleset(ctx context.Context, ruleset *models.Ruleset) error {
	ruleset.ID = identifier.NewID()
	now := time.Now().UTC().Truncate(time.Millisecond)
	ruleset.CreatedAt = now
	ruleset.UpdatedAt = now

	query := `
		INSERT INTO rulesets (id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		ruleset.ID, ruleset.Environment, ruleset.Region, ruleset.Country, ruleset.RuleType,
		ruleset.Name, ruleset.Description, ruleset.CreatedBy, ruleset.CreatedAt, ruleset.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperrors.Conflict("ruleset already exists for this environment, region, country, and rule type", map[string]any{
				"environment": ruleset.Environment,
				"region":      ruleset.Region,
				"country":     ruleset.Country,
				"rule_type":   ruleset.RuleType,
			}).WithCause(err)
		}
		return wrapDBError(err, "failed to create ruleset")
	}

	return nil
}

// GetRulesetByID retrieves a ruleset identity by id.
func (r *RulesetRepository) GetRulesetByID(ctx context.Context, id uuid.UUID) (*models.Ruleset, error) {
	query := `
		SELECT id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at
		FROM rulesets
		WHERE id = $1
	`

	var ruleset models.Ruleset
	err := r.db.GetContext(ctx, &ruleset, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ruleset: %w", err)
	}

	return &ruleset, nil
}

// GetRulesetByNaturalKey retrieves a ruleset by its unique natural key.
func (r *RulesetRepository) GetRulesetByNaturalKey(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*models.Ruleset, error) {
	query := `
		SELECT id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at
		FROM rulesets
		WHERE environment = $1 AND region = $2 AND country = $3 AND rule_type = $4
	`

	var ruleset models.Ruleset
	err := r.db.GetContext(ctx, &ruleset, query, environment, region, country, ruleType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ruleset by natural key: %w", err)
	}

	return &ruleset, nil
}

// UpdateRulesetInfo updates the mutable name and description; the natural key
// never changes after creation.
func (r *RulesetRepository) UpdateRulesetInfo(ctx context.Context, id uuid.UUID, name string, description *string) error {
	query := `
		UPDATE rulesets
		SET name = $1, description = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, name, description, id)
	if err != nil {
		return wrapDBError(err, "failed to update ruleset")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update ruleset: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("ruleset not found", map[string]any{"ruleset_id": id})
	}

	return nil
}

// LockRuleset loads a ruleset identity with a row-level lock. Version-number
// assignment and activation serialize on this lock.
func (r *RulesetRepository) LockRuleset(ctx context.Context, id uuid.UUID) (*models.Ruleset, error) {
	query := `
		SELECT id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at
		FROM rulesets
		WHERE id = $1
		FOR UPDATE
	`

	var ruleset models.Ruleset
	err := r.db.GetContext(ctx, &ruleset, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock ruleset: %w", err)
	}

	return &ruleset, nil
}

// NextVersionNumber returns MAX(version)+1 for a ruleset. The caller must
// hold the identity row lock.
func (r *RulesetRepository) NextVersionNumber(ctx context.Context, rulesetID uuid.UUID) (int, error) {
	var next int
	err := r.db.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM ruleset_versions WHERE ruleset_id = $1`, rulesetID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next ruleset version: %w", err)
	}
	return next, nil
}

// CreateRulesetVersion inserts a new immutable ruleset version in DRAFT along
// with its snapshot-bound membership rows. The membership trigger rejects any
// rule version whose rule type differs from the ruleset's.
func (r *RulesetRepository) CreateRulesetVersion(ctx context.Context, version *models.RulesetVersion, ruleVersionIDs []uuid.UUID) error {
	version.ID = identifier.NewID()
	version.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if version.Status == "" {
		version.Status = domain.StatusDraft
	}

	query := `
		INSERT INTO ruleset_versions (id, ruleset_id, version, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		version.ID, version.RulesetID, version.Version, version.Status, version.CreatedBy, version.CreatedAt,
	)
	if err != nil {
		return wrapDBError(err, "failed to create ruleset version")
	}

	memberQuery := `INSERT INTO ruleset_version_rules (ruleset_version_id, rule_version_id) VALUES ($1, $2)`
	for _, rvID := range ruleVersionIDs {
		if _, err := r.db.ExecContext(ctx, memberQuery, version.ID, rvID); err != nil {
			return wrapDBError(err, "failed to add rule version to ruleset version")
		}
	}

	return nil
}

// GetRulesetVersionByID retrieves a ruleset version with its member count.
func (r *RulesetRepository) GetRulesetVersionByID(ctx context.Context, id uuid.UUID) (*models.RulesetVersion, error) {
	query := `
		SELECT rv.id, rv.ruleset_id, rv.version, rv.status, rv.created_by, rv.created_at,
		       rv.approved_by, rv.approved_at, rv.activated_at,
		       (SELECT COUNT(*) FROM ruleset_version_rules m WHERE m.ruleset_version_id = rv.id) AS rule_count
		FROM ruleset_versions rv
		WHERE rv.id = $1
	`

	var version models.RulesetVersion
	err := r.db.GetContext(ctx, &version, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ruleset version: %w", err)
	}

	return &version, nil
}

// LockRulesetVersion loads a ruleset version with a row-level lock.
func (r *RulesetRepository) LockRulesetVersion(ctx context.Context, id uuid.UUID) (*models.RulesetVersion, error) {
	query := `
		SELECT id, ruleset_id, version, status, created_by, created_at, approved_by, approved_at, activated_at
		FROM ruleset_versions
		WHERE id = $1
		FOR UPDATE
	`

	var version models.RulesetVersion
	err := r.db.GetContext(ctx, &version, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock ruleset version: %w", err)
	}

	return &version, nil
}

// GetMemberRuleVersionIDs returns the rule-version ids bound to a ruleset
// version, in deterministic id order.
func (r *RulesetRepository) GetMemberRuleVersionIDs(ctx context.Context, rulesetVersionID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT rule_version_id
		FROM ruleset_version_rules
		WHERE ruleset_version_id = $1
		ORDER BY rule_version_id
	`

	ids := make([]uuid.UUID, 0)
	if err := r.db.SelectContext(ctx, &ids, query, rulesetVersionID); err != nil {
		return nil, fmt.Errorf("failed to get ruleset version members: %w", err)
	}

	return ids, nil
}

// UpdateRulesetVersionStatus transitions a version's status, recording the
// approver or activation instant as supplied.
func (r *RulesetRepository) UpdateRulesetVersionStatus(ctx context.Context, id uuid.UUID, status domain.EntityStatus, approvedBy *string, approvedAt, activatedAt *time.Time) error {
	query := `
		UPDATE ruleset_versions
		SET status = $1,
		    approved_by = COALESCE($2, approved_by),
		    approved_at = COALESCE($3, approved_at),
		    activated_at = COALESCE($4, activated_at)
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, query, status, approvedBy, approvedAt, activatedAt, id)
	if err != nil {
		return wrapDBError(err, "failed to update ruleset version status")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update ruleset version status: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("ruleset version not found", map[string]any{"ruleset_version_id": id})
	}

	return nil
}

// GetActiveVersion returns the single ACTIVE version of a ruleset, if any.
func (r *RulesetRepository) GetActiveVersion(ctx context.Context, rulesetID uuid.UUID) (*models.RulesetVersion, error) {
	query := `
		SELECT id, ruleset_id, version, status, created_by, created_at, approved_by, approved_at, activated_at
		FROM ruleset_versions
		WHERE ruleset_id = $1 AND status = $2
	`

	var version models.RulesetVersion
	err := r.db.GetContext(ctx, &version, query, rulesetID, domain.StatusActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active ruleset version: %w", err)
	}

	return &version, nil
}

// SupersedeApprovedVersions demotes every APPROVED version of a ruleset
// except the given one.
func (r *RulesetRepository) SupersedeApprovedVersions(ctx context.Context, rulesetID, exceptVersionID uuid.UUID) error {
	query := `
		UPDATE ruleset_versions
		SET status = $1
		WHERE ruleset_id = $2 AND status = $3 AND id <> $4
	`

	_, err := r.db.ExecContext(ctx, query, domain.StatusSuperseded, rulesetID, domain.StatusApproved, exceptVersionID)
	if err != nil {
		return wrapDBError(err, "failed to supersede ruleset versions")
	}

	return nil
}

// DemoteActiveVersion moves the ACTIVE version of a ruleset (other than the
// given one) to SUPERSEDED. Returns whether a sibling was demoted.
func (r *RulesetRepository) DemoteActiveVersion(ctx context.Context, rulesetID, exceptVersionID uuid.UUID) (bool, error) {
	query := `
		UPDATE ruleset_versions
		SET status = $1
		WHERE ruleset_id = $2 AND status = $3 AND id <> $4
	`

	result, err := r.db.ExecContext(ctx, query, domain.StatusSuperseded, rulesetID, domain.StatusActive, exceptVersionID)
	if err != nil {
		return false, wrapDBError(err, "failed to demote active ruleset version")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to demote active ruleset version: %w", err)
	}

	return affected > 0, nil
}

// AcquireActivationLock takes a transaction-scoped advisory lock on the
// ruleset so competing activations serialize even across identity-row paths.
func (r *RulesetRepository) AcquireActivationLock(ctx context.Context, rulesetID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, rulesetID.String())
	if err != nil {
		return fmt.Errorf("failed to acquire activation lock: %w", err)
	}
	return nil
}

// ListRulesets returns a keyset page of ruleset identities, newest first.
func (r *RulesetRepository) ListRulesets(ctx context.Context, filters RulesetFilters, req PageRequest) (Page[models.Ruleset], error) {
	req = req.Normalize(DefaultPageLimit, MaxPageLimit)

	query := `
		SELECT id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at
		FROM rulesets
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.Environment != nil {
		query += fmt.Sprintf(` AND environment = $%d`, paramIndex)
		args = append(args, *filters.Environment)
		paramIndex++
	}
	if filters.Region != nil {
		query += fmt.Sprintf(` AND region = $%d`, paramIndex)
		args = append(args, *filters.Region)
		paramIndex++
	}
	if filters.Country != nil {
		query += fmt.Sprintf(` AND country = $%d`, paramIndex)
		args = append(args, *filters.Country)
		paramIndex++
	}
	if filters.RuleType != nil {
		query += fmt.Sprintf(` AND rule_type = $%d`, paramIndex)
		args = append(args, *filters.RuleType)
		paramIndex++
	}

	query, args = appendKeyset(query, args, paramIndex, "created_at", "id", req)

	rows := make([]models.Ruleset, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.Ruleset]{}, fmt.Errorf("failed to list rulesets: %w", err)
	}

	return BuildPage(rows, req, func(s models.Ruleset) (uuid.UUID, time.Time) {
		return s.ID, s.CreatedAt
	}), nil
}

// ListRulesetVersions returns a keyset page of a ruleset's versions, newest first.
func (r *RulesetRepository) ListRulesetVersions(ctx context.Context, rulesetID uuid.UUID, status *domain.EntityStatus, req PageRequest) (Page[models.RulesetVersion], error) {
	req = req.Normalize(DefaultPageLimit, MaxPageLimit)

	query := `
		SELECT id, ruleset_id, version, status, created_by, created_at, approved_by, approved_at, activated_at
		FROM ruleset_versions
		WHERE ruleset_id = $1
	`
	args := []interface{}{rulesetID}
	paramIndex := 2

	if status != nil {
		query += fmt.Sprintf(` AND status = $%d`, paramIndex)
		args = append(args, *status)
		paramIndex++
	}

	query, args = appendKeyset(query, args, paramIndex, "created_at", "id", req)

	rows := make([]models.RulesetVersion, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.RulesetVersion]{}, fmt.Errorf("failed to list ruleset versions: %w", err)
	}

	return BuildPage(rows, req, func(v models.RulesetVersion) (uuid.UUID, time.Time) {
		return v.ID, v.CreatedAt
	}), nil
}
