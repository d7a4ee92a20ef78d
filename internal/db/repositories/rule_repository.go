// rule_repository.go implements RuleRepository, providing database queries for
// rule identities and their immutable versions, including optimistic locking
// on the identity row and keyset-paginated list queries.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/identifier"
)

// RuleRepository handles database operations for rules and rule versions.
type RuleRepository struct {
	db Querier
}

// NewRuleRepository creates a new rule repository over db, which may be a
// pooled connection or an open transaction.
func NewRuleRepository(db Querier) *RuleRepository {
	return &RuleRepository{db: db}
}

// RuleFilters narrows rule list queries.
type RuleFilters struct {
	RuleType *domain.RuleType
	Status   *domain.EntityStatus
}

// CreateRule inserts a new rule identity in DRAFT.
func (r *RuleRepository) CreateRule(ctx context.Context, rule *models.Rule) error {
	rule.ID = identifier.NewID()
	now := time.Now().UTC().Truncate(time.Millisecond)
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Status = domain.StatusDraft
	rule.CurrentVersion = 1
	rule.RowVersion = 1

	query := `
		INSERT INTO rules (id, name, description, rule_type, status, current_version, row_version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.RuleType, rule.Status,
		rule.CurrentVersion, rule.RowVersion, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return wrapDBError(err, "failed to create rule")
	}

	return nil
}

// GetRuleByID retrieves a rule identity by its id.
func (r *RuleRepository) GetRuleByID(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	query := `
		SELECT id, name, description, rule_type, status, current_version, row_version, created_by, created_at, updated_at
		FROM rules
		WHERE id = $1
	`

	var rule models.Rule
	err := r.db.GetContext(ctx, &rule, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return &rule, nil
}

// LockRule loads a rule identity with a row-level lock. Must run inside a
// transaction; concurrent approvals on the same rule serialize here.
func (r *RuleRepository) LockRule(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	query := `
		SELECT id, name, description, rule_type, status, current_version, row_version, created_by, created_at, updated_at
		FROM rules
		WHERE id = $1
		FOR UPDATE
	`

	var rule models.Rule
	err := r.db.GetContext(ctx, &rule, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock rule: %w", err)
	}

	return &rule, nil
}

// UpdateRuleState advances the identity row's status, current version, and
// optimistic-lock counter. A stale expectedRowVersion returns ConflictError.
func (r *RuleRepository) UpdateRuleState(ctx context.Context, id uuid.UUID, status domain.EntityStatus, currentVersion, expectedRowVersion int) error {
	query := `
		UPDATE rules
		SET status = $1, current_version = $2, row_version = row_version + 1, updated_at = NOW()
		WHERE id = $3 AND row_version = $4
	`

	result, err := r.db.ExecContext(ctx, query, status, currentVersion, id, expectedRowVersion)
	if err != nil {
		return wrapDBError(err, "failed to update rule")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if affected == 0 {
		return apperrors.Conflict("rule was modified concurrently", map[string]any{
			"rule_id":              id,
			"expected_row_version": expectedRowVersion,
		})
	}

	return nil
}

// NextVersionNumber returns MAX(version)+1 for a rule. The caller must hold
// the identity row lock so two writers cannot compute the same number.
func (r *RuleRepository) NextVersionNumber(ctx context.Context, ruleID uuid.UUID) (int, error) {
	var next int
	err := r.db.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM rule_versions WHERE rule_id = $1`, ruleID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next rule version: %w", err)
	}
	return next, nil
}

// CreateRuleVersion inserts a new immutable rule version snapshot.
func (r *RuleRepository) CreateRuleVersion(ctx context.Context, version *models.RuleVersion) error {
	version.ID = identifier.NewID()
	version.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if version.Status == "" {
		version.Status = domain.StatusDraft
	}

	query := `
		INSERT INTO rule_versions (id, rule_id, version, condition_tree, scope, priority, action, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		version.ID, version.RuleID, version.Version, version.ConditionTree, version.Scope,
		version.Priority, version.Action, version.Status, version.CreatedBy, version.CreatedAt,
	)
	if err != nil {
		return wrapDBError(err, "failed to create rule version")
	}

	return nil
}

// GetRuleVersionByID retrieves a rule version with its rule's name and type.
func (r *RuleRepository) GetRuleVersionByID(ctx context.Context, id uuid.UUID) (*models.RuleVersion, error) {
	query := `
		SELECT rv.id, rv.rule_id, rv.version, rv.condition_tree, rv.scope, rv.priority, rv.action,
		       rv.status, rv.created_by, rv.created_at, rv.approved_by, rv.approved_at,
		       r.name AS rule_name, r.rule_type AS rule_type
		FROM rule_versions rv
		JOIN rules r ON r.id = rv.rule_id
		WHERE rv.id = $1
	`

	var version models.RuleVersion
	err := r.db.GetContext(ctx, &version, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule version: %w", err)
	}

	return &version, nil
}

// GetRuleVersionsByIDs retrieves a set of rule versions, joined with their
// rule identities, in one query. Used by the compiler to load ruleset members.
func (r *RuleRepository) GetRuleVersionsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.RuleVersion, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT rv.id, rv.rule_id, rv.version, rv.condition_tree, rv.scope, rv.priority, rv.action,
		       rv.status, rv.created_by, rv.created_at, rv.approved_by, rv.approved_at,
		       r.name AS rule_name, r.rule_type AS rule_type
		FROM rule_versions rv
		JOIN rules r ON r.id = rv.rule_id
		WHERE rv.id IN (?)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule versions query: %w", err)
	}

	query = sqlx.Rebind(sqlx.DOLLAR, query)
	versions := make([]*models.RuleVersion, 0, len(ids))
	if err := r.db.SelectContext(ctx, &versions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get rule versions: %w", err)
	}

	return versions, nil
}

// LockRuleVersion loads a rule version with a row-level lock for transition.
func (r *RuleRepository) LockRuleVersion(ctx context.Context, id uuid.UUID) (*models.RuleVersion, error) {
	query := `
		SELECT id, rule_id, version, condition_tree, scope, priority, action, status, created_by, created_at, approved_by, approved_at
		FROM rule_versions
		WHERE id = $1
		FOR UPDATE
	`

	var version models.RuleVersion
	err := r.db.GetContext(ctx, &version, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock rule version: %w", err)
	}

	return &version, nil
}

// UpdateRuleVersionStatus transitions a version's status, recording the
// approver when the transition is an approval.
func (r *RuleRepository) UpdateRuleVersionStatus(ctx context.Context, id uuid.UUID, status domain.EntityStatus, approvedBy *string, approvedAt *time.Time) error {
	query := `
		UPDATE rule_versions
		SET status = $1, approved_by = COALESCE($2, approved_by), approved_at = COALESCE($3, approved_at)
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, status, approvedBy, approvedAt, id)
	if err != nil {
		return wrapDBError(err, "failed to update rule version status")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update rule version status: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("rule version not found", map[string]any{"rule_version_id": id})
	}

	return nil
}

// SupersedeApprovedVersions demotes every APPROVED version of a rule except
// the given one. Called when a newer version is approved.
func (r *RuleRepository) SupersedeApprovedVersions(ctx context.Context, ruleID, exceptVersionID uuid.UUID) error {
	query := `
		UPDATE rule_versions
		SET status = $1
		WHERE rule_id = $2 AND status = $3 AND id <> $4
	`

	_, err := r.db.ExecContext(ctx, query, domain.StatusSuperseded, ruleID, domain.StatusApproved, exceptVersionID)
	if err != nil {
		return wrapDBError(err, "failed to supersede rule versions")
	}

	return nil
}

// ListRules returns a keyset page of rule summaries, newest first.
func (r *RuleRepository) ListRules(ctx context.Context, filters RuleFilters, req PageRequest) (Page[models.RuleSummary], error) {
	req = req.Normalize(DefaultPageLimit, MaxPageLimit)

	query := `
		SELECT r.id, r.name, r.description, r.rule_type, r.status, r.current_version, r.row_version,
		       r.created_by, r.created_at, r.updated_at,
		       cv.priority AS current_priority, cv.action AS current_action,
		       (SELECT COUNT(*) FROM rule_versions v WHERE v.rule_id = r.id) AS version_count
		FROM rules r
		LEFT JOIN rule_versions cv ON cv.rule_id = r.id AND cv.version = r.current_version
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.RuleType != nil {
		query += fmt.Sprintf(` AND r.rule_type = $%d`, paramIndex)
		args = append(args, *filters.RuleType)
		paramIndex++
	}
	if filters.Status != nil {
		query += fmt.Sprintf(` AND r.status = $%d`, paramIndex)
		args = append(args, *filters.Status)
		paramIndex++
	}

	query, args = appendKeyset(query, args, paramIndex, "r.created_at", "r.id", req)

	rows := make([]models.RuleSummary, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.RuleSummary]{}, fmt.Errorf("failed to list rules: %w", err)
	}

	return BuildPage(rows, req, func(s models.RuleSummary) (uuid.UUID, time.Time) {
		return s.ID, s.CreatedAt
	}), nil
}

// ListRuleVersions returns a keyset page of one rule's versions, newest first.
func (r *RuleRepository) ListRuleVersions(ctx context.Context, ruleID uuid.UUID, status *domain.EntityStatus, req PageRequest) (Page[models.RuleVersion], error) {
	req = req.Normalize(DefaultPageLimit, MaxPageLimit)

	query := `
		SELECT id, rule_id, version, condition_tree, scope, priority, action, status, created_by, created_at, approved_by, approved_at
		FROM rule_versions
		WHERE rule_id = $1
	`
	args := []interface{}{ruleID}
	paramIndex := 2

	if status != nil {
		query += fmt.Sprintf(` AND status = $%d`, paramIndex)
		args = append(args, *status)
		paramIndex++
	}

	query, args = appendKeyset(query, args, paramIndex, "created_at", "id", req)

	rows := make([]models.RuleVersion, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.RuleVersion]{}, fmt.Errorf("failed to list rule versions: %w", err)
	}

	return BuildPage(rows, req, func(v models.RuleVersion) (uuid.UUID, time.Time) {
		return v.ID, v.CreatedAt
	}), nil
}

// appendKeyset adds the cursor predicate, ordering, and limit+1 fetch to a
// list query. Forward pages descend; backward pages ascend and are reversed
// by BuildPage.
func appendKeyset(query string, args []interface{}, paramIndex int, timeCol, idCol string, req PageRequest) (string, []interface{}) {
	if req.Cursor != nil {
		op := "<"
		if req.Direction == DirectionPrev {
			op = ">"
		}
		query += fmt.Sprintf(` AND (%s, %s) %s ($%d, $%d)`, timeCol, idCol, op, paramIndex, paramIndex+1)
		args = append(args, req.Cursor.CreatedAt, req.Cursor.ID)
		paramIndex += 2
	}

	order := "DESC"
	if req.Direction == DirectionPrev {
		order = "ASC"
	}
	query += fmt.Sprintf(` ORDER BY %s %s, %s %s LIMIT $%d`, timeCol, order, idCol, order, paramIndex)
	args = append(args, req.Limit+1)

	return query, args
}
