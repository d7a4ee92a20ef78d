// approval_repository.go implements ApprovalRepository, providing database
// queries for maker-checker workflow rows with idempotent submit semantics.
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

// ApprovalRepository handles database operations for approval workflow rows.
type ApprovalRepository struct {
	db Querier
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db Querier) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// ApprovalFilters narrows approval list queries.
type ApprovalFilters struct {
	EntityType *domain.ApprovalEntityType
	EntityID   *uuid.UUID
	Status     *domain.ApprovalStatus
	Maker      *string
}

const approvalColumns = `
	id, entity_type, entity_id, action, status, maker, checker, remarks, idempotency_key, created_at, decided_at
`

// Create inserts a new approval row. A duplicate idempotency key for the same
// entity loses to the unique index; the caller resolves that by re-reading
// with FindByIdempotencyKey.
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.Approval) error {
	approval.ID = identifier.NewID()
	approval.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	query := `
		INSERT INTO approvals (id, entity_type, entity_id, action, status, maker, checker, remarks, idempotency_key, created_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		approval.ID, approval.EntityType, approval.EntityID, approval.Action, approval.Status,
		approval.Maker, approval.Checker, approval.Remarks, approval.IdempotencyKey,
		approval.CreatedAt, approval.DecidedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uniq_approvals_idempotency") {
			return apperrors.Conflict("approval with this idempotency key already exists", map[string]any{
				"entity_type":     approval.EntityType,
				"entity_id":       approval.EntityID,
				"idempotency_key": approval.IdempotencyKey,
			}).WithCause(err)
		}
		return wrapDBError(err, "failed to create approval")
	}

	return nil
}

// GetByID retrieves an approval row by id.
func (r *ApprovalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	var approval models.Approval
	err := r.db.GetContext(ctx, &approval, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}

	return &approval, nil
}

// FindByIdempotencyKey returns the approval previously recorded for this
// (entity_type, entity_id, idempotency_key), or nil.
func (r *ApprovalRepository) FindByIdempotencyKey(ctx context.Context, entityType domain.ApprovalEntityType, entityID uuid.UUID, key string) (*models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE entity_type = $1 AND entity_id = $2 AND idempotency_key = $3`

	var approval models.Approval
	err := r.db.GetContext(ctx, &approval, query, entityType, entityID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find approval by idempotency key: %w", err)
	}

	return &approval, nil
}

// FindPendingSubmission returns the newest PENDING submit row for an entity,
// or nil. Approve and reject decide against this row.
func (r *ApprovalRepository) FindPendingSubmission(ctx context.Context, entityType domain.ApprovalEntityType, entityID uuid.UUID) (*models.Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE entity_type = $1 AND entity_id = $2 AND action = $3 AND status = $4
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var approval models.Approval
	err := r.db.GetContext(ctx, &approval, query, entityType, entityID, domain.ActionSubmit, domain.ApprovalPending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending submission: %w", err)
	}

	return &approval, nil
}

// Decide records a checker's decision on an approval row.
func (r *ApprovalRepository) Decide(ctx context.Context, id uuid.UUID, status domain.ApprovalStatus, checker string, remarks *string, decidedAt time.Time) error {
	query := `
		UPDATE approvals
		SET status = $1, checker = $2, remarks = COALESCE($3, remarks), decided_at = $4
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, query, status, checker, remarks, decidedAt, id)
	if err != nil {
		return wrapDBError(err, "failed to decide approval")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to decide approval: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("approval not found", map[string]any{"approval_id": id})
	}

	return nil
}

// List returns a keyset page of approval rows, newest first.
func (r *ApprovalRepository) List(ctx context.Context, filters ApprovalFilters, req PageRequest) (Page[models.Approval], error) {
	req = req.Normalize(DefaultPageLimit, MaxPageLimit)

	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.EntityType != nil {
		query += fmt.Sprintf(` AND entity_type = $%d`, paramIndex)
		args = append(args, *filters.EntityType)
		paramIndex++
	}
	if filters.EntityID != nil {
		query += fmt.Sprintf(` AND entity_id = $%d`, paramIndex)
		args = append(args, *filters.EntityID)
		paramIndex++
	}
	if filters.Status != nil {
		query += fmt.Sprintf(` AND status = $%d`, paramIndex)
		args = append(args, *filters.Status)
		paramIndex++
	}
	if filters.Maker != nil {
		query += fmt.Sprintf(` AND maker = $%d`, paramIndex)
		args = append(args, *filters.Maker)
		paramIndex++
	}

	query, args = appendKeyset(query, args, paramIndex, "created_at", "id", req)

	rows := make([]models.Approval, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.Approval]{}, fmt.Errorf("failed to list approvals: %w", err)
	}

	return BuildPage(rows, req, func(a models.Approval) (uuid.UUID, time.Time) {
		return a.ID, a.CreatedAt
	}), nil
}
