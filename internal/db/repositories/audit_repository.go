// audit_repository.go implements AuditRepository, providing append and
// filtered keyset-paginated read access to the audit log.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/identifier"
)

// AuditRepository handles audit log database operations.
type AuditRepository struct {
	db Querier
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit entries.
type AuditFilters struct {
	EntityType  *string
	EntityID    *string
	Action      *string
	PerformedBy *string
	Since       *time.Time
	Until       *time.Time
}

// Insert appends one audit entry. Runs in the same transaction as the state
// change it records.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	entry.ID = identifier.NewID()
	entry.PerformedAt = time.Now().UTC().Truncate(time.Millisecond)

	query := `
		INSERT INTO audit_entries (id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action,
		entry.OldValue, entry.NewValue, entry.PerformedBy, entry.PerformedAt,
	)
	if err != nil {
		return wrapDBError(err, "failed to insert audit entry")
	}

	return nil
}

// GetByID retrieves a single audit entry.
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at
		FROM audit_entries
		WHERE id = $1
	`

	var entry models.AuditEntry
	err := r.db.GetContext(ctx, &entry, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}

	return &entry, nil
}

// List returns a keyset page of audit entries, newest first.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, req PageRequest) (Page[models.AuditEntry], error) {
	req = req.Normalize(DefaultAuditPageLimit, MaxAuditPageLimit)

	query := `
		SELECT id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at
		FROM audit_entries
		WHERE 1=1
	`

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
	if filters.Action != nil {
		query += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, *filters.Action)
		paramIndex++
	}
	if filters.PerformedBy != nil {
		query += fmt.Sprintf(` AND performed_by = $%d`, paramIndex)
		args = append(args, *filters.PerformedBy)
		paramIndex++
	}
	if filters.Since != nil {
		query += fmt.Sprintf(` AND performed_at >= $%d`, paramIndex)
		args = append(args, *filters.Since)
		paramIndex++
	}
	if filters.Until != nil {
		query += fmt.Sprintf(` AND performed_at <= $%d`, paramIndex)
		args = append(args, *filters.Until)
		paramIndex++
	}

	query, args = appendKeyset(query, args, paramIndex, "performed_at", "id", req)

	rows := make([]models.AuditEntry, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.AuditEntry]{}, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return BuildPage(rows, req, func(e models.AuditEntry) (uuid.UUID, time.Time) {
		return e.ID, e.PerformedAt
	}), nil
}
