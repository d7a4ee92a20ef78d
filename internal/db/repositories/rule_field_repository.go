// rule_field_repository.go implements RuleFieldRepository, providing database
// queries for the field catalog: field identities, immutable field versions,
// per-field metadata, and registry manifests.
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

// minCustomFieldID is the first field_id available to user-defined fields;
// 1..26 belong to the seeded standard fields.
const minCustomFieldID = 27

// RuleFieldRepository handles database operations for the field catalog.
type RuleFieldRepository struct {
	db Querier
}

// NewRuleFieldRepository creates a new field repository.
func NewRuleFieldRepository(db Querier) *RuleFieldRepository {
	return &RuleFieldRepository{db: db}
}

const ruleFieldColumns = `
	field_key, field_id, display_name, description, data_type, allowed_operators,
	multi_value_allowed, enum_values, is_sensitive, is_active, current_version,
	row_version, created_by, created_at, updated_at
`

// ListActiveFields returns every active field, ordered by field_id. This is
// the query backing the in-process catalog cache.
func (r *RuleFieldRepository) ListActiveFields(ctx context.Context) ([]*models.RuleField, error) {
	query := `SELECT ` + ruleFieldColumns + ` FROM rule_fields WHERE is_active = TRUE ORDER BY field_id`

	fields := make([]*models.RuleField, 0)
	if err := r.db.SelectContext(ctx, &fields, query); err != nil {
		return nil, fmt.Errorf("failed to list active fields: %w", err)
	}

	return fields, nil
}

// ListAllFields returns every field regardless of activation, ordered by
// field_id. Compilation validates against this set so that approved rules
// referencing since-deactivated fields still compile.
func (r *RuleFieldRepository) ListAllFields(ctx context.Context) ([]*models.RuleField, error) {
	query := `SELECT ` + ruleFieldColumns + ` FROM rule_fields ORDER BY field_id`

	fields := make([]*models.RuleField, 0)
	if err := r.db.SelectContext(ctx, &fields, query); err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}

	return fields, nil
}

// GetField retrieves a field identity by its key.
func (r *RuleFieldRepository) GetField(ctx context.Context, fieldKey string) (*models.RuleField, error) {
	query := `SELECT ` + ruleFieldColumns + ` FROM rule_fields WHERE field_key = $1`

	var field models.RuleField
	err := r.db.GetContext(ctx, &field, query, fieldKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}

	return &field, nil
}

// NextFieldID returns the first unused field_id at or above the custom range.
func (r *RuleFieldRepository) NextFieldID(ctx context.Context) (int, error) {
	var next int
	err := r.db.GetContext(ctx, &next,
		`SELECT GREATEST(COALESCE(MAX(field_id), 0) + 1, $1) FROM rule_fields`, minCustomFieldID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next field id: %w", err)
	}
	return next, nil
}

// CreateField inserts a new field identity.
func (r *RuleFieldRepository) CreateField(ctx context.Context, field *models.RuleField) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	field.CreatedAt = now
	field.UpdatedAt = now
	if field.CurrentVersion == 0 {
		field.CurrentVersion = 1
	}
	if field.RowVersion == 0 {
		field.RowVersion = 1
	}

	query := `
		INSERT INTO rule_fields (field_key, field_id, display_name, description, data_type, allowed_operators,
		                         multi_value_allowed, enum_values, is_sensitive, is_active, current_version,
		                         row_version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query,
		field.FieldKey, field.FieldID, field.DisplayName, field.Description, field.DataType,
		field.AllowedOperators, field.MultiValueAllowed, field.EnumValues, field.IsSensitive,
		field.IsActive, field.CurrentVersion, field.RowVersion, field.CreatedBy, field.CreatedAt, field.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperrors.Conflict("field already exists", map[string]any{
				"field_key": field.FieldKey,
			}).WithCause(err)
		}
		return wrapDBError(err, "failed to create field")
	}

	return nil
}

// UpdateFieldFromVersion applies an approved version snapshot to the identity
// row with an optimistic lock on row_version.
func (r *RuleFieldRepository) UpdateFieldFromVersion(ctx context.Context, version *models.RuleFieldVersion, expectedRowVersion int) error {
	query := `
		UPDATE rule_fields
		SET display_name = $1, description = $2, allowed_operators = $3, multi_value_allowed = $4,
		    enum_values = $5, is_sensitive = $6, current_version = $7,
		    row_version = row_version + 1, updated_at = NOW()
		WHERE field_key = $8 AND row_version = $9
	`

	result, err := r.db.ExecContext(ctx, query,
		version.DisplayName, version.Description, version.AllowedOperators, version.MultiValueAllowed,
		version.EnumValues, version.IsSensitive, version.Version, version.FieldKey, expectedRowVersion,
	)
	if err != nil {
		return wrapDBError(err, "failed to update field")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update field: %w", err)
	}
	if affected == 0 {
		return apperrors.Conflict("field was modified concurrently", map[string]any{
			"field_key":            version.FieldKey,
			"expected_row_version": expectedRowVersion,
		})
	}

	return nil
}

// SetFieldActive toggles a field's catalog membership.
func (r *RuleFieldRepository) SetFieldActive(ctx context.Context, fieldKey string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE rule_fields SET is_active = $1, updated_at = NOW() WHERE field_key = $2`, active, fieldKey)
	if err != nil {
		return wrapDBError(err, "failed to update field activity")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update field activity: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("field not found", map[string]any{"field_key": fieldKey})
	}

	return nil
}

// CreateFieldVersion inserts a new immutable field version snapshot.
func (r *RuleFieldRepository) CreateFieldVersion(ctx context.Context, version *models.RuleFieldVersion) error {
	version.ID = identifier.NewID()
	version.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if version.Status == "" {
		version.Status = domain.StatusDraft
	}

	query := `
		INSERT INTO rule_field_versions (id, field_key, version, display_name, description, data_type,
		                                 allowed_operators, multi_value_allowed, enum_values, is_sensitive,
		                                 status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		version.ID, version.FieldKey, version.Version, version.DisplayName, version.Description,
		version.DataType, version.AllowedOperators, version.MultiValueAllowed, version.EnumValues,
		version.IsSensitive, version.Status, version.CreatedBy, version.CreatedAt,
	)
	if err != nil {
		return wrapDBError(err, "failed to create field version")
	}

	return nil
}

// GetFieldVersionByID retrieves a field version by id.
func (r *RuleFieldRepository) GetFieldVersionByID(ctx context.Context, id uuid.UUID) (*models.RuleFieldVersion, error) {
	query := `
		SELECT id, field_key, version, display_name, description, data_type, allowed_operators,
		       multi_value_allowed, enum_values, is_sensitive, status, created_by, created_at, approved_by, approved_at
		FROM rule_field_versions
		WHERE id = $1
	`

	var version models.RuleFieldVersion
	err := r.db.GetContext(ctx, &version, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field version: %w", err)
	}

	return &version, nil
}

// LockFieldVersion loads a field version with a row-level lock.
func (r *RuleFieldRepository) LockFieldVersion(ctx context.Context, id uuid.UUID) (*models.RuleFieldVersion, error) {
	query := `
		SELECT id, field_key, version, display_name, description, data_type, allowed_operators,
		       multi_value_allowed, enum_values, is_sensitive, status, created_by, created_at, approved_by, approved_at
		FROM rule_field_versions
		WHERE id = $1
		FOR UPDATE
	`

	var version models.RuleFieldVersion
	err := r.db.GetContext(ctx, &version, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock field version: %w", err)
	}

	return &version, nil
}

// UpdateFieldVersionStatus transitions a field version's status.
func (r *RuleFieldRepository) UpdateFieldVersionStatus(ctx context.Context, id uuid.UUID, status domain.EntityStatus, approvedBy *string, approvedAt *time.Time) error {
	query := `
		UPDATE rule_field_versions
		SET status = $1, approved_by = COALESCE($2, approved_by), approved_at = COALESCE($3, approved_at)
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, status, approvedBy, approvedAt, id)
	if err != nil {
		return wrapDBError(err, "failed to update field version status")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update field version status: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("field version not found", map[string]any{"field_version_id": id})
	}

	return nil
}

// SupersedeApprovedVersions demotes every APPROVED version of a field except
// the given one.
func (r *RuleFieldRepository) SupersedeApprovedVersions(ctx context.Context, fieldKey string, exceptVersionID uuid.UUID) error {
	query := `
		UPDATE rule_field_versions
		SET status = $1
		WHERE field_key = $2 AND status = $3 AND id <> $4
	`

	_, err := r.db.ExecContext(ctx, query, domain.StatusSuperseded, fieldKey, domain.StatusApproved, exceptVersionID)
	if err != nil {
		return wrapDBError(err, "failed to supersede field versions")
	}

	return nil
}

// ListApprovedFieldVersions returns the latest APPROVED snapshot per field,
// ordered by field_id. This is what registry publication serializes.
func (r *RuleFieldRepository) ListApprovedFieldVersions(ctx context.Context) ([]*models.RuleFieldVersion, error) {
	query := `
		SELECT DISTINCT ON (fv.field_key)
		       fv.id, fv.field_key, fv.version, fv.display_name, fv.description, fv.data_type,
		       fv.allowed_operators, fv.multi_value_allowed, fv.enum_values, fv.is_sensitive,
		       fv.status, fv.created_by, fv.created_at, fv.approved_by, fv.approved_at
		FROM rule_field_versions fv
		WHERE fv.status = $1
		ORDER BY fv.field_key, fv.version DESC
	`

	versions := make([]*models.RuleFieldVersion, 0)
	if err := r.db.SelectContext(ctx, &versions, query, domain.StatusApproved); err != nil {
		return nil, fmt.Errorf("failed to list approved field versions: %w", err)
	}

	return versions, nil
}

// ListFields returns a keyset page of field identities, newest first.
func (r *RuleFieldRepository) ListFields(ctx context.Context, activeOnly bool, req PageRequest) (Page[models.RuleField], error) {
	req = req.Normalize(DefaultPageLimit, MaxPageLimit)

	query := `SELECT ` + ruleFieldColumns + ` FROM rule_fields WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if activeOnly {
		query += ` AND is_active = TRUE`
	}

	// Field identities have no surrogate uuid; page on (created_at, field_id)
	// mapped into the shared cursor via a nil-suffixed uuid.
	if req.Cursor != nil {
		op := "<"
		if req.Direction == DirectionPrev {
			op = ">"
		}
		query += fmt.Sprintf(` AND (created_at, field_id) %s ($%d, $%d)`, op, paramIndex, paramIndex+1)
		args = append(args, req.Cursor.CreatedAt, fieldIDFromCursor(req.Cursor.ID))
		paramIndex += 2
	}

	order := "DESC"
	if req.Direction == DirectionPrev {
		order = "ASC"
	}
	query += fmt.Sprintf(` ORDER BY created_at %s, field_id %s LIMIT $%d`, order, order, paramIndex)
	args = append(args, req.Limit+1)

	rows := make([]models.RuleField, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.RuleField]{}, fmt.Errorf("failed to list fields: %w", err)
	}

	return BuildPage(rows, req, func(f models.RuleField) (uuid.UUID, time.Time) {
		return cursorIDFromFieldID(f.FieldID), f.CreatedAt
	}), nil
}

// UpsertFieldMetadata inserts or replaces one (field_key, meta_key) row.
func (r *RuleFieldRepository) UpsertFieldMetadata(ctx context.Context, meta *models.RuleFieldMetadata) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	meta.UpdatedAt = now

	query := `
		INSERT INTO rule_field_metadata (field_key, meta_key, meta_value, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (field_key, meta_key) DO UPDATE
		SET meta_value = EXCLUDED.meta_value, description = EXCLUDED.description, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, meta.FieldKey, meta.MetaKey, meta.MetaValue, meta.Description, now)
	if err != nil {
		return wrapDBError(err, "failed to upsert field metadata")
	}

	return nil
}

// GetFieldMetadata returns all metadata rows for a field.
func (r *RuleFieldRepository) GetFieldMetadata(ctx context.Context, fieldKey string) ([]*models.RuleFieldMetadata, error) {
	query := `
		SELECT field_key, meta_key, meta_value, description, created_at, updated_at
		FROM rule_field_metadata
		WHERE field_key = $1
		ORDER BY meta_key
	`

	rows := make([]*models.RuleFieldMetadata, 0)
	if err := r.db.SelectContext(ctx, &rows, query, fieldKey); err != nil {
		return nil, fmt.Errorf("failed to get field metadata: %w", err)
	}

	return rows, nil
}

// NextRegistryVersion returns MAX(registry_version)+1.
func (r *RuleFieldRepository) NextRegistryVersion(ctx context.Context) (int, error) {
	var next int
	err := r.db.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(registry_version), 0) + 1 FROM field_registry_manifests`)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next registry version: %w", err)
	}
	return next, nil
}

// CreateRegistryManifest inserts a registry publication record.
func (r *RuleFieldRepository) CreateRegistryManifest(ctx context.Context, manifest *models.FieldRegistryManifest) error {
	manifest.ID = identifier.NewID()
	manifest.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	query := `
		INSERT INTO field_registry_manifests (id, registry_version, artifact_uri, checksum, field_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		manifest.ID, manifest.RegistryVersion, manifest.ArtifactURI, manifest.Checksum,
		manifest.FieldCount, manifest.CreatedBy, manifest.CreatedAt,
	)
	if err != nil {
		return wrapDBError(err, "failed to create registry manifest")
	}

	return nil
}

// GetLatestRegistryManifest returns the newest registry manifest, or nil.
func (r *RuleFieldRepository) GetLatestRegistryManifest(ctx context.Context) (*models.FieldRegistryManifest, error) {
	query := `
		SELECT id, registry_version, artifact_uri, checksum, field_count, created_by, created_at
		FROM field_registry_manifests
		ORDER BY registry_version DESC
		LIMIT 1
	`

	var manifest models.FieldRegistryManifest
	err := r.db.GetContext(ctx, &manifest, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest registry manifest: %w", err)
	}

	return &manifest, nil
}

// fieldIDFromCursor and cursorIDFromFieldID pack the integer field_id into the
// uuid slot of the shared cursor shape.
func fieldIDFromCursor(id uuid.UUID) int {
	return int(id[12])<<24 | int(id[13])<<16 | int(id[14])<<8 | int(id[15])
}

func cursorIDFromFieldID(fieldID int) uuid.UUID {
	var id uuid.UUID
	id[12] = byte(fieldID >> 24)
	id[13] = byte(fieldID >> 16)
	id[14] = byte(fieldID >> 8)
	id[15] = byte(fieldID)
	return id
}
