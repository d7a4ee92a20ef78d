// manifest_repository.go implements ManifestRepository, providing database
// queries for the publication records that tie artifacts in object storage to
// approved ruleset versions.
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
	"github.com/fraud-governance/fraud-governance/pkg/checksum"
)

// ManifestRepository handles database operations for ruleset manifests.
type ManifestRepository struct {
	db Querier
}

// NewManifestRepository creates a new manifest repository.
func NewManifestRepository(db Querier) *ManifestRepository {
	return &ManifestRepository{db: db}
}

// ManifestFilters narrows manifest list queries.
type ManifestFilters struct {
	Environment *string
	Region      *string
	Country     *string
	RuleType    *domain.RuleType
}

const manifestColumns = `
	id, environment, region, country, rule_type, ruleset_version, ruleset_version_id,
	field_registry_version, artifact_uri, checksum, created_by, created_at
`

// Insert records one successful publication. The checksum must already carry
// the sha256 prefix; anything else is a caller bug surfaced as IntegrityError.
func (r *ManifestRepository) Insert(ctx context.Context, manifest *models.RulesetManifest) error {
	if !checksum.IsPrefixed(manifest.Checksum) {
		return apperrors.Integrity("manifest checksum is not a prefixed sha256 digest", map[string]any{
			"checksum": manifest.Checksum,
		})
	}

	manifest.ID = identifier.NewID()
	manifest.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	query := `
		INSERT INTO ruleset_manifests (id, environment, region, country, rule_type, ruleset_version,
		                               ruleset_version_id, field_registry_version, artifact_uri, checksum,
		                               created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		manifest.ID, manifest.Environment, manifest.Region, manifest.Country, manifest.RuleType,
		manifest.RulesetVersion, manifest.RulesetVersionID, manifest.FieldRegistryVersion,
		manifest.ArtifactURI, manifest.Checksum, manifest.CreatedBy, manifest.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperrors.Conflict("manifest already recorded for this ruleset version", map[string]any{
				"environment":     manifest.Environment,
				"region":          manifest.Region,
				"country":         manifest.Country,
				"rule_type":       manifest.RuleType,
				"ruleset_version": manifest.RulesetVersion,
			}).WithCause(err)
		}
		return wrapDBError(err, "failed to insert manifest")
	}

	return nil
}

// GetByID retrieves a manifest row.
func (r *ManifestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RulesetManifest, error) {
	query := `SELECT ` + manifestColumns + ` FROM ruleset_manifests WHERE id = $1`

	var manifest models.RulesetManifest
	err := r.db.GetContext(ctx, &manifest, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}

	return &manifest, nil
}

// GetLatest returns the newest manifest for a publication target, or nil.
func (r *ManifestRepository) GetLatest(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*models.RulesetManifest, error) {
	query := `
		SELECT ` + manifestColumns + `
		FROM ruleset_manifests
		WHERE environment = $1 AND region = $2 AND country = $3 AND rule_type = $4
		ORDER BY ruleset_version DESC
		LIMIT 1
	`

	var manifest models.RulesetManifest
	err := r.db.GetContext(ctx, &manifest, query, environment, region, country, ruleType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest manifest: %w", err)
	}

	return &manifest, nil
}

// GetByVersion returns the manifest for a specific published version, or nil.
func (r *ManifestRepository) GetByVersion(ctx context.Context, environment, region, country string, ruleType domain.RuleType, version int) (*models.RulesetManifest, error) {
	query := `
		SELECT ` + manifestColumns + `
		FROM ruleset_manifests
		WHERE environment = $1 AND region = $2 AND country = $3 AND rule_type = $4 AND ruleset_version = $5
	`

	var manifest models.RulesetManifest
	err := r.db.GetContext(ctx, &manifest, query, environment, region, country, ruleType, version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest by version: %w", err)
	}

	return &manifest, nil
}

// List returns a keyset page of manifests, newest first.
func (r *ManifestRepository) List(ctx context.Context, filters ManifestFilters, req PageRequest) (Page[models.RulesetManifest], error) {
	req = req.Normalize(DefaultPageLimit, MaxPageLimit)

	query := `SELECT ` + manifestColumns + ` FROM ruleset_manifests WHERE 1=1`
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

	rows := make([]models.RulesetManifest, 0, req.Limit+1)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Page[models.RulesetManifest]{}, fmt.Errorf("failed to list manifests: %w", err)
	}

	return BuildPage(rows, req, func(m models.RulesetManifest) (uuid.UUID, time.Time) {
		return m.ID, m.CreatedAt
	}), nil
}
