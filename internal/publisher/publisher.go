// Package publisher pushes compiled ruleset artifacts to object storage and
// records their manifests. The write order is fixed: immutable artifact first,
// then the manifest row, then the mutable pointer consumers poll. A crash
// between steps leaves at worst an unreferenced artifact, never a pointer to
// data that does not exist.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/canonicaljson"
	"github.com/fraud-governance/fraud-governance/internal/compiler"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/storage"
	"github.com/fraud-governance/fraud-governance/internal/telemetry"
)

// Publisher publishes compiled ruleset versions.
type Publisher struct {
	db             *sqlx.DB
	compiler       *compiler.Compiler
	store          storage.Backend
	artifactPrefix string
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger

	now func() time.Time
}

// New creates a publisher writing through store.
func New(db *sqlx.DB, comp *compiler.Compiler, store storage.Backend, artifactPrefix string, maxRetries int, retryBaseDelay time.Duration, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:             db,
		compiler:       comp,
		store:          store,
		artifactPrefix: artifactPrefix,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// rulesetPointer is the mutable manifest.json consumers poll for a target.
type rulesetPointer struct {
	SchemaVersion  string    `json:"schema_version"`
	Environment    string    `json:"environment"`
	Region         string    `json:"region"`
	Country        string    `json:"country"`
	RulesetKey     string    `json:"ruleset_key"`
	RulesetVersion int       `json:"ruleset_version"`
	ArtifactURI    string    `json:"artifact_uri"`
	Checksum       string    `json:"checksum"`
	PublishedAt    time.Time `json:"published_at"`
}

// Staged is a publication whose artifact and manifest row are written but
// whose pointer has not moved yet. WritePointer finishes it once the
// surrounding transaction has committed.
type Staged struct {
	Manifest   *models.RulesetManifest
	RulesetKey domain.RulesetKey

	artifactKey string
	pointerKey  string
}

// PublishVersion compiles and publishes a specific ruleset version in its own
// transaction. Only APPROVED and ACTIVE versions publish through this path.
func (p *Publisher) PublishVersion(ctx context.Context, rulesetVersionID uuid.UUID, actor string) (*models.RulesetManifest, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := p.compiler.Compile(ctx, tx, rulesetVersionID, false)
	if err != nil {
		return nil, err
	}

	staged, err := p.Stage(ctx, tx, result, actor)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if err := p.WritePointer(ctx, staged); err != nil {
		return nil, err
	}

	return staged.Manifest, nil
}

// Stage writes the immutable artifact and records the manifest row through q,
// which is normally an open transaction. The pointer does not move until the
// caller commits and invokes WritePointer; runtime consumers never observe a
// version whose manifest row could still roll back.
//
// Staging is idempotent: re-staging an already-recorded version verifies the
// checksum against the existing manifest row and reuses it, so a publish that
// crashed before the pointer write can be repaired by running it again.
func (p *Publisher) Stage(ctx context.Context, q repositories.Querier, result *compiler.Result, actor string) (*Staged, error) {
	key, ok := domain.RulesetKeyFor(result.Ruleset.RuleType)
	if !ok {
		return nil, apperrors.Validation("rule type is not publishable", map[string]any{
			"rule_type":  string(result.Ruleset.RuleType),
			"ruleset_id": result.Ruleset.ID.String(),
		})
	}

	targetDir := path.Join(p.artifactPrefix, "rulesets",
		result.Ruleset.Environment, result.Ruleset.Region, result.Ruleset.Country, string(key))
	artifactKey := path.Join(targetDir, fmt.Sprintf("v%d", result.RulesetVersion.Version), "ruleset.json")
	pointerKey := path.Join(targetDir, "manifest.json")

	// Remember whether the artifact predates this attempt, so a failed row
	// insert only cleans up bytes this call wrote. When the check itself
	// fails, keep the artifact.
	existed, err := p.store.Exists(ctx, artifactKey)
	if err != nil {
		existed = true
	}

	if err := storage.Retry(ctx, p.maxRetries, p.retryBaseDelay, func() error {
		return p.store.PutImmutable(ctx, artifactKey, result.Payload)
	}); err != nil {
		return nil, err
	}

	fields := repositories.NewRuleFieldRepository(q)
	latestRegistry, err := fields.GetLatestRegistryManifest(ctx)
	if err != nil {
		return nil, err
	}
	var registryVersion *int
	if latestRegistry != nil {
		registryVersion = &latestRegistry.RegistryVersion
	}

	manifest := &models.RulesetManifest{
		Environment:          result.Ruleset.Environment,
		Region:               result.Ruleset.Region,
		Country:              result.Ruleset.Country,
		RuleType:             result.Ruleset.RuleType,
		RulesetVersion:       result.RulesetVersion.Version,
		RulesetVersionID:     result.RulesetVersion.ID,
		FieldRegistryVersion: registryVersion,
		ArtifactURI:          p.store.URI(artifactKey),
		Checksum:             result.Checksum,
		CreatedBy:            actor,
	}

	manifests := repositories.NewManifestRepository(q)
	if err := manifests.Insert(ctx, manifest); err != nil {
		if apperrors.IsKind(err, apperrors.ConflictError) {
			manifest, err = p.reconcileExisting(ctx, manifests, result)
			if err != nil {
				return nil, err
			}
		} else {
			if !existed {
				if delErr := p.store.Delete(ctx, artifactKey); delErr != nil {
					p.logger.Warn("failed to remove artifact after manifest insert failure",
						slog.String("key", artifactKey),
						slog.String("error", delErr.Error()))
				}
			}
			return nil, err
		}
	}

	audit := repositories.NewAuditRepository(q)
	if err := audit.Insert(ctx, &models.AuditEntry{
		EntityType:  "RULESET_VERSION",
		EntityID:    result.RulesetVersion.ID.String(),
		Action:      "PUBLISH",
		PerformedBy: actor,
	}); err != nil {
		return nil, err
	}

	return &Staged{
		Manifest:    manifest,
		RulesetKey:  key,
		artifactKey: artifactKey,
		pointerKey:  pointerKey,
	}, nil
}

// reconcileExisting resolves a manifest-row conflict during staging. A
// matching checksum means a previous publish already recorded this version
// and only the pointer needs repair; a mismatch means the immutable artifact
// and the manifest disagree, which operators must resolve by hand.
func (p *Publisher) reconcileExisting(ctx context.Context, manifests *repositories.ManifestRepository, result *compiler.Result) (*models.RulesetManifest, error) {
	existing, err := manifests.GetByVersion(ctx,
		result.Ruleset.Environment, result.Ruleset.Region, result.Ruleset.Country,
		result.Ruleset.RuleType, result.RulesetVersion.Version)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.Conflict("manifest already recorded for this ruleset version", map[string]any{
			"ruleset_version_id": result.RulesetVersion.ID.String(),
		})
	}
	if existing.Checksum != result.Checksum {
		return nil, apperrors.Integrity("recorded manifest checksum does not match compiled artifact", map[string]any{
			"ruleset_version_id": result.RulesetVersion.ID.String(),
			"recorded_checksum":  existing.Checksum,
			"compiled_checksum":  result.Checksum,
		})
	}
	p.logger.Info("manifest already recorded, repairing pointer",
		slog.String("ruleset_version_id", result.RulesetVersion.ID.String()),
		slog.Int("ruleset_version", result.RulesetVersion.Version))
	return existing, nil
}

// WritePointer repoints the target's manifest.json at the staged version.
// The caller must have committed the transaction that staged the manifest.
func (p *Publisher) WritePointer(ctx context.Context, staged *Staged) error {
	m := staged.Manifest
	pointer := rulesetPointer{
		SchemaVersion:  "1.0",
		Environment:    m.Environment,
		Region:         m.Region,
		Country:        m.Country,
		RulesetKey:     string(staged.RulesetKey),
		RulesetVersion: m.RulesetVersion,
		ArtifactURI:    m.ArtifactURI,
		Checksum:       m.Checksum,
		PublishedAt:    p.now(),
	}
	payload, err := canonicaljson.Marshal(pointer)
	if err != nil {
		return fmt.Errorf("failed to serialize ruleset pointer: %w", err)
	}

	if err := storage.Retry(ctx, p.maxRetries, p.retryBaseDelay, func() error {
		return p.store.PutPointer(ctx, staged.pointerKey, payload)
	}); err != nil {
		// The manifest row is committed; the artifact is durable. Re-running
		// the publish repairs the pointer without duplicating the artifact.
		telemetry.PointerWriteFailuresTotal.Inc()
		p.logger.Error("ruleset pointer write failed after manifest commit",
			slog.String("ruleset_version_id", m.RulesetVersionID.String()),
			slog.Int("ruleset_version", m.RulesetVersion),
			slog.String("error", err.Error()))
		return err
	}

	p.logger.Info("ruleset version published",
		slog.String("ruleset_version_id", m.RulesetVersionID.String()),
		slog.String("environment", m.Environment),
		slog.String("region", m.Region),
		slog.String("country", m.Country),
		slog.String("ruleset_key", string(staged.RulesetKey)),
		slog.Int("ruleset_version", m.RulesetVersion),
		slog.String("checksum", m.Checksum),
		slog.String("published_by", m.CreatedBy))
	return nil
}
