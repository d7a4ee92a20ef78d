package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/fraud-governance/fraud-governance/internal/canonicaljson"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/storage"
	"github.com/fraud-governance/fraud-governance/internal/telemetry"
	"github.com/fraud-governance/fraud-governance/pkg/checksum"
)

// RegistryPublisher publishes immutable snapshots of the active field catalog
// for runtime consumers. Write order mirrors the ruleset publisher: artifact
// first, then the registry manifest row, then the mutable pointer. A crash
// between steps leaves at worst an unreferenced artifact, never a pointer to
// missing data.
type RegistryPublisher struct {
	catalog        *Service
	store          storage.Backend
	artifactPrefix string
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger

	now func() time.Time
}

// NewRegistryPublisher creates a registry publisher writing through store.
func NewRegistryPublisher(catalog *Service, store storage.Backend, artifactPrefix string, maxRetries int, retryBaseDelay time.Duration, logger *slog.Logger) *RegistryPublisher {
	return &RegistryPublisher{
		catalog:        catalog,
		store:          store,
		artifactPrefix: artifactPrefix,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// registryField is the wire form of one field inside a registry artifact.
type registryField struct {
	FieldID           int      `json:"fieldId"`
	FieldKey          string   `json:"fieldKey"`
	DisplayName       string   `json:"displayName"`
	DataType          string   `json:"dataType"`
	Operators         []string `json:"operators"`
	MultiValueAllowed bool     `json:"multiValueAllowed"`
	EnumValues        []string `json:"enumValues,omitempty"`
	Sensitive         bool     `json:"sensitive"`
}

// registryArtifact is the canonical payload of fields.json. It carries no
// timestamps so that byte-identical catalogs compile to byte-identical
// artifacts regardless of when they are published.
type registryArtifact struct {
	RegistryVersion int             `json:"registryVersion"`
	Fields          []registryField `json:"fields"`
}

// registryPointer is the mutable manifest.json consumers poll.
type registryPointer struct {
	SchemaVersion   string    `json:"schema_version"`
	RegistryVersion int       `json:"registry_version"`
	ArtifactURI     string    `json:"artifact_uri"`
	Checksum        string    `json:"checksum"`
	FieldCount      int       `json:"field_count"`
	PublishedAt     time.Time `json:"published_at"`
}

// Publish snapshots the active catalog to
// {prefix}/fields/registry/v{N}/fields.json, records the registry manifest
// row, and repoints {prefix}/fields/registry/manifest.json.
func (p *RegistryPublisher) Publish(ctx context.Context, actor string) (*models.FieldRegistryManifest, error) {
	tx, err := p.catalog.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	fields := repositories.NewRuleFieldRepository(tx)
	audit := repositories.NewAuditRepository(tx)

	registryVersion, err := fields.NextRegistryVersion(ctx)
	if err != nil {
		return nil, err
	}

	active, err := fields.ListActiveFields(ctx)
	if err != nil {
		return nil, err
	}

	artifact := registryArtifact{
		RegistryVersion: registryVersion,
		Fields:          make([]registryField, 0, len(active)),
	}
	// ListActiveFields orders by field_id, giving the artifact a stable field order.
	for _, f := range active {
		artifact.Fields = append(artifact.Fields, registryField{
			FieldID:           f.FieldID,
			FieldKey:          f.FieldKey,
			DisplayName:       f.DisplayName,
			DataType:          string(f.DataType),
			Operators:         f.AllowedOperators,
			MultiValueAllowed: f.MultiValueAllowed,
			EnumValues:        f.EnumValues,
			Sensitive:         f.IsSensitive,
		})
	}

	payload, err := canonicaljson.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize registry artifact: %w", err)
	}
	sum := checksum.Prefixed(payload)

	artifactKey := path.Join(p.artifactPrefix, fmt.Sprintf("fields/registry/v%d/fields.json", registryVersion))
	if err := storage.Retry(ctx, p.maxRetries, p.retryBaseDelay, func() error {
		return p.store.PutImmutable(ctx, artifactKey, payload)
	}); err != nil {
		return nil, err
	}

	manifest := &models.FieldRegistryManifest{
		RegistryVersion: registryVersion,
		ArtifactURI:     p.store.URI(artifactKey),
		Checksum:        sum,
		FieldCount:      len(active),
		CreatedBy:       actor,
	}
	if err := fields.CreateRegistryManifest(ctx, manifest); err != nil {
		return nil, err
	}

	if err := audit.Insert(ctx, &models.AuditEntry{
		EntityType:  "FIELD_REGISTRY",
		EntityID:    fmt.Sprintf("v%d", registryVersion),
		Action:      "PUBLISH",
		PerformedBy: actor,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	pointer := registryPointer{
		SchemaVersion:   "1.0",
		RegistryVersion: registryVersion,
		ArtifactURI:     manifest.ArtifactURI,
		Checksum:        sum,
		FieldCount:      len(active),
		PublishedAt:     p.now(),
	}
	pointerPayload, err := canonicaljson.Marshal(pointer)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize registry pointer: %w", err)
	}
	pointerKey := path.Join(p.artifactPrefix, "fields/registry/manifest.json")
	if err := storage.Retry(ctx, p.maxRetries, p.retryBaseDelay, func() error {
		return p.store.PutPointer(ctx, pointerKey, pointerPayload)
	}); err != nil {
		// The manifest row is committed; the artifact is durable. Re-running
		// the publish repairs the pointer without duplicating the artifact.
		telemetry.PointerWriteFailuresTotal.Inc()
		p.logger.Error("registry pointer write failed after manifest commit",
			slog.Int("registry_version", registryVersion),
			slog.String("error", err.Error()))
		return nil, err
	}

	p.catalog.Invalidate()
	p.logger.Info("field registry published",
		slog.Int("registry_version", registryVersion),
		slog.Int("field_count", len(active)),
		slog.String("checksum", sum),
		slog.String("published_by", actor))

	return manifest, nil
}

// Latest returns the most recently published registry manifest row.
func (p *RegistryPublisher) Latest(ctx context.Context) (*models.FieldRegistryManifest, error) {
	return p.catalog.fields.GetLatestRegistryManifest(ctx)
}
