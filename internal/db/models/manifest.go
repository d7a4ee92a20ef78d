// Package models - manifest.go defines the RulesetManifest publication record,
// the governance source of truth for what has been published where.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// RulesetManifest records one successful artifact publication. Unique by
// (environment, region, country, rule_type, ruleset_version). The checksum
// column carries the sha256-prefixed digest of the artifact bytes.
type RulesetManifest struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	Environment          string          `json:"environment" db:"environment"`
	Region               string          `json:"region" db:"region"`
	Country              string          `json:"country" db:"country"`
	RuleType             domain.RuleType `json:"rule_type" db:"rule_type"`
	RulesetVersion       int             `json:"ruleset_version" db:"ruleset_version"`
	RulesetVersionID     uuid.UUID       `json:"ruleset_version_id" db:"ruleset_version_id"`
	FieldRegistryVersion *int            `json:"field_registry_version,omitempty" db:"field_registry_version"`
	ArtifactURI          string          `json:"artifact_uri" db:"artifact_uri"`
	Checksum             string          `json:"checksum" db:"checksum"`
	CreatedBy            string          `json:"created_by" db:"created_by"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}
