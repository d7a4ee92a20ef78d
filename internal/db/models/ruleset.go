// Package models - ruleset.go defines the Ruleset identity (unique per
// environment/region/country/rule_type), its immutable versions, and the
// snapshot-bound membership rows.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// Ruleset is a ruleset identity. The natural key
// (environment, region, country, rule_type) is unique and immutable after
// creation; name and description stay mutable.
type Ruleset struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Environment string          `json:"environment" db:"environment"`
	Region      string          `json:"region" db:"region"`
	Country     string          `json:"country" db:"country"`
	RuleType    domain.RuleType `json:"rule_type" db:"rule_type"`
	Name        string          `json:"name" db:"name"`
	Description *string         `json:"description,omitempty" db:"description"`
	CreatedBy   string          `json:"created_by" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// RulesetVersion is an immutable snapshot of a ruleset's membership.
// (ruleset_id, version) is unique. At most one version per ruleset is ACTIVE.
type RulesetVersion struct {
	ID          uuid.UUID           `json:"id" db:"id"`
	RulesetID   uuid.UUID           `json:"ruleset_id" db:"ruleset_id"`
	Version     int                 `json:"version" db:"version"`
	Status      domain.EntityStatus `json:"status" db:"status"`
	CreatedBy   string              `json:"created_by" db:"created_by"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	ApprovedBy  *string             `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt  *time.Time          `json:"approved_at,omitempty" db:"approved_at"`
	ActivatedAt *time.Time          `json:"activated_at,omitempty" db:"activated_at"`
	// Joined fields (not stored in ruleset_versions)
	RuleCount *int `json:"rule_count,omitempty" db:"rule_count"`
}

// RulesetVersionRule binds one rule-version snapshot into one ruleset version.
// A database trigger rejects rows whose rule type differs from the ruleset's.
type RulesetVersionRule struct {
	RulesetVersionID uuid.UUID `json:"ruleset_version_id" db:"ruleset_version_id"`
	RuleVersionID    uuid.UUID `json:"rule_version_id" db:"rule_version_id"`
}
