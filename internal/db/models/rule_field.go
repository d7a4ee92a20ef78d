// Package models - rule_field.go defines the field catalog models: field identities,
// immutable field versions, per-field metadata, and the published registry manifest.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// RuleField is a field identity in the catalog. field_key is the immutable
// primary key; field_id is a monotonic integer assigned once (1..26 are the
// seeded standard fields).
type RuleField struct {
	FieldKey          string          `json:"field_key" db:"field_key"`
	FieldID           int             `json:"field_id" db:"field_id"`
	DisplayName       string          `json:"display_name" db:"display_name"`
	Description       *string         `json:"description,omitempty" db:"description"`
	DataType          domain.DataType `json:"data_type" db:"data_type"`
	AllowedOperators  pq.StringArray  `json:"allowed_operators" db:"allowed_operators"`
	MultiValueAllowed bool            `json:"multi_value_allowed" db:"multi_value_allowed"`
	EnumValues        pq.StringArray  `json:"enum_values,omitempty" db:"enum_values"`
	IsSensitive       bool            `json:"is_sensitive" db:"is_sensitive"`
	IsActive          bool            `json:"is_active" db:"is_active"`
	CurrentVersion    int             `json:"current_version" db:"current_version"`
	RowVersion        int             `json:"row_version" db:"row_version"`
	CreatedBy         string          `json:"created_by" db:"created_by"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Operators converts the stored operator strings to typed operators.
func (f *RuleField) Operators() []domain.Operator {
	ops := make([]domain.Operator, 0, len(f.AllowedOperators))
	for _, op := range f.AllowedOperators {
		ops = append(ops, domain.Operator(op))
	}
	return ops
}

// RuleFieldVersion is an immutable snapshot of a field definition.
// (field_key, version) is unique.
type RuleFieldVersion struct {
	ID                uuid.UUID           `json:"id" db:"id"`
	FieldKey          string              `json:"field_key" db:"field_key"`
	Version           int                 `json:"version" db:"version"`
	DisplayName       string              `json:"display_name" db:"display_name"`
	Description       *string             `json:"description,omitempty" db:"description"`
	DataType          domain.DataType     `json:"data_type" db:"data_type"`
	AllowedOperators  pq.StringArray      `json:"allowed_operators" db:"allowed_operators"`
	MultiValueAllowed bool                `json:"multi_value_allowed" db:"multi_value_allowed"`
	EnumValues        pq.StringArray      `json:"enum_values,omitempty" db:"enum_values"`
	IsSensitive       bool                `json:"is_sensitive" db:"is_sensitive"`
	Status            domain.EntityStatus `json:"status" db:"status"`
	CreatedBy         string              `json:"created_by" db:"created_by"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	ApprovedBy        *string             `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt        *time.Time          `json:"approved_at,omitempty" db:"approved_at"`
}

// RuleFieldMetadata is an extensible (field_key, meta_key) -> JSON value row
// carrying UI hints, velocity parameters, and similar per-field data.
type RuleFieldMetadata struct {
	FieldKey    string          `json:"field_key" db:"field_key"`
	MetaKey     string          `json:"meta_key" db:"meta_key"`
	MetaValue   json.RawMessage `json:"meta_value" db:"meta_value"`
	Description *string         `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// FieldRegistryManifest records one published snapshot of the field registry.
// Unique by registry_version.
type FieldRegistryManifest struct {
	ID              uuid.UUID `json:"id" db:"id"`
	RegistryVersion int       `json:"registry_version" db:"registry_version"`
	ArtifactURI     string    `json:"artifact_uri" db:"artifact_uri"`
	Checksum        string    `json:"checksum" db:"checksum"`
	FieldCount      int       `json:"field_count" db:"field_count"`
	CreatedBy       string    `json:"created_by" db:"created_by"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
