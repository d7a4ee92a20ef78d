// Package models - rule.go defines the Rule identity and the immutable RuleVersion
// snapshots that carry the condition tree, scope, priority, and action.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// Rule is a rule identity. Versioned content lives in RuleVersion rows;
// the identity tracks the current version and an optimistic-lock counter.
type Rule struct {
	ID             uuid.UUID           `json:"id" db:"id"`
	Name           string              `json:"name" db:"name"`
	Description    *string             `json:"description,omitempty" db:"description"`
	RuleType       domain.RuleType     `json:"rule_type" db:"rule_type"`
	Status         domain.EntityStatus `json:"status" db:"status"`
	CurrentVersion int                 `json:"current_version" db:"current_version"`
	RowVersion     int                 `json:"row_version" db:"row_version"`
	CreatedBy      string              `json:"created_by" db:"created_by"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// RuleVersion is an immutable snapshot of a rule's content.
// (rule_id, version) is unique; content never changes after APPROVED.
type RuleVersion struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	RuleID        uuid.UUID           `json:"rule_id" db:"rule_id"`
	Version       int                 `json:"version" db:"version"`
	ConditionTree json.RawMessage     `json:"condition_tree" db:"condition_tree"`
	Scope         json.RawMessage     `json:"scope" db:"scope"`
	Priority      int                 `json:"priority" db:"priority"`
	Action        domain.RuleAction   `json:"action" db:"action"`
	Status        domain.EntityStatus `json:"status" db:"status"`
	CreatedBy     string              `json:"created_by" db:"created_by"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	ApprovedBy    *string             `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt    *time.Time          `json:"approved_at,omitempty" db:"approved_at"`
	// Joined fields (not stored in rule_versions)
	RuleName *string          `json:"rule_name,omitempty" db:"rule_name"`
	RuleType *domain.RuleType `json:"rule_type,omitempty" db:"rule_type"`
}

// RuleSummary is the list-endpoint projection joining the identity with its
// current version's priority and action in a single query.
type RuleSummary struct {
	Rule
	CurrentPriority *int               `json:"current_priority,omitempty" db:"current_priority"`
	CurrentAction   *domain.RuleAction `json:"current_action,omitempty" db:"current_action"`
	VersionCount    int                `json:"version_count" db:"version_count"`
}
