// Package models - approval.go defines the Approval workflow row recording
// maker-checker submit/approve/reject actions against versioned entities.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// Approval is one workflow action against a versioned entity. The pair
// (entity_type, entity_id, idempotency_key) is unique when the key is set,
// which is what makes submit retries idempotent.
type Approval struct {
	ID             uuid.UUID                 `json:"id" db:"id"`
	EntityType     domain.ApprovalEntityType `json:"entity_type" db:"entity_type"`
	EntityID       uuid.UUID                 `json:"entity_id" db:"entity_id"`
	Action         domain.ApprovalAction     `json:"action" db:"action"`
	Status         domain.ApprovalStatus     `json:"status" db:"status"`
	Maker          string                    `json:"maker" db:"maker"`
	Checker        *string                   `json:"checker,omitempty" db:"checker"`
	Remarks        *string                   `json:"remarks,omitempty" db:"remarks"`
	IdempotencyKey *string                   `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time                 `json:"created_at" db:"created_at"`
	DecidedAt      *time.Time                `json:"decided_at,omitempty" db:"decided_at"`
	// Joined fields (not stored in approvals)
	EntityName *string `json:"entity_name,omitempty" db:"entity_name"`
}
