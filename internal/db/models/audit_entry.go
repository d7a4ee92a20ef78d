// Package models - audit_entry.go defines the append-only audit log row with
// before/after JSON snapshots for every state-changing operation.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only audit record. OldValue and NewValue hold
// structural JSON diffs, or full snapshots for creates.
type AuditEntry struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	EntityType  string          `json:"entity_type" db:"entity_type"`
	EntityID    string          `json:"entity_id" db:"entity_id"`
	Action      string          `json:"action" db:"action"`
	OldValue    json.RawMessage `json:"old_value,omitempty" db:"old_value"`
	NewValue    json.RawMessage `json:"new_value,omitempty" db:"new_value"`
	PerformedBy string          `json:"performed_by" db:"performed_by"`
	PerformedAt time.Time       `json:"performed_at" db:"performed_at"`
}
