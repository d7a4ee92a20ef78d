// Package approval implements the maker-checker workflow: SUBMIT, APPROVE,
// REJECT, and ACTIVATE transitions over rule versions, ruleset versions, and
// field versions. Every transition runs in one transaction with row-level
// locks on the identity row; approving a ruleset version also compiles and
// stages its publication inside that same transaction, so a version is never
// APPROVED without a recorded artifact.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/catalog"
	"github.com/fraud-governance/fraud-governance/internal/compiler"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/internal/notify"
	"github.com/fraud-governance/fraud-governance/internal/publisher"
)

// Engine drives the approval workflow.
type Engine struct {
	db        *sqlx.DB
	compiler  *compiler.Compiler
	publisher *publisher.Publisher
	catalog   *catalog.Service
	notifier  notify.Notifier
	logger    *slog.Logger

	now func() time.Time
}

// NewEngine creates an approval engine. notifier may be nil.
func NewEngine(db *sqlx.DB, comp *compiler.Compiler, pub *publisher.Publisher, cat *catalog.Service, notifier notify.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		db:        db,
		compiler:  comp,
		publisher: pub,
		catalog:   cat,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// SubmitInput identifies the version a maker wants reviewed.
type SubmitInput struct {
	EntityType     domain.ApprovalEntityType
	EntityID       uuid.UUID
	Actor          string
	Remarks        *string
	IdempotencyKey *string
}

// DecisionInput identifies the pending version a checker decides on.
type DecisionInput struct {
	EntityType domain.ApprovalEntityType
	EntityID   uuid.UUID
	Actor      string
	Remarks    *string
}

// Outcome is the result of an approve decision. Manifest is set only for
// ruleset-version approvals, which publish as part of the same transition.
type Outcome struct {
	Approval *models.Approval
	Manifest *models.RulesetManifest
}

// Submit moves a DRAFT or REJECTED version to PENDING_APPROVAL and records
// the submission. A repeated submit with the same idempotency key returns the
// original approval row without changing any state.
func (e *Engine) Submit(ctx context.Context, input SubmitInput) (*models.Approval, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	approvals := repositories.NewApprovalRepository(tx)

	if input.IdempotencyKey != nil {
		existing, err := approvals.FindByIdempotencyKey(ctx, input.EntityType, input.EntityID, *input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	oldStatus, err := e.moveToPending(ctx, tx, input.EntityType, input.EntityID)
	if err != nil {
		return nil, err
	}

	approval := &models.Approval{
		EntityType:     input.EntityType,
		EntityID:       input.EntityID,
		Action:         domain.ActionSubmit,
		Status:         domain.ApprovalPending,
		Maker:          input.Actor,
		Remarks:        input.Remarks,
		IdempotencyKey: input.IdempotencyKey,
	}
	if err := approvals.Create(ctx, approval); err != nil {
		// Lost an idempotency race: another submit with the same key landed
		// first. Drop our state change and return theirs.
		if apperrors.IsKind(err, apperrors.ConflictError) && input.IdempotencyKey != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return nil, fmt.Errorf("failed to roll back after idempotency conflict: %w", rbErr)
			}
			winner, findErr := repositories.NewApprovalRepository(e.db).
				FindByIdempotencyKey(ctx, input.EntityType, input.EntityID, *input.IdempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	if err := e.writeAudit(ctx, tx, input.EntityType, input.EntityID, "SUBMIT", input.Actor, oldStatus, domain.StatusPendingApproval); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	e.emit(ctx, input.EntityType, input.EntityID, "SUBMIT", input.Actor, nil)
	return approval, nil
}

// Approve transitions a PENDING_APPROVAL version to APPROVED, supersedes its
// APPROVED siblings, and updates the identity row. The checker must differ
// from both the submitting maker and the version's author. Ruleset-version
// approvals additionally compile and stage the publication; the pointer moves
// once the transaction commits.
func (e *Engine) Approve(ctx context.Context, input DecisionInput) (*Outcome, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	approvals := repositories.NewApprovalRepository(tx)
	now := e.now()

	pending, err := e.pendingSubmission(ctx, approvals, input)
	if err != nil {
		return nil, err
	}

	var staged *publisher.Staged
	switch input.EntityType {
	case domain.EntityRuleVersion:
		err = e.approveRuleVersion(ctx, tx, input, now)
	case domain.EntityRulesetVersion:
		staged, err = e.approveRulesetVersion(ctx, tx, input, now)
	case domain.EntityFieldVersion:
		err = e.approveFieldVersion(ctx, tx, input, now)
	default:
		err = apperrors.Validation("unknown approval entity type", map[string]any{
			"entity_type": string(input.EntityType),
		})
	}
	if err != nil {
		return nil, err
	}

	if err := approvals.Decide(ctx, pending.ID, domain.ApprovalApproved, input.Actor, input.Remarks, now); err != nil {
		return nil, err
	}

	decision := &models.Approval{
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		Action:     domain.ActionApprove,
		Status:     domain.ApprovalApproved,
		Maker:      pending.Maker,
		Checker:    &input.Actor,
		Remarks:    input.Remarks,
		DecidedAt:  &now,
	}
	if err := approvals.Create(ctx, decision); err != nil {
		return nil, err
	}

	if err := e.writeAudit(ctx, tx, input.EntityType, input.EntityID, "APPROVE", input.Actor, domain.StatusPendingApproval, domain.StatusApproved); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	outcome := &Outcome{Approval: decision}
	if staged != nil {
		outcome.Manifest = staged.Manifest
		if err := e.publisher.WritePointer(ctx, staged); err != nil {
			// Approval and manifest row are committed; re-publishing the
			// version repairs the pointer.
			return outcome, err
		}
	}
	if input.EntityType == domain.EntityFieldVersion {
		e.catalog.Invalidate()
	}

	e.emit(ctx, input.EntityType, input.EntityID, "APPROVE", input.Actor, map[string]any{"maker": pending.Maker})
	return outcome, nil
}

// Reject transitions a PENDING_APPROVAL version to REJECTED. The version can
// be resubmitted later; identity rows are untouched.
func (e *Engine) Reject(ctx context.Context, input DecisionInput) (*models.Approval, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	approvals := repositories.NewApprovalRepository(tx)
	now := e.now()

	pending, err := e.pendingSubmission(ctx, approvals, input)
	if err != nil {
		return nil, err
	}

	if err := e.moveToRejected(ctx, tx, input.EntityType, input.EntityID); err != nil {
		return nil, err
	}

	if err := approvals.Decide(ctx, pending.ID, domain.ApprovalRejected, input.Actor, input.Remarks, now); err != nil {
		return nil, err
	}

	decision := &models.Approval{
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		Action:     domain.ActionReject,
		Status:     domain.ApprovalRejected,
		Maker:      pending.Maker,
		Checker:    &input.Actor,
		Remarks:    input.Remarks,
		DecidedAt:  &now,
	}
	if err := approvals.Create(ctx, decision); err != nil {
		return nil, err
	}

	if err := e.writeAudit(ctx, tx, input.EntityType, input.EntityID, "REJECT", input.Actor, domain.StatusPendingApproval, domain.StatusRejected); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	e.emit(ctx, input.EntityType, input.EntityID, "REJECT", input.Actor, map[string]any{"maker": pending.Maker})
	return decision, nil
}

// Activate promotes an APPROVED ruleset version to ACTIVE and demotes the
// currently ACTIVE sibling to SUPERSEDED. Competing activations on the same
// ruleset serialize on an advisory lock; exactly one version is ever ACTIVE.
func (e *Engine) Activate(ctx context.Context, rulesetVersionID uuid.UUID, actor string) (*models.RulesetVersion, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rulesets := repositories.NewRulesetRepository(tx)
	now := e.now()

	version, err := rulesets.GetRulesetVersionByID(ctx, rulesetVersionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("ruleset version not found", map[string]any{
			"ruleset_version_id": rulesetVersionID.String(),
		})
	}

	if err := rulesets.AcquireActivationLock(ctx, version.RulesetID); err != nil {
		return nil, err
	}

	// Re-read under the lock; a concurrent activation may have changed it.
	version, err = rulesets.LockRulesetVersion(ctx, rulesetVersionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("ruleset version not found", map[string]any{
			"ruleset_version_id": rulesetVersionID.String(),
		})
	}
	if version.Status != domain.StatusApproved {
		return nil, apperrors.InvalidState("only approved ruleset versions can be activated", map[string]any{
			"ruleset_version_id": version.ID.String(),
			"status":             string(version.Status),
		})
	}

	demoted, err := rulesets.DemoteActiveVersion(ctx, version.RulesetID, version.ID)
	if err != nil {
		return nil, err
	}
	if err := rulesets.UpdateRulesetVersionStatus(ctx, version.ID, domain.StatusActive, nil, nil, &now); err != nil {
		return nil, err
	}

	if err := e.writeAudit(ctx, tx, domain.EntityRulesetVersion, version.ID, "ACTIVATE", actor, domain.StatusApproved, domain.StatusActive); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	version.Status = domain.StatusActive
	version.ActivatedAt = &now

	e.emit(ctx, domain.EntityRulesetVersion, version.ID, "ACTIVATE", actor, map[string]any{
		"ruleset_id":      version.RulesetID.String(),
		"demoted_sibling": demoted,
		"ruleset_version": version.Version,
	})
	return version, nil
}

// pendingSubmission loads the PENDING submit row for the entity and enforces
// maker-checker separation.
func (e *Engine) pendingSubmission(ctx context.Context, approvals *repositories.ApprovalRepository, input DecisionInput) (*models.Approval, error) {
	pending, err := approvals.FindPendingSubmission(ctx, input.EntityType, input.EntityID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, apperrors.InvalidState("no pending submission for this entity", map[string]any{
			"entity_type": string(input.EntityType),
			"entity_id":   input.EntityID.String(),
		})
	}
	if pending.Maker == input.Actor {
		return nil, apperrors.Forbidden("maker cannot decide their own submission", map[string]any{
			"entity_type": string(input.EntityType),
			"entity_id":   input.EntityID.String(),
			"maker":       pending.Maker,
		})
	}
	return pending, nil
}

// moveToPending locks the version row, checks it is submittable, and flips it
// to PENDING_APPROVAL. Returns the status it moved from.
func (e *Engine) moveToPending(ctx context.Context, tx *sqlx.Tx, entityType domain.ApprovalEntityType, entityID uuid.UUID) (domain.EntityStatus, error) {
	status, err := e.lockVersionStatus(ctx, tx, entityType, entityID)
	if err != nil {
		return "", err
	}
	if status != domain.StatusDraft && status != domain.StatusRejected {
		return "", apperrors.InvalidState("version cannot be submitted from its current status", map[string]any{
			"entity_type": string(entityType),
			"entity_id":   entityID.String(),
			"status":      string(status),
		})
	}
	return status, e.setVersionStatus(ctx, tx, entityType, entityID, domain.StatusPendingApproval, nil, nil)
}

// moveToRejected locks the version row, checks it is pending, and flips it to
// REJECTED.
func (e *Engine) moveToRejected(ctx context.Context, tx *sqlx.Tx, entityType domain.ApprovalEntityType, entityID uuid.UUID) error {
	status, err := e.lockVersionStatus(ctx, tx, entityType, entityID)
	if err != nil {
		return err
	}
	if status != domain.StatusPendingApproval {
		return apperrors.InvalidState("version is not awaiting approval", map[string]any{
			"entity_type": string(entityType),
			"entity_id":   entityID.String(),
			"status":      string(status),
		})
	}
	return e.setVersionStatus(ctx, tx, entityType, entityID, domain.StatusRejected, nil, nil)
}

func (e *Engine) approveRuleVersion(ctx context.Context, tx *sqlx.Tx, input DecisionInput, now time.Time) error {
	rules := repositories.NewRuleRepository(tx)

	version, err := rules.GetRuleVersionByID(ctx, input.EntityID)
	if err != nil {
		return err
	}
	if version == nil {
		return apperrors.NotFound("rule version not found", map[string]any{
			"rule_version_id": input.EntityID.String(),
		})
	}

	// Identity before version: every approval path locks in the same order.
	rule, err := rules.LockRule(ctx, version.RuleID)
	if err != nil {
		return err
	}
	if rule == nil {
		return apperrors.Integrity("rule version references a missing rule", map[string]any{
			"rule_id": version.RuleID.String(),
		})
	}

	version, err = rules.LockRuleVersion(ctx, input.EntityID)
	if err != nil {
		return err
	}
	if version == nil {
		return apperrors.NotFound("rule version not found", map[string]any{
			"rule_version_id": input.EntityID.String(),
		})
	}
	if err := requirePending(version.Status, "rule_version_id", input.EntityID); err != nil {
		return err
	}
	if version.CreatedBy == input.Actor {
		return apperrors.Forbidden("maker cannot approve their own version", map[string]any{
			"rule_version_id": input.EntityID.String(),
			"maker":           version.CreatedBy,
		})
	}

	if err := rules.UpdateRuleVersionStatus(ctx, version.ID, domain.StatusApproved, &input.Actor, &now); err != nil {
		return err
	}
	if err := rules.SupersedeApprovedVersions(ctx, version.RuleID, version.ID); err != nil {
		return err
	}
	return rules.UpdateRuleState(ctx, rule.ID, domain.StatusApproved, version.Version, rule.RowVersion)
}

func (e *Engine) approveRulesetVersion(ctx context.Context, tx *sqlx.Tx, input DecisionInput, now time.Time) (*publisher.Staged, error) {
	rulesets := repositories.NewRulesetRepository(tx)

	version, err := rulesets.GetRulesetVersionByID(ctx, input.EntityID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("ruleset version not found", map[string]any{
			"ruleset_version_id": input.EntityID.String(),
		})
	}

	if _, err := rulesets.LockRuleset(ctx, version.RulesetID); err != nil {
		return nil, err
	}
	version, err = rulesets.LockRulesetVersion(ctx, input.EntityID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("ruleset version not found", map[string]any{
			"ruleset_version_id": input.EntityID.String(),
		})
	}
	if err := requirePending(version.Status, "ruleset_version_id", input.EntityID); err != nil {
		return nil, err
	}
	if version.CreatedBy == input.Actor {
		return nil, apperrors.Forbidden("maker cannot approve their own version", map[string]any{
			"ruleset_version_id": input.EntityID.String(),
			"maker":              version.CreatedBy,
		})
	}

	// Compile before flipping the status: a version that does not compile
	// must stay PENDING_APPROVAL, and the artifact must exist before the
	// approval becomes visible.
	result, err := e.compiler.Compile(ctx, tx, version.ID, true)
	if err != nil {
		return nil, err
	}

	if err := rulesets.UpdateRulesetVersionStatus(ctx, version.ID, domain.StatusApproved, &input.Actor, &now, nil); err != nil {
		return nil, err
	}
	if err := rulesets.SupersedeApprovedVersions(ctx, version.RulesetID, version.ID); err != nil {
		return nil, err
	}

	return e.publisher.Stage(ctx, tx, result, input.Actor)
}

func (e *Engine) approveFieldVersion(ctx context.Context, tx *sqlx.Tx, input DecisionInput, now time.Time) error {
	fields := repositories.NewRuleFieldRepository(tx)

	version, err := fields.LockFieldVersion(ctx, input.EntityID)
	if err != nil {
		return err
	}
	if version == nil {
		return apperrors.NotFound("field version not found", map[string]any{
			"field_version_id": input.EntityID.String(),
		})
	}
	if err := requirePending(version.Status, "field_version_id", input.EntityID); err != nil {
		return err
	}
	if version.CreatedBy == input.Actor {
		return apperrors.Forbidden("maker cannot approve their own version", map[string]any{
			"field_version_id": input.EntityID.String(),
			"maker":            version.CreatedBy,
		})
	}

	field, err := fields.GetField(ctx, version.FieldKey)
	if err != nil {
		return err
	}
	if field == nil {
		return apperrors.Integrity("field version references a missing field", map[string]any{
			"field_key": version.FieldKey,
		})
	}

	if err := fields.UpdateFieldVersionStatus(ctx, version.ID, domain.StatusApproved, &input.Actor, &now); err != nil {
		return err
	}
	if err := fields.SupersedeApprovedVersions(ctx, version.FieldKey, version.ID); err != nil {
		return err
	}
	return fields.UpdateFieldFromVersion(ctx, version, field.RowVersion)
}

// lockVersionStatus locks the version row for the entity type and returns its
// current status.
func (e *Engine) lockVersionStatus(ctx context.Context, tx *sqlx.Tx, entityType domain.ApprovalEntityType, entityID uuid.UUID) (domain.EntityStatus, error) {
	switch entityType {
	case domain.EntityRuleVersion:
		version, err := repositories.NewRuleRepository(tx).LockRuleVersion(ctx, entityID)
		if err != nil {
			return "", err
		}
		if version == nil {
			return "", apperrors.NotFound("rule version not found", map[string]any{"rule_version_id": entityID.String()})
		}
		return version.Status, nil
	case domain.EntityRulesetVersion:
		version, err := repositories.NewRulesetRepository(tx).LockRulesetVersion(ctx, entityID)
		if err != nil {
			return "", err
		}
		if version == nil {
			return "", apperrors.NotFound("ruleset version not found", map[string]any{"ruleset_version_id": entityID.String()})
		}
		return version.Status, nil
	case domain.EntityFieldVersion:
		version, err := repositories.NewRuleFieldRepository(tx).LockFieldVersion(ctx, entityID)
		if err != nil {
			return "", err
		}
		if version == nil {
			return "", apperrors.NotFound("field version not found", map[string]any{"field_version_id": entityID.String()})
		}
		return version.Status, nil
	}
	return "", apperrors.Validation("unknown approval entity type", map[string]any{
		"entity_type": string(entityType),
	})
}

func (e *Engine) setVersionStatus(ctx context.Context, tx *sqlx.Tx, entityType domain.ApprovalEntityType, entityID uuid.UUID, status domain.EntityStatus, approvedBy *string, approvedAt *time.Time) error {
	switch entityType {
	case domain.EntityRuleVersion:
		return repositories.NewRuleRepository(tx).UpdateRuleVersionStatus(ctx, entityID, status, approvedBy, approvedAt)
	case domain.EntityRulesetVersion:
		return repositories.NewRulesetRepository(tx).UpdateRulesetVersionStatus(ctx, entityID, status, approvedBy, approvedAt, nil)
	case domain.EntityFieldVersion:
		return repositories.NewRuleFieldRepository(tx).UpdateFieldVersionStatus(ctx, entityID, status, approvedBy, approvedAt)
	}
	return apperrors.Validation("unknown approval entity type", map[string]any{
		"entity_type": string(entityType),
	})
}

func requirePending(status domain.EntityStatus, idKey string, id uuid.UUID) error {
	if status != domain.StatusPendingApproval {
		return apperrors.InvalidState("version is not awaiting approval", map[string]any{
			idKey:    id.String(),
			"status": string(status),
		})
	}
	return nil
}

func (e *Engine) writeAudit(ctx context.Context, tx *sqlx.Tx, entityType domain.ApprovalEntityType, entityID uuid.UUID, action, actor string, oldStatus, newStatus domain.EntityStatus) error {
	oldValue, err := json.Marshal(map[string]string{"status": string(oldStatus)})
	if err != nil {
		return fmt.Errorf("failed to encode audit snapshot: %w", err)
	}
	newValue, err := json.Marshal(map[string]string{"status": string(newStatus)})
	if err != nil {
		return fmt.Errorf("failed to encode audit snapshot: %w", err)
	}
	return repositories.NewAuditRepository(tx).Insert(ctx, &models.AuditEntry{
		EntityType:  string(entityType),
		EntityID:    entityID.String(),
		Action:      action,
		OldValue:    oldValue,
		NewValue:    newValue,
		PerformedBy: actor,
	})
}

func (e *Engine) emit(ctx context.Context, entityType domain.ApprovalEntityType, entityID uuid.UUID, action, actor string, details map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, notify.Event{
		EntityType: string(entityType),
		EntityID:   entityID.String(),
		Action:     action,
		Actor:      actor,
		Details:    details,
	})
}
