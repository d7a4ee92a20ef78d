package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

func newApprovalRepo(t *testing.T) (*ApprovalRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewApprovalRepository(db), mock
}

var approvalCols = []string{
	"id", "entity_type", "entity_id", "action", "status", "maker", "checker",
	"remarks", "idempotency_key", "created_at", "decided_at",
}

func sampleApprovalRow(key *string) *sqlmock.Rows {
	id := uuid.MustParse("dddddddd-dddd-dddd-dddd-dddddddddddd")
	entityID := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	return sqlmock.NewRows(approvalCols).
		AddRow(id, "RULE_VERSION", entityID, "SUBMIT", "PENDING", "maker-1", nil, nil, key, time.Now(), nil)
}

func TestApprovalCreate_Success(t *testing.T) {
	repo, mock := newApprovalRepo(t)
	mock.ExpectExec("INSERT INTO approvals").WillReturnResult(sqlmock.NewResult(0, 1))

	approval := &models.Approval{
		EntityType: domain.EntityRuleVersion,
		EntityID:   uuid.New(),
		Action:     domain.ActionSubmit,
		Status:     domain.ApprovalPending,
		Maker:      "maker-1",
	}
	if err := repo.Create(context.Background(), approval); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approval.ID == uuid.Nil {
		t.Error("expected generated id")
	}
}

func TestApprovalCreate_IdempotencyConflict(t *testing.T) {
	repo, mock := newApprovalRepo(t)
	mock.ExpectExec("INSERT INTO approvals").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uniq_approvals_idempotency"})

	key := "k1"
	approval := &models.Approval{
		EntityType:     domain.EntityRuleVersion,
		EntityID:       uuid.New(),
		Action:         domain.ActionSubmit,
		Status:         domain.ApprovalPending,
		Maker:          "maker-1",
		IdempotencyKey: &key,
	}
	err := repo.Create(context.Background(), approval)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !apperrors.IsKind(err, apperrors.ConflictError) {
		t.Errorf("kind = %s, want ConflictError", apperrors.KindOf(err))
	}
}

func TestFindByIdempotencyKey_Found(t *testing.T) {
	repo, mock := newApprovalRepo(t)
	key := "k1"
	mock.ExpectQuery("SELECT (.+) FROM approvals").WillReturnRows(sampleApprovalRow(&key))

	approval, err := repo.FindByIdempotencyKey(context.Background(), domain.EntityRuleVersion,
		uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"), "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approval == nil {
		t.Fatal("expected approval, got nil")
	}
	if approval.Maker != "maker-1" {
		t.Errorf("Maker = %s, want maker-1", approval.Maker)
	}
}

func TestFindByIdempotencyKey_NotFound(t *testing.T) {
	repo, mock := newApprovalRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM approvals").WillReturnRows(sqlmock.NewRows(approvalCols))

	approval, err := repo.FindByIdempotencyKey(context.Background(), domain.EntityRuleVersion, uuid.New(), "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approval != nil {
		t.Errorf("expected nil, got %+v", approval)
	}
}

func TestDecide_NotFound(t *testing.T) {
	repo, mock := newApprovalRepo(t)
	mock.ExpectExec("UPDATE approvals").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Decide(context.Background(), uuid.New(), domain.ApprovalApproved, "checker-1", nil, time.Now())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !apperrors.IsKind(err, apperrors.NotFoundError) {
		t.Errorf("kind = %s, want NotFoundError", apperrors.KindOf(err))
	}
}
