package repositories

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

func newRuleRepo(t *testing.T) (*RuleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewRuleRepository(db), mock
}

var ruleCols = []string{
	"id", "name", "description", "rule_type", "status", "current_version",
	"row_version", "created_by", "created_at", "updated_at",
}

var ruleVersionCols = []string{
	"id", "rule_id", "version", "condition_tree", "scope", "priority", "action",
	"status", "created_by", "created_at", "approved_by", "approved_at",
}

func sampleRuleRow() *sqlmock.Rows {
	id := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	return sqlmock.NewRows(ruleCols).
		AddRow(id, "High Amount", nil, "AUTH", "DRAFT", 1, 1, "maker-1", time.Now(), time.Now())
}

func sampleRuleVersionRow() *sqlmock.Rows {
	id := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	ruleID := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	tree := []byte(`{"field":"amount","op":"GT","value":3000}`)
	return sqlmock.NewRows(ruleVersionCols).
		AddRow(id, ruleID, 1, tree, []byte(`{}`), 100, "DECLINE", "DRAFT", "maker-1", time.Now(), nil, nil)
}

func TestCreateRule_Success(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec("INSERT INTO rules").WillReturnResult(sqlmock.NewResult(0, 1))

	rule := &models.Rule{Name: "High Amount", RuleType: domain.RuleTypeAuth, CreatedBy: "maker-1"}
	if err := repo.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if rule.Status != domain.StatusDraft {
		t.Errorf("Status = %s, want DRAFT", rule.Status)
	}
	if rule.RowVersion != 1 {
		t.Errorf("RowVersion = %d, want 1", rule.RowVersion)
	}
}

func TestCreateRule_Error(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec("INSERT INTO rules").WillReturnError(errDB)

	rule := &models.Rule{Name: "x", RuleType: domain.RuleTypeAuth, CreatedBy: "maker-1"}
	if err := repo.CreateRule(context.Background(), rule); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGetRuleByID_Found(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM rules").WillReturnRows(sampleRuleRow())

	rule, err := repo.GetRuleByID(context.Background(), uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule == nil {
		t.Fatal("expected rule, got nil")
	}
	if rule.Name != "High Amount" {
		t.Errorf("Name = %s, want High Amount", rule.Name)
	}
}

func TestGetRuleByID_NotFound(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM rules").WillReturnRows(sqlmock.NewRows(ruleCols))

	rule, err := repo.GetRuleByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule != nil {
		t.Errorf("expected nil, got %+v", rule)
	}
}

func TestUpdateRuleState_OptimisticConflict(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec("UPDATE rules").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRuleState(context.Background(), uuid.New(), domain.StatusApproved, 2, 7)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !apperrors.IsKind(err, apperrors.ConflictError) {
		t.Errorf("kind = %s, want ConflictError", apperrors.KindOf(err))
	}
}

func TestUpdateRuleState_Success(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec("UPDATE rules").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateRuleState(context.Background(), uuid.New(), domain.StatusApproved, 2, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateRuleVersion_AssignsDefaults(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec("INSERT INTO rule_versions").WillReturnResult(sqlmock.NewResult(0, 1))

	version := &models.RuleVersion{
		RuleID:        uuid.New(),
		Version:       1,
		ConditionTree: json.RawMessage(`{"field":"amount","op":"GT","value":3000}`),
		Scope:         json.RawMessage(`{}`),
		Priority:      100,
		Action:        domain.RuleActionDecline,
		CreatedBy:     "maker-1",
	}
	if err := repo.CreateRuleVersion(context.Background(), version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if version.Status != domain.StatusDraft {
		t.Errorf("Status = %s, want DRAFT", version.Status)
	}
}

func TestGetRuleVersionsByIDs_Empty(t *testing.T) {
	repo, _ := newRuleRepo(t)
	versions, err := repo.GetRuleVersionsByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if versions != nil {
		t.Errorf("expected nil, got %v", versions)
	}
}

func TestSupersedeApprovedVersions(t *testing.T) {
	repo, mock := newRuleRepo(t)
	mock.ExpectExec("UPDATE rule_versions").
		WithArgs(string(domain.StatusSuperseded), sqlmock.AnyArg(), string(domain.StatusApproved), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.SupersedeApprovedVersions(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListRuleVersions_OverfetchSetsHasNext(t *testing.T) {
	repo, mock := newRuleRepo(t)

	rows := sqlmock.NewRows(ruleVersionCols)
	base := time.Now()
	ruleID := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	for i := 0; i < 3; i++ {
		rows.AddRow(uuid.New(), ruleID, i+1, []byte(`{}`), []byte(`{}`), 100, "DECLINE",
			"DRAFT", "maker-1", base.Add(-time.Duration(i)*time.Second), nil, nil)
	}
	mock.ExpectQuery("SELECT (.+) FROM rule_versions").WillReturnRows(rows)

	page, err := repo.ListRuleVersions(context.Background(), ruleID, nil, PageRequest{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("len(Items) = %d, want 2", len(page.Items))
	}
	if !page.HasNext {
		t.Error("HasNext = false, want true after overfetch")
	}
	if page.NextCursor == nil {
		t.Error("NextCursor = nil, want token")
	}
}
