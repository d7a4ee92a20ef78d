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

func newRulesetRepo(t *testing.T) (*RulesetRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewRulesetRepository(db), mock
}

var rulesetCols = []string{
	"id", "environment", "region", "country", "rule_type", "name", "description",
	"created_by", "created_at", "updated_at",
}

var rulesetVersionCols = []string{
	"id", "ruleset_id", "version", "status", "created_by", "created_at",
	"approved_by", "approved_at", "activated_at",
}

func sampleRulesetRow() *sqlmock.Rows {
	id := uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
	return sqlmock.NewRows(rulesetCols).
		AddRow(id, "prod", "INDIA", "IN", "AUTH", "India Auth Rules", nil, "maker-1", time.Now(), time.Now())
}

func TestCreateRuleset_NaturalKeyConflict(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectExec("INSERT INTO rulesets").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "rulesets_environment_region_country_rule_type_key"})

	ruleset := &models.Ruleset{
		Environment: "prod", Region: "INDIA", Country: "IN",
		RuleType: domain.RuleTypeAuth, Name: "India Auth Rules", CreatedBy: "maker-1",
	}
	err := repo.CreateRuleset(context.Background(), ruleset)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !apperrors.IsKind(err, apperrors.ConflictError) {
		t.Errorf("kind = %s, want ConflictError", apperrors.KindOf(err))
	}
}

func TestCreateRuleset_Success(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectExec("INSERT INTO rulesets").WillReturnResult(sqlmock.NewResult(0, 1))

	ruleset := &models.Ruleset{
		Environment: "prod", Region: "INDIA", Country: "IN",
		RuleType: domain.RuleTypeAuth, Name: "India Auth Rules", CreatedBy: "maker-1",
	}
	if err := repo.CreateRuleset(context.Background(), ruleset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruleset.ID == uuid.Nil {
		t.Error("expected generated id")
	}
}

func TestGetRulesetByNaturalKey_Found(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM rulesets").WillReturnRows(sampleRulesetRow())

	ruleset, err := repo.GetRulesetByNaturalKey(context.Background(), "prod", "INDIA", "IN", domain.RuleTypeAuth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruleset == nil {
		t.Fatal("expected ruleset, got nil")
	}
	if ruleset.Country != "IN" {
		t.Errorf("Country = %s, want IN", ruleset.Country)
	}
}

func TestCreateRulesetVersion_InsertsMembers(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectExec("INSERT INTO ruleset_versions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ruleset_version_rules").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ruleset_version_rules").WillReturnResult(sqlmock.NewResult(0, 1))

	version := &models.RulesetVersion{RulesetID: uuid.New(), Version: 1, CreatedBy: "maker-1"}
	members := []uuid.UUID{uuid.New(), uuid.New()}
	if err := repo.CreateRulesetVersion(context.Background(), version, members); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateRulesetVersion_MemberTypeMismatch(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectExec("INSERT INTO ruleset_versions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ruleset_version_rules").
		WillReturnError(&pq.Error{Code: "P0001", Message: "rule type MONITORING does not match ruleset rule type AUTH"})

	version := &models.RulesetVersion{RulesetID: uuid.New(), Version: 1, CreatedBy: "maker-1"}
	err := repo.CreateRulesetVersion(context.Background(), version, []uuid.UUID{uuid.New()})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !apperrors.IsKind(err, apperrors.IntegrityError) {
		t.Errorf("kind = %s, want IntegrityError", apperrors.KindOf(err))
	}
}

func TestDemoteActiveVersion(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectExec("UPDATE ruleset_versions").WillReturnResult(sqlmock.NewResult(0, 1))

	demoted, err := repo.DemoteActiveVersion(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !demoted {
		t.Error("demoted = false, want true")
	}
}

func TestDemoteActiveVersion_NoSibling(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectExec("UPDATE ruleset_versions").WillReturnResult(sqlmock.NewResult(0, 0))

	demoted, err := repo.DemoteActiveVersion(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if demoted {
		t.Error("demoted = true, want false")
	}
}

func TestGetActiveVersion_None(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM ruleset_versions").WillReturnRows(sqlmock.NewRows(rulesetVersionCols))

	version, err := repo.GetActiveVersion(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != nil {
		t.Errorf("expected nil, got %+v", version)
	}
}

func TestAcquireActivationLock(t *testing.T) {
	repo, mock := newRulesetRepo(t)
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.AcquireActivationLock(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
