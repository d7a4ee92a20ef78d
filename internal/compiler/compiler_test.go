package compiler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/catalog"
)

var (
	rulesetID        = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	rulesetVersionID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	ruleIDLow        = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	ruleIDHigh       = uuid.MustParse("44444444-4444-4444-4444-444444444444")
	ruleVersionIDA   = uuid.MustParse("55555555-5555-5555-5555-555555555555")
	ruleVersionIDB   = uuid.MustParse("66666666-6666-6666-6666-666666666666")
)

var rulesetVersionCols = []string{
	"id", "ruleset_id", "version", "status", "created_by", "created_at",
	"approved_by", "approved_at", "activated_at", "rule_count",
}

var rulesetCols = []string{
	"id", "environment", "region", "country", "rule_type", "name", "description",
	"created_by", "created_at", "updated_at",
}

var ruleVersionJoinedCols = []string{
	"id", "rule_id", "version", "condition_tree", "scope", "priority", "action",
	"status", "created_by", "created_at", "approved_by", "approved_at", "rule_name", "rule_type",
}

var fieldCols = []string{
	"field_key", "field_id", "display_name", "description", "data_type", "allowed_operators",
	"multi_value_allowed", "enum_values", "is_sensitive", "is_active", "current_version",
	"row_version", "created_by", "created_at", "updated_at",
}

func newCompiler(t *testing.T) (*Compiler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { sqlxDB.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(sqlxDB, catalog.NewService(sqlxDB, logger), logger), mock
}

type fixture struct {
	versionStatus string
	ruleType      string
	memberStatus  string
	treeA         string
	treeB         string
}

func defaultFixture() fixture {
	return fixture{
		versionStatus: "APPROVED",
		ruleType:      "AUTH",
		memberStatus:  "APPROVED",
		treeA:         `{"field":"amount","op":"GT","value":3000}`,
		treeB:         `{"and":[{"field":"amount","op":"BETWEEN","value":[100,500]},{"field":"channel","op":"IN","value":["ECOM","POS"]}]}`,
	}
}

// expectCompile wires the query sequence Compile issues: version, ruleset,
// membership, member rule versions, field catalog.
func expectCompile(mock sqlmock.Sqlmock, f fixture) {
	now := time.Now()
	checker := "checker-1"

	mock.ExpectQuery("SELECT (.+) FROM ruleset_versions rv WHERE rv.id").
		WillReturnRows(sqlmock.NewRows(rulesetVersionCols).
			AddRow(rulesetVersionID, rulesetID, 3, f.versionStatus, "maker-1", now, checker, now, nil, 2))

	mock.ExpectQuery("SELECT (.+) FROM rulesets WHERE id").
		WillReturnRows(sqlmock.NewRows(rulesetCols).
			AddRow(rulesetID, "prod", "INDIA", "IN", f.ruleType, "India Rules", nil, "maker-1", now, now))

	mock.ExpectQuery("SELECT rule_version_id FROM ruleset_version_rules").
		WillReturnRows(sqlmock.NewRows([]string{"rule_version_id"}).
			AddRow(ruleVersionIDA).
			AddRow(ruleVersionIDB))

	mock.ExpectQuery("SELECT (.+) FROM rule_versions rv").
		WillReturnRows(sqlmock.NewRows(ruleVersionJoinedCols).
			AddRow(ruleVersionIDA, ruleIDLow, 1, []byte(f.treeA), []byte(`{}`), 100, "DECLINE",
				f.memberStatus, "maker-1", now, checker, now, "Low priority", f.ruleType).
			AddRow(ruleVersionIDB, ruleIDHigh, 2, []byte(f.treeB), []byte(`{}`), 900, "DECLINE",
				f.memberStatus, "maker-1", now, checker, now, "High priority", f.ruleType))

	mock.ExpectQuery("SELECT (.+) FROM rule_fields ORDER BY field_id").
		WillReturnRows(sqlmock.NewRows(fieldCols).
			AddRow("amount", 1, "Transaction Amount", nil, "NUMBER", "{EQ,NE,GT,GTE,LT,LTE,BETWEEN,IN,NOT_IN}",
				false, nil, false, true, 1, 1, "system", now, now).
			AddRow("channel", 25, "Channel", nil, "ENUM", "{EQ,NE,IN,NOT_IN}",
				true, "{ECOM,POS,ATM,MOTO}", false, true, 1, 1, "system", now, now))
}

func TestCompile_BuildsCanonicalArtifact(t *testing.T) {
	c, mock := newCompiler(t)
	expectCompile(mock, defaultFixture())

	result, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.NoError(t, err)

	assert.Equal(t, rulesetID.String(), result.AST["rulesetId"])
	assert.Equal(t, 3, result.AST["version"])
	assert.Equal(t, "AUTH", result.AST["ruleType"])
	assert.Equal(t, map[string]any{"mode": "FIRST_MATCH"}, result.AST["evaluation"])
	assert.Equal(t, "SKIP", result.AST["velocityFailurePolicy"])

	rules := result.AST["rules"].([]any)
	require.Len(t, rules, 2)

	// Priority DESC: the 900 rule first.
	first := rules[0].(map[string]any)
	second := rules[1].(map[string]any)
	assert.Equal(t, 900, first["priority"])
	assert.Equal(t, 100, second["priority"])
	assert.Equal(t, ruleIDHigh.String(), first["ruleId"])

	// Canonical payload starts with sorted keys and carries the checksum.
	assert.True(t, bytes.HasPrefix(result.Payload, []byte(`{"evaluation":`)), "payload = %s", result.Payload)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, result.Checksum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompile_IsDeterministic(t *testing.T) {
	c, mock := newCompiler(t)

	expectCompile(mock, defaultFixture())
	first, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.NoError(t, err)

	expectCompile(mock, defaultFixture())
	second, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.NoError(t, err)

	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestCompile_MonitoringUsesAllMatching(t *testing.T) {
	c, mock := newCompiler(t)
	f := defaultFixture()
	f.ruleType = "MONITORING"
	expectCompile(mock, f)

	result, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mode": "ALL_MATCHING"}, result.AST["evaluation"])
}

func TestCompile_RejectsDraft(t *testing.T) {
	c, mock := newCompiler(t)
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM ruleset_versions rv WHERE rv.id").
		WillReturnRows(sqlmock.NewRows(rulesetVersionCols).
			AddRow(rulesetVersionID, rulesetID, 3, "DRAFT", "maker-1", now, nil, nil, nil, 2))

	_, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.InvalidStateError), "kind = %s", apperrors.KindOf(err))
}

func TestCompile_PendingNeedsApprovalPath(t *testing.T) {
	c, mock := newCompiler(t)
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM ruleset_versions rv WHERE rv.id").
		WillReturnRows(sqlmock.NewRows(rulesetVersionCols).
			AddRow(rulesetVersionID, rulesetID, 3, "PENDING_APPROVAL", "maker-1", now, nil, nil, nil, 2))

	_, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.InvalidStateError), "kind = %s", apperrors.KindOf(err))

	// The same status compiles when the approval transaction asks for it.
	f := defaultFixture()
	f.versionStatus = "PENDING_APPROVAL"
	expectCompile(mock, f)
	_, err = c.Compile(context.Background(), c.db, rulesetVersionID, true)
	assert.NoError(t, err)
}

func TestCompile_VersionNotFound(t *testing.T) {
	c, mock := newCompiler(t)
	mock.ExpectQuery("SELECT (.+) FROM ruleset_versions rv WHERE rv.id").
		WillReturnRows(sqlmock.NewRows(rulesetVersionCols))

	_, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.NotFoundError), "kind = %s", apperrors.KindOf(err))
}

func TestCompile_EmptyMembership(t *testing.T) {
	c, mock := newCompiler(t)
	now := time.Now()
	checker := "checker-1"

	mock.ExpectQuery("SELECT (.+) FROM ruleset_versions rv WHERE rv.id").
		WillReturnRows(sqlmock.NewRows(rulesetVersionCols).
			AddRow(rulesetVersionID, rulesetID, 3, "APPROVED", "maker-1", now, checker, now, nil, 0))
	mock.ExpectQuery("SELECT (.+) FROM rulesets WHERE id").
		WillReturnRows(sqlmock.NewRows(rulesetCols).
			AddRow(rulesetID, "prod", "INDIA", "IN", "AUTH", "India Rules", nil, "maker-1", now, now))
	mock.ExpectQuery("SELECT rule_version_id FROM ruleset_version_rules").
		WillReturnRows(sqlmock.NewRows([]string{"rule_version_id"}))

	_, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.CompilationError), "kind = %s", apperrors.KindOf(err))
}

func TestCompile_UnapprovedMember(t *testing.T) {
	c, mock := newCompiler(t)
	f := defaultFixture()
	f.memberStatus = "PENDING_APPROVAL"
	expectCompile(mock, f)

	_, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.CompilationError), "kind = %s", apperrors.KindOf(err))

	details := apperrors.DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, ruleVersionIDA.String(), details["rule_version_id"])
}

func TestCompile_InvalidConditionTree(t *testing.T) {
	c, mock := newCompiler(t)
	f := defaultFixture()
	f.treeB = `{"and":[{"field":"amount","op":"GT","value":3000},{"field":"no_such_field","op":"EQ","value":1}]}`
	expectCompile(mock, f)

	_, err := c.CompileVersion(context.Background(), rulesetVersionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.CompilationError), "kind = %s", apperrors.KindOf(err))

	details := apperrors.DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, "$.and[1]", details["path"])
	assert.Equal(t, ruleIDHigh.String(), details["rule_id"])
}
