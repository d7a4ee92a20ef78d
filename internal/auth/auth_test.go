package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission_ExactMatch(t *testing.T) {
	p := &Principal{Subject: "maker-1", Permissions: []string{"rules:write"}}

	assert.True(t, p.HasPermission(PermRulesWrite))
	assert.False(t, p.HasPermission(PermRulesetsWrite))
	assert.False(t, p.HasPermission(PermApprovalsDecide))
}

func TestHasPermission_WriteImpliesRead(t *testing.T) {
	cases := []struct {
		held     string
		implied  Permission
		excluded Permission
	}{
		{"rules:write", PermRulesRead, PermRulesetsRead},
		{"rulesets:write", PermRulesetsRead, PermFieldsRead},
		{"fields:write", PermFieldsRead, PermRulesRead},
		{"approvals:decide", PermApprovalsRead, PermAuditRead},
	}
	for _, tc := range cases {
		p := &Principal{Subject: "u", Permissions: []string{tc.held}}
		assert.True(t, p.HasPermission(tc.implied), "%s should imply %s", tc.held, tc.implied)
		assert.False(t, p.HasPermission(tc.excluded), "%s should not imply %s", tc.held, tc.excluded)
	}
}

func TestHasPermission_AdminWildcard(t *testing.T) {
	p := &Principal{Subject: "admin-1", Permissions: []string{"admin"}}
	for _, perm := range AllPermissions() {
		assert.True(t, p.HasPermission(perm), "admin should hold %s", perm)
	}
}

func TestHasPermission_EmptyPrincipal(t *testing.T) {
	p := &Principal{Subject: "nobody"}
	assert.False(t, p.HasPermission(PermRulesRead))
}

func TestHasAnyPermission(t *testing.T) {
	p := &Principal{Subject: "checker-1", Permissions: []string{"approvals:decide"}}

	assert.True(t, p.HasAnyPermission(PermRulesWrite, PermApprovalsDecide))
	assert.False(t, p.HasAnyPermission(PermRulesWrite, PermFieldsWrite))
}
