// Package auth maps verified bearer tokens to a Principal carrying the
// caller's identity and permissions. Identity management itself (users,
// roles, token issuance) lives outside this service; the governance API
// only needs to know who is acting and what they may do.
package auth

// Permission names a capability a principal may hold.
type Permission string

const (
	// Rule authoring
	PermRulesRead  Permission = "rules:read"
	PermRulesWrite Permission = "rules:write"

	// Ruleset authoring
	PermRulesetsRead  Permission = "rulesets:read"
	PermRulesetsWrite Permission = "rulesets:write"

	// Field catalog authoring
	PermFieldsRead  Permission = "fields:read"
	PermFieldsWrite Permission = "fields:write"

	// Approval workflow: decide covers approve, reject, and activate
	PermApprovalsRead   Permission = "approvals:read"
	PermApprovalsDecide Permission = "approvals:decide"

	// Audit trail
	PermAuditRead Permission = "audit:read"

	// Admin wildcard: all permissions
	PermAdmin Permission = "admin"
)

// AllPermissions returns every valid permission.
func AllPermissions() []Permission {
	return []Permission{
		PermRulesRead,
		PermRulesWrite,
		PermRulesetsRead,
		PermRulesetsWrite,
		PermFieldsRead,
		PermFieldsWrite,
		PermApprovalsRead,
		PermApprovalsDecide,
		PermAuditRead,
		PermAdmin,
	}
}

// Principal is an authenticated caller.
type Principal struct {
	// Subject identifies the caller and is recorded as the actor on every
	// mutation (created_by, maker, checker, performed_by).
	Subject     string
	Permissions []string
}

// HasPermission reports whether the principal holds the required permission.
// Write permissions imply the matching read, approvals:decide implies
// approvals:read, and the admin wildcard grants everything.
func (p *Principal) HasPermission(required Permission) bool {
	requiredStr := string(required)

	for _, perm := range p.Permissions {
		if perm == requiredStr {
			return true
		}
		if perm == string(PermAdmin) {
			return true
		}

		if required == PermRulesRead && perm == string(PermRulesWrite) {
			return true
		}
		if required == PermRulesetsRead && perm == string(PermRulesetsWrite) {
			return true
		}
		if required == PermFieldsRead && perm == string(PermFieldsWrite) {
			return true
		}
		if required == PermApprovalsRead && perm == string(PermApprovalsDecide) {
			return true
		}
	}

	return false
}

// HasAnyPermission reports whether the principal holds at least one of the
// required permissions.
func (p *Principal) HasAnyPermission(required ...Permission) bool {
	for _, r := range required {
		if p.HasPermission(r) {
			return true
		}
	}
	return false
}
