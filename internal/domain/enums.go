// Package domain defines the closed enumerations shared by the persistence
// models, the condition-tree validator, and the compiler. The values mirror
// the database enum types; changing them is a schema migration, not a code
// edit.
package domain

// RuleType classifies a rule and the rulesets it may belong to.
type RuleType string

const (
	RuleTypeAllowlist  RuleType = "ALLOWLIST"
	RuleTypeBlocklist  RuleType = "BLOCKLIST"
	RuleTypeAuth       RuleType = "AUTH"
	RuleTypeMonitoring RuleType = "MONITORING"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeAllowlist, RuleTypeBlocklist, RuleTypeAuth, RuleTypeMonitoring:
		return true
	}
	return false
}

// EntityStatus is the lifecycle status for versioned entities.
// ACTIVE applies to ruleset versions only.
type EntityStatus string

const (
	StatusDraft           EntityStatus = "DRAFT"
	StatusPendingApproval EntityStatus = "PENDING_APPROVAL"
	StatusApproved        EntityStatus = "APPROVED"
	StatusRejected        EntityStatus = "REJECTED"
	StatusSuperseded      EntityStatus = "SUPERSEDED"
	StatusActive          EntityStatus = "ACTIVE"
)

// ApprovalStatus is the status of an approval workflow row.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalAction is the action recorded on an approval row.
type ApprovalAction string

const (
	ActionSubmit  ApprovalAction = "SUBMIT"
	ActionApprove ApprovalAction = "APPROVE"
	ActionReject  ApprovalAction = "REJECT"
)

// ApprovalEntityType identifies what kind of entity an approval targets.
type ApprovalEntityType string

const (
	EntityRuleVersion    ApprovalEntityType = "RULE_VERSION"
	EntityRulesetVersion ApprovalEntityType = "RULESET_VERSION"
	EntityFieldVersion   ApprovalEntityType = "FIELD_VERSION"
)

// DataType is the value type of a rule field.
type DataType string

const (
	DataTypeString  DataType = "STRING"
	DataTypeNumber  DataType = "NUMBER"
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeDate    DataType = "DATE"
	DataTypeEnum    DataType = "ENUM"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeDate, DataTypeEnum:
		return true
	}
	return false
}

// Operator is a condition-tree comparison operator. The set is closed.
type Operator string

const (
	OpEQ          Operator = "EQ"
	OpNE          Operator = "NE"
	OpGT          Operator = "GT"
	OpGTE         Operator = "GTE"
	OpLT          Operator = "LT"
	OpLTE         Operator = "LTE"
	OpIn          Operator = "IN"
	OpNotIn       Operator = "NOT_IN"
	OpBetween     Operator = "BETWEEN"
	OpContains    Operator = "CONTAINS"
	OpNotContains Operator = "NOT_CONTAINS"
	OpStartsWith  Operator = "STARTS_WITH"
	OpEndsWith    Operator = "ENDS_WITH"
	OpRegex       Operator = "REGEX"
)

// Operators is the closed operator set in declaration order.
var Operators = []Operator{
	OpEQ, OpNE, OpGT, OpGTE, OpLT, OpLTE,
	OpIn, OpNotIn, OpBetween,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex,
}

// Valid reports whether o is in the closed operator set.
func (o Operator) Valid() bool {
	for _, op := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// IsListOperator reports whether o takes a non-empty array value.
func (o Operator) IsListOperator() bool {
	return o == OpIn || o == OpNotIn
}

// IsRangeOperator reports whether o takes a two-element array value.
func (o Operator) IsRangeOperator() bool {
	return o == OpBetween
}

// RuleAction is the decision a matching rule produces at runtime.
type RuleAction string

const (
	RuleActionApprove RuleAction = "APPROVE"
	RuleActionDecline RuleAction = "DECLINE"
	RuleActionReview  RuleAction = "REVIEW"
)

// DefaultRuleAction returns the default action for a rule type.
func DefaultRuleAction(t RuleType) RuleAction {
	switch t {
	case RuleTypeAllowlist:
		return RuleActionApprove
	case RuleTypeBlocklist, RuleTypeAuth:
		return RuleActionDecline
	default:
		return RuleActionReview
	}
}

// AllowedRuleActions returns the actions a rule of type t may carry.
func AllowedRuleActions(t RuleType) []RuleAction {
	switch t {
	case RuleTypeAllowlist:
		return []RuleAction{RuleActionApprove}
	case RuleTypeBlocklist:
		return []RuleAction{RuleActionDecline}
	case RuleTypeAuth:
		return []RuleAction{RuleActionApprove, RuleActionDecline}
	case RuleTypeMonitoring:
		return []RuleAction{RuleActionReview}
	}
	return nil
}

// EvaluationMode declares how the runtime walks a compiled ruleset.
type EvaluationMode string

const (
	EvalFirstMatch  EvaluationMode = "FIRST_MATCH"
	EvalAllMatching EvaluationMode = "ALL_MATCHING"
)

// EvaluationModeFor maps a rule type to its locked evaluation mode.
func EvaluationModeFor(t RuleType) (EvaluationMode, bool) {
	switch t {
	case RuleTypeAllowlist, RuleTypeBlocklist, RuleTypeAuth:
		return EvalFirstMatch, true
	case RuleTypeMonitoring:
		return EvalAllMatching, true
	}
	return "", false
}

// RulesetKey is the runtime-visible identifier for a published ruleset class.
type RulesetKey string

const (
	RulesetKeyCardAuth       RulesetKey = "CARD_AUTH"
	RulesetKeyCardMonitoring RulesetKey = "CARD_MONITORING"
)

// RulesetKeyFor maps a governance rule type to its runtime ruleset key.
// ALLOWLIST and BLOCKLIST are governance-only and have no runtime key.
func RulesetKeyFor(t RuleType) (RulesetKey, bool) {
	switch t {
	case RuleTypeAuth:
		return RulesetKeyCardAuth, true
	case RuleTypeMonitoring:
		return RulesetKeyCardMonitoring, true
	}
	return "", false
}
