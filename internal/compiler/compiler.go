// Package compiler turns an approved ruleset version into a deterministic,
// canonical JSON artifact. Identical inputs always compile to byte-identical
// output: member rules are ordered by (priority DESC, rule_id ASC), condition
// trees are re-rendered in the canonical shape, and the payload carries no
// timestamps or other publish-time state.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/canonicaljson"
	"github.com/fraud-governance/fraud-governance/internal/catalog"
	"github.com/fraud-governance/fraud-governance/internal/condition"
	"github.com/fraud-governance/fraud-governance/internal/db/models"
	"github.com/fraud-governance/fraud-governance/internal/db/repositories"
	"github.com/fraud-governance/fraud-governance/internal/domain"
	"github.com/fraud-governance/fraud-governance/pkg/checksum"
)

// velocityFailurePolicy is fixed for all compiled artifacts: when the runtime
// cannot resolve a velocity-derived field it skips the rule instead of failing
// the transaction.
const velocityFailurePolicy = "SKIP"

// Compiler builds canonical artifacts from ruleset versions.
type Compiler struct {
	db      *sqlx.DB
	catalog *catalog.Service
	logger  *slog.Logger
}

// New creates a compiler reading through db and validating against catalog.
func New(db *sqlx.DB, cat *catalog.Service, logger *slog.Logger) *Compiler {
	return &Compiler{db: db, catalog: cat, logger: logger}
}

// Result is one compiled artifact with its canonical bytes and checksum.
type Result struct {
	Ruleset        *models.Ruleset
	RulesetVersion *models.RulesetVersion
	AST            map[string]any
	Payload        []byte
	Checksum       string
}

// CompileVersion compiles a specific ruleset version. Only APPROVED and
// ACTIVE versions are compilable through this path; drafts have no stable
// content to compile and pending versions compile only inside the approval
// transaction.
func (c *Compiler) CompileVersion(ctx context.Context, rulesetVersionID uuid.UUID) (*Result, error) {
	return c.Compile(ctx, c.db, rulesetVersionID, false)
}

// CompileActive compiles the currently ACTIVE version of a ruleset.
func (c *Compiler) CompileActive(ctx context.Context, rulesetID uuid.UUID) (*Result, error) {
	version, err := repositories.NewRulesetRepository(c.db).GetActiveVersion(ctx, rulesetID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("ruleset has no active version", map[string]any{
			"ruleset_id": rulesetID.String(),
		})
	}
	return c.Compile(ctx, c.db, version.ID, false)
}

// Compile compiles the ruleset version through q, which may be a transaction.
// allowPending admits PENDING_APPROVAL versions; the approval engine sets it
// when compiling inside the approve transaction, before the status flips.
func (c *Compiler) Compile(ctx context.Context, q repositories.Querier, rulesetVersionID uuid.UUID, allowPending bool) (*Result, error) {
	start := time.Now()

	rulesets := repositories.NewRulesetRepository(q)
	rules := repositories.NewRuleRepository(q)

	version, err := rulesets.GetRulesetVersionByID(ctx, rulesetVersionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperrors.NotFound("ruleset version not found", map[string]any{
			"ruleset_version_id": rulesetVersionID.String(),
		})
	}

	switch version.Status {
	case domain.StatusApproved, domain.StatusActive:
	case domain.StatusPendingApproval:
		if !allowPending {
			return nil, apperrors.InvalidState("ruleset version is awaiting approval", map[string]any{
				"ruleset_version_id": version.ID.String(),
				"status":             string(version.Status),
			})
		}
	default:
		return nil, apperrors.InvalidState("ruleset version is not compilable", map[string]any{
			"ruleset_version_id": version.ID.String(),
			"status":             string(version.Status),
		})
	}

	ruleset, err := rulesets.GetRulesetByID(ctx, version.RulesetID)
	if err != nil {
		return nil, err
	}
	if ruleset == nil {
		return nil, apperrors.Integrity("ruleset version references a missing ruleset", map[string]any{
			"ruleset_id": version.RulesetID.String(),
		})
	}

	memberIDs, err := rulesets.GetMemberRuleVersionIDs(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return nil, apperrors.Compilation("ruleset version has no member rules", map[string]any{
			"ruleset_version_id": version.ID.String(),
		})
	}

	members, err := rules.GetRuleVersionsByIDs(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	if len(members) != len(memberIDs) {
		return nil, apperrors.Integrity("ruleset membership references missing rule versions", map[string]any{
			"ruleset_version_id": version.ID.String(),
			"expected":           len(memberIDs),
			"found":              len(members),
		})
	}

	compileCatalog, err := c.catalog.CompileCatalog(ctx)
	if err != nil {
		return nil, err
	}

	mode, ok := domain.EvaluationModeFor(ruleset.RuleType)
	if !ok {
		return nil, apperrors.Compilation("rule type has no evaluation mode", map[string]any{
			"rule_type": string(ruleset.RuleType),
		})
	}

	compiled := make([]compiledRule, 0, len(members))
	for _, member := range members {
		entry, err := c.compileRule(ruleset, version, member, compileCatalog)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, entry)
	}

	// Deterministic order: priority DESC, then rule_id ASC as tiebreaker.
	sort.Slice(compiled, func(i, j int) bool {
		if compiled[i].priority != compiled[j].priority {
			return compiled[i].priority > compiled[j].priority
		}
		return compiled[i].ruleID < compiled[j].ruleID
	})

	ruleEntries := make([]any, len(compiled))
	for i, entry := range compiled {
		ruleEntries[i] = entry.rendered
	}

	ast := map[string]any{
		"rulesetId": ruleset.ID.String(),
		"version":   version.Version,
		"ruleType":  string(ruleset.RuleType),
		"evaluation": map[string]any{
			"mode": string(mode),
		},
		"velocityFailurePolicy": velocityFailurePolicy,
		"rules":                 ruleEntries,
	}

	payload, err := canonicaljson.Marshal(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize compiled artifact: %w", err)
	}
	sum := checksum.Prefixed(payload)

	c.logger.Debug("ruleset version compiled",
		slog.String("ruleset_version_id", version.ID.String()),
		slog.Int("rule_count", len(compiled)),
		slog.String("checksum", sum),
		slog.Duration("elapsed", time.Since(start)))

	return &Result{
		Ruleset:        ruleset,
		RulesetVersion: version,
		AST:            ast,
		Payload:        payload,
		Checksum:       sum,
	}, nil
}

type compiledRule struct {
	priority int
	ruleID   string
	rendered map[string]any
}

func (c *Compiler) compileRule(ruleset *models.Ruleset, version *models.RulesetVersion, member *models.RuleVersion, cat condition.Catalog) (compiledRule, error) {
	fail := func(message string, details map[string]any) (compiledRule, error) {
		if details == nil {
			details = map[string]any{}
		}
		details["ruleset_version_id"] = version.ID.String()
		details["rule_version_id"] = member.ID.String()
		details["rule_id"] = member.RuleID.String()
		return compiledRule{}, apperrors.Compilation(message, details)
	}

	if member.Status != domain.StatusApproved {
		return fail("member rule version is not approved", map[string]any{
			"status": string(member.Status),
		})
	}
	if member.RuleType != nil && *member.RuleType != ruleset.RuleType {
		return fail("member rule type does not match ruleset", map[string]any{
			"rule_type":         string(*member.RuleType),
			"ruleset_rule_type": string(ruleset.RuleType),
		})
	}

	tree, err := condition.Parse(member.ConditionTree)
	if err != nil {
		return fail("condition tree does not parse", map[string]any{
			"cause": err.Error(),
			"path":  errorPath(err),
		})
	}
	if err := condition.Validate(tree, cat); err != nil {
		return fail("condition tree failed validation", map[string]any{
			"cause": err.Error(),
			"path":  errorPath(err),
		})
	}

	scope, err := decodeScope(member.Scope)
	if err != nil {
		return fail("scope does not parse", map[string]any{"cause": err.Error()})
	}

	return compiledRule{
		priority: member.Priority,
		ruleID:   member.RuleID.String(),
		rendered: map[string]any{
			"ruleId":        member.RuleID.String(),
			"ruleVersionId": member.ID.String(),
			"priority":      member.Priority,
			"when":          tree.Render(),
			"action":        string(member.Action),
			"scope":         scope,
		},
	}, nil
}

// decodeScope parses the stored scope JSONB into the generic form, defaulting
// to an empty object.
func decodeScope(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var scope any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&scope); err != nil {
		return nil, err
	}
	if scope == nil {
		return map[string]any{}, nil
	}
	return scope, nil
}

// errorPath extracts the JSONPath detail a condition error carries, if any.
func errorPath(err error) string {
	if details := apperrors.DetailsOf(err); details != nil {
		if p, ok := details["path"].(string); ok {
			return p
		}
	}
	return ""
}
