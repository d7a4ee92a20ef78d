// validate.go checks parsed condition trees against the field catalog:
// field existence and active status, operator allowance, value typing,
// arity (single vs multi), and BETWEEN ordering.
package condition

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// FieldMeta is the catalog view the validator needs for one field.
type FieldMeta struct {
	FieldID           int
	DataType          domain.DataType
	AllowedOperators  []domain.Operator
	MultiValueAllowed bool
	IsActive          bool
	EnumValues        []string
	IsSensitive       bool
}

// AllowsOperator reports whether op is permitted for the field.
func (m FieldMeta) AllowsOperator(op domain.Operator) bool {
	for _, allowed := range m.AllowedOperators {
		if allowed == op {
			return true
		}
	}
	return false
}

// Catalog maps field_key to metadata for validation.
type Catalog map[string]FieldMeta

// ValidateOptions tunes validation strictness.
type ValidateOptions struct {
	// AllowUnknownFields skips leaf checks for fields absent from the
	// catalog. Used by full compilation where some fields may be
	// runtime-provided; unit validation of authored rules stays strict.
	AllowUnknownFields bool
}

// Validate walks the tree and returns a ValidationError (with JSONPath
// details) on the first violation.
func Validate(tree Node, catalog Catalog) error {
	return ValidateWithOptions(tree, catalog, ValidateOptions{})
}

// ValidateWithOptions is Validate with explicit strictness options.
func ValidateWithOptions(tree Node, catalog Catalog, opts ValidateOptions) error {
	if tree == nil {
		return apperrors.Validation("condition tree cannot be empty", nil)
	}
	return validateNode(tree, catalog, "$", opts)
}

// ParseAndValidate parses raw JSON and validates it in one step.
func ParseAndValidate(raw []byte, catalog Catalog) (Node, error) {
	tree, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(tree, catalog); err != nil {
		return nil, err
	}
	return tree, nil
}

func validateNode(node Node, catalog Catalog, path string, opts ValidateOptions) error {
	switch n := node.(type) {
	case And:
		for i, child := range n.Nodes {
			if err := validateNode(child, catalog, fmt.Sprintf("%s.and[%d]", path, i), opts); err != nil {
				return err
			}
		}
	case Or:
		for i, child := range n.Nodes {
			if err := validateNode(child, catalog, fmt.Sprintf("%s.or[%d]", path, i), opts); err != nil {
				return err
			}
		}
	case Not:
		return validateNode(n.Node, catalog, path+".not", opts)
	case Leaf:
		return validateLeaf(n, catalog, path, opts)
	default:
		return leafError(path, "", fmt.Sprintf("unknown node type %T at %s", node, path), nil)
	}
	return nil
}

func validateLeaf(leaf Leaf, catalog Catalog, path string, opts ValidateOptions) error {
	meta, found := catalog[leaf.Field]
	if !found {
		if opts.AllowUnknownFields {
			return nil
		}
		return leafError(path, leaf.Field, fmt.Sprintf("unknown field '%s' at %s", leaf.Field, path), nil)
	}

	if !meta.IsActive {
		return leafError(path, leaf.Field, fmt.Sprintf("field '%s' is not active at %s", leaf.Field, path), nil)
	}

	if !meta.AllowsOperator(leaf.Op) {
		return leafError(path, leaf.Field,
			fmt.Sprintf("operator '%s' not allowed for field '%s' at %s", leaf.Op, leaf.Field, path),
			map[string]any{"operator": string(leaf.Op), "allowed_operators": meta.AllowedOperators})
	}

	switch {
	case leaf.Op.IsRangeOperator():
		return validateRangeValue(leaf, meta, path)
	case leaf.Op.IsListOperator():
		return validateListValue(leaf, meta, path)
	default:
		return validateScalarValue(leaf, meta, path)
	}
}

func validateRangeValue(leaf Leaf, meta FieldMeta, path string) error {
	values, ok := leaf.Value.([]any)
	if !ok || len(values) != 2 {
		return leafError(path, leaf.Field,
			fmt.Sprintf("operator 'BETWEEN' requires exactly 2 values for field '%s' at %s", leaf.Field, path),
			map[string]any{"operator": string(leaf.Op)})
	}
	for _, v := range values {
		// Null compares only make sense for scalar operators; a BETWEEN
		// bound must be an actual value of the field's type.
		if v == nil {
			return leafError(path, leaf.Field,
				fmt.Sprintf("'BETWEEN' bounds cannot be null for field '%s' at %s", leaf.Field, path),
				map[string]any{"operator": string(leaf.Op)})
		}
		if err := checkPrimitiveType(leaf.Field, meta, v, path); err != nil {
			return err
		}
	}
	if !rangeOrdered(meta.DataType, values[0], values[1]) {
		return leafError(path, leaf.Field,
			fmt.Sprintf("'BETWEEN' bounds out of order for field '%s' at %s", leaf.Field, path),
			map[string]any{"operator": string(leaf.Op)})
	}
	return nil
}

func validateListValue(leaf Leaf, meta FieldMeta, path string) error {
	values, ok := leaf.Value.([]any)
	if !ok {
		return leafError(path, leaf.Field,
			fmt.Sprintf("operator '%s' requires a list for field '%s' at %s", leaf.Op, leaf.Field, path),
			map[string]any{"operator": string(leaf.Op)})
	}
	if len(values) == 0 {
		return leafError(path, leaf.Field,
			fmt.Sprintf("operator '%s' requires a non-empty list for field '%s' at %s", leaf.Op, leaf.Field, path),
			map[string]any{"operator": string(leaf.Op)})
	}
	if !meta.MultiValueAllowed {
		return leafError(path, leaf.Field,
			fmt.Sprintf("field '%s' does not allow multi-value operators at %s", leaf.Field, path),
			map[string]any{"operator": string(leaf.Op)})
	}
	for _, v := range values {
		if v == nil {
			return leafError(path, leaf.Field,
				fmt.Sprintf("operator '%s' does not accept null list elements for field '%s' at %s", leaf.Op, leaf.Field, path),
				map[string]any{"operator": string(leaf.Op)})
		}
		if err := checkPrimitiveType(leaf.Field, meta, v, path); err != nil {
			return err
		}
	}
	return nil
}

func validateScalarValue(leaf Leaf, meta FieldMeta, path string) error {
	if _, isList := leaf.Value.([]any); isList {
		return leafError(path, leaf.Field,
			fmt.Sprintf("operator '%s' does not accept lists for field '%s' at %s", leaf.Op, leaf.Field, path),
			map[string]any{"operator": string(leaf.Op)})
	}
	return checkPrimitiveType(leaf.Field, meta, leaf.Value, path)
}

func checkPrimitiveType(fieldKey string, meta FieldMeta, v any, path string) error {
	if v == nil {
		// Null compares are permitted for nullable payload fields.
		return nil
	}

	mismatch := func() error {
		return leafError(path, fieldKey,
			fmt.Sprintf("field '%s' expects %s value at %s", fieldKey, meta.DataType, path),
			map[string]any{"expected_type": string(meta.DataType)})
	}

	switch meta.DataType {
	case domain.DataTypeString:
		if _, ok := v.(string); !ok {
			return mismatch()
		}
	case domain.DataTypeEnum:
		s, ok := v.(string)
		if !ok {
			return mismatch()
		}
		if len(meta.EnumValues) > 0 && !containsString(meta.EnumValues, s) {
			return leafError(path, fieldKey,
				fmt.Sprintf("value '%s' not in enum set for field '%s' at %s", s, fieldKey, path),
				map[string]any{"allowed_values": meta.EnumValues})
		}
	case domain.DataTypeNumber:
		if !isNumeric(v) {
			return mismatch()
		}
	case domain.DataTypeBoolean:
		if _, ok := v.(bool); !ok {
			return mismatch()
		}
	case domain.DataTypeDate:
		s, ok := v.(string)
		if !ok {
			return mismatch()
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return leafError(path, fieldKey,
				fmt.Sprintf("field '%s' expects ISO-8601 instant at %s", fieldKey, path),
				map[string]any{"value": s})
		}
	default:
		return leafError(path, fieldKey,
			fmt.Sprintf("field '%s' has unknown data type '%s'", fieldKey, meta.DataType), nil)
	}
	return nil
}

func isNumeric(v any) bool {
	switch n := v.(type) {
	case json.Number, int, int64, float64:
		_ = n
		return true
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// rangeOrdered reports lo <= hi for the comparable data types. Types without
// a natural order pass (the primitive check already rejected them if wrong).
func rangeOrdered(dt domain.DataType, lo, hi any) bool {
	switch dt {
	case domain.DataTypeNumber:
		a, aok := asFloat(lo)
		b, bok := asFloat(hi)
		return !aok || !bok || a <= b
	case domain.DataTypeString, domain.DataTypeEnum:
		a, aok := lo.(string)
		b, bok := hi.(string)
		return !aok || !bok || a <= b
	case domain.DataTypeDate:
		los, lok := lo.(string)
		his, hok := hi.(string)
		if !lok || !hok {
			return true
		}
		a, aerr := time.Parse(time.RFC3339, los)
		b, berr := time.Parse(time.RFC3339, his)
		return aerr != nil || berr != nil || !a.After(b)
	}
	return true
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func leafError(path, fieldKey, message string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["path"] = path
	if fieldKey != "" {
		details["field_key"] = fieldKey
	}
	return apperrors.Validation(message, details)
}
