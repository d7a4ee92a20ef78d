// Package condition models rule predicate trees as a tagged sum type and
// validates them against the field catalog. Two wire shapes are accepted:
//
// Shape A (keyword keys), the canonical artifact form:
//
//	{"and": [node, ...]} | {"or": [node, ...]} | {"not": node}
//	  | {"field": key, "op": OP, "value": v}
//
// Shape B (typed), produced by older API clients:
//
//	{"type": "AND"|"OR", "conditions": [node, ...]}
//	  | {"type": "NOT", "condition": node}
//	  | {"type": "CONDITION", "field": key, "operator": OP, "value": v}
//
// Parse normalizes both shapes into the sum type; Render always emits shape A
// so the compiler output is independent of which shape the rule was authored
// in.
package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/domain"
)

// Node is one node of a predicate tree.
type Node interface {
	isNode()

	// Render returns the shape-A value tree for canonical serialization.
	Render() map[string]any
}

// And matches when all children match. Never empty after Parse.
type And struct {
	Nodes []Node
}

// Or matches when any child matches. Never empty after Parse.
type Or struct {
	Nodes []Node
}

// Not inverts its child.
type Not struct {
	Node Node
}

// Leaf is a single field comparison. Value holds a scalar for single-value
// operators, or a []any for IN/NOT_IN/BETWEEN. Numbers are json.Number so the
// canonical serializer reproduces the authored literal.
type Leaf struct {
	Field string
	Op    domain.Operator
	Value any
}

func (And) isNode()  {}
func (Or) isNode()   {}
func (Not) isNode()  {}
func (Leaf) isNode() {}

func (n And) Render() map[string]any {
	return map[string]any{"and": renderChildren(n.Nodes)}
}

func (n Or) Render() map[string]any {
	return map[string]any{"or": renderChildren(n.Nodes)}
}

func (n Not) Render() map[string]any {
	return map[string]any{"not": n.Node.Render()}
}

func (n Leaf) Render() map[string]any {
	return map[string]any{"field": n.Field, "op": string(n.Op), "value": n.Value}
}

func renderChildren(nodes []Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n.Render()
	}
	return out
}

// Parse decodes raw JSON into the sum type, accepting both wire shapes.
// Structural problems fail with a ValidationError carrying the JSONPath of
// the offending node.
func Parse(raw []byte) (Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperrors.Validation("condition tree cannot be empty", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, apperrors.Validation("condition tree is not valid JSON", map[string]any{
			"error": err.Error(),
		})
	}
	return parseNode(v, "$")
}

func parseNode(v any, path string) (Node, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nodeError(path, fmt.Sprintf("condition node must be an object at %s", path), nil)
	}

	nodeType := ""
	if t, ok := obj["type"].(string); ok {
		nodeType = strings.ToUpper(t)
	}

	switch {
	case hasKey(obj, "and"):
		return parseComposite(obj["and"], "and", path, func(ns []Node) Node { return And{Nodes: ns} })
	case hasKey(obj, "or"):
		return parseComposite(obj["or"], "or", path, func(ns []Node) Node { return Or{Nodes: ns} })
	case hasKey(obj, "not"):
		child, err := parseChildObject(obj["not"], path+".not")
		if err != nil {
			return nil, err
		}
		return Not{Node: child}, nil
	case nodeType == "AND":
		return parseComposite(obj["conditions"], "conditions", path, func(ns []Node) Node { return And{Nodes: ns} })
	case nodeType == "OR":
		return parseComposite(obj["conditions"], "conditions", path, func(ns []Node) Node { return Or{Nodes: ns} })
	case nodeType == "NOT":
		child, err := parseChildObject(obj["condition"], path+".condition")
		if err != nil {
			return nil, err
		}
		return Not{Node: child}, nil
	case hasKey(obj, "field") || nodeType == "CONDITION":
		return parseLeaf(obj, path)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	return nil, nodeError(path,
		fmt.Sprintf("invalid condition node at %s: must contain 'and', 'or', 'not', 'field', or 'type'", path),
		map[string]any{"keys": keys})
}

func parseComposite(v any, key, path string, build func([]Node) Node) (Node, error) {
	children, ok := v.([]any)
	if !ok {
		return nil, nodeError(path, fmt.Sprintf("'%s' must be a list at %s", key, path), nil)
	}
	if len(children) == 0 {
		return nil, nodeError(path, fmt.Sprintf("'%s' cannot be empty at %s", key, path), nil)
	}

	nodes := make([]Node, 0, len(children))
	for i, child := range children {
		childPath := fmt.Sprintf("%s.%s[%d]", path, key, i)
		node, err := parseNode(child, childPath)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return build(nodes), nil
}

func parseChildObject(v any, path string) (Node, error) {
	if _, ok := v.(map[string]any); !ok {
		return nil, nodeError(path, fmt.Sprintf("negation must contain a single condition object at %s", path), nil)
	}
	return parseNode(v, path)
}

func parseLeaf(obj map[string]any, path string) (Node, error) {
	field, _ := obj["field"].(string)
	if field == "" {
		return nil, nodeError(path, fmt.Sprintf("leaf node missing 'field' at %s", path), nil)
	}

	// Shape A uses "op", shape B uses "operator".
	opStr, _ := obj["op"].(string)
	if opStr == "" {
		opStr, _ = obj["operator"].(string)
	}
	if opStr == "" {
		return nil, nodeError(path, fmt.Sprintf("leaf node missing 'op' at %s", path), map[string]any{
			"field_key": field,
		})
	}

	op := domain.Operator(opStr)
	if !op.Valid() {
		return nil, nodeError(path, fmt.Sprintf("unknown operator '%s' at %s", opStr, path), map[string]any{
			"field_key": field,
			"operator":  opStr,
		})
	}

	value, ok := obj["value"]
	if !ok {
		return nil, nodeError(path, fmt.Sprintf("leaf node missing 'value' at %s", path), map[string]any{
			"field_key": field,
		})
	}

	return Leaf{Field: field, Op: op, Value: value}, nil
}

func hasKey(obj map[string]any, key string) bool {
	_, ok := obj[key]
	return ok
}

func nodeError(path, message string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["path"] = path
	return apperrors.Validation(message, details)
}
