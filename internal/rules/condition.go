// Package rules implements the rule processor families, the shared
// condition evaluator, and the tagging engine that orchestrates them.
package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/txntag/autotag/internal/domain"
)

// Operator is a closed enum of comparison operators for leaf conditions.
// Unknown strings fold to a "never matches" leaf rather than an error
// (spec §4.2 "any unknown operator ⇒ false").
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
)

// BoolOp combines a Compound's children.
type BoolOp string

const (
	BoolAnd BoolOp = "and"
	BoolOr  BoolOp = "or"
)

// Condition is a parsed node of the boolean DSL described in spec §4.2:
// either a Leaf (has Field set) or a Compound (has Children set).
// Conditions are parsed from their JSON each time a rule is evaluated
// (parsed trees are not cached) and evaluated by straightforward
// recursion.
type Condition struct {
	// Leaf fields
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	// Compound fields
	Children []*Condition `json:"conditions,omitempty"`
	BoolOp   BoolOp       `json:"-"`

	// Tag is only meaningful on top-level clauses of a conditional
	// processor's condition list; guard conditions ignore it.
	Tag string `json:"tag,omitempty"`

	isCompound bool
}

// rawCondition mirrors the JSON shape so we can distinguish "operator" as
// a leaf comparator from "operator" as a compound and/or selector without
// ambiguity, since both use the same JSON key in spec §4.2.
type rawCondition struct {
	Field      string            `json:"field"`
	Operator   string            `json:"operator"`
	Value      any               `json:"value"`
	Conditions []json.RawMessage `json:"conditions"`
	Tag        string            `json:"tag"`
}

// ParseCondition parses one condition clause (leaf or compound) from JSON.
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rc rawCondition
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("parse condition: %w", err)
	}

	if rc.Conditions != nil {
		children := make([]*Condition, 0, len(rc.Conditions))
		for _, childRaw := range rc.Conditions {
			child, err := ParseCondition(childRaw)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		}
		return &Condition{
			Children:   children,
			BoolOp:     BoolOp(strings.ToLower(rc.Operator)),
			Tag:        rc.Tag,
			isCompound: true,
		}, nil
	}

	return &Condition{
		Field:    rc.Field,
		Operator: Operator(rc.Operator),
		Value:    rc.Value,
		Tag:      rc.Tag,
	}, nil
}

// absent is the sentinel for a missing field value (spec §4.2). It
// compares unequal to any non-absent value, fails every relational
// operator, and stringifies to the empty string.
type absent struct{}

// FieldResolver resolves a field path to its value, distinguishing the
// transaction's own attributes from its metadata (spec §4.2 "field path").
func FieldResolver(tx *domain.Transaction, metadata map[string]any) func(path string) any {
	return func(path string) any {
		if strings.HasPrefix(path, "metadata.") {
			key := path[len("metadata."):]
			if v, ok := metadata[key]; ok {
				return v
			}
			return absent{}
		}
		if tx != nil {
			if v, ok := tx.FieldValue(path); ok {
				return v
			}
		}
		return absent{}
	}
}

// Evaluate walks the condition tree and returns whether it is satisfied.
func (c *Condition) Evaluate(resolve func(path string) any) bool {
	if c == nil {
		return false
	}
	if c.isCompound {
		return c.evaluateCompound(resolve)
	}
	return c.evaluateLeaf(resolve)
}

func (c *Condition) evaluateCompound(resolve func(path string) any) bool {
	switch c.BoolOp {
	case BoolAnd:
		for _, child := range c.Children {
			if !child.Evaluate(resolve) {
				return false
			}
		}
		return true
	case BoolOr:
		for _, child := range c.Children {
			if child.Evaluate(resolve) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (c *Condition) evaluateLeaf(resolve func(path string) any) bool {
	actual := resolve(c.Field)
	switch c.Operator {
	case OpEquals:
		return valuesEqual(actual, c.Value)
	case OpNotEquals:
		return !valuesEqual(actual, c.Value)
	case OpGreaterThan:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp > 0
	case OpLessThan:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp < 0
	case OpContains:
		return strings.Contains(stringify(actual), stringify(c.Value))
	case OpRegex:
		pattern := stringify(c.Value)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(stringify(actual))
	default:
		return false
	}
}

// valuesEqual implements deep equality for equals/not_equals (spec §4.2:
// "deep equality on native values"). absent never equals anything,
// including another absent value. No numeric coercion here — that's
// scoped to compareValues' relational operators only, so the string
// "100" never equals the number 100.
func valuesEqual(a, b any) bool {
	if _, ok := a.(absent); ok {
		return false
	}
	if _, ok := b.(absent); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareValues implements the greater_than/less_than semantics of spec
// §4.2: try numeric comparison first; on coercion failure fall back to
// lexicographic comparison of the stringified forms. This fallback can
// produce surprising results (e.g. "v10" < "v2" lexicographically) — see
// DESIGN.md's open-question note; it is intentional, not a bug.
func compareValues(a, b any) (int, bool) {
	if _, ok := a.(absent); ok {
		return 0, false
	}
	if _, ok := b.(absent); ok {
		return 0, false
	}
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, bs := stringify(a), stringify(b)
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// stringify renders a value the way Python's str() would for the types
// the JSON decoder produces, per spec §4.1's stringification rule
// (reused here for contains/regex operands).
func stringify(v any) string {
	switch x := v.(type) {
	case absent:
		return ""
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		return x.String()
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(data)
	}
}
