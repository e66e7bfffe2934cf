package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperagent/hyperagent/pkg/parser"
	"github.com/hyperagent/hyperagent/pkg/workflow/expression"
)

// Condition is a predicate over the run scope. It is either the literal
// "always", a leaf comparing a scope path against a value, a composite
// (any/all/not), or an expression string evaluated by expr-lang.
//
// Exactly one form may be set per node; Validate enforces this.
type Condition struct {
	// Always matches unconditionally. Set by the document literal
	// "always".
	Always bool `yaml:"-" json:"-"`

	// Field is the dotted scope path a leaf comparator inspects.
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Equals matches when the field strictly equals this value.
	Equals interface{} `yaml:"equals,omitempty" json:"equals,omitempty"`

	// Includes matches when the field (string or array) contains this
	// value.
	Includes interface{} `yaml:"includes,omitempty" json:"includes,omitempty"`

	// In matches when the field's value is a member of this list.
	In []interface{} `yaml:"in,omitempty" json:"in,omitempty"`

	// Matches is a regular expression tested against the field's
	// string value.
	Matches string `yaml:"matches,omitempty" json:"matches,omitempty"`

	// Exists matches when the field is defined (true) or undefined
	// (false).
	Exists *bool `yaml:"exists,omitempty" json:"exists,omitempty"`

	// Absent matches when the field is undefined.
	Absent bool `yaml:"absent,omitempty" json:"absent,omitempty"`

	// Numeric comparators. Numeric strings in scope (state bag values)
	// are coerced before comparison.
	Gt *float64 `yaml:"gt,omitempty" json:"gt,omitempty"`
	Ge *float64 `yaml:"ge,omitempty" json:"ge,omitempty"`
	Lt *float64 `yaml:"lt,omitempty" json:"lt,omitempty"`
	Le *float64 `yaml:"le,omitempty" json:"le,omitempty"`

	// Any matches when at least one child matches (short-circuit).
	Any []*Condition `yaml:"any,omitempty" json:"any,omitempty"`

	// All matches when every child matches (short-circuit).
	All []*Condition `yaml:"all,omitempty" json:"all,omitempty"`

	// Not inverts its child.
	Not *Condition `yaml:"not,omitempty" json:"not,omitempty"`

	// Expr is an expr-lang expression evaluated against the scope.
	// Missing identifiers evaluate falsy.
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// AlwaysCondition returns the unconditional condition.
func AlwaysCondition() *Condition { return &Condition{Always: true} }

type plainCondition Condition

// UnmarshalYAML accepts either the scalar "always" or a predicate node.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s != "always" {
			return fmt.Errorf("invalid condition literal: %q (only \"always\" is recognized)", s)
		}
		c.Always = true
		return nil
	}
	return node.Decode((*plainCondition)(c))
}

// UnmarshalJSON accepts either the string "always" or a predicate node.
func (c *Condition) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "always" {
			return fmt.Errorf("invalid condition literal: %q (only \"always\" is recognized)", s)
		}
		c.Always = true
		return nil
	}
	return json.Unmarshal(data, (*plainCondition)(c))
}

// MarshalYAML renders the "always" literal back as a scalar so documents
// round-trip.
func (c Condition) MarshalYAML() (interface{}, error) {
	if c.Always {
		return "always", nil
	}
	return plainCondition(c), nil
}

// MarshalJSON renders the "always" literal back as a string.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Always {
		return json.Marshal("always")
	}
	return json.Marshal(plainCondition(c))
}

// comparatorCount counts the leaf comparators set on this node.
func (c *Condition) comparatorCount() int {
	n := 0
	if c.Equals != nil {
		n++
	}
	if c.Includes != nil {
		n++
	}
	if c.In != nil {
		n++
	}
	if c.Matches != "" {
		n++
	}
	if c.Exists != nil {
		n++
	}
	if c.Absent {
		n++
	}
	for _, p := range []*float64{c.Gt, c.Ge, c.Lt, c.Le} {
		if p != nil {
			n++
		}
	}
	return n
}

// Validate checks that the node has exactly one form and that regexes
// and expressions compile.
func (c *Condition) Validate() error {
	if c == nil {
		return fmt.Errorf("condition is required")
	}
	forms := 0
	if c.Always {
		forms++
	}
	if c.Field != "" {
		forms++
	}
	if c.Any != nil {
		forms++
	}
	if c.All != nil {
		forms++
	}
	if c.Not != nil {
		forms++
	}
	if c.Expr != "" {
		forms++
	}
	if forms != 1 {
		return fmt.Errorf("condition must be exactly one of: \"always\", a field leaf, any, all, not, expr")
	}

	switch {
	case c.Field != "":
		if n := c.comparatorCount(); n != 1 {
			return fmt.Errorf("field condition on %s must carry exactly one comparator, got %d", c.Field, n)
		}
		if c.Matches != "" {
			if _, err := regexp.Compile(c.Matches); err != nil {
				return fmt.Errorf("invalid matches regex on %s: %w", c.Field, err)
			}
		}
	case c.Any != nil:
		if len(c.Any) == 0 {
			return fmt.Errorf("any requires at least one child condition")
		}
		for i, child := range c.Any {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("any[%d]: %w", i, err)
			}
		}
	case c.All != nil:
		if len(c.All) == 0 {
			return fmt.Errorf("all requires at least one child condition")
		}
		for i, child := range c.All {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("all[%d]: %w", i, err)
			}
		}
	case c.Not != nil:
		if err := c.Not.Validate(); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	case c.Expr != "":
		if err := expression.Validate(c.Expr); err != nil {
			return err
		}
	}
	return nil
}

// ConditionEvaluator evaluates conditions against a run scope.
// Evaluation is pure; the evaluator only caches compiled expressions.
type ConditionEvaluator struct {
	expr *expression.Evaluator
}

// NewConditionEvaluator creates a condition evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{expr: expression.New()}
}

// Evaluate returns whether the condition matches the scope.
func (e *ConditionEvaluator) Evaluate(c *Condition, scope Scope) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("condition is required")
	}
	switch {
	case c.Always:
		return true, nil

	case c.Expr != "":
		return e.expr.Evaluate(c.Expr, map[string]interface{}(scope))

	case c.Any != nil:
		for _, child := range c.Any {
			ok, err := e.Evaluate(child, scope)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case c.All != nil:
		for _, child := range c.All {
			ok, err := e.Evaluate(child, scope)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case c.Not != nil:
		ok, err := e.Evaluate(c.Not, scope)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return evaluateLeaf(c, scope)
	}
}

// evaluateLeaf applies a single comparator to the value at c.Field.
// Undefined paths equal no comparator: every comparator yields false
// except absent and exists:false.
func evaluateLeaf(c *Condition, scope Scope) (bool, error) {
	value, defined := scope.Resolve(c.Field)

	switch {
	case c.Absent:
		return !defined, nil

	case c.Exists != nil:
		return defined == *c.Exists, nil

	case !defined:
		return false, nil

	case c.Equals != nil:
		return parser.CanonicalJSON(value) == parser.CanonicalJSON(c.Equals), nil

	case c.Includes != nil:
		return includes(value, c.Includes), nil

	case c.In != nil:
		vj := parser.CanonicalJSON(value)
		for _, item := range c.In {
			if parser.CanonicalJSON(item) == vj {
				return true, nil
			}
		}
		return false, nil

	case c.Matches != "":
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(c.Matches)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil

	case c.Gt != nil:
		return compareNumeric(value, *c.Gt, func(a, b float64) bool { return a > b }), nil
	case c.Ge != nil:
		return compareNumeric(value, *c.Ge, func(a, b float64) bool { return a >= b }), nil
	case c.Lt != nil:
		return compareNumeric(value, *c.Lt, func(a, b float64) bool { return a < b }), nil
	case c.Le != nil:
		return compareNumeric(value, *c.Le, func(a, b float64) bool { return a <= b }), nil
	}

	return false, fmt.Errorf("field condition on %s has no comparator", c.Field)
}

// includes implements string-contains or array-membership.
func includes(value, needle interface{}) bool {
	switch v := value.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		return strings.Contains(v, s)
	case []interface{}:
		nj := parser.CanonicalJSON(needle)
		for _, item := range v {
			if parser.CanonicalJSON(item) == nj {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareNumeric coerces the scope value to a number; numeric strings
// (state bag values) parse. Non-numeric values never match.
func compareNumeric(value interface{}, bound float64, cmp func(a, b float64) bool) bool {
	switch v := value.(type) {
	case float64:
		return cmp(v, bound)
	case float32:
		return cmp(float64(v), bound)
	case int:
		return cmp(float64(v), bound)
	case int64:
		return cmp(float64(v), bound)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false
		}
		return cmp(f, bound)
	default:
		return false
	}
}
