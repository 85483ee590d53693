// Package condition evaluates the rule lists condition nodes carry:
// resolved input references compared against configured values, combined
// left-to-right with "and" binding tighter than "or".
package condition

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/skeinworks/skein/engine/resolver"
)

// Operator names
const (
	OpEquals              = "equals"
	OpNotEquals           = "not_equals"
	OpContains            = "contains"
	OpNotContains         = "not_contains"
	OpGreaterThan         = "greater_than"
	OpLessThan            = "less_than"
	OpGreaterThanOrEquals = "greater_than_or_equals"
	OpLessThanOrEquals    = "less_than_or_equals"
	OpIsEmpty             = "is_empty"
	OpIsNotEmpty          = "is_not_empty"
	OpRegex               = "regex"
)

// Rule is one comparison. Joiner connects the rule to the one before it
// ("and" when unset); the first rule's joiner is ignored.
type Rule struct {
	InputReference string      `json:"inputReference"`
	Operator       string      `json:"operator"`
	CompareValue   interface{} `json:"compareValue,omitempty"`
	Joiner         string      `json:"joiner,omitempty"`
}

// Resolver is the slice of the reference resolver the evaluator needs
type Resolver interface {
	Interpolate(text string) string
	Resolve(ref string) (interface{}, bool)
}

// Evaluator evaluates rule lists against a resolver
type Evaluator struct {
	resolver Resolver
}

// NewEvaluator creates an evaluator bound to one execution's resolver
func NewEvaluator(r Resolver) *Evaluator {
	return &Evaluator{resolver: r}
}

// Evaluate combines the rules into OR-joined groups of AND-joined runs and
// returns the overall verdict. An empty rule list is false.
func (e *Evaluator) Evaluate(rules []Rule) bool {
	if len(rules) == 0 {
		return false
	}

	orResult := false
	andGroup := e.evalRule(rules[0])

	for _, rule := range rules[1:] {
		value := e.evalRule(rule)
		if strings.EqualFold(rule.Joiner, "or") {
			orResult = orResult || andGroup
			andGroup = value
		} else {
			andGroup = andGroup && value
		}
	}

	return orResult || andGroup
}

// evalRule resolves the rule's input and applies its operator
func (e *Evaluator) evalRule(rule Rule) bool {
	left, present := e.resolveInput(rule.InputReference)

	switch rule.Operator {
	case OpIsEmpty:
		return isEmpty(left, present)
	case OpIsNotEmpty:
		return !isEmpty(left, present)
	}

	compare := asString(rule.CompareValue)

	switch rule.Operator {
	case OpEquals:
		return asString(left) == compare
	case OpNotEquals:
		return asString(left) != compare
	case OpContains:
		return containsValue(left, compare)
	case OpNotContains:
		return !containsValue(left, compare)
	case OpGreaterThan:
		return compareOrdered(left, compare, func(c int) bool { return c > 0 })
	case OpLessThan:
		return compareOrdered(left, compare, func(c int) bool { return c < 0 })
	case OpGreaterThanOrEquals:
		return compareOrdered(left, compare, func(c int) bool { return c >= 0 })
	case OpLessThanOrEquals:
		return compareOrdered(left, compare, func(c int) bool { return c <= 0 })
	case OpRegex:
		re, err := regexp.Compile(compare)
		if err != nil {
			return false
		}
		return re.MatchString(asString(left))
	default:
		return false
	}
}

// resolveInput resolves the rule input: a direct reference keeps its type,
// templated text interpolates to a string, and anything unresolvable falls
// back to the literal text.
func (e *Evaluator) resolveInput(input string) (interface{}, bool) {
	switch {
	case resolver.IsDirectReference(input):
		return e.resolver.Resolve(input)
	case strings.Contains(input, "{{"):
		return e.resolver.Interpolate(input), true
	default:
		if value, ok := e.resolver.Resolve(input); ok {
			return value, true
		}
		return input, true
	}
}

// compareOrdered coerces both sides numerically and falls back to string
// ordering when either side does not parse.
func compareOrdered(left interface{}, compare string, verdict func(int) bool) bool {
	leftStr := asString(left)

	leftNum, leftErr := strconv.ParseFloat(strings.TrimSpace(leftStr), 64)
	rightNum, rightErr := strconv.ParseFloat(strings.TrimSpace(compare), 64)

	if leftErr == nil && rightErr == nil {
		switch {
		case leftNum > rightNum:
			return verdict(1)
		case leftNum < rightNum:
			return verdict(-1)
		default:
			return verdict(0)
		}
	}

	return verdict(strings.Compare(leftStr, compare))
}

// containsValue checks substring membership for strings and element
// membership for arrays.
func containsValue(left interface{}, compare string) bool {
	if arr, ok := left.([]interface{}); ok {
		for _, item := range arr {
			if asString(item) == compare {
				return true
			}
		}
		return false
	}
	return strings.Contains(asString(left), compare)
}

// isEmpty treats missing, null, blank strings, empty arrays, and empty
// objects as empty.
func isEmpty(value interface{}, present bool) bool {
	if !present || value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	default:
		return false
	}
}

// asString renders a comparison operand: strings verbatim, everything else
// JSON-encoded (numbers without exponent noise, booleans as true/false).
func asString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
