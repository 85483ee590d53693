package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// mapResolver resolves references out of a flat map
type mapResolver map[string]interface{}

func (m mapResolver) Interpolate(text string) string {
	// The evaluator only interpolates {{...}}-bearing text; tests pass the
	// resolved value directly instead.
	return text
}

func (m mapResolver) Resolve(ref string) (interface{}, bool) {
	value, ok := m[ref]
	return value, ok
}

func TestEvaluateOperators(t *testing.T) {
	r := mapResolver{
		"A.result": "approved",
		"A.score":  float64(7),
		"A.tags":   []interface{}{"alpha", "beta"},
		"A.empty":  "",
		"A.items":  []interface{}{},
	}
	e := NewEvaluator(r)

	cases := []struct {
		name string
		rule Rule
		want bool
	}{
		{"equals", Rule{InputReference: "A.result", Operator: OpEquals, CompareValue: "approved"}, true},
		{"equals miss", Rule{InputReference: "A.result", Operator: OpEquals, CompareValue: "rejected"}, false},
		{"not equals", Rule{InputReference: "A.result", Operator: OpNotEquals, CompareValue: "rejected"}, true},
		{"contains substring", Rule{InputReference: "A.result", Operator: OpContains, CompareValue: "rove"}, true},
		{"contains array element", Rule{InputReference: "A.tags", Operator: OpContains, CompareValue: "beta"}, true},
		{"not contains array", Rule{InputReference: "A.tags", Operator: OpNotContains, CompareValue: "gamma"}, true},
		{"greater than numeric", Rule{InputReference: "A.score", Operator: OpGreaterThan, CompareValue: "5"}, true},
		{"less than numeric", Rule{InputReference: "A.score", Operator: OpLessThan, CompareValue: "5"}, false},
		{"gte boundary", Rule{InputReference: "A.score", Operator: OpGreaterThanOrEquals, CompareValue: "7"}, true},
		{"lte boundary", Rule{InputReference: "A.score", Operator: OpLessThanOrEquals, CompareValue: "7"}, true},
		{"is empty blank string", Rule{InputReference: "A.empty", Operator: OpIsEmpty}, true},
		{"is empty array", Rule{InputReference: "A.items", Operator: OpIsEmpty}, true},
		{"is empty missing ref", Rule{InputReference: "A.missing", Operator: OpIsEmpty}, false},
		{"is not empty", Rule{InputReference: "A.result", Operator: OpIsNotEmpty}, true},
		{"regex", Rule{InputReference: "A.result", Operator: OpRegex, CompareValue: "^appr"}, true},
		{"regex invalid pattern", Rule{InputReference: "A.result", Operator: OpRegex, CompareValue: "("}, false},
		{"unknown operator", Rule{InputReference: "A.result", Operator: "spaceship"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate([]Rule{tc.rule}))
		})
	}
}

func TestEvaluateMissingReferenceFallsBackToLiteral(t *testing.T) {
	e := NewEvaluator(mapResolver{})

	// An unresolvable plain input compares as its literal text.
	assert.True(t, e.Evaluate([]Rule{
		{InputReference: "hello", Operator: OpEquals, CompareValue: "hello"},
	}))
}

func TestEvaluateJoiners(t *testing.T) {
	r := mapResolver{
		"A.status": "ok",
		"A.score":  float64(3),
		"B.status": "failed",
	}
	e := NewEvaluator(r)

	// and binds tighter than or: (false AND true) OR true.
	assert.True(t, e.Evaluate([]Rule{
		{InputReference: "A.score", Operator: OpGreaterThan, CompareValue: "5"},
		{InputReference: "A.status", Operator: OpEquals, CompareValue: "ok", Joiner: "and"},
		{InputReference: "B.status", Operator: OpEquals, CompareValue: "failed", Joiner: "or"},
	}))

	// true AND false is false.
	assert.False(t, e.Evaluate([]Rule{
		{InputReference: "A.status", Operator: OpEquals, CompareValue: "ok"},
		{InputReference: "A.score", Operator: OpGreaterThan, CompareValue: "5", Joiner: "and"},
	}))

	// false OR false is false.
	assert.False(t, e.Evaluate([]Rule{
		{InputReference: "A.score", Operator: OpGreaterThan, CompareValue: "5"},
		{InputReference: "B.status", Operator: OpEquals, CompareValue: "ok", Joiner: "or"},
	}))

	assert.False(t, e.Evaluate(nil), "no rules means no verdict")
}
