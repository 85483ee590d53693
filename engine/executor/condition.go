package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skeinworks/skein/engine/condition"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Condition evaluates the node's rule list against the current context and
// routes the "true" or "false" source handle.
type Condition struct{}

// Validate rejects a condition node without rules or with rules missing an
// operator.
func (Condition) Validate(node *workflow.Node) error {
	rules := exec.ConfMapSlice(node.Data, "rules")
	if len(rules) == 0 {
		return fmt.Errorf("condition node %q has no rules", node.Name())
	}
	for i, raw := range rules {
		if exec.ConfString(raw, "operator") == "" {
			return fmt.Errorf("condition node %q rule %d has no operator", node.Name(), i)
		}
	}
	return nil
}

func (Condition) Execute(_ context.Context, node *workflow.Node, ectx exec.Context, _ exec.EmitFunc) (*exec.Result, error) {
	rules, err := decodeRules(node)
	if err != nil {
		return nil, err
	}

	verdict := condition.NewEvaluator(conditionResolver{ectx}).Evaluate(rules)
	return &exec.Result{Output: verdict}, nil
}

// OutputHandle routes "true" or "false" from the boolean result
func (Condition) OutputHandle(result interface{}, _ *workflow.Node) (string, bool) {
	verdict, ok := result.(bool)
	if !ok {
		return "", false
	}
	if verdict {
		return workflow.HandleTrue, true
	}
	return workflow.HandleFalse, true
}

// decodeRules converts the node's JSON rule maps into condition.Rule
func decodeRules(node *workflow.Node) ([]condition.Rule, error) {
	raw, err := json.Marshal(exec.ConfMapSlice(node.Data, "rules"))
	if err != nil {
		return nil, fmt.Errorf("encode condition rules: %w", err)
	}
	var rules []condition.Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decode condition rules: %w", err)
	}
	return rules, nil
}

// conditionResolver adapts the execution context to the evaluator's
// resolver interface.
type conditionResolver struct {
	ectx exec.Context
}

func (r conditionResolver) Interpolate(text string) string {
	return r.ectx.Interpolate(text)
}

func (r conditionResolver) Resolve(ref string) (interface{}, bool) {
	return r.ectx.ResolveReference(ref)
}
