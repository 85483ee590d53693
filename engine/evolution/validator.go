// Package evolution applies the self-modification proposals reflection
// nodes produce: RFC 6902 patches over the workflow document, validated
// before and after application and recorded in the workflow's evolution
// history.
package evolution

import "fmt"

// maxAgentNodesPerPatch caps how many agent nodes one proposal may add
const maxAgentNodesPerPatch = 5

// ValidateOperations checks the shape of a proposal's patch operations
// before anything touches the workflow document.
func ValidateOperations(operations []map[string]interface{}) error {
	if len(operations) == 0 {
		return fmt.Errorf("proposal has no operations")
	}

	agentCount := 0
	for i, op := range operations {
		if err := validateOperation(op, i); err != nil {
			return err
		}
		if op["op"] == "add" && op["path"] == "/nodes/-" {
			if value, ok := op["value"].(map[string]interface{}); ok {
				if nodeType, ok := value["type"].(string); ok && isAgentType(nodeType) {
					agentCount++
				}
			}
		}
	}

	if agentCount > maxAgentNodesPerPatch {
		return fmt.Errorf("cannot add more than %d agent nodes per proposal (attempted %d)", maxAgentNodesPerPatch, agentCount)
	}
	return nil
}

func validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok || path == "" {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}

	switch opType {
	case "add", "replace":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}
		if path == "/nodes/-" {
			if err := validateNodeValue(op["value"], index); err != nil {
				return err
			}
		}
	case "remove":
	default:
		return fmt.Errorf("operation %d: unsupported operation type %q", index, opType)
	}
	return nil
}

func validateNodeValue(value interface{}, index int) error {
	node, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("operation %d: node value must be an object, got %T", index, value)
	}
	if _, ok := node["id"].(string); !ok {
		return fmt.Errorf("operation %d: added node must have a string 'id'", index)
	}
	if _, ok := node["type"].(string); !ok {
		return fmt.Errorf("operation %d: added node must have a string 'type'", index)
	}
	if data, exists := node["data"]; exists {
		if _, ok := data.(map[string]interface{}); !ok {
			return fmt.Errorf("operation %d: node 'data' must be an object, got %T", index, data)
		}
	}
	return nil
}

func isAgentType(nodeType string) bool {
	return nodeType == "claude-agent" || nodeType == "codex-agent"
}
