package workflow

import "time"

// EvolutionRecord is one applied self-modification: which execution and
// reflection node proposed it, and the patch operations that changed the
// workflow document. Appended to the workflow's evolution history.
type EvolutionRecord struct {
	ExecutionID string                   `json:"executionId"`
	NodeID      string                   `json:"nodeId"`
	Timestamp   time.Time                `json:"timestamp"`
	Operations  []map[string]interface{} `json:"operations"`
	Summary     string                   `json:"summary,omitempty"`
}
