package exec

import "time"

// ApprovalRequest is the payload of a node-waiting event: everything a
// human approver needs to decide.
type ApprovalRequest struct {
	ExecutionID string                 `json:"executionId"`
	NodeID      string                 `json:"nodeId"`
	NodeName    string                 `json:"nodeName"`
	Message     string                 `json:"message,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	RequestedAt time.Time              `json:"requestedAt"`
}

// ApprovalResponse resolves a pending approval
type ApprovalResponse struct {
	Approved    bool      `json:"approved"`
	Feedback    string    `json:"feedback,omitempty"`
	RespondedAt time.Time `json:"respondedAt"`
}
