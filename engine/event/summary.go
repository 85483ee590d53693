package event

import "github.com/skeinworks/skein/engine/exec"

// ExecutionStatus is the lifecycle state of a whole execution
type ExecutionStatus string

const (
	StatusRunning     ExecutionStatus = "running"
	StatusComplete    ExecutionStatus = "complete"
	StatusError       ExecutionStatus = "error"
	StatusInterrupted ExecutionStatus = "interrupted"
)

// NodeSummary is the per-node slice of an execution summary
type NodeSummary struct {
	Status      exec.NodeStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartedAt   string          `json:"startedAt,omitempty"`
	CompletedAt string          `json:"completedAt,omitempty"`
}

// ReplayMeta records where a replayed execution came from
type ReplayMeta struct {
	SourceExecutionID string `json:"sourceExecutionId"`
	FromNodeID        string `json:"fromNodeId"`
}

// Summary is the folded view of one execution's journal. Input and Replay
// are known at start time and set by the journal; everything else is
// derived by applying records in order.
type Summary struct {
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId"`
	Input       interface{}            `json:"input,omitempty"`
	Status      ExecutionStatus        `json:"status"`
	StartedAt   string                 `json:"startedAt,omitempty"`
	CompletedAt string                 `json:"completedAt,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Replay      *ReplayMeta            `json:"replay,omitempty"`
	Nodes       map[string]NodeSummary `json:"nodes"`
}

// NewSummary seeds a summary before any record is applied
func NewSummary(executionID, workflowID string, input interface{}) *Summary {
	return &Summary{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Input:       input,
		Status:      StatusRunning,
		Nodes:       make(map[string]NodeSummary),
	}
}

// Apply folds one record into the summary
func (s *Summary) Apply(rec Record) {
	ev := rec.Event
	switch ev.Type {
	case TypeExecutionStart:
		if ev.ExecutionID != "" {
			s.ExecutionID = ev.ExecutionID
		}
		if ev.WorkflowID != "" {
			s.WorkflowID = ev.WorkflowID
		}
		s.Status = StatusRunning
		s.StartedAt = rec.Timestamp

	case TypeNodeStart:
		node := s.Nodes[ev.NodeID]
		node.Status = exec.StatusRunning
		node.StartedAt = rec.Timestamp
		node.Error = ""
		node.CompletedAt = ""
		s.Nodes[ev.NodeID] = node

	case TypeNodeComplete:
		node := s.Nodes[ev.NodeID]
		node.Status = exec.StatusComplete
		node.CompletedAt = rec.Timestamp
		node.Error = ""
		s.Nodes[ev.NodeID] = node

	case TypeNodeError:
		node := s.Nodes[ev.NodeID]
		node.Status = exec.StatusError
		node.Error = ev.Error
		node.CompletedAt = rec.Timestamp
		s.Nodes[ev.NodeID] = node

	case TypeNodeWaiting:
		node := s.Nodes[ev.NodeID]
		node.Status = exec.StatusWaiting
		s.Nodes[ev.NodeID] = node

	case TypeExecutionComplete:
		s.Status = StatusComplete
		s.CompletedAt = rec.Timestamp
		s.Result = ev.Result

	case TypeExecutionError:
		if ev.Error == interruptedMessage {
			s.Status = StatusInterrupted
		} else {
			s.Status = StatusError
		}
		s.CompletedAt = rec.Timestamp

	case TypeValidationError:
		s.Status = StatusError
		s.CompletedAt = rec.Timestamp
	}
}

// Fold rebuilds a summary from a full record stream
func Fold(records []Record) *Summary {
	s := NewSummary("", "", nil)
	for _, rec := range records {
		s.Apply(rec)
	}
	return s
}
