package api

import "time"

// Status represents the lifecycle state of an execution instance.
type Status string

const (
	// StatusActive is ready to run as soon as NextExecutionTime has passed.
	StatusActive Status = "active"
	// StatusWaiting is parked until NextExecutionTime, typically after a delay node.
	StatusWaiting Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusPaused is entered when the owning workflow is deactivated mid-flight.
	StatusPaused Status = "paused"
)

// LiveStatuses are the statuses the scheduler picks up and the dispatcher
// dedups against.
var LiveStatuses = []Status{StatusActive, StatusWaiting}

// IsLive reports whether s is active or waiting.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusWaiting
}

// IsTerminal reports whether no further processing will occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EntityType is the kind of CRM record an instance runs for.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityDeal    EntityType = "deal"
)

// ExecutionState is the durable progress of one entity through one workflow.
type ExecutionState struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	TenantID    string     `json:"tenant_id"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	EntityEmail string     `json:"entity_email,omitempty"`

	// CurrentNodeID is the node about to execute, not the last one executed.
	CurrentNodeID     string         `json:"current_node_id"`
	Status            Status         `json:"status"`
	NextExecutionTime time.Time      `json:"next_execution_time"`
	NodesExecuted     []string       `json:"nodes_executed"`
	Context           map[string]any `json:"context"`
	LastError         string         `json:"last_error,omitempty"`

	// Snapshot is the graph the instance was started on.
	Snapshot *Graph `json:"snapshot,omitempty"`

	// Version is bumped by the store on every successful update and used
	// as an optimistic concurrency check.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy that can be mutated without affecting s. Context
// values are copied one level deep.
func (s *ExecutionState) Clone() *ExecutionState {
	out := *s
	out.NodesExecuted = append([]string(nil), s.NodesExecuted...)
	if s.Context != nil {
		out.Context = make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.Snapshot != nil {
		g := s.Snapshot.Clone()
		out.Snapshot = &g
	}
	return &out
}

// Outcome of a single node execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// RunLog is an append-only audit record of one node execution attempt.
type RunLog struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenant_id"`
	WorkflowID string        `json:"workflow_id"`
	StateID    string        `json:"state_id"`
	NodeID     string        `json:"node_id"`
	NodeName   string        `json:"node_name"`
	NodeType   NodeType      `json:"node_type"`
	Outcome    Outcome       `json:"outcome"`
	Message    string        `json:"message,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}
