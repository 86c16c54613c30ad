package api

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStateNotFound is returned when an execution state does not exist.
	ErrStateNotFound = errors.New("execution state not found")

	// ErrStateConflict is returned by a store when an update was based on a
	// stale Version, i.e. another tick already advanced the state.
	ErrStateConflict = errors.New("execution state was modified concurrently")

	// ErrDuplicateLiveState is returned by a store when creating a second
	// active/waiting state for the same workflow and entity.
	ErrDuplicateLiveState = errors.New("live execution state already exists")

	// ErrEntityNotFound is returned by an EntityReader for unknown entities.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidWorkflow wraps every graph validation failure.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrInvalidTrigger is returned by Dispatch for malformed requests.
	ErrInvalidTrigger = errors.New("invalid trigger request")
)

// TriggerRequest is a domain event reported by the rest of the application.
type TriggerRequest struct {
	TenantID   string         `json:"tenant_id"`
	Event      TriggerEvent   `json:"event"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	EntityData map[string]any `json:"entity_data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DispatchResult lists the workflows a trigger started.
type DispatchResult struct {
	Triggered int      `json:"triggered"`
	Workflows []string `json:"workflows"`
	// Errors holds per-workflow failures that did not abort the dispatch.
	Errors []string `json:"errors,omitempty"`
}

// ProcessingSummary is the outcome of one scheduler tick.
type ProcessingSummary struct {
	StatesProcessed    int       `json:"states_processed"`
	NodesExecuted      int       `json:"nodes_executed"`
	WorkflowsCompleted int       `json:"workflows_completed"`
	StatesFailed       int       `json:"states_failed"`
	StatesPaused       int       `json:"states_paused"`
	Conflicts          int       `json:"conflicts"`
	TenantsProcessed   int       `json:"tenants_processed"`
	TenantsSkipped     int       `json:"tenants_skipped"`
	Errors             []string  `json:"errors"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Engine is the public API of the automation engine.
type Engine interface {
	// SaveWorkflow validates and stores (creates or replaces) a definition.
	SaveWorkflow(ctx context.Context, def *WorkflowDefinition) error

	// GetWorkflow returns a stored definition.
	GetWorkflow(ctx context.Context, tenantID, id string) (*WorkflowDefinition, error)

	// SetWorkflowActive toggles a definition. Deactivating it pauses every
	// in-flight instance of the workflow, including those waiting on a delay.
	SetWorkflowActive(ctx context.Context, tenantID, id string, active bool) error

	// Dispatch starts every active workflow of the tenant whose trigger
	// matches the event, at most one live instance per workflow and entity.
	Dispatch(ctx context.Context, req TriggerRequest) (*DispatchResult, error)

	// RunOnce performs one scheduler tick over all tenants. It returns an
	// error only when the sweep could not start at all; per-state and
	// per-tenant failures are reported in the summary.
	RunOnce(ctx context.Context) (*ProcessingSummary, error)

	// GetState returns an execution state.
	GetState(ctx context.Context, tenantID, id string) (*ExecutionState, error)

	// ListRunLogs returns the run logs of an execution state, oldest first.
	ListRunLogs(ctx context.Context, tenantID, stateID string) ([]RunLog, error)
}
