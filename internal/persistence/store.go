package persistence

import (
	"context"
	"time"

	"github.com/petrijr/tickflow/pkg/api"
)

// WorkflowStore handles storage of workflow definitions.
type WorkflowStore interface {
	// SaveWorkflow creates or replaces a definition, keeping its stats.
	SaveWorkflow(ctx context.Context, def *api.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, tenantID, id string) (*api.WorkflowDefinition, error)
	ListActiveWorkflows(ctx context.Context, tenantID string) ([]*api.WorkflowDefinition, error)
	SetWorkflowActive(ctx context.Context, tenantID, id string, active bool, at time.Time) error
	// RecordRun atomically increments the run counters of a definition.
	RecordRun(ctx context.Context, tenantID, id string, success bool, at time.Time) error
}

// StateStore handles storage of execution states.
type StateStore interface {
	// CreateState inserts a new state. It returns api.ErrDuplicateLiveState
	// when a live state already exists for the same workflow and entity.
	CreateState(ctx context.Context, st *api.ExecutionState) error

	// UpdateState replaces a state if its stored Version still equals
	// st.Version, then increments st.Version. A stale version yields
	// api.ErrStateConflict.
	UpdateState(ctx context.Context, st *api.ExecutionState) error

	GetState(ctx context.Context, tenantID, id string) (*api.ExecutionState, error)

	// FindLiveState returns the active or waiting state of a workflow for an
	// entity, or api.ErrStateNotFound.
	FindLiveState(ctx context.Context, tenantID, workflowID, entityID string) (*api.ExecutionState, error)

	// ListDueStates returns live states with NextExecutionTime <= now,
	// earliest first, at most limit of them.
	ListDueStates(ctx context.Context, tenantID string, now time.Time, limit int) ([]*api.ExecutionState, error)

	// ListLiveStates returns every active or waiting state of a workflow.
	ListLiveStates(ctx context.Context, tenantID, workflowID string) ([]*api.ExecutionState, error)

	// ListTenants returns every tenant that owns at least one live state.
	ListTenants(ctx context.Context) ([]string, error)
}

// RunLogStore is an append-only store of node execution records.
type RunLogStore interface {
	AppendRunLog(ctx context.Context, log api.RunLog) error
	ListRunLogs(ctx context.Context, tenantID, stateID string) ([]api.RunLog, error)
}

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction.
type Persistence struct {
	Workflows WorkflowStore
	States    StateStore
	RunLogs   RunLogStore
	Entities  api.EntityReader
}
