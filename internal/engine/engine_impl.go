package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/tickflow/internal/lock"
	"github.com/petrijr/tickflow/internal/persistence"
	"github.com/petrijr/tickflow/pkg/api"
)

const (
	DefaultBatchSize     = 100
	DefaultParallelism   = 1
	DefaultStepDelay     = time.Second
	DefaultLockTTL       = 5 * time.Minute
	DefaultActionTimeout = 30 * time.Second
)

// engineImpl is a stateless engine: every call reads and writes through the
// configured stores, so any number of processes may share them.
type engineImpl struct {
	workflows persistence.WorkflowStore
	states    persistence.StateStore
	runLogs   persistence.RunLogStore

	executor *Executor
	observer api.Observer
	logger   *slog.Logger
	locker   lock.Locker
	owner    string

	batchSize   int
	parallelism int
	stepDelay   time.Duration
	lockTTL     time.Duration

	now   func() time.Time
	newID func() string
}

// Config describes how to construct an engine. Zero values select the
// defaults above; a nil Locker disables tenant leases.
type Config struct {
	Persistence persistence.Persistence
	Actions     map[api.ActionType]api.ActionHandler
	Observer    api.Observer
	Logger      *slog.Logger
	Locker      lock.Locker

	// Owner identifies this process in tenant leases.
	Owner string

	BatchSize     int
	Parallelism   int
	StepDelay     time.Duration
	LockTTL       time.Duration
	ActionTimeout time.Duration

	// Clock and IDs are replaced in tests.
	Clock func() time.Time
	IDs   func() string
}

func NewInMemoryEngine() api.Engine {
	return NewEngine(persistence.NewInMemoryStore().Persistence())
}

// NewEngine returns an engine with default settings and no action handlers.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	return newEngine(cfg)
}

func newEngine(cfg Config) *engineImpl {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	ids := cfg.IDs
	if ids == nil {
		ids = uuid.NewString
	}
	owner := cfg.Owner
	if owner == "" {
		owner = defaultOwner()
	}

	reg := newActionRegistry()
	for typ, h := range cfg.Actions {
		reg.Register(typ, h)
	}

	return &engineImpl{
		workflows: cfg.Persistence.Workflows,
		states:    cfg.Persistence.States,
		runLogs:   cfg.Persistence.RunLogs,
		executor: NewExecutor(ExecutorConfig{
			Actions:       reg,
			Entities:      cfg.Persistence.Entities,
			Logger:        logger,
			Clock:         now,
			ActionTimeout: orDefault(cfg.ActionTimeout, DefaultActionTimeout),
		}),
		observer:    obs,
		logger:      logger,
		locker:      cfg.Locker,
		owner:       owner,
		batchSize:   orDefault(cfg.BatchSize, DefaultBatchSize),
		parallelism: orDefault(cfg.Parallelism, DefaultParallelism),
		stepDelay:   orDefault(cfg.StepDelay, DefaultStepDelay),
		lockTTL:     orDefault(cfg.LockTTL, DefaultLockTTL),
		now:         now,
		newID:       ids,
	}
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tickflow"
	}
	return host + ":" + uuid.NewString()
}

func (e *engineImpl) SaveWorkflow(ctx context.Context, def *api.WorkflowDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", api.ErrInvalidWorkflow)
	}
	if def.ID == "" || def.TenantID == "" {
		return fmt.Errorf("%w: id and tenant_id are required", api.ErrInvalidWorkflow)
	}
	if def.Name == "" {
		return fmt.Errorf("%w: workflow name is required", api.ErrInvalidWorkflow)
	}
	if err := def.Validate(); err != nil {
		return err
	}

	now := e.now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	return e.workflows.SaveWorkflow(ctx, def)
}

func (e *engineImpl) GetWorkflow(ctx context.Context, tenantID, id string) (*api.WorkflowDefinition, error) {
	return e.workflows.GetWorkflow(ctx, tenantID, id)
}

func (e *engineImpl) SetWorkflowActive(ctx context.Context, tenantID, id string, active bool) error {
	if err := e.workflows.SetWorkflowActive(ctx, tenantID, id, active, e.now()); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "workflow activation changed",
		"tenant_id", tenantID, "workflow_id", id, "active", active)
	if active {
		return nil
	}
	return e.pauseLiveStates(ctx, tenantID, id)
}

// pauseLiveStates pauses every in-flight instance of a deactivated workflow,
// including those still waiting on a delay. A state claimed concurrently by
// a tick is left to that tick, which pauses it the next time it is due.
func (e *engineImpl) pauseLiveStates(ctx context.Context, tenantID, workflowID string) error {
	states, err := e.states.ListLiveStates(ctx, tenantID, workflowID)
	if err != nil {
		return fmt.Errorf("list live states: %w", err)
	}
	var errs []error
	for _, st := range states {
		st.Status = api.StatusPaused
		st.UpdatedAt = e.now()
		if err := e.states.UpdateState(ctx, st); err != nil {
			if isConflict(err) {
				e.logger.InfoContext(ctx, "state modified by another tick",
					"tenant_id", tenantID, "state_id", st.ID, "op", "pause")
				continue
			}
			errs = append(errs, fmt.Errorf("pause state %s: %w", st.ID, err))
			continue
		}
		e.observer.OnInstancePaused(ctx, st)
	}
	return errors.Join(errs...)
}

func (e *engineImpl) GetState(ctx context.Context, tenantID, id string) (*api.ExecutionState, error) {
	return e.states.GetState(ctx, tenantID, id)
}

func (e *engineImpl) ListRunLogs(ctx context.Context, tenantID, stateID string) ([]api.RunLog, error) {
	return e.runLogs.ListRunLogs(ctx, tenantID, stateID)
}

// appendRunLog records one node execution. Failures are logged and returned
// so the caller can surface them; they never change the state transition.
func (e *engineImpl) appendRunLog(ctx context.Context, st *api.ExecutionState, node api.Node, res NodeResult, d time.Duration) error {
	entry := api.RunLog{
		ID:         e.newID(),
		TenantID:   st.TenantID,
		WorkflowID: st.WorkflowID,
		StateID:    st.ID,
		NodeID:     node.ID,
		NodeName:   node.Name,
		NodeType:   node.Type,
		Outcome:    api.OutcomeSuccess,
		Message:    res.Message,
		Error:      res.Error,
		Duration:   d,
		Timestamp:  e.now(),
	}
	if !res.Success {
		entry.Outcome = api.OutcomeFailed
	}
	if err := e.runLogs.AppendRunLog(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "append run log failed",
			"state_id", st.ID, "node_id", node.ID, "error", err)
		return fmt.Errorf("state %s: append run log: %w", st.ID, err)
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, api.ErrStateConflict)
}
