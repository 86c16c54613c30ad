package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/tickflow/internal/lock"
	"github.com/petrijr/tickflow/pkg/api"
)

const workflowNotFoundMessage = "Workflow not found"

// RunOnce performs one tick: every tenant with live states gets its due
// states advanced by one node each.
func (e *engineImpl) RunOnce(ctx context.Context) (*api.ProcessingSummary, error) {
	summary := &api.ProcessingSummary{StartedAt: e.now(), Errors: []string{}}

	tenants, err := e.states.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.parallelism)
	for _, tenantID := range tenants {
		g.Go(func() error {
			ts := e.processTenant(ctx, tenantID)
			mu.Lock()
			mergeSummary(summary, ts)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = e.now()
	e.observer.OnTickCompleted(ctx, summary)
	return summary, nil
}

func mergeSummary(dst, src *api.ProcessingSummary) {
	dst.StatesProcessed += src.StatesProcessed
	dst.NodesExecuted += src.NodesExecuted
	dst.WorkflowsCompleted += src.WorkflowsCompleted
	dst.StatesFailed += src.StatesFailed
	dst.StatesPaused += src.StatesPaused
	dst.Conflicts += src.Conflicts
	dst.TenantsProcessed += src.TenantsProcessed
	dst.TenantsSkipped += src.TenantsSkipped
	dst.Errors = append(dst.Errors, src.Errors...)
}

func tenantLockKey(tenantID string) string {
	return "tenant:" + tenantID
}

// tenantRun is the per-tenant state of one tick.
type tenantRun struct {
	tenantID string
	summary  *api.ProcessingSummary
	defs     map[string]*api.WorkflowDefinition
}

func (r *tenantRun) errorf(format string, args ...any) {
	r.summary.Errors = append(r.summary.Errors, fmt.Sprintf("tenant %s: ", r.tenantID)+fmt.Sprintf(format, args...))
}

func (e *engineImpl) processTenant(ctx context.Context, tenantID string) *api.ProcessingSummary {
	run := &tenantRun{
		tenantID: tenantID,
		summary:  &api.ProcessingSummary{},
		defs:     make(map[string]*api.WorkflowDefinition),
	}

	if e.locker != nil {
		key := tenantLockKey(tenantID)
		ok, err := e.locker.TryAcquire(ctx, key, e.owner, e.lockTTL)
		if err != nil {
			run.summary.TenantsSkipped++
			run.errorf("acquire tick lease: %v", err)
			return run.summary
		}
		if !ok {
			e.logger.InfoContext(ctx, "tenant is being processed by another tick", "tenant_id", tenantID)
			run.summary.TenantsSkipped++
			return run.summary
		}
		defer func() {
			if err := e.locker.Release(context.WithoutCancel(ctx), key, e.owner); err != nil {
				e.logger.WarnContext(ctx, "release tick lease failed", "tenant_id", tenantID, "error", err)
			}
		}()
	}

	due, err := e.states.ListDueStates(ctx, tenantID, e.now(), e.batchSize)
	if err != nil {
		run.errorf("list due states: %v", err)
		return run.summary
	}
	run.summary.TenantsProcessed++

	for _, st := range due {
		if err := ctx.Err(); err != nil {
			run.errorf("tick interrupted: %v", err)
			break
		}
		if !e.renewLease(ctx, run) {
			break
		}
		e.processState(ctx, run, st)
	}
	return run.summary
}

// renewLease extends the tenant lease before the next state. It reports
// false when the lease was lost, in which case the tenant is abandoned so
// another tick can own it.
func (e *engineImpl) renewLease(ctx context.Context, run *tenantRun) bool {
	if e.locker == nil {
		return true
	}
	err := e.locker.Renew(ctx, tenantLockKey(run.tenantID), e.owner, e.lockTTL)
	switch {
	case err == nil:
		return true
	case errors.Is(err, lock.ErrNotHeld):
		e.logger.WarnContext(ctx, "tick lease lost, leaving tenant", "tenant_id", run.tenantID)
		run.errorf("tick lease lost")
	default:
		run.errorf("renew tick lease: %v", err)
	}
	return false
}

func (e *engineImpl) definition(ctx context.Context, run *tenantRun, workflowID string) (*api.WorkflowDefinition, error) {
	if def, ok := run.defs[workflowID]; ok {
		if def == nil {
			return nil, api.ErrWorkflowNotFound
		}
		return def, nil
	}
	def, err := e.workflows.GetWorkflow(ctx, run.tenantID, workflowID)
	switch {
	case err == nil:
		run.defs[workflowID] = def
	case errors.Is(err, api.ErrWorkflowNotFound):
		run.defs[workflowID] = nil
	}
	return def, err
}

func (e *engineImpl) processState(ctx context.Context, run *tenantRun, st *api.ExecutionState) {
	def, err := e.definition(ctx, run, st.WorkflowID)
	switch {
	case errors.Is(err, api.ErrWorkflowNotFound):
		node := api.Node{ID: st.CurrentNodeID}
		res := failed(nil, workflowNotFoundMessage)
		if err := e.appendRunLog(ctx, st, node, res, 0); err != nil {
			run.errorf("%v", err)
		}
		e.failState(ctx, run, st, nil, workflowNotFoundMessage)
		return
	case err != nil:
		run.errorf("state %s: load workflow %s: %v", st.ID, st.WorkflowID, err)
		return
	}

	if !def.IsActive {
		e.pauseState(ctx, run, st)
		return
	}

	// Claim the state; a concurrent tick that already advanced it wins.
	st.UpdatedAt = e.now()
	if err := e.states.UpdateState(ctx, st); err != nil {
		e.handleWriteError(ctx, run, st, "claim", err)
		return
	}
	run.summary.StatesProcessed++

	graph := st.Snapshot
	if graph == nil {
		graph = &def.Graph
	}

	start := time.Now()
	res := e.executor.Execute(ctx, graph, st)
	elapsed := time.Since(start)
	run.summary.NodesExecuted++

	node := api.Node{ID: st.CurrentNodeID}
	if res.Node != nil {
		node = *res.Node
	}
	if err := e.appendRunLog(ctx, st, node, res, elapsed); err != nil {
		run.errorf("%v", err)
	}
	var nodeErr error
	if !res.Success {
		nodeErr = errors.New(res.Error)
	}
	e.observer.OnNodeExecuted(ctx, st, node, nodeErr, elapsed)

	if !res.Success {
		e.failState(ctx, run, st, def, res.Error)
		return
	}
	e.advanceState(ctx, run, st, graph, node, res)
}

func (e *engineImpl) advanceState(ctx context.Context, run *tenantRun, st *api.ExecutionState, graph *api.Graph, node api.Node, res NodeResult) {
	if res.Output != nil {
		st.Context = withOutput(st.Context, node.ID, res.Output)
	}
	st.NodesExecuted = append(st.NodesExecuted, node.ID)

	port := api.PortDefault
	if node.Type == api.NodeCondition {
		port = api.PortNo
		if res.ConditionMet {
			port = api.PortYes
		}
	}

	now := e.now()
	st.UpdatedAt = now
	next, ok := graph.Next(node.ID, port)
	if !ok {
		st.Status = api.StatusCompleted
		st.CompletedAt = &now
		if err := e.states.UpdateState(ctx, st); err != nil {
			e.handleWriteError(ctx, run, st, "complete", err)
			return
		}
		run.summary.WorkflowsCompleted++
		e.recordRun(ctx, run, st, true)
		e.observer.OnInstanceCompleted(ctx, st)
		return
	}

	st.CurrentNodeID = next
	if node.Type == api.NodeDelay {
		st.Status = api.StatusWaiting
		st.NextExecutionTime = res.WaitUntil
	} else {
		st.Status = api.StatusActive
		st.NextExecutionTime = now.Add(e.stepDelay)
	}
	if err := e.states.UpdateState(ctx, st); err != nil {
		e.handleWriteError(ctx, run, st, "advance", err)
	}
}

func (e *engineImpl) failState(ctx context.Context, run *tenantRun, st *api.ExecutionState, def *api.WorkflowDefinition, msg string) {
	st.Status = api.StatusFailed
	st.LastError = msg
	st.UpdatedAt = e.now()
	if err := e.states.UpdateState(ctx, st); err != nil {
		e.handleWriteError(ctx, run, st, "fail", err)
		return
	}
	run.summary.StatesFailed++
	if def != nil {
		e.recordRun(ctx, run, st, false)
	}
	e.observer.OnInstanceFailed(ctx, st, errors.New(msg))
}

func (e *engineImpl) pauseState(ctx context.Context, run *tenantRun, st *api.ExecutionState) {
	st.Status = api.StatusPaused
	st.UpdatedAt = e.now()
	if err := e.states.UpdateState(ctx, st); err != nil {
		e.handleWriteError(ctx, run, st, "pause", err)
		return
	}
	run.summary.StatesPaused++
	e.observer.OnInstancePaused(ctx, st)
}

func (e *engineImpl) recordRun(ctx context.Context, run *tenantRun, st *api.ExecutionState, success bool) {
	if err := e.workflows.RecordRun(ctx, st.TenantID, st.WorkflowID, success, e.now()); err != nil {
		e.logger.WarnContext(ctx, "record workflow run failed",
			"tenant_id", st.TenantID, "workflow_id", st.WorkflowID, "error", err)
		run.errorf("workflow %s: record run: %v", st.WorkflowID, err)
	}
}

func (e *engineImpl) handleWriteError(ctx context.Context, run *tenantRun, st *api.ExecutionState, op string, err error) {
	if isConflict(err) {
		e.logger.InfoContext(ctx, "state modified by another tick",
			"tenant_id", st.TenantID, "state_id", st.ID, "op", op)
		run.summary.Conflicts++
		return
	}
	e.logger.ErrorContext(ctx, "state write failed",
		"tenant_id", st.TenantID, "state_id", st.ID, "op", op, "error", err)
	run.errorf("state %s: %s: %v", st.ID, op, err)
}
