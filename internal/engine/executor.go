package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/petrijr/tickflow/pkg/api"
)

// NodeResult is the outcome of executing one node. The executor never
// mutates the state; the scheduler applies the result.
type NodeResult struct {
	// Node is nil when the current node id could not be resolved.
	Node    *api.Node
	Success bool
	Message string
	Error   string

	// ConditionMet selects the yes/no port after a condition node.
	ConditionMet bool

	// WaitUntil is set by delay nodes.
	WaitUntil time.Time

	// Output is the action handler's result, stored under
	// context.outputs.<node id>.
	Output map[string]any
}

func failed(node *api.Node, format string, args ...any) NodeResult {
	return NodeResult{Node: node, Error: fmt.Sprintf(format, args...)}
}

// ExecutorConfig wires an Executor to its collaborators.
type ExecutorConfig struct {
	Actions       *actionRegistry
	Entities      api.EntityReader
	Logger        *slog.Logger
	Clock         func() time.Time
	ActionTimeout time.Duration
}

// Executor runs a single node of an execution state.
type Executor struct {
	actions       *actionRegistry
	entities      api.EntityReader
	logger        *slog.Logger
	now           func() time.Time
	actionTimeout time.Duration
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	x := &Executor{
		actions:       cfg.Actions,
		entities:      cfg.Entities,
		logger:        cfg.Logger,
		now:           cfg.Clock,
		actionTimeout: cfg.ActionTimeout,
	}
	if x.actions == nil {
		x.actions = newActionRegistry()
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}
	if x.now == nil {
		x.now = time.Now
	}
	return x
}

// Execute runs st.CurrentNodeID of graph. Panics raised by action handlers
// are converted into failed results.
func (x *Executor) Execute(ctx context.Context, graph *api.Graph, st *api.ExecutionState) (res NodeResult) {
	node, ok := graph.Node(st.CurrentNodeID)
	if !ok {
		return failed(nil, "node %q not found in workflow graph", st.CurrentNodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			res = failed(node, "panic while executing node %s: %v", node.ID, r)
		}
	}()

	switch node.Type {
	case api.NodeTrigger:
		return NodeResult{Node: node, Success: true, Message: "trigger node passed"}

	case api.NodeAction:
		if node.Action == nil {
			return failed(node, "action node %s has no action config", node.ID)
		}
		return x.executeAction(ctx, node, st)

	case api.NodeCondition:
		if node.Condition == nil {
			return failed(node, "condition node %s has no condition config", node.ID)
		}
		return x.evaluateCondition(ctx, node, st)

	case api.NodeDelay:
		if node.Delay == nil {
			return failed(node, "delay node %s has no delay config", node.ID)
		}
		until, err := computeWaitUntil(*node.Delay, x.now())
		if err != nil {
			return failed(node, "delay node %s: %v", node.ID, err)
		}
		return NodeResult{
			Node:      node,
			Success:   true,
			Message:   "waiting until " + until.Format(time.RFC3339),
			WaitUntil: until,
		}

	default:
		return failed(node, "unknown node type %q", node.Type)
	}
}

func (x *Executor) executeAction(ctx context.Context, node *api.Node, st *api.ExecutionState) NodeResult {
	cfg := *node.Action
	handler, ok := x.actions.Get(cfg.Type)
	if !ok {
		return failed(node, "no handler registered for action type %q", cfg.Type)
	}

	tr := newTemplateRenderer(ctx, x.logger, st, node.ID)
	req := api.ActionRequest{
		TenantID:       st.TenantID,
		WorkflowID:     st.WorkflowID,
		StateID:        st.ID,
		NodeID:         node.ID,
		EntityType:     st.EntityType,
		EntityID:       st.EntityID,
		EntityEmail:    st.EntityEmail,
		Config:         tr.actionConfig(cfg),
		Context:        maps.Clone(st.Context),
		IdempotencyKey: idempotencyKey(st, node.ID),
	}

	actx := ctx
	if x.actionTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, x.actionTimeout)
		defer cancel()
	}

	out, err := handler.Handle(actx, req)
	if err != nil {
		return failed(node, "action %s failed: %v", cfg.Type, err)
	}
	return NodeResult{
		Node:    node,
		Success: true,
		Message: fmt.Sprintf("action %s executed", cfg.Type),
		Output:  out,
	}
}

// idempotencyKey is stable across re-executions of the same visit: the
// executed count only grows once the visit's transition is persisted.
func idempotencyKey(st *api.ExecutionState, nodeID string) string {
	return fmt.Sprintf("%s:%s:%d", st.ID, nodeID, len(st.NodesExecuted))
}

// withOutput returns a copy of stateCtx with out stored under
// outputs.<nodeID>. The input map is not modified.
func withOutput(stateCtx map[string]any, nodeID string, out map[string]any) map[string]any {
	next := make(map[string]any, len(stateCtx)+1)
	maps.Copy(next, stateCtx)

	outputs := make(map[string]any)
	if prev, ok := stateCtx["outputs"].(map[string]any); ok {
		maps.Copy(outputs, prev)
	}
	outputs[nodeID] = out
	next["outputs"] = outputs
	return next
}
