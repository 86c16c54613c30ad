package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay the tick.
type Observer interface {
	// OnInstanceStarted is called after the dispatcher persisted a new instance.
	OnInstanceStarted(ctx context.Context, st *ExecutionState)

	// OnNodeExecuted is called after every node execution, for both
	// successes and failures (err != nil).
	OnNodeExecuted(ctx context.Context, st *ExecutionState, node Node, err error, duration time.Duration)

	// OnInstanceCompleted is called when an instance reaches StatusCompleted.
	OnInstanceCompleted(ctx context.Context, st *ExecutionState)

	// OnInstanceFailed is called when an instance transitions to StatusFailed.
	OnInstanceFailed(ctx context.Context, st *ExecutionState, err error)

	// OnInstancePaused is called when an instance is paused because its
	// workflow was deactivated.
	OnInstancePaused(ctx context.Context, st *ExecutionState)

	// OnTickCompleted is called once at the end of every scheduler tick.
	OnTickCompleted(ctx context.Context, summary *ProcessingSummary)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, st *ExecutionState) {}
func (NoopObserver) OnNodeExecuted(ctx context.Context, st *ExecutionState, node Node, err error, d time.Duration) {
}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, st *ExecutionState)            {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, st *ExecutionState, err error)    {}
func (NoopObserver) OnInstancePaused(ctx context.Context, st *ExecutionState)               {}
func (NoopObserver) OnTickCompleted(ctx context.Context, summary *ProcessingSummary)        {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, st *ExecutionState) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, st)
	}
}

func (c *CompositeObserver) OnNodeExecuted(ctx context.Context, st *ExecutionState, node Node, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeExecuted(ctx, st, node, err, d)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, st *ExecutionState) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, st)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, st *ExecutionState, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, st, err)
	}
}

func (c *CompositeObserver) OnInstancePaused(ctx context.Context, st *ExecutionState) {
	for _, o := range c.observers {
		o.OnInstancePaused(ctx, st)
	}
}

func (c *CompositeObserver) OnTickCompleted(ctx context.Context, summary *ProcessingSummary) {
	for _, o := range c.observers {
		o.OnTickCompleted(ctx, summary)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance and node
// lifecycle events. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func stateAttrs(st *ExecutionState) []any {
	return []any{
		slog.String("tenant_id", st.TenantID),
		slog.String("workflow_id", st.WorkflowID),
		slog.String("state_id", st.ID),
		slog.String("entity_id", st.EntityID),
	}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, st *ExecutionState) {
	o.Logger.InfoContext(ctx, "instance_started",
		append(stateAttrs(st), slog.String("current_node_id", st.CurrentNodeID))...)
}

func (o *LoggingObserver) OnNodeExecuted(ctx context.Context, st *ExecutionState, node Node, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_executed",
		append(stateAttrs(st),
			slog.String("node_id", node.ID),
			slog.String("node_type", string(node.Type)),
			slog.Duration("duration", d),
			slog.Any("error", err),
		)...)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, st *ExecutionState) {
	o.Logger.InfoContext(ctx, "instance_completed", stateAttrs(st)...)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, st *ExecutionState, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed", append(stateAttrs(st), slog.Any("error", err))...)
}

func (o *LoggingObserver) OnInstancePaused(ctx context.Context, st *ExecutionState) {
	o.Logger.WarnContext(ctx, "instance_paused",
		append(stateAttrs(st), slog.String("current_node_id", st.CurrentNodeID))...)
}

func (o *LoggingObserver) OnTickCompleted(ctx context.Context, s *ProcessingSummary) {
	o.Logger.InfoContext(ctx, "tick_completed",
		slog.Int("states_processed", s.StatesProcessed),
		slog.Int("nodes_executed", s.NodesExecuted),
		slog.Int("workflows_completed", s.WorkflowsCompleted),
		slog.Int("states_failed", s.StatesFailed),
		slog.Int("states_paused", s.StatesPaused),
		slog.Int("errors", len(s.Errors)),
		slog.Duration("duration", s.FinishedAt.Sub(s.StartedAt)),
	)
}

// BasicMetrics collects simple in-process counters. It implements Observer
// and can be combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted   atomic.Int64
	instancesCompleted atomic.Int64
	instancesFailed    atomic.Int64
	instancesPaused    atomic.Int64
	nodesExecuted      atomic.Int64
	nodesFailed        atomic.Int64
	ticks              atomic.Int64
	totalNodeDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesFailed    int64
	InstancesPaused    int64

	NodesExecuted   int64
	NodesFailed     int64
	AvgNodeDuration time.Duration

	Ticks int64
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, st *ExecutionState) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnNodeExecuted(ctx context.Context, st *ExecutionState, node Node, err error, d time.Duration) {
	m.nodesExecuted.Add(1)
	m.totalNodeDuration.Add(d.Nanoseconds())
	if err != nil {
		m.nodesFailed.Add(1)
	}
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, st *ExecutionState) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, st *ExecutionState, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnInstancePaused(ctx context.Context, st *ExecutionState) {
	m.instancesPaused.Add(1)
}

func (m *BasicMetrics) OnTickCompleted(ctx context.Context, s *ProcessingSummary) {
	m.ticks.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	nodes := m.nodesExecuted.Load()
	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(m.totalNodeDuration.Load() / nodes)
	}
	return BasicMetricsSnapshot{
		InstancesStarted:   m.instancesStarted.Load(),
		InstancesCompleted: m.instancesCompleted.Load(),
		InstancesFailed:    m.instancesFailed.Load(),
		InstancesPaused:    m.instancesPaused.Load(),
		NodesExecuted:      nodes,
		NodesFailed:        m.nodesFailed.Load(),
		AvgNodeDuration:    avg,
		Ticks:              m.ticks.Load(),
	}
}
