// Package telemetry exports engine lifecycle events as OpenTelemetry
// metrics.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petrijr/tickflow/pkg/api"
)

const meterName = "github.com/petrijr/tickflow"

// MetricsObserver records engine events with an OTel meter.
//
// Instruments:
//   - tickflow.instances (Int64Counter): lifecycle transitions, with
//     attributes tenant_id and event (started, completed, failed, paused)
//   - tickflow.node.duration (Float64Histogram): node execution time in
//     seconds, with attributes tenant_id, node_type and status (ok, error)
//   - tickflow.tick.states (Int64Counter): states processed per tick
//   - tickflow.tick.conflicts (Int64Counter): optimistic write conflicts
//   - tickflow.tick.duration (Float64Histogram): tick duration in seconds
type MetricsObserver struct {
	instances     metric.Int64Counter
	nodeDuration  metric.Float64Histogram
	tickStates    metric.Int64Counter
	tickConflicts metric.Int64Counter
	tickDuration  metric.Float64Histogram
}

var _ api.Observer = (*MetricsObserver)(nil)

// NewMetricsObserver uses the global MeterProvider. Without one configured
// every instrument is a noop.
func NewMetricsObserver() *MetricsObserver {
	return NewMetricsObserverWithMeter(otel.Meter(meterName))
}

func NewMetricsObserverWithMeter(meter metric.Meter) *MetricsObserver {
	// The OTel API returns noop instruments alongside any error.
	instances, _ := meter.Int64Counter("tickflow.instances",
		metric.WithDescription("Workflow instance lifecycle transitions"),
		metric.WithUnit("{instance}"))
	nodeDuration, _ := meter.Float64Histogram("tickflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"))
	tickStates, _ := meter.Int64Counter("tickflow.tick.states",
		metric.WithDescription("Execution states processed by scheduler ticks"),
		metric.WithUnit("{state}"))
	tickConflicts, _ := meter.Int64Counter("tickflow.tick.conflicts",
		metric.WithDescription("State writes lost to a concurrent tick"),
		metric.WithUnit("{conflict}"))
	tickDuration, _ := meter.Float64Histogram("tickflow.tick.duration",
		metric.WithDescription("Duration of a scheduler tick in seconds"),
		metric.WithUnit("s"))

	return &MetricsObserver{
		instances:     instances,
		nodeDuration:  nodeDuration,
		tickStates:    tickStates,
		tickConflicts: tickConflicts,
		tickDuration:  tickDuration,
	}
}

func (m *MetricsObserver) instance(ctx context.Context, st *api.ExecutionState, event string) {
	m.instances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", st.TenantID),
		attribute.String("event", event),
	))
}

func (m *MetricsObserver) OnInstanceStarted(ctx context.Context, st *api.ExecutionState) {
	m.instance(ctx, st, "started")
}

func (m *MetricsObserver) OnNodeExecuted(ctx context.Context, st *api.ExecutionState, node api.Node, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.nodeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tenant_id", st.TenantID),
		attribute.String("node_type", string(node.Type)),
		attribute.String("status", status),
	))
}

func (m *MetricsObserver) OnInstanceCompleted(ctx context.Context, st *api.ExecutionState) {
	m.instance(ctx, st, "completed")
}

func (m *MetricsObserver) OnInstanceFailed(ctx context.Context, st *api.ExecutionState, err error) {
	m.instance(ctx, st, "failed")
}

func (m *MetricsObserver) OnInstancePaused(ctx context.Context, st *api.ExecutionState) {
	m.instance(ctx, st, "paused")
}

func (m *MetricsObserver) OnTickCompleted(ctx context.Context, s *api.ProcessingSummary) {
	m.tickStates.Add(ctx, int64(s.StatesProcessed))
	m.tickConflicts.Add(ctx, int64(s.Conflicts))
	m.tickDuration.Record(ctx, s.FinishedAt.Sub(s.StartedAt).Seconds())
}
