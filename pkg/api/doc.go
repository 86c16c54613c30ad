// Package api contains the core types of the tickflow automation engine:
// workflow graphs, execution states, run logs, the Engine interface and the
// Observer family.
//
// Most users interact with the higher-level tickflow package, which
// re-exports selected types and constructors from this package. The api
// package is intended for integrations (action handlers, entity readers,
// custom observers) and for contributors extending the engine itself.
//
// # Workflow graphs
//
// A WorkflowDefinition embeds a Graph of Nodes and Connections. A Node is a
// tagged union: its Type selects which one of the Trigger, Action, Condition
// or Delay payloads is set. Connections leave a node through a Port; only
// condition nodes use the yes/no ports, every other node uses the default
// port. Graph.Validate checks the structural invariants, and Graph.Next
// resolves the node reached through a port.
//
// # Execution states
//
// An ExecutionState is the durable progress of one entity (contact or deal)
// through one workflow. CurrentNodeID is the node about to run, and
// NextExecutionTime gates when the scheduler may run it. Active and waiting
// states are "live"; completed and failed states are terminal; paused states
// belong to a deactivated workflow.
//
// # Side effects
//
// Action nodes delegate to an ActionHandler per ActionType. The engine
// provides resolved templates, target identifiers and an idempotency key,
// and interprets the returned error. Delivery is at-least-once.
//
// # Observability
//
// Observer receives instance, node and tick lifecycle callbacks.
// LoggingObserver writes them through log/slog, BasicMetrics keeps atomic
// counters, and NewCompositeObserver fans out to several observers.
package api
