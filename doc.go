// Package tickflow provides a tick-driven workflow automation engine for
// multi-tenant business applications.
//
// Tenants author workflows as directed graphs of trigger, action,
// condition and delay nodes. Domain events ("contact.created",
// "deal.won", ...) start one instance per matching workflow and entity,
// and the instance then advances through its graph across minutes, days
// or weeks of real time. There is no resident scheduler: progress is made
// by periodic, stateless ticks, typically an HTTP endpoint hit by an
// external cron.
//
// # Core Concepts
//
//  1. Engine
//  2. WorkflowDefinition and FlowBuilder
//  3. ExecutionState
//  4. ActionHandler
//  5. LocalRunner
//
// # Engine
//
// The Engine stores workflow definitions and execution states and provides
// APIs to:
//   - save, fetch and (de)activate workflows
//   - dispatch domain events (Dispatch)
//   - advance due instances by one node each (RunOnce)
//   - inspect instances and their run logs
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - MongoDB
//
// All durable state lives in the store, so any number of processes may
// tick the same store. A Locker (Redis in production) keeps two ticks from
// sweeping the same tenant at once, and every state write is guarded by
// an optimistic version check.
//
// # Workflow graphs
//
// A workflow has exactly one trigger node. Action nodes perform side
// effects through ActionHandlers, condition nodes branch on the current
// entity through their yes/no ports, and delay nodes park the instance
// until a point in time. Instances follow the graph they were started on,
// so editing a live workflow only affects new instances.
//
// FlowBuilder assembles graphs in code:
//
//	tickflow.New("acme", "welcome", "Welcome series").
//	    On(tickflow.TriggerConfig{Event: api.EventContactCreated}).
//	    Delay("wait", tickflow.DelayConfig{Minutes: 10}).
//	    Action("email", tickflow.ActionConfig{Type: api.ActionSendEmail, Subject: "Hi {{entity.first_name}}"})
//
// # Side effects
//
// Delivery is at-least-once. Every ActionRequest carries an IdempotencyKey
// that stays the same when a node visit is retried after a crash;
// integrations that create external artifacts should dedupe on it.
//
// # LocalRunner
//
// LocalRunner pairs an in-memory engine with an in-process ticker. It is
// not crash-durable, but it is the most convenient way to run and debug
// workflows during development.
//
// For examples, see the /examples directory.
package tickflow
