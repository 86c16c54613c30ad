package tickflow

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/tickflow/internal/engine"
	"github.com/petrijr/tickflow/internal/lock"
	"github.com/petrijr/tickflow/internal/persistence"
	"github.com/petrijr/tickflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkflowDefinition   = api.WorkflowDefinition
	Graph                = api.Graph
	Node                 = api.Node
	Connection           = api.Connection
	TriggerConfig        = api.TriggerConfig
	ActionConfig         = api.ActionConfig
	ConditionConfig      = api.ConditionConfig
	DelayConfig          = api.DelayConfig
	ExecutionState       = api.ExecutionState
	RunLog               = api.RunLog
	TriggerRequest       = api.TriggerRequest
	DispatchResult       = api.DispatchResult
	ProcessingSummary    = api.ProcessingSummary
	Status               = api.Status
	ActionType           = api.ActionType
	ActionRequest        = api.ActionRequest
	ActionHandler        = api.ActionHandler
	ActionHandlerFunc    = api.ActionHandlerFunc
	Entity               = api.Entity
	EntityReader         = api.EntityReader
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// Locker guards a tenant against overlapping ticks.
	Locker = lock.Locker
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusActive    = api.StatusActive
	StatusWaiting   = api.StatusWaiting
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusPaused    = api.StatusPaused
)

// Options configures the engines built by this package. Zero values select
// the engine defaults.
type Options struct {
	Actions  map[ActionType]ActionHandler
	Observer Observer
	Logger   *slog.Logger

	// Entities overrides the entity reader of the backend. The Mongo
	// backend reads contacts and deals collections by default; the SQL
	// backends have none, so condition nodes fall back to the entity data
	// captured at dispatch.
	Entities EntityReader

	// Locker enables tenant leases, required when several processes tick
	// the same store.
	Locker Locker

	BatchSize     int
	Parallelism   int
	StepDelay     time.Duration
	LockTTL       time.Duration
	ActionTimeout time.Duration
}

func (o Options) config(p persistence.Persistence) engine.Config {
	if o.Entities != nil {
		p.Entities = o.Entities
	}
	return engine.Config{
		Persistence:   p,
		Actions:       o.Actions,
		Observer:      o.Observer,
		Logger:        o.Logger,
		Locker:        o.Locker,
		BatchSize:     o.BatchSize,
		Parallelism:   o.Parallelism,
		StepDelay:     o.StepDelay,
		LockTTL:       o.LockTTL,
		ActionTimeout: o.ActionTimeout,
	}
}

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// Without Options.Entities, condition nodes evaluate the entity data
// captured at dispatch.
func NewInMemoryEngine(opts Options) Engine {
	p := persistence.NewInMemoryStore().Persistence()
	p.Entities = nil
	return engine.NewEngineWithConfig(opts.config(p))
}

// NewSQLiteEngine returns an Engine that persists everything in a SQLite
// database. The schema is created if needed.
func NewSQLiteEngine(ctx context.Context, db *sql.DB, opts Options) (Engine, error) {
	store, err := persistence.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(opts.config(store.Persistence())), nil
}

// NewPostgresEngine returns an Engine that persists everything in
// PostgreSQL. db is expected to use the pgx stdlib driver.
func NewPostgresEngine(ctx context.Context, db *sql.DB, opts Options) (Engine, error) {
	store, err := persistence.NewPostgresStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(opts.config(store.Persistence())), nil
}

// NewMongoEngine returns an Engine that persists everything in the given
// MongoDB database and reads entities from its contacts and deals
// collections.
func NewMongoEngine(ctx context.Context, client *mongo.Client, database string, opts Options) (Engine, error) {
	store, err := persistence.NewMongoStore(ctx, client, database)
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(opts.config(store.Persistence())), nil
}

// NewRedisLocker returns a Locker backed by Redis, suitable for
// coordinating ticks across processes.
func NewRedisLocker(client redis.UniversalClient) Locker {
	return lock.NewRedisLocker(client, "")
}

// NewMemoryLocker returns a process-local Locker.
func NewMemoryLocker() Locker {
	return lock.NewMemoryLocker()
}

// Convenience helpers that just forward to the underlying Engine.

// Dispatch reports a domain event to eng.
func Dispatch(ctx context.Context, eng Engine, req TriggerRequest) (*DispatchResult, error) {
	return eng.Dispatch(ctx, req)
}

// Tick performs one scheduler sweep.
//
// It is typically called from a cron endpoint or job:
//
//	summary, err := tickflow.Tick(ctx, engine)
func Tick(ctx context.Context, eng Engine) (*ProcessingSummary, error) {
	return eng.RunOnce(ctx)
}
