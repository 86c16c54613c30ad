package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/tickflow/internal/persistence"
	"github.com/petrijr/tickflow/pkg/api"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // a Monday

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// recordingHandler records every request and optionally fails.
type recordingHandler struct {
	mu       sync.Mutex
	requests []api.ActionRequest
	err      error
	output   map[string]any
}

func (h *recordingHandler) Handle(ctx context.Context, req api.ActionRequest) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
	if h.err != nil {
		return nil, h.err
	}
	return h.output, nil
}

func (h *recordingHandler) calls() []api.ActionRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]api.ActionRequest(nil), h.requests...)
}

type testEnv struct {
	engine  *engineImpl
	store   *persistence.InMemoryStore
	clock   *fakeClock
	actions map[api.ActionType]*recordingHandler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv builds an in-memory engine with recording handlers for every
// action type. mutate may adjust the config before construction.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   persistence.NewInMemoryStore(),
		clock:   newFakeClock(t0),
		actions: make(map[api.ActionType]*recordingHandler),
	}
	handlers := make(map[api.ActionType]api.ActionHandler)
	for _, typ := range []api.ActionType{
		api.ActionSendEmail, api.ActionSendSMS, api.ActionSendWhatsApp, api.ActionAddTag,
		api.ActionRemoveTag, api.ActionUpdateContact, api.ActionCreateTask, api.ActionAssignToUser,
		api.ActionMoveDealStage, api.ActionNotifyTeam, api.ActionWebhook,
	} {
		h := &recordingHandler{}
		env.actions[typ] = h
		handlers[typ] = h
	}

	cfg := Config{
		Persistence: env.store.Persistence(),
		Actions:     handlers,
		Logger:      quietLogger(),
		Clock:       env.clock.Now,
		IDs:         sequentialIDs("id"),
		Owner:       "test-owner",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	env.engine = newEngine(cfg)
	return env
}

func (env *testEnv) save(t *testing.T, def *api.WorkflowDefinition) {
	t.Helper()
	if err := env.engine.SaveWorkflow(context.Background(), def); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}
}

func (env *testEnv) dispatch(t *testing.T, req api.TriggerRequest) *api.DispatchResult {
	t.Helper()
	res, err := env.engine.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	return res
}

func (env *testEnv) tick(t *testing.T) *api.ProcessingSummary {
	t.Helper()
	sum, err := env.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	return sum
}

func (env *testEnv) state(t *testing.T, tenantID, id string) *api.ExecutionState {
	t.Helper()
	st, err := env.engine.GetState(context.Background(), tenantID, id)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	return st
}

// onlyLiveState returns the single live state of the workflow for entity.
func (env *testEnv) onlyLiveState(t *testing.T, tenantID, workflowID, entityID string) *api.ExecutionState {
	t.Helper()
	st, err := env.store.FindLiveState(context.Background(), tenantID, workflowID, entityID)
	if err != nil {
		t.Fatalf("FindLiveState failed: %v", err)
	}
	return st
}

// graphBuilder assembles workflow graphs in tests.
type graphBuilder struct {
	def *api.WorkflowDefinition
}

func newWorkflow(tenantID, id string, event api.TriggerEvent) *graphBuilder {
	return &graphBuilder{def: &api.WorkflowDefinition{
		ID:       id,
		TenantID: tenantID,
		Name:     "workflow " + id,
		IsActive: true,
		Graph: api.Graph{Nodes: []api.Node{
			{ID: "trigger", Type: api.NodeTrigger, Name: "Trigger", Trigger: &api.TriggerConfig{Event: event}},
		}},
	}}
}

func (b *graphBuilder) filter(fn func(*api.TriggerConfig)) *graphBuilder {
	fn(b.def.Nodes[0].Trigger)
	return b
}

func (b *graphBuilder) action(id string, cfg api.ActionConfig) *graphBuilder {
	b.def.Nodes = append(b.def.Nodes, api.Node{ID: id, Type: api.NodeAction, Name: "Action " + id, Action: &cfg})
	return b
}

func (b *graphBuilder) condition(id string, cfg api.ConditionConfig) *graphBuilder {
	b.def.Nodes = append(b.def.Nodes, api.Node{ID: id, Type: api.NodeCondition, Name: "Condition " + id, Condition: &cfg})
	return b
}

func (b *graphBuilder) delay(id string, cfg api.DelayConfig) *graphBuilder {
	b.def.Nodes = append(b.def.Nodes, api.Node{ID: id, Type: api.NodeDelay, Name: "Delay " + id, Delay: &cfg})
	return b
}

func (b *graphBuilder) edge(from, to string, port api.Port) *graphBuilder {
	id := fmt.Sprintf("e%d", len(b.def.Connections)+1)
	b.def.Connections = append(b.def.Connections, api.Connection{ID: id, From: from, To: to, Port: port})
	return b
}

func (b *graphBuilder) build() *api.WorkflowDefinition { return b.def }

// scenarioWorkflow is trigger -> delay(10m) -> send_email -> has_tag(vip)
// with only a yes branch to notify_team.
func scenarioWorkflow(tenantID string) *api.WorkflowDefinition {
	return newWorkflow(tenantID, "W", api.EventContactCreated).
		delay("delay", api.DelayConfig{Minutes: 10}).
		action("email", api.ActionConfig{Type: api.ActionSendEmail, Subject: "Welcome {{entity.first_name}}"}).
		condition("vip", api.ConditionConfig{Type: api.ConditionHasTag, TagID: "vip"}).
		action("notify", api.ActionConfig{Type: api.ActionNotifyTeam, Body: "VIP {{entity_email}} signed up"}).
		edge("trigger", "delay", api.PortDefault).
		edge("delay", "email", api.PortDefault).
		edge("email", "vip", api.PortDefault).
		edge("vip", "notify", api.PortYes).
		build()
}

func contactCreated(tenantID, entityID string, data map[string]any) api.TriggerRequest {
	return api.TriggerRequest{
		TenantID:   tenantID,
		Event:      api.EventContactCreated,
		EntityType: api.EntityContact,
		EntityID:   entityID,
		EntityData: data,
	}
}

func (env *testEnv) putContact(tenantID, id string, tags ...string) {
	env.store.PutEntity(api.Entity{Type: api.EntityContact, ID: id, TenantID: tenantID, Tags: tags})
}
