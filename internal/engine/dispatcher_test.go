package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/petrijr/tickflow/internal/persistence"
	"github.com/petrijr/tickflow/pkg/api"
)

func simpleWorkflow(tenantID, id string, event api.TriggerEvent) *api.WorkflowDefinition {
	return newWorkflow(tenantID, id, event).
		action("a", api.ActionConfig{Type: api.ActionAddTag, TagID: "x"}).
		edge("trigger", "a", api.PortDefault).
		build()
}

func TestDispatch_CreatesStateWithContext(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, simpleWorkflow("acme", "wf", api.EventContactCreated))

	res := env.dispatch(t, api.TriggerRequest{
		TenantID:   "acme",
		Event:      api.EventContactCreated,
		EntityType: api.EntityContact,
		EntityID:   "c1",
		EntityData: map[string]any{"email": "c1@example.com", "first_name": "Ada"},
		Metadata:   map[string]any{"campaign": "spring"},
	})
	if res.Triggered != 1 || len(res.Workflows) != 1 || res.Workflows[0] != "workflow wf" {
		t.Fatalf("unexpected result: %+v", res)
	}

	st := env.onlyLiveState(t, "acme", "wf", "c1")
	if st.Status != api.StatusActive || st.CurrentNodeID != "a" {
		t.Fatalf("expected active at a, got %s at %s", st.Status, st.CurrentNodeID)
	}
	if !st.NextExecutionTime.Equal(t0) {
		t.Fatalf("expected state due immediately, got %v", st.NextExecutionTime)
	}
	if st.EntityEmail != "c1@example.com" {
		t.Fatalf("expected entity email from entity data, got %q", st.EntityEmail)
	}
	if len(st.NodesExecuted) != 1 || st.NodesExecuted[0] != "trigger" {
		t.Fatalf("expected trigger recorded, got %v", st.NodesExecuted)
	}
	if st.Context["campaign"] != "spring" || st.Context["trigger_event"] != "contact.created" {
		t.Fatalf("unexpected context: %v", st.Context)
	}
	if st.Context["triggered_at"] != t0.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected triggered_at: %v", st.Context["triggered_at"])
	}
	entity, _ := st.Context["entity"].(map[string]any)
	if entity["first_name"] != "Ada" {
		t.Fatalf("expected entity data in context, got %v", st.Context["entity"])
	}
	if st.Snapshot == nil || len(st.Snapshot.Nodes) != 2 {
		t.Fatalf("expected graph snapshot, got %+v", st.Snapshot)
	}
}

func TestDispatch_DedupWhileLive(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, simpleWorkflow("acme", "wf", api.EventContactCreated))

	first := env.dispatch(t, contactCreated("acme", "c1", nil))
	second := env.dispatch(t, contactCreated("acme", "c1", nil))
	if first.Triggered != 1 || second.Triggered != 0 {
		t.Fatalf("expected dedup, got first=%d second=%d", first.Triggered, second.Triggered)
	}

	// Once finished, the entity may enter again.
	env.tick(t)
	third := env.dispatch(t, contactCreated("acme", "c1", nil))
	if third.Triggered != 1 {
		t.Fatalf("expected re-entry after completion, got %d", third.Triggered)
	}
}

func TestDispatch_MatchesEventAndFilters(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, simpleWorkflow("acme", "created", api.EventContactCreated))
	env.save(t, simpleWorkflow("acme", "won", api.EventDealWon))
	env.save(t, newWorkflow("acme", "form-a", api.EventFormSubmitted).
		filter(func(c *api.TriggerConfig) { c.FormID = "form-a"; c.Source = "website" }).
		action("a", api.ActionConfig{Type: api.ActionAddTag, TagID: "x"}).
		edge("trigger", "a", api.PortDefault).
		build())
	env.save(t, simpleWorkflow("other-tenant", "form-any", api.EventFormSubmitted))

	res := env.dispatch(t, api.TriggerRequest{
		TenantID: "acme", Event: api.EventFormSubmitted, EntityID: "c1",
		Metadata:   map[string]any{"form_id": "form-b"},
		EntityData: map[string]any{"source": "website"},
	})
	if res.Triggered != 0 {
		t.Fatalf("form filter should reject form-b, got %+v", res)
	}

	res = env.dispatch(t, api.TriggerRequest{
		TenantID: "acme", Event: api.EventFormSubmitted, EntityID: "c1",
		Metadata:   map[string]any{"form_id": "form-a"},
		EntityData: map[string]any{"source": "website"},
	})
	if res.Triggered != 1 || res.Workflows[0] != "workflow form-a" {
		t.Fatalf("expected form-a to trigger, got %+v", res)
	}

	res = env.dispatch(t, api.TriggerRequest{TenantID: "acme", Event: api.EventDealWon, EntityID: "d1"})
	if res.Triggered != 1 {
		t.Fatalf("expected deal.won workflow to trigger, got %+v", res)
	}
	st := env.onlyLiveState(t, "acme", "won", "d1")
	if st.EntityType != api.EntityDeal {
		t.Fatalf("expected entity type inferred as deal, got %q", st.EntityType)
	}
}

func TestDispatch_SkipsInactiveAndUnconnectedTriggers(t *testing.T) {
	env := newTestEnv(t)
	inactive := simpleWorkflow("acme", "inactive", api.EventContactCreated)
	inactive.IsActive = false
	env.save(t, inactive)
	env.save(t, newWorkflow("acme", "lonely", api.EventContactCreated).build())

	res := env.dispatch(t, contactCreated("acme", "c1", nil))
	if res.Triggered != 0 || len(res.Errors) != 0 {
		t.Fatalf("expected nothing triggered and no errors, got %+v", res)
	}
}

func TestDispatch_WorkflowErrorsDoNotAbortSiblings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.save(t, simpleWorkflow("acme", "good", api.EventContactCreated))

	// Bypass validation to store a definition without a trigger.
	broken := simpleWorkflow("acme", "broken", api.EventContactCreated)
	broken.Nodes = broken.Nodes[1:]
	broken.Connections = nil
	if err := env.store.SaveWorkflow(ctx, broken); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}

	res := env.dispatch(t, contactCreated("acme", "c1", nil))
	if res.Triggered != 1 || res.Workflows[0] != "workflow good" {
		t.Fatalf("expected the good workflow to trigger, got %+v", res)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected one error for the broken workflow, got %v", res.Errors)
	}
}

func TestDispatch_RejectsIncompleteRequests(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Dispatch(context.Background(), api.TriggerRequest{TenantID: "acme", Event: api.EventContactCreated})
	if !errors.Is(err, api.ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger, got %v", err)
	}
}

func TestDispatch_RejectsUnknownEntityType(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, simpleWorkflow("acme", "wf", api.EventContactCreated))

	req := contactCreated("acme", "c1", nil)
	req.EntityType = "company"
	if _, err := env.engine.Dispatch(context.Background(), req); !errors.Is(err, api.ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger, got %v", err)
	}
	if _, err := env.store.FindLiveState(context.Background(), "acme", "wf", "c1"); !errors.Is(err, api.ErrStateNotFound) {
		t.Fatalf("expected no state for a rejected request, got %v", err)
	}
}

type failingRunLogs struct {
	*persistence.InMemoryStore
}

func (failingRunLogs) AppendRunLog(ctx context.Context, entry api.RunLog) error {
	return errors.New("run log table is read-only")
}

func TestDispatch_ReportsRunLogFailures(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, simpleWorkflow("acme", "wf", api.EventContactCreated))
	env.engine.runLogs = failingRunLogs{env.store}

	res := env.dispatch(t, contactCreated("acme", "c1", nil))
	if res.Triggered != 1 {
		t.Fatalf("expected the instance to start, got %+v", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "append run log") {
		t.Fatalf("expected the run log failure to be reported, got %v", res.Errors)
	}
	env.onlyLiveState(t, "acme", "wf", "c1")
}

func TestSaveWorkflow_RejectsInvalidGraphs(t *testing.T) {
	env := newTestEnv(t)
	def := newWorkflow("acme", "wf", api.EventContactCreated).
		action("orphan", api.ActionConfig{Type: api.ActionAddTag}).
		build()
	err := env.engine.SaveWorkflow(context.Background(), def)
	if !errors.Is(err, api.ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got %v", err)
	}
	if _, err := env.engine.GetWorkflow(context.Background(), "acme", "wf"); !errors.Is(err, api.ErrWorkflowNotFound) {
		t.Fatalf("invalid workflow was stored")
	}
}
