package persistence

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/petrijr/tickflow/pkg/api"
)

// Millisecond precision keeps the fixtures comparable across every backend.
var baseTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func sampleWorkflow(tenantID, id string, active bool) *api.WorkflowDefinition {
	return &api.WorkflowDefinition{
		ID:       id,
		TenantID: tenantID,
		Name:     "Welcome " + id,
		IsActive: active,
		Graph: api.Graph{
			Nodes: []api.Node{
				{ID: "t", Type: api.NodeTrigger, Name: "Signup", Trigger: &api.TriggerConfig{Event: api.EventContactCreated}},
				{ID: "a", Type: api.NodeAction, Name: "Email", Action: &api.ActionConfig{Type: api.ActionSendEmail, Subject: "Hi {{entity.first_name}}"}},
			},
			Connections: []api.Connection{{ID: "c1", From: "t", To: "a", Port: api.PortDefault}},
		},
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func sampleState(tenantID, id, workflowID, entityID string, next time.Time) *api.ExecutionState {
	return &api.ExecutionState{
		ID:                id,
		WorkflowID:        workflowID,
		TenantID:          tenantID,
		EntityType:        api.EntityContact,
		EntityID:          entityID,
		EntityEmail:       entityID + "@example.com",
		CurrentNodeID:     "a",
		Status:            api.StatusActive,
		NextExecutionTime: next,
		NodesExecuted:     []string{"t"},
		Context: map[string]any{
			"trigger_event": "contact.created",
			"outputs":       map[string]any{"a": map[string]any{"message_id": "m-1"}},
		},
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

// runStoreConformance exercises the behavior every backend must share. Each
// subtest works in its own tenant so backends can be reused across calls.
func runStoreConformance(t *testing.T, p Persistence) {
	t.Run("Workflows", func(t *testing.T) { testWorkflowStore(t, p.Workflows) })
	t.Run("StateLifecycle", func(t *testing.T) { testStateLifecycle(t, p.States) })
	t.Run("LiveStateUniqueness", func(t *testing.T) { testLiveStateUniqueness(t, p.States) })
	t.Run("DueStates", func(t *testing.T) { testDueStates(t, p.States) })
	t.Run("RunLogs", func(t *testing.T) { testRunLogs(t, p.RunLogs) })
}

func testWorkflowStore(t *testing.T, store WorkflowStore) {
	ctx := context.Background()
	tenant := "tenant-wf"

	if _, err := store.GetWorkflow(ctx, tenant, "missing"); !errors.Is(err, api.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}

	if err := store.SaveWorkflow(ctx, sampleWorkflow(tenant, "wf-1", true)); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}
	if err := store.SaveWorkflow(ctx, sampleWorkflow(tenant, "wf-2", false)); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}
	if err := store.SaveWorkflow(ctx, sampleWorkflow("tenant-other", "wf-1", true)); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}

	got, err := store.GetWorkflow(ctx, tenant, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if got.Name != "Welcome wf-1" || !got.IsActive {
		t.Fatalf("unexpected workflow: %+v", got)
	}
	if len(got.Nodes) != 2 || got.Nodes[1].Action == nil || got.Nodes[1].Action.Subject != "Hi {{entity.first_name}}" {
		t.Fatalf("nodes did not round-trip: %+v", got.Nodes)
	}
	if len(got.Connections) != 1 || got.Connections[0].To != "a" {
		t.Fatalf("connections did not round-trip: %+v", got.Connections)
	}

	active, err := store.ListActiveWorkflows(ctx, tenant)
	if err != nil {
		t.Fatalf("ListActiveWorkflows failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "wf-1" {
		t.Fatalf("expected only wf-1 active, got %d workflows", len(active))
	}

	if err := store.RecordRun(ctx, tenant, "wf-1", true, baseTime); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := store.RecordRun(ctx, tenant, "wf-1", false, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := store.RecordRun(ctx, tenant, "missing", true, baseTime); !errors.Is(err, api.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}

	// Saving again must not reset the counters.
	updated := sampleWorkflow(tenant, "wf-1", true)
	updated.Name = "Renamed"
	if err := store.SaveWorkflow(ctx, updated); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}

	got, err = store.GetWorkflow(ctx, tenant, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if got.Name != "Renamed" {
		t.Fatalf("expected renamed workflow, got %q", got.Name)
	}
	if got.Stats.TotalRuns != 2 || got.Stats.SuccessfulRuns != 1 || got.Stats.FailedRuns != 1 {
		t.Fatalf("unexpected stats: %+v", got.Stats)
	}
	if got.Stats.LastRunAt == nil || !got.Stats.LastRunAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("unexpected LastRunAt: %v", got.Stats.LastRunAt)
	}

	if err := store.SetWorkflowActive(ctx, tenant, "wf-1", false, baseTime); err != nil {
		t.Fatalf("SetWorkflowActive failed: %v", err)
	}
	active, err = store.ListActiveWorkflows(ctx, tenant)
	if err != nil {
		t.Fatalf("ListActiveWorkflows failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active workflows, got %d", len(active))
	}
	if err := store.SetWorkflowActive(ctx, tenant, "missing", true, baseTime); !errors.Is(err, api.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}

	other, err := store.GetWorkflow(ctx, "tenant-other", "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if !other.IsActive || other.Stats.TotalRuns != 0 {
		t.Fatalf("tenants must not share workflows: %+v", other)
	}
}

func testStateLifecycle(t *testing.T, store StateStore) {
	ctx := context.Background()
	tenant := "tenant-lifecycle"

	st := sampleState(tenant, "st-1", "wf-1", "c-1", baseTime)
	st.Snapshot = &sampleWorkflow(tenant, "wf-1", true).Graph
	if err := store.CreateState(ctx, st); err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}

	got, err := store.GetState(ctx, tenant, "st-1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if got.Status != api.StatusActive || got.CurrentNodeID != "a" || got.EntityEmail != "c-1@example.com" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if !got.NextExecutionTime.Equal(baseTime) {
		t.Fatalf("expected next execution %v, got %v", baseTime, got.NextExecutionTime)
	}
	if !slices.Equal(got.NodesExecuted, []string{"t"}) {
		t.Fatalf("unexpected NodesExecuted: %v", got.NodesExecuted)
	}
	outputs, ok := got.Context["outputs"].(map[string]any)
	if !ok {
		t.Fatalf("expected outputs map, got %T", got.Context["outputs"])
	}
	if a, _ := outputs["a"].(map[string]any); a["message_id"] != "m-1" {
		t.Fatalf("unexpected outputs: %v", outputs)
	}
	if got.Snapshot == nil || len(got.Snapshot.Nodes) != 2 {
		t.Fatalf("snapshot did not round-trip: %+v", got.Snapshot)
	}

	if _, err := store.GetState(ctx, "tenant-other", "st-1"); !errors.Is(err, api.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound across tenants, got %v", err)
	}

	stale := got.Clone()

	got.Status = api.StatusWaiting
	got.NodesExecuted = append(got.NodesExecuted, "a")
	got.NextExecutionTime = baseTime.Add(time.Hour)
	if err := store.UpdateState(ctx, got); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	if got.Version != stale.Version+1 {
		t.Fatalf("expected version %d, got %d", stale.Version+1, got.Version)
	}

	stale.Status = api.StatusFailed
	if err := store.UpdateState(ctx, stale); !errors.Is(err, api.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for stale update, got %v", err)
	}

	missing := sampleState(tenant, "st-missing", "wf-1", "c-9", baseTime)
	if err := store.UpdateState(ctx, missing); !errors.Is(err, api.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	reloaded, err := store.GetState(ctx, tenant, "st-1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if reloaded.Status != api.StatusWaiting || reloaded.Version != got.Version || len(reloaded.NodesExecuted) != 2 {
		t.Fatalf("unexpected reloaded state: %+v", reloaded)
	}

	completed := baseTime.Add(2 * time.Hour)
	reloaded.Status = api.StatusCompleted
	reloaded.CompletedAt = &completed
	if err := store.UpdateState(ctx, reloaded); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	final, err := store.GetState(ctx, tenant, "st-1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if final.CompletedAt == nil || !final.CompletedAt.Equal(completed) {
		t.Fatalf("unexpected CompletedAt: %v", final.CompletedAt)
	}
}

func testLiveStateUniqueness(t *testing.T, store StateStore) {
	ctx := context.Background()
	tenant := "tenant-unique"

	first := sampleState(tenant, "st-1", "wf-1", "c-1", baseTime)
	if err := store.CreateState(ctx, first); err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}

	dup := sampleState(tenant, "st-2", "wf-1", "c-1", baseTime)
	dup.Status = api.StatusWaiting
	if err := store.CreateState(ctx, dup); !errors.Is(err, api.ErrDuplicateLiveState) {
		t.Fatalf("expected ErrDuplicateLiveState, got %v", err)
	}

	// Another entity or workflow is fine.
	if err := store.CreateState(ctx, sampleState(tenant, "st-3", "wf-1", "c-2", baseTime)); err != nil {
		t.Fatalf("CreateState for other entity failed: %v", err)
	}
	if err := store.CreateState(ctx, sampleState(tenant, "st-4", "wf-2", "c-1", baseTime)); err != nil {
		t.Fatalf("CreateState for other workflow failed: %v", err)
	}

	live, err := store.FindLiveState(ctx, tenant, "wf-1", "c-1")
	if err != nil {
		t.Fatalf("FindLiveState failed: %v", err)
	}
	if live.ID != "st-1" {
		t.Fatalf("expected st-1 live, got %s", live.ID)
	}

	live.Status = api.StatusCompleted
	if err := store.UpdateState(ctx, live); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	if _, err := store.FindLiveState(ctx, tenant, "wf-1", "c-1"); !errors.Is(err, api.ErrStateNotFound) {
		t.Fatalf("expected no live state after completion, got %v", err)
	}

	// A finished run allows the entity to re-enter.
	if err := store.CreateState(ctx, sampleState(tenant, "st-5", "wf-1", "c-1", baseTime)); err != nil {
		t.Fatalf("CreateState after completion failed: %v", err)
	}
}

func testDueStates(t *testing.T, store StateStore) {
	ctx := context.Background()
	tenant := "tenant-due"
	now := baseTime.Add(time.Hour)

	fixtures := []*api.ExecutionState{
		sampleState(tenant, "st-late", "wf-1", "c-1", now.Add(-10*time.Minute)),
		sampleState(tenant, "st-early", "wf-1", "c-2", now.Add(-30*time.Minute)),
		sampleState(tenant, "st-now", "wf-1", "c-3", now),
		sampleState(tenant, "st-future", "wf-1", "c-4", now.Add(time.Minute)),
	}
	waiting := sampleState(tenant, "st-waiting", "wf-1", "c-5", now.Add(-20*time.Minute))
	waiting.Status = api.StatusWaiting
	paused := sampleState(tenant, "st-paused", "wf-1", "c-6", now.Add(-time.Hour))
	paused.Status = api.StatusPaused
	failed := sampleState(tenant, "st-failed", "wf-1", "c-7", now.Add(-time.Hour))
	failed.Status = api.StatusFailed
	fixtures = append(fixtures, waiting, paused, failed,
		sampleState("tenant-due-other", "st-other", "wf-1", "c-1", now.Add(-time.Hour)))

	for _, st := range fixtures {
		if err := store.CreateState(ctx, st); err != nil {
			t.Fatalf("CreateState(%s) failed: %v", st.ID, err)
		}
	}

	due, err := store.ListDueStates(ctx, tenant, now, 0)
	if err != nil {
		t.Fatalf("ListDueStates failed: %v", err)
	}
	var ids []string
	for _, st := range due {
		ids = append(ids, st.ID)
	}
	want := []string{"st-early", "st-waiting", "st-late", "st-now"}
	if !slices.Equal(ids, want) {
		t.Fatalf("expected due states %v, got %v", want, ids)
	}

	limited, err := store.ListDueStates(ctx, tenant, now, 2)
	if err != nil {
		t.Fatalf("ListDueStates failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "st-early" {
		t.Fatalf("expected the two earliest states, got %d", len(limited))
	}

	live, err := store.ListLiveStates(ctx, tenant, "wf-1")
	if err != nil {
		t.Fatalf("ListLiveStates failed: %v", err)
	}
	ids = ids[:0]
	for _, st := range live {
		ids = append(ids, st.ID)
	}
	want = []string{"st-early", "st-future", "st-late", "st-now", "st-waiting"}
	if !slices.Equal(ids, want) {
		t.Fatalf("expected live states %v, got %v", want, ids)
	}

	tenants, err := store.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants failed: %v", err)
	}
	if !slices.Contains(tenants, tenant) || !slices.Contains(tenants, "tenant-due-other") {
		t.Fatalf("expected both tenants listed, got %v", tenants)
	}
}

func testRunLogs(t *testing.T, store RunLogStore) {
	ctx := context.Background()
	tenant := "tenant-logs"

	logs := []api.RunLog{
		{ID: "l-2", TenantID: tenant, WorkflowID: "wf-1", StateID: "st-1", NodeID: "a", NodeName: "Email",
			NodeType: api.NodeAction, Outcome: api.OutcomeFailed, Error: "smtp down",
			Duration: 1500 * time.Millisecond, Timestamp: baseTime.Add(time.Second)},
		{ID: "l-1", TenantID: tenant, WorkflowID: "wf-1", StateID: "st-1", NodeID: "t", NodeName: "Signup",
			NodeType: api.NodeTrigger, Outcome: api.OutcomeSuccess, Message: "triggered", Timestamp: baseTime},
		{ID: "l-3", TenantID: tenant, WorkflowID: "wf-1", StateID: "st-2", NodeID: "t",
			NodeType: api.NodeTrigger, Outcome: api.OutcomeSuccess, Timestamp: baseTime},
	}
	for _, l := range logs {
		if err := store.AppendRunLog(ctx, l); err != nil {
			t.Fatalf("AppendRunLog failed: %v", err)
		}
	}

	got, err := store.ListRunLogs(ctx, tenant, "st-1")
	if err != nil {
		t.Fatalf("ListRunLogs failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(got))
	}
	if got[0].ID != "l-1" || got[1].ID != "l-2" {
		t.Fatalf("expected chronological order, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Outcome != api.OutcomeFailed || got[1].Error != "smtp down" || got[1].Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected log: %+v", got[1])
	}
	if !got[1].Timestamp.Equal(baseTime.Add(time.Second)) {
		t.Fatalf("unexpected timestamp: %v", got[1].Timestamp)
	}
}
