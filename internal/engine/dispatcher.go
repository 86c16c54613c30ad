package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/petrijr/tickflow/pkg/api"
)

// Dispatch starts every active workflow of the tenant whose trigger matches
// req. Failures of one workflow are collected and never stop the others.
func (e *engineImpl) Dispatch(ctx context.Context, req api.TriggerRequest) (*api.DispatchResult, error) {
	if req.TenantID == "" || req.Event == "" || req.EntityID == "" {
		return nil, fmt.Errorf("%w: tenant_id, event and entity_id are required", api.ErrInvalidTrigger)
	}
	if req.EntityType == "" {
		req.EntityType = entityTypeForEvent(req.Event)
	}
	if req.EntityType != api.EntityContact && req.EntityType != api.EntityDeal {
		return nil, fmt.Errorf("%w: unknown entity_type %q", api.ErrInvalidTrigger, req.EntityType)
	}

	defs, err := e.workflows.ListActiveWorkflows(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	res := &api.DispatchResult{Workflows: []string{}}
	for _, def := range defs {
		// An instance may start and still report an error from its run log.
		started, err := e.dispatchOne(ctx, def, req)
		if err != nil {
			e.logger.ErrorContext(ctx, "dispatch failed",
				"tenant_id", req.TenantID, "workflow_id", def.ID, "event", req.Event, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("workflow %s: %v", def.ID, err))
		}
		if started {
			res.Triggered++
			res.Workflows = append(res.Workflows, def.Name)
		}
	}
	return res, nil
}

func entityTypeForEvent(ev api.TriggerEvent) api.EntityType {
	if strings.HasPrefix(string(ev), "deal.") {
		return api.EntityDeal
	}
	return api.EntityContact
}

func (e *engineImpl) dispatchOne(ctx context.Context, def *api.WorkflowDefinition, req api.TriggerRequest) (bool, error) {
	trigger, err := def.Trigger()
	if err != nil {
		return false, err
	}
	if trigger.Trigger == nil || trigger.Trigger.Event != req.Event {
		return false, nil
	}
	if !filtersMatch(*trigger.Trigger, req) {
		return false, nil
	}

	_, err = e.states.FindLiveState(ctx, req.TenantID, def.ID, req.EntityID)
	switch {
	case err == nil:
		e.logger.DebugContext(ctx, "entity already in workflow",
			"tenant_id", req.TenantID, "workflow_id", def.ID, "entity_id", req.EntityID)
		return false, nil
	case !errors.Is(err, api.ErrStateNotFound):
		return false, fmt.Errorf("find live state: %w", err)
	}

	next, ok := def.Next(trigger.ID, api.PortDefault)
	if !ok {
		e.logger.WarnContext(ctx, "trigger node has no outgoing connection",
			"tenant_id", req.TenantID, "workflow_id", def.ID, "node_id", trigger.ID)
		return false, nil
	}

	now := e.now()
	snapshot := def.Graph.Clone()
	email, _ := req.EntityData["email"].(string)
	st := &api.ExecutionState{
		ID:                e.newID(),
		WorkflowID:        def.ID,
		TenantID:          req.TenantID,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		EntityEmail:       email,
		CurrentNodeID:     next,
		Status:            api.StatusActive,
		NextExecutionTime: now,
		NodesExecuted:     []string{trigger.ID},
		Context:           initialContext(req, now),
		Snapshot:          &snapshot,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.states.CreateState(ctx, st); err != nil {
		if errors.Is(err, api.ErrDuplicateLiveState) {
			// Lost the race against a concurrent dispatch.
			return false, nil
		}
		return false, fmt.Errorf("create state: %w", err)
	}

	logErr := e.appendRunLog(ctx, st, *trigger, NodeResult{
		Node:    trigger,
		Success: true,
		Message: "triggered by " + string(req.Event),
	}, 0)
	e.observer.OnInstanceStarted(ctx, st)
	return true, logErr
}

// filtersMatch applies the optional trigger filters with AND semantics.
func filtersMatch(cfg api.TriggerConfig, req api.TriggerRequest) bool {
	for key, want := range map[string]string{
		"tag_id":  cfg.TagID,
		"form_id": cfg.FormID,
		"source":  cfg.Source,
	} {
		if want == "" {
			continue
		}
		got, ok := req.Metadata[key]
		if !ok {
			got, ok = req.EntityData[key]
		}
		if !ok || formatValue(got) != want {
			return false
		}
	}
	return true
}

func initialContext(req api.TriggerRequest, now time.Time) map[string]any {
	out := make(map[string]any, len(req.Metadata)+3)
	maps.Copy(out, req.Metadata)
	out["trigger_event"] = string(req.Event)
	out["triggered_at"] = now.UTC().Format(time.RFC3339Nano)
	entity := maps.Clone(req.EntityData)
	if entity == nil {
		entity = map[string]any{}
	}
	out["entity"] = entity
	return out
}
