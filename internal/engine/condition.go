package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/petrijr/tickflow/pkg/api"
)

func (x *Executor) evaluateCondition(ctx context.Context, node *api.Node, st *api.ExecutionState) NodeResult {
	entity, err := x.loadEntity(ctx, st)
	if err != nil {
		return failed(node, "load %s %s: %v", st.EntityType, st.EntityID, err)
	}
	met, err := evaluate(*node.Condition, entity)
	if err != nil {
		return failed(node, "condition node %s: %v", node.ID, err)
	}
	return NodeResult{
		Node:         node,
		Success:      true,
		ConditionMet: met,
		Message:      fmt.Sprintf("condition %s evaluated to %t", node.Condition.Type, met),
	}
}

// loadEntity reads the current entity through the EntityReader. Without a
// reader it falls back to the entity data captured at dispatch.
func (x *Executor) loadEntity(ctx context.Context, st *api.ExecutionState) (*api.Entity, error) {
	if x.entities == nil {
		return entityFromContext(st), nil
	}
	e, err := x.entities.GetEntity(ctx, st.TenantID, st.EntityType, st.EntityID)
	if errors.Is(err, api.ErrEntityNotFound) {
		return &api.Entity{Type: st.EntityType, ID: st.EntityID, TenantID: st.TenantID}, nil
	}
	return e, err
}

func entityFromContext(st *api.ExecutionState) *api.Entity {
	e := &api.Entity{Type: st.EntityType, ID: st.EntityID, TenantID: st.TenantID, Email: st.EntityEmail}
	data, _ := st.Context["entity"].(map[string]any)
	if data == nil {
		return e
	}
	e.Fields = data
	if s, ok := data["email"].(string); ok && s != "" {
		e.Email = s
	}
	e.Tags = stringList(data["tags"])
	e.StageID, _ = data["stage_id"].(string)
	e.Source, _ = data["source"].(string)
	e.OpenedMessages = stringList(data["opened_messages"])
	e.ClickedMessages = stringList(data["clicked_messages"])
	return e
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func evaluate(cfg api.ConditionConfig, e *api.Entity) (bool, error) {
	switch cfg.Type {
	case api.ConditionHasTag:
		return slices.Contains(e.Tags, cfg.TagID), nil
	case api.ConditionNotHasTag:
		return !slices.Contains(e.Tags, cfg.TagID), nil
	case api.ConditionFieldEquals:
		v, ok := entityField(e, cfg.Field)
		return ok && formatValue(v) == cfg.Value, nil
	case api.ConditionFieldContains:
		v, ok := entityField(e, cfg.Field)
		return ok && strings.Contains(strings.ToLower(formatValue(v)), strings.ToLower(cfg.Value)), nil
	case api.ConditionDealStage:
		return e.StageID == cfg.StageID, nil
	case api.ConditionEmailOpened:
		return messageMatches(e.OpenedMessages, cfg.MessageID), nil
	case api.ConditionEmailClicked:
		return messageMatches(e.ClickedMessages, cfg.MessageID), nil
	case api.ConditionContactSource:
		return strings.EqualFold(e.Source, cfg.Source), nil
	default:
		return false, fmt.Errorf("unknown condition type %q", cfg.Type)
	}
}

// An empty message id matches any message.
func messageMatches(messages []string, id string) bool {
	if id == "" {
		return len(messages) > 0
	}
	return slices.Contains(messages, id)
}

func entityField(e *api.Entity, field string) (any, bool) {
	switch field {
	case "email":
		return e.Email, e.Email != ""
	case "source":
		return e.Source, e.Source != ""
	case "stage_id":
		return e.StageID, e.StageID != ""
	}
	return lookupPath(e.Fields, field)
}
