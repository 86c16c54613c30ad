package api

import "context"

// ActionRequest is what an integration receives for one action node
// execution. Config has all templates already resolved.
type ActionRequest struct {
	TenantID    string
	WorkflowID  string
	StateID     string
	NodeID      string
	EntityType  EntityType
	EntityID    string
	EntityEmail string
	Config      ActionConfig
	Context     map[string]any

	// IdempotencyKey is stable across re-executions of the same node
	// visit and changes when a node is visited again later in the graph.
	IdempotencyKey string
}

// ActionHandler performs the side effect of one action type. The returned
// output is merged into the instance context under outputs.<node id>.
type ActionHandler interface {
	Handle(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, req ActionRequest) (map[string]any, error)

func (f ActionHandlerFunc) Handle(ctx context.Context, req ActionRequest) (map[string]any, error) {
	return f(ctx, req)
}

// Entity is the read-only view of a contact or deal used by condition nodes.
type Entity struct {
	Type            EntityType     `json:"type" bson:"-"`
	ID              string         `json:"id" bson:"_id"`
	TenantID        string         `json:"tenant_id" bson:"tenant_id"`
	Email           string         `json:"email,omitempty" bson:"email,omitempty"`
	Tags            []string       `json:"tags,omitempty" bson:"tags,omitempty"`
	Fields          map[string]any `json:"fields,omitempty" bson:"fields,omitempty"`
	StageID         string         `json:"stage_id,omitempty" bson:"stage_id,omitempty"`
	Source          string         `json:"source,omitempty" bson:"source,omitempty"`
	OpenedMessages  []string       `json:"opened_messages,omitempty" bson:"opened_messages,omitempty"`
	ClickedMessages []string       `json:"clicked_messages,omitempty" bson:"clicked_messages,omitempty"`
}

// EntityReader loads the current state of an entity. Implementations return
// ErrEntityNotFound for unknown ids.
type EntityReader interface {
	GetEntity(ctx context.Context, tenantID string, typ EntityType, id string) (*Entity, error)
}
