package tickflow

import (
	"context"
	"fmt"

	"github.com/petrijr/tickflow/pkg/api"
)

// TriggerNodeID is the id the builder gives the trigger node.
const TriggerNodeID = "trigger"

// FlowBuilder provides a fluent API for assembling workflow graphs:
//
//	flow := tickflow.New("acme", "welcome", "Welcome series").
//	    On(tickflow.TriggerConfig{Event: api.EventContactCreated}).
//	    Delay("wait", tickflow.DelayConfig{Days: 1}).
//	    Action("hello", tickflow.ActionConfig{Type: api.ActionSendEmail, Subject: "Hi"}).
//	    Condition("vip", tickflow.ConditionConfig{Type: api.ConditionHasTag, TagID: "vip"}).
//	    Yes("vip").Action("notify", tickflow.ActionConfig{Type: api.ActionNotifyTeam})
//
//	if err := flow.Register(ctx, engine); err != nil {
//	    log.Fatal(err)
//	}
//
// Each added node is connected from the cursor, which starts at the
// trigger and moves to every new node. Yes, No and After move it
// explicitly.
type FlowBuilder struct {
	def api.WorkflowDefinition

	from string
	port api.Port
}

// New creates a new, active workflow builder.
func New(tenantID, id, name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.WorkflowDefinition{
			ID:       id,
			TenantID: tenantID,
			Name:     name,
			IsActive: true,
		},
		from: TriggerNodeID,
		port: api.PortDefault,
	}
}

// Definition returns the assembled definition.
func (b *FlowBuilder) Definition() *WorkflowDefinition {
	def := b.def
	def.Graph = b.def.Graph.Clone()
	return &def
}

// Describe sets the description.
func (b *FlowBuilder) Describe(text string) *FlowBuilder {
	b.def.Description = text
	return b
}

// On sets the trigger of the workflow. It must be called exactly once.
func (b *FlowBuilder) On(cfg TriggerConfig) *FlowBuilder {
	if _, ok := b.def.Node(TriggerNodeID); ok {
		panic("tickflow: trigger already set")
	}
	b.def.Nodes = append(b.def.Nodes, api.Node{
		ID:      TriggerNodeID,
		Type:    api.NodeTrigger,
		Name:    string(cfg.Event),
		Trigger: &cfg,
	})
	return b
}

// Action appends an action node.
func (b *FlowBuilder) Action(id string, cfg ActionConfig) *FlowBuilder {
	return b.add(api.Node{ID: id, Type: api.NodeAction, Name: string(cfg.Type), Action: &cfg})
}

// Condition appends a condition node. Continue with Yes or No.
func (b *FlowBuilder) Condition(id string, cfg ConditionConfig) *FlowBuilder {
	return b.add(api.Node{ID: id, Type: api.NodeCondition, Name: string(cfg.Type), Condition: &cfg})
}

// Delay appends a delay node.
func (b *FlowBuilder) Delay(id string, cfg DelayConfig) *FlowBuilder {
	return b.add(api.Node{ID: id, Type: api.NodeDelay, Name: "delay", Delay: &cfg})
}

// Yes moves the cursor to the yes branch of a condition node.
func (b *FlowBuilder) Yes(conditionID string) *FlowBuilder {
	return b.branch(conditionID, api.PortYes)
}

// No moves the cursor to the no branch of a condition node.
func (b *FlowBuilder) No(conditionID string) *FlowBuilder {
	return b.branch(conditionID, api.PortNo)
}

// After moves the cursor to the default exit of an existing node.
func (b *FlowBuilder) After(nodeID string) *FlowBuilder {
	if _, ok := b.def.Node(nodeID); !ok {
		panic(fmt.Sprintf("tickflow: unknown node %q", nodeID))
	}
	b.from, b.port = nodeID, api.PortDefault
	return b
}

func (b *FlowBuilder) branch(conditionID string, port api.Port) *FlowBuilder {
	n, ok := b.def.Node(conditionID)
	if !ok || n.Type != api.NodeCondition {
		panic(fmt.Sprintf("tickflow: %q is not a condition node", conditionID))
	}
	b.from, b.port = conditionID, port
	return b
}

func (b *FlowBuilder) add(n api.Node) *FlowBuilder {
	if n.ID == "" {
		panic("tickflow: node id must not be empty")
	}
	if _, dup := b.def.Node(n.ID); dup {
		panic(fmt.Sprintf("tickflow: duplicate node id %q", n.ID))
	}
	b.def.Nodes = append(b.def.Nodes, n)
	b.def.Connections = append(b.def.Connections, api.Connection{
		ID:   fmt.Sprintf("%s-%s-%s", b.from, b.port, n.ID),
		From: b.from,
		To:   n.ID,
		Port: b.port,
	})

	port := api.PortDefault
	if n.Type == api.NodeCondition {
		// Conditions have no default exit; default to the yes branch.
		port = api.PortYes
	}
	b.from, b.port = n.ID, port
	return b
}

// Register validates and saves the definition on eng.
func (b *FlowBuilder) Register(ctx context.Context, eng Engine) error {
	return eng.SaveWorkflow(ctx, b.Definition())
}

// MustRegister is like Register but panics on error.
func (b *FlowBuilder) MustRegister(ctx context.Context, eng Engine) {
	if err := b.Register(ctx, eng); err != nil {
		panic(err)
	}
}
