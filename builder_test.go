package tickflow

import (
	"context"
	"testing"

	"github.com/petrijr/tickflow/pkg/api"
)

func TestFlowBuilder_BuildsValidGraph(t *testing.T) {
	def := New("acme", "welcome", "Welcome").
		On(TriggerConfig{Event: api.EventContactCreated}).
		Delay("wait", DelayConfig{Minutes: 10}).
		Condition("vip", ConditionConfig{Type: api.ConditionHasTag, TagID: "vip"}).
		Yes("vip").Action("notify", ActionConfig{Type: api.ActionNotifyTeam}).
		No("vip").Action("nurture", ActionConfig{Type: api.ActionAddTag, TagID: "nurture"}).
		After("nurture").Action("task", ActionConfig{Type: api.ActionCreateTask, Title: "Call"}).
		Definition()

	if err := def.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
	if len(def.Nodes) != 6 || len(def.Connections) != 5 {
		t.Fatalf("unexpected graph size: %d nodes, %d connections", len(def.Nodes), len(def.Connections))
	}
	for from, want := range map[api.Port]string{api.PortYes: "notify", api.PortNo: "nurture"} {
		if got, ok := def.Next("vip", from); !ok || got != want {
			t.Fatalf("vip -%s-> expected %s, got %q", from, want, got)
		}
	}
	if got, _ := def.Next("nurture", api.PortDefault); got != "task" {
		t.Fatalf("expected nurture -> task, got %q", got)
	}
	if !def.IsActive || def.TenantID != "acme" {
		t.Fatalf("unexpected definition header: %+v", def)
	}
}

func TestFlowBuilder_PanicsOnMisuse(t *testing.T) {
	cases := map[string]func(){
		"duplicate id": func() {
			New("acme", "x", "x").On(TriggerConfig{Event: api.EventDealWon}).
				Action("a", ActionConfig{Type: api.ActionAddTag}).
				Action("a", ActionConfig{Type: api.ActionAddTag})
		},
		"second trigger": func() {
			New("acme", "x", "x").On(TriggerConfig{Event: api.EventDealWon}).On(TriggerConfig{Event: api.EventDealWon})
		},
		"branch on action": func() {
			New("acme", "x", "x").On(TriggerConfig{Event: api.EventDealWon}).
				Action("a", ActionConfig{Type: api.ActionAddTag}).Yes("a")
		},
		"after unknown": func() { New("acme", "x", "x").After("ghost") },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestFlowBuilder_RegisterValidates(t *testing.T) {
	eng := NewInMemoryEngine(Options{})
	err := New("acme", "x", "x").Action("a", ActionConfig{Type: api.ActionAddTag}).Register(context.Background(), eng)
	if err == nil {
		t.Fatalf("expected validation error for a graph without trigger")
	}
}
