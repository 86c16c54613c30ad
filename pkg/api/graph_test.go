package api

import (
	"errors"
	"strings"
	"testing"
)

func validGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "t", Type: NodeTrigger, Trigger: &TriggerConfig{Event: EventContactCreated}},
			{ID: "c", Type: NodeCondition, Condition: &ConditionConfig{Type: ConditionHasTag, TagID: "vip"}},
			{ID: "yes", Type: NodeAction, Action: &ActionConfig{Type: ActionNotifyTeam}},
			{ID: "no", Type: NodeDelay, Delay: &DelayConfig{Days: 1}},
		},
		Connections: []Connection{
			{ID: "1", From: "t", To: "c", Port: PortDefault},
			{ID: "2", From: "c", To: "yes", Port: PortYes},
			{ID: "3", From: "c", To: "no", Port: PortNo},
		},
	}
}

func TestGraphValidate_Accepts(t *testing.T) {
	g := validGraph()
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
}

func TestGraphValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Graph)
		want   string
	}{
		{"no trigger", func(g *Graph) { g.Nodes = g.Nodes[1:]; g.Connections = g.Connections[1:] }, "exactly one trigger"},
		{"two triggers", func(g *Graph) {
			g.Nodes = append(g.Nodes, Node{ID: "t2", Type: NodeTrigger, Trigger: &TriggerConfig{Event: EventDealWon}})
		}, "exactly one trigger"},
		{"duplicate id", func(g *Graph) { g.Nodes[3].ID = "yes" }, "duplicate node id"},
		{"dangling edge", func(g *Graph) { g.Connections[1].To = "ghost" }, "unknown target"},
		{"wrong port", func(g *Graph) { g.Connections[0].Port = PortYes }, "not valid for trigger"},
		{"double exit", func(g *Graph) {
			g.Connections = append(g.Connections, Connection{ID: "4", From: "c", To: "no", Port: PortYes})
		}, "more than one"},
		{"unreachable", func(g *Graph) { g.Connections = g.Connections[:2] }, `"no" is not reachable`},
		{"missing payload", func(g *Graph) { g.Nodes[2].Action = nil }, "exactly one matching config"},
		{"mixed payload", func(g *Graph) { g.Nodes[3].Action = &ActionConfig{Type: ActionAddTag} }, "exactly one matching config"},
		{"unknown type", func(g *Graph) { g.Nodes[2].Type = "loop" }, "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := validGraph()
			tt.mutate(&g)
			err := g.Validate()
			if !errors.Is(err, ErrInvalidWorkflow) {
				t.Fatalf("expected ErrInvalidWorkflow, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestGraphNext(t *testing.T) {
	g := validGraph()
	if to, ok := g.Next("c", PortNo); !ok || to != "no" {
		t.Fatalf("expected c -no-> no, got %q %v", to, ok)
	}
	if _, ok := g.Next("yes", PortDefault); ok {
		t.Fatalf("expected no edge out of a leaf")
	}
}

func TestGraphCloneIsIndependent(t *testing.T) {
	g := validGraph()
	c := g.Clone()
	c.Nodes[0].ID = "changed"
	c.Connections[0].To = "changed"
	if g.Nodes[0].ID != "t" || g.Connections[0].To != "c" {
		t.Fatalf("clone shares memory with the original")
	}
}

func TestGraphClone_CopiesPayloads(t *testing.T) {
	g := validGraph()
	g.Nodes[2].Action.Headers = map[string]string{"X-A": "1"}
	g.Nodes[2].Action.Fields = map[string]string{"city": "Oulu"}

	c := g.Clone()
	c.Nodes[0].Trigger.Event = EventDealWon
	c.Nodes[1].Condition.TagID = "changed"
	c.Nodes[2].Action.Subject = "changed"
	c.Nodes[2].Action.Headers["X-A"] = "2"
	c.Nodes[2].Action.Fields["city"] = "Turku"
	c.Nodes[3].Delay.Days = 7

	if g.Nodes[0].Trigger.Event != EventContactCreated {
		t.Fatalf("trigger payload shared")
	}
	if g.Nodes[1].Condition.TagID != "vip" {
		t.Fatalf("condition payload shared")
	}
	a := g.Nodes[2].Action
	if a.Subject != "" || a.Headers["X-A"] != "1" || a.Fields["city"] != "Oulu" {
		t.Fatalf("action payload shared: %+v", a)
	}
	if g.Nodes[3].Delay.Days != 1 {
		t.Fatalf("delay payload shared")
	}
}

func TestExecutionStateClone_CopiesSnapshot(t *testing.T) {
	g := validGraph()
	st := &ExecutionState{ID: "s", Snapshot: &g}

	c := st.Clone()
	c.Snapshot.Nodes[2].Action.Subject = "changed"
	c.Snapshot.Nodes = nil

	if len(st.Snapshot.Nodes) != 4 || st.Snapshot.Nodes[2].Action.Subject != "" {
		t.Fatalf("clone shares the snapshot with the original")
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range LiveStatuses {
		if !s.IsLive() || s.IsTerminal() {
			t.Fatalf("%s should be live", s)
		}
	}
	if StatusPaused.IsLive() || StatusPaused.IsTerminal() {
		t.Fatalf("paused is neither live nor terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatalf("completed and failed are terminal")
	}
}
