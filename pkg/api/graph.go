package api

import (
	"errors"
	"fmt"
	"maps"
)

// Graph is the node/edge structure of a workflow. It is embedded in
// WorkflowDefinition and captured verbatim into every ExecutionState at
// start, so an instance keeps following the graph it was started on.
type Graph struct {
	Nodes       []Node       `json:"nodes" bson:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" bson:"connections" yaml:"connections"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Trigger returns the single trigger node of the graph.
func (g *Graph) Trigger() (*Node, error) {
	var found *Node
	for i := range g.Nodes {
		if g.Nodes[i].Type != NodeTrigger {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: more than one trigger node", ErrInvalidWorkflow)
		}
		found = &g.Nodes[i]
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no trigger node", ErrInvalidWorkflow)
	}
	return found, nil
}

// Next resolves the node reached from `from` through `port`.
// ok is false when no such edge exists, which ends the instance.
func (g *Graph) Next(from string, port Port) (string, bool) {
	for _, c := range g.Connections {
		if c.From == from && c.Port == port {
			return c.To, true
		}
	}
	return "", false
}

// Clone returns a deep copy of the graph, including node payloads.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes:       make([]Node, len(g.Nodes)),
		Connections: make([]Connection, len(g.Connections)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Connections, g.Connections)
	return out
}

// Clone returns a copy of n that shares no payload memory with it.
func (n Node) Clone() Node {
	out := n
	if n.Trigger != nil {
		t := *n.Trigger
		out.Trigger = &t
	}
	if n.Action != nil {
		a := *n.Action
		a.Fields = maps.Clone(n.Action.Fields)
		a.Headers = maps.Clone(n.Action.Headers)
		out.Action = &a
	}
	if n.Condition != nil {
		c := *n.Condition
		out.Condition = &c
	}
	if n.Delay != nil {
		d := *n.Delay
		out.Delay = &d
	}
	return out
}

// Validate checks the structural invariants of a workflow graph. All
// violations are reported, joined, and wrapped in ErrInvalidWorkflow.
func (g *Graph) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	byID := make(map[string]*Node, len(g.Nodes))
	triggers := 0
	var trigger *Node
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			add("node %d has no id", i)
			continue
		}
		if _, dup := byID[n.ID]; dup {
			add("duplicate node id %q", n.ID)
			continue
		}
		byID[n.ID] = n
		if err := checkPayload(n); err != nil {
			errs = append(errs, err)
		}
		if n.Type == NodeTrigger {
			triggers++
			trigger = n
		}
	}
	if triggers != 1 {
		add("expected exactly one trigger node, found %d", triggers)
	}

	type exit struct {
		from string
		port Port
	}
	seen := make(map[exit]bool)
	adj := make(map[string][]string)
	for _, c := range g.Connections {
		from, ok := byID[c.From]
		if !ok {
			add("connection %q: unknown source node %q", c.ID, c.From)
			continue
		}
		if _, ok := byID[c.To]; !ok {
			add("connection %q: unknown target node %q", c.ID, c.To)
			continue
		}
		if !portAllowed(from.Type, c.Port) {
			add("connection %q: port %q not valid for %s node %q", c.ID, c.Port, from.Type, from.ID)
			continue
		}
		k := exit{from: c.From, port: c.Port}
		if seen[k] {
			add("node %q has more than one %q connection", c.From, c.Port)
			continue
		}
		seen[k] = true
		adj[c.From] = append(adj[c.From], c.To)
	}

	if trigger != nil {
		reached := map[string]bool{trigger.ID: true}
		queue := []string{trigger.ID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, to := range adj[id] {
				if !reached[to] {
					reached[to] = true
					queue = append(queue, to)
				}
			}
		}
		for _, n := range g.Nodes {
			if n.ID != "" && !reached[n.ID] {
				add("node %q is not reachable from the trigger", n.ID)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidWorkflow, errors.Join(errs...))
}

func portAllowed(t NodeType, p Port) bool {
	if t == NodeCondition {
		return p == PortYes || p == PortNo
	}
	return p == PortDefault
}

func checkPayload(n *Node) error {
	set := 0
	for _, present := range []bool{n.Trigger != nil, n.Action != nil, n.Condition != nil, n.Delay != nil} {
		if present {
			set++
		}
	}
	var ok bool
	switch n.Type {
	case NodeTrigger:
		ok = n.Trigger != nil && n.Trigger.Event != ""
	case NodeAction:
		ok = n.Action != nil && n.Action.Type != ""
	case NodeCondition:
		ok = n.Condition != nil && n.Condition.Type != ""
	case NodeDelay:
		ok = n.Delay != nil
	default:
		return fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
	}
	if !ok || set != 1 {
		return fmt.Errorf("node %q: %s node needs exactly one matching config", n.ID, n.Type)
	}
	return nil
}
