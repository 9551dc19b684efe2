package model

import "fmt"

// Graph is a fully parsed pipeline: nodes, edges in declaration order, and
// graph-level attribute defaults (including model_stylesheet).
type Graph struct {
	Name  string
	Attrs map[string]string
	Nodes map[string]*Node
	Edges []*Edge

	outgoing map[string][]*Edge
	incoming map[string][]*Edge
}

func NewGraph(name string) *Graph {
	return &Graph{
		Name:     name,
		Attrs:    map[string]string{},
		Nodes:    map[string]*Node{},
		outgoing: map[string][]*Edge{},
		incoming: map[string][]*Edge{},
	}
}

// AddNode registers a node, rejecting duplicate IDs.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("model: cannot add node with empty id")
	}
	if _, exists := g.Nodes[n.ID]; exists {
		return fmt.Errorf("model: duplicate node id %q", n.ID)
	}
	g.Nodes[n.ID] = n
	return nil
}

// AddEdge appends an edge and updates the outgoing/incoming indexes. Edges
// may reference node IDs that don't exist yet at parse time; existence is
// checked later by the validator.
func (g *Graph) AddEdge(e *Edge) error {
	if e == nil {
		return fmt.Errorf("model: cannot add nil edge")
	}
	e.Order = len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.outgoing[e.From] = append(g.outgoing[e.From], e)
	g.incoming[e.To] = append(g.incoming[e.To], e)
	return nil
}

// Attr returns the raw graph-level attribute value, or def if unset or
// blank.
func (g *Graph) Attr(key, def string) string {
	if g == nil {
		return def
	}
	if v, ok := g.Attrs[key]; ok && v != "" {
		return v
	}
	return def
}

// Outgoing returns the edges leaving id, in declaration order.
func (g *Graph) Outgoing(id string) []*Edge {
	return g.outgoing[id]
}

// Incoming returns the edges arriving at id, in declaration order.
func (g *Graph) Incoming(id string) []*Edge {
	return g.incoming[id]
}
