package model

import "testing"

func TestGraphAddNodeRejectsDuplicates(t *testing.T) {
	g := NewGraph("g")
	if err := g.AddNode(NewNode("a")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(NewNode("a")); err == nil {
		t.Error("AddNode should reject a duplicate id")
	}
}

func TestGraphEdgeIndexes(t *testing.T) {
	g := NewGraph("g")
	_ = g.AddNode(NewNode("a"))
	_ = g.AddNode(NewNode("b"))
	_ = g.AddNode(NewNode("c"))

	e1 := NewEdge("a", "b")
	e2 := NewEdge("b", "c")
	if err := g.AddEdge(e1); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(e2); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	if e1.Order != 0 || e2.Order != 1 {
		t.Errorf("edge Order not assigned in declaration sequence: %d, %d", e1.Order, e2.Order)
	}

	out := g.Outgoing("a")
	if len(out) != 1 || out[0] != e1 {
		t.Errorf("Outgoing(a) = %v, want [e1]", out)
	}
	in := g.Incoming("c")
	if len(in) != 1 || in[0] != e2 {
		t.Errorf("Incoming(c) = %v, want [e2]", in)
	}
	if len(g.Outgoing("missing")) != 0 {
		t.Error("Outgoing on unknown node should return empty slice")
	}
}
