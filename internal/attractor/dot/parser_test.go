package dot

import "testing"

func TestParseBasicGraph(t *testing.T) {
	src := `
digraph pipeline {
  start [shape=Mdiamond];
  work [shape=box, prompt="do the thing"];
  exit [shape=Msquare];

  start -> work;
  work -> exit;
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Name != "pipeline" {
		t.Errorf("Name = %q, want pipeline", g.Name)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("len(Nodes) = %d, want 3", len(g.Nodes))
	}
	if g.Nodes["work"].Attrs["prompt"] != "do the thing" {
		t.Errorf("work.prompt = %q", g.Nodes["work"].Attrs["prompt"])
	}
	if len(g.Edges) != 2 {
		t.Fatalf("len(Edges) = %d, want 2", len(g.Edges))
	}
}

func TestParseChainedEdgesExpand(t *testing.T) {
	src := `
digraph p {
  a -> b -> c;
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(g.Edges) != 2 {
		t.Fatalf("len(Edges) = %d, want 2", len(g.Edges))
	}
	if g.Edges[0].From != "a" || g.Edges[0].To != "b" {
		t.Errorf("Edges[0] = %s->%s, want a->b", g.Edges[0].From, g.Edges[0].To)
	}
	if g.Edges[1].From != "b" || g.Edges[1].To != "c" {
		t.Errorf("Edges[1] = %s->%s, want b->c", g.Edges[1].From, g.Edges[1].To)
	}
}

func TestParseEdgeAttrsApplyToEveryChainSegment(t *testing.T) {
	src := `
digraph p {
  a -> b -> c [label="ok"];
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, e := range g.Edges {
		if e.Attrs["label"] != "ok" {
			t.Errorf("edge %s->%s label = %q, want ok", e.From, e.To, e.Attrs["label"])
		}
	}
}

func TestParseNodeAndEdgeDefaultsAreScoped(t *testing.T) {
	src := `
digraph p {
  node [shape=box];
  edge [weight=5];
  a;
  b;
  a -> b;
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Nodes["a"].Attrs["shape"] != "box" {
		t.Errorf("node default shape not applied: %q", g.Nodes["a"].Attrs["shape"])
	}
	if g.Edges[0].Attrs["weight"] != "5" {
		t.Errorf("edge default weight not applied: %q", g.Edges[0].Attrs["weight"])
	}
}

func TestParseExplicitAttrsOverrideDefaults(t *testing.T) {
	src := `
digraph p {
  node [shape=box];
  a [shape=diamond];
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Nodes["a"].Attrs["shape"] != "diamond" {
		t.Errorf("explicit shape = %q, want diamond to win over node default", g.Nodes["a"].Attrs["shape"])
	}
}

func TestParseSubgraphDerivesClassFromLabel(t *testing.T) {
	src := `
digraph p {
  subgraph cluster_0 {
    label="Review Stage";
    a;
    b;
  }
  c;
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		n := g.Nodes[id]
		found := false
		for _, c := range n.Classes {
			if c == "review-stage" {
				found = true
			}
		}
		if !found {
			t.Errorf("node %s classes = %v, want review-stage derived from subgraph label", id, n.Classes)
		}
	}
	if len(g.Nodes["c"].Classes) != 0 {
		t.Errorf("node c classes = %v, want none (outside the subgraph)", g.Nodes["c"].Classes)
	}
}

func TestParseGraphLevelAttribute(t *testing.T) {
	src := `
digraph p {
  model_stylesheet="* { llm_model: x; }";
  a;
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Attrs["model_stylesheet"] == "" {
		t.Error("expected model_stylesheet graph attribute to be captured")
	}
}

func TestParseRejectsTrailingTokensAfterGraph(t *testing.T) {
	src := `digraph p { a; } digraph q { b; }`
	if _, err := Parse([]byte(src)); err == nil {
		t.Error("expected a parse error for a second digraph after the first closes")
	}
}

func TestParseRejectsMissingClosingBrace(t *testing.T) {
	src := `digraph p { a;`
	if _, err := Parse([]byte(src)); err == nil {
		t.Error("expected a parse error for an unterminated graph body")
	}
}

func TestParseStripsComments(t *testing.T) {
	src := `
digraph p {
  // a line comment
  a; /* a block
        comment */
  b;
  a -> b;
}
`
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Errorf("Nodes=%d Edges=%d, want 2 and 1", len(g.Nodes), len(g.Edges))
	}
}
