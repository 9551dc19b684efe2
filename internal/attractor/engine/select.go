package engine

import (
	"fmt"
	"sort"

	"github.com/anishkny/attractor/internal/attractor/cond"
	"github.com/anishkny/attractor/internal/attractor/model"
	"github.com/anishkny/attractor/internal/attractor/runtime"
)

// selectNextEdge implements the deterministic edge-selection algorithm:
//
//  1. Conditional edges (condition set) whose condition matches the
//     outcome/context win outright, dropping unconditional edges entirely.
//  2. Otherwise, unconditional edges are the candidate set.
//  3. Narrow to edges whose label matches outcome.PreferredLabel, if any do.
//  4. Narrow to edges whose target is in outcome.SuggestedNextIDs, if any do.
//  5. Among remaining candidates, an edge with an explicit priority beats
//     every edge without one; among priority-bearing edges the highest
//     priority wins, weight only breaking a priority tie. When no
//     candidate sets priority, the highest weight wins.
//  6. Final ties break on target node ID (lexicographic), then edge
//     declaration order.
func selectNextEdge(g *model.Graph, fromID string, outcome runtime.Outcome, rc *runtime.Context) (*model.Edge, error) {
	edges := g.Outgoing(fromID)
	if len(edges) == 0 {
		return nil, fmt.Errorf("engine: node %q has no outgoing edges", fromID)
	}

	var conditional, unconditional []*model.Edge
	for _, e := range edges {
		if e.Condition() != "" {
			conditional = append(conditional, e)
		} else {
			unconditional = append(unconditional, e)
		}
	}

	var matching []*model.Edge
	for _, e := range conditional {
		ok, err := cond.Evaluate(e.Condition(), outcome, rc)
		if err != nil {
			return nil, fmt.Errorf("engine: evaluating condition on edge %s->%s: %w", e.From, e.To, err)
		}
		if ok {
			matching = append(matching, e)
		}
	}

	candidates := matching
	if len(candidates) == 0 {
		candidates = unconditional
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("engine: no outgoing edge from %q matched outcome %q", fromID, outcome.Status)
	}

	candidates = narrowByPreferredLabel(candidates, outcome.PreferredLabel)
	candidates = narrowBySuggestedNextIDs(candidates, outcome.SuggestedNextIDs)
	candidates = narrowByPriorityOrWeight(candidates)

	return bestByOrder(candidates), nil
}

func narrowByPreferredLabel(edges []*model.Edge, label string) []*model.Edge {
	if label == "" || len(edges) <= 1 {
		return edges
	}
	var out []*model.Edge
	for _, e := range edges {
		if e.Label() == label {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return edges
	}
	return out
}

func narrowBySuggestedNextIDs(edges []*model.Edge, ids []string) []*model.Edge {
	if len(ids) == 0 || len(edges) <= 1 {
		return edges
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*model.Edge
	for _, e := range edges {
		if want[e.To] {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return edges
	}
	return out
}

func narrowByPriorityOrWeight(edges []*model.Edge) []*model.Edge {
	if len(edges) <= 1 {
		return edges
	}
	anyPriority := false
	for _, e := range edges {
		if _, ok := e.Priority(); ok {
			anyPriority = true
			break
		}
	}
	if anyPriority {
		best := 0
		haveBest := false
		for _, e := range edges {
			p, ok := e.Priority()
			if !ok {
				continue
			}
			if !haveBest || p > best {
				best = p
				haveBest = true
			}
		}
		var out []*model.Edge
		for _, e := range edges {
			if p, ok := e.Priority(); ok && p == best {
				out = append(out, e)
			}
		}
		edges = out
	}

	bestWeight := edges[0].Weight()
	for _, e := range edges[1:] {
		if w := e.Weight(); w > bestWeight {
			bestWeight = w
		}
	}
	var out []*model.Edge
	for _, e := range edges {
		if e.Weight() == bestWeight {
			out = append(out, e)
		}
	}
	return out
}

func bestByOrder(edges []*model.Edge) *model.Edge {
	if len(edges) == 1 {
		return edges[0]
	}
	sorted := make([]*model.Edge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].To != sorted[j].To {
			return sorted[i].To < sorted[j].To
		}
		return sorted[i].Order < sorted[j].Order
	})
	return sorted[0]
}
