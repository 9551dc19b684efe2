package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/anishkny/attractor/internal/attractor/cond"
	"github.com/anishkny/attractor/internal/attractor/model"
	"github.com/anishkny/attractor/internal/attractor/runtime"
	"github.com/anishkny/attractor/internal/attractor/style"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeFrom string   `json:"edge_from,omitempty"`
	EdgeTo   string   `json:"edge_to,omitempty"`
	Fix      string   `json:"fix,omitempty"`
}

// LintRule lets callers plug additional checks into Validate beyond the
// built-in rule set (e.g. TypeKnownRule, which needs the handler registry
// this package doesn't otherwise depend on).
type LintRule interface {
	Name() string
	Apply(g *model.Graph) []Diagnostic
}

// Validate runs every built-in lint rule plus any extra rules, in order.
func Validate(g *model.Graph, extraRules ...LintRule) []Diagnostic {
	var diags []Diagnostic
	if g == nil {
		return []Diagnostic{{Rule: "graph_nil", Severity: SeverityError, Message: "graph is nil"}}
	}

	diags = append(diags, lintStartNode(g)...)
	diags = append(diags, lintExitNode(g)...)
	diags = append(diags, lintEdgeTargetsExist(g)...)
	diags = append(diags, lintStartNoIncoming(g)...)
	diags = append(diags, lintExitNoOutgoing(g)...)
	diags = append(diags, lintReachability(g)...)
	diags = append(diags, lintConditionSyntax(g)...)
	diags = append(diags, lintStylesheetSyntax(g)...)
	diags = append(diags, lintRetryTargetsExist(g)...)
	diags = append(diags, lintGoalGateHasRetry(g)...)
	diags = append(diags, lintGoalGateExitStatusContract(g)...)
	diags = append(diags, lintGoalGatePromptStatusHint(g)...)
	diags = append(diags, lintPromptOnLLMNodes(g)...)
	diags = append(diags, lintPromptOnConditionalNodes(g)...)
	diags = append(diags, lintPromptFileConflict(g)...)
	diags = append(diags, lintAllConditionalEdges(g)...)

	for _, rule := range extraRules {
		if rule != nil {
			diags = append(diags, rule.Apply(g)...)
		}
	}
	return diags
}

func ValidateOrError(g *model.Graph, extraRules ...LintRule) error {
	diags := Validate(g, extraRules...)
	var errs []string
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d.Rule+": "+d.Message)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func lintStartNode(g *model.Graph) []Diagnostic {
	ids := findAllStartNodeIDs(g)
	if len(ids) != 1 {
		return []Diagnostic{{
			Rule:     "start_node",
			Severity: SeverityError,
			Message:  fmt.Sprintf("pipeline must have exactly one start node (found %d: %v)", len(ids), ids),
		}}
	}
	return nil
}

func lintExitNode(g *model.Graph) []Diagnostic {
	ids := findAllExitNodeIDs(g)
	if len(ids) == 0 {
		return []Diagnostic{{
			Rule:     "terminal_node",
			Severity: SeverityError,
			Message:  "pipeline must have at least one exit node (found 0)",
		}}
	}
	return nil
}

func lintEdgeTargetsExist(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		if e == nil {
			continue
		}
		if _, ok := g.Nodes[e.From]; !ok {
			diags = append(diags, Diagnostic{
				Rule:     "edge_target_exists",
				Severity: SeverityError,
				Message:  "edge references missing from-node",
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
		if _, ok := g.Nodes[e.To]; !ok {
			diags = append(diags, Diagnostic{
				Rule:     "edge_target_exists",
				Severity: SeverityError,
				Message:  "edge references missing to-node",
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	return diags
}

func findStartNodeID(g *model.Graph) string {
	ids := findAllStartNodeIDs(g)
	if len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func findAllStartNodeIDs(g *model.Graph) []string {
	var ids []string
	seen := map[string]bool{}
	for id, n := range g.Nodes {
		if n != nil && n.Shape() == "Mdiamond" && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	return ids
}

func findAllExitNodeIDs(g *model.Graph) []string {
	var ids []string
	seen := map[string]bool{}
	for id, n := range g.Nodes {
		if n != nil && n.Shape() == "Msquare" && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	return ids
}

func lintStartNoIncoming(g *model.Graph) []Diagnostic {
	start := findStartNodeID(g)
	if start == "" {
		return nil
	}
	if len(g.Incoming(start)) > 0 {
		return []Diagnostic{{
			Rule:     "start_no_incoming",
			Severity: SeverityError,
			Message:  "start node must have no incoming edges",
			NodeID:   start,
		}}
	}
	return nil
}

func lintExitNoOutgoing(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, exit := range findAllExitNodeIDs(g) {
		if len(g.Outgoing(exit)) > 0 {
			diags = append(diags, Diagnostic{
				Rule:     "exit_no_outgoing",
				Severity: SeverityError,
				Message:  "exit node must have no outgoing edges",
				NodeID:   exit,
			})
		}
	}
	return diags
}

func lintReachability(g *model.Graph) []Diagnostic {
	start := findStartNodeID(g)
	if start == "" {
		return nil
	}
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if e == nil {
				continue
			}
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	var diags []Diagnostic
	for id := range g.Nodes {
		if !seen[id] {
			diags = append(diags, Diagnostic{
				Rule:     "reachability",
				Severity: SeverityError,
				Message:  "node is not reachable from start",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintConditionSyntax(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		if e == nil {
			continue
		}
		c := strings.TrimSpace(e.Condition())
		if c == "" {
			continue
		}
		if err := validateConditionSyntax(c); err != nil {
			diags = append(diags, Diagnostic{
				Rule:     "condition_syntax",
				Severity: SeverityError,
				Message:  err.Error(),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
			continue
		}
		_, _ = cond.Evaluate(c, runtime.Outcome{Status: runtime.StatusSuccess}, runtime.NewContext())
	}
	return diags
}

func validateConditionSyntax(condExpr string) error {
	clauses := strings.Split(condExpr, "&&")
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if strings.ContainsAny(clause, "<>|") {
			return fmt.Errorf("invalid condition operator in clause %q", clause)
		}
		if strings.Contains(clause, "!=") {
			parts := strings.SplitN(clause, "!=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid condition clause %q", clause)
			}
			if err := validateCondKey(strings.TrimSpace(parts[0])); err != nil {
				return err
			}
			if strings.TrimSpace(parts[1]) == "" {
				return fmt.Errorf("invalid condition clause %q: missing literal", clause)
			}
			continue
		}
		if strings.Contains(clause, "=") {
			parts := strings.SplitN(clause, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid condition clause %q", clause)
			}
			if err := validateCondKey(strings.TrimSpace(parts[0])); err != nil {
				return err
			}
			if strings.TrimSpace(parts[1]) == "" {
				return fmt.Errorf("invalid condition clause %q: missing literal", clause)
			}
			continue
		}
		if err := validateCondKey(strings.TrimSpace(clause)); err != nil {
			return err
		}
	}
	return nil
}

func validateCondKey(key string) error {
	if key == "" {
		return fmt.Errorf("invalid condition: empty key")
	}
	if key == "outcome" || key == "preferred_label" {
		return nil
	}
	key = strings.TrimPrefix(key, "context.")
	for _, part := range strings.Split(key, ".") {
		if part == "" {
			return fmt.Errorf("invalid condition key %q", key)
		}
		if !isAlphaUnderscore(part[0]) {
			return fmt.Errorf("invalid condition key %q", key)
		}
		for i := 1; i < len(part); i++ {
			if !isAlnumUnderscore(part[i]) {
				return fmt.Errorf("invalid condition key %q", key)
			}
		}
	}
	return nil
}

func isAlphaUnderscore(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || ch == '_'
}

func isAlnumUnderscore(ch byte) bool {
	return isAlphaUnderscore(ch) || (ch >= '0' && ch <= '9')
}

func lintStylesheetSyntax(g *model.Graph) []Diagnostic {
	raw := strings.TrimSpace(g.Attrs["model_stylesheet"])
	if raw == "" {
		return nil
	}
	if _, err := style.ParseStylesheet(raw); err != nil {
		return []Diagnostic{{
			Rule:     "stylesheet_syntax",
			Severity: SeverityError,
			Message:  err.Error(),
		}}
	}
	return nil
}

func lintRetryTargetsExist(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil {
			continue
		}
		for _, k := range []string{"retry_target", "fallback_retry_target"} {
			t := strings.TrimSpace(n.Attr(k, ""))
			if t == "" {
				continue
			}
			if _, ok := g.Nodes[t]; !ok {
				diags = append(diags, Diagnostic{
					Rule:     "retry_target_exists",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("%s references missing node %q", k, t),
					NodeID:   id,
				})
			}
		}
	}
	return diags
}

func lintGoalGateHasRetry(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil || !n.GoalGate() {
			continue
		}
		if n.RetryTarget() == "" && n.FallbackRetryTarget() == "" {
			diags = append(diags, Diagnostic{
				Rule:     "goal_gate_has_retry",
				Severity: SeverityWarning,
				Message:  "goal_gate node has no retry_target/fallback_retry_target",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintGoalGateExitStatusContract(g *model.Graph) []Diagnostic {
	exitIDs := findAllExitNodeIDs(g)
	if len(exitIDs) == 0 {
		return nil
	}
	exitSet := map[string]bool{}
	for _, id := range exitIDs {
		exitSet[id] = true
	}
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil || !n.GoalGate() {
			continue
		}
		for _, e := range g.Outgoing(id) {
			if e == nil || !exitSet[e.To] {
				continue
			}
			statuses := outcomeEqualsStatuses(strings.TrimSpace(e.Condition()))
			if len(statuses) == 0 {
				continue
			}
			violates := false
			for _, status := range statuses {
				if status == runtime.StatusSuccess || status == runtime.StatusPartialSuccess {
					continue
				}
				violates = true
				break
			}
			if !violates {
				continue
			}
			diags = append(diags, Diagnostic{
				Rule:     "goal_gate_exit_status_contract",
				Severity: SeverityError,
				Message:  "goal_gate node routes to terminal on non-success outcome; use outcome=success (or partial_success)",
				EdgeFrom: e.From,
				EdgeTo:   e.To,
				Fix:      "change terminal edge condition to outcome=success or outcome=partial_success",
			})
		}
	}
	return diags
}

var outcomeAssignmentPattern = regexp.MustCompile(`(?i)\boutcome\s*=\s*['"]?([a-z0-9_-]+)['"]?`)

func lintGoalGatePromptStatusHint(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil || !n.GoalGate() {
			continue
		}
		customOutcome, shouldWarn := firstPromptCustomOutcomeWithoutCanonicalSuccess(n.Prompt())
		if !shouldWarn {
			continue
		}
		diags = append(diags, Diagnostic{
			Rule:     "goal_gate_prompt_status_hint",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("goal_gate prompt instructs custom outcome=%s without canonical success outcome", customOutcome),
			NodeID:   id,
			Fix:      "update prompt instructions to include outcome=success (or outcome=partial_success) when approved",
		})
	}
	return diags
}

func outcomeEqualsStatuses(condExpr string) []runtime.StageStatus {
	var out []runtime.StageStatus
	for _, clause := range strings.Split(condExpr, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" || !strings.Contains(clause, "=") || strings.Contains(clause, "!=") {
			continue
		}
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != "outcome" {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		status, err := runtime.ParseStageStatus(raw)
		if err != nil {
			continue
		}
		out = append(out, status)
	}
	return out
}

func firstPromptCustomOutcomeWithoutCanonicalSuccess(prompt string) (string, bool) {
	matches := outcomeAssignmentPattern.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return "", false
	}
	var custom []string
	hasCanonicalSuccess := false
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		status, err := runtime.ParseStageStatus(m[1])
		if err != nil {
			continue
		}
		if status == runtime.StatusSuccess || status == runtime.StatusPartialSuccess {
			hasCanonicalSuccess = true
		}
		if !status.IsCanonical() {
			custom = append(custom, string(status))
		}
	}
	if hasCanonicalSuccess || len(custom) == 0 {
		return "", false
	}
	return custom[0], true
}

func lintPromptOnLLMNodes(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil || n.Shape() != "box" {
			continue
		}
		if strings.TrimSpace(n.Prompt()) == "" {
			diags = append(diags, Diagnostic{
				Rule:     "prompt_on_llm_nodes",
				Severity: SeverityWarning,
				Message:  "codergen node has empty prompt (label will be used)",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintPromptOnConditionalNodes(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil || n.Shape() != "diamond" {
			continue
		}
		if strings.TrimSpace(n.Prompt()) != "" {
			diags = append(diags, Diagnostic{
				Rule:     "prompt_on_conditional_node",
				Severity: SeverityWarning,
				Message:  "diamond (conditional) node has a prompt that will be ignored; use shape=box if the prompt should execute",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintPromptFileConflict(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil {
			continue
		}
		pf := strings.TrimSpace(n.Attr("prompt_file", ""))
		if pf == "" {
			continue
		}
		if strings.TrimSpace(n.Attr("prompt", "")) != "" {
			diags = append(diags, Diagnostic{
				Rule:     "prompt_file_conflict",
				Severity: SeverityError,
				Message:  "node has both prompt_file and prompt — use one or the other",
				NodeID:   id,
				Fix:      "remove either prompt_file or prompt",
			})
		}
	}
	return diags
}

// TypeKnownRule warns when a node's explicit type override is not in the
// set of known handler types. The known types are supplied by the caller
// so this package does not depend on the engine's handler registry.
type TypeKnownRule struct {
	KnownTypes map[string]bool
}

func NewTypeKnownRule(knownTypes []string) *TypeKnownRule {
	m := make(map[string]bool, len(knownTypes))
	for _, t := range knownTypes {
		m[t] = true
	}
	return &TypeKnownRule{KnownTypes: m}
}

func (r *TypeKnownRule) Name() string { return "type_known" }

func (r *TypeKnownRule) Apply(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for id, n := range g.Nodes {
		if n == nil {
			continue
		}
		t := strings.TrimSpace(n.TypeOverride())
		if t == "" {
			continue
		}
		if !r.KnownTypes[t] {
			diags = append(diags, Diagnostic{
				Rule:     "type_known",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("node type %q is not recognized by the handler registry", t),
				NodeID:   id,
			})
		}
	}
	return diags
}

// lintAllConditionalEdges warns when a non-terminal node has outgoing
// edges but all of them are conditional, leaving no unconditional
// fallback if no condition matches at runtime.
func lintAllConditionalEdges(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	exitIDs := map[string]bool{}
	for _, id := range findAllExitNodeIDs(g) {
		exitIDs[id] = true
	}
	startIDs := map[string]bool{}
	for _, id := range findAllStartNodeIDs(g) {
		startIDs[id] = true
	}

	outgoing := map[string][]*model.Edge{}
	for _, e := range g.Edges {
		if e != nil {
			outgoing[e.From] = append(outgoing[e.From], e)
		}
	}

	for id, n := range g.Nodes {
		if n == nil || exitIDs[id] || startIDs[id] {
			continue
		}
		edges := outgoing[id]
		if len(edges) == 0 {
			continue
		}
		allConditional := true
		for _, e := range edges {
			if strings.TrimSpace(e.Condition()) == "" {
				allConditional = false
				break
			}
		}
		if allConditional {
			diags = append(diags, Diagnostic{
				Rule:     "all_conditional_edges",
				Severity: SeverityWarning,
				NodeID:   id,
				Message:  fmt.Sprintf("node %q has %d outgoing edge(s) but all are conditional; add an unconditional fallback edge", id, len(edges)),
				Fix:      "add an unconditional edge (no condition attribute) as a fallback route",
			})
		}
	}
	return diags
}
