package model

import (
	"strconv"
	"strings"
	"time"
)

// Node is a single vertex of a parsed pipeline graph. Attrs holds every
// raw DOT attribute the node declared (after node-default and subgraph
// scoping has been applied by the parser); the accessor methods below
// derive the specific fields the engine cares about, applying the
// documented defaults where an attribute was omitted.
type Node struct {
	ID      string
	Attrs   map[string]string
	Order   int      // declaration order within the source file
	Classes []string // CSS-like classes, derived from subgraph labels or an explicit class= attribute
}

func NewNode(id string) *Node {
	return &Node{
		ID:    id,
		Attrs: map[string]string{},
	}
}

// Attr returns the raw attribute value, or def if unset or blank.
func (n *Node) Attr(key, def string) string {
	if n == nil {
		return def
	}
	if v, ok := n.Attrs[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Shape returns the node's shape attribute, defaulting to "box" per the
// DOT subset's node grammar.
func (n *Node) Shape() string {
	return n.Attr("shape", "box")
}

// Label returns the node's display label, falling back to its ID.
func (n *Node) Label() string {
	return n.Attr("label", n.ID)
}

// Prompt returns the handler prompt text, checking both "prompt" and the
// legacy "llm_prompt" alias.
func (n *Node) Prompt() string {
	if v := n.Attr("prompt", ""); v != "" {
		return v
	}
	return n.Attr("llm_prompt", "")
}

// Goal returns the node's goal text, used by goal-gate handlers and
// $goal variable expansion.
func (n *Node) Goal() string {
	return n.Attr("goal", "")
}

// GoalGate reports whether this node enforces goal-gate semantics before
// the pipeline is allowed to exit through it.
func (n *Node) GoalGate() bool {
	b, _ := strconv.ParseBool(n.Attr("goal_gate", "false"))
	return b
}

// MaxRetries returns the node's configured retry ceiling, defaulting to 0
// (no retries) when unset or unparsable.
func (n *Node) MaxRetries() int {
	v := n.Attr("max_retries", "0")
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0
	}
	return i
}

// Timeout returns the node's execution timeout, or 0 if unset/unparsable
// (meaning "no timeout").
func (n *Node) Timeout() time.Duration {
	raw := n.Attr("timeout", "")
	if raw == "" {
		return 0
	}
	val := ParseValue(raw)
	if val.Kind == KindDuration {
		return val.Duration
	}
	if val.Kind == KindInt {
		return time.Duration(val.Int) * time.Second
	}
	return 0
}

// Command returns the tool handler's executable, from the "command"
// attribute.
func (n *Node) Command() string {
	return n.Attr("command", "")
}

// Args returns the tool handler's argument list, split on whitespace from
// the "args" attribute (expanded by the caller before splitting, so
// variable substitution applies to the whole string, not per-token).
func (n *Node) Args() []string {
	raw := n.Attr("args", "")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// Cwd returns the tool handler's working directory, or "" to inherit the
// engine process's own.
func (n *Node) Cwd() string {
	return n.Attr("cwd", "")
}

// Store returns the context key a tool handler's stdout should be copied
// into, or "" if the node didn't declare store=<key>.
func (n *Node) Store() string {
	return n.Attr("store", "")
}

// ChildDotfile returns the DOT source path a manager_loop node should spawn
// as a child pipeline process.
func (n *Node) ChildDotfile() string {
	return n.Attr("child_dotfile", "")
}

// PollInterval returns the manager_loop node's child-checkpoint poll
// interval, defaulting to 45s.
func (n *Node) PollInterval() time.Duration {
	raw := n.Attr("poll_interval", "45s")
	val := ParseValue(raw)
	if val.Kind == KindDuration {
		return val.Duration
	}
	if val.Kind == KindInt {
		return time.Duration(val.Int) * time.Second
	}
	return 45 * time.Second
}

// StopCondition returns the manager_loop node's cond-evaluable early-exit
// expression, or "" if none was declared.
func (n *Node) StopCondition() string {
	return n.Attr("stop_condition", "")
}

// MaxCycles returns the manager_loop node's observe/steer/wait cycle
// ceiling, defaulting to 1000.
func (n *Node) MaxCycles() int {
	v := n.Attr("max_cycles", "1000")
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return 1000
	}
	return i
}

// RetryTarget returns the node ID a goal-gate failure should route to.
func (n *Node) RetryTarget() string {
	return n.Attr("retry_target", "")
}

// FallbackRetryTarget returns the secondary retry target a goal-gate
// failure routes to when the node sets no RetryTarget.
func (n *Node) FallbackRetryTarget() string {
	return n.Attr("fallback_retry_target", "")
}

// TypeOverride returns an explicit handler type override, if the node set
// one via type=, taking precedence over shape-based handler resolution.
func (n *Node) TypeOverride() string {
	return n.Attr("type", "")
}

// ClassList returns the node's CSS-like classes: an explicit class=
// attribute (space separated) plus any classes derived from enclosing
// subgraph labels, in that order.
func (n *Node) ClassList() []string {
	var out []string
	if raw := n.Attr("class", ""); raw != "" {
		out = append(out, strings.Fields(raw)...)
	}
	out = append(out, n.Classes...)
	return out
}
