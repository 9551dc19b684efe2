package engine

import (
	"fmt"
	"regexp"

	"github.com/anishkny/attractor/internal/attractor/model"
	"github.com/anishkny/attractor/internal/attractor/runtime"
)

// variablePattern matches the two-word fixed vocabulary this template
// engine understands: $goal and $context.<key>. Anything else is left
// untouched rather than treated as an expression.
var variablePattern = regexp.MustCompile(`\$(goal|context\.[A-Za-z_][A-Za-z0-9_.]*)`)

// ExpandVariables substitutes $goal and $context.<k> references in text
// with the node's goal and the run context's values. It is intentionally
// not a general template language: unknown $-references pass through
// unmodified.
func ExpandVariables(text string, n *model.Node, rc *runtime.Context) string {
	if text == "" {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		ref := match[1:] // drop leading $
		if ref == "goal" {
			return n.Goal()
		}
		key := ref[len("context."):]
		if rc == nil {
			return ""
		}
		v, ok := rc.Get(key)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}
