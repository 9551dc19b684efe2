package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/anishkny/attractor/internal/attractor/model"
)

// ResolvePromptFiles fills in a "prompt" attribute for every node that
// declares a prompt_file glob (e.g. "prompts/**/*.md") instead of an
// inline prompt, resolving the pattern against promptDir and concatenating
// matches in sorted order. Nodes that already have prompt_file resolved
// to a plain, non-glob path are read directly.
func ResolvePromptFiles(g *model.Graph, promptDir string) error {
	if promptDir == "" {
		return nil
	}
	for _, n := range g.Nodes {
		if n == nil {
			continue
		}
		pattern := n.Attr("prompt_file", "")
		if pattern == "" {
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(promptDir), pattern)
		if err != nil {
			return fmt.Errorf("prompt_file glob %q on node %q: %w", pattern, n.ID, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("prompt_file %q on node %q matched no files under %q", pattern, n.ID, promptDir)
		}
		sort.Strings(matches)
		var combined []byte
		for _, m := range matches {
			b, err := os.ReadFile(filepath.Join(promptDir, m))
			if err != nil {
				return fmt.Errorf("reading prompt_file match %q for node %q: %w", m, n.ID, err)
			}
			if len(combined) > 0 {
				combined = append(combined, '\n')
			}
			combined = append(combined, b...)
		}
		n.Attrs["prompt"] = string(combined)
	}
	return nil
}
