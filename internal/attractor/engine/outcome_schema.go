package engine

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/anishkny/attractor/internal/attractor/model"
	"github.com/anishkny/attractor/internal/attractor/runtime"
)

// ValidateOutcomeSchema checks an outcome's context_updates against a
// node's optional outcome_schema attribute. The attribute's text is
// compiled as an inline JSON Schema document; a file:// reference is not
// followed. The engine records a failed check as a run warning, and the
// outcome still goes on to edge selection.
func ValidateOutcomeSchema(n *model.Node, out runtime.Outcome) error {
	raw := n.Attr("outcome_schema", "")
	if raw == "" {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(n.ID+"-outcome-schema.json", jsonschemaReader(raw)); err != nil {
		return fmt.Errorf("outcome_schema on node %q: %w", n.ID, err)
	}
	schema, err := compiler.Compile(n.ID + "-outcome-schema.json")
	if err != nil {
		return fmt.Errorf("outcome_schema on node %q: %w", n.ID, err)
	}
	b, err := json.Marshal(out.ContextUpdates)
	if err != nil {
		return fmt.Errorf("marshal context_updates for node %q: %w", n.ID, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal context_updates for node %q: %w", n.ID, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("node %q context_updates failed outcome_schema: %w", n.ID, err)
	}
	return nil
}

func jsonschemaReader(raw string) *jsonReader {
	return &jsonReader{data: []byte(raw)}
}

// jsonReader adapts a raw string to the io.Reader the schema compiler
// expects, without pulling in a bytes.Reader alias at every call site.
type jsonReader struct {
	data []byte
	pos  int
}

func (r *jsonReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
