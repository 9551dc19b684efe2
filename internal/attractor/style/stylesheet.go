package style

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/anishkny/attractor/internal/attractor/model"
)

// SelectorKind is the CSS-like selector family a Rule matches on. Unlike a
// DOT shape selector, a "type" selector matches the node's explicit type=
// attribute, not its rendered shape - a node with no type= attribute never
// matches a type selector.
type SelectorKind int

const (
	SelectorUniversal SelectorKind = iota
	SelectorType
	SelectorClass
	SelectorID
)

// Specificity weights mirror the model stylesheet this package reimplements:
// a universal selector never outranks a more specific one, and an id
// selector always wins regardless of how many type/class rules also match.
const (
	specUniversal = 0
	specType      = 1
	specClass     = 10
	specID        = 100
)

type Rule struct {
	Kind        SelectorKind
	Value       string // id/class/type; empty for universal
	Specificity int
	Order       int // source order (0..n-1)
	Decls       map[string]string
}

func ParseStylesheet(src string) ([]Rule, error) {
	p := &ssParser{s: src}
	return p.parse()
}

// ApplyStylesheet computes each node's model configuration (llm_model,
// llm_provider, reasoning_effort, and any other declared property) and
// writes the result back onto the node. A matching stylesheet rule always
// overrides whatever the node set explicitly - the rule, not the node, has
// the final say on model selection, so an operator can repoint every node
// of a given type at a new model without editing the graph itself.
func ApplyStylesheet(g *model.Graph, rules []Rule) error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}
	if len(rules) == 0 {
		return nil
	}
	for _, n := range g.Nodes {
		if n == nil {
			continue
		}
		applyToNode(n, rules)
	}
	return nil
}

func applyToNode(n *model.Node, rules []Rule) {
	for k, v := range computedDecls(n, rules) {
		n.Attrs[k] = v
	}
}

// computedDecls merges every rule matching n, ordered by ascending
// specificity with declaration order breaking ties, so a later or
// higher-specificity rule's property always wins over an earlier one.
func computedDecls(n *model.Node, rules []Rule) map[string]string {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Specificity != sorted[j].Specificity {
			return sorted[i].Specificity < sorted[j].Specificity
		}
		return sorted[i].Order < sorted[j].Order
	})
	computed := map[string]string{}
	for _, r := range sorted {
		if !ruleMatchesNode(r, n) {
			continue
		}
		for k, v := range r.Decls {
			computed[k] = v
		}
	}
	return computed
}

func ruleMatchesNode(r Rule, n *model.Node) bool {
	switch r.Kind {
	case SelectorUniversal:
		return true
	case SelectorID:
		return n.ID == r.Value
	case SelectorClass:
		for _, c := range n.ClassList() {
			if c == r.Value {
				return true
			}
		}
		return false
	case SelectorType:
		return n.TypeOverride() == r.Value
	default:
		return false
	}
}

type ssParser struct {
	s    string
	i    int
	rule int
}

func (p *ssParser) parse() ([]Rule, error) {
	var rules []Rule
	for {
		p.skipSpace()
		if p.eof() {
			return rules, nil
		}
		r, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		r.Order = p.rule
		p.rule++
		rules = append(rules, r)
	}
}

func (p *ssParser) parseRule() (Rule, error) {
	kind, val, spec, err := p.parseSelector()
	if err != nil {
		return Rule{}, err
	}
	p.skipSpace()
	if !p.consume("{") {
		return Rule{}, p.errf("expected '{' after selector")
	}
	decls := map[string]string{}
	for {
		p.skipSpace()
		if p.consume("}") {
			break
		}
		// Any identifier is accepted as a property name here, and
		// applyToNode writes every declared property onto matching
		// nodes, not only the model-config keys.
		prop, err := p.parseIdent()
		if err != nil {
			return Rule{}, err
		}
		p.skipSpace()
		if !p.consume(":") {
			return Rule{}, p.errf("expected ':' after property")
		}
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return Rule{}, err
		}
		decls[prop] = val
		p.skipSpace()
		_ = p.consume(";") // optional (including trailing before '}')
	}
	return Rule{Kind: kind, Value: val, Specificity: spec, Decls: decls}, nil
}

func (p *ssParser) parseSelector() (SelectorKind, string, int, error) {
	if p.consume("*") {
		return SelectorUniversal, "", specUniversal, nil
	}
	if p.consume("#") {
		id, err := p.parseIdent()
		if err != nil {
			return 0, "", 0, err
		}
		return SelectorID, id, specID, nil
	}
	if p.consume(".") {
		class, err := p.parseClassName()
		if err != nil {
			return 0, "", 0, err
		}
		return SelectorClass, class, specClass, nil
	}
	typ, err := p.parseIdentLike()
	if err != nil {
		return 0, "", 0, err
	}
	return SelectorType, typ, specType, nil
}

func (p *ssParser) parseIdent() (string, error) {
	p.skipSpace()
	start := p.i
	if p.eof() || !isIdentStart(rune(p.s[p.i])) {
		return "", p.errf("expected identifier")
	}
	p.i++
	for !p.eof() && isIdentContinue(rune(p.s[p.i])) {
		p.i++
	}
	return p.s[start:p.i], nil
}

func (p *ssParser) parseClassName() (string, error) {
	p.skipSpace()
	start := p.i
	if p.eof() {
		return "", p.errf("expected class name")
	}
	for !p.eof() {
		r := rune(p.s[p.i])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			p.i++
			continue
		}
		break
	}
	if start == p.i {
		return "", p.errf("expected class name")
	}
	return p.s[start:p.i], nil
}

func (p *ssParser) parseIdentLike() (string, error) {
	// For type selectors and bare values, accept [A-Za-z0-9_-.]+
	p.skipSpace()
	start := p.i
	if p.eof() {
		return "", p.errf("expected identifier")
	}
	for !p.eof() {
		r := rune(p.s[p.i])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			p.i++
			continue
		}
		break
	}
	if start == p.i {
		return "", p.errf("expected identifier")
	}
	return strings.TrimSpace(p.s[start:p.i]), nil
}

func (p *ssParser) parseValue() (string, error) {
	if p.eof() {
		return "", p.errf("expected value")
	}
	if p.s[p.i] == '"' {
		return p.parseString()
	}
	// Read until ';' or '}'.
	start := p.i
	for !p.eof() {
		if p.s[p.i] == ';' || p.s[p.i] == '}' {
			break
		}
		p.i++
	}
	return strings.TrimSpace(p.s[start:p.i]), nil
}

func (p *ssParser) parseString() (string, error) {
	if !p.consume(`"`) {
		return "", p.errf("expected string")
	}
	var b strings.Builder
	for !p.eof() {
		ch := p.s[p.i]
		p.i++
		if ch == '"' {
			return b.String(), nil
		}
		if ch == '\\' {
			if p.eof() {
				return "", p.errf("unterminated escape")
			}
			esc := p.s[p.i]
			p.i++
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			continue
		}
		b.WriteByte(ch)
	}
	return "", p.errf("unterminated string")
}

func (p *ssParser) skipSpace() {
	for !p.eof() {
		switch p.s[p.i] {
		case ' ', '\n', '\r', '\t':
			p.i++
		default:
			return
		}
	}
}

func (p *ssParser) consume(lit string) bool {
	if strings.HasPrefix(p.s[p.i:], lit) {
		p.i += len(lit)
		return true
	}
	return false
}

func (p *ssParser) eof() bool { return p.i >= len(p.s) }

func (p *ssParser) errf(format string, args ...any) error {
	return fmt.Errorf("stylesheet parse: "+format+" (at %d)", append(args, p.i)...)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentContinue(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
