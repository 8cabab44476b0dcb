// Package schema loads named formulas from YAML documents.
//
// A document maps names to formula nodes:
//
//	formulas:
//	  Point:
//	    struct:
//	      - x: i16
//	      - y: i16
//	  Path:
//	    slice: Point
//	  Label:
//	    ref: string
//	  Shape:
//	    union:
//	      - dot: unit
//	      - circle: {tag: 4, formula: {struct: [{r: u32}]}}
//
// A node is a primitive name (bool, u8 … f64, bytes, string, unit), the name
// of another formula in the document, or a single-key mapping: struct (a
// sequence of single-key field mappings), array ({len: N, of: node}), slice,
// ref, option, or union (a sequence of single-key case mappings whose value
// is a node, tagged by position, or {tag: N, formula: node}).
package schema

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/rawbytedev/formula"
	"gopkg.in/yaml.v3"
)

// Error reports a schema problem with its position in the document.
type Error struct {
	Line   int
	Column int
	Name   string
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	s := "schema: line " + strconv.Itoa(e.Line)
	if e.Name != "" {
		s += " (" + e.Name + ")"
	}
	s += ": " + e.Msg
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Registry holds the formulas of one document by name.
type Registry struct {
	formulas map[string]*formula.Formula
	names    []string
}

// Lookup returns the formula registered under name.
func (r *Registry) Lookup(name string) (*formula.Formula, bool) {
	f, ok := r.formulas[name]
	return f, ok
}

// Must is Lookup that panics when name is unknown.
func (r *Registry) Must(name string) *formula.Formula {
	f, ok := r.formulas[name]
	if !ok {
		panic("schema: unknown formula " + strconv.Quote(name))
	}
	return f
}

// Names returns the registered names in document order.
func (r *Registry) Names() []string { return slices.Clone(r.names) }

// LoadFile parses the schema file at path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Load parses a schema from r.
func Load(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a schema document.
func Parse(data []byte) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &Error{Line: 1, Msg: "empty document"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nodeError(root, "", "document must be a mapping")
	}
	var defs *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "formulas" {
			defs = root.Content[i+1]
		}
	}
	if defs == nil {
		return nil, nodeError(root, "", "missing formulas section")
	}
	if defs.Kind != yaml.MappingNode {
		return nil, nodeError(defs, "", "formulas must be a mapping")
	}

	p := &parser{
		nodes: make(map[string]*yaml.Node, len(defs.Content)/2),
		done:  make(map[string]*formula.Formula, len(defs.Content)/2),
		busy:  make(map[string]bool),
	}
	reg := &Registry{formulas: p.done}
	for i := 0; i+1 < len(defs.Content); i += 2 {
		name := defs.Content[i].Value
		if _, ok := formula.PrimitiveByName(name); ok {
			return nil, nodeError(defs.Content[i], name, "name shadows a primitive")
		}
		if _, dup := p.nodes[name]; dup {
			return nil, nodeError(defs.Content[i], name, "duplicate formula")
		}
		p.nodes[name] = defs.Content[i+1]
		reg.names = append(reg.names, name)
	}
	for _, name := range reg.names {
		if _, err := p.named(name, p.nodes[name]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

type parser struct {
	nodes map[string]*yaml.Node
	done  map[string]*formula.Formula
	busy  map[string]bool
}

func nodeError(n *yaml.Node, name, format string, args ...any) *Error {
	return &Error{Line: n.Line, Column: n.Column, Name: name, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) named(name string, n *yaml.Node) (*formula.Formula, error) {
	if f, ok := p.done[name]; ok {
		return f, nil
	}
	if p.busy[name] {
		return nil, nodeError(n, name, "cycle through %q", name)
	}
	p.busy[name] = true
	f, err := p.node(name, n)
	delete(p.busy, name)
	if err != nil {
		return nil, err
	}
	f = formula.Named(name, f)
	p.done[name] = f
	return f, nil
}

func (p *parser) node(name string, n *yaml.Node) (*formula.Formula, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if f, ok := formula.PrimitiveByName(n.Value); ok {
			return f, nil
		}
		target, ok := p.nodes[n.Value]
		if !ok {
			return nil, nodeError(n, name, "unknown formula %q", n.Value)
		}
		return p.named(n.Value, target)
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return nil, nodeError(n, name, "formula mapping must have exactly one key")
		}
		key, body := n.Content[0].Value, n.Content[1]
		switch key {
		case "struct":
			return p.structure(name, body)
		case "array":
			return p.array(name, body)
		case "slice":
			return p.wrap(name, body, formula.NewSlice)
		case "ref":
			return p.wrap(name, body, formula.NewRef)
		case "option":
			return p.wrap(name, body, formula.NewOption)
		case "union":
			return p.union(name, body)
		}
		return nil, nodeError(n.Content[0], name, "unknown formula kind %q", key)
	}
	return nil, nodeError(n, name, "expected a formula")
}

func defined(n *yaml.Node, name string, f *formula.Formula, err error) (*formula.Formula, error) {
	if err != nil {
		return nil, &Error{Line: n.Line, Column: n.Column, Name: name, Msg: "invalid formula", Cause: err}
	}
	return f, nil
}

func (p *parser) wrap(name string, n *yaml.Node, build func(*formula.Formula) (*formula.Formula, error)) (*formula.Formula, error) {
	inner, err := p.node(name, n)
	if err != nil {
		return nil, err
	}
	f, err := build(inner)
	return defined(n, name, f, err)
}

// entries returns the key and value of each single-key mapping in a sequence.
func entries(name string, n *yaml.Node, what string) ([][2]*yaml.Node, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, nodeError(n, name, "%s must be a sequence", what)
	}
	out := make([][2]*yaml.Node, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, nodeError(item, name, "each %s entry must be a single-key mapping", what)
		}
		out = append(out, [2]*yaml.Node{item.Content[0], item.Content[1]})
	}
	return out, nil
}

func (p *parser) structure(name string, n *yaml.Node) (*formula.Formula, error) {
	items, err := entries(name, n, "struct")
	if err != nil {
		return nil, err
	}
	fields := make([]formula.Field, 0, len(items))
	for _, kv := range items {
		f, err := p.node(name, kv[1])
		if err != nil {
			return nil, err
		}
		fields = append(fields, formula.F(kv[0].Value, f))
	}
	f, err := formula.NewStruct(fields...)
	return defined(n, name, f, err)
}

func (p *parser) array(name string, n *yaml.Node) (*formula.Formula, error) {
	var def struct {
		Len *int      `yaml:"len"`
		Of  yaml.Node `yaml:"of"`
	}
	if err := n.Decode(&def); err != nil {
		return nil, &Error{Line: n.Line, Column: n.Column, Name: name, Msg: "invalid array", Cause: err}
	}
	if def.Len == nil || def.Of.Kind == 0 {
		return nil, nodeError(n, name, "array needs len and of")
	}
	elem, err := p.node(name, &def.Of)
	if err != nil {
		return nil, err
	}
	f, err := formula.NewArray(elem, *def.Len)
	return defined(n, name, f, err)
}

func (p *parser) union(name string, n *yaml.Node) (*formula.Formula, error) {
	items, err := entries(name, n, "union")
	if err != nil {
		return nil, err
	}
	cases := make([]formula.Case, 0, len(items))
	for i, kv := range items {
		tag, body := uint64(i), kv[1]
		if isCaseDef(body) {
			var def struct {
				Tag     *uint64   `yaml:"tag"`
				Formula yaml.Node `yaml:"formula"`
			}
			if err := body.Decode(&def); err != nil {
				return nil, &Error{Line: body.Line, Column: body.Column, Name: name, Msg: "invalid case", Cause: err}
			}
			if def.Tag != nil {
				tag = *def.Tag
			}
			body = &def.Formula
		}
		var f *formula.Formula
		if body.Kind != 0 {
			if f, err = p.node(name, body); err != nil {
				return nil, err
			}
		}
		cases = append(cases, formula.Variant(kv[0].Value, tag, f))
	}
	f, err := formula.NewUnion(cases...)
	return defined(n, name, f, err)
}

func isCaseDef(n *yaml.Node) bool {
	if n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(n.Content); i += 2 {
		switch n.Content[i].Value {
		case "tag", "formula":
			return true
		}
	}
	return false
}
