package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/2younis/geoengine/pkg/workflow"
)

// BuildFunc decodes an operator's parameters and binds its already-built
// sources, returning the uninitialized operator. Arity and parameter
// validation that needs no execution context happens here; everything else
// waits for initialization.
type BuildFunc func(params json.RawMessage, sources []Operator) (Operator, error)

// Registry is the closed table of operator type tags. Dispatch from a
// workflow document to operator code happens exactly here; there is no
// reflective registration and no way to extend the set at query time.
type Registry struct {
	entries map[string]BuildFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]BuildFunc)}
}

// Register adds a type tag. Duplicate registrations fail.
func (r *Registry) Register(tag string, build BuildFunc) error {
	if tag == "" {
		return fmt.Errorf("operator type tag must not be empty")
	}
	if build == nil {
		return fmt.Errorf("operator %q: build function must not be nil", tag)
	}
	if _, exists := r.entries[tag]; exists {
		return fmt.Errorf("operator %q registered twice", tag)
	}
	r.entries[tag] = build
	return nil
}

// MustRegister is Register that panics on error, for assembling the
// built-in table at startup.
func (r *Registry) MustRegister(tag string, build BuildFunc) {
	if err := r.Register(tag, build); err != nil {
		panic(err)
	}
}

// Tags returns the registered type tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Build turns a workflow tree into an operator graph, bottom-up. Nodes
// shared between several parents build once and share their operator;
// cycles are rejected. All errors are initialization errors, raised before
// any data is touched.
//
// Validation happens per node during the walk, not via Node.Validate,
// which would recurse forever on a cyclic graph.
func (r *Registry) Build(root *workflow.Node) (Operator, error) {
	built := make(map[*workflow.Node]Operator)
	onStack := make(map[*workflow.Node]bool)
	return r.build(root, built, onStack)
}

func (r *Registry) build(node *workflow.Node, built map[*workflow.Node]Operator, onStack map[*workflow.Node]bool) (Operator, error) {
	if node == nil {
		return Operator{}, NewInitializationError("workflow", fmt.Errorf("operator node must not be null"))
	}
	if node.Type == "" {
		return Operator{}, NewInitializationError("workflow", fmt.Errorf("operator node is missing its type tag"))
	}
	if onStack[node] {
		return Operator{}, NewInitializationError(node.Type, fmt.Errorf("workflow graph contains a cycle"))
	}
	if op, ok := built[node]; ok {
		return op, nil
	}

	onStack[node] = true
	defer delete(onStack, node)

	sources := make([]Operator, len(node.Sources))
	for i, src := range node.Sources {
		op, err := r.build(src, built, onStack)
		if err != nil {
			return Operator{}, err
		}
		sources[i] = op
	}

	buildFn, ok := r.entries[node.Type]
	if !ok {
		return Operator{}, NewInitializationError(node.Type, fmt.Errorf("unknown operator type"))
	}
	op, err := buildFn(node.Params, sources)
	if err != nil {
		if _, already := err.(*InitializationError); already {
			return Operator{}, err
		}
		return Operator{}, NewInitializationError(node.Type, err)
	}
	built[node] = op
	return op, nil
}

// DecodeParams strictly decodes an operator's raw parameters: unknown
// fields and trailing data are rejected. Missing parameters decode the zero
// value; operators validate requiredness themselves.
func DecodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid parameters: trailing data")
	}
	return nil
}
