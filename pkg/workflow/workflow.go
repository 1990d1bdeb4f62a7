// Package workflow models the serialized form of a query plan: a tree of
// operator nodes, each carrying a type tag, raw parameters and its source
// nodes. Documents are parsed strictly and round-trip losslessly; giving
// meaning to type tags and parameters is the engine's job, not this
// package's.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the result kind a workflow produces.
type Kind string

const (
	KindRaster Kind = "Raster"
	KindVector Kind = "Vector"
	KindPlot   Kind = "Plot"
)

// IsValid reports whether k is a known workflow kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindRaster, KindVector, KindPlot:
		return true
	}
	return false
}

// Node is one operator in a workflow tree: a type tag, the operator's raw
// parameters and its ordered source nodes. Parameters stay undecoded here;
// the registry decodes them against the concrete operator's schema.
//
// Parsed documents always form trees. Programmatically built graphs may
// share subtrees; sharing is legal and detected during initialization so a
// shared subtree is initialized once.
type Node struct {
	Type    string          `json:"type"`
	Params  json.RawMessage `json:"params,omitempty"`
	Sources []*Node         `json:"sources,omitempty"`
}

// Validate checks the subtree rooted at n: every node needs a type tag and
// non-nil sources.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("operator node must not be null")
	}
	if n.Type == "" {
		return fmt.Errorf("operator node is missing its type tag")
	}
	for i, src := range n.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %d of %q: %w", i, n.Type, err)
		}
	}
	return nil
}

// Workflow is a complete query plan document: the declared result kind and
// the root operator.
type Workflow struct {
	Kind     Kind  `json:"type"`
	Operator *Node `json:"operator"`
}

// Parse decodes and validates a workflow document. Unknown fields are
// rejected so that typos fail loudly instead of silently changing a plan.
func Parse(data []byte) (*Workflow, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w Workflow
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate checks the whole document.
func (w *Workflow) Validate() error {
	if !w.Kind.IsValid() {
		return fmt.Errorf("unknown workflow kind %q", w.Kind)
	}
	if w.Operator == nil {
		return fmt.Errorf("workflow has no root operator")
	}
	return w.Operator.Validate()
}

// Marshal serializes the document. Parameters are emitted byte for byte as
// they were parsed, making Parse and Marshal lossless inverses.
func (w *Workflow) Marshal() ([]byte, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}
