// Package expression compiles the raster algebra used by expression
// operators and evaluates it per pixel.
//
// The language covers arithmetic over named band variables, comparisons
// and boolean combinations, an if/else conditional, a NODATA literal, and
// an IS NODATA predicate:
//
//	if A IS NODATA { B } else { (A + B) / 2 }
//
// No-data propagates: every operator except IS NODATA yields no-data when
// an operand is no-data, and division by zero yields no-data instead of a
// fault. Evaluation is total over all inputs.
package expression

import (
	"fmt"
	"slices"
	"strings"

	p "github.com/vektah/goparsify"
)

// Expression is a compiled pixel expression. It is immutable and safe for
// concurrent evaluation from any number of goroutines.
type Expression struct {
	source string
	bands  []string
	root   numericNode
}

// Compile parses source and binds its variables against the declared band
// names. Band values are later passed to Evaluate in declaration order.
func Compile(source string, bands []string) (*Expression, error) {
	indexes := make(map[string]int, len(bands))
	for i, band := range bands {
		if _, ok := indexes[band]; ok {
			return nil, fmt.Errorf("duplicate band name %q", band)
		}
		indexes[band] = i
	}

	root, err := parseSource(source)
	if err != nil {
		return nil, err
	}

	err = root.bind(func(name string) (int, error) {
		index, ok := indexes[name]
		if !ok {
			return 0, &UnknownBandError{Band: name, Declared: slices.Clone(bands)}
		}
		return index, nil
	})
	if err != nil {
		return nil, err
	}

	return &Expression{source: source, bands: slices.Clone(bands), root: root}, nil
}

// Source returns the expression text as compiled.
func (e *Expression) Source() string { return e.source }

// Bands returns the declared band names in argument order.
func (e *Expression) Bands() []string { return slices.Clone(e.bands) }

// Evaluate computes the expression for one pixel. args holds one sample
// per declared band, in declaration order, with NaN marking no-data; the
// result follows the same convention.
func (e *Expression) Evaluate(args []float64) float64 {
	return e.root.evalNumber(args)
}

func parseSource(source string) (numericNode, error) {
	state := p.NewState(source)
	state.WS = p.UnicodeWhitespace
	result := &p.Result{}

	numericExpr(state, result)
	if state.Errored() {
		return nil, &ParseError{Source: source, Offset: state.Error.Pos(), Details: expectedText(&state.Error)}
	}

	state.WS(state)
	if remaining := state.Get(); remaining != "" {
		return nil, &ParseError{
			Source:  source,
			Offset:  state.Pos,
			Details: fmt.Sprintf("unparsed text %q", strings.TrimSpace(remaining)),
		}
	}
	return result.Result.(numericNode), nil
}

// expectedText trims the offset prefix from a goparsify error, which the
// surrounding ParseError reports already.
func expectedText(err *p.Error) string {
	msg := err.Error()
	if i := strings.Index(msg, "expected"); i >= 0 {
		return msg[i:]
	}
	return msg
}
