package expression

import (
	"fmt"
	"strings"
)

// ParseError reports where in the source an expression stopped parsing.
type ParseError struct {
	Source  string
	Offset  int
	Details string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse expression at offset %d: %s", e.Offset, e.Details)
}

// UnknownBandError reports a variable that resolves to no declared input
// band.
type UnknownBandError struct {
	Band     string
	Declared []string
}

func (e *UnknownBandError) Error() string {
	if len(e.Declared) == 0 {
		return fmt.Sprintf("unknown band %q, the expression has no input bands", e.Band)
	}
	return fmt.Sprintf("unknown band %q, input bands are %s", e.Band, strings.Join(e.Declared, ", "))
}
