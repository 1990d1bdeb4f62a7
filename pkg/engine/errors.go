package engine

import (
	"fmt"

	"github.com/2younis/geoengine/pkg/geo"
)

// InitializationError reports that building or initializing an operator
// failed: unknown type tags, malformed parameters, arity violations,
// irreconcilable reference systems or unreachable metadata. Initialization
// errors always surface before the first stream element.
type InitializationError struct {
	Operator string
	Err      error
}

// NewInitializationError wraps err as an initialization failure of the
// named operator.
func NewInitializationError(operator string, err error) *InitializationError {
	return &InitializationError{Operator: operator, Err: err}
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initializing operator %q: %v", e.Operator, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// UnsupportedOperationError reports a structurally valid request the engine
// cannot satisfy: an unsupported projection pair, an operator applied to
// the wrong result kind, a band index outside the dataset.
type UnsupportedOperationError struct {
	Operation string
	Reason    string
}

// NewUnsupportedOperationError describes why the operation cannot be
// performed.
func NewUnsupportedOperationError(operation, reason string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Operation: operation, Reason: reason}
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %s: %s", e.Operation, e.Reason)
}

// IoError reports a failure talking to external storage: files, object
// URLs, databases. Op names the access that failed.
type IoError struct {
	Op  string
	Err error
}

// NewIoError wraps err as a failure of the named access.
func NewIoError(op string, err error) *IoError {
	return &IoError{Op: op, Err: err}
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// TileComputationError reports that computing one tile failed, naming the
// tile and the operator. It terminates the stream that carried it; tiles
// delivered before it remain valid.
type TileComputationError struct {
	Operator string
	Position geo.GridIdx2D
	Time     geo.TimeInterval
	Err      error
}

// NewTileComputationError wraps err as a failure of one tile computation.
func NewTileComputationError(operator string, position geo.GridIdx2D, time geo.TimeInterval, err error) *TileComputationError {
	return &TileComputationError{Operator: operator, Position: position, Time: time, Err: err}
}

func (e *TileComputationError) Error() string {
	return fmt.Sprintf("computing tile %s %s in operator %q: %v", e.Position, e.Time, e.Operator, e.Err)
}

func (e *TileComputationError) Unwrap() error { return e.Err }
