package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TimeInstance is a point in time with millisecond precision, counted from
// the Unix epoch. It is the only temporal unit the engine computes with;
// calendar semantics stay outside.
type TimeInstance int64

const (
	// MinTimeInstance is the earliest representable instant.
	MinTimeInstance TimeInstance = math.MinInt64

	// MaxTimeInstance is the latest representable instant.
	MaxTimeInstance TimeInstance = math.MaxInt64
)

// TimeInstanceFromTime converts a time.Time, truncating to milliseconds.
func TimeInstanceFromTime(t time.Time) TimeInstance {
	return TimeInstance(t.UnixMilli())
}

// AsTime converts the instant into a UTC time.Time.
func (t TimeInstance) AsTime() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

func (t TimeInstance) String() string {
	switch t {
	case MinTimeInstance:
		return "-inf"
	case MaxTimeInstance:
		return "+inf"
	default:
		return t.AsTime().Format(time.RFC3339)
	}
}

// TimeInterval is the right-open interval [Start, End). An interval with
// Start == End is an instant: it denotes the single point Start and is
// considered to intersect every interval that contains that point.
type TimeInterval struct {
	Start TimeInstance `json:"start"`
	End   TimeInstance `json:"end"`
}

// MaxTimeInterval covers all representable time.
var MaxTimeInterval = TimeInterval{Start: MinTimeInstance, End: MaxTimeInstance}

// NewTimeInterval returns [start, end), failing when start > end.
func NewTimeInterval(start, end TimeInstance) (TimeInterval, error) {
	if start > end {
		return TimeInterval{}, fmt.Errorf("time interval start %d must not exceed end %d", start, end)
	}
	return TimeInterval{Start: start, End: end}, nil
}

// NewTimeInstant returns the instant interval [t, t].
func NewTimeInstant(t TimeInstance) TimeInterval {
	return TimeInterval{Start: t, End: t}
}

// MustTimeInterval is NewTimeInterval that panics on error, for statically
// known intervals in tests and defaults.
func MustTimeInterval(start, end TimeInstance) TimeInterval {
	t, err := NewTimeInterval(start, end)
	if err != nil {
		panic(err)
	}
	return t
}

// IsInstant reports whether the interval denotes a single point in time.
func (t TimeInterval) IsInstant() bool { return t.Start == t.End }

// ContainsInstant reports whether the point i lies within the interval.
func (t TimeInterval) ContainsInstant(i TimeInstance) bool {
	if t.IsInstant() {
		return i == t.Start
	}
	return i >= t.Start && i < t.End
}

// Contains reports whether other lies entirely within t.
func (t TimeInterval) Contains(other TimeInterval) bool {
	if other.IsInstant() {
		return t.ContainsInstant(other.Start)
	}
	return other.Start >= t.Start && other.End <= t.End
}

// Intersects reports whether the two intervals share at least one instant.
func (t TimeInterval) Intersects(other TimeInterval) bool {
	_, ok := t.Intersection(other)
	return ok
}

// Intersection returns the common part of the two intervals, if any.
func (t TimeInterval) Intersection(other TimeInterval) (TimeInterval, bool) {
	start := t.Start
	if other.Start > start {
		start = other.Start
	}
	end := t.End
	if other.End < end {
		end = other.End
	}
	switch {
	case start < end:
		return TimeInterval{Start: start, End: end}, true
	case start == end && t.ContainsInstant(start) && other.ContainsInstant(start):
		return NewTimeInstant(start), true
	default:
		return TimeInterval{}, false
	}
}

// Union returns the smallest interval containing both inputs.
func (t TimeInterval) Union(other TimeInterval) TimeInterval {
	start := t.Start
	if other.Start < start {
		start = other.Start
	}
	end := t.End
	if other.End > end {
		end = other.End
	}
	return TimeInterval{Start: start, End: end}
}

// Duration returns End - Start in milliseconds.
func (t TimeInterval) Duration() int64 { return int64(t.End) - int64(t.Start) }

func (t TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)", t.Start, t.End)
}

// UnmarshalJSON decodes and validates an interval, rejecting start > end.
func (t *TimeInterval) UnmarshalJSON(data []byte) error {
	type raw TimeInterval
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	interval, err := NewTimeInterval(r.Start, r.End)
	if err != nil {
		return err
	}
	*t = interval
	return nil
}
