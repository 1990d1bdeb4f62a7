package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SpatialReferenceAuthority is the naming authority of a spatial reference
// system definition.
type SpatialReferenceAuthority string

const (
	AuthorityEpsg    SpatialReferenceAuthority = "EPSG"
	AuthoritySrOrg   SpatialReferenceAuthority = "SR-ORG"
	AuthorityIau2000 SpatialReferenceAuthority = "IAU2000"
	AuthorityEsri    SpatialReferenceAuthority = "ESRI"
)

// SpatialReference identifies a coordinate reference system by authority and
// code, e.g. "EPSG:4326". Two references are the same system iff they are
// equal; the engine performs no fuzzy CRS matching.
type SpatialReference struct {
	authority SpatialReferenceAuthority
	code      uint32
}

// Well-known references used throughout the engine and its tests.
var (
	SpatialReferenceEpsg4326 = SpatialReference{authority: AuthorityEpsg, code: 4326}
	SpatialReferenceEpsg3857 = SpatialReference{authority: AuthorityEpsg, code: 3857}
)

// NewSpatialReference returns the reference authority:code.
func NewSpatialReference(authority SpatialReferenceAuthority, code uint32) (SpatialReference, error) {
	switch authority {
	case AuthorityEpsg, AuthoritySrOrg, AuthorityIau2000, AuthorityEsri:
	default:
		return SpatialReference{}, fmt.Errorf("unknown spatial reference authority %q", authority)
	}
	if code == 0 {
		return SpatialReference{}, fmt.Errorf("spatial reference code must be positive")
	}
	return SpatialReference{authority: authority, code: code}, nil
}

// ParseSpatialReference parses the "AUTHORITY:CODE" form.
func ParseSpatialReference(s string) (SpatialReference, error) {
	authority, codeStr, found := strings.Cut(s, ":")
	if !found {
		return SpatialReference{}, fmt.Errorf("invalid spatial reference %q, expected AUTHORITY:CODE", s)
	}
	code, err := strconv.ParseUint(codeStr, 10, 32)
	if err != nil {
		return SpatialReference{}, fmt.Errorf("invalid spatial reference code in %q: %w", s, err)
	}
	return NewSpatialReference(SpatialReferenceAuthority(authority), uint32(code))
}

// Authority returns the naming authority.
func (s SpatialReference) Authority() SpatialReferenceAuthority { return s.authority }

// Code returns the numeric code within the authority.
func (s SpatialReference) Code() uint32 { return s.code }

// IsZero reports whether s is the zero value, i.e. no reference at all.
func (s SpatialReference) IsZero() bool { return s.authority == "" && s.code == 0 }

func (s SpatialReference) String() string {
	return fmt.Sprintf("%s:%d", s.authority, s.code)
}

// MarshalJSON encodes the reference in its "AUTHORITY:CODE" string form.
func (s SpatialReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the "AUTHORITY:CODE" string form.
func (s *SpatialReference) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	ref, err := ParseSpatialReference(str)
	if err != nil {
		return err
	}
	*s = ref
	return nil
}

// AreaOfUse returns the valid coordinate range of the reference system, used
// to clip reprojection targets. Only the systems the engine can project
// between have a known area; others return ok == false.
func (s SpatialReference) AreaOfUse() (BoundingBox2D, bool) {
	switch s {
	case SpatialReferenceEpsg4326:
		return MustBoundingBox2D(-180, -90, 180, 90), true
	case SpatialReferenceEpsg3857:
		// Web Mercator cuts off at ±85.06° latitude, giving a square extent.
		return MustBoundingBox2D(
			-20037508.342789244, -20037508.342789244,
			20037508.342789244, 20037508.342789244,
		), true
	default:
		return BoundingBox2D{}, false
	}
}
