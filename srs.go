package tileindex

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// SpatialRef identifies a coordinate reference system. A nil *SpatialRef means the
// layer declares none.
type SpatialRef struct {
	Org  string // Authority, usually "EPSG"
	Code int    // Authority code, 0 when unknown
	Name string // Human-readable name
	WKT  string // Well-Known Text definition, optional
}

// EPSG returns the reference system with the given EPSG code.
func EPSG(code int) *SpatialRef {
	s := &SpatialRef{Org: "EPSG", Code: code}
	if code == 4326 {
		s.Name = "WGS 84"
	}
	return s
}

// Clone returns an owned copy, nil for nil.
func (s *SpatialRef) Clone() *SpatialRef {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *SpatialRef) String() string {
	switch {
	case s == nil:
		return "none"
	case s.Code > 0:
		return s.org() + ":" + strconv.Itoa(s.Code)
	case s.Name != "":
		return s.Name
	case s.WKT != "":
		return "wkt"
	}
	return "undefined"
}

func (s *SpatialRef) org() string {
	if s.Org == "" {
		return "EPSG"
	}
	return strings.ToUpper(s.Org)
}

// IsSame compares two present reference systems: by authority code when both carry
// one, otherwise by WKT, otherwise by name.
func (s *SpatialRef) IsSame(o *SpatialRef) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Code > 0 && o.Code > 0 {
		return s.org() == o.org() && s.Code == o.Code
	}
	if s.WKT != "" && o.WKT != "" {
		return normalizeWKT(s.WKT) == normalizeWKT(o.WKT)
	}
	if s.Name != "" || o.Name != "" {
		return strings.EqualFold(s.Name, o.Name)
	}
	// Both carry nothing identifying.
	return s.Code == o.Code && s.WKT == o.WKT
}

// SameSpatialRef is the equivalence used by the consistency check: two absent
// references are equal, one absent and one present differ.
func SameSpatialRef(a, b *SpatialRef) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a.IsSame(b)
}

func normalizeWKT(wkt string) string {
	return strings.ToUpper(strings.Join(strings.Fields(wkt), ""))
}

// ParseSpatialRef understands "EPSG:n", "urn:ogc:def:crs:EPSG::n" and the CRS84
// URNs used by GeoJSON.
func ParseSpatialRef(s string) (*SpatialRef, error) {
	v := strings.TrimSpace(s)
	upper := strings.ToUpper(v)

	switch {
	case upper == "":
		return nil, errors.New("tileindex: empty spatial reference")
	case strings.HasSuffix(upper, "CRS84"), strings.HasSuffix(upper, "CRS:84"):
		return EPSG(4326), nil
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:"):
		parts := strings.Split(v, ":")
		if len(parts) < 6 {
			break
		}
		code, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			break
		}
		if strings.EqualFold(parts[4], "EPSG") {
			return EPSG(code), nil
		}
		return &SpatialRef{Org: strings.ToUpper(parts[4]), Code: code}, nil
	default:
		org, code, ok := strings.Cut(v, ":")
		if !ok {
			break
		}
		n, err := strconv.Atoi(code)
		if err != nil {
			break
		}
		if strings.EqualFold(org, "EPSG") {
			return EPSG(n), nil
		}
		return &SpatialRef{Org: strings.ToUpper(org), Code: n}, nil
	}

	return nil, errors.Newf("tileindex: unrecognized spatial reference %q", s)
}
