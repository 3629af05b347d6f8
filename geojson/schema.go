package geojson

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	orbgeojson "github.com/paulmach/orb/geojson"

	tileindex "github.com/tingold/orb-tileindex"
)

// field is the JSON shape of one entry of the "fields" member.
type field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Width     int    `json:"width,omitempty"`
	Precision int    `json:"precision,omitempty"`
}

func encodeFields(fields []tileindex.FieldDef) []field {
	out := make([]field, len(fields))
	for i, f := range fields {
		out[i] = field{Name: f.Name, Type: f.Type.String(), Width: f.Width, Precision: f.Precision}
	}
	return out
}

// declaredFields reads the "fields" member written by catalog Close. ok is false
// when the collection carries none.
func declaredFields(fc *orbgeojson.FeatureCollection) ([]tileindex.FieldDef, bool) {
	raw, present := fc.ExtraMembers[memberFields]
	if !present {
		return nil, false
	}
	// The member comes back as generic JSON values; a second pass types it.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var fields []field
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, false
	}

	out := make([]tileindex.FieldDef, 0, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			continue
		}
		out = append(out, tileindex.FieldDef{
			Name:      f.Name,
			Type:      parseFieldType(f.Type),
			Width:     f.Width,
			Precision: f.Precision,
		})
	}
	return out, true
}

func parseFieldType(name string) tileindex.FieldType {
	for t := tileindex.FieldString; t <= tileindex.FieldJSON; t++ {
		if strings.EqualFold(t.String(), name) {
			return t
		}
	}
	return tileindex.FieldString
}

// inferSchema derives a schema from the properties of every feature. Field names
// are sorted. Integers widen to Integer64 and then Real as larger or fractional
// values show up; a field holding values of unrelated kinds becomes a String.
// Null values say nothing about the type, so a field that is only ever null is a
// String as well.
func inferSchema(features []*orbgeojson.Feature) []tileindex.FieldDef {
	kinds := map[string]tileindex.FieldType{}
	seen := map[string]bool{}

	for _, f := range features {
		if f == nil {
			continue
		}
		for name, v := range f.Properties {
			t, ok := valueType(v)
			if !ok {
				if _, known := kinds[name]; !known {
					kinds[name] = tileindex.FieldString
				}
				continue
			}
			if !seen[name] {
				kinds[name], seen[name] = t, true
				continue
			}
			kinds[name] = mergeTypes(kinds[name], t)
		}
	}

	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]tileindex.FieldDef, len(names))
	for i, name := range names {
		out[i] = tileindex.FieldDef{Name: name, Type: kinds[name]}
	}
	return out
}

// valueType classifies one decoded JSON value. ok is false for null.
func valueType(v interface{}) (tileindex.FieldType, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case bool:
		return tileindex.FieldBoolean, true
	case string:
		return tileindex.FieldString, true
	case float64:
		switch {
		case val != math.Trunc(val) || math.IsInf(val, 0):
			return tileindex.FieldReal, true
		case val >= math.MinInt32 && val <= math.MaxInt32:
			return tileindex.FieldInteger, true
		case val >= -(1<<63) && val < 1<<63:
			return tileindex.FieldInteger64, true
		default:
			return tileindex.FieldReal, true
		}
	case int, int32:
		return tileindex.FieldInteger, true
	case int64:
		return tileindex.FieldInteger64, true
	case map[string]interface{}, []interface{}:
		return tileindex.FieldJSON, true
	default:
		return tileindex.FieldString, true
	}
}

func numeric(t tileindex.FieldType) bool {
	return t == tileindex.FieldInteger || t == tileindex.FieldInteger64 || t == tileindex.FieldReal
}

func mergeTypes(a, b tileindex.FieldType) tileindex.FieldType {
	switch {
	case a == b:
		return a
	case numeric(a) && numeric(b):
		// Integer < Integer64 < Real in declaration order.
		if a > b {
			return a
		}
		return b
	default:
		return tileindex.FieldString
	}
}

// collectionSRS reads the legacy "crs" member. Without one the collection is in
// WGS 84, as RFC 7946 requires.
func collectionSRS(fc *orbgeojson.FeatureCollection) *tileindex.SpatialRef {
	member, ok := fc.ExtraMembers[memberCRS].(map[string]interface{})
	if !ok {
		return tileindex.EPSG(4326)
	}
	props, _ := member["properties"].(map[string]interface{})
	name, _ := props["name"].(string)
	if name == "" {
		return tileindex.EPSG(4326)
	}
	srs, err := tileindex.ParseSpatialRef(name)
	if err != nil {
		return &tileindex.SpatialRef{Name: name}
	}
	return srs
}

// crsMember encodes srs as a legacy named CRS. WGS 84 and references without an
// authority code are left implicit.
func crsMember(srs *tileindex.SpatialRef) map[string]interface{} {
	if srs == nil || srs.Code <= 0 || srs.IsSame(tileindex.EPSG(4326)) {
		return nil
	}
	org := srs.Org
	if org == "" {
		org = "EPSG"
	}
	return map[string]interface{}{
		"type": "name",
		"properties": map[string]interface{}{
			"name": "urn:ogc:def:crs:" + strings.ToUpper(org) + "::" + strconv.Itoa(srs.Code),
		},
	}
}
