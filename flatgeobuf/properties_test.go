package flatgeobuf

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb/geojson"
)

var testColumns = []column{
	{name: "LOCATION", typ: flattypes.ColumnTypeString},
	{name: "count", typ: flattypes.ColumnTypeInt},
	{name: "big", typ: flattypes.ColumnTypeLong},
	{name: "area", typ: flattypes.ColumnTypeDouble},
	{name: "ok", typ: flattypes.ColumnTypeBool},
	{name: "meta", typ: flattypes.ColumnTypeJson},
}

func TestEncodeProperties_StringLayout(t *testing.T) {
	data := encodeProperties(geojson.Properties{"LOCATION": "a.fgb,0"}, testColumns)

	// uint16 column index, uint32 byte length, then the bytes.
	if len(data) != 2+4+7 {
		t.Fatalf("expected 13 bytes, got %d", len(data))
	}
	if idx := binary.LittleEndian.Uint16(data); idx != 0 {
		t.Errorf("expected column 0, got %d", idx)
	}
	if n := binary.LittleEndian.Uint32(data[2:]); n != 7 {
		t.Errorf("expected length 7, got %d", n)
	}
	if s := string(data[6:]); s != "a.fgb,0" {
		t.Errorf("expected %q, got %q", "a.fgb,0", s)
	}
}

func TestProperties_RoundTrip(t *testing.T) {
	props := geojson.Properties{
		"LOCATION": "/data/tiles/x,y.fgb,3",
		"count":    42,
		"big":      int64(9999999999),
		"area":     12.5,
		"ok":       true,
		"meta":     map[string]interface{}{"k": "v"},
		"ignored":  "no column",
	}

	got := decodeProperties(encodeProperties(props, testColumns), testColumns)

	if got["LOCATION"] != "/data/tiles/x,y.fgb,3" {
		t.Errorf("LOCATION: got %v", got["LOCATION"])
	}
	if got["count"] != int32(42) {
		t.Errorf("count: got %v (%T)", got["count"], got["count"])
	}
	if got["big"] != int64(9999999999) {
		t.Errorf("big: got %v", got["big"])
	}
	if got["area"] != 12.5 {
		t.Errorf("area: got %v", got["area"])
	}
	if got["ok"] != true {
		t.Errorf("ok: got %v", got["ok"])
	}
	if m, ok := got["meta"].(map[string]interface{}); !ok || m["k"] != "v" {
		t.Errorf("meta: got %v", got["meta"])
	}
	if _, ok := got["ignored"]; ok {
		t.Error("property without a column was encoded")
	}
}

func TestEncodeProperties_SkipsNilAndUnconvertible(t *testing.T) {
	data := encodeProperties(geojson.Properties{
		"LOCATION": nil,
		"count":    "not a number",
		"ok":       1,
	}, testColumns)

	if len(data) != 0 {
		t.Errorf("expected no output, got %d bytes", len(data))
	}
}

func TestDecodeProperties_Truncated(t *testing.T) {
	data := encodeProperties(geojson.Properties{"LOCATION": "abc", "count": 7}, testColumns)

	got := decodeProperties(data[:len(data)-1], testColumns)
	if got["LOCATION"] != "abc" {
		t.Errorf("expected the complete value to survive, got %v", got["LOCATION"])
	}
	if _, ok := got["count"]; ok {
		t.Error("truncated value was decoded")
	}
}

func TestDecodeProperties_UnknownColumn(t *testing.T) {
	data := []byte{0x09, 0x00, 0x01}
	if got := decodeProperties(data, testColumns); len(got) != 0 {
		t.Errorf("expected no properties, got %v", got)
	}
}

func TestParseColumnType(t *testing.T) {
	for name, want := range map[string]flattypes.ColumnType{
		"String": flattypes.ColumnTypeString,
		"string": flattypes.ColumnTypeString,
		"Long":   flattypes.ColumnTypeLong,
		"Json":   flattypes.ColumnTypeJson,
	} {
		got, err := parseColumnType(name)
		if err != nil {
			t.Fatalf("parseColumnType(%q) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("%s: expected %v, got %v", name, want, got)
		}
	}

	if _, err := parseColumnType("Geometry"); err == nil {
		t.Error("expected error for unknown column type")
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected int64
		ok       bool
	}{
		{"int", 42, 42, true},
		{"int64", int64(100), 100, true},
		{"float64", 3.9, 3, true},
		{"json.Number", json.Number("17"), 17, true},
		{"string", "hello", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := toInt64(tt.value)
			if ok != tt.ok {
				t.Errorf("expected ok=%v, got ok=%v", tt.ok, ok)
			}
			if ok && result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestToString(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"string", "hello", "hello"},
		{"bytes", []byte("world"), "world"},
		{"int", 42, "42"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := toString(tt.value); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}
