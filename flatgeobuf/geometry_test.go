package flatgeobuf

import (
	"bytes"
	"testing"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestGeometryType(t *testing.T) {
	tests := []struct {
		name     string
		geom     orb.Geometry
		expected flattypes.GeometryType
	}{
		{"Point", orb.Point{1, 2}, flattypes.GeometryTypePoint},
		{"MultiPoint", orb.MultiPoint{{1, 2}, {3, 4}}, flattypes.GeometryTypeMultiPoint},
		{"LineString", orb.LineString{{0, 0}, {1, 1}}, flattypes.GeometryTypeLineString},
		{"MultiLineString", orb.MultiLineString{{{0, 0}, {1, 1}}}, flattypes.GeometryTypeMultiLineString},
		{"Ring", orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}, flattypes.GeometryTypePolygon},
		{"Polygon", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, flattypes.GeometryTypePolygon},
		{"MultiPolygon", orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}, flattypes.GeometryTypeMultiPolygon},
		{"Collection", orb.Collection{orb.Point{1, 2}}, flattypes.GeometryTypeGeometryCollection},
		{"Bound", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}, flattypes.GeometryTypePolygon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := geometryType(tt.geom); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCommonGeometryType(t *testing.T) {
	same := []orb.Geometry{orb.Point{1, 2}, nil, orb.Point{3, 4}}
	if got := commonGeometryType(same); got != flattypes.GeometryTypePoint {
		t.Errorf("expected Point, got %v", got)
	}

	mixed := []orb.Geometry{orb.Point{1, 2}, orb.LineString{{0, 0}, {1, 1}}}
	if got := commonGeometryType(mixed); got != flattypes.GeometryTypeUnknown {
		t.Errorf("expected Unknown for mixed input, got %v", got)
	}

	if got := commonGeometryType(nil); got != flattypes.GeometryTypeUnknown {
		t.Errorf("expected Unknown for no geometry, got %v", got)
	}
}

func TestGeometryToFGB_Nil(t *testing.T) {
	builder := flatbuffers.NewBuilder(256)

	if geom := geometryToFGB(nil, builder); geom != nil {
		t.Error("expected nil geometry for nil input")
	}
}

func TestFlattenParts(t *testing.T) {
	xy, ends := flattenParts([][]orb.Point{
		{{0, 0}, {10, 0}, {10, 10}, {0, 0}},
		{{2, 2}, {3, 2}, {2, 2}},
	})

	expectedXY := []float64{0, 0, 10, 0, 10, 10, 0, 0, 2, 2, 3, 2, 2, 2}
	if len(xy) != len(expectedXY) {
		t.Fatalf("expected %d coordinates, got %d", len(expectedXY), len(xy))
	}
	for i := range xy {
		if xy[i] != expectedXY[i] {
			t.Errorf("xy[%d]: expected %f, got %f", i, expectedXY[i], xy[i])
		}
	}

	if len(ends) != 2 || ends[0] != 4 || ends[1] != 7 {
		t.Errorf("expected ends [4 7], got %v", ends)
	}
}

// roundTrip writes one feature with an index and reads it back.
func roundTrip(t *testing.T, geom orb.Geometry) orb.Geometry {
	t.Helper()

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(geom))

	var buf bytes.Buffer
	if err := WriteFeatures(&buf, fc, nil); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}

	r, err := NewReaderFromData(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReaderFromData failed: %v", err)
	}
	defer func() { _ = r.Close() }()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got.Features))
	}
	return got.Features[0].Geometry
}

func TestGeometryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		geom orb.Geometry
	}{
		{"Point", orb.Point{1.5, 2.5}},
		{"MultiPoint", orb.MultiPoint{{1, 2}, {3, 4}}},
		{"LineString", orb.LineString{{0, 0}, {1, 1}, {2, 2}}},
		{"MultiLineString", orb.MultiLineString{{{0, 0}, {1, 1}}, {{5, 5}, {6, 7}, {8, 8}}}},
		{"Polygon with hole", orb.Polygon{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
			{{2, 2}, {8, 2}, {8, 8}, {2, 8}, {2, 2}},
		}},
		{"MultiPolygon", orb.MultiPolygon{
			{{{0, 0}, {5, 0}, {5, 5}, {0, 5}, {0, 0}}},
			{{{10, 10}, {15, 10}, {15, 15}, {10, 15}, {10, 10}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.geom)
			if !orb.Equal(got, tt.geom) {
				t.Errorf("expected %v, got %v", tt.geom, got)
			}
		})
	}
}

func TestGeometryRoundTrip_Bound(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 5}}

	got, ok := roundTrip(t, b).(orb.Polygon)
	if !ok {
		t.Fatalf("expected a polygon, got %T", got)
	}
	if got.Bound() != b {
		t.Errorf("expected bound %v, got %v", b, got.Bound())
	}
}
