package flatgeobuf

import (
	"strings"

	"github.com/cockroachdb/errors"
	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Reader provides read access to a FlatGeobuf file.
type Reader struct {
	fgb *flatgeobuf.FlatGeoBuf
}

// NewReader creates a reader from a file path.
// The file is memory-mapped for efficient access.
func NewReader(path string) (*Reader, error) {
	fgb, err := flatgeobuf.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "flatgeobuf: opening %s", path)
	}

	return &Reader{fgb: fgb}, nil
}

// NewReaderFromData creates a reader from byte data.
func NewReaderFromData(data []byte) (*Reader, error) {
	if !hasMagic(data) {
		return nil, ErrInvalidData
	}
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidData)
	}

	return &Reader{fgb: fgb}, nil
}

// Header returns metadata about the FlatGeobuf file.
func (r *Reader) Header() *Header {
	h := r.fgb.Header()
	if h == nil {
		return nil
	}

	header := &Header{
		Name:          string(h.Name()),
		Description:   string(h.Description()),
		GeometryType:  flattypes.EnumNamesGeometryType[h.GeometryType()],
		FeaturesCount: h.FeaturesCount(),
		HasIndex:      h.IndexNodeSize() > 0,
	}

	if h.EnvelopeLength() >= 4 {
		header.Envelope = []float64{h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3)}
	}

	var crs flattypes.Crs
	if h.Crs(&crs) != nil {
		header.CRS = &CRS{
			Org:         string(crs.Org()),
			Code:        int(crs.Code()),
			Name:        string(crs.Name()),
			Description: string(crs.Description()),
			WKT:         string(crs.Wkt()),
		}
		// Older writers, this package included, kept the WKT in the description.
		if header.CRS.WKT == "" && looksLikeWKT(header.CRS.Description) {
			header.CRS.WKT = header.CRS.Description
		}
	}

	header.Columns = make([]ColumnInfo, 0, h.ColumnsLength())
	for i := 0; i < h.ColumnsLength(); i++ {
		var col flattypes.Column
		if !h.Columns(&col, i) {
			continue
		}
		header.Columns = append(header.Columns, ColumnInfo{
			Name:        string(col.Name()),
			Type:        flattypes.EnumNamesColumnType[col.Type()],
			Title:       string(col.Title()),
			Description: string(col.Description()),
			Width:       declared(col.Width()),
			Precision:   declared(col.Precision()),
			Scale:       declared(col.Scale()),
			Nullable:    col.Nullable(),
		})
	}

	return header
}

// ReadAll reads every feature as a FeatureCollection. Files written without a
// spatial index can only be read when they hold no features.
func (r *Reader) ReadAll() (*geojson.FeatureCollection, error) {
	h := r.fgb.Header()
	if h.FeaturesCount() == 0 {
		return geojson.NewFeatureCollection(), nil
	}
	if h.IndexNodeSize() == 0 || h.EnvelopeLength() < 4 {
		return nil, ErrNoIndex
	}

	return r.search(h, h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3))
}

// Search performs a spatial query using the built-in index.
// Returns features whose bounding boxes intersect the query bounds.
func (r *Reader) Search(bounds orb.Bound) (*geojson.FeatureCollection, error) {
	h := r.fgb.Header()
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}

	return r.search(h, bounds.Min[0], bounds.Min[1], bounds.Max[0], bounds.Max[1])
}

func (r *Reader) search(h *flattypes.Header, minX, minY, maxX, maxY float64) (*geojson.FeatureCollection, error) {
	features, err := r.fgb.Search(minX, minY, maxX, maxY)
	if err != nil {
		return nil, errors.Wrap(err, "flatgeobuf: index search")
	}

	cols := headerColumns(h)
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if feature := convertFeature(f, cols); feature != nil {
			fc.Append(feature)
		}
	}
	return fc, nil
}

// Close releases the reader. The underlying mapping is reclaimed by the
// library's finalizer.
func (r *Reader) Close() error {
	r.fgb = nil
	return nil
}

// convertFeature converts a FlatGeobuf feature to a geojson.Feature. Features
// without a readable geometry are dropped.
func convertFeature(f *flattypes.Feature, cols []column) *geojson.Feature {
	if f == nil {
		return nil
	}

	var g flattypes.Geometry
	geom := geometryFromFGB(f.Geometry(&g))
	if geom == nil {
		return nil
	}

	feature := geojson.NewFeature(geom)
	if f.PropertiesLength() > 0 {
		feature.Properties = decodeProperties(f.PropertiesBytes(), cols)
	}
	return feature
}

// declared maps the schema default of -1 for unset widths to zero.
func declared(v int32) int {
	if v < 0 {
		return 0
	}
	return int(v)
}

func looksLikeWKT(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, prefix := range []string{"GEOGCS[", "PROJCS[", "GEOGCRS[", "PROJCRS[", "COMPD_CS[", "COMPOUNDCRS["} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
