package flatgeobuf

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	tileindex "github.com/tingold/orb-tileindex"
)

// DriverName is the name the driver registers under.
const DriverName = "FlatGeobuf"

// magic is the file signature without the trailing patch version byte.
var magic = []byte{0x66, 0x67, 0x62, 0x03, 0x66, 0x67, 0x62}

func hasMagic(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:len(magic)], magic)
}

// Driver is the FlatGeobuf tile index driver. It implements tileindex.Driver and
// tileindex.Creator.
type Driver struct{}

// NewDriver returns the FlatGeobuf driver.
func NewDriver() *Driver { return &Driver{} }

// Name implements tileindex.Driver.
func (*Driver) Name() string { return DriverName }

// sniff reports whether the file at path starts with the FlatGeobuf signature.
func sniff(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(tileindex.ErrNotRecognized, "flatgeobuf: %v", err)
	}
	defer f.Close()

	head := make([]byte, 8)
	if _, err := io.ReadFull(f, head); err != nil || !hasMagic(head) {
		return errors.Wrapf(tileindex.ErrNotRecognized, "flatgeobuf: %s is not a FlatGeobuf file", path)
	}
	return nil
}

// Open implements tileindex.Driver. The dataset has exactly one layer.
func (d *Driver) Open(path string) (tileindex.Dataset, error) {
	if err := sniff(path); err != nil {
		return nil, err
	}

	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	h := r.Header()
	if h == nil {
		_ = r.Close()
		return nil, errors.Wrapf(ErrInvalidData, "%s has no header", path)
	}

	return &dataset{reader: r, layer: &layer{path: path, header: h}}, nil
}

type dataset struct {
	reader *Reader
	layer  *layer
}

func (d *dataset) LayerCount() int { return 1 }

func (d *dataset) Layer(i int) (tileindex.Layer, error) {
	if i != 0 {
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "flatgeobuf: layer %d", i)
	}
	return d.layer, nil
}

func (d *dataset) Close() error { return d.reader.Close() }

// layer exposes the header of a FlatGeobuf file as a source layer.
type layer struct {
	path   string
	header *Header
}

func (l *layer) Name() string {
	return layerName(l.header.Name, l.path)
}

func (l *layer) Schema() []tileindex.FieldDef {
	return fieldDefs(l.header.Columns)
}

func (l *layer) SpatialRef() *tileindex.SpatialRef {
	return spatialRef(l.header.CRS)
}

func (l *layer) Extent() (orb.Bound, error) {
	if l.header.FeaturesCount == 0 {
		return orb.Bound{}, errors.Wrapf(tileindex.ErrEmptyLayer, "%s", l.path)
	}
	if len(l.header.Envelope) < 4 {
		return orb.Bound{}, errors.Wrapf(tileindex.ErrNoExtent, "%s has no envelope", l.path)
	}
	env := l.header.Envelope
	return orb.Bound{Min: orb.Point{env[0], env[1]}, Max: orb.Point{env[2], env[3]}}, nil
}

// layerName falls back to the file name without extension.
func layerName(name, path string) string {
	if name != "" {
		return name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OpenCatalog implements tileindex.Driver. The whole file is read up front and
// rewritten on Close when entries were appended.
func (d *Driver) OpenCatalog(path string) (tileindex.CatalogDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "flatgeobuf: %v", err)
	}
	if !hasMagic(data) {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "flatgeobuf: %s is not a FlatGeobuf file", path)
	}

	r, err := NewReaderFromData(data)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h := r.Header()
	if h == nil {
		return nil, errors.Wrapf(ErrInvalidData, "%s has no header", path)
	}
	fc, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	c := &catalog{
		path:     path,
		name:     layerName(h.Name, path),
		columns:  h.Columns,
		crs:      h.CRS,
		features: fc.Features,
		hasLayer: true,
	}
	c.layer.c = c
	c.layer.existing = len(fc.Features)
	return c, nil
}

// CreateCatalog implements tileindex.Creator. The file is reserved immediately so
// an unwritable path fails before any source is read.
func (d *Driver) CreateCatalog(path string) (tileindex.CatalogDataset, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "flatgeobuf: creating %s", path)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "flatgeobuf: creating %s", path)
	}

	c := &catalog{path: path, reserved: true}
	c.layer.c = c
	return c, nil
}

// catalog is a FlatGeobuf tile index held in memory.
type catalog struct {
	path     string
	name     string
	columns  []ColumnInfo
	crs      *CRS
	features []*geojson.Feature

	hasLayer bool
	dirty    bool
	reserved bool // created by CreateCatalog and not yet written
	layer    catalogLayer
}

func (c *catalog) LayerCount() int {
	if c.hasLayer {
		return 1
	}
	return 0
}

func (c *catalog) CatalogLayer(i int) (tileindex.CatalogLayer, error) {
	if i != 0 || !c.hasLayer {
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "flatgeobuf: catalog layer %d", i)
	}
	return &c.layer, nil
}

func (c *catalog) CreateLayer(name string, srs *tileindex.SpatialRef, location tileindex.FieldDef) (tileindex.CatalogLayer, error) {
	if c.hasLayer {
		return nil, errors.Newf("flatgeobuf: %s already holds a layer", c.path)
	}
	c.name = name
	c.crs = crsFromSpatialRef(srs)
	c.columns = []ColumnInfo{columnInfo(location)}
	c.hasLayer, c.dirty = true, true
	return &c.layer, nil
}

// Close writes the catalog back when it changed. A reserved file that never
// received a layer is removed again.
func (c *catalog) Close() error {
	if !c.hasLayer {
		if c.reserved {
			return os.Remove(c.path)
		}
		return nil
	}
	if !c.dirty {
		return nil
	}

	fc := geojson.NewFeatureCollection()
	fc.Features = c.features
	opts := &Options{
		Name:         c.name,
		IncludeIndex: true,
		CRS:          c.crs,
		Columns:      c.columns,
	}

	err := tileindex.WriteFileAtomic(c.path, 0o644, func(w io.Writer) error {
		return WriteFeatures(w, fc, opts)
	})
	if err != nil {
		return errors.Wrapf(err, "flatgeobuf: writing %s", c.path)
	}
	c.dirty, c.reserved = false, false
	return nil
}

type catalogLayer struct {
	c        *catalog
	existing int
	next     int
}

func (l *catalogLayer) Name() string                      { return l.c.name }
func (l *catalogLayer) Schema() []tileindex.FieldDef      { return fieldDefs(l.c.columns) }
func (l *catalogLayer) SpatialRef() *tileindex.SpatialRef { return spatialRef(l.c.crs) }
func (l *catalogLayer) FeatureCount() int                 { return len(l.c.features) }

func (l *catalogLayer) Extent() (orb.Bound, error) {
	geoms := make([]orb.Geometry, 0, len(l.c.features))
	for _, f := range l.c.features {
		geoms = append(geoms, f.Geometry)
	}
	b, ok := tileindex.UnionBounds(geoms)
	if !ok {
		return orb.Bound{}, tileindex.ErrEmptyLayer
	}
	return b, nil
}

func (l *catalogLayer) NextEntry(field string) (tileindex.Entry, error) {
	if l.next >= l.existing {
		return tileindex.Entry{}, io.EOF
	}
	f := l.c.features[l.next]
	l.next++

	e := tileindex.Entry{Geometry: entryPolygon(f.Geometry)}
	if i := tileindex.FieldIndex(l.Schema(), field); i >= 0 {
		if v, ok := f.Properties[l.c.columns[i].Name]; ok && v != nil {
			e.Location = toString(v)
		}
	}
	return e, nil
}

func (l *catalogLayer) Append(field string, e tileindex.Entry) error {
	i := tileindex.FieldIndex(l.Schema(), field)
	if i < 0 {
		return errors.Wrapf(tileindex.ErrNoLocationField, "flatgeobuf: %q in %s", field, l.c.path)
	}

	f := geojson.NewFeature(e.Geometry)
	f.Properties[l.c.columns[i].Name] = e.Location
	l.c.features = append(l.c.features, f)
	l.c.dirty = true
	return nil
}

// entryPolygon returns the stored footprint of a catalog feature. Non-polygon
// geometries are replaced by their bounding rectangle.
func entryPolygon(g orb.Geometry) orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return v
	case nil:
		return nil
	default:
		return tileindex.ExtentPolygon(v.Bound())
	}
}
