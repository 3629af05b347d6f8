// Package geojson reads and writes tile indexes stored as GeoJSON
// FeatureCollections. A file is one layer. The schema of a source layer is inferred
// from the feature properties; catalogs record their schema in a "fields" foreign
// member so that an empty index still knows its location column.
package geojson

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	orbgeojson "github.com/paulmach/orb/geojson"

	tileindex "github.com/tingold/orb-tileindex"
)

// DriverName is the name the driver registers under.
const DriverName = "GeoJSON"

// Foreign members of the FeatureCollection object.
const (
	memberName   = "name"
	memberFields = "fields"
	memberCRS    = "crs"
)

var extensions = []string{".geojson", ".json"}

// Driver is the GeoJSON tile index driver. It implements tileindex.Driver and
// tileindex.Creator.
type Driver struct{}

// NewDriver returns the GeoJSON driver.
func NewDriver() *Driver { return &Driver{} }

// Name implements tileindex.Driver.
func (*Driver) Name() string { return DriverName }

func hasExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// load reads path as a FeatureCollection. Anything else is reported as not
// recognized.
func load(path string) (*orbgeojson.FeatureCollection, error) {
	if !hasExtension(path) {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "geojson: %s has no GeoJSON extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "geojson: %v", err)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Type != "FeatureCollection" {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "geojson: %s is not a FeatureCollection", path)
	}

	fc, err := orbgeojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrapf(err, "geojson: decoding %s", path)
	}
	return fc, nil
}

// Open implements tileindex.Driver.
func (d *Driver) Open(path string) (tileindex.Dataset, error) {
	fc, err := load(path)
	if err != nil {
		return nil, err
	}
	return &dataset{layer: &layer{path: path, fc: fc}}, nil
}

type dataset struct {
	layer *layer
}

func (d *dataset) LayerCount() int { return 1 }

func (d *dataset) Layer(i int) (tileindex.Layer, error) {
	if i != 0 {
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "geojson: layer %d", i)
	}
	return d.layer, nil
}

func (d *dataset) Close() error { return nil }

type layer struct {
	path string
	fc   *orbgeojson.FeatureCollection
}

func (l *layer) Name() string { return layerName(l.fc, l.path) }

func (l *layer) Schema() []tileindex.FieldDef {
	if fields, ok := declaredFields(l.fc); ok {
		return fields
	}
	return inferSchema(l.fc.Features)
}

func (l *layer) SpatialRef() *tileindex.SpatialRef { return collectionSRS(l.fc) }

func (l *layer) Extent() (orb.Bound, error) {
	return featureExtent(l.fc.Features, l.path)
}

func layerName(fc *orbgeojson.FeatureCollection, path string) string {
	if name, ok := fc.ExtraMembers[memberName].(string); ok && name != "" {
		return name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func featureExtent(features []*orbgeojson.Feature, path string) (orb.Bound, error) {
	geoms := make([]orb.Geometry, 0, len(features))
	for _, f := range features {
		if f != nil && f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	b, ok := tileindex.UnionBounds(geoms)
	if !ok {
		return orb.Bound{}, errors.Wrapf(tileindex.ErrEmptyLayer, "%s", path)
	}
	return b, nil
}

// OpenCatalog implements tileindex.Driver. The collection is held in memory and
// written back on Close when entries were appended.
func (d *Driver) OpenCatalog(path string) (tileindex.CatalogDataset, error) {
	fc, err := load(path)
	if err != nil {
		return nil, err
	}

	fields, ok := declaredFields(fc)
	if !ok {
		fields = inferSchema(fc.Features)
	}
	c := &catalog{
		path:     path,
		name:     layerName(fc, path),
		fields:   fields,
		srs:      collectionSRS(fc),
		features: fc.Features,
		hasLayer: true,
	}
	c.layer.c = c
	c.layer.existing = len(fc.Features)
	return c, nil
}

// CreateCatalog implements tileindex.Creator. The path needs a GeoJSON extension so
// the next run recognizes the file it leaves behind.
func (d *Driver) CreateCatalog(path string) (tileindex.CatalogDataset, error) {
	if !hasExtension(path) {
		return nil, errors.Newf("geojson: %s needs a .geojson or .json extension", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "geojson: creating %s", path)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "geojson: creating %s", path)
	}

	c := &catalog{path: path, reserved: true}
	c.layer.c = c
	return c, nil
}

type catalog struct {
	path     string
	name     string
	fields   []tileindex.FieldDef
	srs      *tileindex.SpatialRef
	features []*orbgeojson.Feature

	hasLayer bool
	dirty    bool
	reserved bool
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
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "geojson: catalog layer %d", i)
	}
	return &c.layer, nil
}

func (c *catalog) CreateLayer(name string, srs *tileindex.SpatialRef, location tileindex.FieldDef) (tileindex.CatalogLayer, error) {
	if c.hasLayer {
		return nil, errors.Newf("geojson: %s already holds a layer", c.path)
	}
	c.name = name
	c.srs = srs.Clone()
	c.fields = []tileindex.FieldDef{location}
	c.hasLayer, c.dirty = true, true
	return &c.layer, nil
}

// Close writes the collection back when it changed. A reserved file that never
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

	fc := orbgeojson.NewFeatureCollection()
	fc.Features = c.features
	fc.ExtraMembers = orbgeojson.Properties{
		memberName:   c.name,
		memberFields: encodeFields(c.fields),
	}
	if crs := crsMember(c.srs); crs != nil {
		fc.ExtraMembers[memberCRS] = crs
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return errors.Wrapf(err, "geojson: encoding %s", c.path)
	}
	err = tileindex.WriteFileAtomic(c.path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "geojson: writing %s", c.path)
	}
	c.dirty, c.reserved = false, false
	return nil
}

type catalogLayer struct {
	c        *catalog
	existing int
	next     int
}

func (l *catalogLayer) Name() string                       { return l.c.name }
func (l *catalogLayer) Schema() []tileindex.FieldDef       { return tileindex.CloneFields(l.c.fields) }
func (l *catalogLayer) SpatialRef() *tileindex.SpatialRef { return l.c.srs.Clone() }
func (l *catalogLayer) FeatureCount() int                  { return len(l.c.features) }

func (l *catalogLayer) Extent() (orb.Bound, error) {
	return featureExtent(l.c.features, l.c.path)
}

func (l *catalogLayer) NextEntry(field string) (tileindex.Entry, error) {
	if l.next >= l.existing {
		return tileindex.Entry{}, io.EOF
	}
	f := l.c.features[l.next]
	l.next++

	var e tileindex.Entry
	if f == nil {
		return e, nil
	}
	e.Geometry = entryPolygon(f.Geometry)
	if i := tileindex.FieldIndex(l.c.fields, field); i >= 0 {
		e.Location = propertyString(f.Properties[l.c.fields[i].Name])
	}
	return e, nil
}

func (l *catalogLayer) Append(field string, e tileindex.Entry) error {
	i := tileindex.FieldIndex(l.c.fields, field)
	if i < 0 {
		return errors.Wrapf(tileindex.ErrNoLocationField, "geojson: %q in %s", field, l.c.path)
	}

	f := orbgeojson.NewFeature(e.Geometry)
	f.Properties[l.c.fields[i].Name] = e.Location
	l.c.features = append(l.c.features, f)
	l.c.dirty = true
	return nil
}

// entryPolygon returns the footprint of a catalog feature. Geometries other than
// polygons are replaced by their bounding rectangle.
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

func propertyString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
