// Package memory provides an in-process driver. Datasets live in a Store keyed by
// path, which makes it the driver of choice for tests and for embedding the tile
// index builder in programs that already hold their layers in memory.
package memory

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	tileindex "github.com/tingold/orb-tileindex"
)

// DriverName is the name the driver registers under.
const DriverName = "Memory"

// Layer is an in-memory source layer.
type Layer struct {
	LayerName string
	Fields    []tileindex.FieldDef
	SRS       *tileindex.SpatialRef
	Bounds    orb.Bound

	// ExtentErr, when set, is returned by Extent instead of Bounds.
	ExtentErr error

	mu      sync.Mutex
	touched int
}

// Name implements tileindex.Layer.
func (l *Layer) Name() string { return l.LayerName }

// Schema implements tileindex.Layer.
func (l *Layer) Schema() []tileindex.FieldDef {
	l.touch()
	return tileindex.CloneFields(l.Fields)
}

// SpatialRef implements tileindex.Layer.
func (l *Layer) SpatialRef() *tileindex.SpatialRef {
	l.touch()
	return l.SRS.Clone()
}

// Extent implements tileindex.Layer.
func (l *Layer) Extent() (orb.Bound, error) {
	l.touch()
	if l.ExtentErr != nil {
		return orb.Bound{}, l.ExtentErr
	}
	return l.Bounds, nil
}

// Touched returns how many times the layer's schema, spatial reference or extent
// were read.
func (l *Layer) Touched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.touched
}

func (l *Layer) touch() {
	l.mu.Lock()
	l.touched++
	l.mu.Unlock()
}

// Store holds datasets and catalogs by path and implements tileindex.Driver and
// tileindex.Creator.
type Store struct {
	mu       sync.Mutex
	datasets map[string][]*Layer
	catalogs map[string]*Catalog
	opened   map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		datasets: make(map[string][]*Layer),
		catalogs: make(map[string]*Catalog),
		opened:   make(map[string]int),
	}
}

// Name implements tileindex.Driver.
func (s *Store) Name() string { return DriverName }

// AddDataset registers a source dataset.
func (s *Store) AddDataset(path string, layers ...*Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[path] = layers
}

// Catalog returns the catalog stored at path, or nil.
func (s *Store) Catalog(path string) *Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalogs[path]
}

// AddCatalog registers an existing catalog.
func (s *Store) AddCatalog(path string, c *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogs[path] = c
}

// Opened returns how many times the dataset at path was opened.
func (s *Store) Opened(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[path]
}

// Open implements tileindex.Driver.
func (s *Store) Open(path string) (tileindex.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	layers, ok := s.datasets[path]
	if !ok {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "memory: no dataset %s", path)
	}
	s.opened[path]++
	return &dataset{layers: layers}, nil
}

// OpenCatalog implements tileindex.Driver.
func (s *Store) OpenCatalog(path string) (tileindex.CatalogDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.catalogs[path]
	if !ok {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "memory: no catalog %s", path)
	}
	return c.open(), nil
}

// CreateCatalog implements tileindex.Creator.
func (s *Store) CreateCatalog(path string) (tileindex.CatalogDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalogs[path]; ok {
		return nil, errors.Newf("memory: catalog %s already exists", path)
	}
	c := &Catalog{}
	s.catalogs[path] = c
	return c.open(), nil
}

type dataset struct {
	layers []*Layer
}

func (d *dataset) LayerCount() int { return len(d.layers) }

func (d *dataset) Layer(i int) (tileindex.Layer, error) {
	if i < 0 || i >= len(d.layers) {
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "memory: layer %d", i)
	}
	return d.layers[i], nil
}

func (d *dataset) Close() error { return nil }

// Catalog is an in-memory tile index. Entries are kept in append order.
type Catalog struct {
	LayerName string
	Fields    []tileindex.FieldDef
	SRS       *tileindex.SpatialRef
	Entries   []tileindex.Entry

	// HasLayer reports whether the catalog holds its index layer. A catalog built
	// by hand with HasLayer false behaves like a dataset without layers.
	HasLayer bool

	// AppendErr, when set, is returned by Append once FailAppendAfter entries
	// were appended in the current session.
	AppendErr       error
	FailAppendAfter int

	// Closed counts Close calls.
	Closed int
}

// NewCatalog returns a catalog holding one index layer with the given location
// field and entries.
func NewCatalog(field string, srs *tileindex.SpatialRef, entries ...tileindex.Entry) *Catalog {
	return &Catalog{
		LayerName: tileindex.DefaultLayerName,
		Fields:    []tileindex.FieldDef{tileindex.LocationField(field)},
		SRS:       srs,
		Entries:   entries,
		HasLayer:  true,
	}
}

// Locations returns the location of every entry, in order.
func (c *Catalog) Locations() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Location
	}
	return out
}

func (c *Catalog) open() *catalogDataset {
	return &catalogDataset{c: c}
}

type catalogDataset struct {
	c     *Catalog
	layer *catalogLayer
}

func (d *catalogDataset) LayerCount() int {
	if d.c.HasLayer {
		return 1
	}
	return 0
}

func (d *catalogDataset) CatalogLayer(i int) (tileindex.CatalogLayer, error) {
	if i != 0 || !d.c.HasLayer {
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "memory: catalog layer %d", i)
	}
	if d.layer == nil {
		d.layer = &catalogLayer{c: d.c, existing: len(d.c.Entries)}
	}
	return d.layer, nil
}

func (d *catalogDataset) CreateLayer(name string, srs *tileindex.SpatialRef, location tileindex.FieldDef) (tileindex.CatalogLayer, error) {
	if d.c.HasLayer {
		return nil, errors.New("memory: catalog already has a layer")
	}
	d.c.LayerName = name
	d.c.SRS = srs.Clone()
	d.c.Fields = []tileindex.FieldDef{location}
	d.c.HasLayer = true
	return d.CatalogLayer(0)
}

func (d *catalogDataset) Close() error {
	d.c.Closed++
	return nil
}

type catalogLayer struct {
	c        *Catalog
	existing int
	next     int
	appended int
}

func (l *catalogLayer) Name() string                       { return l.c.LayerName }
func (l *catalogLayer) Schema() []tileindex.FieldDef       { return tileindex.CloneFields(l.c.Fields) }
func (l *catalogLayer) SpatialRef() *tileindex.SpatialRef { return l.c.SRS.Clone() }
func (l *catalogLayer) FeatureCount() int                  { return len(l.c.Entries) }

func (l *catalogLayer) Extent() (orb.Bound, error) {
	geoms := make([]orb.Geometry, 0, len(l.c.Entries))
	for _, e := range l.c.Entries {
		geoms = append(geoms, e.Geometry)
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
	e := l.c.Entries[l.next]
	l.next++
	return e, nil
}

func (l *catalogLayer) Append(field string, e tileindex.Entry) error {
	if l.c.AppendErr != nil && l.appended >= l.c.FailAppendAfter {
		return l.c.AppendErr
	}
	l.c.Entries = append(l.c.Entries, e)
	l.appended++
	return nil
}
