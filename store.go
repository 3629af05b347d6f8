package tileindex

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
)

// Layer is a read handle on one layer of a dataset.
type Layer interface {
	Name() string
	Schema() []FieldDef
	SpatialRef() *SpatialRef
	Extent() (orb.Bound, error)
}

// Dataset is an open source dataset. Layers are only valid until Close.
type Dataset interface {
	LayerCount() int
	Layer(i int) (Layer, error)
	Close() error
}

// Entry is one catalog record.
type Entry struct {
	Location string
	Geometry orb.Polygon
}

// CatalogLayer is a catalog layer opened for update.
type CatalogLayer interface {
	Layer

	// FeatureCount returns the number of entries present when the layer was opened
	// plus those appended since.
	FeatureCount() int

	// NextEntry returns pre-existing entries in order, reading the location from the
	// named field, and io.EOF after the last one.
	NextEntry(field string) (Entry, error)

	// Append adds a record to the end of the layer, writing the location into the
	// named field.
	Append(field string, e Entry) error
}

// CatalogDataset is a catalog opened for update or freshly created. Close flushes
// pending writes.
type CatalogDataset interface {
	LayerCount() int
	CatalogLayer(i int) (CatalogLayer, error)
	CreateLayer(name string, srs *SpatialRef, location FieldDef) (CatalogLayer, error)
	Close() error
}

// Driver reads one vector format. Open and OpenCatalog return an error wrapping
// ErrNotRecognized when the path is not in the driver's format.
type Driver interface {
	Name() string
	Open(path string) (Dataset, error)
	OpenCatalog(path string) (CatalogDataset, error)
}

// Creator is implemented by drivers able to create new catalogs.
type Creator interface {
	CreateCatalog(path string) (CatalogDataset, error)
}

// Registry is the set of drivers available to a run. Drivers are probed in
// registration order.
type Registry struct {
	drivers []Driver
}

// NewRegistry returns a registry holding the given drivers.
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{}
	for _, d := range drivers {
		r.Register(d)
	}
	return r
}

// Register adds a driver, replacing any driver with the same name.
func (r *Registry) Register(d Driver) {
	for i, existing := range r.drivers {
		if strings.EqualFold(existing.Name(), d.Name()) {
			r.drivers[i] = d
			return
		}
	}
	r.drivers = append(r.drivers, d)
}

// Driver returns the driver with the given name, ignoring case, or nil.
func (r *Registry) Driver(name string) Driver {
	for _, d := range r.drivers {
		if strings.EqualFold(d.Name(), name) {
			return d
		}
	}
	return nil
}

// DriverNames returns the registered driver names, sorted.
func (r *Registry) DriverNames() []string {
	names := make([]string, 0, len(r.drivers))
	for _, d := range r.drivers {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	return names
}

// Open opens a source dataset read-only with the first driver that recognizes it.
func (r *Registry) Open(path string) (Dataset, error) {
	for _, d := range r.drivers {
		ds, err := d.Open(path)
		if err == nil {
			return ds, nil
		}
		if !errors.Is(err, ErrNotRecognized) {
			return nil, errors.Wrapf(err, "%s driver", d.Name())
		}
	}
	return nil, errors.Wrapf(ErrNotRecognized, "%s", path)
}

// OpenCatalog opens an existing catalog for update with the first driver that
// recognizes it.
func (r *Registry) OpenCatalog(path string) (CatalogDataset, error) {
	for _, d := range r.drivers {
		cat, err := d.OpenCatalog(path)
		if err == nil {
			return cat, nil
		}
		if !errors.Is(err, ErrNotRecognized) {
			return nil, errors.Wrapf(err, "%s driver", d.Name())
		}
	}
	return nil, errors.Wrapf(ErrNotRecognized, "%s", path)
}
