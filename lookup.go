package tileindex

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
)

// Lookup returns the entries of the catalog at path whose extent intersects bound,
// in catalog order. It is the query a map server runs to decide which datasets to
// load for a region.
func Lookup(reg *Registry, path, field string, bound orb.Bound) ([]Entry, error) {
	if field == "" {
		field = DefaultLocationField
	}

	ds, err := reg.OpenCatalog(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	if ds.LayerCount() == 0 {
		return nil, ErrNoLayer
	}
	layer, err := ds.CatalogLayer(0)
	if err != nil {
		return nil, errors.Mark(err, ErrNoLayer)
	}
	if FieldIndex(layer.Schema(), field) < 0 {
		return nil, errors.Wrapf(ErrNoLocationField, "%q", field)
	}

	var matches []Entry
	for {
		e, err := layer.NextEntry(field)
		if err == io.EOF {
			return matches, nil
		}
		if err != nil {
			return nil, err
		}
		if e.Geometry.Bound().Intersects(bound) {
			matches = append(matches, e)
		}
	}
}
