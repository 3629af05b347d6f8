package tileindex

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// openCatalog opens the output for update, or creates it with the configured
// driver. No catalog is touched when the driver cannot be found.
func (a *assembler) openCatalog() (CatalogDataset, bool, error) {
	ds, err := a.reg.OpenCatalog(a.cfg.Output)
	if err == nil {
		return ds, false, nil
	}
	a.log.WithError(err).WithField("catalog", a.cfg.Output).Debug("No existing catalog, creating one")

	d := a.reg.Driver(a.cfg.Format)
	if d == nil {
		return nil, false, errors.WithDetailf(
			errors.Wrapf(ErrDriverNotFound, "%q", a.cfg.Format),
			"available drivers: %s", strings.Join(a.reg.DriverNames(), ", "))
	}

	creator, ok := d.(Creator)
	if !ok {
		return nil, false, errors.Wrapf(ErrCreateUnsupported, "%s", d.Name())
	}

	ds, err = creator.CreateCatalog(a.cfg.Output)
	if err != nil {
		return nil, false, errors.Mark(
			errors.Wrapf(err, "%s driver failed to create %s", d.Name(), a.cfg.Output),
			ErrCatalogCreate)
	}
	return ds, true, nil
}

// ensureLayer returns layer 0 of the catalog, creating it first when the catalog
// was just created and holds no layer, and checks that it carries the location
// field.
func (a *assembler) ensureLayer(ds CatalogDataset, created bool) (CatalogLayer, error) {
	if created && ds.LayerCount() == 0 {
		srs := a.firstRequestedSRS()
		if _, err := ds.CreateLayer(DefaultLayerName, srs, LocationField(a.cfg.LocationField)); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "creating tileindex layer"), ErrNoLayer)
		}
	}

	if ds.LayerCount() == 0 {
		return nil, ErrNoLayer
	}
	layer, err := ds.CatalogLayer(0)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "opening tileindex layer"), ErrNoLayer)
	}
	if layer == nil {
		return nil, ErrNoLayer
	}

	if FieldIndex(layer.Schema(), a.cfg.LocationField) < 0 {
		return nil, errors.Wrapf(ErrNoLocationField, "%q", a.cfg.LocationField)
	}
	return layer, nil
}

// firstRequestedSRS returns the spatial reference of the first requested layer of
// the first source, used to create the index layer.
func (a *assembler) firstRequestedSRS() *SpatialRef {
	if len(a.cfg.Sources) == 0 {
		return nil
	}
	src := a.cfg.Sources[0]

	ds, err := a.reg.Open(src.Path)
	if err != nil {
		return nil
	}
	defer ds.Close()

	filter := a.cfg.filterFor(src)
	for i := 0; i < ds.LayerCount(); i++ {
		layer, err := ds.Layer(i)
		if err != nil {
			continue
		}
		if !filter.Requested(i, layer.Name()) {
			continue
		}
		return layer.SpatialRef().Clone()
	}
	return nil
}

// loadExisting reads the tokens of every entry already in the catalog. The layer
// referenced by the first entry, if it can still be opened, sets the baseline.
func (a *assembler) loadExisting(layer CatalogLayer) (tokenSet, int, error) {
	tokens := make(tokenSet)
	n := 0
	for {
		e, err := layer.NextEntry(a.cfg.LocationField)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, n, errors.Wrap(err, "reading existing tileindex entries")
		}

		tokens.add(e.Location)
		if n == 0 {
			a.bootstrapBaseline(e.Location)
		}
		n++
	}
	return tokens, n, nil
}

func (a *assembler) bootstrapBaseline(token string) {
	log := a.log.WithField("location", token)

	path, idx, err := DecodeLocation(token)
	if err != nil {
		log.WithError(err).Debug("Cannot decode first tileindex entry")
		return
	}

	ds, err := a.reg.Open(path)
	if err != nil {
		log.WithError(err).Debug("Cannot open dataset of first tileindex entry")
		return
	}
	defer ds.Close()

	if idx >= ds.LayerCount() {
		log.Debug("First tileindex entry references a missing layer")
		return
	}
	layer, err := ds.Layer(idx)
	if err != nil {
		log.WithError(err).Debug("Cannot open layer of first tileindex entry")
		return
	}

	a.validator.state.establish(layer.SpatialRef(), layer.Schema())
	log.WithField("srs", layer.SpatialRef().String()).Debug("Baseline taken from existing tileindex")
}
