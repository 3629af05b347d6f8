package tileindex

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Run indexes cfg.Sources into cfg.Output and returns the process exit status:
// 0 on success, 1 when the run aborted.
func Run(cfg *Config, reg *Registry, log logrus.FieldLogger) int {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if _, err := Assemble(cfg, reg, log); err != nil {
		entry := log.WithError(err)
		if details := errors.FlattenDetails(err); details != "" {
			entry = entry.WithField("details", details)
		}
		entry.Error("Tile index aborted")
		return 1
	}
	return 0
}

// Assemble indexes cfg.Sources into cfg.Output. Per-dataset and per-layer problems
// are logged and skipped; the returned error is set only for conditions that leave
// the catalog unusable, in which case the catalog is closed as it stands.
func Assemble(cfg *Config, reg *Registry, log logrus.FieldLogger) (*Result, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := *cfg
	a := &assembler{
		cfg:       &c,
		reg:       reg,
		log:       log,
		validator: newValidator(&c),
		getwd:     os.Getwd,
	}
	return a.run()
}

type assembler struct {
	cfg       *Config
	reg       *Registry
	log       logrus.FieldLogger
	validator *validator
	paths     *pathResolver
	getwd     func() (string, error)

	layer    CatalogLayer
	existing tokenSet
	result   Result
}

func (a *assembler) run() (res *Result, err error) {
	if a.cfg.Output == "" {
		return &a.result, errors.New("tileindex: no output catalog given")
	}
	if a.cfg.LocationField == "" {
		a.cfg.LocationField = DefaultLocationField
	}

	ds, created, err := a.openCatalog()
	if err != nil {
		return &a.result, err
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing %s", a.cfg.Output)
		}
	}()

	a.layer, err = a.ensureLayer(ds, created)
	if err != nil {
		return &a.result, err
	}

	a.existing, a.result.Existing, err = a.loadExisting(a.layer)
	if err != nil {
		return &a.result, err
	}

	a.paths = newPathResolver(a.cfg.AbsolutePaths, a.getwd, a.log)

	if a.cfg.Workers > 1 {
		err = a.runConcurrent()
	} else {
		err = a.runSequential()
	}
	if err != nil {
		return &a.result, err
	}

	a.log.WithFields(logrus.Fields{
		"catalog":    a.cfg.Output,
		"existing":   a.result.Existing,
		"added":      a.result.Added,
		"duplicates": a.result.Duplicates,
		"skipped":    a.result.Skipped,
		"failed":     a.result.FailedDatasets,
	}).Info("Tile index updated")
	return &a.result, nil
}

func (a *assembler) runSequential() error {
	for _, src := range a.cfg.Sources {
		if err := a.process(a.scan(src, false)); err != nil {
			return err
		}
	}
	return nil
}

// runConcurrent reads datasets on up to cfg.Workers goroutines while this goroutine
// consumes the snapshots in source order and alone mutates the catalog.
func (a *assembler) runConcurrent() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make([]chan *datasetScan, len(a.cfg.Sources))
	for i := range ready {
		ready[i] = make(chan *datasetScan, 1)
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.Workers)

	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, src := range a.cfg.Sources {
			i, src := i, src
			g.Go(func() error {
				if ctx.Err() != nil {
					ready[i] <- nil
					return nil
				}
				ready[i] <- a.scan(src, true)
				return nil
			})
		}
	}()

	var err error
	for i := range a.cfg.Sources {
		if err = a.process(<-ready[i]); err != nil {
			break
		}
	}

	cancel()
	<-launched
	_ = g.Wait()
	return err
}

// datasetScan holds the requested layers of one source. ds is set while the
// dataset is still open; frozen scans have already released it.
type datasetScan struct {
	src    Source
	ds     Dataset
	err    error
	layers []scannedLayer
}

type scannedLayer struct {
	index int
	layer Layer
	err   error
}

// scan opens a source and collects the layers its filter requests. With freeze the
// layers are copied and the dataset closed before returning.
func (a *assembler) scan(src Source, freeze bool) *datasetScan {
	s := &datasetScan{src: src}

	ds, err := a.reg.Open(src.Path)
	if err != nil {
		s.err = err
		return s
	}
	if freeze {
		defer a.closeSource(src, ds)
	} else {
		s.ds = ds
	}

	filter := a.cfg.filterFor(src)
	for i := 0; i < ds.LayerCount(); i++ {
		layer, err := ds.Layer(i)
		if err != nil {
			s.layers = append(s.layers, scannedLayer{index: i, err: err})
			continue
		}
		if !filter.Requested(i, layer.Name()) {
			continue
		}
		if freeze {
			layer = freezeLayer(layer)
		}
		s.layers = append(s.layers, scannedLayer{index: i, layer: layer})
	}
	return s
}

func (a *assembler) closeSource(src Source, ds Dataset) {
	if err := ds.Close(); err != nil {
		a.log.WithError(err).WithField("dataset", src.Path).Debug("Closing dataset failed")
	}
}

// process indexes the layers of one scanned dataset. Only a catalog write failure
// is returned.
func (a *assembler) process(s *datasetScan) error {
	if s == nil {
		return nil
	}
	if s.ds != nil {
		defer a.closeSource(s.src, s.ds)
	}

	log := a.log.WithField("dataset", s.src.Path)
	if s.err != nil {
		log.WithError(s.err).Warn("Failed to open dataset, skipping")
		a.result.FailedDatasets++
		return nil
	}

	location := a.paths.resolve(s.src.Path)
	for _, sl := range s.layers {
		if sl.err != nil {
			log.WithError(sl.err).WithField("layer", sl.index).Warn("Failed to open layer, skipping")
			a.result.Skipped++
			continue
		}
		if err := a.processLayer(s.src, location, sl.index, sl.layer); err != nil {
			return err
		}
	}
	return nil
}

// processLayer runs one requested layer through dedup, validation, extent and the
// catalog append.
func (a *assembler) processLayer(src Source, location string, index int, layer Layer) error {
	token := EncodeLocation(location, index)
	log := a.log.WithFields(logrus.Fields{
		"dataset": src.Path,
		"layer":   index,
		"name":    layer.Name(),
	})

	if a.existing.contains(token) {
		log.WithField("location", token).Warn("Layer is already in tileindex, skipping")
		a.result.Duplicates++
		return nil
	}

	v := a.validator.check(layer)
	if v.srs != nil {
		if a.cfg.SRSPolicy == SRSSkip {
			log.WithError(v.srs).Warn("Layer is not using the same projection system as the tileindex, skipping")
		} else {
			log.WithError(v.srs).Warn("Layer is not using the same projection system as the tileindex, " +
				"this may cause problems when using it in MapServer")
		}
	}
	if v.schema != nil {
		log.WithError(v.schema).Warn("Layer attributes do not match the tileindex schema, skipping")
	}
	if v.hint {
		cause := v.schema
		if cause == nil {
			cause = v.srs
		}
		a.log.Warn("Note: " + errors.FlattenHints(cause))
	}
	if v.rejected(a.cfg.SRSPolicy) {
		a.result.Skipped++
		return nil
	}

	bound, err := layer.Extent()
	if err != nil {
		log.WithError(err).Warn("Failed to compute layer extent, skipping")
		a.result.Skipped++
		return nil
	}

	if err := a.layer.Append(a.cfg.LocationField, Entry{Location: token, Geometry: ExtentPolygon(bound)}); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to create feature on tileindex for %s", token), ErrAppend)
	}
	a.result.Added++
	log.WithField("location", token).Debug("Layer added to tileindex")
	return nil
}

// frozenLayer is a copy of a layer's metadata that outlives its dataset.
type frozenLayer struct {
	name      string
	fields    []FieldDef
	srs       *SpatialRef
	bound     orb.Bound
	extentErr error
}

func freezeLayer(l Layer) *frozenLayer {
	f := &frozenLayer{
		name:   l.Name(),
		fields: CloneFields(l.Schema()),
		srs:    l.SpatialRef().Clone(),
	}
	f.bound, f.extentErr = l.Extent()
	return f
}

func (f *frozenLayer) Name() string               { return f.name }
func (f *frozenLayer) Schema() []FieldDef         { return f.fields }
func (f *frozenLayer) SpatialRef() *SpatialRef    { return f.srs }
func (f *frozenLayer) Extent() (orb.Bound, error) { return f.bound, f.extentErr }
