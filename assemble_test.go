package tileindex_test

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tileindex "github.com/tingold/orb-tileindex"
	"github.com/tingold/orb-tileindex/memory"
)

const catalogPath = "index"

var tileFields = []tileindex.FieldDef{
	{Name: "id", Type: tileindex.FieldInteger64},
	{Name: "name", Type: tileindex.FieldString, Width: 32},
}

func tile(name string, minX, minY float64) *memory.Layer {
	return &memory.Layer{
		LayerName: name,
		Fields:    tileindex.CloneFields(tileFields),
		SRS:       tileindex.EPSG(4326),
		Bounds:    orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{minX + 1, minY + 1}},
	}
}

func newStore() (*memory.Store, *tileindex.Registry) {
	store := memory.New()
	return store, tileindex.NewRegistry(store)
}

func config(sources ...string) *tileindex.Config {
	cfg := tileindex.DefaultConfig()
	cfg.Output = catalogPath
	cfg.Format = memory.DriverName
	cfg.Sources = tileindex.SourcePaths(sources...)
	return cfg
}

// warnings returns the messages logged at warn level.
func warnings(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func countPrefix(msgs []string, prefix string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func TestAssemble_CreatesCatalog(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddDataset("b", tile("b0", 5, 5), tile("b1", 10, 10))
	log, _ := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a", "b"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 0, res.Existing)

	cat := store.Catalog(catalogPath)
	require.NotNil(t, cat)
	assert.Equal(t, []string{"a,0", "b,0", "b,1"}, cat.Locations())
	assert.Equal(t, tileindex.DefaultLayerName, cat.LayerName)
	assert.Equal(t, []tileindex.FieldDef{tileindex.LocationField("LOCATION")}, cat.Fields)
	assert.Equal(t, 1, cat.Closed)

	want := tileindex.ExtentPolygon(orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{6, 6}})
	assert.Equal(t, want, cat.Entries[1].Geometry)
}

func TestAssemble_Idempotent(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddDataset("b", tile("b", 1, 1))
	log, hook := test.NewNullLogger()

	_, err := tileindex.Assemble(config("a", "b"), reg, log)
	require.NoError(t, err)
	first := store.Catalog(catalogPath).Locations()

	hook.Reset()
	res, err := tileindex.Assemble(config("a", "b"), reg, log)
	require.NoError(t, err)

	assert.Equal(t, first, store.Catalog(catalogPath).Locations())
	assert.Equal(t, 2, res.Existing)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 2, countPrefix(warnings(hook), "Layer is already in tileindex"))
}

func TestAssemble_Dedup(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a.shp", tile("a0", 0, 0), tile("a1", 2, 2))
	store.AddCatalog(catalogPath, memory.NewCatalog("LOCATION", tileindex.EPSG(4326), tileindex.Entry{
		Location: "a.shp,0",
		Geometry: tileindex.ExtentPolygon(orb.Bound{Max: orb.Point{1, 1}}),
	}))
	log, hook := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a.shp"), reg, log)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.shp,0", "a.shp,1"}, store.Catalog(catalogPath).Locations())
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, countPrefix(warnings(hook), "Layer is already in tileindex"))
}

func TestAssemble_DedupIgnoresCase(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("A.SHP", tile("a", 0, 0))
	store.AddCatalog(catalogPath, memory.NewCatalog("LOCATION", nil, tileindex.Entry{Location: "a.shp,0"}))
	log, _ := test.NewNullLogger()

	res, err := tileindex.Assemble(config("A.SHP"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Len(t, store.Catalog(catalogPath).Entries, 1)
}

func TestAssemble_LayerFilterByIndex(t *testing.T) {
	store, reg := newStore()
	layers := []*memory.Layer{tile("l0", 0, 0), tile("l1", 1, 1), tile("l2", 2, 2)}
	store.AddDataset("multi", layers...)
	log, _ := test.NewNullLogger()

	cfg := config("multi")
	cfg.Filter = tileindex.LayerFilter{tileindex.ByIndex(1)}

	res, err := tileindex.Assemble(cfg, reg, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, []string{"multi,1"}, store.Catalog(catalogPath).Locations())

	assert.Zero(t, layers[0].Touched(), "unrequested layer was inspected")
	assert.Zero(t, layers[2].Touched(), "unrequested layer was inspected")
	assert.NotZero(t, layers[1].Touched())
}

func TestAssemble_LayerFilterByName(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("multi", tile("roads", 0, 0), tile("rivers", 1, 1))
	log, _ := test.NewNullLogger()

	cfg := config("multi")
	cfg.Filter = tileindex.LayerFilter{tileindex.ByName("RIVERS")}

	_, err := tileindex.Assemble(cfg, reg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"multi,1"}, store.Catalog(catalogPath).Locations())
}

func TestAssemble_PerSourceFilter(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("x", tile("x0", 0, 0), tile("x1", 1, 1))
	store.AddDataset("y", tile("y0", 2, 2), tile("y1", 3, 3))
	log, _ := test.NewNullLogger()

	cfg := config()
	cfg.Filter = tileindex.LayerFilter{tileindex.ByIndex(0)}
	cfg.Sources = []tileindex.Source{
		{Path: "x"},
		{Path: "y", Filter: tileindex.LayerFilter{tileindex.ByName("y1")}},
	}

	_, err := tileindex.Assemble(cfg, reg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"x,0", "y,1"}, store.Catalog(catalogPath).Locations())
}

func TestRun_UnknownDriver(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	log, hook := test.NewNullLogger()

	cfg := config("a")
	cfg.Format = "NoSuchFormat"

	assert.Equal(t, 1, tileindex.Run(cfg, reg, log))
	assert.Nil(t, store.Catalog(catalogPath), "catalog created despite unknown driver")

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	assert.Contains(t, last.Data["details"], memory.DriverName)
}

func TestAssemble_UnknownDriverError(t *testing.T) {
	_, reg := newStore()
	log, _ := test.NewNullLogger()

	cfg := config()
	cfg.Format = "NoSuchFormat"

	_, err := tileindex.Assemble(cfg, reg, log)
	assert.True(t, errors.Is(err, tileindex.ErrDriverNotFound))
}

// readOnly hides the store's Creator implementation.
type readOnly struct {
	store *memory.Store
}

func (r readOnly) Name() string { return "ReadOnly" }

func (r readOnly) Open(path string) (tileindex.Dataset, error) { return r.store.Open(path) }

func (r readOnly) OpenCatalog(path string) (tileindex.CatalogDataset, error) {
	return r.store.OpenCatalog(path)
}

func TestAssemble_CreateUnsupported(t *testing.T) {
	store := memory.New()
	store.AddDataset("a", tile("a", 0, 0))
	reg := tileindex.NewRegistry(readOnly{store})
	log, _ := test.NewNullLogger()

	cfg := config("a")
	cfg.Format = "readonly"

	_, err := tileindex.Assemble(cfg, reg, log)
	assert.True(t, errors.Is(err, tileindex.ErrCreateUnsupported))
	assert.Nil(t, store.Catalog(catalogPath))
}

func TestAssemble_AppendFailure(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddDataset("b", tile("b", 1, 1))
	store.AddDataset("c", tile("c", 2, 2))

	cat := memory.NewCatalog("LOCATION", tileindex.EPSG(4326))
	cat.AppendErr = errors.New("disk full")
	cat.FailAppendAfter = 1
	store.AddCatalog(catalogPath, cat)
	log, _ := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a", "b", "c"), reg, log)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tileindex.ErrAppend))
	assert.Contains(t, err.Error(), "b,0")

	assert.Equal(t, []string{"a,0"}, cat.Locations(), "entries before the failure are kept")
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, cat.Closed, "catalog is closed on abort")
	assert.Zero(t, store.Opened("c"), "run continued after a fatal append")
}

func TestAssemble_MissingLocationField(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddCatalog(catalogPath, memory.NewCatalog("PATH", nil))
	log, _ := test.NewNullLogger()

	_, err := tileindex.Assemble(config("a"), reg, log)
	assert.True(t, errors.Is(err, tileindex.ErrNoLocationField))
	assert.Empty(t, store.Catalog(catalogPath).Entries)
}

func TestAssemble_CustomLocationField(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddCatalog(catalogPath, memory.NewCatalog("path", nil))
	log, _ := test.NewNullLogger()

	cfg := config("a")
	cfg.LocationField = "PATH"

	_, err := tileindex.Assemble(cfg, reg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"a,0"}, store.Catalog(catalogPath).Locations())
}

func TestAssemble_CatalogWithoutLayer(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddCatalog(catalogPath, &memory.Catalog{})
	log, _ := test.NewNullLogger()

	_, err := tileindex.Assemble(config("a"), reg, log)
	assert.True(t, errors.Is(err, tileindex.ErrNoLayer))
}

func TestAssemble_SchemaMismatchSkipped(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	odd := tile("b", 1, 1)
	odd.Fields = odd.Fields[:1]
	store.AddDataset("b", odd)
	store.AddDataset("c", tile("c", 2, 2))
	log, hook := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a", "b", "c"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"a,0", "c,0"}, store.Catalog(catalogPath).Locations())
	assert.Equal(t, 1, res.Skipped)

	msgs := warnings(hook)
	assert.Equal(t, 1, countPrefix(msgs, "Layer attributes do not match"))
	assert.Equal(t, 1, countPrefix(msgs, "Note: "))
}

func TestAssemble_SchemaTolerated(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	odd := tile("b", 1, 1)
	odd.Fields = nil
	store.AddDataset("b", odd)
	log, _ := test.NewNullLogger()

	cfg := config("a", "b")
	cfg.SchemaPolicy = tileindex.SchemaTolerate

	res, err := tileindex.Assemble(cfg, reg, log)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
}

func TestAssemble_SchemaHintOnce(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	for _, p := range []string{"b", "c", "d"} {
		odd := tile(p, 1, 1)
		odd.Fields = nil
		store.AddDataset(p, odd)
	}
	log, hook := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a", "b", "c", "d"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, countPrefix(warnings(hook), "Note: "))
}

func TestAssemble_SRSMismatchTolerated(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	b := tile("b", 1, 1)
	b.SRS = tileindex.EPSG(3857)
	store.AddDataset("b", b)
	c := tile("c", 2, 2)
	c.SRS = tileindex.EPSG(2154)
	store.AddDataset("c", c)
	log, hook := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a", "b", "c"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 2, countPrefix(warnings(hook), "Layer is not using the same projection system"))
	assert.Zero(t, countPrefix(warnings(hook), "Note: "))
}

func TestAssemble_SRSMismatchSkipped(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	b := tile("b", 1, 1)
	b.SRS = tileindex.EPSG(3857)
	store.AddDataset("b", b)
	store.AddDataset("c", tile("c", 2, 2))
	log, hook := test.NewNullLogger()

	cfg := config("a", "b", "c")
	cfg.SRSPolicy = tileindex.SRSSkip

	res, err := tileindex.Assemble(cfg, reg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"a,0", "c,0"}, store.Catalog(catalogPath).Locations())
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, countPrefix(warnings(hook), "Note: "))
}

func TestAssemble_CreatedLayerTakesFirstRequestedSRS(t *testing.T) {
	store, reg := newStore()
	first := tile("skipped", 0, 0)
	first.SRS = tileindex.EPSG(3857)
	wanted := tile("wanted", 0, 0)
	wanted.SRS = tileindex.EPSG(2154)
	store.AddDataset("a", first, wanted)
	log, _ := test.NewNullLogger()

	cfg := config("a")
	cfg.Filter = tileindex.LayerFilter{tileindex.ByName("wanted")}

	_, err := tileindex.Assemble(cfg, reg, log)
	require.NoError(t, err)
	assert.Equal(t, 2154, store.Catalog(catalogPath).SRS.Code)
}

func TestAssemble_BaselineFromExistingEntry(t *testing.T) {
	store, reg := newStore()
	base := tile("base", 0, 0)
	base.Fields = []tileindex.FieldDef{{Name: "code", Type: tileindex.FieldString, Width: 8}}
	store.AddDataset("base", base)
	store.AddDataset("a", tile("a", 1, 1))

	match := tile("m", 2, 2)
	match.Fields = tileindex.CloneFields(base.Fields)
	store.AddDataset("m", match)

	store.AddCatalog(catalogPath, memory.NewCatalog("LOCATION", tileindex.EPSG(4326), tileindex.Entry{
		Location: "base,0",
		Geometry: tileindex.ExtentPolygon(base.Bounds),
	}))
	log, _ := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a", "m"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Existing)
	assert.Equal(t, 1, res.Skipped, "layer differing from the indexed dataset was accepted")
	assert.Equal(t, []string{"base,0", "m,0"}, store.Catalog(catalogPath).Locations())
	assert.Equal(t, 1, store.Opened("base"))
}

func TestAssemble_UnreadableFirstEntry(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddCatalog(catalogPath, memory.NewCatalog("LOCATION", nil, tileindex.Entry{Location: "gone,0"}))
	log, _ := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added, "first new layer sets the baseline")
}

func TestAssemble_OpenFailureSkipsDataset(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	store.AddDataset("c", tile("c", 1, 1))
	log, hook := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a", "missing", "c"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedDatasets)
	assert.Equal(t, []string{"a,0", "c,0"}, store.Catalog(catalogPath).Locations())
	assert.Equal(t, 1, countPrefix(warnings(hook), "Failed to open dataset"))
}

func TestAssemble_ExtentFailureSkipsLayer(t *testing.T) {
	store, reg := newStore()
	broken := tile("broken", 0, 0)
	broken.ExtentErr = tileindex.ErrEmptyLayer
	store.AddDataset("a", broken, tile("ok", 1, 1))
	log, _ := test.NewNullLogger()

	res, err := tileindex.Assemble(config("a"), reg, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"a,1"}, store.Catalog(catalogPath).Locations())
}

func TestAssemble_ConcurrentMatchesSequential(t *testing.T) {
	build := func(workers int) ([]string, *tileindex.Result) {
		store, reg := newStore()
		var paths []string
		for i := 0; i < 20; i++ {
			p := string(rune('a'+i)) + ".fgb"
			l := tile(p, float64(i), 0)
			if i%7 == 3 {
				l.Fields = nil
			}
			store.AddDataset(p, l, tile(p+"#2", float64(i), 1))
			paths = append(paths, p)
		}
		paths = append(paths, "missing.fgb", paths[0])

		cfg := config(paths...)
		cfg.Workers = workers
		log, _ := test.NewNullLogger()
		res, err := tileindex.Assemble(cfg, reg, log)
		require.NoError(t, err)
		return store.Catalog(catalogPath).Locations(), res
	}

	seqLocs, seqRes := build(1)
	parLocs, parRes := build(4)
	assert.Equal(t, seqLocs, parLocs)
	assert.Equal(t, seqRes, parRes)
}

func TestAssemble_ConcurrentAppendFailure(t *testing.T) {
	store, reg := newStore()
	var paths []string
	for i := 0; i < 10; i++ {
		p := string(rune('a' + i))
		store.AddDataset(p, tile(p, float64(i), 0))
		paths = append(paths, p)
	}
	cat := memory.NewCatalog("LOCATION", nil)
	cat.AppendErr = errors.New("disk full")
	cat.FailAppendAfter = 3
	store.AddCatalog(catalogPath, cat)
	log, _ := test.NewNullLogger()

	cfg := config(paths...)
	cfg.Workers = 3

	_, err := tileindex.Assemble(cfg, reg, log)
	assert.True(t, errors.Is(err, tileindex.ErrAppend))
	assert.Equal(t, []string{"a,0", "b,0", "c,0"}, cat.Locations())
	assert.Equal(t, 1, cat.Closed)
}

func TestRun_Success(t *testing.T) {
	store, reg := newStore()
	store.AddDataset("a", tile("a", 0, 0))
	log, _ := test.NewNullLogger()

	assert.Equal(t, 0, tileindex.Run(config("a"), reg, log))
}

func TestRun_NoOutput(t *testing.T) {
	_, reg := newStore()
	log, _ := test.NewNullLogger()

	cfg := config()
	cfg.Output = ""
	assert.Equal(t, 1, tileindex.Run(cfg, reg, log))
}
