// Package gpkg reads and writes tile indexes stored in OGC GeoPackage files. Every
// feature table listed in gpkg_contents is a layer. Catalogs are ordinary feature
// tables, so a tile index written here opens in any GIS that reads GeoPackage.
package gpkg

import (
	"bytes"
	"database/sql"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"

	tileindex "github.com/tingold/orb-tileindex"
)

// DriverName is the name the driver registers under.
const DriverName = "GPKG"

var sqliteMagic = []byte("SQLite format 3\x00")

// Driver is the GeoPackage tile index driver. It implements tileindex.Driver and
// tileindex.Creator.
type Driver struct{}

// NewDriver returns the GeoPackage driver.
func NewDriver() *Driver { return &Driver{} }

// Name implements tileindex.Driver.
func (*Driver) Name() string { return DriverName }

// open connects to an existing GeoPackage. Files that are not SQLite databases or
// lack gpkg_contents are reported as not recognized.
func open(path string, readOnly bool) (*sql.DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "gpkg: %v", err)
	}
	head := make([]byte, len(sqliteMagic))
	_, err = io.ReadFull(f, head)
	f.Close()
	if err != nil || !bytes.Equal(head, sqliteMagic) {
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "gpkg: %s is not an SQLite database", path)
	}

	dsn := "file:" + path
	if readOnly {
		dsn += "?mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "gpkg: opening %s", path)
	}
	// One connection keeps appends and reads on the same SQLite handle.
	db.SetMaxOpenConns(1)

	var n int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'gpkg_contents'`).Scan(&n)
	if err != nil || n == 0 {
		db.Close()
		return nil, errors.Wrapf(tileindex.ErrNotRecognized, "gpkg: %s is not a GeoPackage", path)
	}
	return db, nil
}

// tableInfo describes one feature table.
type tableInfo struct {
	name       string
	geomColumn string
	pk         string
	fields     []tileindex.FieldDef
	srsID      int64
	srs        *tileindex.SpatialRef
	bounds     *orb.Bound // from gpkg_contents, nil when not recorded
}

// featureTables lists the feature tables in gpkg_contents order.
func featureTables(db *sql.DB) ([]*tableInfo, error) {
	rows, err := db.Query(`SELECT c.table_name, COALESCE(g.column_name, ''), COALESCE(c.srs_id, g.srs_id, -1),
			c.min_x, c.min_y, c.max_x, c.max_y
		FROM gpkg_contents c LEFT JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features' ORDER BY c.rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "gpkg: listing feature tables")
	}

	var tables []*tableInfo
	for rows.Next() {
		t := &tableInfo{}
		var minX, minY, maxX, maxY sql.NullFloat64
		if err := rows.Scan(&t.name, &t.geomColumn, &t.srsID, &minX, &minY, &maxX, &maxY); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "gpkg: listing feature tables")
		}
		if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
			t.bounds = &orb.Bound{Min: orb.Point{minX.Float64, minY.Float64}, Max: orb.Point{maxX.Float64, maxY.Float64}}
		}
		tables = append(tables, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, errors.Wrap(err, "gpkg: listing feature tables")
	}

	// The single connection is free again once rows is closed.
	for _, t := range tables {
		if t.fields, t.pk, err = tableSchema(db, t.name, t.geomColumn); err != nil {
			return nil, err
		}
		if t.srs, err = spatialRef(db, t.srsID); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// Open implements tileindex.Driver.
func (d *Driver) Open(path string) (tileindex.Dataset, error) {
	db, err := open(path, true)
	if err != nil {
		return nil, err
	}
	tables, err := featureTables(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &dataset{db: db, tables: tables}, nil
}

type dataset struct {
	db     *sql.DB
	tables []*tableInfo
}

func (d *dataset) LayerCount() int { return len(d.tables) }

func (d *dataset) Layer(i int) (tileindex.Layer, error) {
	if i < 0 || i >= len(d.tables) {
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "gpkg: layer %d", i)
	}
	return &layer{db: d.db, t: d.tables[i]}, nil
}

func (d *dataset) Close() error { return d.db.Close() }

type layer struct {
	db *sql.DB
	t  *tableInfo
}

func (l *layer) Name() string                       { return l.t.name }
func (l *layer) Schema() []tileindex.FieldDef       { return tileindex.CloneFields(l.t.fields) }
func (l *layer) SpatialRef() *tileindex.SpatialRef { return l.t.srs.Clone() }

// Extent returns the bounds recorded in gpkg_contents, or scans the geometry
// column when none are recorded.
func (l *layer) Extent() (orb.Bound, error) {
	if l.t.bounds != nil {
		return *l.t.bounds, nil
	}
	return scanExtent(l.db, l.t)
}

func scanExtent(db *sql.DB, t *tableInfo) (orb.Bound, error) {
	if t.geomColumn == "" {
		return orb.Bound{}, errors.Wrapf(tileindex.ErrNoExtent, "gpkg: %s has no geometry column", t.name)
	}

	rows, err := db.Query("SELECT " + quoteIdent(t.geomColumn) + " FROM " + quoteIdent(t.name))
	if err != nil {
		return orb.Bound{}, errors.Wrapf(err, "gpkg: scanning %s", t.name)
	}
	defer rows.Close()

	var (
		total orb.Bound
		found bool
	)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return orb.Bound{}, errors.Wrapf(err, "gpkg: scanning %s", t.name)
		}
		if data == nil {
			continue
		}
		b, err := decodeBlob(data)
		if err != nil {
			return orb.Bound{}, errors.Wrapf(err, "gpkg: scanning %s", t.name)
		}
		bound, ok := b.bound()
		if !ok {
			continue
		}
		if !found {
			total, found = bound, true
			continue
		}
		total = total.Union(bound)
	}
	if err := rows.Err(); err != nil {
		return orb.Bound{}, errors.Wrapf(err, "gpkg: scanning %s", t.name)
	}
	if !found {
		return orb.Bound{}, errors.Wrapf(tileindex.ErrEmptyLayer, "gpkg: %s", t.name)
	}
	return total, nil
}
