package gpkg

import (
	"database/sql"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	tileindex "github.com/tingold/orb-tileindex"
)

const geomColumn = "geom"

// OpenCatalog implements tileindex.Driver. The first feature table is the index
// layer.
func (d *Driver) OpenCatalog(path string) (tileindex.CatalogDataset, error) {
	db, err := open(path, false)
	if err != nil {
		return nil, err
	}
	tables, err := featureTables(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &catalog{db: db, path: path}
	if len(tables) > 0 {
		if err := c.attach(tables[0]); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

// CreateCatalog implements tileindex.Creator. It refuses to overwrite an existing
// file.
func (d *Driver) CreateCatalog(path string) (tileindex.CatalogDataset, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errors.Newf("gpkg: %s already exists", path)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, errors.Wrapf(err, "gpkg: creating %s", path)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range metadataDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			os.Remove(path)
			return nil, errors.Wrapf(err, "gpkg: creating %s", path)
		}
	}
	return &catalog{db: db, path: path, created: true}, nil
}

type catalog struct {
	db      *sql.DB
	path    string
	created bool
	layer   *catalogLayer
}

// attach makes t the index layer and records how many rows it already holds.
func (c *catalog) attach(t *tableInfo) error {
	l := &catalogLayer{c: c, t: t}
	err := c.db.QueryRow("SELECT count(*), COALESCE(MAX(rowid), 0) FROM " + quoteIdent(t.name)).
		Scan(&l.count, &l.lastRow)
	if err != nil {
		return errors.Wrapf(err, "gpkg: counting %s", t.name)
	}
	c.layer = l
	return nil
}

func (c *catalog) LayerCount() int {
	if c.layer != nil {
		return 1
	}
	return 0
}

func (c *catalog) CatalogLayer(i int) (tileindex.CatalogLayer, error) {
	if i != 0 || c.layer == nil {
		return nil, errors.Wrapf(tileindex.ErrLayerIndex, "gpkg: catalog layer %d", i)
	}
	return c.layer, nil
}

// CreateLayer creates a feature table holding a polygon column and the location
// field, and registers it in the metadata tables.
func (c *catalog) CreateLayer(name string, srs *tileindex.SpatialRef, location tileindex.FieldDef) (tileindex.CatalogLayer, error) {
	if c.layer != nil {
		return nil, errors.Newf("gpkg: %s already holds a layer", c.path)
	}

	srsID, err := ensureSRS(c.db, srs)
	if err != nil {
		return nil, err
	}

	stmts := []struct {
		query string
		args  []interface{}
	}{
		{"CREATE TABLE " + quoteIdent(name) + " (fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, " +
			geomColumn + " POLYGON, " + quoteIdent(location.Name) + " " + columnDecl(location) + ")", nil},
		{`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
			[]interface{}{name, name, srsID}},
		{`INSERT INTO gpkg_geometry_columns VALUES (?, ?, 'POLYGON', ?, 0, 0)`,
			[]interface{}{name, geomColumn, srsID}},
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s.query, s.args...); err != nil {
			return nil, errors.Wrapf(err, "gpkg: creating layer %s", name)
		}
	}

	t := &tableInfo{
		name:       name,
		geomColumn: geomColumn,
		pk:         "fid",
		fields:     []tileindex.FieldDef{location},
		srsID:      srsID,
		srs:        srs.Clone(),
	}
	c.layer = &catalogLayer{c: c, t: t}
	return c.layer, nil
}

// Close records the extent of the index layer in gpkg_contents and closes the
// database. A file created by CreateCatalog that never received a layer is
// removed.
func (c *catalog) Close() error {
	if c.layer == nil {
		err := c.db.Close()
		if c.created {
			if rmErr := os.Remove(c.path); rmErr != nil && err == nil {
				err = rmErr
			}
		}
		return err
	}

	l := c.layer
	if l.rows != nil {
		l.rows.Close()
		l.rows = nil
	}
	if l.appended > 0 {
		b := l.added
		if l.t.bounds != nil {
			b = b.Union(*l.t.bounds)
		}
		_, err := c.db.Exec(`UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ?,
				last_change = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE table_name = ?`,
			b.Min[0], b.Min[1], b.Max[0], b.Max[1], l.t.name)
		if err != nil {
			c.db.Close()
			return errors.Wrapf(err, "gpkg: updating extent of %s", l.t.name)
		}
	}
	return errors.Wrapf(c.db.Close(), "gpkg: closing %s", c.path)
}

type catalogLayer struct {
	c *catalog
	t *tableInfo

	count    int   // rows present, including appended ones
	lastRow  int64 // highest rowid before the session
	rows     *sql.Rows
	appended int
	added    orb.Bound
}

func (l *catalogLayer) Name() string                       { return l.t.name }
func (l *catalogLayer) Schema() []tileindex.FieldDef       { return tileindex.CloneFields(l.t.fields) }
func (l *catalogLayer) SpatialRef() *tileindex.SpatialRef { return l.t.srs.Clone() }
func (l *catalogLayer) FeatureCount() int                  { return l.count }

func (l *catalogLayer) Extent() (orb.Bound, error) {
	return scanExtent(l.c.db, l.t)
}

// NextEntry streams the rows that existed when the catalog was opened. The cursor
// holds the only connection, so it must be drained before Append is called.
func (l *catalogLayer) NextEntry(field string) (tileindex.Entry, error) {
	if l.rows == nil {
		if l.lastRow == 0 {
			return tileindex.Entry{}, io.EOF
		}
		loc := "NULL"
		if i := tileindex.FieldIndex(l.t.fields, field); i >= 0 {
			loc = quoteIdent(l.t.fields[i].Name)
		}
		rows, err := l.c.db.Query("SELECT "+quoteIdent(l.t.geomColumn)+", "+loc+" FROM "+
			quoteIdent(l.t.name)+" WHERE rowid <= ? ORDER BY rowid", l.lastRow)
		if err != nil {
			return tileindex.Entry{}, errors.Wrapf(err, "gpkg: reading %s", l.t.name)
		}
		l.rows = rows
	}

	if !l.rows.Next() {
		err := l.rows.Err()
		l.rows.Close()
		l.rows = nil
		l.lastRow = 0
		if err != nil {
			return tileindex.Entry{}, errors.Wrapf(err, "gpkg: reading %s", l.t.name)
		}
		return tileindex.Entry{}, io.EOF
	}

	var (
		data     []byte
		location sql.NullString
	)
	if err := l.rows.Scan(&data, &location); err != nil {
		return tileindex.Entry{}, errors.Wrapf(err, "gpkg: reading %s", l.t.name)
	}

	e := tileindex.Entry{Location: location.String}
	if data != nil {
		b, err := decodeBlob(data)
		if err != nil {
			return tileindex.Entry{}, errors.Wrapf(err, "gpkg: reading %s", l.t.name)
		}
		e.Geometry = entryPolygon(b)
	}
	return e, nil
}

// Append inserts one row immediately.
func (l *catalogLayer) Append(field string, e tileindex.Entry) error {
	i := tileindex.FieldIndex(l.t.fields, field)
	if i < 0 {
		return errors.Wrapf(tileindex.ErrNoLocationField, "gpkg: %q in %s", field, l.t.name)
	}
	if l.t.geomColumn == "" {
		return errors.Newf("gpkg: %s has no geometry column", l.t.name)
	}

	data, err := encodeBlob(e.Geometry, int32(l.t.srsID))
	if err != nil {
		return err
	}
	_, err = l.c.db.Exec("INSERT INTO "+quoteIdent(l.t.name)+" ("+quoteIdent(l.t.geomColumn)+", "+
		quoteIdent(l.t.fields[i].Name)+") VALUES (?, ?)", data, e.Location)
	if err != nil {
		return errors.Wrapf(err, "gpkg: inserting into %s", l.t.name)
	}

	b := e.Geometry.Bound()
	if l.appended == 0 {
		l.added = b
	} else {
		l.added = l.added.Union(b)
	}
	l.appended++
	l.count++
	return nil
}

// entryPolygon returns the stored footprint. Other geometry types are replaced by
// their bounding rectangle.
func entryPolygon(b *blob) orb.Polygon {
	if p, ok := b.geometry.(orb.Polygon); ok {
		return p
	}
	bound, ok := b.bound()
	if !ok {
		return nil
	}
	return tileindex.ExtentPolygon(bound)
}
