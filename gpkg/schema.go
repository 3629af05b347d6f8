package gpkg

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	tileindex "github.com/tingold/orb-tileindex"
)

const (
	applicationID = 0x47504B47 // "GPKG"
	userVersion   = 10200
)

// metadataDDL creates the tables every GeoPackage carries, with the three
// spatial reference systems the standard requires.
var metadataDDL = []string{
	fmt.Sprintf("PRAGMA application_id = %d", applicationID),
	fmt.Sprintf("PRAGMA user_version = %d", userVersion),
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE,
		min_y DOUBLE,
		max_x DOUBLE,
		max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`INSERT INTO gpkg_spatial_ref_sys VALUES
		('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
		('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system'),
		('WGS 84 geodetic', 4326, 'EPSG', 4326, ` + quoteString(wgs84WKT) + `, 'longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid')`,
}

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// Undefined spatial reference system ids.
const (
	srsUndefinedCartesian  = -1
	srsUndefinedGeographic = 0
)

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// fieldType maps a declared SQLite column type onto a field definition. Text
// columns declared as TEXT(n) carry their width.
func fieldType(decl string) (tileindex.FieldType, int) {
	decl = strings.ToUpper(strings.TrimSpace(decl))
	base, args, _ := strings.Cut(decl, "(")
	width := 0
	if args != "" {
		width, _ = strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(args, ")")))
	}

	switch strings.TrimSpace(base) {
	case "BOOLEAN":
		return tileindex.FieldBoolean, 0
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT":
		return tileindex.FieldInteger, 0
	case "INTEGER":
		return tileindex.FieldInteger64, 0
	case "FLOAT", "DOUBLE", "REAL":
		return tileindex.FieldReal, 0
	case "BLOB":
		return tileindex.FieldBinary, 0
	case "DATE":
		return tileindex.FieldDate, 0
	case "DATETIME":
		return tileindex.FieldDateTime, 0
	case "TEXT":
		return tileindex.FieldString, width
	}
	return tileindex.FieldString, 0
}

// columnDecl is the inverse of fieldType.
func columnDecl(f tileindex.FieldDef) string {
	switch f.Type {
	case tileindex.FieldBoolean:
		return "BOOLEAN"
	case tileindex.FieldInteger:
		return "MEDIUMINT"
	case tileindex.FieldInteger64:
		return "INTEGER"
	case tileindex.FieldReal:
		return "DOUBLE"
	case tileindex.FieldBinary:
		return "BLOB"
	case tileindex.FieldDate:
		return "DATE"
	case tileindex.FieldDateTime:
		return "DATETIME"
	}
	if f.Width > 0 {
		return fmt.Sprintf("TEXT(%d)", f.Width)
	}
	return "TEXT"
}

// tableSchema lists the attribute columns of a feature table in declaration order,
// leaving out the primary key and the geometry column.
func tableSchema(db *sql.DB, table, geomColumn string) ([]tileindex.FieldDef, string, error) {
	rows, err := db.Query("PRAGMA table_info(" + quoteIdent(table) + ")")
	if err != nil {
		return nil, "", errors.Wrapf(err, "gpkg: reading columns of %s", table)
	}
	defer rows.Close()

	var (
		fields []tileindex.FieldDef
		pk     string
	)
	for rows.Next() {
		var (
			cid        int
			name, decl string
			notNull    bool
			dflt       sql.NullString
			pkOrder    int
		)
		if err := rows.Scan(&cid, &name, &decl, &notNull, &dflt, &pkOrder); err != nil {
			return nil, "", errors.Wrapf(err, "gpkg: reading columns of %s", table)
		}
		if pkOrder > 0 && pk == "" {
			pk = name
			continue
		}
		if strings.EqualFold(name, geomColumn) {
			continue
		}
		t, width := fieldType(decl)
		fields = append(fields, tileindex.FieldDef{Name: name, Type: t, Width: width})
	}
	return fields, pk, errors.Wrapf(rows.Err(), "gpkg: reading columns of %s", table)
}

// spatialRef reads a row of gpkg_spatial_ref_sys. The undefined systems map to a
// nil reference.
func spatialRef(db *sql.DB, srsID int64) (*tileindex.SpatialRef, error) {
	if srsID == srsUndefinedCartesian || srsID == srsUndefinedGeographic {
		return nil, nil
	}

	var (
		name, org, def string
		code           int
	)
	err := db.QueryRow(`SELECT srs_name, organization, organization_coordsys_id, definition
		FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, srsID).Scan(&name, &org, &code, &def)
	if err == sql.ErrNoRows {
		return nil, errors.Newf("gpkg: unknown srs_id %d", srsID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "gpkg: reading srs_id %d", srsID)
	}

	s := &tileindex.SpatialRef{Name: name}
	if !strings.EqualFold(org, "NONE") && code > 0 {
		s.Org, s.Code = strings.ToUpper(org), code
	}
	if !strings.EqualFold(def, "undefined") {
		s.WKT = def
	}
	return s, nil
}

// ensureSRS returns the srs_id registered for s, adding a row when the system is
// not known yet.
func ensureSRS(db *sql.DB, s *tileindex.SpatialRef) (int64, error) {
	if s == nil || (s.Code <= 0 && s.WKT == "") {
		return srsUndefinedCartesian, nil
	}

	org := s.Org
	if org == "" {
		org = "EPSG"
	}
	if s.Code > 0 {
		var id int64
		err := db.QueryRow(`SELECT srs_id FROM gpkg_spatial_ref_sys
			WHERE upper(organization) = ? AND organization_coordsys_id = ?`,
			strings.ToUpper(org), s.Code).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return 0, errors.Wrap(err, "gpkg: looking up spatial reference")
		}
	}

	var id int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(srs_id), 0) + 1 FROM gpkg_spatial_ref_sys`).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "gpkg: allocating srs_id")
	}
	if s.Code > 0 {
		var taken int
		if err := db.QueryRow(`SELECT count(*) FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, s.Code).Scan(&taken); err != nil {
			return 0, errors.Wrap(err, "gpkg: allocating srs_id")
		}
		if taken == 0 {
			id = int64(s.Code)
		}
	}

	name, def, code := s.Name, s.WKT, s.Code
	if name == "" {
		name = s.String()
	}
	if def == "" {
		def = "undefined"
	}
	if code <= 0 {
		org, code = "NONE", int(id)
	}
	_, err := db.Exec(`INSERT INTO gpkg_spatial_ref_sys
		(srs_name, srs_id, organization, organization_coordsys_id, definition) VALUES (?, ?, ?, ?, ?)`,
		name, id, org, code, def)
	if err != nil {
		return 0, errors.Wrap(err, "gpkg: registering spatial reference")
	}
	return id, nil
}
