package flatgeobuf

import (
	"strings"

	tileindex "github.com/tingold/orb-tileindex"
)

// fieldTypes maps FlatGeobuf column types onto tile index field types. Narrow
// integer types widen to Integer, unsigned 32-bit values need Integer64.
var fieldTypes = map[string]tileindex.FieldType{
	"bool":     tileindex.FieldBoolean,
	"byte":     tileindex.FieldInteger,
	"ubyte":    tileindex.FieldInteger,
	"short":    tileindex.FieldInteger,
	"ushort":   tileindex.FieldInteger,
	"int":      tileindex.FieldInteger,
	"uint":     tileindex.FieldInteger64,
	"long":     tileindex.FieldInteger64,
	"ulong":    tileindex.FieldInteger64,
	"float":    tileindex.FieldReal,
	"double":   tileindex.FieldReal,
	"string":   tileindex.FieldString,
	"json":     tileindex.FieldJSON,
	"datetime": tileindex.FieldDateTime,
	"binary":   tileindex.FieldBinary,
}

var columnTypes = map[tileindex.FieldType]string{
	tileindex.FieldString:    "String",
	tileindex.FieldInteger:   "Int",
	tileindex.FieldInteger64: "Long",
	tileindex.FieldReal:      "Double",
	tileindex.FieldBoolean:   "Bool",
	tileindex.FieldDate:      "DateTime",
	tileindex.FieldDateTime:  "DateTime",
	tileindex.FieldBinary:    "Binary",
	tileindex.FieldJSON:      "Json",
}

func fieldDef(c ColumnInfo) tileindex.FieldDef {
	t, ok := fieldTypes[strings.ToLower(c.Type)]
	if !ok {
		t = tileindex.FieldString
	}
	return tileindex.FieldDef{
		Name:      c.Name,
		Type:      t,
		Width:     c.Width,
		Precision: c.Precision,
	}
}

func fieldDefs(cols []ColumnInfo) []tileindex.FieldDef {
	out := make([]tileindex.FieldDef, len(cols))
	for i, c := range cols {
		out[i] = fieldDef(c)
	}
	return out
}

func columnInfo(f tileindex.FieldDef) ColumnInfo {
	return ColumnInfo{
		Name:      f.Name,
		Type:      columnTypes[f.Type],
		Width:     f.Width,
		Precision: f.Precision,
		Nullable:  true,
	}
}

// spatialRef converts a header CRS. A CRS without code, name or WKT is treated as
// absent.
func spatialRef(c *CRS) *tileindex.SpatialRef {
	if c == nil || (c.Code <= 0 && c.Name == "" && c.WKT == "") {
		return nil
	}
	return &tileindex.SpatialRef{Org: c.Org, Code: c.Code, Name: c.Name, WKT: c.WKT}
}

func crsFromSpatialRef(s *tileindex.SpatialRef) *CRS {
	if s == nil {
		return nil
	}
	return &CRS{Org: s.Org, Code: s.Code, Name: s.Name, WKT: s.WKT}
}
