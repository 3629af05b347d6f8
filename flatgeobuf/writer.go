package flatgeobuf

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// WriteFeatures writes a FeatureCollection to FlatGeobuf format. Properties are
// encoded against opts.Columns; properties without a column are dropped. Features
// without a geometry FlatGeobuf can hold are skipped. An empty collection produces
// a valid header-only file, which keeps the schema of an empty layer.
func WriteFeatures(w io.Writer, fc *geojson.FeatureCollection, opts *Options) error {
	if fc == nil {
		return ErrNilCollection
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	cols, err := infoColumns(opts.Columns)
	if err != nil {
		return err
	}

	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f != nil && f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetGeometryType(commonGeometryType(geoms))
	if opts.Name != "" {
		header.SetName(opts.Name)
	}
	if opts.Description != "" {
		header.SetDescription(opts.Description)
	}
	if len(cols) > 0 {
		header.SetColumns(buildColumns(builder, opts.Columns, cols))
	}
	if c := opts.CRS; c != nil {
		crs := writer.NewCrs(builder)
		org := c.Org
		if org == "" {
			org = "EPSG"
		}
		crs.SetOrg(org)
		if c.Code > 0 {
			crs.SetCode(int32(c.Code))
		}
		if c.Name != "" {
			crs.SetName(c.Name)
		}
		// The WKT travels in the description; Header recovers it from there.
		switch {
		case c.Description != "":
			crs.SetDescription(c.Description)
		case c.WKT != "":
			crs.SetDescription(c.WKT)
		}
		header.SetCrs(crs)
	}

	gen := &featureGenerator{features: fc.Features, columns: cols}
	fgbWriter := writer.NewWriter(header, opts.IncludeIndex && len(geoms) > 0, gen, nil)
	if _, err := fgbWriter.Write(w); err != nil {
		return errors.Wrap(err, "flatgeobuf: writing")
	}
	return nil
}

func buildColumns(builder *flatbuffers.Builder, infos []ColumnInfo, cols []column) []*writer.Column {
	out := make([]*writer.Column, 0, len(cols))
	for i, c := range cols {
		col := writer.NewColumn(builder)
		col.SetName(c.name)
		title := infos[i].Title
		if title == "" {
			title = c.name
		}
		col.SetTitle(title)
		col.SetType(c.typ)
		col.SetNullable(true)
		out = append(out, col)
	}
	return out
}

// featureGenerator feeds a FeatureCollection to the library writer.
type featureGenerator struct {
	features []*geojson.Feature
	columns  []column
	index    int
}

func (g *featureGenerator) Generate() *writer.Feature {
	for g.index < len(g.features) {
		f := g.features[g.index]
		g.index++
		if f == nil || f.Geometry == nil {
			continue
		}

		builder := flatbuffers.NewBuilder(1024)
		geom := geometryToFGB(f.Geometry, builder)
		if geom == nil {
			continue
		}

		feature := writer.NewFeature(builder)
		feature.SetGeometry(geom)
		if props := encodeProperties(f.Properties, g.columns); len(props) > 0 {
			feature.SetProperties(props)
		}
		return feature
	}
	return nil
}
