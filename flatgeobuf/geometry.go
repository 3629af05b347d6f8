package flatgeobuf

import (
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

// geometryType returns the FlatGeobuf type of an orb geometry.
func geometryType(geom orb.Geometry) flattypes.GeometryType {
	switch geom.(type) {
	case orb.Point:
		return flattypes.GeometryTypePoint
	case orb.MultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case orb.LineString:
		return flattypes.GeometryTypeLineString
	case orb.MultiLineString:
		return flattypes.GeometryTypeMultiLineString
	case orb.Ring, orb.Polygon, orb.Bound:
		return flattypes.GeometryTypePolygon
	case orb.MultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	case orb.Collection:
		return flattypes.GeometryTypeGeometryCollection
	default:
		return flattypes.GeometryTypeUnknown
	}
}

// commonGeometryType returns the shared type of all geometries, or Unknown when
// they differ. Nil geometries are ignored.
func commonGeometryType(geoms []orb.Geometry) flattypes.GeometryType {
	common := flattypes.GeometryTypeUnknown
	seen := false
	for _, g := range geoms {
		if g == nil {
			continue
		}
		t := geometryType(g)
		if !seen {
			common, seen = t, true
			continue
		}
		if t != common {
			return flattypes.GeometryTypeUnknown
		}
	}
	return common
}

// geometryToFGB converts an orb geometry for the writer. It returns nil for
// geometries FlatGeobuf cannot hold.
func geometryToFGB(geom orb.Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	if geom == nil {
		return nil
	}

	g := writer.NewGeometry(builder)

	switch v := geom.(type) {
	case orb.Point:
		g.SetType(flattypes.GeometryTypePoint)
		g.SetXY([]float64{v[0], v[1]})

	case orb.MultiPoint:
		g.SetType(flattypes.GeometryTypeMultiPoint)
		g.SetXY(flatten(v))

	case orb.LineString:
		g.SetType(flattypes.GeometryTypeLineString)
		g.SetXY(flatten(v))

	case orb.MultiLineString:
		g.SetType(flattypes.GeometryTypeMultiLineString)
		parts := make([][]orb.Point, len(v))
		for i, ls := range v {
			parts[i] = ls
		}
		xy, ends := flattenParts(parts)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.Ring:
		return geometryToFGB(orb.Polygon{v}, builder)

	case orb.Bound:
		return geometryToFGB(v.ToPolygon(), builder)

	case orb.Polygon:
		setPolygon(g, v)

	case orb.MultiPolygon:
		g.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			pg := writer.NewGeometry(builder)
			setPolygon(pg, poly)
			parts = append(parts, *pg)
		}
		g.SetParts(parts)

	case orb.Collection:
		g.SetType(flattypes.GeometryTypeGeometryCollection)
		parts := make([]writer.Geometry, 0, len(v))
		for _, child := range v {
			if cg := geometryToFGB(child, builder); cg != nil {
				parts = append(parts, *cg)
			}
		}
		g.SetParts(parts)

	default:
		return nil
	}

	return g
}

func setPolygon(g *writer.Geometry, poly orb.Polygon) {
	parts := make([][]orb.Point, len(poly))
	for i, r := range poly {
		parts[i] = r
	}
	xy, ends := flattenParts(parts)
	g.SetType(flattypes.GeometryTypePolygon)
	g.SetXY(xy)
	g.SetEnds(ends)
}

func flatten[P ~[]orb.Point](pts P) []float64 {
	xy := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

// flattenParts packs rings or lines into one coordinate array plus the
// cumulative end offset of each part, counted in points.
func flattenParts(parts [][]orb.Point) ([]float64, []uint32) {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	xy := make([]float64, 0, n*2)
	ends := make([]uint32, 0, len(parts))
	for _, p := range parts {
		xy = append(xy, flatten(p)...)
		ends = append(ends, uint32(len(xy)/2))
	}
	return xy, ends
}

// geometryFromFGB converts a FlatGeobuf geometry to an orb geometry, or nil for
// unsupported types.
func geometryFromFGB(g *flattypes.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}

	switch g.Type() {
	case flattypes.GeometryTypePoint:
		if g.XyLength() < 2 {
			return orb.Point{}
		}
		return orb.Point{g.Xy(0), g.Xy(1)}

	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(points(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeLineString:
		return orb.LineString(points(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeMultiLineString:
		parts := split(g)
		mls := make(orb.MultiLineString, len(parts))
		for i, p := range parts {
			mls[i] = orb.LineString(p)
		}
		return mls

	case flattypes.GeometryTypePolygon:
		return polygonFromFGB(g)

	case flattypes.GeometryTypeMultiPolygon:
		if g.PartsLength() == 0 {
			if poly := polygonFromFGB(g); len(poly) > 0 {
				return orb.MultiPolygon{poly}
			}
			return orb.MultiPolygon{}
		}
		mp := make(orb.MultiPolygon, 0, g.PartsLength())
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if poly := polygonFromFGB(&part); len(poly) > 0 {
					mp = append(mp, poly)
				}
			}
		}
		return mp

	case flattypes.GeometryTypeGeometryCollection:
		coll := make(orb.Collection, 0, g.PartsLength())
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if child := geometryFromFGB(&part); child != nil {
					coll = append(coll, child)
				}
			}
		}
		return coll

	default:
		return nil
	}
}

func polygonFromFGB(g *flattypes.Geometry) orb.Polygon {
	parts := split(g)
	poly := make(orb.Polygon, len(parts))
	for i, p := range parts {
		poly[i] = orb.Ring(p)
	}
	return poly
}

// points reads the coordinates of points [start, end).
func points(g *flattypes.Geometry, start, end int) []orb.Point {
	if n := g.XyLength() / 2; end > n {
		end = n
	}
	if start >= end {
		return []orb.Point{}
	}
	out := make([]orb.Point, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)})
	}
	return out
}

// split cuts the coordinate array at the geometry's end offsets. Without ends the
// whole array is one part.
func split(g *flattypes.Geometry) [][]orb.Point {
	total := g.XyLength() / 2
	if total == 0 {
		return nil
	}
	if g.EndsLength() == 0 {
		return [][]orb.Point{points(g, 0, total)}
	}

	parts := make([][]orb.Point, 0, g.EndsLength())
	start := 0
	for i := 0; i < g.EndsLength(); i++ {
		end := int(g.Ends(i))
		parts = append(parts, points(g, start, end))
		start = end
	}
	return parts
}
