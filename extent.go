package tileindex

import "github.com/paulmach/orb"

// ExtentPolygon converts a layer extent into the rectangle stored in the catalog.
// The ring runs (minX,minY) (minX,maxY) (maxX,maxY) (maxX,minY) and closes on its
// first point.
func ExtentPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{
		orb.Ring{
			{b.Min[0], b.Min[1]},
			{b.Min[0], b.Max[1]},
			{b.Max[0], b.Max[1]},
			{b.Max[0], b.Min[1]},
			{b.Min[0], b.Min[1]},
		},
	}
}

// UnionBounds returns the bound covering every geometry. ok is false when no
// geometry was given.
func UnionBounds(geometries []orb.Geometry) (b orb.Bound, ok bool) {
	for _, g := range geometries {
		if g == nil {
			continue
		}
		if !ok {
			b, ok = g.Bound(), true
			continue
		}
		b = b.Union(g.Bound())
	}
	return b, ok
}
