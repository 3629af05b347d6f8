// Package flatgeobuf reads and writes FlatGeobuf files with orb geometries and
// registers the format as a tile index driver. A FlatGeobuf file holds exactly one
// layer, so every source dataset exposes a single layer and every catalog is one
// index layer.
package flatgeobuf

import (
	"github.com/cockroachdb/errors"
)

// Common errors returned by this package.
var (
	ErrNilCollection   = errors.New("flatgeobuf: nil feature collection")
	ErrUnsupportedType = errors.New("flatgeobuf: unsupported geometry type")
	ErrInvalidData     = errors.New("flatgeobuf: invalid data")
	ErrNoIndex         = errors.New("flatgeobuf: file has no spatial index")
	ErrUnknownColumn   = errors.New("flatgeobuf: unknown column type")
)

// CRS represents a coordinate reference system.
type CRS struct {
	Org         string // Authority, "EPSG" when empty
	Code        int    // Authority code (e.g., 4326 for WGS84)
	Name        string // CRS name
	Description string // CRS description
	WKT         string // Well-Known Text representation
}

// WGS84 returns the standard WGS84 CRS (EPSG:4326).
func WGS84() *CRS {
	return &CRS{
		Org:  "EPSG",
		Code: 4326,
		Name: "WGS 84",
	}
}

// Options configures FlatGeobuf writing.
type Options struct {
	Name         string       // Layer name
	Description  string       // Layer description
	IncludeIndex bool         // Include the packed R-tree; ignored for empty collections
	CRS          *CRS         // Coordinate reference system (optional)
	Columns      []ColumnInfo // Property schema, in file order
}

// DefaultOptions returns default options for writing FlatGeobuf files.
func DefaultOptions() *Options {
	return &Options{
		IncludeIndex: true,
	}
}

// ColumnInfo describes a property column in a FlatGeobuf file. Width, Precision
// and Scale are zero when the file does not declare them.
type ColumnInfo struct {
	Name        string // Column name
	Type        string // Column type ("Bool", "Int", "Long", "Double", "String", "Json", etc.)
	Title       string // Column title (human-readable)
	Description string // Column description
	Width       int
	Precision   int
	Scale       int
	Nullable    bool // Whether the column can contain null values
}

// Header contains metadata about a FlatGeobuf file.
type Header struct {
	Name          string       // Layer name
	Description   string       // Layer description
	GeometryType  string       // Geometry type ("Point", "Polygon", "Unknown", etc.)
	FeaturesCount uint64       // Number of features in the file
	Envelope      []float64    // Bounding box [minX, minY, maxX, maxY], nil when absent
	CRS           *CRS         // Coordinate reference system
	HasIndex      bool         // Whether the file has a spatial index
	Columns       []ColumnInfo // Property column schema
}
