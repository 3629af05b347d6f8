// Package tileindex builds and extends spatial tile indexes: catalog datasets in
// which every record points at one layer of an external vector dataset and carries
// that layer's bounding extent as a polygon. Map servers use such an index to find
// the datasets covering a region without opening every source file.
//
// Concrete formats are provided by drivers (see the flatgeobuf, geojson, gpkg and
// memory packages) collected in a Registry.
package tileindex

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Common errors returned by this package and its drivers.
var (
	ErrMalformedToken    = errors.New("tileindex: malformed location token")
	ErrNotRecognized     = errors.New("tileindex: dataset not recognized")
	ErrDriverNotFound    = errors.New("tileindex: driver not found")
	ErrCreateUnsupported = errors.New("tileindex: driver does not support dataset creation")
	ErrCatalogCreate     = errors.New("tileindex: cannot create catalog")
	ErrNoLayer           = errors.New("tileindex: catalog has no layer")
	ErrNoLocationField   = errors.New("tileindex: location field not found in catalog")
	ErrAppend            = errors.New("tileindex: failed to append catalog entry")
	ErrLayerIndex        = errors.New("tileindex: layer index out of range")
	ErrEmptyLayer        = errors.New("tileindex: layer has no features")
	ErrNoExtent          = errors.New("tileindex: layer extent unavailable")
	ErrSRSMismatch       = errors.New("tileindex: spatial reference differs from catalog")
	ErrSchemaMismatch    = errors.New("tileindex: attribute schema differs from catalog")
)

// Default values used by DefaultConfig.
const (
	DefaultFormat        = "FlatGeobuf"
	DefaultLocationField = "LOCATION"
	DefaultLayerName     = "tileindex"
	LocationFieldWidth   = 200
)

// FieldType is the attribute type of a FieldDef.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldInteger64
	FieldReal
	FieldBoolean
	FieldDate
	FieldDateTime
	FieldBinary
	FieldJSON
)

var fieldTypeNames = [...]string{
	FieldString:    "String",
	FieldInteger:   "Integer",
	FieldInteger64: "Integer64",
	FieldReal:      "Real",
	FieldBoolean:   "Boolean",
	FieldDate:      "Date",
	FieldDateTime:  "DateTime",
	FieldBinary:    "Binary",
	FieldJSON:      "JSON",
}

func (t FieldType) String() string {
	if t < 0 || int(t) >= len(fieldTypeNames) {
		return "Unknown"
	}
	return fieldTypeNames[t]
}

// FieldDef describes one attribute column of a layer. A zero Width or Precision
// means the format does not declare one.
type FieldDef struct {
	Name      string
	Type      FieldType
	Width     int
	Precision int
}

// LocationField returns the field definition used for the location column of a
// newly created catalog layer.
func LocationField(name string) FieldDef {
	return FieldDef{Name: name, Type: FieldString, Width: LocationFieldWidth}
}

// CloneFields returns an owned copy of a schema.
func CloneFields(fields []FieldDef) []FieldDef {
	if fields == nil {
		return nil
	}
	out := make([]FieldDef, len(fields))
	copy(out, fields)
	return out
}

// FieldIndex returns the position of the named field, compared case-insensitively,
// or -1.
func FieldIndex(fields []FieldDef, name string) int {
	for i, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// SRSPolicy controls what happens to a layer whose spatial reference differs from
// the catalog's.
type SRSPolicy int

const (
	// SRSTolerate warns and indexes the layer anyway.
	SRSTolerate SRSPolicy = iota
	// SRSSkip warns and leaves the layer out.
	SRSSkip
)

// SchemaPolicy controls the attribute schema check.
type SchemaPolicy int

const (
	// SchemaEnforce skips layers whose schema differs from the catalog's.
	SchemaEnforce SchemaPolicy = iota
	// SchemaTolerate disables the schema check entirely.
	SchemaTolerate
)

// Source is one input dataset. A non-empty Filter replaces the run-wide filter for
// this dataset.
type Source struct {
	Path   string
	Filter LayerFilter
}

// Config is the fully resolved configuration of one indexing run.
type Config struct {
	Output        string       // Catalog path
	Format        string       // Driver used when the catalog has to be created
	LocationField string       // Name of the location column
	AbsolutePaths bool         // Rewrite relative source paths against the working directory
	SRSPolicy     SRSPolicy    // Spatial reference mismatch handling
	SchemaPolicy  SchemaPolicy // Attribute schema mismatch handling
	Filter        LayerFilter  // Run-wide layer filter, empty selects every layer
	Sources       []Source     // Input datasets, processed in order
	Workers       int          // Datasets scanned concurrently (<= 1 is sequential)
}

// DefaultConfig returns a configuration with the stock defaults and no sources.
func DefaultConfig() *Config {
	return &Config{
		Format:        DefaultFormat,
		LocationField: DefaultLocationField,
		SRSPolicy:     SRSTolerate,
		SchemaPolicy:  SchemaEnforce,
		Workers:       1,
	}
}

// SourcePaths builds sources that share the run-wide filter.
func SourcePaths(paths ...string) []Source {
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, Source{Path: p})
	}
	return sources
}

// Result summarises a run.
type Result struct {
	Existing       int // Entries present before the run
	Added          int // Entries appended
	Duplicates     int // Layers already present in the catalog
	Skipped        int // Layers rejected by validation or extent failure
	FailedDatasets int // Sources that could not be opened
}
