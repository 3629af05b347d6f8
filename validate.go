package tileindex

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Baseline is the schema and spatial reference every catalog entry should share.
type Baseline struct {
	SRS    *SpatialRef
	Fields []FieldDef
}

// baselineState goes from unset to set exactly once.
type baselineState struct {
	set      bool
	baseline Baseline
}

func (s *baselineState) establish(srs *SpatialRef, fields []FieldDef) {
	if s.set {
		return
	}
	s.set = true
	s.baseline = Baseline{SRS: srs.Clone(), Fields: CloneFields(fields)}
}

// get returns the baseline and whether it has been established.
func (s *baselineState) get() (Baseline, bool) {
	return s.baseline, s.set
}

const (
	schemaOverrideHint = "use the accept-different-schemas option to override this check, " +
		"but the resulting tile index may be incompatible with MapServer"
	srsOverrideHint = "drop the skip-different-projection option to index such layers anyway, " +
		"but the resulting tile index may be incompatible with MapServer"
)

// validator applies the spatial reference and schema checks against the baseline.
type validator struct {
	state        baselineState
	srsPolicy    SRSPolicy
	schemaPolicy SchemaPolicy
	hinted       bool
}

func newValidator(cfg *Config) *validator {
	return &validator{srsPolicy: cfg.SRSPolicy, schemaPolicy: cfg.SchemaPolicy}
}

// verdict is the outcome of validating one layer. A non-nil srs is a spatial
// reference mismatch, a non-nil schema an attribute mismatch under enforcement.
type verdict struct {
	srs    error
	schema error
	// hint is set on the first rejection of the run; the rejecting error then
	// carries the override hint.
	hint bool
}

// rejected reports whether the layer must be left out of the catalog.
func (v verdict) rejected(policy SRSPolicy) bool {
	return v.schema != nil || (v.srs != nil && policy == SRSSkip)
}

// check validates a candidate layer. The first layer checked against an unset
// baseline becomes the baseline. The schema is not compared when the spatial
// reference check already rejects the layer.
func (v *validator) check(layer Layer) verdict {
	srs := layer.SpatialRef()
	fields := layer.Schema()

	base, ok := v.state.get()
	if !ok {
		v.state.establish(srs, fields)
		return verdict{}
	}

	var out verdict
	if !SameSpatialRef(srs, base.SRS) {
		out.srs = errors.Wrapf(ErrSRSMismatch, "layer uses %s, tileindex uses %s", srs, base.SRS)
		if v.srsPolicy == SRSSkip {
			out.hint, out.srs = v.withHint(out.srs, srsOverrideHint)
			return out
		}
	}

	if v.schemaPolicy == SchemaTolerate {
		return out
	}
	if err := compareSchema(base.Fields, fields); err != nil {
		out.hint, out.schema = v.withHint(err, schemaOverrideHint)
	}
	return out
}

// withHint attaches hint to the first rejection of the run only.
func (v *validator) withHint(err error, hint string) (bool, error) {
	if v.hinted {
		return false, err
	}
	v.hinted = true
	return true, errors.WithHint(err, hint)
}

// compareSchema returns nil when fields match want pairwise in type, width,
// precision and case-insensitive name, and otherwise an error naming the first
// difference.
func compareSchema(want, fields []FieldDef) error {
	if len(fields) != len(want) {
		return errors.Wrapf(ErrSchemaMismatch, "layer has %d attributes, catalog has %d",
			len(fields), len(want))
	}
	for i := range fields {
		w, f := want[i], fields[i]
		if w.Type != f.Type || w.Width != f.Width || w.Precision != f.Precision ||
			!strings.EqualFold(w.Name, f.Name) {
			return errors.Wrapf(ErrSchemaMismatch,
				"field %d is %s %s(%d.%d), catalog expects %s %s(%d.%d)",
				i, f.Name, f.Type, f.Width, f.Precision, w.Name, w.Type, w.Width, w.Precision)
		}
	}
	return nil
}
