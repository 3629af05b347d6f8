package gpkg

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// ErrInvalidBlob is returned for geometry values that are not GeoPackage binary.
var ErrInvalidBlob = errors.New("gpkg: invalid geometry blob")

// Header flag bits of a GeoPackage geometry blob.
const (
	flagLittleEndian = 1 << 0
	flagEmpty        = 1 << 4
	envelopeShift    = 1
	envelopeMask     = 0x7 << envelopeShift
)

// envelopeSizes is indexed by envelope contents indicator code.
var envelopeSizes = [...]int{0, 32, 48, 48, 64}

// encodeBlob returns the GeoPackage binary form of g: the "GP" header with an
// XY envelope, followed by little-endian WKB.
func encodeBlob(g orb.Geometry, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, errors.Wrap(err, "gpkg: encoding geometry")
	}

	var buf bytes.Buffer
	buf.Grow(8 + 32 + len(body))
	buf.Write([]byte{'G', 'P', 0, flagLittleEndian | 1<<envelopeShift})
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(srsID)))

	b := g.Bound()
	for _, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
		buf.Write(binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)))
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// blob is a decoded geometry value.
type blob struct {
	srsID    int32
	envelope *orb.Bound
	geometry orb.Geometry // nil for empty geometries
}

// decodeBlob parses a GeoPackage geometry value.
func decodeBlob(data []byte) (*blob, error) {
	if len(data) < 8 || data[0] != 'G' || data[1] != 'P' {
		return nil, ErrInvalidBlob
	}
	flags := data[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}

	code := int(flags&envelopeMask) >> envelopeShift
	if code >= len(envelopeSizes) {
		return nil, errors.Wrapf(ErrInvalidBlob, "envelope code %d", code)
	}
	size := envelopeSizes[code]
	if len(data) < 8+size {
		return nil, errors.Wrap(ErrInvalidBlob, "truncated envelope")
	}

	out := &blob{srsID: int32(order.Uint32(data[4:8]))}
	if flags&flagEmpty != 0 {
		return out, nil
	}
	if size > 0 {
		env := data[8 : 8+size]
		f := func(i int) float64 { return math.Float64frombits(order.Uint64(env[8*i:])) }
		out.envelope = &orb.Bound{Min: orb.Point{f(0), f(2)}, Max: orb.Point{f(1), f(3)}}
	}

	g, err := wkb.Unmarshal(data[8+size:])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "gpkg: decoding geometry"), ErrInvalidBlob)
	}
	out.geometry = g
	return out, nil
}

// bound returns the extent of the value, preferring the stored envelope. ok is
// false for empty geometries.
func (b *blob) bound() (orb.Bound, bool) {
	if b.envelope != nil {
		return *b.envelope, true
	}
	if b.geometry == nil {
		return orb.Bound{}, false
	}
	return b.geometry.Bound(), true
}
