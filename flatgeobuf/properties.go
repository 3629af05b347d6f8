package flatgeobuf

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb/geojson"
)

// column is the part of a column definition the property codec needs.
type column struct {
	name string
	typ  flattypes.ColumnType
}

func headerColumns(h *flattypes.Header) []column {
	cols := make([]column, 0, h.ColumnsLength())
	for i := 0; i < h.ColumnsLength(); i++ {
		var c flattypes.Column
		if h.Columns(&c, i) {
			cols = append(cols, column{name: string(c.Name()), typ: c.Type()})
		}
	}
	return cols
}

func infoColumns(infos []ColumnInfo) ([]column, error) {
	cols := make([]column, len(infos))
	for i, info := range infos {
		t, err := parseColumnType(info.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", info.Name)
		}
		cols[i] = column{name: info.Name, typ: t}
	}
	return cols, nil
}

func parseColumnType(name string) (flattypes.ColumnType, error) {
	for t, n := range flattypes.EnumNamesColumnType {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownColumn, "%q", name)
}

// encodeProperties encodes the values of props that have a column, in column
// order. Each value is written as its uint16 column index followed by the value;
// strings, JSON, date-times and binaries carry a uint32 byte length prefix.
// Values that cannot be converted to the column type are left out.
func encodeProperties(props geojson.Properties, cols []column) []byte {
	if len(props) == 0 || len(cols) == 0 {
		return nil
	}

	var buf bytes.Buffer
	var scratch [8]byte
	for i, col := range cols {
		value, ok := props[col.name]
		if !ok || value == nil {
			continue
		}
		encoded := encodeValue(value, col.typ)
		if encoded == nil {
			continue
		}
		binary.LittleEndian.PutUint16(scratch[:2], uint16(i))
		buf.Write(scratch[:2])
		buf.Write(encoded)
	}
	return buf.Bytes()
}

func encodeValue(value interface{}, t flattypes.ColumnType) []byte {
	switch t {
	case flattypes.ColumnTypeBool:
		v, ok := value.(bool)
		if !ok {
			return nil
		}
		if v {
			return []byte{1}
		}
		return []byte{0}

	case flattypes.ColumnTypeByte, flattypes.ColumnTypeUByte:
		v, ok := toInt64(value)
		if !ok {
			return nil
		}
		return []byte{byte(v)}

	case flattypes.ColumnTypeShort, flattypes.ColumnTypeUShort:
		v, ok := toInt64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(v))

	case flattypes.ColumnTypeInt, flattypes.ColumnTypeUInt:
		v, ok := toInt64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(v))

	case flattypes.ColumnTypeLong, flattypes.ColumnTypeULong:
		v, ok := toInt64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint64(nil, uint64(v))

	case flattypes.ColumnTypeFloat:
		v, ok := toFloat64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(v)))

	case flattypes.ColumnTypeDouble:
		v, ok := toFloat64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))

	case flattypes.ColumnTypeString, flattypes.ColumnTypeDateTime:
		return lengthPrefixed([]byte(toString(value)))

	case flattypes.ColumnTypeJson:
		b, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return lengthPrefixed(b)

	case flattypes.ColumnTypeBinary:
		b, ok := value.([]byte)
		if !ok {
			return nil
		}
		return lengthPrefixed(b)
	}
	return nil
}

func lengthPrefixed(b []byte) []byte {
	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(b)), uint32(len(b)))
	return append(out, b...)
}

// decodeProperties decodes a property buffer. Decoding stops at the first
// truncated value or unknown column index.
func decodeProperties(data []byte, cols []column) geojson.Properties {
	if len(data) == 0 || len(cols) == 0 {
		return nil
	}

	props := make(geojson.Properties)
	for len(data) >= 2 {
		idx := int(binary.LittleEndian.Uint16(data))
		data = data[2:]
		if idx >= len(cols) {
			break
		}

		value, n := decodeValue(data, cols[idx].typ)
		if n == 0 {
			break
		}
		props[cols[idx].name] = value
		data = data[n:]
	}
	return props
}

// decodeValue reads one value and returns it with the number of bytes consumed,
// zero when data is too short.
func decodeValue(data []byte, t flattypes.ColumnType) (interface{}, int) {
	need := func(n int) bool { return len(data) >= n }

	switch t {
	case flattypes.ColumnTypeBool:
		if !need(1) {
			return nil, 0
		}
		return data[0] != 0, 1
	case flattypes.ColumnTypeByte:
		if !need(1) {
			return nil, 0
		}
		return int8(data[0]), 1
	case flattypes.ColumnTypeUByte:
		if !need(1) {
			return nil, 0
		}
		return data[0], 1
	case flattypes.ColumnTypeShort:
		if !need(2) {
			return nil, 0
		}
		return int16(binary.LittleEndian.Uint16(data)), 2
	case flattypes.ColumnTypeUShort:
		if !need(2) {
			return nil, 0
		}
		return binary.LittleEndian.Uint16(data), 2
	case flattypes.ColumnTypeInt:
		if !need(4) {
			return nil, 0
		}
		return int32(binary.LittleEndian.Uint32(data)), 4
	case flattypes.ColumnTypeUInt:
		if !need(4) {
			return nil, 0
		}
		return binary.LittleEndian.Uint32(data), 4
	case flattypes.ColumnTypeLong:
		if !need(8) {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint64(data)), 8
	case flattypes.ColumnTypeULong:
		if !need(8) {
			return nil, 0
		}
		return binary.LittleEndian.Uint64(data), 8
	case flattypes.ColumnTypeFloat:
		if !need(4) {
			return nil, 0
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), 4
	case flattypes.ColumnTypeDouble:
		if !need(8) {
			return nil, 0
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8

	case flattypes.ColumnTypeString, flattypes.ColumnTypeDateTime, flattypes.ColumnTypeJson, flattypes.ColumnTypeBinary:
		if !need(4) {
			return nil, 0
		}
		size := int(binary.LittleEndian.Uint32(data))
		if !need(4 + size) {
			return nil, 0
		}
		raw := data[4 : 4+size]

		switch t {
		case flattypes.ColumnTypeJson:
			var v interface{}
			if err := json.Unmarshal(raw, &v); err != nil {
				return string(raw), 4 + size
			}
			return v, 4 + size
		case flattypes.ColumnTypeBinary:
			return append([]byte(nil), raw...), 4 + size
		default:
			return string(raw), 4 + size
		}
	}
	return nil, 0
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float32:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
