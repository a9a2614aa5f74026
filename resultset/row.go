package resultset

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/efreet/mysqlproxy/protoerr"
	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/wire"
)

// Value is one column value in a row, as handed to the result-set builder
// by the upstream adapter. Raw holds a Go-native representation (int64,
// float64, []byte/string, time.Time, or a Duration for TIME columns);
// it is ignored when Null is true.
type Value struct {
	Null bool
	Raw  any
}

// NullValue is the SQL NULL value.
func NullValue() Value { return Value{Null: true} }

// Text renders v as the UTF-8 textual form MySQL's text protocol expects.
// Numeric types use the shortest canonical decimal form.
func (v Value) Text() string {
	if v.Null {
		return ""
	}
	switch x := v.Raw.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}

// EncodeTextRow renders one row in the text protocol: per value, 0xFB if
// NULL, else a LenEncStr of the textual rendering.
func EncodeTextRow(values []Value) []byte {
	w := wire.NewWriter()
	for _, v := range values {
		if v.Null {
			w.WriteFixedInt(1, wire.NullSentinel)
			continue
		}
		w.WriteLenEncStr(v.Text())
	}
	return w.Bytes()
}

// DecodeTextRow parses a text-protocol row packet payload into n values,
// needed when forward_auth mode relays a real upstream server's result
// set back through the builder instead of generating rows itself.
func DecodeTextRow(payload []byte, n int) ([]Value, error) {
	r := wire.NewReader(payload)
	values := make([]Value, n)
	for i := 0; i < n; i++ {
		b, err := r.Peek()
		if err != nil {
			return nil, err
		}
		if b == wire.NullSentinel {
			if _, err := r.ReadFixedInt(1); err != nil {
				return nil, err
			}
			values[i] = NullValue()
			continue
		}
		s, err := r.ReadLenEncStr()
		if err != nil {
			return nil, err
		}
		values[i] = Value{Raw: s}
	}
	return values, nil
}

// EncodeBinaryRow renders one row in the binary protocol: a NULL bitmap
// followed by the per-type binary encoding for each non-null column, per
// spec.md §4.4's table.
func EncodeBinaryRow(values []Value, types []protocol.ColumnType) ([]byte, error) {
	if len(values) != len(types) {
		return nil, protoerr.New(protoerr.MalformedPacket, "value/type count mismatch building binary row")
	}
	w := wire.NewWriter()
	w.WriteFixedStr(nullBitmap(values))
	for i, v := range values {
		if v.Null {
			continue
		}
		if err := encodeBinaryValue(w, types[i], v.Raw); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// nullBitmap builds the NULL bitmap for the binary row protocol:
// ceil((n+9)/8) bytes, where bit (i+2) of the bitmap (counting from the
// LSB of byte 0) marks column i as NULL, per spec.md §3/§4.4.
func nullBitmap(values []Value) []byte {
	n := len(values)
	bitmap := make([]byte, (n+9+7)/8)
	for i, v := range values {
		if !v.Null {
			continue
		}
		bit := i + 2
		bitmap[bit/8] |= 1 << uint(bit%8)
	}
	return bitmap
}

func encodeBinaryValue(w *wire.Writer, ct protocol.ColumnType, raw any) error {
	if ct.IsLenEncStr() {
		w.WriteLenEncStr(toText(raw))
		return nil
	}
	switch ct {
	case protocol.ColumnTypeLongLong:
		w.WriteFixedInt(8, toUint64(raw))
	case protocol.ColumnTypeLong, protocol.ColumnTypeInt24:
		w.WriteFixedInt(4, toUint64(raw))
	case protocol.ColumnTypeShort, protocol.ColumnTypeYear:
		w.WriteFixedInt(2, toUint64(raw))
	case protocol.ColumnTypeTiny:
		w.WriteFixedInt(1, toUint64(raw))
	case protocol.ColumnTypeDouble:
		w.WriteFixedInt(8, math.Float64bits(toFloat64(raw)))
	case protocol.ColumnTypeFloat:
		w.WriteFixedInt(4, uint64(math.Float32bits(float32(toFloat64(raw)))))
	case protocol.ColumnTypeDate, protocol.ColumnTypeDatetime, protocol.ColumnTypeTimestamp:
		encodeBinaryDatetime(w, raw)
	case protocol.ColumnTypeTime:
		encodeBinaryTime(w, raw)
	default:
		return protoerr.New(protoerr.MalformedPacket, fmt.Sprintf("unsupported binary column type %d", ct))
	}
	return nil
}

func encodeBinaryDatetime(w *wire.Writer, raw any) {
	t, ok := raw.(time.Time)
	if !ok {
		w.WriteFixedInt(1, 0)
		return
	}
	w.WriteFixedInt(1, 11)
	w.WriteFixedInt(2, uint64(t.Year()))
	w.WriteFixedInt(1, uint64(t.Month()))
	w.WriteFixedInt(1, uint64(t.Day()))
	w.WriteFixedInt(1, uint64(t.Hour()))
	w.WriteFixedInt(1, uint64(t.Minute()))
	w.WriteFixedInt(1, uint64(t.Second()))
	w.WriteFixedInt(4, uint64(t.Nanosecond()/1000))
}

func encodeBinaryTime(w *wire.Writer, raw any) {
	d, ok := raw.(time.Duration)
	if !ok {
		w.WriteFixedInt(1, 0)
		return
	}
	negative := d < 0
	if negative {
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	micros := d / time.Microsecond

	w.WriteFixedInt(1, 12)
	if negative {
		w.WriteFixedInt(1, 1)
	} else {
		w.WriteFixedInt(1, 0)
	}
	w.WriteFixedInt(4, uint64(days))
	w.WriteFixedInt(1, uint64(hours))
	w.WriteFixedInt(1, uint64(minutes))
	w.WriteFixedInt(1, uint64(seconds))
	w.WriteFixedInt(4, uint64(micros))
}

func toText(raw any) string { return Value{Raw: raw}.Text() }

func toUint64(raw any) uint64 {
	switch x := raw.(type) {
	case int64:
		return uint64(x)
	case uint64:
		return x
	case int:
		return uint64(x)
	case float64:
		return uint64(x)
	default:
		return 0
	}
}

func toFloat64(raw any) float64 {
	switch x := raw.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
