// Package wire implements the scalar and composite MySQL wire primitives:
// fixed-length integers, length-encoded integers, fixed-length strings,
// NUL-terminated strings, length-encoded strings, rest-of-packet strings,
// and key/value attribute lists. All integers are little-endian.
package wire

import (
	"bytes"
	"fmt"

	"github.com/efreet/mysqlproxy/protoerr"
)

// NullSentinel is the LenEncInt sentinel byte a row encoder uses to mark a
// column value as SQL NULL. It is not a valid LenEncInt length prefix;
// interpreting it is the row layer's job, not this package's.
const NullSentinel = 0xFB

// Writer accumulates encoded wire primitives into a single buffer.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// WriteFixedInt writes a little-endian integer occupying exactly n bytes,
// n in {1,2,3,4,8}.
func (w *Writer) WriteFixedInt(n int, v uint64) {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	w.buf.Write(b)
}

// WriteLenEncInt writes v using the LenEncInt encoding table in §4.1:
// v<0xFB -> 1 byte; v<2^16 -> 0xFC+2 bytes; v<2^24 -> 0xFD+3 bytes;
// v<2^64 -> 0xFE+8 bytes.
func (w *Writer) WriteLenEncInt(v uint64) {
	switch {
	case v < 0xFB:
		w.buf.WriteByte(byte(v))
	case v < 1<<16:
		w.buf.WriteByte(0xFC)
		w.WriteFixedInt(2, v)
	case v < 1<<24:
		w.buf.WriteByte(0xFD)
		w.WriteFixedInt(3, v)
	default:
		w.buf.WriteByte(0xFE)
		w.WriteFixedInt(8, v)
	}
}

// WriteFixedStr writes b verbatim.
func (w *Writer) WriteFixedStr(b []byte) { w.buf.Write(b) }

// WriteNulStr writes s followed by a terminating 0x00.
func (w *Writer) WriteNulStr(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0x00)
}

// WriteLenEncStr writes a LenEncInt byte length followed by s's bytes.
func (w *Writer) WriteLenEncStr(s string) {
	w.WriteLenEncInt(uint64(len(s)))
	w.buf.WriteString(s)
}

// WriteRestStr writes b verbatim with no length prefix; the reader is
// expected to consume to the end of the enclosing payload.
func (w *Writer) WriteRestStr(b []byte) { w.buf.Write(b) }

// Reader decodes wire primitives from a fixed in-memory payload.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential primitive decoding.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// Peek returns the next byte without consuming it, or an error if the
// reader is exhausted.
func (r *Reader) Peek() (byte, error) {
	if r.Remaining() < 1 {
		return 0, protoerr.New(protoerr.MalformedPacket, "peek past end of payload")
	}
	return r.data[r.pos], nil
}

// ReadFixedInt decodes a little-endian integer of exactly n bytes.
func (r *Reader) ReadFixedInt(n int) (uint64, error) {
	b, err := r.readN(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v, nil
}

// ReadLenEncInt decodes a LenEncInt per the §4.1 sentinel table. A
// sentinel of 0xFB is rejected here; callers decoding row values must
// peek for it themselves before calling ReadLenEncInt.
func (r *Reader) ReadLenEncInt() (uint64, error) {
	sentinel, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case sentinel < 0xFB:
		return uint64(sentinel), nil
	case sentinel == NullSentinel:
		return 0, protoerr.New(protoerr.MalformedPacket, "0xFB is a row-NULL marker, not a LenEncInt")
	case sentinel == 0xFC:
		return r.ReadFixedInt(2)
	case sentinel == 0xFD:
		return r.ReadFixedInt(3)
	case sentinel == 0xFE:
		return r.ReadFixedInt(8)
	}
	return 0, protoerr.New(protoerr.MalformedPacket, fmt.Sprintf("invalid LenEncInt sentinel 0x%02X", sentinel))
}

// ReadFixedStr reads exactly n bytes.
func (r *Reader) ReadFixedStr(n int) ([]byte, error) { return r.readN(n) }

// ReadNulStr reads bytes up to and including a terminating 0x00.
func (r *Reader) ReadNulStr() (string, error) {
	start := r.pos
	for r.pos < len(r.data) {
		if r.data[r.pos] == 0x00 {
			s := string(r.data[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	r.pos = start
	return "", protoerr.New(protoerr.MalformedPacket, "unterminated NulStr")
}

// ReadLenEncStr reads a LenEncInt length followed by that many bytes.
func (r *Reader) ReadLenEncStr() (string, error) {
	n, err := r.ReadLenEncInt()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadRestStr consumes everything remaining in the payload.
func (r *Reader) ReadRestStr() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

// ReadKVList reads a KVList body: a LenEncInt total byte length, then
// repeated (LenEncStr key, LenEncStr value) pairs until that many bytes
// have been consumed.
func (r *Reader) ReadKVList() (map[string]string, error) {
	total, err := r.ReadLenEncInt()
	if err != nil {
		return nil, err
	}
	end := r.pos + int(total)
	if end > len(r.data) {
		return nil, protoerr.New(protoerr.MalformedPacket, "KVList body exceeds payload")
	}
	out := make(map[string]string)
	for r.pos < end {
		k, err := r.ReadLenEncStr()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadLenEncStr()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *Reader) readByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, protoerr.New(protoerr.MalformedPacket, "read past end of payload")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) readN(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, protoerr.New(protoerr.MalformedPacket, fmt.Sprintf("expected %d bytes, have %d", n, r.Remaining()))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
