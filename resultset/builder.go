package resultset

import (
	"io"

	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/wire"
)

// Builder writes COM_QUERY/COM_FIELD_LIST responses to a client
// connection, per spec.md §4.4.
type Builder struct {
	w    io.Writer
	caps protocol.Capability
}

// NewBuilder returns a Builder that frames packets using the negotiated
// client capabilities.
func NewBuilder(w io.Writer, caps protocol.Capability) *Builder {
	return &Builder{w: w, caps: caps}
}

// Set is a complete result set to serialize: zero or more columns, zero or
// more rows (ignored when Columns is empty), and whether rows should be
// encoded using the binary protocol.
type Set struct {
	Columns     []ColumnDefinition
	Rows        [][]Value
	Binary      bool
	MoreResults bool
	StatusFlags protocol.StatusFlag
	Warnings    uint16
}

// Write serializes set starting at sequence ID base and returns the total
// payload bytes written and the last sequence ID used, per spec.md §4.4 /
// §4.2. If set has no columns, a single OK packet is written instead of a
// result set.
func (b *Builder) Write(base byte, set Set) (int, byte, error) {
	if len(set.Columns) == 0 {
		ok := protocol.OK{
			Capabilities: b.caps,
			StatusFlags:  set.StatusFlags,
			Warnings:     set.Warnings,
		}
		return wire.WriteChain(b.w, ok.Encode(), base)
	}

	total := 0
	seq := base

	nColsW := wire.NewWriter()
	nColsW.WriteLenEncInt(uint64(len(set.Columns)))
	n, last, err := wire.WriteChain(b.w, nColsW.Bytes(), seq)
	if err != nil {
		return total, last, err
	}
	total += n
	seq = last + 1

	for _, col := range set.Columns {
		n, last, err = wire.WriteChain(b.w, col.Encode(), seq)
		if err != nil {
			return total, last, err
		}
		total += n
		seq = last + 1
	}

	colsEOF := protocol.EOF{Capabilities: b.caps, StatusFlags: set.StatusFlags}
	n, last, err = wire.WriteChain(b.w, colsEOF.Encode(), seq)
	if err != nil {
		return total, last, err
	}
	total += n
	seq = last + 1

	for _, row := range set.Rows {
		var payload []byte
		if set.Binary {
			types := make([]protocol.ColumnType, len(set.Columns))
			for i, c := range set.Columns {
				types[i] = c.ColumnType
			}
			payload, err = EncodeBinaryRow(row, types)
			if err != nil {
				return total, seq - 1, err
			}
		} else {
			payload = EncodeTextRow(row)
		}
		n, last, err = wire.WriteChain(b.w, payload, seq)
		if err != nil {
			return total, last, err
		}
		total += n
		seq = last + 1
	}

	finalStatus := set.StatusFlags
	if set.MoreResults {
		finalStatus |= protocol.StatusMoreResultsExists
	}
	rowsEOF := protocol.EOF{Capabilities: b.caps, StatusFlags: finalStatus}
	n, last, err = wire.WriteChain(b.w, rowsEOF.Encode(), seq)
	total += n
	return total, last, err
}

// WriteFieldList serializes a COM_FIELD_LIST response: a column
// definition packet per column followed by a single EOF, with no
// leading column-count packet and no row data, per spec.md §4.5's
// FIELD_LIST dispatch entry.
func (b *Builder) WriteFieldList(base byte, cols []ColumnDefinition) (int, byte, error) {
	total := 0
	seq := base
	for _, col := range cols {
		n, last, err := wire.WriteChain(b.w, col.Encode(), seq)
		if err != nil {
			return total, last, err
		}
		total += n
		seq = last + 1
	}
	eof := protocol.EOF{Capabilities: b.caps}
	n, last, err := wire.WriteChain(b.w, eof.Encode(), seq)
	total += n
	return total, last, err
}
