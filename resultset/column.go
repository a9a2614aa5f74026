// Package resultset builds COM_QUERY/COM_FIELD_LIST responses: the
// column-count prefix, column-definition packets, terminating EOF, row
// packets (text or binary), and the final EOF, per spec.md §4.4.
package resultset

import (
	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/wire"
)

// ColumnDefinition describes one result-set column, per spec.md §3.
type ColumnDefinition struct {
	Catalog      string // always "def"
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	Charset      uint16
	ColumnLength uint32
	ColumnType   protocol.ColumnType
	Flags        uint16
	Decimals     uint8
	Default      string // only meaningful for COM_FIELD_LIST; encoded only when set via WithDefault
	hasDefault   bool
}

// NewColumnDefinition builds a ColumnDefinition with Catalog defaulted to
// "def" and OrgTable/OrgName mirroring Table/Name, matching what a plain
// database/sql query (with no separate "original" table/column aliasing
// information) can report.
func NewColumnDefinition(schema, table, name string, ct protocol.ColumnType, length uint32) ColumnDefinition {
	return ColumnDefinition{
		Catalog:      "def",
		Schema:       schema,
		Table:        table,
		OrgTable:     table,
		Name:         name,
		OrgName:      name,
		Charset:      0x21,
		ColumnLength: length,
		ColumnType:   ct,
	}
}

// WithDefault attaches a COM_FIELD_LIST default value.
func (c ColumnDefinition) WithDefault(def string) ColumnDefinition {
	c.Default = def
	c.hasDefault = true
	return c
}

// Encode renders the column-definition packet payload.
func (c ColumnDefinition) Encode() []byte {
	w := wire.NewWriter()
	w.WriteLenEncStr(c.Catalog)
	w.WriteLenEncStr(c.Schema)
	w.WriteLenEncStr(c.Table)
	w.WriteLenEncStr(c.OrgTable)
	w.WriteLenEncStr(c.Name)
	w.WriteLenEncStr(c.OrgName)
	w.WriteLenEncInt(0x0C)
	w.WriteFixedInt(2, uint64(c.Charset))
	w.WriteFixedInt(4, uint64(c.ColumnLength))
	w.WriteFixedInt(1, uint64(c.ColumnType))
	w.WriteFixedInt(2, uint64(c.Flags))
	w.WriteFixedInt(1, uint64(c.Decimals))
	w.WriteFixedInt(2, 0) // filler
	if c.hasDefault {
		w.WriteLenEncStr(c.Default)
	}
	return w.Bytes()
}

// DecodeColumnDefinition parses a column-definition packet payload, the
// form a real upstream server sends back over forward_auth's relayed
// connection (spec.md §4.6's "forward_auth mode" still needs to read a
// result set to satisfy COM_QUERY/COM_FIELD_LIST once authenticated).
func DecodeColumnDefinition(payload []byte) (ColumnDefinition, error) {
	r := wire.NewReader(payload)
	catalog, err := r.ReadLenEncStr()
	if err != nil {
		return ColumnDefinition{}, err
	}
	schema, err := r.ReadLenEncStr()
	if err != nil {
		return ColumnDefinition{}, err
	}
	table, err := r.ReadLenEncStr()
	if err != nil {
		return ColumnDefinition{}, err
	}
	orgTable, err := r.ReadLenEncStr()
	if err != nil {
		return ColumnDefinition{}, err
	}
	name, err := r.ReadLenEncStr()
	if err != nil {
		return ColumnDefinition{}, err
	}
	orgName, err := r.ReadLenEncStr()
	if err != nil {
		return ColumnDefinition{}, err
	}
	if _, err := r.ReadLenEncInt(); err != nil { // next_length, always 0x0C
		return ColumnDefinition{}, err
	}
	charset, err := r.ReadFixedInt(2)
	if err != nil {
		return ColumnDefinition{}, err
	}
	length, err := r.ReadFixedInt(4)
	if err != nil {
		return ColumnDefinition{}, err
	}
	ctype, err := r.ReadFixedInt(1)
	if err != nil {
		return ColumnDefinition{}, err
	}
	flags, err := r.ReadFixedInt(2)
	if err != nil {
		return ColumnDefinition{}, err
	}
	decimals, err := r.ReadFixedInt(1)
	if err != nil {
		return ColumnDefinition{}, err
	}
	if _, err := r.ReadFixedStr(2); err != nil { // filler
		return ColumnDefinition{}, err
	}

	col := ColumnDefinition{
		Catalog:      catalog,
		Schema:       schema,
		Table:        table,
		OrgTable:     orgTable,
		Name:         name,
		OrgName:      orgName,
		Charset:      uint16(charset),
		ColumnLength: uint32(length),
		ColumnType:   protocol.ColumnType(ctype),
		Flags:        uint16(flags),
		Decimals:     uint8(decimals),
	}
	if r.Remaining() > 0 {
		def, err := r.ReadLenEncStr()
		if err != nil {
			return ColumnDefinition{}, err
		}
		col = col.WithDefault(def)
	}
	return col, nil
}
