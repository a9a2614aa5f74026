package resultset_test

import (
	"bytes"
	"testing"

	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/resultset"
	"github.com/efreet/mysqlproxy/wire"
)

func TestWriteResultSetZeroColumnsIsOK(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	b := resultset.NewBuilder(&buf, protocol.ClientProtocol41)
	total, last, err := b.Write(1, resultset.Set{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if last != 1 {
		t.Fatalf("last seq = %d, want 1", last)
	}
	if total == 0 {
		t.Fatal("expected non-zero OK payload")
	}
}

func TestWriteResultSetSequencing(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	b := resultset.NewBuilder(&buf, protocol.ClientProtocol41)

	cols := []resultset.ColumnDefinition{
		resultset.NewColumnDefinition("test", "t", "id", protocol.ColumnTypeLong, 11),
		resultset.NewColumnDefinition("test", "t", "name", protocol.ColumnTypeVarString, 255),
	}
	rows := [][]resultset.Value{
		{{Raw: int64(1)}, {Raw: "alice"}},
		{{Raw: int64(2)}, resultset.NullValue()},
	}

	_, last, err := b.Write(1, resultset.Set{Columns: cols, Rows: rows})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	// 1 (col count) + 2 (columns) + 1 (eof) + 2 (rows) + 1 (eof) = 7 packets
	// starting at seq 1 -> last seq should be 7.
	if last != 7 {
		t.Fatalf("last seq = %d, want 7", last)
	}

	// Decode back the whole stream and check record count / shape.
	var count int
	for buf.Len() > 0 {
		_, meta, err := wire.ReadChain(&buf)
		if err != nil {
			t.Fatalf("ReadChain: %v", err)
		}
		if len(meta) == 0 {
			t.Fatal("expected at least one record")
		}
		count++
	}
	if count != 7 {
		t.Fatalf("packet count = %d, want 7", count)
	}
}

func TestEncodeTextRowNullHandling(t *testing.T) {
	t.Parallel()
	row := []resultset.Value{{Raw: "hi"}, resultset.NullValue(), {Raw: int64(42)}}
	payload := resultset.EncodeTextRow(row)

	r := wire.NewReader(payload)
	s, err := r.ReadLenEncStr()
	if err != nil || s != "hi" {
		t.Fatalf("col0 = %q, err=%v", s, err)
	}
	b, err := r.Peek()
	if err != nil || b != wire.NullSentinel {
		t.Fatalf("expected NULL sentinel, got %x err=%v", b, err)
	}
	_, _ = r.ReadFixedInt(1)
	s, err = r.ReadLenEncStr()
	if err != nil || s != "42" {
		t.Fatalf("col2 = %q, err=%v", s, err)
	}
}

func TestEncodeBinaryRowNullBitmap(t *testing.T) {
	t.Parallel()
	values := []resultset.Value{{Raw: int64(7)}, resultset.NullValue()}
	types := []protocol.ColumnType{protocol.ColumnTypeLong, protocol.ColumnTypeVarString}

	payload, err := resultset.EncodeBinaryRow(values, types)
	if err != nil {
		t.Fatalf("EncodeBinaryRow: %v", err)
	}
	// bitmap length = ceil((2+9)/8) = 2 bytes; bit for column 1 is (1+2)=3.
	if len(payload) < 2 {
		t.Fatalf("payload too short: % X", payload)
	}
	if payload[0]&(1<<3) == 0 {
		t.Fatalf("expected NULL bit set for column 1, bitmap=% X", payload[:2])
	}
}
