package protocol_test

import (
	"bytes"
	"testing"

	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/wire"
)

// TestERRWireForm matches spec.md §8 scenario 5.
func TestERRWireForm(t *testing.T) {
	t.Parallel()
	e := protocol.ERR{
		Capabilities: protocol.ClientProtocol41,
		Code:         0x0448,
		SQLState:     "HY000",
		Message:      "No tables used",
	}
	payload := e.Encode()

	var buf bytes.Buffer
	total, lastSeq, err := wire.WriteChain(&buf, payload, 1)
	if err != nil {
		t.Fatalf("WriteChain: %v", err)
	}
	if total != len(payload) || lastSeq != 1 {
		t.Fatalf("total=%d lastSeq=%d", total, lastSeq)
	}

	want := []byte{
		0x17, 0x00, 0x00, 0x01,
		0xFF, 0x48, 0x04, 0x23, 0x48, 0x59, 0x30, 0x30, 0x30,
	}
	want = append(want, []byte("No tables used")...)

	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % X\nwant % X", buf.Bytes(), want)
	}
}

func TestOKEncodeProtocol41(t *testing.T) {
	t.Parallel()
	ok := protocol.OK{
		Capabilities: protocol.ClientProtocol41,
		AffectedRows: 3,
		LastInsertID: 0,
		StatusFlags:  protocol.StatusAutocommit,
		Info:         "PONG",
	}
	got := ok.Encode()
	want := wire.NewWriter()
	want.WriteFixedInt(1, 0x00)
	want.WriteLenEncInt(3)
	want.WriteLenEncInt(0)
	want.WriteFixedInt(2, uint64(protocol.StatusAutocommit))
	want.WriteFixedInt(2, 0)
	want.WriteRestStr([]byte("PONG"))

	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("got % X\nwant % X", got, want.Bytes())
	}
}

func TestEOFEncodeProtocol41(t *testing.T) {
	t.Parallel()
	e := protocol.EOF{Capabilities: protocol.ClientProtocol41, Warnings: 0, StatusFlags: protocol.StatusAutocommit}
	got := e.Encode()
	want := []byte{0xFE, 0x00, 0x00, byte(protocol.StatusAutocommit), 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
}

func TestHandshakeV10RoundTripShape(t *testing.T) {
	t.Parallel()
	var nonce [20]byte
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	h := protocol.HandshakeV10{
		ServerVersion: "5.5.11-mysqlproxy",
		ConnectionID:  4,
		Nonce:         nonce,
		Capabilities:  protocol.ServerCapabilities,
		Charset:       0x21,
		StatusFlags:   protocol.StatusAutocommit,
	}
	payload := h.Encode()

	r := wire.NewReader(payload)
	protoVersion, err := r.ReadFixedInt(1)
	if err != nil || protoVersion != 0x0A {
		t.Fatalf("protocol version = %d, err=%v", protoVersion, err)
	}
	version, err := r.ReadNulStr()
	if err != nil || version != "5.5.11-mysqlproxy" {
		t.Fatalf("server version = %q, err=%v", version, err)
	}
	connID, err := r.ReadFixedInt(4)
	if err != nil || connID != 4 {
		t.Fatalf("connection id = %d, err=%v", connID, err)
	}
	head, err := r.ReadFixedStr(8)
	if err != nil || !bytes.Equal(head, nonce[:8]) {
		t.Fatalf("nonce head mismatch: %v", err)
	}
}

func TestDecodeHandshakeResponseSecureConnection(t *testing.T) {
	t.Parallel()
	w := wire.NewWriter()
	caps := protocol.ClientProtocol41 | protocol.ClientSecureConnection | protocol.ClientConnectWithDB
	w.WriteFixedInt(4, uint64(caps))
	w.WriteFixedInt(4, 16*1024*1024)
	w.WriteFixedInt(1, 0x21)
	w.WriteFixedStr(make([]byte, 23))
	w.WriteNulStr("root")
	auth := bytes.Repeat([]byte{0xAB}, 20)
	w.WriteFixedInt(1, uint64(len(auth)))
	w.WriteFixedStr(auth)
	w.WriteNulStr("test")

	hr, err := protocol.DecodeHandshakeResponse(w.Bytes())
	if err != nil {
		t.Fatalf("DecodeHandshakeResponse: %v", err)
	}
	if hr.Username != "root" {
		t.Errorf("username = %q", hr.Username)
	}
	if !bytes.Equal(hr.AuthResponse, auth) {
		t.Errorf("auth response = % X", hr.AuthResponse)
	}
	if hr.Database != "test" {
		t.Errorf("database = %q", hr.Database)
	}
}

func TestDecodeHandshakeResponseWithoutSecureConnection(t *testing.T) {
	t.Parallel()
	w := wire.NewWriter()
	caps := protocol.ClientProtocol41
	w.WriteFixedInt(4, uint64(caps))
	w.WriteFixedInt(4, 16*1024*1024)
	w.WriteFixedInt(1, 0x21)
	w.WriteFixedStr(make([]byte, 23))
	w.WriteNulStr("root")
	w.WriteNulStr("legacyauth")

	hr, err := protocol.DecodeHandshakeResponse(w.Bytes())
	if err != nil {
		t.Fatalf("DecodeHandshakeResponse: %v", err)
	}
	if string(hr.AuthResponse) != "legacyauth" {
		t.Errorf("auth response = %q", hr.AuthResponse)
	}
}
