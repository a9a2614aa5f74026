package protocol

import (
	"github.com/efreet/mysqlproxy/wire"
)

// OK is the server's generic success packet.
type OK struct {
	Capabilities Capability
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  StatusFlag
	Warnings     uint16
	Info         string
}

// Encode renders the OK packet per spec.md §4.3.
func (o OK) Encode() []byte {
	w := wire.NewWriter()
	w.WriteFixedInt(1, 0x00)
	w.WriteLenEncInt(o.AffectedRows)
	w.WriteLenEncInt(o.LastInsertID)
	switch {
	case o.Capabilities.Has(ClientProtocol41):
		w.WriteFixedInt(2, uint64(o.StatusFlags))
		w.WriteFixedInt(2, uint64(o.Warnings))
		w.WriteRestStr([]byte(o.Info))
	case o.Capabilities.Has(ClientTransactions):
		w.WriteFixedInt(2, uint64(o.StatusFlags))
	}
	return w.Bytes()
}

// ERR is the server's generic failure packet.
type ERR struct {
	Capabilities Capability
	Code         ErrorCode
	SQLState     string
	Message      string
}

// Encode renders the ERR packet per spec.md §4.3. SQLState defaults to
// "HY000" when empty.
func (e ERR) Encode() []byte {
	state := e.SQLState
	if state == "" {
		state = "HY000"
	}
	w := wire.NewWriter()
	w.WriteFixedInt(1, 0xFF)
	w.WriteFixedInt(2, uint64(e.Code))
	if e.Capabilities.Has(ClientProtocol41) {
		w.WriteFixedStr([]byte("#"))
		w.WriteFixedStr([]byte(state)[:5])
	}
	w.WriteRestStr([]byte(e.Message))
	return w.Bytes()
}

// EOF is the server's terminator packet for column-definition and row
// lists.
type EOF struct {
	Capabilities Capability
	Warnings     uint16
	StatusFlags  StatusFlag
}

// Encode renders the EOF packet per spec.md §4.3.
func (e EOF) Encode() []byte {
	w := wire.NewWriter()
	w.WriteFixedInt(1, 0xFE)
	if e.Capabilities.Has(ClientProtocol41) {
		w.WriteFixedInt(2, uint64(e.Warnings))
		w.WriteFixedInt(2, uint64(e.StatusFlags))
	}
	return w.Bytes()
}

// DecodeOK parses an OK packet payload (the caller has already checked
// the leading 0x00 header byte).
func DecodeOK(payload []byte, caps Capability) (OK, error) {
	r := wire.NewReader(payload)
	if _, err := r.ReadFixedInt(1); err != nil {
		return OK{}, err
	}
	affected, err := r.ReadLenEncInt()
	if err != nil {
		return OK{}, err
	}
	lastID, err := r.ReadLenEncInt()
	if err != nil {
		return OK{}, err
	}
	ok := OK{Capabilities: caps, AffectedRows: affected, LastInsertID: lastID}
	switch {
	case caps.Has(ClientProtocol41):
		status, err := r.ReadFixedInt(2)
		if err != nil {
			return OK{}, err
		}
		warnings, err := r.ReadFixedInt(2)
		if err != nil {
			return OK{}, err
		}
		ok.StatusFlags = StatusFlag(status)
		ok.Warnings = uint16(warnings)
		ok.Info = string(r.ReadRestStr())
	case caps.Has(ClientTransactions):
		status, err := r.ReadFixedInt(2)
		if err != nil {
			return OK{}, err
		}
		ok.StatusFlags = StatusFlag(status)
	}
	return ok, nil
}

// DecodeERR parses an ERR packet payload (the caller has already checked
// the leading 0xFF header byte).
func DecodeERR(payload []byte, caps Capability) (ERR, error) {
	r := wire.NewReader(payload)
	if _, err := r.ReadFixedInt(1); err != nil {
		return ERR{}, err
	}
	code, err := r.ReadFixedInt(2)
	if err != nil {
		return ERR{}, err
	}
	e := ERR{Capabilities: caps, Code: ErrorCode(code)}
	if caps.Has(ClientProtocol41) {
		if _, err := r.ReadFixedStr(1); err != nil { // '#' marker
			return ERR{}, err
		}
		state, err := r.ReadFixedStr(5)
		if err != nil {
			return ERR{}, err
		}
		e.SQLState = string(state)
	}
	e.Message = string(r.ReadRestStr())
	return e, nil
}

// DecodeEOF parses an EOF packet payload (the caller has already checked
// the leading 0xFE header byte and packet length; a short result-set
// terminator is easy to confuse with a LenEncInt-prefixed row whose first
// byte happens to be 0xFE, so callers should only treat a packet as EOF
// when its total length is < 9, per the MySQL wire protocol convention).
func DecodeEOF(payload []byte, caps Capability) (EOF, error) {
	r := wire.NewReader(payload)
	if _, err := r.ReadFixedInt(1); err != nil {
		return EOF{}, err
	}
	e := EOF{Capabilities: caps}
	if caps.Has(ClientProtocol41) {
		warnings, err := r.ReadFixedInt(2)
		if err != nil {
			return EOF{}, err
		}
		status, err := r.ReadFixedInt(2)
		if err != nil {
			return EOF{}, err
		}
		e.Warnings = uint16(warnings)
		e.StatusFlags = StatusFlag(status)
	}
	return e, nil
}

// IsEOFPacket reports whether payload looks like an EOF packet: leading
// byte 0xFE and total length under 9 bytes (the boundary the protocol
// uses to disambiguate it from a LenEncInt-prefixed value beginning with
// the same sentinel).
func IsEOFPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0xFE && len(payload) < 9
}

// IsOKPacket reports whether payload is an OK packet.
func IsOKPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0x00
}

// IsERRPacket reports whether payload is an ERR packet.
func IsERRPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0xFF
}

// HandshakeV10 is the server's initial greeting.
type HandshakeV10 struct {
	ServerVersion  string
	ConnectionID   uint32
	Nonce          [20]byte
	Capabilities   Capability
	Charset        byte
	StatusFlags    StatusFlag
	AuthPluginName string // non-empty iff PLUGIN_AUTH is advertised
}

// Encode renders the handshake greeting per spec.md §4.3.
func (h HandshakeV10) Encode() []byte {
	w := wire.NewWriter()
	w.WriteFixedInt(1, 0x0A)
	w.WriteNulStr(h.ServerVersion)
	w.WriteFixedInt(4, uint64(h.ConnectionID))
	w.WriteFixedStr(h.Nonce[:8])
	w.WriteFixedInt(1, 0x00)
	w.WriteFixedInt(2, uint64(h.Capabilities&0xFFFF))
	w.WriteFixedInt(1, uint64(h.Charset))
	w.WriteFixedInt(2, uint64(h.StatusFlags))
	w.WriteFixedInt(2, uint64(h.Capabilities>>16))

	pluginAuth := h.Capabilities.Has(ClientPluginAuth)
	if pluginAuth {
		w.WriteFixedInt(1, 21)
	} else {
		w.WriteFixedInt(1, 0)
	}
	w.WriteFixedStr(make([]byte, 10))
	w.WriteFixedStr(h.Nonce[8:20])
	w.WriteFixedInt(1, 0x00)
	if pluginAuth {
		w.WriteNulStr(h.AuthPluginName)
	}
	return w.Bytes()
}

// HandshakeResponse is the client's reply to a HandshakeV10 greeting.
type HandshakeResponse struct {
	ClientCapabilities Capability
	MaxPacketSize      uint32
	Charset            byte
	Username           string
	AuthResponse       []byte
	Database           string
	AuthPluginName     string
	ConnectAttrs       map[string]string
}

// DecodeHandshakeResponse parses a HandshakeResponse payload per spec.md
// §4.3's conditional field layout.
func DecodeHandshakeResponse(payload []byte) (*HandshakeResponse, error) {
	r := wire.NewReader(payload)

	capsLow, err := r.ReadFixedInt(4)
	if err != nil {
		return nil, err
	}
	caps := Capability(capsLow)

	maxPacket, err := r.ReadFixedInt(4)
	if err != nil {
		return nil, err
	}
	charset, err := r.ReadFixedInt(1)
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadFixedStr(23); err != nil {
		return nil, err
	}
	username, err := r.ReadNulStr()
	if err != nil {
		return nil, err
	}

	hr := &HandshakeResponse{
		ClientCapabilities: caps,
		MaxPacketSize:      uint32(maxPacket),
		Charset:            byte(charset),
		Username:           username,
	}

	if caps.Has(ClientSecureConnection) {
		authLen, err := r.ReadFixedInt(1)
		if err != nil {
			return nil, err
		}
		auth, err := r.ReadFixedStr(int(authLen))
		if err != nil {
			return nil, err
		}
		hr.AuthResponse = append([]byte(nil), auth...)
	} else {
		auth, err := r.ReadNulStr()
		if err != nil {
			return nil, err
		}
		hr.AuthResponse = []byte(auth)
	}

	if caps.Has(ClientConnectWithDB) {
		db, err := r.ReadNulStr()
		if err != nil {
			return nil, err
		}
		hr.Database = db
	}

	// spec.md's Open Questions: read the plugin name only if payload
	// bytes remain, regardless of whether PLUGIN_AUTH capability was
	// actually negotiated (a non-conformant client may still send it).
	if r.Remaining() > 0 {
		name, err := r.ReadNulStr()
		if err != nil {
			return nil, err
		}
		hr.AuthPluginName = name
	}

	if caps.Has(ClientConnectAttrs) && r.Remaining() > 0 {
		attrs, err := r.ReadKVList()
		if err != nil {
			return nil, err
		}
		hr.ConnectAttrs = attrs
	}

	return hr, nil
}
