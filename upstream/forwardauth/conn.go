// Package forwardauth implements upstream.Adapter by relaying the
// connecting client's own authentication bytes to the upstream server
// instead of terminating authentication locally, grounded on
// forward_auth.py's ForwardAuthConnection: connect far enough to read
// the server's handshake greeting and capture its nonce, then — once the
// proxy's session has validated (or simply forwarded) the client's own
// response — complete the upstream handshake with that same response.
package forwardauth

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/efreet/mysqlproxy/protoerr"
	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/resultset"
	"github.com/efreet/mysqlproxy/upstream"
	"github.com/efreet/mysqlproxy/wire"
)

// Conn is a raw net.Conn-driven upstream client for forward-auth mode.
type Conn struct {
	conn     net.Conn
	user     string
	database string
	charset  string

	salt         [20]byte
	serverCaps   protocol.Capability
	clientCaps   protocol.Capability
	authComplete bool
}

var _ upstream.Adapter = (*Conn)(nil)

// New allocates an unconnected Conn.
func New() *Conn { return &Conn{charset: "utf8"} }

// Connect dials host:port and reads the server's handshake greeting,
// stopping short of sending a client handshake response (spec.md §6.2:
// "returns after reading the server handshake but before sending a
// client handshake").
func (c *Conn) Connect(ctx context.Context, host string, port int, user, passwd string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("forwardauth: dial upstream: %w", err)
	}
	c.conn = conn
	c.user = user

	payload, _, err := wire.ReadChain(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("forwardauth: read handshake greeting: %w", err)
	}
	greeting, err := decodeGreeting(payload)
	if err != nil {
		conn.Close()
		return fmt.Errorf("forwardauth: decode handshake greeting: %w", err)
	}
	c.salt = greeting.nonce
	c.serverCaps = greeting.capabilities
	return nil
}

// Salt returns the nonce captured by Connect.
func (c *Conn) Salt() [20]byte { return c.salt }

// ServerCapabilities returns the capability flags captured by Connect.
func (c *Conn) ServerCapabilities() uint32 { return uint32(c.serverCaps) }

// ForwardAuthentication sends a client handshake response carrying
// authResponse as the auth bytes for the user configured at Connect,
// mirroring _request_authentication's data layout (client flags,
// max-packet-size, charset, 23 reserved bytes, username, auth bytes,
// database).
func (c *Conn) ForwardAuthentication(ctx context.Context, authResponse []byte) error {
	c.clientCaps = protocol.ClientLongPassword | protocol.ClientProtocol41 |
		protocol.ClientSecureConnection | protocol.ClientMultiResults
	if c.database != "" {
		c.clientCaps |= protocol.ClientConnectWithDB
	}

	w := wire.NewWriter()
	w.WriteFixedInt(4, uint64(c.clientCaps))
	w.WriteFixedInt(4, 1<<24-1)
	w.WriteFixedInt(1, 0x21)
	w.WriteFixedStr(make([]byte, 23))
	w.WriteNulStr(c.user)
	w.WriteFixedInt(1, uint64(len(authResponse)))
	w.WriteFixedStr(authResponse)
	if c.database != "" {
		w.WriteNulStr(c.database)
	}

	if _, _, err := wire.WriteChain(c.conn, w.Bytes(), 1); err != nil {
		return fmt.Errorf("forwardauth: write handshake response: %w", err)
	}

	payload, _, err := wire.ReadChain(c.conn)
	if err != nil {
		return fmt.Errorf("forwardauth: read auth result: %w", err)
	}
	if protocol.IsERRPacket(payload) {
		e, err := protocol.DecodeERR(payload, c.clientCaps)
		if err != nil {
			return err
		}
		return protoerr.New(protoerr.AccessDenied, e.Message)
	}
	c.authComplete = true
	return nil
}

// SelectSchema issues USE <name> as a COM_QUERY.
func (c *Conn) SelectSchema(ctx context.Context, name string) error {
	_, err := c.Execute(ctx, "USE "+name)
	if err == nil {
		c.database = name
	}
	return err
}

// Execute issues query as COM_QUERY and reads back its result set or OK
// packet.
func (c *Conn) Execute(ctx context.Context, query string) (upstream.Result, error) {
	if !c.authComplete {
		return upstream.Result{}, protoerr.New(protoerr.ProtocolViolation, "forwardauth: execute before authentication completed")
	}
	w := wire.NewWriter()
	w.WriteFixedInt(1, uint64(protocol.ComQuery))
	w.WriteRestStr([]byte(query))
	if _, _, err := wire.WriteChain(c.conn, w.Bytes(), 0); err != nil {
		return upstream.Result{}, fmt.Errorf("forwardauth: write query: %w", err)
	}
	return c.readResultSet()
}

// FieldList issues SHOW COLUMNS FROM <table> [LIKE <wildcard>] as a
// COM_QUERY, since the raw COM_FIELD_LIST response format offers no
// richer metadata than the equivalent SHOW COLUMNS result set.
func (c *Conn) FieldList(ctx context.Context, table, wildcard string) ([]upstream.Column, error) {
	q := "SHOW COLUMNS FROM " + table
	if wildcard != "" {
		q += " LIKE '" + strings.ReplaceAll(wildcard, "'", "''") + "'"
	}
	res, err := c.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	// Each SHOW COLUMNS row describes one table column: Field, Type, ...
	cols := make([]upstream.Column, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 2 {
			continue
		}
		name, _ := row[0].(string)
		ctype, _ := row[1].(string)
		if i := strings.IndexByte(ctype, '('); i >= 0 {
			ctype = ctype[:i]
		}
		ct := protocol.ColumnTypeFromName(strings.ToUpper(strings.TrimSpace(ctype)))
		cols = append(cols, upstream.Column{Name: name, TypeCode: byte(ct)})
	}
	return cols, nil
}

// SetCharset issues SET NAMES <name>.
func (c *Conn) SetCharset(ctx context.Context, name string) error {
	if _, err := c.Execute(ctx, "SET NAMES "+name); err != nil {
		return err
	}
	c.charset = name
	return nil
}

// CharacterSetName reports the last charset successfully set.
func (c *Conn) CharacterSetName() string { return c.charset }

// Close closes the underlying connection.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Conn) readResultSet() (upstream.Result, error) {
	payload, _, err := wire.ReadChain(c.conn)
	if err != nil {
		return upstream.Result{}, fmt.Errorf("forwardauth: read query response: %w", err)
	}
	if protocol.IsERRPacket(payload) {
		e, err := protocol.DecodeERR(payload, c.clientCaps)
		if err != nil {
			return upstream.Result{}, err
		}
		return upstream.Result{}, protoerr.New(protoerr.UpstreamLogical, e.Message)
	}
	if protocol.IsOKPacket(payload) {
		ok, err := protocol.DecodeOK(payload, c.clientCaps)
		if err != nil {
			return upstream.Result{}, err
		}
		return upstream.Result{RowCount: int64(ok.AffectedRows), LastInsertID: int64(ok.LastInsertID)}, nil
	}

	r := wire.NewReader(payload)
	nCols, err := r.ReadLenEncInt()
	if err != nil {
		return upstream.Result{}, err
	}

	cols := make([]upstream.Column, nCols)
	for i := range cols {
		colPayload, _, err := wire.ReadChain(c.conn)
		if err != nil {
			return upstream.Result{}, err
		}
		cd, err := resultset.DecodeColumnDefinition(colPayload)
		if err != nil {
			return upstream.Result{}, err
		}
		cols[i] = upstream.Column{Name: cd.Name, TypeCode: byte(cd.ColumnType), MaxLen: cd.ColumnLength, FieldLen: cd.ColumnLength}
	}

	if _, _, err := wire.ReadChain(c.conn); err != nil { // column-list EOF
		return upstream.Result{}, err
	}

	var rows []upstream.Row
	for {
		rowPayload, _, err := wire.ReadChain(c.conn)
		if err != nil {
			return upstream.Result{}, err
		}
		if protocol.IsEOFPacket(rowPayload) {
			break
		}
		values, err := resultset.DecodeTextRow(rowPayload, len(cols))
		if err != nil {
			return upstream.Result{}, err
		}
		row := make(upstream.Row, len(values))
		for i, v := range values {
			if v.Null {
				row[i] = nil
			} else {
				row[i] = v.Raw
			}
		}
		rows = append(rows, row)
	}

	return upstream.Result{Columns: cols, Rows: rows, RowCount: int64(len(rows))}, nil
}

type greeting struct {
	nonce        [20]byte
	capabilities protocol.Capability
}

// decodeGreeting parses a HandshakeV10 payload far enough to recover the
// nonce and capability flags; it intentionally ignores the server
// version string and connection ID, which forward-auth mode never needs.
func decodeGreeting(payload []byte) (greeting, error) {
	r := wire.NewReader(payload)
	if _, err := r.ReadFixedInt(1); err != nil { // protocol version
		return greeting{}, err
	}
	if _, err := r.ReadNulStr(); err != nil { // server version
		return greeting{}, err
	}
	if _, err := r.ReadFixedInt(4); err != nil { // connection id
		return greeting{}, err
	}
	nonce1, err := r.ReadFixedStr(8)
	if err != nil {
		return greeting{}, err
	}
	if _, err := r.ReadFixedInt(1); err != nil { // filler
		return greeting{}, err
	}
	capsLow, err := r.ReadFixedInt(2)
	if err != nil {
		return greeting{}, err
	}
	if _, err := r.ReadFixedInt(1); err != nil { // charset
		return greeting{}, err
	}
	if _, err := r.ReadFixedInt(2); err != nil { // status flags
		return greeting{}, err
	}
	capsHigh, err := r.ReadFixedInt(2)
	if err != nil {
		return greeting{}, err
	}
	if _, err := r.ReadFixedInt(1); err != nil { // auth-plugin-data-len
		return greeting{}, err
	}
	if _, err := r.ReadFixedStr(10); err != nil { // reserved
		return greeting{}, err
	}
	nonce2, err := r.ReadFixedStr(12) // 12 bytes + trailing 0x00
	if err != nil {
		return greeting{}, err
	}

	var g greeting
	copy(g.nonce[:8], nonce1)
	copy(g.nonce[8:], nonce2[:12])
	g.capabilities = protocol.Capability(capsLow) | protocol.Capability(capsHigh)<<16
	return g, nil
}
