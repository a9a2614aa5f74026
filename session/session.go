// Package session drives a single client connection through the
// handshake/authentication/command-loop state machine, translating
// COM_* requests into upstream.Adapter calls and MySQL wire responses.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/efreet/mysqlproxy/detect"
	"github.com/efreet/mysqlproxy/plugin"
	"github.com/efreet/mysqlproxy/protoerr"
	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/query"
	"github.com/efreet/mysqlproxy/resultset"
	"github.com/efreet/mysqlproxy/upstream"
	"github.com/efreet/mysqlproxy/wire"
)

// repeatedQueryThreshold/window/cooldown tune the N+1-style repeated-
// query detector attached to every session's COM_QUERY handling.
const (
	repeatedQueryThreshold = 5
	repeatedQueryWindow    = time.Second
	repeatedQueryCooldown  = 10 * time.Second
)

const serverVersion = "5.5.11-mysqlproxy"
const fixedConnectionID = 4
const fixedCharset = 0x21

// Config configures a single Session.
type Config struct {
	ID       string // observability identifier, independent of the wire connection_id
	Conn     net.Conn
	Upstream upstream.Adapter
	Registry *plugin.Registry
	Logger   *slog.Logger

	// ProxyUser/ProxyPassword are the credentials the proxy itself
	// authenticates clients against, when ForwardAuth is false.
	ProxyUser     string
	ProxyPassword string
	ForwardAuth   bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Session owns one client socket end to end.
type Session struct {
	cfg Config

	state State

	clientCaps protocol.Capability
	serverCaps protocol.Capability
	charset    string
	nonce      [20]byte
	username   string
	schema     string

	repeated *detect.Detector
}

// New returns a Session ready to Run.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		state:    StateNew,
		charset:  "utf8",
		repeated: detect.New(repeatedQueryThreshold, repeatedQueryWindow, repeatedQueryCooldown),
	}
}

// Run drives the session to completion: handshake, authentication, then
// the command loop, until the client disconnects, issues COM_QUIT, or a
// fatal protocol error occurs.
func (s *Session) Run(ctx context.Context) error {
	defer s.cfg.Conn.Close()
	defer s.cfg.Upstream.Close()

	if err := s.handshake(ctx); err != nil {
		s.logClose(err)
		return err
	}

	s.state = StateServing
	_ = s.cfg.Upstream.SetCharset(ctx, "utf8")
	if s.schema != "" {
		_ = s.cfg.Upstream.SelectSchema(ctx, s.schema)
	}

	for {
		if err := s.serveOne(ctx); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			s.logClose(err)
			return err
		}
	}
}

var errQuit = errors.New("session: client issued COM_QUIT")

func (s *Session) logClose(err error) {
	if err == nil || errors.Is(err, io.EOF) || isClosedErr(err) {
		s.cfg.Logger.Info("session closed", "id", s.cfg.ID)
		return
	}
	s.cfg.Logger.Warn("session closed with error", "id", s.cfg.ID, "err", err)
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return strings.Contains(netErr.Err.Error(), "closed")
	}
	return strings.Contains(err.Error(), "closed")
}

// handshake sends the HandshakeV10 greeting and reads the client's
// HandshakeResponse, per spec.md §4.5/§6.1.
func (s *Session) handshake(ctx context.Context) error {
	s.state = StateHandshaking

	if s.cfg.ForwardAuth {
		s.nonce = s.cfg.Upstream.Salt()
		s.serverCaps = protocol.Intersect(protocol.Capability(s.cfg.Upstream.ServerCapabilities()))
	} else {
		if _, err := rand.Read(s.nonce[:]); err != nil {
			return fmt.Errorf("session: generate nonce: %w", err)
		}
		s.serverCaps = protocol.ServerCapabilities
	}

	greeting := protocol.HandshakeV10{
		ServerVersion: serverVersion,
		ConnectionID:  fixedConnectionID,
		Nonce:         s.nonce,
		Capabilities:  s.serverCaps,
		Charset:       fixedCharset,
		StatusFlags:   protocol.StatusAutocommit,
	}
	if _, _, err := wire.WriteChain(s.cfg.Conn, greeting.Encode(), 0); err != nil {
		return fmt.Errorf("session: write handshake greeting: %w", err)
	}

	s.state = StateAwaitResponse
	payload, _, err := wire.ReadChain(s.cfg.Conn)
	if err != nil {
		return protoerr.Wrap(protoerr.MalformedPacket, "read handshake response", err)
	}
	resp, err := protocol.DecodeHandshakeResponse(payload)
	if err != nil {
		return err
	}

	s.clientCaps = resp.ClientCapabilities
	s.username = resp.Username
	s.schema = resp.Database

	s.state = StateAuthenticating
	return s.finishAuthHandshake(ctx, resp)
}

func (s *Session) finishAuthHandshake(ctx context.Context, resp *protocol.HandshakeResponse) error {
	if !s.clientCaps.Has(protocol.ClientProtocol41) {
		return s.failAuth(protocol.ErrNotSupported41, "needs 4.1 protocol", true)
	}
	if s.clientCaps.Has(protocol.ClientPluginAuth) && resp.AuthPluginName != "" && resp.AuthPluginName != "mysql_native_password" {
		return s.failAuth(protocol.ErrAccessDenied, "only mysql_native_password is supported", true)
	}

	if s.cfg.ForwardAuth {
		if err := s.cfg.Upstream.ForwardAuthentication(ctx, resp.AuthResponse); err != nil {
			return s.failAuth(protocol.ErrAccessDenied, "forwarded authentication failed", false)
		}
		return s.sendAuthOK()
	}

	if cont, value := s.cfg.Registry.Call("auth", s, resp, s.username); !cont {
		ok, _ := value.(bool)
		if !ok {
			return s.failAuth(protocol.ErrAccessDenied, "access denied", false)
		}
		return s.sendAuthOK()
	}

	if s.username != s.cfg.ProxyUser {
		return s.failAuth(protocol.ErrAccessDenied, "access denied", false)
	}

	var ok bool
	if authenticatesEmptyPassword(resp.AuthResponse) {
		ok = s.cfg.ProxyPassword == ""
	} else {
		expected := nativePasswordToken(s.cfg.ProxyPassword, s.nonce)
		ok = len(resp.AuthResponse) == 20 && string(resp.AuthResponse) == string(expected[:])
	}
	if !ok {
		return s.failAuth(protocol.ErrAccessDenied, "access denied", false)
	}
	return s.sendAuthOK()
}

func (s *Session) sendAuthOK() error {
	ok := protocol.OK{Capabilities: s.clientCaps, StatusFlags: protocol.StatusAutocommit}
	if _, _, err := wire.WriteChain(s.cfg.Conn, ok.Encode(), 2); err != nil {
		return fmt.Errorf("session: write auth OK: %w", err)
	}
	return nil
}

// failAuth writes the ERR reply to the client's HandshakeResponse with
// seq_id 2 (the third packet of the handshake) and reports the failure as
// the error kind the caller should treat the connection teardown as:
// ProtocolViolation when protoViolation is set, AccessDenied otherwise.
func (s *Session) failAuth(code protocol.ErrorCode, msg string, protoViolation bool) error {
	kind := protoerr.AccessDenied
	if protoViolation {
		kind = protoerr.ProtocolViolation
	}
	e := protocol.ERR{Capabilities: s.clientCaps, Code: code, Message: msg}
	_, _, _ = wire.WriteChain(s.cfg.Conn, e.Encode(), 2)
	return protoerr.New(kind, msg)
}

// fieldListPattern bounds the table/wildcard tokens of a COM_FIELD_LIST
// request, per spec.md §4.5's dispatch table.
var fieldListPattern = regexp.MustCompile(`^[A-Za-z0-9_%]+$`)

// serveOne reads and dispatches exactly one client command.
func (s *Session) serveOne(ctx context.Context) error {
	if s.cfg.ReadTimeout > 0 {
		_ = s.cfg.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	payload, _, err := wire.ReadChain(s.cfg.Conn)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return protoerr.New(protoerr.MalformedPacket, "empty command packet")
	}
	if s.cfg.WriteTimeout > 0 {
		_ = s.cfg.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}

	cmd := protocol.Command(payload[0])
	body := payload[1:]

	switch cmd {
	case protocol.ComQuit:
		s.sendBestEffortOK()
		return errQuit
	case protocol.ComInitDB:
		return s.handleInitDB(ctx, string(body))
	case protocol.ComQuery:
		return s.handleQuery(ctx, string(body))
	case protocol.ComFieldList:
		return s.handleFieldList(ctx, body)
	case protocol.ComPing:
		return s.writeOK("PONG")
	}

	if name, known := protocol.UnsupportedName(cmd); known {
		return s.writeErr(protocol.ErrUnsupportedCommand, fmt.Sprintf("unsupported: %s", name))
	}
	return s.writeErr(protocol.ErrUnknownCommand, fmt.Sprintf("unimplemented command 0x%02X", byte(cmd)))
}

func (s *Session) sendBestEffortOK() {
	ok := protocol.OK{Capabilities: s.clientCaps, StatusFlags: protocol.StatusAutocommit}
	_, _, _ = wire.WriteChain(s.cfg.Conn, ok.Encode(), 1)
}

func (s *Session) handleInitDB(ctx context.Context, name string) error {
	if err := s.cfg.Upstream.SelectSchema(ctx, name); err != nil {
		return s.writeErr(protocol.ErrBadDB, err.Error())
	}
	s.schema = name
	return s.writeOK("")
}

func (s *Session) handleQuery(ctx context.Context, q string) error {
	normalized := query.Normalize(q)
	if result := s.repeated.Record(normalized, time.Now()); result.Alert != nil {
		s.cfg.Logger.Warn("repeated query pattern detected", "id", s.cfg.ID, "query", normalized, "count", result.Alert.Count)
	}

	if cont, value := s.cfg.Registry.Call("com_query", q, s); !cont {
		if set, ok := value.(resultset.Set); ok {
			return s.writeResultSet(set)
		}
		return s.writeOK("")
	}

	start := time.Now()
	res, err := s.cfg.Upstream.Execute(ctx, q)
	duration := time.Since(start)
	s.cfg.Logger.Debug("query executed", "cmd", "query", "query", q, "duration", duration, "err", err)
	if err != nil {
		return s.writeUpstreamErr(err)
	}
	if len(res.Columns) == 0 {
		ok := protocol.OK{
			Capabilities: s.clientCaps,
			AffectedRows: uint64(res.RowCount),
			LastInsertID: uint64(res.LastInsertID),
			StatusFlags:  protocol.StatusAutocommit,
		}
		_, _, err := wire.WriteChain(s.cfg.Conn, ok.Encode(), 1)
		return err
	}
	return s.writeResultSet(resultFromUpstream(s.schema, res))
}

func (s *Session) handleFieldList(ctx context.Context, body []byte) error {
	parts := strings.SplitN(string(body), "\x00", 2)
	table := parts[0]
	wildcard := ""
	if len(parts) > 1 {
		wildcard = strings.TrimRight(parts[1], "\x00")
	}
	if !fieldListPattern.MatchString(table) || (wildcard != "" && !fieldListPattern.MatchString(wildcard)) {
		return s.writeErr(protocol.ErrUnsupportedCommand, "invalid field_list pattern")
	}

	cols, err := s.cfg.Upstream.FieldList(ctx, table, wildcard)
	if err != nil {
		return s.writeUpstreamErr(err)
	}

	builder := resultset.NewBuilder(s.cfg.Conn, s.clientCaps)
	defs := make([]resultset.ColumnDefinition, len(cols))
	for i, c := range cols {
		defs[i] = resultset.NewColumnDefinition(s.schema, table, c.Name, protocol.ColumnType(c.TypeCode), c.MaxLen)
	}
	_, _, err = builder.WriteFieldList(1, defs)
	return err
}

func (s *Session) writeResultSet(set resultset.Set) error {
	set.StatusFlags = protocol.StatusAutocommit
	builder := resultset.NewBuilder(s.cfg.Conn, s.clientCaps)
	_, _, err := builder.Write(1, set)
	return err
}

func (s *Session) writeOK(info string) error {
	ok := protocol.OK{Capabilities: s.clientCaps, StatusFlags: protocol.StatusAutocommit, Info: info}
	_, _, err := wire.WriteChain(s.cfg.Conn, ok.Encode(), 1)
	return err
}

func (s *Session) writeErr(code protocol.ErrorCode, msg string) error {
	e := protocol.ERR{Capabilities: s.clientCaps, Code: code, Message: msg}
	_, _, err := wire.WriteChain(s.cfg.Conn, e.Encode(), 1)
	return err
}

// writeUpstreamErr reports any upstream failure as ERR(9999, ...); the
// session itself stays SERVING, per spec.md §4.5's final paragraph.
func (s *Session) writeUpstreamErr(err error) error {
	return s.writeErr(protocol.ErrUpstreamFailure, err.Error())
}

func resultFromUpstream(schema string, res upstream.Result) resultset.Set {
	cols := make([]resultset.ColumnDefinition, len(res.Columns))
	for i, c := range res.Columns {
		cols[i] = resultset.NewColumnDefinition(schema, "", c.Name, protocol.ColumnType(c.TypeCode), c.MaxLen)
	}
	rows := make([][]resultset.Value, len(res.Rows))
	for i, r := range res.Rows {
		row := make([]resultset.Value, len(r))
		for j, v := range r {
			if v == nil {
				row[j] = resultset.NullValue()
			} else {
				row[j] = resultset.Value{Raw: v}
			}
		}
		rows[i] = row
	}
	return resultset.Set{Columns: cols, Rows: rows}
}
