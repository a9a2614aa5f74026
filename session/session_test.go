package session_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/efreet/mysqlproxy/plugin"
	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/session"
	"github.com/efreet/mysqlproxy/upstream"
	"github.com/efreet/mysqlproxy/wire"
)

// stubAdapter is a minimal in-memory upstream.Adapter for driving a
// Session through its handshake and command loop without a real MySQL
// server.
type stubAdapter struct {
	execResult upstream.Result
	execErr    error
}

func (a *stubAdapter) Connect(ctx context.Context, host string, port int, user, passwd string) error {
	return nil
}
func (a *stubAdapter) ForwardAuthentication(ctx context.Context, authResponse []byte) error {
	return nil
}
func (a *stubAdapter) Salt() [20]byte              { return [20]byte{} }
func (a *stubAdapter) ServerCapabilities() uint32   { return 0 }
func (a *stubAdapter) SelectSchema(ctx context.Context, name string) error { return nil }
func (a *stubAdapter) Execute(ctx context.Context, sql string) (upstream.Result, error) {
	return a.execResult, a.execErr
}
func (a *stubAdapter) FieldList(ctx context.Context, table, wildcard string) ([]upstream.Column, error) {
	return nil, nil
}
func (a *stubAdapter) SetCharset(ctx context.Context, name string) error { return nil }
func (a *stubAdapter) CharacterSetName() string                         { return "utf8" }
func (a *stubAdapter) Close() error                                     { return nil }

func startSession(t *testing.T, cfg session.Config) (net.Conn, <-chan error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	cfg.Conn = serverConn
	if cfg.Registry == nil {
		cfg.Registry = plugin.NewRegistry(nil)
	}
	if cfg.Upstream == nil {
		cfg.Upstream = &stubAdapter{}
	}

	done := make(chan error, 1)
	s := session.New(cfg)
	go func() {
		done <- s.Run(context.Background())
	}()
	return clientConn, done
}

func readHandshake(t *testing.T, conn net.Conn) *protocol.HandshakeV10 {
	t.Helper()
	payload, _, err := wire.ReadChain(conn)
	if err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if len(payload) == 0 || payload[0] != 0x0A {
		t.Fatalf("expected protocol version 10 greeting, got %v", payload)
	}
	return &protocol.HandshakeV10{}
}

func writeHandshakeResponse(t *testing.T, conn net.Conn, username string) {
	t.Helper()
	w := wire.NewWriter()
	w.WriteFixedInt(4, uint64(protocol.ClientProtocol41|protocol.ClientSecureConnection))
	w.WriteFixedInt(4, 1<<24-1)
	w.WriteFixedInt(1, 0x21)
	w.WriteFixedStr(make([]byte, 23))
	w.WriteNulStr(username)
	w.WriteFixedInt(1, 0) // empty auth response
	if _, _, err := wire.WriteChain(conn, w.Bytes(), 1); err != nil {
		t.Fatalf("write handshake response: %v", err)
	}
}

func TestHandshakeAndPing(t *testing.T) {
	t.Parallel()
	conn, done := startSession(t, session.Config{
		ID:            "test",
		ProxyUser:     "root",
		ProxyPassword: "",
		ReadTimeout:   2 * time.Second,
		WriteTimeout:  2 * time.Second,
	})
	defer conn.Close()

	readHandshake(t, conn)
	writeHandshakeResponse(t, conn, "root")

	authPayload, _, err := wire.ReadChain(conn)
	if err != nil {
		t.Fatalf("read auth response: %v", err)
	}
	if !protocol.IsOKPacket(authPayload) {
		t.Fatalf("expected OK after auth, got %v", authPayload)
	}

	pingW := wire.NewWriter()
	pingW.WriteFixedInt(1, uint64(protocol.ComPing))
	if _, _, err := wire.WriteChain(conn, pingW.Bytes(), 0); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	pongPayload, _, err := wire.ReadChain(conn)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if !protocol.IsOKPacket(pongPayload) {
		t.Fatalf("expected OK for ping, got %v", pongPayload)
	}

	quitW := wire.NewWriter()
	quitW.WriteFixedInt(1, uint64(protocol.ComQuit))
	if _, _, err := wire.WriteChain(conn, quitW.Bytes(), 0); err != nil {
		t.Fatalf("write quit: %v", err)
	}
	_, _, _ = wire.ReadChain(conn) // best-effort farewell OK

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("session.Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after COM_QUIT")
	}
}

func TestAuthenticationFailsForUnknownUser(t *testing.T) {
	t.Parallel()
	conn, done := startSession(t, session.Config{
		ID:        "test",
		ProxyUser: "root",
	})
	defer conn.Close()

	readHandshake(t, conn)
	writeHandshakeResponse(t, conn, "someone-else")

	payload, _, err := wire.ReadChain(conn)
	if err != nil {
		t.Fatalf("read auth response: %v", err)
	}
	if !protocol.IsERRPacket(payload) {
		t.Fatalf("expected ERR for unknown user, got %v", payload)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after auth failure")
	}
}
