// Package proxy is the per-connection coordinator: it owns the listener,
// spawns one session per accepted connection, and wires each session to
// an upstream adapter and the shared plugin registry.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/efreet/mysqlproxy/plugin"
	"github.com/efreet/mysqlproxy/plugin/builtin"
	"github.com/efreet/mysqlproxy/session"
	"github.com/efreet/mysqlproxy/upstream"
	"github.com/efreet/mysqlproxy/upstream/forwardauth"
	"github.com/efreet/mysqlproxy/upstream/sqladapter"
)

// Proxy accepts client connections on a listen address and, for each one,
// dials the configured upstream and drives a session.Session to
// completion in its own goroutine.
type Proxy struct {
	listenAddr   string
	upstreamAddr string

	proxyUser     string
	proxyPassword string
	forwardAuth   bool

	readTimeout  time.Duration
	writeTimeout time.Duration

	registry *plugin.Registry
	logger   *slog.Logger

	listener net.Listener
}

// Option configures a Proxy at construction time.
type Option func(*Proxy)

// WithCredentials sets the static username/password the proxy
// authenticates clients against when forward-auth mode is disabled.
func WithCredentials(user, password string) Option {
	return func(p *Proxy) { p.proxyUser, p.proxyPassword = user, password }
}

// WithForwardAuth toggles forward-auth mode, where the proxy relays each
// client's own auth bytes to the upstream instead of comparing them
// locally.
func WithForwardAuth(enabled bool) Option {
	return func(p *Proxy) { p.forwardAuth = enabled }
}

// WithTimeouts sets the per-command read/write deadlines applied to the
// client socket.
func WithTimeouts(read, write time.Duration) Option {
	return func(p *Proxy) { p.readTimeout, p.writeTimeout = read, write }
}

// WithRegistry supplies an externally constructed plugin registry
// (already populated via plugin.DiscoverDir, for instance) instead of the
// default one New builds with only builtin.VersionCommentPlugin registered.
func WithRegistry(reg *plugin.Registry) Option {
	return func(p *Proxy) { p.registry = reg }
}

// WithLogger sets the structured logger every session's events are
// written through. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) { p.logger = logger }
}

// New returns a Proxy listening on listenAddr and forwarding to
// upstreamAddr, configured by opts.
func New(listenAddr, upstreamAddr string, opts ...Option) *Proxy {
	p := &Proxy{
		listenAddr:   listenAddr,
		upstreamAddr: upstreamAddr,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = plugin.NewRegistry(p.logger)
		p.registry.Register("com_query", builtin.VersionCommentPlugin{})
	}
	return p
}

// ListenAndServe binds the listener and accepts connections until ctx is
// canceled, spawning one goroutine per connection. It returns nil on
// clean shutdown (ctx canceled) and a non-nil error on bind failure or an
// unexpected accept failure.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listen %s: %w", p.listenAddr, err)
	}
	p.listener = lis

	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	p.logger.Info("proxy listening", "addr", p.listenAddr, "upstream", p.upstreamAddr, "forward_auth", p.forwardAuth)

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("proxy: accept: %w", err)
		}
		go p.handle(ctx, conn)
	}
}

// Close stops accepting new connections.
func (p *Proxy) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

func (p *Proxy) handle(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	logger := p.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	adapter, err := p.dialUpstream(ctx, connID)
	if err != nil {
		logger.Warn("upstream dial failed", "err", err)
		conn.Close()
		return
	}

	s := session.New(session.Config{
		ID:            connID,
		Conn:          conn,
		Upstream:      adapter,
		Registry:      p.registry,
		Logger:        logger,
		ProxyUser:     p.proxyUser,
		ProxyPassword: p.proxyPassword,
		ForwardAuth:   p.forwardAuth,
		ReadTimeout:   p.readTimeout,
		WriteTimeout:  p.writeTimeout,
	})
	if err := s.Run(ctx); err != nil {
		logger.Debug("session ended", "err", err)
	}
}

func (p *Proxy) dialUpstream(ctx context.Context, connID string) (upstream.Adapter, error) {
	host, port, err := splitHostPort(p.upstreamAddr)
	if err != nil {
		return nil, err
	}

	if p.forwardAuth {
		conn := forwardauth.New()
		if err := conn.Connect(ctx, host, port, p.proxyUser, p.proxyPassword); err != nil {
			return nil, err
		}
		return conn, nil
	}

	return sqladapter.New(ctx, host, port, p.proxyUser, p.proxyPassword)
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("proxy: invalid upstream address %q: %w", addr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("proxy: invalid upstream port %q: %w", portStr, err)
	}
	return host, port, nil
}
