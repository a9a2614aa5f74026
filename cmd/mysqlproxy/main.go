// Command mysqlproxy is a transparent MySQL wire-protocol proxy. It
// terminates the client handshake, authenticates against either a static
// credential pair or the real upstream (forward-auth mode), and relays
// commands through an Upstream Adapter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/efreet/mysqlproxy/plugin"
	"github.com/efreet/mysqlproxy/plugin/builtin"
	"github.com/efreet/mysqlproxy/proxy"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mysqlproxy", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mysqlproxy — MySQL wire-protocol proxy\n\nUsage:\n  mysqlproxy [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	listen := fs.String("listen", "", "client listen address, host:port (required)")
	upstream := fs.String("upstream", "", "upstream MySQL address, host:port (required)")
	user := fs.String("user", "", "static proxy username (ignored when -forward-auth is set)")
	password := fs.String("password", "", "static proxy password (ignored when -forward-auth is set)")
	forwardAuth := fs.Bool("forward-auth", false, "relay each client's own auth bytes to the upstream instead of checking them locally")
	pluginDir := fs.String("plugin-dir", "", "directory of *.so plugins to load at startup")
	logFormat := fs.String("log-format", "text", "log output format: text or json")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	readTimeout := fs.Duration("read-timeout", 30*time.Second, "per-command read deadline")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "per-command write deadline")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mysqlproxy %s\n", version)
		return
	}

	if *listen == "" || *upstream == "" {
		fs.Usage()
		os.Exit(1)
	}

	logger, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(runConfig{
		listen:       *listen,
		upstream:     *upstream,
		user:         *user,
		password:     *password,
		forwardAuth:  *forwardAuth,
		pluginDir:    *pluginDir,
		readTimeout:  *readTimeout,
		writeTimeout: *writeTimeout,
		logger:       logger,
	}); err != nil {
		logger.Error("mysqlproxy exited", "err", err)
		os.Exit(1)
	}
}

type runConfig struct {
	listen       string
	upstream     string
	user         string
	password     string
	forwardAuth  bool
	pluginDir    string
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

func run(cfg runConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := plugin.NewRegistry(cfg.logger)
	registry.Register("com_query", builtin.VersionCommentPlugin{})
	if cfg.pluginDir != "" {
		if err := plugin.DiscoverDir(registry, cfg.pluginDir); err != nil {
			return fmt.Errorf("load plugins from %q: %w", cfg.pluginDir, err)
		}
	}

	p := proxy.New(cfg.listen, cfg.upstream,
		proxy.WithCredentials(cfg.user, cfg.password),
		proxy.WithForwardAuth(cfg.forwardAuth),
		proxy.WithTimeouts(cfg.readTimeout, cfg.writeTimeout),
		proxy.WithRegistry(registry),
		proxy.WithLogger(cfg.logger),
	)

	cfg.logger.Info("starting mysqlproxy",
		"listen", cfg.listen, "upstream", cfg.upstream, "forward_auth", cfg.forwardAuth)

	return p.ListenAndServe(ctx)
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid -log-format %q: must be text or json", format)
	}
	return slog.New(handler), nil
}
