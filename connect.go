package pgengine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/larkspur-data/pgengine/internal/engine"
)

const defaultPort = 5432

var socketSearchDirs = []string{"/var/run/postgresql", "/tmp"}

type netDialer struct{ net.Dialer }

func (d netDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.Dialer.DialContext(ctx, network, address)
}

// Connect opens a connection to a PostgreSQL backend and runs the startup/
// authentication handshake to completion. The returned Conn is ready for
// Execute once Connect returns without error.
//
// Host selection follows the transport rule: an absolute path names a
// directory holding a Unix socket at {dir}/.s.PGSQL.{port}; any other
// non-empty host is dialed over TCP; an empty host searches the platform's
// default socket directories before falling back to TCP localhost (always
// TCP on Windows, which has no such socket convention).
func Connect(ctx context.Context, opts ...Option) (*Conn, error) {
	cfg := &config{port: defaultPort}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.dialer == nil {
		cfg.dialer = netDialer{}
	}
	if cfg.user == "" {
		if u, err := user.Current(); err == nil {
			cfg.user = u.Username
		}
	}
	if cfg.database == "" {
		cfg.database = cfg.user
	}

	appName := cfg.applicationName
	if appName == "" {
		appName = cfg.fallbackApplicationName
	}

	if cfg.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.connectTimeout)
		defer cancel()
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	eng := engine.New(conn, cfg.logger, engine.Credentials{
		User:            cfg.user,
		Database:        cfg.database,
		ApplicationName: appName,
		Password:        cfg.password,
	})
	if cfg.noticeHandler != nil {
		eng.SetNoticeHandler(cfg.noticeHandler)
	}

	go eng.Run()

	if err := eng.Startup(ctx, nil); err != nil {
		_ = eng.Close(context.Background())
		return nil, err
	}

	return &Conn{engine: eng}, nil
}

func dial(ctx context.Context, cfg *config) (net.Conn, error) {
	port := strconv.Itoa(cfg.port)

	if runtime.GOOS != "windows" {
		if filepath.IsAbs(cfg.host) {
			return cfg.dialer.DialContext(ctx, "unix", socketPath(cfg.host, port))
		}

		if cfg.host == "" {
			for _, dir := range socketSearchDirs {
				conn, err := cfg.dialer.DialContext(ctx, "unix", socketPath(dir, port))
				if err == nil {
					return conn, nil
				}
			}
		}
	}

	host := cfg.host
	if host == "" {
		host = "localhost"
	}
	return cfg.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
}

func socketPath(dir, port string) string {
	return filepath.Join(dir, fmt.Sprintf(".s.PGSQL.%s", port))
}
