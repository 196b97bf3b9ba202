package pgengine

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/larkspur-data/pgengine/errors"
)

// Dialer is the test seam used by WithDialer; it matches the subset of
// net.Dialer that Connect needs.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type config struct {
	host                    string
	port                    int
	database                string
	user                    string
	password                string
	applicationName         string
	fallbackApplicationName string
	connectTimeout          time.Duration
	dialer                  Dialer
	logger                  *slog.Logger
	noticeHandler           func(*errors.ServerError)
}

// Option configures a Connect call.
type Option func(*config)

// WithHost sets the target host: a TCP hostname/IP, an absolute filesystem
// directory for a Unix socket, or empty to use the platform default socket
// directory search.
func WithHost(host string) Option {
	return func(c *config) { c.host = host }
}

// WithPort sets the TCP port, or the socket suffix port for a Unix socket
// path ({dir}/.s.PGSQL.{port}). Defaults to 5432.
func WithPort(port int) Option {
	return func(c *config) { c.port = port }
}

// WithDatabase sets the database name. Defaults to the user name.
func WithDatabase(database string) Option {
	return func(c *config) { c.database = database }
}

// WithUser sets the startup user name. Defaults to the OS login name.
func WithUser(user string) Option {
	return func(c *config) { c.user = user }
}

// WithPassword sets the password offered in response to an authentication
// request.
func WithPassword(password string) Option {
	return func(c *config) { c.password = password }
}

// WithApplicationName sets the application_name startup parameter.
func WithApplicationName(name string) Option {
	return func(c *config) { c.applicationName = name }
}

// WithFallbackApplicationName sets the application_name used only when
// WithApplicationName was not given.
func WithFallbackApplicationName(name string) Option {
	return func(c *config) { c.fallbackApplicationName = name }
}

// WithConnectTimeout bounds the TCP/socket dial and the startup handshake.
// Zero (the default) means no timeout beyond ctx.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) { c.connectTimeout = d }
}

// WithDialer overrides the dialer used to open the underlying stream; tests
// use this to connect to an in-memory fake backend instead of a real
// socket.
func WithDialer(d Dialer) Option {
	return func(c *config) { c.dialer = d }
}

// WithLogger installs a *slog.Logger for engine/codec debug output.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithNoticeHandler installs a callback invoked for every NoticeResponse
// the backend sends outside of an ErrorResponse (e.g. NOTICE-level
// messages from PL/pgSQL, deprecation warnings). It must be supplied
// before Connect returns to avoid missing early notices.
func WithNoticeHandler(fn func(*errors.ServerError)) Option {
	return func(c *config) { c.noticeHandler = fn }
}
