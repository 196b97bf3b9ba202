// Package engine implements the protocol engine: the message handlers, the
// request builder and the connection state machine named in the spec's
// component design. It is deliberately unaware of the ergonomic façade
// (host/port resolution, option parsing) that wraps it; it is handed an
// already-connected stream and startup credentials.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/lib/pq/oid"

	"github.com/larkspur-data/pgengine/errors"
	"github.com/larkspur-data/pgengine/pkg/buffer"
	"github.com/larkspur-data/pgengine/pkg/types"
)

// Credentials are the startup parameters the engine needs to authenticate.
// Password is held only until the ReadyForQuery that ends startup, then
// zeroed.
type Credentials struct {
	User            string
	Database        string
	ApplicationName string
	Password        string
}

// Field, Row, ResultSet and Response mirror the public result types; the
// façade package converts them field by field into its own types.
type Field struct {
	Name         string
	TableOID     uint32
	ColumnAttrNo int16
	TypeOID      oid.Oid
	TypeSize     int16
	TypeModifier int32
	Format       int16
}

type Row []any

type ResultSet struct {
	Fields        []Field
	Rows          []Row
	CommandStatus string
}

type Response []ResultSet

// result is what a pending operation (startup or execute) is resolved with.
type result struct {
	response Response
	err      error
}

// Engine drives one PostgreSQL connection's protocol state machine.
// Concurrent Execute calls are serialized one at a time through sem, so at
// most one request is ever in flight; requests are never pipelined.
type Engine struct {
	conn    io.ReadWriteCloser
	codec   *buffer.Codec
	writer  *buffer.Writer
	writeMu sync.Mutex // guards writer; Close's Terminate can race a caller's request
	logger  *slog.Logger

	creds Credentials

	sem chan struct{} // 1-buffered; held for the duration of one operation

	mu            sync.RWMutex // guards the fields below, read by accessors
	state         State
	statusParams  map[string]string
	txStatus      types.TransactionStatus
	backendPID    int32
	backendSecret int32

	noticeHandler func(*errors.ServerError)

	pendingMu sync.Mutex
	pending   *pending

	// readLoop-only fields.
	current    *ResultSet
	response   Response
	latchedErr *errors.ServerError
}

type pending struct {
	resultCh chan result
}

// New constructs an Engine around an already-connected stream.
func New(conn io.ReadWriteCloser, logger *slog.Logger, creds Credentials) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		conn:         conn,
		codec:        buffer.NewCodec(),
		writer:       buffer.NewWriter(logger, conn),
		logger:       logger,
		creds:        creds,
		sem:          make(chan struct{}, 1),
		state:        Connecting,
		statusParams: make(map[string]string),
	}

	e.sem <- struct{}{}
	return e
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) getState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// StatusParameter returns the current value of a server status parameter
// (e.g. "TimeZone", "server_version"), as last reported by a ParameterStatus
// message during startup or later execution.
func (e *Engine) StatusParameter(key string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusParams[key]
}

// StatusParameters returns a defensive copy of every known status
// parameter.
func (e *Engine) StatusParameters() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]string, len(e.statusParams))
	for k, v := range e.statusParams {
		out[k] = v
	}
	return out
}

// TransactionStatus returns the transaction status last reported by a
// ReadyForQuery message.
func (e *Engine) TransactionStatus() types.TransactionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.txStatus
}

// BackendPID and BackendSecretKey return the values reported by
// BackendKeyData; both are zero until that message has been received.
func (e *Engine) BackendPID() int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backendPID
}

func (e *Engine) BackendSecretKey() int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backendSecret
}

// SetNoticeHandler installs a callback invoked for every NoticeResponse.
// It must be set before Run is started to avoid a data race with the read
// loop.
func (e *Engine) SetNoticeHandler(fn func(*errors.ServerError)) {
	e.noticeHandler = fn
}

// Run is the engine's single read loop: it owns the only blocking network
// read and is the only goroutine that mutates read-loop-only state or
// invokes message handlers. It returns when the stream is closed or a
// protocol violation occurs.
func (e *Engine) Run() {
	buf := make([]byte, 8192)

	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			e.codec.Feed(buf[:n])
			if ferr := e.drain(); ferr != nil {
				e.fail(ferr)
				return
			}
		}

		if err != nil {
			e.failTransport(err)
			return
		}
	}
}

// drain extracts and handles every complete message currently buffered.
func (e *Engine) drain() error {
	for {
		id, payload, ok, err := e.codec.Take()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if herr := e.handleMessage(id, buffer.Payload(payload)); herr != nil {
			return herr
		}
	}
}

// fail transitions to Fatal on a protocol violation, resolves any pending
// operation with it, and closes the stream.
func (e *Engine) fail(err error) {
	e.setState(Fatal)
	e.resolvePending(result{err: err})
	_ = e.conn.Close()
}

// failTransport transitions to Fatal on a transport-level error (including
// a clean io.EOF) and resolves any pending operation with it.
func (e *Engine) failTransport(err error) {
	e.setState(Fatal)
	e.resolvePending(result{err: fmt.Errorf("postgres: connection lost: %w", err)})
	_ = e.conn.Close()
}

// installPending registers a new pending operation, failing if one is
// already in flight (it never should be, since Execute/Startup serialize
// through sem, but this guards against misuse).
func (e *Engine) installPending() (*pending, error) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	if e.pending != nil {
		return nil, fmt.Errorf("postgres: an operation is already in flight on this connection")
	}

	p := &pending{resultCh: make(chan result, 1)}
	e.pending = p
	return p, nil
}

// resolvePending delivers res to the current pending operation, if any.
// Called only from the read loop.
func (e *Engine) resolvePending(res result) {
	e.pendingMu.Lock()
	p := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	if p != nil {
		p.resultCh <- res
	}
}

// abortPending delivers cause to the current pending operation, if any, as
// a best-effort cancellation. Used by Close and by a caller-cancelled
// Execute.
func (e *Engine) abortPending(cause error) {
	e.pendingMu.Lock()
	p := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	if p != nil {
		p.resultCh <- result{err: cause}
	}
}

// Close best-effort terminates the connection: it first aborts any
// in-flight operation with a cancellation error, then writes the Terminate
// message (if the connection is still writable) and closes the stream.
func (e *Engine) Close(ctx context.Context) error {
	e.abortPending(fmt.Errorf("postgres: connection closed"))

	state := e.getState()
	if state != Closed && state != Fatal {
		e.writeMu.Lock()
		e.writer.Start(types.ClientTerminate)
		_ = e.writer.End()
		_ = e.writer.Flush()
		e.writeMu.Unlock()
	}

	e.setState(Closed)
	return e.conn.Close()
}
