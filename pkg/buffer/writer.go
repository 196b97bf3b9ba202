package buffer

import (
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/larkspur-data/pgengine/pkg/types"
)

// scratchSize is the reusable write buffer's starting capacity. Requests
// larger than this (a long query string, a large parameter) simply grow the
// underlying slice; Go's append already performs the "fall back to an
// allocated buffer" behaviour the design notes ask for.
const scratchSize = 8192

// Writer assembles one or more length-prefixed protocol messages into a
// single buffer and writes them to the underlying stream in one Flush call.
// This is what lets the extended query path emit Parse/Bind/Describe/
// Execute/Flush/Sync as a single pipelined write.
type Writer struct {
	io.Writer
	logger     *slog.Logger
	frame      []byte
	frameStart int
	putbuf     [4]byte
	err        error
}

// NewWriter constructs a Writer around the given stream.
func NewWriter(logger *slog.Logger, writer io.Writer) *Writer {
	return &Writer{
		logger: logger,
		Writer: writer,
		frame:  make([]byte, 0, scratchSize),
	}
}

// Start begins a new message of the given type: the identifier byte and a
// placeholder 4-byte length are appended immediately; End later patches the
// length in place. Multiple Start/End pairs may be issued before Flush.
func (w *Writer) Start(t types.ClientMessage) {
	w.frameStart = len(w.frame)
	w.frame = append(w.frame, byte(t), 0, 0, 0, 0)
}

// AddByte appends a single byte to the open message.
func (w *Writer) AddByte(b byte) {
	w.frame = append(w.frame, b)
}

// AddInt16 appends a big-endian int16 to the open message.
func (w *Writer) AddInt16(i int16) {
	binary.BigEndian.PutUint16(w.putbuf[:2], uint16(i))
	w.frame = append(w.frame, w.putbuf[:2]...)
}

// AddInt32 appends a big-endian int32 to the open message.
func (w *Writer) AddInt32(i int32) {
	binary.BigEndian.PutUint32(w.putbuf[:4], uint32(i))
	w.frame = append(w.frame, w.putbuf[:4]...)
}

// AddUint32 appends a big-endian uint32 to the open message.
func (w *Writer) AddUint32(i uint32) {
	binary.BigEndian.PutUint32(w.putbuf[:4], i)
	w.frame = append(w.frame, w.putbuf[:4]...)
}

// AddBytes appends raw bytes to the open message.
func (w *Writer) AddBytes(b []byte) {
	w.frame = append(w.frame, b...)
}

// AddString appends a string's bytes to the open message.
func (w *Writer) AddString(s string) {
	w.frame = append(w.frame, s...)
}

// AddNullTerminate appends a single NUL byte.
func (w *Writer) AddNullTerminate() {
	w.frame = append(w.frame, 0)
}

// End patches the length prefix of the message started by the most recent
// Start call. The length covers itself and the payload, not the identifier
// byte, per the wire format.
func (w *Writer) End() error {
	length := uint32(len(w.frame) - w.frameStart - 1)
	binary.BigEndian.PutUint32(w.frame[w.frameStart+1:w.frameStart+5], length)
	return w.err
}

// Bytes returns every message assembled since the last Reset/Flush.
func (w *Writer) Bytes() []byte {
	return w.frame
}

// Reset discards any assembled messages without writing them.
func (w *Writer) Reset() {
	w.frame = w.frame[:0]
	w.err = nil
}

// Flush writes every message assembled since the last Reset/Flush to the
// underlying stream in a single Write call, then resets the buffer.
func (w *Writer) Flush() error {
	defer w.Reset()

	if w.err != nil {
		return w.err
	}

	if len(w.frame) == 0 {
		return nil
	}

	w.logger.Debug("-> flushing request", slog.Int("bytes", len(w.frame)))
	_, err := w.Write(w.frame)
	return err
}

// WriteStartup writes the startup message, which uniquely has no leading
// identifier byte: a 4-byte length, the protocol version, null-terminated
// key/value pairs, and a final NUL.
func (w *Writer) WriteStartup(version types.Version, params map[string]string) error {
	w.frameStart = len(w.frame)
	w.frame = append(w.frame, 0, 0, 0, 0)
	w.AddUint32(uint32(version))

	for key, value := range params {
		if value == "" {
			continue
		}
		w.AddString(key)
		w.AddNullTerminate()
		w.AddString(value)
		w.AddNullTerminate()
	}

	w.AddNullTerminate()

	length := uint32(len(w.frame) - w.frameStart)
	binary.BigEndian.PutUint32(w.frame[w.frameStart:w.frameStart+4], length)
	return w.Flush()
}
