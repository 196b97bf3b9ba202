// Package fakeserver provides a scripted, in-process stand-in for a
// PostgreSQL backend: it accepts the same io.ReadWriteCloser the engine
// dials, speaks just enough of the startup/auth/query sequence to drive
// the engine through a scenario, and is built with the same
// pkg/buffer.Writer the engine itself uses to assemble messages, so a
// fake reply is byte-for-byte something the engine could really receive.
package fakeserver

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"

	"github.com/larkspur-data/pgengine/pkg/buffer"
	"github.com/larkspur-data/pgengine/pkg/types"
)

// Server is the fake backend's half of an in-memory pipe. Client is handed
// to the code under test in place of a dialed net.Conn; Server is driven by
// the test via the Read/Send helpers below.
type Server struct {
	Client net.Conn
	server net.Conn
	writer *buffer.Writer
	logger *slog.Logger
}

// New returns a connected Client/Server pair backed by net.Pipe.
func New() *Server {
	client, server := net.Pipe()
	logger := slog.Default()
	return &Server{
		Client: client,
		server: server,
		writer: buffer.NewWriter(logger, server),
		logger: logger,
	}
}

// ReadMessage blocks until one complete client message arrives, returning
// its identifier and payload.
func (s *Server) ReadMessage() (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(s.server, header); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(header[1:5])
	payload := make([]byte, int(length)-4)
	if len(payload) > 0 {
		if _, err := io.ReadFull(s.server, payload); err != nil {
			return 0, nil, err
		}
	}

	return header[0], payload, nil
}

// ReadStartupMessage reads the one message with no identifier byte.
func (s *Server) ReadStartupMessage() ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(s.server, lenBuf); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf)
	payload := make([]byte, int(length)-4)
	if _, err := io.ReadFull(s.server, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// SendAuthenticationOK writes AuthenticationOk ('R', specifier 0).
func (s *Server) SendAuthenticationOK() error {
	s.writer.Start(types.ClientMessage('R'))
	s.writer.AddInt32(0)
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendAuthenticationMD5 writes AuthenticationMD5Password ('R', specifier 5)
// with the given 4-byte salt.
func (s *Server) SendAuthenticationMD5(salt [4]byte) error {
	s.writer.Start(types.ClientMessage('R'))
	s.writer.AddInt32(5)
	s.writer.AddBytes(salt[:])
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendParameterStatus writes one ParameterStatus ('S') message.
func (s *Server) SendParameterStatus(name, value string) error {
	s.writer.Start(types.ClientMessage('S'))
	s.writer.AddString(name)
	s.writer.AddNullTerminate()
	s.writer.AddString(value)
	s.writer.AddNullTerminate()
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendBackendKeyData writes BackendKeyData ('K').
func (s *Server) SendBackendKeyData(pid, secret int32) error {
	s.writer.Start(types.ClientMessage('K'))
	s.writer.AddInt32(pid)
	s.writer.AddInt32(secret)
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendReadyForQuery writes ReadyForQuery ('Z') with the given status byte.
func (s *Server) SendReadyForQuery(status byte) error {
	s.writer.Start(types.ClientMessage('Z'))
	s.writer.AddByte(status)
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendRowDescription writes RowDescription ('T') for the given column
// names, each described as a text-format, unknown-oid-size column with the
// given type OIDs (parallel slice to names).
func (s *Server) SendRowDescription(names []string, typeOIDs []uint32) error {
	s.writer.Start(types.ClientMessage('T'))
	s.writer.AddInt16(int16(len(names)))
	for i, name := range names {
		s.writer.AddString(name)
		s.writer.AddNullTerminate()
		s.writer.AddUint32(0)        // table oid
		s.writer.AddInt16(0)         // column attr no
		s.writer.AddUint32(typeOIDs[i])
		s.writer.AddInt16(-1) // type size
		s.writer.AddInt32(-1) // type modifier
		s.writer.AddInt16(0)  // format: text
	}
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendDataRow writes a DataRow ('D') message. A nil entry in values encodes
// SQL NULL.
func (s *Server) SendDataRow(values [][]byte) error {
	s.writer.Start(types.ClientMessage('D'))
	s.writer.AddInt16(int16(len(values)))
	for _, v := range values {
		if v == nil {
			s.writer.AddInt32(-1)
			continue
		}
		s.writer.AddInt32(int32(len(v)))
		s.writer.AddBytes(v)
	}
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendCommandComplete writes CommandComplete ('C') with the given tag.
func (s *Server) SendCommandComplete(tag string) error {
	s.writer.Start(types.ClientMessage('C'))
	s.writer.AddString(tag)
	s.writer.AddNullTerminate()
	_ = s.writer.End()
	return s.writer.Flush()
}

// SendErrorResponse writes an ErrorResponse ('E') from the given
// {field code: value} pairs.
func (s *Server) SendErrorResponse(fields map[byte]string) error {
	return s.sendFieldedMessage('E', fields)
}

// SendNoticeResponse writes a NoticeResponse ('N') from the given
// {field code: value} pairs.
func (s *Server) SendNoticeResponse(fields map[byte]string) error {
	return s.sendFieldedMessage('N', fields)
}

func (s *Server) sendFieldedMessage(id byte, fields map[byte]string) error {
	s.writer.Start(types.ClientMessage(id))
	for code, value := range fields {
		s.writer.AddByte(code)
		s.writer.AddString(value)
		s.writer.AddNullTerminate()
	}
	s.writer.AddByte(0)
	_ = s.writer.End()
	return s.writer.Flush()
}

// Close closes both ends of the pipe.
func (s *Server) Close() error {
	_ = s.server.Close()
	return s.Client.Close()
}

// StandardErrorFields returns a minimal {S,C,M} field set for the given
// severity/code/message, the smallest valid ErrorResponse body.
func StandardErrorFields(severity, code, message string) map[byte]string {
	return map[byte]string{'S': severity, 'C': code, 'M': message}
}
