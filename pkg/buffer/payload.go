package buffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Payload wraps a single message body and offers the same convenience
// accessors the teacher's buffer.Reader exposes, consuming bytes from the
// front as each field is read.
type Payload []byte

// ErrInsufficientData is returned whenever a Payload is read past its end.
var ErrInsufficientData = fmt.Errorf("buffer: insufficient data in message")

// ErrMissingNulTerminator is returned when GetString does not find a NUL
// byte before the end of the payload.
var ErrMissingNulTerminator = fmt.Errorf("buffer: missing NUL terminator")

// GetString reads a null-terminated string, advancing past the terminator.
func (p *Payload) GetString() (string, error) {
	pos := bytes.IndexByte(*p, 0)
	if pos == -1 {
		return "", ErrMissingNulTerminator
	}

	s := string((*p)[:pos])
	*p = (*p)[pos+1:]
	return s, nil
}

// GetBytes reads n bytes. n == -1 is treated as the NULL sentinel used by
// DataRow column lengths and returns a nil slice with no error.
func (p *Payload) GetBytes(n int32) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}

	if n < 0 || int(n) > len(*p) {
		return nil, ErrInsufficientData
	}

	v := (*p)[:n]
	*p = (*p)[n:]
	return v, nil
}

// GetByte reads a single byte.
func (p *Payload) GetByte() (byte, error) {
	if len(*p) < 1 {
		return 0, ErrInsufficientData
	}

	v := (*p)[0]
	*p = (*p)[1:]
	return v, nil
}

// GetUint16 reads a big-endian uint16.
func (p *Payload) GetUint16() (uint16, error) {
	if len(*p) < 2 {
		return 0, ErrInsufficientData
	}

	v := binary.BigEndian.Uint16((*p)[:2])
	*p = (*p)[2:]
	return v, nil
}

// GetInt16 reads a big-endian int16.
func (p *Payload) GetInt16() (int16, error) {
	v, err := p.GetUint16()
	return int16(v), err
}

// GetUint32 reads a big-endian uint32.
func (p *Payload) GetUint32() (uint32, error) {
	if len(*p) < 4 {
		return 0, ErrInsufficientData
	}

	v := binary.BigEndian.Uint32((*p)[:4])
	*p = (*p)[4:]
	return v, nil
}

// GetInt32 reads a big-endian int32.
func (p *Payload) GetInt32() (int32, error) {
	v, err := p.GetUint32()
	return int32(v), err
}

// Len returns the number of unread bytes remaining in the payload.
func (p *Payload) Len() int {
	return len(*p)
}
