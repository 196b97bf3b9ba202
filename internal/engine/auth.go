package engine

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/larkspur-data/pgengine/errors"
	"github.com/larkspur-data/pgengine/pkg/buffer"
	"github.com/larkspur-data/pgengine/pkg/types"
)

// authSpecifier values, per
// https://www.postgresql.org/docs/current/protocol-message-formats.html.
// Cleartext, SCRAM, GSSAPI, SSPI and SASL are deliberately unsupported:
// receiving any of them is a protocol violation rather than something this
// engine will quietly answer.
const (
	authOK          authSpecifier = 0
	authMD5Password authSpecifier = 5
)

type authSpecifier int32

func (e *Engine) handleAuth(payload buffer.Payload) error {
	specifier, err := payload.GetInt32()
	if err != nil {
		return errors.NewProtocolError("Authentication: " + err.Error())
	}

	switch authSpecifier(specifier) {
	case authOK:
		e.setState(AwaitingStartupReady)
		return nil

	case authMD5Password:
		salt, err := payload.GetBytes(4)
		if err != nil {
			return errors.NewProtocolError("AuthenticationMD5Password: " + err.Error())
		}
		if e.creds.Password == "" {
			return errors.NewProtocolError("password required for MD5 authentication")
		}
		return e.sendPasswordMessage(hashMD5Password(e.creds.User, e.creds.Password, salt))

	default:
		return errors.NewProtocolError("unsupported authentication method")
	}
}

// hashMD5Password computes the MD5 password response PostgreSQL expects:
// "md5" + md5hex(md5hex(password + user) + salt).
func hashMD5Password(user, password string, salt []byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])

	outer := md5.Sum(append([]byte(innerHex), salt...))
	return "md5" + hex.EncodeToString(outer[:])
}

func (e *Engine) sendPasswordMessage(password string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.writer.Start(types.ClientPassword)
	e.writer.AddString(password)
	e.writer.AddNullTerminate()
	if err := e.writer.End(); err != nil {
		return err
	}
	return e.writer.Flush()
}
