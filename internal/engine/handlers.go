package engine

import (
	"fmt"

	"github.com/lib/pq/oid"

	"github.com/larkspur-data/pgengine/errors"
	"github.com/larkspur-data/pgengine/internal/values"
	"github.com/larkspur-data/pgengine/pkg/buffer"
	"github.com/larkspur-data/pgengine/pkg/types"
)

// handleMessage dispatches one complete backend message to its handler.
// It runs only on the read loop, so it may freely touch read-loop-only
// fields (current, response, latchedErr) and the mutex-guarded status
// fields.
func (e *Engine) handleMessage(id byte, payload buffer.Payload) error {
	switch types.ServerMessage(id) {
	case types.ServerAuth:
		return e.handleAuth(payload)
	case types.ServerParameterStatus:
		return e.handleParameterStatus(payload)
	case types.ServerBackendKeyData:
		return e.handleBackendKeyData(payload)
	case types.ServerRowDescription:
		return e.handleRowDescription(payload)
	case types.ServerDataRow:
		return e.handleDataRow(payload)
	case types.ServerCommandComplete:
		return e.handleCommandComplete(payload)
	case types.ServerEmptyQuery:
		e.current = &ResultSet{}
		e.response = append(e.response, *e.current)
		e.current = nil
		return nil
	case types.ServerNoData:
		e.current = &ResultSet{}
		return nil
	case types.ServerParseComplete, types.ServerBindComplete:
		// No state to update; acknowledged implicitly by the absence of an
		// ErrorResponse.
		return nil
	case types.ServerErrorResponse:
		return e.handleErrorResponse(payload)
	case types.ServerNoticeResponse:
		return e.handleNoticeResponse(payload)
	case types.ServerReady:
		return e.handleReadyForQuery(payload)
	default:
		return errors.NewProtocolError(fmt.Sprintf("unknown message identifier %q", id))
	}
}

func (e *Engine) handleParameterStatus(payload buffer.Payload) error {
	name, err := payload.GetString()
	if err != nil {
		return errors.NewProtocolError("ParameterStatus: " + err.Error())
	}

	value, err := payload.GetString()
	if err != nil {
		return errors.NewProtocolError("ParameterStatus: " + err.Error())
	}

	e.mu.Lock()
	e.statusParams[name] = value
	e.mu.Unlock()
	return nil
}

func (e *Engine) handleBackendKeyData(payload buffer.Payload) error {
	pid, err := payload.GetInt32()
	if err != nil {
		return errors.NewProtocolError("BackendKeyData: " + err.Error())
	}

	secret, err := payload.GetInt32()
	if err != nil {
		return errors.NewProtocolError("BackendKeyData: " + err.Error())
	}

	e.mu.Lock()
	e.backendPID = pid
	e.backendSecret = secret
	e.mu.Unlock()
	return nil
}

func (e *Engine) handleRowDescription(payload buffer.Payload) error {
	count, err := payload.GetInt16()
	if err != nil {
		return errors.NewProtocolError("RowDescription: " + err.Error())
	}

	fields := make([]Field, 0, count)
	for i := int16(0); i < count; i++ {
		name, err := payload.GetString()
		if err != nil {
			return errors.NewProtocolError("RowDescription: " + err.Error())
		}
		tableOID, err := payload.GetUint32()
		if err != nil {
			return errors.NewProtocolError("RowDescription: " + err.Error())
		}
		attrNo, err := payload.GetInt16()
		if err != nil {
			return errors.NewProtocolError("RowDescription: " + err.Error())
		}
		typeOID, err := payload.GetUint32()
		if err != nil {
			return errors.NewProtocolError("RowDescription: " + err.Error())
		}
		typeSize, err := payload.GetInt16()
		if err != nil {
			return errors.NewProtocolError("RowDescription: " + err.Error())
		}
		typeMod, err := payload.GetInt32()
		if err != nil {
			return errors.NewProtocolError("RowDescription: " + err.Error())
		}
		format, err := payload.GetInt16()
		if err != nil {
			return errors.NewProtocolError("RowDescription: " + err.Error())
		}

		fields = append(fields, Field{
			Name:         name,
			TableOID:     tableOID,
			ColumnAttrNo: attrNo,
			TypeOID:      oid.Oid(typeOID),
			TypeSize:     typeSize,
			TypeModifier: typeMod,
			Format:       format,
		})
	}

	e.current = &ResultSet{Fields: fields}
	return nil
}

func (e *Engine) handleDataRow(payload buffer.Payload) error {
	if e.current == nil {
		return errors.NewProtocolError("DataRow received with no open result set")
	}

	count, err := payload.GetInt16()
	if err != nil {
		return errors.NewProtocolError("DataRow: " + err.Error())
	}

	if int(count) != len(e.current.Fields) {
		return errors.NewProtocolError(fmt.Sprintf(
			"DataRow column count %d does not match RowDescription count %d",
			count, len(e.current.Fields)))
	}

	row := make(Row, count)
	for i := int16(0); i < count; i++ {
		n, err := payload.GetInt32()
		if err != nil {
			return errors.NewProtocolError("DataRow: " + err.Error())
		}

		raw, err := payload.GetBytes(n)
		if err != nil {
			return errors.NewProtocolError("DataRow: " + err.Error())
		}

		field := e.current.Fields[i]
		value, err := values.DecodeField(field.TypeOID, types.FormatCode(field.Format), raw)
		if err != nil {
			return err
		}
		row[i] = value
	}

	e.current.Rows = append(e.current.Rows, row)
	return nil
}

func (e *Engine) handleCommandComplete(payload buffer.Payload) error {
	tag, err := payload.GetString()
	if err != nil {
		return errors.NewProtocolError("CommandComplete: " + err.Error())
	}

	if e.current == nil {
		e.current = &ResultSet{}
	}

	e.current.CommandStatus = tag
	e.response = append(e.response, *e.current)
	e.current = nil
	return nil
}

func (e *Engine) handleErrorResponse(payload buffer.Payload) error {
	fields, err := decodeFields(payload)
	if err != nil {
		return err
	}

	serverErr, perr := errors.ParseFields(fields)
	if perr != nil {
		return perr
	}

	// An ErrorResponse of any severity during startup (e.g. bad credentials) closes
	// the connection rather than merely latching, since there is no
	// ReadyForQuery to raise it against.
	if e.getState() == AwaitingAuth || e.getState() == AwaitingStartupReady {
		e.resolvePending(result{err: serverErr})
		return errors.NewProtocolError("startup failed: " + serverErr.Error())
	}

	e.latchedErr = serverErr
	return nil
}

func (e *Engine) handleNoticeResponse(payload buffer.Payload) error {
	fields, err := decodeFields(payload)
	if err != nil {
		return err
	}

	notice, perr := errors.ParseFields(fields)
	if perr != nil {
		return nil // malformed notices are not fatal; drop them
	}

	if e.noticeHandler != nil {
		e.noticeHandler(notice)
	}
	return nil
}

func (e *Engine) handleReadyForQuery(payload buffer.Payload) error {
	status, err := payload.GetByte()
	if err != nil {
		return errors.NewProtocolError("ReadyForQuery: " + err.Error())
	}

	e.mu.Lock()
	e.txStatus = types.TransactionStatus(status)
	e.mu.Unlock()

	switch e.getState() {
	case AwaitingStartupReady:
		e.setState(Idle)
		e.creds.Password = "" // startup is complete; forget the password
		e.resolvePending(result{})
		return nil
	default:
		e.setState(Idle)

		if e.latchedErr != nil {
			err := e.latchedErr
			e.latchedErr = nil
			e.response = nil
			e.resolvePending(result{err: err})
			return nil
		}

		resp := e.response
		e.response = nil
		e.resolvePending(result{response: resp})
		return nil
	}
}

// decodeFields reads the repeated {byte code, nul-terminated string} pairs
// that make up an ErrorResponse or NoticeResponse body, up to the final nul
// terminator.
func decodeFields(payload buffer.Payload) (map[byte]string, error) {
	fields := make(map[byte]string)

	for {
		code, err := payload.GetByte()
		if err != nil {
			return nil, errors.NewProtocolError("error field: " + err.Error())
		}
		if code == 0 {
			return fields, nil
		}

		value, err := payload.GetString()
		if err != nil {
			return nil, errors.NewProtocolError("error field: " + err.Error())
		}
		fields[code] = value
	}
}
