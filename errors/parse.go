package errors

import (
	"strconv"

	"github.com/larkspur-data/pgengine/codes"
)

// ParseFields builds a ServerError from the decoded {code: value} pairs of
// an ErrorResponse or NoticeResponse body. code is the single-byte error
// field identifier (see
// https://www.postgresql.org/docs/current/protocol-error-fields.html);
// unrecognized fields are ignored, matching the protocol's "ignore unknown
// field types" guidance.
//
// Severity is taken from field V when present, falling back to the
// always-required, possibly-localized field S; ParseFields returns a
// *ProtocolError if either S, C (SQLSTATE) or M (message) is missing.
func ParseFields(fields map[byte]string) (*ServerError, error) {
	localized, hasLocalized := fields['S']
	if !hasLocalized {
		return nil, NewProtocolError("missing localized severity field 'S' in error response")
	}

	code, hasCode := fields['C']
	if !hasCode {
		return nil, NewProtocolError("missing SQLSTATE field 'C' in error response")
	}

	message, hasMessage := fields['M']
	if !hasMessage {
		return nil, NewProtocolError("missing message field 'M' in error response")
	}

	severity := localized
	if v, ok := fields['V']; ok {
		severity = v
	}

	return &ServerError{
		Severity:         ParseSeverity(severity),
		Code:             codes.Code(code),
		Message:          message,
		Detail:           fields['D'],
		Hint:             fields['H'],
		Position:         parseOptionalInt(fields['P']),
		InternalPosition: parseOptionalInt(fields['p']),
		InternalQuery:    fields['q'],
		Where:            fields['w'],
		SchemaName:       fields['s'],
		TableName:        fields['t'],
		ColumnName:       fields['c'],
		DataTypeName:     fields['d'],
		ConstraintName:   fields['n'],
		File:             fields['F'],
		Line:             parseOptionalInt(fields['L']),
		Routine:          fields['R'],
	}, nil
}

func parseOptionalInt(raw string) int32 {
	if raw == "" {
		return 0
	}

	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0
	}

	return int32(n)
}
