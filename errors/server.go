package errors

import (
	"fmt"

	"github.com/larkspur-data/pgengine/codes"
)

// ServerError reports that the backend sent an ErrorResponse. It carries
// every field the wire protocol defines; all but Severity, Code and
// Message are optional and left at their zero value when the backend did
// not include them.
//
// A ServerError is latched by the engine until the following
// ReadyForQuery and then raised in place of the in-progress response; the
// connection remains usable afterwards.
type ServerError struct {
	Severity Severity
	Code     codes.Code
	Message  string

	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Severity, e.Message, e.Code)
}

// hasCode reports whether e carries the given SQLSTATE code; Is uses it to
// match a Code(...) target.
func (e *ServerError) hasCode(code codes.Code) bool {
	return e.Code == code
}

// codeMatcher lets callers write errors.Is(err, Code(codes.DivisionByZero)).
type codeMatcher codes.Code

func (m codeMatcher) Error() string { return string(m) }

// Code returns a sentinel comparable with errors.Is against any ServerError
// carrying the given SQLSTATE code.
func Code(code codes.Code) error {
	return codeMatcher(code)
}

// Is implements the errors.Is hook: a ServerError matches a codeMatcher
// target when their SQLSTATE codes are equal.
func (e *ServerError) Is(target error) bool {
	m, ok := target.(codeMatcher)
	if !ok {
		return false
	}

	return e.hasCode(codes.Code(m))
}
