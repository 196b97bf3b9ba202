package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/larkspur-data/pgengine/codes"
	pgerrors "github.com/larkspur-data/pgengine/errors"
)

func TestServerErrorIsMatchesCode(t *testing.T) {
	err := &pgerrors.ServerError{
		Severity: pgerrors.SeverityError,
		Code:     codes.DivisionByZero,
		Message:  "division by zero",
	}

	assert.True(t, stderrors.Is(err, pgerrors.Code(codes.DivisionByZero)))
	assert.False(t, stderrors.Is(err, pgerrors.Code(codes.UniqueViolation)))
}

func TestParseFieldsRequiresMandatoryFields(t *testing.T) {
	_, err := pgerrors.ParseFields(map[byte]string{'S': "ERROR"})
	assert.Error(t, err)

	se, err := pgerrors.ParseFields(map[byte]string{'S': "ERROR", 'C': string(codes.DivisionByZero), 'M': "boom"})
	assert.NoError(t, err)
	assert.Equal(t, codes.DivisionByZero, se.Code)
	assert.Equal(t, "boom", se.Message)
}
