// Package values implements the value codec named in the engine's
// component design: encoding host Go values into wire parameter tuples and
// decoding wire field bytes back into host values using a per-type text
// decoder. It is grounded on poqaio's protocol.py param_converters /
// result_converters dispatch tables and on the teacher's use of
// lib/pq/oid.Oid as the type-oid representation (row.go's Column.Oid).
package values

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"

	pgerrors "github.com/larkspur-data/pgengine/errors"
	"github.com/larkspur-data/pgengine/pkg/types"
)

// Param is the result of encoding one host value for the wire: its
// assigned type-oid, its text bytes (nil for SQL NULL) and its format
// code, which is always text for parameters this engine produces.
type Param struct {
	OID    oid.Oid
	Value  []byte
	Format types.FormatCode
}

// IsNull reports whether the parameter encodes SQL NULL.
func (p Param) IsNull() bool {
	return p.Value == nil
}

// EncodeParam encodes a host value into its wire parameter representation,
// per the table in the value codec's design:
//
//	nil                       -> oid 0,        NULL
//	int in [-2^31, 2^31-1]    -> oid int4,      decimal text
//	int in [-2^63, 2^63-1]    -> oid int8,      decimal text (outside int4)
//	*big.Int/uint beyond int64 -> oid text,     decimal text
//	float32/float64           -> oid float8,    textual representation
//	bool                      -> oid bool,      "1" / "0"
//	decimal.Decimal           -> oid text,      exact decimal text
//	string                    -> oid text,      UTF-8 bytes
//	anything else             -> oid text,      fmt.Sprintf("%v", v)
func EncodeParam(v any) Param {
	if v == nil {
		return Param{OID: 0, Value: nil, Format: types.TextFormat}
	}

	switch val := v.(type) {
	case bool:
		b := byte('0')
		if val {
			b = '1'
		}
		return Param{OID: oid.T_bool, Value: []byte{b}, Format: types.TextFormat}

	case string:
		return Param{OID: oid.T_text, Value: []byte(val), Format: types.TextFormat}

	case []byte:
		return Param{OID: oid.T_text, Value: val, Format: types.TextFormat}

	case float32:
		return encodeFloat(float64(val))
	case float64:
		return encodeFloat(val)

	case decimal.Decimal:
		return Param{OID: oid.T_text, Value: []byte(val.String()), Format: types.TextFormat}
	case *decimal.Decimal:
		return Param{OID: oid.T_text, Value: []byte(val.String()), Format: types.TextFormat}

	case *big.Int:
		return encodeBigInt(val)

	case uint:
		return encodeUint(uint64(val))
	case uint64:
		return encodeUint(val)

	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return encodeInt(toInt64(val))

	default:
		return Param{OID: oid.T_text, Value: []byte(fmt.Sprintf("%v", val)), Format: types.TextFormat}
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

func encodeInt(n int64) Param {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return Param{OID: oid.T_int4, Value: []byte(strconv.FormatInt(n, 10)), Format: types.TextFormat}
	}

	return Param{OID: oid.T_int8, Value: []byte(strconv.FormatInt(n, 10)), Format: types.TextFormat}
}

func encodeUint(n uint64) Param {
	if n <= math.MaxInt64 {
		return encodeInt(int64(n))
	}

	return Param{OID: oid.T_text, Value: []byte(strconv.FormatUint(n, 10)), Format: types.TextFormat}
}

func encodeBigInt(n *big.Int) Param {
	min64 := big.NewInt(math.MinInt64)
	max64 := big.NewInt(math.MaxInt64)
	if n.Cmp(min64) >= 0 && n.Cmp(max64) <= 0 {
		return encodeInt(n.Int64())
	}

	return Param{OID: oid.T_text, Value: []byte(n.String()), Format: types.TextFormat}
}

func encodeFloat(f float64) Param {
	return Param{OID: oid.T_float8, Value: []byte(strconv.FormatFloat(f, 'g', -1, 64)), Format: types.TextFormat}
}

// DecodeField decodes one wire field into a host value, dispatching on
// type-oid when the format code is text (0). Binary-format fields (1) are
// returned as their raw bytes: this engine never requests binary format
// for parameters, but tolerates a binary-format result defensively.
func DecodeField(typeOID oid.Oid, format types.FormatCode, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}

	if format == types.BinaryFormat {
		return raw, nil
	}

	switch typeOID {
	case oid.T_int2, oid.T_int4, oid.T_int8, oid.T_oid:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, pgerrors.NewProtocolError(fmt.Sprintf("invalid integer field for oid %d: %q", typeOID, raw))
		}
		return n, nil

	case oid.T_float4, oid.T_float8:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, pgerrors.NewProtocolError(fmt.Sprintf("invalid float field for oid %d: %q", typeOID, raw))
		}
		return f, nil

	case oid.T_bool:
		switch string(raw) {
		case "t":
			return true, nil
		case "f":
			return false, nil
		default:
			return nil, pgerrors.NewProtocolError(fmt.Sprintf("invalid boolean field: %q", raw))
		}

	default:
		return string(raw), nil
	}
}
