package permission

import (
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// EncodedSize is the length of the binary form produced by EncodeMask.
const EncodedSize = 16

var (
	errInvalidMaskLength  = errors.New("invalid mask length")
	errInvalidMaskDecimal = errors.New("invalid mask decimal")
	errMaskOverflow       = errors.New("mask value exceeds 128 bits")
)

// EncodeMask returns the 16-byte big-endian form of m (Hi first).
func EncodeMask(m Mask) []byte {
	out := make([]byte, EncodedSize)
	binary.BigEndian.PutUint64(out[:8], m.Hi)
	binary.BigEndian.PutUint64(out[8:], m.Lo)
	return out
}

// DecodeMask parses the output of EncodeMask.
func DecodeMask(data []byte) (Mask, error) {
	if len(data) != EncodedSize {
		return Mask{}, errInvalidMaskLength
	}
	return Mask{
		Hi: binary.BigEndian.Uint64(data[:8]),
		Lo: binary.BigEndian.Uint64(data[8:]),
	}, nil
}

// String renders the mask as an unsigned decimal integer, the form stored
// in NUMERIC(39,0) columns.
func (m Mask) String() string {
	if m.Hi == 0 {
		return strconv.FormatUint(m.Lo, 10)
	}
	return m.big().String()
}

// ParseMask parses an unsigned decimal integer into a Mask.
func ParseMask(s string) (Mask, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Mask{}, errInvalidMaskDecimal
	}
	// NUMERIC values may come back with a trailing ".0" scale.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if strings.Trim(s[i+1:], "0") != "" {
			return Mask{}, errInvalidMaskDecimal
		}
		s = s[:i]
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Mask{Lo: v}, nil
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return Mask{}, errInvalidMaskDecimal
	}
	if n.BitLen() > MaxBits {
		return Mask{}, errMaskOverflow
	}
	lo := new(big.Int).And(n, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(n, 64)
	return Mask{Lo: lo.Uint64(), Hi: hi.Uint64()}, nil
}

func (m Mask) big() *big.Int {
	n := new(big.Int).SetUint64(m.Hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(m.Lo))
}

// MarshalJSON encodes the mask as a quoted decimal string; JSON numbers
// cannot carry 128 bits losslessly.
func (m Mask) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare integer.
func (m *Mask) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if raw == "null" {
		*m = Mask{}
		return nil
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	parsed, err := ParseMask(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer.
func (m Mask) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Mask) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Mask{}
		return nil
	case int64:
		if v < 0 {
			return errInvalidMaskDecimal
		}
		*m = Mask{Lo: uint64(v)}
		return nil
	case []byte:
		parsed, err := ParseMask(string(v))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case string:
		parsed, err := ParseMask(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	default:
		return fmt.Errorf("permission: cannot scan %T into Mask", src)
	}
}
