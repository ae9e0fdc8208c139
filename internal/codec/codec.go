// Package codec packs a mission state into a short base-36 restore token.
//
// Each field occupies a fixed number of bits derived from its upper bound
// (1 bit for booleans). The bit string is prefixed with a single 1 bit so
// that leading zero fields survive the conversion to a number.
package codec

import (
	"fmt"
	"math/big"
	"math/bits"
	"strings"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

// Field describes one mission option in canonical order.
type Field struct {
	Key  string
	Max  int
	Bool bool
}

func (f Field) width() int {
	if f.Bool {
		return 1
	}
	return bits.Len(uint(f.Max))
}

// MalformedTokenError is returned when a token does not fit the field list.
type MalformedTokenError struct {
	Token  string
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("malformed restore token %q: %s", e.Token, e.Reason)
}

// Width returns the number of payload bits fields occupy.
func Width(fields []Field) int {
	n := 0
	for _, f := range fields {
		n += f.width()
	}
	return n
}

// Encode renders state as a token. Every field must be present and in bounds.
func Encode(state tabulation.MissionState, fields []Field) (string, error) {
	n := big.NewInt(1)
	for _, f := range fields {
		v, err := fieldValue(state, f)
		if err != nil {
			return "", err
		}
		w := f.width()
		n.Lsh(n, uint(w))
		n.Or(n, big.NewInt(int64(v)))
	}
	return n.Text(36), nil
}

func fieldValue(state tabulation.MissionState, f Field) (int, error) {
	raw, ok := state[f.Key]
	if !ok {
		return 0, fmt.Errorf("encoding %s: missing value", f.Key)
	}
	var v int
	switch t := raw.(type) {
	case bool:
		if t {
			v = 1
		}
	case int:
		v = t
	default:
		return 0, fmt.Errorf("encoding %s: unsupported value %T", f.Key, raw)
	}
	limit := f.Max
	if f.Bool {
		limit = 1
	}
	if v < 0 || v > limit {
		return 0, fmt.Errorf("encoding %s: value %d outside 0..%d", f.Key, v, limit)
	}
	return v, nil
}

// Decode is the inverse of Encode.
func Decode(token string, fields []Field) (tabulation.MissionState, error) {
	token = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(token), "#"))
	n, ok := new(big.Int).SetString(token, 36)
	if !ok || n.Sign() <= 0 {
		return nil, &MalformedTokenError{Token: token, Reason: "not a base-36 number"}
	}

	total := Width(fields)
	if n.BitLen() != total+1 {
		return nil, &MalformedTokenError{
			Token:  token,
			Reason: fmt.Sprintf("carries %d bits, want %d", n.BitLen()-1, total),
		}
	}

	state := make(tabulation.MissionState, len(fields))
	pos := total
	for _, f := range fields {
		w := f.width()
		pos -= w
		v := 0
		for i := w - 1; i >= 0; i-- {
			v = v<<1 | int(n.Bit(pos+i))
		}
		if f.Bool {
			state[f.Key] = v == 1
			continue
		}
		if v > f.Max {
			return nil, &MalformedTokenError{
				Token:  token,
				Reason: fmt.Sprintf("%s decodes to %d, above %d", f.Key, v, f.Max),
			}
		}
		state[f.Key] = v
	}
	return state, nil
}
