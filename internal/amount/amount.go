// internal/amount/amount.go
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("invalid amount")

// ParseError reports a malformed amount string.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid amount %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid amount %q", e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) true for any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ToBaseUnits converts a human readable decimal string into integer base units,
// scaling by 10^decimals and flooring whatever precision is left over.
// An empty string is zero.
func ToBaseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(big.Int), nil
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, &ParseError{Input: value, Err: err}
	}
	if d.Sign() < 0 {
		return nil, &ParseError{Input: value, Err: errors.New("negative amount")}
	}

	return d.Shift(int32(decimals)).Floor().BigInt(), nil
}

// ToDecimalString converts base units back into a decimal string with trailing
// zeros trimmed. A nil amount is treated as zero.
func ToDecimalString(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -int32(decimals)).String()
}

// ParseBaseUnits parses a base-unit integer as returned by the swap API.
func ParseBaseUnits(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ParseError{Input: raw, Err: errors.New("empty value")}
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, &ParseError{Input: raw}
	}
	if v.Sign() < 0 {
		return nil, &ParseError{Input: raw, Err: errors.New("negative amount")}
	}
	return v, nil
}

// IsZero reports whether value carries no positive amount. Unparsable input
// counts as zero.
func IsZero(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return true
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return true
	}
	return d.Sign() <= 0
}
