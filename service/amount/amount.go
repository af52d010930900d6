// Package amount converts between human decimal strings and integer
// smallest-unit amounts. No floating point is used anywhere.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidFormat is returned for any input that is not a plain
// non-negative decimal representable with the requested precision.
var ErrInvalidFormat = errors.New("invalid amount format")

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ToSmallestUnits parses a decimal string such as "1.5" into smallest units
// for a token with the given number of decimals. Inputs carrying more
// fractional digits than decimals are rejected rather than rounded.
func ToSmallestUnits(s string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", ErrInvalidFormat, decimals)
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidFormat)
	}
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: %q is not a plain decimal", ErrInvalidFormat, s)
	}

	if i := strings.IndexByte(s, '.'); i >= 0 {
		if frac := len(s) - i - 1; frac > decimals {
			return nil, fmt.Errorf("%w: %q has %d fractional digits, token allows %d", ErrInvalidFormat, s, frac, decimals)
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	// the precision check above guarantees the shifted value is integral
	return d.Shift(int32(decimals)).BigInt(), nil
}

// ToDecimalString renders smallest units as a decimal string with exactly
// decimals fractional digits. A nil amount renders as zero.
func ToDecimalString(units *big.Int, decimals int) string {
	if units == nil {
		units = new(big.Int)
	}
	if decimals <= 0 {
		return units.String()
	}
	return decimal.NewFromBigInt(units, int32(-decimals)).StringFixed(int32(decimals))
}

// Format renders smallest units with exactly places fractional digits.
// Extra precision is truncated toward zero, never rounded.
func Format(units *big.Int, decimals, places int) string {
	if units == nil {
		units = new(big.Int)
	}
	if places < 0 {
		places = 0
	}
	d := decimal.NewFromBigInt(units, int32(-decimals)).Truncate(int32(places))
	return d.StringFixed(int32(places))
}

// Parse is ToSmallestUnits for callers that also need the decimal string
// normalized, e.g. "1.5" with 8 decimals becomes "1.50000000".
func Parse(s string, decimals int) (*big.Int, string, error) {
	units, err := ToSmallestUnits(s, decimals)
	if err != nil {
		return nil, "", err
	}
	return units, ToDecimalString(units, decimals), nil
}

// Clone returns an independent copy, treating nil as zero.
func Clone(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}
