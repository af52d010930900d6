// Package display holds presentation helpers shared by the CLI and the API.
package display

import (
	"math/big"

	"github.com/brojonat/ledgerwallet/service/amount"
)

// AmountPlaces is the fixed number of fractional digits shown for amounts.
const AmountPlaces = 8

const ellipsis = "…"

// Amount renders smallest units with AmountPlaces fractional digits.
// Tokens with more than AmountPlaces decimals are truncated toward zero.
func Amount(units *big.Int, decimals int) string {
	return amount.Format(units, decimals, AmountPlaces)
}

// Truncate shortens s to roughly visible characters, keeping the head and
// tail around an ellipsis. Strings that already fit are returned unchanged.
func Truncate(s string, visible int) string {
	return TruncateWindow(s, (visible+1)/2, visible/2)
}

// TruncateWindow keeps the first start and last end runes of s.
func TruncateWindow(s string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	r := []rune(s)
	if len(r) <= start+end {
		return s
	}
	return string(r[:start]) + ellipsis + string(r[len(r)-end:])
}
