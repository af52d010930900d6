package amount

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSmallestUnits(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "one smallest unit", input: "0.00000001", decimals: 8, want: "1"},
		{name: "whole number", input: "12", decimals: 8, want: "1200000000"},
		{name: "short fraction", input: "1.5", decimals: 8, want: "150000000"},
		{name: "zero", input: "0", decimals: 8, want: "0"},
		{name: "zero decimals", input: "42", decimals: 0, want: "42"},
		{name: "leading zeros", input: "007.10", decimals: 2, want: "710"},
		{name: "eighteen decimals", input: "1.000000000000000001", decimals: 18, want: "1000000000000000001"},
		{name: "beyond uint64", input: "123456789012345678901234567890", decimals: 8, want: "12345678901234567890123456789000000000"},
		{name: "too many fractional digits", input: "0.000000001", decimals: 8, wantErr: true},
		{name: "fraction on zero decimal token", input: "1.0", decimals: 0, wantErr: true},
		{name: "empty", input: "", decimals: 8, wantErr: true},
		{name: "negative", input: "-1", decimals: 8, wantErr: true},
		{name: "plus sign", input: "+1", decimals: 8, wantErr: true},
		{name: "exponent", input: "1e8", decimals: 8, wantErr: true},
		{name: "leading whitespace", input: " 1", decimals: 8, wantErr: true},
		{name: "trailing whitespace", input: "1 ", decimals: 8, wantErr: true},
		{name: "thousands separator", input: "1,000", decimals: 8, wantErr: true},
		{name: "bare point", input: ".", decimals: 8, wantErr: true},
		{name: "trailing point", input: "1.", decimals: 8, wantErr: true},
		{name: "leading point", input: ".5", decimals: 8, wantErr: true},
		{name: "letters", input: "abc", decimals: 8, wantErr: true},
		{name: "negative decimals", input: "1", decimals: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSmallestUnits(tt.input, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToDecimalString(t *testing.T) {
	tests := []struct {
		name     string
		units    *big.Int
		decimals int
		want     string
	}{
		{name: "zero with eight decimals", units: big.NewInt(0), decimals: 8, want: "0.00000000"},
		{name: "one unit", units: big.NewInt(1), decimals: 8, want: "0.00000001"},
		{name: "whole", units: big.NewInt(100000000), decimals: 8, want: "1.00000000"},
		{name: "zero decimals", units: big.NewInt(42), decimals: 0, want: "42"},
		{name: "nil is zero", units: nil, decimals: 2, want: "0.00"},
		{name: "six decimals", units: big.NewInt(1234567), decimals: 6, want: "1.234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToDecimalString(tt.units, tt.decimals))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("987654321098765432109876543210", 10)
	require.True(t, ok)

	values := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(10), big.NewInt(99999999), big.NewInt(100000001), huge}
	for _, decimals := range []int{0, 2, 6, 8, 18} {
		for _, n := range values {
			s := ToDecimalString(n, decimals)
			back, err := ToSmallestUnits(s, decimals)
			require.NoError(t, err, "decimals=%d value=%s rendered=%s", decimals, n, s)
			assert.Equal(t, 0, n.Cmp(back), "decimals=%d value=%s rendered=%s", decimals, n, s)
		}
	}
}

func TestFormat(t *testing.T) {
	// 1.123456789012345678 with 18 decimals truncates, never rounds up
	units, ok := new(big.Int).SetString("1999999999999999999", 10)
	require.True(t, ok)
	assert.Equal(t, "1.99999999", Format(units, 18, 8))

	assert.Equal(t, "0.50000000", Format(big.NewInt(50), 2, 8))
	assert.Equal(t, "7", Format(big.NewInt(7), 0, 0))
	assert.Equal(t, "0.00000000", Format(nil, 8, 8))
}

func TestParseAndClone(t *testing.T) {
	units, normalized, err := Parse("1.5", 8)
	require.NoError(t, err)
	assert.Equal(t, "150000000", units.String())
	assert.Equal(t, "1.50000000", normalized)

	c := Clone(units)
	c.SetInt64(1)
	assert.Equal(t, "150000000", units.String())
	assert.Equal(t, "0", Clone(nil).String())
}
