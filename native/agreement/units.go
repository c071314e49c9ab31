package agreement

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseUnits converts a human decimal such as "0.75" or "20000" into raw units
// with the given precision. Digits beyond the precision are truncated.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("agreement: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	raw := d.Shift(int32(decimals)).Truncate(0)
	v, overflow := uint256.FromBig(raw.BigInt())
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return v, nil
}

// MustParseUnits is ParseUnits for constants; it panics on malformed input.
func MustParseUnits(s string, decimals uint8) *uint256.Int {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders raw units as a decimal string without trailing zeros.
func FormatUnits(v *uint256.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}
