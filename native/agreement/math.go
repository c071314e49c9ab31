package agreement

import "github.com/holiman/uint256"

// wad is the 1e18 fixed-point unit shared by prices, factors and USD values.
var wad = uint256.NewInt(1_000_000_000_000_000_000)

// WAD returns a fresh copy of the 1e18 fixed-point unit.
func WAD() *uint256.Int { return new(uint256.Int).Set(wad) }

func pow10(decimals uint8) (*uint256.Int, error) {
	// 10^77 is the largest power of ten below 2^256.
	if decimals > 77 {
		return nil, ErrArithmeticOverflow
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))), nil
}

// mulDiv computes floor(x*y/d) with a 512-bit intermediate. A zero divisor
// yields zero, matching uint256 division semantics.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrArithmeticUnderflow
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func minOf(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}
