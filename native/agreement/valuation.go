package agreement

import "github.com/holiman/uint256"

// Every division below truncates toward zero. Truncation lowers collateral
// values and never lowers a debt value beneath what the oracle implies, so the
// protocol side of each comparison keeps its margin.

// ValueUSD converts a raw token amount into a 1e18 USD value given the price of
// one whole unit: amount * price / 10^decimals.
func ValueUSD(amount *uint256.Int, decimals uint8, price *uint256.Int) (*uint256.Int, error) {
	if amount == nil || price == nil {
		return nil, ErrInvalidAmount
	}
	scale, err := pow10(decimals)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, price, scale)
}

// EffectiveCollateral applies the cap truncation rule: a zero cap counts the
// whole balance, otherwise at most cap is counted.
func EffectiveCollateral(balance, cap *uint256.Int) *uint256.Int {
	if balance == nil {
		return new(uint256.Int)
	}
	if cap == nil || cap.IsZero() {
		return new(uint256.Int).Set(balance)
	}
	return minOf(balance, cap)
}

// RemainingCollateral returns the balance left after withdrawing amount.
func RemainingCollateral(balance, amount *uint256.Int) (*uint256.Int, error) {
	if balance == nil || amount == nil {
		return nil, ErrInvalidAmount
	}
	return sub(balance, amount)
}

// ApplyFactor scales a USD value by a 1e18 ratio.
func ApplyFactor(value, factor *uint256.Int) (*uint256.Int, error) {
	if value == nil || factor == nil {
		return nil, ErrInvalidAmount
	}
	return mulDiv(value, factor, wad)
}

// CollateralValue values a raw collateral balance after the cap and factor are
// applied. It backs collateralUSD, the liquidation threshold and the
// hypothetical previews.
func CollateralValue(balance, cap *uint256.Int, decimals uint8, price, factor *uint256.Int) (*uint256.Int, error) {
	value, err := ValueUSD(EffectiveCollateral(balance, cap), decimals, price)
	if err != nil {
		return nil, err
	}
	return ApplyFactor(value, factor)
}

// DebtValue converts a market borrow balance with its pre-scaled oracle price.
func DebtValue(balance, price *uint256.Int) (*uint256.Int, error) {
	if balance == nil || price == nil {
		return nil, ErrInvalidAmount
	}
	return mulDiv(balance, price, wad)
}

// MaxLiquidatable bounds the collateral a single liquidation may consume:
// closeFactor * effectiveCollateral / 1e18.
func MaxLiquidatable(balance, cap, closeFactor *uint256.Int) (*uint256.Int, error) {
	if closeFactor == nil {
		return nil, ErrInvalidAmount
	}
	return mulDiv(EffectiveCollateral(balance, cap), closeFactor, wad)
}
