package agreement

import (
	"fmt"

	"github.com/holiman/uint256"
)

func (a *Agreement) collateralPrice() (*uint256.Int, error) {
	if a.priceSource == nil {
		return nil, ErrPriceUnavailable
	}
	price, err := a.priceSource.Price(a.position.Collateral.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if price == nil {
		return nil, ErrPriceUnavailable
	}
	return price, nil
}

func (a *Agreement) collateralValue(balance *uint256.Int, factor *uint256.Int) (*uint256.Int, error) {
	price, err := a.collateralPrice()
	if err != nil {
		return nil, err
	}
	return CollateralValue(balance, a.position.CollateralCap, a.position.Collateral.Decimals, price, factor)
}

// CollateralUSD returns the borrowing power of the position: the capped
// collateral value scaled by the collateral factor.
func (a *Agreement) CollateralUSD() (*uint256.Int, error) {
	return a.collateralValue(a.position.CollateralBalance, a.position.Risk.CollateralFactor)
}

// LiquidationThresholdUSD returns the debt value above which the position may
// be liquidated.
func (a *Agreement) LiquidationThresholdUSD() (*uint256.Int, error) {
	return a.collateralValue(a.position.CollateralBalance, a.position.Risk.LiquidationFactor)
}

// HypotheticalCollateralUSD previews CollateralUSD after withdrawing amount.
// The cap applies to the remaining balance, so withdrawing collateral held
// above the cap does not lower the value.
func (a *Agreement) HypotheticalCollateralUSD(withdraw *uint256.Int) (*uint256.Int, error) {
	remaining, err := RemainingCollateral(a.position.CollateralBalance, withdraw)
	if err != nil {
		return nil, err
	}
	return a.collateralValue(remaining, a.position.Risk.CollateralFactor)
}

// DebtUSD sums the USD value of the position's borrow balance in every market
// it has entered.
func (a *Agreement) DebtUSD() (*uint256.Int, error) {
	return a.debtValue(nil, nil)
}

// HypotheticalDebtUSD previews DebtUSD after borrowing extra from market.
func (a *Agreement) HypotheticalDebtUSD(market LendingMarket, extra *uint256.Int) (*uint256.Int, error) {
	if market == nil {
		return nil, ErrNilMarket
	}
	if extra == nil {
		return nil, ErrInvalidAmount
	}
	return a.debtValue(market, extra)
}

func (a *Agreement) debtValue(target LendingMarket, extra *uint256.Int) (*uint256.Int, error) {
	markets, err := a.comptroller.AssetsIn(a.address)
	if err != nil {
		return nil, fmt.Errorf("agreement: list markets: %w", err)
	}
	total := new(uint256.Int)
	counted := false
	for _, market := range markets {
		if market == nil {
			continue
		}
		balance, err := market.BorrowBalanceCurrent(a.address)
		if err != nil {
			return nil, fmt.Errorf("agreement: borrow balance %s: %w", market.Address().Hex(), err)
		}
		balance = cloneOrZero(balance)
		if target != nil && market.Address() == target.Address() {
			if balance, err = add(balance, extra); err != nil {
				return nil, err
			}
			counted = true
		}
		if total, err = a.addMarketValue(total, market, balance); err != nil {
			return nil, err
		}
	}
	// A market that has not been entered yet still has to carry the extra
	// amount, otherwise a first borrow would pass unchecked.
	if target != nil && !counted && !extra.IsZero() {
		if total, err = a.addMarketValue(total, target, extra); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (a *Agreement) addMarketValue(total *uint256.Int, market LendingMarket, balance *uint256.Int) (*uint256.Int, error) {
	if balance.IsZero() {
		return total, nil
	}
	price, err := a.marketPrice(market)
	if err != nil {
		return nil, err
	}
	value, err := DebtValue(balance, price)
	if err != nil {
		return nil, err
	}
	return add(total, value)
}

func (a *Agreement) marketPrice(market LendingMarket) (*uint256.Int, error) {
	price, err := a.comptroller.UnderlyingPrice(market.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if price == nil {
		return nil, ErrPriceUnavailable
	}
	return price, nil
}

// Liquidatable reports whether debt exceeds the liquidation threshold.
func (a *Agreement) Liquidatable() (bool, error) {
	debt, err := a.DebtUSD()
	if err != nil {
		return false, err
	}
	threshold, err := a.LiquidationThresholdUSD()
	if err != nil {
		return false, err
	}
	return debt.Gt(threshold), nil
}
