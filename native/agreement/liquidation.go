package agreement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/core/events"
)

// liquidation carries what both liquidation modes resolve before touching
// any collaborator.
type liquidation struct {
	market    LendingMarket
	converter Converter
	// maxCollateral is closeFactor * effectiveCollateral / 1e18.
	maxCollateral *uint256.Int
}

func (a *Agreement) prepareLiquidation(caller common.Address, market LendingMarket) (*liquidation, error) {
	if err := a.roles.Require(caller, RoleExecutor); err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrNilMarket
	}
	liquidatable, err := a.Liquidatable()
	if err != nil {
		return nil, err
	}
	if !liquidatable {
		return nil, ErrNotLiquidatable
	}
	conv, ok := a.converters[market.Address()]
	if !ok || conv == nil {
		return nil, ErrEmptyConverter
	}
	maxCollateral, err := a.MaxLiquidatableCollateral()
	if err != nil {
		return nil, err
	}
	return &liquidation{market: market, converter: conv, maxCollateral: maxCollateral}, nil
}

// LiquidateWithExactCollateralAmount converts exactly collateralAmount into the
// market's debt asset and repays the proceeds. minRepay is handed to the
// converter as its slippage floor. The repaid amount is returned.
func (a *Agreement) LiquidateWithExactCollateralAmount(caller common.Address, market LendingMarket, collateralAmount, minRepay *uint256.Int) (*uint256.Int, error) {
	liq, err := a.prepareLiquidation(caller, market)
	if err != nil {
		return nil, err
	}
	if collateralAmount == nil || minRepay == nil {
		return nil, ErrInvalidAmount
	}
	if collateralAmount.Gt(liq.maxCollateral) {
		return nil, ErrLiquidateTooMuch
	}
	remaining, err := RemainingCollateral(a.position.CollateralBalance, collateralAmount)
	if err != nil {
		return nil, err
	}
	repaid, err := liq.converter.ExchangeExactIn(collateralAmount, minRepay)
	if err != nil {
		return nil, a.flatten(ErrConversionFailed, "liquidateExactCollateral", market.Address(), err)
	}
	repaid = cloneOrZero(repaid)
	if err := market.RepayBorrowBehalf(a.address, repaid); err != nil {
		a.settleUnrepaid(market, events.LiquidationModeExactCollateral, collateralAmount, repaid, remaining)
		return nil, a.flatten(ErrRepayFailed, "liquidateExactCollateral", market.Address(), err)
	}
	a.position.CollateralBalance = remaining
	a.emit(events.AgreementLiquidated{
		Agreement:        a.address,
		Market:           market.Address(),
		Mode:             events.LiquidationModeExactCollateral,
		CollateralSeized: new(uint256.Int).Set(collateralAmount),
		DebtRepaid:       new(uint256.Int).Set(repaid),
		Balance:          new(uint256.Int).Set(remaining),
	})
	return repaid, nil
}

// LiquidateForExactRepayAmount converts whatever collateral the converter
// quotes for repayAmount of the debt asset and repays exactly repayAmount. The
// quote must not exceed maxCollateralIn nor the close-factor bound. The
// collateral consumed is returned.
func (a *Agreement) LiquidateForExactRepayAmount(caller common.Address, market LendingMarket, repayAmount, maxCollateralIn *uint256.Int) (*uint256.Int, error) {
	liq, err := a.prepareLiquidation(caller, market)
	if err != nil {
		return nil, err
	}
	if repayAmount == nil || maxCollateralIn == nil {
		return nil, ErrInvalidAmount
	}
	quoted, err := liq.converter.QuoteExactOut(repayAmount)
	if err != nil {
		return nil, a.flatten(ErrConversionFailed, "quoteExactRepay", market.Address(), err)
	}
	quoted = cloneOrZero(quoted)
	if quoted.Gt(maxCollateralIn) {
		return nil, ErrTooMuchCollateralNeeded
	}
	if quoted.Gt(liq.maxCollateral) {
		return nil, ErrLiquidateTooMuch
	}
	used, err := liq.converter.ExchangeExactOut(repayAmount, quoted)
	if err != nil {
		return nil, a.flatten(ErrConversionFailed, "liquidateExactRepay", market.Address(), err)
	}
	used = cloneOrZero(used)
	// The converter is bound by the quote it was handed as maxIn.
	if used.Gt(quoted) {
		return nil, a.flatten(ErrConversionFailed, "liquidateExactRepay", market.Address(), ErrLiquidateTooMuch)
	}
	remaining, err := RemainingCollateral(a.position.CollateralBalance, used)
	if err != nil {
		return nil, err
	}
	if err := market.RepayBorrowBehalf(a.address, repayAmount); err != nil {
		a.settleUnrepaid(market, events.LiquidationModeExactRepay, used, repayAmount, remaining)
		return nil, a.flatten(ErrRepayFailed, "liquidateExactRepay", market.Address(), err)
	}
	a.position.CollateralBalance = remaining
	a.emit(events.AgreementLiquidated{
		Agreement:        a.address,
		Market:           market.Address(),
		Mode:             events.LiquidationModeExactRepay,
		CollateralSeized: new(uint256.Int).Set(used),
		DebtRepaid:       new(uint256.Int).Set(repayAmount),
		Balance:          new(uint256.Int).Set(remaining),
	})
	return used, nil
}

// settleUnrepaid commits the collateral a converter already consumed when the
// market then refuses the repayment. The recorded balance follows custody; the
// converted proceeds stay in custody for a later Repay.
func (a *Agreement) settleUnrepaid(market LendingMarket, mode string, spent, proceeds, remaining *uint256.Int) {
	a.position.CollateralBalance = remaining
	a.emit(events.AgreementConversionUnsettled{
		Agreement:       a.address,
		Market:          market.Address(),
		Mode:            mode,
		CollateralSpent: new(uint256.Int).Set(spent),
		Proceeds:        new(uint256.Int).Set(proceeds),
		Balance:         new(uint256.Int).Set(remaining),
	})
}
