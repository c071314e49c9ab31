package agreement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/core/events"
)

// Borrow draws amount from market provided the resulting debt stays within the
// collateral value.
func (a *Agreement) Borrow(caller common.Address, market LendingMarket, amount *uint256.Int) error {
	if err := a.roles.Require(caller, RoleBorrower); err != nil {
		return err
	}
	if market == nil {
		return ErrNilMarket
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	return a.borrow(market, amount, false)
}

// BorrowMax borrows everything the position's spare collateral value allows
// from market. The amount is rounded down to the market's raw units so the
// resulting debt never exceeds the collateral value.
func (a *Agreement) BorrowMax(caller common.Address, market LendingMarket) (*uint256.Int, error) {
	if err := a.roles.Require(caller, RoleBorrower); err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrNilMarket
	}
	collateral, err := a.CollateralUSD()
	if err != nil {
		return nil, err
	}
	debt, err := a.DebtUSD()
	if err != nil {
		return nil, err
	}
	if debt.Gt(collateral) {
		return nil, ErrUndercollateralized
	}
	available := new(uint256.Int).Sub(collateral, debt)
	price, err := a.marketPrice(market)
	if err != nil {
		return nil, err
	}
	if price.IsZero() {
		return nil, ErrPriceUnavailable
	}
	amount, err := mulDiv(available, wad, price)
	if err != nil {
		return nil, err
	}
	if err := a.borrow(market, amount, true); err != nil {
		return nil, err
	}
	return amount, nil
}

func (a *Agreement) borrow(market LendingMarket, amount *uint256.Int, max bool) error {
	debt, err := a.HypotheticalDebtUSD(market, amount)
	if err != nil {
		return err
	}
	collateral, err := a.CollateralUSD()
	if err != nil {
		return err
	}
	if debt.Gt(collateral) {
		return ErrUndercollateralized
	}
	if err := market.Borrow(a.address, amount); err != nil {
		return a.flatten(ErrBorrowFailed, "borrow", market.Address(), err)
	}
	a.emit(events.AgreementBorrowed{
		Agreement: a.address,
		Market:    market.Address(),
		Amount:    new(uint256.Int).Set(amount),
		Max:       max,
	})
	return nil
}

// Repay forwards amount to market on behalf of the position. Repaying only
// improves health so no collateral check applies.
func (a *Agreement) Repay(caller common.Address, market LendingMarket, amount *uint256.Int) error {
	if err := a.roles.Require(caller, RoleBorrower); err != nil {
		return err
	}
	if market == nil {
		return ErrNilMarket
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	return a.repay(market, amount, false)
}

// RepayFull repays the position's entire current balance in market.
func (a *Agreement) RepayFull(caller common.Address, market LendingMarket) (*uint256.Int, error) {
	if err := a.roles.Require(caller, RoleBorrower); err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrNilMarket
	}
	balance, err := market.BorrowBalanceCurrent(a.address)
	if err != nil {
		return nil, a.flatten(ErrRepayFailed, "repayFull", market.Address(), err)
	}
	balance = cloneOrZero(balance)
	if err := a.repay(market, balance, true); err != nil {
		return nil, err
	}
	return balance, nil
}

func (a *Agreement) repay(market LendingMarket, amount *uint256.Int, full bool) error {
	if err := market.RepayBorrowBehalf(a.address, amount); err != nil {
		return a.flatten(ErrRepayFailed, "repay", market.Address(), err)
	}
	a.emit(events.AgreementRepaid{
		Agreement: a.address,
		Market:    market.Address(),
		Amount:    new(uint256.Int).Set(amount),
		Full:      full,
	})
	return nil
}

// Withdraw releases collateral to the borrower provided the remaining
// collateral value still covers the debt.
func (a *Agreement) Withdraw(caller common.Address, amount *uint256.Int) error {
	if err := a.roles.Require(caller, RoleBorrower); err != nil {
		return err
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	collateral, err := a.HypotheticalCollateralUSD(amount)
	if err != nil {
		return err
	}
	debt, err := a.DebtUSD()
	if err != nil {
		return err
	}
	if collateral.Lt(debt) {
		return ErrUndercollateralized
	}
	remaining, err := RemainingCollateral(a.position.CollateralBalance, amount)
	if err != nil {
		return err
	}
	asset := a.position.Collateral.Address
	if err := a.custodian.Transfer(asset, a.roles.Borrower, amount); err != nil {
		return a.flatten(ErrTransferFailed, "withdraw", asset, err)
	}
	a.position.CollateralBalance = remaining
	a.emit(events.AgreementWithdrawn{
		Agreement: a.address,
		Recipient: a.roles.Borrower,
		Amount:    new(uint256.Int).Set(amount),
		Balance:   new(uint256.Int).Set(remaining),
	})
	return nil
}

// Seize sweeps a token other than the collateral to the executor. A nil
// amount sweeps the whole custodied balance.
func (a *Agreement) Seize(caller common.Address, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := a.roles.Require(caller, RoleExecutor); err != nil {
		return nil, err
	}
	if asset == a.position.Collateral.Address {
		return nil, ErrSeizeCollateralDenied
	}
	if amount == nil {
		balance, err := a.custodian.BalanceOf(asset)
		if err != nil {
			return nil, a.flatten(ErrTransferFailed, "seize", asset, err)
		}
		amount = cloneOrZero(balance)
	}
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	if err := a.custodian.Transfer(asset, a.roles.Executor, amount); err != nil {
		return nil, a.flatten(ErrTransferFailed, "seize", asset, err)
	}
	a.emit(events.AgreementSeized{
		Agreement: a.address,
		Asset:     asset,
		Recipient: a.roles.Executor,
		Amount:    new(uint256.Int).Set(amount),
	})
	return new(uint256.Int).Set(amount), nil
}
