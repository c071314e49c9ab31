package agreement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceSource supplies the USD price of one whole unit of an asset expressed
// in 1e18 fixed-point.
type PriceSource interface {
	Price(asset common.Address) (*uint256.Int, error)
}

// Converter quotes and executes exchanges from the collateral asset into a
// single debt asset. Implementations enforce their own slippage bounds.
type Converter interface {
	Source() common.Address
	Destination() common.Address
	QuoteExactIn(amountIn *uint256.Int) (*uint256.Int, error)
	QuoteExactOut(amountOut *uint256.Int) (*uint256.Int, error)
	ExchangeExactIn(amountIn, minOut *uint256.Int) (*uint256.Int, error)
	ExchangeExactOut(amountOut, maxIn *uint256.Int) (*uint256.Int, error)
}

// LendingMarket holds the borrow balance of one debt asset for every account
// that borrowed from it.
type LendingMarket interface {
	Address() common.Address
	// Underlying returns the debt asset lent by the market.
	Underlying() common.Address
	BorrowBalanceCurrent(account common.Address) (*uint256.Int, error)
	Borrow(account common.Address, amount *uint256.Int) error
	RepayBorrowBehalf(account common.Address, amount *uint256.Int) error
}

// Comptroller tracks which markets an account has entered and prices their
// underlying assets. UnderlyingPrice is pre-scaled so that
// balance*price/1e18 yields a 1e18 USD value regardless of token decimals.
type Comptroller interface {
	AssetsIn(account common.Address) ([]LendingMarket, error)
	UnderlyingPrice(market common.Address) (*uint256.Int, error)
}

// Custodian moves tokens held on behalf of the agreement.
type Custodian interface {
	BalanceOf(asset common.Address) (*uint256.Int, error)
	Transfer(asset, to common.Address, amount *uint256.Int) error
}
