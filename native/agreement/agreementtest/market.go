package agreementtest

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/native/agreement"
)

// Comptroller records entered markets per account and serves pre-scaled
// underlying prices.
type Comptroller struct {
	mu      sync.RWMutex
	prices  map[common.Address]*uint256.Int
	entered map[common.Address][]*Market
	failErr error
}

// NewComptroller returns an empty comptroller.
func NewComptroller() *Comptroller {
	return &Comptroller{
		prices:  make(map[common.Address]*uint256.Int),
		entered: make(map[common.Address][]*Market),
	}
}

// Enter adds market to the account's entered markets. Entering twice is a no-op.
func (c *Comptroller) Enter(account common.Address, market *Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.entered[account] {
		if m.Address() == market.Address() {
			return
		}
	}
	c.entered[account] = append(c.entered[account], market)
}

// SetUnderlyingPrice sets the oracle price of a market's underlying, scaled
// so that balance*price/1e18 is a 1e18 USD value.
func (c *Comptroller) SetUnderlyingPrice(market common.Address, price *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[market] = new(uint256.Int).Set(price)
}

// FailAssetsIn makes AssetsIn return err; nil restores normal behaviour.
func (c *Comptroller) FailAssetsIn(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

// AssetsIn implements agreement.Comptroller.
func (c *Comptroller) AssetsIn(account common.Address) ([]agreement.LendingMarket, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.failErr != nil {
		return nil, c.failErr
	}
	markets := make([]agreement.LendingMarket, 0, len(c.entered[account]))
	for _, m := range c.entered[account] {
		markets = append(markets, m)
	}
	return markets, nil
}

// UnderlyingPrice implements agreement.Comptroller.
func (c *Comptroller) UnderlyingPrice(market common.Address) (*uint256.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[market]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNoPrice, market.Hex())
	}
	return new(uint256.Int).Set(price), nil
}

// Market is an in-memory lending market. Borrowed tokens are credited to the
// custodian and repayments are debited from it.
type Market struct {
	mu          sync.Mutex
	address     common.Address
	underlying  common.Address
	comptroller *Comptroller
	custodian   *Custodian
	borrows     map[common.Address]*uint256.Int
	borrowErr   error
	repayErr    error
	balanceErr  error
}

// NewMarket creates a market lending underlying. A borrow enters the market
// through comptroller.
func NewMarket(address, underlying common.Address, comptroller *Comptroller, custodian *Custodian) *Market {
	return &Market{
		address:     address,
		underlying:  underlying,
		comptroller: comptroller,
		custodian:   custodian,
		borrows:     make(map[common.Address]*uint256.Int),
	}
}

// Address implements agreement.LendingMarket.
func (m *Market) Address() common.Address { return m.address }

// Underlying implements agreement.LendingMarket.
func (m *Market) Underlying() common.Address { return m.underlying }

func (m *Market) String() string { return "market(" + m.address.Hex() + ")" }

// SetBorrowBalance overrides an account's borrow balance.
func (m *Market) SetBorrowBalance(account common.Address, amount *uint256.Int) {
	m.mu.Lock()
	m.borrows[account] = new(uint256.Int).Set(amount)
	m.mu.Unlock()
	if m.comptroller != nil && !amount.IsZero() {
		m.comptroller.Enter(account, m)
	}
}

// FailBorrow makes Borrow return err; nil restores normal behaviour.
func (m *Market) FailBorrow(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrowErr = err
}

// FailRepay makes RepayBorrowBehalf return err; nil restores normal behaviour.
func (m *Market) FailRepay(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repayErr = err
}

// FailBalance makes BorrowBalanceCurrent return err; nil restores normal behaviour.
func (m *Market) FailBalance(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceErr = err
}

// BorrowBalanceCurrent implements agreement.LendingMarket.
func (m *Market) BorrowBalanceCurrent(account common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balanceLocked(account), nil
}

func (m *Market) balanceLocked(account common.Address) *uint256.Int {
	if balance, ok := m.borrows[account]; ok {
		return new(uint256.Int).Set(balance)
	}
	return new(uint256.Int)
}

// Borrow implements agreement.LendingMarket.
func (m *Market) Borrow(account common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	if m.borrowErr != nil {
		err := m.borrowErr
		m.mu.Unlock()
		return err
	}
	m.borrows[account] = new(uint256.Int).Add(m.balanceLocked(account), amount)
	m.mu.Unlock()

	if m.custodian != nil {
		m.custodian.Credit(m.underlying, amount)
	}
	if m.comptroller != nil {
		m.comptroller.Enter(account, m)
	}
	return nil
}

// RepayBorrowBehalf implements agreement.LendingMarket.
func (m *Market) RepayBorrowBehalf(account common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repayErr != nil {
		return m.repayErr
	}
	balance := m.balanceLocked(account)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: owes %s, repaying %s", ErrRepayExceedsBorrow, balance.Dec(), amount.Dec())
	}
	if m.custodian != nil {
		if err := m.custodian.Debit(m.underlying, amount); err != nil {
			return err
		}
	}
	m.borrows[account] = balance.Sub(balance, amount)
	return nil
}
