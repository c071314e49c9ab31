// Package agreementtest provides in-memory collaborators for exercising an
// agreement without a real lending platform: a custodian ledger, lending
// markets with a comptroller, a fixed-rate converter and a ready-made Env
// wiring them together.
package agreementtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("agreementtest: insufficient balance")
	ErrNoPrice             = errors.New("agreementtest: no price")
	ErrSlippage            = errors.New("agreementtest: slippage bound exceeded")
	ErrRepayExceedsBorrow  = errors.New("agreementtest: repay exceeds borrow balance")
)

// Custodian is a token ledger for the tokens held by one agreement. Transfers
// out are credited to the recipient so tests can assert payouts.
type Custodian struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	received map[common.Address]map[common.Address]*uint256.Int
	failErr  error
}

// NewCustodian returns an empty ledger.
func NewCustodian() *Custodian {
	return &Custodian{
		balances: make(map[common.Address]*uint256.Int),
		received: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Credit adds amount of asset to the custodied balance.
func (c *Custodian) Credit(asset common.Address, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(asset, amount)
}

func (c *Custodian) credit(asset common.Address, amount *uint256.Int) {
	current := c.balanceLocked(asset)
	c.balances[asset] = new(uint256.Int).Add(current, amount)
}

// Debit removes amount of asset from the custodied balance.
func (c *Custodian) Debit(asset common.Address, amount *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debit(asset, amount)
}

func (c *Custodian) debit(asset common.Address, amount *uint256.Int) error {
	current := c.balanceLocked(asset)
	if current.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, asset.Hex(), current.Dec(), amount.Dec())
	}
	c.balances[asset] = new(uint256.Int).Sub(current, amount)
	return nil
}

func (c *Custodian) balanceLocked(asset common.Address) *uint256.Int {
	if balance, ok := c.balances[asset]; ok {
		return balance
	}
	return new(uint256.Int)
}

// BalanceOf implements agreement.Custodian.
func (c *Custodian) BalanceOf(asset common.Address) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(uint256.Int).Set(c.balanceLocked(asset)), nil
}

// Transfer implements agreement.Custodian.
func (c *Custodian) Transfer(asset, to common.Address, amount *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	if err := c.debit(asset, amount); err != nil {
		return err
	}
	byOwner, ok := c.received[asset]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		c.received[asset] = byOwner
	}
	prev, ok := byOwner[to]
	if !ok {
		prev = new(uint256.Int)
	}
	byOwner[to] = new(uint256.Int).Add(prev, amount)
	return nil
}

// Received returns the total of asset transferred out to recipient.
func (c *Custodian) Received(asset, recipient common.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if amount, ok := c.received[asset][recipient]; ok {
		return new(uint256.Int).Set(amount)
	}
	return new(uint256.Int)
}

// FailTransfers makes every later Transfer return err; nil restores normal behaviour.
func (c *Custodian) FailTransfers(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}
