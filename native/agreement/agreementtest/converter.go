package agreementtest

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/native/agreement"
)

// Converter exchanges at a fixed integer rate: one whole source unit buys
// rate whole destination units. Exact-out quotes round down, so the source
// amount consumed never exceeds the quote. Token movements go through the
// shared custodian.
type Converter struct {
	mu          sync.Mutex
	source      agreement.Asset
	destination agreement.Asset
	rate        *uint256.Int
	custodian   *Custodian
	failErr     error
}

// NewConverter returns a converter from source to destination at rate.
func NewConverter(source, destination agreement.Asset, rate uint64, custodian *Custodian) *Converter {
	return &Converter{
		source:      source,
		destination: destination,
		rate:        uint256.NewInt(rate),
		custodian:   custodian,
	}
}

// Source implements agreement.Converter.
func (c *Converter) Source() common.Address { return c.source.Address }

// Destination implements agreement.Converter.
func (c *Converter) Destination() common.Address { return c.destination.Address }

func (c *Converter) String() string {
	return fmt.Sprintf("converter(%s->%s)", c.source.Address.Hex(), c.destination.Address.Hex())
}

// SetRate changes the exchange rate in whole destination units per whole source unit.
func (c *Converter) SetRate(rate uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = uint256.NewInt(rate)
}

// FailExchanges makes every later exchange return err; nil restores normal behaviour.
func (c *Converter) FailExchanges(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

// QuoteExactIn implements agreement.Converter.
func (c *Converter) QuoteExactIn(amountIn *uint256.Int) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quoteExactIn(amountIn)
}

// QuoteExactOut implements agreement.Converter.
func (c *Converter) QuoteExactOut(amountOut *uint256.Int) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quoteExactOut(amountOut)
}

// ExchangeExactIn implements agreement.Converter.
func (c *Converter) ExchangeExactIn(amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, c.failErr
	}
	out, err := c.quoteExactIn(amountIn)
	if err != nil {
		return nil, err
	}
	if out.Lt(minOut) {
		return nil, fmt.Errorf("%w: out %s below %s", ErrSlippage, out.Dec(), minOut.Dec())
	}
	if err := c.settle(amountIn, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExchangeExactOut implements agreement.Converter.
func (c *Converter) ExchangeExactOut(amountOut, maxIn *uint256.Int) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, c.failErr
	}
	in, err := c.quoteExactOut(amountOut)
	if err != nil {
		return nil, err
	}
	if in.Gt(maxIn) {
		return nil, fmt.Errorf("%w: in %s above %s", ErrSlippage, in.Dec(), maxIn.Dec())
	}
	if err := c.settle(in, amountOut); err != nil {
		return nil, err
	}
	return in, nil
}

func (c *Converter) settle(in, out *uint256.Int) error {
	if c.custodian == nil {
		return nil
	}
	if err := c.custodian.Debit(c.source.Address, in); err != nil {
		return err
	}
	c.custodian.Credit(c.destination.Address, out)
	return nil
}

// quoteExactIn returns in * rate * 10^dstDecimals / 10^srcDecimals.
func (c *Converter) quoteExactIn(amountIn *uint256.Int) (*uint256.Int, error) {
	numerator, srcScale, err := c.scales()
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amountIn, numerator, srcScale)
	if overflow {
		return nil, agreement.ErrArithmeticOverflow
	}
	return out, nil
}

// quoteExactOut returns floor(out * 10^srcDecimals / (rate * 10^dstDecimals)).
func (c *Converter) quoteExactOut(amountOut *uint256.Int) (*uint256.Int, error) {
	denominator, srcScale, err := c.scales()
	if err != nil {
		return nil, err
	}
	if denominator.IsZero() {
		return nil, ErrNoPrice
	}
	in, overflow := new(uint256.Int).MulDivOverflow(amountOut, srcScale, denominator)
	if overflow {
		return nil, agreement.ErrArithmeticOverflow
	}
	return in, nil
}

// scales returns rate*10^dstDecimals and 10^srcDecimals.
func (c *Converter) scales() (*uint256.Int, *uint256.Int, error) {
	dstScale := exp10(c.destination.Decimals)
	srcScale := exp10(c.source.Decimals)
	if dstScale == nil || srcScale == nil {
		return nil, nil, agreement.ErrArithmeticOverflow
	}
	rateScaled, overflow := new(uint256.Int).MulOverflow(c.rate, dstScale)
	if overflow {
		return nil, nil, agreement.ErrArithmeticOverflow
	}
	return rateScaled, srcScale, nil
}

func exp10(decimals uint8) *uint256.Int {
	if decimals > 77 {
		return nil
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}
