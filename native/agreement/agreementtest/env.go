package agreementtest

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/core/events"
	"ibagreement/native/agreement"
	"ibagreement/native/agreement/pricefeed"
)

// Fixed identities used by Env.
var (
	AgreementAddress = common.HexToAddress("0x00000000000000000000000000000000000a9001")
	BorrowerAddress  = common.HexToAddress("0x00000000000000000000000000000000000b0002")
	ExecutorAddress  = common.HexToAddress("0x00000000000000000000000000000000000e0003")
	GovernorAddress  = common.HexToAddress("0x0000000000000000000000000000000000090004")
	StrangerAddress  = common.HexToAddress("0x0000000000000000000000000000000000050005")
	CollateralToken  = common.HexToAddress("0x00000000000000000000000000000000000c0b7c")
	DebtToken        = common.HexToAddress("0x00000000000000000000000000000000000d05d7")
	MarketAddress    = common.HexToAddress("0x00000000000000000000000000000000000f0001")
	OtherToken       = common.HexToAddress("0x0000000000000000000000000000000000070ced")
)

// Options parameterises an Env.
type Options struct {
	Collateral    agreement.Asset
	Debt          agreement.Asset
	Risk          agreement.RiskParameters
	CollateralCap *uint256.Int
	// CollateralPrice is the 1e18 USD price of one whole collateral unit.
	CollateralPrice *uint256.Int
	// DebtPrice is the pre-scaled oracle price of the market's underlying.
	DebtPrice *uint256.Int
	// ConverterRate is whole debt units per whole collateral unit.
	ConverterRate uint64
}

// DefaultOptions describes an 8-decimal collateral worth $40,000 backing a
// 6-decimal stable debt, with factors 0.5 / 0.75 / 0.5 and a one-unit cap.
func DefaultOptions() Options {
	return Options{
		Collateral: agreement.Asset{Address: CollateralToken, Decimals: 8},
		Debt:       agreement.Asset{Address: DebtToken, Decimals: 6},
		Risk: agreement.RiskParameters{
			CollateralFactor:  agreement.MustParseUnits("0.5", 18),
			LiquidationFactor: agreement.MustParseUnits("0.75", 18),
			CloseFactor:       agreement.MustParseUnits("0.5", 18),
		},
		CollateralCap:   agreement.MustParseUnits("1", 8),
		CollateralPrice: agreement.MustParseUnits("40000", 18),
		DebtPrice:       agreement.MustParseUnits("1", 30),
		ConverterRate:   40000,
	}
}

// Env wires an agreement to in-memory collaborators over a single market.
type Env struct {
	Roles       agreement.Roles
	Agreement   *agreement.Agreement
	Feed        *pricefeed.StaticFeed
	Comptroller *Comptroller
	Market      *Market
	Converter   *Converter
	Custodian   *Custodian
	Events      *events.Recorder

	opts Options
}

// NewEnv builds an agreement from opts. The converter is created but not
// registered; see RegisterConverter.
func NewEnv(opts Options) (*Env, error) {
	roles := agreement.Roles{
		Borrower: BorrowerAddress,
		Executor: ExecutorAddress,
		Governor: GovernorAddress,
	}
	custodian := NewCustodian()
	comptroller := NewComptroller()
	market := NewMarket(MarketAddress, opts.Debt.Address, comptroller, custodian)
	comptroller.SetUnderlyingPrice(MarketAddress, opts.DebtPrice)

	feed := pricefeed.NewStaticFeed("collateral")
	feed.Set(opts.Collateral.Address, opts.CollateralPrice)

	ag, err := agreement.New(agreement.Params{
		Address:       AgreementAddress,
		Roles:         roles,
		Collateral:    opts.Collateral,
		Risk:          opts.Risk,
		CollateralCap: opts.CollateralCap,
		PriceSource:   feed,
		Comptroller:   comptroller,
		Custodian:     custodian,
	})
	if err != nil {
		return nil, err
	}
	recorder := &events.Recorder{}
	ag.SetEmitter(recorder)

	return &Env{
		Roles:       roles,
		Agreement:   ag,
		Feed:        feed,
		Comptroller: comptroller,
		Market:      market,
		Converter:   NewConverter(opts.Collateral, opts.Debt, opts.ConverterRate, custodian),
		Custodian:   custodian,
		Events:      recorder,
		opts:        opts,
	}, nil
}

// Options returns the options the Env was built with.
func (e *Env) Options() Options { return e.opts }

// Fund moves amount of collateral into custody and credits the position.
func (e *Env) Fund(amount *uint256.Int) error {
	e.Custodian.Credit(e.opts.Collateral.Address, amount)
	return e.Agreement.Deposit(amount)
}

// SetCollateralPrice moves the collateral feed to a whole-dollar price and
// aligns the converter rate with it.
func (e *Env) SetCollateralPrice(dollars uint64) {
	price := new(uint256.Int).Mul(uint256.NewInt(dollars), agreement.WAD())
	e.Feed.Set(e.opts.Collateral.Address, price)
	e.Converter.SetRate(dollars)
}

// RegisterConverter installs the Env's converter for its market as the executor.
func (e *Env) RegisterConverter() error {
	return e.Agreement.SetConverter(e.Roles.Executor,
		[]agreement.LendingMarket{e.Market},
		[]agreement.Converter{e.Converter})
}
