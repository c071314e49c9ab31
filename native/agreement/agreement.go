package agreement

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/core/events"
)

var (
	errNilCollaborator = errors.New("agreement: collaborator not configured")
	errMissingRole     = errors.New("agreement: role address not configured")
	errMissingRisk     = errors.New("agreement: risk parameters not configured")
)

// Params captures everything required to bind a new agreement. Creating
// agreements in bulk is the job of an external factory; Params is what that
// factory hands over.
type Params struct {
	// Address identifies the agreement in the lending markets.
	Address       common.Address
	Roles         Roles
	Collateral    Asset
	Risk          RiskParameters
	CollateralCap *uint256.Int
	PriceSource   PriceSource
	Comptroller   Comptroller
	Custodian     Custodian
}

// Agreement manages a single borrower's collateralised debt position: one
// collateral asset backing borrows across any number of lending markets.
//
// Agreement is not safe for concurrent use. Hosts must serialise calls so that
// no other call observes the position between a check and its write.
type Agreement struct {
	address     common.Address
	roles       Roles
	comptroller Comptroller
	custodian   Custodian
	priceSource PriceSource
	position    *Position
	converters  map[common.Address]Converter
	emitter     events.Emitter
	logger      *slog.Logger
}

// New constructs an agreement from the supplied parameters.
func New(p Params) (*Agreement, error) {
	if p.Comptroller == nil || p.Custodian == nil || p.PriceSource == nil {
		return nil, errNilCollaborator
	}
	zero := common.Address{}
	if p.Roles.Borrower == zero || p.Roles.Executor == zero || p.Roles.Governor == zero {
		return nil, errMissingRole
	}
	if p.Risk.CollateralFactor == nil || p.Risk.LiquidationFactor == nil || p.Risk.CloseFactor == nil {
		return nil, errMissingRisk
	}
	return &Agreement{
		address:     p.Address,
		roles:       p.Roles,
		comptroller: p.Comptroller,
		custodian:   p.Custodian,
		priceSource: p.PriceSource,
		position: &Position{
			Collateral:        p.Collateral,
			CollateralBalance: new(uint256.Int),
			CollateralCap:     cloneOrZero(p.CollateralCap),
			Risk:              p.Risk.Clone(),
		},
		converters: make(map[common.Address]Converter),
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
	}, nil
}

// SetEmitter wires the sink for committed-state events.
func (a *Agreement) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// SetLogger replaces the logger used to record collaborator failures that are
// flattened into generic errors.
func (a *Agreement) SetLogger(logger *slog.Logger) {
	if a == nil || logger == nil {
		return
	}
	a.logger = logger
}

// Address returns the identity the agreement borrows under.
func (a *Agreement) Address() common.Address { return a.address }

// Roles returns the role bindings.
func (a *Agreement) Roles() Roles { return a.roles }

// Collateral returns the collateral asset.
func (a *Agreement) Collateral() Asset { return a.position.Collateral }

// Position returns a copy of the collateral-side state.
func (a *Agreement) Position() *Position { return a.position.Clone() }

// RiskParameters returns a copy of the risk ratios.
func (a *Agreement) RiskParameters() RiskParameters { return a.position.Risk.Clone() }

// CollateralBalance returns the raw collateral held.
func (a *Agreement) CollateralBalance() *uint256.Int {
	return new(uint256.Int).Set(a.position.CollateralBalance)
}

// CollateralCap returns the raw collateral cap; zero means uncapped.
func (a *Agreement) CollateralCap() *uint256.Int {
	return new(uint256.Int).Set(a.position.CollateralCap)
}

// EffectiveCollateral returns the collateral counted by valuation.
func (a *Agreement) EffectiveCollateral() *uint256.Int {
	return EffectiveCollateral(a.position.CollateralBalance, a.position.CollateralCap)
}

// MaxLiquidatableCollateral returns the most collateral a single liquidation
// may consume.
func (a *Agreement) MaxLiquidatableCollateral() (*uint256.Int, error) {
	return MaxLiquidatable(a.position.CollateralBalance, a.position.CollateralCap, a.position.Risk.CloseFactor)
}

// PriceSource returns the active collateral price source.
func (a *Agreement) PriceSource() PriceSource { return a.priceSource }

// Converter returns the converter registered for a market.
func (a *Agreement) Converter(market common.Address) (Converter, bool) {
	conv, ok := a.converters[market]
	return conv, ok
}

// Deposit credits collateral that has already been transferred into custody.
// Anyone may deposit: it can only improve the position's health. The recorded
// balance never exceeds what the custodian reports holding.
func (a *Agreement) Deposit(amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	balance, err := add(a.position.CollateralBalance, amount)
	if err != nil {
		return err
	}
	asset := a.position.Collateral.Address
	held, err := a.custodian.BalanceOf(asset)
	if err != nil {
		return a.flatten(ErrTransferFailed, "deposit", asset, err)
	}
	if held == nil || held.Lt(balance) {
		return ErrDepositExceedsCustody
	}
	a.position.CollateralBalance = balance
	a.emit(events.AgreementDeposited{
		Agreement: a.address,
		Amount:    new(uint256.Int).Set(amount),
		Balance:   new(uint256.Int).Set(balance),
	})
	return nil
}

// SetConverter registers converters for markets. Every pair is validated
// before any entry is written, so a failure leaves the registry untouched.
func (a *Agreement) SetConverter(caller common.Address, markets []LendingMarket, converters []Converter) error {
	if err := a.roles.Require(caller, RoleExecutor); err != nil {
		return err
	}
	if len(markets) != len(converters) {
		return ErrLengthMismatch
	}
	for i, market := range markets {
		conv := converters[i]
		if market == nil {
			return ErrNilMarket
		}
		if conv == nil {
			return ErrEmptyConverter
		}
		if conv.Source() != a.position.Collateral.Address {
			return ErrSourceMismatch
		}
		if conv.Destination() != market.Underlying() {
			return ErrDestinationMismatch
		}
	}
	for i, market := range markets {
		a.converters[market.Address()] = converters[i]
		a.emit(events.AgreementConverterSet{
			Agreement: a.address,
			Market:    market.Address(),
			Converter: describe(converters[i]),
		})
	}
	return nil
}

// SetPriceSource swaps the collateral price source.
func (a *Agreement) SetPriceSource(caller common.Address, source PriceSource) error {
	if err := a.roles.Require(caller, RoleGovernor); err != nil {
		return err
	}
	a.priceSource = source
	a.emit(events.AgreementPriceSourceSet{Agreement: a.address, Source: describe(source)})
	return nil
}

// SetCollateralCap changes the raw collateral cap; zero removes it.
func (a *Agreement) SetCollateralCap(caller common.Address, cap *uint256.Int) error {
	if err := a.roles.Require(caller, RoleGovernor); err != nil {
		return err
	}
	if cap == nil {
		return ErrInvalidAmount
	}
	previous := a.position.CollateralCap
	a.position.CollateralCap = new(uint256.Int).Set(cap)
	a.emit(events.AgreementCollateralCapSet{
		Agreement: a.address,
		Previous:  new(uint256.Int).Set(previous),
		Cap:       new(uint256.Int).Set(cap),
	})
	return nil
}

func (a *Agreement) emit(e events.Event) {
	if a.emitter == nil {
		return
	}
	a.emitter.Emit(e)
}

// flatten logs the collaborator's own error and returns the stable kind the
// agreement exposes instead.
func (a *Agreement) flatten(kind error, operation string, market common.Address, cause error) error {
	if a.logger != nil {
		a.logger.Warn("agreement collaborator call failed",
			slog.String("agreement", a.address.Hex()),
			slog.String("operation", operation),
			slog.String("market", market.Hex()),
			slog.String("kind", kind.Error()),
			slog.Any("error", cause),
		)
	}
	return kind
}

func describe(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%T", v)
	}
}
