package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/core/types"
)

const (
	// TypeAgreementDeposited is emitted when collateral is credited to a position.
	TypeAgreementDeposited = "agreement.deposited"
	// TypeAgreementBorrowed is emitted after a market accepted a borrow.
	TypeAgreementBorrowed = "agreement.borrowed"
	// TypeAgreementRepaid is emitted after a market accepted a repayment.
	TypeAgreementRepaid = "agreement.repaid"
	// TypeAgreementWithdrawn is emitted when collateral is released to the borrower.
	TypeAgreementWithdrawn = "agreement.withdrawn"
	// TypeAgreementSeized is emitted when a non-collateral token is swept to the executor.
	TypeAgreementSeized = "agreement.seized"
	// TypeAgreementLiquidated is emitted after a partial liquidation repaid debt.
	TypeAgreementLiquidated = "agreement.liquidated"
	// TypeAgreementConversionUnsettled is emitted when collateral was converted
	// but the market refused the repayment; the proceeds stay in custody.
	TypeAgreementConversionUnsettled = "agreement.conversionUnsettled"
	// TypeAgreementConverterSet is emitted for every market whose converter changed.
	TypeAgreementConverterSet = "agreement.converterSet"
	// TypeAgreementPriceSourceSet is emitted when the governor swaps the price source.
	TypeAgreementPriceSourceSet = "agreement.priceSourceSet"
	// TypeAgreementCollateralCapSet is emitted when the governor changes the cap.
	TypeAgreementCollateralCapSet = "agreement.collateralCapSet"

	// LiquidationModeExactCollateral identifies liquidations sized by collateral in.
	LiquidationModeExactCollateral = "exactCollateral"
	// LiquidationModeExactRepay identifies liquidations sized by debt repaid.
	LiquidationModeExactRepay = "exactRepay"
)

// AgreementDeposited records a collateral credit.
type AgreementDeposited struct {
	Agreement common.Address
	Amount    *uint256.Int
	Balance   *uint256.Int
}

// EventType satisfies the Event interface.
func (AgreementDeposited) EventType() string { return TypeAgreementDeposited }

// Event converts the structured payload into a broadcastable event.
func (e AgreementDeposited) Event() *types.Event {
	return &types.Event{Type: TypeAgreementDeposited, Attributes: map[string]string{
		"agreement": formatAddress(e.Agreement),
		"amount":    formatAmount(e.Amount),
		"balance":   formatAmount(e.Balance),
	}}
}

// AgreementBorrowed records a successful borrow against a market.
type AgreementBorrowed struct {
	Agreement common.Address
	Market    common.Address
	Amount    *uint256.Int
	Max       bool
}

// EventType satisfies the Event interface.
func (AgreementBorrowed) EventType() string { return TypeAgreementBorrowed }

// Event converts the structured payload into a broadcastable event.
func (e AgreementBorrowed) Event() *types.Event {
	attrs := map[string]string{
		"agreement": formatAddress(e.Agreement),
		"market":    formatAddress(e.Market),
		"amount":    formatAmount(e.Amount),
	}
	if e.Max {
		attrs["max"] = "true"
	}
	return &types.Event{Type: TypeAgreementBorrowed, Attributes: attrs}
}

// AgreementRepaid records a repayment forwarded to a market.
type AgreementRepaid struct {
	Agreement common.Address
	Market    common.Address
	Amount    *uint256.Int
	Full      bool
}

// EventType satisfies the Event interface.
func (AgreementRepaid) EventType() string { return TypeAgreementRepaid }

// Event converts the structured payload into a broadcastable event.
func (e AgreementRepaid) Event() *types.Event {
	attrs := map[string]string{
		"agreement": formatAddress(e.Agreement),
		"market":    formatAddress(e.Market),
		"amount":    formatAmount(e.Amount),
	}
	if e.Full {
		attrs["full"] = "true"
	}
	return &types.Event{Type: TypeAgreementRepaid, Attributes: attrs}
}

// AgreementWithdrawn records collateral released to the borrower.
type AgreementWithdrawn struct {
	Agreement common.Address
	Recipient common.Address
	Amount    *uint256.Int
	Balance   *uint256.Int
}

// EventType satisfies the Event interface.
func (AgreementWithdrawn) EventType() string { return TypeAgreementWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e AgreementWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeAgreementWithdrawn, Attributes: map[string]string{
		"agreement": formatAddress(e.Agreement),
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
		"balance":   formatAmount(e.Balance),
	}}
}

// AgreementSeized records a token sweep to the executor.
type AgreementSeized struct {
	Agreement common.Address
	Asset     common.Address
	Recipient common.Address
	Amount    *uint256.Int
}

// EventType satisfies the Event interface.
func (AgreementSeized) EventType() string { return TypeAgreementSeized }

// Event converts the structured payload into a broadcastable event.
func (e AgreementSeized) Event() *types.Event {
	return &types.Event{Type: TypeAgreementSeized, Attributes: map[string]string{
		"agreement": formatAddress(e.Agreement),
		"asset":     formatAddress(e.Asset),
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
	}}
}

// AgreementLiquidated records the collateral consumed and debt repaid by a
// single liquidation call.
type AgreementLiquidated struct {
	Agreement        common.Address
	Market           common.Address
	Mode             string
	CollateralSeized *uint256.Int
	DebtRepaid       *uint256.Int
	Balance          *uint256.Int
}

// EventType satisfies the Event interface.
func (AgreementLiquidated) EventType() string { return TypeAgreementLiquidated }

// Event converts the structured payload into a broadcastable event.
func (e AgreementLiquidated) Event() *types.Event {
	return &types.Event{Type: TypeAgreementLiquidated, Attributes: map[string]string{
		"agreement":        formatAddress(e.Agreement),
		"market":           formatAddress(e.Market),
		"mode":             strings.TrimSpace(e.Mode),
		"collateralSeized": formatAmount(e.CollateralSeized),
		"debtRepaid":       formatAmount(e.DebtRepaid),
		"balance":          formatAmount(e.Balance),
	}}
}

// AgreementConversionUnsettled records collateral that left custody through a
// converter whose proceeds the market did not accept.
type AgreementConversionUnsettled struct {
	Agreement       common.Address
	Market          common.Address
	Mode            string
	CollateralSpent *uint256.Int
	Proceeds        *uint256.Int
	Balance         *uint256.Int
}

// EventType satisfies the Event interface.
func (AgreementConversionUnsettled) EventType() string { return TypeAgreementConversionUnsettled }

// Event converts the structured payload into a broadcastable event.
func (e AgreementConversionUnsettled) Event() *types.Event {
	return &types.Event{Type: TypeAgreementConversionUnsettled, Attributes: map[string]string{
		"agreement":       formatAddress(e.Agreement),
		"market":          formatAddress(e.Market),
		"mode":            strings.TrimSpace(e.Mode),
		"collateralSpent": formatAmount(e.CollateralSpent),
		"proceeds":        formatAmount(e.Proceeds),
		"balance":         formatAmount(e.Balance),
	}}
}

// AgreementConverterSet records a converter registry update for one market.
type AgreementConverterSet struct {
	Agreement common.Address
	Market    common.Address
	Converter string
}

// EventType satisfies the Event interface.
func (AgreementConverterSet) EventType() string { return TypeAgreementConverterSet }

// Event converts the structured payload into a broadcastable event.
func (e AgreementConverterSet) Event() *types.Event {
	return &types.Event{Type: TypeAgreementConverterSet, Attributes: map[string]string{
		"agreement": formatAddress(e.Agreement),
		"market":    formatAddress(e.Market),
		"converter": strings.TrimSpace(e.Converter),
	}}
}

// AgreementPriceSourceSet records a price source swap.
type AgreementPriceSourceSet struct {
	Agreement common.Address
	Source    string
}

// EventType satisfies the Event interface.
func (AgreementPriceSourceSet) EventType() string { return TypeAgreementPriceSourceSet }

// Event converts the structured payload into a broadcastable event.
func (e AgreementPriceSourceSet) Event() *types.Event {
	return &types.Event{Type: TypeAgreementPriceSourceSet, Attributes: map[string]string{
		"agreement": formatAddress(e.Agreement),
		"source":    strings.TrimSpace(e.Source),
	}}
}

// AgreementCollateralCapSet records a collateral cap change.
type AgreementCollateralCapSet struct {
	Agreement common.Address
	Previous  *uint256.Int
	Cap       *uint256.Int
}

// EventType satisfies the Event interface.
func (AgreementCollateralCapSet) EventType() string { return TypeAgreementCollateralCapSet }

// Event converts the structured payload into a broadcastable event.
func (e AgreementCollateralCapSet) Event() *types.Event {
	return &types.Event{Type: TypeAgreementCollateralCapSet, Attributes: map[string]string{
		"agreement": formatAddress(e.Agreement),
		"previous":  formatAmount(e.Previous),
		"cap":       formatAmount(e.Cap),
	}}
}
