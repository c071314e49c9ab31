package agreement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset identifies a token together with its native decimal precision.
type Asset struct {
	Address  common.Address
	Decimals uint8
}

// RiskParameters groups the 1e18-scaled ratios that bound borrowing and
// liquidation. LiquidationFactor is expected to be at least CollateralFactor so
// that a position becomes liquidatable only after it could no longer borrow.
type RiskParameters struct {
	// CollateralFactor is the share of collateral value counted as borrowing power.
	CollateralFactor *uint256.Int
	// LiquidationFactor is the share of collateral value that debt must exceed
	// before the executor may liquidate.
	LiquidationFactor *uint256.Int
	// CloseFactor bounds the share of effective collateral seized per liquidation.
	CloseFactor *uint256.Int
}

// Clone returns a deep copy of the risk parameters.
func (p RiskParameters) Clone() RiskParameters {
	return RiskParameters{
		CollateralFactor:  cloneOrZero(p.CollateralFactor),
		LiquidationFactor: cloneOrZero(p.LiquidationFactor),
		CloseFactor:       cloneOrZero(p.CloseFactor),
	}
}

// Position is the collateral side of an agreement. Debt balances live in the
// lending markets and are never mirrored here.
type Position struct {
	Collateral Asset
	// CollateralBalance is the raw amount of collateral held, in native decimals.
	CollateralBalance *uint256.Int
	// CollateralCap limits the raw amount counted by valuation; zero means uncapped.
	CollateralCap *uint256.Int
	Risk          RiskParameters
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Collateral:        p.Collateral,
		CollateralBalance: cloneOrZero(p.CollateralBalance),
		CollateralCap:     cloneOrZero(p.CollateralCap),
		Risk:              p.Risk.Clone(),
	}
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
