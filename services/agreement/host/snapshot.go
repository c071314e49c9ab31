package host

import (
	"context"
	"log/slog"

	"github.com/holiman/uint256"

	"ibagreement/native/agreement"
)

// Snapshot is a consistent valuation of the position taken under the host lock.
type Snapshot struct {
	Agreement               string       `json:"agreement"`
	CollateralBalance       *uint256.Int `json:"collateralBalance"`
	CollateralCap           *uint256.Int `json:"collateralCap"`
	EffectiveCollateral     *uint256.Int `json:"effectiveCollateral"`
	CollateralUSD           *uint256.Int `json:"collateralUSD"`
	LiquidationThresholdUSD *uint256.Int `json:"liquidationThresholdUSD"`
	DebtUSD                 *uint256.Int `json:"debtUSD"`
	MaxLiquidatable         *uint256.Int `json:"maxLiquidatable"`
	Liquidatable            bool         `json:"liquidatable"`
}

// Snapshot values the position and refreshes the valuation gauges.
func (h *Host) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	ctx, span := h.tracer.Start(ctx, "agreement.snapshot")
	defer span.End()

	h.mu.Lock()
	snap, err := h.snapshotLocked()
	h.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "snapshot failed", slog.Any("error", err))
		return Snapshot{}, err
	}
	h.metrics.RecordValuation(h.label, snap.CollateralUSD, snap.LiquidationThresholdUSD, snap.DebtUSD, snap.Liquidatable)
	return snap, nil
}

func (h *Host) snapshotLocked() (Snapshot, error) {
	ag := h.agreement
	snap := Snapshot{
		Agreement:           h.label,
		CollateralBalance:   ag.CollateralBalance(),
		CollateralCap:       ag.CollateralCap(),
		EffectiveCollateral: ag.EffectiveCollateral(),
	}
	var err error
	if snap.CollateralUSD, err = ag.CollateralUSD(); err != nil {
		return Snapshot{}, err
	}
	if snap.LiquidationThresholdUSD, err = ag.LiquidationThresholdUSD(); err != nil {
		return Snapshot{}, err
	}
	if snap.DebtUSD, err = ag.DebtUSD(); err != nil {
		return Snapshot{}, err
	}
	if snap.MaxLiquidatable, err = ag.MaxLiquidatableCollateral(); err != nil {
		return Snapshot{}, err
	}
	snap.Liquidatable = snap.DebtUSD.Gt(snap.LiquidationThresholdUSD)
	return snap, nil
}

// Summary renders the USD figures as decimals for logs and CLI output.
func (s Snapshot) Summary() map[string]string {
	return map[string]string{
		"collateralUSD":           agreement.FormatUnits(s.CollateralUSD, 18),
		"liquidationThresholdUSD": agreement.FormatUnits(s.LiquidationThresholdUSD, 18),
		"debtUSD":                 agreement.FormatUnits(s.DebtUSD, 18),
	}
}
