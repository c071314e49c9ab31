package agreement_test

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"ibagreement/config"
	"ibagreement/core/events"
	"ibagreement/native/agreement"
	"ibagreement/native/agreement/pricefeed"
	"ibagreement/observability"
	"ibagreement/services/agreement/scenario"
)

var (
	usdtMarket = common.HexToAddress("0x00000000000000000000000000000000000f0001")
	ethMarket  = common.HexToAddress("0x00000000000000000000000000000000000f0002")
)

type aggregator struct {
	mu       sync.Mutex
	answer   *big.Int
	decimals uint8
}

func (a *aggregator) LatestAnswer() (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.answer), nil
}

func (a *aggregator) Decimals() uint8 { return a.decimals }

func (a *aggregator) set(dollars int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answer = new(big.Int).Mul(big.NewInt(dollars), big.NewInt(100_000_000))
}

func twoMarketConfig(journal string) *config.Config {
	cfg := config.Default()
	cfg.Markets = append(cfg.Markets, config.Market{
		Address:    ethMarket.Hex(),
		Underlying: "0x00000000000000000000000000000000000e7e7e",
		Decimals:   18,
		Price:      "2500",
	})
	if journal != "" {
		cfg.Journal = config.Journal{Backend: config.JournalLevelDB, Path: journal}
	}
	return cfg
}

func build(t *testing.T, cfg *config.Config) *scenario.World {
	t.Helper()
	require.NoError(t, cfg.Validate())
	w, err := scenario.Build(cfg, scenario.BuildOptions{
		Metrics: observability.NewAgreementMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func run(t *testing.T, w *scenario.World, script string) []scenario.Result {
	t.Helper()
	sc, err := scenario.Parse([]byte(script))
	require.NoError(t, err)
	results, err := w.Run(context.Background(), sc)
	require.NoError(t, err)
	return results
}

func TestDebtAcrossMarkets(t *testing.T) {
	w := build(t, twoMarketConfig(""))
	results := run(t, w, `
steps:
  - action: deposit
    amount: "1"
  - action: borrow
    amount: "10000"
  - action: borrow
    market: "0x00000000000000000000000000000000000f0002"
    amount: "2"
  - action: borrow_max
    market: "0x00000000000000000000000000000000000f0002"
    want: "2"
  - action: withdraw
    amount: "0.00000001"
    expect_error: undercollateralized
  - action: repay
    market: "0x00000000000000000000000000000000000f0002"
    amount: "5"
    expect_error: repay_failed
expect:
  collateral_usd: "20000"
  debt_usd: "20000"
  liquidatable: false
`)
	require.Equal(t, "2", results[3].Value)

	snap, err := w.Host.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "30000", agreement.FormatUnits(snap.LiquidationThresholdUSD, 18))
}

func TestSwappedPriceSourceDrivesLiquidation(t *testing.T) {
	cfg := twoMarketConfig("")
	w := build(t, cfg)
	ctx := context.Background()
	run(t, w, `
steps:
  - action: deposit
    amount: "1"
  - action: borrow
    amount: "15000"
  - action: borrow
    market: "0x00000000000000000000000000000000000f0002"
    amount: "2"
`)

	agg := &aggregator{decimals: 8}
	agg.set(30000)
	feed := pricefeed.NewAggregatorFeed(w.Agreement.Collateral().Address, agg)
	err := w.Host.SetPriceSource(ctx, w.Roles.Borrower, feed)
	require.ErrorIs(t, err, agreement.ErrUnauthorized)
	require.NoError(t, w.Host.SetPriceSource(ctx, w.Roles.Governor, feed))

	snap, err := w.Host.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "15000", agreement.FormatUnits(snap.CollateralUSD, 18))
	require.Equal(t, "22500", agreement.FormatUnits(snap.LiquidationThresholdUSD, 18))
	require.False(t, snap.Liquidatable)

	// Overborrowed but not yet liquidatable.
	err = w.Host.Borrow(ctx, w.Roles.Borrower, usdtMarket, agreement.MustParseUnits("1", 6))
	require.ErrorIs(t, err, agreement.ErrUndercollateralized)
	_, err = w.Host.LiquidateWithExactCollateralAmount(ctx, w.Roles.Executor, usdtMarket,
		agreement.MustParseUnits("0.1", 8), agreement.MustParseUnits("0", 6))
	require.ErrorIs(t, err, agreement.ErrNotLiquidatable)

	agg.set(26000)
	w.Converters[usdtMarket].SetRate(26000)
	run(t, w, `
steps:
  - action: set_converter
    markets: ["0x00000000000000000000000000000000000f0001", "0x00000000000000000000000000000000000f0002"]
    expect_error: empty_converter
  - action: set_converter
  - action: liquidate_exact_collateral
    market: "0x00000000000000000000000000000000000f0002"
    amount: "0.1"
    expect_error: empty_converter
  - action: liquidate_exact_collateral
    amount: "0.1"
    want: "2600"
expect:
  collateral_balance: "0.9"
  collateral_usd: "11700"
  liquidation_threshold_usd: "17550"
  debt_usd: "17400"
  liquidatable: false
`)
	_, registered := w.Agreement.Converter(ethMarket)
	require.False(t, registered)
}

func TestCapChangeMovesLiquidationBound(t *testing.T) {
	w := build(t, config.Default())
	run(t, w, `
steps:
  - action: deposit
    amount: "2"
  - action: borrow
    amount: "20000"
  - action: set_collateral_cap
    amount: "0.8"
  - action: set_price
    price: "33000"
  - action: set_converter_rate
    rate: 33000
  - action: set_converter
  - action: liquidate_exact_collateral
    amount: "0.41"
    expect_error: liquidate_too_much
  - action: liquidate_exact_collateral
    amount: "0.4"
    want: "13200"
expect:
  collateral_balance: "1.6"
  collateral_usd: "13200"
  debt_usd: "6800"
`)
}

func TestJournalSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	cfg := twoMarketConfig(path)
	first, err := scenario.Build(cfg, scenario.BuildOptions{Metrics: observability.NewAgreementMetrics(nil)})
	require.NoError(t, err)
	sc, err := scenario.Parse([]byte(`
steps:
  - action: deposit
    amount: "1"
  - action: borrow
    amount: "100"
`))
	require.NoError(t, err)
	_, err = first.Run(context.Background(), sc)
	require.NoError(t, err)
	first.Close()

	second := build(t, cfg)
	require.Equal(t, uint64(2), second.Host.Journal().Len())
	run(t, second, `
steps:
  - action: deposit
    amount: "0.5"
`)
	entries, err := second.Host.Journal().Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, events.TypeAgreementDeposited, entries[2].Event.Type)
	require.Equal(t, uint64(2), entries[2].Sequence)
	// A rebuilt agreement starts from an empty position; the journal is history.
	require.Equal(t, "50000000", entries[2].Event.Attributes["balance"])
}

func TestConcurrentCallersAreSerialised(t *testing.T) {
	w := build(t, config.Default())
	ctx := context.Background()
	run(t, w, "steps:\n  - action: deposit\n    amount: \"1\"\n")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = w.Host.Borrow(ctx, w.Roles.Borrower, usdtMarket, agreement.MustParseUnits("2500", 6))
		}()
		go func() {
			defer wg.Done()
			_ = w.Host.Withdraw(ctx, w.Roles.Borrower, agreement.MustParseUnits("0.1", 8))
		}()
	}
	wg.Wait()

	snap, err := w.Host.Snapshot(ctx)
	require.NoError(t, err)
	require.False(t, snap.DebtUSD.Gt(snap.CollateralUSD), "debt %s exceeds collateral %s", snap.DebtUSD.Dec(), snap.CollateralUSD.Dec())
	held, err := w.Custodian.BalanceOf(w.Agreement.Collateral().Address)
	require.NoError(t, err)
	require.True(t, held.Eq(snap.CollateralBalance))
}
