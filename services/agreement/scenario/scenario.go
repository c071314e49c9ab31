package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"ibagreement/native/agreement"
	"ibagreement/observability"
	"ibagreement/services/agreement/host"
)

// Step actions.
const (
	ActionDeposit                  = "deposit"
	ActionCredit                   = "credit"
	ActionBorrow                   = "borrow"
	ActionBorrowMax                = "borrow_max"
	ActionRepay                    = "repay"
	ActionRepayFull                = "repay_full"
	ActionWithdraw                 = "withdraw"
	ActionSeize                    = "seize"
	ActionSetConverter             = "set_converter"
	ActionSetPrice                 = "set_price"
	ActionSetConverterRate         = "set_converter_rate"
	ActionSetCollateralCap         = "set_collateral_cap"
	ActionLiquidateExactCollateral = "liquidate_exact_collateral"
	ActionLiquidateExactRepay      = "liquidate_exact_repay"
)

// Scenario is a scripted sequence of agreement operations.
type Scenario struct {
	Name   string       `yaml:"name"`
	Steps  []Step       `yaml:"steps"`
	Expect *Expectation `yaml:"expect,omitempty"`
}

// Step is one scripted call. Amounts are decimals in whole units of the asset
// the action moves: collateral for deposit, withdraw, set_collateral_cap and
// the collateral side of liquidations; the market's underlying for borrow,
// repay and the debt side of liquidations. Seize and credit amounts are raw.
type Step struct {
	Name   string `yaml:"name,omitempty"`
	Action string `yaml:"action"`
	// Caller is a role name (borrower, executor, governor) or a hex address.
	// Empty means the role the action requires.
	Caller  string   `yaml:"caller,omitempty"`
	Market  string   `yaml:"market,omitempty"`
	Markets []string `yaml:"markets,omitempty"`
	Asset   string   `yaml:"asset,omitempty"`
	Amount  string   `yaml:"amount,omitempty"`
	// Limit is minRepay for liquidate_exact_collateral and maxCollateralIn
	// for liquidate_exact_repay.
	Limit string `yaml:"limit,omitempty"`
	Price string `yaml:"price,omitempty"`
	Rate  uint64 `yaml:"rate,omitempty"`
	// Want, when set, is compared with the amount the operation returns.
	Want        string `yaml:"want,omitempty"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Expectation is checked against the final snapshot. USD figures are
// decimals; empty fields are not checked.
type Expectation struct {
	CollateralBalance       string `yaml:"collateral_balance,omitempty"`
	CollateralUSD           string `yaml:"collateral_usd,omitempty"`
	LiquidationThresholdUSD string `yaml:"liquidation_threshold_usd,omitempty"`
	DebtUSD                 string `yaml:"debt_usd,omitempty"`
	Liquidatable            *bool  `yaml:"liquidatable,omitempty"`
}

// Result records the outcome of one step.
type Result struct {
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrExpectation is returned when a step or the final snapshot disagrees with
// the scenario.
var ErrExpectation = errors.New("scenario: expectation failed")

var sentinels = []error{
	agreement.ErrUnauthorized,
	agreement.ErrUndercollateralized,
	agreement.ErrNotLiquidatable,
	agreement.ErrLiquidateTooMuch,
	agreement.ErrTooMuchCollateralNeeded,
	agreement.ErrEmptyConverter,
	agreement.ErrSourceMismatch,
	agreement.ErrDestinationMismatch,
	agreement.ErrLengthMismatch,
	agreement.ErrBorrowFailed,
	agreement.ErrRepayFailed,
	agreement.ErrTransferFailed,
	agreement.ErrDepositExceedsCustody,
	agreement.ErrSeizeCollateralDenied,
	agreement.ErrArithmeticUnderflow,
	agreement.ErrArithmeticOverflow,
	agreement.ErrPriceUnavailable,
	agreement.ErrConversionFailed,
	agreement.ErrInvalidAmount,
	agreement.ErrNilMarket,
	host.ErrUnknownMarket,
}

// Sentinel resolves an expect_error name such as "undercollateralized" or
// "liquidate_too_much" to the error it denotes.
func Sentinel(name string) (error, bool) {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, err := range sentinels {
		if observability.ErrorKind(err) == name {
			return err, true
		}
	}
	return nil, false
}

// Load reads a YAML scenario from path.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a YAML scenario. Unknown fields and unknown actions are
// rejected.
func Parse(raw []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, err
	}
	for i, step := range sc.Steps {
		if _, ok := handlers[step.Action]; !ok {
			return nil, fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		if step.ExpectError != "" {
			if _, ok := Sentinel(step.ExpectError); !ok {
				return nil, fmt.Errorf("step %d: unknown expect_error %q", i, step.ExpectError)
			}
		}
	}
	return &sc, nil
}

// Run executes every step in order and then checks the final expectation. It
// stops at the first step whose outcome differs from the script.
func (w *World) Run(ctx context.Context, sc *Scenario) ([]Result, error) {
	results := make([]Result, 0, len(sc.Steps))
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		value, err := handlers[step.Action](ctx, w, step)
		res := Result{Index: i, Name: step.Name, Action: step.Action, Value: value}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
		if err := checkStep(step, value, err); err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i, label(step), err)
		}
	}
	if sc.Expect != nil {
		if err := w.check(ctx, *sc.Expect); err != nil {
			return results, err
		}
	}
	return results, nil
}

func label(step Step) string {
	if step.Name != "" {
		return step.Name
	}
	return step.Action
}

func checkStep(step Step, value string, err error) error {
	if step.ExpectError == "" {
		if err != nil {
			return fmt.Errorf("%w: unexpected error: %v", ErrExpectation, err)
		}
		if step.Want != "" && step.Want != value {
			return fmt.Errorf("%w: got %s, want %s", ErrExpectation, value, step.Want)
		}
		return nil
	}
	want, _ := Sentinel(step.ExpectError)
	if err == nil {
		return fmt.Errorf("%w: expected %s, step succeeded", ErrExpectation, step.ExpectError)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("%w: expected %s, got %v", ErrExpectation, step.ExpectError, err)
	}
	return nil
}

func (w *World) check(ctx context.Context, want Expectation) error {
	snap, err := w.Host.Snapshot(ctx)
	if err != nil {
		return err
	}
	decimals := w.Agreement.Collateral().Decimals
	pairs := []struct {
		field string
		want  string
		got   string
	}{
		{"collateral_balance", want.CollateralBalance, agreement.FormatUnits(snap.CollateralBalance, decimals)},
		{"collateral_usd", want.CollateralUSD, agreement.FormatUnits(snap.CollateralUSD, 18)},
		{"liquidation_threshold_usd", want.LiquidationThresholdUSD, agreement.FormatUnits(snap.LiquidationThresholdUSD, 18)},
		{"debt_usd", want.DebtUSD, agreement.FormatUnits(snap.DebtUSD, 18)},
	}
	for _, p := range pairs {
		if p.want != "" && p.want != p.got {
			return fmt.Errorf("%w: %s is %s, want %s", ErrExpectation, p.field, p.got, p.want)
		}
	}
	if want.Liquidatable != nil && *want.Liquidatable != snap.Liquidatable {
		return fmt.Errorf("%w: liquidatable is %t, want %t", ErrExpectation, snap.Liquidatable, *want.Liquidatable)
	}
	return nil
}

type handler func(ctx context.Context, w *World, step Step) (string, error)

var handlers = map[string]handler{
	ActionDeposit:                  deposit,
	ActionCredit:                   credit,
	ActionBorrow:                   borrow,
	ActionBorrowMax:                borrowMax,
	ActionRepay:                    repay,
	ActionRepayFull:                repayFull,
	ActionWithdraw:                 withdraw,
	ActionSeize:                    seize,
	ActionSetConverter:             setConverter,
	ActionSetPrice:                 setPrice,
	ActionSetConverterRate:         setConverterRate,
	ActionSetCollateralCap:         setCollateralCap,
	ActionLiquidateExactCollateral: liquidateExactCollateral,
	ActionLiquidateExactRepay:      liquidateExactRepay,
}

// caller resolves step.Caller, falling back to the holder of role.
func (w *World) caller(step Step, role agreement.Role) (common.Address, error) {
	switch name := strings.TrimSpace(strings.ToLower(step.Caller)); name {
	case "":
		return w.Roles.Holder(role), nil
	case "borrower":
		return w.Roles.Borrower, nil
	case "executor":
		return w.Roles.Executor, nil
	case "governor":
		return w.Roles.Governor, nil
	default:
		if !common.IsHexAddress(name) {
			return common.Address{}, fmt.Errorf("scenario: unknown caller %q", step.Caller)
		}
		return common.HexToAddress(name), nil
	}
}

func (w *World) market(step Step) (common.Address, uint8, error) {
	addr, err := w.DefaultMarket()
	if err != nil {
		return common.Address{}, 0, err
	}
	if step.Market != "" {
		if !common.IsHexAddress(step.Market) {
			return common.Address{}, 0, fmt.Errorf("scenario: invalid market %q", step.Market)
		}
		addr = common.HexToAddress(step.Market)
	}
	mc, err := w.MarketConfig(addr)
	if err != nil {
		// Unknown markets still reach the host so the rejection is observed.
		return addr, 0, nil
	}
	return addr, mc.Decimals, nil
}

func (w *World) collateralUnits(s string) (*uint256.Int, error) {
	return agreement.ParseUnits(s, w.Agreement.Collateral().Decimals)
}

func (w *World) formatCollateral(v *uint256.Int) string {
	return agreement.FormatUnits(v, w.Agreement.Collateral().Decimals)
}

func deposit(ctx context.Context, w *World, step Step) (string, error) {
	amount, err := w.collateralUnits(step.Amount)
	if err != nil {
		return "", err
	}
	caller, err := w.caller(step, agreement.RoleBorrower)
	if err != nil {
		return "", err
	}
	w.Custodian.Credit(w.Agreement.Collateral().Address, amount)
	return "", w.Host.Deposit(ctx, caller, amount)
}

func credit(_ context.Context, w *World, step Step) (string, error) {
	if !common.IsHexAddress(step.Asset) {
		return "", fmt.Errorf("scenario: invalid asset %q", step.Asset)
	}
	amount, err := agreement.ParseUnits(step.Amount, 0)
	if err != nil {
		return "", err
	}
	w.Custodian.Credit(common.HexToAddress(step.Asset), amount)
	return "", nil
}

func borrow(ctx context.Context, w *World, step Step) (string, error) {
	market, decimals, err := w.market(step)
	if err != nil {
		return "", err
	}
	amount, err := agreement.ParseUnits(step.Amount, decimals)
	if err != nil {
		return "", err
	}
	caller, err := w.caller(step, agreement.RoleBorrower)
	if err != nil {
		return "", err
	}
	return "", w.Host.Borrow(ctx, caller, market, amount)
}

func borrowMax(ctx context.Context, w *World, step Step) (string, error) {
	market, decimals, err := w.market(step)
	if err != nil {
		return "", err
	}
	caller, err := w.caller(step, agreement.RoleBorrower)
	if err != nil {
		return "", err
	}
	amount, err := w.Host.BorrowMax(ctx, caller, market)
	if err != nil {
		return "", err
	}
	return agreement.FormatUnits(amount, decimals), nil
}

func repay(ctx context.Context, w *World, step Step) (string, error) {
	market, decimals, err := w.market(step)
	if err != nil {
		return "", err
	}
	amount, err := agreement.ParseUnits(step.Amount, decimals)
	if err != nil {
		return "", err
	}
	caller, err := w.caller(step, agreement.RoleBorrower)
	if err != nil {
		return "", err
	}
	return "", w.Host.Repay(ctx, caller, market, amount)
}

func repayFull(ctx context.Context, w *World, step Step) (string, error) {
	market, decimals, err := w.market(step)
	if err != nil {
		return "", err
	}
	caller, err := w.caller(step, agreement.RoleBorrower)
	if err != nil {
		return "", err
	}
	amount, err := w.Host.RepayFull(ctx, caller, market)
	if err != nil {
		return "", err
	}
	return agreement.FormatUnits(amount, decimals), nil
}

func withdraw(ctx context.Context, w *World, step Step) (string, error) {
	amount, err := w.collateralUnits(step.Amount)
	if err != nil {
		return "", err
	}
	caller, err := w.caller(step, agreement.RoleBorrower)
	if err != nil {
		return "", err
	}
	return "", w.Host.Withdraw(ctx, caller, amount)
}

func seize(ctx context.Context, w *World, step Step) (string, error) {
	if !common.IsHexAddress(step.Asset) {
		return "", fmt.Errorf("scenario: invalid asset %q", step.Asset)
	}
	var amount *uint256.Int
	if step.Amount != "" {
		parsed, err := agreement.ParseUnits(step.Amount, 0)
		if err != nil {
			return "", err
		}
		amount = parsed
	}
	caller, err := w.caller(step, agreement.RoleExecutor)
	if err != nil {
		return "", err
	}
	seized, err := w.Host.Seize(ctx, caller, common.HexToAddress(step.Asset), amount)
	if err != nil {
		return "", err
	}
	return seized.Dec(), nil
}

// setConverter registers the configured converter of every listed market, or
// of every market that has one when none are listed.
func setConverter(ctx context.Context, w *World, step Step) (string, error) {
	names := step.Markets
	if len(names) == 0 && step.Market != "" {
		names = []string{step.Market}
	}
	var markets []common.Address
	if len(names) == 0 {
		for _, addr := range w.MarketOrder {
			if _, ok := w.Converters[addr]; ok {
				markets = append(markets, addr)
			}
		}
	}
	for _, name := range names {
		if !common.IsHexAddress(name) {
			return "", fmt.Errorf("scenario: invalid market %q", name)
		}
		markets = append(markets, common.HexToAddress(name))
	}
	converters := make([]agreement.Converter, len(markets))
	for i, addr := range markets {
		// A market without a configured converter registers a nil one, which
		// the agreement rejects as empty.
		if conv, ok := w.Converters[addr]; ok {
			converters[i] = conv
		}
	}
	caller, err := w.caller(step, agreement.RoleExecutor)
	if err != nil {
		return "", err
	}
	return "", w.Host.SetConverter(ctx, caller, markets, converters)
}

// setPrice moves an oracle: the collateral feed, or the comptroller's price
// for step.Market when one is named.
func setPrice(_ context.Context, w *World, step Step) (string, error) {
	if step.Market == "" {
		price, err := agreement.ParseUnits(step.Price, 18)
		if err != nil {
			return "", err
		}
		w.Feed.Set(w.Agreement.Collateral().Address, price)
		return "", nil
	}
	market, _, err := w.market(step)
	if err != nil {
		return "", err
	}
	mc, err := w.MarketConfig(market)
	if err != nil {
		return "", err
	}
	mc.Price = step.Price
	oracle, err := mc.OraclePrice()
	if err != nil {
		return "", err
	}
	w.Comptroller.SetUnderlyingPrice(market, oracle)
	return "", nil
}

func setConverterRate(_ context.Context, w *World, step Step) (string, error) {
	market, _, err := w.market(step)
	if err != nil {
		return "", err
	}
	conv, ok := w.Converters[market]
	if !ok {
		return "", fmt.Errorf("%w: no converter configured for %s", agreement.ErrEmptyConverter, market.Hex())
	}
	conv.SetRate(step.Rate)
	return "", nil
}

func setCollateralCap(ctx context.Context, w *World, step Step) (string, error) {
	capacity, err := w.collateralUnits(step.Amount)
	if err != nil {
		return "", err
	}
	caller, err := w.caller(step, agreement.RoleGovernor)
	if err != nil {
		return "", err
	}
	return "", w.Host.SetCollateralCap(ctx, caller, capacity)
}

func liquidateExactCollateral(ctx context.Context, w *World, step Step) (string, error) {
	market, decimals, err := w.market(step)
	if err != nil {
		return "", err
	}
	amount, err := w.collateralUnits(step.Amount)
	if err != nil {
		return "", err
	}
	minRepay := new(uint256.Int)
	if step.Limit != "" {
		if minRepay, err = agreement.ParseUnits(step.Limit, decimals); err != nil {
			return "", err
		}
	}
	caller, err := w.caller(step, agreement.RoleExecutor)
	if err != nil {
		return "", err
	}
	repaid, err := w.Host.LiquidateWithExactCollateralAmount(ctx, caller, market, amount, minRepay)
	if err != nil {
		return "", err
	}
	return agreement.FormatUnits(repaid, decimals), nil
}

func liquidateExactRepay(ctx context.Context, w *World, step Step) (string, error) {
	market, decimals, err := w.market(step)
	if err != nil {
		return "", err
	}
	amount, err := agreement.ParseUnits(step.Amount, decimals)
	if err != nil {
		return "", err
	}
	maxIn := new(uint256.Int).SetAllOne()
	if step.Limit != "" {
		if maxIn, err = w.collateralUnits(step.Limit); err != nil {
			return "", err
		}
	}
	caller, err := w.caller(step, agreement.RoleExecutor)
	if err != nil {
		return "", err
	}
	used, err := w.Host.LiquidateForExactRepayAmount(ctx, caller, market, amount, maxIn)
	if err != nil {
		return "", err
	}
	return w.formatCollateral(used), nil
}
