package agreement_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/core/events"
	"ibagreement/native/agreement"
	"ibagreement/native/agreement/agreementtest"
	"ibagreement/native/agreement/pricefeed"
)

func wad(s string) *uint256.Int  { return agreement.MustParseUnits(s, 18) }
func btc(s string) *uint256.Int  { return agreement.MustParseUnits(s, 8) }
func usdt(s string) *uint256.Int { return agreement.MustParseUnits(s, 6) }

func newEnv(t *testing.T, mutate func(*agreementtest.Options)) *agreementtest.Env {
	t.Helper()
	opts := agreementtest.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	env, err := agreementtest.NewEnv(opts)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	return env
}

// fundedEnv holds one whole collateral unit worth $40,000.
func fundedEnv(t *testing.T) *agreementtest.Env {
	t.Helper()
	env := newEnv(t, nil)
	if err := env.Fund(btc("1")); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return env
}

func expectUSD(t *testing.T, label string, read func() (*uint256.Int, error), want string) {
	t.Helper()
	got, err := read()
	if err != nil {
		t.Fatalf("%s: %v", label, err)
	}
	if !got.Eq(wad(want)) {
		t.Fatalf("%s: got %s want %s", label, agreement.FormatUnits(got, 18), want)
	}
}

func expectDebt(t *testing.T, env *agreementtest.Env, want string) {
	t.Helper()
	expectUSD(t, "debt", env.Agreement.DebtUSD, want)
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func setCap(t *testing.T, env *agreementtest.Env, cap string) {
	t.Helper()
	if err := env.Agreement.SetCollateralCap(env.Roles.Governor, btc(cap)); err != nil {
		t.Fatalf("set cap: %v", err)
	}
}

func TestNewRejectsIncompleteParams(t *testing.T) {
	env := newEnv(t, nil)
	base := agreement.Params{
		Address:     agreementtest.AgreementAddress,
		Roles:       env.Roles,
		Collateral:  env.Options().Collateral,
		Risk:        env.Options().Risk,
		PriceSource: env.Feed,
		Comptroller: env.Comptroller,
		Custodian:   env.Custodian,
	}
	if _, err := agreement.New(base); err != nil {
		t.Fatalf("complete params rejected: %v", err)
	}

	noFeed := base
	noFeed.PriceSource = nil
	if _, err := agreement.New(noFeed); err == nil {
		t.Fatalf("expected error without price source")
	}
	noExecutor := base
	noExecutor.Roles.Executor = common.Address{}
	if _, err := agreement.New(noExecutor); err == nil {
		t.Fatalf("expected error without executor")
	}
	noRisk := base
	noRisk.Risk.CloseFactor = nil
	if _, err := agreement.New(noRisk); err == nil {
		t.Fatalf("expected error without close factor")
	}
}

func TestDebtUSD(t *testing.T) {
	env := newEnv(t, nil)
	env.Market.SetBorrowBalance(agreementtest.AgreementAddress, usdt("5000"))

	expectDebt(t, env, "5000")
	expectUSD(t, "hypothetical debt", func() (*uint256.Int, error) {
		return env.Agreement.HypotheticalDebtUSD(env.Market, usdt("1000"))
	}, "6000")
}

func TestHypotheticalDebtOnUnenteredMarket(t *testing.T) {
	env := newEnv(t, nil)
	env.Market.SetBorrowBalance(agreementtest.AgreementAddress, usdt("5000"))

	other := agreementtest.NewMarket(common.HexToAddress("0xf002"), agreementtest.DebtToken, env.Comptroller, env.Custodian)
	env.Comptroller.SetUnderlyingPrice(other.Address(), wad("1000000000000"))

	expectUSD(t, "hypothetical debt", func() (*uint256.Int, error) {
		return env.Agreement.HypotheticalDebtUSD(other, usdt("1000"))
	}, "6000")
	expectDebt(t, env, "5000")
}

func TestCollateralValuation(t *testing.T) {
	env := fundedEnv(t)
	ag := env.Agreement

	expectUSD(t, "collateral", ag.CollateralUSD, "20000")
	expectUSD(t, "threshold", ag.LiquidationThresholdUSD, "30000")
	expectUSD(t, "hypothetical", func() (*uint256.Int, error) {
		return ag.HypotheticalCollateralUSD(btc("0.5"))
	}, "10000")

	setCap(t, env, "0.5")
	expectUSD(t, "capped collateral", ag.CollateralUSD, "10000")
	expectUSD(t, "capped threshold", ag.LiquidationThresholdUSD, "15000")

	for withdraw, want := range map[string]string{"0.3": "10000", "0.5": "10000", "0.7": "6000"} {
		expectUSD(t, "capped hypothetical "+withdraw, func() (*uint256.Int, error) {
			return ag.HypotheticalCollateralUSD(btc(withdraw))
		}, want)
	}

	if _, err := ag.HypotheticalCollateralUSD(btc("1.1")); !errors.Is(err, agreement.ErrArithmeticUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestCollateralPriceUnavailable(t *testing.T) {
	env := fundedEnv(t)
	env.Feed.Set(agreementtest.CollateralToken, nil)
	if _, err := env.Agreement.CollateralUSD(); !errors.Is(err, agreement.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestBorrow(t *testing.T) {
	env := fundedEnv(t)
	if err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("100")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	expectDebt(t, env, "100")
	held, _ := env.Custodian.BalanceOf(agreementtest.DebtToken)
	if !held.Eq(usdt("100")) {
		t.Fatalf("borrowed tokens not in custody: %s", held.Dec())
	}
}

func TestBorrowFailures(t *testing.T) {
	t.Run("non borrower", func(t *testing.T) {
		env := fundedEnv(t)
		err := env.Agreement.Borrow(agreementtest.StrangerAddress, env.Market, usdt("100"))
		expectErr(t, err, agreement.ErrUnauthorized)
		expectDebt(t, env, "0")
	})
	t.Run("undercollateralized", func(t *testing.T) {
		env := fundedEnv(t)
		err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("20001"))
		expectErr(t, err, agreement.ErrUndercollateralized)
		expectDebt(t, env, "0")
	})
	t.Run("undercollateralized with cap", func(t *testing.T) {
		env := fundedEnv(t)
		setCap(t, env, "0.5")
		err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("10001"))
		expectErr(t, err, agreement.ErrUndercollateralized)
		expectDebt(t, env, "0")
	})
	t.Run("market failure", func(t *testing.T) {
		env := fundedEnv(t)
		env.Market.FailBorrow(errors.New("comptroller rejection"))
		err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("100"))
		expectErr(t, err, agreement.ErrBorrowFailed)
		expectDebt(t, env, "0")
		if len(env.Events.Types()) != 1 {
			t.Fatalf("failed borrow emitted events: %v", env.Events.Types())
		}
	})
}

func TestBorrowMax(t *testing.T) {
	env := fundedEnv(t)
	amount, err := env.Agreement.BorrowMax(env.Roles.Borrower, env.Market)
	if err != nil {
		t.Fatalf("borrow max: %v", err)
	}
	if !amount.Eq(usdt("20000")) {
		t.Fatalf("unexpected amount %s", amount.Dec())
	}
	expectDebt(t, env, "20000")

	capped := fundedEnv(t)
	setCap(t, capped, "0.5")
	if _, err := capped.Agreement.BorrowMax(capped.Roles.Borrower, capped.Market); err != nil {
		t.Fatalf("borrow max: %v", err)
	}
	expectDebt(t, capped, "10000")
}

func TestBorrowMaxRoundsDown(t *testing.T) {
	env := fundedEnv(t)
	if err := env.Feed.SetAnswer(agreementtest.CollateralToken, big.NewInt(3_999_999_999_999), 8); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if _, err := env.Agreement.BorrowMax(env.Roles.Borrower, env.Market); err != nil {
		t.Fatalf("borrow max: %v", err)
	}
	debt, err := env.Agreement.DebtUSD()
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	collateral, err := env.Agreement.CollateralUSD()
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if !debt.Gt(wad("19999")) || !debt.Lt(collateral) {
		t.Fatalf("unexpected debt %s against collateral %s", debt.Dec(), collateral.Dec())
	}
}

func TestBorrowMaxUndercollateralized(t *testing.T) {
	env := fundedEnv(t)
	if _, err := env.Agreement.BorrowMax(env.Roles.Borrower, env.Market); err != nil {
		t.Fatalf("borrow max: %v", err)
	}
	if err := env.Feed.SetAnswer(agreementtest.CollateralToken, big.NewInt(3_999_999_999_999), 8); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	_, err := env.Agreement.BorrowMax(env.Roles.Borrower, env.Market)
	expectErr(t, err, agreement.ErrUndercollateralized)
	expectDebt(t, env, "20000")

	_, err = env.Agreement.BorrowMax(agreementtest.StrangerAddress, env.Market)
	expectErr(t, err, agreement.ErrUnauthorized)
}

func TestRepay(t *testing.T) {
	env := fundedEnv(t)
	if err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("100")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.Agreement.Repay(env.Roles.Borrower, env.Market, usdt("100")); err != nil {
		t.Fatalf("repay: %v", err)
	}
	expectDebt(t, env, "0")
}

func TestRepayFull(t *testing.T) {
	env := fundedEnv(t)
	if err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("100")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	repaid, err := env.Agreement.RepayFull(env.Roles.Borrower, env.Market)
	if err != nil {
		t.Fatalf("repay full: %v", err)
	}
	if !repaid.Eq(usdt("100")) {
		t.Fatalf("unexpected repaid amount %s", repaid.Dec())
	}
	expectDebt(t, env, "0")
}

func TestRepayFailures(t *testing.T) {
	env := fundedEnv(t)
	if err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("100")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	expectErr(t, env.Agreement.Repay(agreementtest.StrangerAddress, env.Market, usdt("100")), agreement.ErrUnauthorized)
	_, err := env.Agreement.RepayFull(agreementtest.StrangerAddress, env.Market)
	expectErr(t, err, agreement.ErrUnauthorized)

	env.Market.FailRepay(errors.New("market paused"))
	expectErr(t, env.Agreement.Repay(env.Roles.Borrower, env.Market, usdt("100")), agreement.ErrRepayFailed)
	expectDebt(t, env, "100")

	env.Market.FailRepay(nil)
	env.Market.FailBalance(errors.New("accrual failed"))
	_, err = env.Agreement.RepayFull(env.Roles.Borrower, env.Market)
	expectErr(t, err, agreement.ErrRepayFailed)
}

func TestWithdraw(t *testing.T) {
	env := fundedEnv(t)
	if err := env.Agreement.Withdraw(env.Roles.Borrower, btc("1")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectUSD(t, "collateral", env.Agreement.CollateralUSD, "0")
	if got := env.Custodian.Received(agreementtest.CollateralToken, env.Roles.Borrower); !got.Eq(btc("1")) {
		t.Fatalf("borrower received %s", got.Dec())
	}
}

func TestWithdrawWithCap(t *testing.T) {
	env := fundedEnv(t)
	setCap(t, env, "0.5")

	if err := env.Agreement.Withdraw(env.Roles.Borrower, btc("0.3")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectUSD(t, "collateral", env.Agreement.CollateralUSD, "10000")
	if got := env.Agreement.CollateralBalance(); !got.Eq(btc("0.7")) {
		t.Fatalf("unexpected balance %s", got.Dec())
	}

	if err := env.Agreement.Withdraw(env.Roles.Borrower, btc("0.3")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectUSD(t, "collateral", env.Agreement.CollateralUSD, "8000")
	held, _ := env.Custodian.BalanceOf(agreementtest.CollateralToken)
	if !held.Eq(btc("0.4")) {
		t.Fatalf("unexpected custody balance %s", held.Dec())
	}
}

func TestWithdrawFailures(t *testing.T) {
	env := fundedEnv(t)
	expectErr(t, env.Agreement.Withdraw(agreementtest.StrangerAddress, btc("1")), agreement.ErrUnauthorized)
	expectUSD(t, "collateral", env.Agreement.CollateralUSD, "20000")

	if err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("100")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	expectErr(t, env.Agreement.Withdraw(env.Roles.Borrower, btc("1")), agreement.ErrUndercollateralized)
	expectUSD(t, "collateral", env.Agreement.CollateralUSD, "20000")

	env.Custodian.FailTransfers(errors.New("frozen"))
	expectErr(t, env.Agreement.Withdraw(env.Roles.Borrower, btc("0.1")), agreement.ErrTransferFailed)
	if got := env.Agreement.CollateralBalance(); !got.Eq(btc("1")) {
		t.Fatalf("balance changed after failed transfer: %s", got.Dec())
	}
}

func TestSeize(t *testing.T) {
	env := fundedEnv(t)
	amount := wad("1")
	env.Custodian.Credit(agreementtest.OtherToken, amount)

	_, err := env.Agreement.Seize(agreementtest.StrangerAddress, agreementtest.OtherToken, amount)
	expectErr(t, err, agreement.ErrUnauthorized)
	_, err = env.Agreement.Seize(env.Roles.Executor, agreementtest.CollateralToken, btc("1"))
	expectErr(t, err, agreement.ErrSeizeCollateralDenied)

	seized, err := env.Agreement.Seize(env.Roles.Executor, agreementtest.OtherToken, amount)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if !seized.Eq(amount) {
		t.Fatalf("unexpected seized amount %s", seized.Dec())
	}
	if got := env.Custodian.Received(agreementtest.OtherToken, env.Roles.Executor); !got.Eq(amount) {
		t.Fatalf("executor received %s", got.Dec())
	}
}

func TestSeizeSweepsWholeBalance(t *testing.T) {
	env := fundedEnv(t)
	env.Custodian.Credit(agreementtest.OtherToken, wad("3.5"))
	seized, err := env.Agreement.Seize(env.Roles.Executor, agreementtest.OtherToken, nil)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if !seized.Eq(wad("3.5")) {
		t.Fatalf("unexpected seized amount %s", seized.Dec())
	}
	left, _ := env.Custodian.BalanceOf(agreementtest.OtherToken)
	if !left.IsZero() {
		t.Fatalf("balance left behind: %s", left.Dec())
	}
}

func TestSeizeEmptyBalanceIsNoop(t *testing.T) {
	env := fundedEnv(t)
	before := len(env.Events.Types())
	seized, err := env.Agreement.Seize(env.Roles.Executor, agreementtest.OtherToken, nil)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if !seized.IsZero() {
		t.Fatalf("unexpected seized amount %s", seized.Dec())
	}
	if got := env.Events.Types(); len(got) != before {
		t.Fatalf("empty sweep emitted events %v", got[before:])
	}
}

func TestDepositRequiresCustody(t *testing.T) {
	env := newEnv(t, nil)
	expectErr(t, env.Agreement.Deposit(btc("1000")), agreement.ErrDepositExceedsCustody)
	if got := env.Agreement.CollateralBalance(); !got.IsZero() {
		t.Fatalf("unbacked deposit recorded %s", got.Dec())
	}
	expectUSD(t, "collateral", env.Agreement.CollateralUSD, "0")
	expectErr(t, env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("1")), agreement.ErrUndercollateralized)

	env.Custodian.Credit(agreementtest.CollateralToken, btc("1"))
	if err := env.Agreement.Deposit(btc("0.6")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	expectErr(t, env.Agreement.Deposit(btc("0.5")), agreement.ErrDepositExceedsCustody)
	if err := env.Agreement.Deposit(btc("0.4")); err != nil {
		t.Fatalf("deposit remainder: %v", err)
	}
	if got := env.Agreement.CollateralBalance(); !got.Eq(btc("1")) {
		t.Fatalf("unexpected balance %s", got.Dec())
	}
}

func TestSetConverter(t *testing.T) {
	env := newEnv(t, nil)
	weth := agreement.Asset{Address: common.HexToAddress("0xe7e7"), Decimals: 18}
	market2 := agreementtest.NewMarket(common.HexToAddress("0xf002"), weth.Address, env.Comptroller, env.Custodian)
	collateral := env.Options().Collateral
	converter2 := agreementtest.NewConverter(collateral, weth, 10, env.Custodian)
	invalid := agreementtest.NewConverter(agreement.Asset{Address: agreementtest.OtherToken, Decimals: 18}, env.Options().Debt, 1, env.Custodian)

	markets := []agreement.LendingMarket{env.Market, market2}
	executor := env.Roles.Executor

	expectErr(t, env.Agreement.SetConverter(agreementtest.StrangerAddress, markets, []agreement.Converter{env.Converter, converter2}), agreement.ErrUnauthorized)
	expectErr(t, env.Agreement.SetConverter(executor, markets, []agreement.Converter{env.Converter}), agreement.ErrLengthMismatch)
	expectErr(t, env.Agreement.SetConverter(executor, markets, []agreement.Converter{env.Converter, nil}), agreement.ErrEmptyConverter)
	expectErr(t, env.Agreement.SetConverter(executor, markets, []agreement.Converter{env.Converter, invalid}), agreement.ErrSourceMismatch)
	expectErr(t, env.Agreement.SetConverter(executor, markets, []agreement.Converter{env.Converter, env.Converter}), agreement.ErrDestinationMismatch)

	// A rejected batch must not register its valid leading pairs.
	if _, ok := env.Agreement.Converter(env.Market.Address()); ok {
		t.Fatalf("converter registered by a failed batch")
	}

	if err := env.Agreement.SetConverter(executor, markets, []agreement.Converter{env.Converter, converter2}); err != nil {
		t.Fatalf("set converter: %v", err)
	}
	if conv, ok := env.Agreement.Converter(env.Market.Address()); !ok || conv != agreement.Converter(env.Converter) {
		t.Fatalf("converter not registered for first market")
	}
	if conv, ok := env.Agreement.Converter(market2.Address()); !ok || conv != agreement.Converter(converter2) {
		t.Fatalf("converter not registered for second market")
	}
	types := env.Events.Types()
	if len(types) != 2 || types[0] != events.TypeAgreementConverterSet {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestGovernorControls(t *testing.T) {
	env := fundedEnv(t)
	feed := pricefeed.NewStaticFeed("replacement")
	feed.Set(agreementtest.CollateralToken, wad("30000"))

	expectErr(t, env.Agreement.SetPriceSource(agreementtest.StrangerAddress, feed), agreement.ErrUnauthorized)
	if err := env.Agreement.SetPriceSource(env.Roles.Governor, feed); err != nil {
		t.Fatalf("set price source: %v", err)
	}
	if env.Agreement.PriceSource() != agreement.PriceSource(feed) {
		t.Fatalf("price source not replaced")
	}
	expectUSD(t, "collateral", env.Agreement.CollateralUSD, "15000")

	expectErr(t, env.Agreement.SetCollateralCap(agreementtest.StrangerAddress, btc("0.5")), agreement.ErrUnauthorized)
	expectErr(t, env.Agreement.SetCollateralCap(env.Roles.Executor, btc("0.5")), agreement.ErrUnauthorized)
	setCap(t, env, "0.5")
	if got := env.Agreement.CollateralCap(); !got.Eq(btc("0.5")) {
		t.Fatalf("unexpected cap %s", got.Dec())
	}
}

func TestCommittedEvents(t *testing.T) {
	env := fundedEnv(t)
	if err := env.Agreement.Borrow(env.Roles.Borrower, env.Market, usdt("100")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.Agreement.Repay(env.Roles.Borrower, env.Market, usdt("40")); err != nil {
		t.Fatalf("repay: %v", err)
	}
	want := []string{events.TypeAgreementDeposited, events.TypeAgreementBorrowed, events.TypeAgreementRepaid}
	got := env.Events.Types()
	if len(got) != len(want) {
		t.Fatalf("unexpected events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, got[i], want[i])
		}
	}
	borrowed, ok := env.Events.Events()[1].(events.AgreementBorrowed)
	if !ok {
		t.Fatalf("unexpected event payload %T", env.Events.Events()[1])
	}
	attrs := borrowed.Event().Attributes
	if attrs["amount"] != "100000000" || attrs["market"] != agreementtest.MarketAddress.Hex() {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}
