package fuzz

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"ibagreement/native/agreement"
	"ibagreement/native/agreement/agreementtest"
)

// fuzzEnv builds an agreement holding balance raw collateral units under capacity
// at price whole dollars.
func fuzzEnv(t *testing.T, balance, capacity, price uint64) *agreementtest.Env {
	t.Helper()
	opts := agreementtest.DefaultOptions()
	opts.CollateralCap = uint256.NewInt(capacity)
	opts.CollateralPrice = new(uint256.Int).Mul(uint256.NewInt(price), agreement.WAD())
	opts.ConverterRate = price
	env, err := agreementtest.NewEnv(opts)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if balance > 0 {
		if err := env.Fund(uint256.NewInt(balance)); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	return env
}

func FuzzHypotheticalCollateralMonotonic(f *testing.F) {
	f.Add(uint64(100_000_000), uint64(100_000_000), uint64(40_000), uint64(0), uint64(50_000_000))
	f.Add(uint64(200_000_000), uint64(80_000_000), uint64(33_000), uint64(10), uint64(150_000_000))
	f.Add(uint64(1), uint64(0), uint64(1), uint64(0), uint64(1))

	f.Fuzz(func(t *testing.T, balance, capacity, price, first, second uint64) {
		balance %= 1 << 50
		price = price%1_000_000 + 1
		env := fuzzEnv(t, balance, capacity, price)
		ag := env.Agreement

		current, err := ag.CollateralUSD()
		if err != nil {
			t.Fatalf("collateral: %v", err)
		}
		atZero, err := ag.HypotheticalCollateralUSD(new(uint256.Int))
		if err != nil {
			t.Fatalf("hypothetical(0): %v", err)
		}
		if !atZero.Eq(current) {
			t.Fatalf("hypothetical(0)=%s, current=%s", atZero.Dec(), current.Dec())
		}

		if first > second {
			first, second = second, first
		}
		if second > balance {
			_, err := ag.HypotheticalCollateralUSD(uint256.NewInt(second))
			if !errors.Is(err, agreement.ErrArithmeticUnderflow) {
				t.Fatalf("withdrawing %d of %d: expected underflow, got %v", second, balance, err)
			}
			return
		}
		less, err := ag.HypotheticalCollateralUSD(uint256.NewInt(first))
		if err != nil {
			t.Fatalf("hypothetical(%d): %v", first, err)
		}
		more, err := ag.HypotheticalCollateralUSD(uint256.NewInt(second))
		if err != nil {
			t.Fatalf("hypothetical(%d): %v", second, err)
		}
		if more.Gt(less) || less.Gt(current) {
			t.Fatalf("not monotonic: current=%s w%d=%s w%d=%s", current.Dec(), first, less.Dec(), second, more.Dec())
		}
	})
}

func FuzzBorrowMaxNeverOvershoots(f *testing.F) {
	f.Add(uint64(100_000_000), uint64(40_000), uint64(0))
	f.Add(uint64(123_456_789), uint64(26_666), uint64(5_000_000_000))
	f.Add(uint64(1), uint64(7), uint64(0))

	f.Fuzz(func(t *testing.T, balance, price, existing uint64) {
		balance %= 1 << 40
		price = price%1_000_000 + 1
		env := fuzzEnv(t, balance, 0, price)
		ag := env.Agreement
		borrower := env.Roles.Borrower

		if existing > 0 {
			if err := ag.Borrow(borrower, env.Market, uint256.NewInt(existing)); err != nil && !errors.Is(err, agreement.ErrUndercollateralized) {
				t.Fatalf("borrow %d: %v", existing, err)
			}
		}
		amount, err := ag.BorrowMax(borrower, env.Market)
		if err != nil {
			t.Fatalf("borrowMax: %v", err)
		}
		collateral, err := ag.CollateralUSD()
		if err != nil {
			t.Fatalf("collateral: %v", err)
		}
		debt, err := ag.DebtUSD()
		if err != nil {
			t.Fatalf("debt: %v", err)
		}
		if debt.Gt(collateral) {
			t.Fatalf("borrowMax(%s) overshot: debt %s > collateral %s", amount.Dec(), debt.Dec(), collateral.Dec())
		}
		// One more raw unit is worth 1e12 at a $1 six-decimal price, which the
		// floored remainder can never cover.
		if err := ag.Borrow(borrower, env.Market, uint256.NewInt(1)); !errors.Is(err, agreement.ErrUndercollateralized) {
			t.Fatalf("borrow after borrowMax: expected undercollateralized, got %v", err)
		}
	})
}

func FuzzLiquidationRespectsCloseFactor(f *testing.F) {
	f.Add(uint64(100_000_000), uint64(100_000_000), uint64(50_000_000))
	f.Add(uint64(200_000_000), uint64(80_000_000), uint64(40_000_001))
	f.Add(uint64(100_000_000), uint64(0), uint64(0))

	f.Fuzz(func(t *testing.T, balance, capacity, amount uint64) {
		balance = balance%(1<<40) + 100_000_000
		if capacity != 0 {
			capacity = capacity%(1<<40) + 100_000_000
		}
		env := fuzzEnv(t, balance, capacity, 40_000)
		ag := env.Agreement
		if err := ag.Borrow(env.Roles.Borrower, env.Market, uint256.NewInt(1_000_000)); err != nil {
			t.Fatalf("borrow: %v", err)
		}
		// Push the position underwater with a near-zero price.
		env.Feed.Set(env.Options().Collateral.Address, uint256.NewInt(1))
		env.Converter.SetRate(1)
		if err := env.RegisterConverter(); err != nil {
			t.Fatalf("register converter: %v", err)
		}

		bound, err := ag.MaxLiquidatableCollateral()
		if err != nil {
			t.Fatalf("bound: %v", err)
		}
		before := ag.CollateralBalance()
		_, err = ag.LiquidateWithExactCollateralAmount(env.Roles.Executor, env.Market, uint256.NewInt(amount), new(uint256.Int))
		if uint256.NewInt(amount).Gt(bound) {
			if !errors.Is(err, agreement.ErrLiquidateTooMuch) {
				t.Fatalf("amount %d above bound %s: got %v", amount, bound.Dec(), err)
			}
			if !ag.CollateralBalance().Eq(before) {
				t.Fatalf("rejected liquidation moved the balance")
			}
			return
		}
		if err != nil {
			// The converter may return more debt than owed at this rate; the
			// market then refuses the repayment and nothing may change.
			if !errors.Is(err, agreement.ErrRepayFailed) {
				t.Fatalf("liquidate %d: %v", amount, err)
			}
			if !ag.CollateralBalance().Eq(before) {
				t.Fatalf("failed liquidation moved the balance")
			}
			return
		}
		want := new(uint256.Int).Sub(before, uint256.NewInt(amount))
		if !ag.CollateralBalance().Eq(want) {
			t.Fatalf("balance %s, want %s", ag.CollateralBalance().Dec(), want.Dec())
		}
	})
}
