// Package host serialises access to one agreement and surrounds every call
// with logging, metrics, tracing and journaling.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ibagreement/core/events"
	"ibagreement/native/agreement"
	"ibagreement/observability"
)

const tracerName = "ibagreement/services/agreement"

// ErrUnknownMarket is returned when an operation names a market the host was
// not configured with.
var ErrUnknownMarket = errors.New("host: unknown market")

// Options configures a Host. Zero values fall back to slog.Default, the
// process-wide metrics and the global tracer provider.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.AgreementMetrics
	Tracer  trace.Tracer
	Journal *Journal
	// Emitters receive every committed event alongside the journal.
	Emitters []events.Emitter
	Markets  []agreement.LendingMarket
}

// Host owns one agreement. Every operation and read runs under a single
// mutex, so a check and the write that depends on it are never interleaved
// with another call.
type Host struct {
	mu        sync.Mutex
	agreement *agreement.Agreement
	markets   map[common.Address]agreement.LendingMarket
	journal   *Journal
	logger    *slog.Logger
	metrics   *observability.AgreementMetrics
	tracer    trace.Tracer
	label     string
}

// New wraps ag. The agreement's emitter and logger are replaced by the host's.
func New(ag *agreement.Agreement, opts Options) (*Host, error) {
	if ag == nil {
		return nil, fmt.Errorf("host: agreement required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.Agreement()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	label := ag.Address().Hex()
	logger = logger.With(slog.String("component", "agreement-host"), slog.String("agreement", label))

	h := &Host{
		agreement: ag,
		markets:   make(map[common.Address]agreement.LendingMarket, len(opts.Markets)),
		journal:   opts.Journal,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		label:     label,
	}
	for _, m := range opts.Markets {
		if err := h.addMarket(m); err != nil {
			return nil, err
		}
	}

	emitters := events.Fanout{}
	if opts.Journal != nil {
		emitters = append(emitters, opts.Journal)
	}
	emitters = append(emitters, opts.Emitters...)
	ag.SetEmitter(emitters)
	ag.SetLogger(logger)
	return h, nil
}

// AddMarket makes a market addressable by the host's operations.
func (h *Host) AddMarket(m agreement.LendingMarket) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addMarket(m)
}

func (h *Host) addMarket(m agreement.LendingMarket) error {
	if m == nil {
		return agreement.ErrNilMarket
	}
	if _, dup := h.markets[m.Address()]; dup {
		return fmt.Errorf("host: market %s already registered", m.Address().Hex())
	}
	h.markets[m.Address()] = m
	return nil
}

// Journal returns the journal the host writes to, if any.
func (h *Host) Journal() *Journal { return h.journal }

func (h *Host) market(addr common.Address) (agreement.LendingMarket, error) {
	m, ok := h.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, addr.Hex())
	}
	return m, nil
}

// run executes fn under the lock inside a span and records its outcome.
func (h *Host) run(ctx context.Context, operation string, caller common.Address, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := h.tracer.Start(ctx, "agreement."+operation, trace.WithAttributes(
		attribute.String("agreement.address", h.label),
		attribute.String("agreement.caller", caller.Hex()),
	))
	defer span.End()

	start := time.Now()
	h.mu.Lock()
	err := fn()
	if err == nil {
		h.refreshValuation(ctx)
	}
	h.mu.Unlock()
	elapsed := time.Since(start)

	h.metrics.Observe(operation, elapsed, err)
	attrs := []any{
		slog.String("operation", operation),
		slog.String("caller", caller.Hex()),
		slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, observability.ErrorKind(err))
		h.logger.InfoContext(ctx, "agreement operation rejected", append(attrs,
			slog.String("kind", observability.ErrorKind(err)),
			slog.Any("error", err))...)
		return err
	}
	span.SetStatus(codes.Ok, "")
	h.logger.InfoContext(ctx, "agreement operation committed", attrs...)
	return nil
}

// refreshValuation publishes the current valuation gauges. Valuation failures
// are only logged: the operation itself already succeeded.
func (h *Host) refreshValuation(ctx context.Context) {
	snap, err := h.snapshotLocked()
	if err != nil {
		h.logger.DebugContext(ctx, "valuation unavailable", slog.Any("error", err))
		return
	}
	h.metrics.RecordValuation(h.label, snap.CollateralUSD, snap.LiquidationThresholdUSD, snap.DebtUSD, snap.Liquidatable)
}

// Deposit credits collateral already moved into custody.
func (h *Host) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return h.run(ctx, "deposit", caller, func() error {
		return h.agreement.Deposit(amount)
	})
}

// Borrow draws amount from the market at addr.
func (h *Host) Borrow(ctx context.Context, caller, market common.Address, amount *uint256.Int) error {
	return h.run(ctx, "borrow", caller, func() error {
		m, err := h.market(market)
		if err != nil {
			return err
		}
		return h.agreement.Borrow(caller, m, amount)
	})
}

// BorrowMax borrows all spare borrowing power from the market at addr.
func (h *Host) BorrowMax(ctx context.Context, caller, market common.Address) (*uint256.Int, error) {
	var amount *uint256.Int
	err := h.run(ctx, "borrowMax", caller, func() error {
		m, err := h.market(market)
		if err != nil {
			return err
		}
		amount, err = h.agreement.BorrowMax(caller, m)
		return err
	})
	return amount, err
}

// Repay repays amount to the market at addr.
func (h *Host) Repay(ctx context.Context, caller, market common.Address, amount *uint256.Int) error {
	return h.run(ctx, "repay", caller, func() error {
		m, err := h.market(market)
		if err != nil {
			return err
		}
		return h.agreement.Repay(caller, m, amount)
	})
}

// RepayFull repays the whole balance owed to the market at addr.
func (h *Host) RepayFull(ctx context.Context, caller, market common.Address) (*uint256.Int, error) {
	var amount *uint256.Int
	err := h.run(ctx, "repayFull", caller, func() error {
		m, err := h.market(market)
		if err != nil {
			return err
		}
		amount, err = h.agreement.RepayFull(caller, m)
		return err
	})
	return amount, err
}

// Withdraw releases collateral to the borrower.
func (h *Host) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return h.run(ctx, "withdraw", caller, func() error {
		return h.agreement.Withdraw(caller, amount)
	})
}

// Seize sweeps a non-collateral token to the executor; nil amount sweeps all.
func (h *Host) Seize(ctx context.Context, caller, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var seized *uint256.Int
	err := h.run(ctx, "seize", caller, func() error {
		var err error
		seized, err = h.agreement.Seize(caller, asset, amount)
		return err
	})
	return seized, err
}

// SetConverter registers converters for the markets at the given addresses.
func (h *Host) SetConverter(ctx context.Context, caller common.Address, markets []common.Address, converters []agreement.Converter) error {
	return h.run(ctx, "setConverter", caller, func() error {
		resolved := make([]agreement.LendingMarket, 0, len(markets))
		for _, addr := range markets {
			m, err := h.market(addr)
			if err != nil {
				return err
			}
			resolved = append(resolved, m)
		}
		return h.agreement.SetConverter(caller, resolved, converters)
	})
}

// SetPriceSource swaps the collateral price source.
func (h *Host) SetPriceSource(ctx context.Context, caller common.Address, source agreement.PriceSource) error {
	return h.run(ctx, "setPriceSource", caller, func() error {
		return h.agreement.SetPriceSource(caller, source)
	})
}

// SetCollateralCap changes the collateral cap.
func (h *Host) SetCollateralCap(ctx context.Context, caller common.Address, cap *uint256.Int) error {
	return h.run(ctx, "setCollateralCap", caller, func() error {
		return h.agreement.SetCollateralCap(caller, cap)
	})
}

// LiquidateWithExactCollateralAmount runs an exact-in liquidation against the
// market at addr and returns the debt repaid.
func (h *Host) LiquidateWithExactCollateralAmount(ctx context.Context, caller, market common.Address, collateralAmount, minRepay *uint256.Int) (*uint256.Int, error) {
	var repaid *uint256.Int
	err := h.run(ctx, "liquidateExactCollateral", caller, func() error {
		m, err := h.market(market)
		if err != nil {
			return err
		}
		repaid, err = h.agreement.LiquidateWithExactCollateralAmount(caller, m, collateralAmount, minRepay)
		return err
	})
	if err == nil {
		h.metrics.RecordLiquidation(events.LiquidationModeExactCollateral)
	}
	return repaid, err
}

// LiquidateForExactRepayAmount runs an exact-out liquidation against the
// market at addr and returns the collateral consumed.
func (h *Host) LiquidateForExactRepayAmount(ctx context.Context, caller, market common.Address, repayAmount, maxCollateralIn *uint256.Int) (*uint256.Int, error) {
	var used *uint256.Int
	err := h.run(ctx, "liquidateExactRepay", caller, func() error {
		m, err := h.market(market)
		if err != nil {
			return err
		}
		used, err = h.agreement.LiquidateForExactRepayAmount(caller, m, repayAmount, maxCollateralIn)
		return err
	})
	if err == nil {
		h.metrics.RecordLiquidation(events.LiquidationModeExactRepay)
	}
	return used, err
}

// View runs fn with exclusive access to the agreement for reads that the host
// does not wrap.
func (h *Host) View(fn func(*agreement.Agreement) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.agreement)
}
