// Package scenario builds a hosted agreement from configuration over
// in-memory collaborators and drives it through scripted steps.
package scenario

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"ibagreement/config"
	"ibagreement/native/agreement"
	"ibagreement/native/agreement/agreementtest"
	"ibagreement/native/agreement/pricefeed"
	"ibagreement/observability"
	"ibagreement/services/agreement/host"
	"ibagreement/storage"
)

// BuildOptions carries the ambient dependencies handed to the host.
type BuildOptions struct {
	Logger  *slog.Logger
	Metrics *observability.AgreementMetrics
	Tracer  trace.Tracer
	// JournalPath overrides the configured LevelDB path when non-empty.
	JournalPath string
}

// World is a configured agreement with every collaborator it talks to.
type World struct {
	Config      *config.Config
	Host        *host.Host
	Agreement   *agreement.Agreement
	Roles       agreement.Roles
	Feed        *pricefeed.StaticFeed
	Comptroller *agreementtest.Comptroller
	Custodian   *agreementtest.Custodian
	Markets     map[common.Address]*agreementtest.Market
	Converters  map[common.Address]*agreementtest.Converter
	// MarketOrder preserves the configuration order of Markets.
	MarketOrder []common.Address

	db storage.Database
}

// Build wires cfg into a World. Converters are created for every market with
// a non-zero rate but are not registered with the agreement.
func Build(cfg *config.Config, opts BuildOptions) (*World, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scenario: config required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	risk, err := cfg.RiskParameters()
	if err != nil {
		return nil, err
	}
	capacity, err := cfg.CollateralCap()
	if err != nil {
		return nil, fmt.Errorf("collateral cap: %w", err)
	}
	price, err := cfg.CollateralPrice()
	if err != nil {
		return nil, fmt.Errorf("collateral price: %w", err)
	}

	collateral := cfg.CollateralAsset()
	custodian := agreementtest.NewCustodian()
	comptroller := agreementtest.NewComptroller()
	feed := pricefeed.NewStaticFeed(strings.ToLower(collateral.Address.Hex()))
	feed.Set(collateral.Address, price)

	w := &World{
		Config:      cfg,
		Roles:       cfg.RoleBinding(),
		Feed:        feed,
		Comptroller: comptroller,
		Custodian:   custodian,
		Markets:     make(map[common.Address]*agreementtest.Market, len(cfg.Markets)),
		Converters:  make(map[common.Address]*agreementtest.Converter, len(cfg.Markets)),
	}
	markets := make([]agreement.LendingMarket, 0, len(cfg.Markets))
	for _, mc := range cfg.Markets {
		oracle, err := mc.OraclePrice()
		if err != nil {
			return nil, err
		}
		addr := mc.MarketAddress()
		underlying := mc.UnderlyingAsset()
		market := agreementtest.NewMarket(addr, underlying.Address, comptroller, custodian)
		comptroller.SetUnderlyingPrice(addr, oracle)
		w.Markets[addr] = market
		w.MarketOrder = append(w.MarketOrder, addr)
		markets = append(markets, market)
		if mc.ConverterRate > 0 {
			w.Converters[addr] = agreementtest.NewConverter(collateral, underlying, mc.ConverterRate, custodian)
		}
	}

	ag, err := agreement.New(agreement.Params{
		Address:       cfg.AgreementAddress(),
		Roles:         w.Roles,
		Collateral:    collateral,
		Risk:          risk,
		CollateralCap: capacity,
		PriceSource:   feed,
		Comptroller:   comptroller,
		Custodian:     custodian,
	})
	if err != nil {
		return nil, err
	}
	w.Agreement = ag

	db, err := openJournal(cfg.Journal, opts.JournalPath)
	if err != nil {
		return nil, err
	}
	w.db = db
	journal, err := host.NewJournal(db, ag.Address(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	w.Host, err = host.New(ag, host.Options{
		Logger:  logger,
		Metrics: opts.Metrics,
		Tracer:  opts.Tracer,
		Journal: journal,
		Markets: markets,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// openJournal selects the journal database. A path override always means
// LevelDB.
func openJournal(cfg config.Journal, override string) (storage.Database, error) {
	backend, path := cfg.Backend, cfg.Path
	if override != "" {
		backend, path = config.JournalLevelDB, override
	}
	switch backend {
	case config.JournalLevelDB:
		db, err := storage.NewLevelDB(path)
		if err != nil {
			return nil, fmt.Errorf("open journal %s: %w", path, err)
		}
		return db, nil
	case config.JournalMemory, "":
		return storage.NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", backend)
	}
}

// Close releases the journal database.
func (w *World) Close() {
	if w != nil && w.db != nil {
		w.db.Close()
	}
}

// Market returns the market at addr.
func (w *World) Market(addr common.Address) (*agreementtest.Market, error) {
	m, ok := w.Markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrUnknownMarket, addr.Hex())
	}
	return m, nil
}

// MarketConfig returns the configuration entry for addr.
func (w *World) MarketConfig(addr common.Address) (config.Market, error) {
	for _, mc := range w.Config.Markets {
		if mc.MarketAddress() == addr {
			return mc, nil
		}
	}
	return config.Market{}, fmt.Errorf("%w: %s", host.ErrUnknownMarket, addr.Hex())
}

// DefaultMarket returns the first configured market.
func (w *World) DefaultMarket() (common.Address, error) {
	if len(w.MarketOrder) == 0 {
		return common.Address{}, fmt.Errorf("scenario: no markets configured")
	}
	return w.MarketOrder[0], nil
}
