package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ibagreement/native/agreement"
	"ibagreement/observability/logging"
)

const (
	JournalMemory  = "memory"
	JournalLevelDB = "leveldb"
)

// Config is the TOML configuration of one hosted agreement.
type Config struct {
	Service        string `toml:"Service"`
	Environment    string `toml:"Environment"`
	LogLevel       string `toml:"LogLevel"`
	MetricsAddress string `toml:"MetricsAddress"`
	Agreement      string `toml:"Agreement"`

	Roles      Roles      `toml:"Roles"`
	Collateral Collateral `toml:"Collateral"`
	Risk       Risk       `toml:"Risk"`
	Markets    []Market   `toml:"Markets"`
	Journal    Journal    `toml:"Journal"`
	Telemetry  Telemetry  `toml:"Telemetry"`
}

// Load reads the configuration at path. A missing file is created with the
// defaults so a fresh checkout has something to edit. Unknown keys are
// rejected so typos in risk parameters do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a single-market configuration: an 8-decimal collateral
// worth $40,000 backing a 6-decimal dollar debt.
func Default() *Config {
	return &Config{
		Service:     "agreementd",
		Environment: "local",
		LogLevel:    "info",
		Agreement:   "0x00000000000000000000000000000000000a9001",
		Roles: Roles{
			Borrower: "0x00000000000000000000000000000000000b0002",
			Executor: "0x00000000000000000000000000000000000e0003",
			Governor: "0x0000000000000000000000000000000000090004",
		},
		Collateral: Collateral{
			Address:  "0x00000000000000000000000000000000000c0b7c",
			Decimals: 8,
			Cap:      "1",
			Price:    "40000",
		},
		Risk: Risk{
			CollateralFactor:  "0.5",
			LiquidationFactor: "0.75",
			CloseFactor:       "0.5",
		},
		Markets: []Market{{
			Address:       "0x00000000000000000000000000000000000f0001",
			Underlying:    "0x00000000000000000000000000000000000d05d7",
			Decimals:      6,
			Price:         "1",
			ConverterRate: 40000,
		}},
		Journal: Journal{Backend: JournalMemory},
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Service) == "" {
		c.Service = "agreementd"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if strings.TrimSpace(c.Journal.Backend) == "" {
		c.Journal.Backend = JournalMemory
	}
}

// Sanitized returns a copy safe to log: exporter headers are masked.
func (c Config) Sanitized() Config {
	out := c
	out.Markets = append([]Market(nil), c.Markets...)
	out.Telemetry.Headers = logging.MaskHeaders(c.Telemetry.Headers)
	return out
}

// AgreementAddress returns the identity the position borrows under.
func (c *Config) AgreementAddress() common.Address { return common.HexToAddress(c.Agreement) }

// RoleBinding converts the configured role addresses.
func (c *Config) RoleBinding() agreement.Roles {
	return agreement.Roles{
		Borrower: common.HexToAddress(c.Roles.Borrower),
		Executor: common.HexToAddress(c.Roles.Executor),
		Governor: common.HexToAddress(c.Roles.Governor),
	}
}

// CollateralAsset returns the collateral token with its decimals.
func (c *Config) CollateralAsset() agreement.Asset {
	return agreement.Asset{Address: common.HexToAddress(c.Collateral.Address), Decimals: c.Collateral.Decimals}
}

// CollateralCap returns the cap in raw collateral units.
func (c *Config) CollateralCap() (*uint256.Int, error) {
	if strings.TrimSpace(c.Collateral.Cap) == "" {
		return new(uint256.Int), nil
	}
	return agreement.ParseUnits(c.Collateral.Cap, c.Collateral.Decimals)
}

// CollateralPrice returns the seeded collateral price in 1e18 fixed-point.
func (c *Config) CollateralPrice() (*uint256.Int, error) {
	return agreement.ParseUnits(c.Collateral.Price, 18)
}

// RiskParameters converts the decimal ratios into 1e18 fixed-point.
func (c *Config) RiskParameters() (agreement.RiskParameters, error) {
	cf, err := parseRatio("CollateralFactor", c.Risk.CollateralFactor)
	if err != nil {
		return agreement.RiskParameters{}, err
	}
	lf, err := parseRatio("LiquidationFactor", c.Risk.LiquidationFactor)
	if err != nil {
		return agreement.RiskParameters{}, err
	}
	closeFactor, err := parseRatio("CloseFactor", c.Risk.CloseFactor)
	if err != nil {
		return agreement.RiskParameters{}, err
	}
	return agreement.RiskParameters{CollateralFactor: cf, LiquidationFactor: lf, CloseFactor: closeFactor}, nil
}

// MarketAddress returns the market identity.
func (m Market) MarketAddress() common.Address { return common.HexToAddress(m.Address) }

// UnderlyingAsset returns the debt token with its decimals.
func (m Market) UnderlyingAsset() agreement.Asset {
	return agreement.Asset{Address: common.HexToAddress(m.Underlying), Decimals: m.Decimals}
}

// OraclePrice returns the market's pre-scaled oracle price: the USD price of
// one whole unit times 10^(36-decimals), so that balance*price/1e18 is a 1e18
// USD value.
func (m Market) OraclePrice() (*uint256.Int, error) {
	if m.Decimals > maxDecimals {
		return nil, fmt.Errorf("market %s: decimals %d exceed %d", m.Address, m.Decimals, maxDecimals)
	}
	return agreement.ParseUnits(m.Price, 36-m.Decimals)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
