package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"ibagreement/native/agreement"
)

// maxDecimals keeps 10^(36-decimals) oracle scaling non-negative.
const maxDecimals = 36

var one = decimal.NewFromInt(1)

// Validate checks the configuration for values the agreement would reject or
// silently misprice.
func (c *Config) Validate() error {
	if _, err := parseAddress("Agreement", c.Agreement); err != nil {
		return err
	}
	if err := c.validateRoles(); err != nil {
		return err
	}
	if err := c.validateCollateral(); err != nil {
		return err
	}
	if err := c.validateRisk(); err != nil {
		return err
	}
	if err := c.validateMarkets(); err != nil {
		return err
	}
	switch c.Journal.Backend {
	case JournalMemory:
	case JournalLevelDB:
		if strings.TrimSpace(c.Journal.Path) == "" {
			return fmt.Errorf("journal: leveldb backend requires Path")
		}
	default:
		return fmt.Errorf("journal: unknown backend %q", c.Journal.Backend)
	}
	return nil
}

func (c *Config) validateRoles() error {
	roles := []struct{ name, value string }{
		{"Roles.Borrower", c.Roles.Borrower},
		{"Roles.Executor", c.Roles.Executor},
		{"Roles.Governor", c.Roles.Governor},
	}
	seen := make(map[common.Address]string, len(roles))
	for _, role := range roles {
		addr, err := parseAddress(role.name, role.value)
		if err != nil {
			return err
		}
		if other, dup := seen[addr]; dup {
			return fmt.Errorf("roles: %s and %s share %s", other, role.name, addr.Hex())
		}
		seen[addr] = role.name
	}
	return nil
}

func (c *Config) validateCollateral() error {
	if _, err := parseAddress("Collateral.Address", c.Collateral.Address); err != nil {
		return err
	}
	if c.Collateral.Decimals > maxDecimals {
		return fmt.Errorf("collateral: decimals %d exceed %d", c.Collateral.Decimals, maxDecimals)
	}
	if _, err := c.CollateralCap(); err != nil {
		return fmt.Errorf("collateral: invalid Cap: %w", err)
	}
	price, err := c.CollateralPrice()
	if err != nil {
		return fmt.Errorf("collateral: invalid Price: %w", err)
	}
	if price.IsZero() {
		return fmt.Errorf("collateral: Price must be positive")
	}
	return nil
}

func (c *Config) validateRisk() error {
	risk, err := c.RiskParameters()
	if err != nil {
		return err
	}
	if risk.LiquidationFactor.Lt(risk.CollateralFactor) {
		return fmt.Errorf("risk: LiquidationFactor below CollateralFactor")
	}
	return nil
}

func (c *Config) validateMarkets() error {
	seen := make(map[common.Address]struct{}, len(c.Markets))
	for i, m := range c.Markets {
		label := fmt.Sprintf("Markets[%d]", i)
		addr, err := parseAddress(label+".Address", m.Address)
		if err != nil {
			return err
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("%s: duplicate market %s", label, addr.Hex())
		}
		seen[addr] = struct{}{}
		if _, err := parseAddress(label+".Underlying", m.Underlying); err != nil {
			return err
		}
		price, err := m.OraclePrice()
		if err != nil {
			return fmt.Errorf("%s: invalid Price: %w", label, err)
		}
		if price.IsZero() {
			return fmt.Errorf("%s: Price must be positive", label)
		}
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// parseRatio accepts a decimal within [0, 1] and returns it in 1e18 fixed-point.
func parseRatio(field, value string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("risk: invalid %s %q", field, value)
	}
	if d.IsNegative() || d.GreaterThan(one) {
		return nil, fmt.Errorf("risk: %s %s outside [0, 1]", field, d.String())
	}
	return agreement.ParseUnits(d.String(), 18)
}
