package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"
)

var (
	errMissingOperator = errors.New("config: controller operator required")
	errInvalidAmount   = errors.New("config: invalid amount")
)

// Storage engines accepted by StorageEngine.
const (
	StorageLevelDB = "leveldb"
	StorageBolt    = "bolt"
)

// NormalizeName folds a protocol or engine name from a config file or the
// environment: NFKC, lower case, trimmed.
func NormalizeName(raw string) string {
	return norm.NFKC.String(strings.ToLower(strings.TrimSpace(raw)))
}

var protocolKinds = map[string]struct{}{
	"aave-v2":  {},
	"aave-v3":  {},
	"compound": {},
}

// Validate checks the configuration before any component is built.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return fmt.Errorf("config: service name required")
	}
	switch NormalizeName(c.StorageEngine) {
	case "", StorageLevelDB, StorageBolt:
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.StorageEngine)
	}
	if !common.IsHexAddress(c.PoolAddress) {
		return fmt.Errorf("config: invalid pool address %q", c.PoolAddress)
	}
	if err := c.Controller.validate(); err != nil {
		return err
	}
	if _, err := parseAmount(c.Position.RoundingTolerance); err != nil {
		return fmt.Errorf("position: rounding tolerance: %w", err)
	}
	if c.Position.BlocksPerYear == 0 {
		return fmt.Errorf("position: blocks per year must be positive")
	}
	if c.Gateway.RatePerSecond < 0 || c.Gateway.RateBurst < 0 {
		return fmt.Errorf("gateway: rate limits must not be negative")
	}
	seen := make(map[common.Address]struct{}, len(c.Markets))
	for i := range c.Markets {
		cfg, err := c.Markets[i].AssetConfig()
		if err != nil {
			return err
		}
		if _, dup := seen[cfg.Asset]; dup {
			return fmt.Errorf("markets[%d]: duplicate asset %s", i, cfg.Asset.Hex())
		}
		seen[cfg.Asset] = struct{}{}
	}
	origins := make(map[common.Address]struct{}, len(c.Converters))
	for i, conv := range c.Converters {
		if !common.IsHexAddress(conv.Address) {
			return fmt.Errorf("converters[%d]: invalid address %q", i, conv.Address)
		}
		if _, ok := protocolKinds[NormalizeName(conv.Protocol)]; !ok {
			return fmt.Errorf("converters[%d]: unknown protocol %q", i, conv.Protocol)
		}
		addr := common.HexToAddress(conv.Address)
		if _, dup := origins[addr]; dup {
			return fmt.Errorf("converters[%d]: duplicate address %s", i, addr.Hex())
		}
		origins[addr] = struct{}{}
	}
	return nil
}

func (c Controller) validate() error {
	if strings.TrimSpace(c.Operator) == "" {
		return errMissingOperator
	}
	if !common.IsHexAddress(c.Operator) || common.HexToAddress(c.Operator) == (common.Address{}) {
		return fmt.Errorf("config: invalid controller operator %q", c.Operator)
	}
	if c.MinHealthFactor <= 100 {
		return fmt.Errorf("controller: min health factor must exceed 100")
	}
	if c.MinHealthFactor > c.TargetHealthFactor || c.TargetHealthFactor > c.MaxHealthFactor {
		return fmt.Errorf("controller: health factors must satisfy min <= target <= max")
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", errInvalidAmount, raw)
	}
	return value, nil
}
