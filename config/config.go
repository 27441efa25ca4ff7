package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lendkeeper/native/lending"
	"lendkeeper/native/position"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LENDKEEPER_"

// Load reads the configuration at path over Defaults(). Files ending in .yaml
// or .yml are decoded as YAML, everything else as TOML. A .env file in the
// working directory is loaded when present and LENDKEEPER_* variables are
// applied last. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	setStr(&cfg.Service, "SERVICE")
	setStr(&cfg.Environment, "ENVIRONMENT")
	setStr(&cfg.DataDir, "DATA_DIR")
	setStr(&cfg.StorageEngine, "STORAGE_ENGINE")
	setStr(&cfg.PoolAddress, "POOL_ADDRESS")

	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.File, "LOG_FILE")

	setStr(&cfg.Telemetry.Endpoint, "OTEL_ENDPOINT")
	setStr(&cfg.Telemetry.Headers, "OTEL_HEADERS")
	if err := setBool(&cfg.Telemetry.Traces, "OTEL_TRACES"); err != nil {
		return err
	}
	if err := setBool(&cfg.Telemetry.Metrics, "OTEL_METRICS"); err != nil {
		return err
	}

	setStr(&cfg.Gateway.ListenAddress, "GATEWAY_LISTEN")
	setStr(&cfg.Gateway.JWTSecret, "GATEWAY_JWT_SECRET")
	setStr(&cfg.Gateway.JWTIssuer, "GATEWAY_JWT_ISSUER")

	setStr(&cfg.Controller.Operator, "OPERATOR")
	if err := setUint16(&cfg.Controller.MinHealthFactor, "MIN_HEALTH_FACTOR"); err != nil {
		return err
	}
	if err := setUint16(&cfg.Controller.TargetHealthFactor, "TARGET_HEALTH_FACTOR"); err != nil {
		return err
	}
	if err := setUint16(&cfg.Controller.MaxHealthFactor, "MAX_HEALTH_FACTOR"); err != nil {
		return err
	}
	if err := setBool(&cfg.Controller.Paused, "PAUSED"); err != nil {
		return err
	}
	setStr(&cfg.Position.RoundingTolerance, "ROUNDING_TOLERANCE")
	return nil
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func setUint16(dst *uint16, key string) error {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = uint16(parsed)
	return nil
}

// OperatorAddress returns the configured controller operator.
func (c *Config) OperatorAddress() common.Address {
	return common.HexToAddress(c.Controller.Operator)
}

// PoolAccount returns the sandbox pool address.
func (c *Config) PoolAccount() common.Address {
	return common.HexToAddress(c.PoolAddress)
}

// HealthFactors returns the configured band.
func (c *Config) HealthFactors() position.HealthFactors {
	return position.HealthFactors{
		Min:          c.Controller.MinHealthFactor,
		Target:       c.Controller.TargetHealthFactor,
		Max:          c.Controller.MaxHealthFactor,
		MaxOvershoot: c.Controller.MaxOvershoot,
	}
}

// PositionOptions converts the adapter tuning knobs.
func (c *Config) PositionOptions() (position.Options, error) {
	tolerance, err := parseAmount(c.Position.RoundingTolerance)
	if err != nil {
		return position.Options{}, err
	}
	return position.Options{RoundingTolerance: tolerance, BlocksPerYear: c.Position.BlocksPerYear}, nil
}

// ConverterKinds maps every origin converter to its protocol variant.
func (c *Config) ConverterKinds() map[common.Address]position.Kind {
	out := make(map[common.Address]position.Kind, len(c.Converters))
	for _, conv := range c.Converters {
		out[common.HexToAddress(conv.Address)] = position.Kind(NormalizeName(conv.Protocol))
	}
	return out
}

// AssetConfig converts a market definition into a sandbox listing.
func (m Market) AssetConfig() (lending.AssetConfig, error) {
	if !common.IsHexAddress(m.Asset) {
		return lending.AssetConfig{}, fmt.Errorf("market %s: invalid asset address %q", m.Symbol, m.Asset)
	}
	price, err := parseAmount(m.Price)
	if err != nil {
		return lending.AssetConfig{}, fmt.Errorf("market %s: price: %w", m.Symbol, err)
	}
	borrowCap, err := parseAmount(m.BorrowCap)
	if err != nil {
		return lending.AssetConfig{}, fmt.Errorf("market %s: borrow cap: %w", m.Symbol, err)
	}
	ceiling, err := parseAmount(m.DebtCeiling)
	if err != nil {
		return lending.AssetConfig{}, fmt.Errorf("market %s: debt ceiling: %w", m.Symbol, err)
	}
	cfg := lending.AssetConfig{
		Asset:                   common.HexToAddress(m.Asset),
		Symbol:                  m.Symbol,
		Decimals:                m.Decimals,
		Price:                   price,
		LTVBps:                  m.LTVBps,
		LiquidationThresholdBps: m.LiquidationThresholdBps,
		LiquidationBonusBps:     m.LiquidationBonusBps,
		ReserveFactorBps:        m.ReserveFactorBps,
		BorrowingEnabled:        m.BorrowingEnabled,
		Frozen:                  m.Frozen,
		BorrowCap:               borrowCap,
		DebtCeiling:             ceiling,
		BorrowableInIsolation:   m.BorrowableInIsolation,
	}
	if m.Interest != nil {
		cfg.Interest = lending.NewInterestModel(m.Interest.BaseRate, m.Interest.Slope1, m.Interest.Slope2, m.Interest.Kink)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return lending.AssetConfig{}, err
	}
	return cfg, nil
}

// SeedLiquidity is the amount minted and supplied by the pool bootstrapper.
func (m Market) SeedLiquidity() *big.Int {
	amount, err := parseAmount(m.Liquidity)
	if err != nil {
		return big.NewInt(0)
	}
	return amount
}
