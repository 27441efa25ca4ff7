package config

// Log configures the process logger.
type Log struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// Gateway configures the HTTP surface.
type Gateway struct {
	ListenAddress  string  `toml:"ListenAddress" yaml:"listen_address"`
	JWTSecret      string  `toml:"JWTSecret" yaml:"jwt_secret"`
	JWTIssuer      string  `toml:"JWTIssuer" yaml:"jwt_issuer"`
	RatePerSecond  float64 `toml:"RatePerSecond" yaml:"rate_per_second"`
	RateBurst      int     `toml:"RateBurst" yaml:"rate_burst"`
	ReadTimeoutSec int     `toml:"ReadTimeoutSec" yaml:"read_timeout_sec"`
}

// Controller carries the operator and the health factor band. Health factors
// use two implied decimals, so 150 means 1.50.
type Controller struct {
	Operator           string `toml:"Operator" yaml:"operator"`
	MinHealthFactor    uint16 `toml:"MinHealthFactor" yaml:"min_health_factor"`
	TargetHealthFactor uint16 `toml:"TargetHealthFactor" yaml:"target_health_factor"`
	MaxHealthFactor    uint16 `toml:"MaxHealthFactor" yaml:"max_health_factor"`
	MaxOvershoot       uint16 `toml:"MaxOvershoot" yaml:"max_overshoot"`
	Paused             bool   `toml:"Paused" yaml:"paused"`
}

// Position tunes protocol adapters.
type Position struct {
	RoundingTolerance string `toml:"RoundingTolerance" yaml:"rounding_tolerance"`
	BlocksPerYear     uint64 `toml:"BlocksPerYear" yaml:"blocks_per_year"`
	HorizonBlocks     uint64 `toml:"HorizonBlocks" yaml:"horizon_blocks"`
}

// Interest describes a kinked borrow rate curve in decimal fractions.
type Interest struct {
	BaseRate float64 `toml:"BaseRate" yaml:"base_rate"`
	Slope1   float64 `toml:"Slope1" yaml:"slope1"`
	Slope2   float64 `toml:"Slope2" yaml:"slope2"`
	Kink     float64 `toml:"Kink" yaml:"kink"`
}

// Market lists one asset in the sandbox money market. Amounts are decimal
// strings in the asset's smallest unit; Price is 18-decimal base currency.
type Market struct {
	Asset                   string    `toml:"Asset" yaml:"asset"`
	Symbol                  string    `toml:"Symbol" yaml:"symbol"`
	Decimals                uint8     `toml:"Decimals" yaml:"decimals"`
	Price                   string    `toml:"Price" yaml:"price"`
	LTVBps                  uint64    `toml:"LTVBps" yaml:"ltv_bps"`
	LiquidationThresholdBps uint64    `toml:"LiquidationThresholdBps" yaml:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64    `toml:"LiquidationBonusBps" yaml:"liquidation_bonus_bps"`
	ReserveFactorBps        uint64    `toml:"ReserveFactorBps" yaml:"reserve_factor_bps"`
	BorrowingEnabled        bool      `toml:"BorrowingEnabled" yaml:"borrowing_enabled"`
	Frozen                  bool      `toml:"Frozen" yaml:"frozen"`
	BorrowCap               string    `toml:"BorrowCap" yaml:"borrow_cap"`
	DebtCeiling             string    `toml:"DebtCeiling" yaml:"debt_ceiling"`
	BorrowableInIsolation   bool      `toml:"BorrowableInIsolation" yaml:"borrowable_in_isolation"`
	Interest                *Interest `toml:"Interest" yaml:"interest"`
	Liquidity               string    `toml:"Liquidity" yaml:"liquidity"`
}

// Converter binds an origin converter address to a protocol variant
// ("aave-v2", "aave-v3" or "compound").
type Converter struct {
	Address  string `toml:"Address" yaml:"address"`
	Protocol string `toml:"Protocol" yaml:"protocol"`
}

// Config is the positiond runtime configuration. StorageEngine picks the
// DataDir backend, "leveldb" or "bolt".
type Config struct {
	Service       string      `toml:"Service" yaml:"service"`
	Environment   string      `toml:"Environment" yaml:"environment"`
	DataDir       string      `toml:"DataDir" yaml:"data_dir"`
	StorageEngine string      `toml:"StorageEngine" yaml:"storage_engine"`
	PoolAddress   string      `toml:"PoolAddress" yaml:"pool_address"`
	Log           Log         `toml:"log" yaml:"log"`
	Telemetry     Telemetry   `toml:"telemetry" yaml:"telemetry"`
	Gateway       Gateway     `toml:"gateway" yaml:"gateway"`
	Controller    Controller  `toml:"controller" yaml:"controller"`
	Position      Position    `toml:"position" yaml:"position"`
	Markets       []Market    `toml:"markets" yaml:"markets"`
	Converters    []Converter `toml:"converters" yaml:"converters"`
}

// Defaults returns a configuration usable for a local sandbox run.
func Defaults() Config {
	return Config{
		Service:       "positiond",
		Environment:   "local",
		StorageEngine: StorageLevelDB,
		PoolAddress:   "0x00000000000000000000000000000000000a11ce",
		Log:           Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Telemetry:     Telemetry{Endpoint: "localhost:4318", Insecure: true, SampleRatio: 1},
		Gateway: Gateway{
			ListenAddress:  ":8088",
			JWTIssuer:      "lendkeeper",
			RatePerSecond:  20,
			RateBurst:      40,
			ReadTimeoutSec: 10,
		},
		Controller: Controller{
			MinHealthFactor:    150,
			TargetHealthFactor: 200,
			MaxHealthFactor:    250,
		},
		Position: Position{
			RoundingTolerance: "10",
			BlocksPerYear:     31_536_000,
			HorizonBlocks:     216_000,
		},
	}
}
