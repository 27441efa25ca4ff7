package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lendkeeper/config"
	"lendkeeper/core/events"
	"lendkeeper/gateway/middleware"
	"lendkeeper/gateway/routes"
	"lendkeeper/native/lending"
	"lendkeeper/native/position"
	"lendkeeper/storage"
)

// service is the wired position stack behind the gateway.
type service struct {
	db       storage.Database
	pool     *lending.Pool
	settings *position.Settings
	registry *position.Registry
	handler  http.Handler
}

func (s *service) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func openDatabase(engine, dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		return storage.NewMemDB(), nil
	}
	if config.NormalizeName(engine) == config.StorageBolt {
		path := filepath.Join(dataDir, "positions.db")
		db, err := storage.NewBoltDB(path, nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", path, err)
		}
		return db, nil
	}
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dataDir, err)
	}
	return db, nil
}

// liquiditySeeder supplies the configured seed liquidity of every market.
var liquiditySeeder = common.BytesToAddress(crypto.Keccak256([]byte("positiond/liquidity-seeder")))

// newSandboxPool lists every configured market and supplies its seed
// liquidity. Frozen markets are frozen after seeding.
func newSandboxPool(cfg *config.Config) (*lending.Pool, error) {
	pool := lending.NewPool(cfg.PoolAccount(), lending.NewBank())
	for _, market := range cfg.Markets {
		asset, err := market.AssetConfig()
		if err != nil {
			return nil, err
		}
		frozen := asset.Frozen
		asset.Frozen = false
		if err := pool.ListAsset(asset); err != nil {
			return nil, fmt.Errorf("list %s: %w", market.Symbol, err)
		}
		if seed := market.SeedLiquidity(); seed.Sign() > 0 {
			pool.Bank().Mint(asset.Asset, liquiditySeeder, seed)
			if _, err := pool.Supply(liquiditySeeder, asset.Asset, seed); err != nil {
				return nil, fmt.Errorf("seed %s liquidity: %w", market.Symbol, err)
			}
		}
		if frozen {
			if err := pool.UpdateAsset(asset.Asset, func(c *lending.AssetConfig) { c.Frozen = true }); err != nil {
				return nil, fmt.Errorf("freeze %s: %w", market.Symbol, err)
			}
		}
	}
	return pool, nil
}

func newProtocol(kind position.Kind, pool *lending.Pool, opts position.Options) (position.Protocol, error) {
	switch kind {
	case position.KindAaveV2:
		return position.NewAaveV2(lending.NewAaveV2Market(pool), opts), nil
	case position.KindAaveV3:
		return position.NewAaveV3(lending.NewAaveV3Market(pool), opts), nil
	case position.KindCompound:
		return position.NewCompound(lending.NewCompoundMarket(pool), opts), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", kind)
	}
}

func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	db, err := openDatabase(cfg.StorageEngine, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	svc := &service{db: db}
	fail := func(err error) (*service, error) {
		svc.Close()
		return nil, err
	}

	pool, err := newSandboxPool(cfg)
	if err != nil {
		return fail(err)
	}
	svc.pool = pool

	opts, err := cfg.PositionOptions()
	if err != nil {
		return fail(err)
	}
	resolver := position.StaticResolver{}
	for origin, kind := range cfg.ConverterKinds() {
		protocol, err := newProtocol(kind, pool, opts)
		if err != nil {
			return fail(fmt.Errorf("converter %s: %w", origin.Hex(), err))
		}
		resolver[origin] = protocol
	}

	settings, err := position.NewSettings(cfg.OperatorAddress(), cfg.HealthFactors(), position.NewTracker())
	if err != nil {
		return fail(err)
	}
	settings.SetPaused(cfg.Controller.Paused)
	svc.settings = settings

	registry, err := position.NewRegistry(position.RegistryConfig{
		Controller: settings,
		Resolver:   resolver,
		Ledger:     pool.CallLedger(),
		Journal:    pool,
		Store:      position.NewStore(db),
		Emitter:    events.LogEmitter{Logger: logger.With("component", "events")},
		Logger:     logger,
	})
	if err != nil {
		return fail(err)
	}
	restored, err := registry.Restore(ctx)
	if err != nil {
		return fail(fmt.Errorf("restore adapters: %w", err))
	}
	if restored > 0 {
		logger.Warn("restored adapters against a fresh sandbox market; open positions hold no market balances",
			"adapters", restored,
			"open", len(settings.Tracker().List()))
	}
	svc.registry = registry

	handler, err := routes.New(routes.Config{
		Registry:      registry,
		Ledger:        pool.Bank(),
		Faucet:        pool.Bank(),
		HorizonBlocks: cfg.Position.HorizonBlocks,
		Timeout:       time.Duration(cfg.Gateway.ReadTimeoutSec) * time.Second,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    strings.TrimSpace(cfg.Gateway.JWTSecret) != "",
			HMACSecret: cfg.Gateway.JWTSecret,
			Issuer:     cfg.Gateway.JWTIssuer,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.RateLimitKey: {RatePerSecond: cfg.Gateway.RatePerSecond, Burst: cfg.Gateway.RateBurst},
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			LogRequests: true,
			Tracing:     cfg.Telemetry.Traces,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		},
		Logger: logger,
	})
	if err != nil {
		return fail(fmt.Errorf("configure routes: %w", err))
	}
	svc.handler = handler
	return svc, nil
}

// converterSummary lists configured origins for the startup log.
func converterSummary(kinds map[common.Address]position.Kind) []string {
	out := make([]string, 0, len(kinds))
	for origin, kind := range kinds {
		out = append(out, origin.Hex()+"="+string(kind))
	}
	return out
}
