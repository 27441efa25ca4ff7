package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lendkeeper/gateway/middleware"
	"lendkeeper/native/moneymarket"
	"lendkeeper/native/position"
)

// RateLimitKey is the limiter bucket shared by the position routes.
const RateLimitKey = "positions"

type Config struct {
	Registry      *position.Registry
	Ledger        moneymarket.TokenLedger
	Faucet        Faucet
	HorizonBlocks uint64
	Timeout       time.Duration
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil || cfg.Ledger == nil {
		return nil, errors.New("routes: registry and ledger required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	obs := cfg.Observability
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	positions := &positionRoutes{
		registry:      cfg.Registry,
		ledger:        cfg.Ledger,
		faucet:        cfg.Faucet,
		horizonBlocks: cfg.HorizonBlocks,
		timeout:       cfg.Timeout,
		logger:        logger.With("component", "gateway.positions"),
	}
	r.Group(func(sr chi.Router) {
		if obs != nil {
			sr.Use(obs.Middleware(RateLimitKey))
		}
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware())
		}
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateLimitKey))
		}
		positions.mount(sr)
	})
	return r, nil
}
