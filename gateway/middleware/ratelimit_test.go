package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"positions": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("positions")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"positions": {RatePerSecond: 1, Burst: 1},
		"plans":     {RatePerSecond: 1, Burst: 1},
	}, nil)
	positions := limiter.Middleware("positions")(okHandler())
	plans := limiter.Middleware("plans")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	req.Header.Set(APIKeyHeader, "tenant-A")
	res := httptest.NewRecorder()
	positions.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected positions request to succeed, got %d", res.Code)
	}

	planReq := httptest.NewRequest(http.MethodPost, "/plans", nil)
	planReq.Header.Set(APIKeyHeader, "tenant-A")
	planRes := httptest.NewRecorder()
	plans.ServeHTTP(planRes, planReq)
	if planRes.Code != http.StatusOK {
		t.Fatalf("expected first plan request to succeed, got %d", planRes.Code)
	}

	planRes = httptest.NewRecorder()
	plans.ServeHTTP(planRes, planReq)
	if planRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second plan request to hit limit, got %d", planRes.Code)
	}
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"positions": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("positions")(okHandler())

	for _, tenant := range []string{"tenant-A", "tenant-B"} {
		req := httptest.NewRequest(http.MethodGet, "/positions", nil)
		req.Header.Set(APIKeyHeader, tenant)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s request to succeed, got %d", tenant, res.Code)
		}
	}
}

func TestRateLimiterKeysByCaller(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"positions": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("positions")(okHandler())

	send := func(caller common.Address) int {
		req := httptest.NewRequest(http.MethodGet, "/positions", nil)
		req = req.WithContext(WithCaller(req.Context(), caller))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		return res.Code
	}
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	if code := send(alice); code != http.StatusOK {
		t.Fatalf("alice first request: %d", code)
	}
	if code := send(bob); code != http.StatusOK {
		t.Fatalf("bob should have his own bucket, got %d", code)
	}
	if code := send(alice); code != http.StatusTooManyRequests {
		t.Fatalf("alice second request: %d", code)
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"positions": {RatePerSecond: 1, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	limiter.obtainLimiter("a", RateLimit{RatePerSecond: 1, Burst: 1})
	now = now.Add(2 * visitorTTL)
	limiter.obtainLimiter("b", RateLimit{RatePerSecond: 1, Burst: 1})

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["a"]; ok {
		t.Fatalf("idle visitor should be swept")
	}
	if _, ok := limiter.visitors["b"]; !ok {
		t.Fatalf("active visitor missing")
	}
}
