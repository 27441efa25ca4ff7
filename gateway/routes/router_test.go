package routes

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendkeeper/gateway/middleware"
	"lendkeeper/native/lending"
	"lendkeeper/native/position"
	"lendkeeper/storage"
)

var (
	operator  = common.HexToAddress("0x0000000000000000000000000000000000000010")
	user      = common.HexToAddress("0x0000000000000000000000000000000000000011")
	receiver  = common.HexToAddress("0x0000000000000000000000000000000000000012")
	origin    = common.HexToAddress("0x0000000000000000000000000000000000000020")
	usd       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	coll      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	poolOwner = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	supplier  = common.HexToAddress("0x0000000000000000000000000000000000000030")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type testServer struct {
	t        *testing.T
	handler  http.Handler
	pool     *lending.Pool
	settings *position.Settings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	pool := lending.NewPool(poolOwner, lending.NewBank())
	flat := lending.NewInterestModel(0, 0, 0, 0)
	require.NoError(t, pool.ListAsset(lending.AssetConfig{
		Asset: usd, Symbol: "USD", Decimals: 18, Price: units(1),
		LTVBps: 8000, LiquidationThresholdBps: 8500, LiquidationBonusBps: 500,
		BorrowingEnabled: true, Interest: flat,
	}))
	require.NoError(t, pool.ListAsset(lending.AssetConfig{
		Asset: coll, Symbol: "COLL", Decimals: 18, Price: units(1),
		LTVBps: 7500, LiquidationThresholdBps: 8000, LiquidationBonusBps: 500,
		Interest: flat.Clone(),
	}))
	pool.Bank().Mint(usd, supplier, units(1_000_000))
	_, err := pool.Supply(supplier, usd, units(1_000_000))
	require.NoError(t, err)

	settings, err := position.NewSettings(operator, position.HealthFactors{Min: 150, Target: 200, Max: 250}, nil)
	require.NoError(t, err)
	registry, err := position.NewRegistry(position.RegistryConfig{
		Controller: settings,
		Resolver: position.StaticResolver{
			origin: position.NewAaveV2(lending.NewAaveV2Market(pool), position.Options{}),
		},
		Ledger:  pool.CallLedger(),
		Journal: pool,
		Store:   position.NewStore(storage.NewMemDB()),
	})
	require.NoError(t, err)

	handler, err := New(Config{
		Registry:      registry,
		Ledger:        pool.Bank(),
		Faucet:        pool.Bank(),
		HorizonBlocks: 1_000,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{}, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{}, nil),
	})
	require.NoError(t, err)
	return &testServer{t: t, handler: handler, pool: pool, settings: settings}
}

func (s *testServer) do(method, path string, caller common.Address, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	s.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(s.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(middleware.CallerHeader, caller.Hex())
	}
	res := httptest.NewRecorder()
	s.handler.ServeHTTP(res, req)
	var decoded map[string]interface{}
	if res.Body.Len() > 0 && res.Header().Get("Content-Type") == "application/json" {
		_ = json.Unmarshal(res.Body.Bytes(), &decoded)
	}
	return res, decoded
}

func (s *testServer) create() string {
	s.t.Helper()
	res, body := s.do(http.MethodPost, "/positions", operator, map[string]string{
		"origin":          origin.Hex(),
		"user":            user.Hex(),
		"collateralAsset": coll.Hex(),
		"borrowAsset":     usd.Hex(),
	})
	require.Equal(s.t, http.StatusOK, res.Code, res.Body.String())
	return body["adapter"].(string)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	res, _ := s.do(http.MethodGet, "/healthz", common.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "ok", res.Body.String())
}

func TestPositionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	adapter := s.create()
	require.Equal(t, adapter, s.create(), "get-or-create must be idempotent")

	s.pool.Bank().Mint(coll, operator, units(100_000))
	res, body := s.do(http.MethodPost, "/positions/"+adapter+"/borrow", operator, map[string]string{
		"collateralAmount": units(100_000).String(),
		"borrowAmount":     units(37_500).String(),
		"receiver":         receiver.Hex(),
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, units(37_500).String(), body["borrowed"])

	res, body = s.do(http.MethodGet, "/positions/"+adapter+"/status", common.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, true, body["open"])
	require.Equal(t, units(37_500).String(), body["amountToPay"])

	res, body = s.do(http.MethodGet, "/positions", common.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)

	s.pool.Bank().Mint(usd, user, units(37_500))
	res, body = s.do(http.MethodPost, "/positions/"+adapter+"/repay", user, map[string]interface{}{
		"amount":   units(37_500).String(),
		"receiver": receiver.Hex(),
		"close":    true,
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, units(100_000).String(), body["collateralReturned"])
	require.Equal(t, 0, s.pool.Bank().BalanceOf(coll, receiver).Cmp(units(100_000)))

	res, body = s.do(http.MethodGet, "/positions/"+adapter, common.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "closed", body["state"])
}

func TestFailedBorrowRefundsCaller(t *testing.T) {
	s := newTestServer(t)
	adapter := s.create()
	s.pool.Bank().Mint(coll, operator, units(100_000))

	res, _ := s.do(http.MethodPost, "/positions/"+adapter+"/borrow", operator, map[string]string{
		"collateralAmount": units(100_000).String(),
		"borrowAmount":     units(60_000).String(),
		"receiver":         receiver.Hex(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
	require.Equal(t, 0, s.pool.Bank().BalanceOf(coll, operator).Cmp(units(100_000)))
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	adapter := s.create()

	res, _ := s.do(http.MethodPost, "/positions/"+adapter+"/refresh", common.Address{}, nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res, _ = s.do(http.MethodPost, "/positions/"+adapter+"/borrow-rebalance", user, map[string]string{
		"amount": "1", "receiver": receiver.Hex(),
	})
	require.Equal(t, http.StatusForbidden, res.Code)

	res, _ = s.do(http.MethodPost, "/positions/"+adapter+"/borrow-rebalance", operator, map[string]string{
		"amount": "1", "receiver": receiver.Hex(),
	})
	require.Equal(t, http.StatusConflict, res.Code)

	res, _ = s.do(http.MethodGet, "/positions/0x00000000000000000000000000000000000000ff/status", common.Address{}, nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res, _ = s.do(http.MethodGet, "/positions/not-an-address/status", common.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = s.do(http.MethodPost, "/positions/"+adapter+"/borrow", operator, map[string]string{
		"collateralAmount": "-5", "borrowAmount": "1", "receiver": receiver.Hex(),
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	s.settings.SetPaused(true)
	res, _ = s.do(http.MethodPost, "/positions/"+adapter+"/refresh", user, nil)
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestComputePlanEndpoint(t *testing.T) {
	s := newTestServer(t)
	res, body := s.do(http.MethodPost, "/plans", common.Address{}, map[string]interface{}{
		"origin":           origin.Hex(),
		"collateralAsset":  coll.Hex(),
		"collateralAmount": units(100_000).String(),
		"borrowAsset":      usd.Hex(),
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, units(37_500).String(), body["amountToBorrow"])
	require.Equal(t, float64(200), body["healthFactor"])

	res, _ = s.do(http.MethodPost, "/plans", common.Address{}, map[string]interface{}{
		"origin":           receiver.Hex(),
		"collateralAsset":  coll.Hex(),
		"collateralAmount": "1",
		"borrowAsset":      usd.Hex(),
	})
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestFaucetIsOperatorOnly(t *testing.T) {
	s := newTestServer(t)
	req := map[string]string{"asset": usd.Hex(), "holder": user.Hex(), "amount": "42"}

	res, _ := s.do(http.MethodPost, "/faucet", user, req)
	require.Equal(t, http.StatusForbidden, res.Code)

	res, body := s.do(http.MethodPost, "/faucet", operator, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "42", body["balance"])
}
