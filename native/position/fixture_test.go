package position

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/core/events"
	"lendkeeper/native/lending"
	"lendkeeper/storage"
)

var (
	testPoolAddr   = testAddr(0xa0)
	testUSD        = testAddr(0x01)
	testColl       = testAddr(0x02)
	testOperator   = testAddr(0x10)
	testUser       = testAddr(0x11)
	testReceiver   = testAddr(0x12)
	testStranger   = testAddr(0x13)
	testOrigin     = testAddr(0x20)
	testSupplier   = testAddr(0x30)
	testLiquidator = testAddr(0x31)
)

func testAddr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), one18)
}

func testFactors() HealthFactors {
	return HealthFactors{Min: 150, Target: 200, Max: 250}
}

// testMarkets lists USD (borrowable) and COLL (collateral) at a price of one
// with no interest so balances stay exact.
func testMarkets() (usd, coll lending.AssetConfig) {
	flat := lending.NewInterestModel(0, 0, 0, 0)
	usd = lending.AssetConfig{
		Asset: testUSD, Symbol: "USD", Decimals: 18, Price: e18(1),
		LTVBps: 8000, LiquidationThresholdBps: 8500, LiquidationBonusBps: 500,
		BorrowingEnabled: true, Interest: flat,
	}
	coll = lending.AssetConfig{
		Asset: testColl, Symbol: "COLL", Decimals: 18, Price: e18(1),
		LTVBps: 7500, LiquidationThresholdBps: 8000, LiquidationBonusBps: 500,
		Interest: flat.Clone(),
	}
	return usd, coll
}

// newSandboxPool lists the test markets and seeds liquidity of the borrow
// asset from a supplier.
func newSandboxPool(t *testing.T, liquidity *big.Int, mutate func(usd, coll *lending.AssetConfig)) *lending.Pool {
	t.Helper()
	usd, coll := testMarkets()
	if mutate != nil {
		mutate(&usd, &coll)
	}
	pool := lending.NewPool(testPoolAddr, lending.NewBank())
	for _, cfg := range []lending.AssetConfig{usd, coll} {
		if err := pool.ListAsset(cfg); err != nil {
			t.Fatalf("list %s: %v", cfg.Symbol, err)
		}
	}
	if liquidity != nil && liquidity.Sign() > 0 {
		pool.Bank().Mint(testUSD, testSupplier, liquidity)
		if _, err := pool.Supply(testSupplier, testUSD, liquidity); err != nil {
			t.Fatalf("seed liquidity: %v", err)
		}
	}
	return pool
}

func newTestProtocol(kind Kind, pool *lending.Pool, opts Options) Protocol {
	switch kind {
	case KindAaveV3:
		return NewAaveV3(lending.NewAaveV3Market(pool), opts)
	case KindCompound:
		return NewCompound(lending.NewCompoundMarket(pool), opts)
	default:
		return NewAaveV2(lending.NewAaveV2Market(pool), opts)
	}
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	pool     *lending.Pool
	protocol Protocol
	settings *Settings
	tracker  *Tracker
	recorder *events.Recorder
	store    *Store
	adapter  *Adapter
}

func newFixture(t *testing.T, kind Kind, mutate func(usd, coll *lending.AssetConfig)) *fixture {
	t.Helper()
	if kind == KindCompound {
		inner := mutate
		mutate = func(usd, coll *lending.AssetConfig) {
			coll.LiquidationThresholdBps = coll.LTVBps
			usd.LiquidationThresholdBps = usd.LTVBps
			if inner != nil {
				inner(usd, coll)
			}
		}
	}
	pool := newSandboxPool(t, e18(1_000_000), mutate)
	tracker := NewTracker()
	settings, err := NewSettings(testOperator, testFactors(), tracker)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		pool:     pool,
		protocol: newTestProtocol(kind, pool, Options{RoundingTolerance: big.NewInt(10)}),
		settings: settings,
		tracker:  tracker,
		recorder: &events.Recorder{},
		store:    NewStore(storage.NewMemDB()),
	}
	adapter, err := NewAdapter(AdapterConfig{
		Address:  AdapterAddress(Key(testOrigin, testUser, testColl, testUSD)),
		Protocol: f.protocol,
		Ledger:   pool.CallLedger(),
		Journal:  pool,
		Store:    f.store,
		Emitter:  f.recorder,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	err = adapter.Initialize(Position{
		User:            testUser,
		CollateralAsset: testColl,
		BorrowAsset:     testUSD,
		OriginConverter: testOrigin,
		Controller:      settings,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.adapter = adapter
	return f
}

func (f *fixture) fund(asset common.Address, amount *big.Int) {
	f.pool.Bank().Mint(asset, f.adapter.Address(), amount)
}

func (f *fixture) balance(asset, holder common.Address) *big.Int {
	return f.pool.Bank().BalanceOf(asset, holder)
}

// open supplies 100,000 COLL and borrows 37,500 USD to the receiver.
func (f *fixture) open() {
	f.t.Helper()
	f.fund(testColl, e18(100_000))
	if _, err := f.adapter.Borrow(f.ctx, testOperator, e18(100_000), e18(37_500), testReceiver); err != nil {
		f.t.Fatalf("open position: %v", err)
	}
}

func (f *fixture) status() Status {
	f.t.Helper()
	status, err := f.adapter.GetStatus(f.ctx)
	if err != nil {
		f.t.Fatalf("get status: %v", err)
	}
	return status
}

func (f *fixture) eventTypes() []string {
	recorded := f.recorder.Events()
	out := make([]string, 0, len(recorded))
	for _, e := range recorded {
		out = append(out, e.Type)
	}
	return out
}

// hfRatio computes collateral * threshold / debt with the adapter's
// rounding.
func hfRatio(collateralBase, lt18, debtBase *big.Int) *big.Int {
	return mulDiv(collateralBase, lt18, debtBase)
}
