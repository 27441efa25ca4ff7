package position

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendkeeper/native/lending"
	"lendkeeper/storage"
)

var testCompoundOrigin = testAddr(0x21)

type registryFixture struct {
	pool     *lending.Pool
	settings *Settings
	tracker  *Tracker
	store    *Store
	resolver StaticResolver
	registry *Registry
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	pool := newSandboxPool(t, e18(1_000_000), nil)
	tracker := NewTracker()
	settings, err := NewSettings(testOperator, testFactors(), tracker)
	require.NoError(t, err)
	opts := Options{RoundingTolerance: big.NewInt(10)}
	rf := &registryFixture{
		pool:     pool,
		settings: settings,
		tracker:  tracker,
		store:    NewStore(storage.NewMemDB()),
		resolver: StaticResolver{
			testOrigin:         newTestProtocol(KindAaveV2, pool, opts),
			testCompoundOrigin: newTestProtocol(KindCompound, pool, opts),
		},
	}
	rf.registry = rf.newRegistry(t, settings)
	return rf
}

func (rf *registryFixture) newRegistry(t *testing.T, controller Controller) *Registry {
	t.Helper()
	registry, err := NewRegistry(RegistryConfig{
		Controller: controller,
		Resolver:   rf.resolver,
		Ledger:     rf.pool.CallLedger(),
		Journal:    rf.pool,
		Store:      rf.store,
	})
	require.NoError(t, err)
	return registry
}

func TestRegistryReturnsSingleAdapterPerTuple(t *testing.T) {
	rf := newRegistryFixture(t)
	ctx := context.Background()

	first, err := rf.registry.GetOrCreate(ctx, testOperator, testOrigin, testUser, testColl, testUSD)
	require.NoError(t, err)
	second, err := rf.registry.GetOrCreate(ctx, testOperator, testOrigin, testUser, testColl, testUSD)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, AdapterAddress(Key(testOrigin, testUser, testColl, testUSD)), first.Address())
	require.Equal(t, KindAaveV2, first.Kind())

	other, err := rf.registry.GetOrCreate(ctx, testOperator, testCompoundOrigin, testUser, testColl, testUSD)
	require.NoError(t, err)
	require.NotEqual(t, first.Address(), other.Address())
	require.Equal(t, KindCompound, other.Kind())

	found, ok := rf.registry.Lookup(testOrigin, testUser, testColl, testUSD)
	require.True(t, ok)
	require.Same(t, first, found)
	byAddr, ok := rf.registry.Adapter(other.Address())
	require.True(t, ok)
	require.Same(t, other, byAddr)
	require.Len(t, rf.registry.Adapters(), 2)

	_, ok = rf.registry.Lookup(testOrigin, testStranger, testColl, testUSD)
	require.False(t, ok)
}

func TestRegistryConcurrentGetOrCreate(t *testing.T) {
	rf := newRegistryFixture(t)
	ctx := context.Background()

	const workers = 16
	results := make([]*Adapter, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adapter, err := rf.registry.GetOrCreate(ctx, testOperator, testOrigin, testUser, testColl, testUSD)
			if err == nil {
				results[i] = adapter
			}
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NotNil(t, results[i])
		require.Same(t, results[0], results[i])
	}
	require.Len(t, rf.registry.Adapters(), 1)
}

func TestRegistryRejectsInvalidRequests(t *testing.T) {
	rf := newRegistryFixture(t)
	ctx := context.Background()

	_, err := rf.registry.GetOrCreate(ctx, testStranger, testOrigin, testUser, testColl, testUSD)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = rf.registry.GetOrCreate(ctx, testOperator, testOrigin, common.Address{}, testColl, testUSD)
	require.ErrorIs(t, err, ErrZeroAddress)

	_, err = rf.registry.GetOrCreate(ctx, testOperator, testStranger, testUser, testColl, testUSD)
	require.ErrorIs(t, err, ErrUnknownOrigin)

	rf.settings.SetPaused(true)
	_, err = rf.registry.GetOrCreate(ctx, testOperator, testOrigin, testUser, testColl, testUSD)
	require.ErrorIs(t, err, ErrModulePaused)
	require.Empty(t, rf.registry.Adapters())
}

func TestRegistryRestoreRebuildsAdapters(t *testing.T) {
	rf := newRegistryFixture(t)
	ctx := context.Background()

	adapter, err := rf.registry.GetOrCreate(ctx, testOperator, testOrigin, testUser, testColl, testUSD)
	require.NoError(t, err)
	_, err = rf.registry.GetOrCreate(ctx, testOperator, testCompoundOrigin, testUser, testColl, testUSD)
	require.NoError(t, err)

	rf.pool.Bank().Mint(testColl, adapter.Address(), e18(100_000))
	_, err = adapter.Borrow(ctx, testOperator, e18(100_000), e18(37_500), testReceiver)
	require.NoError(t, err)

	tracker := NewTracker()
	settings, err := NewSettings(testOperator, testFactors(), tracker)
	require.NoError(t, err)
	restored := rf.newRegistry(t, settings)
	loaded, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, loaded)

	again, ok := restored.Lookup(testOrigin, testUser, testColl, testUSD)
	require.True(t, ok)
	require.NotSame(t, adapter, again)
	require.Equal(t, StateOpen, again.State())
	require.Equal(t, 0, again.CollateralTokens().Cmp(e18(100_000)))
	require.Equal(t, []common.Address{adapter.Address()}, tracker.List())

	status, err := again.GetStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, status.AmountToPay.Cmp(e18(37_500)))

	// A second restore finds every record already registered.
	loaded, err = restored.Restore(ctx)
	require.NoError(t, err)
	require.Zero(t, loaded)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	_, ok, err := store.LoadAdapter(testReceiver)
	require.NoError(t, err)
	require.False(t, ok)

	rec := AdapterRecord{
		Address:          testReceiver,
		Kind:             string(KindAaveV3),
		User:             testUser,
		CollateralAsset:  testColl,
		BorrowAsset:      testUSD,
		OriginConverter:  testOrigin,
		State:            uint8(StateOpen),
		CollateralTokens: e18(42),
	}
	require.NoError(t, store.SaveAdapter(rec))
	got, ok, err := store.LoadAdapter(testReceiver)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.User, got.User)
	require.Equal(t, rec.Kind, got.Kind)
	require.Equal(t, rec.State, got.State)
	require.Equal(t, 0, rec.CollateralTokens.Cmp(got.CollateralTokens))

	all, err := store.Adapters()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRegistryComputePlanResolvesOrigin(t *testing.T) {
	rf := newRegistryFixture(t)
	ctx := context.Background()
	req := PlanRequest{
		CollateralAsset:  testColl,
		CollateralAmount: e18(100_000),
		BorrowAsset:      testUSD,
		HealthFactor2:    200,
	}
	plan, err := rf.registry.ComputePlan(ctx, testOrigin, req)
	require.NoError(t, err)
	require.Equal(t, 0, plan.AmountToBorrow.Cmp(e18(37_500)))

	_, err = rf.registry.ComputePlan(ctx, testStranger, req)
	require.ErrorIs(t, err, ErrUnknownOrigin)
}
