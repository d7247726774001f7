package stubs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

type fakeStub struct {
	name string
}

func (s *fakeStub) GetEntrypoint(name string) (loader.Fetcher, error) {
	return nil, nil
}

// fakeLoader records every load and removal.
type fakeLoader struct {
	mu       sync.Mutex
	loads    []string
	removals []string
}

func (l *fakeLoader) Get(ctx context.Context, name string, cold loader.ColdStart) (loader.Stub, error) {
	if _, err := cold.Prepare(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.loads = append(l.loads, name)
	l.mu.Unlock()
	return &fakeStub{name: name}, nil
}

func (l *fakeLoader) Remove(ctx context.Context, name string) error {
	l.mu.Lock()
	l.removals = append(l.removals, name)
	l.mu.Unlock()
	return nil
}

func noopCold() loader.ColdStart {
	return loader.ColdStartFunc(func(ctx context.Context) (*loader.ModuleDescriptor, error) {
		return &loader.ModuleDescriptor{MainModule: "dist/index.js"}, nil
	})
}

func TestNameFormats(t *testing.T) {
	assert.Equal(t, "acme:api:v3", Name("acme", "api", 3))
	assert.Equal(t, "acme:ephemeral:deadbeef00000000", EphemeralName("acme", "deadbeef00000000"))
	assert.Equal(t, "ephemeral:deadbeef00000000", EphemeralName("", "deadbeef00000000"))
}

func TestCacheVersionGuard(t *testing.T) {
	l := &fakeLoader{}
	cache := NewCache(l)
	ctx := context.Background()

	first, err := cache.Get(ctx, "acme", "api", 1, noopCold())
	require.NoError(t, err)

	again, err := cache.Get(ctx, "acme", "api", 1, noopCold())
	require.NoError(t, err)
	assert.Same(t, first, again, "same version must hit the cache")
	assert.Equal(t, []string{"acme:api:v1"}, l.loads)

	bumped, err := cache.Get(ctx, "acme", "api", 2, noopCold())
	require.NoError(t, err)
	assert.NotSame(t, first, bumped, "version bump must load fresh")
	assert.Equal(t, []string{"acme:api:v1", "acme:api:v2"}, l.loads)
}

func TestCacheInvalidate(t *testing.T) {
	l := &fakeLoader{}
	cache := NewCache(l)
	ctx := context.Background()

	_, err := cache.Get(ctx, "acme", "api", 1, noopCold())
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	cache.Invalidate(ctx, "acme", "api")
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, []string{"acme:api:v1"}, l.removals, "invalidation evicts from the runtime")

	// Invalidating an uncached worker is a no-op.
	cache.Invalidate(ctx, "acme", "api")
	assert.Len(t, l.removals, 1)

	_, err = cache.Get(ctx, "acme", "api", 1, noopCold())
	require.NoError(t, err)
	assert.Len(t, l.loads, 2)
}

func TestCacheInvalidateTenant(t *testing.T) {
	l := &fakeLoader{}
	cache := NewCache(l)
	ctx := context.Background()

	_, err := cache.Get(ctx, "acme", "api", 1, noopCold())
	require.NoError(t, err)
	_, err = cache.Get(ctx, "acme", "cron", 1, noopCold())
	require.NoError(t, err)
	_, err = cache.GetEphemeral(ctx, "acme", "deadbeef00000000", noopCold())
	require.NoError(t, err)
	_, err = cache.Get(ctx, "globex", "site", 1, noopCold())
	require.NoError(t, err)

	cache.InvalidateTenant(ctx, "acme")
	assert.Equal(t, 1, cache.Len(), "only the other tenant's stub survives")
	assert.Len(t, l.removals, 3)

	_, err = cache.Get(ctx, "globex", "site", 1, noopCold())
	require.NoError(t, err)
	assert.Len(t, l.loads, 4, "surviving stub still cached")
}

func TestCacheEphemeral(t *testing.T) {
	l := &fakeLoader{}
	cache := NewCache(l)
	ctx := context.Background()

	first, err := cache.GetEphemeral(ctx, "acme", "deadbeef00000000", noopCold())
	require.NoError(t, err)
	again, err := cache.GetEphemeral(ctx, "acme", "deadbeef00000000", noopCold())
	require.NoError(t, err)
	assert.Same(t, first, again, "same fingerprint reuses the stub")
	assert.Len(t, l.loads, 1)

	_, err = cache.GetEphemeral(ctx, "", "deadbeef00000000", noopCold())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme:ephemeral:deadbeef00000000", "ephemeral:deadbeef00000000"}, l.loads,
		"tenantless runs are a separate identity")
}

func TestCacheInvalidateAll(t *testing.T) {
	l := &fakeLoader{}
	cache := NewCache(l)
	ctx := context.Background()

	_, err := cache.Get(ctx, "acme", "api", 1, noopCold())
	require.NoError(t, err)
	_, err = cache.Get(ctx, "globex", "shop", 2, noopCold())
	require.NoError(t, err)
	require.Equal(t, 2, cache.Len())

	cache.InvalidateAll(ctx)
	assert.Equal(t, 0, cache.Len())
	assert.Len(t, l.removals, 2)
}

func TestCacheSweep(t *testing.T) {
	l := &fakeLoader{}
	cache := NewCache(l)
	ctx := context.Background()

	_, err := cache.Get(ctx, "acme", "api", 1, noopCold())
	require.NoError(t, err)
	_, err = cache.GetEphemeral(ctx, "acme", "deadbeef00000000", noopCold())
	require.NoError(t, err)

	assert.Equal(t, 0, cache.Sweep(ctx, time.Hour), "fresh ephemerals survive")
	assert.Equal(t, 2, cache.Len())

	assert.Equal(t, 1, cache.Sweep(ctx, 0), "zero max age sweeps every ephemeral")
	assert.Equal(t, 1, cache.Len(), "versioned stubs are never swept")
	assert.Equal(t, []string{"acme:ephemeral:deadbeef00000000"}, l.removals)
}

func TestColdStartPrepare(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	bundle := &types.Bundle{
		MainModule: "dist/index.js",
		Modules:    map[string]string{"dist/index.js": "export default {}"},
		Version:    1,
		BuiltAt:    time.Now().UTC(),
	}
	require.NoError(t, store.PutBundle(ctx, "acme", "api", 1, bundle))

	cfg := config.Resolve(nil, &types.ConfigBundle{Env: map[string]string{"MODE": "prod"}}, nil)
	cold := &ColdStart{Bundles: store, TenantID: "acme", WorkerID: "api", Version: 1, Config: cfg}

	desc, err := cold.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dist/index.js", desc.MainModule)
	assert.Equal(t, "prod", desc.Env["MODE"])
	assert.Equal(t, config.DefaultCompatibilityDate, desc.CompatibilityDate)
}

func TestColdStartMissingBundle(t *testing.T) {
	cold := &ColdStart{
		Bundles:  storage.NewMemoryStore(),
		TenantID: "acme", WorkerID: "api", Version: 7,
	}

	_, err := cold.Prepare(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsFailedPrecondition(err),
		"a worker record without its bundle is a broken deployment, not a 404")
}

func TestEphemeralColdStart(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	bundle := &types.Bundle{
		MainModule: "dist/index.js",
		Modules:    map[string]string{"dist/index.js": "x"},
	}
	require.NoError(t, store.PutBundleByFingerprint(ctx, "feedface00000000", bundle))

	cold := &EphemeralColdStart{
		Bundles:     store,
		Fingerprint: "feedface00000000",
		Config:      config.Resolve(nil, nil, nil),
	}
	desc, err := cold.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dist/index.js", desc.MainModule)
	assert.NotNil(t, desc.Env)

	cold.Fingerprint = "0000000000000000"
	_, err = cold.Prepare(ctx)
	require.Error(t, err)
	assert.True(t, errdefs.IsFailedPrecondition(err))
}
