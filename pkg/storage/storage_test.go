package storage

import (
	"context"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStores executes the same contract test against both implementations.
func runStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})
	t.Run("bolt", func(t *testing.T) {
		s, err := NewBoltStore(t.TempDir())
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func TestTenantCRUD(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetTenant(ctx, "acme")
		assert.True(t, errdefs.IsNotFound(err))

		tenant := &types.Tenant{
			ID: "acme",
			ConfigBundle: types.ConfigBundle{
				Env: map[string]string{"STAGE": "prod"},
			},
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.PutTenant(ctx, tenant))

		got, err := s.GetTenant(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", got.ID)
		assert.Equal(t, "prod", got.Env["STAGE"])

		// Reads return copies, not shared state.
		got.Env["STAGE"] = "mutated"
		again, err := s.GetTenant(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "prod", again.Env["STAGE"])

		require.NoError(t, s.DeleteTenant(ctx, "acme"))
		_, err = s.GetTenant(ctx, "acme")
		assert.True(t, errdefs.IsNotFound(err))

		// Deleting an absent record is not an error.
		assert.NoError(t, s.DeleteTenant(ctx, "acme"))
	})
}

func TestListTenantsPagination(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"alpha", "beta", "gamma", "delta", "prefix-a", "prefix-b"} {
			require.NoError(t, s.PutTenant(ctx, &types.Tenant{ID: id}))
		}

		all, cursor, err := s.ListTenants(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 6)
		assert.Empty(t, cursor)

		// Key order.
		assert.Equal(t, "alpha", all[0].ID)
		assert.Equal(t, "beta", all[1].ID)

		first, cursor, err := s.ListTenants(ctx, ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, first, 2)
		require.NotEmpty(t, cursor)

		rest, cursor2, err := s.ListTenants(ctx, ListOptions{Limit: 10, Cursor: cursor})
		require.NoError(t, err)
		assert.Len(t, rest, 4)
		assert.Empty(t, cursor2)
		assert.Equal(t, "delta", rest[0].ID)

		prefixed, _, err := s.ListTenants(ctx, ListOptions{Prefix: "prefix-"})
		require.NoError(t, err)
		assert.Len(t, prefixed, 2)

		// Limit that lands exactly on the end returns no cursor.
		exact, cursor3, err := s.ListTenants(ctx, ListOptions{Limit: 6})
		require.NoError(t, err)
		assert.Len(t, exact, 6)
		assert.Empty(t, cursor3)
	})
}

func TestWorkerCRUD(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetWorker(ctx, "acme", "api")
		assert.True(t, errdefs.IsNotFound(err))

		worker := &types.Worker{
			TenantID: "acme",
			ID:       "api",
			Files:    map[string]string{"index.js": "export default {}"},
			Version:  1,
		}
		require.NoError(t, s.PutWorker(ctx, worker))

		got, err := s.GetWorker(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "export default {}", got.Files["index.js"])

		// Same worker id under another tenant is a distinct record.
		require.NoError(t, s.PutWorker(ctx, &types.Worker{TenantID: "umbrella", ID: "api", Version: 3}))
		other, err := s.GetWorker(ctx, "umbrella", "api")
		require.NoError(t, err)
		assert.Equal(t, int64(3), other.Version)

		acmeWorkers, _, err := s.ListWorkers(ctx, "acme", ListOptions{})
		require.NoError(t, err)
		assert.Len(t, acmeWorkers, 1)

		require.NoError(t, s.DeleteWorker(ctx, "acme", "api"))
		_, err = s.GetWorker(ctx, "acme", "api")
		assert.True(t, errdefs.IsNotFound(err))

		// The other tenant's record survives.
		_, err = s.GetWorker(ctx, "umbrella", "api")
		assert.NoError(t, err)
	})
}

func TestListWorkersPagination(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.PutWorker(ctx, &types.Worker{TenantID: "acme", ID: id}))
		}
		require.NoError(t, s.PutWorker(ctx, &types.Worker{TenantID: "zeta", ID: "a"}))

		page, cursor, err := s.ListWorkers(ctx, "acme", ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "b", cursor)

		page2, cursor2, err := s.ListWorkers(ctx, "acme", ListOptions{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		require.Len(t, page2, 1)
		assert.Equal(t, "c", page2[0].ID)
		assert.Empty(t, cursor2)
	})
}

func TestDeleteWorkersCascadeCount(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.PutWorker(ctx, &types.Worker{TenantID: "acme", ID: id}))
		}
		require.NoError(t, s.PutWorker(ctx, &types.Worker{TenantID: "zeta", ID: "keep"}))

		count, err := s.DeleteWorkers(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		left, _, err := s.ListWorkers(ctx, "acme", ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, left)

		_, err = s.GetWorker(ctx, "zeta", "keep")
		assert.NoError(t, err)
	})
}

func TestBundleVersioned(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetBundle(ctx, "acme", "api", 1)
		assert.True(t, errdefs.IsNotFound(err))

		bundle := &types.Bundle{
			MainModule: "dist/index.js",
			Modules:    map[string]string{"dist/index.js": "compiled"},
			Version:    1,
			BuiltAt:    time.Now().UTC(),
		}
		require.NoError(t, s.PutBundle(ctx, "acme", "api", 1, bundle))
		require.NoError(t, s.PutBundle(ctx, "acme", "api", 2, bundle))

		got, err := s.GetBundle(ctx, "acme", "api", 1)
		require.NoError(t, err)
		assert.Equal(t, "dist/index.js", got.MainModule)

		keys, err := s.ListBundleKeys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 2)
		assert.Equal(t, BundleKey{TenantID: "acme", WorkerID: "api", Version: 1}, keys[0])

		count, err := s.DeleteBundles(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		_, err = s.GetBundle(ctx, "acme", "api", 2)
		assert.True(t, errdefs.IsNotFound(err))
	})
}

func TestBundleFingerprint(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		_, err := s.GetBundleByFingerprint(ctx, "deadbeefdeadbeef")
		assert.True(t, errdefs.IsNotFound(err))

		live := &types.Bundle{MainModule: "dist/a.js", ExpiresAt: now.Add(time.Hour)}
		expired := &types.Bundle{MainModule: "dist/b.js", ExpiresAt: now.Add(-time.Hour)}
		forever := &types.Bundle{MainModule: "dist/c.js"}
		require.NoError(t, s.PutBundleByFingerprint(ctx, "aaaa000011112222", live))
		require.NoError(t, s.PutBundleByFingerprint(ctx, "bbbb000011112222", expired))
		require.NoError(t, s.PutBundleByFingerprint(ctx, "cccc000011112222", forever))

		count, err := s.DeleteExpiredFingerprints(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		_, err = s.GetBundleByFingerprint(ctx, "bbbb000011112222")
		assert.True(t, errdefs.IsNotFound(err))
		_, err = s.GetBundleByFingerprint(ctx, "aaaa000011112222")
		assert.NoError(t, err)
		_, err = s.GetBundleByFingerprint(ctx, "cccc000011112222")
		assert.NoError(t, err)

		require.NoError(t, s.DeleteBundleByFingerprint(ctx, "aaaa000011112222"))
		_, err = s.GetBundleByFingerprint(ctx, "aaaa000011112222")
		assert.True(t, errdefs.IsNotFound(err))
	})
}

func TestRouteForwardReverse(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetRoute(ctx, "app.acme.com")
		assert.True(t, errdefs.IsNotFound(err))

		require.NoError(t, s.PutRoute(ctx, &types.HostnameRoute{Hostname: "app.acme.com", TenantID: "acme", WorkerID: "api"}))
		require.NoError(t, s.PutRoute(ctx, &types.HostnameRoute{Hostname: "admin.acme.com", TenantID: "acme", WorkerID: "api"}))
		require.NoError(t, s.PutRoute(ctx, &types.HostnameRoute{Hostname: "other.com", TenantID: "zeta", WorkerID: "site"}))

		route, err := s.GetRoute(ctx, "app.acme.com")
		require.NoError(t, err)
		assert.Equal(t, "acme", route.TenantID)
		assert.Equal(t, "api", route.WorkerID)

		hostnames, err := s.ListRoutesByWorker(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, []string{"admin.acme.com", "app.acme.com"}, hostnames)

		// Rebinding a hostname moves its reverse entry to the new owner.
		require.NoError(t, s.PutRoute(ctx, &types.HostnameRoute{Hostname: "app.acme.com", TenantID: "zeta", WorkerID: "site"}))
		hostnames, err = s.ListRoutesByWorker(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, []string{"admin.acme.com"}, hostnames)
		hostnames, err = s.ListRoutesByWorker(ctx, "zeta", "site")
		require.NoError(t, err)
		assert.Equal(t, []string{"app.acme.com", "other.com"}, hostnames)

		// DeleteRoute removes forward and reverse entries.
		require.NoError(t, s.DeleteRoute(ctx, "app.acme.com"))
		_, err = s.GetRoute(ctx, "app.acme.com")
		assert.True(t, errdefs.IsNotFound(err))
		hostnames, err = s.ListRoutesByWorker(ctx, "zeta", "site")
		require.NoError(t, err)
		assert.Equal(t, []string{"other.com"}, hostnames)

		all, err := s.ListRoutes(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestDeleteRoutesByWorker(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutRoute(ctx, &types.HostnameRoute{Hostname: "a.acme.com", TenantID: "acme", WorkerID: "api"}))
		require.NoError(t, s.PutRoute(ctx, &types.HostnameRoute{Hostname: "b.acme.com", TenantID: "acme", WorkerID: "api"}))
		require.NoError(t, s.PutRoute(ctx, &types.HostnameRoute{Hostname: "c.acme.com", TenantID: "acme", WorkerID: "web"}))

		count, err := s.DeleteRoutesByWorker(ctx, "acme", "api")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		_, err = s.GetRoute(ctx, "a.acme.com")
		assert.True(t, errdefs.IsNotFound(err))
		_, err = s.GetRoute(ctx, "c.acme.com")
		assert.NoError(t, err)
	})
}

func TestTemplateCRUD(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetTemplate(ctx, "hello")
		assert.True(t, errdefs.IsNotFound(err))

		def := "world"
		template := &types.Template{
			ID:    "hello",
			Name:  "Hello",
			Files: map[string]string{"index.js": "console.log('{{greeting}}')"},
			Slots: []types.TemplateSlot{{Name: "greeting", Default: &def}},
		}
		require.NoError(t, s.PutTemplate(ctx, template))

		got, err := s.GetTemplate(ctx, "hello")
		require.NoError(t, err)
		require.Len(t, got.Slots, 1)
		require.NotNil(t, got.Slots[0].Default)
		assert.Equal(t, "world", *got.Slots[0].Default)

		list, _, err := s.ListTemplates(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.DeleteTemplate(ctx, "hello"))
		_, err = s.GetTemplate(ctx, "hello")
		assert.True(t, errdefs.IsNotFound(err))
	})
}

func TestDefaults(t *testing.T) {
	runStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetDefaults(ctx)
		assert.True(t, errdefs.IsNotFound(err))

		defaults := &types.Defaults{
			ConfigBundle: types.ConfigBundle{
				CompatibilityDate: "2026-01-24",
				Env:               map[string]string{"REGION": "us-east"},
			},
			UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.PutDefaults(ctx, defaults))

		got, err := s.GetDefaults(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2026-01-24", got.CompatibilityDate)
		assert.Equal(t, "us-east", got.Env["REGION"])
	})
}

func TestParseBundleKey(t *testing.T) {
	key, err := parseBundleKey("acme:api:v12")
	require.NoError(t, err)
	assert.Equal(t, BundleKey{TenantID: "acme", WorkerID: "api", Version: 12}, key)

	for _, malformed := range []string{"acme:api", "acme:api:12", "acme:api:vx", "a:b:c:v1"} {
		_, err := parseBundleKey(malformed)
		assert.Error(t, err, malformed)
	}
}
