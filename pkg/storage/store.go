package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// ListOptions controls pagination for list operations. Cursor is the opaque
// continuation token returned by a previous call; Limit 0 means unlimited.
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
}

// BundleKey identifies one versioned bundle record.
type BundleKey struct {
	TenantID string
	WorkerID string
	Version  int64
}

// TenantStore persists tenant records
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	PutTenant(ctx context.Context, tenant *types.Tenant) error
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context, opts ListOptions) ([]*types.Tenant, string, error)
}

// WorkerStore persists worker records keyed by (tenantId, workerId)
type WorkerStore interface {
	GetWorker(ctx context.Context, tenantID, workerID string) (*types.Worker, error)
	PutWorker(ctx context.Context, worker *types.Worker) error
	DeleteWorker(ctx context.Context, tenantID, workerID string) error
	ListWorkers(ctx context.Context, tenantID string, opts ListOptions) ([]*types.Worker, string, error)
	DeleteWorkers(ctx context.Context, tenantID string) (int, error)
}

// BundleStore persists compiled bundles, both versioned (per worker) and
// fingerprint-keyed (ephemeral build cache)
type BundleStore interface {
	GetBundle(ctx context.Context, tenantID, workerID string, version int64) (*types.Bundle, error)
	PutBundle(ctx context.Context, tenantID, workerID string, version int64, bundle *types.Bundle) error
	DeleteBundle(ctx context.Context, tenantID, workerID string, version int64) error
	DeleteBundles(ctx context.Context, tenantID, workerID string) (int, error)
	ListBundleKeys(ctx context.Context) ([]BundleKey, error)

	GetBundleByFingerprint(ctx context.Context, fingerprint string) (*types.Bundle, error)
	PutBundleByFingerprint(ctx context.Context, fingerprint string, bundle *types.Bundle) error
	DeleteBundleByFingerprint(ctx context.Context, fingerprint string) error
	DeleteExpiredFingerprints(ctx context.Context, now time.Time) (int, error)
}

// HostnameStore persists the forward hostname->worker binding plus a reverse
// index per worker. Implementations must write forward and reverse entries
// atomically (single transaction or single critical section).
type HostnameStore interface {
	GetRoute(ctx context.Context, hostname string) (*types.HostnameRoute, error)
	PutRoute(ctx context.Context, route *types.HostnameRoute) error
	DeleteRoute(ctx context.Context, hostname string) error
	ListRoutesByWorker(ctx context.Context, tenantID, workerID string) ([]string, error)
	DeleteRoutesByWorker(ctx context.Context, tenantID, workerID string) (int, error)
	ListRoutes(ctx context.Context) ([]*types.HostnameRoute, error)
}

// TemplateStore persists worker templates
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*types.Template, error)
	PutTemplate(ctx context.Context, template *types.Template) error
	DeleteTemplate(ctx context.Context, id string) error
	ListTemplates(ctx context.Context, opts ListOptions) ([]*types.Template, string, error)
}

// DefaultsStore persists the platform-wide default config
type DefaultsStore interface {
	GetDefaults(ctx context.Context) (*types.Defaults, error)
	PutDefaults(ctx context.Context, defaults *types.Defaults) error
}

// Store is the combined persistence surface the platform facade consumes
type Store interface {
	TenantStore
	WorkerStore
	BundleStore
	HostnameStore
	TemplateStore
	DefaultsStore

	Close() error
}

// Composite key helpers shared by all implementations. Record ids are
// validated upstream to exclude ':' so the encoding is unambiguous.

func workerKey(tenantID, workerID string) string {
	return tenantID + ":" + workerID
}

func bundleKey(tenantID, workerID string, version int64) string {
	return fmt.Sprintf("%s:%s:v%d", tenantID, workerID, version)
}

func routeIndexKey(tenantID, workerID, hostname string) string {
	return tenantID + ":" + workerID + ":" + hostname
}

func parseBundleKey(key string) (BundleKey, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "v") {
		return BundleKey{}, fmt.Errorf("malformed bundle key: %s", key)
	}
	version, err := strconv.ParseInt(parts[2][1:], 10, 64)
	if err != nil {
		return BundleKey{}, fmt.Errorf("malformed bundle key: %s", key)
	}
	return BundleKey{TenantID: parts[0], WorkerID: parts[1], Version: version}, nil
}
