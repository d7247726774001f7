package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	memTenants      = "tenants"
	memWorkers      = "workers"
	memBundles      = "bundles"
	memFingerprints = "bundle_fingerprints"
	memHostnames    = "hostnames"
	memHostnameIdx  = "hostname_idx"
	memTemplates    = "templates"
	memDefaults     = "defaults"
)

// MemoryStore implements Store in process memory. It is the reference
// implementation used by tests and by `burrow serve --db memory`. Records
// are kept JSON-encoded so reads always return fresh copies, mirroring the
// BoltDB implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	buckets := make(map[string]map[string][]byte)
	for _, name := range []string{
		memTenants,
		memWorkers,
		memBundles,
		memFingerprints,
		memHostnames,
		memHostnameIdx,
		memTemplates,
		memDefaults,
	} {
		buckets[name] = make(map[string][]byte)
	}
	return &MemoryStore{buckets: buckets}
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) getJSON(bucket, key string, out any, what string) error {
	s.mu.RLock()
	data, ok := s.buckets[bucket][key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s %q: %w", what, key, errdefs.ErrNotFound)
	}
	return json.Unmarshal(data, out)
}

func (s *MemoryStore) putJSON(bucket, key string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.buckets[bucket][key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) delete(bucket, key string) {
	s.mu.Lock()
	delete(s.buckets[bucket], key)
	s.mu.Unlock()
}

// sortedKeys returns the bucket's keys in order, bounded by prefix and
// resuming strictly after the given key. Callers must not hold the lock.
func (s *MemoryStore) sortedKeys(bucket, prefix, after string) []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		if after != "" && k <= after {
			continue
		}
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// listJSON pages over a bucket, unmarshalling each value via visit. It
// returns the continuation cursor (absolute key) when limit stopped the scan
// early.
func (s *MemoryStore) listJSON(bucket, prefix, after string, limit int, visit func(data []byte) error) (string, error) {
	keys := s.sortedKeys(bucket, prefix, after)
	for i, k := range keys {
		s.mu.RLock()
		data, ok := s.buckets[bucket][k]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := visit(data); err != nil {
			return "", err
		}
		if limit > 0 && i+1 == limit {
			if i+1 < len(keys) {
				return k, nil
			}
			return "", nil
		}
	}
	return "", nil
}

// Tenant operations

func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	if err := s.getJSON(memTenants, id, &tenant, "tenant"); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *MemoryStore) PutTenant(ctx context.Context, tenant *types.Tenant) error {
	return s.putJSON(memTenants, tenant.ID, tenant)
}

func (s *MemoryStore) DeleteTenant(ctx context.Context, id string) error {
	s.delete(memTenants, id)
	return nil
}

func (s *MemoryStore) ListTenants(ctx context.Context, opts ListOptions) ([]*types.Tenant, string, error) {
	var tenants []*types.Tenant
	cursor, err := s.listJSON(memTenants, opts.Prefix, opts.Cursor, opts.Limit, func(data []byte) error {
		var tenant types.Tenant
		if err := json.Unmarshal(data, &tenant); err != nil {
			return err
		}
		tenants = append(tenants, &tenant)
		return nil
	})
	return tenants, cursor, err
}

// Worker operations

func (s *MemoryStore) GetWorker(ctx context.Context, tenantID, workerID string) (*types.Worker, error) {
	var worker types.Worker
	if err := s.getJSON(memWorkers, workerKey(tenantID, workerID), &worker, "worker"); err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *MemoryStore) PutWorker(ctx context.Context, worker *types.Worker) error {
	return s.putJSON(memWorkers, workerKey(worker.TenantID, worker.ID), worker)
}

func (s *MemoryStore) DeleteWorker(ctx context.Context, tenantID, workerID string) error {
	s.delete(memWorkers, workerKey(tenantID, workerID))
	return nil
}

func (s *MemoryStore) ListWorkers(ctx context.Context, tenantID string, opts ListOptions) ([]*types.Worker, string, error) {
	after := ""
	if opts.Cursor != "" {
		after = workerKey(tenantID, opts.Cursor)
	}
	var workers []*types.Worker
	cursor, err := s.listJSON(memWorkers, tenantID+":"+opts.Prefix, after, opts.Limit, func(data []byte) error {
		var worker types.Worker
		if err := json.Unmarshal(data, &worker); err != nil {
			return err
		}
		workers = append(workers, &worker)
		return nil
	})
	return workers, strings.TrimPrefix(cursor, tenantID+":"), err
}

func (s *MemoryStore) DeleteWorkers(ctx context.Context, tenantID string) (int, error) {
	keys := s.sortedKeys(memWorkers, tenantID+":", "")
	for _, k := range keys {
		s.delete(memWorkers, k)
	}
	return len(keys), nil
}

// Bundle operations

func (s *MemoryStore) GetBundle(ctx context.Context, tenantID, workerID string, version int64) (*types.Bundle, error) {
	var bundle types.Bundle
	if err := s.getJSON(memBundles, bundleKey(tenantID, workerID, version), &bundle, "bundle"); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *MemoryStore) PutBundle(ctx context.Context, tenantID, workerID string, version int64, bundle *types.Bundle) error {
	return s.putJSON(memBundles, bundleKey(tenantID, workerID, version), bundle)
}

func (s *MemoryStore) DeleteBundle(ctx context.Context, tenantID, workerID string, version int64) error {
	s.delete(memBundles, bundleKey(tenantID, workerID, version))
	return nil
}

func (s *MemoryStore) DeleteBundles(ctx context.Context, tenantID, workerID string) (int, error) {
	keys := s.sortedKeys(memBundles, tenantID+":"+workerID+":v", "")
	for _, k := range keys {
		s.delete(memBundles, k)
	}
	return len(keys), nil
}

func (s *MemoryStore) ListBundleKeys(ctx context.Context) ([]BundleKey, error) {
	var keys []BundleKey
	for _, k := range s.sortedKeys(memBundles, "", "") {
		parsed, err := parseBundleKey(k)
		if err != nil {
			return nil, err
		}
		keys = append(keys, parsed)
	}
	return keys, nil
}

func (s *MemoryStore) GetBundleByFingerprint(ctx context.Context, fingerprint string) (*types.Bundle, error) {
	var bundle types.Bundle
	if err := s.getJSON(memFingerprints, fingerprint, &bundle, "bundle fingerprint"); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *MemoryStore) PutBundleByFingerprint(ctx context.Context, fingerprint string, bundle *types.Bundle) error {
	return s.putJSON(memFingerprints, fingerprint, bundle)
}

func (s *MemoryStore) DeleteBundleByFingerprint(ctx context.Context, fingerprint string) error {
	s.delete(memFingerprints, fingerprint)
	return nil
}

func (s *MemoryStore) DeleteExpiredFingerprints(ctx context.Context, now time.Time) (int, error) {
	count := 0
	for _, k := range s.sortedKeys(memFingerprints, "", "") {
		var bundle types.Bundle
		if err := s.getJSON(memFingerprints, k, &bundle, "bundle fingerprint"); err != nil {
			continue
		}
		if bundle.Expired(now) {
			s.delete(memFingerprints, k)
			count++
		}
	}
	return count, nil
}

// Hostname operations. The forward route and the reverse index entry are
// updated under one lock acquisition.

func (s *MemoryStore) GetRoute(ctx context.Context, hostname string) (*types.HostnameRoute, error) {
	var route types.HostnameRoute
	if err := s.getJSON(memHostnames, hostname, &route, "hostname"); err != nil {
		return nil, err
	}
	return &route, nil
}

func (s *MemoryStore) PutRoute(ctx context.Context, route *types.HostnameRoute) error {
	data, err := json.Marshal(route)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.buckets[memHostnames][route.Hostname]; ok {
		var prev types.HostnameRoute
		if err := json.Unmarshal(old, &prev); err == nil {
			if prev.TenantID != route.TenantID || prev.WorkerID != route.WorkerID {
				delete(s.buckets[memHostnameIdx], routeIndexKey(prev.TenantID, prev.WorkerID, prev.Hostname))
			}
		}
	}

	s.buckets[memHostnames][route.Hostname] = data
	s.buckets[memHostnameIdx][routeIndexKey(route.TenantID, route.WorkerID, route.Hostname)] = []byte("1")
	return nil
}

func (s *MemoryStore) DeleteRoute(ctx context.Context, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.buckets[memHostnames][hostname]
	if !ok {
		return nil
	}
	var route types.HostnameRoute
	if err := json.Unmarshal(data, &route); err != nil {
		return err
	}
	delete(s.buckets[memHostnames], hostname)
	delete(s.buckets[memHostnameIdx], routeIndexKey(route.TenantID, route.WorkerID, route.Hostname))
	return nil
}

func (s *MemoryStore) ListRoutesByWorker(ctx context.Context, tenantID, workerID string) ([]string, error) {
	prefix := tenantID + ":" + workerID + ":"
	var hostnames []string
	for _, k := range s.sortedKeys(memHostnameIdx, prefix, "") {
		hostnames = append(hostnames, strings.TrimPrefix(k, prefix))
	}
	return hostnames, nil
}

func (s *MemoryStore) DeleteRoutesByWorker(ctx context.Context, tenantID, workerID string) (int, error) {
	prefix := tenantID + ":" + workerID + ":"
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for k := range s.buckets[memHostnameIdx] {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		hostname := strings.TrimPrefix(k, prefix)
		delete(s.buckets[memHostnames], hostname)
		delete(s.buckets[memHostnameIdx], k)
		count++
	}
	return count, nil
}

func (s *MemoryStore) ListRoutes(ctx context.Context) ([]*types.HostnameRoute, error) {
	var routes []*types.HostnameRoute
	_, err := s.listJSON(memHostnames, "", "", 0, func(data []byte) error {
		var route types.HostnameRoute
		if err := json.Unmarshal(data, &route); err != nil {
			return err
		}
		routes = append(routes, &route)
		return nil
	})
	return routes, err
}

// Template operations

func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (*types.Template, error) {
	var template types.Template
	if err := s.getJSON(memTemplates, id, &template, "template"); err != nil {
		return nil, err
	}
	return &template, nil
}

func (s *MemoryStore) PutTemplate(ctx context.Context, template *types.Template) error {
	return s.putJSON(memTemplates, template.ID, template)
}

func (s *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	s.delete(memTemplates, id)
	return nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context, opts ListOptions) ([]*types.Template, string, error) {
	var templates []*types.Template
	cursor, err := s.listJSON(memTemplates, opts.Prefix, opts.Cursor, opts.Limit, func(data []byte) error {
		var template types.Template
		if err := json.Unmarshal(data, &template); err != nil {
			return err
		}
		templates = append(templates, &template)
		return nil
	})
	return templates, cursor, err
}

// Defaults operations

func (s *MemoryStore) GetDefaults(ctx context.Context) (*types.Defaults, error) {
	var defaults types.Defaults
	if err := s.getJSON(memDefaults, string(defaultsKey), &defaults, "platform defaults"); err != nil {
		return nil, err
	}
	return &defaults, nil
}

func (s *MemoryStore) PutDefaults(ctx context.Context, defaults *types.Defaults) error {
	return s.putJSON(memDefaults, string(defaultsKey), defaults)
}
