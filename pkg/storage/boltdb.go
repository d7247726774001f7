package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTenants      = []byte("tenants")
	bucketWorkers      = []byte("workers")
	bucketBundles      = []byte("bundles")
	bucketFingerprints = []byte("bundle_fingerprints")
	bucketHostnames    = []byte("hostnames")
	bucketHostnameIdx  = []byte("hostname_idx")
	bucketTemplates    = []byte("templates")
	bucketDefaults     = []byte("defaults")
)

// defaultsKey is the fixed key for the platform-wide default config.
var defaultsKey = []byte("platform-defaults")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTenants,
			bucketWorkers,
			bucketBundles,
			bucketFingerprints,
			bucketHostnames,
			bucketHostnameIdx,
			bucketTemplates,
			bucketDefaults,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// scanOpts bounds a key scan inside one bucket. after resumes strictly past
// a key; prefix limits the range; limit 0 means unlimited.
type scanOpts struct {
	prefix string
	after  string
	limit  int
}

// scanBucket walks keys in order, calling visit for each. It returns the key
// to resume from when the scan stopped early because of limit, or "" when
// the range was exhausted.
func scanBucket(b *bolt.Bucket, o scanOpts, visit func(k, v []byte) error) (string, error) {
	c := b.Cursor()
	var k, v []byte
	switch {
	case o.after != "":
		k, v = c.Seek([]byte(o.after))
		if k != nil && string(k) == o.after {
			k, v = c.Next()
		}
	case o.prefix != "":
		k, v = c.Seek([]byte(o.prefix))
	default:
		k, v = c.First()
	}

	count := 0
	for ; k != nil; k, v = c.Next() {
		if o.prefix != "" && !strings.HasPrefix(string(k), o.prefix) {
			return "", nil
		}
		if err := visit(k, v); err != nil {
			return "", err
		}
		count++
		if o.limit > 0 && count == o.limit {
			last := string(k)
			next, _ := c.Next()
			if next != nil && (o.prefix == "" || strings.HasPrefix(string(next), o.prefix)) {
				return last, nil
			}
			return "", nil
		}
	}
	return "", nil
}

// Tenant operations

func (s *BoltStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("tenant %q: %w", id, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &tenant)
	})
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *BoltStore) PutTenant(ctx context.Context, tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		data, err := json.Marshal(tenant)
		if err != nil {
			return err
		}
		return b.Put([]byte(tenant.ID), data)
	})
}

func (s *BoltStore) DeleteTenant(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListTenants(ctx context.Context, opts ListOptions) ([]*types.Tenant, string, error) {
	var tenants []*types.Tenant
	var cursor string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		next, err := scanBucket(b, scanOpts{prefix: opts.Prefix, after: opts.Cursor, limit: opts.Limit}, func(k, v []byte) error {
			var tenant types.Tenant
			if err := json.Unmarshal(v, &tenant); err != nil {
				return err
			}
			tenants = append(tenants, &tenant)
			return nil
		})
		cursor = next
		return err
	})
	return tenants, cursor, err
}

// Worker operations

func (s *BoltStore) GetWorker(ctx context.Context, tenantID, workerID string) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(workerKey(tenantID, workerID)))
		if data == nil {
			return fmt.Errorf("worker %q: %w", workerKey(tenantID, workerID), errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) PutWorker(ctx context.Context, worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return b.Put([]byte(workerKey(worker.TenantID, worker.ID)), data)
	})
}

func (s *BoltStore) DeleteWorker(ctx context.Context, tenantID, workerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.Delete([]byte(workerKey(tenantID, workerID)))
	})
}

func (s *BoltStore) ListWorkers(ctx context.Context, tenantID string, opts ListOptions) ([]*types.Worker, string, error) {
	var workers []*types.Worker
	var cursor string
	prefix := tenantID + ":" + opts.Prefix
	after := ""
	if opts.Cursor != "" {
		after = workerKey(tenantID, opts.Cursor)
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		next, err := scanBucket(b, scanOpts{prefix: prefix, after: after, limit: opts.Limit}, func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
		cursor = strings.TrimPrefix(next, tenantID+":")
		return err
	})
	return workers, cursor, err
}

func (s *BoltStore) DeleteWorkers(ctx context.Context, tenantID string) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		var keys [][]byte
		_, err := scanBucket(b, scanOpts{prefix: tenantID + ":"}, func(k, v []byte) error {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := b.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Bundle operations

func (s *BoltStore) GetBundle(ctx context.Context, tenantID, workerID string, version int64) (*types.Bundle, error) {
	var bundle types.Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		data := b.Get([]byte(bundleKey(tenantID, workerID, version)))
		if data == nil {
			return fmt.Errorf("bundle %q: %w", bundleKey(tenantID, workerID, version), errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &bundle)
	})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *BoltStore) PutBundle(ctx context.Context, tenantID, workerID string, version int64, bundle *types.Bundle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		data, err := json.Marshal(bundle)
		if err != nil {
			return err
		}
		return b.Put([]byte(bundleKey(tenantID, workerID, version)), data)
	})
}

func (s *BoltStore) DeleteBundle(ctx context.Context, tenantID, workerID string, version int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		return b.Delete([]byte(bundleKey(tenantID, workerID, version)))
	})
}

func (s *BoltStore) DeleteBundles(ctx context.Context, tenantID, workerID string) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		var keys [][]byte
		_, err := scanBucket(b, scanOpts{prefix: tenantID + ":" + workerID + ":v"}, func(k, v []byte) error {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := b.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *BoltStore) ListBundleKeys(ctx context.Context) ([]BundleKey, error) {
	var keys []BundleKey
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBundles)
		_, err := scanBucket(b, scanOpts{}, func(k, v []byte) error {
			parsed, err := parseBundleKey(string(k))
			if err != nil {
				return err
			}
			keys = append(keys, parsed)
			return nil
		})
		return err
	})
	return keys, err
}

func (s *BoltStore) GetBundleByFingerprint(ctx context.Context, fingerprint string) (*types.Bundle, error) {
	var bundle types.Bundle
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprints)
		data := b.Get([]byte(fingerprint))
		if data == nil {
			return fmt.Errorf("bundle fingerprint %q: %w", fingerprint, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &bundle)
	})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *BoltStore) PutBundleByFingerprint(ctx context.Context, fingerprint string, bundle *types.Bundle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprints)
		data, err := json.Marshal(bundle)
		if err != nil {
			return err
		}
		return b.Put([]byte(fingerprint), data)
	})
}

func (s *BoltStore) DeleteBundleByFingerprint(ctx context.Context, fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprints)
		return b.Delete([]byte(fingerprint))
	})
}

func (s *BoltStore) DeleteExpiredFingerprints(ctx context.Context, now time.Time) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprints)
		var keys [][]byte
		_, err := scanBucket(b, scanOpts{}, func(k, v []byte) error {
			var bundle types.Bundle
			if err := json.Unmarshal(v, &bundle); err != nil {
				return err
			}
			if bundle.Expired(now) {
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := b.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Hostname operations. The forward route and the per-worker reverse index
// entry are written and removed in a single transaction.

func (s *BoltStore) GetRoute(ctx context.Context, hostname string) (*types.HostnameRoute, error) {
	var route types.HostnameRoute
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostnames)
		data := b.Get([]byte(hostname))
		if data == nil {
			return fmt.Errorf("hostname %q: %w", hostname, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &route)
	})
	if err != nil {
		return nil, err
	}
	return &route, nil
}

func (s *BoltStore) PutRoute(ctx context.Context, route *types.HostnameRoute) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		fwd := tx.Bucket(bucketHostnames)
		idx := tx.Bucket(bucketHostnameIdx)

		// Drop the previous owner's reverse entry when rebinding.
		if old := fwd.Get([]byte(route.Hostname)); old != nil {
			var prev types.HostnameRoute
			if err := json.Unmarshal(old, &prev); err == nil {
				if prev.TenantID != route.TenantID || prev.WorkerID != route.WorkerID {
					if err := idx.Delete([]byte(routeIndexKey(prev.TenantID, prev.WorkerID, prev.Hostname))); err != nil {
						return err
					}
				}
			}
		}

		data, err := json.Marshal(route)
		if err != nil {
			return err
		}
		if err := fwd.Put([]byte(route.Hostname), data); err != nil {
			return err
		}
		return idx.Put([]byte(routeIndexKey(route.TenantID, route.WorkerID, route.Hostname)), []byte("1"))
	})
}

func (s *BoltStore) DeleteRoute(ctx context.Context, hostname string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		fwd := tx.Bucket(bucketHostnames)
		idx := tx.Bucket(bucketHostnameIdx)

		data := fwd.Get([]byte(hostname))
		if data == nil {
			return nil
		}
		var route types.HostnameRoute
		if err := json.Unmarshal(data, &route); err != nil {
			return err
		}
		if err := fwd.Delete([]byte(hostname)); err != nil {
			return err
		}
		return idx.Delete([]byte(routeIndexKey(route.TenantID, route.WorkerID, route.Hostname)))
	})
}

func (s *BoltStore) ListRoutesByWorker(ctx context.Context, tenantID, workerID string) ([]string, error) {
	var hostnames []string
	prefix := tenantID + ":" + workerID + ":"
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketHostnameIdx)
		_, err := scanBucket(idx, scanOpts{prefix: prefix}, func(k, v []byte) error {
			hostnames = append(hostnames, strings.TrimPrefix(string(k), prefix))
			return nil
		})
		return err
	})
	return hostnames, err
}

func (s *BoltStore) DeleteRoutesByWorker(ctx context.Context, tenantID, workerID string) (int, error) {
	count := 0
	prefix := tenantID + ":" + workerID + ":"
	err := s.db.Update(func(tx *bolt.Tx) error {
		fwd := tx.Bucket(bucketHostnames)
		idx := tx.Bucket(bucketHostnameIdx)

		var keys [][]byte
		_, err := scanBucket(idx, scanOpts{prefix: prefix}, func(k, v []byte) error {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			hostname := strings.TrimPrefix(string(key), prefix)
			if err := fwd.Delete([]byte(hostname)); err != nil {
				return err
			}
			if err := idx.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *BoltStore) ListRoutes(ctx context.Context) ([]*types.HostnameRoute, error) {
	var routes []*types.HostnameRoute
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostnames)
		_, err := scanBucket(b, scanOpts{}, func(k, v []byte) error {
			var route types.HostnameRoute
			if err := json.Unmarshal(v, &route); err != nil {
				return err
			}
			routes = append(routes, &route)
			return nil
		})
		return err
	})
	return routes, err
}

// Template operations

func (s *BoltStore) GetTemplate(ctx context.Context, id string) (*types.Template, error) {
	var template types.Template
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTemplates)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("template %q: %w", id, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &template)
	})
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (s *BoltStore) PutTemplate(ctx context.Context, template *types.Template) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTemplates)
		data, err := json.Marshal(template)
		if err != nil {
			return err
		}
		return b.Put([]byte(template.ID), data)
	})
}

func (s *BoltStore) DeleteTemplate(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTemplates)
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListTemplates(ctx context.Context, opts ListOptions) ([]*types.Template, string, error) {
	var templates []*types.Template
	var cursor string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTemplates)
		next, err := scanBucket(b, scanOpts{prefix: opts.Prefix, after: opts.Cursor, limit: opts.Limit}, func(k, v []byte) error {
			var template types.Template
			if err := json.Unmarshal(v, &template); err != nil {
				return err
			}
			templates = append(templates, &template)
			return nil
		})
		cursor = next
		return err
	})
	return templates, cursor, err
}

// Defaults operations

func (s *BoltStore) GetDefaults(ctx context.Context) (*types.Defaults, error) {
	var defaults types.Defaults
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDefaults)
		data := b.Get(defaultsKey)
		if data == nil {
			return fmt.Errorf("platform defaults: %w", errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &defaults)
	})
	if err != nil {
		return nil, err
	}
	return &defaults, nil
}

func (s *BoltStore) PutDefaults(ctx context.Context, defaults *types.Defaults) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDefaults)
		data, err := json.Marshal(defaults)
		if err != nil {
			return err
		}
		return b.Put(defaultsKey, data)
	})
}
