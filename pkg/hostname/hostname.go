// Package hostname maintains the exclusive hostname to worker binding. The
// forward route and its reverse index are written atomically by the store;
// this package adds normalization, ownership checks, conflict detection
// with rollback, and keeps the owning worker's hostname set in sync.
package hostname

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// hostPattern accepts DNS names after normalization. IP literals are not
// routable hostnames here.
var hostPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)

// Normalize canonicalizes a hostname for storage and lookup: trimmed,
// lowercased, port stripped.
func Normalize(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func validate(host string) error {
	if host == "" {
		return fmt.Errorf("hostname is empty: %w", errdefs.ErrInvalidArgument)
	}
	if len(host) > 253 || !hostPattern.MatchString(host) {
		return fmt.Errorf("invalid hostname %q: %w", host, errdefs.ErrInvalidArgument)
	}
	return nil
}

// Index is the hostname routing table.
type Index struct {
	routes  storage.HostnameStore
	workers storage.WorkerStore
	logger  zerolog.Logger
}

// NewIndex creates a hostname index over the given stores.
func NewIndex(routes storage.HostnameStore, workers storage.WorkerStore) *Index {
	return &Index{
		routes:  routes,
		workers: workers,
		logger:  log.WithComponent("hostname"),
	}
}

// Resolve returns the route for a hostname, normalized first.
func (i *Index) Resolve(ctx context.Context, host string) (*types.HostnameRoute, error) {
	normalized := Normalize(host)
	if normalized == "" {
		return nil, fmt.Errorf("hostname is empty: %w", errdefs.ErrInvalidArgument)
	}
	return i.routes.GetRoute(ctx, normalized)
}

// Add claims hostnames for a worker. Every hostname must be unclaimed or
// already owned by the same worker; on conflict the hostnames written by
// this call are released again and the worker record is left untouched.
// After a successful claim the worker's hostname set is re-synced from the
// reverse index.
func (i *Index) Add(ctx context.Context, tenantID, workerID string, hostnames []string) error {
	normalized, err := normalizeAll(hostnames)
	if err != nil {
		return err
	}

	var written []string
	rollback := func() {
		for _, host := range written {
			route, err := i.routes.GetRoute(ctx, host)
			if err != nil || route.TenantID != tenantID || route.WorkerID != workerID {
				continue
			}
			if err := i.routes.DeleteRoute(ctx, host); err != nil {
				i.logger.Warn().Err(err).Str("hostname", host).Msg("Rollback failed to release hostname")
			}
		}
	}

	for _, host := range normalized {
		existing, err := i.routes.GetRoute(ctx, host)
		if err == nil {
			if existing.TenantID == tenantID && existing.WorkerID == workerID {
				continue
			}
			rollback()
			return fmt.Errorf("hostname %q already claimed by %s/%s: %w",
				host, existing.TenantID, existing.WorkerID, errdefs.ErrConflict)
		}
		if !errdefs.IsNotFound(err) {
			rollback()
			return err
		}

		route := &types.HostnameRoute{Hostname: host, TenantID: tenantID, WorkerID: workerID}
		if err := i.routes.PutRoute(ctx, route); err != nil {
			rollback()
			return err
		}

		// Compare after write: without conditional writes, a racing
		// claim is detected by re-reading; the loser backs out.
		check, err := i.routes.GetRoute(ctx, host)
		if err != nil {
			rollback()
			return err
		}
		if check.TenantID != tenantID || check.WorkerID != workerID {
			rollback()
			return fmt.Errorf("hostname %q claimed concurrently by %s/%s: %w",
				host, check.TenantID, check.WorkerID, errdefs.ErrConflict)
		}
		written = append(written, host)
	}

	return i.syncWorker(ctx, tenantID, workerID)
}

// Remove releases hostnames owned by a worker and shrinks its hostname
// set. Releasing an unclaimed hostname is a no-op; releasing one owned by
// another worker is a conflict.
func (i *Index) Remove(ctx context.Context, tenantID, workerID string, hostnames []string) error {
	normalized, err := normalizeAll(hostnames)
	if err != nil {
		return err
	}

	for _, host := range normalized {
		route, err := i.routes.GetRoute(ctx, host)
		if errdefs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if route.TenantID != tenantID || route.WorkerID != workerID {
			return fmt.Errorf("hostname %q owned by %s/%s, not %s/%s: %w",
				host, route.TenantID, route.WorkerID, tenantID, workerID, errdefs.ErrConflict)
		}
		if err := i.routes.DeleteRoute(ctx, host); err != nil {
			return err
		}
	}

	return i.syncWorker(ctx, tenantID, workerID)
}

// ListByWorker returns a worker's hostnames from the reverse index, sorted.
func (i *Index) ListByWorker(ctx context.Context, tenantID, workerID string) ([]string, error) {
	hosts, err := i.routes.ListRoutesByWorker(ctx, tenantID, workerID)
	if err != nil {
		return nil, err
	}
	sort.Strings(hosts)
	return hosts, nil
}

// DeleteByWorker releases every hostname a worker owns, reporting how many.
// The worker record is not rewritten; this runs as part of worker deletion.
func (i *Index) DeleteByWorker(ctx context.Context, tenantID, workerID string) (int, error) {
	return i.routes.DeleteRoutesByWorker(ctx, tenantID, workerID)
}

// syncWorker rewrites the worker's hostname set from the reverse index when
// it drifted. The version is not bumped; hostname changes are not deploys.
func (i *Index) syncWorker(ctx context.Context, tenantID, workerID string) error {
	worker, err := i.workers.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return err
	}

	hosts, err := i.routes.ListRoutesByWorker(ctx, tenantID, workerID)
	if err != nil {
		return err
	}
	sort.Strings(hosts)

	if equalStrings(worker.Hostnames, hosts) {
		return nil
	}
	worker.Hostnames = hosts
	worker.UpdatedAt = time.Now().UTC()
	return i.workers.PutWorker(ctx, worker)
}

func normalizeAll(hostnames []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(hostnames))
	for _, h := range hostnames {
		n := Normalize(h)
		if err := validate(n); err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
