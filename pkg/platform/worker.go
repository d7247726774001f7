package platform

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/hostname"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// CreateWorker deploys a new worker into a tenant: compile the source tree,
// persist the bundle as version 1, persist the record, then claim the
// requested hostnames. The bundle is written before the record so a fetch
// racing the create never observes a worker whose bundle is missing. A
// hostname conflict fails the call but leaves the deployed worker in place
// without the contested names.
func (p *Platform) CreateWorker(ctx context.Context, tenantID string, worker *types.Worker) (*types.Worker, error) {
	if err := validateID("worker", worker.ID); err != nil {
		return nil, err
	}
	if err := validateFiles(worker.Files); err != nil {
		return nil, err
	}
	if _, err := p.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if _, err := p.store.GetWorker(ctx, tenantID, worker.ID); err == nil {
		return nil, fmt.Errorf("worker %q already exists in tenant %q: %w", worker.ID, tenantID, errdefs.ErrConflict)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	bundle, fp, cached, err := p.builds.GetOrBuild(ctx, worker.Files, worker.Build)
	if err != nil {
		return nil, err
	}

	versioned := *bundle
	versioned.Version = 1
	versioned.ExpiresAt = time.Time{}
	if err := p.store.PutBundle(ctx, tenantID, worker.ID, 1, &versioned); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	worker.TenantID = tenantID
	worker.Version = 1
	worker.CreatedAt = now
	worker.UpdatedAt = now
	requested := worker.Hostnames
	worker.Hostnames = nil
	if err := p.store.PutWorker(ctx, worker); err != nil {
		return nil, err
	}

	if len(requested) > 0 {
		if err := p.hosts.Add(ctx, tenantID, worker.ID, requested); err != nil {
			return nil, fmt.Errorf("worker %s/%s deployed but hostname registration failed: %w",
				tenantID, worker.ID, err)
		}
	}

	created, err := p.store.GetWorker(ctx, tenantID, worker.ID)
	if err != nil {
		return nil, err
	}

	p.publish(&types.Event{
		Type: types.EventWorkerCreated, TenantID: tenantID, WorkerID: worker.ID,
		Data: map[string]string{"fingerprint": fp, "cached": strconv.FormatBool(cached)},
	})
	p.logger.Info().
		Str("tenant_id", tenantID).
		Str("worker_id", worker.ID).
		Str("fingerprint", fp).
		Bool("cache_hit", cached).
		Msg("worker created")
	return created, nil
}

// GetWorker returns one worker record.
func (p *Platform) GetWorker(ctx context.Context, tenantID, workerID string) (*types.Worker, error) {
	return p.store.GetWorker(ctx, tenantID, workerID)
}

// ListWorkers pages through a tenant's workers in id order.
func (p *Platform) ListWorkers(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*types.Worker, string, error) {
	if _, err := p.store.GetTenant(ctx, tenantID); err != nil {
		return nil, "", err
	}
	return p.store.ListWorkers(ctx, tenantID, opts)
}

// UpdateWorker applies a partial update and redeploys: merge the patch,
// rebuild, persist the bundle under the next version, bump the record,
// drop the cached stub, then reconcile hostnames when the patch names any.
// The superseded bundle stays behind for the sweeper so a fetch that read
// the old record mid-update can still cold start.
func (p *Platform) UpdateWorker(ctx context.Context, tenantID, workerID string, patch *types.WorkerUpdate) (*types.Worker, error) {
	worker, err := p.store.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return nil, err
	}

	if patch.Files != nil {
		if err := validateFiles(patch.Files); err != nil {
			return nil, err
		}
		worker.Files = patch.Files
	}
	worker.ConfigBundle = mergeBundle(worker.ConfigBundle, &patch.ConfigBundle)
	if patch.Build != nil {
		worker.Build = *patch.Build
	}

	bundle, fp, cached, err := p.builds.GetOrBuild(ctx, worker.Files, worker.Build)
	if err != nil {
		return nil, err
	}

	next := worker.Version + 1
	versioned := *bundle
	versioned.Version = next
	versioned.ExpiresAt = time.Time{}
	if err := p.store.PutBundle(ctx, tenantID, workerID, next, &versioned); err != nil {
		return nil, err
	}

	worker.Version = next
	worker.UpdatedAt = time.Now().UTC()
	if err := p.store.PutWorker(ctx, worker); err != nil {
		return nil, err
	}

	p.stubs.Invalidate(ctx, tenantID, workerID)

	if patch.Hostnames != nil {
		if err := p.reconcileHostnames(ctx, tenantID, workerID, patch.Hostnames); err != nil {
			return nil, fmt.Errorf("worker %s/%s updated to v%d but hostname reconciliation failed: %w",
				tenantID, workerID, next, err)
		}
	}

	updated, err := p.store.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return nil, err
	}

	p.publish(&types.Event{
		Type: types.EventWorkerUpdated, TenantID: tenantID, WorkerID: workerID,
		Data: map[string]string{
			"version":     strconv.FormatInt(next, 10),
			"fingerprint": fp,
			"cached":      strconv.FormatBool(cached),
		},
	})
	p.logger.Info().
		Str("tenant_id", tenantID).
		Str("worker_id", workerID).
		Int64("version", next).
		Str("fingerprint", fp).
		Msg("worker updated")
	return updated, nil
}

// DeleteWorker removes a worker: hostname routes and bundles concurrently,
// then the record, then the cached stub. If cleanup fails the record stays
// so the delete can be retried.
func (p *Platform) DeleteWorker(ctx context.Context, tenantID, workerID string) error {
	if _, err := p.store.GetWorker(ctx, tenantID, workerID); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.hosts.DeleteByWorker(gctx, tenantID, workerID)
		return err
	})
	g.Go(func() error {
		_, err := p.store.DeleteBundles(gctx, tenantID, workerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("cleanup for worker %s/%s failed, record kept for retry: %w",
			tenantID, workerID, err)
	}

	if err := p.store.DeleteWorker(ctx, tenantID, workerID); err != nil {
		return err
	}
	p.stubs.Invalidate(ctx, tenantID, workerID)

	p.publish(&types.Event{Type: types.EventWorkerDeleted, TenantID: tenantID, WorkerID: workerID})
	p.logger.Info().Str("tenant_id", tenantID).Str("worker_id", workerID).Msg("worker deleted")
	return nil
}

// AddHostnames claims additional hostnames for a worker.
func (p *Platform) AddHostnames(ctx context.Context, tenantID, workerID string, hostnames []string) (*types.Worker, error) {
	if len(hostnames) == 0 {
		return nil, fmt.Errorf("no hostnames given: %w", errdefs.ErrInvalidArgument)
	}
	if err := p.hosts.Add(ctx, tenantID, workerID, hostnames); err != nil {
		return nil, err
	}

	worker, err := p.store.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return nil, err
	}
	p.publish(&types.Event{
		Type: types.EventHostnameAdded, TenantID: tenantID, WorkerID: workerID,
		Data: map[string]string{"hostnames": strings.Join(hostnames, ",")},
	})
	return worker, nil
}

// RemoveHostnames releases hostnames held by a worker.
func (p *Platform) RemoveHostnames(ctx context.Context, tenantID, workerID string, hostnames []string) (*types.Worker, error) {
	if len(hostnames) == 0 {
		return nil, fmt.Errorf("no hostnames given: %w", errdefs.ErrInvalidArgument)
	}
	if err := p.hosts.Remove(ctx, tenantID, workerID, hostnames); err != nil {
		return nil, err
	}

	worker, err := p.store.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return nil, err
	}
	p.publish(&types.Event{
		Type: types.EventHostnameRemoved, TenantID: tenantID, WorkerID: workerID,
		Data: map[string]string{"hostnames": strings.Join(hostnames, ",")},
	})
	return worker, nil
}

// ResolveHostname returns the route bound to a hostname, if any.
func (p *Platform) ResolveHostname(ctx context.Context, host string) (*types.HostnameRoute, error) {
	return p.hosts.Resolve(ctx, host)
}

// ListRoutes returns every hostname binding on the platform.
func (p *Platform) ListRoutes(ctx context.Context) ([]*types.HostnameRoute, error) {
	return p.store.ListRoutes(ctx)
}

// reconcileHostnames moves a worker's hostname set to exactly the desired
// names. New names are claimed before old ones are released, so a conflict
// aborts the reconciliation without having dropped anything.
func (p *Platform) reconcileHostnames(ctx context.Context, tenantID, workerID string, desired []string) error {
	current, err := p.hosts.ListByWorker(ctx, tenantID, workerID)
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(desired))
	for _, h := range desired {
		want[hostname.Normalize(h)] = true
	}
	have := make(map[string]bool, len(current))
	for _, h := range current {
		have[h] = true
	}

	var add, remove []string
	for h := range want {
		if !have[h] {
			add = append(add, h)
		}
	}
	sort.Strings(add)
	for _, h := range current {
		if !want[h] {
			remove = append(remove, h)
		}
	}

	if len(add) > 0 {
		if err := p.hosts.Add(ctx, tenantID, workerID, add); err != nil {
			return err
		}
	}
	if len(remove) > 0 {
		if err := p.hosts.Remove(ctx, tenantID, workerID, remove); err != nil {
			return err
		}
	}
	return nil
}
