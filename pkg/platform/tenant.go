package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/hashicorp/go-multierror"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// CreateTenant registers a new tenant. The id must be unique across the
// platform.
func (p *Platform) CreateTenant(ctx context.Context, tenant *types.Tenant) (*types.Tenant, error) {
	if err := validateID("tenant", tenant.ID); err != nil {
		return nil, err
	}
	if _, err := p.store.GetTenant(ctx, tenant.ID); err == nil {
		return nil, fmt.Errorf("tenant %q already exists: %w", tenant.ID, errdefs.ErrConflict)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if err := p.store.PutTenant(ctx, tenant); err != nil {
		return nil, err
	}

	p.publish(&types.Event{Type: types.EventTenantCreated, TenantID: tenant.ID})
	p.logger.Info().Str("tenant_id", tenant.ID).Msg("tenant created")
	return tenant, nil
}

// GetTenant returns one tenant record.
func (p *Platform) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	return p.store.GetTenant(ctx, id)
}

// ListTenants pages through tenant records in id order.
func (p *Platform) ListTenants(ctx context.Context, opts storage.ListOptions) ([]*types.Tenant, string, error) {
	return p.store.ListTenants(ctx, opts)
}

// UpdateTenant merges a config patch into a tenant. Workers of the tenant
// inherit the change on their next cold start, so their cached stubs are
// invalidated.
func (p *Platform) UpdateTenant(ctx context.Context, id string, patch *types.ConfigBundle) (*types.Tenant, error) {
	tenant, err := p.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	tenant.ConfigBundle = mergeBundle(tenant.ConfigBundle, patch)
	tenant.UpdatedAt = time.Now().UTC()
	if err := p.store.PutTenant(ctx, tenant); err != nil {
		return nil, err
	}

	p.stubs.InvalidateTenant(ctx, id)
	p.publish(&types.Event{Type: types.EventTenantUpdated, TenantID: id})
	p.logger.Info().Str("tenant_id", id).Msg("tenant updated, stubs invalidated")
	return tenant, nil
}

// DeleteTenant removes a tenant and everything it owns: each worker with
// its routes, bundles and stubs, then the tenant record itself. A failure
// mid-cascade leaves the remainder intact and keeps the tenant record so
// the delete can be retried.
func (p *Platform) DeleteTenant(ctx context.Context, id string) error {
	if id == p.systemTenant {
		return fmt.Errorf("tenant %q is reserved and cannot be deleted: %w", id, errdefs.ErrInvalidArgument)
	}
	if _, err := p.store.GetTenant(ctx, id); err != nil {
		return err
	}

	var merr *multierror.Error
	cursor := ""
	for {
		workers, next, err := p.store.ListWorkers(ctx, id, storage.ListOptions{Limit: 200, Cursor: cursor})
		if err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		for _, w := range workers {
			if err := p.DeleteWorker(ctx, id, w.ID); err != nil && !errdefs.IsNotFound(err) {
				merr = multierror.Append(merr, fmt.Errorf("worker %s: %w", w.ID, err))
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("cascade delete of tenant %q incomplete: %w", id, err)
	}

	if err := p.store.DeleteTenant(ctx, id); err != nil {
		return err
	}

	p.stubs.InvalidateTenant(ctx, id)
	p.publish(&types.Event{Type: types.EventTenantDeleted, TenantID: id})
	p.logger.Info().Str("tenant_id", id).Msg("tenant deleted")
	return nil
}
