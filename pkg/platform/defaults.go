package platform

import (
	"context"
	"time"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
)

// GetDefaults returns the platform-wide default configuration. A platform
// that has never been configured returns an empty bundle, not an error.
func (p *Platform) GetDefaults(ctx context.Context) (*types.Defaults, error) {
	return p.loadDefaults(ctx)
}

// UpdateDefaults merges a patch into the platform defaults. The store is
// written before caches are touched, so a crash between the two leaves
// stale stubs that resolve on their next invalidation rather than a store
// that disagrees with what just ran.
func (p *Platform) UpdateDefaults(ctx context.Context, patch *types.ConfigBundle) (*types.Defaults, error) {
	current, err := p.loadDefaults(ctx)
	if err != nil {
		return nil, err
	}

	updated := &types.Defaults{
		ConfigBundle: mergeBundle(current.ConfigBundle, patch),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := p.store.PutDefaults(ctx, updated); err != nil {
		return nil, err
	}

	p.defaultsMu.Lock()
	p.defaults = updated
	p.defaultsMu.Unlock()

	p.stubs.InvalidateAll(ctx)
	p.publish(&types.Event{Type: types.EventDefaultsUpdated, Message: "platform defaults updated"})
	p.logger.Info().Msg("defaults updated, all stubs invalidated")
	return updated, nil
}

// loadDefaults returns the cached defaults, reading through to the store
// on first use.
func (p *Platform) loadDefaults(ctx context.Context) (*types.Defaults, error) {
	p.defaultsMu.RLock()
	cached := p.defaults
	p.defaultsMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	stored, err := p.store.GetDefaults(ctx)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return nil, err
		}
		stored = &types.Defaults{}
	}

	p.defaultsMu.Lock()
	if p.defaults == nil {
		p.defaults = stored
	}
	stored = p.defaults
	p.defaultsMu.Unlock()
	return stored, nil
}

// effectiveConfig resolves the inheritance chain for one worker-shaped
// config: defaults, then tenant, then the given bundle.
func (p *Platform) effectiveConfig(ctx context.Context, tenant *types.Tenant, worker *types.ConfigBundle) (types.EffectiveConfig, error) {
	defaults, err := p.loadDefaults(ctx)
	if err != nil {
		return types.EffectiveConfig{}, err
	}
	var tenantCfg *types.ConfigBundle
	if tenant != nil {
		tenantCfg = &tenant.ConfigBundle
	}
	return config.Resolve(&defaults.ConfigBundle, tenantCfg, worker), nil
}

// mergeBundle applies a partial config on top of a base. Set fields replace
// the base value wholesale; clearing a field back to "inherit" is done by
// replacing the whole owning record, not through a patch.
func mergeBundle(base types.ConfigBundle, patch *types.ConfigBundle) types.ConfigBundle {
	if patch == nil {
		return base
	}
	if patch.Env != nil {
		base.Env = patch.Env
	}
	if patch.CompatibilityDate != "" {
		base.CompatibilityDate = patch.CompatibilityDate
	}
	if patch.CompatibilityFlags != nil {
		base.CompatibilityFlags = patch.CompatibilityFlags
	}
	if patch.Limits != nil {
		base.Limits = patch.Limits
	}
	if patch.GlobalOutbound != "" {
		base.GlobalOutbound = patch.GlobalOutbound
	}
	if patch.Tails != nil {
		base.Tails = patch.Tails
	}
	return base
}
