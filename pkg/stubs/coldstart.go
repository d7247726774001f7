package stubs

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Descriptor combines a compiled bundle with an effective configuration
// into the shape the runtime instantiates from.
func Descriptor(bundle *types.Bundle, cfg types.EffectiveConfig) *loader.ModuleDescriptor {
	return &loader.ModuleDescriptor{
		MainModule:         bundle.MainModule,
		Modules:            bundle.Modules,
		CompatibilityDate:  cfg.CompatibilityDate,
		CompatibilityFlags: cfg.CompatibilityFlags,
		Env:                cfg.Env,
		Limits:             cfg.Limits,
		GlobalOutbound:     cfg.GlobalOutbound,
		Tails:              cfg.Tails,
	}
}

// ColdStart prepares a versioned worker's descriptor by loading its bundle
// from the store. A worker record whose bundle is gone is a broken
// deployment, reported as a failed precondition rather than not-found.
type ColdStart struct {
	Bundles  storage.BundleStore
	TenantID string
	WorkerID string
	Version  int64
	Config   types.EffectiveConfig
}

// Prepare implements loader.ColdStart
func (c *ColdStart) Prepare(ctx context.Context) (*loader.ModuleDescriptor, error) {
	bundle, err := c.Bundles.GetBundle(ctx, c.TenantID, c.WorkerID, c.Version)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("bundle for worker %s/%s v%d missing: %w",
				c.TenantID, c.WorkerID, c.Version, errdefs.ErrFailedPrecondition)
		}
		return nil, err
	}
	return Descriptor(bundle, c.Config), nil
}

// EphemeralColdStart prepares a one-off run by loading the bundle under
// its content fingerprint. Ephemeral runs share compiled output with any
// other run of the same files, so the fingerprint is the whole identity.
type EphemeralColdStart struct {
	Bundles     storage.BundleStore
	Fingerprint string
	Config      types.EffectiveConfig
}

// Prepare implements loader.ColdStart
func (c *EphemeralColdStart) Prepare(ctx context.Context) (*loader.ModuleDescriptor, error) {
	bundle, err := c.Bundles.GetBundleByFingerprint(ctx, c.Fingerprint)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("bundle for fingerprint %s missing: %w",
				c.Fingerprint, errdefs.ErrFailedPrecondition)
		}
		return nil, err
	}
	return Descriptor(bundle, c.Config), nil
}
