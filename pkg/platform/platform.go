package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/buildcache"
	"github.com/cuemby/burrow/pkg/bundler"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/hostname"
	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/stubs"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// DefaultSystemTenant owns auxiliary workers referenced from config:
	// global outbound proxies and tail consumers.
	DefaultSystemTenant = "system"

	// DefaultStubTTL is how long an idle ephemeral stub survives between
	// sweeps. Versioned worker stubs are never aged out.
	DefaultStubTTL = 30 * time.Minute
)

// Options configures a Platform. Store, Bundler and Loader are required;
// everything else has a usable default.
type Options struct {
	Store   storage.Store
	Bundler bundler.Bundler
	Loader  loader.Loader

	// Broker receives platform events. When nil the platform creates and
	// owns one, stopping it on Close.
	Broker *events.Broker

	// BundleTTL bounds how long a fingerprint-keyed build cache entry is
	// served without a rebuild. Zero means buildcache.DefaultTTL.
	BundleTTL time.Duration

	// StubTTL bounds how long an idle ephemeral stub survives a sweep.
	// Zero means DefaultStubTTL.
	StubTTL time.Duration

	// SystemTenant names the tenant owning outbound and tail workers.
	// Zero means DefaultSystemTenant.
	SystemTenant string
}

// Platform is the control-plane facade: tenant, worker and template
// lifecycle, config resolution, builds, hostname routing and dispatch.
// All methods are safe for concurrent use.
type Platform struct {
	store  storage.Store
	builds *buildcache.Cache
	stubs  *stubs.Cache
	hosts  *hostname.Index
	broker *events.Broker
	logger zerolog.Logger

	defaultsMu sync.RWMutex
	defaults   *types.Defaults

	systemTenant string
	stubTTL      time.Duration
	ownedBroker  bool
}

// New wires a Platform from its dependencies.
func New(opts Options) (*Platform, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required: %w", errdefs.ErrInvalidArgument)
	}
	if opts.Bundler == nil {
		return nil, fmt.Errorf("bundler is required: %w", errdefs.ErrInvalidArgument)
	}
	if opts.Loader == nil {
		return nil, fmt.Errorf("loader is required: %w", errdefs.ErrInvalidArgument)
	}

	p := &Platform{
		store:        opts.Store,
		builds:       buildcache.New(opts.Store, opts.Bundler, opts.BundleTTL),
		stubs:        stubs.NewCache(opts.Loader),
		hosts:        hostname.NewIndex(opts.Store, opts.Store),
		broker:       opts.Broker,
		logger:       log.WithComponent("platform"),
		systemTenant: opts.SystemTenant,
		stubTTL:      opts.StubTTL,
	}
	if p.systemTenant == "" {
		p.systemTenant = DefaultSystemTenant
	}
	if p.stubTTL <= 0 {
		p.stubTTL = DefaultStubTTL
	}
	if p.broker == nil {
		p.broker = events.NewBroker()
		p.broker.Start()
		p.ownedBroker = true
	}
	return p, nil
}

// Close releases resources the platform owns. The store and loader belong
// to the caller and are not closed here.
func (p *Platform) Close() {
	if p.ownedBroker {
		p.broker.Stop()
	}
}

// Events exposes the broker so callers can subscribe to platform events.
func (p *Platform) Events() *events.Broker {
	return p.broker
}

// SystemTenant reports the tenant id under which auxiliary workers live.
func (p *Platform) SystemTenant() string {
	return p.systemTenant
}

// EnsureSystemTenant creates the system tenant if it does not exist yet.
// Called once at startup so outbound and tail workers always have a home.
func (p *Platform) EnsureSystemTenant(ctx context.Context) error {
	_, err := p.store.GetTenant(ctx, p.systemTenant)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return err
	}

	now := time.Now().UTC()
	tenant := &types.Tenant{ID: p.systemTenant, CreatedAt: now, UpdatedAt: now}
	if err := p.store.PutTenant(ctx, tenant); err != nil {
		return err
	}
	p.logger.Info().Str("tenant_id", p.systemTenant).Msg("system tenant created")
	return nil
}

func (p *Platform) publish(event *types.Event) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(event)
}
