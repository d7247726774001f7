// Package buildcache deduplicates and caches bundle builds. Results are
// keyed by source fingerprint, stored through the bundle store, and expire
// after a TTL; concurrent builds of the same tree collapse into one.
package buildcache

import (
	"context"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/burrow/pkg/bundler"
	"github.com/cuemby/burrow/pkg/fingerprint"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultTTL bounds how long a cached build stays servable.
const DefaultTTL = time.Hour

// Cache is a read-through, write-through build cache.
type Cache struct {
	store   storage.BundleStore
	bundler bundler.Bundler
	ttl     time.Duration
	group   singleflight.Group
	logger  zerolog.Logger
}

// New creates a build cache. A non-positive ttl selects DefaultTTL.
func New(store storage.BundleStore, b bundler.Bundler, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   store,
		bundler: b,
		ttl:     ttl,
		logger:  log.WithComponent("buildcache"),
	}
}

type flightResult struct {
	bundle *types.Bundle
	cached bool
}

// GetOrBuild returns the cached bundle for the file tree or builds it once.
// It reports the fingerprint it keyed on and whether the bundle came from
// cache. Build failures are returned to every waiting caller and never
// cached; cache write failures are logged and the fresh build served anyway.
func (c *Cache) GetOrBuild(ctx context.Context, files map[string]string, opts bundler.Options) (*types.Bundle, string, bool, error) {
	fp := fingerprint.Files(files, opts)

	if bundle := c.lookup(ctx, fp); bundle != nil {
		metrics.BuildsTotal.WithLabelValues("hit").Inc()
		return bundle, fp, true, nil
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		// Re-check under the flight: a caller that finished while we
		// queued may have populated the cache already.
		if bundle := c.lookup(ctx, fp); bundle != nil {
			return &flightResult{bundle: bundle, cached: true}, nil
		}

		timer := metrics.NewTimer()
		built, err := c.bundler.Build(ctx, files, opts)
		if err != nil {
			metrics.BuildsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		timer.ObserveDuration(metrics.BuildDuration)
		metrics.BuildsTotal.WithLabelValues("miss").Inc()

		now := time.Now().UTC()
		bundle := &types.Bundle{
			MainModule: built.MainModule,
			Modules:    built.Modules,
			Warnings:   built.Warnings,
			BuiltAt:    now,
			ExpiresAt:  now.Add(c.ttl),
		}
		if err := c.store.PutBundleByFingerprint(ctx, fp, bundle); err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("Failed to cache bundle")
		}
		return &flightResult{bundle: bundle}, nil
	})
	if err != nil {
		return nil, fp, false, err
	}

	res := v.(*flightResult)
	return res.bundle, fp, res.cached, nil
}

// lookup returns a live cached bundle or nil. Expired entries and read
// failures both count as a miss.
func (c *Cache) lookup(ctx context.Context, fp string) *types.Bundle {
	bundle, err := c.store.GetBundleByFingerprint(ctx, fp)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("Bundle cache read failed")
		}
		return nil
	}
	if bundle.Expired(time.Now()) {
		return nil
	}
	return bundle
}
