package platform

import (
	"context"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/hashicorp/go-multierror"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// orphanGrace protects in-flight deploys from the sweeper: a bundle is
// written before its worker record, so a fresh bundle without a record is
// not yet garbage.
const orphanGrace = 5 * time.Minute

// SweepResult counts what one garbage collection pass reclaimed.
type SweepResult struct {
	ExpiredBundles int `json:"expiredBundles"`
	OrphanBundles  int `json:"orphanBundles"`
	OrphanRoutes   int `json:"orphanRoutes"`
	EphemeralStubs int `json:"ephemeralStubs"`
}

// Sweep reclaims garbage across the platform: expired build cache entries,
// versioned bundles whose worker is gone or has moved past them, hostname
// routes pointing at deleted workers, and idle ephemeral stubs. Phases are
// independent; a failing phase is reported but does not stop the others.
func (p *Platform) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	var merr *multierror.Error

	expired, err := p.store.DeleteExpiredFingerprints(ctx, time.Now().UTC())
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	result.ExpiredBundles = expired

	orphans, err := p.sweepOrphanBundles(ctx)
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	result.OrphanBundles = orphans

	routes, err := p.sweepOrphanRoutes(ctx)
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	result.OrphanRoutes = routes

	result.EphemeralStubs = p.stubs.Sweep(ctx, p.stubTTL)

	metrics.SweepsTotal.Inc()
	metrics.SweepDeletedTotal.WithLabelValues("expired_bundle").Add(float64(result.ExpiredBundles))
	metrics.SweepDeletedTotal.WithLabelValues("orphan_bundle").Add(float64(result.OrphanBundles))
	metrics.SweepDeletedTotal.WithLabelValues("orphan_route").Add(float64(result.OrphanRoutes))
	metrics.SweepDeletedTotal.WithLabelValues("ephemeral_stub").Add(float64(result.EphemeralStubs))

	p.publish(&types.Event{
		Type:    types.EventSweepCompleted,
		Message: "sweep completed",
		Data: map[string]string{
			"expired_bundles": strconv.Itoa(result.ExpiredBundles),
			"orphan_bundles":  strconv.Itoa(result.OrphanBundles),
			"orphan_routes":   strconv.Itoa(result.OrphanRoutes),
			"ephemeral_stubs": strconv.Itoa(result.EphemeralStubs),
		},
	})
	p.logger.Info().
		Int("expired_bundles", result.ExpiredBundles).
		Int("orphan_bundles", result.OrphanBundles).
		Int("orphan_routes", result.OrphanRoutes).
		Int("ephemeral_stubs", result.EphemeralStubs).
		Msg("sweep completed")
	return result, merr.ErrorOrNil()
}

func (p *Platform) sweepOrphanBundles(ctx context.Context) (int, error) {
	keys, err := p.store.ListBundleKeys(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var merr *multierror.Error
	for _, key := range keys {
		worker, err := p.store.GetWorker(ctx, key.TenantID, key.WorkerID)
		switch {
		case errdefs.IsNotFound(err):
			// fall through to deletion checks below
		case err != nil:
			merr = multierror.Append(merr, err)
			continue
		case worker.Version == key.Version:
			continue
		}

		bundle, err := p.store.GetBundle(ctx, key.TenantID, key.WorkerID, key.Version)
		if err != nil {
			if !errdefs.IsNotFound(err) {
				merr = multierror.Append(merr, err)
			}
			continue
		}
		if time.Since(bundle.BuiltAt) < orphanGrace {
			continue
		}

		if err := p.store.DeleteBundle(ctx, key.TenantID, key.WorkerID, key.Version); err != nil {
			if !errdefs.IsNotFound(err) {
				merr = multierror.Append(merr, err)
			}
			continue
		}
		deleted++
	}
	return deleted, merr.ErrorOrNil()
}

func (p *Platform) sweepOrphanRoutes(ctx context.Context) (int, error) {
	routes, err := p.store.ListRoutes(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var merr *multierror.Error
	for _, route := range routes {
		_, err := p.store.GetWorker(ctx, route.TenantID, route.WorkerID)
		if err == nil {
			continue
		}
		if !errdefs.IsNotFound(err) {
			merr = multierror.Append(merr, err)
			continue
		}

		if err := p.store.DeleteRoute(ctx, route.Hostname); err != nil {
			if !errdefs.IsNotFound(err) {
				merr = multierror.Append(merr, err)
			}
			continue
		}
		deleted++
	}
	return deleted, merr.ErrorOrNil()
}
