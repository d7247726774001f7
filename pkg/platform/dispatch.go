package platform

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/bundler"
	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/stubs"
	"github.com/cuemby/burrow/pkg/types"
)

// workerErrorHeader is set by the runtime when the worker script threw
// instead of returning a response. The response still flows back to the
// caller unchanged; the header only adds a summary for diagnostics.
const workerErrorHeader = "x-worker-error"

// RunOptions tunes a single ephemeral run.
type RunOptions struct {
	Build      bundler.Options     `json:"build,omitempty"`
	Config     *types.ConfigBundle `json:"config,omitempty"`
	Entrypoint string              `json:"entrypoint,omitempty"`
}

// BuildInfo summarizes the compile step of an ephemeral run.
type BuildInfo struct {
	Fingerprint string   `json:"fingerprint"`
	MainModule  string   `json:"mainModule"`
	Modules     int      `json:"modules"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Timing breaks an ephemeral run into its phases, in milliseconds. Cached
// reports whether the build step was served from the build cache.
type Timing struct {
	BuildMs int64 `json:"buildTime"`
	LoadMs  int64 `json:"loadTime"`
	RunMs   int64 `json:"runTime"`
	TotalMs int64 `json:"total"`
	Cached  bool  `json:"cached"`
}

// RunResult is the full outcome of an ephemeral run.
type RunResult struct {
	BuildInfo   BuildInfo        `json:"buildInfo"`
	Response    *loader.Response `json:"response"`
	WorkerError string           `json:"workerError,omitempty"`
	Timing      Timing           `json:"timing"`
}

// Fetch dispatches one request to a deployed worker. Tenant and worker
// records load concurrently; the stub cache guards the record's version so
// a redeploy is picked up on the next call. A worker script that throws is
// not an error here: the runtime's error response flows back unchanged.
func (p *Platform) Fetch(ctx context.Context, tenantID, workerID string, req *loader.Request, entrypoint string) (*loader.Response, error) {
	var (
		wg        sync.WaitGroup
		tenant    *types.Tenant
		worker    *types.Worker
		tenantErr error
		workerErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tenant, tenantErr = p.store.GetTenant(ctx, tenantID)
	}()
	go func() {
		defer wg.Done()
		worker, workerErr = p.store.GetWorker(ctx, tenantID, workerID)
	}()
	wg.Wait()

	// A missing tenant implies a missing worker; report the tenant so the
	// caller learns which level of the hierarchy is absent.
	if tenantErr != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, tenantErr
	}
	if workerErr != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, workerErr
	}

	effective, err := p.effectiveConfig(ctx, tenant, &worker.ConfigBundle)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	stub, err := p.stubs.Get(ctx, tenantID, workerID, worker.Version, &stubs.ColdStart{
		Bundles:  p.store,
		TenantID: tenantID,
		WorkerID: workerID,
		Version:  worker.Version,
		Config:   effective,
	})
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	resp, err := p.dispatch(ctx, stub, entrypoint, req)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().
		Str("tenant_id", tenantID).
		Str("worker_id", workerID).
		Int("status", resp.Status).
		Msg("dispatched")
	return resp, nil
}

// RunEphemeral compiles and invokes a source tree without deploying
// anything: no worker record is written and no version exists. The config
// chain is defaults, then the tenant when one is named, then the ad-hoc
// overrides in the worker position.
func (p *Platform) RunEphemeral(ctx context.Context, tenantID string, files map[string]string, req *loader.Request, opts RunOptions) (*RunResult, error) {
	if err := validateFiles(files); err != nil {
		return nil, err
	}

	var tenant *types.Tenant
	if tenantID != "" {
		var err error
		tenant, err = p.store.GetTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	}

	total := time.Now()

	buildStart := time.Now()
	bundle, fp, cached, err := p.builds.GetOrBuild(ctx, files, opts.Build)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	buildMs := time.Since(buildStart).Milliseconds()

	effective, err := p.effectiveConfig(ctx, tenant, opts.Config)
	if err != nil {
		return nil, err
	}

	loadStart := time.Now()
	stub, err := p.stubs.GetEphemeral(ctx, tenantID, fp, &stubs.EphemeralColdStart{
		Bundles:     p.store,
		Fingerprint: fp,
		Config:      effective,
	})
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	loadMs := time.Since(loadStart).Milliseconds()

	runStart := time.Now()
	resp, err := p.dispatch(ctx, stub, opts.Entrypoint, req)
	if err != nil {
		return nil, err
	}
	runMs := time.Since(runStart).Milliseconds()

	result := &RunResult{
		BuildInfo: BuildInfo{
			Fingerprint: fp,
			MainModule:  bundle.MainModule,
			Modules:     len(bundle.Modules),
			Warnings:    bundle.Warnings,
		},
		Response:    resp,
		WorkerError: WorkerErrorSummary(resp),
		Timing: Timing{
			BuildMs: buildMs,
			LoadMs:  loadMs,
			RunMs:   runMs,
			TotalMs: time.Since(total).Milliseconds(),
			Cached:  cached,
		},
	}
	p.logger.Debug().
		Str("tenant_id", tenantID).
		Str("fingerprint", fp).
		Bool("cache_hit", cached).
		Int64("total_ms", result.Timing.TotalMs).
		Msg("ephemeral run")
	return result, nil
}

// Route dispatches a request by hostname. A hostname nobody claimed
// returns a nil response and nil route with no error; the caller decides
// what an unrouted host looks like on its wire.
func (p *Platform) Route(ctx context.Context, host string, req *loader.Request) (*loader.Response, *types.HostnameRoute, error) {
	route, err := p.hosts.Resolve(ctx, host)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	resp, err := p.Fetch(ctx, route.TenantID, route.WorkerID, req, "")
	if err != nil {
		return nil, route, err
	}
	return resp, route, nil
}

// dispatch resolves the entrypoint and invokes the stub, classifying the
// outcome for metrics.
func (p *Platform) dispatch(ctx context.Context, stub loader.Stub, entrypoint string, req *loader.Request) (*loader.Response, error) {
	fetcher, err := stub.GetEntrypoint(entrypoint)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	resp, err := fetcher.Dispatch(ctx, req)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if WorkerErrorSummary(resp) != "" {
		metrics.DispatchesTotal.WithLabelValues("worker_error").Inc()
	} else {
		metrics.DispatchesTotal.WithLabelValues("ok").Inc()
	}
	return resp, nil
}

// WorkerErrorSummary returns the runtime's exception summary for a
// response, or "" when the worker completed normally.
func WorkerErrorSummary(resp *loader.Response) string {
	if resp == nil {
		return ""
	}
	for k, v := range resp.Headers {
		if strings.EqualFold(k, workerErrorHeader) {
			return v
		}
	}
	return ""
}
