/*
Package platform is the control-plane facade tying every subsystem
together: tenant, worker and template lifecycle, configuration
resolution, compiled-bundle management, hostname routing and request
dispatch into the worker runtime.

# Architecture

	           ┌────────────┐
	  API ───► │  Platform  │ ───► storage.Store (records, bundles, routes)
	           │            │ ───► buildcache.Cache ───► bundler (esbuild)
	           │            │ ───► stubs.Cache ───► loader (worker runtime)
	           │            │ ───► hostname.Index
	           └────────────┘ ───► events.Broker

Deploys follow a fixed write order: compile, persist the bundle, persist
the worker record, then claim hostnames. A fetch that races a deploy
either misses the record entirely or finds record and bundle both
present. Updates bump the record version and drop the cached stub; the
version guard in the stub cache makes every later fetch load the new
code. Superseded bundles and dangling routes are reclaimed by Sweep, not
inline.

# Usage

	p, err := platform.New(platform.Options{
		Store:   store,
		Bundler: bundler.NewEsbuild(),
		Loader:  loader.NewRemote("http://127.0.0.1:9000"),
	})
	if err != nil {
		return err
	}
	defer p.Close()

	worker, err := p.CreateWorker(ctx, "acme", &types.Worker{
		ID:    "api",
		Files: map[string]string{"index.ts": src},
	})

# Thread Safety

All Platform methods are safe for concurrent use. Mutating operations on
the same worker are last-writer-wins at the record level; hostname claims
are exclusive and verified by a read-after-write check in the index.
*/
package platform
