/*
Package loader defines the contract between the control plane and a worker
runtime, plus an HTTP adapter for out-of-process runtimes.

# Architecture

	Loader.Get(name, ColdStart) ──► Stub ──► GetEntrypoint(name) ──► Fetcher
	                 │                                                  │
	                 ▼                                                  ▼
	   Prepare() -> ModuleDescriptor                    Dispatch(Request) -> Response
	   (only when not resident)

The control plane never instantiates isolates itself. It names workers,
supplies descriptors on cold start, and dispatches requests; everything
about execution belongs to the runtime behind the Loader.

Worker names are stable identities: a versioned worker loads as
"{tenant}:{worker}:v{version}", so a version bump is a new name and old
instances age out on their own.

# Error Semantics

Failures on the runtime side surface as *Error carrying the worker name.
Cold-start preparation failures pass through untouched; callers can still
classify them with errdefs. A worker that runs but fails produces a
Response with a 5xx status, not an error.
*/
package loader
