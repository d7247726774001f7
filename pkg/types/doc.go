/*
Package types defines the core data structures shared across all burrow
components. It contains the entity records the control plane persists, the
configuration bundles that participate in inheritance, and the event types
published by the platform facade.

# Architecture

The type system models a three-level configuration hierarchy:

	Defaults (platform-wide)
	    └── Tenant (per-customer)
	            └── Worker (per-deployable unit)

Defaults, Tenant and Worker all embed ConfigBundle, the set of inheritable
settings (env, compatibilityDate, compatibilityFlags, limits, globalOutbound,
tails). The config resolver merges the three levels into one EffectiveConfig,
which is what the loader receives on cold start. Within a ConfigBundle a nil
map, nil slice or empty string means "not set at this level": resolution
falls through to the level below rather than clearing the value.

Entity relationships:

	Tenant 1──N Worker            (cascade delete)
	Worker 1──N HostnameRoute     (hostname is globally unique)
	Worker 1──N Bundle            (one per version; latest required)
	Template                      (standalone; workers created from a
	                               template carry no back-reference)

# Versioning

Worker.Version starts at 1 and increases by exactly 1 on every successful
update. A Bundle for the current version is always written before the worker
record that references it, so a reader never observes a worker whose bundle
is missing.

# Usage

Records are plain data: they carry no behavior beyond small helpers such as
Bundle.Expired. All fields marshal to camelCase JSON for the HTTP API and to
YAML for manifest files. Timestamps are UTC.

	worker := &types.Worker{
		TenantID: "acme",
		ID:       "api",
		Files: map[string]string{
			"src/index.ts": "export default {}",
		},
	}

# Thread Safety

All types in this package are passive records. Callers that share them across
goroutines must copy or synchronize; the stores return fresh copies on every
read.
*/
package types
