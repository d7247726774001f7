/*
Package storage defines the persistence contracts the control plane consumes
and provides two implementations: a BoltDB-backed store for production and an
in-memory store for tests and throwaway environments.

# Architecture

Six narrow interfaces cover the six persisted entity families:

	TenantStore      tenant records
	WorkerStore      worker records, keyed (tenantId, workerId)
	BundleStore      compiled bundles: versioned + fingerprint-keyed
	HostnameStore    hostname -> worker bindings with a reverse index
	TemplateStore    worker templates
	DefaultsStore    the single platform-defaults record

The combined Store interface aggregates all six plus Close; the platform
facade depends on Store, while leaf components (build cache, hostname index,
stub cache) depend only on the slice they use.

Key layout, shared by both implementations:

	tenant bucket:              {id}
	worker bucket:              {tenantId}:{workerId}
	bundle bucket:              {tenantId}:{workerId}:v{version}
	bundle_fingerprints bucket: {fingerprint}
	hostname bucket:            {hostname}
	hostname_idx bucket:        {tenantId}:{workerId}:{hostname}
	template bucket:            {id}
	defaults bucket:            platform-defaults

Record ids are validated upstream to exclude ':' so composite keys cannot
collide.

# Semantics

Reads of absent records fail with errdefs.ErrNotFound (check with
errdefs.IsNotFound). Put is an upsert; uniqueness and existence checks belong
to the platform facade. Deletes of absent records succeed. List operations
page in key order: the returned cursor is the id of the last item and is
passed back verbatim to resume.

Hostname forward and reverse entries are maintained atomically: BoltDB writes
both in one transaction, the memory store under one lock acquisition. This
keeps ListRoutesByWorker consistent with GetRoute at all times; the
compare-after-write conflict check lives above, in the hostname index.

DeleteExpiredFingerprints and ListBundleKeys/ListRoutes exist for the gc
sweep; steady-state code paths never scan whole buckets.

# Usage

	store, err := storage.NewBoltStore("/var/lib/burrow")
	if err != nil {
		return err
	}
	defer store.Close()

	tenant, err := store.GetTenant(ctx, "acme")
	if errdefs.IsNotFound(err) {
		// absent
	}

# Thread Safety

Both implementations are safe for concurrent use. BoltDB serializes writers
internally; the memory store uses one RWMutex. Values returned by reads are
fresh copies and may be mutated freely by callers.
*/
package storage
