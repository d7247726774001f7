package types

import (
	"time"

	"github.com/cuemby/burrow/pkg/bundler"
)

// ConfigBundle is the set of inheritable settings shared by platform
// defaults, tenants, workers and template defaults. A nil map or slice
// means "not set at this level" and inherits from the level below.
type ConfigBundle struct {
	Env                map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	CompatibilityDate  string            `json:"compatibilityDate,omitempty" yaml:"compatibilityDate,omitempty"`
	CompatibilityFlags []string          `json:"compatibilityFlags,omitempty" yaml:"compatibilityFlags,omitempty"`
	Limits             *Limits           `json:"limits,omitempty" yaml:"limits,omitempty"`
	GlobalOutbound     string            `json:"globalOutbound,omitempty" yaml:"globalOutbound,omitempty"`
	Tails              []string          `json:"tails,omitempty" yaml:"tails,omitempty"`
}

// Limits declares execution limits surfaced to the loader. Nil sub-fields
// inherit from the next level down.
type Limits struct {
	CPUMs       *int `json:"cpuMs,omitempty" yaml:"cpuMs,omitempty"`
	Subrequests *int `json:"subrequests,omitempty" yaml:"subrequests,omitempty"`
}

// EffectiveConfig is the fully resolved configuration passed to the loader
// on cold start: defaults, tenant and worker settings merged per field.
type EffectiveConfig struct {
	Env                map[string]string `json:"env"`
	CompatibilityDate  string            `json:"compatibilityDate"`
	CompatibilityFlags []string          `json:"compatibilityFlags,omitempty"`
	Limits             *Limits           `json:"limits,omitempty"`
	GlobalOutbound     string            `json:"globalOutbound,omitempty"`
	Tails              []string          `json:"tails,omitempty"`
}

// Tenant is the logical owner of a set of workers and the middle level of
// the configuration inheritance chain.
type Tenant struct {
	ID           string `json:"id" yaml:"id"`
	ConfigBundle `yaml:",inline"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// Worker is one compilable, addressable unit inside a tenant. Build options
// are persisted so redeploys reuse them unless the update changes them.
type Worker struct {
	TenantID     string `json:"tenantId" yaml:"tenantId"`
	ID           string `json:"id" yaml:"id"`
	ConfigBundle `yaml:",inline"`
	Files        map[string]string `json:"files" yaml:"files"`
	Hostnames    []string          `json:"hostnames,omitempty" yaml:"hostnames,omitempty"`
	Build        bundler.Options   `json:"build,omitempty" yaml:"build,omitempty"`
	Version      int64             `json:"version" yaml:"version,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// WorkerUpdate is a partial worker mutation. Nil maps and slices leave the
// existing value in place; Files replaces the whole source tree when set.
type WorkerUpdate struct {
	ConfigBundle `yaml:",inline"`
	Files        map[string]string `json:"files,omitempty" yaml:"files,omitempty"`
	Hostnames    []string          `json:"hostnames,omitempty" yaml:"hostnames,omitempty"`
	Build        *bundler.Options  `json:"build,omitempty" yaml:"build,omitempty"`
}

// Bundle is the compiled form of a worker source tree. Versioned bundles
// are keyed by (tenantId, workerId, version); ephemeral build-cache entries
// are keyed by fingerprint and may carry an expiry.
type Bundle struct {
	MainModule string            `json:"mainModule"`
	Modules    map[string]string `json:"modules"`
	Warnings   []string          `json:"warnings,omitempty"`
	Version    int64             `json:"version,omitempty"`
	BuiltAt    time.Time         `json:"builtAt"`
	ExpiresAt  time.Time         `json:"expiresAt,omitzero"`
}

// Expired reports whether an ephemeral bundle entry has passed its expiry.
// Versioned bundles never expire.
func (b *Bundle) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// HostnameRoute is the exclusive binding of one hostname to one worker.
type HostnameRoute struct {
	Hostname string `json:"hostname"`
	TenantID string `json:"tenantId"`
	WorkerID string `json:"workerId"`
}

// Template is a reusable worker skeleton whose files contain {{slot}}
// placeholders.
type Template struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Files       map[string]string `json:"files" yaml:"files"`
	Slots       []TemplateSlot    `json:"slots,omitempty" yaml:"slots,omitempty"`
	Defaults    *ConfigBundle     `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	CreatedAt   time.Time         `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// TemplateSlot declares one named placeholder. Default distinguishes "no
// default declared" (nil) from an explicit empty default.
type TemplateSlot struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Default     *string `json:"default,omitempty" yaml:"default,omitempty"`
	Example     string  `json:"example,omitempty" yaml:"example,omitempty"`
}

// TemplateMetadata is the listing projection of a template.
type TemplateMetadata struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	SlotNames   []string `json:"slotNames,omitempty"`
}

// Defaults is the platform-wide fallback configuration, the lowest level of
// the inheritance chain.
type Defaults struct {
	ConfigBundle `yaml:",inline"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
}

// EventType classifies platform events.
type EventType string

const (
	EventTenantCreated   EventType = "tenant.created"
	EventTenantUpdated   EventType = "tenant.updated"
	EventTenantDeleted   EventType = "tenant.deleted"
	EventWorkerCreated   EventType = "worker.created"
	EventWorkerUpdated   EventType = "worker.updated"
	EventWorkerDeleted   EventType = "worker.deleted"
	EventTemplateCreated EventType = "template.created"
	EventTemplateUpdated EventType = "template.updated"
	EventTemplateDeleted EventType = "template.deleted"
	EventHostnameAdded   EventType = "hostname.added"
	EventHostnameRemoved EventType = "hostname.removed"
	EventDefaultsUpdated EventType = "defaults.updated"
	EventSweepCompleted  EventType = "sweep.completed"
)

// Event is a platform event published on every mutating operation.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	TenantID  string            `json:"tenantId,omitempty"`
	WorkerID  string            `json:"workerId,omitempty"`
	Message   string            `json:"message,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}
