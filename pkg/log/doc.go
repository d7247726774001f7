/*
Package log provides structured logging for burrow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initializing the logger:

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Simple logging:

	log.Info("control plane started")
	log.Error("failed to open store")

Structured logging with context:

	platformLog := log.WithComponent("platform")
	platformLog.Info().
		Str("tenant_id", "acme").
		Str("worker_id", "api").
		Int64("version", 2).
		Msg("worker updated")

	buildLog := log.WithWorker("acme", "api")
	buildLog.Error().Err(err).Msg("build failed")

# Integration Points

This package integrates with:

  - pkg/platform: logs facade operations and cascade deletes
  - pkg/buildcache: logs cache misses and store write failures
  - pkg/api: logs HTTP requests and errors
  - pkg/loader: logs cold starts against the runtime
  - cmd/burrow: initializes the logger from CLI flags

# Design Patterns

Global logger pattern: a single package-level Logger instance, initialized
once at startup and accessible from all packages. Component loggers are
zerolog child loggers carrying a fixed "component" field so log lines can be
filtered per subsystem.

Never log bundle contents or tenant env values: env maps may carry secrets.
Log identifiers (tenant, worker, version, fingerprint) instead.
*/
package log
