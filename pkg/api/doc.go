/*
Package api implements the JSON HTTP control surface for the burrow
platform: tenant, worker, and template management, ephemeral runs, the
lifecycle event stream, and hostname-routed dispatch into deployed
workers.

# Architecture

Every request enters through one handler chain and is either part of the
reserved control surface or routed by hostname into a worker:

	┌──────────────────────── CLIENT ─────────────────────────┐
	│   curl / pkg/client / browser pointed at a hostname      │
	└────────────────────────────┬─────────────────────────────┘
	                             │ HTTP/JSON
	┌────────────────────────────▼─────────────────────────────┐
	│  recovery → observability → rate limit → ServeMux        │
	│                                                           │
	│  /api/defaults            defaults get/update             │
	│  /api/tenants[...]        tenant and worker CRUD, fetch   │
	│  /api/outbound-workers    system-tenant worker views      │
	│  /api/tail-workers                                        │
	│  /api/templates[...]      template CRUD and generate      │
	│  /api/run                 bundle and execute once         │
	│  /api/routes /api/events  routing table, SSE stream       │
	│  /api/gc                  storage sweep                   │
	│  /healthz /metrics        probes and Prometheus           │
	│                                                           │
	│  everything else          Host header → worker dispatch   │
	└────────────────────────────┬─────────────────────────────┘
	                             │
	                       platform.Platform

Errors cross the wire as {"error": {"kind", "message", ...}} with the
kind mapped onto the status code: validation 400, not_found 404,
conflict 409, build 422 (with file and line when the compiler reports
them), loader and storage 500. A worker script that throws is not an
API error; the runtime's response passes through with its x-worker-error
summary intact.

# Usage

	srv := api.NewServer(p, api.Options{RateLimit: 50})
	go srv.Start(":8080")
	defer srv.Stop()

Request bodies are capped at 10 MiB and decoded strictly; unknown
fields are rejected so typos fail loudly instead of deploying half a
config.

# Thread Safety

Handlers hold no state of their own beyond the rate limiter, which is
synchronized internally. Concurrency control lives in the platform
layer; any number of requests may run in parallel.
*/
package api
