package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/platform"
)

// maxRequestBody bounds every request body the API reads. Worker source
// trees are the largest legitimate payload and fit comfortably.
const maxRequestBody = 10 << 20

// Options tunes the HTTP server.
type Options struct {
	// RateLimit is the per-client request budget in requests/second.
	// Zero disables rate limiting.
	RateLimit float64
	RateBurst int
}

// Server is the JSON HTTP front-end: the /api control surface, health and
// metrics endpoints, the event stream, and hostname-routed dispatch for
// everything else.
type Server struct {
	platform   *platform.Platform
	httpServer *http.Server
	limiter    *ipLimiter
	logger     zerolog.Logger
}

// NewServer wires the API around a platform.
func NewServer(p *platform.Platform, opts Options) *Server {
	s := &Server{
		platform: p,
		logger:   log.WithComponent("api"),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit)
		}
		s.limiter = newIPLimiter(opts.RateLimit, burst)
	}
	return s
}

// Handler returns the fully assembled handler chain, exposed for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/defaults", s.handleGetDefaults)
	mux.HandleFunc("PUT /api/defaults", s.handleUpdateDefaults)

	mux.HandleFunc("GET /api/tenants", s.handleListTenants)
	mux.HandleFunc("POST /api/tenants", s.handleCreateTenant)
	mux.HandleFunc("GET /api/tenants/{tid}", s.handleGetTenant)
	mux.HandleFunc("PUT /api/tenants/{tid}", s.handleUpdateTenant)
	mux.HandleFunc("DELETE /api/tenants/{tid}", s.handleDeleteTenant)

	mux.HandleFunc("GET /api/tenants/{tid}/workers", s.tenantWorkers(s.handleListWorkers))
	mux.HandleFunc("POST /api/tenants/{tid}/workers", s.tenantWorkers(s.handleCreateWorker))
	mux.HandleFunc("GET /api/tenants/{tid}/workers/{wid}", s.tenantWorkers(s.handleGetWorker))
	mux.HandleFunc("PUT /api/tenants/{tid}/workers/{wid}", s.tenantWorkers(s.handleUpdateWorker))
	mux.HandleFunc("DELETE /api/tenants/{tid}/workers/{wid}", s.tenantWorkers(s.handleDeleteWorker))
	mux.HandleFunc("POST /api/tenants/{tid}/workers/{wid}/fetch", s.tenantWorkers(s.handleFetch))
	mux.HandleFunc("GET /api/tenants/{tid}/workers/{wid}/hostnames", s.tenantWorkers(s.handleListHostnames))
	mux.HandleFunc("POST /api/tenants/{tid}/workers/{wid}/hostnames", s.tenantWorkers(s.handleAddHostnames))
	mux.HandleFunc("DELETE /api/tenants/{tid}/workers/{wid}/hostnames", s.tenantWorkers(s.handleRemoveHostnames))

	// Outbound and tail workers are regular workers in the reserved system
	// tenant; config references them by bare name. Both collections are
	// views over that tenant.
	for _, alias := range []string{"outbound-workers", "tail-workers"} {
		mux.HandleFunc("GET /api/"+alias, s.systemWorkers(s.handleListWorkers))
		mux.HandleFunc("POST /api/"+alias, s.systemWorkers(s.handleCreateWorker))
		mux.HandleFunc("GET /api/"+alias+"/{wid}", s.systemWorkers(s.handleGetWorker))
		mux.HandleFunc("PUT /api/"+alias+"/{wid}", s.systemWorkers(s.handleUpdateWorker))
		mux.HandleFunc("DELETE /api/"+alias+"/{wid}", s.systemWorkers(s.handleDeleteWorker))
		mux.HandleFunc("POST /api/"+alias+"/{wid}/fetch", s.systemWorkers(s.handleFetch))
	}

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)
	mux.HandleFunc("POST /api/templates/{id}/generate", s.handleGenerateTemplate)

	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/routes", s.handleListRoutes)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/gc", s.handleSweep)

	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())
	mux.HandleFunc("GET /livez", metrics.LivenessHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("/", s.handleHostRoute)

	return s.withRecovery(s.withObservability(s.withRateLimit(s.withBodyLimit(mux))))
}

// Start listens on addr and serves until Stop is called. It blocks.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and long dispatches manage their own lifetime
		IdleTimeout:  120 * time.Second,
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.logger.Info().Str("addr", addr).Msg("api listening")
	metrics.SetComponent("api", true, "serving")

	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metrics.SetComponent("api", false, "stopping")
	return s.httpServer.Shutdown(ctx)
}

// workerHandler handles one worker-scoped route once the owning tenant is
// known.
type workerHandler func(w http.ResponseWriter, r *http.Request, tenantID string)

func (s *Server) tenantWorkers(h workerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r, r.PathValue("tid"))
	}
}

func (s *Server) systemWorkers(h workerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.platform.EnsureSystemTenant(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		h(w, r, s.platform.SystemTenant())
	}
}

// handleHostRoute serves every path outside the reserved surface by
// resolving the Host header to a worker and proxying the request into it.
func (s *Server) handleHostRoute(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: apiError{
			Kind: "not_found", Message: "no such endpoint",
		}})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	req := &loader.Request{
		Method:  r.Method,
		Path:    r.URL.RequestURI(),
		Headers: flattenHeader(r.Header),
		Body:    body,
	}
	resp, route, err := s.platform.Route(r.Context(), r.Host, req)
	if err != nil {
		writeError(w, err)
		return
	}
	if route == nil {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: apiError{
			Kind: "not_found", Message: fmt.Sprintf("no worker bound to host %q", r.Host),
		}})
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug().Err(err).Msg("client went away mid-response")
	}
}

func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, values := range h {
		if len(values) > 0 {
			out[k] = values[0]
		}
	}
	return out
}
