package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/types"
)

// keepAliveInterval paces SSE comment lines so idle event streams survive
// proxies that reap quiet connections.
const keepAliveInterval = 15 * time.Second

// runRequest is the body of POST /api/run: a source tree to bundle and
// execute once, without deploying anything. The synthetic request defaults
// to GET / when omitted; entrypoint selection lives in options.
type runRequest struct {
	Files    map[string]string   `json:"files"`
	TenantID string              `json:"tenantId,omitempty"`
	Options  platform.RunOptions `json:"options,omitempty"`
	Request  *fetchRequest       `json:"request,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var in runRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	req := in.Request
	if req == nil {
		req = &fetchRequest{}
	}
	if in.Options.Entrypoint == "" {
		in.Options.Entrypoint = req.Entrypoint
	}

	result, err := s.platform.RunEphemeral(r.Context(), in.TenantID, in.Files, req.toLoader(), in.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.platform.ListRoutes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listPage[*types.HostnameRoute]{Items: routes})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.platform.Sweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEvents streams platform lifecycle events as server-sent events
// until the client disconnects. Delivery is best-effort; a slow reader
// loses events rather than backpressuring the platform.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported by connection: %w", errdefs.ErrFailedPrecondition))
		return
	}

	// Subscribe before the headers go out so an event published the moment
	// the client sees the 200 is already captured.
	broker := s.platform.Events()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to encode event")
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
			flusher.Flush()
		}
	}
}
