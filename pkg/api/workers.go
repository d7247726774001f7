package api

import (
	"net/http"

	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/types"
)

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request, tenantID string) {
	workers, cursor, err := s.platform.ListWorkers(r.Context(), tenantID, listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listPage[*types.Worker]{Items: workers, Cursor: cursor})
}

func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request, tenantID string) {
	var worker types.Worker
	if err := decodeJSON(r, &worker); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.platform.CreateWorker(r.Context(), tenantID, &worker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request, tenantID string) {
	worker, err := s.platform.GetWorker(r.Context(), tenantID, r.PathValue("wid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request, tenantID string) {
	var patch types.WorkerUpdate
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	worker, err := s.platform.UpdateWorker(r.Context(), tenantID, r.PathValue("wid"), &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := s.platform.DeleteWorker(r.Context(), tenantID, r.PathValue("wid")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// fetchRequest is the wire form of a synthetic request dispatched into a
// worker. Body is a plain string for hand-written payloads; the response
// mirrors loader.Response, whose body travels base64-encoded.
type fetchRequest struct {
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Entrypoint string            `json:"entrypoint,omitempty"`
}

func (f *fetchRequest) toLoader() *loader.Request {
	req := &loader.Request{
		Method:  f.Method,
		Path:    f.Path,
		Headers: f.Headers,
		Body:    []byte(f.Body),
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Path == "" {
		req.Path = "/"
	}
	return req
}

type fetchResponse struct {
	*loader.Response
	WorkerError string `json:"workerError,omitempty"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, tenantID string) {
	var in fetchRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.platform.Fetch(r.Context(), tenantID, r.PathValue("wid"), in.toLoader(), in.Entrypoint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fetchResponse{
		Response:    resp,
		WorkerError: platform.WorkerErrorSummary(resp),
	})
}

type hostnamesRequest struct {
	Hostnames []string `json:"hostnames"`
}

func (s *Server) handleListHostnames(w http.ResponseWriter, r *http.Request, tenantID string) {
	worker, err := s.platform.GetWorker(r.Context(), tenantID, r.PathValue("wid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"hostnames": worker.Hostnames})
}

func (s *Server) handleAddHostnames(w http.ResponseWriter, r *http.Request, tenantID string) {
	var in hostnamesRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	worker, err := s.platform.AddHostnames(r.Context(), tenantID, r.PathValue("wid"), in.Hostnames)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleRemoveHostnames(w http.ResponseWriter, r *http.Request, tenantID string) {
	var in hostnamesRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	worker, err := s.platform.RemoveHostnames(r.Context(), tenantID, r.PathValue("wid"), in.Hostnames)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}
