package api

import (
	"net/http"
	"strconv"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

func (s *Server) handleGetDefaults(w http.ResponseWriter, r *http.Request) {
	defaults, err := s.platform.GetDefaults(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defaults)
}

func (s *Server) handleUpdateDefaults(w http.ResponseWriter, r *http.Request) {
	var patch types.ConfigBundle
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	defaults, err := s.platform.UpdateDefaults(r.Context(), &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defaults)
}

// listPage is the envelope for every paginated collection.
type listPage[T any] struct {
	Items  []T    `json:"items"`
	Cursor string `json:"cursor,omitempty"`
}

func listOptions(r *http.Request) storage.ListOptions {
	opts := storage.ListOptions{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	return opts
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, cursor, err := s.platform.ListTenants(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listPage[*types.Tenant]{Items: tenants, Cursor: cursor})
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var tenant types.Tenant
	if err := decodeJSON(r, &tenant); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.platform.CreateTenant(r.Context(), &tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.platform.GetTenant(r.Context(), r.PathValue("tid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	var patch types.ConfigBundle
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	tenant, err := s.platform.UpdateTenant(r.Context(), r.PathValue("tid"), &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := s.platform.DeleteTenant(r.Context(), r.PathValue("tid")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
