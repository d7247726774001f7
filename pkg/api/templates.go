package api

import (
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/types"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, cursor, err := s.platform.ListTemplates(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listPage[types.TemplateMetadata]{Items: templates, Cursor: cursor})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl types.Template
	if err := decodeJSON(r, &tpl); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.platform.RegisterTemplate(r.Context(), &tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.platform.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl types.Template
	if err := decodeJSON(r, &tpl); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.platform.UpdateTemplate(r.Context(), r.PathValue("id"), &tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.platform.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// generateRequest instantiates a template. With a tenant and worker id the
// result is deployed; without them the handler only interpolates and
// returns the files, so callers can preview before committing.
type generateRequest struct {
	TenantID string `json:"tenantId,omitempty"`
	platform.TemplateInstantiation
}

type generatePreview struct {
	Files map[string]string `json:"files"`
}

func (s *Server) handleGenerateTemplate(w http.ResponseWriter, r *http.Request) {
	var in generateRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	templateID := r.PathValue("id")

	if in.TenantID == "" && in.WorkerID == "" {
		files, err := s.platform.PreviewTemplateFiles(r.Context(), templateID, in.Slots)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, generatePreview{Files: files})
		return
	}
	if in.TenantID == "" || in.WorkerID == "" {
		writeError(w, fmt.Errorf("tenantId and workerId must be supplied together: %w", errdefs.ErrInvalidArgument))
		return
	}

	worker, err := s.platform.CreateWorkerFromTemplate(r.Context(), in.TenantID, templateID, in.TemplateInstantiation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}
