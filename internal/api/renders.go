package api

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/bobarin/scenereel/internal/renders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// signedURLExpiry is how long redirect targets stay valid, in seconds.
const signedURLExpiry = 3600

// VideoStore opens finished videos from the local output directory.
type VideoStore interface {
	Open(projectID string) (*os.File, os.FileInfo, error)
}

// ListRenders handles GET /v1/renders
// Query params:
//   - status: processing, done or error
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !models.RenderStatus(status).Valid() {
		respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: processing, done, error")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	jobs, total, err := h.renders.List(r.Context(), status, limit, offset)
	if err != nil {
		h.respondServiceError(w, err, "Failed to list renders")
		return
	}

	respondJSON(w, http.StatusOK, models.ListRendersResponse{
		Renders: jobs,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// CreateRender handles POST /v1/renders
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderRequest
	if !h.decode(w, r, &req) {
		return
	}

	job, err := h.renders.Create(r.Context(), renders.CreateRequest{
		TemplateID: req.TemplateID,
		RenderData: req.RenderData,
		Resolution: req.Resolution,
	})
	if err != nil {
		h.respondServiceError(w, err, "Failed to create render")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRenderResponse{
		ID:        job.ID,
		ProjectID: job.ProjectID,
		Status:    job.Status,
	})
}

// RenderStats handles GET /v1/renders/stats/summary
func (h *Handler) RenderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.renders.Stats(r.Context())
	if err != nil {
		h.respondServiceError(w, err, "Failed to get render stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetRender handles GET /v1/renders/{id}
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	id, ok := renderID(w, r)
	if !ok {
		return
	}

	job, err := h.renders.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "Failed to get render")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// DeleteRender handles DELETE /v1/renders/{id}
func (h *Handler) DeleteRender(w http.ResponseWriter, r *http.Request) {
	id, ok := renderID(w, r)
	if !ok {
		return
	}

	if err := h.renders.Delete(r.Context(), id); err != nil {
		h.respondServiceError(w, err, "Failed to delete render")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryRender handles POST /v1/renders/{id}/retry
func (h *Handler) RetryRender(w http.ResponseWriter, r *http.Request) {
	id, ok := renderID(w, r)
	if !ok {
		return
	}

	job, err := h.renders.Retry(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "Failed to retry render")
		return
	}
	respondJSON(w, http.StatusAccepted, models.CreateRenderResponse{
		ID:        job.ID,
		ProjectID: job.ProjectID,
		Status:    job.Status,
	})
}

// ViewRender handles GET /v1/renders/{id}/view
func (h *Handler) ViewRender(w http.ResponseWriter, r *http.Request) {
	h.serveRender(w, r, "inline")
}

// DownloadRender handles GET /v1/renders/{id}/download
func (h *Handler) DownloadRender(w http.ResponseWriter, r *http.Request) {
	h.serveRender(w, r, "attachment")
}

func (h *Handler) serveRender(w http.ResponseWriter, r *http.Request, disposition string) {
	id, ok := renderID(w, r)
	if !ok {
		return
	}

	job, err := h.renders.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "Failed to get render")
		return
	}
	if job.Status != models.RenderStatusDone {
		respondError(w, http.StatusConflict, fmt.Sprintf("Render is %s, video not available", job.Status))
		return
	}

	f, info, err := h.videos.Open(job.ProjectID)
	if err == nil {
		defer f.Close()
		name := job.ProjectID + ".mp4"
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, name))
		http.ServeContent(w, r, name, info.ModTime(), f)
		return
	}

	// Fall back to the published copy
	if h.signer != nil {
		url, err := h.signer.GetSignedURL(r.Context(), h.signer.GenerateStoragePath(job.ProjectID), signedURLExpiry)
		if err == nil {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
		h.log.WithError(err).WithField("project_id", job.ProjectID).Warn("failed to sign video URL")
	}

	respondError(w, http.StatusNotFound, "Video file not found")
}

// ServeVideo handles GET /videos/{file}
func (h *Handler) ServeVideo(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	projectID, ok := strings.CutSuffix(file, ".mp4")
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, info, err := h.videos.Open(projectID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	http.ServeContent(w, r, file, info.ModTime(), f)
}

func renderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render ID")
		return uuid.Nil, false
	}
	return id, true
}
