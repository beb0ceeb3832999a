package api

import (
	"errors"
	"net/http"

	"github.com/bobarin/scenereel/internal/db"
	"github.com/bobarin/scenereel/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ListTemplates handles GET /v1/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListTemplates(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to list templates")
		respondError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}
	respondJSON(w, http.StatusOK, models.ListTemplatesResponse{Templates: templates})
}

// CreateTemplate handles POST /v1/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req models.SaveTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := &models.Template{
		ID:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		TemplateData: normalizeTemplateData(req.TemplateData),
		ThumbnailURL: req.ThumbnailURL,
	}
	if err := h.templates.CreateTemplate(r.Context(), t); err != nil {
		h.log.WithError(err).Error("failed to create template")
		respondError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// GetTemplate handles GET /v1/templates/{id}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTemplate(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// UpdateTemplate handles PUT /v1/templates/{id}
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid template ID")
		return
	}

	var req models.SaveTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := &models.Template{
		ID:           id,
		Name:         req.Name,
		Description:  req.Description,
		TemplateData: normalizeTemplateData(req.TemplateData),
		ThumbnailURL: req.ThumbnailURL,
	}
	if err := h.templates.UpdateTemplate(r.Context(), t); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Template not found")
			return
		}
		h.log.WithError(err).Error("failed to update template")
		respondError(w, http.StatusInternalServerError, "Failed to update template")
		return
	}

	respondJSON(w, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /v1/templates/{id}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid template ID")
		return
	}

	if err := h.templates.DeleteTemplate(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Template not found")
			return
		}
		h.log.WithError(err).Error("failed to delete template")
		respondError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DuplicateTemplate handles POST /v1/templates/{id}/duplicate
func (h *Handler) DuplicateTemplate(w http.ResponseWriter, r *http.Request) {
	src, ok := h.loadTemplate(w, r)
	if !ok {
		return
	}

	dup := &models.Template{
		ID:           uuid.New(),
		Name:         src.Name + " (Copy)",
		Description:  src.Description,
		TemplateData: src.TemplateData,
		ThumbnailURL: src.ThumbnailURL,
	}
	if err := h.templates.CreateTemplate(r.Context(), dup); err != nil {
		h.log.WithError(err).Error("failed to duplicate template")
		respondError(w, http.StatusInternalServerError, "Failed to duplicate template")
		return
	}

	respondJSON(w, http.StatusCreated, dup)
}

func (h *Handler) loadTemplate(w http.ResponseWriter, r *http.Request) (*models.Template, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid template ID")
		return nil, false
	}

	t, err := h.templates.GetTemplate(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Template not found")
			return nil, false
		}
		h.log.WithError(err).Error("failed to get template")
		respondError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	return t, true
}

// normalizeTemplateData stores scene durations already clamped to the
// renderable range.
func normalizeTemplateData(data models.TemplateData) models.TemplateData {
	for i := range data.Scenes {
		data.Scenes[i].Duration = data.Scenes[i].EffectiveDuration()
	}
	return data
}
