package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bobarin/scenereel/internal/logger"
	"github.com/bobarin/scenereel/internal/models"
	"github.com/bobarin/scenereel/internal/renders"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds request bodies; scene graphs with many elements stay
// well below it.
const maxBodyBytes = 10 << 20

type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *models.Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]models.Template, error)
	UpdateTemplate(ctx context.Context, t *models.Template) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
}

type RenderService interface {
	Create(ctx context.Context, req renders.CreateRequest) (*models.RenderJob, error)
	Get(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.RenderJob, int, error)
	Stats(ctx context.Context) (*models.RenderStats, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
}

// Signer issues temporary URLs for published videos.
type Signer interface {
	GenerateStoragePath(projectID string) string
	GetSignedURL(ctx context.Context, path string, expiresIn int) (string, error)
}

type Handler struct {
	templates TemplateStore
	renders   RenderService
	videos    VideoStore
	signer    Signer
	validate  *validator.Validate
	log       *logrus.Entry
}

// NewHandler wires the HTTP layer. signer may be nil when publishing is off.
func NewHandler(templates TemplateStore, rs RenderService, videos VideoStore, signer Signer) *Handler {
	return &Handler{
		templates: templates,
		renders:   rs,
		videos:    videos,
		signer:    signer,
		validate:  validator.New(),
		log:       logger.Component("api"),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps orchestrator errors onto status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, renders.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, renders.ErrNotFound):
		respondError(w, http.StatusNotFound, "Render not found")
	case errors.Is(err, renders.ErrTemplateNotFound):
		respondError(w, http.StatusNotFound, "Template not found")
	case errors.Is(err, renders.ErrNotRetryable):
		respondError(w, http.StatusConflict, "Only failed renders can be retried")
	case errors.Is(err, renders.ErrEnqueue):
		h.log.WithError(err).Error(fallback)
		respondError(w, http.StatusServiceUnavailable, "Failed to enqueue render")
	default:
		h.log.WithError(err).Error(fallback)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return "Validation failed: " + strings.Join(msgs, "; ")
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
