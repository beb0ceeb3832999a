package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bobarin/scenereel/internal/db"
	"github.com/bobarin/scenereel/internal/models"
	"github.com/bobarin/scenereel/internal/queue"
	"github.com/bobarin/scenereel/internal/renders"
	"github.com/bobarin/scenereel/internal/services"
	"github.com/bobarin/scenereel/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopGenerator struct{}

func (noopGenerator) Generate(context.Context, services.RenderRequest) (string, error) {
	return "", nil
}

type testServer struct {
	router *chi.Mux
	store  *db.MemoryStore
	local  *storage.Local
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	store := db.NewMemoryStore()
	local := storage.NewLocal(t.TempDir(), "http://localhost:8080")
	svc := renders.NewService(store, queue.NewMemory(16), noopGenerator{}, local, models.DefaultResolution)
	h := NewHandler(store, svc, local, nil)
	return &testServer{
		router: NewRouter(h, RouterConfig{BackendAPIKey: apiKey}),
		store:  store,
		local:  local,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

var sampleTemplate = map[string]interface{}{
	"name": "Promo",
	"template_data": map[string]interface{}{
		"aspect_ratio": "1:1",
		"scenes": []interface{}{
			map[string]interface{}{"id": "s1", "duration": 120, "elements": []interface{}{}},
		},
	},
}

func (s *testServer) createTemplate(t *testing.T) models.Template {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/templates", sampleTemplate)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tmpl models.Template
	decodeBody(t, rec, &tmpl)
	return tmpl
}

func (s *testServer) createRender(t *testing.T, templateID uuid.UUID) models.CreateRenderResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/renders", map[string]interface{}{
		"template_id": templateID,
		"render_data": sampleTemplate["template_data"],
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp models.CreateRenderResponse
	decodeBody(t, rec, &resp)
	return resp
}

func TestHealth(t *testing.T) {
	rec := newTestServer(t, "secret").do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	rec := s.do(t, http.MethodGet, "/v1/templates", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/templates", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTemplateCRUD(t *testing.T) {
	s := newTestServer(t, "")
	tmpl := s.createTemplate(t)

	assert.Equal(t, "Promo", tmpl.Name)
	require.Len(t, tmpl.TemplateData.Scenes, 1)
	assert.Equal(t, 60.0, tmpl.TemplateData.Scenes[0].Duration, "durations are clamped on save")

	rec := s.do(t, http.MethodPost, "/v1/templates/"+tmpl.ID.String()+"/duplicate", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var dup models.Template
	decodeBody(t, rec, &dup)
	assert.Equal(t, "Promo (Copy)", dup.Name)
	assert.NotEqual(t, tmpl.ID, dup.ID)

	update := map[string]interface{}{
		"name":          "Promo v2",
		"template_data": sampleTemplate["template_data"],
	}
	rec = s.do(t, http.MethodPut, "/v1/templates/"+tmpl.ID.String(), update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/templates", nil)
	var list models.ListTemplatesResponse
	decodeBody(t, rec, &list)
	assert.Len(t, list.Templates, 2)

	rec = s.do(t, http.MethodDelete, "/v1/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPut, "/v1/templates/"+tmpl.ID.String(), update)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplateValidation(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/v1/templates", map[string]interface{}{
		"name":          "Empty",
		"template_data": map[string]interface{}{"scenes": []interface{}{}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/templates", map[string]interface{}{
		"template_data": sampleTemplate["template_data"],
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Name")

	rec = s.do(t, http.MethodGet, "/v1/templates/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderLifecycle(t *testing.T) {
	s := newTestServer(t, "")
	tmpl := s.createTemplate(t)
	created := s.createRender(t, tmpl.ID)
	assert.Equal(t, models.RenderStatusProcessing, created.Status)

	rec := s.do(t, http.MethodGet, "/v1/renders/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.RenderJob
	decodeBody(t, rec, &job)
	assert.Equal(t, "1080x1080", job.Resolution)

	rec = s.do(t, http.MethodPost, "/v1/renders/"+created.ID.String()+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/renders/"+created.ID.String()+"/view", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/renders?status=processing", nil)
	var list models.ListRendersResponse
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 20, list.Limit)

	rec = s.do(t, http.MethodGet, "/v1/renders?status=queued", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/renders/stats/summary", nil)
	var stats models.RenderStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, models.RenderStats{Total: 1, Processing: 1}, stats)

	rec = s.do(t, http.MethodDelete, "/v1/renders/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/renders/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRenderErrors(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/v1/renders", map[string]interface{}{
		"template_id": uuid.New(),
		"render_data": sampleTemplate["template_data"],
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/renders", map[string]interface{}{
		"render_data": sampleTemplate["template_data"],
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tmpl := s.createTemplate(t)
	rec = s.do(t, http.MethodPost, "/v1/renders", map[string]interface{}{
		"template_id": tmpl.ID,
		"render_data": sampleTemplate["template_data"],
		"resolution":  "huge",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestViewAndDownloadFinishedRender(t *testing.T) {
	s := newTestServer(t, "")
	tmpl := s.createTemplate(t)
	created := s.createRender(t, tmpl.ID)

	require.NoError(t, os.WriteFile(s.local.Path(created.ProjectID), []byte("0123456789"), 0644))
	require.NoError(t, s.store.MarkRenderDone(context.Background(), created.ID, s.local.URL(created.ProjectID)))

	rec := s.do(t, http.MethodGet, "/v1/renders/"+created.ID.String()+"/view", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
	assert.Equal(t, "0123456789", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/renders/"+created.ID.String()+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `attachment; filename="`+created.ProjectID+`.mp4"`)

	req := httptest.NewRequest(http.MethodGet, "/videos/"+created.ProjectID+".mp4", nil)
	req.Header.Set("Range", "bytes=2-4")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "234", rr.Body.String())

	rec = s.do(t, http.MethodGet, "/videos/missing.mp4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubSigner struct{}

func (stubSigner) GenerateStoragePath(projectID string) string { return "renders/" + projectID + ".mp4" }

func (stubSigner) GetSignedURL(_ context.Context, path string, _ int) (string, error) {
	return "https://storage.test/" + path + "?token=t", nil
}

func TestDownloadRedirectsToSignedURL(t *testing.T) {
	s := newTestServer(t, "")
	tmpl := s.createTemplate(t)
	created := s.createRender(t, tmpl.ID)
	require.NoError(t, s.store.MarkRenderDone(context.Background(), created.ID, "https://storage.test/x"))

	// rebuild the router with a signer over the same store
	svc := renders.NewService(s.store, queue.NewMemory(1), noopGenerator{}, s.local, models.DefaultResolution)
	router := NewRouter(NewHandler(s.store, svc, s.local, stubSigner{}), RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/renders/"+created.ID.String()+"/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://storage.test/renders/"+created.ProjectID+".mp4?token=t", rec.Header().Get("Location"))
}
