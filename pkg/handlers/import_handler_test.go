package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/apperrors"
	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/services"
)

// stubImportService returns canned jobs and results for handler tests.
type stubImportService struct {
	job    *models.ImportJob
	result *models.ImportResult
	events []models.ProgressEvent
}

func (s *stubImportService) CreateJob(ctx context.Context, params services.CreateJobParams) (*models.ImportJob, error) {
	if params.FileURL == "" {
		return nil, apperrors.ErrValidation
	}
	return s.job, nil
}

func (s *stubImportService) StartJob(ctx context.Context, jobID uuid.UUID) (*models.ImportResult, error) {
	return s.result, nil
}

func (s *stubImportService) PauseJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	if s.job == nil || s.job.ID != jobID {
		return apperrors.ErrNotFound
	}
	s.job.Status = models.ImportJobPaused
	s.job.PausedReason = reason
	return nil
}

func (s *stubImportService) ResumeJob(ctx context.Context, jobID uuid.UUID) (*models.ImportResult, error) {
	return s.result, nil
}

func (s *stubImportService) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	if s.job == nil || s.job.IsTerminal() {
		return apperrors.ErrInvalidState
	}
	s.job.Status = models.ImportJobCancelled
	return nil
}

func (s *stubImportService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	if s.job == nil || s.job.ID != jobID {
		return nil, apperrors.ErrNotFound
	}
	return s.job, nil
}

func (s *stubImportService) JobsForStudy(ctx context.Context, studyID uuid.UUID) ([]*models.ImportJob, error) {
	if s.job == nil {
		return nil, nil
	}
	return []*models.ImportJob{s.job}, nil
}

func (s *stubImportService) PauseInterrupted(ctx context.Context) error { return nil }

func (s *stubImportService) ExecuteImport(ctx context.Context, params services.CreateJobParams) (*models.ImportResult, error) {
	return s.result, nil
}

func (s *stubImportService) ExecuteImportStream(ctx context.Context, params services.CreateJobParams) (<-chan models.ProgressEvent, error) {
	events := make(chan models.ProgressEvent)
	go func() {
		defer close(events)
		for _, e := range s.events {
			events <- e
		}
	}()
	return events, nil
}

var _ services.ImportService = (*stubImportService)(nil)

type stubPreviewService struct {
	report *models.PreviewReport
}

func (s *stubPreviewService) PreviewImport(ctx context.Context, studyID uuid.UUID, fileURL string, mapping *models.ImportMapping) (*models.PreviewReport, error) {
	return s.report, nil
}

var _ services.PreviewService = (*stubPreviewService)(nil)

func newImportTestMux(t *testing.T, svc *stubImportService) (*http.ServeMux, string) {
	t.Helper()
	uploadDir := t.TempDir()
	mux := http.NewServeMux()
	NewImportHandler(svc, &stubPreviewService{report: &models.PreviewReport{}}, uploadDir, zap.NewNop()).RegisterRoutes(mux)
	return mux, uploadDir
}

func multipartBody(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestImportHandlerUploadStoresFile(t *testing.T) {
	mux, uploadDir := newImportTestMux(t, &stubImportService{})
	studyID := uuid.New()

	body, contentType := multipartBody(t, "data.csv", "A,B\n1,2\n")
	req := httptest.NewRequest(http.MethodPost, "/api/datasets/"+studyID.String()+"/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "data.csv", resp.Data["fileName"])
	require.NotEmpty(t, resp.Data["fileUrl"])

	stored, err := os.ReadFile(filepath.Join(uploadDir, resp.Data["fileUrl"]))
	require.NoError(t, err)
	assert.Equal(t, "A,B\n1,2\n", string(stored))
}

func TestImportHandlerUploadRejectsUnknownExtension(t *testing.T) {
	mux, _ := newImportTestMux(t, &stubImportService{})

	body, contentType := multipartBody(t, "malware.exe", "xx")
	req := httptest.NewRequest(http.MethodPost, "/api/datasets/"+uuid.NewString()+"/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unsupported_file_type", resp.Error)
}

func TestImportHandlerExecute(t *testing.T) {
	svc := &stubImportService{result: &models.ImportResult{Imported: 5, Updated: 2}}
	mux, _ := newImportTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/"+uuid.NewString()+"/import/execute",
		strings.NewReader(`{"fileUrl":"up/data.csv","fileName":"data.csv"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool                `json:"success"`
		Data    models.ImportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Data.Imported)
	assert.Equal(t, 2, resp.Data.Updated)
}

func TestImportHandlerStreamWritesServerSentEvents(t *testing.T) {
	svc := &stubImportService{events: []models.ProgressEvent{
		{Type: models.ProgressEventProgress, Current: 2, Total: 4},
		{Type: models.ProgressEventComplete, Current: 4, Total: 4, Imported: 4},
	}}
	mux, _ := newImportTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/"+uuid.NewString()+"/import/stream",
		strings.NewReader(`{"fileUrl":"up/data.csv"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 2)
	var last models.ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[1], "data: ")), &last))
	assert.Equal(t, models.ProgressEventComplete, last.Type)
	assert.Equal(t, 4, last.Imported)
}

func TestImportHandlerJobStatus(t *testing.T) {
	job := &models.ImportJob{
		ID:            uuid.New(),
		Status:        models.ImportJobRunning,
		TotalRows:     10,
		ProcessedRows: 5,
	}
	mux, _ := newImportTestMux(t, &stubImportService{job: job})

	req := httptest.NewRequest(http.MethodGet, "/api/imports/"+job.ID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Job      models.ImportJob `json:"job"`
			Progress int              `json:"progress"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.Data.Progress)
	assert.Equal(t, models.ImportJobRunning, resp.Data.Job.Status)
}

func TestImportHandlerPause(t *testing.T) {
	job := &models.ImportJob{ID: uuid.New(), Status: models.ImportJobRunning}
	svc := &stubImportService{job: job}
	mux, _ := newImportTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/imports/"+job.ID.String()+"/pause", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ImportJobPaused, job.Status)
	assert.Equal(t, models.PauseReasonManual, job.PausedReason)
}

func TestImportHandlerInvalidJobID(t *testing.T) {
	mux, _ := newImportTestMux(t, &stubImportService{})

	req := httptest.NewRequest(http.MethodPost, "/api/imports/nope/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
