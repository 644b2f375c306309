package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/services"
)

// maxUploadBytes caps spreadsheet uploads at 50 MB.
const maxUploadBytes = 50 << 20

// ImportHandler handles file upload, import preview and import job HTTP
// requests.
type ImportHandler struct {
	importService  services.ImportService
	previewService services.PreviewService
	uploadDir      string
	logger         *zap.Logger
}

// NewImportHandler creates a new import handler.
func NewImportHandler(importService services.ImportService, previewService services.PreviewService, uploadDir string, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{
		importService:  importService,
		previewService: previewService,
		uploadDir:      uploadDir,
		logger:         logger,
	}
}

// RegisterRoutes registers the import handler's routes on the given mux.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasets/{id}/upload", h.Upload)
	mux.HandleFunc("POST /api/datasets/{id}/import/preview", h.Preview)
	mux.HandleFunc("POST /api/datasets/{id}/import/execute", h.Execute)
	mux.HandleFunc("POST /api/datasets/{id}/import/stream", h.Stream)
	mux.HandleFunc("POST /api/datasets/{id}/import/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/datasets/{id}/import/jobs", h.ListJobs)

	mux.HandleFunc("GET /api/imports/{jobId}", h.JobStatus)
	mux.HandleFunc("POST /api/imports/{jobId}/start", h.StartJob)
	mux.HandleFunc("POST /api/imports/{jobId}/pause", h.PauseJob)
	mux.HandleFunc("POST /api/imports/{jobId}/resume", h.ResumeJob)
	mux.HandleFunc("POST /api/imports/{jobId}/cancel", h.CancelJob)
}

// Upload handles POST /api/datasets/{id}/upload. It stores the spreadsheet
// under the upload directory and returns the fileUrl to use in subsequent
// preview and import calls.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_upload", "A 'file' form field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".csv", ".xlsx", ".xls":
	default:
		h.writeError(w, http.StatusBadRequest, "unsupported_file_type", "Only .csv, .xlsx and .xls files are accepted")
		return
	}

	dir := filepath.Join(h.uploadDir, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.serviceError(w, err)
		return
	}
	stored := fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(header.Filename))
	dst, err := os.Create(filepath.Join(dir, stored))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		h.serviceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: map[string]string{
		"fileUrl":  filepath.Join(id.String(), stored),
		"fileName": header.Filename,
	}})
}

type previewRequest struct {
	FileURL string                `json:"fileUrl"`
	Mapping *models.ImportMapping `json:"mapping"`
}

// Preview handles POST /api/datasets/{id}/import/preview
func (h *ImportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.FileURL == "" {
		h.writeError(w, http.StatusBadRequest, "missing_file", "fileUrl is required")
		return
	}

	report, err := h.previewService.PreviewImport(r.Context(), id, req.FileURL, req.Mapping)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report})
}

type importRequest struct {
	FileURL     string               `json:"fileUrl"`
	FileName    string               `json:"fileName"`
	Mapping     models.ImportMapping `json:"mapping"`
	ColumnTypes models.ColumnTypes   `json:"columnTypes"`
	TotalRows   int                  `json:"totalRows"`
}

func (h *ImportHandler) jobParams(r *http.Request, studyID uuid.UUID, req importRequest) services.CreateJobParams {
	return services.CreateJobParams{
		StudyID:     studyID,
		FileURL:     req.FileURL,
		FileName:    req.FileName,
		Mapping:     req.Mapping,
		ColumnTypes: req.ColumnTypes,
		TotalRows:   req.TotalRows,
		CreatedBy:   userIDFromRequest(r),
	}
}

// Execute handles POST /api/datasets/{id}/import/execute. The import runs
// synchronously; the response carries the final counts.
func (h *ImportHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	result, err := h.importService.ExecuteImport(r.Context(), h.jobParams(r, id, req))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result})
}

// Stream handles POST /api/datasets/{id}/import/stream. Progress events are
// relayed as Server-Sent Events; the final event has type complete or error.
func (h *ImportHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming is not supported")
		return
	}

	events, err := h.importService.ExecuteImportStream(r.Context(), h.jobParams(r, id, req))
	if err != nil {
		h.serviceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to encode progress event", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			h.logger.Warn("Client disconnected from import stream", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

// CreateJob handles POST /api/datasets/{id}/import/jobs
func (h *ImportHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	job, err := h.importService.CreateJob(r.Context(), h.jobParams(r, id, req))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: job})
}

// ListJobs handles GET /api/datasets/{id}/import/jobs
func (h *ImportHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	jobs, err := h.importService.JobsForStudy(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if jobs == nil {
		jobs = make([]*models.ImportJob, 0)
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: jobs})
}

// JobStatus handles GET /api/imports/{jobId}
func (h *ImportHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r, "jobId")
	if !ok {
		return
	}
	job, err := h.importService.GetJobStatus(r.Context(), jobID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{
		"job":      job,
		"progress": job.ProgressPercent(),
	}})
}

// StartJob handles POST /api/imports/{jobId}/start. The job runs in the
// background; poll GET /api/imports/{jobId} for progress.
func (h *ImportHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r, "jobId")
	if !ok {
		return
	}

	go h.runDetached(jobID, h.importService.StartJob)

	h.writeJSON(w, http.StatusAccepted, ApiResponse{Success: true, Message: "Import started"})
}

// PauseJob handles POST /api/imports/{jobId}/pause
func (h *ImportHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r, "jobId")
	if !ok {
		return
	}
	if err := h.importService.PauseJob(r.Context(), jobID, models.PauseReasonManual); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Import paused"})
}

// ResumeJob handles POST /api/imports/{jobId}/resume. The job continues in
// the background from its recorded position.
func (h *ImportHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r, "jobId")
	if !ok {
		return
	}

	go h.runDetached(jobID, h.importService.ResumeJob)

	h.writeJSON(w, http.StatusAccepted, ApiResponse{Success: true, Message: "Import resumed"})
}

// CancelJob handles POST /api/imports/{jobId}/cancel
func (h *ImportHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r, "jobId")
	if !ok {
		return
	}
	if err := h.importService.CancelJob(r.Context(), jobID); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Import cancelled"})
}

// runDetached executes a job-run function outside the request context, so
// the run outlives the HTTP request that triggered it. State transition
// errors are logged; the job row carries the authoritative outcome.
func (h *ImportHandler) runDetached(jobID uuid.UUID, run func(ctx context.Context, jobID uuid.UUID) (*models.ImportResult, error)) {
	if _, err := run(context.Background(), jobID); err != nil {
		h.logger.Error("Background import run failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
	}
}

func (h *ImportHandler) parseID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ImportHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, data); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ImportHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *ImportHandler) serviceError(w http.ResponseWriter, err error) {
	h.logger.Error("Import request failed", zap.Error(err))
	if err := ServiceError(w, err); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
