package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/services"
)

// DatasetHandler handles dataset HTTP requests.
type DatasetHandler struct {
	studyService    services.StudyService
	templateService services.TemplateService
	logger          *zap.Logger
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(studyService services.StudyService, templateService services.TemplateService, logger *zap.Logger) *DatasetHandler {
	return &DatasetHandler{
		studyService:    studyService,
		templateService: templateService,
		logger:          logger,
	}
}

// RegisterRoutes registers the dataset handler's routes on the given mux.
func (h *DatasetHandler) RegisterRoutes(mux *http.ServeMux) {
	const base = "/api/datasets"

	mux.HandleFunc("POST "+base, h.Create)
	mux.HandleFunc("GET "+base, h.Search)
	mux.HandleFunc("GET "+base+"/stats", h.Stats)
	mux.HandleFunc("GET "+base+"/{id}", h.Get)
	mux.HandleFunc("PUT "+base+"/{id}", h.Update)
	mux.HandleFunc("DELETE "+base+"/{id}", h.Delete)
	mux.HandleFunc("GET "+base+"/{id}/details", h.Details)
	mux.HandleFunc("GET "+base+"/{id}/history", h.History)
	mux.HandleFunc("GET "+base+"/{id}/patients", h.Patients)
	mux.HandleFunc("GET "+base+"/{id}/data", h.Data)
	mux.HandleFunc("GET "+base+"/{id}/template", h.Template)
	mux.HandleFunc("POST "+base+"/{id}/variables", h.AddVariable)
	mux.HandleFunc("PUT "+base+"/{id}/variables/{vid}", h.UpdateVariable)
	mux.HandleFunc("DELETE "+base+"/{id}/variables/{vid}", h.RemoveVariable)
}

type createDatasetRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Reference   string `json:"reference"`
}

// Create handles POST /api/datasets
func (h *DatasetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	study, err := h.studyService.Create(r.Context(), &models.Study{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Status:      req.Status,
		Reference:   req.Reference,
		CreatedBy:   userIDFromRequest(r),
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: study})
}

// Search handles GET /api/datasets
func (h *DatasetHandler) Search(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePage(r, 20)
	filters := models.StudyFilters{
		Search:        r.URL.Query().Get("search"),
		Status:        r.URL.Query().Get("status"),
		Category:      r.URL.Query().Get("category"),
		SortField:     r.URL.Query().Get("sort"),
		SortDirection: r.URL.Query().Get("direction"),
		Page:          page,
		Limit:         limit,
	}
	if createdBy := r.URL.Query().Get("created_by"); createdBy != "" {
		if id, err := uuid.Parse(createdBy); err == nil {
			filters.CreatedBy = &id
		}
	}

	studies, pagination, err := h.studyService.Search(r.Context(), filters)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if studies == nil {
		studies = make([]*models.Study, 0)
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: PaginatedResponse{
		Items:      studies,
		Pagination: pagination,
	}})
}

// Stats handles GET /api/datasets/stats
func (h *DatasetHandler) Stats(w http.ResponseWriter, r *http.Request) {
	filters := models.StudyFilters{
		Search:   r.URL.Query().Get("search"),
		Status:   r.URL.Query().Get("status"),
		Category: r.URL.Query().Get("category"),
	}
	stats, err := h.studyService.Stats(r.Context(), filters)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: stats})
}

// Get handles GET /api/datasets/{id}
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	study, err := h.studyService.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: study})
}

type updateDatasetRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Status      *string `json:"status"`
	Reference   *string `json:"reference"`
}

// Update handles PUT /api/datasets/{id}
func (h *DatasetHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	var req updateDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	study, err := h.studyService.Update(r.Context(), id, services.UpdateStudyInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Status:      req.Status,
		Reference:   req.Reference,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: study})
}

// Delete handles DELETE /api/datasets/{id}
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.studyService.Delete(r.Context(), id); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Dataset deleted"})
}

// Details handles GET /api/datasets/{id}/details
func (h *DatasetHandler) Details(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	details, err := h.studyService.Details(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: details})
}

// History handles GET /api/datasets/{id}/history
func (h *DatasetHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.studyService.History(r.Context(), id, limit)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: events})
}

// Patients handles GET /api/datasets/{id}/patients
func (h *DatasetHandler) Patients(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	page, limit := parsePage(r, 20)
	patients, pagination, err := h.studyService.Patients(r.Context(), id, page, limit)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if patients == nil {
		patients = make([]*models.StudyPatient, 0)
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: PaginatedResponse{
		Items:      patients,
		Pagination: pagination,
	}})
}

// Data handles GET /api/datasets/{id}/data
func (h *DatasetHandler) Data(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	page, limit := parsePage(r, 20)
	rows, variables, pagination, err := h.studyService.DataPreview(r.Context(), id, page, limit)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if rows == nil {
		rows = make([]*models.DataRow, 0)
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{
		"rows":       rows,
		"variables":  variables,
		"pagination": pagination,
	}})
}

// Template handles GET /api/datasets/{id}/template?format=csv|xlsx
func (h *DatasetHandler) Template(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}

	var (
		content  []byte
		fileName string
		mime     string
		err      error
	)
	switch r.URL.Query().Get("format") {
	case "", "csv":
		content, fileName, err = h.templateService.GenerateCSV(r.Context(), id)
		mime = "text/csv"
	case "xlsx":
		content, fileName, err = h.templateService.GenerateXLSX(r.Context(), id)
		mime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_format", "Format must be csv or xlsx")
		return
	}
	if err != nil {
		h.serviceError(w, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)
	if _, err := w.Write(content); err != nil {
		h.logger.Error("Failed to write template response", zap.Error(err))
	}
}

type variableRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Order        int    `json:"order"`
	IsSearchable bool   `json:"isSearchable"`
	IsRange      bool   `json:"isRange"`
	IsUnique     bool   `json:"isUnique"`
	Notes        string `json:"notes"`
}

func (r variableRequest) input() services.VariableInput {
	return services.VariableInput{
		Name:         r.Name,
		Type:         r.Type,
		Status:       r.Status,
		Order:        r.Order,
		IsSearchable: r.IsSearchable,
		IsRange:      r.IsRange,
		IsUnique:     r.IsUnique,
		Notes:        r.Notes,
	}
}

// AddVariable handles POST /api/datasets/{id}/variables
func (h *DatasetHandler) AddVariable(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	var req variableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	variable, err := h.studyService.AddVariable(r.Context(), id, req.input())
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: variable})
}

// UpdateVariable handles PUT /api/datasets/{id}/variables/{vid}
func (h *DatasetHandler) UpdateVariable(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	vid, ok := h.parseID(w, r, "vid")
	if !ok {
		return
	}
	var req variableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	variable, err := h.studyService.UpdateVariable(r.Context(), id, vid, req.input())
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: variable})
}

// RemoveVariable handles DELETE /api/datasets/{id}/variables/{vid}
func (h *DatasetHandler) RemoveVariable(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	vid, ok := h.parseID(w, r, "vid")
	if !ok {
		return
	}
	if err := h.studyService.RemoveVariable(r.Context(), id, vid); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Variable removed"})
}

func (h *DatasetHandler) parseID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *DatasetHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, data); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *DatasetHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *DatasetHandler) serviceError(w http.ResponseWriter, err error) {
	h.logger.Error("Dataset request failed", zap.Error(err))
	if err := ServiceError(w, err); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
