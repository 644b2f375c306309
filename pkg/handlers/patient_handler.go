package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/services"
)

// PatientHandler handles patient HTTP requests.
type PatientHandler struct {
	patientService services.PatientService
	logger         *zap.Logger
}

// NewPatientHandler creates a new patient handler.
func NewPatientHandler(patientService services.PatientService, logger *zap.Logger) *PatientHandler {
	return &PatientHandler{
		patientService: patientService,
		logger:         logger,
	}
}

// RegisterRoutes registers the patient handler's routes on the given mux.
func (h *PatientHandler) RegisterRoutes(mux *http.ServeMux) {
	const base = "/api/patients"

	mux.HandleFunc("POST "+base, h.Create)
	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("POST "+base+"/match", h.Match)
	mux.HandleFunc("GET "+base+"/{id}", h.Get)
	mux.HandleFunc("PUT "+base+"/{id}", h.Update)
	mux.HandleFunc("DELETE "+base+"/{id}", h.Delete)
}

type patientRequest struct {
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	DateOfBirth string   `json:"dateOfBirth"`
	Gender      string   `json:"gender"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Notes       string   `json:"notes"`
}

// Create handles POST /api/patients
func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	created, err := h.patientService.Create(r.Context(), services.CreatePatientInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Notes:       req.Notes,
		CreatedBy:   userIDFromRequest(r),
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: created})
}

// List handles GET /api/patients
func (h *PatientHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePage(r, 20)
	filters := models.PatientFilters{
		Search: r.URL.Query().Get("search"),
		Gender: r.URL.Query().Get("gender"),
		Page:   page,
		Limit:  limit,
	}

	patients, pagination, err := h.patientService.List(r.Context(), filters)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if patients == nil {
		patients = make([]*models.Patient, 0)
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: PaginatedResponse{
		Items:      patients,
		Pagination: pagination,
	}})
}

// Get handles GET /api/patients/{id}
func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	patient, err := h.patientService.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: patient})
}

type updatePatientRequest struct {
	FirstName   *string  `json:"firstName"`
	LastName    *string  `json:"lastName"`
	DateOfBirth *string  `json:"dateOfBirth"`
	Gender      *string  `json:"gender"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Notes       *string  `json:"notes"`
}

// Update handles PUT /api/patients/{id}
func (h *PatientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req updatePatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	patient, err := h.patientService.Update(r.Context(), id, services.UpdatePatientInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Notes:       req.Notes,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: patient})
}

// Delete handles DELETE /api/patients/{id}
func (h *PatientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.patientService.Delete(r.Context(), id); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Patient deleted"})
}

type matchRequest struct {
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	DateOfBirth string   `json:"dateOfBirth"`
	Gender      string   `json:"gender"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Match handles POST /api/patients/match
func (h *PatientHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	match, err := h.patientService.FindBestMatch(r.Context(), services.MatchQuery{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: match})
}

func (h *PatientHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Invalid patient ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *PatientHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, data); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *PatientHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *PatientHandler) serviceError(w http.ResponseWriter, err error) {
	h.logger.Error("Patient request failed", zap.Error(err))
	if err := ServiceError(w, err); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
