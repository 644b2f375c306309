package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/apperrors"
	"github.com/biomarklabs/biomark-engine/pkg/logging"
	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// CreatePatientInput describes a new patient record.
type CreatePatientInput struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Gender      string
	Latitude    *float64
	Longitude   *float64
	Notes       string
	CreatedBy   *uuid.UUID
}

// UpdatePatientInput carries a partial patient update. Nil fields are left
// untouched.
type UpdatePatientInput struct {
	FirstName   *string
	LastName    *string
	DateOfBirth *string
	Gender      *string
	Latitude    *float64
	Longitude   *float64
	Notes       *string
}

// PatientService owns patient CRUD and exposes the matcher for
// deduplication features outside the import flow.
type PatientService interface {
	Create(ctx context.Context, input CreatePatientInput) (*models.Patient, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Patient, error)
	Update(ctx context.Context, id uuid.UUID, input UpdatePatientInput) (*models.Patient, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters models.PatientFilters) ([]*models.Patient, models.Pagination, error)
	FindBestMatch(ctx context.Context, query MatchQuery) (*models.MatchResult, error)
}

type patientService struct {
	patients repositories.PatientRepository
	matcher  PatientMatcher
	logger   *zap.Logger
}

// NewPatientService creates a new patient service.
func NewPatientService(patients repositories.PatientRepository, matcher PatientMatcher, logger *zap.Logger) PatientService {
	return &patientService{
		patients: patients,
		matcher:  matcher,
		logger:   logger.Named("patient_service"),
	}
}

func (s *patientService) Create(ctx context.Context, input CreatePatientInput) (*models.Patient, error) {
	if strings.TrimSpace(input.FirstName) == "" && strings.TrimSpace(input.LastName) == "" {
		return nil, fmt.Errorf("%w: a first or last name is required", apperrors.ErrValidation)
	}

	patient := &models.Patient{
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Gender:    models.NormalizeGender(input.Gender),
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
		Notes:     input.Notes,
		CreatedBy: input.CreatedBy,
	}
	if input.DateOfBirth != "" {
		dob := parseImportDate(input.DateOfBirth)
		if dob == nil {
			return nil, fmt.Errorf("%w: unparseable date of birth", apperrors.ErrValidation)
		}
		patient.DateOfBirth = dob
	}
	if err := s.patients.Create(ctx, patient); err != nil {
		return nil, err
	}
	s.logger.Info("patient created",
		zap.String("patient_id", patient.ID.String()),
		zap.String("name", logging.RedactName(patient.FullName())))
	return patient, nil
}

func (s *patientService) Get(ctx context.Context, id uuid.UUID) (*models.Patient, error) {
	return s.patients.Get(ctx, id)
}

func (s *patientService) Update(ctx context.Context, id uuid.UUID, input UpdatePatientInput) (*models.Patient, error) {
	patient, err := s.patients.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.FirstName != nil {
		patient.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		patient.LastName = strings.TrimSpace(*input.LastName)
	}
	if input.DateOfBirth != nil {
		if *input.DateOfBirth == "" {
			patient.DateOfBirth = nil
		} else {
			dob := parseImportDate(*input.DateOfBirth)
			if dob == nil {
				return nil, fmt.Errorf("%w: unparseable date of birth", apperrors.ErrValidation)
			}
			patient.DateOfBirth = dob
		}
	}
	if input.Gender != nil {
		patient.Gender = models.NormalizeGender(*input.Gender)
	}
	if input.Latitude != nil {
		patient.Latitude = input.Latitude
	}
	if input.Longitude != nil {
		patient.Longitude = input.Longitude
	}
	if input.Notes != nil {
		patient.Notes = *input.Notes
	}

	if patient.FirstName == "" && patient.LastName == "" {
		return nil, fmt.Errorf("%w: a first or last name is required", apperrors.ErrValidation)
	}
	if err := s.patients.Update(ctx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

func (s *patientService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

func (s *patientService) List(ctx context.Context, filters models.PatientFilters) ([]*models.Patient, models.Pagination, error) {
	patients, total, err := s.patients.List(ctx, filters)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	return patients, models.NewPagination(filters.Page, filters.Limit, total), nil
}

func (s *patientService) FindBestMatch(ctx context.Context, query MatchQuery) (*models.MatchResult, error) {
	return s.matcher.FindBestMatch(ctx, query)
}

var _ PatientService = (*patientService)(nil)
