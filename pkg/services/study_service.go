package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/apperrors"
	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// UpdateStudyInput carries a partial dataset update. Nil fields are left
// untouched.
type UpdateStudyInput struct {
	Name        *string
	Description *string
	Category    *string
	Status      *string
	Reference   *string
}

// VariableInput describes a variable to create or update on a dataset.
type VariableInput struct {
	Name         string
	Type         string
	Status       string
	Order        int
	IsSearchable bool
	IsRange      bool
	IsUnique     bool
	Notes        string
}

// StudyService owns dataset CRUD plus the dataset-scoped read surfaces:
// search, details, variables, patients, data preview and history.
type StudyService interface {
	Create(ctx context.Context, study *models.Study) (*models.Study, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Study, error)
	// Update applies the changed fields and bumps the dataset version iff
	// something actually differed.
	Update(ctx context.Context, id uuid.UUID, input UpdateStudyInput) (*models.Study, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, filters models.StudyFilters) ([]*models.Study, models.Pagination, error)
	Stats(ctx context.Context, filters models.StudyFilters) (*models.StudyStats, error)
	Details(ctx context.Context, id uuid.UUID) (*models.StudyDetails, error)

	AddVariable(ctx context.Context, studyID uuid.UUID, input VariableInput) (*models.StudyVariable, error)
	UpdateVariable(ctx context.Context, studyID, variableID uuid.UUID, input VariableInput) (*models.StudyVariable, error)
	// RemoveVariable detaches a variable from the dataset and deletes its
	// results there. The variable record itself is deleted only when no
	// other dataset still links it.
	RemoveVariable(ctx context.Context, studyID, variableID uuid.UUID) error

	Patients(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.StudyPatient, models.Pagination, error)
	// DataPreview returns one row per membership with values keyed by
	// variable ID, for the dataset's tabular view.
	DataPreview(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.DataRow, []*models.StudyVariable, models.Pagination, error)
	History(ctx context.Context, studyID uuid.UUID, limit int) ([]models.HistoryEvent, error)
}

type studyService struct {
	studies     repositories.StudyRepository
	variables   repositories.VariableRepository
	memberships repositories.UserStudyRepository
	results     repositories.ResultRepository
	patients    repositories.PatientRepository
	jobs        repositories.ImportJobRepository
	logger      *zap.Logger
}

// NewStudyService creates a new study service.
func NewStudyService(
	studies repositories.StudyRepository,
	variables repositories.VariableRepository,
	memberships repositories.UserStudyRepository,
	results repositories.ResultRepository,
	patients repositories.PatientRepository,
	jobs repositories.ImportJobRepository,
	logger *zap.Logger,
) StudyService {
	return &studyService{
		studies:     studies,
		variables:   variables,
		memberships: memberships,
		results:     results,
		patients:    patients,
		jobs:        jobs,
		logger:      logger.Named("study_service"),
	}
}

func (s *studyService) Create(ctx context.Context, study *models.Study) (*models.Study, error) {
	if strings.TrimSpace(study.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}
	if err := s.studies.Create(ctx, study); err != nil {
		return nil, err
	}
	s.logger.Info("dataset created",
		zap.String("study_id", study.ID.String()),
		zap.String("name", study.Name))
	return study, nil
}

func (s *studyService) Get(ctx context.Context, id uuid.UUID) (*models.Study, error) {
	return s.studies.Get(ctx, id)
}

func (s *studyService) Update(ctx context.Context, id uuid.UUID, input UpdateStudyInput) (*models.Study, error) {
	study, err := s.studies.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	apply := func(field *string, value *string) {
		if value != nil && *field != *value {
			*field = *value
			changed = true
		}
	}
	apply(&study.Name, input.Name)
	apply(&study.Description, input.Description)
	apply(&study.Category, input.Category)
	apply(&study.Status, input.Status)
	apply(&study.Reference, input.Reference)

	if !changed {
		return study, nil
	}
	if strings.TrimSpace(study.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}

	study.Version++
	if err := s.studies.Update(ctx, study); err != nil {
		return nil, err
	}
	s.logger.Info("dataset updated",
		zap.String("study_id", study.ID.String()),
		zap.Int("version", study.Version))
	return study, nil
}

func (s *studyService) Delete(ctx context.Context, id uuid.UUID) error {
	if job, err := s.jobs.FindActiveByStudy(ctx, id); err == nil {
		return fmt.Errorf("%w: import job %s is active", apperrors.ErrImportInProgress, job.ID)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return s.studies.Delete(ctx, id)
}

func (s *studyService) Search(ctx context.Context, filters models.StudyFilters) ([]*models.Study, models.Pagination, error) {
	studies, total, err := s.studies.List(ctx, filters)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	return studies, models.NewPagination(filters.Page, filters.Limit, total), nil
}

func (s *studyService) Stats(ctx context.Context, filters models.StudyFilters) (*models.StudyStats, error) {
	return s.studies.Stats(ctx, filters)
}

func (s *studyService) Details(ctx context.Context, id uuid.UUID) (*models.StudyDetails, error) {
	study, err := s.studies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	variables, err := s.variables.ListByStudy(ctx, id)
	if err != nil {
		return nil, err
	}
	membershipCount, err := s.memberships.CountByStudy(ctx, id)
	if err != nil {
		return nil, err
	}
	resultCount, err := s.results.CountByStudy(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.StudyDetails{
		Study:     study,
		Variables: variables,
		Stats: models.StudyDetailStats{
			VariablesCount:   len(variables),
			MembershipsCount: membershipCount,
			ResultsCount:     resultCount,
		},
	}, nil
}

func (s *studyService) AddVariable(ctx context.Context, studyID uuid.UUID, input VariableInput) (*models.StudyVariable, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: variable name is required", apperrors.ErrValidation)
	}
	if input.Type != "" && !models.ValidVariableType(input.Type) {
		return nil, fmt.Errorf("%w: unknown variable type %q", apperrors.ErrValidation, input.Type)
	}
	study, err := s.studies.Get(ctx, studyID)
	if err != nil {
		return nil, err
	}

	existing, err := s.variables.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	for _, v := range existing {
		if strings.EqualFold(v.Name, input.Name) {
			return nil, fmt.Errorf("%w: variable %q already exists on dataset", apperrors.ErrConflict, input.Name)
		}
	}

	variable := &models.StudyVariable{
		Name:         strings.TrimSpace(input.Name),
		Type:         input.Type,
		Status:       input.Status,
		Order:        input.Order,
		IsSearchable: input.IsSearchable,
		IsRange:      input.IsRange,
		IsUnique:     input.IsUnique,
		Notes:        input.Notes,
	}
	if err := s.variables.Create(ctx, variable); err != nil {
		return nil, err
	}
	if err := s.variables.LinkToStudy(ctx, studyID, []uuid.UUID{variable.ID}); err != nil {
		return nil, err
	}
	if err := s.bumpVersion(ctx, study); err != nil {
		return nil, err
	}
	return variable, nil
}

func (s *studyService) UpdateVariable(ctx context.Context, studyID, variableID uuid.UUID, input VariableInput) (*models.StudyVariable, error) {
	study, err := s.studies.Get(ctx, studyID)
	if err != nil {
		return nil, err
	}
	variable, err := s.variables.Get(ctx, variableID)
	if err != nil {
		return nil, err
	}
	if input.Type != "" && !models.ValidVariableType(input.Type) {
		return nil, fmt.Errorf("%w: unknown variable type %q", apperrors.ErrValidation, input.Type)
	}

	if input.Name != "" {
		variable.Name = strings.TrimSpace(input.Name)
	}
	if input.Type != "" {
		variable.Type = input.Type
	}
	if input.Status != "" {
		variable.Status = input.Status
	}
	if input.Order != 0 {
		variable.Order = input.Order
	}
	variable.IsSearchable = input.IsSearchable
	variable.IsRange = input.IsRange
	variable.IsUnique = input.IsUnique
	if input.Notes != "" {
		variable.Notes = input.Notes
	}

	if err := s.variables.Update(ctx, variable); err != nil {
		return nil, err
	}
	if err := s.bumpVersion(ctx, study); err != nil {
		return nil, err
	}
	return variable, nil
}

func (s *studyService) RemoveVariable(ctx context.Context, studyID, variableID uuid.UUID) error {
	study, err := s.studies.Get(ctx, studyID)
	if err != nil {
		return err
	}
	if _, err := s.variables.Get(ctx, variableID); err != nil {
		return err
	}

	deleted, err := s.results.DeleteByVariable(ctx, studyID, variableID)
	if err != nil {
		return err
	}
	if err := s.variables.UnlinkFromStudy(ctx, studyID, variableID); err != nil {
		return err
	}

	links, err := s.variables.CountStudyLinks(ctx, variableID)
	if err != nil {
		return err
	}
	if links == 0 {
		if err := s.variables.Delete(ctx, variableID); err != nil {
			return err
		}
	}

	s.logger.Info("variable removed from dataset",
		zap.String("study_id", studyID.String()),
		zap.String("variable_id", variableID.String()),
		zap.Int("results_deleted", deleted),
		zap.Bool("variable_deleted", links == 0))
	return s.bumpVersion(ctx, study)
}

func (s *studyService) Patients(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.StudyPatient, models.Pagination, error) {
	if _, err := s.studies.Get(ctx, studyID); err != nil {
		return nil, models.Pagination{}, err
	}
	patients, total, err := s.memberships.ListPatientsWithCounts(ctx, studyID, page, limit)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	return patients, models.NewPagination(page, limit, total), nil
}

func (s *studyService) DataPreview(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.DataRow, []*models.StudyVariable, models.Pagination, error) {
	if _, err := s.studies.Get(ctx, studyID); err != nil {
		return nil, nil, models.Pagination{}, err
	}
	variables, err := s.variables.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, nil, models.Pagination{}, err
	}
	memberships, total, err := s.memberships.ListByStudyPage(ctx, studyID, page, limit)
	if err != nil {
		return nil, nil, models.Pagination{}, err
	}

	ids := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ID)
	}
	results, err := s.results.ListByUserStudies(ctx, ids)
	if err != nil {
		return nil, nil, models.Pagination{}, err
	}
	valuesByMembership := make(map[uuid.UUID]map[uuid.UUID]string, len(memberships))
	for _, res := range results {
		if valuesByMembership[res.UserStudyID] == nil {
			valuesByMembership[res.UserStudyID] = make(map[uuid.UUID]string)
		}
		valuesByMembership[res.UserStudyID][res.StudyVariableID] = res.Value
	}

	rows := make([]*models.DataRow, 0, len(memberships))
	for _, m := range memberships {
		row := &models.DataRow{
			UserStudyID: m.ID,
			Reference:   m.Reference,
			Status:      m.Status,
			CreatedAt:   m.CreatedAt,
			Values:      valuesByMembership[m.ID],
		}
		if row.Values == nil {
			row.Values = map[uuid.UUID]string{}
		}
		patientID := m.PatientID
		row.PatientID = &patientID
		if patient, err := s.patients.Get(ctx, m.PatientID); err == nil {
			row.PatientName = patient.FullName()
		}
		rows = append(rows, row)
	}
	return rows, variables, models.NewPagination(page, limit, total), nil
}

func (s *studyService) History(ctx context.Context, studyID uuid.UUID, limit int) ([]models.HistoryEvent, error) {
	study, err := s.studies.Get(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	events := []models.HistoryEvent{
		{
			Type:        "created",
			Timestamp:   study.CreatedAt,
			Description: fmt.Sprintf("Dataset %q created", study.Name),
		},
	}
	if study.UpdatedAt.After(study.CreatedAt) {
		events = append(events, models.HistoryEvent{
			Type:        "updated",
			Timestamp:   study.UpdatedAt,
			Description: fmt.Sprintf("Dataset updated to version %d", study.Version),
		})
	}

	jobs, err := s.jobs.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		events = append(events, models.HistoryEvent{
			Type:      "import_" + strings.ToLower(job.Status),
			Timestamp: job.UpdatedAt,
			Description: fmt.Sprintf("Import of %q %s: %d imported, %d updated, %d skipped",
				job.FileName, strings.ToLower(job.Status),
				job.ImportedCount, job.UpdatedCount, job.SkippedCount),
		})
	}

	recent, err := s.memberships.ListRecent(ctx, studyID, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range recent {
		events = append(events, models.HistoryEvent{
			Type:        "patient_added",
			Timestamp:   m.CreatedAt,
			Description: fmt.Sprintf("Patient added with reference %s", m.Reference),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *studyService) bumpVersion(ctx context.Context, study *models.Study) error {
	study.Version++
	return s.studies.Update(ctx, study)
}

var _ StudyService = (*studyService)(nil)
