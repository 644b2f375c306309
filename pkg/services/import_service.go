package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/apperrors"
	"github.com/biomarklabs/biomark-engine/pkg/config"
	"github.com/biomarklabs/biomark-engine/pkg/logging"
	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// importDateFormats are tried in order when parsing a date-of-birth cell.
var importDateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
}

// CreateJobParams describes a new import job.
type CreateJobParams struct {
	StudyID     uuid.UUID
	FileURL     string
	FileName    string
	Mapping     models.ImportMapping
	ColumnTypes models.ColumnTypes
	TotalRows   int
	CreatedBy   *uuid.UUID
}

// ImportService runs bulk imports against a dataset: job lifecycle,
// synchronous execution and the progress-streaming variant.
type ImportService interface {
	// CreateJob registers a PENDING job. Fails with ErrImportInProgress
	// when the dataset already has a PENDING or RUNNING job.
	CreateJob(ctx context.Context, params CreateJobParams) (*models.ImportJob, error)
	// StartJob moves a PENDING job to RUNNING and processes it to
	// completion, pause or failure.
	StartJob(ctx context.Context, jobID uuid.UUID) (*models.ImportResult, error)
	// PauseJob requests a pause. The run loop observes it at the next
	// batch boundary.
	PauseJob(ctx context.Context, jobID uuid.UUID, reason string) error
	// ResumeJob continues a PAUSED job from its recorded position.
	ResumeJob(ctx context.Context, jobID uuid.UUID) (*models.ImportResult, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error)
	JobsForStudy(ctx context.Context, studyID uuid.UUID) ([]*models.ImportJob, error)
	// PauseInterrupted marks jobs left RUNNING by a dead process as PAUSED
	// for manual resume. Called once at startup.
	PauseInterrupted(ctx context.Context) error

	// ExecuteImport creates a job and runs it synchronously.
	ExecuteImport(ctx context.Context, params CreateJobParams) (*models.ImportResult, error)
	// ExecuteImportStream runs the same pipeline but emits progress
	// snapshots on the returned channel. The final event has type
	// complete or error, after which the channel closes.
	ExecuteImportStream(ctx context.Context, params CreateJobParams) (<-chan models.ProgressEvent, error)
}

type importService struct {
	jobs        repositories.ImportJobRepository
	patients    repositories.PatientRepository
	memberships repositories.UserStudyRepository
	results     repositories.ResultRepository
	variables   repositories.VariableRepository
	reader      FileReader
	classifier  *ColumnClassifier
	synthesizer SchemaSynthesizer
	cfg         config.ImportConfig
	uploadDir   string
	logger      *zap.Logger
}

// NewImportService creates a new import service.
func NewImportService(
	jobs repositories.ImportJobRepository,
	patients repositories.PatientRepository,
	memberships repositories.UserStudyRepository,
	results repositories.ResultRepository,
	variables repositories.VariableRepository,
	reader FileReader,
	classifier *ColumnClassifier,
	synthesizer SchemaSynthesizer,
	cfg config.ImportConfig,
	uploadDir string,
	logger *zap.Logger,
) ImportService {
	return &importService{
		jobs:        jobs,
		patients:    patients,
		memberships: memberships,
		results:     results,
		variables:   variables,
		reader:      reader,
		classifier:  classifier,
		synthesizer: synthesizer,
		cfg:         cfg,
		uploadDir:   uploadDir,
		logger:      logger.Named("import_service"),
	}
}

func (s *importService) CreateJob(ctx context.Context, params CreateJobParams) (*models.ImportJob, error) {
	if params.FileURL == "" {
		return nil, fmt.Errorf("%w: file url is required", apperrors.ErrValidation)
	}

	if _, err := s.jobs.FindActiveByStudy(ctx, params.StudyID); err == nil {
		return nil, apperrors.ErrImportInProgress
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	job := &models.ImportJob{
		StudyID:     params.StudyID,
		Status:      models.ImportJobPending,
		FileURL:     params.FileURL,
		FileName:    params.FileName,
		Mapping:     params.Mapping,
		ColumnTypes: params.ColumnTypes,
		TotalRows:   params.TotalRows,
		CreatedBy:   params.CreatedBy,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("import job created",
		zap.String("job_id", job.ID.String()),
		zap.String("study_id", params.StudyID.String()),
		zap.String("file", params.FileName))
	return job, nil
}

func (s *importService) StartJob(ctx context.Context, jobID uuid.UUID) (*models.ImportResult, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ImportJobPending {
		return nil, fmt.Errorf("%w: cannot start job in state %s", apperrors.ErrInvalidState, job.Status)
	}
	return s.run(ctx, job, nil)
}

func (s *importService) PauseJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.ImportJobRunning && job.Status != models.ImportJobPending {
		return fmt.Errorf("%w: cannot pause job in state %s", apperrors.ErrInvalidState, job.Status)
	}
	if reason == "" {
		reason = models.PauseReasonManual
	}
	return s.jobs.UpdateStatus(ctx, jobID, models.ImportJobPaused, reason)
}

func (s *importService) ResumeJob(ctx context.Context, jobID uuid.UUID) (*models.ImportResult, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ImportJobPaused {
		return nil, fmt.Errorf("%w: cannot resume job in state %s", apperrors.ErrInvalidState, job.Status)
	}
	job.PausedReason = ""
	return s.run(ctx, job, nil)
}

func (s *importService) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel job in state %s", apperrors.ErrInvalidState, job.Status)
	}
	return s.jobs.UpdateStatus(ctx, jobID, models.ImportJobCancelled, "")
}

func (s *importService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	return s.jobs.Get(ctx, jobID)
}

func (s *importService) JobsForStudy(ctx context.Context, studyID uuid.UUID) ([]*models.ImportJob, error) {
	return s.jobs.ListByStudy(ctx, studyID)
}

func (s *importService) PauseInterrupted(ctx context.Context) error {
	interrupted, err := s.jobs.ListInterrupted(ctx)
	if err != nil {
		return err
	}
	for _, job := range interrupted {
		if err := s.jobs.UpdateStatus(ctx, job.ID, models.ImportJobPaused, models.PauseReasonServerRestart); err != nil {
			return err
		}
		s.logger.Warn("paused interrupted import job",
			zap.String("job_id", job.ID.String()))
	}
	return nil
}

func (s *importService) ExecuteImport(ctx context.Context, params CreateJobParams) (*models.ImportResult, error) {
	job, err := s.CreateJob(ctx, params)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, job, nil)
}

func (s *importService) ExecuteImportStream(ctx context.Context, params CreateJobParams) (<-chan models.ProgressEvent, error) {
	job, err := s.CreateJob(ctx, params)
	if err != nil {
		return nil, err
	}

	events := make(chan models.ProgressEvent)
	go func() {
		defer close(events)
		emit := func(e models.ProgressEvent) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}
		result, err := s.run(ctx, job, emit)
		if err != nil {
			emit(models.ProgressEvent{
				Type:    models.ProgressEventError,
				Message: logging.SanitizeError(err),
			})
			return
		}
		emit(models.ProgressEvent{
			Type:             models.ProgressEventComplete,
			Current:          job.ProcessedRows,
			Total:            job.TotalRows,
			Imported:         result.Imported,
			Updated:          result.Updated,
			Skipped:          result.Skipped,
			PatientsCreated:  result.PatientsCreated,
			VariablesCreated: result.VariablesCreated,
		})
	}()
	return events, nil
}

// importCaches holds the per-run lookup state pre-loaded before row
// processing and mutated in place as rows create records. One instance is
// owned by exactly one run; nothing here is shared.
type importCaches struct {
	variablesByName map[string]*models.StudyVariable
	variablesByID   map[uuid.UUID]*models.StudyVariable
	memberByRef     map[string]*models.UserStudy
	memberByPatient map[uuid.UUID]*models.UserStudy
	patientsByID    map[uuid.UUID]*models.Patient
	patientsByKey   map[string]*models.Patient
	seenSignatures  map[string]int
}

// pendingCell is one buffered result value waiting for a flush.
type pendingCell struct {
	key   models.ResultKey
	value string
}

// run is the shared engine behind StartJob, ResumeJob, ExecuteImport and
// ExecuteImportStream. emit may be nil for non-streaming runs.
func (s *importService) run(ctx context.Context, job *models.ImportJob, emit func(models.ProgressEvent)) (*models.ImportResult, error) {
	now := time.Now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.Status = models.ImportJobRunning
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}

	result, err := s.process(ctx, job, emit)
	if err != nil {
		job.Status = models.ImportJobFailed
		job.AppendError(0, logging.SanitizeError(err))
		if updateErr := s.jobs.Update(ctx, job); updateErr != nil {
			s.logger.Error("failed to persist failed job", zap.Error(updateErr))
		}
		s.logger.Error("import failed",
			zap.String("job_id", job.ID.String()),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	return result, nil
}

func (s *importService) process(ctx context.Context, job *models.ImportJob, emit func(models.ProgressEvent)) (*models.ImportResult, error) {
	data, err := s.reader.Read(s.resolvePath(job.FileURL))
	if err != nil {
		return nil, err
	}
	job.TotalRows = len(data.Rows)

	variables, created, err := s.synthesizer.SyncVariables(ctx, job.StudyID, data, job.Mapping, job.ColumnTypes)
	if err != nil {
		return nil, err
	}
	job.VariablesCreated += created

	caches, err := s.loadCaches(ctx, job.StudyID, variables)
	if err != nil {
		return nil, err
	}

	// Explicit variable mapping: variable ID → column name.
	mappedVars := make(map[uuid.UUID]string, len(job.Mapping.Variables))
	mappedCols := make(map[string]bool, len(job.Mapping.Variables))
	for idStr, col := range job.Mapping.Variables {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid variable id %q in mapping", apperrors.ErrValidation, idStr)
		}
		if caches.variablesByID[id] == nil {
			return nil, fmt.Errorf("%w: mapped variable %s does not exist", apperrors.ErrValidation, idStr)
		}
		mappedVars[id] = col
		mappedCols[col] = true
	}
	// Unmapped data columns resolve by variable name.
	var nameColumns []string
	for _, col := range s.classifier.DataColumns(data.Columns, job.Mapping) {
		if !mappedCols[col] && caches.variablesByName[strings.ToLower(col)] != nil {
			nameColumns = append(nameColumns, col)
		}
	}

	var buffer []pendingCell
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := s.flushCells(ctx, buffer); err != nil {
			return err
		}
		buffer = buffer[:0]
		return nil
	}

	for i := job.ProcessedRows; i < len(data.Rows); i++ {
		// Batch boundary: persist progress and observe pause/cancel
		// requests made from other requests.
		if i > job.ProcessedRows && (i-job.ProcessedRows)%s.cfg.BatchSize == 0 {
			status, err := s.jobs.GetStatus(ctx, job.ID)
			if err != nil {
				return nil, err
			}
			switch status {
			case models.ImportJobPaused:
				if err := flush(); err != nil {
					return nil, err
				}
				// PauseJob already persisted the caller's reason; carry
				// it so the wholesale update does not clobber it.
				persisted, err := s.jobs.Get(ctx, job.ID)
				if err != nil {
					return nil, err
				}
				job.PausedReason = persisted.PausedReason
				job.ProcessedRows = i
				job.Status = models.ImportJobPaused
				if err := s.jobs.Update(ctx, job); err != nil {
					return nil, err
				}
				return s.resultFromJob(job), nil
			case models.ImportJobCancelled:
				job.ProcessedRows = i
				job.Status = models.ImportJobCancelled
				if err := s.jobs.Update(ctx, job); err != nil {
					return nil, err
				}
				return s.resultFromJob(job), nil
			}
			job.ProcessedRows = i
			if err := s.jobs.Update(ctx, job); err != nil {
				return nil, err
			}
		}

		rowErr := s.processRow(ctx, job, caches, data.Rows[i], mappedVars, nameColumns, &buffer)
		if rowErr != nil {
			// Row numbers are 1-based and include the header line.
			job.AppendError(i+2, logging.SanitizeError(rowErr))
			job.ErrorCount++
			job.ConsecutiveErrors++
			if job.ConsecutiveErrors >= s.cfg.ConsecutiveErrorThreshold {
				if err := flush(); err != nil {
					return nil, err
				}
				job.ProcessedRows = i + 1
				job.Status = models.ImportJobPaused
				job.PausedReason = models.PauseReasonConsecutiveErrors
				if err := s.jobs.Update(ctx, job); err != nil {
					return nil, err
				}
				s.logger.Warn("import paused by error circuit breaker",
					zap.String("job_id", job.ID.String()),
					zap.Int("consecutive_errors", job.ConsecutiveErrors))
				return s.resultFromJob(job), nil
			}
		} else {
			job.ConsecutiveErrors = 0
		}

		if len(buffer) >= s.cfg.FlushSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}

		if emit != nil && (i+1)%s.cfg.ProgressInterval == 0 {
			emit(models.ProgressEvent{
				Type:             models.ProgressEventProgress,
				Current:          i + 1,
				Total:            job.TotalRows,
				Imported:         job.ImportedCount,
				Updated:          job.UpdatedCount,
				Skipped:          job.SkippedCount,
				PatientsCreated:  job.PatientsCreated,
				VariablesCreated: job.VariablesCreated,
			})
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	completed := time.Now()
	job.ProcessedRows = len(data.Rows)
	job.Status = models.ImportJobCompleted
	job.CompletedAt = &completed
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("import completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("rows", job.ProcessedRows),
		zap.Int("imported", job.ImportedCount),
		zap.Int("updated", job.UpdatedCount),
		zap.Int("skipped", job.SkippedCount),
		zap.Int("errors", job.ErrorCount))
	return s.resultFromJob(job), nil
}

// rowFields are the canonical patient fields extracted from one file row.
type rowFields struct {
	Reference string
	FirstName string
	LastName  string
	DOB       *time.Time
	Gender    string
	Latitude  *float64
	Longitude *float64
}

func (s *importService) processRow(ctx context.Context, job *models.ImportJob, caches *importCaches,
	row map[string]string, mappedVars map[uuid.UUID]string, nameColumns []string, buffer *[]pendingCell) error {

	fields := extractRowFields(row, job.Mapping.Patient)
	if fields.Reference == "" && fields.FirstName == "" && fields.LastName == "" {
		job.SkippedCount++
		return nil
	}

	signature := rowSignature(fields)
	if caches.seenSignatures[signature] > 0 {
		job.SkippedCount++
		return nil
	}
	caches.seenSignatures[signature]++

	patient, err := s.resolvePatient(ctx, job, caches, fields)
	if err != nil {
		return err
	}

	membership, err := s.resolveMembership(ctx, job, caches, patient, fields.Reference)
	if err != nil {
		return err
	}

	for varID, col := range mappedVars {
		if value := strings.TrimSpace(row[col]); value != "" {
			*buffer = append(*buffer, pendingCell{
				key:   models.ResultKey{UserStudyID: membership.ID, StudyVariableID: varID},
				value: value,
			})
		}
	}
	for _, col := range nameColumns {
		if value := strings.TrimSpace(row[col]); value != "" {
			variable := caches.variablesByName[strings.ToLower(col)]
			*buffer = append(*buffer, pendingCell{
				key:   models.ResultKey{UserStudyID: membership.ID, StudyVariableID: variable.ID},
				value: value,
			})
		}
	}
	return nil
}

func (s *importService) resolvePatient(ctx context.Context, job *models.ImportJob, caches *importCaches, fields rowFields) (*models.Patient, error) {
	if fields.Reference != "" {
		if membership := caches.memberByRef[strings.ToLower(fields.Reference)]; membership != nil {
			if patient := caches.patientsByID[membership.PatientID]; patient != nil {
				return patient, nil
			}
			patient, err := s.patients.Get(ctx, membership.PatientID)
			if err != nil {
				return nil, err
			}
			caches.patientsByID[patient.ID] = patient
			return patient, nil
		}
	}

	if fields.FirstName != "" || fields.LastName != "" {
		if patient := caches.patientsByKey[patientKey(fields.FirstName, fields.LastName, fields.DOB)]; patient != nil {
			return patient, nil
		}
	}

	patient := &models.Patient{
		FirstName:   fields.FirstName,
		LastName:    fields.LastName,
		DateOfBirth: fields.DOB,
		Gender:      fields.Gender,
		Latitude:    fields.Latitude,
		Longitude:   fields.Longitude,
		CreatedBy:   job.CreatedBy,
	}
	if err := s.patients.Create(ctx, patient); err != nil {
		return nil, err
	}
	job.PatientsCreated++
	caches.patientsByID[patient.ID] = patient
	caches.patientsByKey[patientKey(patient.FirstName, patient.LastName, patient.DateOfBirth)] = patient
	return patient, nil
}

func (s *importService) resolveMembership(ctx context.Context, job *models.ImportJob, caches *importCaches,
	patient *models.Patient, reference string) (*models.UserStudy, error) {

	if reference != "" {
		if membership := caches.memberByRef[strings.ToLower(reference)]; membership != nil {
			job.UpdatedCount++
			return membership, nil
		}
	}
	if membership := caches.memberByPatient[patient.ID]; membership != nil {
		job.UpdatedCount++
		return membership, nil
	}

	if reference == "" {
		reference = "AUTO-" + patient.ID.String()
	}
	membership, created, err := s.memberships.GetOrCreate(ctx, &models.UserStudy{
		StudyID:   job.StudyID,
		PatientID: patient.ID,
		Reference: reference,
		CreatedBy: job.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	if created {
		job.ImportedCount++
	} else {
		job.UpdatedCount++
	}
	caches.memberByRef[strings.ToLower(membership.Reference)] = membership
	caches.memberByPatient[membership.PatientID] = membership
	return membership, nil
}

// flushCells groups the buffer by cell key with last-value-wins semantics,
// diffs against existing rows and issues one bulk insert plus one bulk
// update.
func (s *importService) flushCells(ctx context.Context, buffer []pendingCell) error {
	latest := make(map[models.ResultKey]string, len(buffer))
	order := make([]models.ResultKey, 0, len(buffer))
	for _, cell := range buffer {
		if _, seen := latest[cell.key]; !seen {
			order = append(order, cell.key)
		}
		latest[cell.key] = cell.value
	}

	existing, err := s.results.ListExistingByKeys(ctx, order)
	if err != nil {
		return err
	}

	var inserts, updates []*models.StudyResult
	for _, key := range order {
		value := latest[key]
		if current, ok := existing[key]; ok {
			if current.Value != value {
				s.logger.Debug("overwriting result value",
					zap.String("user_study_id", key.UserStudyID.String()),
					zap.String("variable_id", key.StudyVariableID.String()),
					zap.String("value", logging.TruncateValue(value)))
				current.Value = value
				updates = append(updates, current)
			}
			continue
		}
		inserts = append(inserts, &models.StudyResult{
			UserStudyID:     key.UserStudyID,
			StudyVariableID: key.StudyVariableID,
			Value:           value,
		})
	}

	if err := s.results.BulkInsert(ctx, inserts); err != nil {
		return err
	}
	return s.results.BulkUpdate(ctx, updates)
}

func (s *importService) loadCaches(ctx context.Context, studyID uuid.UUID, variables []*models.StudyVariable) (*importCaches, error) {
	caches := &importCaches{
		variablesByName: make(map[string]*models.StudyVariable, len(variables)),
		variablesByID:   make(map[uuid.UUID]*models.StudyVariable, len(variables)),
		memberByRef:     make(map[string]*models.UserStudy),
		memberByPatient: make(map[uuid.UUID]*models.UserStudy),
		patientsByID:    make(map[uuid.UUID]*models.Patient),
		patientsByKey:   make(map[string]*models.Patient),
		seenSignatures:  make(map[string]int),
	}
	for _, v := range variables {
		caches.variablesByName[strings.ToLower(v.Name)] = v
		caches.variablesByID[v.ID] = v
	}

	memberships, err := s.memberships.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		caches.memberByRef[strings.ToLower(m.Reference)] = m
		caches.memberByPatient[m.PatientID] = m
	}

	patients, err := s.patients.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		caches.patientsByID[p.ID] = p
		caches.patientsByKey[patientKey(p.FirstName, p.LastName, p.DateOfBirth)] = p
	}
	return caches, nil
}

func (s *importService) resultFromJob(job *models.ImportJob) *models.ImportResult {
	return &models.ImportResult{
		Imported:         job.ImportedCount,
		Updated:          job.UpdatedCount,
		Skipped:          job.SkippedCount,
		Failed:           job.ErrorCount,
		PatientsCreated:  job.PatientsCreated,
		VariablesCreated: job.VariablesCreated,
		Errors:           job.Errors,
	}
}

func (s *importService) resolvePath(fileURL string) string {
	if filepath.IsAbs(fileURL) {
		return fileURL
	}
	return filepath.Join(s.uploadDir, fileURL)
}

// extractRowFields pulls the mapped patient fields out of one row. When age
// is given without a date of birth, a DOB of January 1 of (current year −
// age) is synthesized so age-only files still key patients consistently.
func extractRowFields(row map[string]string, mapping models.PatientMapping) rowFields {
	get := func(col string) string {
		if col == "" {
			return ""
		}
		return strings.TrimSpace(row[col])
	}

	fields := rowFields{
		Reference: get(mapping.Reference),
		FirstName: get(mapping.FirstName),
		LastName:  get(mapping.LastName),
	}
	if raw := get(mapping.Gender); raw != "" {
		fields.Gender = models.NormalizeGender(raw)
	}
	fields.DOB = parseImportDate(get(mapping.DateOfBirth))
	if fields.DOB == nil {
		if age, err := strconv.Atoi(get(mapping.Age)); err == nil && age >= 0 && age < 150 {
			dob := time.Date(time.Now().Year()-age, time.January, 1, 0, 0, 0, 0, time.UTC)
			fields.DOB = &dob
		}
	}
	if lat, err := strconv.ParseFloat(get(mapping.Latitude), 64); err == nil {
		if lng, err := strconv.ParseFloat(get(mapping.Longitude), 64); err == nil {
			fields.Latitude = &lat
			fields.Longitude = &lng
		}
	}
	return fields
}

func parseImportDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, format := range importDateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return &t
		}
	}
	return nil
}

// rowSignature is the within-file duplicate key.
func rowSignature(fields rowFields) string {
	dob := ""
	if fields.DOB != nil {
		dob = fields.DOB.Format("2006-01-02")
	}
	return strings.ToLower(fields.Reference + "|" + fields.FirstName + "|" + fields.LastName + "|" + dob)
}

// patientKey is the identity cache key for patient lookup by name and DOB.
func patientKey(firstName, lastName string, dob *time.Time) string {
	d := ""
	if dob != nil {
		d = dob.Format("2006-01-02")
	}
	return strings.ToLower(strings.TrimSpace(firstName)) + "|" +
		strings.ToLower(strings.TrimSpace(lastName)) + "|" + d
}

var _ ImportService = (*importService)(nil)
