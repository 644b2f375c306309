package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/biomarklabs/biomark-engine/pkg/apperrors"
	"github.com/biomarklabs/biomark-engine/pkg/database"
	"github.com/biomarklabs/biomark-engine/pkg/models"
)

// ImportJobRepository defines the interface for import job persistence.
type ImportJobRepository interface {
	Create(ctx context.Context, job *models.ImportJob) error
	Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	// Update persists the job's counters, errors and status wholesale.
	// The import engine calls this at batch boundaries.
	Update(ctx context.Context, job *models.ImportJob) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status, pausedReason string) error
	// GetStatus reads only the current status. The import engine polls this
	// at batch boundaries to observe pause and cancel requests made from
	// other requests while the run loop holds a stale job struct.
	GetStatus(ctx context.Context, id uuid.UUID) (string, error)
	// FindActiveByStudy returns the PENDING or RUNNING job for a dataset,
	// or ErrNotFound.
	FindActiveByStudy(ctx context.Context, studyID uuid.UUID) (*models.ImportJob, error)
	ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.ImportJob, error)
	// ListInterrupted returns jobs left RUNNING by a previous process, so
	// startup can pause them for manual resume.
	ListInterrupted(ctx context.Context) ([]*models.ImportJob, error)
}

type importJobRepository struct {
	db *database.DB
}

// NewImportJobRepository creates a new import job repository.
func NewImportJobRepository(db *database.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

const importJobColumns = `id, study_id, status, file_url, file_name, mapping,
	column_types, total_rows, processed_rows, imported_count, updated_count,
	skipped_count, error_count, consecutive_errors, patients_created,
	variables_created, errors, paused_reason, created_by, started_at,
	completed_at, created_at, updated_at`

func scanImportJob(row pgx.Row) (*models.ImportJob, error) {
	var job models.ImportJob
	err := row.Scan(
		&job.ID, &job.StudyID, &job.Status, &job.FileURL, &job.FileName,
		&job.Mapping, &job.ColumnTypes, &job.TotalRows, &job.ProcessedRows,
		&job.ImportedCount, &job.UpdatedCount, &job.SkippedCount,
		&job.ErrorCount, &job.ConsecutiveErrors, &job.PatientsCreated,
		&job.VariablesCreated, &job.Errors, &job.PausedReason, &job.CreatedBy,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *importJobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.ImportJobPending
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO import_jobs (id, study_id, status, file_url, file_name,
			mapping, column_types, total_rows, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.StudyID, job.Status, job.FileURL, job.FileName,
		job.Mapping, job.ColumnTypes, job.TotalRows, job.CreatedBy, now)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrImportInProgress
		}
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

func (r *importJobRepository) Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	job, err := scanImportJob(r.db.QueryRow(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

func (r *importJobRepository) Update(ctx context.Context, job *models.ImportJob) error {
	job.UpdatedAt = time.Now()

	query := `
		UPDATE import_jobs SET
			status = $1, total_rows = $2, processed_rows = $3,
			imported_count = $4, updated_count = $5, skipped_count = $6,
			error_count = $7, consecutive_errors = $8, patients_created = $9,
			variables_created = $10, errors = $11, paused_reason = $12,
			started_at = $13, completed_at = $14, updated_at = $15
		WHERE id = $16`

	tag, err := r.db.Exec(ctx, query,
		job.Status, job.TotalRows, job.ProcessedRows,
		job.ImportedCount, job.UpdatedCount, job.SkippedCount,
		job.ErrorCount, job.ConsecutiveErrors, job.PatientsCreated,
		job.VariablesCreated, job.Errors, job.PausedReason,
		job.StartedAt, job.CompletedAt, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *importJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status, pausedReason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE import_jobs SET status = $1, paused_reason = $2, updated_at = $3 WHERE id = $4`,
		status, pausedReason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update import job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *importJobRepository) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM import_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to read import job status: %w", err)
	}
	return status, nil
}

func (r *importJobRepository) FindActiveByStudy(ctx context.Context, studyID uuid.UUID) (*models.ImportJob, error) {
	job, err := scanImportJob(r.db.QueryRow(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs
		 WHERE study_id = $1 AND status IN ('PENDING', 'RUNNING')`, studyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find active import job: %w", err)
	}
	return job, nil
}

func (r *importJobRepository) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.ImportJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs
		 WHERE study_id = $1 ORDER BY created_at DESC`, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()
	return collectImportJobs(rows)
}

func (r *importJobRepository) ListInterrupted(ctx context.Context) ([]*models.ImportJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE status = 'RUNNING'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupted import jobs: %w", err)
	}
	defer rows.Close()
	return collectImportJobs(rows)
}

func collectImportJobs(rows pgx.Rows) ([]*models.ImportJob, error) {
	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import jobs: %w", err)
	}
	return jobs, nil
}

var _ ImportJobRepository = (*importJobRepository)(nil)
