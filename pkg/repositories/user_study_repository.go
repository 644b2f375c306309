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

// UserStudyRepository defines the interface for dataset membership access.
type UserStudyRepository interface {
	// GetOrCreate returns the membership for (study, patient), creating it
	// if absent. The boolean reports whether a new row was created. Backed
	// by the unique constraint on (study_id, patient_id).
	GetOrCreate(ctx context.Context, membership *models.UserStudy) (*models.UserStudy, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.UserStudy, error)
	// ListByStudy returns all memberships of a dataset. Used by the import
	// orchestrator to pre-build its reference and patient lookup caches.
	ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.UserStudy, error)
	ListByStudyPage(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.UserStudy, int, error)
	// ListPatientsWithCounts returns the distinct patients of a dataset
	// with their entry counts, paginated.
	ListPatientsWithCounts(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.StudyPatient, int, error)
	// ListRecent returns the newest memberships of a dataset, for the
	// history timeline.
	ListRecent(ctx context.Context, studyID uuid.UUID, limit int) ([]*models.UserStudy, error)
	CountByStudy(ctx context.Context, studyID uuid.UUID) (int, error)
}

type userStudyRepository struct {
	db *database.DB
}

// NewUserStudyRepository creates a new membership repository.
func NewUserStudyRepository(db *database.DB) UserStudyRepository {
	return &userStudyRepository{db: db}
}

const userStudyColumns = `id, study_id, patient_id, reference, status, version,
	created_by, administered_by, created_at, updated_at`

func scanUserStudy(row pgx.Row) (*models.UserStudy, error) {
	var us models.UserStudy
	err := row.Scan(
		&us.ID, &us.StudyID, &us.PatientID, &us.Reference, &us.Status,
		&us.Version, &us.CreatedBy, &us.AdministeredBy, &us.CreatedAt, &us.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &us, nil
}

func (r *userStudyRepository) GetOrCreate(ctx context.Context, membership *models.UserStudy) (*models.UserStudy, bool, error) {
	if membership.ID == uuid.Nil {
		membership.ID = uuid.New()
	}
	if membership.Status == "" {
		membership.Status = models.UserStudyStatusPending
	}
	if membership.Version == 0 {
		membership.Version = 1
	}
	now := time.Now()

	// ON CONFLICT DO NOTHING returns no row when the pair already exists;
	// the follow-up select then reads back the existing membership.
	insert := `
		INSERT INTO user_studies (id, study_id, patient_id, reference, status,
			version, created_by, administered_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (study_id, patient_id) DO NOTHING
		RETURNING ` + userStudyColumns

	created, err := scanUserStudy(r.db.QueryRow(ctx, insert,
		membership.ID, membership.StudyID, membership.PatientID,
		membership.Reference, membership.Status, membership.Version,
		membership.CreatedBy, membership.AdministeredBy, now,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create membership: %w", err)
	}

	existing, err := scanUserStudy(r.db.QueryRow(ctx,
		`SELECT `+userStudyColumns+` FROM user_studies WHERE study_id = $1 AND patient_id = $2`,
		membership.StudyID, membership.PatientID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing membership: %w", err)
	}
	return existing, false, nil
}

func (r *userStudyRepository) Get(ctx context.Context, id uuid.UUID) (*models.UserStudy, error) {
	membership, err := scanUserStudy(r.db.QueryRow(ctx,
		`SELECT `+userStudyColumns+` FROM user_studies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return membership, nil
}

func (r *userStudyRepository) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.UserStudy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userStudyColumns+` FROM user_studies WHERE study_id = $1`, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	return collectUserStudies(rows)
}

func (r *userStudyRepository) ListByStudyPage(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.UserStudy, int, error) {
	total, err := r.CountByStudy(ctx, studyID)
	if err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+userStudyColumns+` FROM user_studies
		 WHERE study_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		studyID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to page memberships: %w", err)
	}
	defer rows.Close()

	memberships, err := collectUserStudies(rows)
	if err != nil {
		return nil, 0, err
	}
	return memberships, total, nil
}

func (r *userStudyRepository) ListPatientsWithCounts(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.StudyPatient, int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT patient_id) FROM user_studies WHERE study_id = $1`,
		studyID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count dataset patients: %w", err)
	}

	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	query := `
		SELECT p.id, p.first_name, p.last_name, p.date_of_birth, p.gender,
		       p.latitude, p.longitude, p.notes, p.created_by, p.created_at,
		       p.updated_at, COUNT(sr.id) AS entries
		FROM user_studies us
		JOIN patients p ON p.id = us.patient_id
		LEFT JOIN study_results sr ON sr.user_study_id = us.id
		WHERE us.study_id = $1
		GROUP BY p.id
		ORDER BY MIN(us.created_at), p.id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, studyID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dataset patients: %w", err)
	}
	defer rows.Close()

	var patients []*models.StudyPatient
	for rows.Next() {
		var p models.Patient
		var entries int
		err := rows.Scan(
			&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender,
			&p.Latitude, &p.Longitude, &p.Notes, &p.CreatedBy,
			&p.CreatedAt, &p.UpdatedAt, &entries,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan dataset patient: %w", err)
		}
		patients = append(patients, &models.StudyPatient{Patient: &p, EntriesCount: entries})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read dataset patients: %w", err)
	}
	return patients, total, nil
}

func (r *userStudyRepository) ListRecent(ctx context.Context, studyID uuid.UUID, limit int) ([]*models.UserStudy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userStudyColumns+` FROM user_studies
		 WHERE study_id = $1 ORDER BY created_at DESC LIMIT $2`,
		studyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent memberships: %w", err)
	}
	defer rows.Close()
	return collectUserStudies(rows)
}

func (r *userStudyRepository) CountByStudy(ctx context.Context, studyID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_studies WHERE study_id = $1`, studyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

func collectUserStudies(rows pgx.Rows) ([]*models.UserStudy, error) {
	var memberships []*models.UserStudy
	for rows.Next() {
		us, err := scanUserStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, us)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memberships: %w", err)
	}
	return memberships, nil
}

var _ UserStudyRepository = (*userStudyRepository)(nil)
