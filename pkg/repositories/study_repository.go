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

// StudyRepository defines the interface for dataset data access.
type StudyRepository interface {
	Create(ctx context.Context, study *models.Study) error
	Get(ctx context.Context, id uuid.UUID) (*models.Study, error)
	Update(ctx context.Context, study *models.Study) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters models.StudyFilters) ([]*models.Study, int, error)
	// Stats aggregates counts across the studies matching the filters.
	Stats(ctx context.Context, filters models.StudyFilters) (*models.StudyStats, error)
}

type studyRepository struct {
	db *database.DB
}

// NewStudyRepository creates a new study repository.
func NewStudyRepository(db *database.DB) StudyRepository {
	return &studyRepository{db: db}
}

const studyColumns = `id, name, description, category, status, reference,
	version, created_by, created_at, updated_at`

func scanStudy(row pgx.Row) (*models.Study, error) {
	var s models.Study
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.Category, &s.Status, &s.Reference,
		&s.Version, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *studyRepository) Create(ctx context.Context, study *models.Study) error {
	if study.ID == uuid.Nil {
		study.ID = uuid.New()
	}
	if study.Status == "" {
		study.Status = models.StudyStatusActive
	}
	if study.Version == 0 {
		study.Version = 1
	}
	now := time.Now()
	study.CreatedAt = now
	study.UpdatedAt = now

	query := `
		INSERT INTO studies (id, name, description, category, status, reference,
			version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		study.ID, study.Name, study.Description, study.Category, study.Status,
		study.Reference, study.Version, study.CreatedBy, study.CreatedAt, study.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create study: %w", err)
	}
	return nil
}

func (r *studyRepository) Get(ctx context.Context, id uuid.UUID) (*models.Study, error) {
	study, err := scanStudy(r.db.QueryRow(ctx, `SELECT `+studyColumns+` FROM studies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	return study, nil
}

func (r *studyRepository) Update(ctx context.Context, study *models.Study) error {
	study.UpdatedAt = time.Now()

	query := `
		UPDATE studies
		SET name = $2, description = $3, category = $4, status = $5,
			reference = $6, version = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		study.ID, study.Name, study.Description, study.Category, study.Status,
		study.Reference, study.Version, study.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update study: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *studyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM studies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete study: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// studyFilterClause builds the shared WHERE clause for List and Stats.
// prefix qualifies column references when the query joins other tables.
func studyFilterClause(filters models.StudyFilters, prefix string) (string, []any) {
	where := ` WHERE 1=1`
	args := []any{}
	argN := 1

	if filters.Search != "" {
		where += fmt.Sprintf(` AND (%[1]sname ILIKE $%[2]d OR %[1]sdescription ILIKE $%[2]d OR %[1]scategory ILIKE $%[2]d)`, prefix, argN)
		args = append(args, "%"+filters.Search+"%")
		argN++
	}
	if filters.Status != "" {
		where += fmt.Sprintf(` AND %sstatus = $%d`, prefix, argN)
		args = append(args, filters.Status)
		argN++
	}
	if filters.Category != "" {
		where += fmt.Sprintf(` AND %scategory = $%d`, prefix, argN)
		args = append(args, filters.Category)
		argN++
	}
	if filters.CreatedBy != nil {
		where += fmt.Sprintf(` AND %screated_by = $%d`, prefix, argN)
		args = append(args, *filters.CreatedBy)
	}
	return where, args
}

// studySortColumns maps caller-supplied sort fields to real columns.
var studySortColumns = map[string]string{
	"name":       "name",
	"created":    "created_at",
	"created_at": "created_at",
	"version":    "version",
	"category":   "category",
}

func (r *studyRepository) List(ctx context.Context, filters models.StudyFilters) ([]*models.Study, int, error) {
	where, args := studyFilterClause(filters, "")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM studies`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count studies: %w", err)
	}

	sortCol, ok := studySortColumns[filters.SortField]
	if !ok {
		sortCol = "created_at"
	}
	direction := "DESC"
	if filters.SortDirection == "asc" {
		direction = "ASC"
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT ` + studyColumns + ` FROM studies` + where +
		fmt.Sprintf(` ORDER BY %s %s LIMIT $%d OFFSET $%d`, sortCol, direction, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	var studies []*models.Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan study: %w", err)
		}
		studies = append(studies, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read studies: %w", err)
	}
	return studies, total, nil
}

func (r *studyRepository) Stats(ctx context.Context, filters models.StudyFilters) (*models.StudyStats, error) {
	where, args := studyFilterClause(filters, "s.")

	query := `
		SELECT COUNT(DISTINCT s.id),
		       COUNT(DISTINCT svl.variable_id),
		       COUNT(DISTINCT us.id),
		       COALESCE(MAX(s.version), 1)
		FROM studies s
		LEFT JOIN study_variable_links svl ON svl.study_id = s.id
		LEFT JOIN user_studies us ON us.study_id = s.id` + where

	var stats models.StudyStats
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&stats.Total, &stats.TotalVariables, &stats.TotalMemberships, &stats.LatestVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate study stats: %w", err)
	}
	return &stats, nil
}

var _ StudyRepository = (*studyRepository)(nil)
