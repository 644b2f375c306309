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

// VariableRepository defines the interface for study variable data access.
type VariableRepository interface {
	Create(ctx context.Context, variable *models.StudyVariable) error
	// CreateBatch inserts a set of variables in one round-trip. Used by the
	// import pipeline's schema synthesis step.
	CreateBatch(ctx context.Context, variables []*models.StudyVariable) error
	Get(ctx context.Context, id uuid.UUID) (*models.StudyVariable, error)
	Update(ctx context.Context, variable *models.StudyVariable) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.StudyVariable, error)
	// LinkToStudy attaches variables to a study in one round-trip.
	LinkToStudy(ctx context.Context, studyID uuid.UUID, variableIDs []uuid.UUID) error
	UnlinkFromStudy(ctx context.Context, studyID, variableID uuid.UUID) error
	// CountStudyLinks returns how many studies reference a variable.
	CountStudyLinks(ctx context.Context, variableID uuid.UUID) (int, error)
}

type variableRepository struct {
	db *database.DB
}

// NewVariableRepository creates a new variable repository.
func NewVariableRepository(db *database.DB) VariableRepository {
	return &variableRepository{db: db}
}

const variableColumns = `id, name, type, status, "order", is_searchable,
	is_range, is_unique, notes, created_at, updated_at`

func scanVariable(row pgx.Row) (*models.StudyVariable, error) {
	var v models.StudyVariable
	err := row.Scan(
		&v.ID, &v.Name, &v.Type, &v.Status, &v.Order, &v.IsSearchable,
		&v.IsRange, &v.IsUnique, &v.Notes, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func prepareVariable(v *models.StudyVariable) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Type == "" {
		v.Type = models.VariableTypeText
	}
	if v.Status == "" {
		v.Status = models.VariableStatusActive
	}
	now := time.Now()
	v.CreatedAt = now
	v.UpdatedAt = now
}

const insertVariableSQL = `
	INSERT INTO study_variables (id, name, type, status, "order",
		is_searchable, is_range, is_unique, notes, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (r *variableRepository) Create(ctx context.Context, variable *models.StudyVariable) error {
	prepareVariable(variable)
	_, err := r.db.Exec(ctx, insertVariableSQL,
		variable.ID, variable.Name, variable.Type, variable.Status, variable.Order,
		variable.IsSearchable, variable.IsRange, variable.IsUnique, variable.Notes,
		variable.CreatedAt, variable.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create variable: %w", err)
	}
	return nil
}

func (r *variableRepository) CreateBatch(ctx context.Context, variables []*models.StudyVariable) error {
	if len(variables) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, v := range variables {
		prepareVariable(v)
		batch.Queue(insertVariableSQL,
			v.ID, v.Name, v.Type, v.Status, v.Order,
			v.IsSearchable, v.IsRange, v.IsUnique, v.Notes,
			v.CreatedAt, v.UpdatedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range variables {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to batch-create variables: %w", err)
		}
	}
	return nil
}

func (r *variableRepository) Get(ctx context.Context, id uuid.UUID) (*models.StudyVariable, error) {
	variable, err := scanVariable(r.db.QueryRow(ctx,
		`SELECT `+variableColumns+` FROM study_variables WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get variable: %w", err)
	}
	return variable, nil
}

func (r *variableRepository) Update(ctx context.Context, variable *models.StudyVariable) error {
	variable.UpdatedAt = time.Now()

	query := `
		UPDATE study_variables
		SET name = $2, type = $3, status = $4, "order" = $5, is_searchable = $6,
			is_range = $7, is_unique = $8, notes = $9, updated_at = $10
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		variable.ID, variable.Name, variable.Type, variable.Status, variable.Order,
		variable.IsSearchable, variable.IsRange, variable.IsUnique, variable.Notes,
		variable.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update variable: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *variableRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM study_variables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete variable: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *variableRepository) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.StudyVariable, error) {
	query := `
		SELECT ` + qualifyVariableColumns("v") + `
		FROM study_variables v
		JOIN study_variable_links svl ON svl.variable_id = v.id
		WHERE svl.study_id = $1
		ORDER BY v."order", v.name`

	rows, err := r.db.Query(ctx, query, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list study variables: %w", err)
	}
	defer rows.Close()

	var variables []*models.StudyVariable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		variables = append(variables, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read variables: %w", err)
	}
	return variables, nil
}

func qualifyVariableColumns(alias string) string {
	return alias + `.id, ` + alias + `.name, ` + alias + `.type, ` + alias + `.status, ` +
		alias + `."order", ` + alias + `.is_searchable, ` + alias + `.is_range, ` +
		alias + `.is_unique, ` + alias + `.notes, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func (r *variableRepository) LinkToStudy(ctx context.Context, studyID uuid.UUID, variableIDs []uuid.UUID) error {
	if len(variableIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, variableID := range variableIDs {
		batch.Queue(`
			INSERT INTO study_variable_links (study_id, variable_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, studyID, variableID)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range variableIDs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to link variables to study: %w", err)
		}
	}
	return nil
}

func (r *variableRepository) UnlinkFromStudy(ctx context.Context, studyID, variableID uuid.UUID) error {
	result, err := r.db.Exec(ctx,
		`DELETE FROM study_variable_links WHERE study_id = $1 AND variable_id = $2`,
		studyID, variableID)
	if err != nil {
		return fmt.Errorf("failed to unlink variable from study: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *variableRepository) CountStudyLinks(ctx context.Context, variableID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM study_variable_links WHERE variable_id = $1`,
		variableID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count variable links: %w", err)
	}
	return count, nil
}

var _ VariableRepository = (*variableRepository)(nil)
