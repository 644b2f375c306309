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

// ResultRepository defines the interface for result cell access. The bulk
// methods exist for the import flush path, which diffs buffered values
// against existing rows and writes inserts and updates in batches.
type ResultRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.StudyResult, error)
	// ListExistingByKeys returns the results matching any of the given
	// (membership, variable) keys, indexed by key.
	ListExistingByKeys(ctx context.Context, keys []models.ResultKey) (map[models.ResultKey]*models.StudyResult, error)
	BulkInsert(ctx context.Context, results []*models.StudyResult) error
	BulkUpdate(ctx context.Context, results []*models.StudyResult) error
	ListByUserStudies(ctx context.Context, userStudyIDs []uuid.UUID) ([]*models.StudyResult, error)
	CountByStudy(ctx context.Context, studyID uuid.UUID) (int, error)
	DeleteByVariable(ctx context.Context, studyID, variableID uuid.UUID) (int, error)
}

type resultRepository struct {
	db *database.DB
}

// NewResultRepository creates a new result repository.
func NewResultRepository(db *database.DB) ResultRepository {
	return &resultRepository{db: db}
}

const resultColumns = `id, user_study_id, study_variable_id, value, created_at, updated_at`

func scanResult(row pgx.Row) (*models.StudyResult, error) {
	var res models.StudyResult
	err := row.Scan(&res.ID, &res.UserStudyID, &res.StudyVariableID,
		&res.Value, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *resultRepository) Get(ctx context.Context, id uuid.UUID) (*models.StudyResult, error) {
	res, err := scanResult(r.db.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM study_results WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

func (r *resultRepository) ListExistingByKeys(ctx context.Context, keys []models.ResultKey) (map[models.ResultKey]*models.StudyResult, error) {
	existing := make(map[models.ResultKey]*models.StudyResult, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	memberships := make([]uuid.UUID, 0, len(keys))
	variables := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		memberships = append(memberships, key.UserStudyID)
		variables = append(variables, key.StudyVariableID)
	}

	// unnest pairs the two arrays positionally, so only the requested
	// (membership, variable) combinations match, not the cross product.
	query := `
		SELECT ` + resultColumns + `
		FROM study_results
		WHERE (user_study_id, study_variable_id) IN (
			SELECT * FROM unnest($1::uuid[], $2::uuid[])
		)`

	rows, err := r.db.Query(ctx, query, memberships, variables)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		existing[models.ResultKey{UserStudyID: res.UserStudyID, StudyVariableID: res.StudyVariableID}] = res
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read existing results: %w", err)
	}
	return existing, nil
}

func (r *resultRepository) BulkInsert(ctx context.Context, results []*models.StudyResult) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now()

	batch := &pgx.Batch{}
	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO study_results (id, user_study_id, study_variable_id, value, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			res.ID, res.UserStudyID, res.StudyVariableID, res.Value, now)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to bulk insert results: %w", err)
		}
	}
	return nil
}

func (r *resultRepository) BulkUpdate(ctx context.Context, results []*models.StudyResult) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now()

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(`UPDATE study_results SET value = $1, updated_at = $2 WHERE id = $3`,
			res.Value, now, res.ID)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to bulk update results: %w", err)
		}
	}
	return nil
}

func (r *resultRepository) ListByUserStudies(ctx context.Context, userStudyIDs []uuid.UUID) ([]*models.StudyResult, error) {
	if len(userStudyIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+resultColumns+` FROM study_results WHERE user_study_id = ANY($1)`,
		userStudyIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*models.StudyResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	return results, nil
}

func (r *resultRepository) CountByStudy(ctx context.Context, studyID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM study_results sr
		JOIN user_studies us ON us.id = sr.user_study_id
		WHERE us.study_id = $1`, studyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

func (r *resultRepository) DeleteByVariable(ctx context.Context, studyID, variableID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM study_results sr
		USING user_studies us
		WHERE us.id = sr.user_study_id
		  AND us.study_id = $1
		  AND sr.study_variable_id = $2`, studyID, variableID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete variable results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ ResultRepository = (*resultRepository)(nil)
