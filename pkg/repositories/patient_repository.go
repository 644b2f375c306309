// Package repositories contains PostgreSQL data access for biomark-engine.
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

// PatientRepository defines the interface for patient data access.
type PatientRepository interface {
	Create(ctx context.Context, patient *models.Patient) error
	Get(ctx context.Context, id uuid.UUID) (*models.Patient, error)
	Update(ctx context.Context, patient *models.Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters models.PatientFilters) ([]*models.Patient, int, error)
	// ListAll returns every patient with identity fields only. Used by the
	// import orchestrator to pre-build its name+dob lookup cache.
	ListAll(ctx context.Context) ([]*models.Patient, error)
	// SearchByNameTokens returns patients whose full name contains any of
	// the given tokens, case-insensitively.
	SearchByNameTokens(ctx context.Context, tokens []string, limit int) ([]*models.Patient, error)
	// SearchByBoundingBox returns patients within ±delta degrees of the
	// given point.
	SearchByBoundingBox(ctx context.Context, lat, lng, delta float64, limit int) ([]*models.Patient, error)
}

type patientRepository struct {
	db *database.DB
}

// NewPatientRepository creates a new patient repository.
func NewPatientRepository(db *database.DB) PatientRepository {
	return &patientRepository{db: db}
}

const patientColumns = `id, first_name, last_name, date_of_birth, gender,
	latitude, longitude, notes, created_by, created_at, updated_at`

func scanPatient(row pgx.Row) (*models.Patient, error) {
	var p models.Patient
	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender,
		&p.Latitude, &p.Longitude, &p.Notes, &p.CreatedBy,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepository) Create(ctx context.Context, patient *models.Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	if patient.Gender == "" {
		patient.Gender = models.GenderPreferNotToSay
	}
	now := time.Now()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	query := `
		INSERT INTO patients (id, first_name, last_name, date_of_birth, gender,
			latitude, longitude, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		patient.ID, patient.FirstName, patient.LastName, patient.DateOfBirth,
		patient.Gender, patient.Latitude, patient.Longitude, patient.Notes,
		patient.CreatedBy, patient.CreatedAt, patient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

	patient, err := scanPatient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *models.Patient) error {
	patient.UpdatedAt = time.Now()

	query := `
		UPDATE patients
		SET first_name = $2, last_name = $3, date_of_birth = $4, gender = $5,
			latitude = $6, longitude = $7, notes = $8, updated_at = $9
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		patient.ID, patient.FirstName, patient.LastName, patient.DateOfBirth,
		patient.Gender, patient.Latitude, patient.Longitude, patient.Notes,
		patient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *patientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *patientRepository) List(ctx context.Context, filters models.PatientFilters) ([]*models.Patient, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argN := 1

	if filters.Search != "" {
		where += fmt.Sprintf(` AND (first_name || ' ' || last_name) ILIKE $%d`, argN)
		args = append(args, "%"+filters.Search+"%")
		argN++
	}
	if filters.Gender != "" {
		where += fmt.Sprintf(` AND gender = $%d`, argN)
		args = append(args, filters.Gender)
		argN++
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count patients: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + patientColumns + ` FROM patients` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argN, argN+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	patients, err := collectPatients(rows)
	if err != nil {
		return nil, 0, err
	}
	return patients, total, nil
}

func (r *patientRepository) ListAll(ctx context.Context) ([]*models.Patient, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientColumns+` FROM patients`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()
	return collectPatients(rows)
}

func (r *patientRepository) SearchByNameTokens(ctx context.Context, tokens []string, limit int) ([]*models.Patient, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	where := ` WHERE `
	args := []any{}
	for i, token := range tokens {
		if i > 0 {
			where += ` OR `
		}
		where += fmt.Sprintf(`(first_name || ' ' || last_name) ILIKE $%d`, i+1)
		args = append(args, "%"+token+"%")
	}
	query := `SELECT ` + patientColumns + ` FROM patients` + where +
		fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search patients by name: %w", err)
	}
	defer rows.Close()
	return collectPatients(rows)
}

func (r *patientRepository) SearchByBoundingBox(ctx context.Context, lat, lng, delta float64, limit int) ([]*models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		ORDER BY id
		LIMIT $5`

	rows, err := r.db.Query(ctx, query, lat-delta, lat+delta, lng-delta, lng+delta, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search patients by location: %w", err)
	}
	defer rows.Close()
	return collectPatients(rows)
}

func collectPatients(rows pgx.Rows) ([]*models.Patient, error) {
	var patients []*models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read patients: %w", err)
	}
	return patients, nil
}

var _ PatientRepository = (*patientRepository)(nil)
