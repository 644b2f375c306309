package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
	"github.com/biomarklabs/biomark-engine/pkg/testhelpers"
)

// Integration tests against a real PostgreSQL container. Run with -short to
// skip them.

func seedStudy(t *testing.T, repo repositories.StudyRepository, name string) *models.Study {
	t.Helper()
	study := &models.Study{Name: name}
	require.NoError(t, repo.Create(context.Background(), study))
	return study
}

func seedPatient(t *testing.T, repo repositories.PatientRepository, first, last string, dob *time.Time) *models.Patient {
	t.Helper()
	patient := &models.Patient{FirstName: first, LastName: last, DateOfBirth: dob}
	require.NoError(t, repo.Create(context.Background(), patient))
	return patient
}

func seedMembership(t *testing.T, repo repositories.UserStudyRepository, studyID, patientID uuid.UUID, reference string) *models.UserStudy {
	t.Helper()
	membership, _, err := repo.GetOrCreate(context.Background(), &models.UserStudy{
		StudyID:   studyID,
		PatientID: patientID,
		Reference: reference,
	})
	require.NoError(t, err)
	return membership
}

func seedVariable(t *testing.T, repo repositories.VariableRepository, studyID uuid.UUID, name, varType string) *models.StudyVariable {
	t.Helper()
	variable := &models.StudyVariable{Name: name, Type: varType, Order: 1}
	require.NoError(t, repo.Create(context.Background(), variable))
	require.NoError(t, repo.LinkToStudy(context.Background(), studyID, []uuid.UUID{variable.ID}))
	return variable
}

func dateOf(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func testRepos(t *testing.T) (*testhelpers.TestDB, context.Context) {
	t.Helper()
	return testhelpers.GetTestDB(t), context.Background()
}
