package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
)

func newTestSynthesizer(t *testing.T) (SchemaSynthesizer, *mockVariableRepo) {
	t.Helper()
	repo := newMockVariableRepo()
	return NewSchemaSynthesizer(repo, NewColumnClassifier(), zap.NewNop()), repo
}

func TestSyncVariablesCreatesMissingColumns(t *testing.T) {
	synth, repo := newTestSynthesizer(t)
	studyID := uuid.New()

	data := &TableData{
		Columns: []string{"Patient Reference", "First Name", "Glucose", "Smoker"},
		Rows: []map[string]string{
			{"Patient Reference": "P1", "First Name": "Jane", "Glucose": "90", "Smoker": "yes"},
			{"Patient Reference": "P2", "First Name": "John", "Glucose": "105", "Smoker": "no"},
		},
	}
	mapping := models.ImportMapping{Patient: models.PatientMapping{
		Reference: "Patient Reference",
		FirstName: "First Name",
	}}

	variables, created, err := synth.SyncVariables(context.Background(), studyID, data, mapping, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, created)
	require.Len(t, variables, 2)
	byName := make(map[string]*models.StudyVariable)
	for _, v := range variables {
		byName[v.Name] = v
	}
	assert.Equal(t, models.VariableTypeNumber, byName["Glucose"].Type)
	assert.Equal(t, models.VariableTypeBoolean, byName["Smoker"].Type)

	linked, err := repo.ListByStudy(context.Background(), studyID)
	require.NoError(t, err)
	assert.Len(t, linked, 2)
}

func TestSyncVariablesSkipsExistingNamesCaseInsensitive(t *testing.T) {
	synth, repo := newTestSynthesizer(t)
	studyID := uuid.New()
	ctx := context.Background()

	existing := &models.StudyVariable{Name: "glucose", Type: models.VariableTypeNumber, Order: 1}
	require.NoError(t, repo.Create(ctx, existing))
	require.NoError(t, repo.LinkToStudy(ctx, studyID, []uuid.UUID{existing.ID}))

	data := &TableData{
		Columns: []string{"Glucose", "HDL"},
		Rows:    []map[string]string{{"Glucose": "90", "HDL": "55"}},
	}

	variables, created, err := synth.SyncVariables(ctx, studyID, data, models.ImportMapping{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, created)
	require.Len(t, variables, 2)
	// The new variable continues numbering after the existing maximum.
	assert.Equal(t, "HDL", variables[1].Name)
	assert.Equal(t, 2, variables[1].Order)
}

func TestSyncVariablesSkipsMappedAndSystemColumns(t *testing.T) {
	synth, _ := newTestSynthesizer(t)
	varID := uuid.New()

	data := &TableData{
		Columns: []string{"Date of Birth", "matched_patient_id", "Cholesterol", "Weight"},
		Rows:    []map[string]string{{"Cholesterol": "180", "Weight": "70"}},
	}
	mapping := models.ImportMapping{
		Patient:   models.PatientMapping{DateOfBirth: "Date of Birth"},
		Variables: map[string]string{varID.String(): "Cholesterol"},
	}

	variables, created, err := synth.SyncVariables(context.Background(), uuid.New(), data, mapping, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, created)
	require.Len(t, variables, 1)
	assert.Equal(t, "Weight", variables[0].Name)
}

func TestSyncVariablesPrefersTypeHints(t *testing.T) {
	synth, _ := newTestSynthesizer(t)

	data := &TableData{
		Columns: []string{"Score"},
		Rows:    []map[string]string{{"Score": "42"}},
	}
	hints := models.ColumnTypes{"Score": models.VariableTypeText}

	variables, created, err := synth.SyncVariables(context.Background(), uuid.New(), data, models.ImportMapping{}, hints)
	require.NoError(t, err)

	assert.Equal(t, 1, created)
	require.Len(t, variables, 1)
	assert.Equal(t, models.VariableTypeText, variables[0].Type)
}

func TestSyncVariablesNoMissingColumnsIsNoOp(t *testing.T) {
	synth, repo := newTestSynthesizer(t)
	studyID := uuid.New()
	ctx := context.Background()

	existing := &models.StudyVariable{Name: "Glucose", Type: models.VariableTypeNumber, Order: 1}
	require.NoError(t, repo.Create(ctx, existing))
	require.NoError(t, repo.LinkToStudy(ctx, studyID, []uuid.UUID{existing.ID}))

	data := &TableData{Columns: []string{"Glucose"}, Rows: []map[string]string{{"Glucose": "90"}}}

	variables, created, err := synth.SyncVariables(ctx, studyID, data, models.ImportMapping{}, nil)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, variables, 1)
}
