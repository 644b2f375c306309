package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
)

func newTestTemplateService(t *testing.T) (TemplateService, *mockStudyRepo, *mockVariableRepo) {
	t.Helper()
	studies := newMockStudyRepo()
	variables := newMockVariableRepo()
	return NewTemplateService(studies, variables, zap.NewNop()), studies, variables
}

func TestGenerateCSVTemplate(t *testing.T) {
	svc, studies, variables := newTestTemplateService(t)
	ctx := context.Background()

	study := &models.Study{Name: "Cohort", Reference: "CHOL-2024"}
	require.NoError(t, studies.Create(ctx, study))
	glucose := &models.StudyVariable{Name: "Glucose", Type: models.VariableTypeNumber, Order: 1}
	require.NoError(t, variables.Create(ctx, glucose))
	require.NoError(t, variables.LinkToStudy(ctx, study.ID, []uuid.UUID{glucose.ID}))

	content, fileName, err := svc.GenerateCSV(ctx, study.ID)
	require.NoError(t, err)

	assert.Equal(t, "CHOL-2024-import-template.csv", fileName)

	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Patient Reference", records[0][0])
	assert.Equal(t, "Glucose", records[0][len(records[0])-1])
	assert.Equal(t, "42", records[1][len(records[1])-1])
}

func TestGenerateXLSXTemplate(t *testing.T) {
	svc, studies, variables := newTestTemplateService(t)
	ctx := context.Background()

	study := &models.Study{Name: "Cohort"}
	require.NoError(t, studies.Create(ctx, study))
	smoker := &models.StudyVariable{Name: "Smoker", Type: models.VariableTypeBoolean, Order: 1}
	require.NoError(t, variables.Create(ctx, smoker))
	require.NoError(t, variables.LinkToStudy(ctx, study.ID, []uuid.UUID{smoker.ID}))

	content, fileName, err := svc.GenerateXLSX(ctx, study.ID)
	require.NoError(t, err)
	assert.Equal(t, study.ID.String()+"-import-template.xlsx", fileName)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Data")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, "Patient Reference", rows[0][0])
	assert.Equal(t, "Smoker", rows[0][len(rows[0])-1])
}

func TestGenerateTemplateUnknownStudy(t *testing.T) {
	svc, _, _ := newTestTemplateService(t)

	_, _, err := svc.GenerateCSV(context.Background(), uuid.New())
	assert.Error(t, err)
}
