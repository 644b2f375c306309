package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/biomarklabs/biomark-engine/pkg/models"
)

func rowsFor(column string, values ...string) []map[string]string {
	rows := make([]map[string]string, 0, len(values))
	for _, v := range values {
		rows = append(rows, map[string]string{column: v})
	}
	return rows
}

func TestInferColumnType(t *testing.T) {
	c := NewColumnClassifier()

	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"iso dates", []string{"2024-01-01", "2024-02-15", "2024-03-10"}, models.VariableTypeDate},
		{"slash dates", []string{"15/02/2024", "1/3/2024"}, models.VariableTypeDate},
		{"booleans", []string{"Yes", "No", "Yes"}, models.VariableTypeBoolean},
		{"numbers", []string{"5", "3.2", "10"}, models.VariableTypeNumber},
		{"numbers with thousands separators", []string{"1,200", "3,400.5"}, models.VariableTypeNumber},
		{"binary column is boolean, not number", []string{"1", "0", "1"}, models.VariableTypeBoolean},
		{"single 1 is not boolean", []string{"1"}, models.VariableTypeNumber},
		{"mixed falls back to text", []string{"5", "high"}, models.VariableTypeText},
		{"empty samples default to text", []string{"", "  "}, models.VariableTypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.InferColumnType("col", rowsFor("col", tt.values...))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferColumnTypeSamplesFirstTwenty(t *testing.T) {
	c := NewColumnClassifier()

	values := make([]string, 0, 25)
	for i := 0; i < 20; i++ {
		values = append(values, "1.5")
	}
	// Row 21 onward is never sampled.
	values = append(values, "not a number")

	got := c.InferColumnType("col", rowsFor("col", values...))
	assert.Equal(t, models.VariableTypeNumber, got)
}

func TestIsSystemColumn(t *testing.T) {
	assert.True(t, IsSystemColumn("matched_patient"))
	assert.True(t, IsSystemColumn("row_number"))
	assert.True(t, IsSystemColumn("file_duplicate_of"))
	assert.True(t, IsSystemColumn("Unnamed: 3"))
	assert.False(t, IsSystemColumn("Hemoglobin"))
	assert.False(t, IsSystemColumn("First Name"))
}

func TestSuggestPatientColumns(t *testing.T) {
	c := NewColumnClassifier()

	mapping := c.SuggestPatientColumns([]string{
		"Patient Reference", "First Name", "Last_Name", "DOB",
		"Sex", "lat", "lng", "Hemoglobin",
	})

	assert.Equal(t, "Patient Reference", mapping.Reference)
	assert.Equal(t, "First Name", mapping.FirstName)
	assert.Equal(t, "Last_Name", mapping.LastName)
	assert.Equal(t, "DOB", mapping.DateOfBirth)
	assert.Equal(t, "Sex", mapping.Gender)
	assert.Equal(t, "lat", mapping.Latitude)
	assert.Equal(t, "lng", mapping.Longitude)
	assert.Empty(t, mapping.Age)
}

func TestSuggestPatientColumnsFirstMatchWins(t *testing.T) {
	c := NewColumnClassifier()

	mapping := c.SuggestPatientColumns([]string{"reference", "ref"})
	assert.Equal(t, "reference", mapping.Reference)
}

func TestDataColumnsExcludesPatientAndSystemColumns(t *testing.T) {
	c := NewColumnClassifier()

	mapping := models.ImportMapping{Patient: models.PatientMapping{
		FirstName: "First Name",
		LastName:  "Last Name",
	}}
	cols := c.DataColumns([]string{
		"First Name", "Last Name", "Hemoglobin", "matched_patient", "Glucose",
	}, mapping)

	assert.Equal(t, []string{"Hemoglobin", "Glucose"}, cols)
}

func TestClassifyColumnsSkipsSystemColumns(t *testing.T) {
	c := NewColumnClassifier()

	data := &TableData{
		Columns: []string{"Glucose", "matched_patient"},
		Rows:    rowsFor("Glucose", "90", "105"),
	}
	types := c.ClassifyColumns(data)

	assert.Equal(t, models.VariableTypeNumber, types["Glucose"])
	_, present := types["matched_patient"]
	assert.False(t, present)
}
