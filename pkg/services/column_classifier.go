package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/biomarklabs/biomark-engine/pkg/models"
)

// classifierSampleSize caps how many non-empty values are inspected per column.
const classifierSampleSize = 20

var (
	isoDatePattern = regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}$`)
	dmyDatePattern = regexp.MustCompile(`^\d{1,2}[-/]\d{1,2}[-/]\d{4}$`)
)

var booleanValues = map[string]bool{
	"yes": true, "no": true, "true": true, "false": true,
	"y": true, "n": true, "1": true, "0": true,
}

// systemColumnPrefixes marks columns emitted by a previous matching or export
// pass. They are never treated as data, so a round-tripped export file does
// not come back in as new variables.
var systemColumnPrefixes = []string{
	"matched_", "match_", "file_duplicate_", "file_patient_",
	"row_number", "_row_", "_status", "_patient_", "_file_", "_match_",
	"unnamed:",
}

// patientColumnPatterns maps each canonical patient field to the normalized
// column names that suggest it. First matching column wins.
var patientColumnPatterns = []struct {
	field    string
	patterns []string
}{
	{"reference", []string{"patientreference", "reference", "ref", "patientref", "patientid"}},
	{"firstName", []string{"firstname", "fname", "first", "givenname"}},
	{"lastName", []string{"lastname", "lname", "last", "surname", "familyname"}},
	{"dateOfBirth", []string{"dob", "dateofbirth", "birthdate", "birthday"}},
	{"age", []string{"age", "patientage"}},
	{"gender", []string{"gender", "sex", "patientgender"}},
	{"latitude", []string{"latitude", "lat", "gpslat"}},
	{"longitude", []string{"longitude", "lng", "lon", "gpslng", "gpslon"}},
}

// ColumnClassifier infers semantic types for file columns and suggests
// which columns carry canonical patient fields.
type ColumnClassifier struct{}

// NewColumnClassifier creates a new classifier.
func NewColumnClassifier() *ColumnClassifier {
	return &ColumnClassifier{}
}

// InferColumnType samples up to 20 non-empty values of one column and
// returns NUMBER, TEXT, DATE or BOOLEAN.
//
// Boolean is deliberately checked before number, so a column of bare
// "1"/"0" values classifies as BOOLEAN.
func (c *ColumnClassifier) InferColumnType(column string, rows []map[string]string) string {
	samples := make([]string, 0, classifierSampleSize)
	for _, row := range rows {
		v := strings.TrimSpace(row[column])
		if v == "" {
			continue
		}
		samples = append(samples, v)
		if len(samples) == classifierSampleSize {
			break
		}
	}
	if len(samples) == 0 {
		return models.VariableTypeText
	}

	if len(samples) >= 2 && allMatch(samples, func(v string) bool {
		return booleanValues[strings.ToLower(v)]
	}) {
		return models.VariableTypeBoolean
	}
	if allMatch(samples, func(v string) bool {
		return isoDatePattern.MatchString(v) || dmyDatePattern.MatchString(v)
	}) {
		return models.VariableTypeDate
	}
	if allMatch(samples, func(v string) bool {
		_, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		return err == nil
	}) {
		return models.VariableTypeNumber
	}
	return models.VariableTypeText
}

// ClassifyColumns infers a type for every non-system column.
func (c *ColumnClassifier) ClassifyColumns(data *TableData) models.ColumnTypes {
	types := make(models.ColumnTypes, len(data.Columns))
	for _, col := range data.Columns {
		if IsSystemColumn(col) {
			continue
		}
		types[col] = c.InferColumnType(col, data.Rows)
	}
	return types
}

// SuggestPatientColumns matches column names against the canonical patient
// field patterns and returns the suggested mapping.
func (c *ColumnClassifier) SuggestPatientColumns(columns []string) models.PatientMapping {
	var mapping models.PatientMapping
	taken := make(map[string]bool)

	for _, entry := range patientColumnPatterns {
		for _, col := range columns {
			if taken[col] || IsSystemColumn(col) {
				continue
			}
			if !matchesAny(normalizeColumnName(col), entry.patterns) {
				continue
			}
			switch entry.field {
			case "reference":
				mapping.Reference = col
			case "firstName":
				mapping.FirstName = col
			case "lastName":
				mapping.LastName = col
			case "dateOfBirth":
				mapping.DateOfBirth = col
			case "age":
				mapping.Age = col
			case "gender":
				mapping.Gender = col
			case "latitude":
				mapping.Latitude = col
			case "longitude":
				mapping.Longitude = col
			}
			taken[col] = true
			break
		}
	}
	return mapping
}

// DataColumns returns the columns that carry variable data: everything that
// is not a system column and not a mapped patient column.
func (c *ColumnClassifier) DataColumns(columns []string, mapping models.ImportMapping) []string {
	patientCols := mapping.Patient.Columns()
	var data []string
	for _, col := range columns {
		if col == "" || IsSystemColumn(col) || patientCols[col] {
			continue
		}
		data = append(data, col)
	}
	return data
}

// IsSystemColumn reports whether a column name was produced by a prior
// matching or export pass.
func IsSystemColumn(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range systemColumnPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func normalizeColumnName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	lower = strings.ReplaceAll(lower, " ", "")
	return strings.ReplaceAll(lower, "_", "")
}

func matchesAny(normalized string, patterns []string) bool {
	for _, p := range patterns {
		if normalized == p {
			return true
		}
	}
	return false
}

func allMatch(samples []string, pred func(string) bool) bool {
	for _, s := range samples {
		if !pred(s) {
			return false
		}
	}
	return true
}
