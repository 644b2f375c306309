package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// templatePatientColumns are the canonical patient columns every import
// template starts with, paired with an example value.
var templatePatientColumns = []struct {
	name   string
	sample string
	hint   string
}{
	{"Patient Reference", "PATIENT-001", "Unique patient identifier, kept stable across imports"},
	{"First Name", "Jane", "Patient given name"},
	{"Last Name", "Doe", "Patient family name"},
	{"Date of Birth", "1985-04-12", "YYYY-MM-DD"},
	{"Gender", "F", "M, F or O"},
	{"Latitude", "-1.2921", "Decimal degrees"},
	{"Longitude", "36.8219", "Decimal degrees"},
}

var variableSampleValues = map[string]string{
	models.VariableTypeNumber:  "42",
	models.VariableTypeDate:    "2024-01-15",
	models.VariableTypeBoolean: "Yes",
	models.VariableTypeText:    "value",
}

// TemplateService generates downloadable import templates for a dataset:
// the patient columns plus one column per dataset variable.
type TemplateService interface {
	GenerateCSV(ctx context.Context, studyID uuid.UUID) ([]byte, string, error)
	GenerateXLSX(ctx context.Context, studyID uuid.UUID) ([]byte, string, error)
}

type templateService struct {
	studies   repositories.StudyRepository
	variables repositories.VariableRepository
	logger    *zap.Logger
}

// NewTemplateService creates a new template service.
func NewTemplateService(studies repositories.StudyRepository, variables repositories.VariableRepository, logger *zap.Logger) TemplateService {
	return &templateService{
		studies:   studies,
		variables: variables,
		logger:    logger.Named("template_service"),
	}
}

func (s *templateService) GenerateCSV(ctx context.Context, studyID uuid.UUID) ([]byte, string, error) {
	study, variables, err := s.load(ctx, studyID)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(templatePatientColumns)+len(variables))
	sample := make([]string, 0, cap(header))
	for _, col := range templatePatientColumns {
		header = append(header, col.name)
		sample = append(sample, col.sample)
	}
	for _, v := range variables {
		header = append(header, v.Name)
		sample = append(sample, variableSampleValues[v.Type])
	}

	if err := w.Write(header); err != nil {
		return nil, "", fmt.Errorf("failed to write template: %w", err)
	}
	if err := w.Write(sample); err != nil {
		return nil, "", fmt.Errorf("failed to write template: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("failed to write template: %w", err)
	}

	return buf.Bytes(), templateFileName(study, "csv"), nil
}

func (s *templateService) GenerateXLSX(ctx context.Context, studyID uuid.UUID) ([]byte, string, error) {
	study, variables, err := s.load(ctx, studyID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Data"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"2E7D32"}},
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to build template style: %w", err)
	}

	col := 0
	writeHeader := func(name, hint, sample string) error {
		col++
		cell, _ := excelize.CoordinatesToCellName(col, 1)
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return err
		}
		if hint != "" {
			comment := excelize.Comment{Cell: cell, Author: "biomark-engine",
				Paragraph: []excelize.RichTextRun{{Text: hint}}}
			if err := f.AddComment(sheet, comment); err != nil {
				return err
			}
		}
		sampleCell, _ := excelize.CoordinatesToCellName(col, 2)
		return f.SetCellValue(sheet, sampleCell, sample)
	}

	for _, c := range templatePatientColumns {
		if err := writeHeader(c.name, c.hint, c.sample); err != nil {
			return nil, "", fmt.Errorf("failed to write template: %w", err)
		}
	}
	for _, v := range variables {
		if err := writeHeader(v.Name, v.Type, variableSampleValues[v.Type]); err != nil {
			return nil, "", fmt.Errorf("failed to write template: %w", err)
		}
		if v.Type == models.VariableTypeBoolean {
			colName, _ := excelize.ColumnNumberToName(col)
			dv := excelize.NewDataValidation(true)
			dv.Sqref = fmt.Sprintf("%s2:%s1000", colName, colName)
			if err := dv.SetDropList([]string{"Yes", "No"}); err == nil {
				if err := f.AddDataValidation(sheet, dv); err != nil {
					return nil, "", fmt.Errorf("failed to write template: %w", err)
				}
			}
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(col)
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, "", fmt.Errorf("failed to style template: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return nil, "", fmt.Errorf("failed to style template: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to write template: %w", err)
	}
	return buf.Bytes(), templateFileName(study, "xlsx"), nil
}

func (s *templateService) load(ctx context.Context, studyID uuid.UUID) (*models.Study, []*models.StudyVariable, error) {
	study, err := s.studies.Get(ctx, studyID)
	if err != nil {
		return nil, nil, err
	}
	variables, err := s.variables.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, nil, err
	}
	return study, variables, nil
}

func templateFileName(study *models.Study, ext string) string {
	name := study.Reference
	if name == "" {
		name = study.ID.String()
	}
	return fmt.Sprintf("%s-import-template.%s", name, ext)
}

var _ TemplateService = (*templateService)(nil)
