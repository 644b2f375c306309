package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/config"
	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// PreviewService builds non-mutating dry-run reports of an import file so
// a user can inspect matches and duplicates before committing.
type PreviewService interface {
	PreviewImport(ctx context.Context, studyID uuid.UUID, fileURL string, mapping *models.ImportMapping) (*models.PreviewReport, error)
}

type previewService struct {
	memberships repositories.UserStudyRepository
	reader      FileReader
	classifier  *ColumnClassifier
	matcher     PatientMatcher
	cfg         config.ImportConfig
	uploadDir   string
	logger      *zap.Logger
}

// NewPreviewService creates a new preview service.
func NewPreviewService(
	memberships repositories.UserStudyRepository,
	reader FileReader,
	classifier *ColumnClassifier,
	matcher PatientMatcher,
	cfg config.ImportConfig,
	uploadDir string,
	logger *zap.Logger,
) PreviewService {
	return &previewService{
		memberships: memberships,
		reader:      reader,
		classifier:  classifier,
		matcher:     matcher,
		cfg:         cfg,
		uploadDir:   uploadDir,
		logger:      logger.Named("preview_service"),
	}
}

func (s *previewService) PreviewImport(ctx context.Context, studyID uuid.UUID, fileURL string, mapping *models.ImportMapping) (*models.PreviewReport, error) {
	path := fileURL
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.uploadDir, path)
	}
	data, err := s.reader.Read(path)
	if err != nil {
		return nil, err
	}

	suggested := s.classifier.SuggestPatientColumns(data.Columns)
	effective := models.ImportMapping{Patient: suggested}
	if mapping != nil {
		effective = *mapping
	}

	columnTypes := s.classifier.ClassifyColumns(data)
	patientCols := effective.Patient.Columns()
	columns := make([]models.ColumnInfo, 0, len(data.Columns))
	for _, col := range data.Columns {
		columns = append(columns, models.ColumnInfo{
			Name:     col,
			Type:     columnTypes[col],
			IsSystem: IsSystemColumn(col),
			Mapped:   patientCols[col],
		})
	}

	memberships, err := s.memberships.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset memberships: %w", err)
	}
	memberByPatient := make(map[uuid.UUID]bool, len(memberships))
	memberByRef := make(map[string]bool, len(memberships))
	for _, m := range memberships {
		memberByPatient[m.PatientID] = true
		memberByRef[strings.ToLower(m.Reference)] = true
	}

	report := &models.PreviewReport{
		Columns:          columns,
		SuggestedMapping: suggested,
	}
	report.Summary.TotalRows = len(data.Rows)

	// first occurrence row per duplicate signature, and its group id
	firstSeen := make(map[string]int)
	firstIndex := make(map[string]int)
	groupOf := make(map[string]int)
	nextGroup := 0
	// distinct matched patients and to-be-created signatures
	matchedPatients := make(map[uuid.UUID]bool)
	toCreate := make(map[string]bool)

	limit := len(data.Rows)
	if limit > s.cfg.PreviewRowLimit {
		limit = s.cfg.PreviewRowLimit
	}

	for i := 0; i < limit; i++ {
		fields := extractRowFields(data.Rows[i], effective.Patient)
		row := models.PreviewRow{
			RowNumber: i + 2,
			Reference: fields.Reference,
			FirstName: fields.FirstName,
			LastName:  fields.LastName,
		}

		if fields.Reference == "" && fields.FirstName == "" && fields.LastName == "" {
			row.Status = models.PreviewRowSkipped
			report.Summary.SkippedCount++
			report.Rows = append(report.Rows, row)
			continue
		}

		signature := rowSignature(fields)
		if first, seen := firstSeen[signature]; seen {
			if groupOf[signature] == 0 {
				nextGroup++
				groupOf[signature] = nextGroup
				// The first occurrence is part of the duplicate set too.
				report.Rows[firstIndex[signature]].DuplicateGroup = nextGroup
			}
			row.Status = models.PreviewRowFileDuplicate
			row.DuplicateGroup = groupOf[signature]
			row.DuplicateOfRow = first
			report.Summary.FileDuplicates++
			report.Rows = append(report.Rows, row)
			continue
		}
		firstSeen[signature] = row.RowNumber
		firstIndex[signature] = len(report.Rows)

		match, err := s.matchRow(ctx, fields)
		if err != nil {
			return nil, err
		}
		switch {
		case match != nil && memberByPatient[match.Patient.ID]:
			row.Status = models.PreviewRowUpdate
			report.Summary.UpdateCount++
		case match != nil:
			row.Status = models.PreviewRowNew
			report.Summary.NewCount++
		case fields.Reference != "" && memberByRef[strings.ToLower(fields.Reference)]:
			row.Status = models.PreviewRowUpdate
			report.Summary.UpdateCount++
		default:
			row.Status = models.PreviewRowWillCreate
			report.Summary.WillCreateCount++
			toCreate[signature] = true
		}
		if match != nil {
			id := match.Patient.ID
			row.MatchedPatientID = &id
			row.MatchedPatient = match.Patient.FullName()
			row.MatchConfidence = match.Confidence
			matchedPatients[id] = true
		}
		report.Rows = append(report.Rows, row)
	}

	report.Summary.ExistingPatients = len(matchedPatients)
	report.Summary.PatientsToCreate = len(toCreate)
	return report, nil
}

func (s *previewService) matchRow(ctx context.Context, fields rowFields) (*models.MatchResult, error) {
	query := MatchQuery{
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		Gender:    fields.Gender,
		Latitude:  fields.Latitude,
		Longitude: fields.Longitude,
	}
	if fields.DOB != nil {
		query.DateOfBirth = fields.DOB.Format("2006-01-02")
	}
	return s.matcher.FindBestMatch(ctx, query)
}

var _ PreviewService = (*previewService)(nil)
