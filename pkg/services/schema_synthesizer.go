package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// SchemaSynthesizer creates dataset variables for file columns that map to
// nothing existing, so an import can land every data column.
type SchemaSynthesizer interface {
	// SyncVariables ensures every data column of the file has a variable:
	// columns not explicitly mapped, not patient columns and matching no
	// existing variable name (case-insensitive) are created in one batch
	// and linked to the dataset. It returns the dataset's full variable
	// list afterwards plus the number created.
	SyncVariables(ctx context.Context, studyID uuid.UUID, data *TableData,
		mapping models.ImportMapping, columnTypes models.ColumnTypes) ([]*models.StudyVariable, int, error)
}

type schemaSynthesizer struct {
	variables  repositories.VariableRepository
	classifier *ColumnClassifier
	logger     *zap.Logger
}

// NewSchemaSynthesizer creates a new schema synthesizer.
func NewSchemaSynthesizer(variables repositories.VariableRepository, classifier *ColumnClassifier, logger *zap.Logger) SchemaSynthesizer {
	return &schemaSynthesizer{
		variables:  variables,
		classifier: classifier,
		logger:     logger.Named("schema_synthesizer"),
	}
}

func (s *schemaSynthesizer) SyncVariables(ctx context.Context, studyID uuid.UUID, data *TableData,
	mapping models.ImportMapping, columnTypes models.ColumnTypes) ([]*models.StudyVariable, int, error) {

	existing, err := s.variables.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load dataset variables: %w", err)
	}

	existingNames := make(map[string]bool, len(existing))
	maxOrder := 0
	for _, v := range existing {
		existingNames[strings.ToLower(v.Name)] = true
		if v.Order > maxOrder {
			maxOrder = v.Order
		}
	}

	mappedColumns := make(map[string]bool, len(mapping.Variables))
	for _, col := range mapping.Variables {
		mappedColumns[col] = true
	}

	// Two-phase batch: collect every missing column first, then one bulk
	// create and one bulk link.
	var missing []*models.StudyVariable
	for _, col := range s.classifier.DataColumns(data.Columns, mapping) {
		if mappedColumns[col] || existingNames[strings.ToLower(col)] {
			continue
		}
		varType := columnTypes[col]
		if !models.ValidVariableType(varType) {
			varType = s.classifier.InferColumnType(col, data.Rows)
		}
		maxOrder++
		missing = append(missing, &models.StudyVariable{
			Name:  col,
			Type:  varType,
			Order: maxOrder,
		})
		existingNames[strings.ToLower(col)] = true
	}

	if len(missing) == 0 {
		return existing, 0, nil
	}

	if err := s.variables.CreateBatch(ctx, missing); err != nil {
		return nil, 0, fmt.Errorf("failed to create variables: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(missing))
	for _, v := range missing {
		ids = append(ids, v.ID)
	}
	if err := s.variables.LinkToStudy(ctx, studyID, ids); err != nil {
		return nil, 0, fmt.Errorf("failed to link variables: %w", err)
	}

	s.logger.Info("created variables from file columns",
		zap.String("study_id", studyID.String()),
		zap.Int("created", len(missing)))

	return append(existing, missing...), len(missing), nil
}

var _ SchemaSynthesizer = (*schemaSynthesizer)(nil)
