package models

import "github.com/google/uuid"

// Progress event types emitted by the streaming import.
const (
	ProgressEventProgress = "progress"
	ProgressEventComplete = "complete"
	ProgressEventError    = "error"
)

// ProgressEvent is one snapshot in a streaming import run. The final event
// of a stream has Type complete or error.
type ProgressEvent struct {
	Type             string `json:"type"`
	Current          int    `json:"current"`
	Total            int    `json:"total"`
	Imported         int    `json:"imported"`
	Updated          int    `json:"updated"`
	Skipped          int    `json:"skipped"`
	PatientsCreated  int    `json:"patientsCreated"`
	VariablesCreated int    `json:"variablesCreated"`
	Message          string `json:"message,omitempty"`
}

// ImportResult summarizes a completed synchronous import.
type ImportResult struct {
	Imported         int           `json:"imported"`
	Updated          int           `json:"updated"`
	Skipped          int           `json:"skipped"`
	Failed           int           `json:"failed"`
	PatientsCreated  int           `json:"patientsCreated"`
	VariablesCreated int           `json:"variablesCreated"`
	Errors           []ImportError `json:"errors,omitempty"`
}

// Preview row statuses.
const (
	PreviewRowNew           = "new"
	PreviewRowUpdate        = "update"
	PreviewRowWillCreate    = "will_create"
	PreviewRowFileDuplicate = "file_duplicate"
	PreviewRowSkipped       = "skipped"
)

// PreviewRow is the dry-run outcome for one file row.
type PreviewRow struct {
	RowNumber        int        `json:"rowNumber"`
	Status           string     `json:"status"`
	MatchConfidence  float64    `json:"matchConfidence"`
	MatchedPatientID *uuid.UUID `json:"matchedPatientId,omitempty"`
	MatchedPatient   string     `json:"matchedPatient,omitempty"`
	DuplicateGroup   int        `json:"fileDuplicateGroup,omitempty"`
	DuplicateOfRow   int        `json:"fileDuplicateOfRow,omitempty"`
	Reference        string     `json:"reference,omitempty"`
	FirstName        string     `json:"firstName,omitempty"`
	LastName         string     `json:"lastName,omitempty"`
}

// ColumnInfo describes one classified file column.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsSystem bool   `json:"isSystem"`
	Mapped   bool   `json:"mapped"`
}

// PreviewSummary aggregates a dry-run preview.
type PreviewSummary struct {
	TotalRows        int `json:"totalRows"`
	NewCount         int `json:"newCount"`
	UpdateCount      int `json:"updateCount"`
	WillCreateCount  int `json:"willCreateCount"`
	FileDuplicates   int `json:"fileDuplicates"`
	SkippedCount     int `json:"skippedCount"`
	ExistingPatients int `json:"existingPatients"`
	PatientsToCreate int `json:"patientsToCreate"`
}

// PreviewReport is the full non-mutating import preview returned to a UI
// before the user commits an import.
type PreviewReport struct {
	Columns          []ColumnInfo   `json:"columns"`
	SuggestedMapping PatientMapping `json:"suggestedMapping"`
	Rows             []PreviewRow   `json:"rows"`
	Summary          PreviewSummary `json:"summary"`
}

// MatchResult is the patient matcher's answer for one query: the best
// candidate, its raw score and a 0-1 confidence.
type MatchResult struct {
	Patient    *Patient `json:"patient"`
	Score      int      `json:"score"`
	Confidence float64  `json:"confidence"`
}
