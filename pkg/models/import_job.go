package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Import job states. PENDING and RUNNING are the active states; COMPLETED,
// FAILED and CANCELLED are terminal. PAUSED can resume to RUNNING or be
// cancelled.
const (
	ImportJobPending   = "PENDING"
	ImportJobRunning   = "RUNNING"
	ImportJobPaused    = "PAUSED"
	ImportJobCompleted = "COMPLETED"
	ImportJobFailed    = "FAILED"
	ImportJobCancelled = "CANCELLED"
)

// Machine-readable pause reasons.
const (
	PauseReasonManual            = "manual"
	PauseReasonConsecutiveErrors = "consecutive_errors"
	PauseReasonServerRestart     = "server_restart"
)

// MaxJobErrors caps the number of per-row errors stored on a job.
const MaxJobErrors = 100

// ImportJob tracks one resumable bulk-import run against a dataset.
// Only one PENDING or RUNNING job may exist per dataset at a time.
type ImportJob struct {
	ID          uuid.UUID     `json:"id"`
	StudyID     uuid.UUID     `json:"study_id"`
	Status      string        `json:"status"`
	FileURL     string        `json:"file_url"`
	FileName    string        `json:"file_name"`
	Mapping     ImportMapping `json:"mapping"`
	ColumnTypes ColumnTypes   `json:"column_types"`

	TotalRows         int `json:"total_rows"`
	ProcessedRows     int `json:"processed_rows"`
	ImportedCount     int `json:"imported_count"`
	UpdatedCount      int `json:"updated_count"`
	SkippedCount      int `json:"skipped_count"`
	ErrorCount        int `json:"error_count"`
	ConsecutiveErrors int `json:"consecutive_errors"`
	PatientsCreated   int `json:"patients_created"`
	VariablesCreated  int `json:"variables_created"`

	Errors       ImportErrors `json:"errors"`
	PausedReason string       `json:"paused_reason,omitempty"`

	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProgressPercent returns completion as 0-100.
func (j *ImportJob) ProgressPercent() int {
	if j.TotalRows == 0 {
		return 0
	}
	pct := j.ProcessedRows * 100 / j.TotalRows
	if pct > 100 {
		pct = 100
	}
	return pct
}

// IsActive reports whether the job is PENDING or RUNNING.
func (j *ImportJob) IsActive() bool {
	return j.Status == ImportJobPending || j.Status == ImportJobRunning
}

// IsTerminal reports whether the job reached a terminal state.
func (j *ImportJob) IsTerminal() bool {
	switch j.Status {
	case ImportJobCompleted, ImportJobFailed, ImportJobCancelled:
		return true
	}
	return false
}

// AppendError records a per-row error, respecting the storage cap.
func (j *ImportJob) AppendError(row int, msg string) {
	if len(j.Errors) >= MaxJobErrors {
		return
	}
	j.Errors = append(j.Errors, ImportError{Row: row, Error: msg})
}

// ImportError is one recorded row failure. Row is 1-based and includes the
// header line, matching what a user sees in their spreadsheet.
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportErrors stores a job's error list as JSONB.
type ImportErrors []ImportError

func (e ImportErrors) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

func (e *ImportErrors) Scan(value interface{}) error {
	if value == nil {
		*e = ImportErrors{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ImportErrors", value)
	}
	return json.Unmarshal(b, e)
}

// PatientMapping names the file column carrying each canonical patient field.
// Empty means the field is not present in the file.
type PatientMapping struct {
	Reference   string `json:"reference,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Age         string `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Latitude    string `json:"latitude,omitempty"`
	Longitude   string `json:"longitude,omitempty"`
}

// Columns returns the set of non-empty mapped column names.
func (m PatientMapping) Columns() map[string]bool {
	cols := make(map[string]bool)
	for _, c := range []string{
		m.Reference, m.FirstName, m.LastName, m.DateOfBirth,
		m.Age, m.Gender, m.Latitude, m.Longitude,
	} {
		if c != "" {
			cols[c] = true
		}
	}
	return cols
}

// ImportMapping is the caller-supplied import configuration: patient field
// columns plus explicit variableID → column assignments.
type ImportMapping struct {
	Patient   PatientMapping    `json:"patient"`
	Variables map[string]string `json:"variables,omitempty"`
}

func (m ImportMapping) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ImportMapping) Scan(value interface{}) error {
	if value == nil {
		*m = ImportMapping{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ImportMapping", value)
	}
	return json.Unmarshal(b, m)
}

// ColumnTypes records the caller's (or classifier's) per-column type hints.
type ColumnTypes map[string]string

func (c ColumnTypes) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (c *ColumnTypes) Scan(value interface{}) error {
	if value == nil {
		*c = ColumnTypes{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ColumnTypes", value)
	}
	return json.Unmarshal(b, c)
}
