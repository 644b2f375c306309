package models

import (
	"time"

	"github.com/google/uuid"
)

// Membership statuses.
const (
	UserStudyStatusPending  = "PENDING"
	UserStudyStatusApproved = "APPROVED"
	UserStudyStatusRejected = "REJECTED"
)

// UserStudy links one patient to one dataset. At most one membership exists
// per (study, patient) pair; the repository enforces this with get-or-create
// semantics backed by a unique constraint.
type UserStudy struct {
	ID             uuid.UUID  `json:"id"`
	StudyID        uuid.UUID  `json:"study_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	Reference      string     `json:"reference"`
	Status         string     `json:"status"`
	Version        int        `json:"version"`
	CreatedBy      *uuid.UUID `json:"created_by,omitempty"`
	AdministeredBy *uuid.UUID `json:"administered_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// StudyResult is the value of one variable for one membership. At most one
// result exists per (membership, variable) pair; re-import overwrites.
type StudyResult struct {
	ID              uuid.UUID `json:"id"`
	UserStudyID     uuid.UUID `json:"user_study_id"`
	StudyVariableID uuid.UUID `json:"study_variable_id"`
	Value           string    `json:"value"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ResultKey identifies one result cell.
type ResultKey struct {
	UserStudyID     uuid.UUID
	StudyVariableID uuid.UUID
}

// StudyPatient is a patient row in a dataset's patient listing, with the
// number of data entries that patient has in the dataset.
type StudyPatient struct {
	Patient      *Patient `json:"patient"`
	EntriesCount int      `json:"dataEntriesCount"`
}

// DataRow is one row of a dataset's tabular preview: a membership plus its
// values keyed by variable ID.
type DataRow struct {
	UserStudyID uuid.UUID            `json:"id"`
	PatientID   *uuid.UUID           `json:"patient_id,omitempty"`
	PatientName string               `json:"patient_name"`
	Reference   string               `json:"reference"`
	Status      string               `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	Values      map[uuid.UUID]string `json:"values"`
}
