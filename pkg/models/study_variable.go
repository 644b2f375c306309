package models

import (
	"time"

	"github.com/google/uuid"
)

// Variable value types.
const (
	VariableTypeNumber  = "NUMBER"
	VariableTypeText    = "TEXT"
	VariableTypeDate    = "DATE"
	VariableTypeBoolean = "BOOLEAN"
)

// Variable statuses.
const (
	VariableStatusActive   = "ACTIVE"
	VariableStatusInactive = "INACTIVE"
)

// StudyVariable is a named, typed column of data collected per patient per
// dataset. Variables are created explicitly through the API or implicitly
// during import when a file column matches no existing variable.
type StudyVariable struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Order        int       `json:"order"`
	IsSearchable bool      `json:"isSearchable"`
	IsRange      bool      `json:"isRange"`
	IsUnique     bool      `json:"isUnique"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ValidVariableType reports whether t is a known variable type.
func ValidVariableType(t string) bool {
	switch t {
	case VariableTypeNumber, VariableTypeText, VariableTypeDate, VariableTypeBoolean:
		return true
	}
	return false
}
