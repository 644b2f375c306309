// Package models contains domain types for biomark-engine.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gender values stored on a patient record.
const (
	GenderMale           = "MALE"
	GenderFemale         = "FEMALE"
	GenderOther          = "OTHER"
	GenderPreferNotToSay = "PREFER_NOT_TO_SAY"
)

// Patient is a person tracked across one or more datasets. There is no
// natural unique key; identity across imports is resolved probabilistically
// by the patient matcher. Suspected duplicates are surfaced for human
// review, never merged automatically.
type Patient struct {
	ID          uuid.UUID  `json:"id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `json:"gender"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FullName returns "First Last" with missing parts omitted.
func (p *Patient) FullName() string {
	return strings.TrimSpace(strings.Join(nonEmpty(p.FirstName, p.LastName), " "))
}

// HasCoordinates reports whether both latitude and longitude are set.
func (p *Patient) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeGender maps free-form gender input to a canonical value.
// Unknown input maps to PREFER_NOT_TO_SAY.
func NormalizeGender(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "M", "MALE":
		return GenderMale
	case "F", "FEMALE":
		return GenderFemale
	case "O", "OTHER":
		return GenderOther
	default:
		return GenderPreferNotToSay
	}
}

// PatientFilters narrows patient listing.
type PatientFilters struct {
	Search string
	Gender string
	Page   int
	Limit  int
}
