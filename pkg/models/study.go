package models

import (
	"time"

	"github.com/google/uuid"
)

// Study statuses.
const (
	StudyStatusActive   = "ACTIVE"
	StudyStatusInactive = "INACTIVE"
	StudyStatusArchived = "ARCHIVED"
)

// Study is a dataset: a named collection of patients and variables tracked
// together. Version increases monotonically on every mutating update.
type Study struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Status      string     `json:"status"`
	Reference   string     `json:"reference"`
	Version     int        `json:"version"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StudyFilters narrows dataset listing.
type StudyFilters struct {
	Search        string
	Status        string
	Category      string
	CreatedBy     *uuid.UUID
	SortField     string
	SortDirection string
	Page          int
	Limit         int
}

// StudyStats aggregates counts across a filtered set of studies.
type StudyStats struct {
	Total            int `json:"total"`
	TotalVariables   int `json:"totalVariables"`
	TotalMemberships int `json:"totalUserStudies"`
	LatestVersion    int `json:"latestVersion"`
}

// StudyDetails bundles a study with its variables and per-study counts.
type StudyDetails struct {
	Study     *Study           `json:"dataset"`
	Variables []*StudyVariable `json:"variables"`
	Stats     StudyDetailStats `json:"stats"`
}

// StudyDetailStats holds counts for one study.
type StudyDetailStats struct {
	VariablesCount   int `json:"variablesCount"`
	MembershipsCount int `json:"userStudiesCount"`
	ResultsCount     int `json:"resultsCount"`
}

// HistoryEvent is one entry in a dataset's activity timeline.
type HistoryEvent struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// Pagination describes one page of a larger result set.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// NewPagination computes page bounds for a total count.
func NewPagination(page, limit, total int) Pagination {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
