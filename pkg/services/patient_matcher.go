package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/logging"
	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// matcherCandidateLimit caps how many candidates are scored per query.
const matcherCandidateLimit = 50

// boundingBoxDelta is the coordinate search window in degrees, about 1.1 km.
const boundingBoxDelta = 0.01

// matchDateFormats are tried in order when parsing a date-of-birth filter.
var matchDateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"02-01-2006",
}

// MatchQuery is one identity-resolution request.
type MatchQuery struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Gender      string
	Latitude    *float64
	Longitude   *float64
}

// PatientMatcher resolves a row's identity fields to the best existing
// patient record, or nil when nothing plausible exists.
type PatientMatcher interface {
	// FindBestMatch returns the highest-scoring candidate, or nil. Ties
	// break toward the lowest patient ID so results are deterministic.
	FindBestMatch(ctx context.Context, query MatchQuery) (*models.MatchResult, error)
}

type patientMatcher struct {
	patients repositories.PatientRepository
	logger   *zap.Logger
}

// NewPatientMatcher creates a new patient matcher.
func NewPatientMatcher(patients repositories.PatientRepository, logger *zap.Logger) PatientMatcher {
	return &patientMatcher{
		patients: patients,
		logger:   logger.Named("patient_matcher"),
	}
}

func (m *patientMatcher) FindBestMatch(ctx context.Context, query MatchQuery) (*models.MatchResult, error) {
	tokens := nameTokens(query.FirstName, query.LastName)
	hasCoords := query.Latitude != nil && query.Longitude != nil
	if len(tokens) == 0 && !hasCoords {
		return nil, nil
	}

	var candidates []*models.Patient
	var err error
	if len(tokens) > 0 {
		candidates, err = m.patients.SearchByNameTokens(ctx, tokens, matcherCandidateLimit)
	} else {
		candidates, err = m.patients.SearchByBoundingBox(ctx,
			*query.Latitude, *query.Longitude, boundingBoxDelta, matcherCandidateLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select match candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Narrowing filters apply only when they leave at least one candidate.
	if dob := parseMatchDate(query.DateOfBirth); dob != nil {
		narrowed := filterPatients(candidates, func(p *models.Patient) bool {
			return p.DateOfBirth != nil && sameDate(*p.DateOfBirth, *dob)
		})
		if len(narrowed) > 0 {
			candidates = narrowed
		}
	}
	if g := strings.TrimSpace(query.Gender); g != "" {
		normalized := models.NormalizeGender(g)
		narrowed := filterPatients(candidates, func(p *models.Patient) bool {
			return p.Gender == normalized
		})
		if len(narrowed) > 0 {
			candidates = narrowed
		}
	}

	if len(candidates) > matcherCandidateLimit {
		candidates = candidates[:matcherCandidateLimit]
	}

	locationOnly := len(tokens) == 0
	best := (*models.Patient)(nil)
	bestScore := 0
	for _, candidate := range candidates {
		score := m.score(query, tokens, candidate, locationOnly)
		if score > bestScore ||
			(score == bestScore && best != nil && score > 0 &&
				candidate.ID.String() < best.ID.String()) {
			best = candidate
			bestScore = score
		}
	}
	if best == nil || bestScore <= 0 {
		return nil, nil
	}

	m.logger.Debug("matched patient",
		zap.String("patient_id", best.ID.String()),
		zap.String("query_name", logging.RedactName(query.FirstName+" "+query.LastName)),
		zap.String("query_dob", logging.RedactDOB(query.DateOfBirth)),
		zap.Int("score", bestScore))

	return &models.MatchResult{
		Patient:    best,
		Score:      bestScore,
		Confidence: confidence(bestScore),
	}, nil
}

func (m *patientMatcher) score(query MatchQuery, tokens []string, candidate *models.Patient, locationOnly bool) int {
	score := 0
	fullName := strings.ToLower(candidate.FullName())

	for _, token := range tokens {
		if strings.Contains(fullName, token) {
			score += 2
		}
	}
	if query.FirstName != "" &&
		strings.EqualFold(strings.TrimSpace(query.FirstName), candidate.FirstName) {
		score += 5
	}
	if dob := parseMatchDate(query.DateOfBirth); dob != nil &&
		candidate.DateOfBirth != nil && sameDate(*candidate.DateOfBirth, *dob) {
		score += 10
	}
	if query.Gender != "" && candidate.Gender == models.NormalizeGender(query.Gender) {
		score += 3
	}
	if query.Latitude != nil && query.Longitude != nil && candidate.HasCoordinates() {
		distance := math.Abs(*query.Latitude-*candidate.Latitude) +
			math.Abs(*query.Longitude-*candidate.Longitude)
		switch {
		case distance < 0.0001:
			score += 15
		case distance < 0.001:
			score += 10
		case distance < 0.01:
			score += 5
		}
	}

	// A coordinate-only query carries no name evidence; floor the score so
	// in-box candidates are not silently dropped.
	if locationOnly && score < 1 {
		score = 1
	}
	return score
}

// confidence maps a raw score onto 0-1. A score of 25 or more (exact name
// plus DOB plus gender territory) is treated as certain.
func confidence(score int) float64 {
	c := float64(score) / 25.0
	if c > 1 {
		c = 1
	}
	return c
}

func nameTokens(firstName, lastName string) []string {
	var tokens []string
	for _, part := range strings.Fields(firstName + " " + lastName) {
		tokens = append(tokens, strings.ToLower(part))
	}
	return tokens
}

func parseMatchDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, format := range matchDateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return &t
		}
	}
	return nil
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func filterPatients(patients []*models.Patient, keep func(*models.Patient) bool) []*models.Patient {
	var out []*models.Patient
	for _, p := range patients {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

var _ PatientMatcher = (*patientMatcher)(nil)
