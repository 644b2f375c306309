package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biomarklabs/biomark-engine/pkg/models"
)

func datePtr(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func floatPtr(v float64) *float64 { return &v }

func TestFindBestMatchPrefersExactNameAndDOB(t *testing.T) {
	repo := newMockPatientRepo()
	ctx := context.Background()

	// Candidate A: exact first name and matching DOB.
	a := &models.Patient{FirstName: "Jane", LastName: "Doe", DateOfBirth: datePtr(1985, time.April, 12)}
	require.NoError(t, repo.Create(ctx, a))
	// Candidate B: substring name overlap only.
	b := &models.Patient{FirstName: "Janet", LastName: "Doering"}
	require.NoError(t, repo.Create(ctx, b))

	matcher := NewPatientMatcher(repo, zap.NewNop())
	match, err := matcher.FindBestMatch(ctx, MatchQuery{
		FirstName:   "Jane",
		LastName:    "Doe",
		DateOfBirth: "1985-04-12",
	})
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.Equal(t, a.ID, match.Patient.ID)
	assert.Greater(t, match.Score, 10)
	assert.Greater(t, match.Confidence, 0.5)
}

func TestFindBestMatchRejectsEmptyQuery(t *testing.T) {
	matcher := NewPatientMatcher(newMockPatientRepo(), zap.NewNop())

	match, err := matcher.FindBestMatch(context.Background(), MatchQuery{})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFindBestMatchNoCandidates(t *testing.T) {
	matcher := NewPatientMatcher(newMockPatientRepo(), zap.NewNop())

	match, err := matcher.FindBestMatch(context.Background(), MatchQuery{FirstName: "Nobody"})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFindBestMatchLocationOnly(t *testing.T) {
	repo := newMockPatientRepo()
	ctx := context.Background()

	nearby := &models.Patient{
		FirstName: "Amina", LastName: "Otieno",
		Latitude: floatPtr(-1.2921), Longitude: floatPtr(36.8219),
	}
	require.NoError(t, repo.Create(ctx, nearby))
	far := &models.Patient{
		FirstName: "Kofi", LastName: "Mensah",
		Latitude: floatPtr(5.6037), Longitude: floatPtr(-0.1870),
	}
	require.NoError(t, repo.Create(ctx, far))

	matcher := NewPatientMatcher(repo, zap.NewNop())
	match, err := matcher.FindBestMatch(ctx, MatchQuery{
		Latitude:  floatPtr(-1.2921),
		Longitude: floatPtr(36.8219),
	})
	require.NoError(t, err)
	require.NotNil(t, match, "coordinate-only matches must not be dropped")

	assert.Equal(t, nearby.ID, match.Patient.ID)
	assert.GreaterOrEqual(t, match.Score, 15)
}

func TestFindBestMatchDOBFilterIsNonDestructive(t *testing.T) {
	repo := newMockPatientRepo()
	ctx := context.Background()

	// No candidate has the queried DOB; the filter must not empty the pool.
	p := &models.Patient{FirstName: "Jane", LastName: "Doe", DateOfBirth: datePtr(1990, time.June, 1)}
	require.NoError(t, repo.Create(ctx, p))

	matcher := NewPatientMatcher(repo, zap.NewNop())
	match, err := matcher.FindBestMatch(ctx, MatchQuery{
		FirstName:   "Jane",
		LastName:    "Doe",
		DateOfBirth: "1985-04-12",
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, p.ID, match.Patient.ID)
}

func TestFindBestMatchGenderNarrowing(t *testing.T) {
	repo := newMockPatientRepo()
	ctx := context.Background()

	female := &models.Patient{FirstName: "Sam", LastName: "Lee", Gender: models.GenderFemale}
	require.NoError(t, repo.Create(ctx, female))
	male := &models.Patient{FirstName: "Sam", LastName: "Lee", Gender: models.GenderMale}
	require.NoError(t, repo.Create(ctx, male))

	matcher := NewPatientMatcher(repo, zap.NewNop())
	match, err := matcher.FindBestMatch(ctx, MatchQuery{
		FirstName: "Sam", LastName: "Lee", Gender: "F",
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, female.ID, match.Patient.ID)
}

func TestFindBestMatchTieBreaksOnLowestID(t *testing.T) {
	repo := newMockPatientRepo()
	ctx := context.Background()

	first := &models.Patient{FirstName: "Ada", LastName: "Obi"}
	second := &models.Patient{FirstName: "Ada", LastName: "Obi"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	lowest := first
	if second.ID.String() < first.ID.String() {
		lowest = second
	}

	matcher := NewPatientMatcher(repo, zap.NewNop())
	match, err := matcher.FindBestMatch(ctx, MatchQuery{FirstName: "Ada", LastName: "Obi"})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, lowest.ID, match.Patient.ID)
}

func TestParseMatchDateFormats(t *testing.T) {
	for _, raw := range []string{"1985-04-12", "04/12/1985", "12/04/1985", "1985/04/12", "12-04-1985"} {
		parsed := parseMatchDate(raw)
		assert.NotNil(t, parsed, "format %q should parse", raw)
	}
	assert.Nil(t, parseMatchDate("12th April 1985"))
	assert.Nil(t, parseMatchDate(""))
}
