package service

import (
	"context"
	"errors"
	"testing"

	matchingdomain "github.com/skillvouch/skillvouch/internal/matching/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newScorer(narrative matchingdomain.NarrativeGenerator) matchingdomain.Service {
	return NewService(ServiceParam{
		Log:       zap.NewNop(),
		Narrative: narrative,
	})
}

func TestScoreCandidate_Deterministic(t *testing.T) {
	svc := newScorer(nil)
	req := matchingdomain.ScoreRequest{
		CandidateSkills: []string{"Go", "PostgreSQL", "Kubernetes"},
		RequiredSkills:  []string{"go", "postgresql", "terraform", "kafka"},
		VerifiedRatio:   0.5,
	}

	first, err := svc.ScoreCandidate(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := svc.ScoreCandidate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.Equal(t, 50, first.Score)
	assert.Equal(t, matchingdomain.BandMedium, first.Band)
	assert.ElementsMatch(t, []string{"go", "postgresql"}, first.MatchedSkills)
	assert.ElementsMatch(t, []string{"terraform", "kafka"}, first.MissingSkills)
}

func TestScoreCandidate_OrderAndCaseInsensitive(t *testing.T) {
	svc := newScorer(nil)

	a, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
		CandidateSkills: []string{"Go", "Redis"},
		RequiredSkills:  []string{"REDIS", "go"},
		VerifiedRatio:   0.75,
	})
	require.NoError(t, err)

	b, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
		CandidateSkills: []string{"redis", "GO"},
		RequiredSkills:  []string{"Go", "Redis"},
		VerifiedRatio:   0.75,
	})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, matchingdomain.BandHigh, a.Band)
}

func TestScoreCandidate_EmptyRequiredIsNeutral(t *testing.T) {
	svc := newScorer(nil)

	score, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
		CandidateSkills: []string{"go"},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, score.Score)
	assert.Equal(t, matchingdomain.BandLow, score.Band)
}

func TestScoreCandidate_SubstringCoverage(t *testing.T) {
	svc := newScorer(nil)

	score, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
		CandidateSkills: []string{"Golang Backend Development"},
		RequiredSkills:  []string{"golang"},
	})
	require.NoError(t, err)
	assert.Equal(t, 100, score.Score)
}

func TestScoreCandidate_VerificationStrengthDoesNotMoveScore(t *testing.T) {
	svc := newScorer(nil)

	cases := []struct {
		ratio float64
		band  matchingdomain.MatchBand
	}{
		{0.0, matchingdomain.BandLow},
		{0.29, matchingdomain.BandLow},
		{0.3, matchingdomain.BandMedium},
		{0.69, matchingdomain.BandMedium},
		{0.7, matchingdomain.BandHigh},
		{1.0, matchingdomain.BandHigh},
		{1.5, matchingdomain.BandHigh},
		{-0.2, matchingdomain.BandLow},
	}
	for _, tc := range cases {
		score, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
			CandidateSkills: []string{"go", "redis"},
			RequiredSkills:  []string{"go", "kafka"},
			VerifiedRatio:   tc.ratio,
		})
		require.NoError(t, err)
		assert.Equal(t, 50, score.Score, "ratio %v", tc.ratio)
		assert.Equal(t, tc.band, score.Band, "ratio %v", tc.ratio)
	}
}

func TestScoreCandidate_NoSkills(t *testing.T) {
	svc := newScorer(nil)

	_, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
		RequiredSkills: []string{"go"},
	})
	assert.ErrorIs(t, err, matchingdomain.ErrNoCandidateSkills)
}

type failingNarrative struct{}

func (failingNarrative) Generate(context.Context, matchingdomain.MatchScore) (string, error) {
	return "", errors.New("generator offline")
}

func TestScoreCandidate_NarrativeFailureIsSafe(t *testing.T) {
	svc := newScorer(failingNarrative{})

	score, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
		CandidateSkills: []string{"go"},
		RequiredSkills:  []string{"go"},
	})
	require.NoError(t, err)
	assert.Equal(t, 100, score.Score)
	assert.Empty(t, score.Narrative)
}

func TestTemplateNarrative(t *testing.T) {
	svc := newScorer(NewTemplateNarrative())

	score, err := svc.ScoreCandidate(context.Background(), matchingdomain.ScoreRequest{
		CandidateSkills: []string{"go", "redis"},
		RequiredSkills:  []string{"go", "kafka"},
		VerifiedRatio:   0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "Candidate matches 1 of 2 required skills (medium verification strength).", score.Narrative)
}
