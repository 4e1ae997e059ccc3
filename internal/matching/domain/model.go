// Package domain contains the candidate matching models and contracts.
package domain

import (
	"context"
	"errors"
)

// MatchBand is the verification strength bucket: how much of the
// candidate's credential set has been verified. It qualifies the score for
// ranking but never alters the number itself.
type MatchBand string

const (
	BandHigh   MatchBand = "high"
	BandMedium MatchBand = "medium"
	BandLow    MatchBand = "low"
)

// BandForStrength maps a verified ratio in [0,1] to its band.
func BandForStrength(ratio float64) MatchBand {
	switch {
	case ratio >= 0.7:
		return BandHigh
	case ratio >= 0.3:
		return BandMedium
	default:
		return BandLow
	}
}

type ScoreRequest struct {
	CandidateSkills []string `json:"candidate_skills"`
	RequiredSkills  []string `json:"required_skills"`
	// VerifiedRatio is the fraction of the candidate's credentials in
	// verified status, in [0,1].
	VerifiedRatio float64 `json:"verified_ratio"`
}

// MatchScore is the deterministic outcome of scoring one candidate against
// one role. The same inputs always produce the same score. Score counts
// required-skill coverage; VerifiedRatio and Band carry the independent
// verification strength.
type MatchScore struct {
	Score         int       `json:"score"`
	VerifiedRatio float64   `json:"verified_ratio"`
	Band          MatchBand `json:"band"`
	MatchedSkills []string  `json:"matched_skills"`
	MissingSkills []string  `json:"missing_skills"`
	Narrative     string    `json:"narrative,omitempty"`
}

type Service interface {
	// ScoreCandidate computes the match between candidate and requirement
	// skill sets. Scoring never fails on narrative generator errors; the
	// narrative is simply omitted.
	ScoreCandidate(ctx context.Context, req ScoreRequest) (MatchScore, error)
}

// NarrativeGenerator turns a computed score into a short human-readable
// summary. Implementations may call external services; failures must not
// affect the score.
type NarrativeGenerator interface {
	Generate(ctx context.Context, score MatchScore) (string, error)
}

var ErrNoCandidateSkills = errors.New("no_candidate_skills")
