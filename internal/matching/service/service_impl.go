package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	matchingdomain "github.com/skillvouch/skillvouch/internal/matching/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Narrative matchingdomain.NarrativeGenerator `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	narrative matchingdomain.NarrativeGenerator
}

func NewService(p ServiceParam) matchingdomain.Service {
	return &Service{
		log:       p.Log.Named("matching.service"),
		narrative: p.Narrative,
	}
}

func (s *Service) ScoreCandidate(ctx context.Context, req matchingdomain.ScoreRequest) (matchingdomain.MatchScore, error) {
	if len(req.CandidateSkills) == 0 {
		return matchingdomain.MatchScore{}, matchingdomain.ErrNoCandidateSkills
	}

	candidate := normalizeSkills(req.CandidateSkills)
	required := normalizeSkills(req.RequiredSkills)
	ratio := clampRatio(req.VerifiedRatio)

	var score matchingdomain.MatchScore
	if len(required) == 0 {
		// Nothing to match against: a neutral midpoint, never a random one.
		score = matchingdomain.MatchScore{Score: 50}
	} else {
		matched := make([]string, 0, len(required))
		missing := make([]string, 0, len(required))
		for _, want := range required {
			if matchesAny(candidate, want) {
				matched = append(matched, want)
			} else {
				missing = append(missing, want)
			}
		}
		coverage := float64(len(matched)) / float64(len(required))
		score = matchingdomain.MatchScore{
			Score:         int(math.Round(coverage * 100)),
			MatchedSkills: matched,
			MissingSkills: missing,
		}
	}
	score.VerifiedRatio = ratio
	score.Band = matchingdomain.BandForStrength(ratio)

	if s.narrative != nil {
		narrative, err := s.narrative.Generate(ctx, score)
		if err != nil {
			s.log.Warn("match narrative generation failed", zap.Error(err))
		} else {
			score.Narrative = narrative
		}
	}
	return score, nil
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0 || math.IsNaN(ratio):
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

// normalizeSkills slugs, dedupes, and sorts so ordering and casing of the
// input never change the outcome.
func normalizeSkills(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		normalized := slug.Make(strings.TrimSpace(item))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

// matchesAny reports whether any candidate skill covers the wanted skill.
// "golang-backend" covers a requirement of "golang".
func matchesAny(candidate []string, want string) bool {
	for _, have := range candidate {
		if have == want || strings.Contains(have, want) || strings.Contains(want, have) {
			return true
		}
	}
	return false
}

type templateNarrative struct{}

// NewTemplateNarrative returns the default narrative generator: a plain
// summary built from the score itself.
func NewTemplateNarrative() matchingdomain.NarrativeGenerator {
	return templateNarrative{}
}

func (templateNarrative) Generate(_ context.Context, score matchingdomain.MatchScore) (string, error) {
	if len(score.MatchedSkills)+len(score.MissingSkills) == 0 {
		return "No skill requirements were specified for this role.", nil
	}
	return fmt.Sprintf("Candidate matches %d of %d required skills (%s verification strength).",
		len(score.MatchedSkills),
		len(score.MatchedSkills)+len(score.MissingSkills),
		score.Band,
	), nil
}
