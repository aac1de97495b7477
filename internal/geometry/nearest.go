package geometry

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// ErrUnassignable is returned when an area has no reference points to resolve against.
var ErrUnassignable = errors.New("no reference points in area")

// DefaultThresholdKm is the distance a candidate has to beat to replace the
// first candidate of a set.
const DefaultThresholdKm = 1000.0

// Candidate is a reference point considered by the resolver.
type Candidate struct {
	Code  string
	Point orb.Point
}

// Nearest returns the candidate closest to p. Ties keep the earliest candidate.
// When no candidate is closer than thresholdKm the first candidate is returned.
// ok is false only for an empty candidate set.
func Nearest(p orb.Point, candidates []Candidate, thresholdKm float64) (best Candidate, ok bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	best = candidates[0]
	min := thresholdKm
	for _, c := range candidates {
		if d := Haversine(p, c.Point); d < min {
			min = d
			best = c
		}
	}
	return best, true
}

// CandidateSource loads the reference points that belong to an area.
type CandidateSource interface {
	AreaCandidates(ctx context.Context, areaCode string) ([]Candidate, error)
}

// AreaResolver resolves points to the nearest reference point of their
// declared area. Candidate sets are loaded once per area and kept for the
// lifetime of the resolver. It is not safe for concurrent use.
type AreaResolver struct {
	source      CandidateSource
	thresholdKm float64
	logger      *logrus.Logger
	cache       map[string][]Candidate
}

// NewAreaResolver creates a resolver. A non-positive threshold selects DefaultThresholdKm.
func NewAreaResolver(source CandidateSource, thresholdKm float64, logger *logrus.Logger) *AreaResolver {
	if thresholdKm <= 0 {
		thresholdKm = DefaultThresholdKm
	}
	return &AreaResolver{
		source:      source,
		thresholdKm: thresholdKm,
		logger:      logger,
		cache:       make(map[string][]Candidate),
	}
}

// Resolve returns the nearest reference point to p within areaCode.
// ErrUnassignable is returned for areas without candidates.
func (r *AreaResolver) Resolve(ctx context.Context, areaCode string, p orb.Point) (Candidate, error) {
	candidates, ok := r.cache[areaCode]
	if !ok {
		var err error
		candidates, err = r.source.AreaCandidates(ctx, areaCode)
		if err != nil {
			return Candidate{}, fmt.Errorf("failed to load candidates for area %s: %w", areaCode, err)
		}
		r.cache[areaCode] = candidates
		r.logger.WithFields(logrus.Fields{
			"area":       areaCode,
			"candidates": len(candidates),
		}).Debug("Loaded area candidates")
	}

	best, found := Nearest(p, candidates, r.thresholdKm)
	if !found {
		return Candidate{}, fmt.Errorf("%w: %s", ErrUnassignable, areaCode)
	}
	return best, nil
}

// Areas returns the number of areas loaded so far.
func (r *AreaResolver) Areas() int {
	return len(r.cache)
}
