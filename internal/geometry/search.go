package geometry

import (
	"sort"

	"github.com/paulmach/orb"
)

// Match is a candidate found by Search with its distance to the center.
type Match struct {
	Candidate
	DistanceKm float64
}

// Search returns the candidates within radiusKm of center, closest first.
// Candidates at equal distance keep their input order. A zero radius returns
// the candidates that coincide with center.
func Search(center orb.Point, radiusKm float64, candidates []Candidate) []Match {
	matches := make([]Match, 0)
	for _, c := range candidates {
		if d := Haversine(center, c.Point); d <= radiusKm {
			matches = append(matches, Match{Candidate: c, DistanceKm: d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}
