// Package dedup computes stable identities for ingested entities and remembers
// which identities a run has already admitted.
package dedup

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Set records admitted identities. It is not safe for concurrent use; the
// ingestion loop is its only user.
type Set struct {
	seen map[string]struct{}
}

// NewSet returns an empty set sized for n identities.
func NewSet(n int) *Set {
	return &Set{seen: make(map[string]struct{}, n)}
}

// Seed marks identities that already exist in the store.
func (s *Set) Seed(ids ...string) {
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
}

// Admit returns true and records id the first time it is seen, false after that.
// Seeded identities are never admitted.
func (s *Set) Admit(id string) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Contains reports whether id was seeded or admitted.
func (s *Set) Contains(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of known identities.
func (s *Set) Len() int {
	return len(s.seen)
}

// NormalizePostcode returns the canonical form of a UK style postcode: upper
// case, no inner whitespace except one space before the three character inward
// code. Returns "" for blank input.
func NormalizePostcode(code string) string {
	compact := strings.ToUpper(strings.Join(strings.Fields(code), ""))
	if len(compact) < 5 {
		return compact
	}
	return compact[:len(compact)-3] + " " + compact[len(compact)-3:]
}

// normalizePart upper-cases s and drops everything that is not a letter or digit.
func normalizePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GUID derives the identity of an addressable unit from its address. The same
// address always yields the same GUID.
func GUID(postcode, street, paon, saon string) string {
	parts := []string{
		normalizePart(postcode),
		normalizePart(saon),
		normalizePart(paon),
		normalizePart(street),
	}
	return strings.Join(parts, "_")
}

const dateLayout = "2006-01-02"

// SaleKey identifies a transaction fact.
func SaleKey(guid string, date time.Time, price int64) string {
	return guid + "|" + date.UTC().Format(dateLayout) + "|" + strconv.FormatInt(price, 10)
}

// MarkerKey identifies a map marker. Coordinates are formatted exactly, without rounding.
func MarkerKey(lat, lng float64, kind string) string {
	return FormatCoordinate(lat) + "|" + FormatCoordinate(lng) + "|" + kind
}

// FormatCoordinate renders a coordinate with the shortest exact representation.
func FormatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var incidentNamespace = uuid.MustParse("8a3c9f0e-51f4-4c5e-9d8e-3f1b0f5d2a61")

// IncidentKey identifies an incident report. External ids can repeat, so the
// key covers every reported attribute. Reports without an external id are
// told apart by their source position, which is ignored when an id is set.
func IncidentKey(externalID, position string, date time.Time, lat, lng float64, category, outcome, place string) string {
	if externalID != "" {
		position = ""
	}
	data := strings.Join([]string{
		externalID,
		position,
		date.UTC().Format(dateLayout),
		FormatCoordinate(lat),
		FormatCoordinate(lng),
		category,
		outcome,
		place,
	}, "\x1f")
	return uuid.NewSHA1(incidentNamespace, []byte(data)).String()
}
