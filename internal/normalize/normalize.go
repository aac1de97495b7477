// Package normalize turns raw source records into typed entity drafts. A row
// that cannot be used is returned as a Rejection value, never as an error, so
// the stream keeps flowing.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"geofacts/server/internal/models"
	"geofacts/server/internal/source"
)

// Reason categorizes a rejected row.
type Reason string

const (
	ReasonMalformedRow      Reason = "malformed_row"
	ReasonMissingKey        Reason = "missing_key"
	ReasonMissingDate       Reason = "missing_date"
	ReasonBadDate           Reason = "bad_date"
	ReasonBadPrice          Reason = "bad_price"
	ReasonMissingCoordinate Reason = "missing_coordinates"
	ReasonCoordinateDomain  Reason = "coordinates_out_of_domain"
	ReasonUnassignableArea  Reason = "unassignable_area"
)

// Rejection explains why a row was dropped.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Draft is one of ReferencePointDraft, AreaCodeDraft, SaleDraft or IncidentDraft.
type Draft interface {
	isDraft()
}

// ReferencePointDraft is a postcode with optional coordinates.
type ReferencePointDraft struct {
	Point models.ReferencePoint
}

// AreaCodeDraft assigns an area grouping to an existing postcode.
type AreaCodeDraft struct {
	Code     string
	AreaCode string
}

// SaleDraft carries a unit and the sale observed on it.
type SaleDraft struct {
	Unit models.AddressableUnit
	Sale models.Sale
}

// IncidentDraft is an incident awaiting spatial resolution.
type IncidentDraft struct {
	Incident models.Incident
}

func (ReferencePointDraft) isDraft() {}
func (AreaCodeDraft) isDraft()       {}
func (SaleDraft) isDraft()           {}
func (IncidentDraft) isDraft()       {}

// Normalizer maps a raw record to a draft or a rejection. Exactly one of the
// return values is non-nil.
type Normalizer interface {
	Normalize(rec source.Record) (Draft, *Rejection)
}

var errBadPrice = errors.New("invalid price")

// maxPriceUnits is the largest whole amount whose minor units fit in an int64.
const maxPriceUnits = (math.MaxInt64 - 99) / 100

// ParsePrice parses a decimal amount into minor currency units without going
// through floating point. "250000" and "250000.00" both yield 25000000.
func ParsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "£")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, errBadPrice
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && (len(frac) == 0 || len(frac) > 2)) {
		return 0, errBadPrice
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 || units > maxPriceUnits {
		return 0, errBadPrice
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, errBadPrice
	}
	return units*100 + cents, nil
}

var dateLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"2006-01",
}

// ParseDate parses a calendar date. Time of day is discarded and the result is
// midnight UTC. Month-only values resolve to the first day of the month.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseCoordinates validates a latitude/longitude pair. Both blank yields
// ok=false with no rejection so callers can decide whether coordinates are required.
func parseCoordinates(latStr, lngStr string) (lat, lng float64, ok bool, rej *Rejection) {
	latStr, lngStr = strings.TrimSpace(latStr), strings.TrimSpace(lngStr)
	if latStr == "" && lngStr == "" {
		return 0, 0, false, nil
	}
	if latStr == "" || lngStr == "" {
		return 0, 0, false, reject(ReasonMissingCoordinate, "lat=%q lng=%q", latStr, lngStr)
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, false, reject(ReasonCoordinateDomain, "latitude %q", latStr)
	}
	lng, err = strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return 0, 0, false, reject(ReasonCoordinateDomain, "longitude %q", lngStr)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false, reject(ReasonCoordinateDomain, "(%v, %v)", lat, lng)
	}
	return lat, lng, true, nil
}
