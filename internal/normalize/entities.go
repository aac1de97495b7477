package normalize

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"geofacts/server/internal/dedup"
	"geofacts/server/internal/models"
	"geofacts/server/internal/source"
)

// Column aliases accepted in header-driven files.
var (
	postcodeColumns  = []string{"pcds", "pcd", "postcode"}
	latitudeColumns  = []string{"lat", "latitude"}
	longitudeColumns = []string{"long", "lng", "longitude"}
	areaColumns      = []string{"lsoa11", "lsoa21", "lsoa_code", "lsoa code", "area_code"}
)

// onsMissingLatitude is the placeholder the ONS directory uses for postcodes
// without a grid reference.
const onsMissingLatitude = 99.999999

func isONSPlaceholder(lat string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	return err == nil && math.Abs(v-onsMissingLatitude) < 1e-9
}

// Postcodes reads header-driven postcode directory rows.
type Postcodes struct{}

func (Postcodes) Normalize(rec source.Record) (Draft, *Rejection) {
	code := dedup.NormalizePostcode(rec.Get(postcodeColumns...))
	if code == "" {
		return nil, reject(ReasonMissingKey, "line %d: postcode", rec.Line)
	}

	point := models.ReferencePoint{Code: code}
	rawLat := rec.Get(latitudeColumns...)
	if !isONSPlaceholder(rawLat) {
		lat, lng, ok, rej := parseCoordinates(rawLat, rec.Get(longitudeColumns...))
		if rej != nil {
			return nil, rej
		}
		if ok {
			point.Latitude = &lat
			point.Longitude = &lng
		}
	}

	if area := rec.Get(areaColumns...); area != "" {
		point.AreaCode = &area
	}
	return ReferencePointDraft{Point: point}, nil
}

// AreaCodes reads postcode to area lookup rows for the area backfill pass.
type AreaCodes struct{}

func (AreaCodes) Normalize(rec source.Record) (Draft, *Rejection) {
	code := dedup.NormalizePostcode(rec.Get(postcodeColumns...))
	if code == "" {
		return nil, reject(ReasonMissingKey, "line %d: postcode", rec.Line)
	}
	area := rec.Get(areaColumns...)
	if area == "" {
		return nil, reject(ReasonUnassignableArea, "line %d: no area for %s", rec.Line, code)
	}
	return AreaCodeDraft{Code: code, AreaCode: area}, nil
}

// Price paid columns (fixed layout, no header).
const (
	ppPrice = iota + 1
	ppDate
	ppPostcode
	ppPropertyType
	ppOldNew
	ppDuration
	ppPAON
	ppSAON
	ppStreet
	ppLocality
	ppTown
	ppDistrict
	ppCounty
	ppMinFields = ppStreet + 1
)

// PricePaid reads the fixed layout price paid extract. Each row yields a unit
// and the sale observed on it.
type PricePaid struct{}

func (PricePaid) Normalize(rec source.Record) (Draft, *Rejection) {
	if len(rec.Fields) < ppMinFields {
		return nil, reject(ReasonMalformedRow, "line %d: %d fields", rec.Line, len(rec.Fields))
	}

	postcode := dedup.NormalizePostcode(rec.Field(ppPostcode))
	if postcode == "" {
		return nil, reject(ReasonMissingKey, "line %d: postcode", rec.Line)
	}

	rawDate := rec.Field(ppDate)
	if rawDate == "" {
		return nil, reject(ReasonMissingDate, "line %d", rec.Line)
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return nil, reject(ReasonBadDate, "line %d: %v", rec.Line, err)
	}

	price, err := ParsePrice(rec.Field(ppPrice))
	if err != nil || price <= 0 {
		return nil, reject(ReasonBadPrice, "line %d: %q", rec.Line, rec.Field(ppPrice))
	}

	unit := models.AddressableUnit{
		Postcode:     postcode,
		PropertyType: rec.Field(ppPropertyType),
		Tenure:       rec.Field(ppDuration),
		PAON:         rec.Field(ppPAON),
		SAON:         rec.Field(ppSAON),
		Street:       rec.Field(ppStreet),
		Locality:     rec.Field(ppLocality),
		Town:         rec.Field(ppTown),
		District:     rec.Field(ppDistrict),
		County:       rec.Field(ppCounty),
	}
	unit.GUID = dedup.GUID(unit.Postcode, unit.Street, unit.PAON, unit.SAON)

	return SaleDraft{
		Unit: unit,
		Sale: models.Sale{UnitGUID: unit.GUID, Date: date, Price: price},
	}, nil
}

// Crimes reads header-driven street level crime rows.
type Crimes struct{}

func (Crimes) Normalize(rec source.Record) (Draft, *Rejection) {
	rawMonth := rec.Get("month", "date")
	if rawMonth == "" {
		return nil, reject(ReasonMissingDate, "line %d", rec.Line)
	}
	date, err := ParseDate(rawMonth)
	if err != nil {
		return nil, reject(ReasonBadDate, "line %d: %v", rec.Line, err)
	}

	lat, lng, ok, rej := parseCoordinates(rec.Get(latitudeColumns...), rec.Get(longitudeColumns...))
	if rej != nil {
		return nil, rej
	}
	if !ok {
		return nil, reject(ReasonMissingCoordinate, "line %d", rec.Line)
	}

	area := rec.Get(areaColumns...)
	if area == "" {
		return nil, reject(ReasonUnassignableArea, "line %d: no area code", rec.Line)
	}

	incident := models.Incident{
		ExternalID: rec.Get("crime id", "crime_id", "id"),
		Date:       date,
		Latitude:   lat,
		Longitude:  lng,
		Category:   rec.Get("crime type", "crime_type", "category"),
		Outcome:    rec.Get("last outcome category", "outcome"),
		Place:      rec.Get("location"),
		AreaCode:   area,
	}
	position := fmt.Sprintf("%s:%d", filepath.Base(rec.File), rec.Line)
	incident.FactKey = dedup.IncidentKey(incident.ExternalID, position, incident.Date, incident.Latitude,
		incident.Longitude, incident.Category, incident.Outcome, incident.Place)
	return IncidentDraft{Incident: incident}, nil
}
