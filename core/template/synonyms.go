// Package template - Field-name synonym normalization
package template

import (
	"sort"
	"strings"

	"energy-quote/core/types"
)

// Synonyms maps historical field and industry spellings to canonical names.
// Lookups are case-insensitive; the table is data and may be extended from a catalog file.
type Synonyms struct {
	fields     map[string]string
	industries map[string]string
}

// NewSynonyms builds a table from alias -> canonical maps
func NewSynonyms(fields, industries map[string]string) *Synonyms {
	s := &Synonyms{
		fields:     make(map[string]string, len(fields)),
		industries: make(map[string]string, len(industries)),
	}
	s.Merge(fields, industries)
	return s
}

// Merge adds aliases; later entries replace earlier ones
func (s *Synonyms) Merge(fields, industries map[string]string) {
	for alias, canonical := range fields {
		s.fields[strings.ToLower(alias)] = canonical
	}
	for alias, canonical := range industries {
		s.industries[normalizeID(alias)] = normalizeID(canonical)
	}
}

// Field returns the canonical name for a field
func (s *Synonyms) Field(name string) string {
	if c, ok := s.fields[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

// Industry returns the canonical industry identifier
func (s *Synonyms) Industry(id string) string {
	id = normalizeID(id)
	if c, ok := s.industries[id]; ok {
		return c
	}
	return id
}

// Normalize rewrites answer keys to canonical names.
// A key already spelled canonically wins over any alias of it.
func (s *Synonyms) Normalize(answers types.Answers) types.Answers {
	out := make(types.Answers, len(answers))

	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if s.Field(k) == k {
			out[k] = answers[k]
		}
	}
	for _, k := range keys {
		canonical := s.Field(k)
		if canonical == k {
			continue
		}
		if _, exists := out[canonical]; !exists {
			out[canonical] = answers[k]
		}
	}
	return out
}

// Aliases returns the aliases of a canonical field, sorted
func (s *Synonyms) Aliases(canonical string) []string {
	var out []string
	for alias, c := range s.fields {
		if c == canonical {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.NewReplacer("-", "_", " ", "_").Replace(id)
}

// DefaultSynonyms returns the built-in synonym table
func DefaultSynonyms() *Synonyms {
	return NewSynonyms(
		map[string]string{
			"squareFeet":          "squareFootage",
			"square_footage":      "squareFootage",
			"sqft":                "squareFootage",
			"sqFt":                "squareFootage",
			"facilitySize":        "squareFootage",
			"facilitySqFt":        "squareFootage",
			"buildingSize":        "squareFootage",
			"totalSqFt":           "squareFootage",
			"roomCount":           "rooms",
			"numberOfRooms":       "rooms",
			"numRooms":            "rooms",
			"hotelRooms":          "rooms",
			"bedCount":            "beds",
			"numberOfBeds":        "beds",
			"rackCount":           "racks",
			"numberOfRacks":       "racks",
			"bayCount":            "bays",
			"washBays":            "bays",
			"level2Chargers":      "level2Count",
			"l2Count":             "level2Count",
			"dcfcChargers":        "dcfcCount",
			"dcFastCount":         "dcfcCount",
			"hpcChargers":         "hpcCount",
			"hoursPerDay":         "operatingHours",
			"dailyHours":          "operatingHours",
			"peakDemandMW":        "peakLoad",
			"measuredPeakMW":      "peakLoad",
			"utilityRateType":     "gridConnection",
			"gridReliability":     "gridConnection",
			"gridCapacityMW":      "gridCapacity",
			"projectBudget":       "budget",
			"hasRestaurant":       "restaurant",
			"hasSpa":              "spa",
			"hasPool":             "pool",
			"hasConferenceCenter": "conferenceCenter",
			"conference":          "conferenceCenter",
			"batteryChemistry":    "chemistry",
		},
		map[string]string{
			"hospitality":     "hotel",
			"lodging":         "hotel",
			"datacenter":      "data_center",
			"healthcare":      "hospital",
			"ev_station":      "ev_charging",
			"charging_hub":    "ev_charging",
			"travel_center":   "truck_stop",
			"carwash":         "car_wash",
			"distribution":    "warehouse",
			"office_building": "office",
		},
	)
}
