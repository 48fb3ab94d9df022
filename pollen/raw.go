package pollen

import "fmt"

// RawForecast mirrors the upstream forecast response body.
//
// The struct decodes leniently: absent fields stay at their zero values and
// unknown fields are ignored, so additive payload drift at the upstream does
// not break decoding. Optional scalars are pointers to distinguish "absent"
// from a genuine zero.
type RawForecast struct {
	RegionCode string   `json:"regionCode"`
	DailyInfo  []RawDay `json:"dailyInfo"`
}

// RawDay is one forecast day as delivered by the upstream service.
type RawDay struct {
	Date *RawDate `json:"date"`

	// RegionCode covers payload variants that carry the region per day
	// rather than at the top level.
	RegionCode string `json:"regionCode"`

	PollenTypeInfo []RawType  `json:"pollenTypeInfo"`
	PlantInfo      []RawPlant `json:"plantInfo"`
}

// RawDate is a calendar date split into components. The date is usable only
// when all three components are present.
type RawDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// ISO returns the date formatted as YYYY-MM-DD, or the empty string when any
// component is missing.
func (d *RawDate) ISO() string {
	if d == nil || d.Year == 0 || d.Month == 0 || d.Day == 0 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// RawType is a pollen category entry (grass, tree, weed) for a single day.
type RawType struct {
	Code                  string    `json:"code"`
	DisplayName           string    `json:"displayName"`
	InSeason              *bool     `json:"inSeason"`
	IndexInfo             *RawIndex `json:"indexInfo"`
	HealthRecommendations []string  `json:"healthRecommendations"`
}

// RawPlant is a plant species entry for a single day.
type RawPlant struct {
	Code                  string        `json:"code"`
	DisplayName           string        `json:"displayName"`
	InSeason              *bool         `json:"inSeason"`
	IndexInfo             *RawIndex     `json:"indexInfo"`
	HealthRecommendations []string      `json:"healthRecommendations"`
	PlantDescription      *RawPlantMeta `json:"plantDescription"`
}

// RawIndex is the universal pollen index block attached to a type or plant.
// A day without a reading for an entry simply omits the whole block.
type RawIndex struct {
	Value            *float64  `json:"value"`
	Category         string    `json:"category"`
	IndexDescription string    `json:"indexDescription"`
	Color            *RawColor `json:"color"`
}

// RawPlantMeta describes the plant species itself, independent of any day's
// index reading.
type RawPlantMeta struct {
	Type           string `json:"type"`
	Family         string `json:"family"`
	Season         string `json:"season"`
	CrossReaction  string `json:"crossReaction"`
	Picture        string `json:"picture"`
	PictureCloseup string `json:"pictureCloseup"`
}

// RawColor is a severity color as delivered by the upstream. Channels may be
// absent, and present channels may be either 0..1 floats or 0..255 integers;
// [ParseColor] normalizes both conventions.
type RawColor struct {
	Red   *float64 `json:"red"`
	Green *float64 `json:"green"`
	Blue  *float64 `json:"blue"`
}
