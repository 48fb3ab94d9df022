package pollenwatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/pollenlabs/pollenwatch/pollen"
)

// SensorKind classifies a projected sensor.
//
// SensorKind is a string type that can hold one of three predefined values:
// [KindType], [KindPlant], or [KindMetadata].
type SensorKind string

const (
	// KindType is a pollen type sensor (grass, tree, weed), including the
	// optional per-day variants.
	KindType SensorKind = "type"

	// KindPlant is a plant species sensor.
	KindPlant SensorKind = "plant"

	// KindMetadata is a non-allergen sensor: region, forecast date, or
	// last-updated timestamp.
	KindMetadata SensorKind = "metadata"
)

// String returns the string representation of the kind.
// This implements the fmt.Stringer interface.
func (k SensorKind) String() string {
	return string(k)
}

// Sensor is one projected entity: a stable key, a display name, a state
// value, and a bag of descriptive attributes.
//
// Sensors are produced by [Project] and are immutable once returned. State is
// the universal pollen index for type and plant sensors (nil when the day
// carried no reading) and a string for metadata sensors.
type Sensor struct {
	// Key is the stable identifier within a source, e.g. "type_grass",
	// "type_grass_d1", "plants_ragweed", "region". Keys survive across
	// refreshes; consumers should track sensors by key, not by name.
	Key string

	// Kind classifies the sensor.
	Kind SensorKind

	// Name is the human-readable display name, localized when the source
	// requests a language. Per-day sensors append a " (D+n)" suffix.
	Name string

	// State is the sensor's primary value.
	State any

	// Attributes holds the descriptive details. Keys that describe data
	// (category, advice, colors, plant traits) appear only when the upstream
	// provided them; the multi-day keys (forecast, tomorrow_*, d2_*, trend,
	// expected_peak) are always present on multi-day sources so consumers can
	// bind to them unconditionally, with nil marking unavailable values.
	Attributes map[string]any
}

// ForecastDay is one future day inside a sensor's forecast attribute.
//
// Every day of the horizon appears in the list, including days the upstream
// carried no reading for: HasIndex false distinguishes "no data for this day"
// from "day outside the horizon". Index details are set only when HasIndex is
// true.
type ForecastDay struct {
	// Offset is the day offset from today; 1 is tomorrow.
	Offset int `json:"offset"`

	// Date is the ISO calendar date, empty when the upstream date was
	// incomplete.
	Date string `json:"date,omitempty"`

	// HasIndex reports whether this day carries a numeric index for the
	// sensor's code.
	HasIndex bool `json:"has_index"`

	// Value is the universal pollen index, set only when HasIndex is true.
	Value *float64 `json:"value,omitempty"`

	Category    string           `json:"category,omitempty"`
	Description string           `json:"description,omitempty"`
	ColorHex    string           `json:"color_hex,omitempty"`
	ColorRGB    []int            `json:"color_rgb,omitempty"`
	ColorRaw    *pollen.RawColor `json:"color_raw,omitempty"`
}

// Project converts a snapshot into the sensor set for one source.
//
// Project is a pure function: the same snapshot and source always yield the
// same sensors, in a deterministic order — metadata first, then pollen types
// in code order (each immediately followed by its per-day sensors, when
// configured), then plants in code order. It never mutates the snapshot.
//
// The snapshot is truncated to the source's forecast horizon before any
// derivation, so trends, peaks, and forecast lists never reach past the
// horizon even when the upstream returned more days. Sources with a horizon
// of one day get plain current-day sensors with no forecast attributes at
// all.
func Project(src Source, snap *pollen.Snapshot) []Sensor {
	if snap == nil || len(snap.Days) == 0 {
		return nil
	}
	view := snap.Limit(src.days)
	multiDay := src.days > 1

	var sensors []Sensor

	if view.Region != "" {
		sensors = append(sensors, Sensor{
			Key:   "region",
			Kind:  KindMetadata,
			Name:  "Region",
			State: view.Region,
		})
	}
	if date := view.Days[0].Date; date != "" {
		sensors = append(sensors, Sensor{
			Key:   "date",
			Kind:  KindMetadata,
			Name:  "Forecast Date",
			State: date,
		})
	}
	if !view.FetchedAt.IsZero() {
		sensors = append(sensors, Sensor{
			Key:   "last_updated",
			Kind:  KindMetadata,
			Name:  "Last Updated",
			State: view.FetchedAt.UTC().Format(time.RFC3339),
		})
	}

	for _, code := range view.TypeCodes() {
		entry, _ := view.Type(0, code)
		sensors = append(sensors, projectType(view, code, entry, multiDay))
		sensors = append(sensors, perDaySensors(view, src.perDay, code, entry)...)
	}

	for _, code := range view.PlantCodes() {
		plant, _ := view.Plant(0, code)
		sensors = append(sensors, projectPlant(view, code, plant, multiDay))
	}

	return sensors
}

func projectType(view *pollen.Snapshot, code string, e pollen.Entry, multiDay bool) Sensor {
	attrs := entryAttributes(e)
	if multiDay {
		trend, ok := view.TypeTrend(code)
		attachForecast(attrs, typeForecast(view, code), trend, ok, view.TypePeak(code))
	}
	return Sensor{
		Key:        "type_" + strings.ToLower(code),
		Kind:       KindType,
		Name:       e.DisplayName,
		State:      stateOf(e.Value),
		Attributes: attrs,
	}
}

func projectPlant(view *pollen.Snapshot, code string, p pollen.PlantEntry, multiDay bool) Sensor {
	attrs := entryAttributes(p.Entry)
	addTrait(attrs, "type", p.Traits.Type)
	addTrait(attrs, "family", p.Traits.Family)
	addTrait(attrs, "season", p.Traits.Season)
	addTrait(attrs, "cross_reaction", p.Traits.CrossReaction)
	addTrait(attrs, "picture", p.Traits.Picture)
	addTrait(attrs, "picture_closeup", p.Traits.PictureCloseup)
	if multiDay {
		trend, ok := view.PlantTrend(code)
		attachForecast(attrs, plantForecast(view, code), trend, ok, view.PlantPeak(code))
	}
	return Sensor{
		Key:        "plants_" + code,
		Kind:       KindPlant,
		Name:       p.DisplayName,
		State:      stateOf(p.Value),
		Attributes: attrs,
	}
}

// perDaySensors projects the optional D+1 and D+2 type sensors. A sensor is
// created only when the payload actually carries that forecast day. In-season
// and advice come from the sensor's own day, never copied from today.
func perDaySensors(view *pollen.Snapshot, perDay PerDaySensors, code string, today pollen.Entry) []Sensor {
	maxOff := perDay.MaxOffset()
	if maxOff == 0 {
		return nil
	}
	window := typeForecast(view, code)

	var sensors []Sensor
	for off := 1; off <= maxOff && off < len(view.Days); off++ {
		fd := window[off-1]
		attrs := map[string]any{
			"has_index": fd.HasIndex,
		}
		if fd.Date != "" {
			attrs["date"] = fd.Date
		}
		if fd.HasIndex {
			if fd.Category != "" {
				attrs["category"] = fd.Category
			}
			if fd.Description != "" {
				attrs["description"] = fd.Description
			}
			if fd.ColorHex != "" {
				attrs["color_hex"] = fd.ColorHex
				attrs["color_rgb"] = fd.ColorRGB
				attrs["color_raw"] = fd.ColorRaw
			}
		}
		if dayEntry, ok := view.Type(off, code); ok {
			if dayEntry.InSeason != nil {
				attrs["in_season"] = *dayEntry.InSeason
			}
			if len(dayEntry.Advice) > 0 {
				attrs["advice"] = dayEntry.Advice
			}
		}

		var state any
		if fd.Value != nil {
			state = *fd.Value
		}
		sensors = append(sensors, Sensor{
			Key:        fmt.Sprintf("type_%s_d%d", strings.ToLower(code), off),
			Kind:       KindType,
			Name:       fmt.Sprintf("%s (D+%d)", today.DisplayName, off),
			State:      state,
			Attributes: attrs,
		})
	}
	return sensors
}

// entryAttributes builds the day-0 attributes shared by type and plant
// sensors. Keys appear only when the upstream provided the data.
func entryAttributes(e pollen.Entry) map[string]any {
	attrs := make(map[string]any, 8)
	if e.Category != "" {
		attrs["category"] = e.Category
	}
	if e.Description != "" {
		attrs["description"] = e.Description
	}
	if e.InSeason != nil {
		attrs["in_season"] = *e.InSeason
	}
	if len(e.Advice) > 0 {
		attrs["advice"] = e.Advice
	}
	if e.Color != nil {
		attrs["color_hex"] = e.Color.Hex()
		attrs["color_rgb"] = e.Color.Slice()
		attrs["color_raw"] = e.ColorRaw
	}
	return attrs
}

// attachForecast adds the multi-day attribute block: the forecast window,
// the tomorrow/D+2 convenience keys, and the derived trend and expected peak.
// These keys are always present on multi-day sources; unavailable values are
// nil rather than absent.
func attachForecast(attrs map[string]any, window []ForecastDay, trend pollen.Trend, hasTrend bool, peak *pollen.Peak) {
	attrs["forecast"] = window
	setConvenience(attrs, "tomorrow", 1, window)
	setConvenience(attrs, "d2", 2, window)
	if hasTrend {
		attrs["trend"] = string(trend)
	} else {
		attrs["trend"] = nil
	}
	if peak != nil {
		attrs["expected_peak"] = peak
	} else {
		attrs["expected_peak"] = nil
	}
}

// setConvenience flattens one forecast offset into prefixed attribute keys so
// dashboards can bind "tomorrow_value" and friends without walking the list.
func setConvenience(attrs map[string]any, prefix string, offset int, window []ForecastDay) {
	var day *ForecastDay
	for i := range window {
		if window[i].Offset == offset {
			day = &window[i]
			break
		}
	}
	if day == nil || !day.HasIndex {
		attrs[prefix+"_has_index"] = false
		attrs[prefix+"_value"] = nil
		attrs[prefix+"_category"] = nil
		attrs[prefix+"_description"] = nil
		attrs[prefix+"_color_hex"] = nil
		return
	}
	attrs[prefix+"_has_index"] = true
	attrs[prefix+"_value"] = *day.Value
	attrs[prefix+"_category"] = nullable(day.Category)
	attrs[prefix+"_description"] = nullable(day.Description)
	attrs[prefix+"_color_hex"] = nullable(day.ColorHex)
}

func typeForecast(view *pollen.Snapshot, code string) []ForecastDay {
	return forecastWindow(view, func(off int) (pollen.Entry, bool) {
		return view.Type(off, code)
	})
}

func plantForecast(view *pollen.Snapshot, code string) []ForecastDay {
	return forecastWindow(view, func(off int) (pollen.Entry, bool) {
		p, ok := view.Plant(off, code)
		return p.Entry, ok
	})
}

// forecastWindow builds the forecast list for day offsets 1 and onward within
// the view's horizon.
func forecastWindow(view *pollen.Snapshot, lookup func(off int) (pollen.Entry, bool)) []ForecastDay {
	window := make([]ForecastDay, 0, len(view.Days)-1)
	for off := 1; off < len(view.Days); off++ {
		fd := ForecastDay{Offset: off, Date: view.Days[off].Date}
		if e, ok := lookup(off); ok && e.Value != nil {
			fd.HasIndex = true
			v := *e.Value
			fd.Value = &v
			fd.Category = e.Category
			fd.Description = e.Description
			if e.Color != nil {
				fd.ColorHex = e.Color.Hex()
				fd.ColorRGB = e.Color.Slice()
				fd.ColorRaw = e.ColorRaw
			}
		}
		window = append(window, fd)
	}
	return window
}

func addTrait(attrs map[string]any, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}

// stateOf converts an optional index into a sensor state: the numeric value,
// or nil when the day carried no reading.
func stateOf(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullable maps the empty string to nil so absent upstream text serializes as
// null rather than "".
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
