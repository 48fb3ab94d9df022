package pollen

import "strings"

// Trend is the day-over-day direction of a pollen index.
type Trend string

const (
	// TrendUp means tomorrow's index is higher than today's.
	TrendUp Trend = "up"

	// TrendDown means tomorrow's index is lower than today's.
	TrendDown Trend = "down"

	// TrendFlat means today and tomorrow carry the same index.
	TrendFlat Trend = "flat"
)

// Peak identifies the future forecast day with the highest index for one
// entry. It serializes into the expected_peak attribute of projected sensors.
type Peak struct {
	// Offset is the day offset from today; 1 is tomorrow.
	Offset int `json:"offset"`

	// Date is the ISO date of the peak day, empty when the upstream date was
	// incomplete.
	Date string `json:"date,omitempty"`

	// Value is the index at the peak.
	Value float64 `json:"value"`

	// Category is the index category at the peak, possibly empty.
	Category string `json:"category,omitempty"`
}

// TypeTrend derives the trend for a pollen type by comparing today's index
// with tomorrow's. ok is false when either day lacks a numeric index, in
// which case no trend should be shown: a missing reading is not a flat one.
//
// Trends are computed on demand from the snapshot and never stored, so they
// can never drift out of sync with the data.
func (s *Snapshot) TypeTrend(code string) (Trend, bool) {
	today, ok0 := s.Type(0, code)
	tomorrow, ok1 := s.Type(1, code)
	if !ok0 || !ok1 {
		return "", false
	}
	return trendOf(today.Value, tomorrow.Value)
}

// PlantTrend derives the trend for a plant. Semantics match
// [Snapshot.TypeTrend].
func (s *Snapshot) PlantTrend(code string) (Trend, bool) {
	today, ok0 := s.Plant(0, code)
	tomorrow, ok1 := s.Plant(1, code)
	if !ok0 || !ok1 {
		return "", false
	}
	return trendOf(today.Value, tomorrow.Value)
}

func trendOf(today, tomorrow *float64) (Trend, bool) {
	if today == nil || tomorrow == nil {
		return "", false
	}
	switch {
	case *tomorrow > *today:
		return TrendUp, true
	case *tomorrow < *today:
		return TrendDown, true
	default:
		return TrendFlat, true
	}
}

// TypePeak finds the highest future index for a pollen type across day
// offsets 1 and onward. Today is excluded: the peak answers "when does it
// get worst", not "how bad is it now". Ties keep the earliest day. Returns
// nil when no future day carries a numeric index for the code.
func (s *Snapshot) TypePeak(code string) *Peak {
	key := strings.ToUpper(code)
	return peakOf(s.Days, func(d Day) (Entry, bool) {
		e, ok := d.Types[key]
		return e, ok
	})
}

// PlantPeak finds the highest future index for a plant. Semantics match
// [Snapshot.TypePeak].
func (s *Snapshot) PlantPeak(code string) *Peak {
	key := strings.ToLower(code)
	return peakOf(s.Days, func(d Day) (Entry, bool) {
		e, ok := d.Plants[key]
		return e.Entry, ok
	})
}

func peakOf(days []Day, lookup func(Day) (Entry, bool)) *Peak {
	var peak *Peak
	for off := 1; off < len(days); off++ {
		e, ok := lookup(days[off])
		if !ok || e.Value == nil {
			continue
		}
		if peak == nil || *e.Value > peak.Value {
			peak = &Peak{
				Offset:   off,
				Date:     days[off].Date,
				Value:    *e.Value,
				Category: e.Category,
			}
		}
	}
	return peak
}
