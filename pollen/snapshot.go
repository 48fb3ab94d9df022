package pollen

import (
	"sort"
	"strings"
	"time"
)

// Snapshot is the canonical, fully normalized view of one forecast response.
//
// A Snapshot is immutable once published: the refresh layer builds a fresh
// snapshot for every successful fetch and swaps it in as a whole, so readers
// never observe a partially updated forecast. All methods are read-only and
// safe for concurrent use.
type Snapshot struct {
	// Region is the upstream region code, empty when the response carried
	// none.
	Region string

	// FetchedAt is the wall-clock time of the successful fetch that produced
	// this snapshot. Stamped by the refresh layer, not by [Normalize].
	FetchedAt time.Time

	// Days holds the forecast in day order; Days[0] is today. Never empty
	// for a snapshot produced by [Normalize].
	Days []Day
}

// Day is the normalized forecast for a single calendar day.
type Day struct {
	// Date is the ISO-8601 calendar date (YYYY-MM-DD), or empty when the
	// upstream date was incomplete.
	Date string

	// Types maps upper-cased pollen type codes (GRASS, TREE, WEED) to their
	// entries for this day.
	Types map[string]Entry

	// Plants maps lower-cased plant codes to their entries for this day.
	Plants map[string]PlantEntry
}

// Entry is the normalized reading for one pollen type or plant on one day.
//
// Optional fields use pointers or zero values to distinguish "the upstream
// said nothing" from a genuine reading. In particular a nil Value means the
// day carried no index for this entry, which is different from an index
// of 0.
type Entry struct {
	// Code is the stable upstream identifier, case-normalized.
	Code string

	// DisplayName is the localized human-readable name, falling back to Code
	// when the upstream omits it.
	DisplayName string

	// Value is the universal pollen index. Nil when the day carried no index
	// for this entry.
	Value *float64

	// Category is the index category label, empty when absent.
	Category string

	// Description is the index description text, empty when absent.
	Description string

	// InSeason reports whether the allergen is in season. Nil when the
	// upstream omitted the field. Always taken from this entry's own day,
	// never copied across days.
	InSeason *bool

	// Advice holds the upstream health recommendations, nil when absent.
	Advice []string

	// Color is the severity color, nil when the upstream provided no usable
	// channels.
	Color *RGB

	// ColorRaw preserves the color block exactly as received, for consumers
	// that want the unnormalized channels. Set only when Color is set.
	ColorRaw *RawColor
}

// PlantEntry is a plant reading plus the species metadata the upstream
// attaches to plants.
type PlantEntry struct {
	Entry

	// Traits describes the plant species. Zero when the upstream omitted
	// the description block.
	Traits PlantTraits
}

// PlantTraits is species metadata independent of any day's index reading.
type PlantTraits struct {
	Type           string
	Family         string
	Season         string
	CrossReaction  string
	Picture        string
	PictureCloseup string
}

// Type returns the entry for a pollen type code at the given day offset,
// matching the code case-insensitively. ok is false when the offset is out
// of range or the day has no entry for the code.
func (s *Snapshot) Type(offset int, code string) (Entry, bool) {
	if offset < 0 || offset >= len(s.Days) {
		return Entry{}, false
	}
	e, ok := s.Days[offset].Types[strings.ToUpper(code)]
	return e, ok
}

// Plant returns the entry for a plant code at the given day offset, matching
// the code case-insensitively.
func (s *Snapshot) Plant(offset int, code string) (PlantEntry, bool) {
	if offset < 0 || offset >= len(s.Days) {
		return PlantEntry{}, false
	}
	e, ok := s.Days[offset].Plants[strings.ToLower(code)]
	return e, ok
}

// TypeCodes returns the sorted pollen type codes known to this snapshot.
// Day 0 always carries the full set: [Normalize] backfills placeholders for
// types that only appear in later days.
func (s *Snapshot) TypeCodes() []string {
	if len(s.Days) == 0 {
		return nil
	}
	codes := make([]string, 0, len(s.Days[0].Types))
	for code := range s.Days[0].Types {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// PlantCodes returns the sorted plant codes present on day 0. Plants are not
// backfilled, so only plants reported for today are listed.
func (s *Snapshot) PlantCodes() []string {
	if len(s.Days) == 0 {
		return nil
	}
	codes := make([]string, 0, len(s.Days[0].Plants))
	for code := range s.Days[0].Plants {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Limit returns a view of the snapshot truncated to at most n days. The
// returned snapshot shares day data with the receiver; it exists so that
// consumers with a shorter forecast horizon than the payload can scope every
// derived computation to their horizon.
func (s *Snapshot) Limit(n int) *Snapshot {
	if n <= 0 || n >= len(s.Days) {
		return s
	}
	v := *s
	v.Days = s.Days[:n]
	return &v
}
