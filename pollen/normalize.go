package pollen

import "strings"

// Normalize converts a decoded upstream payload into a canonical [Snapshot].
//
// Normalization is pure and deterministic: the same payload always yields a
// structurally equal snapshot, and the input is never modified. The caller
// stamps [Snapshot.FetchedAt] after a successful fetch.
//
// Rules applied:
//   - Type codes are upper-cased and plant codes lower-cased to give
//     projections stable map keys; entries with an empty code are skipped.
//   - Every entry keeps only its own day's data. In-season flags and advice
//     never leak between days.
//   - A type that is absent from day 0 but present in a later day gets a
//     day-0 placeholder carrying the display name and advice of its first
//     appearance, so day 0 always exposes the full type catalog.
//     Placeholders have no index data and no in-season flag. Plants are not
//     backfilled.
//
// Returns a [MalformedError] when the payload carries no daily entries.
func Normalize(raw *RawForecast) (*Snapshot, error) {
	if raw == nil || len(raw.DailyInfo) == 0 {
		return nil, &MalformedError{Reason: "forecast payload has no daily entries"}
	}

	snap := &Snapshot{
		Region: strings.TrimSpace(raw.RegionCode),
		Days:   make([]Day, 0, len(raw.DailyInfo)),
	}

	for _, rd := range raw.DailyInfo {
		// first non-empty region wins, later days never override
		if snap.Region == "" {
			snap.Region = strings.TrimSpace(rd.RegionCode)
		}

		day := Day{
			Date:   rd.Date.ISO(),
			Types:  make(map[string]Entry, len(rd.PollenTypeInfo)),
			Plants: make(map[string]PlantEntry, len(rd.PlantInfo)),
		}
		for _, rt := range rd.PollenTypeInfo {
			code := strings.ToUpper(strings.TrimSpace(rt.Code))
			if code == "" {
				continue
			}
			day.Types[code] = newEntry(code, rt.DisplayName, rt.InSeason, rt.IndexInfo, rt.HealthRecommendations)
		}
		for _, rp := range rd.PlantInfo {
			code := strings.ToLower(strings.TrimSpace(rp.Code))
			if code == "" {
				continue
			}
			day.Plants[code] = PlantEntry{
				Entry:  newEntry(code, rp.DisplayName, rp.InSeason, rp.IndexInfo, rp.HealthRecommendations),
				Traits: plantTraits(rp.PlantDescription),
			}
		}
		snap.Days = append(snap.Days, day)
	}

	backfillDayZero(snap.Days)

	return snap, nil
}

// newEntry normalizes the fields shared by type and plant entries. All data
// is copied so the snapshot never aliases the raw payload.
func newEntry(code, displayName string, inSeason *bool, idx *RawIndex, advice []string) Entry {
	e := Entry{
		Code:        code,
		DisplayName: strings.TrimSpace(displayName),
	}
	if e.DisplayName == "" {
		e.DisplayName = code
	}
	if inSeason != nil {
		v := *inSeason
		e.InSeason = &v
	}
	if len(advice) > 0 {
		e.Advice = append([]string(nil), advice...)
	}
	if idx != nil {
		if idx.Value != nil {
			v := *idx.Value
			e.Value = &v
		}
		e.Category = idx.Category
		e.Description = idx.IndexDescription
		if rgb := ParseColor(idx.Color); rgb != nil {
			e.Color = rgb
			cc := *idx.Color
			e.ColorRaw = &cc
		}
	}
	return e
}

func plantTraits(meta *RawPlantMeta) PlantTraits {
	if meta == nil {
		return PlantTraits{}
	}
	return PlantTraits{
		Type:           meta.Type,
		Family:         meta.Family,
		Season:         meta.Season,
		CrossReaction:  meta.CrossReaction,
		Picture:        meta.Picture,
		PictureCloseup: meta.PictureCloseup,
	}
}

// backfillDayZero gives day 0 an entry for every type code that appears in
// any later day. Consumers treat day 0 as the catalog of known types, so a
// type that only shows up from tomorrow onward must still be discoverable
// today. The placeholder copies display name and advice from the first day
// carrying the code and leaves everything else absent.
func backfillDayZero(days []Day) {
	if len(days) < 2 {
		return
	}
	for _, day := range days[1:] {
		for code, entry := range day.Types {
			if _, ok := days[0].Types[code]; ok {
				continue
			}
			placeholder := Entry{
				Code:        code,
				DisplayName: entry.DisplayName,
			}
			if len(entry.Advice) > 0 {
				placeholder.Advice = append([]string(nil), entry.Advice...)
			}
			days[0].Types[code] = placeholder
		}
	}
}
