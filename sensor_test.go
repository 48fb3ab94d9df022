package pollenwatch

import (
	"reflect"
	"testing"
	"time"

	"github.com/pollenlabs/pollenwatch/pollen"
)

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }

// threeDaySnapshot builds a snapshot with two pollen types and one plant:
// grass rises then falls (2, 3, 1), tree has no reading today but climbs to
// its peak on day two (-, 1, 5), and birch is reported for today only.
func threeDaySnapshot() *pollen.Snapshot {
	return &pollen.Snapshot{
		Region:    "DE",
		FetchedAt: time.Date(2025, 4, 10, 6, 0, 0, 0, time.UTC),
		Days: []pollen.Day{
			{
				Date: "2025-04-10",
				Types: map[string]pollen.Entry{
					"GRASS": {
						Code:        "GRASS",
						DisplayName: "Grass",
						Value:       fptr(2),
						Category:    "Moderate",
						Description: "People with high allergy may experience symptoms.",
						InSeason:    bptr(true),
						Advice:      []string{"Stay indoors on windy days."},
						Color:       &pollen.RGB{R: 255, G: 217, B: 0},
						ColorRaw:    &pollen.RawColor{Red: fptr(1), Green: fptr(0.85)},
					},
					"TREE": {Code: "TREE", DisplayName: "Tree"},
				},
				Plants: map[string]pollen.PlantEntry{
					"birch": {
						Entry: pollen.Entry{
							Code:        "birch",
							DisplayName: "Birch",
							Value:       fptr(4),
							Category:    "High",
							InSeason:    bptr(true),
						},
						Traits: pollen.PlantTraits{
							Type:          "TREE",
							Family:        "Betulaceae",
							Season:        "Late winter, spring",
							CrossReaction: "Alder, hazel and oak pollen.",
						},
					},
				},
			},
			{
				Date: "2025-04-11",
				Types: map[string]pollen.Entry{
					"GRASS": {
						Code:        "GRASS",
						DisplayName: "Grass",
						Value:       fptr(3),
						Category:    "High",
						InSeason:    bptr(false),
						Advice:      []string{"Pollen count rising."},
					},
					"TREE": {Code: "TREE", DisplayName: "Tree", Value: fptr(1), Category: "Very Low"},
				},
				Plants: map[string]pollen.PlantEntry{},
			},
			{
				Date: "2025-04-12",
				Types: map[string]pollen.Entry{
					"GRASS": {Code: "GRASS", DisplayName: "Grass", Value: fptr(1), Category: "Very Low"},
					"TREE":  {Code: "TREE", DisplayName: "Tree", Value: fptr(5), Category: "Very High"},
				},
				Plants: map[string]pollen.PlantEntry{},
			},
		},
	}
}

func findSensor(t *testing.T, sensors []Sensor, key string) Sensor {
	t.Helper()
	for _, s := range sensors {
		if s.Key == key {
			return s
		}
	}
	t.Fatalf("no sensor with key %q (have %v)", key, sensorKeys(sensors))
	return Sensor{}
}

func hasSensor(sensors []Sensor, key string) bool {
	for _, s := range sensors {
		if s.Key == key {
			return true
		}
	}
	return false
}

func sensorKeys(sensors []Sensor) []string {
	keys := make([]string, len(sensors))
	for i, s := range sensors {
		keys[i] = s.Key
	}
	return keys
}

func TestProject_NilSnapshot(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405)

	if got := Project(src, nil); got != nil {
		t.Errorf("Project(nil) = %v, want nil", got)
	}
	if got := Project(src, &pollen.Snapshot{}); got != nil {
		t.Errorf("Project(empty) = %v, want nil", got)
	}
}

func TestProject_MetadataSensors(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405)
	sensors := Project(src, threeDaySnapshot())

	region := findSensor(t, sensors, "region")
	if region.Kind != KindMetadata {
		t.Errorf("region Kind = %q, want %q", region.Kind, KindMetadata)
	}
	if region.State != "DE" {
		t.Errorf("region State = %v, want %q", region.State, "DE")
	}

	date := findSensor(t, sensors, "date")
	if date.State != "2025-04-10" {
		t.Errorf("date State = %v, want %q", date.State, "2025-04-10")
	}

	updated := findSensor(t, sensors, "last_updated")
	if updated.State != "2025-04-10T06:00:00Z" {
		t.Errorf("last_updated State = %v, want %q", updated.State, "2025-04-10T06:00:00Z")
	}
}

func TestProject_MetadataOmittedWhenAbsent(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405)

	snap := threeDaySnapshot()
	snap.Region = ""
	snap.FetchedAt = time.Time{}
	snap.Days[0].Date = ""

	sensors := Project(src, snap)
	for _, key := range []string{"region", "date", "last_updated"} {
		if hasSensor(sensors, key) {
			t.Errorf("sensor %q projected despite absent data", key)
		}
	}
}

func TestProject_Order(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405,
		WithForecastDays(3),
		WithPerDaySensors(PerDayD1),
	)
	sensors := Project(src, threeDaySnapshot())

	want := []string{
		"region", "date", "last_updated",
		"type_grass", "type_grass_d1",
		"type_tree", "type_tree_d1",
		"plants_birch",
	}
	if got := sensorKeys(sensors); !reflect.DeepEqual(got, want) {
		t.Errorf("sensor order = %v, want %v", got, want)
	}
}

func TestProject_TypeSensor(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405)
	sensors := Project(src, threeDaySnapshot())

	grass := findSensor(t, sensors, "type_grass")
	if grass.Kind != KindType {
		t.Errorf("Kind = %q, want %q", grass.Kind, KindType)
	}
	if grass.Name != "Grass" {
		t.Errorf("Name = %q, want %q", grass.Name, "Grass")
	}
	if grass.State != 2.0 {
		t.Errorf("State = %v, want 2.0", grass.State)
	}

	attrs := grass.Attributes
	if attrs["category"] != "Moderate" {
		t.Errorf("category = %v, want %q", attrs["category"], "Moderate")
	}
	if attrs["in_season"] != true {
		t.Errorf("in_season = %v, want true", attrs["in_season"])
	}
	if !reflect.DeepEqual(attrs["advice"], []string{"Stay indoors on windy days."}) {
		t.Errorf("advice = %v, want the day-0 recommendations", attrs["advice"])
	}
	if attrs["color_hex"] != "#FFD900" {
		t.Errorf("color_hex = %v, want %q", attrs["color_hex"], "#FFD900")
	}
	if !reflect.DeepEqual(attrs["color_rgb"], []int{255, 217, 0}) {
		t.Errorf("color_rgb = %v, want [255 217 0]", attrs["color_rgb"])
	}
}

func TestProject_NoReadingToday(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405)
	sensors := Project(src, threeDaySnapshot())

	tree := findSensor(t, sensors, "type_tree")
	if tree.State != nil {
		t.Errorf("State = %v, want nil for a day without an index", tree.State)
	}

	// data-describing keys are absent, not nil
	for _, key := range []string{"category", "in_season", "advice", "color_hex"} {
		if _, ok := tree.Attributes[key]; ok {
			t.Errorf("attribute %q present despite no day-0 data", key)
		}
	}

	// the multi-day keys are still there: the forecast exists even when
	// today carries no reading
	if _, ok := tree.Attributes["forecast"]; !ok {
		t.Error("forecast attribute missing on multi-day source")
	}
}

func TestProject_ForecastWindow(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405, WithForecastDays(3))
	sensors := Project(src, threeDaySnapshot())

	grass := findSensor(t, sensors, "type_grass")
	window, ok := grass.Attributes["forecast"].([]ForecastDay)
	if !ok {
		t.Fatalf("forecast attribute type = %T, want []ForecastDay", grass.Attributes["forecast"])
	}
	if len(window) != 2 {
		t.Fatalf("len(forecast) = %d, want 2", len(window))
	}

	d1 := window[0]
	if d1.Offset != 1 || d1.Date != "2025-04-11" {
		t.Errorf("forecast[0] = offset %d date %q, want offset 1 date 2025-04-11", d1.Offset, d1.Date)
	}
	if !d1.HasIndex || d1.Value == nil || *d1.Value != 3 {
		t.Errorf("forecast[0] = %+v, want index 3", d1)
	}
	if d1.Category != "High" {
		t.Errorf("forecast[0].Category = %q, want %q", d1.Category, "High")
	}

	d2 := window[1]
	if d2.Offset != 2 || !d2.HasIndex || d2.Value == nil || *d2.Value != 1 {
		t.Errorf("forecast[1] = %+v, want offset 2 index 1", d2)
	}
}

func TestProject_TrendAndPeak(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405, WithForecastDays(3))
	sensors := Project(src, threeDaySnapshot())

	grass := findSensor(t, sensors, "type_grass")
	if grass.Attributes["trend"] != "up" {
		t.Errorf("grass trend = %v, want %q", grass.Attributes["trend"], "up")
	}
	peak, ok := grass.Attributes["expected_peak"].(*pollen.Peak)
	if !ok || peak == nil {
		t.Fatalf("grass expected_peak = %v, want *pollen.Peak", grass.Attributes["expected_peak"])
	}
	if peak.Offset != 1 || peak.Value != 3 {
		t.Errorf("grass peak = offset %d value %v, want offset 1 value 3", peak.Offset, peak.Value)
	}

	// tree has no index today, so no trend can be derived; the key is still
	// present with a nil value
	tree := findSensor(t, sensors, "type_tree")
	trend, ok := tree.Attributes["trend"]
	if !ok {
		t.Fatal("tree trend attribute missing, want present with nil")
	}
	if trend != nil {
		t.Errorf("tree trend = %v, want nil", trend)
	}
	treePeak, _ := tree.Attributes["expected_peak"].(*pollen.Peak)
	if treePeak == nil || treePeak.Offset != 2 || treePeak.Value != 5 {
		t.Errorf("tree peak = %+v, want offset 2 value 5", treePeak)
	}
}

func TestProject_TomorrowConvenience(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405, WithForecastDays(3))
	sensors := Project(src, threeDaySnapshot())

	grass := findSensor(t, sensors, "type_grass")
	attrs := grass.Attributes
	if attrs["tomorrow_has_index"] != true {
		t.Errorf("tomorrow_has_index = %v, want true", attrs["tomorrow_has_index"])
	}
	if attrs["tomorrow_value"] != 3.0 {
		t.Errorf("tomorrow_value = %v, want 3.0", attrs["tomorrow_value"])
	}
	if attrs["tomorrow_category"] != "High" {
		t.Errorf("tomorrow_category = %v, want %q", attrs["tomorrow_category"], "High")
	}
	if attrs["d2_value"] != 1.0 {
		t.Errorf("d2_value = %v, want 1.0", attrs["d2_value"])
	}

	// birch only exists today: tomorrow keys present but empty
	birch := findSensor(t, sensors, "plants_birch")
	if birch.Attributes["tomorrow_has_index"] != false {
		t.Errorf("birch tomorrow_has_index = %v, want false", birch.Attributes["tomorrow_has_index"])
	}
	if v, ok := birch.Attributes["tomorrow_value"]; !ok || v != nil {
		t.Errorf("birch tomorrow_value = %v (present %v), want present nil", v, ok)
	}
}

func TestProject_SingleDayOmitsForecast(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405, WithForecastDays(1))
	sensors := Project(src, threeDaySnapshot())

	grass := findSensor(t, sensors, "type_grass")
	for _, key := range []string{"forecast", "trend", "expected_peak", "tomorrow_has_index", "d2_has_index"} {
		if _, ok := grass.Attributes[key]; ok {
			t.Errorf("attribute %q present on single-day source", key)
		}
	}
	// current-day data survives untouched
	if grass.State != 2.0 {
		t.Errorf("State = %v, want 2.0", grass.State)
	}
}

func TestProject_HorizonTruncation(t *testing.T) {
	// a two-day source never sees day 2, even when the payload has it: the
	// tree peak moves from day 2 (index 5) to day 1 (index 1)
	src := mustSource(t, "Home", 52.52, 13.405, WithForecastDays(2))
	snap := threeDaySnapshot()
	sensors := Project(src, snap)

	tree := findSensor(t, sensors, "type_tree")
	window, _ := tree.Attributes["forecast"].([]ForecastDay)
	if len(window) != 1 {
		t.Fatalf("len(forecast) = %d, want 1", len(window))
	}
	peak, _ := tree.Attributes["expected_peak"].(*pollen.Peak)
	if peak == nil || peak.Offset != 1 || peak.Value != 1 {
		t.Errorf("peak = %+v, want offset 1 value 1", peak)
	}

	// the snapshot itself is untouched
	if len(snap.Days) != 3 {
		t.Errorf("len(snap.Days) = %d after Project, want 3", len(snap.Days))
	}
}

func TestProject_PerDaySensors(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405,
		WithForecastDays(3),
		WithPerDaySensors(PerDayD1D2),
	)
	sensors := Project(src, threeDaySnapshot())

	d1 := findSensor(t, sensors, "type_grass_d1")
	if d1.Kind != KindType {
		t.Errorf("Kind = %q, want %q", d1.Kind, KindType)
	}
	if d1.Name != "Grass (D+1)" {
		t.Errorf("Name = %q, want %q", d1.Name, "Grass (D+1)")
	}
	if d1.State != 3.0 {
		t.Errorf("State = %v, want 3.0", d1.State)
	}
	if d1.Attributes["date"] != "2025-04-11" {
		t.Errorf("date = %v, want %q", d1.Attributes["date"], "2025-04-11")
	}
	if d1.Attributes["category"] != "High" {
		t.Errorf("category = %v, want %q", d1.Attributes["category"], "High")
	}

	// in-season and advice come from the sensor's own day, not from today
	if d1.Attributes["in_season"] != false {
		t.Errorf("in_season = %v, want false (day 1 value)", d1.Attributes["in_season"])
	}
	if !reflect.DeepEqual(d1.Attributes["advice"], []string{"Pollen count rising."}) {
		t.Errorf("advice = %v, want the day-1 recommendations", d1.Attributes["advice"])
	}

	d2 := findSensor(t, sensors, "type_grass_d2")
	if d2.State != 1.0 {
		t.Errorf("d2 State = %v, want 1.0", d2.State)
	}
	if d2.Name != "Grass (D+2)" {
		t.Errorf("d2 Name = %q, want %q", d2.Name, "Grass (D+2)")
	}

	treeD1 := findSensor(t, sensors, "type_tree_d1")
	if treeD1.State != 1.0 {
		t.Errorf("tree d1 State = %v, want 1.0", treeD1.State)
	}
	if _, ok := treeD1.Attributes["in_season"]; ok {
		t.Error("tree d1 in_season present despite absent upstream flag")
	}
}

func TestProject_PerDayLimitedBySnapshot(t *testing.T) {
	// the payload carries fewer days than the horizon: only sensors for
	// days that exist are projected
	src := mustSource(t, "Home", 52.52, 13.405,
		WithForecastDays(3),
		WithPerDaySensors(PerDayD1D2),
	)
	snap := threeDaySnapshot()
	snap.Days = snap.Days[:2]

	sensors := Project(src, snap)
	if !hasSensor(sensors, "type_grass_d1") {
		t.Error("type_grass_d1 missing despite day 1 being present")
	}
	if hasSensor(sensors, "type_grass_d2") {
		t.Error("type_grass_d2 projected despite day 2 being absent")
	}
}

func TestProject_PerDayNoReading(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405,
		WithForecastDays(2),
		WithPerDaySensors(PerDayD1),
	)
	snap := &pollen.Snapshot{
		Days: []pollen.Day{
			{
				Date:  "2025-04-10",
				Types: map[string]pollen.Entry{"GRASS": {Code: "GRASS", DisplayName: "Grass", Value: fptr(2)}},
			},
			{
				Date:  "2025-04-11",
				Types: map[string]pollen.Entry{"GRASS": {Code: "GRASS", DisplayName: "Grass", InSeason: bptr(false)}},
			},
		},
	}

	sensors := Project(src, snap)
	d1 := findSensor(t, sensors, "type_grass_d1")

	// the sensor exists to keep the key set stable, but carries no index
	if d1.State != nil {
		t.Errorf("State = %v, want nil", d1.State)
	}
	if d1.Attributes["has_index"] != false {
		t.Errorf("has_index = %v, want false", d1.Attributes["has_index"])
	}
	if _, ok := d1.Attributes["category"]; ok {
		t.Error("category present despite missing index")
	}
	if d1.Attributes["in_season"] != false {
		t.Errorf("in_season = %v, want false (the day's own flag survives)", d1.Attributes["in_season"])
	}
}

func TestProject_PlantTraits(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405)
	sensors := Project(src, threeDaySnapshot())

	birch := findSensor(t, sensors, "plants_birch")
	if birch.Kind != KindPlant {
		t.Errorf("Kind = %q, want %q", birch.Kind, KindPlant)
	}
	if birch.State != 4.0 {
		t.Errorf("State = %v, want 4.0", birch.State)
	}

	attrs := birch.Attributes
	if attrs["type"] != "TREE" {
		t.Errorf("type = %v, want %q", attrs["type"], "TREE")
	}
	if attrs["family"] != "Betulaceae" {
		t.Errorf("family = %v, want %q", attrs["family"], "Betulaceae")
	}
	if attrs["season"] != "Late winter, spring" {
		t.Errorf("season = %v, want %q", attrs["season"], "Late winter, spring")
	}
	if attrs["cross_reaction"] != "Alder, hazel and oak pollen." {
		t.Errorf("cross_reaction = %v, want the trait text", attrs["cross_reaction"])
	}
	// empty traits stay absent
	if _, ok := attrs["picture"]; ok {
		t.Error("picture present despite empty trait")
	}
}

func TestProject_Deterministic(t *testing.T) {
	src := mustSource(t, "Home", 52.52, 13.405,
		WithForecastDays(3),
		WithPerDaySensors(PerDayD1D2),
	)
	snap := threeDaySnapshot()

	first := Project(src, snap)
	second := Project(src, snap)
	if !reflect.DeepEqual(first, second) {
		t.Error("Project() is not deterministic for the same snapshot")
	}
}
