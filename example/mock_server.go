package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// StartMockPollenServer runs a mock forecast endpoint that answers like the
// upstream pollen API: a valid key gets a generated multi-day forecast,
// anything else gets a 403. Call this in a goroutine before starting the
// watcher.
func StartMockPollenServer(addr, apiKey string) {
	http.HandleFunc("/v1/forecast:lookup", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != apiKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":    403,
					"message": "API key not valid. Please pass a valid API key.",
					"status":  "PERMISSION_DENIED",
				},
			})
			return
		}

		days, err := strconv.Atoi(r.URL.Query().Get("days"))
		if err != nil || days < 1 {
			days = 1
		}
		if days > 5 {
			days = 5
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(forecastPayload(days)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock server error", "error", err)
	}
}

// forecastPayload generates a dailyInfo payload with random index values, so
// repeated refreshes show sensors actually changing.
func forecastPayload(days int) map[string]any {
	categories := []string{"Very Low", "Low", "Moderate", "High", "Very High"}
	now := time.Now()

	dailyInfo := make([]any, 0, days)
	for d := 0; d < days; d++ {
		date := now.AddDate(0, 0, d)

		typeInfo := []any{
			typeEntry("GRASS", "Grass", 1+rand.Intn(4), categories, true),
			typeEntry("TREE", "Tree", 1+rand.Intn(5), categories, true),
			typeEntry("WEED", "Weed", rand.Intn(3), categories, false),
		}

		day := map[string]any{
			"date": map[string]int{
				"year":  date.Year(),
				"month": int(date.Month()),
				"day":   date.Day(),
			},
			"pollenTypeInfo": typeInfo,
		}
		if d == 0 {
			day["plantInfo"] = []any{
				plantEntry("HAZEL", "Hazel", 2, categories),
				plantEntry("ALDER", "Alder", 3, categories),
			}
		}
		dailyInfo = append(dailyInfo, day)
	}

	return map[string]any{
		"regionCode": "DE",
		"dailyInfo":  dailyInfo,
	}
}

func typeEntry(code, name string, value int, categories []string, inSeason bool) map[string]any {
	entry := map[string]any{
		"code":        code,
		"displayName": name,
		"inSeason":    inSeason,
		"healthRecommendations": []string{
			"Pollen levels are " + categories[min(value, len(categories)-1)] + " today.",
		},
	}
	// a zero reading omits the whole index block, like the real service
	if value > 0 {
		entry["indexInfo"] = indexInfo(value, categories)
	}
	return entry
}

func plantEntry(code, name string, value int, categories []string) map[string]any {
	return map[string]any{
		"code":        code,
		"displayName": name,
		"inSeason":    true,
		"indexInfo":   indexInfo(value, categories),
		"plantDescription": map[string]any{
			"type":          "TREE",
			"family":        "Betulaceae",
			"season":        "Late winter, early spring",
			"crossReaction": "Birch, alder and oak pollen.",
		},
	}
}

func indexInfo(value int, categories []string) map[string]any {
	idx := min(value, len(categories)-1)
	return map[string]any{
		"value":            value,
		"category":         categories[idx],
		"indexDescription": "Universal Pollen Index " + strconv.Itoa(value),
		"color": map[string]float64{
			"red":   0.2 * float64(idx),
			"green": 0.8 - 0.1*float64(idx),
			"blue":  0.1,
		},
	}
}
