// Standalone mock server for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pollenwatch serve -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

const apiKey = "demo-key"

func main() {
	fmt.Println("Mock pollen server starting on :9999")
	fmt.Println("Accepted API key: " + apiKey)
	fmt.Println("Any other key gets a 403")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

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
		_ = json.NewEncoder(w).Encode(payload(days))
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func payload(days int) map[string]any {
	categories := []string{"Very Low", "Low", "Moderate", "High", "Very High"}
	now := time.Now()

	dailyInfo := make([]any, 0, days)
	for d := 0; d < days; d++ {
		date := now.AddDate(0, 0, d)
		day := map[string]any{
			"date": map[string]int{
				"year":  date.Year(),
				"month": int(date.Month()),
				"day":   date.Day(),
			},
			"pollenTypeInfo": []any{
				entry("GRASS", "Grass", 1+rand.Intn(4), categories),
				entry("TREE", "Tree", 1+rand.Intn(5), categories),
				entry("WEED", "Weed", rand.Intn(3), categories),
			},
		}
		dailyInfo = append(dailyInfo, day)
	}

	return map[string]any{
		"regionCode": "DE",
		"dailyInfo":  dailyInfo,
	}
}

func entry(code, name string, value int, categories []string) map[string]any {
	e := map[string]any{
		"code":        code,
		"displayName": name,
		"inSeason":    value > 0,
	}
	if value > 0 {
		idx := min(value, len(categories)-1)
		e["indexInfo"] = map[string]any{
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
	return e
}
