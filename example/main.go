package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pollenlabs/pollenwatch"
)

func main() {
	// start mock upstream (see mock_server.go)
	go StartMockPollenServer(":9999", "demo-key")
	time.Sleep(100 * time.Millisecond)

	// a multi-day source with per-day sensors for tomorrow and the day after
	home, err := pollenwatch.NewSource("Home", "demo-key", 52.520008, 13.404954,
		pollenwatch.WithForecastDays(4),
		pollenwatch.WithPerDaySensors(pollenwatch.PerDayD1D2),
	)
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}

	// a second location with the defaults (3 days, 6h interval)
	office, err := pollenwatch.NewSource("Office", "demo-key", 48.137154, 11.576124)
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}

	// start the watcher against the mock instead of the real service
	w, err := pollenwatch.New(
		pollenwatch.WithSources(home, office),
		pollenwatch.WithPort(8080),
		pollenwatch.WithBaseURL("http://localhost:9999/v1/forecast:lookup"),
		pollenwatch.WithUpdateCallback(func(u pollenwatch.Update) {
			if u.State == pollenwatch.StateReady {
				fmt.Printf("  -> %s ready with %d sensors\n", u.SourceName, len(u.Sensors))
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   PollenWatch Demo                                    ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Sensors:  http://localhost:8080/api/sensors        ║")
	fmt.Println("  ║   Events:   http://localhost:8080/api/events         ║")
	fmt.Println("  ║   Metrics:  http://localhost:8080/metrics            ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Sources:                                            ║")
	fmt.Println("  ║   • Home (4 days, per-day D+1/D+2 sensors)            ║")
	fmt.Println("  ║   • Office (defaults)                                 ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Trigger a refresh:                                  ║")
	fmt.Println("  ║   curl -X POST localhost:8080/api/refresh             ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		slog.Error("pollenwatch error", "error", err)
		os.Exit(1)
	}
}
