// seed-demo publishes synthetic CGM readings for a demo patient over
// MQTT, backfilling a day of history and optionally continuing live.
// Useful for exercising the pipeline without a real sensor feed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/pkg/config"
	"github.com/halcyon-care/cgm-platform/pkg/mqtt"
)

type seededReading struct {
	Value     float64                 `json:"value"`
	Timestamp time.Time               `json:"timestamp"`
	Unit      string                  `json:"unit"`
	Source    string                  `json:"source"`
	Features  glucose.ContextFeatures `json:"features"`
}

func main() {
	var (
		patientID   string
		hours       int
		intervalMin int
		live        bool
		seed        int64
	)
	pflag.StringVar(&patientID, "patient", "demo-patient", "Patient ID to seed")
	pflag.IntVar(&hours, "hours", 24, "Hours of history to backfill")
	pflag.IntVar(&intervalMin, "interval-min", 5, "Minutes between readings")
	pflag.BoolVar(&live, "live", false, "Keep publishing readings in real time after backfill")
	pflag.Int64Var(&seed, "seed", 42, "Random seed for reproducible traces")

	cfg := config.NewConfig()
	cfg.ServiceName = "seed-demo"
	cfg.LoadFromEnv()
	cfg.LoadFromFlags()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	client := mqtt.NewClient(cfg, logger)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to MQTT: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	rng := rand.New(rand.NewSource(seed))
	topic := mqtt.RawReadingTopic(patientID)
	interval := time.Duration(intervalMin) * time.Minute

	steps := hours * 60 / intervalMin
	start := time.Now().UTC().Add(-time.Duration(steps) * interval)

	logger.Info("Backfilling demo readings",
		"patient_id", patientID,
		"readings", steps,
		"topic", topic)

	for i := 0; i < steps; i++ {
		ts := start.Add(time.Duration(i) * interval)
		r := generate(rng, ts)
		if err := publish(client, topic, ts, r); err != nil {
			fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
			os.Exit(1)
		}
		// small gap so the agent ingests in order
		time.Sleep(20 * time.Millisecond)
	}

	if !live {
		logger.Info("Backfill complete")
		return
	}

	logger.Info("Publishing live readings", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping")
			return
		case ts := <-ticker.C:
			r := generate(rng, ts.UTC())
			if err := publish(client, topic, ts.UTC(), r); err != nil {
				logger.Error("Publish failed", "error", err)
			}
		}
	}
}

// generate produces a plausible glucose value: a baseline with a gentle
// circadian dip at night, post-meal excursions and sensor noise
func generate(rng *rand.Rand, ts time.Time) seededReading {
	hour := float64(ts.Hour()) + float64(ts.Minute())/60

	value := 110.0
	value += -10 * math.Cos(2*math.Pi*(hour-4)/24)

	var meal float64
	for _, mealHour := range []float64{7.5, 12.5, 18.5} {
		since := hour - mealHour
		if since >= 0 && since < 2.5 {
			// rise, peak around 60-75 min, then decay
			value += 55 * math.Sin(math.Pi*since/2.5)
			if since < 0.5 {
				meal = 45
			}
		}
	}

	value += rng.NormFloat64() * 6
	value = glucose.Clamp(value)

	return seededReading{
		Value:     math.Round(value*10) / 10,
		Timestamp: ts,
		Unit:      "mg/dL",
		Source:    "seed-demo",
		Features: glucose.ContextFeatures{
			Meal: meal,
		},
	}
}

func publish(client mqtt.Client, topic string, ts time.Time, r seededReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return client.Publish(topic, 1, false, payload)
}
