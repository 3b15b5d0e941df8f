package window

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/internal/store"
	"github.com/halcyon-care/cgm-platform/pkg/config"
	"github.com/halcyon-care/cgm-platform/pkg/redis"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := config.NewConfig()
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = port
	cfg.MaxReadingHistory = 288
	cfg.MaxMissingFraction = 0.25

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemoryStore()
	return NewManager(redis.NewClient(cfg, logger), st, cfg, logger), st
}

func seedReadings(start time.Time, n int) []glucose.Reading {
	readings := make([]glucose.Reading, n)
	for i := 0; i < n; i++ {
		readings[i] = glucose.Reading{
			PatientID: "patient-1",
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Value:     100 + float64(i),
			Unit:      "mg/dL",
		}
	}
	return readings
}

func TestWindowFromCache(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, r := range seedReadings(start, 15) {
		require.NoError(t, m.CacheReading(ctx, r))
	}

	window, err := m.Window(ctx, "patient-1", 12)
	require.NoError(t, err)
	require.Len(t, window, 12)

	// oldest to newest, the 12 most recent of the 15 cached
	assert.Equal(t, 103.0, window[0].Value)
	assert.Equal(t, 114.0, window[11].Value)
	for i := 1; i < len(window); i++ {
		assert.True(t, window[i].Timestamp.After(window[i-1].Timestamp))
	}

	// time-derived features are populated
	for _, r := range window {
		assert.Greater(t, r.Features.Hour, 0.0)
	}
}

func TestWindowStoreFallback(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, r := range seedReadings(start, 12) {
		require.NoError(t, st.AppendReading(ctx, r))
	}

	window, err := m.Window(ctx, "patient-1", 12)
	require.NoError(t, err)
	require.Len(t, window, 12)
	assert.Equal(t, 100.0, window[0].Value)
	assert.Equal(t, 111.0, window[11].Value)
}

func TestWindowInsufficientData(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, r := range seedReadings(start, 11) {
		require.NoError(t, st.AppendReading(ctx, r))
	}

	_, err := m.Window(ctx, "patient-1", 12)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestWindowNoData(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Window(context.Background(), "nobody", 12)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCacheReadingTrimsHistory(t *testing.T) {
	m, _ := newTestManager(t)
	m.maxHistory = 10
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, r := range seedReadings(start, 25) {
		require.NoError(t, m.CacheReading(ctx, r))
	}

	n, err := m.redis.LLen(ctx, redis.ReadingsKey("patient-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestDeriveFeatures(t *testing.T) {
	// 03:00 UTC is around local noon in Seoul, 15:00 UTC around midnight
	seoulLat, seoulLon := 37.5665, 126.978

	day := glucose.Reading{Timestamp: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)}
	DeriveFeatures(&day, seoulLat, seoulLon)
	assert.InDelta(t, 3.0/24.0, day.Features.Hour, 1e-9)
	assert.Equal(t, 0.0, day.Features.IsNight)
	assert.Equal(t, 0.0, day.Features.IsMealTime)

	night := glucose.Reading{Timestamp: time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)}
	DeriveFeatures(&night, seoulLat, seoulLon)
	assert.Equal(t, 1.0, night.Features.IsNight)

	meal := glucose.Reading{Timestamp: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)}
	DeriveFeatures(&meal, seoulLat, seoulLon)
	assert.Equal(t, 1.0, meal.Features.IsMealTime)

	// already-set features are left alone
	preset := glucose.Reading{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Features:  glucose.ContextFeatures{Hour: 0.75},
	}
	DeriveFeatures(&preset, seoulLat, seoulLon)
	assert.Equal(t, 0.75, preset.Features.Hour)
}

func TestVector(t *testing.T) {
	readings := []glucose.Reading{
		{
			Value: 120,
			Features: glucose.ContextFeatures{
				Meal: 45, Exercise: 30, Stress: 3, HypoEvent: 1,
				Hour: 0.5, IsNight: 0, IsMealTime: 1,
			},
		},
	}

	rows := Vector(readings)
	require.Len(t, rows, 1)
	assert.Equal(t, []float64{120, 45, 30, 3, 1, 0.5, 0, 1}, rows[0])
}
