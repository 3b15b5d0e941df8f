// Package window assembles per-patient feature windows: the most recent N
// readings, oldest to newest, with derived context features filled in.
package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/internal/store"
	"github.com/halcyon-care/cgm-platform/pkg/config"
	"github.com/halcyon-care/cgm-platform/pkg/redis"
)

// ErrInsufficientData indicates the patient does not yet have enough
// usable readings for a full feature window
var ErrInsufficientData = errors.New("window: insufficient data")

// TTL for cached readings, matching the 24h retention of the hot cache
const readingCacheTTL = 24 * time.Hour

// Manager builds feature windows from the Redis hot cache, falling back
// to the durable store when the cache is cold. Pure read path; the only
// write is CacheReading on the ingestion side.
type Manager struct {
	redis      redis.Client
	store      store.Store
	maxHistory int
	maxMissing float64
	lat, lon   float64
	logger     *slog.Logger
}

// NewManager creates a window manager with the given dependencies
func NewManager(redisClient redis.Client, st store.Store, cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		redis:      redisClient,
		store:      st,
		maxHistory: cfg.MaxReadingHistory,
		maxMissing: cfg.MaxMissingFraction,
		lat:        cfg.Latitude,
		lon:        cfg.Longitude,
		logger:     logger,
	}
}

// Window returns the patient's most recent size readings, oldest to
// newest, with derived features populated. Returns ErrInsufficientData
// when fewer than size readings exist or too many entries are missing
// required context features.
func (m *Manager) Window(ctx context.Context, patientID string, size int) ([]glucose.Reading, error) {
	if size < 1 {
		return nil, fmt.Errorf("window size must be at least 1, got %d", size)
	}

	readings, err := m.fromCache(ctx, patientID, size)
	if err != nil || len(readings) < size {
		// Cache miss or short cache: the store is authoritative
		readings, err = m.store.QueryReadings(ctx, patientID, size)
		if err != nil {
			return nil, fmt.Errorf("failed to load readings: %w", err)
		}
	}

	if len(readings) < size {
		return nil, fmt.Errorf("%w: have %d readings, need %d", ErrInsufficientData, len(readings), size)
	}
	readings = readings[len(readings)-size:]

	// The forecaster requires the time-derived features on every entry;
	// they can only be derived from a valid timestamp. Patient-reported
	// context (meal, exercise, stress) is optional and defaults to zero.
	missing := 0
	for i := range readings {
		if readings[i].Timestamp.IsZero() {
			missing++
			continue
		}
		DeriveFeatures(&readings[i], m.lat, m.lon)
	}
	if frac := float64(missing) / float64(size); frac > m.maxMissing {
		return nil, fmt.Errorf("%w: %d of %d entries missing required features", ErrInsufficientData, missing, size)
	}

	for i := 1; i < len(readings); i++ {
		if !readings[i].Timestamp.After(readings[i-1].Timestamp) {
			return nil, fmt.Errorf("window for %s not strictly increasing at index %d", patientID, i)
		}
	}

	return readings, nil
}

// CacheReading appends an accepted reading to the patient's hot cache,
// trimming the list to the configured history cap
func (m *Manager) CacheReading(ctx context.Context, r glucose.Reading) error {
	key := redis.ReadingsKey(r.PatientID)

	jsonData, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	if err := m.redis.LPush(ctx, key, jsonData); err != nil {
		return fmt.Errorf("failed to push reading to cache: %w", err)
	}
	if err := m.redis.LTrim(ctx, key, 0, int64(m.maxHistory-1)); err != nil {
		m.logger.Warn("Failed to trim reading cache", "patient_id", r.PatientID, "error", err)
	}
	if err := m.redis.Expire(ctx, key, readingCacheTTL); err != nil {
		m.logger.Warn("Failed to set TTL on reading cache", "patient_id", r.PatientID, "error", err)
	}

	metaKey := redis.PatientMetaKey(r.PatientID)
	if err := m.redis.HSet(ctx, metaKey, "last_reading", r.Timestamp.UTC().Format(time.RFC3339)); err != nil {
		m.logger.Warn("Failed to update patient metadata", "patient_id", r.PatientID, "error", err)
	}
	if err := m.redis.Expire(ctx, metaKey, readingCacheTTL); err != nil {
		m.logger.Warn("Failed to set TTL on patient metadata", "patient_id", r.PatientID, "error", err)
	}

	return nil
}

// fromCache loads up to size readings from Redis, returned oldest to
// newest. An error or short result triggers the store fallback.
func (m *Manager) fromCache(ctx context.Context, patientID string, size int) ([]glucose.Reading, error) {
	vals, err := m.redis.LRange(ctx, redis.ReadingsKey(patientID), 0, int64(size-1))
	if err != nil {
		m.logger.Debug("Reading cache unavailable, falling back to store",
			"patient_id", patientID, "error", err)
		return nil, err
	}

	// List is newest-first; reverse while decoding
	readings := make([]glucose.Reading, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var r glucose.Reading
		if err := json.Unmarshal([]byte(vals[i]), &r); err != nil {
			m.logger.Warn("Corrupt cache entry, falling back to store",
				"patient_id", patientID, "error", err)
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}
