package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// MemoryStore is a thread-safe in-memory Store used by tests and
// single-node demos.
type MemoryStore struct {
	mu        sync.RWMutex
	readings  map[string][]glucose.Reading
	forecasts map[string][]*glucose.ForecastResult
	alerts    map[string][]*glucose.Alert
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings:  make(map[string][]glucose.Reading),
		forecasts: make(map[string][]*glucose.ForecastResult),
		alerts:    make(map[string][]*glucose.Alert),
	}
}

// AppendReading persists a new reading
func (s *MemoryStore) AppendReading(ctx context.Context, r glucose.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.readings[r.PatientID]
	if n := len(existing); n > 0 && !r.Timestamp.After(existing[n-1].Timestamp) {
		return ErrStaleReading
	}
	s.readings[r.PatientID] = append(existing, r)
	return nil
}

// QueryReadings returns up to limit of the most recent readings, oldest first
func (s *MemoryStore) QueryReadings(ctx context.Context, patientID string, limit int) ([]glucose.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.readings[patientID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]glucose.Reading, len(all))
	copy(out, all)
	return out, nil
}

// QueryReadingsSince returns all readings at or after since, oldest first
func (s *MemoryStore) QueryReadingsSince(ctx context.Context, patientID string, since time.Time) ([]glucose.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.readings[patientID]
	idx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(since)
	})
	out := make([]glucose.Reading, len(all)-idx)
	copy(out, all[idx:])
	return out, nil
}

// PutForecast persists a forecast
func (s *MemoryStore) PutForecast(ctx context.Context, f *glucose.ForecastResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *f
	s.forecasts[f.PatientID] = append(s.forecasts[f.PatientID], &cp)
	return nil
}

// LatestForecast returns the most recently generated forecast
func (s *MemoryStore) LatestForecast(ctx context.Context, patientID string) (*glucose.ForecastResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.forecasts[patientID]
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	latest := all[0]
	for _, f := range all[1:] {
		if f.GeneratedAt.After(latest.GeneratedAt) {
			latest = f
		}
	}
	cp := *latest
	return &cp, nil
}

// SimilarForecasts returns the nearest historical forecasts by cosine
// distance between window vectors
func (s *MemoryStore) SimilarForecasts(ctx context.Context, patientID string, vec pgvector.Vector, limit int) ([]*glucose.ForecastResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		f    *glucose.ForecastResult
		dist float64
	}

	var candidates []scored
	for _, f := range s.forecasts[patientID] {
		candidates = append(candidates, scored{f: f, dist: cosineDist(f.WindowVector, vec)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*glucose.ForecastResult, len(candidates))
	for i, c := range candidates {
		cp := *c.f
		out[i] = &cp
	}
	return out, nil
}

// PutAlert persists a new alert row
func (s *MemoryStore) PutAlert(ctx context.Context, a *glucose.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.alerts[a.PatientID] = append(s.alerts[a.PatientID], &cp)
	return nil
}

// RecentAlert returns the most recent alert of the given type created at
// or after since
func (s *MemoryStore) RecentAlert(ctx context.Context, patientID string, typ glucose.RiskLevel, since time.Time) (*glucose.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recent *glucose.Alert
	for _, a := range s.alerts[patientID] {
		if a.Type != typ || a.CreatedAt.Before(since) {
			continue
		}
		if recent == nil || a.CreatedAt.After(recent.CreatedAt) {
			recent = a
		}
	}
	if recent == nil {
		return nil, ErrNotFound
	}
	cp := *recent
	return &cp, nil
}

// QueryAlerts returns the patient's alerts, newest first
func (s *MemoryStore) QueryAlerts(ctx context.Context, patientID string, activeOnly bool) ([]*glucose.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*glucose.Alert
	for _, a := range s.alerts[patientID] {
		if activeOnly && a.Status != glucose.AlertActive {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateAlertStatus transitions an alert's status and acknowledged flag
func (s *MemoryStore) UpdateAlertStatus(ctx context.Context, patientID, alertID string, status glucose.AlertStatus, acknowledged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts[patientID] {
		if a.ID == alertID {
			a.Status = status
			a.Acknowledged = acknowledged
			return nil
		}
	}
	return ErrNotFound
}

// Ping always succeeds for the in-memory backend
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// cosineDist computes cosine distance between two vectors; mismatched or
// zero-length vectors are treated as maximally distant
func cosineDist(v1, v2 pgvector.Vector) float64 {
	s1 := v1.Slice()
	s2 := v2.Slice()
	if len(s1) == 0 || len(s1) != len(s2) {
		return 1.0
	}

	var dot, norm1, norm2 float64
	for i := range s1 {
		dot += float64(s1[i]) * float64(s2[i])
		norm1 += float64(s1[i]) * float64(s1[i])
		norm2 += float64(s2[i]) * float64(s2[i])
	}
	if norm1 == 0 || norm2 == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(norm1)*math.Sqrt(norm2))
}
