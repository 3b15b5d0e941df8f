// Package store defines the durable persistence boundary for readings,
// forecasts and alerts, with a Postgres backend for production and an
// in-memory backend for tests and single-node demos.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

var (
	// ErrNotFound indicates the requested row does not exist
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable indicates the backend cannot be reached; callers
	// surface this as a service-unavailable condition and retry later
	ErrUnavailable = errors.New("store: unavailable")

	// ErrStaleReading indicates an appended reading does not advance the
	// patient's timeline (timestamps are unique and strictly increasing)
	ErrStaleReading = errors.New("store: reading timestamp not after latest")
)

// Store is the durable persistence interface consumed by the pipeline
// and the HTTP API.
type Store interface {
	// AppendReading persists a new reading. The reading's timestamp must be
	// strictly greater than the patient's latest stored timestamp.
	AppendReading(ctx context.Context, r glucose.Reading) error

	// QueryReadings returns up to limit of the patient's most recent
	// readings, ordered oldest to newest.
	QueryReadings(ctx context.Context, patientID string, limit int) ([]glucose.Reading, error)

	// QueryReadingsSince returns all readings at or after since, ordered
	// oldest to newest.
	QueryReadingsSince(ctx context.Context, patientID string, since time.Time) ([]glucose.Reading, error)

	// PutForecast persists a forecast; the newest forecast supersedes
	// earlier ones for the same patient.
	PutForecast(ctx context.Context, f *glucose.ForecastResult) error

	// LatestForecast returns the most recently generated forecast for a
	// patient, or ErrNotFound.
	LatestForecast(ctx context.Context, patientID string) (*glucose.ForecastResult, error)

	// SimilarForecasts returns up to limit historical forecasts for the
	// patient whose input window vectors are nearest to vec.
	SimilarForecasts(ctx context.Context, patientID string, vec pgvector.Vector, limit int) ([]*glucose.ForecastResult, error)

	// PutAlert persists a new alert row.
	PutAlert(ctx context.Context, a *glucose.Alert) error

	// RecentAlert returns the most recent alert of the given type for the
	// patient created at or after since, or ErrNotFound. This single query
	// is the source of truth for cool-down suppression.
	RecentAlert(ctx context.Context, patientID string, typ glucose.RiskLevel, since time.Time) (*glucose.Alert, error)

	// QueryAlerts returns the patient's alerts, newest first, optionally
	// restricted to status active.
	QueryAlerts(ctx context.Context, patientID string, activeOnly bool) ([]*glucose.Alert, error)

	// UpdateAlertStatus transitions an alert's status and acknowledged
	// flag; ErrNotFound when the alert does not exist.
	UpdateAlertStatus(ctx context.Context, patientID, alertID string, status glucose.AlertStatus, acknowledged bool) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
