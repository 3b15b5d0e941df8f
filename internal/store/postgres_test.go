package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewPostgresStore(db, logger), mock
}

func TestPostgresAppendReading(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO readings`).
		WithArgs("patient-1", ts, 105.0, "mg/dL", "sensor", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendReading(context.Background(), glucose.Reading{
		PatientID: "patient-1",
		Timestamp: ts,
		Value:     105,
		Unit:      "mg/dL",
		Source:    "sensor",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendReadingStale(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	// a newer stored reading means the conditional insert matches no rows
	mock.ExpectExec(`INSERT INTO readings`).
		WithArgs("patient-1", ts, 105.0, "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.AppendReading(context.Background(), glucose.Reading{
		PatientID: "patient-1",
		Timestamp: ts,
		Value:     105,
	})
	assert.ErrorIs(t, err, ErrStaleReading)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendReadingDuplicateRace(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	// two appends racing the existence check: the loser hits the
	// primary key and is reported as stale, not unavailable
	mock.ExpectExec(`INSERT INTO readings`).
		WithArgs("patient-1", ts, 105.0, "", "", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.AppendReading(context.Background(), glucose.Reading{
		PatientID: "patient-1",
		Timestamp: ts,
		Value:     105,
	})
	assert.ErrorIs(t, err, ErrStaleReading)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLatestForecastNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, patient_id, anchor_time`).
		WithArgs("patient-1").
		WillReturnError(sql.ErrNoRows)

	_, err := s.LatestForecast(context.Background(), "patient-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentAlert(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	since := created.Add(-10 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "type", "predicted_value", "current_value",
		"horizon_minutes", "message", "created_at", "status", "acknowledged",
	}).AddRow("a-1", "patient-1", "low", 60.0, 90.0, 30, "msg", created, "active", false)

	mock.ExpectQuery(`SELECT id, patient_id, type`).
		WithArgs("patient-1", "low", since).
		WillReturnRows(rows)

	a, err := s.RecentAlert(context.Background(), "patient-1", glucose.RiskLow, since)
	require.NoError(t, err)
	assert.Equal(t, "a-1", a.ID)
	assert.Equal(t, glucose.RiskLow, a.Type)
	assert.Equal(t, glucose.AlertActive, a.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentAlertNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, patient_id, type`).
		WithArgs("patient-1", "high", since).
		WillReturnError(sql.ErrNoRows)

	_, err := s.RecentAlert(context.Background(), "patient-1", glucose.RiskHigh, since)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateAlertStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE alerts`).
		WithArgs("acknowledged", true, "a-1", "patient-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateAlertStatus(context.Background(), "patient-1", "a-1", glucose.AlertAcknowledged, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateAlertStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE alerts`).
		WithArgs("resolved", false, "missing", "patient-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateAlertStatus(context.Background(), "patient-1", "missing", glucose.AlertResolved, false)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUnavailable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT patient_id, ts, value`).
		WithArgs("patient-1", 12).
		WillReturnError(sql.ErrConnDone)

	_, err := s.QueryReadings(context.Background(), "patient-1", 12)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
