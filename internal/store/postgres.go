package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// uniqueViolation is the Postgres error code for a unique constraint hit
const uniqueViolation pq.ErrorCode = "23505"

// PostgresStore implements Store on a Postgres connection pool. Forecast
// rows carry the normalized input window as a pgvector column so similar
// historical episodes can be retrieved with a nearest-neighbour query.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed store
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// wrapDBErr maps driver-level failures to ErrUnavailable so callers can
// translate them to a service-unavailable condition
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// AppendReading persists a new reading. The staleness check and the
// insert run as one statement so concurrent appends for a patient
// cannot both pass the check; a duplicate timestamp racing past the
// guard trips the primary key and is reported as stale as well.
func (s *PostgresStore) AppendReading(ctx context.Context, r glucose.Reading) error {
	featuresJSON, err := json.Marshal(r.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal reading features: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO readings (patient_id, ts, value, unit, source, features)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM readings WHERE patient_id = $1 AND ts >= $2
		)
	`, r.PatientID, r.Timestamp, r.Value, r.Unit, r.Source, featuresJSON)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrStaleReading
		}
		return wrapDBErr("insert reading", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDBErr("insert reading", err)
	}
	if affected == 0 {
		return ErrStaleReading
	}

	s.logger.Debug("Reading stored",
		"patient_id", r.PatientID,
		"value", r.Value,
		"ts", r.Timestamp)

	return nil
}

// QueryReadings returns up to limit of the most recent readings, oldest first
func (s *PostgresStore) QueryReadings(ctx context.Context, patientID string, limit int) ([]glucose.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, ts, value, unit, source, features
		FROM (
			SELECT patient_id, ts, value, unit, source, features
			FROM readings
			WHERE patient_id = $1
			ORDER BY ts DESC
			LIMIT $2
		) recent
		ORDER BY ts ASC
	`, patientID, limit)
	if err != nil {
		return nil, wrapDBErr("query readings", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// QueryReadingsSince returns all readings at or after since, oldest first
func (s *PostgresStore) QueryReadingsSince(ctx context.Context, patientID string, since time.Time) ([]glucose.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, ts, value, unit, source, features
		FROM readings
		WHERE patient_id = $1 AND ts >= $2
		ORDER BY ts ASC
	`, patientID, since)
	if err != nil {
		return nil, wrapDBErr("query readings since", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]glucose.Reading, error) {
	var readings []glucose.Reading
	for rows.Next() {
		var r glucose.Reading
		var featuresJSON []byte
		if err := rows.Scan(&r.PatientID, &r.Timestamp, &r.Value, &r.Unit, &r.Source, &featuresJSON); err != nil {
			return nil, wrapDBErr("scan reading", err)
		}
		if len(featuresJSON) > 0 {
			if err := json.Unmarshal(featuresJSON, &r.Features); err != nil {
				return nil, fmt.Errorf("failed to unmarshal reading features: %w", err)
			}
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr("iterate readings", err)
	}
	return readings, nil
}

// PutForecast persists a forecast
func (s *PostgresStore) PutForecast(ctx context.Context, f *glucose.ForecastResult) error {
	pointsJSON, err := json.Marshal(f.Points)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast points: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forecasts (
			id, patient_id, anchor_time, horizon_steps,
			step_interval_sec, points, window_vec, generated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		f.ID,
		f.PatientID,
		f.AnchorTime,
		f.HorizonSteps,
		int(f.StepInterval.Seconds()),
		pointsJSON,
		f.WindowVector,
		f.GeneratedAt,
	)
	if err != nil {
		return wrapDBErr("insert forecast", err)
	}

	s.logger.Debug("Forecast stored",
		"patient_id", f.PatientID,
		"horizon_steps", f.HorizonSteps,
		"anchor_time", f.AnchorTime)

	return nil
}

// LatestForecast returns the most recently generated forecast
func (s *PostgresStore) LatestForecast(ctx context.Context, patientID string) (*glucose.ForecastResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, anchor_time, horizon_steps,
		       step_interval_sec, points, window_vec, generated_at
		FROM forecasts
		WHERE patient_id = $1
		ORDER BY generated_at DESC
		LIMIT 1
	`, patientID)

	return scanForecast(row)
}

// SimilarForecasts returns the nearest historical forecasts by window
// vector distance
func (s *PostgresStore) SimilarForecasts(ctx context.Context, patientID string, vec pgvector.Vector, limit int) ([]*glucose.ForecastResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, anchor_time, horizon_steps,
		       step_interval_sec, points, window_vec, generated_at
		FROM forecasts
		WHERE patient_id = $1
		ORDER BY window_vec <-> $2
		LIMIT $3
	`, patientID, vec, limit)
	if err != nil {
		return nil, wrapDBErr("query similar forecasts", err)
	}
	defer rows.Close()

	var forecasts []*glucose.ForecastResult
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		forecasts = append(forecasts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr("iterate forecasts", err)
	}
	return forecasts, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanForecast(row rowScanner) (*glucose.ForecastResult, error) {
	var f glucose.ForecastResult
	var stepIntervalSec int
	var pointsJSON []byte

	err := row.Scan(
		&f.ID,
		&f.PatientID,
		&f.AnchorTime,
		&f.HorizonSteps,
		&stepIntervalSec,
		&pointsJSON,
		&f.WindowVector,
		&f.GeneratedAt,
	)
	if err != nil {
		return nil, wrapDBErr("scan forecast", err)
	}

	f.StepInterval = time.Duration(stepIntervalSec) * time.Second
	if err := json.Unmarshal(pointsJSON, &f.Points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forecast points: %w", err)
	}
	return &f, nil
}

// PutAlert persists a new alert row
func (s *PostgresStore) PutAlert(ctx context.Context, a *glucose.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, patient_id, type, predicted_value, current_value,
			horizon_minutes, message, created_at, status, acknowledged
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		a.ID,
		a.PatientID,
		string(a.Type),
		a.PredictedValue,
		a.CurrentValue,
		a.HorizonMinutes,
		a.Message,
		a.CreatedAt,
		string(a.Status),
		a.Acknowledged,
	)
	if err != nil {
		return wrapDBErr("insert alert", err)
	}

	s.logger.Info("Alert stored",
		"alert_id", a.ID,
		"patient_id", a.PatientID,
		"type", a.Type,
		"predicted_value", a.PredictedValue)

	return nil
}

// RecentAlert returns the most recent alert of the given type created at
// or after since
func (s *PostgresStore) RecentAlert(ctx context.Context, patientID string, typ glucose.RiskLevel, since time.Time) (*glucose.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, type, predicted_value, current_value,
		       horizon_minutes, message, created_at, status, acknowledged
		FROM alerts
		WHERE patient_id = $1 AND type = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID, string(typ), since)

	return scanAlert(row)
}

// QueryAlerts returns the patient's alerts, newest first
func (s *PostgresStore) QueryAlerts(ctx context.Context, patientID string, activeOnly bool) ([]*glucose.Alert, error) {
	query := `
		SELECT id, patient_id, type, predicted_value, current_value,
		       horizon_minutes, message, created_at, status, acknowledged
		FROM alerts
		WHERE patient_id = $1
	`
	args := []interface{}{patientID}
	if activeOnly {
		query += ` AND status = $2`
		args = append(args, string(glucose.AlertActive))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("query alerts", err)
	}
	defer rows.Close()

	var alerts []*glucose.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr("iterate alerts", err)
	}
	return alerts, nil
}

func scanAlert(row rowScanner) (*glucose.Alert, error) {
	var a glucose.Alert
	var typ, status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&typ,
		&a.PredictedValue,
		&a.CurrentValue,
		&a.HorizonMinutes,
		&a.Message,
		&a.CreatedAt,
		&status,
		&a.Acknowledged,
	)
	if err != nil {
		return nil, wrapDBErr("scan alert", err)
	}

	a.Type = glucose.RiskLevel(typ)
	a.Status = glucose.AlertStatus(status)
	return &a, nil
}

// UpdateAlertStatus transitions an alert's status and acknowledged flag
func (s *PostgresStore) UpdateAlertStatus(ctx context.Context, patientID, alertID string, status glucose.AlertStatus, acknowledged bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET status = $1, acknowledged = $2
		WHERE id = $3 AND patient_id = $4
	`, string(status), acknowledged, alertID, patientID)
	if err != nil {
		return wrapDBErr("update alert status", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDBErr("update alert status", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("Alert status updated",
		"alert_id", alertID,
		"status", status,
		"acknowledged", acknowledged)

	return nil
}

// Ping tests the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}
