package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// PostgresDirectory reads patient profiles from the patients table
type PostgresDirectory struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresDirectory creates a Postgres-backed directory
func NewPostgresDirectory(db *sql.DB, logger *slog.Logger) *PostgresDirectory {
	return &PostgresDirectory{
		db:     db,
		logger: logger,
	}
}

// Profile returns the profile for a patient, or ErrNotFound
func (d *PostgresDirectory) Profile(ctx context.Context, patientID string) (*glucose.PatientProfile, error) {
	var p glucose.PatientProfile
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, target_min, target_max, clinician_id,
		       clinician_name, email, clinician_email, telegram_chat_id
		FROM patients
		WHERE id = $1 AND active
	`, patientID).Scan(
		&p.ID,
		&p.Name,
		&p.TargetRange.Min,
		&p.TargetRange.Max,
		&p.ClinicianID,
		&p.ClinicianName,
		&p.Email,
		&p.ClinicianEmail,
		&p.TelegramChatID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query patient profile: %w", err)
	}
	return &p, nil
}

// ActivePatients returns the IDs of all active patients
func (d *PostgresDirectory) ActivePatients(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM patients WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active patients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}
	return ids, nil
}
