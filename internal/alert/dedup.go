// Package alert turns risk assessments into persisted, de-duplicated
// alerts. Suppression is keyed per patient and risk type: a fresh low
// alert never silences a high alert and vice versa.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/internal/risk"
	"github.com/halcyon-care/cgm-platform/internal/store"
)

// Deduplicator creates alerts unless an alert of the same type for the
// same patient was created within the cool-down window
type Deduplicator struct {
	store    store.Store
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeduplicator creates a Deduplicator with the given cool-down
func NewDeduplicator(s store.Store, cooldown time.Duration, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		store:    s,
		cooldown: cooldown,
		logger:   logger.With("component", "alert"),
		now:      time.Now,
	}
}

// Process evaluates an assessment and persists a new alert when one is
// warranted. Returns nil, nil when the level is none or a same-type
// alert is still inside the cool-down window.
func (d *Deduplicator) Process(ctx context.Context, patientID string, current float64, a risk.Assessment) (*glucose.Alert, error) {
	if a.Level == glucose.RiskNone {
		return nil, nil
	}

	now := d.now().UTC()
	since := now.Add(-d.cooldown)

	prev, err := d.store.RecentAlert(ctx, patientID, a.Level, since)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check recent alerts: %w", err)
	}
	if prev != nil {
		d.logger.Debug("Alert suppressed by cool-down",
			"patient_id", patientID,
			"type", a.Level,
			"previous_alert", prev.ID)
		return nil, nil
	}

	minutes := int(a.LeadTime / time.Minute)
	out := &glucose.Alert{
		ID:             uuid.New().String(),
		PatientID:      patientID,
		Type:           a.Level,
		PredictedValue: a.PredictedValue,
		CurrentValue:   current,
		HorizonMinutes: minutes,
		Message:        message(a.Level, a.PredictedValue, minutes),
		CreatedAt:      now,
		Status:         glucose.AlertActive,
	}

	if err := d.store.PutAlert(ctx, out); err != nil {
		return nil, fmt.Errorf("failed to persist alert: %w", err)
	}

	d.logger.Info("Alert created",
		"patient_id", patientID,
		"type", out.Type,
		"predicted_value", out.PredictedValue,
		"horizon_minutes", out.HorizonMinutes)

	return out, nil
}

func message(level glucose.RiskLevel, predicted float64, minutes int) string {
	switch level {
	case glucose.RiskLow:
		return fmt.Sprintf(
			"Glucose predicted to drop to %.0f mg/dL within %d minutes. Take 15-20g of fast-acting carbohydrate.",
			predicted, minutes)
	case glucose.RiskHigh:
		return fmt.Sprintf(
			"Glucose predicted to rise to %.0f mg/dL within %d minutes. Check for missed insulin and consult your clinician if it persists.",
			predicted, minutes)
	}
	return ""
}
