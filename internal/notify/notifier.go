// Package notify delivers alerts to outbound channels. Delivery is
// best-effort: a failed channel never rolls back the stored alert.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// Notifier delivers one alert to one channel
type Notifier interface {
	// Notify delivers the alert for the given patient
	Notify(ctx context.Context, profile *glucose.PatientProfile, a *glucose.Alert) error

	// Name identifies the channel in logs
	Name() string
}

// Fanout delivers to every configured channel and reports failures
// without stopping at the first one
type Fanout struct {
	channels []Notifier
	logger   *slog.Logger
}

// NewFanout creates a Fanout over the given channels
func NewFanout(logger *slog.Logger, channels ...Notifier) *Fanout {
	return &Fanout{
		channels: channels,
		logger:   logger.With("component", "notify"),
	}
}

// Notify delivers the alert to all channels, returning the joined errors
func (f *Fanout) Notify(ctx context.Context, profile *glucose.PatientProfile, a *glucose.Alert) error {
	var errs []error
	for _, ch := range f.channels {
		if err := ch.Notify(ctx, profile, a); err != nil {
			f.logger.Warn("Alert delivery failed",
				"channel", ch.Name(),
				"patient_id", a.PatientID,
				"alert_id", a.ID,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name identifies the channel in logs
func (f *Fanout) Name() string { return "fanout" }
