package glucose

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Physiological validity bounds in mg/dL. Readings and forecasts are
// clamped to this range; the forecaster also uses it as the fixed
// normalization scale so values are comparable across patients.
const (
	MinValue = 40.0
	MaxValue = 300.0
)

// Clamp limits a glucose value to the physiological valid range
func Clamp(v float64) float64 {
	if v < MinValue {
		return MinValue
	}
	if v > MaxValue {
		return MaxValue
	}
	return v
}

// ContextFeatures carries the contextual model inputs attached to a reading.
// Meal and Exercise are amounts, Stress and HypoEvent are scores/flags as
// reported by the patient app. Hour, IsNight and IsMealTime are derived at
// window-assembly time when the source left them zero.
type ContextFeatures struct {
	Meal       float64 `json:"meal"`
	Exercise   float64 `json:"exercise"`
	Stress     float64 `json:"stress"`
	HypoEvent  float64 `json:"hypo_event"`
	Hour       float64 `json:"hour"`
	IsNight    float64 `json:"is_night"`
	IsMealTime float64 `json:"is_meal_time"`
}

// Reading is a single CGM measurement. Immutable once stored; ordered by
// timestamp, which is unique per patient.
type Reading struct {
	PatientID string          `json:"patient_id"`
	Timestamp time.Time       `json:"timestamp"`
	Value     float64         `json:"value"`
	Unit      string          `json:"unit"`
	Source    string          `json:"source"`
	Features  ContextFeatures `json:"features"`
}

// TargetRange is a patient's target glucose band, bounds inclusive
type TargetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the range, bounds inclusive
func (r TargetRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// RiskLevel is the categorical risk judgment for a forecast
type RiskLevel string

const (
	RiskNone RiskLevel = "none"
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// ForecastPoint is one predicted value at a future timestamp
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ForecastResult is a multi-step trajectory anchored at the last real
// reading. A new forecast for the same patient supersedes the previous one.
type ForecastResult struct {
	ID           string          `json:"id"`
	PatientID    string          `json:"patient_id"`
	AnchorTime   time.Time       `json:"anchor_time"`
	HorizonSteps int             `json:"horizon_steps"`
	StepInterval time.Duration   `json:"step_interval"`
	Points       []ForecastPoint `json:"points"`
	WindowVector pgvector.Vector `json:"-"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// PointAt returns the forecast point closest to the given lead time,
// or the last point when the horizon is shorter
func (f *ForecastResult) PointAt(lead time.Duration) ForecastPoint {
	if len(f.Points) == 0 {
		return ForecastPoint{}
	}
	if f.StepInterval <= 0 {
		return f.Points[len(f.Points)-1]
	}
	idx := int(lead/f.StepInterval) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(f.Points) {
		idx = len(f.Points) - 1
	}
	return f.Points[idx]
}

// PatientProfile is the directory's view of one patient. Read-only to
// the forecasting core.
type PatientProfile struct {
	ID             string      `json:"id" yaml:"id"`
	Name           string      `json:"name" yaml:"name"`
	TargetRange    TargetRange `json:"target_range" yaml:"target_range"`
	ClinicianID    string      `json:"clinician_id" yaml:"clinician_id"`
	ClinicianName  string      `json:"clinician_name" yaml:"clinician_name"`
	Email          string      `json:"email" yaml:"email"`
	ClinicianEmail string      `json:"clinician_email" yaml:"clinician_email"`
	TelegramChatID string      `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id"`
}

// AlertStatus is the lifecycle state of an alert. Alerts are never
// deleted, only status-transitioned.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is a de-duplicated risk notification row
type Alert struct {
	ID             string      `json:"id"`
	PatientID      string      `json:"patient_id"`
	Type           RiskLevel   `json:"type"`
	PredictedValue float64     `json:"predicted_value"`
	CurrentValue   float64     `json:"current_value"`
	HorizonMinutes int         `json:"horizon_minutes"`
	Message        string      `json:"message"`
	CreatedAt      time.Time   `json:"created_at"`
	Status         AlertStatus `json:"status"`
	Acknowledged   bool        `json:"acknowledged"`
}
