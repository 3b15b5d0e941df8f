// Package risk classifies forecast trajectories against a patient's
// target range.
package risk

import (
	"time"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// Assessment is the outcome of judging one forecast
type Assessment struct {
	Level          glucose.RiskLevel
	PredictedValue float64
	LeadTime       time.Duration
}

// Classify judges the forecast point at the evaluation lead time against
// the patient's target range. Bounds are inclusive: a value exactly on
// either bound is in range.
func Classify(forecast *glucose.ForecastResult, target glucose.TargetRange, lead time.Duration) Assessment {
	point := forecast.PointAt(lead)

	a := Assessment{
		Level:          glucose.RiskNone,
		PredictedValue: point.Value,
		LeadTime:       lead,
	}
	switch {
	case point.Value < target.Min:
		a.Level = glucose.RiskLow
	case point.Value > target.Max:
		a.Level = glucose.RiskHigh
	}
	return a
}
