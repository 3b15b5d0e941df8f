package forecast

import "github.com/halcyon-care/cgm-platform/internal/glucose"

// Scale maps a glucose value in mg/dL to [0,1] against the fixed
// physiological bounds. Fixed bounds keep the mapping identical across
// patients and across restarts, which per-window min-max would not.
func Scale(v float64) float64 {
	v = glucose.Clamp(v)
	return (v - glucose.MinValue) / (glucose.MaxValue - glucose.MinValue)
}

// Unscale maps a normalized value back to mg/dL, clamped to the
// physiological range
func Unscale(v float64) float64 {
	return glucose.Clamp(v*(glucose.MaxValue-glucose.MinValue) + glucose.MinValue)
}
