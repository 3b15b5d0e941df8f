package glucose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"below minimum", 20, 40},
		{"at minimum", 40, 40},
		{"normal value", 110, 110},
		{"at maximum", 300, 300},
		{"above maximum", 450, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clamp(tt.input))
		})
	}
}

func TestTargetRangeContains(t *testing.T) {
	r := TargetRange{Min: 70, Max: 180}

	assert.True(t, r.Contains(70), "lower bound is inclusive")
	assert.True(t, r.Contains(180), "upper bound is inclusive")
	assert.True(t, r.Contains(110))
	assert.False(t, r.Contains(69.9))
	assert.False(t, r.Contains(180.1))
}

func TestForecastPointAt(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &ForecastResult{
		AnchorTime:   anchor,
		HorizonSteps: 4,
		StepInterval: 5 * time.Minute,
		Points: []ForecastPoint{
			{Timestamp: anchor.Add(5 * time.Minute), Value: 100},
			{Timestamp: anchor.Add(10 * time.Minute), Value: 95},
			{Timestamp: anchor.Add(15 * time.Minute), Value: 90},
			{Timestamp: anchor.Add(20 * time.Minute), Value: 85},
		},
	}

	assert.Equal(t, 100.0, f.PointAt(5*time.Minute).Value)
	assert.Equal(t, 90.0, f.PointAt(15*time.Minute).Value)
	// leads beyond the horizon resolve to the last point
	assert.Equal(t, 85.0, f.PointAt(60*time.Minute).Value)
	// leads shorter than one step resolve to the first point
	assert.Equal(t, 100.0, f.PointAt(time.Minute).Value)
}

func TestForecastPointAtEmpty(t *testing.T) {
	f := &ForecastResult{}
	assert.Equal(t, ForecastPoint{}, f.PointAt(30*time.Minute))
}
