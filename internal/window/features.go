package window

import (
	"math"

	"github.com/sixdouglas/suncalc"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// Conventional meal hours used for the IsMealTime marker
var mealHours = map[int]bool{
	7: true, 8: true,
	12: true, 13: true,
	18: true, 19: true,
}

// DeriveFeatures fills the time-derived context features in place when
// the source left them unset. Hour is scaled to [0,1); IsNight comes
// from the sun's altitude at the configured coordinates rather than a
// fixed clock window, so it tracks the seasons.
func DeriveFeatures(r *glucose.Reading, lat, lon float64) {
	f := &r.Features

	if f.Hour == 0 {
		f.Hour = float64(r.Timestamp.Hour()) / 24.0
	}
	if f.IsNight == 0 && isNight(r, lat, lon) {
		f.IsNight = 1
	}
	if f.IsMealTime == 0 && mealHours[r.Timestamp.Hour()] {
		f.IsMealTime = 1
	}
}

func isNight(r *glucose.Reading, lat, lon float64) bool {
	position := suncalc.GetPosition(r.Timestamp, lat, lon)
	altitudeDegrees := position.Altitude * (180.0 / math.Pi)
	return altitudeDegrees <= 0
}

// Vector flattens a window into the forecaster's per-step input rows:
// [glucose, meal, exercise, stress, hypo_event, hour, is_night, is_meal_time].
// The glucose column is raw mg/dL; the forecaster normalizes it.
func Vector(readings []glucose.Reading) [][]float64 {
	rows := make([][]float64, len(readings))
	for i, r := range readings {
		rows[i] = []float64{
			r.Value,
			r.Features.Meal,
			r.Features.Exercise,
			r.Features.Stress,
			r.Features.HypoEvent,
			r.Features.Hour,
			r.Features.IsNight,
			r.Features.IsMealTime,
		}
	}
	return rows
}
