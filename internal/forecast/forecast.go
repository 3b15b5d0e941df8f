package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/internal/window"
)

// ErrAdaptationDiverged is returned when the inner adaptation loop
// produces a non-finite loss. The caller must not emit a forecast.
var ErrAdaptationDiverged = errors.New("forecast: adaptation diverged")

// Context features are carried forward into future inputs but decay to
// zero after these many steps, since a meal or workout stops driving
// glucose after a while.
const (
	mealDecaySteps   = 6
	stressDecaySteps = 4
	hypoDecaySteps   = 3
)

const defaultStepInterval = 5 * time.Minute

// Options configures a Forecaster
type Options struct {
	InnerSteps int
	InnerLR    float64
	Horizon    int
}

// Forecaster holds the shared base model and produces per-patient
// forecasts. The base is never mutated; each call adapts a clone.
type Forecaster struct {
	base   Model
	opts   Options
	logger *slog.Logger
}

// New creates a Forecaster around a base model
func New(base Model, opts Options, logger *slog.Logger) *Forecaster {
	if opts.InnerSteps <= 0 {
		opts.InnerSteps = 10
	}
	if opts.InnerLR <= 0 {
		opts.InnerLR = 0.01
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 12
	}
	return &Forecaster{
		base:   base,
		opts:   opts,
		logger: logger.With("component", "forecaster"),
	}
}

// Predict adapts a clone of the base model to the patient's recent window
// and rolls it forward over the configured horizon. The readings must be
// strictly increasing in time; the caller (the window manager) guarantees
// that.
func (f *Forecaster) Predict(ctx context.Context, patientID string, readings []glucose.Reading) (*glucose.ForecastResult, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("forecast: empty window for patient %s", patientID)
	}

	rows := window.Vector(readings)
	targets := make([]float64, len(rows))
	for i, row := range rows {
		row[0] = Scale(row[0])
		targets[i] = row[0]
	}

	adapted := f.base.Clone()
	for step := 0; step < f.opts.InnerSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loss := adapted.Step(rows, targets, f.opts.InnerLR)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			f.logger.Warn("Adaptation diverged",
				"patient_id", patientID,
				"step", step)
			return nil, ErrAdaptationDiverged
		}
	}

	future := futureInputs(rows[len(rows)-1], f.opts.Horizon)
	preds := adapted.Forward(future)

	anchor := readings[len(readings)-1].Timestamp
	interval := stepInterval(readings)

	result := &glucose.ForecastResult{
		ID:           uuid.New().String(),
		PatientID:    patientID,
		AnchorTime:   anchor,
		HorizonSteps: f.opts.Horizon,
		StepInterval: interval,
		Points:       make([]glucose.ForecastPoint, len(preds)),
		WindowVector: windowVector(targets),
		GeneratedAt:  time.Now().UTC(),
	}
	for i, p := range preds {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, ErrAdaptationDiverged
		}
		result.Points[i] = glucose.ForecastPoint{
			Timestamp: anchor.Add(time.Duration(i+1) * interval),
			Value:     Unscale(p),
		}
	}

	return result, nil
}

// futureInputs builds the horizon's input rows by carrying the last
// observed row forward with context decay
func futureInputs(last []float64, horizon int) [][]float64 {
	future := make([][]float64, horizon)
	for i := 0; i < horizon; i++ {
		row := make([]float64, len(last))
		copy(row, last)
		if i >= mealDecaySteps {
			row[1] = 0 // meal
			row[2] = 0 // exercise
		}
		if i >= stressDecaySteps {
			row[3] = 0
		}
		if i >= hypoDecaySteps {
			row[4] = 0
		}
		future[i] = row
	}
	return future
}

// stepInterval infers the sampling cadence from the last two readings,
// falling back to the nominal CGM interval
func stepInterval(readings []glucose.Reading) time.Duration {
	if len(readings) >= 2 {
		d := readings[len(readings)-1].Timestamp.Sub(readings[len(readings)-2].Timestamp)
		if d > 0 {
			return d
		}
	}
	return defaultStepInterval
}

// windowVector packs the normalized glucose trace into a vector for
// similarity search over past forecasts
func windowVector(targets []float64) pgvector.Vector {
	vals := make([]float32, len(targets))
	for i, t := range targets {
		vals[i] = float32(t)
	}
	return pgvector.NewVector(vals)
}
