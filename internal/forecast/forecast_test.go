package forecast

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeReadings(start time.Time, interval time.Duration, values []float64) []glucose.Reading {
	readings := make([]glucose.Reading, len(values))
	for i, v := range values {
		readings[i] = glucose.Reading{
			PatientID: "patient-1",
			Timestamp: start.Add(time.Duration(i) * interval),
			Value:     v,
			Unit:      "mg/dL",
		}
	}
	return readings
}

func TestScaleUnscale(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		scaled float64
	}{
		{"minimum", 40, 0},
		{"maximum", 300, 1},
		{"midpoint", 170, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.scaled, Scale(tt.value), 1e-9)
			assert.InDelta(t, tt.value, Unscale(tt.scaled), 1e-9)
		})
	}

	// out-of-range values clamp rather than extrapolate
	assert.Equal(t, 0.0, Scale(10))
	assert.Equal(t, 1.0, Scale(500))
	assert.Equal(t, glucose.MinValue, Unscale(-0.5))
	assert.Equal(t, glucose.MaxValue, Unscale(1.5))
}

func TestSeqNetStepReducesLoss(t *testing.T) {
	net := NewSeqNet(16, 7)

	seq := make([][]float64, 12)
	targets := make([]float64, 12)
	for i := range seq {
		seq[i] = []float64{0.3 + float64(i)*0.01, 0, 0, 0, 0, 0.5, 0, 0}
		targets[i] = seq[i][0]
	}

	first := net.Step(seq, targets, 0.01)
	var last float64
	for i := 0; i < 50; i++ {
		last = net.Step(seq, targets, 0.01)
	}
	assert.Less(t, last, first, "training on a fixed sequence should reduce loss")
}

func TestSeqNetCloneIsIndependent(t *testing.T) {
	base := NewSeqNet(8, 1)
	before := base.Forward([][]float64{{0.5, 0, 0, 0, 0, 0.5, 0, 0}})[0]

	clone := base.Clone()
	seq := [][]float64{{0.5, 0, 0, 0, 0, 0.5, 0, 0}}
	for i := 0; i < 25; i++ {
		clone.Step(seq, []float64{0.9}, 0.1)
	}

	after := base.Forward([][]float64{{0.5, 0, 0, 0, 0, 0.5, 0, 0}})[0]
	assert.Equal(t, before, after, "training a clone must not mutate the base")

	cloneOut := clone.Forward(seq)[0]
	assert.NotEqual(t, before, cloneOut)
}

func TestTrendModelExtrapolates(t *testing.T) {
	m := NewTrendModel()

	// a perfectly linear falling trace
	targets := []float64{0.50, 0.48, 0.46, 0.44, 0.42}
	loss := m.Step(nil, targets, 0)
	assert.InDelta(t, 0, loss, 1e-9, "linear trace fits with zero residual")

	out := m.Forward(make([][]float64, 3))
	require.Len(t, out, 3)
	assert.InDelta(t, 0.40, out[0], 1e-9)
	assert.InDelta(t, 0.38, out[1], 1e-9)
	assert.InDelta(t, 0.36, out[2], 1e-9)
}

func TestPredictFallingTrace(t *testing.T) {
	f := New(NewTrendModel(), Options{InnerSteps: 1, Horizon: 6}, testLogger())

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	values := []float64{145, 140, 135, 130, 125, 120, 115, 110, 105, 100, 95, 90}
	readings := makeReadings(start, 5*time.Minute, values)

	result, err := f.Predict(context.Background(), "patient-1", readings)
	require.NoError(t, err)

	assert.Equal(t, "patient-1", result.PatientID)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, readings[11].Timestamp, result.AnchorTime)
	assert.Equal(t, 5*time.Minute, result.StepInterval)
	require.Len(t, result.Points, 6)

	// the falling trend continues into the forecast
	for i, p := range result.Points {
		assert.Less(t, p.Value, 90.0, "point %d should continue below the anchor", i)
		assert.GreaterOrEqual(t, p.Value, glucose.MinValue)
		assert.LessOrEqual(t, p.Value, glucose.MaxValue)
		assert.Equal(t, result.AnchorTime.Add(time.Duration(i+1)*5*time.Minute), p.Timestamp)
	}
	assert.Greater(t, result.Points[0].Value, result.Points[5].Value)

	// window vector carries one normalized value per input reading
	assert.Len(t, result.WindowVector.Slice(), len(readings))
}

func TestPredictStepIntervalFallback(t *testing.T) {
	f := New(NewTrendModel(), Options{InnerSteps: 1, Horizon: 2}, testLogger())

	readings := makeReadings(time.Now().UTC(), 5*time.Minute, []float64{100})
	result, err := f.Predict(context.Background(), "patient-1", readings)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, result.StepInterval)
}

func TestPredictEmptyWindow(t *testing.T) {
	f := New(NewTrendModel(), Options{}, testLogger())
	_, err := f.Predict(context.Background(), "patient-1", nil)
	assert.Error(t, err)
}

// divergentModel always reports a NaN loss
type divergentModel struct{}

func (divergentModel) Forward(seq [][]float64) []float64 { return make([]float64, len(seq)) }
func (divergentModel) Step(seq [][]float64, targets []float64, lr float64) float64 {
	return math.NaN()
}
func (d divergentModel) Clone() Model { return d }

func TestPredictAdaptationDiverged(t *testing.T) {
	f := New(divergentModel{}, Options{InnerSteps: 3, Horizon: 6}, testLogger())

	readings := makeReadings(time.Now().UTC(), 5*time.Minute, []float64{100, 101, 102})
	_, err := f.Predict(context.Background(), "patient-1", readings)
	assert.ErrorIs(t, err, ErrAdaptationDiverged)
}

func TestFutureInputsDecay(t *testing.T) {
	last := []float64{0.5, 45, 30, 3, 1, 0.5, 0, 1}
	future := futureInputs(last, 8)
	require.Len(t, future, 8)

	// carried forward unchanged at first
	assert.Equal(t, 45.0, future[0][1], "meal carries forward")
	assert.Equal(t, 3.0, future[0][3], "stress carries forward")
	assert.Equal(t, 1.0, future[0][4], "hypo flag carries forward")

	// hypo decays first, then stress, then meal and exercise
	assert.Equal(t, 1.0, future[2][4])
	assert.Equal(t, 0.0, future[3][4])
	assert.Equal(t, 3.0, future[3][3])
	assert.Equal(t, 0.0, future[4][3])
	assert.Equal(t, 45.0, future[5][1])
	assert.Equal(t, 0.0, future[6][1])
	assert.Equal(t, 0.0, future[6][2])

	// glucose and time features never decay
	assert.Equal(t, 0.5, future[7][0])
	assert.Equal(t, 0.5, future[7][5])
}

func TestWeightsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")

	original := NewSeqNet(4, 99)
	require.NoError(t, SaveWeights(path, original))

	loaded, err := LoadWeights(path)
	require.NoError(t, err)

	assert.Equal(t, original.Hidden, loaded.Hidden)
	assert.Equal(t, original.W1, loaded.W1)
	assert.Equal(t, original.B1, loaded.B1)
	assert.Equal(t, original.W2, loaded.W2)
	assert.Equal(t, original.B2, loaded.B2)

	in := [][]float64{{0.4, 0, 0, 0, 0, 0.3, 1, 0}}
	assert.Equal(t, original.Forward(in), loaded.Forward(in))
}

func TestLoadWeightsErrors(t *testing.T) {
	_, err := LoadWeights(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("hidden: 2\nw1: [[1]]\n"), 0o644))
	_, err = LoadWeights(bad)
	assert.Error(t, err)
}
