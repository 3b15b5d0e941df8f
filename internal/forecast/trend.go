package forecast

// TrendModel is a deterministic linear-trend regressor. It serves as a
// fallback base model when no trained weights are available, and as a
// predictable double in tests. Step fits a least-squares line through
// the target sequence; Forward extrapolates that line.
type TrendModel struct {
	slope float64
	last  float64
	fit   bool
}

// NewTrendModel returns an unfitted trend model. Until Step is called
// it predicts flat at mid-scale.
func NewTrendModel() *TrendModel {
	return &TrendModel{last: 0.5}
}

// Forward extrapolates the fitted line one step per input row
func (m *TrendModel) Forward(seq [][]float64) []float64 {
	out := make([]float64, len(seq))
	for i := range seq {
		out[i] = m.last + m.slope*float64(i+1)
	}
	return out
}

// Step fits a least-squares line through the targets. The model ignores
// the inputs and the learning rate; a single call converges.
func (m *TrendModel) Step(seq [][]float64, targets []float64, lr float64) float64 {
	n := float64(len(targets))
	if n == 0 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range targets {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom != 0 {
		m.slope = (n*sumXY - sumX*sumY) / denom
	}
	m.last = targets[len(targets)-1]
	m.fit = true

	// residual L1 loss of the fitted line
	intercept := (sumY - m.slope*sumX) / n
	loss := 0.0
	for i, y := range targets {
		diff := intercept + m.slope*float64(i) - y
		if diff < 0 {
			diff = -diff
		}
		loss += diff
	}
	return loss / n
}

// Clone returns an independent copy
func (m *TrendModel) Clone() Model {
	cp := *m
	return &cp
}
