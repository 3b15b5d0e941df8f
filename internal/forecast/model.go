// Package forecast implements the adaptive glucose forecaster: a shared
// pre-trained sequence model specialized to one patient with a small
// number of self-supervised gradient steps before each prediction.
package forecast

import (
	"math"
	"math/rand"
)

// InputDim is the number of features per timestep:
// glucose, meal, exercise, stress, hypo_event, hour, is_night, is_meal_time
const InputDim = 8

// Model is a sequence regressor operating in normalized [0,1] glucose
// space. Implementations must be safe to Clone so the shared base is
// never mutated by per-patient adaptation.
type Model interface {
	// Forward runs one prediction pass, returning one output per input row
	Forward(seq [][]float64) []float64

	// Step performs one gradient step against the targets under L1 loss
	// and returns the pre-step loss
	Step(seq [][]float64, targets []float64, lr float64) float64

	// Clone returns an independent deep copy
	Clone() Model
}

// SeqNet is a compact two-layer network applied per timestep. It is the
// production base model; weights come from offline meta-training and are
// loaded from a YAML file.
type SeqNet struct {
	Hidden int

	// W1 is Hidden x InputDim, W2 is 1 x Hidden
	W1 [][]float64
	B1 []float64
	W2 []float64
	B2 float64
}

// NewSeqNet creates a network with small deterministic weights. The bias
// starts at mid-scale so an untrained model predicts the middle of the
// physiological range rather than zero.
func NewSeqNet(hidden int, seed int64) *SeqNet {
	rng := rand.New(rand.NewSource(seed))

	n := &SeqNet{
		Hidden: hidden,
		W1:     make([][]float64, hidden),
		B1:     make([]float64, hidden),
		W2:     make([]float64, hidden),
		B2:     0.5,
	}
	for i := 0; i < hidden; i++ {
		n.W1[i] = make([]float64, InputDim)
		for j := 0; j < InputDim; j++ {
			n.W1[i][j] = (rng.Float64() - 0.5) * 0.2
		}
		n.W2[i] = (rng.Float64() - 0.5) * 0.2
	}
	return n
}

// Forward runs one prediction pass
func (n *SeqNet) Forward(seq [][]float64) []float64 {
	out := make([]float64, len(seq))
	for t, x := range seq {
		_, y := n.forwardOne(x)
		out[t] = y
	}
	return out
}

// forwardOne returns the hidden activations and output for one timestep
func (n *SeqNet) forwardOne(x []float64) ([]float64, float64) {
	h := make([]float64, n.Hidden)
	for i := 0; i < n.Hidden; i++ {
		sum := n.B1[i]
		for j := 0; j < InputDim && j < len(x); j++ {
			sum += n.W1[i][j] * x[j]
		}
		if sum > 0 {
			h[i] = sum
		}
	}

	y := n.B2
	for i := 0; i < n.Hidden; i++ {
		y += n.W2[i] * h[i]
	}
	return h, y
}

// Step performs one plain gradient-descent step under L1 loss across the
// whole sequence and returns the pre-step loss
func (n *SeqNet) Step(seq [][]float64, targets []float64, lr float64) float64 {
	if len(seq) == 0 || len(seq) != len(targets) {
		return math.NaN()
	}

	gW1 := make([][]float64, n.Hidden)
	gB1 := make([]float64, n.Hidden)
	gW2 := make([]float64, n.Hidden)
	gB2 := 0.0
	for i := range gW1 {
		gW1[i] = make([]float64, InputDim)
	}

	scale := 1.0 / float64(len(seq))
	loss := 0.0

	for t, x := range seq {
		h, y := n.forwardOne(x)
		diff := y - targets[t]
		loss += math.Abs(diff) * scale

		// dL/dy under L1
		g := sign(diff) * scale

		gB2 += g
		for i := 0; i < n.Hidden; i++ {
			gW2[i] += g * h[i]

			if h[i] <= 0 {
				continue // ReLU gate
			}
			gh := g * n.W2[i]
			gB1[i] += gh
			for j := 0; j < InputDim && j < len(x); j++ {
				gW1[i][j] += gh * x[j]
			}
		}
	}

	for i := 0; i < n.Hidden; i++ {
		for j := 0; j < InputDim; j++ {
			n.W1[i][j] -= lr * gW1[i][j]
		}
		n.B1[i] -= lr * gB1[i]
		n.W2[i] -= lr * gW2[i]
	}
	n.B2 -= lr * gB2

	return loss
}

// Clone returns an independent deep copy
func (n *SeqNet) Clone() Model {
	cp := &SeqNet{
		Hidden: n.Hidden,
		W1:     make([][]float64, n.Hidden),
		B1:     make([]float64, n.Hidden),
		W2:     make([]float64, n.Hidden),
		B2:     n.B2,
	}
	for i := 0; i < n.Hidden; i++ {
		cp.W1[i] = make([]float64, InputDim)
		copy(cp.W1[i], n.W1[i])
	}
	copy(cp.B1, n.B1)
	copy(cp.W2, n.W2)
	return cp
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
