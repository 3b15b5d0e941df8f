package forecast

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// weightsFile is the on-disk form of a SeqNet, produced by offline
// meta-training and loaded at startup.
type weightsFile struct {
	Hidden int         `yaml:"hidden"`
	W1     [][]float64 `yaml:"w1"`
	B1     []float64   `yaml:"b1"`
	W2     []float64   `yaml:"w2"`
	B2     float64     `yaml:"b2"`
}

// LoadWeights reads a SeqNet from a YAML file
func LoadWeights(path string) (*SeqNet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}

	var wf weightsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse weights file: %w", err)
	}

	if wf.Hidden <= 0 || len(wf.W1) != wf.Hidden || len(wf.B1) != wf.Hidden || len(wf.W2) != wf.Hidden {
		return nil, fmt.Errorf("weights file %s has inconsistent dimensions", path)
	}
	for i, row := range wf.W1 {
		if len(row) != InputDim {
			return nil, fmt.Errorf("weights file %s: w1 row %d has %d columns, want %d", path, i, len(row), InputDim)
		}
	}

	return &SeqNet{
		Hidden: wf.Hidden,
		W1:     wf.W1,
		B1:     wf.B1,
		W2:     wf.W2,
		B2:     wf.B2,
	}, nil
}

// SaveWeights writes a SeqNet to a YAML file
func SaveWeights(path string, n *SeqNet) error {
	wf := weightsFile{
		Hidden: n.Hidden,
		W1:     n.W1,
		B1:     n.B1,
		W2:     n.W2,
		B2:     n.B2,
	}
	data, err := yaml.Marshal(&wf)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write weights file: %w", err)
	}
	return nil
}
