package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// FileDirectory serves patient profiles from a YAML file, for demos and
// deployments without a registration database. The file is read once at
// construction.
type FileDirectory struct {
	mu       sync.RWMutex
	profiles map[string]glucose.PatientProfile
}

type directoryFile struct {
	Patients []glucose.PatientProfile `yaml:"patients"`
}

// NewFileDirectory loads a directory from a YAML file
func NewFileDirectory(path string) (*FileDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	profiles := make(map[string]glucose.PatientProfile, len(file.Patients))
	for _, p := range file.Patients {
		if p.ID == "" {
			return nil, fmt.Errorf("directory file contains a patient without an id")
		}
		profiles[p.ID] = p
	}

	return &FileDirectory{profiles: profiles}, nil
}

// Profile returns the profile for a patient, or ErrNotFound
func (d *FileDirectory) Profile(ctx context.Context, patientID string) (*glucose.PatientProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

// ActivePatients returns all patient IDs in the file
func (d *FileDirectory) ActivePatients(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.profiles))
	for id := range d.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
