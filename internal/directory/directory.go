// Package directory provides patient profile lookups. Profiles are owned
// by an external registration system; this package only reads them.
package directory

import (
	"context"
	"errors"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// ErrNotFound indicates the patient is not registered
var ErrNotFound = errors.New("directory: patient not found")

// Directory resolves patient profiles and the set of patients the
// scheduling loop should evaluate.
type Directory interface {
	// Profile returns the profile for a patient, or ErrNotFound
	Profile(ctx context.Context, patientID string) (*glucose.PatientProfile, error)

	// ActivePatients returns the IDs of all patients eligible for
	// periodic evaluation
	ActivePatients(ctx context.Context) ([]string, error)
}
