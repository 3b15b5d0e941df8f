package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDirectoryYAML = `
patients:
  - id: patient-2
    name: Kim Jisoo
    target_range:
      min: 80
      max: 160
    clinician_id: clin-7
    clinician_name: Dr. Park
  - id: patient-1
    name: Lee Minho
    target_range:
      min: 70
      max: 180
    telegram_chat_id: "123456"
`

func writeDirectory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileDirectoryProfile(t *testing.T) {
	d, err := NewFileDirectory(writeDirectory(t, testDirectoryYAML))
	require.NoError(t, err)

	p, err := d.Profile(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Equal(t, "Lee Minho", p.Name)
	assert.Equal(t, 70.0, p.TargetRange.Min)
	assert.Equal(t, 180.0, p.TargetRange.Max)
	assert.Equal(t, "123456", p.TelegramChatID)

	_, err = d.Profile(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileDirectoryActivePatients(t *testing.T) {
	d, err := NewFileDirectory(writeDirectory(t, testDirectoryYAML))
	require.NoError(t, err)

	ids, err := d.ActivePatients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"patient-1", "patient-2"}, ids)
}

func TestFileDirectoryErrors(t *testing.T) {
	_, err := NewFileDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = NewFileDirectory(writeDirectory(t, "patients: [{name: nobody}]"))
	assert.Error(t, err, "patients without an id are rejected")

	_, err = NewFileDirectory(writeDirectory(t, "{invalid"))
	assert.Error(t, err)
}
