package redis

import "fmt"

// Key construction helpers for the per-patient hot reading cache.

// ReadingsKey returns the key for a patient's recent readings (list, newest first)
// Pattern: readings:{patient_id}
func ReadingsKey(patientID string) string {
	return fmt.Sprintf("readings:%s", patientID)
}

// PatientMetaKey returns the key for per-patient ingestion metadata (hash)
// Pattern: meta:patient:{patient_id}
func PatientMetaKey(patientID string) string {
	return fmt.Sprintf("meta:patient:%s", patientID)
}
