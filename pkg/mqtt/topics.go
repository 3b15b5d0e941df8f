package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout:
//
//	cgm/raw/{patient_id}     - readings as published by CGM devices / bridges
//	cgm/reading/{patient_id} - readings accepted and stored by the agent
//	cgm/alert/{patient_id}   - emitted risk alerts
const (
	TopicRawReadings = "cgm/raw/+"

	topicRawPrefix     = "cgm/raw/"
	topicReadingPrefix = "cgm/reading/"
	topicAlertPrefix   = "cgm/alert/"
)

// RawReadingTopic constructs the device-facing topic for one patient
func RawReadingTopic(patientID string) string {
	return topicRawPrefix + patientID
}

// AcceptedReadingTopic constructs the post-ingestion trigger topic for one patient
func AcceptedReadingTopic(patientID string) string {
	return topicReadingPrefix + patientID
}

// AlertTopic constructs the alert delivery topic for one patient
func AlertTopic(patientID string) string {
	return topicAlertPrefix + patientID
}

// PatientFromRawTopic extracts the patient ID from a raw reading topic
func PatientFromRawTopic(topic string) (string, error) {
	if !strings.HasPrefix(topic, topicRawPrefix) {
		return "", fmt.Errorf("not a raw reading topic: %s", topic)
	}
	patientID := strings.TrimPrefix(topic, topicRawPrefix)
	if patientID == "" || strings.Contains(patientID, "/") {
		return "", fmt.Errorf("malformed raw reading topic: %s", topic)
	}
	return patientID, nil
}
