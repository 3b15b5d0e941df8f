package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/pkg/mqtt"
)

// MQTTNotifier publishes alerts to the per-patient alert topic so patient
// apps and dashboards can subscribe directly
type MQTTNotifier struct {
	client mqtt.Client
}

// NewMQTTNotifier creates an MQTT alert publisher
func NewMQTTNotifier(client mqtt.Client) *MQTTNotifier {
	return &MQTTNotifier{client: client}
}

// Notify publishes the alert as JSON, QoS 1 so a briefly-offline
// subscriber still receives it
func (n *MQTTNotifier) Notify(ctx context.Context, profile *glucose.PatientProfile, a *glucose.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := mqtt.AlertTopic(a.PatientID)
	if err := n.client.Publish(topic, 1, false, payload); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", topic, err)
	}
	return nil
}

// Name identifies the channel in logs
func (n *MQTTNotifier) Name() string { return "mqtt" }
