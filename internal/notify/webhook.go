package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// WebhookNotifier POSTs alerts to a clinician-facing endpoint, typically
// a care-team dashboard or paging bridge
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// webhookPayload is the wire form sent to the endpoint
type webhookPayload struct {
	Alert         *glucose.Alert `json:"alert"`
	PatientName   string         `json:"patient_name"`
	ClinicianID   string         `json:"clinician_id,omitempty"`
	ClinicianName string         `json:"clinician_name,omitempty"`
}

// NewWebhookNotifier creates a webhook publisher for the given URL
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify POSTs the alert with patient and clinician identity attached
func (n *WebhookNotifier) Notify(ctx context.Context, profile *glucose.PatientProfile, a *glucose.Alert) error {
	payload := webhookPayload{Alert: a}
	if profile != nil {
		payload.PatientName = profile.Name
		payload.ClinicianID = profile.ClinicianID
		payload.ClinicianName = profile.ClinicianName
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// Name identifies the channel in logs
func (n *WebhookNotifier) Name() string { return "webhook" }
