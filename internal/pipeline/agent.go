// Package pipeline wires ingestion, windowing, forecasting, risk
// evaluation and alerting into the agent's run loop.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/halcyon-care/cgm-platform/internal/alert"
	"github.com/halcyon-care/cgm-platform/internal/directory"
	"github.com/halcyon-care/cgm-platform/internal/forecast"
	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/internal/notify"
	"github.com/halcyon-care/cgm-platform/internal/risk"
	"github.com/halcyon-care/cgm-platform/internal/store"
	"github.com/halcyon-care/cgm-platform/internal/window"
	"github.com/halcyon-care/cgm-platform/pkg/config"
	"github.com/halcyon-care/cgm-platform/pkg/mqtt"
)

// Agent runs the forecasting pipeline: it ingests readings from MQTT,
// evaluates every active patient on a timer, and evaluates a single
// patient immediately when a new reading arrives.
type Agent struct {
	cfg        *config.Config
	mqttClient mqtt.Client
	windows    *window.Manager
	store      store.Store
	directory  directory.Directory
	forecaster *forecast.Forecaster
	dedup      *alert.Deduplicator
	notifier   notify.Notifier
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// inFlight guards against concurrent evaluation of one patient.
	// A trigger for a patient already being evaluated is dropped; the
	// periodic tick will pick the patient up again shortly.
	mu       sync.Mutex
	inFlight map[string]bool
}

// rawReading is the ingestion wire format published to cgm/raw/{patient}
type rawReading struct {
	Value     float64                 `json:"value"`
	Timestamp time.Time               `json:"timestamp"`
	Unit      string                  `json:"unit"`
	Source    string                  `json:"source"`
	Features  glucose.ContextFeatures `json:"features"`
}

// NewAgent creates the pipeline agent
func NewAgent(
	cfg *config.Config,
	mqttClient mqtt.Client,
	windows *window.Manager,
	st store.Store,
	dir directory.Directory,
	forecaster *forecast.Forecaster,
	dedup *alert.Deduplicator,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Agent {
	return &Agent{
		cfg:        cfg,
		mqttClient: mqttClient,
		windows:    windows,
		store:      st,
		directory:  dir,
		forecaster: forecaster,
		dedup:      dedup,
		notifier:   notifier,
		logger:     logger.With("component", "pipeline"),
		inFlight:   make(map[string]bool),
	}
}

// Start subscribes to the reading topics and starts the evaluation loop
func (a *Agent) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.mqttClient.Connect(a.ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	for _, topic := range a.cfg.ReadingTopics {
		if err := a.mqttClient.Subscribe(topic, 1, a.handleRawMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		a.logger.Info("Subscribed to reading topic", "topic", topic)
	}

	a.wg.Add(1)
	go a.run()

	a.logger.Info("Pipeline agent started",
		"tick_interval", a.cfg.TickInterval(),
		"window_size", a.cfg.WindowSize,
		"horizon_steps", a.cfg.HorizonSteps)
	return nil
}

// Stop shuts the agent down and waits for in-flight evaluations
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.mqttClient.Disconnect()
	a.logger.Info("Pipeline agent stopped")
}

// run evaluates every active patient once per tick
func (a *Agent) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.evaluateAll()
		}
	}
}

func (a *Agent) evaluateAll() {
	patients, err := a.directory.ActivePatients(a.ctx)
	if err != nil {
		a.logger.Error("Failed to list active patients", "error", err)
		return
	}

	for _, id := range patients {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Trigger(a.ctx, id)
		}()
	}
}

// Trigger runs an immediate evaluation of one patient on the caller's
// context, bounded by the per-patient timeout. Returns false when an
// evaluation for that patient is already running; in that case the
// trigger is dropped.
func (a *Agent) Trigger(ctx context.Context, patientID string) bool {
	a.mu.Lock()
	if a.inFlight[patientID] {
		a.mu.Unlock()
		return false
	}
	a.inFlight[patientID] = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inFlight, patientID)
		a.mu.Unlock()
	}()

	evalCtx, cancel := context.WithTimeout(ctx, a.cfg.PatientTimeout())
	defer cancel()

	if err := a.evaluatePatient(evalCtx, patientID); err != nil {
		a.logger.Error("Patient evaluation failed",
			"patient_id", patientID,
			"error", err)
	}
	return true
}

// evaluatePatient runs the full pipeline for one patient: window,
// forecast, risk, alert, notify. Skips quietly when the patient is
// unknown or has too little data.
func (a *Agent) evaluatePatient(ctx context.Context, patientID string) error {
	profile, err := a.directory.Profile(ctx, patientID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			a.logger.Debug("Skipping unregistered patient", "patient_id", patientID)
			return nil
		}
		return fmt.Errorf("failed to resolve profile: %w", err)
	}

	readings, err := a.windows.Window(ctx, patientID, a.cfg.WindowSize)
	if err != nil {
		if errors.Is(err, window.ErrInsufficientData) {
			a.logger.Debug("Not enough data to forecast",
				"patient_id", patientID,
				"reason", err)
			return nil
		}
		return fmt.Errorf("failed to assemble window: %w", err)
	}

	result, err := a.forecaster.Predict(ctx, patientID, readings)
	if err != nil {
		if errors.Is(err, forecast.ErrAdaptationDiverged) {
			a.logger.Warn("Forecast skipped, adaptation diverged", "patient_id", patientID)
			return nil
		}
		return fmt.Errorf("failed to forecast: %w", err)
	}

	if err := a.store.PutForecast(ctx, result); err != nil {
		return fmt.Errorf("failed to persist forecast: %w", err)
	}

	lead := time.Duration(a.cfg.EvalHorizonMinutes) * time.Minute
	assessment := risk.Classify(result, profile.TargetRange, lead)

	current := readings[len(readings)-1].Value
	created, err := a.dedup.Process(ctx, patientID, current, assessment)
	if err != nil {
		return fmt.Errorf("failed to process risk assessment: %w", err)
	}
	if created == nil {
		return nil
	}

	// delivery is best-effort; the alert row is already persisted
	if err := a.notifier.Notify(ctx, profile, created); err != nil {
		a.logger.Warn("Alert notification incomplete",
			"patient_id", patientID,
			"alert_id", created.ID,
			"error", err)
	}
	return nil
}

// HandleReading validates and persists one reading, fans it out to the
// accepted-reading topic, and triggers an immediate evaluation
func (a *Agent) HandleReading(ctx context.Context, r glucose.Reading) error {
	if r.PatientID == "" {
		return fmt.Errorf("reading has no patient ID")
	}
	if _, err := a.directory.Profile(ctx, r.PatientID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Errorf("%w: %s", directory.ErrNotFound, r.PatientID)
		}
		return fmt.Errorf("failed to resolve profile: %w", err)
	}

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Unit == "" {
		r.Unit = "mg/dL"
	}
	r.Value = glucose.Clamp(r.Value)

	if err := a.store.AppendReading(ctx, r); err != nil {
		if errors.Is(err, store.ErrStaleReading) {
			a.logger.Warn("Dropping out-of-order reading",
				"patient_id", r.PatientID,
				"timestamp", r.Timestamp)
			return err
		}
		return fmt.Errorf("failed to persist reading: %w", err)
	}

	if err := a.windows.CacheReading(ctx, r); err != nil {
		// cache is an optimization; the store copy is authoritative
		a.logger.Warn("Failed to cache reading",
			"patient_id", r.PatientID,
			"error", err)
	}

	if payload, err := json.Marshal(r); err == nil {
		topic := mqtt.AcceptedReadingTopic(r.PatientID)
		if err := a.mqttClient.Publish(topic, 1, false, payload); err != nil {
			a.logger.Warn("Failed to publish accepted reading",
				"patient_id", r.PatientID,
				"error", err)
		}
	}

	a.Trigger(ctx, r.PatientID)
	return nil
}

// handleRawMessage ingests one reading from the raw MQTT topic
func (a *Agent) handleRawMessage(msg mqtt.Message) {
	patientID, err := mqtt.PatientFromRawTopic(msg.Topic())
	if err != nil {
		a.logger.Warn("Ignoring message on unexpected topic",
			"topic", msg.Topic(),
			"error", err)
		return
	}

	var raw rawReading
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		a.logger.Warn("Failed to parse reading payload",
			"topic", msg.Topic(),
			"error", err)
		return
	}

	r := glucose.Reading{
		PatientID: patientID,
		Timestamp: raw.Timestamp,
		Value:     raw.Value,
		Unit:      raw.Unit,
		Source:    raw.Source,
		Features:  raw.Features,
	}

	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.PatientTimeout())
	defer cancel()

	if err := a.HandleReading(ctx, r); err != nil {
		a.logger.Warn("Failed to ingest reading",
			"patient_id", patientID,
			"error", err)
	}
}
