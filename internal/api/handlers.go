package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/halcyon-care/cgm-platform/internal/directory"
	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/internal/store"
)

const (
	defaultHistoryHours = 24
	apiVersion          = "1.0"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   s.cfg.ServiceName,
		"version":   apiVersion,
		"status":    "ok",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"notifiers": s.cfg.Notifiers,
	})
}

func (s *Server) handlePatient(w http.ResponseWriter, r *http.Request) {
	profile, err := s.directory.Profile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetGlucose(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if _, err := s.directory.Profile(r.Context(), patientID); err != nil {
		s.writeError(w, err)
		return
	}

	hours := defaultHistoryHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	readings, err := s.store.QueryReadingsSince(r.Context(), patientID, since)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id": patientID,
		"hours":      hours,
		"count":      len(readings),
		"readings":   readings,
	})
}

func (s *Server) handlePostGlucose(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	var body struct {
		Value     float64                 `json:"value"`
		Timestamp time.Time               `json:"timestamp"`
		Unit      string                  `json:"unit"`
		Source    string                  `json:"source"`
		Features  glucose.ContextFeatures `json:"features"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Value <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "value must be positive")
		return
	}

	reading := glucose.Reading{
		PatientID: patientID,
		Timestamp: body.Timestamp,
		Value:     body.Value,
		Unit:      body.Unit,
		Source:    body.Source,
		Features:  body.Features,
	}

	if err := s.ingestor.HandleReading(r.Context(), reading); err != nil {
		if errors.Is(err, store.ErrStaleReading) {
			writeErrorMessage(w, http.StatusConflict, "reading timestamp is not after the latest stored reading")
			return
		}
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"patient_id": patientID,
		"value":      glucose.Clamp(body.Value),
		"status":     "accepted",
	})
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if _, err := s.directory.Profile(r.Context(), patientID); err != nil {
		s.writeError(w, err)
		return
	}

	forecast, err := s.store.LatestForecast(r.Context(), patientID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id":    patientID,
		"forecast_id":   forecast.ID,
		"anchor_time":   forecast.AnchorTime,
		"generated_at":  forecast.GeneratedAt,
		"step_interval": forecast.StepInterval.String(),
		"points":        forecast.Points,
		"predicted_30m": forecast.PointAt(30 * time.Minute).Value,
		"predicted_60m": forecast.PointAt(60 * time.Minute).Value,
	})
}

func (s *Server) handleSimilarPredictions(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if _, err := s.directory.Profile(r.Context(), patientID); err != nil {
		s.writeError(w, err)
		return
	}

	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	latest, err := s.store.LatestForecast(r.Context(), patientID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	similar, err := s.store.SimilarForecasts(r.Context(), patientID, latest.WindowVector, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id": patientID,
		"reference":  latest.ID,
		"count":      len(similar),
		"forecasts":  similar,
	})
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if _, err := s.directory.Profile(r.Context(), patientID); err != nil {
		s.writeError(w, err)
		return
	}

	activeOnly := true
	if v := r.URL.Query().Get("active_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "active_only must be a boolean")
			return
		}
		activeOnly = b
	}

	alerts, err := s.store.QueryAlerts(r.Context(), patientID, activeOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id":  patientID,
		"active_only": activeOnly,
		"count":       len(alerts),
		"alerts":      alerts,
	})
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	alertID := r.PathValue("alert_id")

	var body struct {
		Status       string `json:"status"`
		Acknowledged bool   `json:"acknowledged"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status := glucose.AlertStatus(body.Status)
	if body.Status == "" && body.Acknowledged {
		status = glucose.AlertAcknowledged
	}
	switch status {
	case glucose.AlertActive, glucose.AlertAcknowledged, glucose.AlertResolved:
	default:
		writeErrorMessage(w, http.StatusBadRequest, "status must be active, acknowledged or resolved")
		return
	}

	acknowledged := body.Acknowledged || status == glucose.AlertAcknowledged

	if err := s.store.UpdateAlertStatus(r.Context(), patientID, alertID, status, acknowledged); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alert_id":     alertID,
		"status":       status,
		"acknowledged": acknowledged,
	})
}

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrUnavailable):
		writeErrorMessage(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		s.logger.Error("Request failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
