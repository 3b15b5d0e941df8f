package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
	"github.com/halcyon-care/cgm-platform/pkg/mqtt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAlert() *glucose.Alert {
	return &glucose.Alert{
		ID:             "a-1",
		PatientID:      "patient-1",
		Type:           glucose.RiskLow,
		PredictedValue: 62,
		CurrentValue:   85,
		HorizonMinutes: 30,
		Message:        "Glucose predicted to drop to 62 mg/dL within 30 minutes.",
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:         glucose.AlertActive,
	}
}

func testProfile() *glucose.PatientProfile {
	return &glucose.PatientProfile{
		ID:             "patient-1",
		Name:           "Lee Minho",
		ClinicianName:  "Dr. Park",
		TelegramChatID: "123456",
	}
}

// fakeChannel records deliveries and optionally fails
type fakeChannel struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (c *fakeChannel) Notify(ctx context.Context, profile *glucose.PatientProfile, a *glucose.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeChannel) Name() string { return c.name }

func TestFanoutDeliversToAllChannels(t *testing.T) {
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	f := NewFanout(testLogger(), a, b)

	require.NoError(t, f.Notify(context.Background(), testProfile(), testAlert()))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestFanoutContinuesPastFailure(t *testing.T) {
	failing := &fakeChannel{name: "failing", err: errors.New("boom")}
	working := &fakeChannel{name: "working"}
	f := NewFanout(testLogger(), failing, working)

	err := f.Notify(context.Background(), testProfile(), testAlert())
	assert.Error(t, err)
	assert.Equal(t, 1, working.calls, "failure in one channel must not block the others")
}

// publishRecorder implements mqtt.Client for publish capture
type publishRecorder struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *publishRecorder) Connect(ctx context.Context) error { return nil }
func (p *publishRecorder) Disconnect()                       {}
func (p *publishRecorder) IsConnected() bool                 { return true }
func (p *publishRecorder) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	return nil
}

func (p *publishRecorder) Publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestMQTTNotifier(t *testing.T) {
	rec := &publishRecorder{}
	n := NewMQTTNotifier(rec)

	require.NoError(t, n.Notify(context.Background(), testProfile(), testAlert()))
	require.Len(t, rec.topics, 1)
	assert.Equal(t, mqtt.AlertTopic("patient-1"), rec.topics[0])

	var decoded glucose.Alert
	require.NoError(t, json.Unmarshal(rec.payloads[0], &decoded))
	assert.Equal(t, "a-1", decoded.ID)
	assert.Equal(t, glucose.RiskLow, decoded.Type)
}

func TestWebhookNotifier(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.Notify(context.Background(), testProfile(), testAlert()))

	assert.Equal(t, "a-1", received.Alert.ID)
	assert.Equal(t, "Lee Minho", received.PatientName)
	assert.Equal(t, "Dr. Park", received.ClinicianName)
}

func TestWebhookNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	assert.Error(t, n.Notify(context.Background(), testProfile(), testAlert()))
}

// fakeBot captures sent Telegram messages
type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.err
}

func TestTelegramNotifier(t *testing.T) {
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, maxRetries: 3, retryDelayBase: time.Millisecond}

	require.NoError(t, n.Notify(context.Background(), testProfile(), testAlert()))
	require.Len(t, bot.sent, 1)

	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(123456), msg.ChatID)
	assert.Contains(t, msg.Text, "Low glucose predicted")
	assert.Contains(t, msg.Text, "62 mg/dL")
}

func TestTelegramNotifierSkipsWithoutChatID(t *testing.T) {
	bot := &fakeBot{}
	n := &TelegramNotifier{bot: bot, maxRetries: 3, retryDelayBase: time.Millisecond}

	profile := testProfile()
	profile.TelegramChatID = ""

	require.NoError(t, n.Notify(context.Background(), profile, testAlert()))
	assert.Empty(t, bot.sent)
}

func TestTelegramNotifierRetriesThenFails(t *testing.T) {
	bot := &fakeBot{err: errors.New("rate limited")}
	n := &TelegramNotifier{bot: bot, maxRetries: 3, retryDelayBase: time.Millisecond}

	assert.Error(t, n.Notify(context.Background(), testProfile(), testAlert()))
	assert.Len(t, bot.sent, 3)
}

func TestTelegramNotifierBadChatID(t *testing.T) {
	n := &TelegramNotifier{bot: &fakeBot{}, maxRetries: 1, retryDelayBase: time.Millisecond}

	profile := testProfile()
	profile.TelegramChatID = "not-a-number"

	assert.Error(t, n.Notify(context.Background(), profile, testAlert()))
}
