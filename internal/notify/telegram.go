package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/halcyon-care/cgm-platform/internal/glucose"
)

// botAPI is the slice of tgbotapi.BotAPI used here, extracted so tests
// can substitute a fake
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends alerts to the patient's Telegram chat when the
// profile carries a chat ID. Patients without one are skipped silently.
type TelegramNotifier struct {
	bot            botAPI
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramNotifier creates a Telegram notifier from a bot token
func NewTelegramNotifier(botToken string, maxRetries int, retryDelayBase time.Duration) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &TelegramNotifier{
		bot:            bot,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Notify sends the alert message with retry and linear backoff
func (n *TelegramNotifier) Notify(ctx context.Context, profile *glucose.PatientProfile, a *glucose.Alert) error {
	if profile == nil || profile.TelegramChatID == "" {
		return nil
	}

	chatID, err := strconv.ParseInt(profile.TelegramChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Telegram chat ID for patient %s: %w", a.PatientID, err)
	}

	msg := tgbotapi.NewMessage(chatID, formatTelegramMessage(profile, a))
	msg.ParseMode = "Markdown"

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(n.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send Telegram message after %d retries: %w", n.maxRetries, lastErr)
}

func formatTelegramMessage(profile *glucose.PatientProfile, a *glucose.Alert) string {
	icon := "⚠️"
	title := "Glucose alert"
	switch a.Type {
	case glucose.RiskLow:
		icon = "🔻"
		title = "Low glucose predicted"
	case glucose.RiskHigh:
		icon = "🔺"
		title = "High glucose predicted"
	}

	return fmt.Sprintf("%s *%s*\n\n%s\n\nCurrent: %.0f mg/dL\nPredicted: %.0f mg/dL in %d min",
		icon, title, a.Message, a.CurrentValue, a.PredictedValue, a.HorizonMinutes)
}

// Name identifies the channel in logs
func (n *TelegramNotifier) Name() string { return "telegram" }
