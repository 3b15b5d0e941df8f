package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyon-care/cgm-platform/internal/alert"
	"github.com/halcyon-care/cgm-platform/internal/api"
	"github.com/halcyon-care/cgm-platform/internal/directory"
	"github.com/halcyon-care/cgm-platform/internal/forecast"
	"github.com/halcyon-care/cgm-platform/internal/notify"
	"github.com/halcyon-care/cgm-platform/internal/pipeline"
	"github.com/halcyon-care/cgm-platform/internal/store"
	"github.com/halcyon-care/cgm-platform/internal/window"
	"github.com/halcyon-care/cgm-platform/pkg/config"
	"github.com/halcyon-care/cgm-platform/pkg/health"
	"github.com/halcyon-care/cgm-platform/pkg/mqtt"
	"github.com/halcyon-care/cgm-platform/pkg/postgres"
	"github.com/halcyon-care/cgm-platform/pkg/redis"
)

func main() {
	// Load configuration with hierarchy: defaults → env → flags
	cfg := config.NewConfig()
	cfg.ServiceName = "cgm-agent"
	cfg.LoadFromEnv()
	cfg.LoadFromFlags()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting CGM forecasting agent",
		"service_name", cfg.ServiceName,
		"mqtt_broker", cfg.MQTTAddress(),
		"redis_host", cfg.RedisAddress(),
		"store_backend", cfg.StoreBackend,
		"log_level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	mqttClient := mqtt.NewClient(cfg, logger)
	redisClient := redis.NewClient(cfg, logger)

	st, dir, pgClient, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if pgClient != nil {
		defer pgClient.Disconnect()
	}

	base, err := buildBaseModel(cfg, logger)
	if err != nil {
		logger.Error("Failed to load base model", "error", err)
		os.Exit(1)
	}

	windows := window.NewManager(redisClient, st, cfg, logger)
	forecaster := forecast.New(base, forecast.Options{
		InnerSteps: cfg.InnerSteps,
		InnerLR:    cfg.InnerLR,
		Horizon:    cfg.HorizonSteps,
	}, logger)
	dedup := alert.NewDeduplicator(st, cfg.Cooldown(), logger)

	notifier, err := buildNotifier(cfg, mqttClient, logger)
	if err != nil {
		logger.Error("Failed to initialize notifiers", "error", err)
		os.Exit(1)
	}

	agent := pipeline.NewAgent(cfg, mqttClient, windows, st, dir, forecaster, dedup, notifier, logger)

	// The agent must be running before the API accepts requests, so
	// ingestion and on-demand evaluation have a live pipeline behind them
	if err := agent.Start(ctx); err != nil {
		logger.Error("Failed to start pipeline agent", "error", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(cfg, st, dir, agent, logger)
	apiServer.Start()

	healthChecker := health.NewChecker(mqttClient, redisClient, st, logger)
	healthServer := startHealthServer(cfg.HealthPort, healthChecker, logger)

	<-sigChan
	logger.Info("Shutdown signal received (SIGTERM/SIGINT)")

	logger.Info("Initiating graceful shutdown")
	cancel()

	agent.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down health server", "error", err)
	}

	logger.Info("CGM agent shutdown complete")
}

// buildStorage wires the configured store backend and patient directory.
// The returned postgres client is nil for the memory backend.
func buildStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, directory.Directory, postgres.Client, error) {
	if cfg.StoreBackend == "memory" {
		if cfg.DirectoryPath == "" {
			return nil, nil, nil, fmt.Errorf("memory store requires --directory-path")
		}
		dir, err := directory.NewFileDirectory(cfg.DirectoryPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewMemoryStore(), dir, nil, nil
	}

	pgClient := postgres.NewClient(cfg, logger)
	if err := pgClient.Connect(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	st := store.NewPostgresStore(pgClient.DB(), logger)

	var dir directory.Directory
	if cfg.DirectoryPath != "" {
		fileDir, err := directory.NewFileDirectory(cfg.DirectoryPath)
		if err != nil {
			return nil, nil, nil, err
		}
		dir = fileDir
	} else {
		dir = directory.NewPostgresDirectory(pgClient.DB(), logger)
	}
	return st, dir, pgClient, nil
}

// buildBaseModel loads trained weights when configured, otherwise falls
// back to the linear-trend model
func buildBaseModel(cfg *config.Config, logger *slog.Logger) (forecast.Model, error) {
	if cfg.ModelWeightsPath == "" {
		logger.Warn("No model weights configured, falling back to linear-trend model")
		return forecast.NewTrendModel(), nil
	}
	net, err := forecast.LoadWeights(cfg.ModelWeightsPath)
	if err != nil {
		return nil, err
	}
	if net.Hidden != cfg.HiddenDim {
		logger.Warn("Loaded weights override the configured hidden dimension",
			"configured", cfg.HiddenDim,
			"loaded", net.Hidden)
	}
	logger.Info("Loaded base model weights",
		"path", cfg.ModelWeightsPath,
		"hidden_dim", net.Hidden)
	return net, nil
}

// buildNotifier assembles the configured alert channels into a fanout
func buildNotifier(cfg *config.Config, mqttClient mqtt.Client, logger *slog.Logger) (notify.Notifier, error) {
	var channels []notify.Notifier
	for _, name := range cfg.Notifiers {
		switch name {
		case "mqtt":
			channels = append(channels, notify.NewMQTTNotifier(mqttClient))
		case "webhook":
			if cfg.WebhookURL == "" {
				return nil, fmt.Errorf("webhook notifier requires --webhook-url")
			}
			channels = append(channels, notify.NewWebhookNotifier(cfg.WebhookURL))
		case "telegram":
			if cfg.TelegramBotToken == "" {
				return nil, fmt.Errorf("telegram notifier requires --telegram-bot-token")
			}
			tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, 3, time.Second)
			if err != nil {
				return nil, err
			}
			channels = append(channels, tg)
		default:
			return nil, fmt.Errorf("unknown notifier channel: %s", name)
		}
	}
	return notify.NewFanout(logger, channels...), nil
}

func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/health/detailed", checker.DetailedHandlerFunc())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
		}
	}()

	return server
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
