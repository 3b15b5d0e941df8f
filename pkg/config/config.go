package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the configuration for a cgm-platform service
type Config struct {
	// MQTT configuration
	MQTTBroker   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	// Redis configuration
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres configuration
	PostgresHost            string
	PostgresPort            int
	PostgresUser            string
	PostgresPassword        string
	PostgresDB              string
	PostgresSSLMode         string
	PostgresMaxConnections  int
	PostgresMaxIdleConns    int
	PostgresConnMaxLifetime time.Duration

	// Service configuration
	ServiceName string
	HealthPort  int
	APIPort     int
	LogLevel    string

	// Ingestion configuration
	ReadingTopics     []string
	MaxReadingHistory int

	// Feature window configuration
	WindowSize         int
	MaxMissingFraction float64
	Latitude           float64
	Longitude          float64

	// Forecaster configuration
	HorizonSteps     int
	InnerSteps       int
	InnerLR          float64
	HiddenDim        int
	ModelWeightsPath string

	// Risk / alerting configuration
	EvalHorizonMinutes int
	CooldownMinutes    int

	// Scheduling configuration
	TickIntervalSec   int
	PatientTimeoutSec int

	// Storage / directory configuration
	StoreBackend  string
	DirectoryPath string

	// Notifier configuration
	Notifiers        []string
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker:   "localhost",
		MQTTPort:     1883,
		MQTTUser:     "",
		MQTTPassword: "",
		MQTTClientID: "",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		PostgresHost:            "localhost",
		PostgresPort:            5432,
		PostgresUser:            "cgm",
		PostgresPassword:        "",
		PostgresDB:              "cgm",
		PostgresSSLMode:         "disable",
		PostgresMaxConnections:  10,
		PostgresMaxIdleConns:    5,
		PostgresConnMaxLifetime: 30 * time.Minute,

		ServiceName: "cgm-agent",
		HealthPort:  8080,
		APIPort:     3001,
		LogLevel:    "info",

		ReadingTopics:     []string{"cgm/raw/+"},
		MaxReadingHistory: 288, // 24h of 5-minute readings

		WindowSize:         12,
		MaxMissingFraction: 0.25,
		// Seoul coordinates
		Latitude:  37.5665,
		Longitude: 126.978,

		HorizonSteps:     12,
		InnerSteps:       10,
		InnerLR:          0.01,
		HiddenDim:        16,
		ModelWeightsPath: "",

		EvalHorizonMinutes: 30,
		CooldownMinutes:    10,

		TickIntervalSec:   60,
		PatientTimeoutSec: 15,

		StoreBackend:  "postgres",
		DirectoryPath: "",

		Notifiers:        []string{"mqtt"},
		WebhookURL:       "",
		TelegramBotToken: "",
		TelegramChatID:   "",
	}
}

// LoadFromEnv loads configuration from environment variables with CGM_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	if v := os.Getenv("CGM_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("CGM_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("CGM_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("CGM_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("CGM_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Redis configuration
	if v := os.Getenv("CGM_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("CGM_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("CGM_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("CGM_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// Postgres configuration
	if v := os.Getenv("CGM_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("CGM_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("CGM_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("CGM_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("CGM_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("CGM_POSTGRES_SSL_MODE"); v != "" {
		c.PostgresSSLMode = v
	}

	// Service configuration
	if v := os.Getenv("CGM_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("CGM_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HealthPort = port
		}
	}
	if v := os.Getenv("CGM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.APIPort = port
		}
	}
	if v := os.Getenv("CGM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// Ingestion configuration
	if v := os.Getenv("CGM_MAX_READING_HISTORY"); v != "" {
		if max, err := strconv.Atoi(v); err == nil {
			c.MaxReadingHistory = max
		}
	}

	// Feature window configuration
	if v := os.Getenv("CGM_WINDOW_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.WindowSize = size
		}
	}
	if v := os.Getenv("CGM_MAX_MISSING_FRACTION"); v != "" {
		if frac, err := strconv.ParseFloat(v, 64); err == nil {
			c.MaxMissingFraction = frac
		}
	}
	if v := os.Getenv("CGM_LATITUDE"); v != "" {
		if lat, err := strconv.ParseFloat(v, 64); err == nil {
			c.Latitude = lat
		}
	}
	if v := os.Getenv("CGM_LONGITUDE"); v != "" {
		if lon, err := strconv.ParseFloat(v, 64); err == nil {
			c.Longitude = lon
		}
	}

	// Forecaster configuration
	if v := os.Getenv("CGM_HORIZON_STEPS"); v != "" {
		if steps, err := strconv.Atoi(v); err == nil {
			c.HorizonSteps = steps
		}
	}
	if v := os.Getenv("CGM_INNER_STEPS"); v != "" {
		if steps, err := strconv.Atoi(v); err == nil {
			c.InnerSteps = steps
		}
	}
	if v := os.Getenv("CGM_INNER_LR"); v != "" {
		if lr, err := strconv.ParseFloat(v, 64); err == nil {
			c.InnerLR = lr
		}
	}
	if v := os.Getenv("CGM_HIDDEN_DIM"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			c.HiddenDim = dim
		}
	}
	if v := os.Getenv("CGM_MODEL_WEIGHTS"); v != "" {
		c.ModelWeightsPath = v
	}

	// Risk / alerting configuration
	if v := os.Getenv("CGM_EVAL_HORIZON_MINUTES"); v != "" {
		if min, err := strconv.Atoi(v); err == nil {
			c.EvalHorizonMinutes = min
		}
	}
	if v := os.Getenv("CGM_COOLDOWN_MINUTES"); v != "" {
		if min, err := strconv.Atoi(v); err == nil {
			c.CooldownMinutes = min
		}
	}

	// Scheduling configuration
	if v := os.Getenv("CGM_TICK_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.TickIntervalSec = sec
		}
	}
	if v := os.Getenv("CGM_PATIENT_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.PatientTimeoutSec = sec
		}
	}

	// Storage / directory configuration
	if v := os.Getenv("CGM_STORE_BACKEND"); v != "" {
		c.StoreBackend = v
	}
	if v := os.Getenv("CGM_DIRECTORY_PATH"); v != "" {
		c.DirectoryPath = v
	}

	// Notifier configuration
	if v := os.Getenv("CGM_WEBHOOK_URL"); v != "" {
		c.WebhookURL = v
	}
	if v := os.Getenv("CGM_TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
	if v := os.Getenv("CGM_TELEGRAM_CHAT_ID"); v != "" {
		c.TelegramChatID = v
	}
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	// MQTT flags
	pflag.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	pflag.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	pflag.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	pflag.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	pflag.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	pflag.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	pflag.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	pflag.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	pflag.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	pflag.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	pflag.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	pflag.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres user")
	pflag.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	pflag.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	pflag.StringVar(&c.PostgresSSLMode, "postgres-ssl-mode", c.PostgresSSLMode, "Postgres SSL mode")

	// Service flags
	pflag.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	pflag.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	pflag.IntVar(&c.APIPort, "api-port", c.APIPort, "HTTP API port")
	pflag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Ingestion flags
	pflag.IntVar(&c.MaxReadingHistory, "max-reading-history", c.MaxReadingHistory, "Maximum cached readings per patient")

	// Feature window flags
	pflag.IntVar(&c.WindowSize, "window-size", c.WindowSize, "Feature window size in readings")
	pflag.Float64Var(&c.MaxMissingFraction, "max-missing-fraction", c.MaxMissingFraction, "Maximum fraction of window entries allowed to miss context features")
	pflag.Float64Var(&c.Latitude, "latitude", c.Latitude, "Geographic latitude for night-time feature derivation")
	pflag.Float64Var(&c.Longitude, "longitude", c.Longitude, "Geographic longitude for night-time feature derivation")

	// Forecaster flags
	pflag.IntVar(&c.HorizonSteps, "horizon-steps", c.HorizonSteps, "Forecast horizon in steps")
	pflag.IntVar(&c.InnerSteps, "inner-steps", c.InnerSteps, "Gradient steps per patient adaptation")
	pflag.Float64Var(&c.InnerLR, "inner-lr", c.InnerLR, "Learning rate for patient adaptation")
	pflag.IntVar(&c.HiddenDim, "hidden-dim", c.HiddenDim, "Hidden dimension of the base model")
	pflag.StringVar(&c.ModelWeightsPath, "model-weights", c.ModelWeightsPath, "Path to base model weights YAML file")

	// Risk / alerting flags
	pflag.IntVar(&c.EvalHorizonMinutes, "eval-horizon-minutes", c.EvalHorizonMinutes, "Forecast point evaluated for risk, in minutes ahead")
	pflag.IntVar(&c.CooldownMinutes, "cooldown-minutes", c.CooldownMinutes, "Minimum minutes between alerts of the same type per patient")

	// Scheduling flags
	pflag.IntVar(&c.TickIntervalSec, "tick-interval", c.TickIntervalSec, "Periodic evaluation interval in seconds")
	pflag.IntVar(&c.PatientTimeoutSec, "patient-timeout", c.PatientTimeoutSec, "Per-patient pipeline timeout in seconds")

	// Storage / directory flags
	pflag.StringVar(&c.StoreBackend, "store-backend", c.StoreBackend, "Store backend (postgres, memory)")
	pflag.StringVar(&c.DirectoryPath, "directory-path", c.DirectoryPath, "Path to patient directory YAML file (empty: Postgres directory)")

	// Notifier flags
	pflag.StringSliceVar(&c.Notifiers, "notifiers", c.Notifiers, "Alert notifier channels (mqtt, webhook, telegram)")
	pflag.StringVar(&c.WebhookURL, "webhook-url", c.WebhookURL, "Webhook URL for alert delivery")
	pflag.StringVar(&c.TelegramBotToken, "telegram-bot-token", c.TelegramBotToken, "Telegram bot token for alert delivery")
	pflag.StringVar(&c.TelegramChatID, "telegram-chat-id", c.TelegramChatID, "Fallback Telegram chat ID for alert delivery")

	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}
	if c.WindowSize < 2 {
		return fmt.Errorf("window size must be at least 2")
	}
	if c.HorizonSteps < 1 {
		return fmt.Errorf("horizon steps must be at least 1")
	}
	if c.InnerSteps < 0 {
		return fmt.Errorf("inner steps must not be negative")
	}
	if c.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown minutes must not be negative")
	}
	if c.StoreBackend != "postgres" && c.StoreBackend != "memory" {
		return fmt.Errorf("invalid store backend: %s (must be postgres or memory)", c.StoreBackend)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns the Postgres DSN
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// TickInterval returns the periodic evaluation interval as a duration
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}

// PatientTimeout returns the per-patient pipeline timeout as a duration
func (c *Config) PatientTimeout() time.Duration {
	return time.Duration(c.PatientTimeoutSec) * time.Second
}

// Cooldown returns the alert suppression window as a duration
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}
