package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "localhost", cfg.MQTTBroker)
	assert.Equal(t, 1883, cfg.MQTTPort)
	assert.Equal(t, 12, cfg.WindowSize)
	assert.Equal(t, 12, cfg.HorizonSteps)
	assert.Equal(t, 10, cfg.InnerSteps)
	assert.Equal(t, 0.01, cfg.InnerLR)
	assert.Equal(t, 288, cfg.MaxReadingHistory)
	assert.Equal(t, 30, cfg.EvalHorizonMinutes)
	assert.Equal(t, 10, cfg.CooldownMinutes)
	assert.Equal(t, []string{"cgm/raw/+"}, cfg.ReadingTopics)
	assert.Equal(t, "postgres", cfg.StoreBackend)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CGM_MQTT_BROKER", "mqtt.internal")
	t.Setenv("CGM_MQTT_PORT", "8883")
	t.Setenv("CGM_WINDOW_SIZE", "24")
	t.Setenv("CGM_INNER_LR", "0.05")
	t.Setenv("CGM_COOLDOWN_MINUTES", "15")
	t.Setenv("CGM_STORE_BACKEND", "memory")

	cfg := NewConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, "mqtt.internal", cfg.MQTTBroker)
	assert.Equal(t, 8883, cfg.MQTTPort)
	assert.Equal(t, 24, cfg.WindowSize)
	assert.Equal(t, 0.05, cfg.InnerLR)
	assert.Equal(t, 15, cfg.CooldownMinutes)
	assert.Equal(t, "memory", cfg.StoreBackend)
}

func TestLoadFromEnvIgnoresMalformed(t *testing.T) {
	t.Setenv("CGM_MQTT_PORT", "not-a-port")
	t.Setenv("CGM_WINDOW_SIZE", "")

	cfg := NewConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, 1883, cfg.MQTTPort)
	assert.Equal(t, 12, cfg.WindowSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty mqtt broker", func(c *Config) { c.MQTTBroker = "" }},
		{"bad mqtt port", func(c *Config) { c.MQTTPort = 0 }},
		{"bad api port", func(c *Config) { c.APIPort = 70000 }},
		{"window too small", func(c *Config) { c.WindowSize = 1 }},
		{"zero horizon", func(c *Config) { c.HorizonSteps = 0 }},
		{"negative cooldown", func(c *Config) { c.CooldownMinutes = -1 }},
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAddressHelpers(t *testing.T) {
	cfg := NewConfig()
	cfg.MQTTBroker = "broker"
	cfg.MQTTPort = 1884
	cfg.RedisHost = "cache"
	cfg.RedisPort = 6380

	assert.Equal(t, "tcp://broker:1884", cfg.MQTTAddress())
	assert.Equal(t, "cache:6380", cfg.RedisAddress())
	assert.Contains(t, cfg.PostgresConnectionString(), "host=localhost")
	assert.Contains(t, cfg.PostgresConnectionString(), "sslmode=disable")
}

func TestDurationHelpers(t *testing.T) {
	cfg := NewConfig()
	cfg.TickIntervalSec = 30
	cfg.PatientTimeoutSec = 20
	cfg.CooldownMinutes = 10

	assert.Equal(t, 30*time.Second, cfg.TickInterval())
	assert.Equal(t, 20*time.Second, cfg.PatientTimeout())
	assert.Equal(t, 10*time.Minute, cfg.Cooldown())
}
