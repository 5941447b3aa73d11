package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default session store, kept next to the binary like the old auth_info directory.
const DefaultSessionDatabaseURL = "file:auth_info/session.db?_foreign_keys=on"

type Config struct {
	Host string
	Port string

	// Backend webhook receiving inbound messages
	WebhookURL     string
	WebhookToken   string
	WebhookTimeout time.Duration

	// Empty APIKey means the gateway is open (trusted network only)
	APIKey        string
	LookupTimeout time.Duration

	SessionDatabaseURL string
	DeviceName         string
	QRImagePath        string
	ReconnectDelay     time.Duration
	ForwardQueueSize   int

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Host:               getEnv("HOST", "127.0.0.1"),
		Port:               getEnv("PORT", "3000"),
		WebhookURL:         getEnv("BOT_WEBHOOK_URL", "http://127.0.0.1:5000/webhook/whatsapp"),
		WebhookToken:       strings.TrimSpace(os.Getenv("WHATSAPP_WEBHOOK_TOKEN")),
		WebhookTimeout:     time.Duration(getEnvAsInt("WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second,
		APIKey:             strings.TrimSpace(os.Getenv("WA_SERVICE_API_KEY")),
		LookupTimeout:      time.Duration(getEnvAsInt("LOOKUP_TIMEOUT_SECONDS", 8)) * time.Second,
		SessionDatabaseURL: getEnv("SESSION_DATABASE_URL", DefaultSessionDatabaseURL),
		DeviceName:         getEnv("WA_DEVICE_NAME", "wa-bridge"),
		QRImagePath:        getEnv("WA_QR_IMAGE_PATH", "auth_info/qr.png"),
		ReconnectDelay:     time.Duration(getEnvAsInt("RECONNECT_DELAY_MS", 0)) * time.Millisecond,
		ForwardQueueSize:   getEnvAsInt("FORWARD_QUEUE_SIZE", 256),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
	}
}

// Addr is the gateway bind address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// OpenGateway reports whether requests are accepted without an API key.
func (c *Config) OpenGateway() bool {
	return c.APIKey == ""
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// getEnvAsInt falls back on missing, malformed or negative values.
func getEnvAsInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
