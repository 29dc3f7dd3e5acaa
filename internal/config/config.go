// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. It is built once in main and
// passed explicitly into constructors; nothing reads the environment at call
// sites.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Remote    RemoteConfig
	Chat      ChatConfig
	SSE       SSEConfig
	RateLimit RateLimitConfig
}

// RemoteConfig configures the third-party conversations platform.
type RemoteConfig struct {
	TokenServiceURL  string
	ConversationsURL string
	EventSocketURL   string
	AssistantID      string
	Identity         string
	Password         string
	WebhookURL       string
	RequestTimeout   time.Duration
}

// Enabled reports whether remote mode is configured at all. When false the
// session establisher fails remote establishment with a credential error
// rather than silently switching modes.
func (r RemoteConfig) Enabled() bool {
	return r.TokenServiceURL != "" && r.ConversationsURL != ""
}

// ChatConfig controls bridge behavior.
type ChatConfig struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	// FallbackToLocal selects the BridgeError recovery policy: when true a
	// failed submission degrades to the local responder, when false the
	// error is surfaced to the caller.
	FallbackToLocal bool
	Greeting        string
}

// SSEConfig controls the widget push stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	ReplayQueueSize    int
	MaxRequestBodySize int64
}

// RateLimitConfig controls per-visitor chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/catalog.db"),
		Remote: RemoteConfig{
			TokenServiceURL:  getEnv("REMOTE_TOKEN_URL", ""),
			ConversationsURL: getEnv("REMOTE_CONVERSATIONS_URL", ""),
			EventSocketURL:   getEnv("REMOTE_EVENT_SOCKET_URL", ""),
			AssistantID:      getEnv("REMOTE_ASSISTANT_ID", "demo-assistant"),
			Identity:         getEnv("REMOTE_IDENTITY", "user00"),
			Password:         getEnv("REMOTE_PASSWORD", "lets-converse"),
			WebhookURL:       getEnv("REMOTE_WEBHOOK_URL", ""),
			RequestTimeout:   getEnvDuration("REMOTE_REQUEST_TIMEOUT", 10*time.Second),
		},
		Chat: ChatConfig{
			PollInterval:    getEnvDuration("CHAT_POLL_INTERVAL", time.Second),
			PollMaxAttempts: getEnvInt("CHAT_POLL_MAX_ATTEMPTS", 10),
			FallbackToLocal: getEnvBool("CHAT_FALLBACK_TO_LOCAL", false),
			Greeting: getEnv("CHAT_GREETING",
				"Hi! I'm your shopping assistant. I can help you with order tracking, returns, store hours, and more. How can I assist you today?"),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			ReplayQueueSize:    getEnvInt("SSE_REPLAY_QUEUE_SIZE", 100),
			MaxRequestBodySize: int64(getEnvInt("CHAT_MAX_BODY_SIZE", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Chat.PollMaxAttempts <= 0 {
		return fmt.Errorf("CHAT_POLL_MAX_ATTEMPTS must be > 0")
	}
	if c.Chat.PollInterval <= 0 {
		return fmt.Errorf("CHAT_POLL_INTERVAL must be > 0")
	}
	if c.SSE.ReplayQueueSize <= 0 {
		return fmt.Errorf("SSE_REPLAY_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	// A partial remote config is a misconfiguration, not demo mode.
	if (c.Remote.TokenServiceURL == "") != (c.Remote.ConversationsURL == "") {
		return fmt.Errorf("REMOTE_TOKEN_URL and REMOTE_CONVERSATIONS_URL must be set together")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
