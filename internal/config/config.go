// Package config collects the environment-variable configuration recognized
// by the Pushi daemon (spec section 6) into a single struct, in place of the
// scattered os.Getenv calls the teacher keeps directly in cmd/main.go.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved runtime configuration for one process.
type Config struct {
	AppHost   string
	AppPort   string
	AppSSL    bool
	AppSSLKey string
	AppSSLCer string

	ServerHost   string
	ServerPort   string
	ServerSSL    bool
	ServerSSLKey string
	ServerSSLCer string

	SMTPURL      string
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPStartTLS bool
	SMTPSender   string

	MaxConnectionsGlobal int
	MaxConnectionsPerApp int
	MaxConnectionsPerIP  int
	RateLimitPerSecond   int
	RateLimitBurst       int

	MaxMessageSize        int
	MaxChannelsPerSocket  int
	MaxSocketsPerChannel  int
	MaxChannelNameLength  int
	MaxEventNameLength    int

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	CacheEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string

	LogLevel  string
	LogPretty bool

	JWTSecret     string
	JWTIssuer     string
	TokenDuration time.Duration

	AdminUsername     string
	AdminPasswordHash string

	WebhookSecret string
}

// Load reads the environment and applies the same defaulting style as the
// teacher's getEnv/getEnvInt helpers.
func Load() Config {
	return Config{
		AppHost:   getEnvOr("APP_HOST", "0.0.0.0"),
		AppPort:   getEnvOr("APP_PORT", "6001"),
		AppSSL:    getEnvBool("APP_SSL", false),
		AppSSLKey: os.Getenv("APP_SSL_KEY"),
		AppSSLCer: os.Getenv("APP_SSL_CER"),

		ServerHost:   getEnvOr("SERVER_HOST", "0.0.0.0"),
		ServerPort:   getEnvOr("SERVER_PORT", "6002"),
		ServerSSL:    getEnvBool("SERVER_SSL", false),
		ServerSSLKey: os.Getenv("SERVER_SSL_KEY"),
		ServerSSLCer: os.Getenv("SERVER_SSL_CER"),

		SMTPURL:      os.Getenv("SMTP_URL"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnvOr("SMTP_PORT", "587"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPStartTLS: getEnvBool("SMTP_STARTTLS", true),
		SMTPSender:   os.Getenv("SMTP_SENDER"),

		MaxConnectionsGlobal: getEnvIntOr("PUSHI_MAX_CONNECTIONS_GLOBAL", 0),
		MaxConnectionsPerApp: getEnvIntOr("PUSHI_MAX_CONNECTIONS_PER_APP", 1000),
		MaxConnectionsPerIP:  getEnvIntOr("PUSHI_MAX_CONNECTIONS_PER_IP", 0),
		RateLimitPerSecond:   getEnvIntOr("PUSHI_RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:       getEnvIntOr("PUSHI_RATE_LIMIT_BURST", 20),

		MaxMessageSize:       getEnvIntOr("PUSHI_MAX_MESSAGE_SIZE", 10240),
		MaxChannelsPerSocket: getEnvIntOr("PUSHI_MAX_CHANNELS_PER_SOCKET", 100),
		MaxSocketsPerChannel: getEnvIntOr("PUSHI_MAX_SOCKETS_PER_CHANNEL", 5000),
		MaxChannelNameLength: getEnvIntOr("PUSHI_MAX_CHANNEL_NAME_LENGTH", 200),
		MaxEventNameLength:   getEnvIntOr("PUSHI_MAX_EVENT_NAME_LENGTH", 200),

		DBHost:     getEnvOr("DB_HOST", "localhost"),
		DBPort:     getEnvOr("DB_PORT", "5432"),
		DBUser:     getEnvOr("DB_USER", "pushi"),
		DBPassword: getEnvOr("DB_PASSWORD", "pushi"),
		DBName:     getEnvOr("DB_NAME", "pushi"),
		DBSSLMode:  getEnvOr("DB_SSL_MODE", "disable"),

		CacheEnabled:  getEnvBool("CACHE_ENABLED", false),
		RedisHost:     getEnvOr("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOr("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		LogLevel:  getEnvOr("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     getEnvOr("JWT_ISSUER", "pushi"),
		TokenDuration: getEnvDurationOr("TOKEN_DURATION", 24*time.Hour),

		AdminUsername:     getEnvOr("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
	}
}

func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOr(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return defaultValue
}

func getEnvDurationOr(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
