package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Email      string // Required: storefront account email
	Password   string // Required: storefront account password
	TOTPSecret string // Optional: TOTP secret for answering authenticator challenges

	DatabaseFile      string // Optional: path to SQLite database file (default: ./grabbit.db)
	MasterKeyFile     string // Optional: path to master encryption key for sessions at rest
	StorefrontBaseURL string // Optional: override the storefront base URL (tests, staging)
	Country           string // Optional: storefront country (default: US)
	Locale            string // Optional: storefront locale (default: en-US)

	ScheduleHour   int  // Optional: daily pass hour, UTC (default: 12)
	ScheduleMinute int  // Optional: daily pass minute (default: 0)
	RunOnStart     bool // Optional: run a pass at startup (default: true)

	TwoFactorTimeout     time.Duration // Optional: how long a challenge waits for a code (default: 10m)
	TwoFactorMaxAttempts int           // Optional: rejected codes before abandoning (default: 3)

	TelegramToken     string  // Optional: bot token; enables the chat control channel
	TelegramChatIDs   []int64 // Optional: chats allowed to command the bot and receiving notifications
	DiscordWebhookURL string  // Optional: webhook receiving notifications

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	// StartupTwoFactorCode is set from the -tfa-code flag, never from the
	// environment. It answers the challenge of the startup pass for
	// accounts whose second factor is delivered out of band.
	StartupTwoFactorCode string
}

func LoadConfig() Config {
	return Config{
		Email:      os.Getenv("GRABBIT_EMAIL"),
		Password:   os.Getenv("GRABBIT_PASSWORD"),
		TOTPSecret: os.Getenv("GRABBIT_TOTP_SECRET"),

		DatabaseFile:      getEnvOrDefault("GRABBIT_DATABASE_FILE", "grabbit.db"),
		MasterKeyFile:     os.Getenv("GRABBIT_MASTER_KEY_PATH"),
		StorefrontBaseURL: os.Getenv("GRABBIT_STOREFRONT_URL"),
		Country:           getEnvOrDefault("GRABBIT_COUNTRY", "US"),
		Locale:            getEnvOrDefault("GRABBIT_LOCALE", "en-US"),

		ScheduleHour:   getEnvIntOrDefault("GRABBIT_SCHEDULE_HOUR", 12),
		ScheduleMinute: getEnvIntOrDefault("GRABBIT_SCHEDULE_MINUTE", 0),
		RunOnStart:     getEnvBoolOrDefault("GRABBIT_RUN_ON_START", true),

		TwoFactorTimeout:     getEnvDurationOrDefault("GRABBIT_TFA_TIMEOUT", 10*time.Minute),
		TwoFactorMaxAttempts: getEnvIntOrDefault("GRABBIT_TFA_MAX_ATTEMPTS", 3),

		TelegramToken:     os.Getenv("GRABBIT_TELEGRAM_TOKEN"),
		TelegramChatIDs:   parseChatIDs(os.Getenv("GRABBIT_TELEGRAM_CHAT_IDS")),
		DiscordWebhookURL: os.Getenv("GRABBIT_DISCORD_WEBHOOK_URL"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

// parseChatIDs splits a comma-separated list of Telegram chat ids,
// silently dropping anything unparseable.
func parseChatIDs(raw string) []int64 {
	if raw == "" {
		return nil
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are taken as minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
