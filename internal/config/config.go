package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "ChatMe"
	defaultAppEnv         = "development"
	defaultPort           = "3000"
	defaultClientOrigin   = "http://localhost:5173"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultClaimTTL       = 10 * time.Minute
	defaultResendCooldown = 60 * time.Second
	defaultAttemptCap     = 5
	defaultResendCap      = 5
	defaultBufferSize     = 100
	defaultSessionGrace   = 30 * time.Second
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	ClientOrigin   string
	LogLevel       string
	RedisURL       string
	ShutdownPeriod time.Duration

	// Verification flow knobs.
	ClaimTTL       time.Duration
	ResendCooldown time.Duration
	CodeAttemptCap int
	ResendCap      int

	// Relay knobs.
	OfflineBufferSize int
	SessionGrace      time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		ClientOrigin:      getEnv("CLIENT_ORIGIN", defaultClientOrigin),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		ClaimTTL:          defaultClaimTTL,
		ResendCooldown:    defaultResendCooldown,
		CodeAttemptCap:    defaultAttemptCap,
		ResendCap:         defaultResendCap,
		OfflineBufferSize: defaultBufferSize,
		SessionGrace:      defaultSessionGrace,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.ClaimTTL, err = durationEnv("CLAIM_TTL", cfg.ClaimTTL); err != nil {
		return Config{}, err
	}
	if cfg.ResendCooldown, err = durationEnv("RESEND_COOLDOWN", cfg.ResendCooldown); err != nil {
		return Config{}, err
	}
	if cfg.SessionGrace, err = durationEnv("SESSION_GRACE", cfg.SessionGrace); err != nil {
		return Config{}, err
	}
	if cfg.CodeAttemptCap, err = intEnv("CODE_ATTEMPT_CAP", cfg.CodeAttemptCap); err != nil {
		return Config{}, err
	}
	if cfg.ResendCap, err = intEnv("RESEND_CAP", cfg.ResendCap); err != nil {
		return Config{}, err
	}
	if cfg.OfflineBufferSize, err = intEnv("OFFLINE_BUFFER_SIZE", cfg.OfflineBufferSize); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
