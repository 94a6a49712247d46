package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value (e.g. "90s", "5m") of the
// environment variable named by key, or fallback if the variable is unset,
// empty, not a valid duration, or not positive.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// Relay holds the tunables of the relay engines and their collaborators.
type Relay struct {
	PollFallback    time.Duration
	SweepInterval   time.Duration
	RetentionWindow time.Duration
	HTTPTimeout     time.Duration
	FTPTimeout      time.Duration
	FTPDialRetries  int
}

// LoadRelay reads the relay settings from the environment.
func LoadRelay() Relay {
	return Relay{
		PollFallback:    GetEnvDuration("POLL_FALLBACK", 2*time.Second),
		SweepInterval:   GetEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		RetentionWindow: GetEnvDuration("RETENTION_WINDOW", time.Hour),
		HTTPTimeout:     GetEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		FTPTimeout:      GetEnvDuration("FTP_TIMEOUT", 30*time.Second),
		FTPDialRetries:  GetEnvInt("FTP_DIAL_RETRIES", 3),
	}
}
