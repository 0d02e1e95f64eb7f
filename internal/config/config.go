// Package config reads the server settings from STARJAR_ environment
// variables. A .env file in the working directory is loaded first when
// present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "STARJAR_"

type Config struct {
	Port       string
	DBPath     string
	LogLevel   string
	LogFormat  string
	Timezone   string
	SessionTTL time.Duration
	// LegacyPath is the JSON file holding single-child data to import.
	// Empty disables migration.
	LegacyPath string
	// LoginRateLimit is the number of login attempts allowed per client per
	// minute.
	LoginRateLimit int
	// PINAttemptLimit is the number of wrong parent PINs allowed per child
	// before its parent routes lock for PINLockout.
	PINAttemptLimit int
	PINLockout      time.Duration
	// ChildIdleTimeout closes a child's live session after this long
	// without requests.
	ChildIdleTimeout time.Duration
}

func Defaults() Config {
	return Config{
		Port:             "8080",
		DBPath:           "starjar.db",
		LogLevel:         "info",
		LogFormat:        "text",
		Timezone:         "local",
		SessionTTL:       30 * 24 * time.Hour,
		LoginRateLimit:   10,
		PINAttemptLimit:  5,
		PINLockout:       15 * time.Minute,
		ChildIdleTimeout: 10 * time.Minute,
	}
}

// Load reads envFile (skipped when missing) and then the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	get := func(key string, dst *string) {
		if v, ok := lookup(prefix + key); ok && v != "" {
			*dst = v
		}
	}
	get("PORT", &cfg.Port)
	get("DB_PATH", &cfg.DBPath)
	get("LOG_LEVEL", &cfg.LogLevel)
	get("LOG_FORMAT", &cfg.LogFormat)
	get("TIMEZONE", &cfg.Timezone)
	get("LEGACY_PATH", &cfg.LegacyPath)

	if v, ok := lookup(prefix + "SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%sSESSION_TTL: invalid duration %q", prefix, v)
		}
		cfg.SessionTTL = d
	}
	if v, ok := lookup(prefix + "LOGIN_RATE_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%sLOGIN_RATE_LIMIT: invalid count %q", prefix, v)
		}
		cfg.LoginRateLimit = n
	}
	if v, ok := lookup(prefix + "PIN_ATTEMPT_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%sPIN_ATTEMPT_LIMIT: invalid count %q", prefix, v)
		}
		cfg.PINAttemptLimit = n
	}
	if v, ok := lookup(prefix + "PIN_LOCKOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%sPIN_LOCKOUT: invalid duration %q", prefix, v)
		}
		cfg.PINLockout = d
	}
	if v, ok := lookup(prefix + "CHILD_IDLE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%sCHILD_IDLE_TIMEOUT: invalid duration %q", prefix, v)
		}
		cfg.ChildIdleTimeout = d
	}
	return cfg, nil
}
